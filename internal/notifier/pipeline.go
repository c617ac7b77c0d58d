package notifier

import (
	"context"
	"errors"
	"sync"

	"grievd/internal/domain"
	"grievd/internal/feed"
	"grievd/internal/policy"
	rtsup "grievd/internal/runtime/supervisor"
	logx "grievd/pkg/logx"
)

// Projection is kept current from the feed before rules run.
// *directory.Directory satisfies it.
type Projection interface {
	Apply(ev domain.ChangeEvent)
}

// Submitter accepts decisions for asynchronous delivery.
type Submitter interface {
	Submit(ctx context.Context, decisions []domain.Decision) error
}

type PipelineConfig struct {
	Buffer int
}

// Pipeline is the policy consumer of the change feed. Its subscription
// blocks the publisher when full so no change is skipped.
type Pipeline struct {
	hub    *feed.Hub
	dir    Projection
	engine *policy.Engine
	disp   Submitter
	log    logx.Logger
	cfg    PipelineConfig

	mu  sync.Mutex
	sub *feed.Subscription
	sup *rtsup.Supervisor
}

func NewPipeline(hub *feed.Hub, dir Projection, engine *policy.Engine, disp Submitter, cfg PipelineConfig, log logx.Logger) *Pipeline {
	if log.IsZero() {
		log = logx.Nop()
	}
	if cfg.Buffer <= 0 {
		cfg.Buffer = 256
	}
	return &Pipeline{
		hub:    hub,
		dir:    dir,
		engine: engine,
		disp:   disp,
		cfg:    cfg,
		log:    log.With(logx.String("comp", "pipeline")),
	}
}

func (p *Pipeline) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.sub != nil {
		return
	}
	p.sub = p.hub.Subscribe("policy", feed.Filter{}, feed.SubscribeOptions{Buffer: p.cfg.Buffer, Overflow: feed.Block})
	p.sup = rtsup.New(ctx, rtsup.WithLogger(p.log))
	sub := p.sub
	p.sup.GoRestart("consume", func(c context.Context) error {
		return p.consume(c, sub)
	}, rtsup.WithPublishFirstError(true))
}

func (p *Pipeline) Stop(ctx context.Context) {
	p.mu.Lock()
	sub, sup := p.sub, p.sup
	p.sub, p.sup = nil, nil
	p.mu.Unlock()
	if sub == nil {
		return
	}
	sub.Close()
	if err := sup.Stop(ctx); err != nil && !errors.Is(err, context.Canceled) {
		p.log.Warn("pipeline stop", logx.Err(err))
	}
}

func (p *Pipeline) consume(ctx context.Context, sub *feed.Subscription) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-sub.C():
			if !ok {
				return nil
			}
			p.Handle(ctx, ev)
		}
	}
}

// Handle runs one change through the directory, the rules and the
// dispatcher. Delivery problems are logged and never returned.
func (p *Pipeline) Handle(ctx context.Context, ev domain.ChangeEvent) {
	if p.dir != nil {
		p.dir.Apply(ev)
	}
	plan := p.engine.Decide(ev)
	for _, s := range plan.Skipped {
		p.log.Info("delivery skipped",
			logx.String("entity", string(ev.Entity)),
			logx.String("entity_id", ev.EntityID),
			logx.String("channel", string(s.Channel)),
			logx.String("rule", s.Rule),
			logx.String("reason", s.Reason),
		)
	}
	if len(plan.Decisions) == 0 {
		return
	}
	if err := p.disp.Submit(ctx, plan.Decisions); err != nil {
		p.log.Error("decisions not dispatched",
			logx.String("entity", string(ev.Entity)),
			logx.String("entity_id", ev.EntityID),
			logx.Int("decisions", len(plan.Decisions)),
			logx.Err(err),
		)
		return
	}
	p.log.Debug("decisions dispatched", logx.String("entity_id", ev.EntityID), logx.Int("decisions", len(plan.Decisions)))
}
