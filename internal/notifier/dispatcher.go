package notifier

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"grievd/internal/domain"
	rtsup "grievd/internal/runtime/supervisor"
	"grievd/internal/sender"
	logx "grievd/pkg/logx"
)

type job struct {
	decisions []domain.Decision
}

// Dispatcher fans decisions out to channel senders and records every attempt.
//
// It is safe for concurrent use.
type Dispatcher struct {
	mu sync.Mutex

	log     logx.Logger
	store   Store
	senders *sender.Set
	hooks   Hooks
	tracer  trace.Tracer
	now     func() time.Time

	cfg Config

	accepting bool
	sendWG    sync.WaitGroup

	queue    chan job
	quit     chan struct{} // closed when Stop begins
	sup      *rtsup.Supervisor
	stopDone chan struct{} // non-nil while stopping
}

func NewDispatcher(cfg Config, store Store, senders *sender.Set, log logx.Logger, hooks Hooks) *Dispatcher {
	if log.IsZero() {
		log = logx.Nop()
	}
	d := &Dispatcher{
		log:     log.With(logx.String("comp", "dispatcher")),
		store:   store,
		senders: senders,
		hooks:   hooks,
		tracer:  otel.Tracer("grievd/notifier"),
		now:     time.Now,
	}
	d.applyLocked(cfg)
	return d
}

// Apply swaps the configuration. Worker and queue sizes take effect on the
// next Start; timeouts and concurrency apply to the next batch.
func (d *Dispatcher) Apply(cfg Config) {
	d.mu.Lock()
	d.applyLocked(cfg)
	d.mu.Unlock()
}

func (d *Dispatcher) applyLocked(cfg Config) {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.MaxConcurrency <= 0 {
		cfg.MaxConcurrency = 8
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	if cfg.DefaultTimeout <= 0 {
		cfg.DefaultTimeout = 15 * time.Second
	}
	if cfg.LogTimeout <= 0 {
		cfg.LogTimeout = 5 * time.Second
	}
	timeouts := make(map[domain.Channel]time.Duration, len(cfg.Timeouts))
	for ch, t := range cfg.Timeouts {
		if t > 0 {
			timeouts[ch] = t
		}
	}
	cfg.Timeouts = timeouts
	d.cfg = cfg
}

func (d *Dispatcher) config() Config {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.cfg
}

func (c Config) timeout(ch domain.Channel) time.Duration {
	if t, ok := c.Timeouts[ch]; ok {
		return t
	}
	return c.DefaultTimeout
}

// Supervisor returns the worker supervisor (nil if not started).
func (d *Dispatcher) Supervisor() *rtsup.Supervisor {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.sup
}

func (d *Dispatcher) Start(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}

	d.mu.Lock()
	// If stopping, wait for it to finish before restarting.
	if d.stopDone != nil {
		done := d.stopDone
		d.mu.Unlock()
		select {
		case <-done:
		case <-ctx.Done():
			return
		}
		d.mu.Lock()
	}
	if d.queue != nil {
		d.mu.Unlock()
		return
	}
	d.queue = make(chan job, d.cfg.QueueSize)
	d.quit = make(chan struct{})
	d.accepting = true
	workers := d.cfg.Workers
	// Sends answer the original mutation, not a caller; they outlive ctx
	// cancellation until Stop drains them.
	d.sup = rtsup.New(context.WithoutCancel(ctx),
		rtsup.WithLogger(d.log),
		rtsup.WithCancelOnError(false),
	)
	sup := d.sup
	q := d.queue
	d.mu.Unlock()

	for i := 0; i < workers; i++ {
		name := fmt.Sprintf("worker.%d", i)
		sup.GoRestart(name, func(c context.Context) error {
			d.workerLoop(c, q)
			d.mu.Lock()
			stopping := d.stopDone != nil
			d.mu.Unlock()
			if stopping || c.Err() != nil {
				return context.Canceled
			}
			return errors.New("dispatcher worker exited unexpectedly")
		}, rtsup.WithPublishFirstError(true))
	}
	d.log.Debug("dispatcher started", logx.Int("workers", workers))
}

// Stop stops intake and drains queued batches until ctx is done, then
// cancels whatever is still in flight.
func (d *Dispatcher) Stop(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}

	d.mu.Lock()
	q := d.queue
	sup := d.sup
	if q == nil {
		d.mu.Unlock()
		return
	}
	if d.stopDone != nil {
		done := d.stopDone
		d.mu.Unlock()
		select {
		case <-done:
		case <-ctx.Done():
		}
		return
	}
	done := make(chan struct{})
	d.stopDone = done
	d.accepting = false
	close(d.quit)
	d.mu.Unlock()

	go func() {
		defer close(done)
		d.sendWG.Wait()
		close(q)
		_ = sup.Wait(context.Background())
		if n := len(q); n > 0 {
			d.log.Warn("dispatcher stopped with queued batches", logx.Int("batches", n))
		}

		d.mu.Lock()
		d.queue = nil
		d.quit = nil
		d.sup = nil
		d.stopDone = nil
		d.mu.Unlock()
	}()

	select {
	case <-done:
	case <-ctx.Done():
		sup.Cancel()
		<-done
	}
}

// Submit queues decisions for delivery and returns without waiting for any
// send. It blocks only while the queue is full.
func (d *Dispatcher) Submit(ctx context.Context, decisions []domain.Decision) error {
	if len(decisions) == 0 {
		return ErrEmpty
	}
	if ctx == nil {
		ctx = context.Background()
	}

	d.mu.Lock()
	if !d.accepting || d.queue == nil {
		d.mu.Unlock()
		return ErrStopped
	}
	q := d.queue
	quit := d.quit
	d.sendWG.Add(1)
	d.mu.Unlock()
	defer d.sendWG.Done()

	batch := make([]domain.Decision, len(decisions))
	copy(batch, decisions)
	select {
	case q <- job{decisions: batch}:
		return nil
	case <-quit:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *Dispatcher) workerLoop(ctx context.Context, q <-chan job) {
	for {
		select {
		case <-ctx.Done():
			return
		case j, ok := <-q:
			if !ok {
				return
			}
			d.Execute(ctx, j.decisions)
		}
	}
}

// Execute runs decisions concurrently and waits for all of them. Outcomes are
// returned in decision order.
func (d *Dispatcher) Execute(ctx context.Context, decisions []domain.Decision) []domain.Outcome {
	out := make([]domain.Outcome, len(decisions))
	if len(decisions) == 0 {
		return out
	}
	cfg := d.config()

	// Plain Group: one unit failing must not cancel its siblings.
	var g errgroup.Group
	g.SetLimit(cfg.MaxConcurrency)
	for i := range decisions {
		i := i
		g.Go(func() error {
			out[i] = d.attempt(ctx, cfg, decisions[i])
			return nil
		})
	}
	_ = g.Wait()
	return out
}

// Resend retries a failed attempt as a new attempt. The original row is never
// modified. Attempts that are pending or sent are domain.ErrInvalidState.
func (d *Dispatcher) Resend(ctx context.Context, id string) (domain.Outcome, error) {
	cfg := d.config()
	lctx, cancel := context.WithTimeout(ctx, cfg.LogTimeout)
	orig, err := d.store.Get(lctx, id)
	cancel()
	if err != nil {
		return domain.Outcome{}, err
	}
	if orig.Status != domain.AttemptFailed {
		return domain.Outcome{}, fmt.Errorf("%w: attempt %s is %s, only failed attempts can be resent", domain.ErrInvalidState, id, orig.Status)
	}
	dec := orig.Decision()
	if dec.Metadata == nil {
		dec.Metadata = map[string]string{}
	}
	delete(dec.Metadata, domain.MetaProviderRef)
	delete(dec.Metadata, domain.MetaSessions)
	dec.Metadata[domain.MetaResendOf] = orig.ID

	d.log.Info("resending attempt", logx.String("attempt", orig.ID), logx.String("channel", string(orig.Channel)))
	return d.attempt(ctx, cfg, dec), nil
}

// attempt is one isolated unit: append pending, send, close the attempt.
func (d *Dispatcher) attempt(ctx context.Context, cfg Config, dec domain.Decision) domain.Outcome {
	start := d.now()
	ctx, span := d.tracer.Start(ctx, "notifier.send", trace.WithAttributes(
		attribute.String("channel", string(dec.Channel)),
		attribute.String("related_id", dec.RelatedID),
	))
	defer span.End()

	a := domain.Attempt{
		ID:            uuid.NewString(),
		Channel:       dec.Channel,
		Recipient:     dec.Recipient,
		Subject:       dec.Subject,
		Body:          dec.Body,
		Status:        domain.AttemptPending,
		RelatedEntity: dec.RelatedEntity,
		RelatedID:     dec.RelatedID,
		Priority:      dec.Priority,
		CreatedAt:     start,
		UpdatedAt:     start,
		Metadata:      domain.CopyMeta(dec.Metadata),
	}
	out := domain.Outcome{AttemptID: a.ID, Channel: dec.Channel}
	log := d.log.With(logx.String("attempt", a.ID), logx.String("channel", string(dec.Channel)), logx.String("related_id", dec.RelatedID))

	logged := true
	if id, err := d.logWrite(ctx, cfg, "append", func(c context.Context) (string, error) { return d.store.Append(c, a) }); err != nil {
		logged = false
		out.LogError = err.Error()
		log.Error("attempt not logged; sending anyway", logx.Err(err))
	} else {
		a.ID, out.AttemptID = id, id
	}
	span.SetAttributes(attribute.String("attempt_id", a.ID))

	res, err := d.send(ctx, cfg.timeout(dec.Channel), a.ID, dec)
	status := domain.AttemptSent
	errMsg := ""
	if err != nil {
		status = domain.AttemptFailed
		errMsg = err.Error()
		out.Error = errMsg
		span.RecordError(err)
		span.SetStatus(codes.Error, errMsg)
	} else {
		out.ProviderRef = res.ProviderRef
	}
	out.Status = status

	if logged {
		meta := domain.CopyMeta(res.Meta)
		if res.ProviderRef != "" {
			if meta == nil {
				meta = map[string]string{}
			}
			meta[domain.MetaProviderRef] = res.ProviderRef
		}
		if _, lerr := d.logWrite(ctx, cfg, "update", func(c context.Context) (string, error) {
			return "", d.store.UpdateStatus(c, a.ID, status, errMsg, meta)
		}); lerr != nil {
			out.LogError = lerr.Error()
			log.Error("attempt outcome not logged", logx.String("status", string(status)), logx.Err(lerr))
		}
	}

	took := d.now().Sub(start)
	if d.hooks.Delivered != nil {
		d.hooks.Delivered(dec.Channel, status, took)
	}
	if err != nil {
		log.Warn("delivery failed", logx.String("recipient", dec.Recipient), logx.Duration("took", took), logx.Err(err))
	} else {
		log.Debug("delivery sent", logx.String("provider_ref", res.ProviderRef), logx.Duration("took", took))
	}
	return out
}

// logWrite runs one store write under LogTimeout. It is detached from ctx
// cancellation so an outcome is still recorded while shutting down.
func (d *Dispatcher) logWrite(ctx context.Context, cfg Config, op string, fn func(context.Context) (string, error)) (string, error) {
	if d.store == nil {
		return "", errors.New("no log store")
	}
	c, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.LogTimeout)
	defer cancel()
	v, err := fn(c)
	if err != nil && d.hooks.LogFailed != nil {
		d.hooks.LogFailed(op)
	}
	return v, err
}

type sendResult struct {
	res sender.Result
	err error
}

// send calls the channel sender under timeout. The deadline holds even for a
// sender that ignores its context.
func (d *Dispatcher) send(ctx context.Context, timeout time.Duration, attemptID string, dec domain.Decision) (sender.Result, error) {
	snd := d.senders.Get(dec.Channel)
	sctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ch := make(chan sendResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				ch <- sendResult{err: fmt.Errorf("%s sender panicked: %v", dec.Channel, r)}
			}
		}()
		res, err := snd.Send(sctx, attemptID, dec)
		ch <- sendResult{res: res, err: err}
	}()

	select {
	case r := <-ch:
		if r.err != nil && errors.Is(sctx.Err(), context.DeadlineExceeded) && !errors.Is(r.err, domain.ErrTimeout) {
			return sender.Result{}, fmt.Errorf("%w: %s send exceeded %s: %v", domain.ErrTimeout, dec.Channel, timeout, r.err)
		}
		return r.res, r.err
	case <-sctx.Done():
		if errors.Is(sctx.Err(), context.DeadlineExceeded) {
			return sender.Result{}, fmt.Errorf("%w: %s send exceeded %s", domain.ErrTimeout, dec.Channel, timeout)
		}
		return sender.Result{}, fmt.Errorf("%s send canceled: %w", dec.Channel, sctx.Err())
	}
}
