// Package maintenance runs periodic housekeeping over the notification log.
package maintenance

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"grievd/internal/domain"
	"grievd/internal/storage"
	logx "grievd/pkg/logx"
)

// AbandonedReason is the error message written on reaped attempts.
const AbandonedReason = "abandoned: no outcome recorded"

type Config struct {
	Enabled bool
	// Schedule is a cron expression (seconds optional) or a descriptor such
	// as "@every 1m".
	Schedule string
	// PendingTTL is how long an attempt may stay pending before it is
	// considered lost.
	PendingTTL time.Duration
	BatchSize  int
	Timezone   string
}

func (c Config) withDefaults() Config {
	if strings.TrimSpace(c.Schedule) == "" {
		c.Schedule = "@every 1m"
	}
	if c.PendingTTL <= 0 {
		c.PendingTTL = 10 * time.Minute
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 500
	}
	return c
}

// Log is the part of the store the reaper needs.
type Log interface {
	Query(ctx context.Context, f storage.Filter) ([]domain.Attempt, error)
	UpdateStatus(ctx context.Context, id string, status domain.AttemptStatus, errMsg string, meta map[string]string) error
}

// Reaper closes attempts left pending by a crash or a forced shutdown so
// that every attempt eventually reaches sent or failed.
type Reaper struct {
	log    Log
	lg     logx.Logger
	parser cron.Parser
	now    func() time.Time

	mu      sync.Mutex
	cfg     Config
	c       *cron.Cron
	running sync.Mutex
	onRun   func(n int)
}

func NewReaper(cfg Config, log Log, lg logx.Logger) *Reaper {
	if lg.IsZero() {
		lg = logx.Nop()
	}
	return &Reaper{
		log: log,
		lg:  lg.With(logx.String("comp", "reaper")),
		// SecondOptional allows both 5-field and 6-field (with seconds) cron specs.
		parser: cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
		now:    time.Now,
		cfg:    cfg.withDefaults(),
	}
}

// ParseSchedule validates a schedule expression.
func ParseSchedule(spec string) error {
	p := cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	if _, err := p.Parse(strings.TrimSpace(spec)); err != nil {
		return fmt.Errorf("invalid schedule %q: %w", spec, err)
	}
	return nil
}

// OnRun registers a callback invoked after each sweep with the number of
// attempts closed.
func (r *Reaper) OnRun(fn func(n int)) {
	r.mu.Lock()
	r.onRun = fn
	r.mu.Unlock()
}

// Apply swaps the config and reschedules when running.
func (r *Reaper) Apply(cfg Config) {
	cfg = cfg.withDefaults()
	r.mu.Lock()
	old := r.cfg
	r.cfg = cfg
	running := r.c != nil
	r.mu.Unlock()

	if !running {
		return
	}
	if old.Schedule != cfg.Schedule || old.Timezone != cfg.Timezone || old.Enabled != cfg.Enabled {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		r.Stop(ctx)
		if err := r.Start(); err != nil {
			r.lg.Error("reschedule failed", logx.Err(err))
		}
	}
}

// Start schedules sweeps. It is a no-op when disabled or already started.
func (r *Reaper) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.c != nil || !r.cfg.Enabled {
		return nil
	}
	sched, err := r.parser.Parse(strings.TrimSpace(r.cfg.Schedule))
	if err != nil {
		return fmt.Errorf("invalid schedule %q: %w", r.cfg.Schedule, err)
	}
	loc := time.Local
	if tz := strings.TrimSpace(r.cfg.Timezone); tz != "" {
		if l, err := time.LoadLocation(tz); err == nil {
			loc = l
		} else {
			r.lg.Warn("unknown timezone; using local", logx.String("tz", tz), logx.Err(err))
		}
	}
	r.c = cron.New(cron.WithParser(r.parser), cron.WithLocation(loc))
	r.c.Schedule(sched, cron.FuncJob(r.tick))
	r.c.Start()
	r.lg.Info("reaper started", logx.String("schedule", r.cfg.Schedule), logx.Duration("pending_ttl", r.cfg.PendingTTL))
	return nil
}

// Stop waits for a running sweep or ctx, whichever comes first.
func (r *Reaper) Stop(ctx context.Context) {
	r.mu.Lock()
	c := r.c
	r.c = nil
	r.mu.Unlock()
	if c == nil {
		return
	}
	select {
	case <-c.Stop().Done():
	case <-ctx.Done():
	}
}

func (r *Reaper) tick() {
	r.mu.Lock()
	timeout := r.cfg.PendingTTL
	r.mu.Unlock()
	if timeout > time.Minute {
		timeout = time.Minute
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if _, err := r.Sweep(ctx); err != nil {
		r.lg.Warn("sweep failed", logx.Err(err))
	}
}

// Sweep marks every attempt pending for longer than PendingTTL as failed
// and returns how many were closed. Concurrent sweeps are serialized.
func (r *Reaper) Sweep(ctx context.Context) (int, error) {
	r.running.Lock()
	defer r.running.Unlock()

	r.mu.Lock()
	cfg := r.cfg
	onRun := r.onRun
	r.mu.Unlock()

	cutoff := r.now().Add(-cfg.PendingTTL)
	stale, err := r.log.Query(ctx, storage.Filter{Status: domain.AttemptPending, CreatedBefore: cutoff, Limit: cfg.BatchSize})
	if err != nil {
		return 0, fmt.Errorf("query pending: %w", err)
	}

	closed := 0
	var errs []error
	for _, a := range stale {
		err := r.log.UpdateStatus(ctx, a.ID, domain.AttemptFailed, AbandonedReason, nil)
		switch {
		case err == nil:
			closed++
		case errors.Is(err, domain.ErrInvalidState):
			// Finished between the query and the update.
		default:
			errs = append(errs, fmt.Errorf("attempt %s: %w", a.ID, err))
		}
	}
	if closed > 0 {
		r.lg.Warn("abandoned attempts closed", logx.Int("count", closed), logx.Time("cutoff", cutoff))
	}
	if onRun != nil {
		onRun(closed)
	}
	return closed, errors.Join(errs...)
}
