// Package live is the subscription registry for connected clients.
//
// Each connected session owns one feed subscription scoped by role and
// converts changes into de-duplicated display frames. A session is released
// exactly once, on explicit Close or when its context ends; after release no
// frame reaches its sink.
package live

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"grievd/internal/domain"
	"grievd/internal/feed"
	logx "grievd/pkg/logx"
)

var ErrClosed = errors.New("registry closed")

// Actor is an already-authenticated identity.
type Actor struct {
	ID   string
	Role domain.Role
}

// Sink is the transport side of a session. Send must not block; it returns
// false when the frame could not be queued.
type Sink interface {
	Send(n Notification) bool
}

type Config struct {
	Buffer      int
	DedupWindow time.Duration
}

// Hooks observe registry activity. Any field may be nil.
type Hooks struct {
	Sessions func(n int)
	Dropped  func()
}

type Registry struct {
	hub    *feed.Hub
	owners Owners
	log    logx.Logger
	hooks  Hooks
	now    func() time.Time

	cfg atomic.Value // Config

	mu       sync.Mutex
	sessions map[string]*Session
	closed   bool
	wg       sync.WaitGroup
}

func NewRegistry(hub *feed.Hub, owners Owners, cfg Config, log logx.Logger, hooks Hooks) *Registry {
	if log.IsZero() {
		log = logx.Nop()
	}
	r := &Registry{
		hub:      hub,
		owners:   owners,
		log:      log.With(logx.String("comp", "live")),
		hooks:    hooks,
		now:      time.Now,
		sessions: map[string]*Session{},
	}
	r.Apply(cfg)
	return r
}

// Apply updates settings for sessions connected from now on.
func (r *Registry) Apply(cfg Config) {
	if cfg.Buffer <= 0 {
		cfg.Buffer = 32
	}
	if cfg.DedupWindow < 0 {
		cfg.DedupWindow = 0
	}
	r.cfg.Store(cfg)
}

func (r *Registry) config() Config { return r.cfg.Load().(Config) }

// Session is one live connection.
type Session struct {
	ID    string
	Actor Actor

	reg  *Registry
	sink Sink
	sub  *feed.Subscription
	seen *dedup

	done    chan struct{}
	once    sync.Once
	mu      sync.Mutex
	closed  bool
	dropped atomic.Uint64
}

// Done is closed when the session has been released.
func (s *Session) Done() <-chan struct{} { return s.done }

func (s *Session) Dropped() uint64 { return s.dropped.Load() }

// Close releases the session. Safe to call any number of times.
func (s *Session) Close() { s.reg.release(s, "closed") }

// Connect registers a session for actor. It is released when ctx ends or
// Close is called, whichever is first.
func (r *Registry) Connect(ctx context.Context, actor Actor, sink Sink) (*Session, error) {
	if actor.ID == "" || !actor.Role.Valid() {
		return nil, fmt.Errorf("%w: actor needs id and a known role", domain.ErrValidation)
	}
	if sink == nil {
		return nil, fmt.Errorf("%w: nil sink", domain.ErrValidation)
	}
	cfg := r.config()

	s := &Session{
		ID:    uuid.NewString(),
		Actor: actor,
		reg:   r,
		sink:  sink,
		seen:  newDedup(cfg.DedupWindow),
		done:  make(chan struct{}),
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil, ErrClosed
	}
	s.sub = r.hub.Subscribe("live:"+s.ID, filterFor(actor), feed.SubscribeOptions{Buffer: cfg.Buffer, Overflow: feed.Drop})
	r.sessions[s.ID] = s
	n := len(r.sessions)
	r.wg.Add(1)
	r.mu.Unlock()

	if r.hooks.Sessions != nil {
		r.hooks.Sessions(n)
	}
	r.log.Debug("live session connected", logx.String("session", s.ID), logx.String("actor", actor.ID), logx.String("role", string(actor.Role)))

	go r.pump(ctx, s)
	return s, nil
}

func filterFor(a Actor) feed.Filter {
	if a.Role == domain.RoleAdmin {
		return feed.Filter{
			Entities:   []domain.EntityType{domain.EntityComplaint, domain.EntityAnnouncement},
			ActiveOnly: true,
		}
	}
	return feed.Filter{
		Entities:   []domain.EntityType{domain.EntityComplaint, domain.EntityAnnouncement, domain.EntityActivity},
		OwnerID:    a.ID,
		ActiveOnly: true,
	}
}

func (r *Registry) pump(ctx context.Context, s *Session) {
	defer r.wg.Done()
	defer r.release(s, "ended")
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.done:
			return
		case ev, ok := <-s.sub.C():
			if !ok {
				return
			}
			for _, n := range Display(s.Actor, ev, r.owners) {
				r.deliver(s, n, true)
			}
		}
	}
}

// deliver hands n to the sink unless the session is already released.
func (r *Registry) deliver(s *Session, n Notification, dedupe bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	if dedupe && !s.seen.allow(n, r.now()) {
		return false
	}
	if !s.sink.Send(n) {
		s.dropped.Add(1)
		if r.hooks.Dropped != nil {
			r.hooks.Dropped()
		}
		return false
	}
	return true
}

func (r *Registry) release(s *Session, reason string) {
	s.once.Do(func() {
		// Waits out any in-flight deliver; nothing reaches the sink after this.
		s.mu.Lock()
		s.closed = true
		s.mu.Unlock()

		close(s.done)
		s.sub.Close()

		r.mu.Lock()
		delete(r.sessions, s.ID)
		n := len(r.sessions)
		r.mu.Unlock()

		if r.hooks.Sessions != nil {
			r.hooks.Sessions(n)
		}
		r.log.Debug("live session released", logx.String("session", s.ID), logx.String("reason", reason), logx.Uint64("dropped", s.dropped.Load()))
	})
}

// DeliverPush routes a push-channel notification to connected sessions.
// target is a user id, domain.PushToRole(role) or domain.PushBroadcast.
// It returns the number of sessions that accepted the frame.
func (r *Registry) DeliverPush(target string, n Notification) int {
	if n.Type == "" {
		n.Type = FrameNotification
	}
	if n.At.IsZero() {
		n.At = r.now()
	}
	role, byRole := domain.PushRole(target)

	r.mu.Lock()
	targets := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		switch {
		case target == domain.PushBroadcast:
		case byRole:
			if s.Actor.Role != role {
				continue
			}
		default:
			if s.Actor.ID != target {
				continue
			}
		}
		targets = append(targets, s)
	}
	r.mu.Unlock()

	delivered := 0
	for _, s := range targets {
		if r.deliver(s, n, false) {
			delivered++
		}
	}
	return delivered
}

// Len reports the number of connected sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// Close releases every session and waits for their pumps to exit.
func (r *Registry) Close(ctx context.Context) error {
	r.mu.Lock()
	r.closed = true
	all := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		all = append(all, s)
	}
	r.mu.Unlock()

	for _, s := range all {
		r.release(s, "shutdown")
	}

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
