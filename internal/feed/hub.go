package feed

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"grievd/internal/domain"
	logx "grievd/pkg/logx"
)

// Overflow decides what Publish does when a subscriber's buffer is full.
type Overflow int

const (
	// Block waits for buffer space (bounded by the publish context).
	Block Overflow = iota
	// Drop discards the event for that subscriber only.
	Drop
)

// Filter narrows the events a subscription receives. Zero value matches all.
type Filter struct {
	Entities []domain.EntityType
	// OwnerID keeps only complaint events owned by that student.
	OwnerID string
	// ActiveOnly keeps only announcement events whose after-snapshot is active.
	ActiveOnly bool
}

func (f Filter) Match(ev domain.ChangeEvent) bool {
	if len(f.Entities) > 0 {
		found := false
		for _, e := range f.Entities {
			if e == ev.Entity {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if f.OwnerID != "" && ev.Entity == domain.EntityComplaint {
		before, after, _ := ev.ComplaintPair()
		owner := ""
		if after != nil {
			owner = after.StudentID
		} else if before != nil {
			owner = before.StudentID
		}
		if owner != f.OwnerID {
			return false
		}
	}
	if f.ActiveOnly && ev.Entity == domain.EntityAnnouncement {
		a, ok := ev.AnnouncementAfter()
		if !ok || !a.IsActive {
			return false
		}
	}
	return true
}

type SubscribeOptions struct {
	Buffer   int
	Overflow Overflow
}

// Subscription is one consumer's typed event stream.
type Subscription struct {
	name     string
	filter   Filter
	overflow Overflow
	ch       chan domain.ChangeEvent
	done     chan struct{}
	hub      *Hub
	id       uint64

	mu       sync.Mutex
	closed   bool
	stopOnce sync.Once

	dropped atomic.Uint64
}

func (s *Subscription) Name() string { return s.name }

// C returns the event stream. It is closed after Close.
func (s *Subscription) C() <-chan domain.ChangeEvent { return s.ch }

// Done is closed as soon as Close starts.
func (s *Subscription) Done() <-chan struct{} { return s.done }

func (s *Subscription) Dropped() uint64 { return s.dropped.Load() }

// Close releases the subscription. Safe to call many times and concurrently
// with Publish; nothing is delivered once Close has returned.
func (s *Subscription) Close() {
	s.stopOnce.Do(func() {
		close(s.done)
		s.hub.remove(s.id)

		s.mu.Lock()
		s.closed = true
		close(s.ch)
		s.mu.Unlock()

		// Discard what is still buffered so readers see the close promptly.
		for range s.ch {
		}
	})
}

func (s *Subscription) deliver(ctx context.Context, ev domain.ChangeEvent) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	if s.overflow == Drop {
		select {
		case s.ch <- ev:
			return true
		default:
			s.dropped.Add(1)
			return false
		}
	}
	select {
	case s.ch <- ev:
		return true
	case <-s.done:
		return false
	case <-ctx.Done():
		s.dropped.Add(1)
		return false
	}
}

// Hooks observe hub traffic. Any field may be nil.
type Hooks struct {
	Published func(ev domain.ChangeEvent)
	Dropped   func(subscription string, ev domain.ChangeEvent)
}

// Hub is the in-process change feed. Events published by one goroutine reach
// every matching subscription in publish order.
type Hub struct {
	mu    sync.RWMutex
	subs  map[uint64]*Subscription
	seq   atomic.Uint64
	log   logx.Logger
	hooks Hooks
	now   func() time.Time
}

func NewHub(log logx.Logger, hooks Hooks) *Hub {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Hub{
		subs:  map[uint64]*Subscription{},
		log:   log.With(logx.String("comp", "feed")),
		hooks: hooks,
		now:   time.Now,
	}
}

func (h *Hub) Subscribe(name string, f Filter, opts SubscribeOptions) *Subscription {
	if opts.Buffer <= 0 {
		opts.Buffer = 64
	}
	s := &Subscription{
		name:     name,
		filter:   f,
		overflow: opts.Overflow,
		ch:       make(chan domain.ChangeEvent, opts.Buffer),
		done:     make(chan struct{}),
		hub:      h,
		id:       h.seq.Add(1),
	}
	h.mu.Lock()
	h.subs[s.id] = s
	h.mu.Unlock()
	return s
}

func (h *Hub) remove(id uint64) {
	h.mu.Lock()
	delete(h.subs, id)
	h.mu.Unlock()
}

func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Publish fans ev out to matching subscriptions. Blocking subscribers are
// waited on until ctx is done; dropping subscribers never stall the caller.
// It returns the number of subscriptions that received the event.
func (h *Hub) Publish(ctx context.Context, ev domain.ChangeEvent) int {
	if ev.OccurredAt.IsZero() {
		ev.OccurredAt = h.now()
	}
	if h.hooks.Published != nil {
		h.hooks.Published(ev)
	}

	h.mu.RLock()
	subs := make([]*Subscription, 0, len(h.subs))
	for _, s := range h.subs {
		subs = append(subs, s)
	}
	h.mu.RUnlock()

	delivered := 0
	for _, s := range subs {
		if !s.filter.Match(ev) {
			continue
		}
		if s.deliver(ctx, ev) {
			delivered++
			continue
		}
		select {
		case <-s.done:
			continue
		default:
		}
		h.log.Warn("feed event dropped",
			logx.String("sub", s.name),
			logx.String("entity", string(ev.Entity)),
			logx.String("entity_id", ev.EntityID),
		)
		if h.hooks.Dropped != nil {
			h.hooks.Dropped(s.name, ev)
		}
	}
	return delivered
}
