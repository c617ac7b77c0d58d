// Package sender holds one adapter per delivery channel behind a uniform
// contract: one bounded call, a provider reference on success, a normalized
// error otherwise. An error means nothing was delivered.
package sender

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/time/rate"

	"grievd/internal/domain"
)

// Sender delivers one decision. attemptID identifies the log row the call
// belongs to and is forwarded to providers that accept an idempotency key.
type Sender interface {
	Channel() domain.Channel
	Send(ctx context.Context, attemptID string, d domain.Decision) (Result, error)
}

type Result struct {
	ProviderRef string
	Meta        map[string]string
}

// Set maps channels to senders. Missing channels resolve to a disabled sender.
type Set struct {
	mu sync.RWMutex
	m  map[domain.Channel]Sender
}

func NewSet(senders ...Sender) *Set {
	s := &Set{m: map[domain.Channel]Sender{}}
	for _, snd := range senders {
		if snd != nil {
			s.m[snd.Channel()] = snd
		}
	}
	return s
}

func (s *Set) Get(ch domain.Channel) Sender {
	s.mu.RLock()
	snd, ok := s.m[ch]
	s.mu.RUnlock()
	if !ok {
		return Disabled(ch, "no sender registered")
	}
	return snd
}

// Replace swaps the sender for its channel.
func (s *Set) Replace(snd Sender) {
	s.mu.Lock()
	s.m[snd.Channel()] = snd
	s.mu.Unlock()
}

type disabled struct {
	ch     domain.Channel
	reason string
}

// Disabled returns a sender that fails every call with domain.ErrNotConfigured.
// It stands in for a channel whose credentials are missing so that only that
// channel is affected.
func Disabled(ch domain.Channel, reason string) Sender {
	return disabled{ch: ch, reason: reason}
}

func (d disabled) Channel() domain.Channel { return d.ch }

func (d disabled) Send(ctx context.Context, attemptID string, _ domain.Decision) (Result, error) {
	return Result{}, fmt.Errorf("%w: %s sender disabled: %s", domain.ErrNotConfigured, d.ch, d.reason)
}

// IsDisabled reports whether snd is a disabled placeholder.
func IsDisabled(snd Sender) bool {
	_, ok := snd.(disabled)
	return ok
}

// Limited throttles a sender with a token bucket. Waiting counts against the
// call's deadline.
type Limited struct {
	next    Sender
	limiter *rate.Limiter
}

func WithRateLimit(next Sender, perSec int) *Limited {
	l := &Limited{next: next, limiter: rate.NewLimiter(rate.Inf, 1)}
	l.SetRate(perSec)
	return l
}

// SetRate changes the limit; <= 0 disables throttling.
func (l *Limited) SetRate(perSec int) {
	if perSec <= 0 {
		l.limiter.SetLimit(rate.Inf)
		return
	}
	// Burst = rate per sec, so short spikes don't block too hard.
	l.limiter.SetBurst(perSec)
	l.limiter.SetLimit(rate.Limit(perSec))
}

func (l *Limited) Channel() domain.Channel { return l.next.Channel() }

func (l *Limited) Send(ctx context.Context, attemptID string, d domain.Decision) (Result, error) {
	if err := l.limiter.Wait(ctx); err != nil {
		// Wait fails early when the deadline cannot be met.
		if _, ok := ctx.Deadline(); ok && ctx.Err() == nil {
			return Result{}, fmt.Errorf("%w: %s rate limit exceeds the deadline", domain.ErrTimeout, l.next.Channel())
		}
		return Result{}, normalize(ctx, string(l.next.Channel()), err)
	}
	return l.next.Send(ctx, attemptID, d)
}
