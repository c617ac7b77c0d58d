package sender

import (
	"context"
	"strconv"

	"grievd/internal/domain"
	"grievd/internal/live"
)

// Pusher is the live registry side of the push channel.
type Pusher interface {
	DeliverPush(target string, n live.Notification) int
}

// Push delivers notifications to connected sessions. Reaching zero sessions
// is still a successful send; the count is reported in the result metadata.
type Push struct {
	reg Pusher
}

func NewPush(reg Pusher) *Push { return &Push{reg: reg} }

func (p *Push) Channel() domain.Channel { return domain.ChannelPush }

func (p *Push) Send(ctx context.Context, attemptID string, d domain.Decision) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, normalize(ctx, "push", err)
	}
	if d.Recipient == "" {
		return Result{}, domain.ErrValidation
	}
	n := p.reg.DeliverPush(d.Recipient, live.Notification{
		Type:        live.FrameNotification,
		ID:          attemptID,
		Title:       d.Subject,
		Description: d.Body,
		Entity:      d.RelatedEntity,
		EntityID:    d.RelatedID,
	})
	return Result{
		ProviderRef: attemptID,
		Meta:        map[string]string{domain.MetaSessions: strconv.Itoa(n)},
	}, nil
}
