package feed

import (
	"context"

	"grievd/internal/domain"
	logx "grievd/pkg/logx"
)

// Ingest decodes one raw change and publishes it. Validation errors are
// returned unwrapped so callers can reject the input.
func (h *Hub) Ingest(ctx context.Context, payload []byte) (domain.ChangeEvent, error) {
	ev, err := Decode(payload)
	if err != nil {
		return domain.ChangeEvent{}, err
	}
	n := h.Publish(ctx, ev)
	h.log.Debug("change ingested",
		logx.String("event_id", ev.ID),
		logx.String("entity", string(ev.Entity)),
		logx.String("entity_id", ev.EntityID),
		logx.String("op", string(ev.Op)),
		logx.Int("subscribers", n),
	)
	return ev, nil
}
