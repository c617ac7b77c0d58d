// Package source pulls raw changes from external brokers into the feed hub.
package source

import (
	"context"
	"errors"

	"grievd/internal/domain"
	logx "grievd/pkg/logx"
)

// Ingester receives one raw change payload.
type Ingester interface {
	Ingest(ctx context.Context, payload []byte) (domain.ChangeEvent, error)
}

// Source is a long-running consumer. Run returns when ctx is canceled or the
// upstream fails; callers restart it (supervisor.GoRestart).
type Source interface {
	Name() string
	Run(ctx context.Context) error
	Close() error
}

// handle forwards a payload and reports whether it should be acknowledged.
// Malformed payloads are acknowledged and skipped so they do not block the
// stream.
func handle(ctx context.Context, ing Ingester, log logx.Logger, payload []byte) bool {
	_, err := ing.Ingest(ctx, payload)
	if err == nil {
		return true
	}
	if errors.Is(err, domain.ErrValidation) {
		log.Warn("skipping malformed change", logx.Err(err), logx.Int("bytes", len(payload)))
		return true
	}
	log.Warn("change ingest failed", logx.Err(err))
	return false
}
