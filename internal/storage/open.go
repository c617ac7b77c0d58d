package storage

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"grievd/internal/domain"
	logx "grievd/pkg/logx"
)

// Open initializes the configured store. An empty driver means "memory".
func Open(cfg Config, log logx.Logger) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if log.IsZero() {
		log = logx.Nop()
	}
	log = log.With(logx.String("comp", "storage"), logx.String("driver", driver))

	switch driver {
	case "", "memory":
		return NewMemory(), nil
	case "file":
		return openFile(cfg, log)
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	case "postgres", "pgx":
		return openPostgres(cfg, log)
	default:
		return nil, errors.New("unknown storage driver: " + driver)
	}
}

// prepareAppend validates a to-be-appended attempt and fills defaults.
func prepareAppend(a domain.Attempt, now time.Time) (domain.Attempt, error) {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.Status == "" {
		a.Status = domain.AttemptPending
	}
	if a.Status != domain.AttemptPending {
		return a, fmt.Errorf("%w: new attempt must be pending, got %q", domain.ErrInvalidState, a.Status)
	}
	if a.Channel == "" || a.Recipient == "" {
		return a, fmt.Errorf("%w: attempt needs channel and recipient", domain.ErrValidation)
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = now
	}
	a.UpdatedAt = a.CreatedAt
	a.Metadata = domain.CopyMeta(a.Metadata)
	return a, nil
}

func checkTransition(id string, from, to domain.AttemptStatus) error {
	if to != domain.AttemptSent && to != domain.AttemptFailed {
		return fmt.Errorf("%w: cannot move attempt %s to %q", domain.ErrInvalidState, id, to)
	}
	if from != domain.AttemptPending {
		return fmt.Errorf("%w: attempt %s is already %s", domain.ErrInvalidState, id, from)
	}
	return nil
}

func mergeMeta(dst, src map[string]string) map[string]string {
	if len(src) == 0 {
		return dst
	}
	out := domain.CopyMeta(dst)
	if out == nil {
		out = make(map[string]string, len(src))
	}
	for k, v := range src {
		out[k] = v
	}
	return out
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}
