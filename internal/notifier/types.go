package notifier

import (
	"context"
	"errors"
	"time"

	"grievd/internal/domain"
	"grievd/internal/storage"
)

var (
	ErrStopped = errors.New("dispatcher stopped")
	ErrEmpty   = errors.New("no decisions")
)

// Config controls the dispatcher.
type Config struct {
	// Workers is the number of batches processed in parallel.
	Workers int
	// MaxConcurrency bounds the in-flight decisions of one batch.
	MaxConcurrency int
	QueueSize      int
	DefaultTimeout time.Duration
	// Timeouts overrides DefaultTimeout per channel.
	Timeouts map[domain.Channel]time.Duration
	// LogTimeout bounds each log store write.
	LogTimeout time.Duration
}

// Store is the subset of storage.Store the dispatcher writes to.
type Store interface {
	Append(ctx context.Context, a domain.Attempt) (string, error)
	UpdateStatus(ctx context.Context, id string, status domain.AttemptStatus, errMsg string, meta map[string]string) error
	Get(ctx context.Context, id string) (domain.Attempt, error)
}

var _ Store = (storage.Store)(nil)

// Hooks observe dispatcher activity. Any field may be nil.
type Hooks struct {
	Delivered func(ch domain.Channel, status domain.AttemptStatus, took time.Duration)
	// LogFailed is called once per failed log store write; op is "append"
	// or "update".
	LogFailed func(op string)
}
