package storage

import (
	"context"
	"errors"
	"time"

	"grievd/internal/domain"
)

var ErrClosed = errors.New("storage closed")

// Config configures the notification log store.
//
// Driver values:
//   - "memory": process-local, lost on restart
//   - "file": JSON Lines journal + snapshot
//   - "sqlite": SQLite database file (pure Go driver)
//   - "postgres": PostgreSQL via pgx (DSN)
type Config struct {
	Driver      string
	Path        string
	DSN         string
	BusyTimeout time.Duration // sqlite only; 0 means default
	MaxConns    int32         // postgres only
}

// Store is the append/query interface for delivery attempts. Rows are keyed
// by attempt id and written independently of each other.
type Store interface {
	// Append records a new pending attempt and returns its id. An empty
	// ID is filled in.
	Append(ctx context.Context, a domain.Attempt) (string, error)
	// UpdateStatus moves a pending attempt to sent or failed and merges meta
	// into its metadata. Any other transition is domain.ErrInvalidState.
	UpdateStatus(ctx context.Context, id string, status domain.AttemptStatus, errMsg string, meta map[string]string) error
	Get(ctx context.Context, id string) (domain.Attempt, error)
	// Query returns matching attempts, newest first.
	Query(ctx context.Context, f Filter) ([]domain.Attempt, error)
	Stats(ctx context.Context) (Stats, error)
	Close() error
}

// Filter narrows Query. Zero fields match everything.
type Filter struct {
	Channel domain.Channel
	Status  domain.AttemptStatus
	// RecipientContains matches a case-insensitive substring of the
	// recipient or the subject.
	RecipientContains string
	RelatedID         string
	CreatedBefore     time.Time
	Limit             int
}

const (
	defaultQueryLimit = 100
	maxQueryLimit     = 1000
)

func (f Filter) limit() int {
	switch {
	case f.Limit <= 0:
		return defaultQueryLimit
	case f.Limit > maxQueryLimit:
		return maxQueryLimit
	}
	return f.Limit
}

type Stats struct {
	Total     int                    `json:"total"`
	Pending   int                    `json:"pending"`
	Sent      int                    `json:"sent"`
	Failed    int                    `json:"failed"`
	ByChannel map[domain.Channel]int `json:"by_channel"`
}

func (s *Stats) add(ch domain.Channel, st domain.AttemptStatus, n int) {
	if s.ByChannel == nil {
		s.ByChannel = map[domain.Channel]int{}
	}
	s.Total += n
	s.ByChannel[ch] += n
	switch st {
	case domain.AttemptPending:
		s.Pending += n
	case domain.AttemptSent:
		s.Sent += n
	case domain.AttemptFailed:
		s.Failed += n
	}
}
