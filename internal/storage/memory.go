package storage

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"grievd/internal/domain"
)

// index is the in-memory attempt table shared by the memory and file drivers.
// Callers hold the owning store's lock.
type index struct {
	rows map[string]*row
	seq  uint64
}

type row struct {
	a   domain.Attempt
	seq uint64
}

func newIndex() *index { return &index{rows: map[string]*row{}} }

func (ix *index) put(a domain.Attempt) error {
	if _, dup := ix.rows[a.ID]; dup {
		return fmt.Errorf("%w: attempt %s already exists", domain.ErrInvalidState, a.ID)
	}
	ix.seq++
	ix.rows[a.ID] = &row{a: a, seq: ix.seq}
	return nil
}

func (ix *index) update(id string, status domain.AttemptStatus, errMsg string, meta map[string]string, at time.Time) (domain.Attempt, error) {
	r, ok := ix.rows[id]
	if !ok {
		return domain.Attempt{}, fmt.Errorf("%w: attempt %s", domain.ErrNotFound, id)
	}
	if err := checkTransition(id, r.a.Status, status); err != nil {
		return domain.Attempt{}, err
	}
	r.a.Status = status
	r.a.ErrorMessage = errMsg
	r.a.Metadata = mergeMeta(r.a.Metadata, meta)
	r.a.UpdatedAt = at
	return r.a, nil
}

func (ix *index) get(id string) (domain.Attempt, error) {
	r, ok := ix.rows[id]
	if !ok {
		return domain.Attempt{}, fmt.Errorf("%w: attempt %s", domain.ErrNotFound, id)
	}
	out := r.a
	out.Metadata = domain.CopyMeta(r.a.Metadata)
	return out, nil
}

func (ix *index) query(f Filter) []domain.Attempt {
	needle := strings.ToLower(strings.TrimSpace(f.RecipientContains))
	matched := make([]*row, 0, len(ix.rows))
	for _, r := range ix.rows {
		a := r.a
		if f.Channel != "" && a.Channel != f.Channel {
			continue
		}
		if f.Status != "" && a.Status != f.Status {
			continue
		}
		if f.RelatedID != "" && a.RelatedID != f.RelatedID {
			continue
		}
		if !f.CreatedBefore.IsZero() && !a.CreatedAt.Before(f.CreatedBefore) {
			continue
		}
		if needle != "" &&
			!strings.Contains(strings.ToLower(a.Recipient), needle) &&
			!strings.Contains(strings.ToLower(a.Subject), needle) {
			continue
		}
		matched = append(matched, r)
	}
	sort.Slice(matched, func(i, j int) bool {
		if !matched[i].a.CreatedAt.Equal(matched[j].a.CreatedAt) {
			return matched[i].a.CreatedAt.After(matched[j].a.CreatedAt)
		}
		return matched[i].seq > matched[j].seq
	})
	if n := f.limit(); len(matched) > n {
		matched = matched[:n]
	}
	out := make([]domain.Attempt, 0, len(matched))
	for _, r := range matched {
		a := r.a
		a.Metadata = domain.CopyMeta(r.a.Metadata)
		out = append(out, a)
	}
	return out
}

func (ix *index) stats() Stats {
	s := Stats{ByChannel: map[domain.Channel]int{}}
	for _, r := range ix.rows {
		s.add(r.a.Channel, r.a.Status, 1)
	}
	return s
}

// ordered returns every attempt in insertion order.
func (ix *index) ordered() []domain.Attempt {
	rows := make([]*row, 0, len(ix.rows))
	for _, r := range ix.rows {
		rows = append(rows, r)
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].seq < rows[j].seq })
	out := make([]domain.Attempt, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.a)
	}
	return out
}

type memoryStore struct {
	mu     sync.RWMutex
	ix     *index
	closed bool
	now    func() time.Time
}

// NewMemory returns a process-local store.
func NewMemory() Store {
	return &memoryStore{ix: newIndex(), now: time.Now}
}

func (s *memoryStore) Append(ctx context.Context, a domain.Attempt) (string, error) {
	a, err := prepareAppend(a, s.now())
	if err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return "", ErrClosed
	}
	if err := s.ix.put(a); err != nil {
		return "", err
	}
	return a.ID, nil
}

func (s *memoryStore) UpdateStatus(ctx context.Context, id string, status domain.AttemptStatus, errMsg string, meta map[string]string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	_, err := s.ix.update(id, status, errMsg, meta, s.now())
	return err
}

func (s *memoryStore) Get(ctx context.Context, id string) (domain.Attempt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.ix.get(id)
}

func (s *memoryStore) Query(ctx context.Context, f Filter) ([]domain.Attempt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.ix.query(f), nil
}

func (s *memoryStore) Stats(ctx context.Context) (Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.ix.stats(), nil
}

func (s *memoryStore) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}
