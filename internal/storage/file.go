package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"grievd/internal/domain"
	logx "grievd/pkg/logx"
)

// fileStore is a dependency-free persistence backend.
//
// Files:
//   - <prefix>.attempts.snapshot.json (periodic snapshot, JSON array)
//   - <prefix>.attempts.journal.jsonl (append-only journal)
//
// Queries are served from memory; the journal is replayed on open and
// periodically compacted into the snapshot.
type fileStore struct {
	log logx.Logger
	now func() time.Time

	mu sync.RWMutex
	ix *index

	snapshotPath string
	journal      *os.File
	writes       int
	compactEvery int
}

type journalRecord struct {
	Op      string               `json:"op"`
	Attempt *domain.Attempt      `json:"attempt,omitempty"`
	ID      string               `json:"id,omitempty"`
	Status  domain.AttemptStatus `json:"status,omitempty"`
	Error   string               `json:"error,omitempty"`
	Meta    map[string]string    `json:"meta,omitempty"`
	At      time.Time            `json:"at,omitempty"`
}

const (
	opAppend = "append"
	opUpdate = "update"
)

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("store.path is required for file driver")
	}

	dir := filepath.Dir(path)
	base := filepath.Base(path)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	prefix := filepath.Join(dir, base)

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	snapPath := prefix + ".attempts.snapshot.json"
	journalPath := prefix + ".attempts.journal.jsonl"

	ix := newIndex()
	if err := loadSnapshot(snapPath, ix); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load snapshot: %w", err)
	}
	skipped, err := replayJournal(journalPath, ix)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("replay journal: %w", err)
	}
	if skipped > 0 {
		log.Warn("skipped unreadable journal records", logx.Int("count", skipped))
	}

	jf, err := os.OpenFile(journalPath, os.O_CREATE|os.O_APPEND|os.O_RDWR, 0o600)
	if err != nil {
		return nil, err
	}

	log.Info("file store opened", logx.String("path", prefix), logx.Int("attempts", len(ix.rows)))
	return &fileStore{
		log:          log,
		now:          time.Now,
		ix:           ix,
		snapshotPath: snapPath,
		journal:      jf,
		compactEvery: 1000,
	}, nil
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journal == nil {
		return nil
	}
	err := s.journal.Close()
	s.journal = nil
	return err
}

func (s *fileStore) Append(ctx context.Context, a domain.Attempt) (string, error) {
	a, err := prepareAppend(a, s.now())
	if err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journal == nil {
		return "", ErrClosed
	}
	if _, dup := s.ix.rows[a.ID]; dup {
		return "", fmt.Errorf("%w: attempt %s already exists", domain.ErrInvalidState, a.ID)
	}
	if err := s.writeLocked(journalRecord{Op: opAppend, Attempt: &a}); err != nil {
		return "", err
	}
	if err := s.ix.put(a); err != nil {
		return "", err
	}
	s.maybeCompactLocked()
	return a.ID, nil
}

func (s *fileStore) UpdateStatus(ctx context.Context, id string, status domain.AttemptStatus, errMsg string, meta map[string]string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journal == nil {
		return ErrClosed
	}
	r, ok := s.ix.rows[id]
	if !ok {
		return fmt.Errorf("%w: attempt %s", domain.ErrNotFound, id)
	}
	if err := checkTransition(id, r.a.Status, status); err != nil {
		return err
	}
	at := s.now()
	if err := s.writeLocked(journalRecord{Op: opUpdate, ID: id, Status: status, Error: errMsg, Meta: meta, At: at}); err != nil {
		return err
	}
	if _, err := s.ix.update(id, status, errMsg, meta, at); err != nil {
		return err
	}
	s.maybeCompactLocked()
	return nil
}

func (s *fileStore) Get(ctx context.Context, id string) (domain.Attempt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.ix.get(id)
}

func (s *fileStore) Query(ctx context.Context, f Filter) ([]domain.Attempt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.ix.query(f), nil
}

func (s *fileStore) Stats(ctx context.Context) (Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.ix.stats(), nil
}

func (s *fileStore) writeLocked(rec journalRecord) error {
	if err := json.NewEncoder(s.journal).Encode(rec); err != nil {
		return fmt.Errorf("journal write: %w", err)
	}
	s.writes++
	return nil
}

// maybeCompactLocked runs after the index reflects the last journal record.
func (s *fileStore) maybeCompactLocked() {
	if s.compactEvery <= 0 || s.writes%s.compactEvery != 0 {
		return
	}
	// Best-effort compact.
	if err := s.compactLocked(); err != nil {
		s.log.Debug("journal compact failed", logx.Err(err))
	}
}

func (s *fileStore) compactLocked() error {
	tmp := s.snapshotPath + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	if err := json.NewEncoder(f).Encode(s.ix.ordered()); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp, s.snapshotPath); err != nil {
		return err
	}
	if err := s.journal.Truncate(0); err != nil {
		return err
	}
	_, err = s.journal.Seek(0, 2)
	return err
}

func loadSnapshot(path string, ix *index) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	var all []domain.Attempt
	if err := json.NewDecoder(f).Decode(&all); err != nil {
		return err
	}
	for _, a := range all {
		_ = ix.put(a)
	}
	return nil
}

func replayJournal(path string, ix *index) (skipped int, err error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), 4*1024*1024)
	for sc.Scan() {
		var r journalRecord
		if err := json.Unmarshal(sc.Bytes(), &r); err != nil {
			skipped++
			continue
		}
		switch r.Op {
		case opAppend:
			if r.Attempt == nil || ix.put(*r.Attempt) != nil {
				skipped++
			}
		case opUpdate:
			if _, err := ix.update(r.ID, r.Status, r.Error, r.Meta, r.At); err != nil {
				skipped++
			}
		default:
			skipped++
		}
	}
	return skipped, sc.Err()
}
