package storage

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"grievd/internal/domain"
	logx "grievd/pkg/logx"
)

//go:embed migrations_sqlite.sql
var sqliteMigrations string

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
	now func() time.Time
}

const attemptColumns = `id, channel, recipient, subject, body, status, error_message, related_entity, related_id, priority, created_at, updated_at, metadata`

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	path := cfg.Path
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	st := &sqliteStore{db: db, log: log, now: time.Now}

	busy := cfg.BusyTimeout
	if busy <= 0 {
		busy = 5 * time.Second
	}
	_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", busy.Milliseconds()))
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	if _, err := db.ExecContext(context.Background(), sqliteMigrations); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite migrate: %w", err)
	}
	log.Info("sqlite store opened", logx.String("path", path))
	return st, nil
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) Append(ctx context.Context, a domain.Attempt) (string, error) {
	a, err := prepareAppend(a, s.now())
	if err != nil {
		return "", err
	}
	meta, err := encodeMeta(a.Metadata)
	if err != nil {
		return "", err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO notification_attempts(`+attemptColumns+`) VALUES(?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		a.ID, string(a.Channel), a.Recipient, nullStr(a.Subject), a.Body, string(a.Status), nullStr(a.ErrorMessage),
		nullStr(string(a.RelatedEntity)), nullStr(a.RelatedID), nullStr(string(a.Priority)),
		a.CreatedAt.UnixMilli(), a.UpdatedAt.UnixMilli(), meta,
	)
	if err != nil {
		return "", fmt.Errorf("insert attempt: %w", err)
	}
	return a.ID, nil
}

func (s *sqliteStore) UpdateStatus(ctx context.Context, id string, status domain.AttemptStatus, errMsg string, meta map[string]string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	var (
		cur     string
		rawMeta sql.NullString
	)
	err = tx.QueryRowContext(ctx, `SELECT status, metadata FROM notification_attempts WHERE id = ?`, id).Scan(&cur, &rawMeta)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: attempt %s", domain.ErrNotFound, id)
	}
	if err != nil {
		return err
	}
	if err := checkTransition(id, domain.AttemptStatus(cur), status); err != nil {
		return err
	}
	existing, err := decodeMeta([]byte(rawMeta.String))
	if err != nil {
		return err
	}
	merged, err := encodeMeta(mergeMeta(existing, meta))
	if err != nil {
		return err
	}
	res, err := tx.ExecContext(ctx,
		`UPDATE notification_attempts SET status = ?, error_message = ?, metadata = ?, updated_at = ? WHERE id = ? AND status = 'pending'`,
		string(status), nullStr(errMsg), merged, s.now().UnixMilli(), id,
	)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n != 1 {
		return fmt.Errorf("%w: attempt %s changed concurrently", domain.ErrInvalidState, id)
	}
	return tx.Commit()
}

func (s *sqliteStore) Get(ctx context.Context, id string) (domain.Attempt, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+attemptColumns+` FROM notification_attempts WHERE id = ?`, id)
	a, err := scanSQLite(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Attempt{}, fmt.Errorf("%w: attempt %s", domain.ErrNotFound, id)
	}
	return a, err
}

func (s *sqliteStore) Query(ctx context.Context, f Filter) ([]domain.Attempt, error) {
	var before any
	if !f.CreatedBefore.IsZero() {
		before = f.CreatedBefore.UnixMilli()
	}
	where, args := sqliteDialect.where(f, before)
	rows, err := s.db.QueryContext(ctx, `SELECT `+attemptColumns+` FROM notification_attempts`+where+sqliteDialect.orderLimit(f), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]domain.Attempt, 0)
	for rows.Next() {
		a, err := scanSQLite(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *sqliteStore) Stats(ctx context.Context) (Stats, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT channel, status, COUNT(*) FROM notification_attempts GROUP BY channel, status`)
	if err != nil {
		return Stats{}, err
	}
	defer rows.Close()
	st := Stats{ByChannel: map[domain.Channel]int{}}
	for rows.Next() {
		var (
			ch, status string
			n          int
		)
		if err := rows.Scan(&ch, &status, &n); err != nil {
			return Stats{}, err
		}
		st.add(domain.Channel(ch), domain.AttemptStatus(status), n)
	}
	return st, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSQLite(sc scanner) (domain.Attempt, error) {
	var (
		a                                       domain.Attempt
		ch, status                              string
		subject, errMsg, relEntity, relID, prio sql.NullString
		rawMeta                                 sql.NullString
		createdMS, updatedMS                    int64
	)
	if err := sc.Scan(&a.ID, &ch, &a.Recipient, &subject, &a.Body, &status, &errMsg, &relEntity, &relID, &prio, &createdMS, &updatedMS, &rawMeta); err != nil {
		return domain.Attempt{}, err
	}
	meta, err := decodeMeta([]byte(rawMeta.String))
	if err != nil {
		return domain.Attempt{}, err
	}
	a.Channel = domain.Channel(ch)
	a.Status = domain.AttemptStatus(status)
	a.Subject = subject.String
	a.ErrorMessage = errMsg.String
	a.RelatedEntity = domain.EntityType(relEntity.String)
	a.RelatedID = relID.String
	a.Priority = domain.Priority(prio.String)
	a.CreatedAt = time.UnixMilli(createdMS)
	a.UpdatedAt = time.UnixMilli(updatedMS)
	a.Metadata = meta
	return a, nil
}

func encodeMeta(m map[string]string) (any, error) {
	if len(m) == 0 {
		return nil, nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func decodeMeta(b []byte) (map[string]string, error) {
	if len(b) == 0 {
		return nil, nil
	}
	var m map[string]string
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, fmt.Errorf("decode metadata: %w", err)
	}
	return m, nil
}
