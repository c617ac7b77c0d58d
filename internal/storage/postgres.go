package storage

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"grievd/internal/domain"
	logx "grievd/pkg/logx"
)

//go:embed migrations_postgres.sql
var postgresMigrations string

type postgresStore struct {
	pool *pgxpool.Pool
	log  logx.Logger
	now  func() time.Time
}

func openPostgres(cfg Config, log logx.Logger) (Store, error) {
	dsn := strings.TrimSpace(cfg.DSN)
	if dsn == "" {
		return nil, errors.New("postgres dsn is required")
	}
	pcfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		pcfg.MaxConns = cfg.MaxConns
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	pool, err := pgxpool.NewWithConfig(ctx, pcfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres ping: %w", err)
	}
	if _, err := pool.Exec(ctx, postgresMigrations); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres migrate: %w", err)
	}
	log.Info("postgres store opened", logx.Int("max_conns", int(pcfg.MaxConns)))
	return &postgresStore{pool: pool, log: log, now: time.Now}, nil
}

func (s *postgresStore) Close() error {
	s.pool.Close()
	return nil
}

func (s *postgresStore) Append(ctx context.Context, a domain.Attempt) (string, error) {
	a, err := prepareAppend(a, s.now())
	if err != nil {
		return "", err
	}
	meta, err := metaJSON(a.Metadata)
	if err != nil {
		return "", err
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO notification_attempts(`+attemptColumns+`) VALUES($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)`,
		a.ID, string(a.Channel), a.Recipient, nullStr(a.Subject), a.Body, string(a.Status), nullStr(a.ErrorMessage),
		nullStr(string(a.RelatedEntity)), nullStr(a.RelatedID), nullStr(string(a.Priority)),
		a.CreatedAt, a.UpdatedAt, meta,
	)
	if err != nil {
		return "", fmt.Errorf("insert attempt: %w", err)
	}
	return a.ID, nil
}

func (s *postgresStore) UpdateStatus(ctx context.Context, id string, status domain.AttemptStatus, errMsg string, meta map[string]string) error {
	if err := checkTransition(id, domain.AttemptPending, status); err != nil {
		return err
	}
	patch, err := metaJSON(meta)
	if err != nil {
		return err
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE notification_attempts
		    SET status = $1, error_message = $2,
		        metadata = COALESCE(metadata, '{}'::jsonb) || COALESCE($3::jsonb, '{}'::jsonb),
		        updated_at = $4
		  WHERE id = $5 AND status = 'pending'`,
		string(status), nullStr(errMsg), patch, s.now(), id,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 1 {
		return nil
	}
	var cur string
	err = s.pool.QueryRow(ctx, `SELECT status FROM notification_attempts WHERE id = $1`, id).Scan(&cur)
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%w: attempt %s", domain.ErrNotFound, id)
	}
	if err != nil {
		return err
	}
	return checkTransition(id, domain.AttemptStatus(cur), status)
}

func (s *postgresStore) Get(ctx context.Context, id string) (domain.Attempt, error) {
	a, err := scanPostgres(s.pool.QueryRow(ctx, `SELECT `+attemptColumns+` FROM notification_attempts WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Attempt{}, fmt.Errorf("%w: attempt %s", domain.ErrNotFound, id)
	}
	return a, err
}

func (s *postgresStore) Query(ctx context.Context, f Filter) ([]domain.Attempt, error) {
	var before any
	if !f.CreatedBefore.IsZero() {
		before = f.CreatedBefore
	}
	where, args := postgresDialect.where(f, before)
	rows, err := s.pool.Query(ctx, `SELECT `+attemptColumns+` FROM notification_attempts`+where+postgresDialect.orderLimit(f), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]domain.Attempt, 0)
	for rows.Next() {
		a, err := scanPostgres(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *postgresStore) Stats(ctx context.Context) (Stats, error) {
	rows, err := s.pool.Query(ctx, `SELECT channel, status, COUNT(*) FROM notification_attempts GROUP BY channel, status`)
	if err != nil {
		return Stats{}, err
	}
	defer rows.Close()
	st := Stats{ByChannel: map[domain.Channel]int{}}
	for rows.Next() {
		var (
			ch, status string
			n          int64
		)
		if err := rows.Scan(&ch, &status, &n); err != nil {
			return Stats{}, err
		}
		st.add(domain.Channel(ch), domain.AttemptStatus(status), int(n))
	}
	return st, rows.Err()
}

func scanPostgres(row pgx.Row) (domain.Attempt, error) {
	var (
		a                                       domain.Attempt
		ch, status                              string
		subject, errMsg, relEntity, relID, prio *string
		rawMeta                                 []byte
	)
	if err := row.Scan(&a.ID, &ch, &a.Recipient, &subject, &a.Body, &status, &errMsg, &relEntity, &relID, &prio, &a.CreatedAt, &a.UpdatedAt, &rawMeta); err != nil {
		return domain.Attempt{}, err
	}
	meta, err := decodeMeta(rawMeta)
	if err != nil {
		return domain.Attempt{}, err
	}
	a.Channel = domain.Channel(ch)
	a.Status = domain.AttemptStatus(status)
	a.Subject = deref(subject)
	a.ErrorMessage = deref(errMsg)
	a.RelatedEntity = domain.EntityType(deref(relEntity))
	a.RelatedID = deref(relID)
	a.Priority = domain.Priority(deref(prio))
	a.Metadata = meta
	return a, nil
}

func metaJSON(m map[string]string) ([]byte, error) {
	if len(m) == 0 {
		return nil, nil
	}
	return json.Marshal(m)
}

func deref(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}
