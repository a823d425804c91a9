package memory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"relaybot/internal/domain"
)

const pgSchema = `
CREATE TABLE IF NOT EXISTS relaybot_threads (
	conv_key    TEXT PRIMARY KEY,
	thread_id   TEXT NOT NULL,
	created_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
	last_seen   TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_relaybot_threads_last_seen ON relaybot_threads(last_seen);
`

// PostgresStore implements domain.ThreadKV on PostgreSQL through a pgx pool.
type PostgresStore struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

var _ domain.ThreadKV = (*PostgresStore)(nil)

func NewPostgresStore(ctx context.Context, dsn string, logger *slog.Logger) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("db connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("db ping: %w", err)
	}
	if _, err := pool.Exec(ctx, pgSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	logger.Info("postgres thread store ready")
	return &PostgresStore{pool: pool, logger: logger}, nil
}

func (s *PostgresStore) Get(ctx context.Context, key string) (*domain.ThreadEntry, error) {
	var e domain.ThreadEntry
	err := s.pool.QueryRow(ctx,
		`SELECT conv_key, thread_id, created_at, last_seen FROM relaybot_threads WHERE conv_key = $1`, key,
	).Scan(&e.Key, &e.ThreadID, &e.CreatedAt, &e.LastSeen)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get thread %s: %w", key, err)
	}
	return &e, nil
}

func (s *PostgresStore) Put(ctx context.Context, e domain.ThreadEntry) error {
	now := time.Now()
	if e.CreatedAt.IsZero() {
		e.CreatedAt = now
	}
	if e.LastSeen.IsZero() {
		e.LastSeen = e.CreatedAt
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO relaybot_threads (conv_key, thread_id, created_at, last_seen) VALUES ($1, $2, $3, $4)
		 ON CONFLICT (conv_key) DO UPDATE SET thread_id = EXCLUDED.thread_id, last_seen = EXCLUDED.last_seen`,
		e.Key, e.ThreadID, e.CreatedAt, e.LastSeen,
	)
	if err != nil {
		return fmt.Errorf("put thread %s: %w", e.Key, err)
	}
	return nil
}

func (s *PostgresStore) Touch(ctx context.Context, key string, at time.Time) error {
	_, err := s.pool.Exec(ctx, `UPDATE relaybot_threads SET last_seen = $1 WHERE conv_key = $2`, at, key)
	return err
}

func (s *PostgresStore) Delete(ctx context.Context, key string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM relaybot_threads WHERE conv_key = $1`, key)
	return err
}

func (s *PostgresStore) List(ctx context.Context, limit int) ([]domain.ThreadEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx,
		`SELECT conv_key, thread_id, created_at, last_seen FROM relaybot_threads ORDER BY last_seen DESC LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.ThreadEntry, error) {
		var e domain.ThreadEntry
		err := row.Scan(&e.Key, &e.ThreadID, &e.CreatedAt, &e.LastSeen)
		return e, err
	})
}

func (s *PostgresStore) DeleteIdleSince(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM relaybot_threads WHERE last_seen < $1`, cutoff)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
