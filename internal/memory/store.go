package memory

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"relaybot/internal/domain"
)

// SQLiteStore implements domain.ThreadKV using SQLite. Timestamps are stored
// as unix milliseconds.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

var _ domain.ThreadKV = (*SQLiteStore)(nil)

func NewSQLiteStore(dbPath string, logger *slog.Logger) (*SQLiteStore, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("cannot create database directory %s: %w", dir, err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("cannot open database: %w", err)
	}

	// Single connection for SQLite.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := RunMigrations(db, logger); err != nil {
		db.Close()
		return nil, fmt.Errorf("database migration failed: %w", err)
	}

	return &SQLiteStore{db: db, logger: logger}, nil
}

func (s *SQLiteStore) Get(ctx context.Context, key string) (*domain.ThreadEntry, error) {
	var (
		e                 domain.ThreadEntry
		created, lastSeen int64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT conv_key, thread_id, created_at, last_seen FROM threads WHERE conv_key = ?`, key,
	).Scan(&e.Key, &e.ThreadID, &created, &lastSeen)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get thread %s: %w", key, err)
	}
	e.CreatedAt = time.UnixMilli(created)
	e.LastSeen = time.UnixMilli(lastSeen)
	return &e, nil
}

func (s *SQLiteStore) Put(ctx context.Context, e domain.ThreadEntry) error {
	now := time.Now()
	if e.CreatedAt.IsZero() {
		e.CreatedAt = now
	}
	if e.LastSeen.IsZero() {
		e.LastSeen = e.CreatedAt
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO threads (conv_key, thread_id, created_at, last_seen) VALUES (?, ?, ?, ?)
		 ON CONFLICT(conv_key) DO UPDATE SET thread_id = excluded.thread_id, last_seen = excluded.last_seen`,
		e.Key, e.ThreadID, e.CreatedAt.UnixMilli(), e.LastSeen.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("put thread %s: %w", e.Key, err)
	}
	return nil
}

func (s *SQLiteStore) Touch(ctx context.Context, key string, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `UPDATE threads SET last_seen = ? WHERE conv_key = ?`, at.UnixMilli(), key)
	return err
}

func (s *SQLiteStore) Delete(ctx context.Context, key string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM threads WHERE conv_key = ?`, key)
	return err
}

func (s *SQLiteStore) List(ctx context.Context, limit int) ([]domain.ThreadEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT conv_key, thread_id, created_at, last_seen FROM threads ORDER BY last_seen DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.ThreadEntry
	for rows.Next() {
		var (
			e                 domain.ThreadEntry
			created, lastSeen int64
		)
		if err := rows.Scan(&e.Key, &e.ThreadID, &created, &lastSeen); err != nil {
			return nil, err
		}
		e.CreatedAt = time.UnixMilli(created)
		e.LastSeen = time.UnixMilli(lastSeen)
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) DeleteIdleSince(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM threads WHERE last_seen < ?`, cutoff.UnixMilli())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
