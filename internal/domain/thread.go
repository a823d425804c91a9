package domain

import (
	"context"
	"time"
)

// ThreadEntry maps a conversation key to an assistant thread handle.
type ThreadEntry struct {
	Key       string    `json:"key"`
	ThreadID  string    `json:"thread_id"`
	CreatedAt time.Time `json:"created_at"`
	LastSeen  time.Time `json:"last_seen"`
}

// ThreadKV is the persistence boundary of the conversation thread store.
// Implementations need not be transactional; atomic get-or-create is
// provided on top of it.
type ThreadKV interface {
	// Get returns nil, nil when the key is absent.
	Get(ctx context.Context, key string) (*ThreadEntry, error)
	Put(ctx context.Context, entry ThreadEntry) error
	Touch(ctx context.Context, key string, at time.Time) error
	Delete(ctx context.Context, key string) error
	List(ctx context.Context, limit int) ([]ThreadEntry, error)
	// DeleteIdleSince removes entries whose LastSeen is before cutoff.
	DeleteIdleSince(ctx context.Context, cutoff time.Time) (int64, error)
	Close() error
}
