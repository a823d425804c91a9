package agent

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"

	"relaybot/internal/domain"
	"relaybot/internal/metrics"
)

// ThreadStore maps conversation keys to assistant threads. Get-or-create is
// atomic per key; different keys proceed concurrently.
type ThreadStore struct {
	kv      domain.ThreadKV
	backend domain.AssistantBackend
	group   singleflight.Group
	logger  *slog.Logger
	now     func() time.Time
}

func NewThreadStore(kv domain.ThreadKV, backend domain.AssistantBackend, logger *slog.Logger) *ThreadStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &ThreadStore{
		kv:      kv,
		backend: backend,
		logger:  logger,
		now:     time.Now,
	}
}

// GetOrCreate returns the thread for key, creating one on the backend the
// first time the key is seen.
func (s *ThreadStore) GetOrCreate(ctx context.Context, key string) (string, error) {
	// Fast path: most calls hit an existing entry.
	if id, ok, err := s.lookup(ctx, key); err != nil || ok {
		return id, err
	}

	v, err, shared := s.group.Do(key, func() (any, error) {
		// Double-check: a concurrent caller may have finished between our
		// lookup and entering the group.
		if id, ok, err := s.lookup(ctx, key); err != nil || ok {
			return id, err
		}

		// The created thread outlives this caller, so creation is not tied to
		// a single caller's cancellation.
		createCtx := context.WithoutCancel(ctx)
		threadID, err := s.backend.CreateThread(createCtx)
		if err != nil {
			return "", fmt.Errorf("create thread for %s: %w", key, err)
		}
		now := s.now()
		if err := s.kv.Put(createCtx, domain.ThreadEntry{
			Key:       key,
			ThreadID:  threadID,
			CreatedAt: now,
			LastSeen:  now,
		}); err != nil {
			return "", fmt.Errorf("persist thread for %s: %w", key, err)
		}

		metrics.ThreadsCreated.Inc()
		s.logger.Info("created new thread", "key", key, "thread", threadID)
		return threadID, nil
	})
	if err != nil {
		return "", err
	}
	if shared {
		s.logger.Debug("thread creation shared", "key", key)
	}
	return v.(string), nil
}

func (s *ThreadStore) lookup(ctx context.Context, key string) (string, bool, error) {
	e, err := s.kv.Get(ctx, key)
	if err != nil {
		return "", false, fmt.Errorf("lookup thread for %s: %w", key, err)
	}
	if e == nil {
		return "", false, nil
	}
	if err := s.kv.Touch(ctx, key, s.now()); err != nil {
		s.logger.Warn("touch thread failed", "key", key, "err", err)
	}
	return e.ThreadID, true, nil
}

// Forget removes the mapping for key. The next message from that key starts
// a fresh thread.
func (s *ThreadStore) Forget(ctx context.Context, key string) error {
	if err := s.kv.Delete(ctx, key); err != nil {
		return fmt.Errorf("forget thread for %s: %w", key, err)
	}
	s.logger.Info("thread forgotten", "key", key)
	return nil
}

// List returns up to limit mappings, most recently active first.
func (s *ThreadStore) List(ctx context.Context, limit int) ([]domain.ThreadEntry, error) {
	return s.kv.List(ctx, limit)
}
