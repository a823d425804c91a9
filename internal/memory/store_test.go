package memory

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"relaybot/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
}

func newSQLite(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "threads.db"), testLogger())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

// kvContract exercises the behavior every ThreadKV must share.
func kvContract(t *testing.T, kv domain.ThreadKV) {
	ctx := context.Background()
	base := time.UnixMilli(1_700_000_000_000)

	got, err := kv.Get(ctx, "missing@s.whatsapp.net")
	require.NoError(t, err)
	require.Nil(t, got)

	require.NoError(t, kv.Put(ctx, domain.ThreadEntry{
		Key: "a@s.whatsapp.net", ThreadID: "thread_a", CreatedAt: base, LastSeen: base,
	}))
	require.NoError(t, kv.Put(ctx, domain.ThreadEntry{
		Key: "b@s.whatsapp.net", ThreadID: "thread_b", CreatedAt: base, LastSeen: base.Add(time.Hour),
	}))

	got, err = kv.Get(ctx, "a@s.whatsapp.net")
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Equal(t, "thread_a", got.ThreadID)
	require.True(t, got.CreatedAt.Equal(base))

	require.NoError(t, kv.Touch(ctx, "a@s.whatsapp.net", base.Add(2*time.Hour)))
	got, err = kv.Get(ctx, "a@s.whatsapp.net")
	require.NoError(t, err)
	require.True(t, got.LastSeen.Equal(base.Add(2*time.Hour)))

	list, err := kv.List(ctx, 10)
	require.NoError(t, err)
	require.Len(t, list, 2)
	require.Equal(t, "a@s.whatsapp.net", list[0].Key, "most recently seen first")

	n, err := kv.DeleteIdleSince(ctx, base.Add(90*time.Minute))
	require.NoError(t, err)
	require.EqualValues(t, 1, n)

	got, err = kv.Get(ctx, "b@s.whatsapp.net")
	require.NoError(t, err)
	require.Nil(t, got)

	require.NoError(t, kv.Delete(ctx, "a@s.whatsapp.net"))
	list, err = kv.List(ctx, 10)
	require.NoError(t, err)
	require.Empty(t, list)
}

func TestSQLiteStore_Contract(t *testing.T) {
	kvContract(t, newSQLite(t))
}

func TestMapStore_Contract(t *testing.T) {
	kvContract(t, NewMapStore())
}

func TestSQLiteStore_PersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "threads.db")
	ctx := context.Background()

	s, err := NewSQLiteStore(path, testLogger())
	require.NoError(t, err)
	require.NoError(t, s.Put(ctx, domain.ThreadEntry{Key: "k", ThreadID: "thread_k"}))
	require.NoError(t, s.Close())

	s, err = NewSQLiteStore(path, testLogger())
	require.NoError(t, err)
	defer s.Close()

	got, err := s.Get(ctx, "k")
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Equal(t, "thread_k", got.ThreadID)
	require.False(t, got.LastSeen.IsZero())
}

func TestPostgresStore_Contract(t *testing.T) {
	dsn := os.Getenv("TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("skip integration test: TEST_POSTGRES_DSN is not set")
	}
	ctx := context.Background()
	s, err := NewPostgresStore(ctx, dsn, testLogger())
	if err != nil {
		t.Skipf("skip integration test: %v", err)
	}
	defer s.Close()

	for _, k := range []string{"a@s.whatsapp.net", "b@s.whatsapp.net"} {
		s.Delete(ctx, k)
	}
	kvContract(t, s)
}
