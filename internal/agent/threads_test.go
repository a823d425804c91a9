package agent

import (
	"context"
	"sync"
	"testing"
	"time"

	"relaybot/internal/memory"
)

func TestThreadStore_ReusesExistingThread(t *testing.T) {
	b := newFakeBackend()
	s := NewThreadStore(memory.NewMapStore(), b, testLogger())
	ctx := context.Background()

	first, err := s.GetOrCreate(ctx, "50688887777@s.whatsapp.net")
	if err != nil {
		t.Fatal(err)
	}
	second, err := s.GetOrCreate(ctx, "50688887777@s.whatsapp.net")
	if err != nil {
		t.Fatal(err)
	}
	if first != second {
		t.Fatalf("expected same thread, got %q and %q", first, second)
	}
	if n := b.threads.Load(); n != 1 {
		t.Fatalf("expected 1 backend thread, got %d", n)
	}
}

func TestThreadStore_ConcurrentGetOrCreateIsIdempotent(t *testing.T) {
	b := newFakeBackend()
	b.createDelay = 20 * time.Millisecond
	s := NewThreadStore(memory.NewMapStore(), b, testLogger())

	const callers = 32
	ids := make([]string, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id, err := s.GetOrCreate(context.Background(), "same-key")
			if err != nil {
				t.Error(err)
				return
			}
			ids[i] = id
		}(i)
	}
	wg.Wait()

	for _, id := range ids {
		if id != ids[0] {
			t.Fatalf("callers saw different threads: %v", ids)
		}
	}
	if n := b.threads.Load(); n != 1 {
		t.Fatalf("expected exactly 1 backend thread, got %d", n)
	}
}

func TestThreadStore_DistinctKeysGetDistinctThreads(t *testing.T) {
	b := newFakeBackend()
	s := NewThreadStore(memory.NewMapStore(), b, testLogger())
	ctx := context.Background()

	a, _ := s.GetOrCreate(ctx, "a")
	c, _ := s.GetOrCreate(ctx, "c")
	if a == c {
		t.Fatalf("distinct keys shared thread %q", a)
	}
}

func TestThreadStore_ForgetStartsFresh(t *testing.T) {
	b := newFakeBackend()
	s := NewThreadStore(memory.NewMapStore(), b, testLogger())
	ctx := context.Background()

	before, _ := s.GetOrCreate(ctx, "k")
	if err := s.Forget(ctx, "k"); err != nil {
		t.Fatal(err)
	}
	after, _ := s.GetOrCreate(ctx, "k")
	if before == after {
		t.Fatal("expected a new thread after Forget")
	}

	entries, err := s.List(ctx, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || entries[0].ThreadID != after {
		t.Fatalf("unexpected entries %+v", entries)
	}
}
