package agent

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/goleak"

	"relaybot/internal/domain"
	"relaybot/internal/memory"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// fakeBackend is an in-memory assistant backend. Each run walks through
// statuses; the reply echoes the last user message with a prefix.
type fakeBackend struct {
	mu          sync.Mutex
	threads     atomic.Int32
	createDelay time.Duration
	statuses    []domain.RunStatus // sequence returned by GetRun
	lastError   *domain.RunError
	messages    map[string][]string
	runs        map[string]int
	cancelled   []string
	active      map[string]int // in-flight submissions per thread
	maxActive   int
	getRunErr   error
}

func newFakeBackend(statuses ...domain.RunStatus) *fakeBackend {
	if len(statuses) == 0 {
		statuses = []domain.RunStatus{domain.RunInProgress, domain.RunCompleted}
	}
	return &fakeBackend{
		statuses: statuses,
		messages: make(map[string][]string),
		runs:     make(map[string]int),
		active:   make(map[string]int),
	}
}

func (f *fakeBackend) CreateThread(ctx context.Context) (string, error) {
	if f.createDelay > 0 {
		time.Sleep(f.createDelay)
	}
	return fmt.Sprintf("thread_%d", f.threads.Add(1)), nil
}

func (f *fakeBackend) AppendMessage(ctx context.Context, threadID, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages[threadID] = append(f.messages[threadID], text)
	f.active[threadID]++
	if f.active[threadID] > f.maxActive {
		f.maxActive = f.active[threadID]
	}
	return nil
}

func (f *fakeBackend) CreateRun(ctx context.Context, threadID, assistantID string) (*domain.Run, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := fmt.Sprintf("run_%s_%d", assistantID, len(f.messages[threadID]))
	f.runs[id] = 0
	return &domain.Run{ID: id, ThreadID: threadID, Status: domain.RunQueued}, nil
}

func (f *fakeBackend) GetRun(ctx context.Context, threadID, runID string) (*domain.Run, error) {
	if f.getRunErr != nil {
		return nil, f.getRunErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	i := f.runs[runID]
	if i >= len(f.statuses) {
		i = len(f.statuses) - 1
	}
	f.runs[runID]++
	run := &domain.Run{ID: runID, ThreadID: threadID, Status: f.statuses[i]}
	if run.Status == domain.RunFailed {
		run.LastError = f.lastError
	}
	return run, nil
}

func (f *fakeBackend) CancelRun(ctx context.Context, threadID, runID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancelled = append(f.cancelled, runID)
	return nil
}

func (f *fakeBackend) LatestAssistantMessage(ctx context.Context, threadID string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	msgs := f.messages[threadID]
	f.active[threadID]--
	return "reply: " + msgs[len(msgs)-1], nil
}

func newTestOrchestrator(b *fakeBackend, runTimeout time.Duration) *Orchestrator {
	return NewOrchestrator(OrchestratorConfig{
		Backend:                b,
		Threads:                NewThreadStore(memory.NewMapStore(), b, testLogger()),
		AssistantID:            "asst_main",
		PunctuationAssistantID: "asst_punct",
		PollInterval:           5 * time.Millisecond,
		RunTimeout:             runTimeout,
		Logger:                 testLogger(),
	})
}
