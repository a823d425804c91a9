package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"relaybot/internal/domain"
	"relaybot/internal/metrics"
)

const cancelTimeout = 10 * time.Second

// OrchestratorConfig wires the assistant orchestrator.
type OrchestratorConfig struct {
	Backend                domain.AssistantBackend
	Threads                *ThreadStore
	Limiter                *RateLimiter
	AssistantID            string
	PunctuationAssistantID string
	PunctuationKey         string
	PollInterval           time.Duration
	RunTimeout             time.Duration
	Logger                 *slog.Logger
}

// Orchestrator drives one message through an assistant thread:
// resolve thread, append message, create run, poll to a terminal status,
// read the reply. Messages to the same thread are handled one at a time.
type Orchestrator struct {
	backend                domain.AssistantBackend
	threads                *ThreadStore
	limiter                *RateLimiter
	locks                  *KeyLock
	assistantID            string
	punctuationAssistantID string
	punctuationKey         string
	pollInterval           time.Duration
	runTimeout             time.Duration
	logger                 *slog.Logger
}

func NewOrchestrator(cfg OrchestratorConfig) *Orchestrator {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 500 * time.Millisecond
	}
	if cfg.RunTimeout <= 0 {
		cfg.RunTimeout = 120 * time.Second
	}
	if cfg.PunctuationAssistantID == "" {
		cfg.PunctuationAssistantID = cfg.AssistantID
	}
	if cfg.PunctuationKey == "" {
		cfg.PunctuationKey = "__punctuation__"
	}
	if cfg.Limiter == nil {
		cfg.Limiter = NewRateLimiter(1, 0)
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Orchestrator{
		backend:                cfg.Backend,
		threads:                cfg.Threads,
		limiter:                cfg.Limiter,
		locks:                  NewKeyLock(),
		assistantID:            cfg.AssistantID,
		punctuationAssistantID: cfg.PunctuationAssistantID,
		punctuationKey:         cfg.PunctuationKey,
		pollInterval:           cfg.PollInterval,
		runTimeout:             cfg.RunTimeout,
		logger:                 cfg.Logger,
	}
}

// Ask sends text to the main assistant on the thread of conversationKey and
// returns its reply.
func (o *Orchestrator) Ask(ctx context.Context, conversationKey, text string) (string, error) {
	return o.submit(ctx, conversationKey, o.assistantID, text)
}

// Punctuate sends a raw transcript to the punctuation assistant on its
// shared thread and returns the corrected text.
func (o *Orchestrator) Punctuate(ctx context.Context, transcript string) (string, error) {
	return o.submit(ctx, o.punctuationKey, o.punctuationAssistantID, transcript)
}

func (o *Orchestrator) submit(ctx context.Context, key, assistantID, text string) (string, error) {
	threadID, err := o.threads.GetOrCreate(ctx, key)
	if err != nil {
		return "", err
	}

	unlock, err := o.locks.Lock(ctx, threadID)
	if err != nil {
		return "", fmt.Errorf("wait for thread %s: %w", threadID, err)
	}
	defer unlock()

	if err := o.backend.AppendMessage(ctx, threadID, text); err != nil {
		return "", err
	}
	if err := o.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("rate limit: %w", err)
	}

	start := time.Now()
	run, err := o.backend.CreateRun(ctx, threadID, assistantID)
	if err != nil {
		return "", err
	}
	o.logger.Debug("run created", "thread", threadID, "run", run.ID, "assistant", assistantID)

	run, err = o.await(ctx, threadID, run)
	if err != nil {
		return "", err
	}
	metrics.RunLatency.ObserveSince(start)
	metrics.RunOutcomes(string(run.Status)).Inc()

	if run.Status != domain.RunCompleted {
		rf := &domain.RunFailedError{RunID: run.ID, Status: run.Status}
		if run.LastError != nil {
			rf.Code, rf.Message = run.LastError.Code, run.LastError.Message
		}
		o.logger.Warn("run did not complete", "thread", threadID, "run", run.ID, "status", run.Status)
		return "", rf
	}

	reply, err := o.backend.LatestAssistantMessage(ctx, threadID)
	if err != nil {
		return "", err
	}
	o.logger.Info("run completed", "thread", threadID, "run", run.ID,
		"latency_ms", time.Since(start).Milliseconds(), "reply_len", len(reply))
	return reply, nil
}

// await polls run until it reaches a terminal status. When the run deadline
// passes or ctx ends first, the run is cancelled best-effort.
func (o *Orchestrator) await(ctx context.Context, threadID string, run *domain.Run) (*domain.Run, error) {
	runCtx, cancel := context.WithTimeout(ctx, o.runTimeout)
	defer cancel()

	ticker := time.NewTicker(o.pollInterval)
	defer ticker.Stop()

	for !run.Status.Terminal() {
		select {
		case <-runCtx.Done():
			return nil, o.abandon(ctx, threadID, run.ID, runCtx.Err())
		case <-ticker.C:
		}

		next, err := o.backend.GetRun(runCtx, threadID, run.ID)
		if err != nil {
			if runCtx.Err() != nil {
				return nil, o.abandon(ctx, threadID, run.ID, runCtx.Err())
			}
			return nil, fmt.Errorf("poll run %s: %w", run.ID, err)
		}
		run = next
	}
	return run, nil
}

func (o *Orchestrator) abandon(ctx context.Context, threadID, runID string, cause error) error {
	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cancelTimeout)
	defer cancel()
	if err := o.backend.CancelRun(cctx, threadID, runID); err != nil {
		o.logger.Warn("cancel run failed", "thread", threadID, "run", runID, "err", err)
	}
	metrics.RunOutcomes("abandoned").Inc()

	if errors.Is(cause, context.DeadlineExceeded) && ctx.Err() == nil {
		return fmt.Errorf("run %s exceeded %s: %w", runID, o.runTimeout, cause)
	}
	return fmt.Errorf("run %s abandoned: %w", runID, cause)
}
