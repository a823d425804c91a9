package memory

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"relaybot/internal/domain"
	"relaybot/internal/metrics"
)

// PrunerConfig configures thread retention.
type PrunerConfig struct {
	Store     domain.ThreadKV
	Retention time.Duration // zero disables pruning
	Schedule  string        // standard cron expression or descriptor, e.g. "@daily"
	Logger    *slog.Logger
}

// Pruner periodically removes thread mappings idle for longer than the
// retention window.
type Pruner struct {
	store     domain.ThreadKV
	retention time.Duration
	schedule  string
	logger    *slog.Logger
	cron      *cron.Cron
	now       func() time.Time
}

func NewPruner(cfg PrunerConfig) *Pruner {
	if cfg.Schedule == "" {
		cfg.Schedule = "@daily"
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Pruner{
		store:     cfg.Store,
		retention: cfg.Retention,
		schedule:  cfg.Schedule,
		logger:    cfg.Logger,
		now:       time.Now,
	}
}

// PruneOnce deletes every entry whose last activity is older than the
// retention window and returns how many were removed.
func (p *Pruner) PruneOnce(ctx context.Context) (int64, error) {
	if p.retention <= 0 {
		return 0, nil
	}
	cutoff := p.now().Add(-p.retention)
	n, err := p.store.DeleteIdleSince(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("prune threads: %w", err)
	}
	if n > 0 {
		metrics.ThreadsPruned.Add(n)
	}
	p.logger.Info("threads pruned", "removed", n, "cutoff", cutoff.Format(time.RFC3339))
	return n, nil
}

// Run schedules pruning and blocks until ctx is cancelled. It returns
// immediately when retention is disabled.
func (p *Pruner) Run(ctx context.Context) error {
	if p.retention <= 0 {
		p.logger.Info("thread retention disabled")
		return nil
	}

	p.cron = cron.New(cron.WithParser(cron.NewParser(
		cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
	)))
	if _, err := p.cron.AddFunc(p.schedule, func() {
		if _, err := p.PruneOnce(ctx); err != nil {
			p.logger.Error("scheduled prune failed", "err", err)
		}
	}); err != nil {
		return fmt.Errorf("invalid prune schedule %q: %w", p.schedule, err)
	}

	p.cron.Start()
	p.logger.Info("thread pruner started", "schedule", p.schedule, "retention", p.retention)

	<-ctx.Done()
	stopped := p.cron.Stop()
	select {
	case <-stopped.Done():
	case <-time.After(10 * time.Second):
		p.logger.Warn("pruner stop timed out")
	}
	p.logger.Info("thread pruner stopped")
	return nil
}
