package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"relaybot/internal/agent"
	"relaybot/internal/channel"
	"relaybot/internal/config"
	"relaybot/internal/domain"
	"relaybot/internal/media"
	"relaybot/internal/memory"
	"relaybot/internal/pipeline"
	"relaybot/internal/provider"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the webhook server and the thread pruner",
		Long:  "Accepts bridge webhooks, runs the message pipeline and prunes idle threads. Press Ctrl+C to stop.",
		RunE:  runServe,
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, closeLog, err := loadConfig()
	if err != nil {
		return err
	}
	defer closeLog()

	if cfg.Assistant.APIKey == "" || cfg.Assistant.AssistantID == "" {
		return fmt.Errorf("assistant.apiKey and assistant.assistantId are required to serve")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := openStore(ctx, cfg.Memory)
	if err != nil {
		return fmt.Errorf("thread store: %w", err)
	}
	defer store.Close()

	if err := os.MkdirAll(cfg.Media.TempDir, 0o700); err != nil {
		return fmt.Errorf("media temp dir: %w", err)
	}

	handler := buildHandler(cfg, store)

	srv := channel.NewServer(channel.ServerConfig{
		Host:         cfg.Server.Host,
		Port:         cfg.Server.Port,
		WebhookPath:  cfg.Server.WebhookPath,
		Secret:       cfg.Server.Secret,
		MaxBodyBytes: cfg.Server.MaxBodyBytes,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeoutSeconds) * time.Second,
		MetricsPath:  metricsPath(cfg.Metrics),
		Handler:      handler,
		Logger:       logger,
	})

	pruner := memory.NewPruner(memory.PrunerConfig{
		Store:     store,
		Retention: retention(cfg.Memory),
		Schedule:  cfg.Memory.PruneSchedule,
		Logger:    logger,
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return srv.Start(gctx) })
	g.Go(func() error { return pruner.Run(gctx) })

	logger.Info("relaybot started", "version", version, "backend", cfg.Memory.Backend)
	err = g.Wait()
	logger.Info("relaybot stopped")
	return err
}

// buildHandler wires the pipeline: classifier, assistant orchestrator,
// media stager, transcriber and relay dispatcher.
func buildHandler(cfg *config.Config, store domain.ThreadKV) *pipeline.Handler {
	backend := provider.NewAssistants(provider.AssistantsConfig{
		APIBase: cfg.Assistant.APIBase,
		APIKey:  cfg.Assistant.APIKey,
		Logger:  logger,
	})

	orch := agent.NewOrchestrator(agent.OrchestratorConfig{
		Backend:                backend,
		Threads:                agent.NewThreadStore(store, backend, logger),
		Limiter:                agent.NewRateLimiter(cfg.Assistant.RateLimitBurst, float64(cfg.Assistant.RateLimitPerMinute)),
		AssistantID:            cfg.Assistant.AssistantID,
		PunctuationAssistantID: cfg.Assistant.PunctuationAssistantID,
		PunctuationKey:         cfg.Assistant.PunctuationKey,
		PollInterval:           time.Duration(cfg.Assistant.PollIntervalMs) * time.Millisecond,
		RunTimeout:             time.Duration(cfg.Assistant.RunTimeoutSeconds) * time.Second,
		Logger:                 logger,
	})

	stager := media.NewStager(media.StagerConfig{
		Fetcher: media.NewFetcher(media.FetcherConfig{
			Client:   outboundClient(cfg.Media.FetchTimeoutSeconds),
			TempDir:  cfg.Media.TempDir,
			MaxBytes: cfg.Media.MaxBytes,
			Timeout:  time.Duration(cfg.Media.FetchTimeoutSeconds) * time.Second,
			Logger:   logger,
		}),
		TempDir:   cfg.Media.TempDir,
		VerifyMAC: cfg.Media.VerifyMAC,
		Logger:    logger,
	})

	transcriptionKey := cfg.Transcription.APIKey
	if transcriptionKey == "" {
		transcriptionKey = cfg.Assistant.APIKey
	}
	whisper := provider.NewWhisperProvider(provider.WhisperConfig{
		APIBase:  cfg.Transcription.APIBase,
		APIKey:   transcriptionKey,
		Model:    cfg.Transcription.Model,
		Language: cfg.Transcription.Language,
		Task:     cfg.Transcription.Task,
		Timeout:  time.Duration(cfg.Transcription.TimeoutSeconds) * time.Second,
		Logger:   logger,
	})

	relay := channel.NewRelay(channel.RelayConfig{
		Endpoint:       cfg.Relay.Endpoint,
		APIKey:         cfg.Relay.APIKey,
		APIHost:        cfg.Relay.APIHost,
		CitationMarker: cfg.Relay.CitationMarker,
		Client:         outboundClient(cfg.Relay.TimeoutSeconds),
		Timeout:        time.Duration(cfg.Relay.TimeoutSeconds) * time.Second,
		Logger:         logger,
	})

	return pipeline.NewHandler(pipeline.HandlerConfig{
		Classifier: pipeline.NewClassifier(pipeline.ClassifierConfig{
			SelfNumber:   cfg.WhatsApp.SelfNumber,
			TriggerToken: cfg.WhatsApp.TriggerToken,
			Logger:       logger,
		}),
		Assistant:   orch,
		Stager:      stager,
		Transcriber: whisper,
		Dispatcher:  relay,
		Logger:      logger,
	})
}

// outboundClient returns a pooled client whose timeout matches the
// per-call deadline of the adapter it serves.
func outboundClient(seconds int) *http.Client {
	return provider.SharedHTTPClient(time.Duration(seconds) * time.Second)
}

func metricsPath(m config.MetricsConfig) string {
	if !m.Enabled {
		return ""
	}
	return m.Endpoint
}

func retention(m config.MemoryConfig) time.Duration {
	return time.Duration(m.RetentionDays) * 24 * time.Hour
}
