package channel

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"relaybot/internal/domain"
	"relaybot/internal/metrics"
)

// EventHandler handles one decoded webhook event.
type EventHandler interface {
	Handle(ctx context.Context, ev domain.InboundEvent) domain.Response
}

// ServerConfig configures the webhook HTTP server.
type ServerConfig struct {
	Host         string
	Port         int
	WebhookPath  string // default: /webhook/whatsapp
	Secret       string // HMAC secret for X-Signature-256; empty disables the check
	MaxBodyBytes int64
	ReadTimeout  time.Duration
	MetricsPath  string // empty disables the metrics endpoint
	Handler      EventHandler
	Logger       *slog.Logger
}

// Server accepts bridge webhook deliveries and hands them to the pipeline.
type Server struct {
	host        string
	port        int
	path        string
	secret      string
	maxBody     int64
	readTimeout time.Duration
	metricsPath string
	handler     EventHandler
	logger      *slog.Logger
	server      *http.Server
	baseCtx     context.Context
}

func NewServer(cfg ServerConfig) *Server {
	if cfg.WebhookPath == "" {
		cfg.WebhookPath = "/webhook/whatsapp"
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 1 << 20
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = 30 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Server{
		host:        cfg.Host,
		port:        cfg.Port,
		path:        cfg.WebhookPath,
		secret:      cfg.Secret,
		maxBody:     cfg.MaxBodyBytes,
		readTimeout: cfg.ReadTimeout,
		metricsPath: cfg.MetricsPath,
		handler:     cfg.Handler,
		logger:      cfg.Logger,
		baseCtx:     context.Background(),
	}
}

// Routes returns the server's HTTP handler.
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST "+s.path, s.handleWebhook)
	mux.HandleFunc("GET /healthz", func(rw http.ResponseWriter, r *http.Request) {
		rw.Header().Set("Content-Type", "application/json")
		rw.Write([]byte(`{"status":"ok"}`))
	})
	if s.metricsPath != "" {
		mux.Handle("GET "+s.metricsPath, metrics.Collector.Handler())
	}
	return mux
}

// Start serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	s.baseCtx = ctx
	s.server = &http.Server{
		Addr:              net.JoinHostPort(s.host, strconv.Itoa(s.port)),
		Handler:           s.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       s.readTimeout,
		IdleTimeout:       60 * time.Second,
	}

	s.logger.Info("webhook server starting", "addr", s.server.Addr, "path", s.path)

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("webhook server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.server.Shutdown(shutdownCtx)
	case err := <-errCh:
		return fmt.Errorf("webhook server: %w", err)
	}
}

func (s *Server) handleWebhook(rw http.ResponseWriter, r *http.Request) {
	metrics.WebhookRequests.Inc()
	defer r.Body.Close()

	body, err := io.ReadAll(http.MaxBytesReader(rw, r.Body, s.maxBody))
	if err != nil {
		metrics.WebhookRejected.Inc()
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			http.Error(rw, "Payload Too Large", http.StatusRequestEntityTooLarge)
			return
		}
		http.Error(rw, "Bad Request", http.StatusBadRequest)
		return
	}

	if s.secret != "" {
		sig := r.Header.Get("X-Signature-256")
		if sig == "" {
			metrics.WebhookRejected.Inc()
			http.Error(rw, "Missing signature", http.StatusUnauthorized)
			return
		}
		if !verifyHMAC(body, s.secret, sig) {
			metrics.WebhookRejected.Inc()
			s.logger.Warn("webhook invalid signature", "remote", r.RemoteAddr)
			http.Error(rw, "Invalid signature", http.StatusForbidden)
			return
		}
	}

	ev, err := DecodeEvent(body)
	if err != nil {
		metrics.WebhookRejected.Inc()
		s.logger.Warn("webhook bad payload", "err", err)
		http.Error(rw, "Invalid JSON", http.StatusBadRequest)
		return
	}

	s.logger.Info("webhook received",
		"push_name", ev.PushName,
		"chat", ev.Chat.String(),
		"is_group", ev.IsGroup,
		"kind", ev.Payload.Kind,
	)

	metrics.InflightEvents.Inc()
	// The bridge may hang up before the assistant replies; handling is tied
	// to the server lifetime, not the request.
	resp := s.handler.Handle(s.baseCtx, ev)
	metrics.InflightEvents.Dec()

	status := resp.StatusCode
	if status == 0 {
		status = http.StatusOK
	}
	rw.Header().Set("Content-Type", "application/json")
	rw.WriteHeader(status)
	io.WriteString(rw, resp.Body)
}

// verifyHMAC verifies the HMAC-SHA256 signature of the body.
func verifyHMAC(body []byte, secret, signature string) bool {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	expected := "sha256=" + hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signature))
}
