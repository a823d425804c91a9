package channel

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"relaybot/internal/domain"
	"relaybot/internal/metrics"
)

// RelayConfig configures the outbound messaging relay.
type RelayConfig struct {
	Endpoint       string
	APIKey         string
	APIHost        string
	CitationMarker string
	Client         *http.Client
	Timeout        time.Duration
	Logger         *slog.Logger
}

// Relay sends sanitized replies through the messaging relay HTTP API. It
// implements domain.Dispatcher.
type Relay struct {
	endpoint string
	apiKey   string
	apiHost  string
	marker   string
	client   *http.Client
	timeout  time.Duration
	logger   *slog.Logger
}

var _ domain.Dispatcher = (*Relay)(nil)

func NewRelay(cfg RelayConfig) *Relay {
	if cfg.Client == nil {
		cfg.Client = &http.Client{Timeout: 30 * time.Second}
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Relay{
		endpoint: cfg.Endpoint,
		apiKey:   cfg.APIKey,
		apiHost:  cfg.APIHost,
		marker:   cfg.CitationMarker,
		client:   cfg.Client,
		timeout:  cfg.Timeout,
		logger:   cfg.Logger,
	}
}

type relayPayload struct {
	Destination string `json:"phone_number_or_group_id"`
	IsGroup     bool   `json:"is_group"`
	Message     string `json:"message"`
}

// Send sanitizes text and posts it to destination. It returns false only
// when nothing was left to send; delivery failures are logged and still
// count as an attempt.
func (r *Relay) Send(ctx context.Context, text, destination string, isGroup bool) bool {
	clean := Sanitize(text, r.marker)
	if clean == "" {
		r.logger.Info("reply empty after sanitizing, not sent", "destination", destination)
		metrics.Dispatches("skipped").Inc()
		return false
	}

	if err := r.post(ctx, relayPayload{Destination: destination, IsGroup: isGroup, Message: clean}); err != nil {
		var de *domain.DispatchError
		if errors.As(err, &de) && de.StatusCode != 0 {
			r.logger.Warn("relay rejected reply", "destination", destination, "status", de.StatusCode, "err", err)
		} else {
			r.logger.Warn("relay send failed", "destination", destination, "err", err)
		}
		metrics.Dispatches("failed").Inc()
		return true
	}

	r.logger.Info("reply sent", "destination", destination, "is_group", isGroup, "len", len(clean))
	metrics.Dispatches("sent").Inc()
	return true
}

func (r *Relay) post(ctx context.Context, p relayPayload) error {
	body, err := json.Marshal(p)
	if err != nil {
		return &domain.DispatchError{Destination: p.Destination, Err: err}
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.endpoint, bytes.NewReader(body))
	if err != nil {
		return &domain.DispatchError{Destination: p.Destination, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-rapidapi-key", r.apiKey)
	if r.apiHost != "" {
		req.Header.Set("x-rapidapi-host", r.apiHost)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return &domain.DispatchError{Destination: p.Destination, Err: err}
	}
	defer resp.Body.Close()
	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &domain.DispatchError{Destination: p.Destination, StatusCode: resp.StatusCode}
	}
	r.logger.Debug("relay response", "status", resp.StatusCode, "body", string(respBody))
	return nil
}
