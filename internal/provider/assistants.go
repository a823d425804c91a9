package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"relaybot/internal/domain"
)

// AssistantsConfig configures the OpenAI Assistants v2 client.
type AssistantsConfig struct {
	APIBase string
	APIKey  string
	Timeout time.Duration
	Logger  *slog.Logger
}

// Assistants implements domain.AssistantBackend over the OpenAI Assistants
// v2 REST API (threads, messages, runs).
type Assistants struct {
	apiBase string
	apiKey  string
	client  *http.Client
	logger  *slog.Logger
}

var _ domain.AssistantBackend = (*Assistants)(nil)

func NewAssistants(cfg AssistantsConfig) *Assistants {
	if cfg.APIBase == "" {
		cfg.APIBase = "https://api.openai.com/v1"
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Assistants{
		apiBase: strings.TrimRight(cfg.APIBase, "/"),
		apiKey:  cfg.APIKey,
		client:  SharedHTTPClient(cfg.Timeout),
		logger:  cfg.Logger,
	}
}

// APIError is a non-2xx response from the assistant backend.
type APIError struct {
	StatusCode int
	Type       string
	Code       string
	Message    string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("assistants API: HTTP %d", e.StatusCode)
	}
	return fmt.Sprintf("assistants API: HTTP %d: %s", e.StatusCode, e.Message)
}

type asstRun struct {
	ID        string           `json:"id"`
	ThreadID  string           `json:"thread_id"`
	Status    string           `json:"status"`
	LastError *domain.RunError `json:"last_error"`
}

func (r *asstRun) toDomain() *domain.Run {
	return &domain.Run{
		ID:        r.ID,
		ThreadID:  r.ThreadID,
		Status:    domain.RunStatus(r.Status),
		LastError: r.LastError,
	}
}

type asstMessageList struct {
	Data []asstMessage `json:"data"`
}

type asstMessage struct {
	ID      string        `json:"id"`
	Role    string        `json:"role"`
	Content []asstContent `json:"content"`
}

type asstContent struct {
	Type string `json:"type"`
	Text *struct {
		Value string `json:"value"`
	} `json:"text,omitempty"`
}

func (a *Assistants) CreateThread(ctx context.Context) (string, error) {
	var out struct {
		ID string `json:"id"`
	}
	if err := a.call(ctx, http.MethodPost, "/threads", struct{}{}, &out, true); err != nil {
		return "", fmt.Errorf("create thread: %w", err)
	}
	if out.ID == "" {
		return "", fmt.Errorf("create thread: empty id in response")
	}
	return out.ID, nil
}

func (a *Assistants) AppendMessage(ctx context.Context, threadID, text string) error {
	body := map[string]string{"role": "user", "content": text}
	if err := a.call(ctx, http.MethodPost, "/threads/"+url.PathEscape(threadID)+"/messages", body, nil, false); err != nil {
		return fmt.Errorf("append message: %w", err)
	}
	return nil
}

func (a *Assistants) CreateRun(ctx context.Context, threadID, assistantID string) (*domain.Run, error) {
	var out asstRun
	body := map[string]string{"assistant_id": assistantID}
	if err := a.call(ctx, http.MethodPost, "/threads/"+url.PathEscape(threadID)+"/runs", body, &out, false); err != nil {
		return nil, fmt.Errorf("create run: %w", err)
	}
	return out.toDomain(), nil
}

func (a *Assistants) GetRun(ctx context.Context, threadID, runID string) (*domain.Run, error) {
	var out asstRun
	path := "/threads/" + url.PathEscape(threadID) + "/runs/" + url.PathEscape(runID)
	if err := a.call(ctx, http.MethodGet, path, nil, &out, false); err != nil {
		return nil, fmt.Errorf("get run: %w", err)
	}
	return out.toDomain(), nil
}

func (a *Assistants) CancelRun(ctx context.Context, threadID, runID string) error {
	path := "/threads/" + url.PathEscape(threadID) + "/runs/" + url.PathEscape(runID) + "/cancel"
	if err := a.call(ctx, http.MethodPost, path, struct{}{}, nil, false); err != nil {
		return fmt.Errorf("cancel run: %w", err)
	}
	return nil
}

func (a *Assistants) LatestAssistantMessage(ctx context.Context, threadID string) (string, error) {
	var out asstMessageList
	path := "/threads/" + url.PathEscape(threadID) + "/messages?order=desc&limit=20"
	if err := a.call(ctx, http.MethodGet, path, nil, &out, true); err != nil {
		return "", fmt.Errorf("list messages: %w", err)
	}
	for _, m := range out.Data {
		if m.Role != "assistant" {
			continue
		}
		var sb strings.Builder
		for _, c := range m.Content {
			if c.Type == "text" && c.Text != nil {
				sb.WriteString(c.Text.Value)
			}
		}
		return sb.String(), nil
	}
	return "", fmt.Errorf("no assistant message in thread %s", threadID)
}

// call sends one JSON request. When retry is set, transient failures are
// retried with backoff; otherwise the first response is final.
func (a *Assistants) call(ctx context.Context, method, path string, in, out any, retry bool) error {
	var payload []byte
	if in != nil {
		var err error
		if payload, err = json.Marshal(in); err != nil {
			return fmt.Errorf("marshal: %w", err)
		}
	}

	buildReq := func() (*http.Request, error) {
		var body io.Reader
		if payload != nil {
			body = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, a.apiBase+path, body)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Authorization", "Bearer "+a.apiKey)
		req.Header.Set("OpenAI-Beta", "assistants=v2")
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		return req, nil
	}

	var resp *http.Response
	var err error
	if retry {
		resp, err = doWithRetry(ctx, a.client, buildReq, a.logger)
	} else {
		var req *http.Request
		if req, err = buildReq(); err != nil {
			return fmt.Errorf("build request: %w", err)
		}
		resp, err = a.client.Do(req)
	}
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return decodeAPIError(resp)
	}
	if out == nil {
		io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode: %w", err)
	}
	return nil
}

func decodeAPIError(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 8192))
	apiErr := &APIError{StatusCode: resp.StatusCode}
	var envelope struct {
		Error struct {
			Message string `json:"message"`
			Type    string `json:"type"`
			Code    any    `json:"code"`
		} `json:"error"`
	}
	if json.Unmarshal(raw, &envelope) == nil && envelope.Error.Message != "" {
		apiErr.Message = envelope.Error.Message
		apiErr.Type = envelope.Error.Type
		if envelope.Error.Code != nil {
			apiErr.Code = fmt.Sprint(envelope.Error.Code)
		}
	} else {
		apiErr.Message = strings.TrimSpace(string(raw))
	}
	return apiErr
}
