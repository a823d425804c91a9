package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"relaybot/internal/domain"
)

// WhisperConfig configures the Whisper speech-to-text provider.
type WhisperConfig struct {
	APIBase  string // e.g. "https://api.openai.com/v1"
	APIKey   string
	Model    string // e.g. "whisper-1"
	Language string // optional ISO-639-1 hint
	Task     string // "transcribe" or "translate"
	Timeout  time.Duration
	Logger   *slog.Logger
}

// WhisperProvider transcribes audio files through an OpenAI-compatible
// Whisper endpoint. It implements domain.Transcriber.
type WhisperProvider struct {
	apiBase  string
	apiKey   string
	model    string
	language string
	task     string
	client   *http.Client
	logger   *slog.Logger
}

var _ domain.Transcriber = (*WhisperProvider)(nil)

func NewWhisperProvider(cfg WhisperConfig) *WhisperProvider {
	if cfg.APIBase == "" {
		cfg.APIBase = "https://api.openai.com/v1"
	}
	if cfg.Model == "" {
		cfg.Model = "whisper-1"
	}
	if cfg.Task == "" {
		cfg.Task = "transcribe"
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &WhisperProvider{
		apiBase:  cfg.APIBase,
		apiKey:   cfg.APIKey,
		model:    cfg.Model,
		language: cfg.Language,
		task:     cfg.Task,
		client:   SharedHTTPClient(cfg.Timeout),
		logger:   cfg.Logger,
	}
}

// TranscriptionResult contains the result of a transcription.
type TranscriptionResult struct {
	Text     string  `json:"text"`
	Language string  `json:"language,omitempty"`
	Duration float64 `json:"duration,omitempty"`
}

func (w *WhisperProvider) endpoint() string {
	if w.task == "translate" {
		return w.apiBase + "/audio/translations"
	}
	return w.apiBase + "/audio/transcriptions"
}

// Transcribe uploads the audio file at path and returns the recognized text.
func (w *WhisperProvider) Transcribe(ctx context.Context, path string) (string, error) {
	audio, err := os.ReadFile(path)
	if err != nil {
		return "", &domain.TranscriptionError{Err: err}
	}

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	part, err := writer.CreateFormFile("file", filepath.Base(path))
	if err != nil {
		return "", &domain.TranscriptionError{Err: fmt.Errorf("create form file: %w", err)}
	}
	part.Write(audio)
	writer.WriteField("model", w.model)
	writer.WriteField("response_format", "json")
	if w.language != "" && w.task != "translate" {
		writer.WriteField("language", w.language)
	}
	writer.Close()
	payload := body.Bytes()

	resp, err := doWithRetry(ctx, w.client, func() (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.endpoint(), bytes.NewReader(payload))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", writer.FormDataContentType())
		req.Header.Set("Authorization", "Bearer "+w.apiKey)
		return req, nil
	}, w.logger)
	if err != nil {
		return "", &domain.TranscriptionError{Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", &domain.TranscriptionError{Err: fmt.Errorf("whisper API error (status %d): %s", resp.StatusCode, respBody)}
	}

	var result TranscriptionResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", &domain.TranscriptionError{Err: fmt.Errorf("decode whisper response: %w", err)}
	}

	w.logger.Info("transcription complete",
		"task", w.task,
		"text_len", len(result.Text),
		"language", result.Language,
		"duration", result.Duration,
	)
	return result.Text, nil
}
