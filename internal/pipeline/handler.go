package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"relaybot/internal/domain"
	"relaybot/internal/metrics"
)

// Assistant is the conversational backend as the pipeline sees it.
type Assistant interface {
	Ask(ctx context.Context, conversationKey, text string) (string, error)
	Punctuate(ctx context.Context, transcript string) (string, error)
}

// MediaStager hands a decrypted media file to fn and removes it afterwards.
type MediaStager interface {
	Use(ctx context.Context, desc domain.EncryptedMedia, fn func(*domain.DecryptedMedia) error) error
}

// HandlerConfig wires the pipeline collaborators.
type HandlerConfig struct {
	Classifier  *Classifier
	Assistant   Assistant
	Stager      MediaStager
	Transcriber domain.Transcriber
	Dispatcher  domain.Dispatcher
	Logger      *slog.Logger
}

// Handler runs one inbound event through classification and the matching
// branch. It always produces a 200 response; downstream failures are
// logged and counted, never surfaced to the caller.
type Handler struct {
	classifier  *Classifier
	assistant   Assistant
	stager      MediaStager
	transcriber domain.Transcriber
	dispatcher  domain.Dispatcher
	logger      *slog.Logger
}

func NewHandler(cfg HandlerConfig) *Handler {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Handler{
		classifier:  cfg.Classifier,
		assistant:   cfg.Assistant,
		stager:      cfg.Stager,
		transcriber: cfg.Transcriber,
		dispatcher:  cfg.Dispatcher,
		logger:      cfg.Logger,
	}
}

// Handle processes ev and returns the process-boundary response.
func (h *Handler) Handle(ctx context.Context, ev domain.InboundEvent) domain.Response {
	cl := h.classifier.Classify(ev)
	metrics.Decisions(string(cl.Decision)).Inc()

	logger := h.logger.With("chat", ev.Chat.String(), "push_name", ev.PushName)

	switch cl.Decision {
	case domain.RespondToAddressedText:
		h.respond(ctx, logger, ev, cl.Text)
	case domain.TranscribeAudio:
		h.transcribe(ctx, logger, ev)
	}

	return response(ev)
}

func (h *Handler) respond(ctx context.Context, logger *slog.Logger, ev domain.InboundEvent, text string) {
	logger.Info("answering addressed message", "len", len(text))
	reply, err := h.assistant.Ask(ctx, ev.ConversationKey(), text)
	if err != nil {
		h.fail(logger, err)
		return
	}
	h.dispatcher.Send(ctx, reply, ev.Chat.String(), ev.IsGroup)
}

func (h *Handler) transcribe(ctx context.Context, logger *slog.Logger, ev domain.InboundEvent) {
	audio := ev.Payload.Audio
	desc := domain.EncryptedMedia{
		URL:         audio.URL,
		MediaKey:    audio.MediaKey,
		MimeType:    audio.MimeType,
		MessageType: "audioMessage",
	}

	var transcript string
	err := h.stager.Use(ctx, desc, func(m *domain.DecryptedMedia) error {
		logger.Debug("audio staged", "ext", m.Extension, "bytes", m.Size)
		start := time.Now()
		text, err := h.transcriber.Transcribe(ctx, m.Path)
		metrics.TranscriptionLatency.ObserveSince(start)
		if err != nil {
			var te *domain.TranscriptionError
			if !errors.As(err, &te) {
				err = &domain.TranscriptionError{Err: err}
			}
			return err
		}
		transcript = text
		return nil
	})
	if err != nil {
		h.fail(logger, err)
		return
	}
	if transcript == "" {
		logger.Info("empty transcript, nothing to send")
		return
	}

	punctuated, err := h.assistant.Punctuate(ctx, transcript)
	if err != nil {
		h.fail(logger, err)
		return
	}
	h.dispatcher.Send(ctx, punctuated, ev.Chat.String(), ev.IsGroup)
}

func (h *Handler) fail(logger *slog.Logger, err error) {
	stage := failureStage(err)
	metrics.PipelineFailures(stage).Inc()
	logger.Warn("handling aborted", "stage", stage, "err", err)
}

func failureStage(err error) string {
	var (
		fe *domain.FetchError
		de *domain.DecryptionError
		te *domain.TranscriptionError
		re *domain.RunFailedError
	)
	switch {
	case errors.As(err, &fe):
		return "fetch"
	case errors.As(err, &de):
		return "decrypt"
	case errors.As(err, &te):
		return "transcribe"
	case errors.As(err, &re):
		return "run"
	}
	return "assistant"
}

// response reports the text body of the event, or null when the payload is
// not a text message.
func response(ev domain.InboundEvent) domain.Response {
	var text *string
	if ev.Payload.IsText() {
		body := ev.Payload.Body
		text = &body
	}
	body, _ := json.Marshal(struct {
		Text *string `json:"text"`
	}{text})
	return domain.Response{StatusCode: 200, Body: string(body)}
}
