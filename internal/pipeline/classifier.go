// Package pipeline classifies inbound chat events and drives the reply
// chain for the ones that need an answer.
package pipeline

import (
	"fmt"
	"log/slog"
	"strings"

	"relaybot/internal/domain"
)

// ClassifierConfig configures addressing rules.
type ClassifierConfig struct {
	SelfNumber   string // JID user part of the account allowed to address the assistant
	TriggerToken string // substring that addresses the assistant in a group, e.g. "@50662536248"
	Logger       *slog.Logger
}

// Classifier decides how an inbound event is handled. It has no side
// effects besides logging.
type Classifier struct {
	self    string
	trigger string
	logger  *slog.Logger
}

func NewClassifier(cfg ClassifierConfig) *Classifier {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Classifier{
		self:    strings.TrimPrefix(strings.TrimSpace(cfg.SelfNumber), "+"),
		trigger: cfg.TriggerToken,
		logger:  cfg.Logger,
	}
}

// Classify returns exactly one decision for ev. Events missing a field the
// matching rule needs are logged and ignored.
func (c *Classifier) Classify(ev domain.InboundEvent) domain.Classification {
	cl, err := c.classify(ev)
	if err != nil {
		c.logger.Info("event ignored", "err", err, "kind", ev.Payload.Kind, "chat", ev.Chat.String())
		return domain.Classification{Decision: domain.Ignore}
	}
	return cl
}

func (c *Classifier) classify(ev domain.InboundEvent) (domain.Classification, error) {
	p := ev.Payload

	if p.Kind == domain.PayloadAudio && !ev.IsGroup {
		if p.Audio == nil || p.Audio.URL == "" || p.Audio.MediaKey == "" {
			return domain.Classification{}, fmt.Errorf("audio without url or media key: %w", domain.ErrClassificationGap)
		}
		if ev.Chat.IsEmpty() {
			return domain.Classification{}, fmt.Errorf("audio without chat: %w", domain.ErrClassificationGap)
		}
		return domain.Classification{Decision: domain.TranscribeAudio}, nil
	}

	if p.IsText() && ev.IsGroup && c.isSelf(ev) && c.addressed(p.Body) {
		if ev.Chat.IsEmpty() {
			return domain.Classification{}, fmt.Errorf("addressed text without chat: %w", domain.ErrClassificationGap)
		}
		text := c.strip(p.Body)
		if text == "" {
			return domain.Classification{Decision: domain.Ignore}, nil
		}
		return domain.Classification{Decision: domain.RespondToAddressedText, Text: text}, nil
	}

	return domain.Classification{Decision: domain.Ignore}, nil
}

func (c *Classifier) isSelf(ev domain.InboundEvent) bool {
	return c.self != "" && ev.Sender.User == c.self
}

func (c *Classifier) addressed(body string) bool {
	return c.trigger != "" && strings.Contains(body, c.trigger)
}

// strip removes the trigger token and every "@".
func (c *Classifier) strip(body string) string {
	body = strings.ReplaceAll(body, c.trigger, "")
	body = strings.ReplaceAll(body, "@", "")
	return strings.TrimSpace(body)
}
