package domain

import "go.mau.fi/whatsmeow/types"

// PayloadKind identifies which variant an inbound message payload carries.
type PayloadKind string

const (
	PayloadText         PayloadKind = "text"
	PayloadExtendedText PayloadKind = "extended_text"
	PayloadReaction     PayloadKind = "reaction"
	PayloadAudio        PayloadKind = "audio"
	PayloadUnrecognized PayloadKind = "unrecognized"
)

// Payload is the variant part of an inbound event. Body is set for text,
// extended text and reactions; Audio is set only for PayloadAudio.
type Payload struct {
	Kind  PayloadKind
	Body  string
	Audio *AudioPayload
}

// AudioPayload carries the encrypted media reference of a voice note.
type AudioPayload struct {
	URL      string
	MediaKey string // base64
	MimeType string
}

// IsText reports whether the payload is a plain or extended text message.
func (p Payload) IsText() bool {
	return p.Kind == PayloadText || p.Kind == PayloadExtendedText
}

// InboundEvent is one webhook delivery, decoded. It is built once per request
// and never mutated.
type InboundEvent struct {
	Sender   types.JID
	Chat     types.JID
	IsGroup  bool
	PushName string
	Payload  Payload
}

// ConversationKey returns the stable per-sender key used for thread lookup.
// The device suffix of the sender JID is dropped so every linked device of
// the same account shares one thread.
func (e InboundEvent) ConversationKey() string {
	return e.Sender.ToNonAD().String()
}

// Decision is the classifier's verdict for an inbound event.
type Decision string

const (
	RespondToAddressedText Decision = "respond"
	TranscribeAudio        Decision = "transcribe"
	Ignore                 Decision = "ignore"
)

// Classification is a decision plus the text to forward, if any.
type Classification struct {
	Decision Decision
	Text     string // stripped request text for RespondToAddressedText
}

// Response is the process-boundary result of handling one webhook delivery.
type Response struct {
	StatusCode int    `json:"statusCode"`
	Body       string `json:"body"`
}
