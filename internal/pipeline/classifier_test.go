package pipeline

import (
	"log/slog"
	"os"
	"testing"

	"github.com/google/go-cmp/cmp"
	"go.mau.fi/whatsmeow/types"

	"relaybot/internal/domain"
)

const (
	selfNumber = "16467338252"
	trigger    = "@50662536248"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func newTestClassifier() *Classifier {
	return NewClassifier(ClassifierConfig{SelfNumber: selfNumber, TriggerToken: trigger, Logger: testLogger()})
}

var (
	selfJID  = types.JID{User: selfNumber, Device: 17, Server: types.DefaultUserServer}
	otherJID = types.NewJID("50688887777", types.DefaultUserServer)
	groupJID = types.NewJID("120363318028761250", types.GroupServer)
)

func groupText(sender types.JID, kind domain.PayloadKind, body string) domain.InboundEvent {
	return domain.InboundEvent{
		Sender: sender, Chat: groupJID, IsGroup: true,
		Payload: domain.Payload{Kind: kind, Body: body},
	}
}

func directAudio() domain.InboundEvent {
	return domain.InboundEvent{
		Sender: otherJID, Chat: otherJID,
		Payload: domain.Payload{Kind: domain.PayloadAudio, Audio: &domain.AudioPayload{
			URL: "https://mmg.whatsapp.net/a.enc", MediaKey: "a2V5", MimeType: "audio/ogg",
		}},
	}
}

func TestClassifier_Rules(t *testing.T) {
	groupAudio := directAudio()
	groupAudio.Chat, groupAudio.IsGroup = groupJID, true

	noKey := directAudio()
	noKey.Payload.Audio.MediaKey = ""

	cases := []struct {
		name string
		ev   domain.InboundEvent
		want domain.Classification
	}{
		{"direct audio", directAudio(), domain.Classification{Decision: domain.TranscribeAudio}},
		{"group audio", groupAudio, domain.Classification{Decision: domain.Ignore}},
		{"audio missing key", noKey, domain.Classification{Decision: domain.Ignore}},
		{
			"addressed extended text",
			groupText(selfJID, domain.PayloadExtendedText, trigger+" what's the weather in @Tamarindo? "),
			domain.Classification{Decision: domain.RespondToAddressedText, Text: "what's the weather in Tamarindo?"},
		},
		{
			"addressed conversation",
			groupText(selfJID, domain.PayloadText, "hey "+trigger+" hola"),
			domain.Classification{Decision: domain.RespondToAddressedText, Text: "hey  hola"},
		},
		{"not from self", groupText(otherJID, domain.PayloadText, trigger+" hola"), domain.Classification{Decision: domain.Ignore}},
		{"no trigger", groupText(selfJID, domain.PayloadText, "hola"), domain.Classification{Decision: domain.Ignore}},
		{"trigger only", groupText(selfJID, domain.PayloadText, trigger), domain.Classification{Decision: domain.Ignore}},
		{"reaction", groupText(selfJID, domain.PayloadReaction, trigger), domain.Classification{Decision: domain.Ignore}},
		{
			"direct text from self",
			domain.InboundEvent{Sender: selfJID, Chat: otherJID, Payload: domain.Payload{Kind: domain.PayloadText, Body: trigger + " hi"}},
			domain.Classification{Decision: domain.Ignore},
		},
		{"unrecognized", domain.InboundEvent{Payload: domain.Payload{Kind: domain.PayloadUnrecognized}}, domain.Classification{Decision: domain.Ignore}},
	}

	c := newTestClassifier()
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if diff := cmp.Diff(tc.want, c.Classify(tc.ev)); diff != "" {
				t.Fatalf("Classify mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestClassifier_Deterministic(t *testing.T) {
	c := newTestClassifier()
	events := []domain.InboundEvent{
		directAudio(),
		groupText(selfJID, domain.PayloadExtendedText, trigger+" hola"),
		groupText(otherJID, domain.PayloadText, "hola"),
	}
	for _, ev := range events {
		first := c.Classify(ev)
		for i := 0; i < 10; i++ {
			if diff := cmp.Diff(first, c.Classify(ev)); diff != "" {
				t.Fatalf("classification changed between calls:\n%s", diff)
			}
		}
	}
}

func TestClassifier_EmptyTriggerNeverMatches(t *testing.T) {
	c := NewClassifier(ClassifierConfig{SelfNumber: selfNumber, Logger: testLogger()})
	got := c.Classify(groupText(selfJID, domain.PayloadText, "anything"))
	if got.Decision != domain.Ignore {
		t.Fatalf("expected Ignore without a trigger token, got %s", got.Decision)
	}
}
