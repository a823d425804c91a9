package channel

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"

	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/types"
	"google.golang.org/protobuf/encoding/protojson"

	"relaybot/internal/domain"
)

// bridgeEnvelope is the JSON document posted by the WhatsApp bridge. Only
// the fields the pipeline reads are declared; the rest are ignored.
type bridgeEnvelope struct {
	Info struct {
		PushName string `json:"PushName"`
		Sender   string `json:"Sender"`
		Chat     string `json:"Chat"`
		IsGroup  bool   `json:"IsGroup"`
	} `json:"Info"`
	Message json.RawMessage `json:"Message"`
}

var protoOpts = protojson.UnmarshalOptions{DiscardUnknown: true}

// DecodeEvent parses a bridge webhook body into an InboundEvent. Only a
// malformed JSON document is an error; missing or unparsable fields leave
// zero values for the classifier to reject.
func DecodeEvent(body []byte) (domain.InboundEvent, error) {
	var env bridgeEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return domain.InboundEvent{}, fmt.Errorf("decode webhook: %w", err)
	}

	ev := domain.InboundEvent{
		Sender:   parseJID(env.Info.Sender),
		Chat:     parseJID(env.Info.Chat),
		IsGroup:  env.Info.IsGroup,
		PushName: env.Info.PushName,
		Payload:  decodePayload(env.Message),
	}
	if !ev.IsGroup && ev.Chat.Server == types.GroupServer {
		ev.IsGroup = true
	}
	return ev, nil
}

func parseJID(s string) types.JID {
	s = strings.TrimSpace(s)
	if s == "" {
		return types.JID{}
	}
	jid, err := types.ParseJID(s)
	if err != nil {
		return types.JID{}
	}
	return jid
}

func decodePayload(raw json.RawMessage) domain.Payload {
	if len(raw) == 0 || string(raw) == "null" {
		return domain.Payload{Kind: domain.PayloadUnrecognized}
	}
	var msg waE2E.Message
	if err := protoOpts.Unmarshal(raw, &msg); err != nil {
		// Bridges occasionally emit values protojson rejects (e.g. nulls
		// inside nested context info). Fall back to the four shapes we use.
		return decodeLoose(raw)
	}
	return payloadFromProto(&msg)
}

func payloadFromProto(msg *waE2E.Message) domain.Payload {
	switch {
	case msg.ExtendedTextMessage != nil:
		return domain.Payload{Kind: domain.PayloadExtendedText, Body: msg.GetExtendedTextMessage().GetText()}
	case msg.Conversation != nil:
		return domain.Payload{Kind: domain.PayloadText, Body: msg.GetConversation()}
	case msg.ReactionMessage != nil:
		return domain.Payload{Kind: domain.PayloadReaction, Body: msg.GetReactionMessage().GetText()}
	case msg.AudioMessage != nil:
		audio := msg.GetAudioMessage()
		return domain.Payload{Kind: domain.PayloadAudio, Audio: &domain.AudioPayload{
			URL:      audio.GetURL(),
			MediaKey: encodeKey(audio.GetMediaKey()),
			MimeType: audio.GetMimetype(),
		}}
	}
	return domain.Payload{Kind: domain.PayloadUnrecognized}
}

func encodeKey(b []byte) string {
	if len(b) == 0 {
		return ""
	}
	return base64.StdEncoding.EncodeToString(b)
}

type looseMessage struct {
	Conversation        *string `json:"conversation"`
	ExtendedTextMessage *struct {
		Text string `json:"text"`
	} `json:"extendedTextMessage"`
	ReactionMessage *struct {
		Text string `json:"text"`
	} `json:"reactionMessage"`
	AudioMessage *struct {
		URL      string `json:"URL"`
		MediaKey string `json:"mediaKey"`
		Mimetype string `json:"mimetype"`
	} `json:"audioMessage"`
}

func decodeLoose(raw json.RawMessage) domain.Payload {
	var m looseMessage
	if err := json.Unmarshal(raw, &m); err != nil {
		return domain.Payload{Kind: domain.PayloadUnrecognized}
	}
	switch {
	case m.ExtendedTextMessage != nil:
		return domain.Payload{Kind: domain.PayloadExtendedText, Body: m.ExtendedTextMessage.Text}
	case m.Conversation != nil:
		return domain.Payload{Kind: domain.PayloadText, Body: *m.Conversation}
	case m.ReactionMessage != nil:
		return domain.Payload{Kind: domain.PayloadReaction, Body: m.ReactionMessage.Text}
	case m.AudioMessage != nil:
		return domain.Payload{Kind: domain.PayloadAudio, Audio: &domain.AudioPayload{
			URL:      m.AudioMessage.URL,
			MediaKey: m.AudioMessage.MediaKey,
			MimeType: m.AudioMessage.Mimetype,
		}}
	}
	return domain.Payload{Kind: domain.PayloadUnrecognized}
}
