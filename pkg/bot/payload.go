// Package bot receives gateway webhook events, persists chat history, and
// routes bot-directed messages to the right handler by intent.
package bot

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"

	"github.com/wakb/wakb/pkg/whatsapp"
)

// MessageEvent is an incoming chat message.
type MessageEvent struct {
	ID        string
	Text      string
	RepliedID string
}

// ReactionEvent is an emoji reaction to an earlier message. An empty Emoji
// means the reaction was removed.
type ReactionEvent struct {
	MessageID string
	Emoji     string
}

// Payload is one parsed webhook event from the gateway. Exactly one of
// Message and Reaction is set.
type Payload struct {
	SenderJID string
	GroupJID  string // empty for direct chats
	ChatJID   string
	PushName  string
	Timestamp time.Time
	Message   *MessageEvent
	Reaction  *ReactionEvent
}

// ParsePayload decodes a raw gateway webhook body. The "from" field carries
// either "sender" or "sender in group".
func ParsePayload(raw []byte) (*Payload, error) {
	if !gjson.ValidBytes(raw) {
		return nil, fmt.Errorf("invalid JSON payload")
	}
	body := gjson.ParseBytes(raw)

	from := body.Get("from").Str
	if from == "" {
		return nil, fmt.Errorf("payload has no sender")
	}

	senderRaw, groupRaw := whatsapp.SplitFromField(from)
	sender, err := whatsapp.NormalizeJID(senderRaw)
	if err != nil {
		return nil, fmt.Errorf("sender JID: %w", err)
	}

	p := &Payload{
		SenderJID: sender,
		PushName:  body.Get("pushname").Str,
		Timestamp: parseTimestamp(body.Get("timestamp").Str),
	}

	if groupRaw != "" {
		group, err := whatsapp.NormalizeJID(groupRaw)
		if err != nil {
			return nil, fmt.Errorf("group JID: %w", err)
		}
		p.GroupJID = group
		p.ChatJID = group
	} else if whatsapp.IsGroupJID(sender) {
		// Some gateway events put the group directly in "from".
		p.GroupJID = sender
		p.ChatJID = sender
	} else {
		p.ChatJID = sender
	}

	if reaction := body.Get("reaction"); reaction.Exists() {
		p.Reaction = &ReactionEvent{
			MessageID: reaction.Get("id").Str,
			Emoji:     reaction.Get("message").Str,
		}
		if p.Reaction.MessageID == "" {
			return nil, fmt.Errorf("reaction payload has no message ID")
		}
		return p, nil
	}

	if message := body.Get("message"); message.Exists() {
		p.Message = &MessageEvent{
			ID:        message.Get("id").Str,
			Text:      message.Get("text").Str,
			RepliedID: message.Get("replied_id").Str,
		}
		if p.Message.ID == "" {
			p.Message.ID = uuid.NewString()
		}
		return p, nil
	}

	return nil, fmt.Errorf("payload has neither message nor reaction")
}

func parseTimestamp(raw string) time.Time {
	if raw != "" {
		if ts, err := time.Parse(time.RFC3339, raw); err == nil {
			return ts
		}
	}
	return time.Now()
}
