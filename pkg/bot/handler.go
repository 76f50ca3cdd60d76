package bot

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/wakb/wakb/pkg/kb"
)

// MessageStore is the persistence surface the handler needs.
type MessageStore interface {
	EnsureSenderExists(ctx context.Context, senderJID, pushName string) error
	EnsureGroupExists(ctx context.Context, groupJID, name string) error
	UpsertMessage(ctx context.Context, m kb.Message) error
	UpsertReaction(ctx context.Context, chatJID, messageID, senderJID, emoji string) error
	RemoveReaction(ctx context.Context, chatJID, messageID, senderJID string) error
}

// Handler persists every incoming event and forwards bot-directed messages
// to the router.
type Handler struct {
	store  MessageStore
	router *Router
	botJID string
}

// NewHandler creates a webhook event handler.
func NewHandler(store MessageStore, router *Router, botJID string) *Handler {
	return &Handler{store: store, router: router, botJID: botJID}
}

// HandleEvent processes one raw webhook payload. Persistence failures are
// returned; routing failures are logged but never propagated, the gateway
// must not retry a delivered event.
func (h *Handler) HandleEvent(ctx context.Context, raw []byte) error {
	payload, err := ParsePayload(raw)
	if err != nil {
		return fmt.Errorf("parsing webhook payload: %w", err)
	}

	if err := h.store.EnsureSenderExists(ctx, payload.SenderJID, payload.PushName); err != nil {
		return fmt.Errorf("ensuring sender: %w", err)
	}
	if payload.GroupJID != "" {
		if err := h.store.EnsureGroupExists(ctx, payload.GroupJID, ""); err != nil {
			return fmt.Errorf("ensuring group: %w", err)
		}
	}

	if payload.Reaction != nil {
		return h.handleReaction(ctx, payload)
	}

	msg := kb.Message{
		MessageID: payload.Message.ID,
		ChatJID:   payload.ChatJID,
		GroupJID:  payload.GroupJID,
		SenderJID: payload.SenderJID,
		Text:      payload.Message.Text,
		Timestamp: payload.Timestamp,
	}

	if strings.TrimSpace(msg.Text) == "" {
		log.Debug().Str("chat_jid", msg.ChatJID).Msg("message without text, skipping")
		return nil
	}

	if err := h.store.UpsertMessage(ctx, msg); err != nil {
		return fmt.Errorf("storing message: %w", err)
	}

	if msg.SenderJID == h.botJID {
		return nil
	}
	if !h.isDirectedAtBot(msg) {
		return nil
	}

	if err := h.router.Route(ctx, msg); err != nil {
		log.Error().Err(err).Str("chat_jid", msg.ChatJID).Msg("routing failed")
	}
	return nil
}

func (h *Handler) handleReaction(ctx context.Context, payload *Payload) error {
	r := payload.Reaction
	if r.Emoji == "" {
		if err := h.store.RemoveReaction(ctx, payload.ChatJID, r.MessageID, payload.SenderJID); err != nil {
			return fmt.Errorf("removing reaction: %w", err)
		}
		return nil
	}
	if err := h.store.UpsertReaction(ctx, payload.ChatJID, r.MessageID, payload.SenderJID, r.Emoji); err != nil {
		return fmt.Errorf("storing reaction: %w", err)
	}
	return nil
}

// isDirectedAtBot reports whether the message should be routed: any direct
// chat message, or a group message that mentions the bot's user part.
func (h *Handler) isDirectedAtBot(msg kb.Message) bool {
	if msg.GroupJID == "" {
		return true
	}
	user := h.botJID
	if at := strings.IndexByte(user, '@'); at >= 0 {
		user = user[:at]
	}
	return user != "" && strings.Contains(msg.Text, "@"+user)
}
