// Package whatsapp talks to a WhatsApp REST gateway: sending messages,
// resolving the bot's own identity, and consuming the gateway's websocket
// event stream. JID handling is delegated to whatsmeow's types.
package whatsapp

import (
	"fmt"
	"strings"

	"go.mau.fi/whatsmeow/types"
)

// ParseJID parses a JID string, accepting bare user IDs without a server part.
func ParseJID(raw string) (types.JID, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return types.EmptyJID, fmt.Errorf("empty JID")
	}
	if !strings.ContainsRune(raw, '@') {
		return types.NewJID(raw, types.DefaultUserServer), nil
	}
	jid, err := types.ParseJID(raw)
	if err != nil {
		return types.EmptyJID, fmt.Errorf("parsing JID %q: %w", raw, err)
	}
	return jid, nil
}

// NormalizeJID returns the canonical string form of a JID with device and
// agent suffixes stripped, so the same sender always maps to one key.
func NormalizeJID(raw string) (string, error) {
	jid, err := ParseJID(raw)
	if err != nil {
		return "", err
	}
	return jid.ToNonAD().String(), nil
}

// IsGroup reports whether a parsed JID belongs to a group chat.
func IsGroup(jid types.JID) bool {
	return jid.Server == types.GroupServer
}

// IsGroupJID reports whether the JID string belongs to a group chat.
func IsGroupJID(raw string) bool {
	jid, err := ParseJID(raw)
	if err != nil {
		return false
	}
	return IsGroup(jid)
}

// SplitFromField splits a webhook "from" value of the form
// "sender in group" into its sender and group parts. A plain sender value
// yields an empty group.
func SplitFromField(from string) (sender, group string) {
	if before, after, found := strings.Cut(from, " in "); found {
		return strings.TrimSpace(before), strings.TrimSpace(after)
	}
	return strings.TrimSpace(from), ""
}
