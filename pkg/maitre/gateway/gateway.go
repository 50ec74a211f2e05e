// Package gateway is the messaging side of the concierge: normalized
// inbound message events and the client used to send texts, reactions,
// effects and chat housekeeping back through the message relay.
package gateway

import (
	"context"
	"strings"
	"time"
)

// Capability tags what the sender's messaging channel supports. Effects and
// reactions silently degrade on lesser channels.
type Capability string

const (
	// CapabilityFull: rich channel — reactions, effects, renames.
	CapabilityFull Capability = "full"

	// CapabilityReactions: reactions only, no effects.
	CapabilityReactions Capability = "reactions"

	// CapabilityPlain: plain text only (SMS).
	CapabilityPlain Capability = "plain"
)

// Message is a normalized inbound message event from the relay.
type Message struct {
	ID           string
	ChatID       string
	From         string // sender identity (phone number or handle)
	FromName     string
	To           string // the concierge's own number
	Text         string
	MediaURLs    []string
	Effect       string
	ReplyTo      string
	Capability   Capability
	IsGroup      bool
	Participants []string
	ReceivedAt   time.Time
}

// HasMedia reports whether the message carries image/audio attachments.
func (m *Message) HasMedia() bool {
	return len(m.MediaURLs) > 0
}

// Client sends outbound actions through the relay. Every call is idempotent
// on retry from the relay's perspective.
type Client interface {
	// SendText sends text to a chat. Multi-part replies (split on
	// PartDelimiter) go out as sequential messages with natural pacing.
	SendText(ctx context.Context, chatID, text string) error

	// SendTextWithEffect sends text decorated with a screen/bubble effect.
	SendTextWithEffect(ctx context.Context, chatID, text, effect string) error

	// SendReaction reacts to a message.
	SendReaction(ctx context.Context, chatID, messageID, reaction string) error

	// RenameChat renames a group chat.
	RenameChat(ctx context.Context, chatID, name string) error

	// ShareContact shares the concierge's contact card.
	ShareContact(ctx context.Context, chatID string) error

	// MarkRead marks the conversation read.
	MarkRead(ctx context.Context, chatID string) error

	// StartTyping shows a typing indicator.
	StartTyping(ctx context.Context, chatID string) error
}

// PartDelimiter splits one logical reply into sequential messages.
const PartDelimiter = "|||"

// SplitParts breaks a reply on the delimiter, trimming whitespace and
// dropping empty parts.
func SplitParts(text string) []string {
	raw := strings.Split(text, PartDelimiter)
	parts := make([]string, 0, len(raw))
	for _, p := range raw {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			parts = append(parts, trimmed)
		}
	}
	return parts
}
