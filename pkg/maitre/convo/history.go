// Package convo keeps the conversational context the model sees: a bounded
// rolling message history per chat, and durable per-sender profiles that
// outlive any one conversation.
package convo

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/lucasvidela/maitre/pkg/maitre/store"
)

const (
	// MaxEntries caps stored history per chat; the oldest entry drops first.
	MaxEntries = 50

	// historyTTL expires a conversation after a day of silence.
	historyTTL = 24 * time.Hour

	partHistory = "history"
)

// Role identifies who produced an entry.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Entry is one turn of conversation. Sender distinguishes participants in
// group chats; empty for DMs and for the assistant.
type Entry struct {
	Role    Role      `json:"role"`
	Content string    `json:"content"`
	Sender  string    `json:"sender,omitempty"`
	At      time.Time `json:"at"`
}

// History is the bounded per-chat message log.
type History struct {
	store  store.Store
	logger *slog.Logger
}

// NewHistory creates a history on top of the store.
func NewHistory(s store.Store, logger *slog.Logger) *History {
	return &History{
		store:  s,
		logger: logger.With("component", "convo.history"),
	}
}

// Append adds an entry, dropping the oldest when the cap is exceeded and
// refreshing the idle TTL.
func (h *History) Append(ctx context.Context, chatID string, entry Entry) error {
	if entry.At.IsZero() {
		entry.At = time.Now().UTC()
	}

	return h.store.Update(ctx, historyKey(chatID), func(old []byte, found bool) ([]byte, time.Duration, error) {
		var entries []Entry
		if found {
			if err := json.Unmarshal(old, &entries); err != nil {
				// Unreadable history is not worth failing a message over.
				h.logger.Warn("history record malformed, starting over", "chat_id", chatID)
				entries = nil
			}
		}

		entries = append(entries, entry)
		if len(entries) > MaxEntries {
			entries = entries[len(entries)-MaxEntries:]
		}

		next, err := json.Marshal(entries)
		return next, historyTTL, err
	})
}

// AppendAnnotation records a bracketed note about a tool action that had no
// visible reply, so later turns can resolve "book that one" against actions.
func (h *History) AppendAnnotation(ctx context.Context, chatID, note string) error {
	return h.Append(ctx, chatID, Entry{
		Role:    RoleAssistant,
		Content: "[" + note + "]",
	})
}

// Recent returns the stored entries, oldest first.
func (h *History) Recent(ctx context.Context, chatID string) ([]Entry, error) {
	raw, found, err := h.store.Get(ctx, historyKey(chatID))
	if err != nil {
		return nil, fmt.Errorf("reading history: %w", err)
	}
	if !found {
		return nil, nil
	}

	var entries []Entry
	if err := json.Unmarshal(raw, &entries); err != nil {
		h.logger.Warn("history record malformed, treating as empty", "chat_id", chatID)
		return nil, nil
	}
	return entries, nil
}

// Clear wipes the conversation (the "reset" command).
func (h *History) Clear(ctx context.Context, chatID string) error {
	if err := h.store.Delete(ctx, historyKey(chatID)); err != nil {
		return fmt.Errorf("clearing history: %w", err)
	}
	return nil
}

func historyKey(chatID string) store.Key {
	return store.Key{Partition: partHistory, Sort: chatID}
}
