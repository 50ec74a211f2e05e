// classifier.go decides how to handle a group-chat message the concierge
// was not directly addressed in: reply, react, or stay quiet.
package concierge

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/lucasvidela/maitre/pkg/maitre/convo"
)

// Verdict is the classifier's decision for a group message.
type Verdict string

const (
	VerdictRespond Verdict = "respond"
	VerdictReact   Verdict = "react"
	VerdictIgnore  Verdict = "ignore"
)

// Classification is the verdict plus the reaction to send when the verdict
// is react.
type Classification struct {
	Verdict  Verdict
	Reaction string
}

// Classifier triages group-chat messages. It is deliberately biased: any
// model failure, malformed output or unrecognized verdict resolves to
// respond, because a missed request costs more than an extra reply.
type Classifier struct {
	llm    Completer
	name   string
	logger *slog.Logger
}

// NewClassifier creates a group-message classifier.
func NewClassifier(llm Completer, name string, logger *slog.Logger) *Classifier {
	if name == "" {
		name = "Maitre"
	}
	return &Classifier{
		llm:    llm,
		name:   name,
		logger: logger.With("component", "classifier"),
	}
}

// Classify decides what to do with a group message.
func (c *Classifier) Classify(ctx context.Context, history []convo.Entry, sender, text string) Classification {
	respond := Classification{Verdict: VerdictRespond}

	messages := []ChatMessage{
		{Role: "system", Content: c.prompt()},
		{Role: "user", Content: c.transcript(history, sender, text)},
	}

	resp, err := c.llm.CompleteWithTools(ctx, messages, nil)
	if err != nil {
		c.logger.Warn("classification failed, responding", "error", err)
		return respond
	}

	var out struct {
		Action   string `json:"action"`
		Reaction string `json:"reaction"`
	}
	raw := strings.TrimSpace(resp.Content)
	raw = strings.TrimPrefix(raw, "```json")
	raw = strings.TrimPrefix(raw, "```")
	raw = strings.TrimSuffix(raw, "```")
	if err := json.Unmarshal([]byte(strings.TrimSpace(raw)), &out); err != nil {
		c.logger.Warn("classification output malformed, responding", "output", truncate(resp.Content, 200))
		return respond
	}

	switch Verdict(out.Action) {
	case VerdictIgnore:
		return Classification{Verdict: VerdictIgnore}
	case VerdictReact:
		if out.Reaction == "" {
			return respond
		}
		return Classification{Verdict: VerdictReact, Reaction: out.Reaction}
	case VerdictRespond:
		return respond
	default:
		c.logger.Warn("unknown classification verdict, responding", "verdict", out.Action)
		return respond
	}
}

func (c *Classifier) prompt() string {
	return fmt.Sprintf(`You triage messages in a group chat that includes %s, a restaurant concierge.
Decide whether the latest message needs a reply from %s.

Answer with JSON only: {"action": "respond" | "react" | "ignore", "reaction": "<tapback if react>"}

- "respond": the message asks %s something, continues a conversation with it, or involves restaurants, food or plans it could help with. When in doubt, respond.
- "react": the message deserves acknowledgement but no words (e.g. thanks, a photo of the meal).
- "ignore": clearly private chatter between other people with nothing for %s.`,
		c.name, c.name, c.name, c.name)
}

func (c *Classifier) transcript(history []convo.Entry, sender, text string) string {
	var b strings.Builder
	b.WriteString("Recent conversation:\n")

	// Only the tail matters for triage.
	start := 0
	if len(history) > 10 {
		start = len(history) - 10
	}
	for _, entry := range history[start:] {
		who := entry.Sender
		if entry.Role == convo.RoleAssistant {
			who = c.name
		}
		if who == "" {
			who = "user"
		}
		fmt.Fprintf(&b, "%s: %s\n", who, entry.Content)
	}

	fmt.Fprintf(&b, "\nLatest message from %s: %s", sender, text)
	return b.String()
}
