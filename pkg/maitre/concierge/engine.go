// engine.go runs the model/tool loop for one inbound message: prompt
// assembly, bounded tool round trips, and the celebratory effect on a
// successful booking.
package concierge

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/lucasvidela/maitre/pkg/maitre/convo"
	"github.com/lucasvidela/maitre/pkg/maitre/gateway"
)

// DefaultMaxToolRounds bounds data-tool round trips per reply.
const DefaultMaxToolRounds = 5

// celebrationEffect decorates the reply after a successful booking.
const celebrationEffect = "confetti"

// Request is everything the engine needs to produce one reply.
type Request struct {
	ChatID       string
	MessageID    string
	Text         string
	Sender       string
	SenderName   string
	Capability   gateway.Capability
	IsGroup      bool
	Participants []string

	// Credential is the platform bearer token, empty when unauthenticated.
	Credential string

	// JustOnboarded asks for a first-contact welcome framing. It is set at
	// most once per onboarding.
	JustOnboarded bool

	ProfileName  string
	ProfileFacts []string
}

// Reply is the engine's outcome. Text may be empty when the model chose
// fire-and-forget actions only.
type Reply struct {
	Text   string
	Effect string
}

// Engine drives the model/tool loop.
type Engine struct {
	llm       Completer
	toolbox   *Toolbox
	history   *convo.History
	name      string
	maxRounds int
	logger    *slog.Logger
}

// NewEngine creates the loop driver. maxRounds <= 0 uses the default.
func NewEngine(llm Completer, toolbox *Toolbox, history *convo.History, name string, maxRounds int, logger *slog.Logger) *Engine {
	if maxRounds <= 0 {
		maxRounds = DefaultMaxToolRounds
	}
	if name == "" {
		name = "Maitre"
	}
	return &Engine{
		llm:       llm,
		toolbox:   toolbox,
		history:   history,
		name:      name,
		maxRounds: maxRounds,
		logger:    logger.With("component", "engine"),
	}
}

// Respond runs the loop for one message and returns the reply. Model
// failures propagate; tool failures are folded into the conversation as
// text results and never abort the turn.
func (e *Engine) Respond(ctx context.Context, req *Request) (*Reply, error) {
	past, err := e.history.Recent(ctx, req.ChatID)
	if err != nil {
		return nil, err
	}

	// The user's turn is recorded before anything the turn causes, so tool
	// annotations land after the message that triggered them and a failed
	// model call still leaves the message on record.
	if err := e.history.Append(ctx, req.ChatID, convo.Entry{
		Role:    convo.RoleUser,
		Content: req.Text,
		Sender:  req.Sender,
	}); err != nil {
		e.logger.Warn("recording user turn failed", "chat_id", req.ChatID, "error", err)
	}

	messages := e.buildMessages(req, past)
	turn := &TurnContext{
		ChatID:     req.ChatID,
		MessageID:  req.MessageID,
		Sender:     req.Sender,
		Credential: req.Credential,
		Capability: req.Capability,
	}
	tools := Definitions(req.Credential != "")

	var booked, effectSent bool
	var final string
	dataRounds := 0

	for {
		resp, err := e.llm.CompleteWithTools(ctx, messages, tools)
		if err != nil {
			return nil, fmt.Errorf("model call failed: %w", err)
		}

		if len(resp.ToolCalls) == 0 {
			final = resp.Content
			break
		}

		results := make([]ChatMessage, 0, len(resp.ToolCalls))
		hasData := false
		for _, call := range resp.ToolCalls {
			if !IsFireAndForget(ToolName(call.Function.Name)) {
				hasData = true
			}
			exec := e.toolbox.Execute(ctx, call, turn)
			booked = booked || exec.Booked
			effectSent = effectSent || exec.EffectSent
			if exec.Annotation != "" {
				if err := e.history.AppendAnnotation(ctx, req.ChatID, exec.Annotation); err != nil {
					e.logger.Warn("recording annotation failed", "chat_id", req.ChatID, "error", err)
				}
			}
			results = append(results, ChatMessage{
				Role:       "tool",
				Content:    exec.Content,
				ToolCallID: call.ID,
			})
		}

		// A turn of only fire-and-forget actions ends the loop: there is
		// nothing for the model to reason over.
		if !hasData {
			final = resp.Content
			break
		}

		dataRounds++
		if dataRounds >= e.maxRounds {
			e.logger.Warn("tool round limit reached", "chat_id", req.ChatID, "rounds", dataRounds)
			final = resp.Content
			break
		}

		messages = append(messages, ChatMessage{
			Role:      "assistant",
			Content:   resp.Content,
			ToolCalls: resp.ToolCalls,
		})
		messages = append(messages, results...)
	}

	reply := &Reply{Text: final}
	if booked && !effectSent && req.Capability == gateway.CapabilityFull {
		reply.Effect = celebrationEffect
	}

	if final != "" {
		if err := e.history.Append(ctx, req.ChatID, convo.Entry{
			Role:    convo.RoleAssistant,
			Content: final,
		}); err != nil {
			e.logger.Warn("recording reply failed", "chat_id", req.ChatID, "error", err)
		}
	}

	return reply, nil
}

func (e *Engine) buildMessages(req *Request, past []convo.Entry) []ChatMessage {
	messages := make([]ChatMessage, 0, len(past)+2)
	messages = append(messages, ChatMessage{
		Role:    "system",
		Content: e.buildSystemPrompt(req),
	})

	for _, entry := range past {
		content := entry.Content
		if entry.Role == convo.RoleUser && entry.Sender != "" && req.IsGroup {
			content = entry.Sender + ": " + content
		}
		messages = append(messages, ChatMessage{
			Role:    string(entry.Role),
			Content: content,
		})
	}

	text := req.Text
	if req.IsGroup && req.Sender != "" {
		text = req.Sender + ": " + text
	}
	messages = append(messages, ChatMessage{Role: "user", Content: text})
	return messages
}

func (e *Engine) buildSystemPrompt(req *Request) string {
	var b strings.Builder

	fmt.Fprintf(&b, "You are %s, a restaurant concierge reached over text message. ", e.name)
	b.WriteString("You help people find restaurants, check availability, book and cancel reservations. ")
	b.WriteString("Keep replies short and conversational, like a text from a friend who happens to be a great maitre d'. ")
	b.WriteString("Split a longer reply into sequential messages with " + gateway.PartDelimiter + " between parts.\n")

	if req.Credential == "" {
		b.WriteString("\nThe user has not connected a reservation account, so booking tools are unavailable. ")
		b.WriteString("You can still chat and answer questions; suggest connecting an account when they want to book.\n")
	}

	switch req.Capability {
	case gateway.CapabilityFull:
		b.WriteString("\nThis channel supports reactions and message effects.\n")
	case gateway.CapabilityReactions:
		b.WriteString("\nThis channel supports reactions but not message effects.\n")
	default:
		b.WriteString("\nThis is a plain-text channel: no reactions, no effects.\n")
	}

	if req.IsGroup {
		b.WriteString("\nThis is a group chat; user messages are prefixed with the sender. ")
		if len(req.Participants) > 0 {
			fmt.Fprintf(&b, "Participants: %s. ", strings.Join(req.Participants, ", "))
		}
		b.WriteString("Address the person who spoke unless the whole group is planning together.\n")
	}

	if req.ProfileName != "" {
		fmt.Fprintf(&b, "\nThe user's name is %s.\n", req.ProfileName)
	}
	if len(req.ProfileFacts) > 0 {
		b.WriteString("\nWhat you know about this user:\n")
		for _, fact := range req.ProfileFacts {
			b.WriteString("- " + fact + "\n")
		}
	}

	if req.JustOnboarded {
		b.WriteString("\nThe user just finished connecting their account moments ago. ")
		b.WriteString("Greet them warmly as a first-time welcome before handling their request.\n")
	}

	return b.String()
}
