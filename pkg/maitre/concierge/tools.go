// tools.go defines the closed set of tools exposed to the model and their
// dispatch. Reservation tools are only offered when the sender has a
// credential; fire-and-forget tools act on the chat and return no data.
package concierge

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/lucasvidela/maitre/pkg/maitre/convo"
	"github.com/lucasvidela/maitre/pkg/maitre/gateway"
	"github.com/lucasvidela/maitre/pkg/maitre/platform"
)

// ToolName enumerates every tool the model may call. Dispatch is a closed
// switch; an unknown name is an error result, never a dynamic lookup.
type ToolName string

const (
	// Data tools: return results the model reasons over.
	ToolSearchVenues      ToolName = "search_venues"
	ToolFindSlots         ToolName = "find_slots"
	ToolBookReservation   ToolName = "book_reservation"
	ToolCancelReservation ToolName = "cancel_reservation"
	ToolListReservations  ToolName = "list_reservations"

	// Fire-and-forget tools: act on the chat, return nothing to reason over.
	ToolSendReaction ToolName = "send_reaction"
	ToolSendEffect   ToolName = "send_effect"
	ToolRenameChat   ToolName = "rename_chat"
	ToolRememberFact ToolName = "remember_fact"
)

// IsFireAndForget reports whether a tool produces no data for the model.
func IsFireAndForget(name ToolName) bool {
	switch name {
	case ToolSendReaction, ToolSendEffect, ToolRenameChat, ToolRememberFact:
		return true
	}
	return false
}

// Booker is the reservation surface the toolbox needs from the platform.
type Booker interface {
	SearchVenues(ctx context.Context, credential, query, location string) ([]platform.Venue, error)
	FindSlots(ctx context.Context, credential, venueID, day string, partySize int) ([]platform.Slot, error)
	BookSlot(ctx context.Context, credential, slotToken string) (*platform.Reservation, error)
	CancelReservation(ctx context.Context, credential, resToken string) error
	ListUpcoming(ctx context.Context, credential string) ([]platform.Reservation, error)
}

// TurnContext carries the per-message facts a tool execution needs.
type TurnContext struct {
	ChatID     string
	MessageID  string
	Sender     string
	Credential string
	Capability gateway.Capability
}

// Execution is the outcome of one tool call. Content goes back to the model
// (errors included, as text). Annotation, when set, is recorded in history so
// later turns can resolve references like "book that one".
type Execution struct {
	Content    string
	Annotation string
	Booked     bool
	EffectSent bool
}

// Toolbox executes tool calls.
type Toolbox struct {
	booking  Booker
	gateway  gateway.Client
	profiles *convo.Profiles
	logger   *slog.Logger
}

// NewToolbox creates the tool executor.
func NewToolbox(booking Booker, gw gateway.Client, profiles *convo.Profiles, logger *slog.Logger) *Toolbox {
	return &Toolbox{
		booking:  booking,
		gateway:  gw,
		profiles: profiles,
		logger:   logger.With("component", "toolbox"),
	}
}

// Definitions returns the tool definitions offered to the model.
// Reservation tools are withheld when the sender has no credential.
func Definitions(authenticated bool) []ToolDefinition {
	defs := []ToolDefinition{
		toolDef(ToolSendReaction,
			"React to the user's message with a tapback (love, like, laugh, emphasize, question).",
			`{"type":"object","properties":{"reaction":{"type":"string","description":"Reaction name"}},"required":["reaction"]}`),
		toolDef(ToolSendEffect,
			"Send a short message decorated with a screen effect such as confetti, fireworks or balloons.",
			`{"type":"object","properties":{"text":{"type":"string"},"effect":{"type":"string","description":"Effect name, e.g. confetti"}},"required":["text","effect"]}`),
		toolDef(ToolRenameChat,
			"Rename the current group chat.",
			`{"type":"object","properties":{"name":{"type":"string"}},"required":["name"]}`),
		toolDef(ToolRememberFact,
			"Remember a durable fact about the user, such as a dietary preference or favorite cuisine.",
			`{"type":"object","properties":{"fact":{"type":"string"}},"required":["fact"]}`),
	}

	if authenticated {
		defs = append(defs,
			toolDef(ToolSearchVenues,
				"Search restaurants by name or cuisine, optionally near a location.",
				`{"type":"object","properties":{"query":{"type":"string"},"location":{"type":"string"}},"required":["query"]}`),
			toolDef(ToolFindSlots,
				"List available reservation times at a venue for a date and party size.",
				`{"type":"object","properties":{"venue_id":{"type":"string"},"day":{"type":"string","description":"Date, YYYY-MM-DD"},"party_size":{"type":"integer"}},"required":["venue_id","day","party_size"]}`),
			toolDef(ToolBookReservation,
				"Book a table at a venue. Availability is re-checked at booking time; the closest available time to the requested one is booked.",
				`{"type":"object","properties":{"venue_id":{"type":"string"},"day":{"type":"string","description":"Date, YYYY-MM-DD"},"party_size":{"type":"integer"},"time":{"type":"string","description":"Desired time, HH:MM 24h"}},"required":["venue_id","day","party_size","time"]}`),
			toolDef(ToolCancelReservation,
				"Cancel an upcoming reservation by its token.",
				`{"type":"object","properties":{"reservation_token":{"type":"string"}},"required":["reservation_token"]}`),
			toolDef(ToolListReservations,
				"List the user's upcoming reservations.",
				`{"type":"object","properties":{}}`),
		)
	}

	return defs
}

func toolDef(name ToolName, description, schema string) ToolDefinition {
	return ToolDefinition{
		Type: "function",
		Function: FunctionDef{
			Name:        string(name),
			Description: description,
			Parameters:  json.RawMessage(schema),
		},
	}
}

// Execute runs one tool call. Failures never propagate: they come back as
// text content so the model can explain or retry.
func (t *Toolbox) Execute(ctx context.Context, call ToolCall, turn *TurnContext) Execution {
	name := ToolName(call.Function.Name)
	args := call.Function.Arguments

	t.logger.Debug("executing tool", "tool", name, "chat_id", turn.ChatID)

	var exec Execution
	var err error

	switch name {
	case ToolSearchVenues:
		exec, err = t.searchVenues(ctx, args, turn)
	case ToolFindSlots:
		exec, err = t.findSlots(ctx, args, turn)
	case ToolBookReservation:
		exec, err = t.bookReservation(ctx, args, turn)
	case ToolCancelReservation:
		exec, err = t.cancelReservation(ctx, args, turn)
	case ToolListReservations:
		exec, err = t.listReservations(ctx, turn)
	case ToolSendReaction:
		exec, err = t.sendReaction(ctx, args, turn)
	case ToolSendEffect:
		exec, err = t.sendEffect(ctx, args, turn)
	case ToolRenameChat:
		exec, err = t.renameChat(ctx, args, turn)
	case ToolRememberFact:
		exec, err = t.rememberFact(ctx, args, turn)
	default:
		return Execution{Content: fmt.Sprintf("error: unknown tool %q", name)}
	}

	if err != nil {
		t.logger.Warn("tool failed", "tool", name, "error", err)
		return Execution{Content: "error: " + err.Error()}
	}
	return exec
}

// ---------- Data tools ----------

func (t *Toolbox) searchVenues(ctx context.Context, rawArgs string, turn *TurnContext) (Execution, error) {
	var args struct {
		Query    string `json:"query"`
		Location string `json:"location"`
	}
	if err := json.Unmarshal([]byte(rawArgs), &args); err != nil {
		return Execution{}, fmt.Errorf("bad arguments: %w", err)
	}

	venues, err := t.booking.SearchVenues(ctx, turn.Credential, args.Query, args.Location)
	if err != nil {
		return Execution{}, err
	}

	annotation := fmt.Sprintf("searched restaurants for %q", args.Query)
	if args.Location != "" {
		annotation += " near " + args.Location
	}
	if len(venues) == 0 {
		return Execution{Content: "no venues found", Annotation: annotation}, nil
	}

	out, err := json.Marshal(venues)
	if err != nil {
		return Execution{}, err
	}
	return Execution{Content: string(out), Annotation: annotation}, nil
}

func (t *Toolbox) findSlots(ctx context.Context, rawArgs string, turn *TurnContext) (Execution, error) {
	var args struct {
		VenueID   string `json:"venue_id"`
		Day       string `json:"day"`
		PartySize int    `json:"party_size"`
	}
	if err := json.Unmarshal([]byte(rawArgs), &args); err != nil {
		return Execution{}, fmt.Errorf("bad arguments: %w", err)
	}

	slots, err := t.booking.FindSlots(ctx, turn.Credential, args.VenueID, args.Day, args.PartySize)
	if err != nil {
		return Execution{}, err
	}

	annotation := fmt.Sprintf("checked availability at %s on %s for %d", args.VenueID, args.Day, args.PartySize)
	if len(slots) == 0 {
		return Execution{Content: "no availability", Annotation: annotation}, nil
	}

	// Tokens are short-lived; expose times only and let booking re-fetch.
	times := make([]string, len(slots))
	for i, s := range slots {
		times[i] = s.Time.Format("2006-01-02 15:04")
	}
	out, err := json.Marshal(map[string]any{"available_times": times})
	if err != nil {
		return Execution{}, err
	}
	return Execution{Content: string(out), Annotation: annotation}, nil
}

func (t *Toolbox) bookReservation(ctx context.Context, rawArgs string, turn *TurnContext) (Execution, error) {
	var args struct {
		VenueID   string `json:"venue_id"`
		Day       string `json:"day"`
		PartySize int    `json:"party_size"`
		Time      string `json:"time"`
	}
	if err := json.Unmarshal([]byte(rawArgs), &args); err != nil {
		return Execution{}, fmt.Errorf("bad arguments: %w", err)
	}

	// Slot tokens expire within minutes, so availability is always
	// re-fetched here rather than trusting anything from earlier turns.
	slots, err := t.booking.FindSlots(ctx, turn.Credential, args.VenueID, args.Day, args.PartySize)
	if err != nil {
		return Execution{}, err
	}
	if len(slots) == 0 {
		return Execution{Content: "no availability for that date and party size"}, nil
	}

	slot, err := chooseSlot(slots, args.Time)
	if err != nil {
		return Execution{}, err
	}

	res, err := t.booking.BookSlot(ctx, turn.Credential, slot.Token)
	if err != nil {
		return Execution{}, err
	}

	out, err := json.Marshal(res)
	if err != nil {
		return Execution{}, err
	}
	annotation := fmt.Sprintf("booked %s for %d at %s, token %s",
		res.VenueName, res.PartySize, res.Time.Format("Mon Jan 2 15:04"), res.Token)
	return Execution{Content: string(out), Annotation: annotation, Booked: true}, nil
}

func (t *Toolbox) cancelReservation(ctx context.Context, rawArgs string, turn *TurnContext) (Execution, error) {
	var args struct {
		ReservationToken string `json:"reservation_token"`
	}
	if err := json.Unmarshal([]byte(rawArgs), &args); err != nil {
		return Execution{}, fmt.Errorf("bad arguments: %w", err)
	}

	if err := t.booking.CancelReservation(ctx, turn.Credential, args.ReservationToken); err != nil {
		return Execution{}, err
	}
	return Execution{
		Content:    "cancelled",
		Annotation: "cancelled reservation " + args.ReservationToken,
	}, nil
}

func (t *Toolbox) listReservations(ctx context.Context, turn *TurnContext) (Execution, error) {
	reservations, err := t.booking.ListUpcoming(ctx, turn.Credential)
	if err != nil {
		return Execution{}, err
	}
	if len(reservations) == 0 {
		return Execution{Content: "no upcoming reservations"}, nil
	}

	out, err := json.Marshal(reservations)
	if err != nil {
		return Execution{}, err
	}
	return Execution{Content: string(out)}, nil
}

// ---------- Fire-and-forget tools ----------

func (t *Toolbox) sendReaction(ctx context.Context, rawArgs string, turn *TurnContext) (Execution, error) {
	var args struct {
		Reaction string `json:"reaction"`
	}
	if err := json.Unmarshal([]byte(rawArgs), &args); err != nil {
		return Execution{}, fmt.Errorf("bad arguments: %w", err)
	}

	// Plain channels have no reactions; degrade silently.
	if turn.Capability == gateway.CapabilityPlain {
		return Execution{Content: "ok"}, nil
	}
	if err := t.gateway.SendReaction(ctx, turn.ChatID, turn.MessageID, args.Reaction); err != nil {
		return Execution{}, err
	}
	return Execution{Content: "ok"}, nil
}

func (t *Toolbox) sendEffect(ctx context.Context, rawArgs string, turn *TurnContext) (Execution, error) {
	var args struct {
		Text   string `json:"text"`
		Effect string `json:"effect"`
	}
	if err := json.Unmarshal([]byte(rawArgs), &args); err != nil {
		return Execution{}, fmt.Errorf("bad arguments: %w", err)
	}

	// Effects need a rich channel; fall back to plain text elsewhere.
	if turn.Capability != gateway.CapabilityFull {
		if err := t.gateway.SendText(ctx, turn.ChatID, args.Text); err != nil {
			return Execution{}, err
		}
		return Execution{Content: "ok"}, nil
	}
	if err := t.gateway.SendTextWithEffect(ctx, turn.ChatID, args.Text, args.Effect); err != nil {
		return Execution{}, err
	}
	return Execution{Content: "ok", EffectSent: true}, nil
}

func (t *Toolbox) renameChat(ctx context.Context, rawArgs string, turn *TurnContext) (Execution, error) {
	var args struct {
		Name string `json:"name"`
	}
	if err := json.Unmarshal([]byte(rawArgs), &args); err != nil {
		return Execution{}, fmt.Errorf("bad arguments: %w", err)
	}

	if turn.Capability != gateway.CapabilityFull {
		return Execution{Content: "ok"}, nil
	}
	if err := t.gateway.RenameChat(ctx, turn.ChatID, args.Name); err != nil {
		return Execution{}, err
	}
	return Execution{
		Content:    "ok",
		Annotation: "renamed the chat to " + args.Name,
	}, nil
}

func (t *Toolbox) rememberFact(ctx context.Context, rawArgs string, turn *TurnContext) (Execution, error) {
	var args struct {
		Fact string `json:"fact"`
	}
	if err := json.Unmarshal([]byte(rawArgs), &args); err != nil {
		return Execution{}, fmt.Errorf("bad arguments: %w", err)
	}

	added, err := t.profiles.AddFact(ctx, turn.Sender, args.Fact)
	if err != nil {
		return Execution{}, err
	}
	exec := Execution{Content: "ok"}
	if added {
		exec.Annotation = "remembered: " + args.Fact
	}
	return exec, nil
}

// chooseSlot picks the slot to book for a desired HH:MM time. An exact
// time-of-day match wins; otherwise the slot with the smallest clock
// distance does, and on a tie the one listed first by the platform.
func chooseSlot(slots []platform.Slot, desired string) (*platform.Slot, error) {
	want, err := time.Parse("15:04", desired)
	if err != nil {
		return nil, fmt.Errorf("bad time %q, want HH:MM: %w", desired, err)
	}
	wantMinutes := want.Hour()*60 + want.Minute()

	best := 0
	bestDiff := -1
	for i, s := range slots {
		slotMinutes := s.Time.Hour()*60 + s.Time.Minute()
		diff := slotMinutes - wantMinutes
		if diff < 0 {
			diff = -diff
		}
		if diff == 0 {
			return &slots[i], nil
		}
		if bestDiff < 0 || diff < bestDiff {
			best, bestDiff = i, diff
		}
	}
	return &slots[best], nil
}
