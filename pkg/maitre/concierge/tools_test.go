package concierge

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/lucasvidela/maitre/pkg/maitre/convo"
	"github.com/lucasvidela/maitre/pkg/maitre/gateway"
	"github.com/lucasvidela/maitre/pkg/maitre/platform"
	"github.com/lucasvidela/maitre/pkg/maitre/store"
)

func testLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

// fakeBooker scripts the reservation surface.
type fakeBooker struct {
	venues []platform.Venue

	slots         []platform.Slot
	findSlotsErr  error
	findSlotCalls int

	booked      []string
	bookErr     error
	reservation *platform.Reservation

	upcoming  []platform.Reservation
	cancelled []string
}

func (f *fakeBooker) SearchVenues(context.Context, string, string, string) ([]platform.Venue, error) {
	return f.venues, nil
}

func (f *fakeBooker) FindSlots(context.Context, string, string, string, int) ([]platform.Slot, error) {
	f.findSlotCalls++
	return f.slots, f.findSlotsErr
}

func (f *fakeBooker) BookSlot(_ context.Context, _ string, slotToken string) (*platform.Reservation, error) {
	if f.bookErr != nil {
		return nil, f.bookErr
	}
	f.booked = append(f.booked, slotToken)
	if f.reservation != nil {
		return f.reservation, nil
	}
	return &platform.Reservation{Token: "res-1", VenueName: "Test Venue", Time: time.Now(), PartySize: 2}, nil
}

func (f *fakeBooker) CancelReservation(_ context.Context, _ string, resToken string) error {
	f.cancelled = append(f.cancelled, resToken)
	return nil
}

func (f *fakeBooker) ListUpcoming(context.Context, string) ([]platform.Reservation, error) {
	return f.upcoming, nil
}

// fakeGateway records outbound actions.
type fakeGateway struct {
	texts     []string
	effects   []string
	reactions []string
	renames   []string
}

func (f *fakeGateway) SendText(_ context.Context, _ string, text string) error {
	f.texts = append(f.texts, text)
	return nil
}

func (f *fakeGateway) SendTextWithEffect(_ context.Context, _ string, text, effect string) error {
	f.texts = append(f.texts, text)
	f.effects = append(f.effects, effect)
	return nil
}

func (f *fakeGateway) SendReaction(_ context.Context, _, _, reaction string) error {
	f.reactions = append(f.reactions, reaction)
	return nil
}

func (f *fakeGateway) RenameChat(_ context.Context, _, name string) error {
	f.renames = append(f.renames, name)
	return nil
}

func (f *fakeGateway) ShareContact(context.Context, string) error { return nil }
func (f *fakeGateway) MarkRead(context.Context, string) error     { return nil }
func (f *fakeGateway) StartTyping(context.Context, string) error  { return nil }

func slotAt(token string, hour, minute int) platform.Slot {
	return platform.Slot{
		Token: token,
		Time:  time.Date(2026, 8, 29, hour, minute, 0, 0, time.UTC),
	}
}

func TestChooseSlot(t *testing.T) {
	t.Run("exact match wins", func(t *testing.T) {
		slots := []platform.Slot{slotAt("a", 18, 0), slotAt("b", 19, 0), slotAt("c", 20, 0)}
		slot, err := chooseSlot(slots, "19:00")
		if err != nil {
			t.Fatalf("chooseSlot failed: %v", err)
		}
		if slot.Token != "b" {
			t.Errorf("got %q, want exact match b", slot.Token)
		}
	})

	t.Run("nearest by clock distance", func(t *testing.T) {
		slots := []platform.Slot{slotAt("a", 18, 0), slotAt("b", 19, 30), slotAt("c", 21, 0)}
		slot, err := chooseSlot(slots, "19:00")
		if err != nil {
			t.Fatalf("chooseSlot failed: %v", err)
		}
		if slot.Token != "b" {
			t.Errorf("got %q, want nearest b", slot.Token)
		}
	})

	t.Run("tie goes to platform order", func(t *testing.T) {
		slots := []platform.Slot{slotAt("late", 19, 30), slotAt("early", 18, 30)}
		slot, err := chooseSlot(slots, "19:00")
		if err != nil {
			t.Fatalf("chooseSlot failed: %v", err)
		}
		if slot.Token != "late" {
			t.Errorf("got %q, want first-listed on tie", slot.Token)
		}
	})

	t.Run("bad time", func(t *testing.T) {
		if _, err := chooseSlot([]platform.Slot{slotAt("a", 18, 0)}, "dinner time"); err == nil {
			t.Error("expected error for unparseable time")
		}
	})
}

func TestToolbox_BookRefetchesAvailability(t *testing.T) {
	booker := &fakeBooker{
		slots: []platform.Slot{slotAt("s-1830", 18, 30), slotAt("s-1900", 19, 0)},
	}
	tb := NewToolbox(booker, &fakeGateway{}, convo.NewProfiles(store.NewMemoryStore(), testLogger()), testLogger())
	turn := &TurnContext{ChatID: "chat-1", Credential: "tok", Capability: gateway.CapabilityFull}

	call := ToolCall{
		ID: "c1", Type: "function",
		Function: FunctionCall{
			Name:      string(ToolBookReservation),
			Arguments: `{"venue_id":"v1","day":"2026-08-29","party_size":2,"time":"19:00"}`,
		},
	}

	exec := tb.Execute(context.Background(), call, turn)
	if strings.HasPrefix(exec.Content, "error:") {
		t.Fatalf("booking failed: %s", exec.Content)
	}
	if booker.findSlotCalls != 1 {
		t.Errorf("booking must re-fetch availability, got %d FindSlots calls", booker.findSlotCalls)
	}
	if len(booker.booked) != 1 || booker.booked[0] != "s-1900" {
		t.Errorf("booked %v, want the exact-time slot s-1900", booker.booked)
	}
	if !exec.Booked {
		t.Error("execution should be marked as a booking")
	}
	if exec.Annotation == "" {
		t.Error("booking should produce a history annotation")
	}
}

func TestToolbox_BookNoAvailability(t *testing.T) {
	booker := &fakeBooker{}
	tb := NewToolbox(booker, &fakeGateway{}, convo.NewProfiles(store.NewMemoryStore(), testLogger()), testLogger())
	turn := &TurnContext{ChatID: "chat-1", Credential: "tok"}

	call := ToolCall{
		ID: "c1", Type: "function",
		Function: FunctionCall{
			Name:      string(ToolBookReservation),
			Arguments: `{"venue_id":"v1","day":"2026-08-29","party_size":2,"time":"19:00"}`,
		},
	}

	exec := tb.Execute(context.Background(), call, turn)
	if exec.Booked {
		t.Error("nothing should be booked")
	}
	if !strings.Contains(exec.Content, "no availability") {
		t.Errorf("unexpected content %q", exec.Content)
	}
}

func TestToolbox_DataToolsAnnotateHistory(t *testing.T) {
	t.Run("search", func(t *testing.T) {
		booker := &fakeBooker{venues: []platform.Venue{{ID: "v1", Name: "Nonna's"}}}
		tb := NewToolbox(booker, &fakeGateway{}, convo.NewProfiles(store.NewMemoryStore(), testLogger()), testLogger())
		turn := &TurnContext{ChatID: "chat-1", Credential: "tok"}

		call := ToolCall{
			ID: "c1", Type: "function",
			Function: FunctionCall{Name: string(ToolSearchVenues), Arguments: `{"query":"italian","location":"soho"}`},
		}
		exec := tb.Execute(context.Background(), call, turn)
		if !strings.Contains(exec.Annotation, `searched restaurants for "italian"`) {
			t.Errorf("annotation = %q", exec.Annotation)
		}
		if !strings.Contains(exec.Annotation, "soho") {
			t.Errorf("annotation should carry the location, got %q", exec.Annotation)
		}
	})

	t.Run("search with no results still annotated", func(t *testing.T) {
		tb := NewToolbox(&fakeBooker{}, &fakeGateway{}, convo.NewProfiles(store.NewMemoryStore(), testLogger()), testLogger())
		turn := &TurnContext{ChatID: "chat-1", Credential: "tok"}

		call := ToolCall{
			ID: "c1", Type: "function",
			Function: FunctionCall{Name: string(ToolSearchVenues), Arguments: `{"query":"italian"}`},
		}
		exec := tb.Execute(context.Background(), call, turn)
		if exec.Annotation == "" {
			t.Error("the search happened, so it should be annotated")
		}
	})

	t.Run("slot check", func(t *testing.T) {
		booker := &fakeBooker{slots: []platform.Slot{slotAt("s1", 19, 0)}}
		tb := NewToolbox(booker, &fakeGateway{}, convo.NewProfiles(store.NewMemoryStore(), testLogger()), testLogger())
		turn := &TurnContext{ChatID: "chat-1", Credential: "tok"}

		call := ToolCall{
			ID: "c1", Type: "function",
			Function: FunctionCall{Name: string(ToolFindSlots), Arguments: `{"venue_id":"v1","day":"2026-08-29","party_size":2}`},
		}
		exec := tb.Execute(context.Background(), call, turn)
		if !strings.Contains(exec.Annotation, "v1") || !strings.Contains(exec.Annotation, "2026-08-29") {
			t.Errorf("annotation should name the venue and day, got %q", exec.Annotation)
		}
	})
}

func TestToolbox_ErrorsBecomeText(t *testing.T) {
	booker := &fakeBooker{findSlotsErr: errors.New("upstream down")}
	tb := NewToolbox(booker, &fakeGateway{}, convo.NewProfiles(store.NewMemoryStore(), testLogger()), testLogger())
	turn := &TurnContext{ChatID: "chat-1", Credential: "tok"}

	call := ToolCall{
		ID: "c1", Type: "function",
		Function: FunctionCall{
			Name:      string(ToolFindSlots),
			Arguments: `{"venue_id":"v1","day":"2026-08-29","party_size":2}`,
		},
	}

	exec := tb.Execute(context.Background(), call, turn)
	if !strings.HasPrefix(exec.Content, "error:") {
		t.Errorf("tool failure should come back as error text, got %q", exec.Content)
	}
}

func TestToolbox_UnknownToolIsClosedSet(t *testing.T) {
	tb := NewToolbox(&fakeBooker{}, &fakeGateway{}, convo.NewProfiles(store.NewMemoryStore(), testLogger()), testLogger())
	turn := &TurnContext{ChatID: "chat-1"}

	call := ToolCall{
		ID: "c1", Type: "function",
		Function: FunctionCall{Name: "rm_rf_slash", Arguments: `{}`},
	}

	exec := tb.Execute(context.Background(), call, turn)
	if !strings.Contains(exec.Content, "unknown tool") {
		t.Errorf("unexpected content %q", exec.Content)
	}
}

func TestToolbox_CapabilityDegradation(t *testing.T) {
	gw := &fakeGateway{}
	tb := NewToolbox(&fakeBooker{}, gw, convo.NewProfiles(store.NewMemoryStore(), testLogger()), testLogger())

	reaction := ToolCall{
		ID: "c1", Type: "function",
		Function: FunctionCall{Name: string(ToolSendReaction), Arguments: `{"reaction":"love"}`},
	}

	t.Run("reaction dropped on plain channel", func(t *testing.T) {
		turn := &TurnContext{ChatID: "chat-1", MessageID: "m1", Capability: gateway.CapabilityPlain}
		exec := tb.Execute(context.Background(), reaction, turn)
		if strings.HasPrefix(exec.Content, "error:") {
			t.Fatalf("degradation must be silent, got %q", exec.Content)
		}
		if len(gw.reactions) != 0 {
			t.Error("no reaction should reach a plain channel")
		}
	})

	t.Run("reaction sent on rich channel", func(t *testing.T) {
		turn := &TurnContext{ChatID: "chat-1", MessageID: "m1", Capability: gateway.CapabilityFull}
		tb.Execute(context.Background(), reaction, turn)
		if len(gw.reactions) != 1 || gw.reactions[0] != "love" {
			t.Errorf("unexpected reactions %v", gw.reactions)
		}
	})

	t.Run("effect falls back to plain text", func(t *testing.T) {
		effect := ToolCall{
			ID: "c2", Type: "function",
			Function: FunctionCall{Name: string(ToolSendEffect), Arguments: `{"text":"party!","effect":"confetti"}`},
		}
		turn := &TurnContext{ChatID: "chat-1", Capability: gateway.CapabilityReactions}
		exec := tb.Execute(context.Background(), effect, turn)
		if exec.EffectSent {
			t.Error("no effect was actually sent")
		}
		if len(gw.texts) != 1 || gw.texts[0] != "party!" {
			t.Errorf("expected plain-text fallback, got %v", gw.texts)
		}
		if len(gw.effects) != 0 {
			t.Errorf("no effect should reach a reactions-only channel, got %v", gw.effects)
		}
	})
}

func TestToolbox_RememberFact(t *testing.T) {
	profiles := convo.NewProfiles(store.NewMemoryStore(), testLogger())
	tb := NewToolbox(&fakeBooker{}, &fakeGateway{}, profiles, testLogger())
	turn := &TurnContext{ChatID: "chat-1", Sender: "alice"}

	call := ToolCall{
		ID: "c1", Type: "function",
		Function: FunctionCall{Name: string(ToolRememberFact), Arguments: `{"fact":"vegetarian"}`},
	}

	exec := tb.Execute(context.Background(), call, turn)
	if exec.Annotation == "" {
		t.Error("new fact should produce an annotation")
	}

	// Duplicate: stored once, no annotation the second time.
	exec = tb.Execute(context.Background(), call, turn)
	if exec.Annotation != "" {
		t.Error("duplicate fact should not produce an annotation")
	}

	profile, _ := profiles.Get(context.Background(), "alice")
	if profile == nil || len(profile.Facts) != 1 {
		t.Fatalf("unexpected profile %+v", profile)
	}
}

func TestDefinitions_GatedByAuthentication(t *testing.T) {
	has := func(defs []ToolDefinition, name ToolName) bool {
		for _, d := range defs {
			if d.Function.Name == string(name) {
				return true
			}
		}
		return false
	}

	authed := Definitions(true)
	unauthed := Definitions(false)

	for _, name := range []ToolName{ToolSearchVenues, ToolFindSlots, ToolBookReservation, ToolCancelReservation, ToolListReservations} {
		if !has(authed, name) {
			t.Errorf("authenticated set missing %s", name)
		}
		if has(unauthed, name) {
			t.Errorf("unauthenticated set must not offer %s", name)
		}
	}
	for _, name := range []ToolName{ToolSendReaction, ToolSendEffect, ToolRenameChat, ToolRememberFact} {
		if !has(authed, name) || !has(unauthed, name) {
			t.Errorf("%s should be offered regardless of auth", name)
		}
	}
}

func TestIsFireAndForget(t *testing.T) {
	cases := map[ToolName]bool{
		ToolSearchVenues:      false,
		ToolFindSlots:         false,
		ToolBookReservation:   false,
		ToolCancelReservation: false,
		ToolListReservations:  false,
		ToolSendReaction:      true,
		ToolSendEffect:        true,
		ToolRenameChat:        true,
		ToolRememberFact:      true,
	}
	for name, want := range cases {
		if got := IsFireAndForget(name); got != want {
			t.Errorf("IsFireAndForget(%s) = %v, want %v", name, got, want)
		}
	}
}
