// Package auth drives the credential-acquisition flows: the OTP → challenge
// state machine, the inline-token shortcut, the magic-link web path, and
// the user-context resolution that decides whether a sender has usable
// credentials right now.
package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lucasvidela/maitre/pkg/maitre/platform"
	"github.com/lucasvidela/maitre/pkg/maitre/store"
)

// Stage is the authoritative auth-flow state for one phone number. A single
// tagged record replaces independent pending-OTP / pending-challenge
// lookups, so the two can never coexist inconsistently.
type Stage string

const (
	// StageNone: no flow in progress (record absent).
	StageNone Stage = ""

	// StageOTPSent: a code was texted and we are waiting for it.
	StageOTPSent Stage = "otp_sent"

	// StageChallengePending: the OTP was accepted but the platform demands
	// secondary verification before issuing a credential.
	StageChallengePending Stage = "challenge_pending"
)

// Per-stage record TTLs: an abandoned flow simply evaporates.
const (
	otpTTL       = 5 * time.Minute
	challengeTTL = 10 * time.Minute
)

// State is the persisted flow record.
type State struct {
	Stage        Stage               `json:"stage"`
	ChatID       string              `json:"chat_id"`
	MobileNumber string              `json:"mobile_number"`
	SentAt       time.Time           `json:"sent_at"`
	Challenge    *platform.Challenge `json:"challenge,omitempty"`
}

const partAuthState = "auth"

func nowUTC() time.Time { return time.Now().UTC() }

func stateKey(phone string) store.Key {
	return store.Key{Partition: partAuthState, Sort: phone}
}

func loadState(ctx context.Context, s store.Store, phone string) (*State, error) {
	raw, found, err := s.Get(ctx, stateKey(phone))
	if err != nil {
		return nil, fmt.Errorf("loading auth state: %w", err)
	}
	if !found {
		return &State{Stage: StageNone}, nil
	}

	var st State
	if err := json.Unmarshal(raw, &st); err != nil {
		// A malformed record is unrecoverable; restart the flow.
		return &State{Stage: StageNone}, nil
	}
	return &st, nil
}

func saveState(ctx context.Context, s store.Store, phone string, st *State) error {
	ttl := otpTTL
	if st.Stage == StageChallengePending {
		ttl = challengeTTL
	}

	raw, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("marshaling auth state: %w", err)
	}
	if err := s.Put(ctx, stateKey(phone), raw, ttl); err != nil {
		return fmt.Errorf("saving auth state: %w", err)
	}
	return nil
}

func clearState(ctx context.Context, s store.Store, phone string) error {
	if err := s.Delete(ctx, stateKey(phone)); err != nil {
		return fmt.Errorf("clearing auth state: %w", err)
	}
	return nil
}
