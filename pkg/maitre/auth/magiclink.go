// magiclink.go mints and redeems the single-use, expiring tokens that bind
// a phone number + chat to a web onboarding session.
package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/lucasvidela/maitre/pkg/maitre/platform"
	"github.com/lucasvidela/maitre/pkg/maitre/store"
)

const partLinkToken = "authtoken"

// linkTTLBuffer keeps redeemed/expired records around slightly past expiry
// so a late read sees "used" rather than "unknown".
const linkTTLBuffer = 5 * time.Minute

// LinkClaims is what a valid magic-link token resolves to.
type LinkClaims struct {
	PhoneNumber string    `json:"phone_number"`
	ChatID      string    `json:"chat_id"`
	CreatedAt   time.Time `json:"created_at"`
	ExpiresAt   time.Time `json:"expires_at"`
	Used        bool      `json:"used"`
}

// TokenIssuer mints and redeems magic-link tokens.
type TokenIssuer struct {
	store   store.Store
	baseURL string
	ttl     time.Duration
	logger  *slog.Logger
}

// NewTokenIssuer creates an issuer. baseURL is the public onboarding URL
// prefix the token is appended to.
func NewTokenIssuer(s store.Store, baseURL string, ttl time.Duration, logger *slog.Logger) *TokenIssuer {
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	return &TokenIssuer{
		store:   s,
		baseURL: baseURL,
		ttl:     ttl,
		logger:  logger.With("component", "auth.magiclink"),
	}
}

// Mint creates a single-use token bound to phone+chat and returns the full
// onboarding URL to text to the user.
func (t *TokenIssuer) Mint(ctx context.Context, phone, chatID string) (string, error) {
	token := uuid.NewString()
	now := time.Now().UTC()

	claims := LinkClaims{
		PhoneNumber: phone,
		ChatID:      chatID,
		CreatedAt:   now,
		ExpiresAt:   now.Add(t.ttl),
	}

	raw, err := json.Marshal(claims)
	if err != nil {
		return "", fmt.Errorf("marshaling link claims: %w", err)
	}
	if err := t.store.Put(ctx, linkKey(token), raw, t.ttl+linkTTLBuffer); err != nil {
		return "", fmt.Errorf("storing link token: %w", err)
	}

	t.logger.Info("magic link minted", "user", platform.RedactPhone(phone))
	return t.baseURL + "/onboard?token=" + token, nil
}

// Peek validates a token without consuming it (the GET page uses this to
// decide between the form and an error state). Unknown, used, or expired
// tokens all return nil, never an error the caller has to untangle.
func (t *TokenIssuer) Peek(ctx context.Context, token string) (*LinkClaims, error) {
	raw, found, err := t.store.Get(ctx, linkKey(token))
	if err != nil {
		return nil, fmt.Errorf("reading link token: %w", err)
	}
	if !found {
		return nil, nil
	}

	claims, ok := parseClaims(raw)
	if !ok || !claims.valid() {
		return nil, nil
	}
	return claims, nil
}

// Redeem atomically consumes a token. Exactly one caller can redeem a given
// token; every later attempt — and any attempt past expiry — returns nil.
func (t *TokenIssuer) Redeem(ctx context.Context, token string) (*LinkClaims, error) {
	raw, found, err := t.store.Consume(ctx, linkKey(token))
	if err != nil {
		return nil, fmt.Errorf("consuming link token: %w", err)
	}
	if !found {
		return nil, nil
	}

	claims, ok := parseClaims(raw)
	if !ok || !claims.valid() {
		return nil, nil
	}

	// Write the used marker back so a duplicate submit reads "used" rather
	// than "unknown" until the record ages out.
	used := *claims
	used.Used = true
	if rawUsed, err := json.Marshal(used); err == nil {
		_ = t.store.Put(ctx, linkKey(token), rawUsed, linkTTLBuffer)
	}

	t.logger.Info("magic link redeemed", "user", platform.RedactPhone(claims.PhoneNumber))
	return claims, nil
}

func (c *LinkClaims) valid() bool {
	return !c.Used && time.Now().Before(c.ExpiresAt)
}

func parseClaims(raw []byte) (*LinkClaims, bool) {
	var claims LinkClaims
	if err := json.Unmarshal(raw, &claims); err != nil {
		return nil, false
	}
	return &claims, true
}

func linkKey(token string) store.Key {
	return store.Key{Partition: partLinkToken, Sort: token}
}
