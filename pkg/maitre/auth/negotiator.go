// negotiator.go is the auth-flow state machine:
//
//	UNAUTHENTICATED → OTP_SENT → CHALLENGE_PENDING → AUTHENTICATED
//
// plus the inline-token and magic-link shortcuts that jump straight to
// AUTHENTICATED. Every externally visible failure maps to a distinct,
// conversational reply and a safe state.
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/lucasvidela/maitre/pkg/maitre/platform"
	"github.com/lucasvidela/maitre/pkg/maitre/store"
	"github.com/lucasvidela/maitre/pkg/maitre/vault"
)

// PlatformAuth is the slice of the platform client the negotiator needs.
type PlatformAuth interface {
	SendOTP(ctx context.Context, mobile string) error
	VerifyOTP(ctx context.Context, mobile, code string) (*platform.AuthResult, error)
	CompleteChallenge(ctx context.Context, challengeID, email string, requiredFields []string) (string, error)
	ClaimExchange(ctx context.Context, claimToken string) (string, error)
	GetProfile(ctx context.Context, credential string) (*platform.Profile, error)
}

// codeSeparators are stripped before deciding whether input is an OTP code.
var codeSeparators = strings.NewReplacer(" ", "", "-", "", ".", "")

// bearerTokenPattern: three non-empty dot-separated segments, the shape of
// the platform's bearer tokens.
var bearerTokenPattern = regexp.MustCompile(`^[A-Za-z0-9_-]+\.[A-Za-z0-9_-]+\.[A-Za-z0-9_=-]+$`)

// minBearerTokenLen filters out short dotted strings that are just prose.
const minBearerTokenLen = 40

// Result is what one negotiation turn produced.
type Result struct {
	// Replies to text back, in order.
	Replies []string

	// Authenticated is true when this turn ended with stored credentials.
	Authenticated bool
}

// Negotiator drives the auth state machine for senders without usable
// credentials.
type Negotiator struct {
	store  store.Store
	vault  *vault.Vault
	client PlatformAuth
	links  *TokenIssuer
	logger *slog.Logger
}

// NewNegotiator wires the state machine to its collaborators.
func NewNegotiator(s store.Store, v *vault.Vault, client PlatformAuth, links *TokenIssuer, logger *slog.Logger) *Negotiator {
	return &Negotiator{
		store:  s,
		vault:  v,
		client: client,
		links:  links,
		logger: logger.With("component", "auth.negotiator"),
	}
}

// HandleMessage advances the flow for one inbound message from an
// unauthenticated sender.
func (n *Negotiator) HandleMessage(ctx context.Context, phone, chatID, text string) (*Result, error) {
	text = strings.TrimSpace(text)

	// Inline token path: honored from any state, skips OTP and challenge.
	if LooksLikeBearerToken(text) {
		return n.acceptInlineToken(ctx, phone, text)
	}

	state, err := loadState(ctx, n.store, phone)
	if err != nil {
		return nil, err
	}

	switch state.Stage {
	case StageOTPSent:
		return n.handleCodeAttempt(ctx, phone, state, text)
	case StageChallengePending:
		return n.handleChallengeInput(ctx, phone, state, text)
	default:
		return n.begin(ctx, phone, chatID)
	}
}

// LooksLikeBearerToken reports whether raw message text is a direct
// credential submission.
func LooksLikeBearerToken(text string) bool {
	return len(text) >= minBearerTokenLen && bearerTokenPattern.MatchString(text)
}

// ---------- UNAUTHENTICATED ----------

// begin requests an OTP. The three send outcomes get three different
// user-facing treatments: delivered, rate-limited, and failed.
func (n *Negotiator) begin(ctx context.Context, phone, chatID string) (*Result, error) {
	err := n.client.SendOTP(ctx, phone)
	switch {
	case err == nil:
		if err := saveState(ctx, n.store, phone, &State{
			Stage:        StageOTPSent,
			ChatID:       chatID,
			MobileNumber: phone,
			SentAt:       nowUTC(),
		}); err != nil {
			return nil, err
		}
		return &Result{Replies: []string{
			"Hi! I can book restaurants for you, but first I need to connect your reservation account. I just texted a verification code to this number — reply with it here.",
		}}, nil

	case errors.Is(err, platform.ErrRateLimited):
		link := n.mintLink(ctx, phone, chatID)
		return &Result{Replies: []string{
			"The reservation service is rate-limiting verification texts right now. If you have your account token handy you can paste it here directly" + linkSuffix(link),
		}}, nil

	default:
		n.logger.Warn("otp send failed",
			"user", platform.RedactPhone(phone), "error", err)
		link := n.mintLink(ctx, phone, chatID)
		return &Result{Replies: []string{
			"I couldn't get a verification code sent to you just now. You can paste your account token here instead" + linkSuffix(link),
		}}, nil
	}
}

// ---------- OTP_SENT ----------

func (n *Negotiator) handleCodeAttempt(ctx context.Context, phone string, state *State, text string) (*Result, error) {
	code, ok := extractCode(text)
	if !ok {
		// Not a code attempt; re-prompt without transition.
		return &Result{Replies: []string{
			"I'm still waiting on the verification code I texted you — it's 4 to 6 digits.",
		}}, nil
	}

	result, err := n.client.VerifyOTP(ctx, phone, code)
	switch {
	case err == nil && result.Token != "":
		return n.finishAuth(ctx, phone, result.Token)

	case err == nil && result.Challenge != nil:
		return n.enterChallenge(ctx, phone, state, result.Challenge)

	case errors.Is(err, platform.ErrCodeRejected):
		return &Result{Replies: []string{
			"That code didn't match. Double-check the text I sent and try again.",
		}}, nil

	case errors.Is(err, platform.ErrRateLimited):
		// Stay in OTP_SENT; the same code can be resent once the limit lifts.
		return &Result{Replies: []string{
			"The reservation service is rate-limiting verification right now. Give it a minute, then send me that code again.",
		}}, nil

	case platform.IsTransient(err):
		// Self-healing: one fresh OTP per failure, then back to waiting.
		n.logger.Warn("otp verify hit server error, reissuing",
			"user", platform.RedactPhone(phone), "error", err)
		if sendErr := n.client.SendOTP(ctx, phone); sendErr != nil {
			return &Result{Replies: []string{
				"The reservation service hiccuped verifying that code, and I couldn't get a fresh one sent either. Give it a minute and text me again.",
			}}, nil
		}
		state.SentAt = nowUTC()
		if err := saveState(ctx, n.store, phone, state); err != nil {
			return nil, err
		}
		return &Result{Replies: []string{
			"The reservation service hiccuped verifying that code, so I've texted you a fresh one — reply with the new code.",
		}}, nil

	default:
		return nil, fmt.Errorf("verifying otp: %w", err)
	}
}

// enterChallenge transitions to CHALLENGE_PENDING. For new-user challenges
// we first try the silent claim exchange; only when that fails does the
// user get involved.
func (n *Negotiator) enterChallenge(ctx context.Context, phone string, state *State, challenge *platform.Challenge) (*Result, error) {
	if challenge.IsNewUser && challenge.ClaimToken != "" {
		token, err := n.client.ClaimExchange(ctx, challenge.ClaimToken)
		if err == nil {
			return n.finishAuth(ctx, phone, token)
		}
		n.logger.Info("silent claim exchange failed, falling back to email",
			"user", platform.RedactPhone(phone), "error", err)
	}

	state.Stage = StageChallengePending
	state.Challenge = challenge
	if err := saveState(ctx, n.store, phone, state); err != nil {
		return nil, err
	}

	return &Result{Replies: []string{
		"Almost there — the reservation service wants to verify your email before it hands me the keys. What's the email on your account?",
	}}, nil
}

// ---------- CHALLENGE_PENDING ----------

func (n *Negotiator) handleChallengeInput(ctx context.Context, phone string, state *State, text string) (*Result, error) {
	email := strings.TrimSpace(text)
	if !looksLikeEmail(email) {
		return &Result{Replies: []string{
			"I need the email address on your reservation account to finish connecting.",
		}}, nil
	}

	challenge := state.Challenge
	if challenge == nil {
		// Record lost its payload; restart cleanly.
		if err := clearState(ctx, n.store, phone); err != nil {
			return nil, err
		}
		return n.begin(ctx, phone, state.ChatID)
	}

	token, err := n.client.CompleteChallenge(ctx, challenge.ID, email, challenge.RequiredFields)
	if err == nil {
		return n.finishAuth(ctx, phone, token)
	}

	n.logger.Warn("challenge completion failed",
		"user", platform.RedactPhone(phone),
		"new_user", challenge.IsNewUser,
		"error", err,
	)

	if challenge.IsNewUser {
		// End of the new-user fallback chain: silent exchange failed, the
		// email didn't take — hand over manual-token instructions. The
		// pending challenge stays so another email can still land.
		link := n.mintLink(ctx, phone, state.ChatID)
		return &Result{Replies: []string{
			"That email didn't finish the signup. You can connect manually instead: grab the auth token from your reservation account settings and paste it here" + linkSuffix(link),
		}}, nil
	}

	// Existing user: keep the pending challenge and let them try another
	// email. Retries are bounded only by the record's TTL — deliberate.
	return &Result{Replies: []string{
		"The reservation service didn't recognize that email for your account. Is there another one it could be under?",
	}}, nil
}

// ---------- AUTHENTICATED ----------

// finishAuth stores the credential, clears any pending flow, and produces
// the two-part welcome.
func (n *Negotiator) finishAuth(ctx context.Context, phone, token string) (*Result, error) {
	creds := vault.Credentials{AuthToken: token}

	// Best effort: pick up the account name for the welcome message.
	if profile, err := n.client.GetProfile(ctx, token); err == nil && profile != nil {
		creds.FirstName = profile.FirstName
		creds.Email = profile.Email
	}

	if err := n.vault.SetCredentials(ctx, phone, creds); err != nil {
		return nil, err
	}
	if err := clearState(ctx, n.store, phone); err != nil {
		return nil, err
	}

	greeting := "You're connected!"
	if creds.FirstName != "" {
		greeting = "You're connected, " + creds.FirstName + "!"
	}

	return &Result{
		Replies: []string{
			greeting,
			"Ask me things like \"find a table for 4 at an Italian place downtown on Friday\" and I'll take it from there.",
		},
		Authenticated: true,
	}, nil
}

// acceptInlineToken stores pasted token text verbatim as the credential.
func (n *Negotiator) acceptInlineToken(ctx context.Context, phone, token string) (*Result, error) {
	n.logger.Info("inline token accepted", "user", platform.RedactPhone(phone))
	return n.finishAuth(ctx, phone, token)
}

// ---------- Helpers ----------

// extractCode strips separators and accepts 4–6 digit strings.
func extractCode(text string) (string, bool) {
	stripped := codeSeparators.Replace(strings.TrimSpace(text))
	if len(stripped) < 4 || len(stripped) > 6 {
		return "", false
	}
	for _, r := range stripped {
		if r < '0' || r > '9' {
			return "", false
		}
	}
	return stripped, true
}

// looksLikeEmail is deliberately permissive: presence of "@" and "." only.
// The platform is the real validator.
func looksLikeEmail(text string) bool {
	return strings.Contains(text, "@") && strings.Contains(text, ".") && !strings.ContainsAny(text, " \n")
}

// mintLink best-effort mints a magic link for fallback wording. An empty
// string just drops the suffix from the reply.
func (n *Negotiator) mintLink(ctx context.Context, phone, chatID string) string {
	if n.links == nil {
		return ""
	}
	link, err := n.links.Mint(ctx, phone, chatID)
	if err != nil {
		n.logger.Warn("magic link mint failed",
			"user", platform.RedactPhone(phone), "error", err)
		return ""
	}
	return link
}

func linkSuffix(link string) string {
	if link == "" {
		return "."
	}
	return ", or connect through this link: " + link
}
