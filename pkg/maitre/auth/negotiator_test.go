package auth

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/lucasvidela/maitre/pkg/maitre/platform"
	"github.com/lucasvidela/maitre/pkg/maitre/store"
	"github.com/lucasvidela/maitre/pkg/maitre/vault"
)

// fakePlatform scripts the auth surface of the platform client.
type fakePlatform struct {
	sendOTPErr   error
	sendOTPCalls int

	verifyResult *platform.AuthResult
	verifyErr    error
	verifyCalls  int

	claimToken string
	claimErr   error

	challengeToken string
	challengeErr   error
	challengeCalls int

	profile *platform.Profile
}

func (f *fakePlatform) SendOTP(context.Context, string) error {
	f.sendOTPCalls++
	return f.sendOTPErr
}

func (f *fakePlatform) VerifyOTP(context.Context, string, string) (*platform.AuthResult, error) {
	f.verifyCalls++
	return f.verifyResult, f.verifyErr
}

func (f *fakePlatform) CompleteChallenge(context.Context, string, string, []string) (string, error) {
	f.challengeCalls++
	return f.challengeToken, f.challengeErr
}

func (f *fakePlatform) ClaimExchange(context.Context, string) (string, error) {
	return f.claimToken, f.claimErr
}

func (f *fakePlatform) GetProfile(context.Context, string) (*platform.Profile, error) {
	return f.profile, nil
}

type negotiatorFixture struct {
	negotiator *Negotiator
	vault      *vault.Vault
	platform   *fakePlatform
	store      *store.MemoryStore
}

func newNegotiatorFixture(t *testing.T) *negotiatorFixture {
	t.Helper()
	s := store.NewMemoryStore()
	v := vault.New(s, vault.NewCipher("test passphrase", testLogger()), testLogger())
	fake := &fakePlatform{}
	links := NewTokenIssuer(s, "https://maitre.test", 15*time.Minute, testLogger())

	return &negotiatorFixture{
		negotiator: NewNegotiator(s, v, fake, links, testLogger()),
		vault:      v,
		platform:   fake,
		store:      s,
	}
}

const testPhone = "15551234567"
const testChat = "chat-1"

// inlineToken matches the bearer shape: three dotted segments, length >= 40.
const inlineToken = "aaaaaaaaaaaaaaaaaa.bbbbbbbbbbbbbbbbbb.cccccccccccccccccc"

func TestNegotiator_InlineToken(t *testing.T) {
	f := newNegotiatorFixture(t)
	ctx := context.Background()

	res, err := f.negotiator.HandleMessage(ctx, testPhone, testChat, inlineToken)
	if err != nil {
		t.Fatalf("HandleMessage failed: %v", err)
	}

	if !res.Authenticated {
		t.Error("inline token should authenticate")
	}
	if f.platform.sendOTPCalls != 0 {
		t.Error("inline token must not trigger an OTP send")
	}
	if len(res.Replies) != 2 {
		t.Fatalf("want two-part welcome, got %d replies", len(res.Replies))
	}
	if !strings.HasPrefix(res.Replies[0], "You're connected") {
		t.Errorf("unexpected greeting %q", res.Replies[0])
	}
	if !strings.Contains(res.Replies[1], "find a table") {
		t.Errorf("second part should suggest an example, got %q", res.Replies[1])
	}

	creds, err := f.vault.GetCredentials(ctx, testPhone)
	if err != nil {
		t.Fatalf("GetCredentials failed: %v", err)
	}
	if creds == nil || creds.AuthToken != inlineToken {
		t.Errorf("token must be stored verbatim, got %+v", creds)
	}
}

func TestNegotiator_OTPHappyPath(t *testing.T) {
	f := newNegotiatorFixture(t)
	ctx := context.Background()

	res, err := f.negotiator.HandleMessage(ctx, testPhone, testChat, "hey can you book me a table?")
	if err != nil {
		t.Fatalf("HandleMessage failed: %v", err)
	}
	if res.Authenticated {
		t.Fatal("first contact must not be authenticated")
	}
	if f.platform.sendOTPCalls != 1 {
		t.Fatalf("want 1 OTP send, got %d", f.platform.sendOTPCalls)
	}
	if !strings.Contains(res.Replies[0], "verification code") {
		t.Errorf("expected code prompt, got %q", res.Replies[0])
	}

	f.platform.verifyResult = &platform.AuthResult{Token: "platform-token"}
	f.platform.profile = &platform.Profile{FirstName: "Lina"}

	res, err = f.negotiator.HandleMessage(ctx, testPhone, testChat, "123 456")
	if err != nil {
		t.Fatalf("HandleMessage failed: %v", err)
	}
	if !res.Authenticated {
		t.Fatal("valid code should authenticate")
	}
	if res.Replies[0] != "You're connected, Lina!" {
		t.Errorf("greeting should use the profile name, got %q", res.Replies[0])
	}

	creds, _ := f.vault.GetCredentials(ctx, testPhone)
	if creds == nil || creds.AuthToken != "platform-token" {
		t.Errorf("unexpected stored credentials %+v", creds)
	}
}

func TestNegotiator_OTPSendOutcomesAreDistinct(t *testing.T) {
	ctx := context.Background()

	f1 := newNegotiatorFixture(t)
	f1.platform.sendOTPErr = platform.ErrRateLimited
	rateLimited, err := f1.negotiator.HandleMessage(ctx, testPhone, testChat, "hi")
	if err != nil {
		t.Fatalf("HandleMessage failed: %v", err)
	}

	f2 := newNegotiatorFixture(t)
	f2.platform.sendOTPErr = &platform.APIError{Status: 500, Body: "boom"}
	failed, err := f2.negotiator.HandleMessage(ctx, testPhone, testChat, "hi")
	if err != nil {
		t.Fatalf("HandleMessage failed: %v", err)
	}

	if !strings.Contains(rateLimited.Replies[0], "rate-limiting") {
		t.Errorf("rate-limited wording missing, got %q", rateLimited.Replies[0])
	}
	if rateLimited.Replies[0] == failed.Replies[0] {
		t.Error("rate-limited and failed sends must read differently")
	}
	for name, r := range map[string]*Result{"rate-limited": rateLimited, "failed": failed} {
		if !strings.Contains(r.Replies[0], "https://maitre.test/onboard?token=") {
			t.Errorf("%s reply should carry a magic link, got %q", name, r.Replies[0])
		}
	}
}

func TestNegotiator_CodeRejectedAllowsRetry(t *testing.T) {
	f := newNegotiatorFixture(t)
	ctx := context.Background()

	if _, err := f.negotiator.HandleMessage(ctx, testPhone, testChat, "hi"); err != nil {
		t.Fatalf("HandleMessage failed: %v", err)
	}

	f.platform.verifyErr = platform.ErrCodeRejected
	res, err := f.negotiator.HandleMessage(ctx, testPhone, testChat, "000000")
	if err != nil {
		t.Fatalf("HandleMessage failed: %v", err)
	}
	if res.Authenticated {
		t.Fatal("rejected code must not authenticate")
	}
	if !strings.Contains(res.Replies[0], "didn't match") {
		t.Errorf("unexpected rejection wording %q", res.Replies[0])
	}

	// Still in OTP_SENT: the next attempt goes to verify, not a new send.
	f.platform.verifyErr = nil
	f.platform.verifyResult = &platform.AuthResult{Token: "tok"}
	res, err = f.negotiator.HandleMessage(ctx, testPhone, testChat, "123456")
	if err != nil {
		t.Fatalf("HandleMessage failed: %v", err)
	}
	if !res.Authenticated {
		t.Error("retry with the right code should authenticate")
	}
	if f.platform.sendOTPCalls != 1 {
		t.Errorf("no extra OTP sends expected, got %d", f.platform.sendOTPCalls)
	}
}

func TestNegotiator_RateLimitedVerifyStaysRecoverable(t *testing.T) {
	f := newNegotiatorFixture(t)
	ctx := context.Background()

	if _, err := f.negotiator.HandleMessage(ctx, testPhone, testChat, "hi"); err != nil {
		t.Fatalf("HandleMessage failed: %v", err)
	}

	f.platform.verifyErr = platform.ErrRateLimited
	res, err := f.negotiator.HandleMessage(ctx, testPhone, testChat, "123456")
	if err != nil {
		t.Fatalf("rate-limited verify must not be a hard failure: %v", err)
	}
	if res.Authenticated {
		t.Fatal("rate-limited verify must not authenticate")
	}
	if len(res.Replies) == 0 || !strings.Contains(res.Replies[0], "rate-limiting") {
		t.Errorf("expected wait-and-retry wording, got %v", res.Replies)
	}

	// Still in OTP_SENT: the same code works once the limit lifts.
	f.platform.verifyErr = nil
	f.platform.verifyResult = &platform.AuthResult{Token: "tok"}
	res, err = f.negotiator.HandleMessage(ctx, testPhone, testChat, "123456")
	if err != nil {
		t.Fatalf("HandleMessage failed: %v", err)
	}
	if !res.Authenticated {
		t.Error("retry after the rate limit should authenticate")
	}
	if f.platform.sendOTPCalls != 1 {
		t.Errorf("no extra OTP sends expected, got %d", f.platform.sendOTPCalls)
	}
}

func TestNegotiator_TransientVerifyReissuesOnce(t *testing.T) {
	f := newNegotiatorFixture(t)
	ctx := context.Background()

	if _, err := f.negotiator.HandleMessage(ctx, testPhone, testChat, "hi"); err != nil {
		t.Fatalf("HandleMessage failed: %v", err)
	}

	f.platform.verifyErr = &platform.APIError{Status: 503, Body: "unavailable"}
	res, err := f.negotiator.HandleMessage(ctx, testPhone, testChat, "123456")
	if err != nil {
		t.Fatalf("HandleMessage failed: %v", err)
	}
	if !strings.Contains(res.Replies[0], "fresh one") {
		t.Errorf("expected reissue wording, got %q", res.Replies[0])
	}
	if f.platform.sendOTPCalls != 2 {
		t.Errorf("want a single reissue (2 sends total), got %d", f.platform.sendOTPCalls)
	}
}

func TestNegotiator_NonCodeInputKeepsWaiting(t *testing.T) {
	f := newNegotiatorFixture(t)
	ctx := context.Background()

	if _, err := f.negotiator.HandleMessage(ctx, testPhone, testChat, "hi"); err != nil {
		t.Fatalf("HandleMessage failed: %v", err)
	}

	res, err := f.negotiator.HandleMessage(ctx, testPhone, testChat, "what was I supposed to do?")
	if err != nil {
		t.Fatalf("HandleMessage failed: %v", err)
	}
	if f.platform.verifyCalls != 0 {
		t.Error("prose must not be submitted as a code")
	}
	if !strings.Contains(res.Replies[0], "verification code") {
		t.Errorf("expected re-prompt, got %q", res.Replies[0])
	}
}

func TestNegotiator_ChallengeExistingUser(t *testing.T) {
	f := newNegotiatorFixture(t)
	ctx := context.Background()

	if _, err := f.negotiator.HandleMessage(ctx, testPhone, testChat, "hi"); err != nil {
		t.Fatalf("HandleMessage failed: %v", err)
	}

	f.platform.verifyResult = &platform.AuthResult{
		Challenge: &platform.Challenge{ID: "ch-1", IsNewUser: false},
	}
	res, err := f.negotiator.HandleMessage(ctx, testPhone, testChat, "123456")
	if err != nil {
		t.Fatalf("HandleMessage failed: %v", err)
	}
	if !strings.Contains(res.Replies[0], "email") {
		t.Errorf("expected email prompt, got %q", res.Replies[0])
	}

	t.Run("wrong email allows retry", func(t *testing.T) {
		f.platform.challengeErr = &platform.APIError{Status: 400, Body: "email mismatch"}
		res, err := f.negotiator.HandleMessage(ctx, testPhone, testChat, "wrong@example.com")
		if err != nil {
			t.Fatalf("HandleMessage failed: %v", err)
		}
		if res.Authenticated {
			t.Fatal("mismatched email must not authenticate")
		}
		if !strings.Contains(res.Replies[0], "another one") {
			t.Errorf("expected retry wording, got %q", res.Replies[0])
		}
	})

	t.Run("right email completes", func(t *testing.T) {
		f.platform.challengeErr = nil
		f.platform.challengeToken = "challenge-token"
		res, err := f.negotiator.HandleMessage(ctx, testPhone, testChat, "right@example.com")
		if err != nil {
			t.Fatalf("HandleMessage failed: %v", err)
		}
		if !res.Authenticated {
			t.Fatal("valid email should authenticate")
		}

		creds, _ := f.vault.GetCredentials(ctx, testPhone)
		if creds == nil || creds.AuthToken != "challenge-token" {
			t.Errorf("unexpected stored credentials %+v", creds)
		}
	})
}

func TestNegotiator_NewUserSilentClaim(t *testing.T) {
	f := newNegotiatorFixture(t)
	ctx := context.Background()

	if _, err := f.negotiator.HandleMessage(ctx, testPhone, testChat, "hi"); err != nil {
		t.Fatalf("HandleMessage failed: %v", err)
	}

	f.platform.verifyResult = &platform.AuthResult{
		Challenge: &platform.Challenge{ID: "ch-1", ClaimToken: "claim-1", IsNewUser: true},
	}
	f.platform.claimToken = "claimed-token"

	res, err := f.negotiator.HandleMessage(ctx, testPhone, testChat, "123456")
	if err != nil {
		t.Fatalf("HandleMessage failed: %v", err)
	}
	if !res.Authenticated {
		t.Fatal("silent claim exchange should authenticate without user input")
	}
	if f.platform.challengeCalls != 0 {
		t.Error("silent claim success must skip the email challenge")
	}
}

func TestNegotiator_NewUserEmailFallbackExhausted(t *testing.T) {
	f := newNegotiatorFixture(t)
	ctx := context.Background()

	if _, err := f.negotiator.HandleMessage(ctx, testPhone, testChat, "hi"); err != nil {
		t.Fatalf("HandleMessage failed: %v", err)
	}

	f.platform.verifyResult = &platform.AuthResult{
		Challenge: &platform.Challenge{ID: "ch-1", ClaimToken: "claim-1", IsNewUser: true},
	}
	f.platform.claimErr = &platform.APIError{Status: 400, Body: "claim expired"}

	if _, err := f.negotiator.HandleMessage(ctx, testPhone, testChat, "123456"); err != nil {
		t.Fatalf("HandleMessage failed: %v", err)
	}

	f.platform.challengeErr = &platform.APIError{Status: 400, Body: "signup failed"}
	res, err := f.negotiator.HandleMessage(ctx, testPhone, testChat, "new@example.com")
	if err != nil {
		t.Fatalf("HandleMessage failed: %v", err)
	}
	if !strings.Contains(res.Replies[0], "paste it here") {
		t.Errorf("expected manual-token instructions, got %q", res.Replies[0])
	}
	if !strings.Contains(res.Replies[0], "https://maitre.test/onboard?token=") {
		t.Errorf("expected a magic link, got %q", res.Replies[0])
	}
}

func TestLooksLikeBearerToken(t *testing.T) {
	cases := []struct {
		text string
		want bool
	}{
		{inlineToken, true},
		{"123456", false},
		{"hey. can you. help", false},
		{"a.b.c", false}, // too short
		{strings.Repeat("x", 50), false},
	}
	for _, tc := range cases {
		if got := LooksLikeBearerToken(tc.text); got != tc.want {
			t.Errorf("LooksLikeBearerToken(%q) = %v, want %v", tc.text, got, tc.want)
		}
	}
}

func TestExtractCode(t *testing.T) {
	cases := []struct {
		text string
		code string
		ok   bool
	}{
		{"123456", "123456", true},
		{"123 456", "123456", true},
		{"12-34", "1234", true},
		{"code is 1234", "", false},
		{"123", "", false},
		{"1234567", "", false},
		{"12a456", "", false},
	}
	for _, tc := range cases {
		code, ok := extractCode(tc.text)
		if code != tc.code || ok != tc.ok {
			t.Errorf("extractCode(%q) = (%q, %v), want (%q, %v)", tc.text, code, ok, tc.code, tc.ok)
		}
	}
}
