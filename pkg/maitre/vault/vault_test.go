package vault

import (
	"context"
	"testing"

	"github.com/lucasvidela/maitre/pkg/maitre/store"
)

func newTestVault(t *testing.T) *Vault {
	t.Helper()
	return New(store.NewMemoryStore(), NewCipher("test passphrase", testLogger()), testLogger())
}

func TestVault_CredentialLifecycle(t *testing.T) {
	v := newTestVault(t)
	ctx := context.Background()
	phone := "15551234567"

	t.Run("absent before set", func(t *testing.T) {
		creds, err := v.GetCredentials(ctx, phone)
		if err != nil {
			t.Fatalf("GetCredentials failed: %v", err)
		}
		if creds != nil {
			t.Fatal("expected no credentials")
		}
	})

	t.Run("set and get", func(t *testing.T) {
		err := v.SetCredentials(ctx, phone, Credentials{AuthToken: "tok-123", FirstName: "Lina"})
		if err != nil {
			t.Fatalf("SetCredentials failed: %v", err)
		}

		creds, err := v.GetCredentials(ctx, phone)
		if err != nil {
			t.Fatalf("GetCredentials failed: %v", err)
		}
		if creds == nil || creds.AuthToken != "tok-123" || creds.FirstName != "Lina" {
			t.Errorf("unexpected credentials: %+v", creds)
		}

		user, err := v.EnsureUser(ctx, phone)
		if err != nil {
			t.Fatalf("EnsureUser failed: %v", err)
		}
		if !user.OnboardingComplete {
			t.Error("onboarding should be complete after SetCredentials")
		}
	})

	t.Run("clear sets signed-out", func(t *testing.T) {
		if err := v.ClearCredentials(ctx, phone); err != nil {
			t.Fatalf("ClearCredentials failed: %v", err)
		}

		creds, err := v.GetCredentials(ctx, phone)
		if err != nil {
			t.Fatalf("GetCredentials failed: %v", err)
		}
		if creds != nil {
			t.Error("credentials should be gone")
		}

		signedOut, err := v.IsSignedOut(ctx, phone)
		if err != nil {
			t.Fatalf("IsSignedOut failed: %v", err)
		}
		if !signedOut {
			t.Error("signed-out flag should be set")
		}

		user, err := v.EnsureUser(ctx, phone)
		if err != nil {
			t.Fatalf("EnsureUser failed: %v", err)
		}
		if user.OnboardingComplete {
			t.Error("onboarding should be incomplete after clear")
		}
	})

	t.Run("re-auth clears signed-out", func(t *testing.T) {
		if err := v.SetCredentials(ctx, phone, Credentials{AuthToken: "tok-456"}); err != nil {
			t.Fatalf("SetCredentials failed: %v", err)
		}

		signedOut, err := v.IsSignedOut(ctx, phone)
		if err != nil {
			t.Fatalf("IsSignedOut failed: %v", err)
		}
		if signedOut {
			t.Error("signed-out flag should be cleared by re-auth")
		}
	})
}

func TestVault_ConsumeJustOnboardedOnce(t *testing.T) {
	v := newTestVault(t)
	ctx := context.Background()
	phone := "15551234567"

	if err := v.SetCredentials(ctx, phone, Credentials{AuthToken: "tok"}); err != nil {
		t.Fatalf("SetCredentials failed: %v", err)
	}

	first, err := v.ConsumeJustOnboarded(ctx, phone)
	if err != nil {
		t.Fatalf("ConsumeJustOnboarded failed: %v", err)
	}
	if !first {
		t.Fatal("first consume should observe the flag")
	}

	second, err := v.ConsumeJustOnboarded(ctx, phone)
	if err != nil {
		t.Fatalf("ConsumeJustOnboarded failed: %v", err)
	}
	if second {
		t.Error("second consume must not observe the flag")
	}
}

func TestVault_CorruptBlobTreatedAsAbsent(t *testing.T) {
	s := store.NewMemoryStore()
	v := New(s, NewCipher("test passphrase", testLogger()), testLogger())
	ctx := context.Background()
	phone := "15551234567"

	// Simulate a record encrypted under a different key.
	other := New(s, NewCipher("another passphrase", testLogger()), testLogger())
	if err := other.SetCredentials(ctx, phone, Credentials{AuthToken: "tok"}); err != nil {
		t.Fatalf("SetCredentials failed: %v", err)
	}

	creds, err := v.GetCredentials(ctx, phone)
	if err != nil {
		t.Fatalf("GetCredentials should not error on corrupt record: %v", err)
	}
	if creds != nil {
		t.Error("undecryptable record must read as absent")
	}
}
