package vault

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/lucasvidela/maitre/pkg/maitre/platform"
	"github.com/lucasvidela/maitre/pkg/maitre/store"
)

// Store partitions owned by the vault.
const (
	partCreds     = "creds"
	partSignedOut = "signedout"
	partOnboarded = "onboarded"
	partUser      = "user"
)

// JustOnboardedTTL bounds how long the one-shot welcome framing survives
// after credentials are first stored.
const JustOnboardedTTL = 10 * time.Minute

// Credentials is the decrypted per-user platform credential.
type Credentials struct {
	AuthToken string `json:"auth_token"`
	FirstName string `json:"first_name,omitempty"`
	Email     string `json:"email,omitempty"`
}

// User is the per-phone account record. Created on first contact, touched
// on every message.
type User struct {
	PhoneNumber        string    `json:"phone_number"`
	CreatedAt          time.Time `json:"created_at"`
	LastActive         time.Time `json:"last_active"`
	OnboardingComplete bool      `json:"onboarding_complete"`
}

// Vault owns encrypted credential records and the flags around them.
type Vault struct {
	store  store.Store
	cipher *Cipher
	logger *slog.Logger
}

// New creates a vault on top of the given store and cipher.
func New(s store.Store, cipher *Cipher, logger *slog.Logger) *Vault {
	return &Vault{
		store:  s,
		cipher: cipher,
		logger: logger.With("component", "vault"),
	}
}

// GetCredentials returns the user's credentials, or nil when absent.
// A decryption failure is logged and treated as "no credentials" — a
// corrupt record must never crash a request.
func (v *Vault) GetCredentials(ctx context.Context, phone string) (*Credentials, error) {
	blob, found, err := v.store.Get(ctx, credsKey(phone))
	if err != nil {
		return nil, fmt.Errorf("reading credentials: %w", err)
	}
	if !found {
		return nil, nil
	}

	plaintext, err := v.cipher.Decrypt(string(blob))
	if err != nil {
		v.logger.Error("credential decryption failed, treating as absent",
			"user", platform.RedactPhone(phone),
			"error", err,
		)
		return nil, nil
	}

	var creds Credentials
	if err := json.Unmarshal(plaintext, &creds); err != nil {
		v.logger.Error("credential record malformed, treating as absent",
			"user", platform.RedactPhone(phone),
			"error", err,
		)
		return nil, nil
	}
	return &creds, nil
}

// SetCredentials encrypts and stores creds, marks onboarding complete,
// clears any signed-out override (storing credentials is by definition a
// successful re-auth) and arms the one-shot just-onboarded flag.
func (v *Vault) SetCredentials(ctx context.Context, phone string, creds Credentials) error {
	plaintext, err := json.Marshal(creds)
	if err != nil {
		return fmt.Errorf("marshaling credentials: %w", err)
	}

	blob, err := v.cipher.Encrypt(plaintext)
	if err != nil {
		return fmt.Errorf("encrypting credentials: %w", err)
	}

	if err := v.store.Put(ctx, credsKey(phone), []byte(blob), 0); err != nil {
		return fmt.Errorf("storing credentials: %w", err)
	}

	if err := v.ClearSignedOut(ctx, phone); err != nil {
		return err
	}
	if err := v.setOnboardingComplete(ctx, phone, true); err != nil {
		return err
	}
	if err := v.store.Put(ctx, onboardedKey(phone), []byte("1"), JustOnboardedTTL); err != nil {
		return fmt.Errorf("arming just-onboarded flag: %w", err)
	}

	v.logger.Info("credentials stored", "user", platform.RedactPhone(phone))
	return nil
}

// ClearCredentials deletes the credential record, sets the signed-out
// override and marks onboarding incomplete. This is the only path that
// sets signed-out.
func (v *Vault) ClearCredentials(ctx context.Context, phone string) error {
	if err := v.store.Delete(ctx, credsKey(phone)); err != nil {
		return fmt.Errorf("deleting credentials: %w", err)
	}
	if err := v.store.Put(ctx, signedOutKey(phone), []byte("1"), 0); err != nil {
		return fmt.Errorf("setting signed-out flag: %w", err)
	}
	if err := v.setOnboardingComplete(ctx, phone, false); err != nil {
		return err
	}

	v.logger.Info("credentials cleared", "user", platform.RedactPhone(phone))
	return nil
}

// IsSignedOut reports whether the user explicitly signed out.
func (v *Vault) IsSignedOut(ctx context.Context, phone string) (bool, error) {
	_, found, err := v.store.Get(ctx, signedOutKey(phone))
	if err != nil {
		return false, fmt.Errorf("reading signed-out flag: %w", err)
	}
	return found, nil
}

// ClearSignedOut removes the signed-out override.
func (v *Vault) ClearSignedOut(ctx context.Context, phone string) error {
	if err := v.store.Delete(ctx, signedOutKey(phone)); err != nil {
		return fmt.Errorf("clearing signed-out flag: %w", err)
	}
	return nil
}

// ConsumeJustOnboarded returns true at most once per SetCredentials call.
// The read-and-delete is atomic in the store, so two concurrent readers
// cannot both observe the flag.
func (v *Vault) ConsumeJustOnboarded(ctx context.Context, phone string) (bool, error) {
	_, found, err := v.store.Consume(ctx, onboardedKey(phone))
	if err != nil {
		return false, fmt.Errorf("consuming just-onboarded flag: %w", err)
	}
	return found, nil
}

// ---------- User records ----------

// EnsureUser returns the user record for phone, creating it on first
// contact. LastActive is refreshed on every call.
func (v *Vault) EnsureUser(ctx context.Context, phone string) (*User, error) {
	var user User
	err := v.store.Update(ctx, userKey(phone), func(old []byte, found bool) ([]byte, time.Duration, error) {
		now := time.Now().UTC()
		if found {
			if err := json.Unmarshal(old, &user); err != nil {
				return nil, 0, fmt.Errorf("parsing user record: %w", err)
			}
		} else {
			user = User{PhoneNumber: phone, CreatedAt: now}
			v.logger.Info("new user", "user", platform.RedactPhone(phone))
		}
		user.LastActive = now

		next, err := json.Marshal(user)
		return next, 0, err
	})
	if err != nil {
		return nil, err
	}
	return &user, nil
}

func (v *Vault) setOnboardingComplete(ctx context.Context, phone string, complete bool) error {
	return v.store.Update(ctx, userKey(phone), func(old []byte, found bool) ([]byte, time.Duration, error) {
		var user User
		now := time.Now().UTC()
		if found {
			if err := json.Unmarshal(old, &user); err != nil {
				return nil, 0, fmt.Errorf("parsing user record: %w", err)
			}
		} else {
			user = User{PhoneNumber: phone, CreatedAt: now, LastActive: now}
		}
		user.OnboardingComplete = complete

		next, err := json.Marshal(user)
		return next, 0, err
	})
}

func credsKey(phone string) store.Key     { return store.Key{Partition: partCreds, Sort: phone} }
func signedOutKey(phone string) store.Key { return store.Key{Partition: partSignedOut, Sort: phone} }
func onboardedKey(phone string) store.Key { return store.Key{Partition: partOnboarded, Sort: phone} }
func userKey(phone string) store.Key      { return store.Key{Partition: partUser, Sort: phone} }
