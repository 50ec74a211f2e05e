// context.go resolves "does this sender have usable credentials right now",
// merging per-user credentials, the optional global fallback credential,
// and the explicit signed-out override.
package auth

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/lucasvidela/maitre/pkg/maitre/platform"
	"github.com/lucasvidela/maitre/pkg/maitre/vault"
)

// UserContext is a resolved sender: their account record and the credential
// to call the platform with. Fallback marks the shared credential path.
type UserContext struct {
	User        *vault.User
	Credentials *vault.Credentials
	Fallback    bool
}

// ContextLoader resolves user contexts against the vault.
type ContextLoader struct {
	vault            *vault.Vault
	globalCredential string
	logger           *slog.Logger
}

// NewContextLoader creates a loader. globalCredential may be empty, which
// disables the fallback path entirely.
func NewContextLoader(v *vault.Vault, globalCredential string, logger *slog.Logger) *ContextLoader {
	return &ContextLoader{
		vault:            v,
		globalCredential: globalCredential,
		logger:           logger.With("component", "auth.context"),
	}
}

// Load resolves credentials for phone. Resolution order:
//  1. per-user stored credentials,
//  2. the global fallback credential — unless the user explicitly signed
//     out, which is a hard override and a safety property, not an
//     optimization,
//  3. nil, which routes the sender into the auth state machine.
func (l *ContextLoader) Load(ctx context.Context, phone string) (*UserContext, error) {
	creds, err := l.vault.GetCredentials(ctx, phone)
	if err != nil {
		return nil, err
	}
	if creds != nil {
		user, err := l.vault.EnsureUser(ctx, phone)
		if err != nil {
			return nil, err
		}
		return &UserContext{User: user, Credentials: creds}, nil
	}

	if l.globalCredential == "" {
		return nil, nil
	}

	signedOut, err := l.vault.IsSignedOut(ctx, phone)
	if err != nil {
		return nil, err
	}
	if signedOut {
		l.logger.Debug("fallback credential suppressed by sign-out",
			"user", platform.RedactPhone(phone))
		return nil, nil
	}

	user, err := l.vault.EnsureUser(ctx, phone)
	if err != nil {
		return nil, fmt.Errorf("synthesizing user for fallback: %w", err)
	}
	return &UserContext{
		User:        user,
		Credentials: &vault.Credentials{AuthToken: l.globalCredential},
		Fallback:    true,
	}, nil
}
