// keyring.go provides secret storage using the operating system's native
// keyring (Linux: Secret Service/GNOME Keyring, macOS: Keychain, Windows:
// Credential Manager).
//
// Priority for resolving secrets:
//  1. Environment variable (MAITRE_ENCRYPTION_KEY, MAITRE_LLM_API_KEY, ...)
//  2. OS keyring (encrypted by the OS, requires user session)
//  3. .env file (loaded by godotenv)
//  4. config.yaml value (least secure — plaintext on disk)
package concierge

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/zalando/go-keyring"
	"golang.org/x/term"
)

const (
	// keyringService is the service name used in the OS keyring.
	keyringService = "maitre"

	// KeyringLLMAPIKey is the keyring entry for the LLM API key.
	KeyringLLMAPIKey = "llm_api_key"

	// KeyringEncryptionKey is the keyring entry for the credential
	// encryption key.
	KeyringEncryptionKey = "encryption_key"
)

// StoreKeyring saves a secret to the OS keyring.
func StoreKeyring(key, value string) error {
	return keyring.Set(keyringService, key, value)
}

// GetKeyring retrieves a secret from the OS keyring.
// Returns empty string if not found.
func GetKeyring(key string) string {
	val, err := keyring.Get(keyringService, key)
	if err != nil {
		return ""
	}
	return val
}

// DeleteKeyring removes a secret from the OS keyring.
func DeleteKeyring(key string) error {
	return keyring.Delete(keyringService, key)
}

// KeyringAvailable checks if the OS keyring is accessible.
func KeyringAvailable() bool {
	testKey := "__maitre_test__"
	if err := keyring.Set(keyringService, testKey, "test"); err != nil {
		return false
	}
	_ = keyring.Delete(keyringService, testKey)
	return true
}

// ResolveSecrets fills in the LLM API key and the credential encryption key
// from the OS keyring when neither the environment nor the config provided
// them. Env/config values (already resolved by the loader) win.
func ResolveSecrets(cfg *Config, logger *slog.Logger) {
	if cfg.LLM.APIKey == "" || IsEnvReference(cfg.LLM.APIKey) {
		if val := GetKeyring(KeyringLLMAPIKey); val != "" {
			cfg.LLM.APIKey = val
			logger.Debug("LLM API key loaded from OS keyring")
		}
	}
	if cfg.Auth.EncryptionKey == "" || IsEnvReference(cfg.Auth.EncryptionKey) {
		if val := GetKeyring(KeyringEncryptionKey); val != "" {
			cfg.Auth.EncryptionKey = val
			logger.Debug("encryption key loaded from OS keyring")
		}
	}

	if cfg.LLM.APIKey == "" {
		logger.Warn("no LLM API key found. Set one with: maitre secret set " + KeyringLLMAPIKey)
	}
}

// ReadPassword reads a secret from the terminal without echoing.
// Falls back to regular stdin reading if no terminal is available.
func ReadPassword(prompt string) (string, error) {
	fmt.Print(prompt)

	fd := int(os.Stdin.Fd())
	if term.IsTerminal(fd) {
		secret, err := term.ReadPassword(fd)
		fmt.Println()
		if err != nil {
			return "", fmt.Errorf("reading password: %w", err)
		}
		return strings.TrimSpace(string(secret)), nil
	}

	// Piped input (with echo).
	var buf [1024]byte
	n, err := os.Stdin.Read(buf[:])
	if err != nil {
		return "", fmt.Errorf("reading password: %w", err)
	}
	fmt.Println()
	return strings.TrimSpace(string(buf[:n])), nil
}

// MigrateKeyToKeyring moves a secret from config/env into the OS keyring.
func MigrateKeyToKeyring(key, value string, logger *slog.Logger) error {
	if err := StoreKeyring(key, value); err != nil {
		return fmt.Errorf("storing in keyring: %w", err)
	}
	logger.Info("secret stored in OS keyring",
		"service", keyringService,
		"key", key,
		"hint", "You can now remove it from .env and config.yaml")
	return nil
}
