// Package vault stores per-user reservation-platform credentials encrypted
// at rest, plus the signed-out and one-shot just-onboarded flags that hang
// off the credential lifecycle.
//
// Encryption is AES-256-GCM. The key comes from config as either 32 raw
// bytes (base64) or a passphrase run through Argon2id. With no key
// configured the vault drops to a dev-only reversible encoding whose
// "plain:" prefix makes it impossible to mistake for ciphertext in storage.
package vault

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"log/slog"
	"strings"

	"golang.org/x/crypto/argon2"
)

const (
	// blobPrefix tags real AES-256-GCM blobs.
	blobPrefix = "v1:"

	// devPrefix tags the unencrypted dev fallback. Deliberately loud.
	devPrefix = "plain:"

	// Argon2id parameters for passphrase-derived keys (OWASP recommended).
	argonTime    = 3
	argonMemory  = 64 * 1024
	argonThreads = 4
	argonKeyLen  = 32 // AES-256

	aesKeyLen = 32
)

// derivationSalt is fixed: the passphrase is a server secret, not a user
// password, so a per-install salt buys nothing and a fixed one keeps the
// derived key stable across restarts.
var derivationSalt = []byte("maitre.credential.v1")

// Cipher encrypts and decrypts credential blobs.
type Cipher struct {
	key     []byte
	devMode bool
	logger  *slog.Logger
}

// NewCipher builds a cipher from the configured key material. Empty
// material enables dev mode, which is logged as a warning at startup.
func NewCipher(keyMaterial string, logger *slog.Logger) *Cipher {
	logger = logger.With("component", "vault.cipher")

	if keyMaterial == "" {
		logger.Warn("no encryption key configured, credentials will be stored with the dev 'plain:' encoding — do not run this in production")
		return &Cipher{devMode: true, logger: logger}
	}

	if raw, err := base64.StdEncoding.DecodeString(keyMaterial); err == nil && len(raw) == aesKeyLen {
		return &Cipher{key: raw, logger: logger}
	}

	logger.Info("deriving encryption key from passphrase")
	key := argon2.IDKey([]byte(keyMaterial), derivationSalt, argonTime, argonMemory, argonThreads, argonKeyLen)
	return &Cipher{key: key, logger: logger}
}

// DevMode reports whether the cipher is running without a real key.
func (c *Cipher) DevMode() bool {
	return c.devMode
}

// Encrypt produces an opaque storable string: "v1:<nonce>:<ciphertext>"
// (both base64, the GCM tag rides inside the ciphertext), or the tagged
// dev encoding when no key is configured.
func (c *Cipher) Encrypt(plaintext []byte) (string, error) {
	if c.devMode {
		return devPrefix + base64.StdEncoding.EncodeToString(plaintext), nil
	}

	block, err := aes.NewCipher(c.key)
	if err != nil {
		return "", err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("generating nonce: %w", err)
	}

	ciphertext := gcm.Seal(nil, nonce, plaintext, nil)

	return blobPrefix +
		base64.StdEncoding.EncodeToString(nonce) + ":" +
		base64.StdEncoding.EncodeToString(ciphertext), nil
}

// Decrypt reverses Encrypt. It fails closed: tampering, a wrong key, or a
// malformed blob all return an error, never a wrong-but-plausible value.
func (c *Cipher) Decrypt(blob string) ([]byte, error) {
	if strings.HasPrefix(blob, devPrefix) {
		return base64.StdEncoding.DecodeString(strings.TrimPrefix(blob, devPrefix))
	}

	if !strings.HasPrefix(blob, blobPrefix) {
		return nil, fmt.Errorf("unrecognized credential blob format")
	}
	if c.devMode {
		return nil, fmt.Errorf("encrypted blob present but no key configured")
	}

	parts := strings.SplitN(strings.TrimPrefix(blob, blobPrefix), ":", 2)
	if len(parts) != 2 {
		return nil, fmt.Errorf("malformed credential blob")
	}

	nonce, err := base64.StdEncoding.DecodeString(parts[0])
	if err != nil {
		return nil, fmt.Errorf("decoding nonce: %w", err)
	}
	ciphertext, err := base64.StdEncoding.DecodeString(parts[1])
	if err != nil {
		return nil, fmt.Errorf("decoding ciphertext: %w", err)
	}

	block, err := aes.NewCipher(c.key)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}

	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("decryption failed: %w", err)
	}
	return plaintext, nil
}
