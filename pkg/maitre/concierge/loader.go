// loader.go handles loading configuration from YAML files with secret
// management via environment variables and .env files.
package concierge

import (
	"fmt"
	"log/slog"
	"os"
	"regexp"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// envVarPattern matches ${VAR_NAME} or $VAR_NAME in config values.
var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}|\$([A-Z_][A-Z0-9_]*)`)

// LoadConfigFromFile reads and parses a YAML configuration file.
// Automatically loads .env files and expands environment variables.
func LoadConfigFromFile(path string) (*Config, error) {
	// Load .env files (silently ignore if not found).
	loadEnvFiles()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Expand environment variables in YAML before parsing.
	expanded := expandEnvVars(string(data))

	cfg, err := ParseConfig([]byte(expanded))
	if err != nil {
		return nil, err
	}

	// Resolve secrets from environment (override empty/placeholder values).
	resolveSecrets(cfg)

	checkFilePermissions(path)

	return cfg, nil
}

// ParseConfig parses YAML bytes into a Config.
// Starts with defaults and overlays values from the YAML.
func ParseConfig(data []byte) (*Config, error) {
	cfg := DefaultConfig()

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config YAML: %w", err)
	}

	return cfg, nil
}

// SaveConfigToFile writes a Config as YAML to the specified path.
// Secrets are replaced with environment variable references.
func SaveConfigToFile(cfg *Config, path string) error {
	sanitized := *cfg
	sanitized.LLM.APIKey = sanitizeSecret(cfg.LLM.APIKey, "MAITRE_LLM_API_KEY")
	sanitized.Platform.APIKey = sanitizeSecret(cfg.Platform.APIKey, "MAITRE_PLATFORM_API_KEY")
	sanitized.Gateway.APIKey = sanitizeSecret(cfg.Gateway.APIKey, "MAITRE_GATEWAY_API_KEY")
	sanitized.Auth.EncryptionKey = sanitizeSecret(cfg.Auth.EncryptionKey, "MAITRE_ENCRYPTION_KEY")

	data, err := yaml.Marshal(&sanitized)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}

	// Write with restricted permissions (owner read/write only).
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	return nil
}

// FindConfigFile searches for config files in standard locations.
func FindConfigFile() string {
	candidates := []string{
		"config.yaml",
		"config.yml",
		"maitre.yaml",
		"maitre.yml",
		"configs/config.yaml",
		"configs/maitre.yaml",
	}

	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}

	return ""
}

// ---------- Internal ----------

// loadEnvFiles loads .env files from standard locations.
func loadEnvFiles() {
	envFiles := []string{
		".env",
		".env.local",
	}

	for _, f := range envFiles {
		// godotenv.Load does NOT overwrite existing env vars.
		_ = godotenv.Load(f)
	}
}

// expandEnvVars replaces ${VAR} and $VAR references in a string
// with their environment variable values.
func expandEnvVars(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		var varName string
		if strings.HasPrefix(match, "${") {
			varName = match[2 : len(match)-1]
		} else {
			varName = match[1:]
		}

		if val, ok := os.LookupEnv(varName); ok {
			return val
		}

		// Return original if env var not set (allows placeholder to remain).
		return match
	})
}

// resolveSecrets fills in config secrets from environment variables
// when the config value is empty or a placeholder.
func resolveSecrets(cfg *Config) {
	if cfg.LLM.APIKey == "" || IsEnvReference(cfg.LLM.APIKey) {
		if key := os.Getenv("MAITRE_LLM_API_KEY"); key != "" {
			cfg.LLM.APIKey = key
		} else if key := os.Getenv("OPENAI_API_KEY"); key != "" {
			cfg.LLM.APIKey = key
		}
	}
	if cfg.Platform.APIKey == "" || IsEnvReference(cfg.Platform.APIKey) {
		if key := os.Getenv("MAITRE_PLATFORM_API_KEY"); key != "" {
			cfg.Platform.APIKey = key
		}
	}
	if cfg.Gateway.APIKey == "" || IsEnvReference(cfg.Gateway.APIKey) {
		if key := os.Getenv("MAITRE_GATEWAY_API_KEY"); key != "" {
			cfg.Gateway.APIKey = key
		}
	}
	if cfg.Auth.EncryptionKey == "" || IsEnvReference(cfg.Auth.EncryptionKey) {
		if key := os.Getenv("MAITRE_ENCRYPTION_KEY"); key != "" {
			cfg.Auth.EncryptionKey = key
		}
	}
}

// sanitizeSecret replaces a real secret with an env var reference
// for safe storage in config files.
func sanitizeSecret(value, envVar string) string {
	if value == "" || IsEnvReference(value) {
		return value
	}
	if os.Getenv(envVar) == value {
		return "${" + envVar + "}"
	}
	return value
}

// IsEnvReference checks if a string is an environment variable reference.
func IsEnvReference(s string) bool {
	return strings.HasPrefix(s, "${") || strings.HasPrefix(s, "$")
}

// checkFilePermissions warns if config file is world-readable.
func checkFilePermissions(path string) {
	info, err := os.Stat(path)
	if err != nil {
		return
	}

	mode := info.Mode().Perm()
	// Warn if group or others can read (on Unix).
	if mode&0o044 != 0 {
		slog.Warn("config file has open permissions, consider restricting",
			"path", path,
			"current", fmt.Sprintf("%04o", mode),
			"recommended", "0600",
			"fix", fmt.Sprintf("chmod 600 %s", path),
		)
	}
}
