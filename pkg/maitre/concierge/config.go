// Package concierge is the conversational core: per-message pipeline, the
// LLM tool-use loop, the reservation toolbox, and the group-chat
// classifier, plus the configuration that wires the whole service.
package concierge

// Config holds all service configuration.
type Config struct {
	// Name is the assistant persona name used in prompts and replies.
	Name string `yaml:"name"`

	// LLM configures the language-model endpoint.
	LLM LLMConfig `yaml:"llm"`

	// Platform configures the reservation platform client.
	Platform PlatformConfig `yaml:"platform"`

	// Gateway configures the message relay client.
	Gateway GatewayConfig `yaml:"gateway"`

	// Store configures the persistence backend.
	Store StoreConfig `yaml:"store"`

	// Auth configures credential encryption and magic links.
	Auth AuthConfig `yaml:"auth"`

	// Web configures the onboarding/webhook HTTP server.
	Web WebConfig `yaml:"web"`

	// Engine configures the tool-use loop.
	Engine EngineConfig `yaml:"engine"`

	// Logging configures log output.
	Logging LoggingConfig `yaml:"logging"`
}

// LLMConfig configures the OpenAI-compatible completion endpoint.
type LLMConfig struct {
	BaseURL string `yaml:"base_url"`
	APIKey  string `yaml:"api_key"`
	Model   string `yaml:"model"`
}

// PlatformConfig configures the reservation platform.
type PlatformConfig struct {
	BaseURL string `yaml:"base_url"`
	APIKey  string `yaml:"api_key"`

	// GlobalCredential is an optional shared fallback credential used for
	// senders who never connected an account (and have not signed out).
	GlobalCredential string `yaml:"global_credential"`
}

// GatewayConfig configures the message relay.
type GatewayConfig struct {
	BaseURL    string `yaml:"base_url"`
	APIKey     string `yaml:"api_key"`
	FromNumber string `yaml:"from_number"`
}

// StoreConfig selects and configures the persistence backend.
type StoreConfig struct {
	// Type is "redis", "sqlite" or "memory".
	Type string `yaml:"type"`

	// RedisURL is the connection URL for the redis backend.
	RedisURL string `yaml:"redis_url"`

	// Path is the database file for the sqlite backend.
	Path string `yaml:"path"`
}

// AuthConfig configures credential storage and the magic-link path.
type AuthConfig struct {
	// EncryptionKey is 32 base64 bytes or a passphrase. Empty enables the
	// dev-only plain encoding (loudly logged).
	EncryptionKey string `yaml:"encryption_key"`

	// MagicLinkBaseURL is the public URL prefix for onboarding links.
	MagicLinkBaseURL string `yaml:"magic_link_base_url"`

	// MagicLinkTTLMinutes bounds link validity (default 15).
	MagicLinkTTLMinutes int `yaml:"magic_link_ttl_minutes"`
}

// WebConfig configures the HTTP server.
type WebConfig struct {
	Listen string `yaml:"listen"`
}

// EngineConfig configures the tool-use loop.
type EngineConfig struct {
	// MaxToolRounds bounds data-tool round trips per reply (default 5).
	MaxToolRounds int `yaml:"max_tool_rounds"`
}

// LoggingConfig configures logging.
type LoggingConfig struct {
	// Level is "debug", "info", "warn" or "error".
	Level string `yaml:"level"`

	// Format is "json" or "text".
	Format string `yaml:"format"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Name: "Maitre",
		LLM: LLMConfig{
			BaseURL: "https://api.openai.com/v1",
			Model:   "gpt-4o",
		},
		Platform: PlatformConfig{
			BaseURL: "https://api.reservations.example.com",
		},
		Gateway: GatewayConfig{
			BaseURL: "https://api.relay.example.com",
		},
		Store: StoreConfig{
			Type: "sqlite",
			Path: "./data/maitre.db",
		},
		Auth: AuthConfig{
			MagicLinkTTLMinutes: 15,
		},
		Web: WebConfig{
			Listen: ":8080",
		},
		Engine: EngineConfig{
			MaxToolRounds: 5,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}
