package commands

import (
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/lucasvidela/maitre/pkg/maitre/concierge"
	"github.com/spf13/cobra"
)

// newSetupCmd creates the `maitre setup` command for interactive configuration.
func newSetupCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "setup",
		Short: "Interactive setup wizard",
		Long: `Starts an interactive wizard to create your initial config.yaml.
Asks for the assistant name, LLM endpoint, reservation platform and relay
settings. Secrets go to the OS keyring, never into config.yaml.

Examples:
  maitre setup`,
		RunE: runSetup,
	}
}

func runSetup(_ *cobra.Command, _ []string) error {
	cfg := concierge.DefaultConfig()

	var (
		llmKey        string
		encryptionKey string
		save          = true
	)

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Assistant name").
				Value(&cfg.Name),
			huh.NewInput().
				Title("LLM base URL (OpenAI-compatible)").
				Value(&cfg.LLM.BaseURL),
			huh.NewInput().
				Title("LLM model").
				Value(&cfg.LLM.Model),
			huh.NewInput().
				Title("LLM API key").
				Description("Stored in the OS keyring, not in config.yaml. Leave empty to set later.").
				EchoMode(huh.EchoModePassword).
				Value(&llmKey),
		),
		huh.NewGroup(
			huh.NewInput().
				Title("Reservation platform base URL").
				Value(&cfg.Platform.BaseURL),
			huh.NewInput().
				Title("Reservation platform API key").
				EchoMode(huh.EchoModePassword).
				Value(&cfg.Platform.APIKey),
			huh.NewInput().
				Title("Message relay base URL").
				Value(&cfg.Gateway.BaseURL),
			huh.NewInput().
				Title("Message relay API key").
				EchoMode(huh.EchoModePassword).
				Value(&cfg.Gateway.APIKey),
			huh.NewInput().
				Title("Concierge phone number").
				Description("The number the relay sends from, digits only with country code.").
				Validate(func(s string) error {
					if s == "" {
						return nil
					}
					if len(normalizePhone(s)) < 10 {
						return fmt.Errorf("number seems too short, include the country code")
					}
					return nil
				}).
				Value(&cfg.Gateway.FromNumber),
		),
		huh.NewGroup(
			huh.NewSelect[string]().
				Title("Storage backend").
				Options(
					huh.NewOption("SQLite (single file, default)", "sqlite"),
					huh.NewOption("Redis", "redis"),
					huh.NewOption("In-memory (testing only)", "memory"),
				).
				Value(&cfg.Store.Type),
			huh.NewInput().
				Title("Credential encryption key").
				Description("32 base64 bytes or a passphrase. Empty means dev-only plaintext storage.").
				EchoMode(huh.EchoModePassword).
				Value(&encryptionKey),
			huh.NewInput().
				Title("Public base URL for onboarding links").
				Placeholder("https://maitre.example.com").
				Value(&cfg.Auth.MagicLinkBaseURL),
		),
		huh.NewGroup(
			huh.NewConfirm().
				Title("Save to config.yaml?").
				Value(&save),
		),
	)

	if err := form.Run(); err != nil {
		return fmt.Errorf("setup: %w", err)
	}
	if !save {
		fmt.Println("Setup cancelled.")
		return nil
	}

	cfg.Gateway.FromNumber = normalizePhone(cfg.Gateway.FromNumber)

	// Secrets go to the keyring; config.yaml only keeps references.
	if llmKey != "" {
		if err := storeSecret(concierge.KeyringLLMAPIKey, llmKey); err != nil {
			fmt.Printf("Could not store the LLM key in the OS keyring: %v\n", err)
			fmt.Println("Set it later with: maitre secret set " + concierge.KeyringLLMAPIKey)
		}
		cfg.LLM.APIKey = "${MAITRE_LLM_API_KEY}"
	}
	if encryptionKey != "" {
		if err := storeSecret(concierge.KeyringEncryptionKey, encryptionKey); err != nil {
			fmt.Printf("Could not store the encryption key in the OS keyring: %v\n", err)
			fmt.Println("Set it later with: maitre secret set " + concierge.KeyringEncryptionKey)
		}
		cfg.Auth.EncryptionKey = "${MAITRE_ENCRYPTION_KEY}"
	}

	target := "config.yaml"
	if _, err := os.Stat(target); err == nil {
		overwrite := false
		confirm := huh.NewConfirm().
			Title(target + " already exists. Overwrite?").
			Value(&overwrite)
		if err := confirm.Run(); err != nil {
			return err
		}
		if !overwrite {
			fmt.Println("Setup cancelled. Existing file kept.")
			return nil
		}
	}

	if err := concierge.SaveConfigToFile(cfg, target); err != nil {
		return fmt.Errorf("saving config: %w", err)
	}

	fmt.Println()
	fmt.Println("config.yaml created (permissions 600, no secrets inside).")
	fmt.Println()
	fmt.Println("Next steps:")
	fmt.Println("  1. Point your relay's webhook at " + cfg.Web.Listen + "/webhook")
	fmt.Println("  2. Run: maitre serve")
	fmt.Println()
	return nil
}

func storeSecret(name, value string) error {
	if !concierge.KeyringAvailable() {
		return fmt.Errorf("OS keyring unavailable")
	}
	return concierge.StoreKeyring(name, value)
}

// normalizePhone removes common phone number formatting characters.
func normalizePhone(phone string) string {
	phone = strings.ReplaceAll(phone, "+", "")
	phone = strings.ReplaceAll(phone, " ", "")
	phone = strings.ReplaceAll(phone, "-", "")
	phone = strings.ReplaceAll(phone, "(", "")
	phone = strings.ReplaceAll(phone, ")", "")
	return phone
}
