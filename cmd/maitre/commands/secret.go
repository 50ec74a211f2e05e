package commands

import (
	"fmt"

	"github.com/lucasvidela/maitre/pkg/maitre/concierge"
	"github.com/spf13/cobra"
)

// knownSecrets are the keyring entries the service reads.
var knownSecrets = []string{
	concierge.KeyringLLMAPIKey,
	concierge.KeyringEncryptionKey,
}

// newSecretCmd creates the `maitre secret` command group for managing
// secrets in the OS keyring.
func newSecretCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "secret",
		Short: "Manage secrets in the OS keyring",
		Long: `Stores and removes secrets in the operating system keyring
(Secret Service/GNOME Keyring on Linux, Keychain on macOS, Credential
Manager on Windows). Secrets stored here never appear in config.yaml.

Known secrets: ` + fmt.Sprint(knownSecrets),
	}

	cmd.AddCommand(newSecretSetCmd(), newSecretDeleteCmd(), newSecretCheckCmd())
	return cmd
}

func newSecretSetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "set <name>",
		Short: "Store a secret (prompted, hidden input)",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			name := args[0]
			if !isKnownSecret(name) {
				return fmt.Errorf("unknown secret %q, expected one of %v", name, knownSecrets)
			}

			value, err := concierge.ReadPassword("Value (hidden): ")
			if err != nil {
				return err
			}
			if value == "" {
				return fmt.Errorf("empty value")
			}

			if err := concierge.StoreKeyring(name, value); err != nil {
				return fmt.Errorf("storing secret: %w", err)
			}
			fmt.Printf("Stored %q in the OS keyring.\n", name)
			return nil
		},
	}
}

func newSecretDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <name>",
		Short: "Remove a secret from the keyring",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			if err := concierge.DeleteKeyring(args[0]); err != nil {
				return fmt.Errorf("deleting secret: %w", err)
			}
			fmt.Printf("Removed %q from the OS keyring.\n", args[0])
			return nil
		},
	}
}

func newSecretCheckCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Show which secrets are present in the keyring",
		RunE: func(*cobra.Command, []string) error {
			if !concierge.KeyringAvailable() {
				return fmt.Errorf("OS keyring unavailable")
			}
			for _, name := range knownSecrets {
				status := "missing"
				if concierge.GetKeyring(name) != "" {
					status = "set"
				}
				fmt.Printf("  %-16s %s\n", name, status)
			}
			return nil
		},
	}
}

func isKnownSecret(name string) bool {
	for _, s := range knownSecrets {
		if s == name {
			return true
		}
	}
	return false
}
