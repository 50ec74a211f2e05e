// Package commands implements the maitre CLI using cobra.
package commands

import (
	"github.com/spf13/cobra"
)

// NewRootCmd creates the root CLI command with all subcommands registered.
func NewRootCmd(version string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "maitre",
		Short: "Maitre - restaurant concierge over text message",
		Long: `Maitre is a restaurant reservation concierge reached entirely over
two-way text conversation: it finds restaurants, checks availability,
books and cancels tables through the reservation platform.

Examples:
  maitre serve
  maitre setup
  maitre chat
  maitre secret set llm_api_key`,
		Version: version,
	}

	rootCmd.AddCommand(
		newServeCmd(),
		newSetupCmd(),
		newChatCmd(),
		newSecretCmd(),
	)

	rootCmd.PersistentFlags().StringP("config", "c", "", "path to the configuration file")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "enable debug logging")

	return rootCmd
}
