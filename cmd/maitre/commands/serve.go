package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/lucasvidela/maitre/pkg/maitre/concierge"
	"github.com/lucasvidela/maitre/pkg/maitre/web"
	"github.com/spf13/cobra"
)

// newServeCmd creates the `maitre serve` command that starts the daemon.
func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the concierge daemon",
		Long: `Start Maitre as a daemon: the webhook endpoint that receives inbound
messages from the relay, and the onboarding pages for magic links.

Examples:
  maitre serve
  maitre serve --config ./config.yaml`,
		RunE: runServe,
	}
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := resolveConfig(cmd)
	if err != nil {
		return err
	}

	logger := newLogger(cmd, cfg)

	// Keyring fills in whatever env/config left empty.
	concierge.ResolveSecrets(cfg, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	assistant, err := concierge.New(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("starting assistant: %w", err)
	}

	server := web.New(web.Config{Listen: cfg.Web.Listen}, assistant.Links(), assistant.Vault(), assistant, logger)
	server.Start()

	logger.Info("maitre running. Press Ctrl+C to stop.",
		"name", cfg.Name,
		"listen", cfg.Web.Listen,
		"store", cfg.Store.Type,
	)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info("shutdown signal received, stopping...")

	done := make(chan struct{})
	go func() {
		server.Stop()
		if err := assistant.Close(); err != nil {
			logger.Warn("closing assistant", "error", err)
		}
		close(done)
	}()

	select {
	case <-done:
		logger.Info("shutdown complete")
	case <-time.After(10 * time.Second):
		logger.Warn("shutdown timed out after 10s, forcing exit")
	}

	return nil
}

// resolveConfig loads config from the flag path or standard locations,
// offering the setup wizard when nothing is found.
func resolveConfig(cmd *cobra.Command) (*concierge.Config, error) {
	configPath, _ := cmd.Root().PersistentFlags().GetString("config")

	if configPath != "" {
		cfg, err := concierge.LoadConfigFromFile(configPath)
		if err != nil {
			return nil, fmt.Errorf("loading config: %w", err)
		}
		return cfg, nil
	}

	if found := concierge.FindConfigFile(); found != "" {
		cfg, err := concierge.LoadConfigFromFile(found)
		if err != nil {
			return nil, fmt.Errorf("loading config from %s: %w", found, err)
		}
		slog.Info("config loaded", "path", found)
		return cfg, nil
	}

	fmt.Println()
	fmt.Println("No configuration file found.")
	fmt.Println("Run 'maitre setup' to create one, or pass --config.")
	return nil, fmt.Errorf("configuration required before starting")
}

// newLogger builds the slog logger per config and the --verbose flag.
func newLogger(cmd *cobra.Command, cfg *concierge.Config) *slog.Logger {
	verbose, _ := cmd.Root().PersistentFlags().GetBool("verbose")
	logLevel := slog.LevelInfo
	if verbose || cfg.Logging.Level == "debug" {
		logLevel = slog.LevelDebug
	}

	var handler slog.Handler
	if cfg.Logging.Format == "text" {
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})
	} else {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})
	}
	return slog.New(handler)
}
