package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/chzyer/readline"
	"github.com/lucasvidela/maitre/pkg/maitre/concierge"
	"github.com/lucasvidela/maitre/pkg/maitre/gateway"
	"github.com/spf13/cobra"
)

// newChatCmd creates the `maitre chat` command: a local REPL that runs the
// full pipeline against an in-memory store and prints replies instead of
// sending them through the relay.
func newChatCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "chat",
		Short: "Local chat REPL for trying the concierge",
		Long: `Starts a local conversation with the concierge. Uses an in-memory
store, so nothing persists between runs. Useful for prompt and tool
debugging without a message relay.

Examples:
  maitre chat`,
		RunE: runChat,
	}
}

func runChat(cmd *cobra.Command, _ []string) error {
	cfg, err := resolveConfig(cmd)
	if err != nil {
		return err
	}
	logger := newLogger(cmd, cfg)
	concierge.ResolveSecrets(cfg, logger)

	// Local REPL never touches the real store.
	cfg.Store = concierge.StoreConfig{Type: "memory"}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	console := &consoleGateway{}
	assistant, err := concierge.NewWithGateway(ctx, cfg, console, logger)
	if err != nil {
		return fmt.Errorf("starting assistant: %w", err)
	}
	defer assistant.Close()

	rl, err := readline.New("you> ")
	if err != nil {
		return fmt.Errorf("starting readline: %w", err)
	}
	defer rl.Close()

	fmt.Printf("Chatting with %s locally. Ctrl+D to quit.\n\n", cfg.Name)

	for {
		line, err := rl.Readline()
		if err != nil {
			if errors.Is(err, readline.ErrInterrupt) {
				continue
			}
			if errors.Is(err, io.EOF) {
				fmt.Println("bye")
				return nil
			}
			return err
		}

		text := strings.TrimSpace(line)
		if text == "" {
			continue
		}

		msg := &gateway.Message{
			ID:         fmt.Sprintf("local-%d", time.Now().UnixNano()),
			ChatID:     "local",
			From:       "console",
			Text:       text,
			Capability: gateway.CapabilityPlain,
			ReceivedAt: time.Now().UTC(),
		}
		if err := assistant.HandleMessage(ctx, msg); err != nil {
			fmt.Printf("error: %v\n", err)
		}
	}
}

// consoleGateway prints outbound actions to stdout.
type consoleGateway struct{}

func (g *consoleGateway) SendText(_ context.Context, _ string, text string) error {
	for _, part := range gateway.SplitParts(text) {
		fmt.Printf("maitre> %s\n", part)
	}
	return nil
}

func (g *consoleGateway) SendTextWithEffect(_ context.Context, _ string, text, effect string) error {
	fmt.Printf("maitre> [%s] %s\n", effect, text)
	return nil
}

func (g *consoleGateway) SendReaction(_ context.Context, _, _, reaction string) error {
	fmt.Printf("maitre reacted: %s\n", reaction)
	return nil
}

func (g *consoleGateway) RenameChat(_ context.Context, _, name string) error {
	fmt.Printf("maitre renamed the chat to %q\n", name)
	return nil
}

func (g *consoleGateway) ShareContact(context.Context, string) error { return nil }
func (g *consoleGateway) MarkRead(context.Context, string) error     { return nil }
func (g *consoleGateway) StartTyping(context.Context, string) error  { return nil }
