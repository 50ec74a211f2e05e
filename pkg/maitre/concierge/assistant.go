// assistant.go wires the whole service together and runs the per-message
// pipeline: commands, auth negotiation, group triage, then the engine.
package concierge

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/lucasvidela/maitre/pkg/maitre/auth"
	"github.com/lucasvidela/maitre/pkg/maitre/convo"
	"github.com/lucasvidela/maitre/pkg/maitre/gateway"
	"github.com/lucasvidela/maitre/pkg/maitre/platform"
	"github.com/lucasvidela/maitre/pkg/maitre/store"
	"github.com/lucasvidela/maitre/pkg/maitre/vault"
)

// Assistant is the assembled concierge service.
type Assistant struct {
	cfg        *Config
	store      store.Store
	sweeper    *store.Sweeper
	vault      *vault.Vault
	loader     *auth.ContextLoader
	negotiator *auth.Negotiator
	links      *auth.TokenIssuer
	history    *convo.History
	profiles   *convo.Profiles
	engine     *Engine
	classifier *Classifier
	gateway    gateway.Client
	logger     *slog.Logger
}

// New assembles the service from config.
func New(ctx context.Context, cfg *Config, logger *slog.Logger) (*Assistant, error) {
	gw := gateway.NewHTTPClient(cfg.Gateway.BaseURL, cfg.Gateway.APIKey, cfg.Gateway.FromNumber, logger)
	return NewWithGateway(ctx, cfg, gw, logger)
}

// NewWithGateway assembles the service around a custom relay client. The
// local chat REPL uses this to print replies instead of sending them.
func NewWithGateway(ctx context.Context, cfg *Config, gw gateway.Client, logger *slog.Logger) (*Assistant, error) {
	s, err := openStore(ctx, cfg.Store, logger)
	if err != nil {
		return nil, fmt.Errorf("opening store: %w", err)
	}

	cipher := vault.NewCipher(cfg.Auth.EncryptionKey, logger)
	v := vault.New(s, cipher, logger)

	linkTTL := time.Duration(cfg.Auth.MagicLinkTTLMinutes) * time.Minute
	links := auth.NewTokenIssuer(s, cfg.Auth.MagicLinkBaseURL, linkTTL, logger)

	client := platform.NewClient(cfg.Platform.BaseURL, cfg.Platform.APIKey, logger)
	llm := NewLLMClient(cfg.LLM, logger)

	history := convo.NewHistory(s, logger)
	profiles := convo.NewProfiles(s, logger)
	toolbox := NewToolbox(client, gw, profiles, logger)

	a := &Assistant{
		cfg:        cfg,
		store:      s,
		sweeper:    store.NewSweeper(s, logger),
		vault:      v,
		loader:     auth.NewContextLoader(v, cfg.Platform.GlobalCredential, logger),
		negotiator: auth.NewNegotiator(s, v, client, links, logger),
		links:      links,
		history:    history,
		profiles:   profiles,
		engine:     NewEngine(llm, toolbox, history, cfg.Name, cfg.Engine.MaxToolRounds, logger),
		classifier: NewClassifier(llm, cfg.Name, logger),
		gateway:    gw,
		logger:     logger.With("component", "assistant"),
	}

	if a.sweeper != nil {
		if err := a.sweeper.Start(); err != nil {
			return nil, fmt.Errorf("starting sweeper: %w", err)
		}
	}

	return a, nil
}

func openStore(ctx context.Context, cfg StoreConfig, logger *slog.Logger) (store.Store, error) {
	switch cfg.Type {
	case "redis":
		return store.NewRedisStore(ctx, cfg.RedisURL, logger)
	case "sqlite", "":
		return store.NewSQLiteStore(cfg.Path)
	case "memory":
		return store.NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unknown store type %q", cfg.Type)
	}
}

// Links exposes the magic-link issuer for the onboarding HTTP handlers.
func (a *Assistant) Links() *auth.TokenIssuer { return a.links }

// Vault exposes credential storage for the onboarding HTTP handlers.
func (a *Assistant) Vault() *vault.Vault { return a.vault }

// Close stops background work and releases the store.
func (a *Assistant) Close() error {
	if a.sweeper != nil {
		a.sweeper.Stop()
	}
	return a.store.Close()
}

// HandleMessage runs the full pipeline for one inbound message. The returned
// error means the sender got no reply at all; partial failures inside the
// pipeline are logged and absorbed.
func (a *Assistant) HandleMessage(ctx context.Context, msg *gateway.Message) error {
	logger := a.logger.With(
		"chat_id", msg.ChatID,
		"sender", platform.RedactPhone(msg.From),
		"group", msg.IsGroup,
	)
	logger.Info("message received", "len", len(msg.Text), "media", len(msg.MediaURLs))

	// Housekeeping is best effort and never blocks the reply.
	if err := a.gateway.MarkRead(ctx, msg.ChatID); err != nil {
		logger.Debug("mark-read failed", "error", err)
	}
	if err := a.gateway.StartTyping(ctx, msg.ChatID); err != nil {
		logger.Debug("typing indicator failed", "error", err)
	}
	if err := a.profiles.Touch(ctx, msg.From); err != nil {
		logger.Warn("profile touch failed", "error", err)
	}

	// Control phrases work even when the model is down.
	if cmd := ParseCommand(msg.Text); cmd != CommandNone {
		return a.handleCommand(ctx, cmd, msg)
	}

	userCtx, err := a.loader.Load(ctx, msg.From)
	if err != nil {
		return fmt.Errorf("loading user context: %w", err)
	}

	// Unauthenticated DM senders go through the auth flow. In groups the
	// flow stays out of the way: the engine runs without booking tools.
	if userCtx == nil && !msg.IsGroup {
		return a.negotiate(ctx, msg)
	}

	if msg.IsGroup && !msg.HasMedia() {
		past, err := a.history.Recent(ctx, msg.ChatID)
		if err != nil {
			logger.Warn("reading history for triage failed", "error", err)
		}
		verdict := a.classifier.Classify(ctx, past, msg.From, msg.Text)
		switch verdict.Verdict {
		case VerdictIgnore:
			logger.Debug("group message ignored")
			return a.history.Append(ctx, msg.ChatID, convo.Entry{
				Role:    convo.RoleUser,
				Content: msg.Text,
				Sender:  msg.From,
			})
		case VerdictReact:
			if msg.Capability != gateway.CapabilityPlain {
				if err := a.gateway.SendReaction(ctx, msg.ChatID, msg.ID, verdict.Reaction); err != nil {
					logger.Warn("group reaction failed", "error", err)
				}
			}
			return a.history.Append(ctx, msg.ChatID, convo.Entry{
				Role:    convo.RoleUser,
				Content: msg.Text,
				Sender:  msg.From,
			})
		}
	}

	req := &Request{
		ChatID:       msg.ChatID,
		MessageID:    msg.ID,
		Text:         msg.Text,
		Sender:       msg.From,
		SenderName:   msg.FromName,
		Capability:   msg.Capability,
		IsGroup:      msg.IsGroup,
		Participants: msg.Participants,
	}

	if userCtx != nil {
		req.Credential = userCtx.Credentials.AuthToken

		justOnboarded, err := a.vault.ConsumeJustOnboarded(ctx, msg.From)
		if err != nil {
			logger.Warn("onboarding flag check failed", "error", err)
		}
		req.JustOnboarded = justOnboarded
	}

	if profile, err := a.profiles.Get(ctx, msg.From); err != nil {
		logger.Warn("profile read failed", "error", err)
	} else if profile != nil {
		req.ProfileName = profile.Name
		req.ProfileFacts = profile.Facts
	}

	reply, err := a.engine.Respond(ctx, req)
	if err != nil {
		return fmt.Errorf("engine: %w", err)
	}
	if reply.Text == "" {
		return nil
	}

	if reply.Effect != "" {
		if err := a.gateway.SendTextWithEffect(ctx, msg.ChatID, reply.Text, reply.Effect); err != nil {
			return fmt.Errorf("sending reply: %w", err)
		}
		return nil
	}
	if err := a.gateway.SendText(ctx, msg.ChatID, reply.Text); err != nil {
		return fmt.Errorf("sending reply: %w", err)
	}
	return nil
}

func (a *Assistant) negotiate(ctx context.Context, msg *gateway.Message) error {
	res, err := a.negotiator.HandleMessage(ctx, msg.From, msg.ChatID, msg.Text)
	if err != nil {
		return fmt.Errorf("auth flow: %w", err)
	}

	if err := a.history.Append(ctx, msg.ChatID, convo.Entry{
		Role:    convo.RoleUser,
		Content: msg.Text,
		Sender:  msg.From,
	}); err != nil {
		a.logger.Warn("recording auth turn failed", "error", err)
	}

	for _, reply := range res.Replies {
		if err := a.gateway.SendText(ctx, msg.ChatID, reply); err != nil {
			return fmt.Errorf("sending auth reply: %w", err)
		}
		if err := a.history.Append(ctx, msg.ChatID, convo.Entry{
			Role:    convo.RoleAssistant,
			Content: reply,
		}); err != nil {
			a.logger.Warn("recording auth reply failed", "error", err)
		}
	}
	return nil
}

func (a *Assistant) handleCommand(ctx context.Context, cmd Command, msg *gateway.Message) error {
	switch cmd {
	case CommandReset:
		if err := a.history.Clear(ctx, msg.ChatID); err != nil {
			return fmt.Errorf("reset: %w", err)
		}
		return a.gateway.SendText(ctx, msg.ChatID, "Fresh start. What can I do for you?")

	case CommandForget:
		if err := a.profiles.Clear(ctx, msg.From); err != nil {
			return fmt.Errorf("forget: %w", err)
		}
		if err := a.history.Clear(ctx, msg.ChatID); err != nil {
			return fmt.Errorf("forget: %w", err)
		}
		return a.gateway.SendText(ctx, msg.ChatID, "Done. I've erased everything I remembered about you.")

	case CommandSignOut:
		if err := a.vault.ClearCredentials(ctx, msg.From); err != nil {
			return fmt.Errorf("sign out: %w", err)
		}
		return a.gateway.SendText(ctx, msg.ChatID, "You're signed out. Your reservation account is disconnected until you sign in again.")

	case CommandHelp:
		return a.gateway.SendText(ctx, msg.ChatID, HelpText)
	}
	return nil
}
