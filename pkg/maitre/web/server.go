// Package web serves the two HTTP surfaces the concierge needs: the
// magic-link onboarding pages where a user pastes their platform credential,
// and the relay webhook that delivers inbound messages.
package web

import (
	"context"
	"embed"
	"encoding/json"
	"html/template"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/lucasvidela/maitre/pkg/maitre/auth"
	"github.com/lucasvidela/maitre/pkg/maitre/gateway"
	"github.com/lucasvidela/maitre/pkg/maitre/platform"
	"github.com/lucasvidela/maitre/pkg/maitre/vault"
)

//go:embed templates/*.html
var templateFS embed.FS

// Pasted credentials outside these bounds are rejected before they reach
// the vault.
const (
	minCredentialLen = 20
	maxCredentialLen = 4096
)

// MessageHandler consumes a normalized inbound message.
type MessageHandler interface {
	HandleMessage(ctx context.Context, msg *gateway.Message) error
}

// Config holds HTTP server configuration.
type Config struct {
	Listen string `yaml:"listen"`
}

// Server is the onboarding + webhook HTTP server.
type Server struct {
	cfg       Config
	links     *auth.TokenIssuer
	vault     *vault.Vault
	handler   MessageHandler
	logger    *slog.Logger
	templates *template.Template
	server    *http.Server
}

// New creates the server.
func New(cfg Config, links *auth.TokenIssuer, v *vault.Vault, handler MessageHandler, logger *slog.Logger) *Server {
	if cfg.Listen == "" {
		cfg.Listen = ":8080"
	}

	return &Server{
		cfg:       cfg,
		links:     links,
		vault:     v,
		handler:   handler,
		logger:    logger.With("component", "web"),
		templates: template.Must(template.ParseFS(templateFS, "templates/*.html")),
	}
}

// Handler builds the route mux. Exposed separately so tests can drive it
// with httptest.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /onboard", s.handleOnboardForm)
	mux.HandleFunc("POST /onboard", s.handleOnboardSubmit)
	mux.HandleFunc("POST /webhook", s.handleWebhook)
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	return mux
}

// Start begins serving in the background.
func (s *Server) Start() {
	s.server = &http.Server{
		Addr:         s.cfg.Listen,
		Handler:      s.Handler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	s.logger.Info("http server starting", "listen", s.cfg.Listen)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("http server error", "error", err)
		}
	}()
}

// Stop gracefully shuts the server down.
func (s *Server) Stop() {
	if s.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.server.Shutdown(ctx)
		s.logger.Info("http server stopped")
	}
}

// handleOnboardForm shows the credential form for a live link. Rendering the
// form never consumes the token: mail scanners and link previews hit GET.
func (s *Server) handleOnboardForm(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		s.renderError(w, http.StatusBadRequest, "That link is missing its token.")
		return
	}

	claims, err := s.links.Peek(r.Context(), token)
	if err != nil {
		s.logger.Error("link lookup failed", "error", err)
		s.renderError(w, http.StatusInternalServerError, "Something went wrong. Text the concierge to get a fresh link.")
		return
	}
	if claims == nil {
		s.renderError(w, http.StatusNotFound, "That link has expired or was already used. Text the concierge to get a fresh one.")
		return
	}

	s.render(w, http.StatusOK, "onboard.html", map[string]any{
		"Token": token,
		"Phone": platform.RedactPhone(claims.PhoneNumber),
	})
}

// handleOnboardSubmit redeems the link and stores the pasted credential.
func (s *Server) handleOnboardSubmit(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		s.renderError(w, http.StatusBadRequest, "Bad form submission.")
		return
	}

	token := r.PostFormValue("token")
	credential := strings.TrimSpace(r.PostFormValue("credential"))

	if len(credential) < minCredentialLen || len(credential) > maxCredentialLen {
		s.renderError(w, http.StatusBadRequest, "That doesn't look like a valid credential. Copy the whole token and try again.")
		return
	}

	claims, err := s.links.Redeem(r.Context(), token)
	if err != nil {
		s.logger.Error("link redeem failed", "error", err)
		s.renderError(w, http.StatusInternalServerError, "Something went wrong. Text the concierge to get a fresh link.")
		return
	}
	if claims == nil {
		s.renderError(w, http.StatusNotFound, "That link has expired or was already used. Text the concierge to get a fresh one.")
		return
	}

	if err := s.vault.SetCredentials(r.Context(), claims.PhoneNumber, vault.Credentials{AuthToken: credential}); err != nil {
		s.logger.Error("storing onboarded credential failed", "error", err)
		s.renderError(w, http.StatusInternalServerError, "Couldn't save your credential. Text the concierge to try again.")
		return
	}

	s.logger.Info("onboarding complete", "user", platform.RedactPhone(claims.PhoneNumber))
	s.render(w, http.StatusOK, "success.html", nil)
}

// webhookPayload is the relay's inbound message event.
type webhookPayload struct {
	ID           string   `json:"id"`
	ChatID       string   `json:"chat_id"`
	From         string   `json:"from"`
	FromName     string   `json:"from_name"`
	To           string   `json:"to"`
	Text         string   `json:"text"`
	MediaURLs    []string `json:"media_urls"`
	Effect       string   `json:"effect"`
	ReplyTo      string   `json:"reply_to"`
	Capability   string   `json:"capability"`
	IsGroup      bool     `json:"is_group"`
	Participants []string `json:"participants"`
}

// handleWebhook normalizes an inbound event and hands it to the pipeline.
// A failed pipeline returns 500 so the relay retries delivery.
func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	var payload webhookPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		http.Error(w, "bad payload", http.StatusBadRequest)
		return
	}
	if payload.ChatID == "" || payload.From == "" {
		http.Error(w, "missing chat_id or from", http.StatusBadRequest)
		return
	}

	capability := gateway.Capability(payload.Capability)
	switch capability {
	case gateway.CapabilityFull, gateway.CapabilityReactions, gateway.CapabilityPlain:
	default:
		capability = gateway.CapabilityPlain
	}

	msg := &gateway.Message{
		ID:           payload.ID,
		ChatID:       payload.ChatID,
		From:         payload.From,
		FromName:     payload.FromName,
		To:           payload.To,
		Text:         payload.Text,
		MediaURLs:    payload.MediaURLs,
		Effect:       payload.Effect,
		ReplyTo:      payload.ReplyTo,
		Capability:   capability,
		IsGroup:      payload.IsGroup,
		Participants: payload.Participants,
		ReceivedAt:   time.Now().UTC(),
	}

	if err := s.handler.HandleMessage(r.Context(), msg); err != nil {
		s.logger.Error("message handling failed",
			"chat_id", msg.ChatID,
			"sender", platform.RedactPhone(msg.From),
			"error", err,
		)
		http.Error(w, "handling failed", http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusOK)
}

func (s *Server) render(w http.ResponseWriter, status int, name string, data any) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	if err := s.templates.ExecuteTemplate(w, name, data); err != nil {
		s.logger.Error("template render error", "template", name, "error", err)
	}
}

func (s *Server) renderError(w http.ResponseWriter, status int, message string) {
	s.render(w, status, "error.html", map[string]any{"Message": message})
}
