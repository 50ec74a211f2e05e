package web

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/lucasvidela/maitre/pkg/maitre/auth"
	"github.com/lucasvidela/maitre/pkg/maitre/gateway"
	"github.com/lucasvidela/maitre/pkg/maitre/store"
	"github.com/lucasvidela/maitre/pkg/maitre/vault"
)

type fakeHandler struct {
	err      error
	messages []*gateway.Message
}

func (f *fakeHandler) HandleMessage(_ context.Context, msg *gateway.Message) error {
	f.messages = append(f.messages, msg)
	return f.err
}

func newTestServer(t *testing.T, handler MessageHandler) (*Server, *auth.TokenIssuer, *vault.Vault) {
	t.Helper()
	logger := slog.New(slog.DiscardHandler)
	s := store.NewMemoryStore()
	issuer := auth.NewTokenIssuer(s, "https://maitre.example", 15*time.Minute, logger)
	v := vault.New(s, vault.NewCipher("", logger), logger)
	return New(Config{Listen: ":0"}, issuer, v, handler, logger), issuer, v
}

// mintToken returns just the token portion of a freshly minted link.
func mintToken(t *testing.T, issuer *auth.TokenIssuer, phone string) string {
	t.Helper()
	link, err := issuer.Mint(context.Background(), phone, "chat-1")
	if err != nil {
		t.Fatalf("Mint failed: %v", err)
	}
	_, token, ok := strings.Cut(link, "token=")
	if !ok {
		t.Fatalf("no token in link %q", link)
	}
	return token
}

func TestOnboardForm(t *testing.T) {
	srv, issuer, _ := newTestServer(t, &fakeHandler{})
	mux := srv.Handler()

	t.Run("valid link shows the form", func(t *testing.T) {
		token := mintToken(t, issuer, "15551234567")

		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/onboard?token="+token, nil))

		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d, want 200", rec.Code)
		}
		body := rec.Body.String()
		if !strings.Contains(body, token) {
			t.Error("form should embed the token for the POST")
		}
		if strings.Contains(body, "15551234567") {
			t.Error("page must not show the full phone number")
		}
	})

	t.Run("viewing does not consume the token", func(t *testing.T) {
		token := mintToken(t, issuer, "15551234567")

		for i := 0; i < 3; i++ {
			rec := httptest.NewRecorder()
			mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/onboard?token="+token, nil))
			if rec.Code != http.StatusOK {
				t.Fatalf("view %d: status = %d, want 200", i+1, rec.Code)
			}
		}
	})

	t.Run("unknown token", func(t *testing.T) {
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/onboard?token=nope", nil))
		if rec.Code != http.StatusNotFound {
			t.Errorf("status = %d, want 404", rec.Code)
		}
	})

	t.Run("missing token", func(t *testing.T) {
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/onboard", nil))
		if rec.Code != http.StatusBadRequest {
			t.Errorf("status = %d, want 400", rec.Code)
		}
	})
}

func TestOnboardSubmit(t *testing.T) {
	srv, issuer, v := newTestServer(t, &fakeHandler{})
	mux := srv.Handler()

	postForm := func(token, credential string) *httptest.ResponseRecorder {
		form := url.Values{"token": {token}, "credential": {credential}}
		req := httptest.NewRequest(http.MethodPost, "/onboard", strings.NewReader(form.Encode()))
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, req)
		return rec
	}

	t.Run("valid credential stored", func(t *testing.T) {
		token := mintToken(t, issuer, "15551230001")

		rec := postForm(token, strings.Repeat("a", 40))
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d, want 200", rec.Code)
		}

		creds, err := v.GetCredentials(context.Background(), "15551230001")
		if err != nil {
			t.Fatalf("GetCredentials failed: %v", err)
		}
		if creds == nil || creds.AuthToken != strings.Repeat("a", 40) {
			t.Errorf("credential not stored verbatim: %+v", creds)
		}
	})

	t.Run("token is single use", func(t *testing.T) {
		token := mintToken(t, issuer, "15551230002")

		if rec := postForm(token, strings.Repeat("a", 40)); rec.Code != http.StatusOK {
			t.Fatalf("first submit: status = %d, want 200", rec.Code)
		}
		if rec := postForm(token, strings.Repeat("b", 40)); rec.Code != http.StatusNotFound {
			t.Errorf("second submit: status = %d, want 404", rec.Code)
		}
	})

	t.Run("short credential rejected without burning the token", func(t *testing.T) {
		token := mintToken(t, issuer, "15551230003")

		if rec := postForm(token, "short"); rec.Code != http.StatusBadRequest {
			t.Fatalf("status = %d, want 400", rec.Code)
		}

		// Same token still works with a proper credential.
		if rec := postForm(token, strings.Repeat("a", 40)); rec.Code != http.StatusOK {
			t.Errorf("retry after rejection: status = %d, want 200", rec.Code)
		}
	})

	t.Run("oversized credential rejected", func(t *testing.T) {
		token := mintToken(t, issuer, "15551230004")
		if rec := postForm(token, strings.Repeat("a", maxCredentialLen+1)); rec.Code != http.StatusBadRequest {
			t.Errorf("status = %d, want 400", rec.Code)
		}
	})
}

func TestWebhook(t *testing.T) {
	post := func(mux http.Handler, body string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, req)
		return rec
	}

	t.Run("delivers normalized message", func(t *testing.T) {
		handler := &fakeHandler{}
		srv, _, _ := newTestServer(t, handler)

		rec := post(srv.Handler(), `{"id":"m1","chat_id":"chat-1","from":"15551234567","text":"hi","capability":"full","is_group":true,"participants":["a","b"]}`)
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d, want 200", rec.Code)
		}
		if len(handler.messages) != 1 {
			t.Fatalf("want 1 message, got %d", len(handler.messages))
		}
		msg := handler.messages[0]
		if msg.ChatID != "chat-1" || msg.Text != "hi" || !msg.IsGroup {
			t.Errorf("bad normalization: %+v", msg)
		}
		if msg.Capability != gateway.CapabilityFull {
			t.Errorf("capability = %q", msg.Capability)
		}
	})

	t.Run("unknown capability degrades to plain", func(t *testing.T) {
		handler := &fakeHandler{}
		srv, _, _ := newTestServer(t, handler)

		post(srv.Handler(), `{"chat_id":"chat-1","from":"x","capability":"holographic"}`)
		if len(handler.messages) != 1 {
			t.Fatal("message not delivered")
		}
		if handler.messages[0].Capability != gateway.CapabilityPlain {
			t.Errorf("capability = %q, want plain", handler.messages[0].Capability)
		}
	})

	t.Run("handler failure returns 500 for relay retry", func(t *testing.T) {
		srv, _, _ := newTestServer(t, &fakeHandler{err: errors.New("pipeline broke")})
		rec := post(srv.Handler(), `{"chat_id":"chat-1","from":"x"}`)
		if rec.Code != http.StatusInternalServerError {
			t.Errorf("status = %d, want 500", rec.Code)
		}
	})

	t.Run("bad payload", func(t *testing.T) {
		srv, _, _ := newTestServer(t, &fakeHandler{})
		if rec := post(srv.Handler(), `{not json`); rec.Code != http.StatusBadRequest {
			t.Errorf("status = %d, want 400", rec.Code)
		}
		if rec := post(srv.Handler(), `{"text":"no ids"}`); rec.Code != http.StatusBadRequest {
			t.Errorf("status = %d, want 400", rec.Code)
		}
	})
}
