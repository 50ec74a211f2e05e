// http.go implements Client against the relay's REST API.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"net/http"
	"strings"
	"time"
)

// Pacing bounds for multi-part sends: a small randomized delay between
// parts reads more naturally than a burst.
const (
	minPartDelay = 400 * time.Millisecond
	maxPartDelay = 1200 * time.Millisecond
)

// HTTPClient talks to the message relay over HTTP.
type HTTPClient struct {
	baseURL    string
	apiKey     string
	fromNumber string
	httpClient *http.Client
	logger     *slog.Logger

	// sleep is swappable in tests so pacing doesn't slow them down.
	sleep func(time.Duration)
}

// NewHTTPClient creates a relay client. fromNumber is the concierge's own
// sending number.
func NewHTTPClient(baseURL, apiKey, fromNumber string, logger *slog.Logger) *HTTPClient {
	return &HTTPClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		fromNumber: fromNumber,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		logger:     logger.With("component", "gateway"),
		sleep:      time.Sleep,
	}
}

func (c *HTTPClient) SendText(ctx context.Context, chatID, text string) error {
	parts := SplitParts(text)
	for i, part := range parts {
		if i > 0 {
			c.sleep(partDelay())
		}
		if err := c.post(ctx, "/v1/send", map[string]string{
			"chat_id": chatID,
			"from":    c.fromNumber,
			"text":    part,
		}); err != nil {
			return fmt.Errorf("sending part %d/%d: %w", i+1, len(parts), err)
		}
	}
	return nil
}

func (c *HTTPClient) SendTextWithEffect(ctx context.Context, chatID, text, effect string) error {
	return c.post(ctx, "/v1/send", map[string]string{
		"chat_id": chatID,
		"from":    c.fromNumber,
		"text":    text,
		"effect":  effect,
	})
}

func (c *HTTPClient) SendReaction(ctx context.Context, chatID, messageID, reaction string) error {
	return c.post(ctx, "/v1/react", map[string]string{
		"chat_id":    chatID,
		"message_id": messageID,
		"reaction":   reaction,
	})
}

func (c *HTTPClient) RenameChat(ctx context.Context, chatID, name string) error {
	return c.post(ctx, "/v1/rename", map[string]string{
		"chat_id": chatID,
		"name":    name,
	})
}

func (c *HTTPClient) ShareContact(ctx context.Context, chatID string) error {
	return c.post(ctx, "/v1/contact-card", map[string]string{
		"chat_id": chatID,
		"from":    c.fromNumber,
	})
}

func (c *HTTPClient) MarkRead(ctx context.Context, chatID string) error {
	return c.post(ctx, "/v1/mark-read", map[string]string{"chat_id": chatID})
}

func (c *HTTPClient) StartTyping(ctx context.Context, chatID string) error {
	return c.post(ctx, "/v1/typing", map[string]string{"chat_id": chatID})
}

func (c *HTTPClient) post(ctx context.Context, path string, body map[string]string) error {
	b, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshaling request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(b))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-API-Key", c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("relay request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		c.logger.Warn("relay call failed",
			"path", path,
			"status", resp.StatusCode,
		)
		return fmt.Errorf("relay returned %d: %s", resp.StatusCode, string(respBody))
	}
	return nil
}

func partDelay() time.Duration {
	return minPartDelay + time.Duration(rand.Int63n(int64(maxPartDelay-minPartDelay)))
}
