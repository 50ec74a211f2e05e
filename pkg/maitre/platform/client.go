package platform

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// DefaultTimeout is the hard per-request timeout. An unbounded hang on one
// platform call must not block the user-facing reply indefinitely.
const DefaultTimeout = 15 * time.Second

// claimEndpoints is the ordered fallback chain for silent new-account claim
// exchange: try each in order, keep the first usable token, give up after
// the last. The order is policy, not accident.
var claimEndpoints = []string{
	"/3/auth/claim",
	"/2/user/registration/claim",
}

// Client talks to the reservation platform's REST API.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a platform client. apiKey is the service-level key sent
// on every request; per-user bearer credentials are passed per call.
func NewClient(baseURL, apiKey string, logger *slog.Logger) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: DefaultTimeout,
		},
		logger: logger.With("component", "platform"),
	}
}

// ---------- Auth surface ----------

// SendOTP asks the platform to text a one-time code to mobile.
// Returns nil on delivery, ErrRateLimited when throttled, or another error
// when the send failed — callers word their fallback differently per case.
func (c *Client) SendOTP(ctx context.Context, mobile string) error {
	body := map[string]string{"mobile_number": mobile, "method": "sms"}
	err := c.do(ctx, http.MethodPost, "/3/auth/mobile", "", body, nil)
	if err != nil {
		c.logger.Warn("otp send failed", "mobile", RedactPhone(mobile), "error", err)
		return err
	}
	c.logger.Info("otp sent", "mobile", RedactPhone(mobile))
	return nil
}

// VerifyOTP submits a code. Outcomes: direct token, challenge required,
// ErrCodeRejected, or a transient *APIError (5xx).
func (c *Client) VerifyOTP(ctx context.Context, mobile, code string) (*AuthResult, error) {
	body := map[string]string{"mobile_number": mobile, "code": code}

	var result AuthResult
	err := c.do(ctx, http.MethodPost, "/3/auth/mobile/verify", "", body, &result)
	if err != nil {
		// No credential is involved here, so any authoritative 4xx means
		// the code itself was rejected.
		if errors.Is(err, ErrNeedsReauth) {
			return nil, ErrCodeRejected
		}
		var apiErr *APIError
		if asAPIError(err, &apiErr) && apiErr.Status >= 400 && apiErr.Status < 500 {
			return nil, ErrCodeRejected
		}
		return nil, err
	}

	if result.Token == "" && result.Challenge == nil {
		return nil, fmt.Errorf("verify response carried neither token nor challenge")
	}
	return &result, nil
}

// CompleteChallenge submits the email (plus whatever extra fields the
// challenge demanded) and returns the final bearer token.
func (c *Client) CompleteChallenge(ctx context.Context, challengeID, email string, requiredFields []string) (string, error) {
	body := map[string]any{
		"challenge_id": challengeID,
		"email":        email,
		"fields":       requiredFields,
	}

	var out struct {
		Token string `json:"token"`
	}
	if err := c.do(ctx, http.MethodPost, "/3/auth/challenge", "", body, &out); err != nil {
		return "", err
	}
	if out.Token == "" {
		return "", fmt.Errorf("challenge completion returned no token")
	}
	return out.Token, nil
}

// ClaimExchange tries to silently exchange a new-account claim token for a
// bearer token against the ordered candidate endpoints. Returns the first
// usable token; an error only after the whole chain is exhausted.
func (c *Client) ClaimExchange(ctx context.Context, claimToken string) (string, error) {
	var lastErr error
	for _, endpoint := range claimEndpoints {
		var out struct {
			Token string `json:"token"`
		}
		err := c.do(ctx, http.MethodPost, endpoint, "", map[string]string{"claim_token": claimToken}, &out)
		if err == nil && out.Token != "" {
			c.logger.Info("claim exchange succeeded", "endpoint", endpoint)
			return out.Token, nil
		}
		if err == nil {
			err = fmt.Errorf("claim exchange at %s returned no token", endpoint)
		}
		c.logger.Debug("claim exchange attempt failed", "endpoint", endpoint, "error", err)
		lastErr = err
	}
	return "", fmt.Errorf("claim exchange exhausted all endpoints: %w", lastErr)
}

// ---------- Booking surface ----------

// SearchVenues looks up restaurants by keyword and location.
func (c *Client) SearchVenues(ctx context.Context, credential, query, location string) ([]Venue, error) {
	q := url.Values{"query": {query}, "location": {location}}

	var out struct {
		Venues []Venue `json:"venues"`
	}
	if err := c.do(ctx, http.MethodGet, "/3/venuesearch?"+q.Encode(), credential, nil, &out); err != nil {
		return nil, err
	}
	return out.Venues, nil
}

// FindSlots lists available reservation times for a venue, date and party
// size. Slot tokens expire within minutes; fetch fresh before every booking.
func (c *Client) FindSlots(ctx context.Context, credential, venueID, day string, partySize int) ([]Slot, error) {
	q := url.Values{
		"venue_id":   {venueID},
		"day":        {day},
		"party_size": {strconv.Itoa(partySize)},
	}

	var out struct {
		Slots []Slot `json:"slots"`
	}
	if err := c.do(ctx, http.MethodGet, "/4/find?"+q.Encode(), credential, nil, &out); err != nil {
		return nil, err
	}
	return out.Slots, nil
}

// BookSlot books a freshly fetched slot token.
func (c *Client) BookSlot(ctx context.Context, credential, slotToken string) (*Reservation, error) {
	var out Reservation
	body := map[string]string{"slot_token": slotToken}
	if err := c.do(ctx, http.MethodPost, "/3/book", credential, body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// CancelReservation cancels by reservation token.
func (c *Client) CancelReservation(ctx context.Context, credential, resToken string) error {
	body := map[string]string{"resy_token": resToken}
	return c.do(ctx, http.MethodPost, "/3/cancel", credential, body, nil)
}

// ListUpcoming returns the user's upcoming reservations.
func (c *Client) ListUpcoming(ctx context.Context, credential string) ([]Reservation, error) {
	var out struct {
		Reservations []Reservation `json:"reservations"`
	}
	if err := c.do(ctx, http.MethodGet, "/3/user/reservations?type=upcoming", credential, nil, &out); err != nil {
		return nil, err
	}
	return out.Reservations, nil
}

// GetProfile fetches the account profile for a credential.
func (c *Client) GetProfile(ctx context.Context, credential string) (*Profile, error) {
	var out Profile
	if err := c.do(ctx, http.MethodGet, "/2/user", credential, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ---------- Internal ----------

// do runs one request and maps the response onto the error taxonomy.
func (c *Client) do(ctx context.Context, method, path, credential string, body, out any) error {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshaling request: %w", err)
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("X-API-Key", c.apiKey)
	}
	if credential != "" {
		req.Header.Set("Authorization", "Bearer "+credential)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("platform request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}

	c.logger.Debug("platform call",
		"method", method,
		"path", strings.SplitN(path, "?", 2)[0],
		"status", resp.StatusCode,
		"duration_ms", time.Since(start).Milliseconds(),
	)

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return ErrRateLimited
	case resp.StatusCode == http.StatusUnauthorized,
		resp.StatusCode == 419,
		resp.StatusCode >= 400 && isReauthBody(string(respBody)):
		return ErrNeedsReauth
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return &APIError{Status: resp.StatusCode, Body: string(respBody)}
	}

	if out != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, out); err != nil {
			return fmt.Errorf("parsing response: %w", err)
		}
	}
	return nil
}

func asAPIError(err error, target **APIError) bool {
	apiErr, ok := err.(*APIError)
	if ok {
		*target = apiErr
	}
	return ok
}
