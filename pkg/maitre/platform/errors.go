package platform

import (
	"errors"
	"fmt"
	"net"
	"strings"
)

// Sentinel errors for outcomes callers must distinguish.
var (
	// ErrRateLimited: the platform refused an OTP send or API call with 429.
	ErrRateLimited = errors.New("platform rate limited")

	// ErrNeedsReauth: the stored credential is expired or invalid and the
	// user must reconnect their account. Never a generic failure.
	ErrNeedsReauth = errors.New("credential rejected, re-authentication required")

	// ErrCodeRejected: the OTP code was wrong (authoritative rejection).
	ErrCodeRejected = errors.New("verification code rejected")
)

// APIError is any other non-2xx platform response. The raw body stays in
// logs and error chains; it is never shown to users.
type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("platform returned %d: %s", e.Status, truncate(e.Body, 200))
}

// IsTransient reports whether err is worth one automatic retry: a 5xx
// response or a network timeout.
func IsTransient(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Status >= 500
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// reauthBodyMarkers are body fragments the platform uses for dead tokens
// alongside (and sometimes instead of) 401/419 statuses.
var reauthBodyMarkers = []string{
	"invalid auth token",
	"invalid_auth_token",
	"authtoken expired",
}

func isReauthBody(body string) bool {
	lower := strings.ToLower(body)
	for _, marker := range reauthBodyMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
