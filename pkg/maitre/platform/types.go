// Package platform is the REST client for the reservation platform. It
// covers the booking surface (search, slots, book, cancel, list, profile)
// and the auth surface (OTP, challenge completion, claim exchange), and
// maps the platform's status codes and body patterns onto a small error
// taxonomy the rest of the service dispatches on.
package platform

import "time"

// Venue is a restaurant returned by keyword/location search.
type Venue struct {
	ID       string  `json:"id"`
	Name     string  `json:"name"`
	Location string  `json:"location"`
	Cuisine  string  `json:"cuisine,omitempty"`
	Rating   float64 `json:"rating,omitempty"`
	Price    int     `json:"price_range,omitempty"`
}

// Slot is an available reservation time. Token is a short-lived booking
// handle — it expires on the order of minutes and must never be cached
// across conversation turns.
type Slot struct {
	Token     string    `json:"token"`
	Time      time.Time `json:"time"`
	TableType string    `json:"table_type,omitempty"`
}

// Reservation is a confirmed booking. Token cancels it.
type Reservation struct {
	Token     string    `json:"token"`
	VenueName string    `json:"venue_name"`
	Time      time.Time `json:"time"`
	PartySize int       `json:"party_size"`
}

// Profile is the platform account profile.
type Profile struct {
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Email     string `json:"email"`
}

// AuthResult is the outcome of a successful OTP verification: either a
// usable bearer token, or a challenge demanding further verification.
type AuthResult struct {
	Token     string     `json:"token,omitempty"`
	Challenge *Challenge `json:"challenge,omitempty"`
}

// Challenge describes the secondary verification the platform requires
// after accepting an OTP code.
type Challenge struct {
	ID             string   `json:"id"`
	ClaimToken     string   `json:"claim_token"`
	FirstName      string   `json:"first_name,omitempty"`
	IsNewUser      bool     `json:"is_new_user"`
	RequiredFields []string `json:"required_fields,omitempty"`
}
