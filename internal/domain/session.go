package domain

import "time"

// SessionToken backs the first-party refresh flow. It is keyed by its opaque
// value, linked to the short-lived access token it can replace, and slides
// its expiry forward on every refresh.
type SessionToken struct {
	Token         string
	UserID        int64
	AccessTokenID string
	ExpiresAt     time.Time
	IsRevoked     bool
	CreatedAt     time.Time
}

// Live reports whether the session token can still refresh.
func (s SessionToken) Live(now time.Time) bool {
	return !s.IsRevoked && now.Before(s.ExpiresAt)
}
