package domain

import "time"

// AuthorizationCode is a single-use credential minted by the authorize step
// and consumed exactly once during the authorization_code exchange.
type AuthorizationCode struct {
	ID          string
	ClientID    string
	UserID      int64
	Scopes      []string
	RedirectURI string
	ExpiresAt   time.Time
	Revoked     bool
	CreatedAt   time.Time
}

// Live reports whether the code can still be redeemed at the given instant.
func (c AuthorizationCode) Live(now time.Time) bool {
	return !c.Revoked && now.Before(c.ExpiresAt)
}

// AccessToken is an opaque bearer credential. UserID is nil for
// client_credentials grants.
type AccessToken struct {
	ID        string
	ClientID  string
	UserID    *int64
	Scopes    []string
	ExpiresAt time.Time
	Revoked   bool
	CreatedAt time.Time
}

// Live reports whether the token validates at the given instant. Expiry is a
// derived predicate, never a stored transition.
func (t AccessToken) Live(now time.Time) bool {
	return !t.Revoked && now.Before(t.ExpiresAt)
}

// RefreshToken is the rotation credential paired one-to-one with an access
// token. Rotating it revokes the whole pair and mints a replacement.
type RefreshToken struct {
	ID            string
	AccessTokenID string
	ExpiresAt     time.Time
	Revoked       bool
	CreatedAt     time.Time
}

// Live reports whether the refresh token can still rotate.
func (t RefreshToken) Live(now time.Time) bool {
	return !t.Revoked && now.Before(t.ExpiresAt)
}
