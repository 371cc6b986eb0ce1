package domain

import "time"

// Client is a registered OAuth client. The secret is stored as issued and
// compared in constant time; an empty secret marks the client public.
type Client struct {
	ID                   string
	UserID               *int64
	Name                 string
	Secret               string
	RedirectURI          string
	PersonalAccessClient bool
	PasswordClient       bool
	Revoked              bool
	CreatedAt            time.Time
}

// Confidential reports whether the client holds a secret it must present.
func (c Client) Confidential() bool {
	return c.Secret != ""
}

// Public is the inverse of Confidential.
func (c Client) Public() bool {
	return !c.Confidential()
}

// FirstParty reports whether the client belongs to the service operator.
func (c Client) FirstParty() bool {
	return c.PersonalAccessClient || c.PasswordClient
}

// ThirdParty is the inverse of FirstParty.
func (c Client) ThirdParty() bool {
	return !c.FirstParty()
}
