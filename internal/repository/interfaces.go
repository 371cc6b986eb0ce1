package repository

import (
	"context"
	"errors"
	"time"

	"github.com/tidemark/authd/internal/domain"
)

var (
	// ErrNotFound signals a lookup miss for any record kind.
	ErrNotFound = errors.New("repository: not found")
	// ErrConsumed signals that a single-use credential was already redeemed
	// or revoked when a compare-and-swap update ran.
	ErrConsumed = errors.New("repository: credential already consumed")
	// ErrDuplicate signals a uniqueness violation (email, SKU).
	ErrDuplicate = errors.New("repository: duplicate record")
	// ErrInsufficientStock signals a subtract adjustment below zero.
	ErrInsufficientStock = errors.New("repository: insufficient stock")
)

// UserRepository persists end users.
type UserRepository interface {
	Create(ctx context.Context, user domain.User) (domain.User, error)
	GetByEmail(ctx context.Context, email string) (domain.User, error)
	GetByID(ctx context.Context, userID int64) (domain.User, error)
}

// ClientRepository persists OAuth clients.
type ClientRepository interface {
	Create(ctx context.Context, client domain.Client) (domain.Client, error)
	Get(ctx context.Context, clientID string) (domain.Client, error)
	List(ctx context.Context) ([]domain.Client, error)
	Revoke(ctx context.Context, clientID string) (bool, error)
}

// CodeRepository persists authorization codes. Consumption happens through
// TokenRepository.ExchangeCode so the revoke and the pair insert share one
// transaction.
type CodeRepository interface {
	Create(ctx context.Context, code domain.AuthorizationCode) error
	Get(ctx context.Context, codeID string) (domain.AuthorizationCode, error)
	DeleteExpiredBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// TokenRepository persists access and refresh tokens. Every mutation that
// consumes a credential is a conditional update: under concurrent callers
// exactly one wins and the rest observe ErrConsumed.
type TokenRepository interface {
	CreatePair(ctx context.Context, access domain.AccessToken, refresh domain.RefreshToken) error
	CreateAccessToken(ctx context.Context, access domain.AccessToken) error
	GetAccessToken(ctx context.Context, tokenID string) (domain.AccessToken, error)
	GetRefreshToken(ctx context.Context, tokenID string) (domain.RefreshToken, error)

	// RevokeAccessToken marks the token and its linked refresh token revoked.
	// It reports whether the token id resolved to a record at all.
	RevokeAccessToken(ctx context.Context, tokenID string) (bool, error)

	// ExchangeCode atomically consumes a live authorization code and persists
	// the replacement pair. Returns ErrConsumed when the code was already
	// redeemed, revoked, or expired.
	ExchangeCode(ctx context.Context, codeID string, access domain.AccessToken, refresh domain.RefreshToken) error

	// Rotate atomically consumes a live refresh token, revokes the access
	// token it belongs to, and persists the replacement pair. Returns
	// ErrConsumed when the refresh token lost the race or was dead already.
	Rotate(ctx context.Context, refreshTokenID string, access domain.AccessToken, refresh domain.RefreshToken) error

	RevokeAllForUser(ctx context.Context, userID int64) (int64, error)
	DeleteExpiredBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// SessionRepository persists first-party session tokens.
type SessionRepository interface {
	Create(ctx context.Context, session domain.SessionToken) error
	Get(ctx context.Context, token string) (domain.SessionToken, error)

	// Extend slides a live session's expiry forward and relinks it to a new
	// access token, revoking the previous access token in the same
	// transaction. Returns ErrConsumed for dead or unknown sessions.
	Extend(ctx context.Context, token, newAccessTokenID string, newExpiry time.Time) (domain.SessionToken, error)

	RevokeByAccessTokenID(ctx context.Context, accessTokenID string) (bool, error)
	RevokeAllForUser(ctx context.Context, userID int64) (int64, error)
	DeleteExpiredBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// ItemRepository persists inventory items.
type ItemRepository interface {
	Create(ctx context.Context, item domain.Item) (domain.Item, error)
	Get(ctx context.Context, itemID int64) (domain.Item, error)
	GetBySKU(ctx context.Context, sku string) (domain.Item, error)
	Update(ctx context.Context, item domain.Item) (domain.Item, error)
	Delete(ctx context.Context, itemID int64) (bool, error)
	List(ctx context.Context, filter domain.ItemFilter) ([]domain.Item, int64, error)

	// AdjustQuantity applies a delta under a row lock and fails with
	// ErrInsufficientStock rather than going negative.
	AdjustQuantity(ctx context.Context, itemID, delta int64) (domain.Item, error)

	ListLowStock(ctx context.Context, threshold int64) ([]domain.Item, error)
}
