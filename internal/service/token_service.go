package service

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/tidemark/authd/internal/config"
	"github.com/tidemark/authd/internal/domain"
	"github.com/tidemark/authd/internal/repository"
)

const (
	accessTokenBytes  = 32
	sessionTokenBytes = 64
)

// randomToken returns a hex credential of 2*n characters.
func randomToken(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

// TokenService owns the lifecycle of opaque access and refresh tokens:
// minting, validation, revocation, and rotation. Tokens carry no claims; the
// store is the single source of truth.
type TokenService struct {
	tokens repository.TokenRepository
	cfg    config.Config
	logger *zap.Logger
	tracer trace.Tracer
}

// NewTokenService wires dependencies.
func NewTokenService(tokens repository.TokenRepository, cfg config.Config, logger *zap.Logger) *TokenService {
	return &TokenService{
		tokens: tokens,
		cfg:    cfg,
		logger: logger,
		tracer: otel.Tracer("github.com/tidemark/authd/internal/service"),
	}
}

// newPair mints an unsaved access/refresh pair for the given subject.
func (s *TokenService) newPair(clientID string, userID *int64, scopes []string, accessTTL time.Duration) (domain.AccessToken, domain.RefreshToken, error) {
	accessID, err := randomToken(accessTokenBytes)
	if err != nil {
		return domain.AccessToken{}, domain.RefreshToken{}, err
	}
	refreshID, err := randomToken(accessTokenBytes)
	if err != nil {
		return domain.AccessToken{}, domain.RefreshToken{}, err
	}
	now := time.Now()
	access := domain.AccessToken{
		ID:        accessID,
		ClientID:  clientID,
		UserID:    userID,
		Scopes:    scopes,
		ExpiresAt: now.Add(accessTTL),
	}
	refresh := domain.RefreshToken{
		ID:            refreshID,
		AccessTokenID: accessID,
		ExpiresAt:     now.Add(s.cfg.RefreshTokenTTL),
	}
	return access, refresh, nil
}

// IssuePair mints and persists an access/refresh pair.
func (s *TokenService) IssuePair(ctx context.Context, clientID string, userID *int64, scopes []string) (domain.AccessToken, domain.RefreshToken, error) {
	ctx, span := s.tracer.Start(ctx, "TokenService.IssuePair")
	defer span.End()

	access, refresh, err := s.newPair(clientID, userID, scopes, s.cfg.AccessTokenTTL)
	if err != nil {
		return domain.AccessToken{}, domain.RefreshToken{}, errServer("could not mint tokens")
	}
	if err := s.tokens.CreatePair(ctx, access, refresh); err != nil {
		span.RecordError(err)
		return domain.AccessToken{}, domain.RefreshToken{}, errServer("could not persist tokens")
	}
	return access, refresh, nil
}

// IssueAccessToken mints a standalone access token with the given TTL. The
// session flow uses this: its refresh credential is the session token, not an
// OAuth refresh token.
func (s *TokenService) IssueAccessToken(ctx context.Context, clientID string, userID *int64, scopes []string, ttl time.Duration) (domain.AccessToken, error) {
	ctx, span := s.tracer.Start(ctx, "TokenService.IssueAccessToken")
	defer span.End()

	id, err := randomToken(accessTokenBytes)
	if err != nil {
		return domain.AccessToken{}, errServer("could not mint token")
	}
	access := domain.AccessToken{
		ID:        id,
		ClientID:  clientID,
		UserID:    userID,
		Scopes:    scopes,
		ExpiresAt: time.Now().Add(ttl),
	}
	if err := s.tokens.CreateAccessToken(ctx, access); err != nil {
		span.RecordError(err)
		return domain.AccessToken{}, errServer("could not persist token")
	}
	return access, nil
}

// ExchangeCode consumes an authorization code and persists the replacement
// pair in the same transaction. Losing a concurrent race, a revoked code,
// and an expired code all collapse to invalid_grant.
func (s *TokenService) ExchangeCode(ctx context.Context, codeID, clientID string, userID int64, scopes []string) (domain.AccessToken, domain.RefreshToken, error) {
	ctx, span := s.tracer.Start(ctx, "TokenService.ExchangeCode")
	defer span.End()

	access, refresh, err := s.newPair(clientID, &userID, scopes, s.cfg.AccessTokenTTL)
	if err != nil {
		return domain.AccessToken{}, domain.RefreshToken{}, errServer("could not mint tokens")
	}
	if err := s.tokens.ExchangeCode(ctx, codeID, access, refresh); err != nil {
		if errors.Is(err, repository.ErrConsumed) {
			return domain.AccessToken{}, domain.RefreshToken{}, errInvalidGrant()
		}
		span.RecordError(err)
		return domain.AccessToken{}, domain.RefreshToken{}, errServer("code exchange failed")
	}
	return access, refresh, nil
}

// Validate resolves a bearer value to a live access token. It is a pure
// read: expiry is evaluated against the clock, never stored.
func (s *TokenService) Validate(ctx context.Context, tokenID string) (domain.AccessToken, error) {
	ctx, span := s.tracer.Start(ctx, "TokenService.Validate")
	defer span.End()

	token, err := s.tokens.GetAccessToken(ctx, tokenID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return domain.AccessToken{}, errInvalidToken()
		}
		span.RecordError(err)
		return domain.AccessToken{}, errServer("token lookup failed")
	}
	if !token.Live(time.Now()) {
		return domain.AccessToken{}, errInvalidToken()
	}
	return token, nil
}

// Revoke marks an access token and its linked refresh token revoked. It is
// idempotent and reports whether the token id resolved to a record.
func (s *TokenService) Revoke(ctx context.Context, tokenID string) (bool, error) {
	ctx, span := s.tracer.Start(ctx, "TokenService.Revoke")
	defer span.End()

	found, err := s.tokens.RevokeAccessToken(ctx, tokenID)
	if err != nil {
		span.RecordError(err)
		return false, errServer("revocation failed")
	}
	return found, nil
}

// Rotate consumes a refresh token and mints a replacement pair for the same
// subject and scopes. All failure shapes collapse to invalid_grant.
func (s *TokenService) Rotate(ctx context.Context, refreshTokenID string) (domain.AccessToken, domain.RefreshToken, error) {
	ctx, span := s.tracer.Start(ctx, "TokenService.Rotate")
	defer span.End()

	old, err := s.tokens.GetRefreshToken(ctx, refreshTokenID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return domain.AccessToken{}, domain.RefreshToken{}, errInvalidGrant()
		}
		span.RecordError(err)
		return domain.AccessToken{}, domain.RefreshToken{}, errServer("refresh lookup failed")
	}
	oldAccess, err := s.tokens.GetAccessToken(ctx, old.AccessTokenID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return domain.AccessToken{}, domain.RefreshToken{}, errInvalidGrant()
		}
		span.RecordError(err)
		return domain.AccessToken{}, domain.RefreshToken{}, errServer("token lookup failed")
	}

	access, refresh, err := s.newPair(oldAccess.ClientID, oldAccess.UserID, oldAccess.Scopes, s.cfg.AccessTokenTTL)
	if err != nil {
		return domain.AccessToken{}, domain.RefreshToken{}, errServer("could not mint tokens")
	}
	if err := s.tokens.Rotate(ctx, refreshTokenID, access, refresh); err != nil {
		if errors.Is(err, repository.ErrConsumed) {
			return domain.AccessToken{}, domain.RefreshToken{}, errInvalidGrant()
		}
		span.RecordError(err)
		return domain.AccessToken{}, domain.RefreshToken{}, errServer("rotation failed")
	}
	s.logger.Info("refresh token rotated",
		zap.String("client_id", access.ClientID))
	return access, refresh, nil
}

// RevokeAllForUser revokes every access and refresh token the user holds.
func (s *TokenService) RevokeAllForUser(ctx context.Context, userID int64) (int64, error) {
	ctx, span := s.tracer.Start(ctx, "TokenService.RevokeAllForUser")
	defer span.End()

	n, err := s.tokens.RevokeAllForUser(ctx, userID)
	if err != nil {
		span.RecordError(err)
		return 0, errServer("revocation failed")
	}
	return n, nil
}
