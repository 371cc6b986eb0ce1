package service

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/tidemark/authd/internal/config"
	"github.com/tidemark/authd/internal/domain"
	pw "github.com/tidemark/authd/internal/password"
	"github.com/tidemark/authd/internal/repository"
)

// GrantType enumerates the supported token grants.
type GrantType string

const (
	GrantAuthorizationCode GrantType = "authorization_code"
	GrantPassword          GrantType = "password"
	GrantClientCredentials GrantType = "client_credentials"
	GrantRefreshToken      GrantType = "refresh_token"
)

// Scope catalog. Requests outside this set are rejected.
var knownScopes = map[string]string{
	"read":   "Read inventory data",
	"write":  "Create and update inventory data",
	"delete": "Delete inventory data",
	"admin":  "Administrative operations",
}

var defaultScopes = []string{"read"}

// TokenRequest carries the parsed body of POST /oauth/token.
type TokenRequest struct {
	GrantType    string
	ClientID     string
	ClientSecret string
	Code         string
	RedirectURI  string
	Username     string
	Password     string
	Scope        string
	RefreshToken string
}

// AuthorizeRequest carries the parsed body of POST /oauth/authorize.
type AuthorizeRequest struct {
	ResponseType string
	ClientID     string
	RedirectURI  string
	Email        string
	Password     string
	Scope        string
}

// TokenResponse matches RFC 6749 token responses.
type TokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token,omitempty"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int    `json:"expires_in"`
	Scope        string `json:"scope,omitempty"`
}

// TokenInfo is the introspection view of an access token.
type TokenInfo struct {
	Active   bool   `json:"active"`
	ClientID string `json:"client_id,omitempty"`
	UserID   *int64 `json:"user_id,omitempty"`
	Scope    string `json:"scope,omitempty"`
	Exp      int64  `json:"exp,omitempty"`
}

type grantFunc func(ctx context.Context, req TokenRequest, client domain.Client) (*TokenResponse, error)

// OAuthService implements the four token grants and the authorize step.
type OAuthService struct {
	users   repository.UserRepository
	codes   repository.CodeRepository
	tokens  *TokenService
	clients *ClientService
	cfg     config.Config
	logger  *zap.Logger
	tracer  trace.Tracer
	grants  map[GrantType]grantFunc
}

// NewOAuthService wires dependencies and builds the grant dispatch table.
func NewOAuthService(users repository.UserRepository, codes repository.CodeRepository, tokens *TokenService, clients *ClientService, cfg config.Config, logger *zap.Logger) *OAuthService {
	s := &OAuthService{
		users:   users,
		codes:   codes,
		tokens:  tokens,
		clients: clients,
		cfg:     cfg,
		logger:  logger,
		tracer:  otel.Tracer("github.com/tidemark/authd/internal/service"),
	}
	s.grants = map[GrantType]grantFunc{
		GrantAuthorizationCode: s.grantAuthorizationCode,
		GrantPassword:          s.grantPassword,
		GrantClientCredentials: s.grantClientCredentials,
		GrantRefreshToken:      s.grantRefreshToken,
	}
	return s
}

// Authorize verifies the resource owner's credentials and mints a single-use
// authorization code bound to the client, user, requested scopes, and the
// supplied or client-default redirect URI.
func (s *OAuthService) Authorize(ctx context.Context, req AuthorizeRequest) (domain.AuthorizationCode, error) {
	ctx, span := s.tracer.Start(ctx, "OAuthService.Authorize")
	defer span.End()

	if req.ResponseType != "code" {
		return domain.AuthorizationCode{}, newOAuthError(ErrCodeInvalidRequest, "response_type must be code", http.StatusBadRequest)
	}
	client, err := s.clients.Get(ctx, req.ClientID)
	if err != nil || client.Revoked {
		return domain.AuthorizationCode{}, errInvalidClient()
	}
	scopes, err := parseScopes(req.Scope)
	if err != nil {
		return domain.AuthorizationCode{}, err
	}
	user, err := s.verifyUser(ctx, req.Email, req.Password)
	if err != nil {
		return domain.AuthorizationCode{}, err
	}

	id, err := randomToken(accessTokenBytes)
	if err != nil {
		return domain.AuthorizationCode{}, errServer("could not mint code")
	}
	code := domain.AuthorizationCode{
		ID:          id,
		ClientID:    client.ID,
		UserID:      user.ID,
		Scopes:      scopes,
		RedirectURI: effectiveRedirect(req.RedirectURI, client),
		ExpiresAt:   time.Now().Add(s.cfg.AuthCodeTTL),
	}
	if err := s.codes.Create(ctx, code); err != nil {
		span.RecordError(err)
		return domain.AuthorizationCode{}, errServer("could not persist code")
	}
	s.logger.Info("authorization code issued",
		zap.String("client_id", client.ID),
		zap.Int64("user_id", user.ID))
	return code, nil
}

// Token authenticates the client and dispatches to the requested grant.
// Client authentication happens before any credential in the request body is
// consumed, so a failed invalid_client leaves codes and refresh tokens live.
func (s *OAuthService) Token(ctx context.Context, req TokenRequest) (*TokenResponse, error) {
	ctx, span := s.tracer.Start(ctx, "OAuthService.Token")
	defer span.End()

	grant, ok := s.grants[GrantType(req.GrantType)]
	if !ok {
		return nil, newOAuthError(ErrCodeUnsupportedGrant, "unsupported grant type", http.StatusBadRequest)
	}
	client, err := s.clients.Authenticate(ctx, req.ClientID, req.ClientSecret)
	if err != nil {
		return nil, err
	}
	if !s.clients.AuthorizedForGrant(client, GrantType(req.GrantType)) {
		return nil, errInvalidClient()
	}
	resp, err := grant(ctx, req, client)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	s.logger.Info("token issued",
		zap.String("grant_type", req.GrantType),
		zap.String("client_id", client.ID))
	return resp, nil
}

func (s *OAuthService) grantAuthorizationCode(ctx context.Context, req TokenRequest, client domain.Client) (*TokenResponse, error) {
	if req.Code == "" {
		return nil, newOAuthError(ErrCodeInvalidRequest, "code is required", http.StatusBadRequest)
	}
	code, err := s.codes.Get(ctx, req.Code)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, errInvalidGrant()
		}
		return nil, errServer("code lookup failed")
	}
	// Bound to the issuing client and redirect target.
	if code.ClientID != client.ID || code.RedirectURI != effectiveRedirect(req.RedirectURI, client) {
		return nil, errInvalidGrant()
	}

	access, refresh, err := s.tokens.ExchangeCode(ctx, code.ID, client.ID, code.UserID, code.Scopes)
	if err != nil {
		return nil, err
	}
	return s.response(access, refresh.ID), nil
}

func (s *OAuthService) grantPassword(ctx context.Context, req TokenRequest, client domain.Client) (*TokenResponse, error) {
	scopes, err := parseScopes(req.Scope)
	if err != nil {
		return nil, err
	}
	user, err := s.verifyUser(ctx, req.Username, req.Password)
	if err != nil {
		return nil, err
	}
	access, refresh, err := s.tokens.IssuePair(ctx, client.ID, &user.ID, scopes)
	if err != nil {
		return nil, err
	}
	return s.response(access, refresh.ID), nil
}

func (s *OAuthService) grantClientCredentials(ctx context.Context, req TokenRequest, client domain.Client) (*TokenResponse, error) {
	if client.Public() {
		return nil, errInvalidClient()
	}
	scopes, err := parseScopes(req.Scope)
	if err != nil {
		return nil, err
	}
	access, _, err := s.tokens.IssuePair(ctx, client.ID, nil, scopes)
	if err != nil {
		return nil, err
	}
	// The stored refresh token is deliberately not returned for this grant;
	// machine clients re-authenticate instead of rotating.
	return s.response(access, ""), nil
}

func (s *OAuthService) grantRefreshToken(ctx context.Context, req TokenRequest, client domain.Client) (*TokenResponse, error) {
	if req.RefreshToken == "" {
		return nil, newOAuthError(ErrCodeInvalidRequest, "refresh_token is required", http.StatusBadRequest)
	}
	access, refresh, err := s.tokens.Rotate(ctx, req.RefreshToken)
	if err != nil {
		return nil, err
	}
	if access.ClientID != client.ID {
		// Wrong client: the pair is already rotated, kill it.
		_, _ = s.tokens.Revoke(ctx, access.ID)
		return nil, errInvalidGrant()
	}
	return s.response(access, refresh.ID), nil
}

// Revoke invalidates an access token and its linked refresh token. Per RFC
// 7009 an unknown token is not an error.
func (s *OAuthService) Revoke(ctx context.Context, clientID, clientSecret, tokenID string) error {
	ctx, span := s.tracer.Start(ctx, "OAuthService.Revoke")
	defer span.End()

	if _, err := s.clients.Authenticate(ctx, clientID, clientSecret); err != nil {
		return err
	}
	found, err := s.tokens.Revoke(ctx, tokenID)
	if err != nil {
		return err
	}
	if found {
		s.logger.Info("token revoked", zap.String("client_id", clientID))
	}
	return nil
}

// Introspect reports the live state of an access token. Dead and unknown
// tokens both come back inactive.
func (s *OAuthService) Introspect(ctx context.Context, tokenID string) TokenInfo {
	token, err := s.tokens.Validate(ctx, tokenID)
	if err != nil {
		return TokenInfo{Active: false}
	}
	return TokenInfo{
		Active:   true,
		ClientID: token.ClientID,
		UserID:   token.UserID,
		Scope:    strings.Join(token.Scopes, " "),
		Exp:      token.ExpiresAt.Unix(),
	}
}

// Scopes returns the scope catalog.
func (s *OAuthService) Scopes() map[string]string {
	out := make(map[string]string, len(knownScopes))
	for k, v := range knownScopes {
		out[k] = v
	}
	return out
}

// verifyUser checks the resource owner's credentials. Unknown emails and
// wrong passwords return the same error.
func (s *OAuthService) verifyUser(ctx context.Context, email, password string) (domain.User, error) {
	normalized := strings.ToLower(strings.TrimSpace(email))
	user, err := s.users.GetByEmail(ctx, normalized)
	if err != nil {
		return domain.User{}, newOAuthError(ErrCodeInvalidGrant, "Wrong email or password.", http.StatusBadRequest)
	}
	valid, err := pw.Verify(password, user.PasswordHash)
	if err != nil || !valid {
		return domain.User{}, newOAuthError(ErrCodeInvalidGrant, "Wrong email or password.", http.StatusBadRequest)
	}
	return user, nil
}

func (s *OAuthService) response(access domain.AccessToken, refreshID string) *TokenResponse {
	return &TokenResponse{
		AccessToken:  access.ID,
		RefreshToken: refreshID,
		TokenType:    "Bearer",
		ExpiresIn:    int(time.Until(access.ExpiresAt).Seconds()),
		Scope:        strings.Join(access.Scopes, " "),
	}
}

// effectiveRedirect resolves an omitted redirect_uri to the client's
// registered one.
func effectiveRedirect(redirectURI string, client domain.Client) string {
	redirect := strings.TrimSpace(redirectURI)
	if redirect == "" {
		return client.RedirectURI
	}
	return redirect
}

// parseScopes splits a space-delimited scope string, defaulting to read and
// rejecting scopes outside the catalog.
func parseScopes(scope string) ([]string, error) {
	fields := strings.Fields(scope)
	if len(fields) == 0 {
		return append([]string(nil), defaultScopes...), nil
	}
	seen := make(map[string]bool, len(fields))
	var out []string
	for _, f := range fields {
		if _, ok := knownScopes[f]; !ok {
			return nil, newOAuthError(ErrCodeInvalidRequest, "unknown scope: "+f, http.StatusBadRequest)
		}
		if !seen[f] {
			seen[f] = true
			out = append(out, f)
		}
	}
	return out, nil
}
