package service

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/bwmarrin/snowflake"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/tidemark/authd/internal/config"
	"github.com/tidemark/authd/internal/domain"
	pw "github.com/tidemark/authd/internal/password"
	"github.com/tidemark/authd/internal/repository"
)

// SessionResponse is returned by register, login, and refresh.
type SessionResponse struct {
	User         domain.User `json:"user"`
	AccessToken  string      `json:"access_token"`
	SessionToken string      `json:"session_token"`
	TokenType    string      `json:"token_type"`
	ExpiresIn    int         `json:"expires_in"`
}

// SessionService implements the first-party flow: register, login, sliding
// session refresh, and logout. Session-issued access tokens are short lived;
// the long-lived credential is the session token itself.
type SessionService struct {
	users    repository.UserRepository
	sessions repository.SessionRepository
	tokens   *TokenService
	clients  repository.ClientRepository
	node     *snowflake.Node
	cfg      config.Config
	logger   *zap.Logger
	tracer   trace.Tracer

	mu            sync.Mutex
	firstPartyCID string
}

// NewSessionService wires dependencies.
func NewSessionService(users repository.UserRepository, sessions repository.SessionRepository, tokens *TokenService, clients repository.ClientRepository, node *snowflake.Node, cfg config.Config, logger *zap.Logger) *SessionService {
	return &SessionService{
		users:    users,
		sessions: sessions,
		tokens:   tokens,
		clients:  clients,
		node:     node,
		cfg:      cfg,
		logger:   logger,
		tracer:   otel.Tracer("github.com/tidemark/authd/internal/service"),
	}
}

// Register creates a user and opens a session for it.
func (s *SessionService) Register(ctx context.Context, name, email, password string) (*SessionResponse, error) {
	ctx, span := s.tracer.Start(ctx, "SessionService.Register")
	defer span.End()

	name = strings.TrimSpace(name)
	email = strings.ToLower(strings.TrimSpace(email))
	if name == "" || email == "" || len(password) < 8 {
		return nil, newOAuthError(ErrCodeInvalidRequest, "name, email, and a password of at least 8 characters are required", http.StatusBadRequest)
	}

	hash, err := pw.Hash(password)
	if err != nil {
		span.RecordError(err)
		return nil, errServer("could not hash password")
	}
	user, err := s.users.Create(ctx, domain.User{
		ID:           s.node.Generate().Int64(),
		Name:         name,
		Email:        email,
		PasswordHash: hash,
	})
	if err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, newOAuthError(ErrCodeConflict, "email already registered", http.StatusConflict)
		}
		span.RecordError(err)
		return nil, errServer("could not persist user")
	}
	s.logger.Info("user registered", zap.Int64("user_id", user.ID))
	return s.openSession(ctx, user)
}

// Login verifies credentials and opens a session. Unknown emails and wrong
// passwords return the same error.
func (s *SessionService) Login(ctx context.Context, email, password string) (*SessionResponse, error) {
	ctx, span := s.tracer.Start(ctx, "SessionService.Login")
	defer span.End()

	user, err := s.users.GetByEmail(ctx, strings.ToLower(strings.TrimSpace(email)))
	if err != nil {
		return nil, newOAuthError(ErrCodeInvalidGrant, "Wrong email or password.", http.StatusBadRequest)
	}
	valid, err := pw.Verify(password, user.PasswordHash)
	if err != nil || !valid {
		return nil, newOAuthError(ErrCodeInvalidGrant, "Wrong email or password.", http.StatusBadRequest)
	}
	s.logger.Info("user logged in", zap.Int64("user_id", user.ID))
	return s.openSession(ctx, user)
}

// Refresh mints a fresh access token for a live session, slides the session
// expiry forward, and revokes the access token it replaces. The session token
// value itself never changes.
func (s *SessionService) Refresh(ctx context.Context, sessionToken string) (*SessionResponse, error) {
	ctx, span := s.tracer.Start(ctx, "SessionService.Refresh")
	defer span.End()

	session, err := s.sessions.Get(ctx, sessionToken)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, errInvalidGrant()
		}
		span.RecordError(err)
		return nil, errServer("session lookup failed")
	}
	user, err := s.users.GetByID(ctx, session.UserID)
	if err != nil {
		return nil, errInvalidGrant()
	}

	clientID, err := s.firstPartyClientID(ctx)
	if err != nil {
		return nil, err
	}
	access, err := s.tokens.IssueAccessToken(ctx, clientID, &user.ID, defaultScopes, s.cfg.SessionAccessTokenTTL)
	if err != nil {
		return nil, err
	}
	extended, err := s.sessions.Extend(ctx, sessionToken, access.ID, time.Now().Add(s.cfg.RefreshTokenTTL))
	if err != nil {
		// The minted token never reached the caller; do not leave it live.
		_, _ = s.tokens.Revoke(ctx, access.ID)
		if errors.Is(err, repository.ErrConsumed) {
			return nil, errInvalidGrant()
		}
		span.RecordError(err)
		return nil, errServer("session refresh failed")
	}
	return &SessionResponse{
		User:         user,
		AccessToken:  access.ID,
		SessionToken: extended.Token,
		TokenType:    "Bearer",
		ExpiresIn:    int(time.Until(access.ExpiresAt).Seconds()),
	}, nil
}

// Logout revokes the presented access token and the session linked to it.
func (s *SessionService) Logout(ctx context.Context, accessTokenID string) error {
	ctx, span := s.tracer.Start(ctx, "SessionService.Logout")
	defer span.End()

	if _, err := s.tokens.Revoke(ctx, accessTokenID); err != nil {
		return err
	}
	if _, err := s.sessions.RevokeByAccessTokenID(ctx, accessTokenID); err != nil {
		span.RecordError(err)
		return errServer("session revocation failed")
	}
	return nil
}

// LogoutAll revokes every access, refresh, and session token the user holds.
// It is idempotent; a second call revokes nothing further.
func (s *SessionService) LogoutAll(ctx context.Context, userID int64) (int64, error) {
	ctx, span := s.tracer.Start(ctx, "SessionService.LogoutAll")
	defer span.End()

	tokens, err := s.tokens.RevokeAllForUser(ctx, userID)
	if err != nil {
		return 0, err
	}
	sessions, err := s.sessions.RevokeAllForUser(ctx, userID)
	if err != nil {
		span.RecordError(err)
		return 0, errServer("session revocation failed")
	}
	s.logger.Info("user logged out everywhere",
		zap.Int64("user_id", userID),
		zap.Int64("tokens_revoked", tokens),
		zap.Int64("sessions_revoked", sessions))
	return tokens + sessions, nil
}

func (s *SessionService) openSession(ctx context.Context, user domain.User) (*SessionResponse, error) {
	clientID, err := s.firstPartyClientID(ctx)
	if err != nil {
		return nil, err
	}
	access, err := s.tokens.IssueAccessToken(ctx, clientID, &user.ID, defaultScopes, s.cfg.SessionAccessTokenTTL)
	if err != nil {
		return nil, err
	}
	value, err := randomToken(sessionTokenBytes)
	if err != nil {
		return nil, errServer("could not mint session token")
	}
	session := domain.SessionToken{
		Token:         value,
		UserID:        user.ID,
		AccessTokenID: access.ID,
		ExpiresAt:     time.Now().Add(s.cfg.RefreshTokenTTL),
	}
	if err := s.sessions.Create(ctx, session); err != nil {
		_, _ = s.tokens.Revoke(ctx, access.ID)
		return nil, errServer("could not persist session")
	}
	return &SessionResponse{
		User:         user,
		AccessToken:  access.ID,
		SessionToken: session.Token,
		TokenType:    "Bearer",
		ExpiresIn:    int(time.Until(access.ExpiresAt).Seconds()),
	}, nil
}

// firstPartyClientID resolves the seeded personal-access client once and
// caches it for the process lifetime.
func (s *SessionService) firstPartyClientID(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.firstPartyCID != "" {
		return s.firstPartyCID, nil
	}
	clients, err := s.clients.List(ctx)
	if err != nil {
		return "", errServer("client lookup failed")
	}
	for _, c := range clients {
		if c.PersonalAccessClient && !c.Revoked {
			s.firstPartyCID = c.ID
			return c.ID, nil
		}
	}
	return "", errServer("no personal access client configured")
}
