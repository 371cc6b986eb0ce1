package service_test

import (
	"context"
	"testing"

	"github.com/bwmarrin/snowflake"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/tidemark/authd/internal/domain"
	"github.com/tidemark/authd/internal/repository"
	"github.com/tidemark/authd/internal/service"
)

type sessionEnv struct {
	tokens   *service.TokenService
	sessions *service.SessionService
}

func newSessionEnv(t *testing.T) *sessionEnv {
	t.Helper()
	ctx := context.Background()
	cfg := testConfig()
	logger := zap.NewNop()

	users := repository.NewMemoryUserRepo()
	clients := repository.NewMemoryClientRepo()
	codes := repository.NewMemoryCodeRepo()
	tokenRepo := repository.NewMemoryTokenRepo(codes)
	sessionRepo := repository.NewMemorySessionRepo(tokenRepo)

	_, err := clients.Create(ctx, domain.Client{
		ID:                   "first-party",
		Name:                 "Personal Access Client",
		Secret:               "fp-secret",
		PersonalAccessClient: true,
	})
	require.NoError(t, err)

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	tokens := service.NewTokenService(tokenRepo, cfg, logger)
	sessions := service.NewSessionService(users, sessionRepo, tokens, clients, node, cfg, logger)
	return &sessionEnv{tokens: tokens, sessions: sessions}
}

func TestRegisterLoginAndRefresh(t *testing.T) {
	env := newSessionEnv(t)
	ctx := context.Background()

	registered, err := env.sessions.Register(ctx, "Ada", "ada@example.com", "secret-password")
	require.NoError(t, err)
	require.NotEmpty(t, registered.AccessToken)
	require.Len(t, registered.SessionToken, 128)
	require.Equal(t, "ada@example.com", registered.User.Email)

	loggedIn, err := env.sessions.Login(ctx, "Ada@Example.com", "secret-password")
	require.NoError(t, err)
	require.NotEqual(t, registered.AccessToken, loggedIn.AccessToken)

	refreshed, err := env.sessions.Refresh(ctx, loggedIn.SessionToken)
	require.NoError(t, err)

	// New access token, same session token value.
	require.NotEqual(t, loggedIn.AccessToken, refreshed.AccessToken)
	require.Equal(t, loggedIn.SessionToken, refreshed.SessionToken)

	// The replaced access token is dead; the new one validates.
	_, err = env.tokens.Validate(ctx, loggedIn.AccessToken)
	requireOAuthCode(t, err, "invalid_token")
	_, err = env.tokens.Validate(ctx, refreshed.AccessToken)
	require.NoError(t, err)
}

func TestLoginUniformFailure(t *testing.T) {
	env := newSessionEnv(t)
	ctx := context.Background()

	_, err := env.sessions.Register(ctx, "Ada", "ada@example.com", "secret-password")
	require.NoError(t, err)

	_, wrongPassword := env.sessions.Login(ctx, "ada@example.com", "nope")
	requireOAuthCode(t, wrongPassword, "invalid_grant")

	_, unknownUser := env.sessions.Login(ctx, "ghost@example.com", "secret-password")
	requireOAuthCode(t, unknownUser, "invalid_grant")

	require.Equal(t, wrongPassword.Error(), unknownUser.Error())
}

func TestRegisterDuplicateEmail(t *testing.T) {
	env := newSessionEnv(t)
	ctx := context.Background()

	_, err := env.sessions.Register(ctx, "Ada", "ada@example.com", "secret-password")
	require.NoError(t, err)

	_, err = env.sessions.Register(ctx, "Imposter", "ada@example.com", "other-password")
	requireOAuthCode(t, err, "conflict")
}

func TestRegisterRejectsShortPassword(t *testing.T) {
	env := newSessionEnv(t)
	_, err := env.sessions.Register(context.Background(), "Ada", "ada@example.com", "short")
	requireOAuthCode(t, err, "invalid_request")
}

func TestLogoutRevokesAccessAndSession(t *testing.T) {
	env := newSessionEnv(t)
	ctx := context.Background()

	resp, err := env.sessions.Register(ctx, "Ada", "ada@example.com", "secret-password")
	require.NoError(t, err)

	require.NoError(t, env.sessions.Logout(ctx, resp.AccessToken))

	_, err = env.tokens.Validate(ctx, resp.AccessToken)
	requireOAuthCode(t, err, "invalid_token")
	_, err = env.sessions.Refresh(ctx, resp.SessionToken)
	requireOAuthCode(t, err, "invalid_grant")
}

func TestLogoutAllIsIdempotent(t *testing.T) {
	env := newSessionEnv(t)
	ctx := context.Background()

	registered, err := env.sessions.Register(ctx, "Ada", "ada@example.com", "secret-password")
	require.NoError(t, err)
	for i := 0; i < 2; i++ {
		_, err := env.sessions.Login(ctx, "ada@example.com", "secret-password")
		require.NoError(t, err)
	}

	revoked, err := env.sessions.LogoutAll(ctx, registered.User.ID)
	require.NoError(t, err)
	// Three access tokens plus three sessions.
	require.Equal(t, int64(6), revoked)

	again, err := env.sessions.LogoutAll(ctx, registered.User.ID)
	require.NoError(t, err)
	require.Zero(t, again)

	_, err = env.sessions.Refresh(ctx, registered.SessionToken)
	requireOAuthCode(t, err, "invalid_grant")
}

func TestRefreshSlidesExpiry(t *testing.T) {
	env := newSessionEnv(t)
	ctx := context.Background()

	resp, err := env.sessions.Register(ctx, "Ada", "ada@example.com", "secret-password")
	require.NoError(t, err)

	refreshed, err := env.sessions.Refresh(ctx, resp.SessionToken)
	require.NoError(t, err)
	require.NotEmpty(t, refreshed.AccessToken)

	// A second refresh on the same session token still succeeds: the slide
	// keeps the session live rather than consuming it.
	again, err := env.sessions.Refresh(ctx, resp.SessionToken)
	require.NoError(t, err)
	require.NotEqual(t, refreshed.AccessToken, again.AccessToken)
}
