package service_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/tidemark/authd/internal/config"
	"github.com/tidemark/authd/internal/domain"
	"github.com/tidemark/authd/internal/password"
	"github.com/tidemark/authd/internal/repository"
	"github.com/tidemark/authd/internal/service"
)

type oauthEnv struct {
	users   *repository.MemoryUserRepo
	clients *repository.MemoryClientRepo
	codes   *repository.MemoryCodeRepo
	tokens  *service.TokenService
	oauth   *service.OAuthService

	user   domain.User
	client domain.Client
}

func testConfig() config.Config {
	return config.Config{
		AccessTokenTTL:        time.Hour,
		SessionAccessTokenTTL: 15 * time.Minute,
		RefreshTokenTTL:       30 * 24 * time.Hour,
		AuthCodeTTL:           10 * time.Minute,
		LowStockThreshold:     10,
	}
}

func newOAuthEnv(t *testing.T) *oauthEnv {
	t.Helper()
	ctx := context.Background()
	cfg := testConfig()
	logger := zap.NewNop()

	users := repository.NewMemoryUserRepo()
	clients := repository.NewMemoryClientRepo()
	codes := repository.NewMemoryCodeRepo()
	tokenRepo := repository.NewMemoryTokenRepo(codes)

	hash, err := password.Hash("secret-password")
	require.NoError(t, err)
	user, err := users.Create(ctx, domain.User{ID: 10, Name: "Ada", Email: "ada@example.com", PasswordHash: hash})
	require.NoError(t, err)

	client, err := clients.Create(ctx, domain.Client{
		ID:             "client-1",
		Name:           "Test Client",
		Secret:         "client-secret",
		RedirectURI:    "https://app.example.com/callback",
		PasswordClient: true,
	})
	require.NoError(t, err)

	tokens := service.NewTokenService(tokenRepo, cfg, logger)
	clientService := service.NewClientService(clients, logger)
	oauth := service.NewOAuthService(users, codes, tokens, clientService, cfg, logger)

	return &oauthEnv{
		users:   users,
		clients: clients,
		codes:   codes,
		tokens:  tokens,
		oauth:   oauth,
		user:    user,
		client:  client,
	}
}

func (e *oauthEnv) authorize(t *testing.T) string {
	t.Helper()
	code, err := e.oauth.Authorize(context.Background(), service.AuthorizeRequest{
		ResponseType: "code",
		ClientID:     e.client.ID,
		RedirectURI:  e.client.RedirectURI,
		Email:        e.user.Email,
		Password:     "secret-password",
		Scope:        "read write",
	})
	require.NoError(t, err)
	require.NotEmpty(t, code.ID)
	return code.ID
}

func requireOAuthCode(t *testing.T, err error, code string) {
	t.Helper()
	require.Error(t, err)
	oauthErr, ok := err.(*service.OAuthError)
	require.True(t, ok, "expected *service.OAuthError, got %T", err)
	require.Equal(t, code, oauthErr.Code)
}

func TestAuthorizationCodeIsSingleUse(t *testing.T) {
	env := newOAuthEnv(t)
	ctx := context.Background()
	code := env.authorize(t)

	req := service.TokenRequest{
		GrantType:    "authorization_code",
		ClientID:     env.client.ID,
		ClientSecret: env.client.Secret,
		Code:         code,
		RedirectURI:  env.client.RedirectURI,
	}
	resp, err := env.oauth.Token(ctx, req)
	require.NoError(t, err)
	require.NotEmpty(t, resp.AccessToken)
	require.NotEmpty(t, resp.RefreshToken)
	require.Equal(t, "Bearer", resp.TokenType)
	require.Equal(t, "read write", resp.Scope)

	_, err = env.oauth.Token(ctx, req)
	requireOAuthCode(t, err, "invalid_grant")
}

func TestAuthorizeDefaultsToClientRedirect(t *testing.T) {
	env := newOAuthEnv(t)
	ctx := context.Background()

	code, err := env.oauth.Authorize(ctx, service.AuthorizeRequest{
		ResponseType: "code",
		ClientID:     env.client.ID,
		Email:        env.user.Email,
		Password:     "secret-password",
	})
	require.NoError(t, err)
	require.Equal(t, env.client.RedirectURI, code.RedirectURI)

	// The code redeems against the registered redirect.
	resp, err := env.oauth.Token(ctx, service.TokenRequest{
		GrantType:    "authorization_code",
		ClientID:     env.client.ID,
		ClientSecret: env.client.Secret,
		Code:         code.ID,
		RedirectURI:  env.client.RedirectURI,
	})
	require.NoError(t, err)
	require.NotEmpty(t, resp.AccessToken)

	// An omitted exchange redirect resolves the same way.
	code2, err := env.oauth.Authorize(ctx, service.AuthorizeRequest{
		ResponseType: "code",
		ClientID:     env.client.ID,
		Email:        env.user.Email,
		Password:     "secret-password",
	})
	require.NoError(t, err)
	_, err = env.oauth.Token(ctx, service.TokenRequest{
		GrantType:    "authorization_code",
		ClientID:     env.client.ID,
		ClientSecret: env.client.Secret,
		Code:         code2.ID,
	})
	require.NoError(t, err)
}

func TestExchangeWithMismatchedRedirectFails(t *testing.T) {
	env := newOAuthEnv(t)
	ctx := context.Background()
	code := env.authorize(t)

	_, err := env.oauth.Token(ctx, service.TokenRequest{
		GrantType:    "authorization_code",
		ClientID:     env.client.ID,
		ClientSecret: env.client.Secret,
		Code:         code,
		RedirectURI:  "https://evil.example.com/callback",
	})
	requireOAuthCode(t, err, "invalid_grant")
}

func TestWrongClientSecretLeavesCodeLive(t *testing.T) {
	env := newOAuthEnv(t)
	ctx := context.Background()
	code := env.authorize(t)

	bad := service.TokenRequest{
		GrantType:    "authorization_code",
		ClientID:     env.client.ID,
		ClientSecret: "wrong-secret",
		Code:         code,
		RedirectURI:  env.client.RedirectURI,
	}
	_, err := env.oauth.Token(ctx, bad)
	requireOAuthCode(t, err, "invalid_client")

	good := bad
	good.ClientSecret = env.client.Secret
	resp, err := env.oauth.Token(ctx, good)
	require.NoError(t, err)
	require.NotEmpty(t, resp.AccessToken)
}

func TestExpiredCodeIsRejected(t *testing.T) {
	env := newOAuthEnv(t)
	ctx := context.Background()

	require.NoError(t, env.codes.Create(ctx, domain.AuthorizationCode{
		ID:          "stale-code",
		ClientID:    env.client.ID,
		UserID:      env.user.ID,
		Scopes:      []string{"read"},
		RedirectURI: env.client.RedirectURI,
		ExpiresAt:   time.Now().Add(-time.Minute),
	}))

	_, err := env.oauth.Token(ctx, service.TokenRequest{
		GrantType:    "authorization_code",
		ClientID:     env.client.ID,
		ClientSecret: env.client.Secret,
		Code:         "stale-code",
		RedirectURI:  env.client.RedirectURI,
	})
	requireOAuthCode(t, err, "invalid_grant")
}

func TestConcurrentCodeExchangeHasOneWinner(t *testing.T) {
	env := newOAuthEnv(t)
	ctx := context.Background()
	code := env.authorize(t)

	const racers = 8
	var wins atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := env.oauth.Token(ctx, service.TokenRequest{
				GrantType:    "authorization_code",
				ClientID:     env.client.ID,
				ClientSecret: env.client.Secret,
				Code:         code,
				RedirectURI:  env.client.RedirectURI,
			})
			if err == nil {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()
	require.Equal(t, int64(1), wins.Load())
}

func TestPasswordGrant(t *testing.T) {
	env := newOAuthEnv(t)
	ctx := context.Background()

	resp, err := env.oauth.Token(ctx, service.TokenRequest{
		GrantType:    "password",
		ClientID:     env.client.ID,
		ClientSecret: env.client.Secret,
		Username:     env.user.Email,
		Password:     "secret-password",
	})
	require.NoError(t, err)
	require.Equal(t, "read", resp.Scope)
	require.NotEmpty(t, resp.RefreshToken)

	info := env.oauth.Introspect(ctx, resp.AccessToken)
	require.True(t, info.Active)
	require.NotNil(t, info.UserID)
	require.Equal(t, env.user.ID, *info.UserID)
}

func TestPasswordGrantRequiresPasswordClient(t *testing.T) {
	env := newOAuthEnv(t)
	ctx := context.Background()

	other, err := env.clients.Create(ctx, domain.Client{ID: "client-2", Name: "Machine", Secret: "s2"})
	require.NoError(t, err)

	_, err = env.oauth.Token(ctx, service.TokenRequest{
		GrantType:    "password",
		ClientID:     other.ID,
		ClientSecret: other.Secret,
		Username:     env.user.Email,
		Password:     "secret-password",
	})
	requireOAuthCode(t, err, "invalid_client")
}

func TestPasswordGrantUniformFailure(t *testing.T) {
	env := newOAuthEnv(t)
	ctx := context.Background()

	wrongPassword := service.TokenRequest{
		GrantType:    "password",
		ClientID:     env.client.ID,
		ClientSecret: env.client.Secret,
		Username:     env.user.Email,
		Password:     "nope",
	}
	_, err := env.oauth.Token(ctx, wrongPassword)
	requireOAuthCode(t, err, "invalid_grant")

	unknownUser := wrongPassword
	unknownUser.Username = "ghost@example.com"
	_, err2 := env.oauth.Token(ctx, unknownUser)
	requireOAuthCode(t, err2, "invalid_grant")

	// No oracle: identical code and description for both failures.
	require.Equal(t, err.Error(), err2.Error())
}

func TestClientCredentialsOmitsRefreshToken(t *testing.T) {
	env := newOAuthEnv(t)
	ctx := context.Background()

	resp, err := env.oauth.Token(ctx, service.TokenRequest{
		GrantType:    "client_credentials",
		ClientID:     env.client.ID,
		ClientSecret: env.client.Secret,
		Scope:        "read write",
	})
	require.NoError(t, err)
	require.Empty(t, resp.RefreshToken)

	info := env.oauth.Introspect(ctx, resp.AccessToken)
	require.True(t, info.Active)
	require.Nil(t, info.UserID)
}

func TestRefreshRotationInvalidatesOldPair(t *testing.T) {
	env := newOAuthEnv(t)
	ctx := context.Background()

	first, err := env.oauth.Token(ctx, service.TokenRequest{
		GrantType:    "password",
		ClientID:     env.client.ID,
		ClientSecret: env.client.Secret,
		Username:     env.user.Email,
		Password:     "secret-password",
	})
	require.NoError(t, err)

	second, err := env.oauth.Token(ctx, service.TokenRequest{
		GrantType:    "refresh_token",
		ClientID:     env.client.ID,
		ClientSecret: env.client.Secret,
		RefreshToken: first.RefreshToken,
	})
	require.NoError(t, err)
	require.NotEqual(t, first.AccessToken, second.AccessToken)
	require.NotEqual(t, first.RefreshToken, second.RefreshToken)

	// The replaced access token no longer validates.
	_, err = env.tokens.Validate(ctx, first.AccessToken)
	requireOAuthCode(t, err, "invalid_token")

	// Reusing the consumed refresh token fails uniformly.
	_, err = env.oauth.Token(ctx, service.TokenRequest{
		GrantType:    "refresh_token",
		ClientID:     env.client.ID,
		ClientSecret: env.client.Secret,
		RefreshToken: first.RefreshToken,
	})
	requireOAuthCode(t, err, "invalid_grant")
}

func TestUnsupportedGrantType(t *testing.T) {
	env := newOAuthEnv(t)
	_, err := env.oauth.Token(context.Background(), service.TokenRequest{
		GrantType: "implicit",
		ClientID:  env.client.ID,
	})
	requireOAuthCode(t, err, "unsupported_grant_type")
}

func TestUnknownScopeRejected(t *testing.T) {
	env := newOAuthEnv(t)
	_, err := env.oauth.Token(context.Background(), service.TokenRequest{
		GrantType:    "client_credentials",
		ClientID:     env.client.ID,
		ClientSecret: env.client.Secret,
		Scope:        "read galactic",
	})
	requireOAuthCode(t, err, "invalid_request")
}

func TestRevokeIsIdempotent(t *testing.T) {
	env := newOAuthEnv(t)
	ctx := context.Background()

	resp, err := env.oauth.Token(ctx, service.TokenRequest{
		GrantType:    "password",
		ClientID:     env.client.ID,
		ClientSecret: env.client.Secret,
		Username:     env.user.Email,
		Password:     "secret-password",
	})
	require.NoError(t, err)

	require.NoError(t, env.oauth.Revoke(ctx, env.client.ID, env.client.Secret, resp.AccessToken))
	require.NoError(t, env.oauth.Revoke(ctx, env.client.ID, env.client.Secret, resp.AccessToken))
	require.NoError(t, env.oauth.Revoke(ctx, env.client.ID, env.client.Secret, "unknown-token"))

	_, err = env.tokens.Validate(ctx, resp.AccessToken)
	requireOAuthCode(t, err, "invalid_token")

	// The linked refresh token died with it.
	_, err = env.oauth.Token(ctx, service.TokenRequest{
		GrantType:    "refresh_token",
		ClientID:     env.client.ID,
		ClientSecret: env.client.Secret,
		RefreshToken: resp.RefreshToken,
	})
	requireOAuthCode(t, err, "invalid_grant")
}

func TestClientRevocationDoesNotCascadeToTokens(t *testing.T) {
	env := newOAuthEnv(t)
	ctx := context.Background()

	resp, err := env.oauth.Token(ctx, service.TokenRequest{
		GrantType:    "password",
		ClientID:     env.client.ID,
		ClientSecret: env.client.Secret,
		Username:     env.user.Email,
		Password:     "secret-password",
	})
	require.NoError(t, err)

	found, err := env.clients.Revoke(ctx, env.client.ID)
	require.NoError(t, err)
	require.True(t, found)

	// Issued tokens stay live until their own expiry or revocation.
	token, err := env.tokens.Validate(ctx, resp.AccessToken)
	require.NoError(t, err)
	require.True(t, token.Live(time.Now()))

	// The revoked client can no longer obtain new tokens.
	_, err = env.oauth.Token(ctx, service.TokenRequest{
		GrantType:    "client_credentials",
		ClientID:     env.client.ID,
		ClientSecret: env.client.Secret,
	})
	requireOAuthCode(t, err, "invalid_client")
}

func TestIntrospectExpiredToken(t *testing.T) {
	env := newOAuthEnv(t)
	ctx := context.Background()

	info := env.oauth.Introspect(ctx, "no-such-token")
	require.False(t, info.Active)
	require.Empty(t, info.ClientID)
}
