package http_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/tidemark/authd/internal/config"
	"github.com/tidemark/authd/internal/domain"
	httptransport "github.com/tidemark/authd/internal/http"
	"github.com/tidemark/authd/internal/http/handler"
	httpmiddleware "github.com/tidemark/authd/internal/http/middleware"
	"github.com/tidemark/authd/internal/repository"
	"github.com/tidemark/authd/internal/service"
)

func newTestRouter(t *testing.T) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	cfg := config.Config{
		ServiceName:           "authd-test",
		AccessTokenTTL:        time.Hour,
		SessionAccessTokenTTL: 15 * time.Minute,
		RefreshTokenTTL:       30 * 24 * time.Hour,
		AuthCodeTTL:           10 * time.Minute,
		LowStockThreshold:     10,
		CORSAllowedOrigins:    []string{"*"},
		CORSAllowedMethods:    []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		CORSAllowedHeaders:    []string{"Authorization", "Content-Type"},
	}
	logger := zap.NewNop()

	users := repository.NewMemoryUserRepo()
	clients := repository.NewMemoryClientRepo()
	codes := repository.NewMemoryCodeRepo()
	tokenRepo := repository.NewMemoryTokenRepo(codes)
	sessionRepo := repository.NewMemorySessionRepo(tokenRepo)
	items := repository.NewMemoryItemRepo()

	_, err := clients.Create(context.Background(), domain.Client{
		ID:                   "first-party",
		Name:                 "Personal Access Client",
		Secret:               "fp-secret",
		PersonalAccessClient: true,
	})
	require.NoError(t, err)

	node, err := snowflake.NewNode(3)
	require.NoError(t, err)

	tokens := service.NewTokenService(tokenRepo, cfg, logger)
	clientService := service.NewClientService(clients, logger)
	oauth := service.NewOAuthService(users, codes, tokens, clientService, cfg, logger)
	sessions := service.NewSessionService(users, sessionRepo, tokens, clients, node, cfg, logger)
	inventory := service.NewInventoryService(items, node, cfg, logger)

	return httptransport.NewRouter(cfg, logger,
		&handler.OAuthHandler{OAuth: oauth, Clients: clientService},
		&handler.AuthHandler{Sessions: sessions},
		&handler.InventoryHandler{Inventory: inventory},
		&httpmiddleware.Auth{Tokens: tokens},
		nil,
	)
}

func doJSON(t *testing.T, router *gin.Engine, method, path, bearer string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var payload bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&payload).Encode(body))
	}
	req := httptest.NewRequest(method, path, &payload)
	req.Header.Set("Content-Type", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestHealthz(t *testing.T) {
	router := newTestRouter(t)
	rec := doJSON(t, router, http.MethodGet, "/healthz", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestInventoryRequiresBearer(t *testing.T) {
	router := newTestRouter(t)

	rec := doJSON(t, router, http.MethodGet, "/inventory", "", nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = doJSON(t, router, http.MethodGet, "/inventory", "not-a-real-token", nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, "invalid_token", body["error"])
}

func TestSessionFlowOverHTTP(t *testing.T) {
	router := newTestRouter(t)

	rec := doJSON(t, router, http.MethodPost, "/auth/register", "", gin.H{
		"name":     "Ada",
		"email":    "ada@example.com",
		"password": "secret-password",
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	var registered struct {
		AccessToken  string `json:"access_token"`
		SessionToken string `json:"session_token"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &registered))
	require.NotEmpty(t, registered.AccessToken)
	require.NotEmpty(t, registered.SessionToken)

	rec = doJSON(t, router, http.MethodPost, "/inventory", registered.AccessToken, gin.H{
		"sku":      "SKU-1",
		"name":     "Widget",
		"quantity": 5,
		"price":    9.99,
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = doJSON(t, router, http.MethodGet, "/inventory/sku/SKU-1", registered.AccessToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var bySKU struct {
		SKU string `json:"sku"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &bySKU))
	require.Equal(t, "SKU-1", bySKU.SKU)

	rec = doJSON(t, router, http.MethodGet, "/oauth/token-info", registered.AccessToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var info struct {
		Active bool `json:"active"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &info))
	require.True(t, info.Active)

	rec = doJSON(t, router, http.MethodPost, "/auth/refresh", "", gin.H{
		"session_token": registered.SessionToken,
	})
	require.Equal(t, http.StatusOK, rec.Code)
	var refreshed struct {
		AccessToken  string `json:"access_token"`
		SessionToken string `json:"session_token"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &refreshed))
	require.Equal(t, registered.SessionToken, refreshed.SessionToken)
	require.NotEqual(t, registered.AccessToken, refreshed.AccessToken)

	// The replaced access token is rejected, the fresh one works.
	rec = doJSON(t, router, http.MethodGet, "/inventory", registered.AccessToken, nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	rec = doJSON(t, router, http.MethodGet, "/inventory", refreshed.AccessToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	// Logout kills both credentials.
	rec = doJSON(t, router, http.MethodPost, "/auth/logout", refreshed.AccessToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	rec = doJSON(t, router, http.MethodPost, "/auth/refresh", "", gin.H{
		"session_token": refreshed.SessionToken,
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestOAuthTokenEndpointErrors(t *testing.T) {
	router := newTestRouter(t)

	rec := doJSON(t, router, http.MethodPost, "/oauth/token", "", gin.H{
		"grant_type": "implicit",
		"client_id":  "first-party",
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, "unsupported_grant_type", body["error"])

	rec = doJSON(t, router, http.MethodPost, "/oauth/token", "", gin.H{
		"grant_type":    "client_credentials",
		"client_id":     "first-party",
		"client_secret": "wrong",
	})
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestClientRegistrationAndClientCredentials(t *testing.T) {
	router := newTestRouter(t)

	rec := doJSON(t, router, http.MethodPost, "/oauth/clients", "", gin.H{
		"name": "Reporting Batch",
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	var created struct {
		ID     string `json:"id"`
		Secret string `json:"secret"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	require.NotEmpty(t, created.ID)
	require.GreaterOrEqual(t, len(created.Secret), 40)

	rec = doJSON(t, router, http.MethodPost, "/oauth/token", "", gin.H{
		"grant_type":    "client_credentials",
		"client_id":     created.ID,
		"client_secret": created.Secret,
		"scope":         "read write",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	var token struct {
		AccessToken  string `json:"access_token"`
		RefreshToken string `json:"refresh_token"`
		Scope        string `json:"scope"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &token))
	require.NotEmpty(t, token.AccessToken)
	require.Empty(t, token.RefreshToken)
	require.Equal(t, "read write", token.Scope)
}

func TestClientRegistrationWithSuppliedSecret(t *testing.T) {
	router := newTestRouter(t)

	rec := doJSON(t, router, http.MethodPost, "/oauth/clients", "", gin.H{
		"name":   "Imported Batch",
		"secret": "operator-chosen-secret-1234567890abcdef00",
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	var created struct {
		ID     string `json:"id"`
		Secret string `json:"secret"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	require.Equal(t, "operator-chosen-secret-1234567890abcdef00", created.Secret)

	rec = doJSON(t, router, http.MethodPost, "/oauth/token", "", gin.H{
		"grant_type":    "client_credentials",
		"client_id":     created.ID,
		"client_secret": created.Secret,
	})
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestScopesCatalog(t *testing.T) {
	router := newTestRouter(t)
	rec := doJSON(t, router, http.MethodGet, "/oauth/scopes", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Scopes map[string]string `json:"scopes"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	for _, name := range []string{"read", "write", "delete", "admin"} {
		require.Contains(t, body.Scopes, name)
	}
}
