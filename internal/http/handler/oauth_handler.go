package handler

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tidemark/authd/internal/http/middleware"
	"github.com/tidemark/authd/internal/service"
)

// OAuthHandler exposes the OAuth endpoints.
type OAuthHandler struct {
	OAuth   *service.OAuthService
	Clients *service.ClientService
}

// Authorize verifies the resource owner and returns an authorization code.
func (h *OAuthHandler) Authorize(c *gin.Context) {
	var req struct {
		ResponseType string `form:"response_type" json:"response_type"`
		ClientID     string `form:"client_id" json:"client_id"`
		RedirectURI  string `form:"redirect_uri" json:"redirect_uri"`
		Scope        string `form:"scope" json:"scope"`
		Email        string `form:"email" json:"email"`
		Password     string `form:"password" json:"password"`
	}
	if err := c.ShouldBind(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "error_description": "Invalid payload."})
		return
	}
	if strings.TrimSpace(req.ClientID) == "" || strings.TrimSpace(req.Email) == "" || req.Password == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "error_description": "client_id, email, and password are required."})
		return
	}

	code, err := h.OAuth.Authorize(c.Request.Context(), service.AuthorizeRequest{
		ResponseType: req.ResponseType,
		ClientID:     req.ClientID,
		RedirectURI:  req.RedirectURI,
		Email:        req.Email,
		Password:     req.Password,
		Scope:        req.Scope,
	})
	if err != nil {
		respondOAuthError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"authorization_code": code.ID,
		"expires_in":         int(time.Until(code.ExpiresAt).Seconds()),
		"redirect_uri":       code.RedirectURI,
	})
}

// Token dispatches to the requested grant.
func (h *OAuthHandler) Token(c *gin.Context) {
	var req struct {
		GrantType    string `form:"grant_type" json:"grant_type"`
		ClientID     string `form:"client_id" json:"client_id"`
		ClientSecret string `form:"client_secret" json:"client_secret"`
		Code         string `form:"code" json:"code"`
		RedirectURI  string `form:"redirect_uri" json:"redirect_uri"`
		Username     string `form:"username" json:"username"`
		Password     string `form:"password" json:"password"`
		Scope        string `form:"scope" json:"scope"`
		RefreshToken string `form:"refresh_token" json:"refresh_token"`
	}
	if err := c.ShouldBind(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "error_description": "Invalid payload."})
		return
	}
	if strings.TrimSpace(req.GrantType) == "" || strings.TrimSpace(req.ClientID) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "error_description": "grant_type and client_id are required."})
		return
	}

	resp, err := h.OAuth.Token(c.Request.Context(), service.TokenRequest{
		GrantType:    req.GrantType,
		ClientID:     req.ClientID,
		ClientSecret: req.ClientSecret,
		Code:         req.Code,
		RedirectURI:  req.RedirectURI,
		Username:     req.Username,
		Password:     req.Password,
		Scope:        req.Scope,
		RefreshToken: req.RefreshToken,
	})
	if err != nil {
		respondOAuthError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// Revoke invalidates a token on behalf of an authenticated client.
func (h *OAuthHandler) Revoke(c *gin.Context) {
	var req struct {
		Token        string `form:"token" json:"token"`
		ClientID     string `form:"client_id" json:"client_id"`
		ClientSecret string `form:"client_secret" json:"client_secret"`
	}
	if err := c.ShouldBind(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "error_description": "Invalid payload."})
		return
	}
	if strings.TrimSpace(req.Token) == "" || strings.TrimSpace(req.ClientID) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "error_description": "token and client_id are required."})
		return
	}

	if err := h.OAuth.Revoke(c.Request.Context(), req.ClientID, req.ClientSecret, req.Token); err != nil {
		respondOAuthError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"revoked": true})
}

// TokenInfo introspects the bearer token on the request.
func (h *OAuthHandler) TokenInfo(c *gin.Context) {
	value, ok := middleware.BearerToken(c)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "error_description": "Bearer token required."})
		return
	}
	c.JSON(http.StatusOK, h.OAuth.Introspect(c.Request.Context(), value))
}

// Scopes returns the scope catalog.
func (h *OAuthHandler) Scopes(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"scopes": h.OAuth.Scopes()})
}

// CreateClient registers a new OAuth client. The secret appears in this
// response and nowhere else.
func (h *OAuthHandler) CreateClient(c *gin.Context) {
	var req struct {
		Name                 string `json:"name"`
		RedirectURI          string `json:"redirect_uri"`
		Secret               string `json:"secret"`
		Public               bool   `json:"public"`
		PasswordClient       bool   `json:"password_client"`
		PersonalAccessClient bool   `json:"personal_access_client"`
		UserID               *int64 `json:"user_id"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "error_description": "Invalid payload."})
		return
	}

	client, err := h.Clients.Create(c.Request.Context(), service.CreateClientInput{
		Name:                 req.Name,
		RedirectURI:          req.RedirectURI,
		Secret:               req.Secret,
		Public:               req.Public,
		PasswordClient:       req.PasswordClient,
		PersonalAccessClient: req.PersonalAccessClient,
		UserID:               req.UserID,
	})
	if err != nil {
		respondOAuthError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"id":                     client.ID,
		"name":                   client.Name,
		"secret":                 client.Secret,
		"redirect_uri":           client.RedirectURI,
		"public":                 client.Public(),
		"password_client":        client.PasswordClient,
		"personal_access_client": client.PersonalAccessClient,
	})
}
