package handler

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/tidemark/authd/internal/http/middleware"
	"github.com/tidemark/authd/internal/service"
)

// AuthHandler exposes the first-party session endpoints.
type AuthHandler struct {
	Sessions *service.SessionService
}

// Register creates a user and opens a session.
func (h *AuthHandler) Register(c *gin.Context) {
	var req struct {
		Name     string `json:"name"`
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "error_description": "Invalid payload."})
		return
	}

	resp, err := h.Sessions.Register(c.Request.Context(), req.Name, req.Email, req.Password)
	if err != nil {
		respondOAuthError(c, err)
		return
	}
	c.JSON(http.StatusCreated, resp)
}

// Login verifies credentials and opens a session.
func (h *AuthHandler) Login(c *gin.Context) {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "error_description": "Invalid payload."})
		return
	}
	if strings.TrimSpace(req.Email) == "" || req.Password == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "error_description": "Email and password are required."})
		return
	}

	resp, err := h.Sessions.Login(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		respondOAuthError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// Refresh exchanges a live session token for a fresh access token.
func (h *AuthHandler) Refresh(c *gin.Context) {
	var req struct {
		SessionToken string `json:"session_token"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.SessionToken) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "error_description": "session_token is required."})
		return
	}

	resp, err := h.Sessions.Refresh(c.Request.Context(), req.SessionToken)
	if err != nil {
		respondOAuthError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// Logout revokes the presented access token and its linked session.
func (h *AuthHandler) Logout(c *gin.Context) {
	principal, ok := middleware.GetPrincipal(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid_token", "error_description": "Bearer token required."})
		return
	}
	if err := h.Sessions.Logout(c.Request.Context(), principal.TokenID); err != nil {
		respondOAuthError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"logged_out": true})
}

// LogoutAll revokes every credential the caller's user holds.
func (h *AuthHandler) LogoutAll(c *gin.Context) {
	principal, ok := middleware.GetPrincipal(c)
	if !ok || principal.UserID == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid_token", "error_description": "A user-bound token is required."})
		return
	}
	revoked, err := h.Sessions.LogoutAll(c.Request.Context(), *principal.UserID)
	if err != nil {
		respondOAuthError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"logged_out": true, "revoked": revoked})
}

func respondOAuthError(c *gin.Context, err error) {
	if oauthErr, ok := err.(*service.OAuthError); ok {
		c.JSON(oauthErr.Status, gin.H{"error": oauthErr.Code, "error_description": oauthErr.Description})
		return
	}
	c.JSON(http.StatusInternalServerError, gin.H{"error": "server_error", "error_description": err.Error()})
}
