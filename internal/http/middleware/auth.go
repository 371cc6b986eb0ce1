package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/tidemark/authd/internal/service"
)

const principalKey = "principal"

// Principal is the authenticated caller attached to the request context.
// UserID is nil for client-credentials tokens.
type Principal struct {
	TokenID  string
	ClientID string
	UserID   *int64
	Scopes   []string
}

// Auth resolves bearer tokens against the token store.
type Auth struct {
	Tokens *service.TokenService
}

// ValidateBearer ensures the request carries a live opaque access token and
// attaches the resulting principal.
func (m *Auth) ValidateBearer(c *gin.Context) {
	value, ok := BearerToken(c)
	if !ok {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid_token", "error_description": "Bearer token required."})
		return
	}
	token, err := m.Tokens.Validate(c.Request.Context(), value)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid_token", "error_description": "The access token is invalid or has expired."})
		return
	}
	c.Set(principalKey, Principal{
		TokenID:  token.ID,
		ClientID: token.ClientID,
		UserID:   token.UserID,
		Scopes:   token.Scopes,
	})
	c.Next()
}

// GetPrincipal exposes the authenticated caller to handlers.
func GetPrincipal(c *gin.Context) (Principal, bool) {
	value, ok := c.Get(principalKey)
	if !ok {
		return Principal{}, false
	}
	principal, ok := value.(Principal)
	return principal, ok
}

// BearerToken extracts the raw bearer value from the Authorization header.
func BearerToken(c *gin.Context) (string, bool) {
	header := c.GetHeader("Authorization")
	if header == "" {
		return "", false
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || parts[1] == "" {
		return "", false
	}
	return parts[1], true
}
