package http

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.uber.org/zap"

	"github.com/tidemark/authd/internal/config"
	"github.com/tidemark/authd/internal/http/handler"
	httpmiddleware "github.com/tidemark/authd/internal/http/middleware"
	"github.com/tidemark/authd/internal/middleware"
)

// NewRouter wires Gin routes and middleware.
func NewRouter(cfg config.Config, logger *zap.Logger, oauthHandler *handler.OAuthHandler, authHandler *handler.AuthHandler, inventoryHandler *handler.InventoryHandler, authMiddleware *httpmiddleware.Auth, rateLimiter *middleware.RateLimiter) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(httpmiddleware.RequestLogger(logger))
	if rateLimiter != nil {
		r.Use(rateLimiter.Handler())
	}
	r.Use(middleware.CORS(cfg))
	r.Use(otelgin.Middleware(cfg.ServiceName))

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	oauth := r.Group("/oauth")
	{
		oauth.POST("/authorize", oauthHandler.Authorize)
		oauth.POST("/token", oauthHandler.Token)
		oauth.POST("/revoke", oauthHandler.Revoke)
		oauth.GET("/token-info", oauthHandler.TokenInfo)
		oauth.GET("/scopes", oauthHandler.Scopes)
		oauth.POST("/clients", oauthHandler.CreateClient)
	}

	auth := r.Group("/auth")
	{
		auth.POST("/register", authHandler.Register)
		auth.POST("/login", authHandler.Login)
		auth.POST("/refresh", authHandler.Refresh)
		auth.POST("/logout", authMiddleware.ValidateBearer, authHandler.Logout)
		auth.POST("/logout-all", authMiddleware.ValidateBearer, authHandler.LogoutAll)
	}

	inventory := r.Group("/inventory", authMiddleware.ValidateBearer)
	{
		inventory.GET("", inventoryHandler.List)
		inventory.POST("", inventoryHandler.Create)
		inventory.GET("/low-stock", inventoryHandler.LowStock)
		inventory.GET("/sku/:sku", inventoryHandler.GetBySKU)
		inventory.POST("/bulk-update", inventoryHandler.BulkUpdate)
		inventory.GET("/:id", inventoryHandler.Get)
		inventory.PUT("/:id", inventoryHandler.Update)
		inventory.DELETE("/:id", inventoryHandler.Delete)
		inventory.POST("/:id/adjust", inventoryHandler.Adjust)
	}

	return r
}
