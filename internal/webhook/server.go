// Package webhook exposes the inbound HTTP surface: push callbacks from
// both feeds, a forced-poll operation, and subscription management.
package webhook

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// NewServer creates the HTTP engine with all routes configured.
func NewServer(h *Handler, accessKey string) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/health", h.Health)

	if accessKey == "" {
		return r
	}

	hooks := r.Group("/webhook")
	hooks.Use(authMiddleware(accessKey))
	{
		hooks.POST("/status", h.StatusPush)
		hooks.POST("/comments", h.CommentPush)
	}

	api := r.Group("/api")
	api.Use(authMiddleware(accessKey))
	{
		api.POST("/poll/:feed", h.ForcePoll)
		api.POST("/subscriptions/prepare", h.PrepareSubscription)
		api.POST("/subscriptions/confirm", h.ConfirmSubscription)
		api.DELETE("/subscriptions/:id", h.DeleteSubscription)
	}

	return r
}

func authMiddleware(accessKey string) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		token := strings.TrimPrefix(header, "Bearer ")
		if token == "" || token == header {
			token = c.Query("key")
		}
		if token != accessKey {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		c.Next()
	}
}
