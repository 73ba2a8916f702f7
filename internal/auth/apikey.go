package auth

import (
	"crypto/subtle"
	"net/http"

	"github.com/gin-gonic/gin"
)

const headerAPIKey = "X-API-Key"

// APIKeyMiddleware rejects requests lacking the configured API key.
// An empty configured key disables authentication (local development).
func APIKeyMiddleware(apiKey string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if apiKey == "" {
			c.Next()
			return
		}

		provided := c.GetHeader(headerAPIKey)
		if provided == "" {
			provided = c.Query("api_key") // WebSocket clients can't set headers from browsers
		}

		if subtle.ConstantTimeCompare([]byte(provided), []byte(apiKey)) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid or missing API key"})
			return
		}
		c.Next()
	}
}

// Actor extracts the caller identity for audit records: the
// X-Actor header when present, else the client IP.
func Actor(c *gin.Context) string {
	if actor := c.GetHeader("X-Actor"); actor != "" {
		return actor
	}
	return c.ClientIP()
}
