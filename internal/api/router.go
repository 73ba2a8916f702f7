// Package api wires the HTTP and WebSocket surface.
package api

import (
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/your-org/facegate/internal/api/handlers"
	"github.com/your-org/facegate/internal/api/ws"
	"github.com/your-org/facegate/internal/auth"
	"github.com/your-org/facegate/internal/config"
)

// NewRouter builds the gin engine with every route registered.
func NewRouter(cfg *config.Config, h *handlers.Handlers, hub *ws.Hub) *gin.Engine {
	if cfg.Logging.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(LoggingMiddleware())
	r.Use(cors.New(cors.Config{
		AllowAllOrigins: true,
		AllowMethods:    []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:    []string{"Origin", "Content-Type", "X-API-Key", "X-Actor"},
	}))

	r.GET("/healthz", h.Healthz)
	r.GET("/readyz", h.Readyz)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := r.Group("/v1", auth.APIKeyMiddleware(cfg.Server.APIKey))
	{
		v1.POST("/identities", h.CreateIdentity)
		v1.GET("/identities", h.ListIdentities)
		v1.GET("/identities/:id", h.GetIdentity)
		v1.DELETE("/identities/:id", h.DeleteIdentity)
		v1.POST("/identities/:id/faces", h.EnrollFaces)
		v1.POST("/identities/:id/verify", h.VerifyIdentity)

		v1.POST("/identify", h.Identify)

		v1.POST("/train", h.Train)
		v1.POST("/train/refresh", h.RefreshModel)
		v1.GET("/train/stats", h.TrainingStats)

		v1.POST("/streams/:id/frames", h.SubmitFrame)
		v1.GET("/streams/stats", h.StreamStats)

		v1.GET("/audit", h.ListAudit)

		v1.GET("/ws", hub.Handler)
	}

	return r
}
