package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/your-org/facegate/pkg/dto"
)

func (h *Handlers) Healthz(c *gin.Context) {
	c.JSON(http.StatusOK, dto.HealthResponse{Status: "ok"})
}

// Readyz verifies every backing service is reachable.
func (h *Handlers) Readyz(c *gin.Context) {
	ctx := c.Request.Context()
	checks := make(map[string]string)
	healthy := true

	if err := h.Store.Ping(ctx); err != nil {
		checks["postgres"] = err.Error()
		healthy = false
	} else {
		checks["postgres"] = "ok"
	}

	if h.ObjectStore != nil {
		if err := h.ObjectStore.Ping(ctx); err != nil {
			checks["minio"] = err.Error()
			healthy = false
		} else {
			checks["minio"] = "ok"
		}
	}

	if h.Producer != nil {
		if err := h.Producer.Ping(); err != nil {
			checks["nats"] = err.Error()
			healthy = false
		} else {
			checks["nats"] = "ok"
		}
	}

	status := http.StatusOK
	state := "ready"
	if !healthy {
		status = http.StatusServiceUnavailable
		state = "degraded"
	}
	c.JSON(status, dto.HealthResponse{Status: state, Checks: checks})
}

// ListAudit returns recent audit records, newest first.
func (h *Handlers) ListAudit(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))

	entries, err := h.Store.ListAudit(c.Request.Context(), limit)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"entries": entries, "count": len(entries)})
}
