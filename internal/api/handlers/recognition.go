package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/your-org/facegate/internal/auth"
)

// VerifyIdentity answers a 1:1 claim: is this photo the identity in
// the path?
func (h *Handlers) VerifyIdentity(c *gin.Context) {
	id, err := parseIdentityID(c)
	if err != nil {
		return
	}

	ctx := c.Request.Context()
	photo, err := h.photoFromRequest(c)
	if err != nil {
		writeError(c, err)
		return
	}

	res, err := h.Recognition.Verify(ctx, id, auth.Actor(c), photo)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// Identify searches a photo against every enrolled identity (1:N).
// An unrecognized face is a 200 with matched=false, not an error.
func (h *Handlers) Identify(c *gin.Context) {
	ctx := c.Request.Context()
	photo, err := h.photoFromRequest(c)
	if err != nil {
		writeError(c, err)
		return
	}

	res, err := h.Recognition.Identify(ctx, auth.Actor(c), photo)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}
