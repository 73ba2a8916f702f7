package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/your-org/facegate/internal/auth"
	"github.com/your-org/facegate/pkg/dto"
)

// CreateIdentity registers a new identity with no encodings yet.
func (h *Handlers) CreateIdentity(c *gin.Context) {
	var req dto.CreateIdentityRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ident, err := h.Store.CreateIdentity(c.Request.Context(), req.DisplayName, req.DocumentID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, ident)
}

func (h *Handlers) ListIdentities(c *gin.Context) {
	identities, err := h.Store.ListIdentities(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"identities": identities, "count": len(identities)})
}

func (h *Handlers) GetIdentity(c *gin.Context) {
	id, err := parseIdentityID(c)
	if err != nil {
		return
	}

	ident, err := h.Store.GetIdentity(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}
	if ident == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "identity not found"})
		return
	}
	c.JSON(http.StatusOK, ident)
}

// DeleteIdentity deactivates an identity. Its encodings drop out of
// matching immediately; the rows stay for audit.
func (h *Handlers) DeleteIdentity(c *gin.Context) {
	id, err := parseIdentityID(c)
	if err != nil {
		return
	}

	if err := h.Store.DeactivateIdentity(c.Request.Context(), id); err != nil {
		writeError(c, err)
		return
	}
	h.Recognition.InvalidateCandidates()
	c.JSON(http.StatusOK, gin.H{"status": "deactivated", "id": id})
}

// EnrollFaces adds face encodings to an identity from one or more
// photos. Partial success is normal: bad photos are reported per-photo
// and good ones still enroll.
func (h *Handlers) EnrollFaces(c *gin.Context) {
	id, err := parseIdentityID(c)
	if err != nil {
		return
	}

	ctx := c.Request.Context()
	var photos [][]byte
	if isMultipart(c) {
		files, err := readFormFiles(c, "photos")
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		photos = files
	} else {
		var req dto.EnrollRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		for _, inline := range req.Photos {
			data, err := h.resolvePhoto(ctx, inline, "")
			if err != nil {
				writeError(c, err)
				return
			}
			photos = append(photos, data)
		}
		for _, ref := range req.PhotoURLs {
			data, err := h.resolvePhoto(ctx, "", ref)
			if err != nil {
				writeError(c, err)
				return
			}
			photos = append(photos, data)
		}
	}
	if len(photos) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "at least one photo is required"})
		return
	}

	res, err := h.Recognition.Enroll(ctx, id, auth.Actor(c), photos)
	if err != nil {
		writeError(c, err)
		return
	}

	status := http.StatusOK
	if res.Stored == 0 {
		status = http.StatusUnprocessableEntity
	}
	c.JSON(status, res)
}

func parseIdentityID(c *gin.Context) (int64, error) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid identity id"})
		return 0, err
	}
	return id, nil
}
