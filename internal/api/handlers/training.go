package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/your-org/facegate/pkg/dto"
)

// Train runs a full training pass unconditionally.
func (h *Handlers) Train(c *gin.Context) {
	res, err := h.Training.Train(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.TrainResponse{Model: res.Model, Classes: res.Classes})
}

// RefreshModel retrains only when new encodings arrived since the
// current model was trained. A fresh model is a cheap no-op.
func (h *Handlers) RefreshModel(c *gin.Context) {
	res, trained, err := h.Training.RetrainIfStale(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}

	out := dto.RetrainResponse{Trained: trained}
	if res != nil {
		out.Model = res.Model
	}
	c.JSON(http.StatusOK, out)
}

// TrainingStats returns the current model metadata.
func (h *Handlers) TrainingStats(c *gin.Context) {
	meta, err := h.Training.Stats(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, meta)
}
