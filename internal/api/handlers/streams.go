package handlers

import (
	"encoding/base64"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/your-org/facegate/internal/facerec"
	"github.com/your-org/facegate/internal/models"
	"github.com/your-org/facegate/pkg/dto"
)

// SubmitFrame accepts one camera frame for recognition. Inline photos
// go through the in-process pipeline with admission control; a
// frame_ref is dispatched to the worker fleet over the queue when a
// producer is wired.
func (h *Handlers) SubmitFrame(c *gin.Context) {
	streamID := c.Param("id")

	var req dto.SubmitFrameRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	frameID := req.FrameID
	if frameID == "" {
		frameID = uuid.NewString()
	}
	capturedAt := req.CapturedAt
	if capturedAt.IsZero() {
		capturedAt = time.Now()
	}

	if req.FrameRef != "" && h.Producer != nil {
		task := models.FrameTask{
			StreamID:  streamID,
			FrameID:   frameID,
			Timestamp: capturedAt,
			FrameRef:  req.FrameRef,
		}
		if err := h.Producer.PublishFrame(c.Request.Context(), task); err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusAccepted, dto.SubmitFrameResponse{Accepted: true, FrameID: frameID})
		return
	}

	if req.Photo == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "photo or frame_ref is required"})
		return
	}
	photo, err := base64.StdEncoding.DecodeString(req.Photo)
	if err != nil {
		writeError(c, fmt.Errorf("%w: invalid base64 payload", facerec.ErrImageDecode))
		return
	}

	if !h.Pipeline.Submit(c.Request.Context(), streamID, frameID, capturedAt, photo) {
		c.JSON(http.StatusTooManyRequests, dto.SubmitFrameResponse{
			Accepted: false,
			FrameID:  frameID,
			Reason:   "stream busy, frame dropped",
		})
		return
	}
	c.JSON(http.StatusAccepted, dto.SubmitFrameResponse{Accepted: true, FrameID: frameID})
}

// StreamStats snapshots per-stream counters and latency.
func (h *Handlers) StreamStats(c *gin.Context) {
	c.JSON(http.StatusOK, dto.StreamStatsResponse{
		Streams:       h.Pipeline.Stats(),
		UptimeSeconds: h.Pipeline.Uptime().Seconds(),
	})
}
