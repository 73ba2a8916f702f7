// Package dto holds the request and response shapes of the HTTP API.
package dto

import (
	"time"

	"github.com/your-org/facegate/internal/models"
	"github.com/your-org/facegate/internal/stream"
)

type CreateIdentityRequest struct {
	DisplayName string `json:"display_name" binding:"required"`
	DocumentID  string `json:"document_id"`
}

type EnrollRequest struct {
	// Photos are base64-encoded images. PhotoURLs are fetched server-side.
	Photos    []string `json:"photos"`
	PhotoURLs []string `json:"photo_urls"`
}

type VerifyRequest struct {
	Photo    string `json:"photo"`
	PhotoURL string `json:"photo_url"`
}

type IdentifyRequest struct {
	Photo    string `json:"photo"`
	PhotoURL string `json:"photo_url"`
}

type SubmitFrameRequest struct {
	FrameID    string    `json:"frame_id"`
	Photo      string    `json:"photo"`
	FrameRef   string    `json:"frame_ref"`
	CapturedAt time.Time `json:"captured_at"`
}

type SubmitFrameResponse struct {
	Accepted bool   `json:"accepted"`
	FrameID  string `json:"frame_id"`
	Reason   string `json:"reason,omitempty"`
}

type TrainResponse struct {
	Model   *models.TrainedModel `json:"model"`
	Classes []models.ClassReport `json:"classes"`
}

type RetrainResponse struct {
	Trained bool                 `json:"trained"`
	Model   *models.TrainedModel `json:"model,omitempty"`
}

type StreamStatsResponse struct {
	Streams       []stream.StreamStats `json:"streams"`
	UptimeSeconds float64              `json:"uptime_seconds"`
}

type HealthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}
