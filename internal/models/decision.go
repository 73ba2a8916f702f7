package models

import "time"

// FrameTask is the message published to NATS for worker processing.
// FrameRef is an opaque image reference (an object-storage key or URL);
// raw pixels never travel through the queue.
type FrameTask struct {
	StreamID  string    `json:"stream_id"`
	FrameID   string    `json:"frame_id"`
	Timestamp time.Time `json:"timestamp"`
	FrameRef  string    `json:"frame_ref"`
}

// DecisionEvent is the result emitted for every processed frame.
type DecisionEvent struct {
	StreamID   string           `json:"stream_id"`
	FrameID    string           `json:"frame_id"`
	Recognized bool             `json:"recognized"`
	NoFace     bool             `json:"no_face,omitempty"`
	Identity   *IdentitySummary `json:"identity,omitempty"`
	Confidence float64          `json:"confidence"`
	Distance   float64          `json:"distance,omitempty"`
	Provider   string           `json:"provider"`
	LatencyMS  float64          `json:"latency_ms"`
	Timestamp  time.Time        `json:"timestamp"`
	Error      string           `json:"error,omitempty"`
}

// Audit action kinds.
const (
	AuditActionEnroll      = "enroll"
	AuditActionVerify      = "verify"
	AuditActionIdentify    = "identify"
	AuditActionStreamFrame = "stream_frame"
	AuditActionTrain       = "train"
)

// AuditEntry is one append-only access-control audit record.
// Actor is nil for system-originated actions (stream processing).
type AuditEntry struct {
	Action     string    `json:"action"`
	Actor      *string   `json:"actor,omitempty"`
	IdentityID *int64    `json:"identity_id,omitempty"`
	Outcome    string    `json:"outcome"`
	Provider   string    `json:"provider"`
	Confidence float64   `json:"confidence"`
	CreatedAt  time.Time `json:"created_at"`
}
