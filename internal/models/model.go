package models

import (
	"time"

	"github.com/google/uuid"
)

// TrainedModel is the metadata record for one training run. The
// classifier blob itself lives in object storage under ArtifactKey.
// A run supersedes the previous current model but never deletes it.
type TrainedModel struct {
	ID            uuid.UUID `json:"id" db:"id"`
	ArtifactKey   string    `json:"artifact_key" db:"artifact_key"`
	TrainedAt     time.Time `json:"trained_at" db:"trained_at"`
	Accuracy      float64   `json:"accuracy" db:"accuracy"`
	SampleCount   int       `json:"sample_count" db:"sample_count"`
	IdentityCount int       `json:"identity_count" db:"identity_count"`
	Current       bool      `json:"current" db:"current"`
}

// ClassReport holds per-identity validation counts from a training run.
type ClassReport struct {
	IdentityID int64   `json:"identity_id"`
	Support    int     `json:"support"`
	Correct    int     `json:"correct"`
	Recall     float64 `json:"recall"`
}
