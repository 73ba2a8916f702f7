package models

import (
	"time"

	"github.com/google/uuid"
)

// Encoding schema markers for the identity read path.
const (
	// SchemaLegacy packs all vectors as a JSON array in a single text column.
	SchemaLegacy = 1
	// SchemaCanonical stores one vector per face_encodings row.
	SchemaCanonical = 2
)

// Identity is an enrolled subject. Identities are soft-deleted only:
// Active=false removes them from matching and training but keeps the
// row for audit.
type Identity struct {
	ID             int64     `json:"id" db:"id"`
	DisplayName    string    `json:"display_name" db:"display_name"`
	DocumentID     string    `json:"document_id" db:"document_id"`
	EnrolledAt     time.Time `json:"enrolled_at" db:"enrolled_at"`
	Active         bool      `json:"active" db:"active"`
	EncodingSchema int       `json:"-" db:"encoding_schema"`
	UpdatedAt      time.Time `json:"updated_at" db:"updated_at"`
}

// FaceEncoding is one enrolled face vector. Rows are immutable once
// written; revocation deactivates, updates append new rows.
type FaceEncoding struct {
	ID         uuid.UUID `json:"id" db:"id"`
	IdentityID int64     `json:"identity_id" db:"identity_id"`
	Vector     []float32 `json:"-" db:"embedding"`
	SourceRef  string    `json:"source_ref" db:"source_ref"`
	CapturedAt time.Time `json:"captured_at" db:"captured_at"`
	Confidence float32   `json:"confidence" db:"confidence"`
	Active     bool      `json:"active" db:"active"`
}

// IdentitySummary is the compact identity view carried on decision
// events and audit records.
type IdentitySummary struct {
	ID          int64  `json:"id"`
	DisplayName string `json:"display_name"`
	DocumentID  string `json:"document_id,omitempty"`
}

func (i Identity) Summary() IdentitySummary {
	return IdentitySummary{ID: i.ID, DisplayName: i.DisplayName, DocumentID: i.DocumentID}
}

// IdentityEncodings is the normalized in-memory shape the store read
// path produces regardless of which schema the vectors were kept in.
type IdentityEncodings struct {
	Identity Identity
	Vectors  [][]float32
}
