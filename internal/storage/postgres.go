package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"github.com/your-org/facegate/internal/config"
	"github.com/your-org/facegate/internal/facerec"
	"github.com/your-org/facegate/internal/models"
)

type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(cfg config.DatabaseConfig) (*PostgresStore, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	poolCfg.MaxConns = int32(cfg.MaxConns)

	pool, err := pgxpool.NewWithConfig(context.Background(), poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}

	if err := pool.Ping(context.Background()); err != nil {
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	return &PostgresStore{pool: pool}, nil
}

func (s *PostgresStore) Close() {
	s.pool.Close()
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// --- Identities ---

func (s *PostgresStore) CreateIdentity(ctx context.Context, displayName, documentID string) (*models.Identity, error) {
	i := &models.Identity{
		DisplayName:    displayName,
		DocumentID:     documentID,
		Active:         true,
		EncodingSchema: models.SchemaCanonical,
	}
	err := s.pool.QueryRow(ctx,
		`INSERT INTO identities (display_name, document_id, active, encoding_schema)
		 VALUES ($1, $2, true, $3) RETURNING id, enrolled_at, updated_at`,
		displayName, documentID, models.SchemaCanonical,
	).Scan(&i.ID, &i.EnrolledAt, &i.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("create identity: %w", err)
	}
	return i, nil
}

func (s *PostgresStore) GetIdentity(ctx context.Context, id int64) (*models.Identity, error) {
	i := &models.Identity{}
	err := s.pool.QueryRow(ctx,
		`SELECT id, display_name, document_id, enrolled_at, active, encoding_schema, updated_at
		 FROM identities WHERE id = $1`, id,
	).Scan(&i.ID, &i.DisplayName, &i.DocumentID, &i.EnrolledAt, &i.Active, &i.EncodingSchema, &i.UpdatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("get identity: %w", err)
	}
	return i, nil
}

func (s *PostgresStore) ListIdentities(ctx context.Context) ([]models.Identity, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, display_name, document_id, enrolled_at, active, encoding_schema, updated_at
		 FROM identities ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list identities: %w", err)
	}
	defer rows.Close()

	var identities []models.Identity
	for rows.Next() {
		var i models.Identity
		if err := rows.Scan(&i.ID, &i.DisplayName, &i.DocumentID, &i.EnrolledAt,
			&i.Active, &i.EncodingSchema, &i.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan identity: %w", err)
		}
		identities = append(identities, i)
	}
	return identities, nil
}

// DeactivateIdentity soft-deletes an identity. The row and its
// encodings stay for audit.
func (s *PostgresStore) DeactivateIdentity(ctx context.Context, id int64) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE identities SET active = false, updated_at = now() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("deactivate identity: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return facerec.ErrUnknownIdentity
	}
	return nil
}

// --- Encoding store ---

// LoadAllActive returns every active identity holding at least one
// active vector, ordered by identity id so downstream matching is
// deterministic. Both storage schemas are normalized to the same
// in-memory shape: canonical one-row-per-vector rows and the legacy
// JSON-array-in-a-text-column representation.
func (s *PostgresStore) LoadAllActive(ctx context.Context) ([]models.IdentityEncodings, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, display_name, document_id, enrolled_at, active, encoding_schema, updated_at,
		        legacy_encodings
		 FROM identities WHERE active = true ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("load identities: %w", err)
	}
	defer rows.Close()

	var out []models.IdentityEncodings
	byID := make(map[int64]int)
	for rows.Next() {
		var i models.Identity
		var legacy *string
		if err := rows.Scan(&i.ID, &i.DisplayName, &i.DocumentID, &i.EnrolledAt,
			&i.Active, &i.EncodingSchema, &i.UpdatedAt, &legacy); err != nil {
			return nil, fmt.Errorf("scan identity: %w", err)
		}

		ie := models.IdentityEncodings{Identity: i}
		if i.EncodingSchema == models.SchemaLegacy && legacy != nil {
			ie.Vectors = parseLegacyVectors(*legacy)
		}
		byID[i.ID] = len(out)
		out = append(out, ie)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate identities: %w", err)
	}

	vecRows, err := s.pool.Query(ctx,
		`SELECT fe.identity_id, fe.embedding
		 FROM face_encodings fe
		 JOIN identities i ON i.id = fe.identity_id
		 WHERE fe.active = true AND i.active = true
		 ORDER BY fe.identity_id, fe.captured_at`)
	if err != nil {
		return nil, fmt.Errorf("load encodings: %w", err)
	}
	defer vecRows.Close()

	for vecRows.Next() {
		var identityID int64
		var vec pgvector.Vector
		if err := vecRows.Scan(&identityID, &vec); err != nil {
			return nil, fmt.Errorf("scan encoding: %w", err)
		}
		if idx, ok := byID[identityID]; ok {
			out[idx].Vectors = append(out[idx].Vectors, vec.Slice())
		}
	}
	if err := vecRows.Err(); err != nil {
		return nil, fmt.Errorf("iterate encodings: %w", err)
	}

	// Identities still pending enrollment carry no vectors.
	filtered := out[:0]
	for _, ie := range out {
		if len(ie.Vectors) > 0 {
			filtered = append(filtered, ie)
		}
	}
	return filtered, nil
}

// parseLegacyVectors decodes the legacy packed representation: a JSON
// array of vectors in one text column. Malformed content yields no
// vectors rather than an error; one bad legacy row must not block
// loading every other identity.
func parseLegacyVectors(raw string) [][]float32 {
	var vectors [][]float32
	if err := json.Unmarshal([]byte(raw), &vectors); err != nil {
		return nil
	}
	return vectors
}

// AppendEncodings stores vectors for an identity in the canonical
// one-row-per-vector shape. Prior vectors are never touched: the write
// path is pure accretion, whatever schema the identity was read under.
func (s *PostgresStore) AppendEncodings(ctx context.Context, identityID int64, vectors [][]float32, sourceRefs []string, confidences []float32) (int, error) {
	ident, err := s.GetIdentity(ctx, identityID)
	if err != nil {
		return 0, err
	}
	if ident == nil || !ident.Active {
		return 0, facerec.ErrUnknownIdentity
	}

	stored := 0
	for n, v := range vectors {
		sourceRef := ""
		if n < len(sourceRefs) {
			sourceRef = sourceRefs[n]
		}
		var confidence float32
		if n < len(confidences) {
			confidence = confidences[n]
		}

		_, err := s.pool.Exec(ctx,
			`INSERT INTO face_encodings (id, identity_id, embedding, source_ref, confidence, active)
			 VALUES ($1, $2, $3, $4, $5, true)`,
			uuid.New(), identityID, pgvector.NewVector(v), sourceRef, confidence)
		if err != nil {
			return stored, fmt.Errorf("append encoding: %w", err)
		}
		stored++
	}

	_, err = s.pool.Exec(ctx,
		`UPDATE identities SET updated_at = now() WHERE id = $1`, identityID)
	if err != nil {
		return stored, fmt.Errorf("touch identity: %w", err)
	}
	return stored, nil
}

// CountEncodingsModifiedSince counts active encodings captured after
// the given instant, used by the stale-retrain short circuit.
func (s *PostgresStore) CountEncodingsModifiedSince(ctx context.Context, since time.Time) (int, error) {
	var count int
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM face_encodings fe
		 JOIN identities i ON i.id = fe.identity_id
		 WHERE fe.active = true AND i.active = true AND fe.captured_at > $1`, since,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count modified encodings: %w", err)
	}
	return count, nil
}

func (s *PostgresStore) CountIdentitiesWithEncodings(ctx context.Context) (int, error) {
	var count int
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(DISTINCT i.id) FROM identities i
		 JOIN face_encodings fe ON fe.identity_id = i.id
		 WHERE i.active = true AND fe.active = true`,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count enrolled identities: %w", err)
	}
	return count, nil
}

// --- Trained models ---

// SaveTrainedModel records a training run and marks it current. The
// previous current row is superseded, never deleted, so older
// artifacts stay addressable for rollback.
func (s *PostgresStore) SaveTrainedModel(ctx context.Context, m *models.TrainedModel) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx,
		`UPDATE trained_models SET current = false WHERE current = true`); err != nil {
		return fmt.Errorf("supersede current model: %w", err)
	}

	m.ID = uuid.New()
	m.Current = true
	if _, err := tx.Exec(ctx,
		`INSERT INTO trained_models (id, artifact_key, trained_at, accuracy, sample_count, identity_count, current)
		 VALUES ($1, $2, $3, $4, $5, $6, true)`,
		m.ID, m.ArtifactKey, m.TrainedAt, m.Accuracy, m.SampleCount, m.IdentityCount); err != nil {
		return fmt.Errorf("insert trained model: %w", err)
	}

	return tx.Commit(ctx)
}

func (s *PostgresStore) GetCurrentModel(ctx context.Context) (*models.TrainedModel, error) {
	m := &models.TrainedModel{}
	err := s.pool.QueryRow(ctx,
		`SELECT id, artifact_key, trained_at, accuracy, sample_count, identity_count, current
		 FROM trained_models WHERE current = true`,
	).Scan(&m.ID, &m.ArtifactKey, &m.TrainedAt, &m.Accuracy, &m.SampleCount, &m.IdentityCount, &m.Current)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("get current model: %w", err)
	}
	return m, nil
}

// --- Audit log ---

// AppendAudit writes one append-only audit record.
func (s *PostgresStore) AppendAudit(ctx context.Context, e models.AuditEntry) error {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO audit_log (id, action, actor, identity_id, outcome, provider, confidence, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		uuid.New(), e.Action, e.Actor, e.IdentityID, e.Outcome, e.Provider, e.Confidence, e.CreatedAt)
	if err != nil {
		return fmt.Errorf("append audit: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListAudit(ctx context.Context, limit int) ([]models.AuditEntry, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx,
		`SELECT action, actor, identity_id, outcome, provider, confidence, created_at
		 FROM audit_log ORDER BY created_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("list audit: %w", err)
	}
	defer rows.Close()

	var entries []models.AuditEntry
	for rows.Next() {
		var e models.AuditEntry
		if err := rows.Scan(&e.Action, &e.Actor, &e.IdentityID, &e.Outcome,
			&e.Provider, &e.Confidence, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan audit entry: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, nil
}
