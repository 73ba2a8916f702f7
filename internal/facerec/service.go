package facerec

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"log/slog"
	"sync"
	"time"

	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	"github.com/your-org/facegate/internal/config"
	"github.com/your-org/facegate/internal/match"
	"github.com/your-org/facegate/internal/models"
	"github.com/your-org/facegate/internal/observability"
	"github.com/your-org/facegate/internal/vision"
)

// EncodingStore is the persistence surface the recognition core needs.
type EncodingStore interface {
	GetIdentity(ctx context.Context, id int64) (*models.Identity, error)
	LoadAllActive(ctx context.Context) ([]models.IdentityEncodings, error)
	AppendEncodings(ctx context.Context, identityID int64, vectors [][]float32, sourceRefs []string, confidences []float32) (int, error)
}

// Auditor records access-control events. Audit failures are logged and
// swallowed; recognition outcomes never depend on the audit trail.
type Auditor interface {
	AppendAudit(ctx context.Context, e models.AuditEntry) error
}

// EnrollResult reports what happened to each submitted photo.
type EnrollResult struct {
	Stored int      `json:"stored"`
	Total  int      `json:"total"`
	Errors []string `json:"errors,omitempty"`
}

// IdentifyResult is the outcome of a 1:N search or a 1:1 verification.
type IdentifyResult struct {
	Matched    bool                    `json:"matched"`
	NoFace     bool                    `json:"no_face,omitempty"`
	Identity   *models.IdentitySummary `json:"identity,omitempty"`
	Confidence float64                 `json:"confidence"`
	Distance   float64                 `json:"distance"`
	Threshold  float64                 `json:"threshold"`
	Provider   string                  `json:"provider"`
}

// Service is the recognition core: it encodes photos, maintains the
// enrolled-candidate cache and answers enroll/verify/identify.
type Service struct {
	encoder  vision.Encoder
	store    EncodingStore
	engine   *match.Engine
	matchCfg config.MatchConfig
	audit    Auditor

	cacheMu   sync.RWMutex
	cached    []match.Candidate
	summaries map[int64]models.IdentitySummary
	loadedAt  time.Time
	refresh   time.Duration
}

func NewService(encoder vision.Encoder, store EncodingStore, engine *match.Engine,
	matchCfg config.MatchConfig, refresh time.Duration, audit Auditor) *Service {
	if refresh <= 0 {
		refresh = 5 * time.Minute
	}
	return &Service{
		encoder:  encoder,
		store:    store,
		engine:   engine,
		matchCfg: matchCfg,
		audit:    audit,
		refresh:  refresh,
	}
}

// DecodeImage decodes raw photo bytes. Every decode failure maps to
// ErrImageDecode; callers never see codec-specific causes.
func DecodeImage(data []byte) (image.Image, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty payload", ErrImageDecode)
	}
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrImageDecode, err)
	}
	return img, nil
}

// Enroll extracts one face vector from each photo and appends them to
// the identity. Photos that fail (undecodable, no face, more than one
// face) are reported per-photo; the rest still enroll. Enrollment only
// ever adds vectors.
func (s *Service) Enroll(ctx context.Context, identityID int64, actor string, photos [][]byte) (*EnrollResult, error) {
	ident, err := s.store.GetIdentity(ctx, identityID)
	if err != nil {
		return nil, err
	}
	if ident == nil || !ident.Active {
		return nil, ErrUnknownIdentity
	}

	res := &EnrollResult{Total: len(photos)}
	var vectors [][]float32
	var refs []string
	var confidences []float32

	for n, photo := range photos {
		img, err := DecodeImage(photo)
		if err != nil {
			res.Errors = append(res.Errors, fmt.Sprintf("photo %d: %v", n, err))
			continue
		}

		start := time.Now()
		faces, err := s.encoder.DetectAndEncode(img)
		observability.InferenceDuration.WithLabelValues("encode").Observe(time.Since(start).Seconds())
		if err != nil {
			res.Errors = append(res.Errors, fmt.Sprintf("photo %d: encode: %v", n, err))
			continue
		}

		// Enrollment photos must contain exactly one face, or the wrong
		// person could end up under this identity.
		switch {
		case len(faces) == 0:
			res.Errors = append(res.Errors, fmt.Sprintf("photo %d: no face detected", n))
			continue
		case len(faces) > 1:
			res.Errors = append(res.Errors, fmt.Sprintf("photo %d: %d faces detected, expected exactly one", n, len(faces)))
			continue
		}

		vectors = append(vectors, faces[0].Vector)
		refs = append(refs, fmt.Sprintf("enroll:%d", n))
		confidences = append(confidences, faces[0].Score)
	}

	if len(vectors) > 0 {
		stored, err := s.store.AppendEncodings(ctx, identityID, vectors, refs, confidences)
		res.Stored = stored
		if err != nil {
			return res, err
		}
		s.InvalidateCandidates()
	}

	s.writeAudit(ctx, models.AuditEntry{
		Action:     models.AuditActionEnroll,
		Actor:      &actor,
		IdentityID: &identityID,
		Outcome:    fmt.Sprintf("stored %d/%d", res.Stored, res.Total),
		Provider:   s.encoder.Name(),
	})
	return res, nil
}

// Verify answers "is this photo the claimed identity" (1:1). The
// strongest detected face is compared; no face at all is a negative
// result, not an error.
func (s *Service) Verify(ctx context.Context, identityID int64, actor string, photo []byte) (*IdentifyResult, error) {
	ident, err := s.store.GetIdentity(ctx, identityID)
	if err != nil {
		return nil, err
	}
	if ident == nil || !ident.Active {
		return nil, ErrUnknownIdentity
	}

	res := &IdentifyResult{Threshold: s.matchCfg.Threshold, Provider: s.encoder.Name()}

	probe, found, err := s.encodeStrongest(ctx, photo)
	if err != nil {
		return nil, err
	}
	if !found {
		res.NoFace = true
		s.writeAudit(ctx, models.AuditEntry{
			Action: models.AuditActionVerify, Actor: &actor, IdentityID: &identityID,
			Outcome: "no_face", Provider: res.Provider,
		})
		return res, nil
	}

	vectors, err := s.identityVectors(ctx, identityID)
	if err != nil {
		return nil, err
	}

	m := s.engine.Verify(probe, vectors, s.matchCfg.Threshold)
	res.Matched = m.Matched
	res.Confidence = m.Confidence
	res.Distance = m.Distance
	if m.Matched {
		summary := ident.Summary()
		res.Identity = &summary
	}

	outcome := "denied"
	if m.Matched {
		outcome = "granted"
	}
	s.writeAudit(ctx, models.AuditEntry{
		Action: models.AuditActionVerify, Actor: &actor, IdentityID: &identityID,
		Outcome: outcome, Provider: res.Provider, Confidence: m.Confidence,
	})
	return res, nil
}

// Identify searches the photo's strongest face against every enrolled
// identity (1:N).
func (s *Service) Identify(ctx context.Context, actor string, photo []byte) (*IdentifyResult, error) {
	res := &IdentifyResult{Threshold: s.matchCfg.Threshold, Provider: s.encoder.Name()}

	probe, found, err := s.encodeStrongest(ctx, photo)
	if err != nil {
		return nil, err
	}
	if !found {
		res.NoFace = true
		s.writeAudit(ctx, models.AuditEntry{
			Action: models.AuditActionIdentify, Actor: &actor,
			Outcome: "no_face", Provider: res.Provider,
		})
		return res, nil
	}

	r, err := s.IdentifyVector(ctx, probe)
	if err != nil {
		return nil, err
	}
	res.Matched = r.Matched
	res.Confidence = r.Confidence
	res.Distance = r.Distance
	res.Identity = r.Identity

	outcome := "unknown"
	var identityID *int64
	if r.Matched && r.Identity != nil {
		outcome = "recognized"
		identityID = &r.Identity.ID
	}
	s.writeAudit(ctx, models.AuditEntry{
		Action: models.AuditActionIdentify, Actor: &actor, IdentityID: identityID,
		Outcome: outcome, Provider: res.Provider, Confidence: r.Confidence,
	})
	return res, nil
}

// IdentifyVector runs the 1:N search for an already-encoded probe.
// Used directly by the stream pipeline, which encodes frames itself.
func (s *Service) IdentifyVector(ctx context.Context, probe []float32) (*IdentifyResult, error) {
	candidates, summaries, err := s.candidates(ctx)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	m := s.engine.Identify(probe, candidates, s.matchCfg.Threshold)
	observability.InferenceDuration.WithLabelValues("match").Observe(time.Since(start).Seconds())

	res := &IdentifyResult{
		Matched:    m.Matched,
		Confidence: m.Confidence,
		Distance:   m.Distance,
		Threshold:  m.Threshold,
		Provider:   s.encoder.Name(),
	}
	if m.Matched {
		if summary, ok := summaries[m.IdentityID]; ok {
			res.Identity = &summary
		}
	}
	return res, nil
}

// EncodeStrongest encodes the highest-scoring face in a photo. The
// second return is false when the photo holds no face.
func (s *Service) EncodeStrongest(ctx context.Context, photo []byte) ([]float32, bool, error) {
	return s.encodeStrongest(ctx, photo)
}

func (s *Service) encodeStrongest(ctx context.Context, photo []byte) ([]float32, bool, error) {
	img, err := DecodeImage(photo)
	if err != nil {
		return nil, false, err
	}

	start := time.Now()
	faces, err := s.encoder.DetectAndEncode(img)
	observability.InferenceDuration.WithLabelValues("encode").Observe(time.Since(start).Seconds())
	if err != nil {
		return nil, false, fmt.Errorf("encode photo: %w", err)
	}
	if len(faces) == 0 {
		return nil, false, nil
	}

	best := faces[0]
	for _, f := range faces[1:] {
		if f.Score > best.Score {
			best = f
		}
	}
	return best.Vector, true, nil
}

// Name reports the active encoder provider.
func (s *Service) Name() string { return s.encoder.Name() }

// SummaryFor resolves an identity ID to its summary via the candidate
// cache. Returns nil for identities not currently enrolled.
func (s *Service) SummaryFor(ctx context.Context, identityID int64) (*models.IdentitySummary, error) {
	_, summaries, err := s.candidates(ctx)
	if err != nil {
		return nil, err
	}
	if summary, ok := summaries[identityID]; ok {
		return &summary, nil
	}
	return nil, nil
}

// InvalidateCandidates drops the cached candidate set so the next
// lookup reloads from storage. Called after every enrollment.
func (s *Service) InvalidateCandidates() {
	s.cacheMu.Lock()
	s.cached = nil
	s.summaries = nil
	s.loadedAt = time.Time{}
	s.cacheMu.Unlock()
}

// candidates returns the enrolled candidate set, reloading from the
// store when the cache is cold or older than the refresh interval.
func (s *Service) candidates(ctx context.Context) ([]match.Candidate, map[int64]models.IdentitySummary, error) {
	s.cacheMu.RLock()
	if s.cached != nil && time.Since(s.loadedAt) < s.refresh {
		cached, summaries := s.cached, s.summaries
		s.cacheMu.RUnlock()
		return cached, summaries, nil
	}
	s.cacheMu.RUnlock()

	s.cacheMu.Lock()
	defer s.cacheMu.Unlock()
	if s.cached != nil && time.Since(s.loadedAt) < s.refresh {
		return s.cached, s.summaries, nil
	}

	all, err := s.store.LoadAllActive(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("load candidates: %w", err)
	}

	cached := make([]match.Candidate, 0, len(all))
	summaries := make(map[int64]models.IdentitySummary, len(all))
	for _, ie := range all {
		cached = append(cached, match.Candidate{IdentityID: ie.Identity.ID, Vectors: ie.Vectors})
		summaries[ie.Identity.ID] = ie.Identity.Summary()
	}

	s.cached = cached
	s.summaries = summaries
	s.loadedAt = time.Now()
	slog.Debug("candidate cache reloaded", "identities", len(cached))
	return cached, summaries, nil
}

func (s *Service) identityVectors(ctx context.Context, identityID int64) ([][]float32, error) {
	candidates, _, err := s.candidates(ctx)
	if err != nil {
		return nil, err
	}
	for _, c := range candidates {
		if c.IdentityID == identityID {
			return c.Vectors, nil
		}
	}
	return nil, nil
}

func (s *Service) writeAudit(ctx context.Context, e models.AuditEntry) {
	if s.audit == nil {
		return
	}
	e.CreatedAt = time.Now()
	if err := s.audit.AppendAudit(ctx, e); err != nil {
		observability.AuditWriteFailures.Inc()
		slog.Error("audit write failed", "action", e.Action, "error", err)
	}
}
