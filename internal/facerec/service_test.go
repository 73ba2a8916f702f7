package facerec

import (
	"bytes"
	"context"
	"image"
	"image/png"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/your-org/facegate/internal/config"
	"github.com/your-org/facegate/internal/match"
	"github.com/your-org/facegate/internal/models"
	"github.com/your-org/facegate/internal/vision"
)

// stubEncoder pops one pre-programmed detection result per call.
type stubEncoder struct {
	results [][]vision.Face
	calls   int
}

func (e *stubEncoder) DetectAndEncode(img image.Image) ([]vision.Face, error) {
	if e.calls >= len(e.results) {
		return nil, nil
	}
	faces := e.results[e.calls]
	e.calls++
	return faces, nil
}

func (e *stubEncoder) Dim() int     { return 4 }
func (e *stubEncoder) Name() string { return "stub" }
func (e *stubEncoder) Close()       {}

type memStore struct {
	identities map[int64]*models.Identity
	encodings  map[int64][][]float32
	loads      int
}

func newMemStore(ids ...int64) *memStore {
	s := &memStore{
		identities: make(map[int64]*models.Identity),
		encodings:  make(map[int64][][]float32),
	}
	for _, id := range ids {
		s.identities[id] = &models.Identity{ID: id, DisplayName: "person", Active: true}
	}
	return s
}

func (s *memStore) GetIdentity(ctx context.Context, id int64) (*models.Identity, error) {
	return s.identities[id], nil
}

func (s *memStore) LoadAllActive(ctx context.Context) ([]models.IdentityEncodings, error) {
	s.loads++
	var out []models.IdentityEncodings
	for id, ident := range s.identities {
		if !ident.Active || len(s.encodings[id]) == 0 {
			continue
		}
		out = append(out, models.IdentityEncodings{Identity: *ident, Vectors: s.encodings[id]})
	}
	return out, nil
}

func (s *memStore) AppendEncodings(ctx context.Context, identityID int64, vectors [][]float32, sourceRefs []string, confidences []float32) (int, error) {
	ident := s.identities[identityID]
	if ident == nil || !ident.Active {
		return 0, ErrUnknownIdentity
	}
	s.encodings[identityID] = append(s.encodings[identityID], vectors...)
	return len(vectors), nil
}

type memAudit struct {
	entries []models.AuditEntry
}

func (a *memAudit) AppendAudit(ctx context.Context, e models.AuditEntry) error {
	a.entries = append(a.entries, e)
	return nil
}

func pngBytes(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 4, 4))))
	return buf.Bytes()
}

func face(score float32, vec ...float32) vision.Face {
	return vision.Face{Score: score, Vector: vec}
}

func newTestService(enc vision.Encoder, store EncodingStore, audit Auditor) *Service {
	return NewService(enc, store, match.NewEngine(0),
		config.MatchConfig{Threshold: 0.6, NearMissCap: 50}, time.Minute, audit)
}

func TestEnrollAppendsAcrossCalls(t *testing.T) {
	store := newMemStore(1)
	enc := &stubEncoder{results: [][]vision.Face{
		{face(0.9, 1, 0, 0, 0)},
		{face(0.9, 0, 1, 0, 0)},
	}}
	audit := &memAudit{}
	svc := newTestService(enc, store, audit)

	res, err := svc.Enroll(context.Background(), 1, "admin", [][]byte{pngBytes(t)})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Stored)

	res, err = svc.Enroll(context.Background(), 1, "admin", [][]byte{pngBytes(t)})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Stored)

	// Second enrollment adds to the first; nothing is replaced.
	assert.Len(t, store.encodings[1], 2)
	require.Len(t, audit.entries, 2)
	assert.Equal(t, models.AuditActionEnroll, audit.entries[0].Action)
}

func TestEnrollRejectsBadPhotosKeepsGood(t *testing.T) {
	store := newMemStore(1)
	enc := &stubEncoder{results: [][]vision.Face{
		{},                                                 // no face
		{face(0.9, 1, 0, 0, 0), face(0.8, 0, 1, 0, 0)},     // two faces
		{face(0.9, 0, 0, 1, 0)},                            // good
	}}
	svc := newTestService(enc, store, &memAudit{})

	photos := [][]byte{
		[]byte("not an image"),
		pngBytes(t),
		pngBytes(t),
		pngBytes(t),
	}
	res, err := svc.Enroll(context.Background(), 1, "admin", photos)
	require.NoError(t, err)

	assert.Equal(t, 1, res.Stored)
	assert.Equal(t, 4, res.Total)
	require.Len(t, res.Errors, 3)
	assert.Contains(t, res.Errors[0], "photo 0")
	assert.Contains(t, res.Errors[1], "no face")
	assert.Contains(t, res.Errors[2], "2 faces")
	assert.Len(t, store.encodings[1], 1)
}

func TestEnrollUnknownIdentity(t *testing.T) {
	svc := newTestService(&stubEncoder{}, newMemStore(), &memAudit{})

	_, err := svc.Enroll(context.Background(), 42, "admin", [][]byte{pngBytes(t)})
	require.ErrorIs(t, err, ErrUnknownIdentity)
}

func TestVerifyGrantAndDeny(t *testing.T) {
	store := newMemStore(1)
	store.encodings[1] = [][]float32{{1, 0, 0, 0}}

	enc := &stubEncoder{results: [][]vision.Face{
		{face(0.9, 1, 0, 0, 0)}, // exact
		{face(0.9, 0, 1, 0, 0)}, // far away
	}}
	audit := &memAudit{}
	svc := newTestService(enc, store, audit)

	res, err := svc.Verify(context.Background(), 1, "door-1", pngBytes(t))
	require.NoError(t, err)
	assert.True(t, res.Matched)
	assert.InDelta(t, 100.0, res.Confidence, 1e-9)
	require.NotNil(t, res.Identity)
	assert.Equal(t, int64(1), res.Identity.ID)

	res, err = svc.Verify(context.Background(), 1, "door-1", pngBytes(t))
	require.NoError(t, err)
	assert.False(t, res.Matched)
	assert.Nil(t, res.Identity)

	require.Len(t, audit.entries, 2)
	assert.Equal(t, "granted", audit.entries[0].Outcome)
	assert.Equal(t, "denied", audit.entries[1].Outcome)
}

func TestVerifyNoFaceIsNegativeNotError(t *testing.T) {
	store := newMemStore(1)
	store.encodings[1] = [][]float32{{1, 0, 0, 0}}
	enc := &stubEncoder{results: [][]vision.Face{{}}}
	svc := newTestService(enc, store, &memAudit{})

	res, err := svc.Verify(context.Background(), 1, "door-1", pngBytes(t))
	require.NoError(t, err)
	assert.True(t, res.NoFace)
	assert.False(t, res.Matched)
}

func TestIdentifyFindsClosestIdentity(t *testing.T) {
	store := newMemStore(1, 2)
	store.encodings[1] = [][]float32{{1, 0, 0, 0}}
	store.encodings[2] = [][]float32{{0, 1, 0, 0}}

	enc := &stubEncoder{results: [][]vision.Face{
		{face(0.9, 0, 0.9, 0, 0)},
	}}
	svc := newTestService(enc, store, &memAudit{})

	res, err := svc.Identify(context.Background(), "kiosk", pngBytes(t))
	require.NoError(t, err)
	assert.True(t, res.Matched)
	require.NotNil(t, res.Identity)
	assert.Equal(t, int64(2), res.Identity.ID)
}

func TestIdentifyEmptyEnrollmentNeverMatches(t *testing.T) {
	enc := &stubEncoder{results: [][]vision.Face{
		{face(0.9, 1, 0, 0, 0)},
	}}
	svc := newTestService(enc, newMemStore(), &memAudit{})

	res, err := svc.Identify(context.Background(), "kiosk", pngBytes(t))
	require.NoError(t, err)
	assert.False(t, res.Matched)
	assert.Nil(t, res.Identity)
}

func TestEnrollInvalidatesCandidateCache(t *testing.T) {
	store := newMemStore(1)
	enc := &stubEncoder{results: [][]vision.Face{
		{face(0.9, 1, 0, 0, 0)}, // identify miss (nothing enrolled yet)
		{face(0.9, 1, 0, 0, 0)}, // enroll
		{face(0.9, 1, 0, 0, 0)}, // identify hit
	}}
	svc := newTestService(enc, store, &memAudit{})

	res, err := svc.Identify(context.Background(), "kiosk", pngBytes(t))
	require.NoError(t, err)
	assert.False(t, res.Matched)

	_, err = svc.Enroll(context.Background(), 1, "admin", [][]byte{pngBytes(t)})
	require.NoError(t, err)

	res, err = svc.Identify(context.Background(), "kiosk", pngBytes(t))
	require.NoError(t, err)
	assert.True(t, res.Matched, "cache must reload after enrollment")
	assert.Equal(t, 2, store.loads)
}

func TestDecodeImageErrors(t *testing.T) {
	_, err := DecodeImage(nil)
	require.ErrorIs(t, err, ErrImageDecode)

	_, err = DecodeImage([]byte("garbage"))
	require.ErrorIs(t, err, ErrImageDecode)

	img, err := DecodeImage(pngBytes(t))
	require.NoError(t, err)
	assert.NotNil(t, img)
}
