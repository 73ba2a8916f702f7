package training

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/your-org/facegate/internal/config"
	"github.com/your-org/facegate/internal/facerec"
	"github.com/your-org/facegate/internal/models"
	"github.com/your-org/facegate/internal/observability"
)

type stubSource struct {
	identities    []models.IdentityEncodings
	modifiedSince int
}

func (s *stubSource) LoadAllActive(ctx context.Context) ([]models.IdentityEncodings, error) {
	return s.identities, nil
}

func (s *stubSource) CountEncodingsModifiedSince(ctx context.Context, since time.Time) (int, error) {
	return s.modifiedSince, nil
}

type stubMeta struct {
	current *models.TrainedModel
	saved   []*models.TrainedModel
}

func (s *stubMeta) SaveTrainedModel(ctx context.Context, m *models.TrainedModel) error {
	m.Current = true
	s.current = m
	s.saved = append(s.saved, m)
	return nil
}

func (s *stubMeta) GetCurrentModel(ctx context.Context) (*models.TrainedModel, error) {
	return s.current, nil
}

type stubArtifacts struct {
	objects map[string][]byte
}

func newStubArtifacts() *stubArtifacts {
	return &stubArtifacts{objects: make(map[string][]byte)}
}

func (s *stubArtifacts) PutObject(ctx context.Context, key string, data []byte, contentType string) error {
	s.objects[key] = data
	return nil
}

func (s *stubArtifacts) GetObject(ctx context.Context, key string) ([]byte, error) {
	return s.objects[key], nil
}

func testConfig() config.TrainingConfig {
	return config.TrainingConfig{
		AcceptThreshold: 0.70,
		Epochs:          400,
		LearningRate:    0.5,
		ArtifactPrefix:  "models",
		CacheRefresh:    5 * time.Minute,
	}
}

// clusterVec builds a vector near the axis for the given class, with a
// small deterministic offset per sample.
func clusterVec(dim, axis, n int) []float32 {
	v := make([]float32, dim)
	v[axis] = 1.0
	v[(axis+1)%dim] = 0.02 * float32(n)
	return v
}

func enrolledIdentities(dim, classes, perClass int) []models.IdentityEncodings {
	out := make([]models.IdentityEncodings, classes)
	for c := 0; c < classes; c++ {
		ie := models.IdentityEncodings{
			Identity: models.Identity{ID: int64(100 + c), DisplayName: "person", Active: true},
		}
		for n := 0; n < perClass; n++ {
			ie.Vectors = append(ie.Vectors, clusterVec(dim, c, n))
		}
		out[c] = ie
	}
	return out
}

func TestTrainAndPredictRoundTrip(t *testing.T) {
	source := &stubSource{identities: enrolledIdentities(8, 3, 5)}
	meta := &stubMeta{}
	artifacts := newStubArtifacts()
	svc := NewService(testConfig(), source, meta, artifacts)

	res, err := svc.Train(context.Background())
	require.NoError(t, err)
	require.NotNil(t, res.Model)

	assert.Equal(t, 3, res.Model.IdentityCount)
	assert.Equal(t, 15, res.Model.SampleCount)
	assert.True(t, res.Model.Current)
	assert.Len(t, res.Classes, 3)
	assert.Contains(t, artifacts.objects, res.Model.ArtifactKey)

	// Every training vector must come back as its own identity above
	// the acceptance threshold.
	for c, ie := range source.identities {
		for n := range ie.Vectors {
			pred, err := svc.Predict(context.Background(), clusterVec(8, c, n))
			require.NoError(t, err)
			assert.Equal(t, ie.Identity.ID, pred.IdentityID)
			assert.True(t, pred.Accepted, "class %d sample %d prob %.3f", c, n, pred.Probability)
			assert.GreaterOrEqual(t, pred.Probability, 0.70)
		}
	}
}

func TestTrainInsufficientIdentities(t *testing.T) {
	source := &stubSource{identities: enrolledIdentities(8, 1, 5)}
	prior := &models.TrainedModel{ArtifactKey: "models/classifier_prior.json", Current: true}
	meta := &stubMeta{current: prior}
	artifacts := newStubArtifacts()
	svc := NewService(testConfig(), source, meta, artifacts)

	_, err := svc.Train(context.Background())
	require.ErrorIs(t, err, facerec.ErrInsufficientData)
	assert.Empty(t, artifacts.objects, "failed run must not write an artifact")
	assert.Same(t, prior, meta.current, "failed run must not disturb the current model")
}

func TestTrainIsDeterministic(t *testing.T) {
	run := func() *Artifact {
		source := &stubSource{identities: enrolledIdentities(8, 3, 4)}
		meta := &stubMeta{}
		artifacts := newStubArtifacts()
		svc := NewService(testConfig(), source, meta, artifacts)

		res, err := svc.Train(context.Background())
		require.NoError(t, err)
		lm := svc.current.Load()
		require.NotNil(t, lm)
		assert.Equal(t, res.Model.ArtifactKey, lm.meta.ArtifactKey)
		return lm.artifact
	}

	a, b := run(), run()
	assert.Equal(t, a.Weights, b.Weights)
	assert.Equal(t, a.Bias, b.Bias)
	assert.Equal(t, a.Accuracy, b.Accuracy)
}

func TestRetrainIfStaleNoop(t *testing.T) {
	source := &stubSource{identities: enrolledIdentities(8, 2, 3), modifiedSince: 0}
	meta := &stubMeta{current: &models.TrainedModel{
		ArtifactKey: "models/classifier_old.json",
		TrainedAt:   time.Now().Add(-time.Hour),
		Current:     true,
	}}
	artifacts := newStubArtifacts()
	svc := NewService(testConfig(), source, meta, artifacts)

	noops := testutil.ToFloat64(observability.TrainingRuns.WithLabelValues("noop"))

	res, trained, err := svc.RetrainIfStale(context.Background())
	require.NoError(t, err)
	assert.False(t, trained)
	assert.Nil(t, res)
	assert.Empty(t, artifacts.objects, "fresh model must not retrain")
	assert.Len(t, meta.saved, 0)
	assert.Equal(t, noops+1, testutil.ToFloat64(observability.TrainingRuns.WithLabelValues("noop")))
}

func TestRetrainIfStaleRetrains(t *testing.T) {
	source := &stubSource{identities: enrolledIdentities(8, 2, 3), modifiedSince: 4}
	meta := &stubMeta{current: &models.TrainedModel{
		ArtifactKey: "models/classifier_old.json",
		TrainedAt:   time.Now().Add(-time.Hour),
		Current:     true,
	}}
	artifacts := newStubArtifacts()
	svc := NewService(testConfig(), source, meta, artifacts)

	res, trained, err := svc.RetrainIfStale(context.Background())
	require.NoError(t, err)
	assert.True(t, trained)
	require.NotNil(t, res)
	assert.Contains(t, artifacts.objects, res.Model.ArtifactKey)
	assert.Equal(t, []byte(res.Model.ArtifactKey), artifacts.objects["models/current"])
}

func TestRetrainIfStaleTrainsWhenNoModel(t *testing.T) {
	source := &stubSource{identities: enrolledIdentities(8, 2, 3)}
	svc := NewService(testConfig(), source, &stubMeta{}, newStubArtifacts())

	_, trained, err := svc.RetrainIfStale(context.Background())
	require.NoError(t, err)
	assert.True(t, trained)
}

func TestPredictWithoutModel(t *testing.T) {
	svc := NewService(testConfig(), &stubSource{}, &stubMeta{}, newStubArtifacts())

	_, err := svc.Predict(context.Background(), make([]float32, 8))
	require.ErrorIs(t, err, facerec.ErrNoModelTrained)

	_, err = svc.Stats(context.Background())
	require.ErrorIs(t, err, facerec.ErrNoModelTrained)
}

func TestPredictLazyLoadsArtifactAfterRestart(t *testing.T) {
	source := &stubSource{identities: enrolledIdentities(8, 2, 4)}
	meta := &stubMeta{}
	artifacts := newStubArtifacts()

	first := NewService(testConfig(), source, meta, artifacts)
	_, err := first.Train(context.Background())
	require.NoError(t, err)

	// Fresh service sharing the same stores simulates a restart.
	second := NewService(testConfig(), source, meta, artifacts)
	pred, err := second.Predict(context.Background(), clusterVec(8, 0, 0))
	require.NoError(t, err)
	assert.Equal(t, int64(100), pred.IdentityID)
	assert.True(t, pred.Accepted)

	stats, err := second.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, meta.current.ArtifactKey, stats.Model.ArtifactKey)
	assert.False(t, stats.Stale)
}
