package training

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/your-org/facegate/internal/config"
	"github.com/your-org/facegate/internal/facerec"
	"github.com/your-org/facegate/internal/models"
	"github.com/your-org/facegate/internal/observability"
)

// EncodingSource provides the enrollment vectors a training run learns
// from.
type EncodingSource interface {
	LoadAllActive(ctx context.Context) ([]models.IdentityEncodings, error)
	CountEncodingsModifiedSince(ctx context.Context, since time.Time) (int, error)
}

// ModelStore records training-run metadata and the current-model
// pointer row.
type ModelStore interface {
	SaveTrainedModel(ctx context.Context, m *models.TrainedModel) error
	GetCurrentModel(ctx context.Context) (*models.TrainedModel, error)
}

// ArtifactStore holds the serialized classifier blobs.
type ArtifactStore interface {
	PutObject(ctx context.Context, key string, data []byte, contentType string) error
	GetObject(ctx context.Context, key string) ([]byte, error)
}

// PredictResult is the classifier answer for one probe vector.
type PredictResult struct {
	IdentityID  int64   `json:"identity_id"`
	Probability float64 `json:"probability"`
	Accepted    bool    `json:"accepted"`
}

// TrainResult bundles the metadata row with per-class validation
// counts from the run that produced it.
type TrainResult struct {
	Model   *models.TrainedModel `json:"model"`
	Classes []models.ClassReport `json:"classes"`
}

type loadedModel struct {
	meta     models.TrainedModel
	artifact *Artifact
}

// Service trains, persists and serves the identity classifier. The
// active model is swapped atomically: in-flight predictions keep the
// artifact they started with.
type Service struct {
	cfg       config.TrainingConfig
	source    EncodingSource
	meta      ModelStore
	artifacts ArtifactStore

	current atomic.Pointer[loadedModel]

	trainMu sync.Mutex
}

func NewService(cfg config.TrainingConfig, source EncodingSource, meta ModelStore, artifacts ArtifactStore) *Service {
	return &Service{
		cfg:       cfg,
		source:    source,
		meta:      meta,
		artifacts: artifacts,
	}
}

// Train runs a full training pass over every active identity with
// encodings. The artifact is written before the metadata row, so a
// current-model record always points at a readable blob. Runs are
// serialized; a second caller blocks until the first finishes.
func (s *Service) Train(ctx context.Context) (*TrainResult, error) {
	s.trainMu.Lock()
	defer s.trainMu.Unlock()

	start := time.Now()
	all, err := s.source.LoadAllActive(ctx)
	if err != nil {
		observability.TrainingRuns.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("load encodings: %w", err)
	}
	if len(all) < 2 {
		observability.TrainingRuns.WithLabelValues("insufficient").Inc()
		return nil, facerec.ErrInsufficientData
	}

	labels := make([]int64, len(all))
	var samples []sample
	dim := 0
	for class, ie := range all {
		labels[class] = ie.Identity.ID
		for _, v := range ie.Vectors {
			if dim == 0 {
				dim = len(v)
			}
			if len(v) != dim {
				slog.Warn("skipping encoding with unexpected dimension",
					"identity_id", ie.Identity.ID, "got", len(v), "want", dim)
				continue
			}
			x := make([]float64, len(v))
			for i, f := range v {
				x[i] = float64(f)
			}
			samples = append(samples, sample{vec: x, class: class})
		}
	}
	if dim == 0 {
		observability.TrainingRuns.WithLabelValues("insufficient").Inc()
		return nil, facerec.ErrInsufficientData
	}

	// Holdout accuracy is a diagnostic; the shipped model trains on
	// everything so fresh enrollments take effect immediately.
	trainSet, holdout := stratifiedSplit(samples, len(labels))
	evalWeights, evalBias := fitClassifier(trainSet, len(labels), dim, s.cfg.Epochs, s.cfg.LearningRate)
	evalSet := holdout
	if len(evalSet) == 0 {
		evalSet = samples
	}
	accuracy, support, correct := evaluate(evalWeights, evalBias, evalSet, len(labels))

	weights, bias := fitClassifier(samples, len(labels), dim, s.cfg.Epochs, s.cfg.LearningRate)

	trainedAt := time.Now().UTC()
	artifact := &Artifact{
		Dim:         dim,
		Labels:      labels,
		Weights:     weights,
		Bias:        bias,
		Accuracy:    accuracy,
		SampleCount: len(samples),
		Epochs:      s.cfg.Epochs,
		TrainedAt:   trainedAt,
	}

	key := fmt.Sprintf("%s/classifier_%s.json", s.cfg.ArtifactPrefix, trainedAt.Format("20060102T150405.000Z"))
	blob, err := json.Marshal(artifact)
	if err != nil {
		observability.TrainingRuns.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("marshal artifact: %w", err)
	}
	if err := s.artifacts.PutObject(ctx, key, blob, "application/json"); err != nil {
		observability.TrainingRuns.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("store artifact: %w", err)
	}

	// The pointer object is written only after the artifact it names,
	// so readers following it never land on a missing blob.
	pointerKey := s.cfg.ArtifactPrefix + "/current"
	if err := s.artifacts.PutObject(ctx, pointerKey, []byte(key), "text/plain"); err != nil {
		observability.TrainingRuns.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("store current pointer: %w", err)
	}

	meta := &models.TrainedModel{
		ArtifactKey:   key,
		TrainedAt:     trainedAt,
		Accuracy:      accuracy,
		SampleCount:   len(samples),
		IdentityCount: len(labels),
	}
	if err := s.meta.SaveTrainedModel(ctx, meta); err != nil {
		observability.TrainingRuns.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("save model metadata: %w", err)
	}

	s.current.Store(&loadedModel{meta: *meta, artifact: artifact})

	classes := make([]models.ClassReport, len(labels))
	for class, id := range labels {
		r := models.ClassReport{IdentityID: id, Support: support[class], Correct: correct[class]}
		if r.Support > 0 {
			r.Recall = float64(r.Correct) / float64(r.Support)
		}
		classes[class] = r
	}

	observability.TrainingRuns.WithLabelValues("ok").Inc()
	slog.Info("training run complete",
		"identities", len(labels),
		"samples", len(samples),
		"accuracy", accuracy,
		"artifact", key,
		"elapsed", time.Since(start))

	return &TrainResult{Model: meta, Classes: classes}, nil
}

// RetrainIfStale retrains only when encodings changed after the
// current model was trained. With no model at all it trains
// unconditionally. Returns whether a run happened.
func (s *Service) RetrainIfStale(ctx context.Context) (*TrainResult, bool, error) {
	meta, err := s.meta.GetCurrentModel(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("get current model: %w", err)
	}
	if meta != nil {
		changed, err := s.source.CountEncodingsModifiedSince(ctx, meta.TrainedAt)
		if err != nil {
			return nil, false, fmt.Errorf("check staleness: %w", err)
		}
		if changed == 0 {
			observability.TrainingRuns.WithLabelValues("noop").Inc()
			slog.Debug("model is fresh, skipping retrain", "trained_at", meta.TrainedAt)
			return nil, false, nil
		}
		slog.Info("model is stale, retraining", "new_encodings", changed)
	}

	res, err := s.Train(ctx)
	if err != nil {
		return nil, false, err
	}
	return res, true, nil
}

// Predict classifies a probe vector with the current model. Accepted
// is true when the top probability clears the configured threshold.
func (s *Service) Predict(ctx context.Context, vec []float32) (*PredictResult, error) {
	lm, err := s.currentModel(ctx)
	if err != nil {
		return nil, err
	}

	id, prob, err := lm.artifact.Predict(vec)
	if err != nil {
		return nil, err
	}
	return &PredictResult{
		IdentityID:  id,
		Probability: prob,
		Accepted:    prob >= s.cfg.AcceptThreshold,
	}, nil
}

// Stats describes the current model and whether it has gone stale.
type Stats struct {
	Model        models.TrainedModel `json:"model"`
	NewEncodings int                 `json:"new_encodings"`
	Stale        bool                `json:"stale"`
}

// Stats returns the current model metadata plus how many encodings
// arrived since it was trained. ErrNoModelTrained when none exists.
func (s *Service) Stats(ctx context.Context) (*Stats, error) {
	lm, err := s.currentModel(ctx)
	if err != nil {
		return nil, err
	}

	changed, err := s.source.CountEncodingsModifiedSince(ctx, lm.meta.TrainedAt)
	if err != nil {
		return nil, fmt.Errorf("check staleness: %w", err)
	}
	return &Stats{Model: lm.meta, NewEncodings: changed, Stale: changed > 0}, nil
}

// currentModel returns the in-memory model, lazily loading it from the
// metadata row and artifact store after a restart.
func (s *Service) currentModel(ctx context.Context) (*loadedModel, error) {
	if lm := s.current.Load(); lm != nil {
		return lm, nil
	}

	meta, err := s.meta.GetCurrentModel(ctx)
	if err != nil {
		return nil, fmt.Errorf("get current model: %w", err)
	}
	if meta == nil {
		return nil, facerec.ErrNoModelTrained
	}

	blob, err := s.artifacts.GetObject(ctx, meta.ArtifactKey)
	if err != nil {
		return nil, fmt.Errorf("load artifact %s: %w", meta.ArtifactKey, err)
	}
	artifact := &Artifact{}
	if err := json.Unmarshal(blob, artifact); err != nil {
		return nil, fmt.Errorf("decode artifact %s: %w", meta.ArtifactKey, err)
	}

	lm := &loadedModel{meta: *meta, artifact: artifact}
	s.current.Store(lm)
	slog.Info("loaded classifier artifact", "key", meta.ArtifactKey, "identities", meta.IdentityCount)
	return lm, nil
}
