// Package vision turns images into face embedding vectors. The encoder
// is a closed set of strategies selected by configuration at startup;
// runtime capability problems (missing ONNX runtime, missing model
// files) surface as constructor errors, never as per-call fallbacks.
package vision

import (
	"fmt"
	"image"
	"log/slog"
	"path/filepath"

	"github.com/your-org/facegate/internal/config"
)

const (
	detectorModelFile = "det_10g.onnx"
	embedderModelFile = "w600k_r50.onnx"

	fullInputSize      = 640
	prefilterInputSize = 320
)

// Face is one detected face with its embedding vector.
type Face struct {
	BBox   [4]float32
	Score  float32
	Vector []float32
}

// Encoder converts a decoded image into zero or more face vectors,
// strongest detection first. An empty result is not an error.
type Encoder interface {
	DetectAndEncode(img image.Image) ([]Face, error)
	Dim() int
	Name() string
	Close()
}

// NewEncoder builds the configured encoder strategy.
func NewEncoder(cfg config.VisionConfig) (Encoder, error) {
	switch cfg.Provider {
	case "onnx":
		return newONNXEncoder(cfg)
	case "onnx-prefilter":
		inner, err := newONNXEncoder(cfg)
		if err != nil {
			return nil, err
		}
		pre, err := NewDetector(filepath.Join(cfg.ModelsDir, detectorModelFile),
			cfg.DetectionThreshold, prefilterInputSize)
		if err != nil {
			inner.Close()
			return nil, fmt.Errorf("load prefilter detector: %w", err)
		}
		return &prefilterEncoder{pre: pre, inner: inner}, nil
	default:
		return nil, fmt.Errorf("unknown vision provider %q", cfg.Provider)
	}
}

// onnxEncoder is the full RetinaFace + ArcFace pipeline.
type onnxEncoder struct {
	detector *Detector
	embedder *Embedder
}

func newONNXEncoder(cfg config.VisionConfig) (*onnxEncoder, error) {
	detPath := filepath.Join(cfg.ModelsDir, detectorModelFile)
	embPath := filepath.Join(cfg.ModelsDir, embedderModelFile)

	slog.Info("loading detection model", "path", detPath)
	det, err := NewDetector(detPath, cfg.DetectionThreshold, fullInputSize)
	if err != nil {
		return nil, fmt.Errorf("load detector: %w", err)
	}

	slog.Info("loading embedding model", "path", embPath)
	emb, err := NewEmbedder(embPath)
	if err != nil {
		det.Close()
		return nil, fmt.Errorf("load embedder: %w", err)
	}

	return &onnxEncoder{detector: det, embedder: emb}, nil
}

func (e *onnxEncoder) DetectAndEncode(img image.Image) ([]Face, error) {
	bounds := img.Bounds()
	origW, origH := bounds.Dx(), bounds.Dy()

	detInput := preprocessForDetection(img, e.detector.inputW, e.detector.inputH)
	detections, err := e.detector.Detect(detInput, origW, origH)
	if err != nil {
		return nil, fmt.Errorf("detect: %w", err)
	}

	faces := make([]Face, 0, len(detections))
	for _, det := range detections {
		crop := cropFace(img, det.BBox)
		if crop == nil {
			continue
		}
		embInput := preprocessForEmbedding(crop, e.embedder.inputW, e.embedder.inputH)
		vec, err := e.embedder.Extract(embInput)
		if err != nil {
			slog.Warn("embed face", "error", err)
			continue
		}
		faces = append(faces, Face{BBox: det.BBox, Score: det.Score, Vector: vec})
	}
	return faces, nil
}

func (e *onnxEncoder) Dim() int     { return e.embedder.Dim() }
func (e *onnxEncoder) Name() string { return "onnx" }

func (e *onnxEncoder) Close() {
	if e.detector != nil {
		e.detector.Close()
	}
	if e.embedder != nil {
		e.embedder.Close()
	}
}

// prefilterEncoder runs a reduced-resolution detection pass first to
// reject face-free frames before the expensive embedding path. When the
// prefilter does find faces the full pipeline runs from scratch, so the
// result is identical to the plain encoder.
type prefilterEncoder struct {
	pre   *Detector
	inner *onnxEncoder
}

func (e *prefilterEncoder) DetectAndEncode(img image.Image) ([]Face, error) {
	bounds := img.Bounds()
	preInput := preprocessForDetection(img, e.pre.inputW, e.pre.inputH)
	detections, err := e.pre.Detect(preInput, bounds.Dx(), bounds.Dy())
	if err != nil {
		// Prefilter trouble must not degrade results; fall through.
		slog.Warn("prefilter detect", "error", err)
		return e.inner.DetectAndEncode(img)
	}
	if len(detections) == 0 {
		return nil, nil
	}
	return e.inner.DetectAndEncode(img)
}

func (e *prefilterEncoder) Dim() int     { return e.inner.Dim() }
func (e *prefilterEncoder) Name() string { return "onnx-prefilter" }

func (e *prefilterEncoder) Close() {
	if e.pre != nil {
		e.pre.Close()
	}
	e.inner.Close()
}
