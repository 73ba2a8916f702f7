// Package stream processes camera frames with admission control: one
// frame in flight per stream, a bounded number in flight globally, and
// reject-newest backpressure. A rejected frame is dropped immediately;
// nothing is ever queued, because a stale frame answered late is worse
// than no answer on an access-control door.
package stream

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/your-org/facegate/internal/config"
	"github.com/your-org/facegate/internal/facerec"
	"github.com/your-org/facegate/internal/models"
	"github.com/your-org/facegate/internal/observability"
	"github.com/your-org/facegate/internal/training"
)

const (
	stateIdle       = "idle"
	stateProcessing = "processing"

	ModeMatch      = "match"
	ModeClassifier = "classifier"
)

// Recognizer encodes frames and answers 1:N searches.
type Recognizer interface {
	EncodeStrongest(ctx context.Context, photo []byte) ([]float32, bool, error)
	IdentifyVector(ctx context.Context, probe []float32) (*facerec.IdentifyResult, error)
	SummaryFor(ctx context.Context, identityID int64) (*models.IdentitySummary, error)
	Name() string
}

// Classifier predicts an identity with the trained model. Only
// consulted in classifier mode.
type Classifier interface {
	Predict(ctx context.Context, vec []float32) (*training.PredictResult, error)
}

// EmitFunc delivers one decision event downstream (NATS, WebSocket).
type EmitFunc func(ctx context.Context, ev models.DecisionEvent)

// Pipeline runs frame recognition with per-stream serialization and a
// global concurrency cap.
type Pipeline struct {
	cfg   config.StreamConfig
	rec   Recognizer
	cls   Classifier
	emit  EmitFunc
	audit facerec.Auditor

	sem chan struct{}

	mu    sync.Mutex
	busy  map[string]bool
	stats map[string]*streamStats

	started time.Time
	wg      sync.WaitGroup
}

func NewPipeline(cfg config.StreamConfig, rec Recognizer, cls Classifier, emit EmitFunc, audit facerec.Auditor) *Pipeline {
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 10
	}
	if cfg.Mode == "" {
		cfg.Mode = ModeMatch
	}
	return &Pipeline{
		cfg:     cfg,
		rec:     rec,
		cls:     cls,
		emit:    emit,
		audit:   audit,
		sem:     make(chan struct{}, cfg.MaxConcurrent),
		busy:    make(map[string]bool),
		stats:   make(map[string]*streamStats),
		started: time.Now(),
	}
}

// Uptime reports how long the pipeline has been running.
func (p *Pipeline) Uptime() time.Duration {
	return time.Since(p.started)
}

// Submit offers a frame for asynchronous processing. It returns false
// when the frame is rejected: either the stream already has a frame in
// flight, or the global concurrency cap is reached. The caller should
// simply send its next frame later.
func (p *Pipeline) Submit(ctx context.Context, streamID, frameID string, ts time.Time, photo []byte) bool {
	p.mu.Lock()
	s := p.statsLocked(streamID)

	if p.busy[streamID] {
		s.rejected++
		p.mu.Unlock()
		observability.FramesRejected.WithLabelValues(streamID).Inc()
		return false
	}

	select {
	case p.sem <- struct{}{}:
	default:
		s.rejected++
		p.mu.Unlock()
		observability.FramesRejected.WithLabelValues(streamID).Inc()
		return false
	}

	p.busy[streamID] = true
	p.mu.Unlock()

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer func() {
			<-p.sem
			p.mu.Lock()
			p.busy[streamID] = false
			p.mu.Unlock()
		}()
		p.Process(ctx, models.FrameTask{
			StreamID:  streamID,
			FrameID:   frameID,
			Timestamp: ts,
		}, photo)
	}()
	return true
}

// Process runs recognition for one frame synchronously and emits the
// decision. The queue worker calls this directly; its concurrency is
// governed by the consumer, not the pipeline semaphore.
func (p *Pipeline) Process(ctx context.Context, task models.FrameTask, photo []byte) models.DecisionEvent {
	start := time.Now()
	ev := models.DecisionEvent{
		StreamID:  task.StreamID,
		FrameID:   task.FrameID,
		Provider:  p.rec.Name(),
		Timestamp: time.Now(),
	}

	probe, found, err := p.rec.EncodeStrongest(ctx, photo)
	switch {
	case err != nil:
		if errors.Is(err, facerec.ErrImageDecode) {
			ev.Error = "frame could not be decoded"
		} else {
			ev.Error = "encoding failed"
		}
		slog.Warn("frame processing failed", "stream_id", task.StreamID, "frame_id", task.FrameID, "error", err)
	case !found:
		ev.NoFace = true
	default:
		p.resolve(ctx, probe, &ev)
	}

	ev.LatencyMS = float64(time.Since(start).Microseconds()) / 1000.0
	p.record(task.StreamID, ev)

	p.writeAudit(ctx, ev)
	if p.emit != nil {
		p.emit(ctx, ev)
	}
	return ev
}

// resolve fills the identity fields of the event using the configured
// decision mode. Classifier mode falls back to exhaustive matching
// when no model has been trained yet.
func (p *Pipeline) resolve(ctx context.Context, probe []float32, ev *models.DecisionEvent) {
	if p.cfg.Mode == ModeClassifier && p.cls != nil {
		pred, err := p.cls.Predict(ctx, probe)
		if err == nil {
			ev.Confidence = pred.Probability * 100
			if pred.Accepted {
				ev.Recognized = true
				summary, serr := p.rec.SummaryFor(ctx, pred.IdentityID)
				if serr != nil {
					slog.Warn("summary lookup failed", "identity_id", pred.IdentityID, "error", serr)
				}
				if summary != nil {
					ev.Identity = summary
				} else {
					ev.Identity = &models.IdentitySummary{ID: pred.IdentityID}
				}
			}
			return
		}
		if !errors.Is(err, facerec.ErrNoModelTrained) {
			ev.Error = "classification failed"
			slog.Warn("classifier predict failed", "stream_id", ev.StreamID, "error", err)
			return
		}
		// No model yet: exhaustive matching still works.
	}

	res, err := p.rec.IdentifyVector(ctx, probe)
	if err != nil {
		ev.Error = "identification failed"
		slog.Warn("identify failed", "stream_id", ev.StreamID, "error", err)
		return
	}
	ev.Recognized = res.Matched
	ev.Confidence = res.Confidence
	ev.Distance = res.Distance
	ev.Identity = res.Identity
}

func (p *Pipeline) record(streamID string, ev models.DecisionEvent) {
	p.mu.Lock()
	s := p.statsLocked(streamID)
	s.processed++
	s.lastFrameAt = time.Now()
	s.latencies.Add(ev.LatencyMS)
	switch {
	case ev.Error != "":
		s.errors++
	case ev.NoFace:
		s.noFace++
	case ev.Recognized:
		s.recognized++
	}
	p.mu.Unlock()

	observability.FramesProcessed.WithLabelValues(streamID).Inc()
	if !ev.NoFace && ev.Error == "" {
		observability.FacesDetected.WithLabelValues(streamID).Inc()
	}
	if ev.Recognized {
		observability.FacesRecognized.WithLabelValues(streamID).Inc()
	}
}

func (p *Pipeline) statsLocked(streamID string) *streamStats {
	s, ok := p.stats[streamID]
	if !ok {
		s = newStreamStats()
		p.stats[streamID] = s
	}
	return s
}

func (p *Pipeline) writeAudit(ctx context.Context, ev models.DecisionEvent) {
	if p.audit == nil {
		return
	}
	outcome := "unknown"
	switch {
	case ev.Error != "":
		outcome = "error"
	case ev.NoFace:
		outcome = "no_face"
	case ev.Recognized:
		outcome = "recognized"
	}

	entry := models.AuditEntry{
		Action:     models.AuditActionStreamFrame,
		Outcome:    outcome,
		Provider:   ev.Provider,
		Confidence: ev.Confidence,
		CreatedAt:  time.Now(),
	}
	if ev.Identity != nil {
		id := ev.Identity.ID
		entry.IdentityID = &id
	}
	if err := p.audit.AppendAudit(ctx, entry); err != nil {
		observability.AuditWriteFailures.Inc()
		slog.Error("audit write failed", "stream_id", ev.StreamID, "error", err)
	}
}

// Wait blocks until every in-flight frame finishes. Used on shutdown.
func (p *Pipeline) Wait() {
	p.wg.Wait()
}
