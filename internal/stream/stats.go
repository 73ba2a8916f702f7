package stream

import (
	"sort"
	"time"
)

// statsWindow is the number of recent frame latencies kept per stream.
const statsWindow = 100

// rollingWindow keeps the last N observations in a fixed ring.
type rollingWindow struct {
	vals []float64
	idx  int
	full bool
}

func newRollingWindow(size int) *rollingWindow {
	return &rollingWindow{vals: make([]float64, size)}
}

func (w *rollingWindow) Add(v float64) {
	w.vals[w.idx] = v
	w.idx++
	if w.idx == len(w.vals) {
		w.idx = 0
		w.full = true
	}
}

func (w *rollingWindow) count() int {
	if w.full {
		return len(w.vals)
	}
	return w.idx
}

func (w *rollingWindow) Avg() float64 {
	n := w.count()
	if n == 0 {
		return 0
	}
	var sum float64
	for i := 0; i < n; i++ {
		sum += w.vals[i]
	}
	return sum / float64(n)
}

func (w *rollingWindow) Max() float64 {
	n := w.count()
	var max float64
	for i := 0; i < n; i++ {
		if w.vals[i] > max {
			max = w.vals[i]
		}
	}
	return max
}

// streamStats is the per-stream mutable state behind the pipeline lock.
type streamStats struct {
	processed   int64
	rejected    int64
	recognized  int64
	noFace      int64
	errors      int64
	latencies   *rollingWindow
	lastFrameAt time.Time
}

func newStreamStats() *streamStats {
	return &streamStats{latencies: newRollingWindow(statsWindow)}
}

// StreamStats is a point-in-time snapshot for one stream.
type StreamStats struct {
	StreamID     string    `json:"stream_id"`
	State        string    `json:"state"`
	Processed    int64     `json:"processed"`
	Rejected     int64     `json:"rejected"`
	Recognized   int64     `json:"recognized"`
	NoFace       int64     `json:"no_face"`
	Errors       int64     `json:"errors"`
	AvgLatencyMS float64   `json:"avg_latency_ms"`
	MaxLatencyMS float64   `json:"max_latency_ms"`
	LastFrameAt  time.Time `json:"last_frame_at"`
}

// Stats snapshots every stream seen so far, ordered by stream ID.
func (p *Pipeline) Stats() []StreamStats {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]StreamStats, 0, len(p.stats))
	for id, s := range p.stats {
		state := stateIdle
		if p.busy[id] {
			state = stateProcessing
		}
		out = append(out, StreamStats{
			StreamID:     id,
			State:        state,
			Processed:    s.processed,
			Rejected:     s.rejected,
			Recognized:   s.recognized,
			NoFace:       s.noFace,
			Errors:       s.errors,
			AvgLatencyMS: s.latencies.Avg(),
			MaxLatencyMS: s.latencies.Max(),
			LastFrameAt:  s.lastFrameAt,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StreamID < out[j].StreamID })
	return out
}
