// Package match implements exhaustive distance-based identity search
// over face embedding vectors. It is pure computation: no I/O, no
// hidden state, deterministic for a fixed probe and candidate order.
package match

import (
	"fmt"
	"math"
	"time"
)

const (
	// DefaultThreshold is the distance cutoff below which a probe is
	// considered a match. Tuned empirically; lower is stricter.
	DefaultThreshold = 0.6

	// NearMissScale scales the confidence assigned to non-matches whose
	// distance is above threshold, so consumers can tell "close but no"
	// from "wildly different".
	NearMissScale = 70.0

	// DefaultNearMissCap bounds the near-miss confidence band.
	DefaultNearMissCap = 50.0
)

// Candidate is one enrolled identity with its vectors. Identify walks
// candidates in slice order; callers needing reproducible tie-breaks
// must supply a stable order.
type Candidate struct {
	IdentityID int64
	Vectors    [][]float32
}

// Result is the outcome of one identification attempt.
type Result struct {
	Matched    bool
	IdentityID int64 // valid only when Matched
	Distance   float64
	Confidence float64 // 0..100
	Threshold  float64
	Elapsed    time.Duration
}

// Engine holds the tunables for distance-based matching.
type Engine struct {
	nearMissCap float64
}

func NewEngine(nearMissCap float64) *Engine {
	if nearMissCap <= 0 {
		nearMissCap = DefaultNearMissCap
	}
	return &Engine{nearMissCap: nearMissCap}
}

// Identify finds the best-matching candidate for a probe vector.
// Per candidate it takes the minimum Euclidean distance over that
// identity's vectors; across candidates it takes the global minimum.
// A match is reported only when the global minimum is strictly below
// threshold. Exact ties go to the candidate seen first. A vector whose
// dimensionality does not match the probe is skipped; one bad stored
// vector never aborts the search.
func (e *Engine) Identify(probe []float32, candidates []Candidate, threshold float64) Result {
	start := time.Now()
	if threshold <= 0 {
		threshold = DefaultThreshold
	}

	best := math.Inf(1)
	var bestID int64
	found := false

	for _, cand := range candidates {
		for _, vec := range cand.Vectors {
			d, err := EuclideanDistance(probe, vec)
			if err != nil {
				continue
			}
			if d < best {
				best = d
				bestID = cand.IdentityID
				found = true
			}
		}
	}

	res := Result{Threshold: threshold, Elapsed: time.Since(start)}
	if !found {
		return res
	}

	res.Distance = best
	if best < threshold {
		res.Matched = true
		res.IdentityID = bestID
		res.Confidence = clamp((1-best)*100, 0, 100)
	} else {
		res.Confidence = clamp((1-best)*NearMissScale, 0, e.nearMissCap)
	}
	return res
}

// Verify compares a probe against one identity's vectors (1:1).
func (e *Engine) Verify(probe []float32, vectors [][]float32, threshold float64) Result {
	return e.Identify(probe, []Candidate{{Vectors: vectors}}, threshold)
}

// EuclideanDistance returns the L2 distance between two vectors of
// equal dimensionality.
func EuclideanDistance(a, b []float32) (float64, error) {
	if len(a) != len(b) {
		return 0, fmt.Errorf("dimensionality mismatch: %d vs %d", len(a), len(b))
	}
	var sum float64
	for i := range a {
		d := float64(a[i]) - float64(b[i])
		sum += d * d
	}
	return math.Sqrt(sum), nil
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
