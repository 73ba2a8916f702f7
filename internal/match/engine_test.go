package match

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func vec(vals ...float32) []float32 { return vals }

func TestIdentifyExactMatch(t *testing.T) {
	e := NewEngine(0)
	v := vec(0.1, 0.2, 0.3, 0.4)

	res := e.Identify(v, []Candidate{{IdentityID: 7, Vectors: [][]float32{v}}}, 0.5)

	require.True(t, res.Matched)
	assert.Equal(t, int64(7), res.IdentityID)
	assert.Equal(t, 0.0, res.Distance)
	assert.Equal(t, 100.0, res.Confidence)
}

func TestIdentifyEmptyCandidates(t *testing.T) {
	e := NewEngine(0)

	res := e.Identify(vec(1, 2, 3), nil, 0.5)
	assert.False(t, res.Matched)
	assert.Equal(t, 0.0, res.Confidence)

	res = e.Identify(vec(1, 2, 3), []Candidate{{IdentityID: 1}}, 0.5)
	assert.False(t, res.Matched)
}

func TestIdentifyLowerDistanceWins(t *testing.T) {
	e := NewEngine(0)
	probe := vec(0, 0)
	// distance to A is 0.3, to B is 0.31
	candidates := []Candidate{
		{IdentityID: 1, Vectors: [][]float32{vec(0.3, 0)}},
		{IdentityID: 2, Vectors: [][]float32{vec(0.31, 0)}},
	}

	res := e.Identify(probe, candidates, 0.5)
	require.True(t, res.Matched)
	assert.Equal(t, int64(1), res.IdentityID)
	assert.InDelta(t, 0.3, res.Distance, 1e-6)
	assert.InDelta(t, 70.0, res.Confidence, 1e-4)
}

func TestIdentifyTieBreakFirstSeen(t *testing.T) {
	e := NewEngine(0)
	probe := vec(0, 0)
	shared := vec(0.2, 0)
	candidates := []Candidate{
		{IdentityID: 5, Vectors: [][]float32{shared}},
		{IdentityID: 6, Vectors: [][]float32{shared}},
	}

	res := e.Identify(probe, candidates, 0.5)
	require.True(t, res.Matched)
	assert.Equal(t, int64(5), res.IdentityID)
}

func TestIdentifyStrictThreshold(t *testing.T) {
	e := NewEngine(0)
	probe := vec(0, 0)
	candidates := []Candidate{{IdentityID: 1, Vectors: [][]float32{vec(0.5, 0)}}}

	// distance == threshold is not a match
	res := e.Identify(probe, candidates, 0.5)
	assert.False(t, res.Matched)

	res = e.Identify(probe, candidates, 0.5001)
	assert.True(t, res.Matched)
}

func TestIdentifyNearMissBand(t *testing.T) {
	e := NewEngine(50)
	probe := vec(0, 0)
	// distance 0.65, just above threshold 0.6
	candidates := []Candidate{{IdentityID: 1, Vectors: [][]float32{vec(0.65, 0)}}}

	res := e.Identify(probe, candidates, 0.6)
	require.False(t, res.Matched)
	// (1 - 0.65) * 70 = 24.5, below the cap
	assert.InDelta(t, 24.5, res.Confidence, 1e-4)

	// a very near miss is capped, not scaled to 100
	near := []Candidate{{IdentityID: 1, Vectors: [][]float32{vec(0.05, 0)}}}
	res = e.Identify(probe, near, 0.04)
	require.False(t, res.Matched)
	assert.Equal(t, 50.0, res.Confidence)
}

func TestIdentifyThresholdMonotonicity(t *testing.T) {
	e := NewEngine(0)
	probe := vec(0, 0)
	candidates := []Candidate{{IdentityID: 1, Vectors: [][]float32{vec(0.45, 0)}}}

	matchedAt := func(threshold float64) bool {
		return e.Identify(probe, candidates, threshold).Matched
	}

	wasMatch := false
	for _, th := range []float64{0.1, 0.2, 0.3, 0.4, 0.46, 0.6, 0.9} {
		m := matchedAt(th)
		if wasMatch {
			assert.True(t, m, "raising threshold must not lose a match (threshold=%v)", th)
		}
		wasMatch = wasMatch || m
	}
	// distance itself is threshold-independent
	assert.InDelta(t, e.Identify(probe, candidates, 0.1).Distance,
		e.Identify(probe, candidates, 0.9).Distance, 1e-9)
}

func TestIdentifySkipsCorruptVectors(t *testing.T) {
	e := NewEngine(0)
	probe := vec(0, 0)
	candidates := []Candidate{
		{IdentityID: 1, Vectors: [][]float32{vec(1, 2, 3)}}, // wrong dimensionality
		{IdentityID: 2, Vectors: [][]float32{vec(0.1, 0)}},
	}

	res := e.Identify(probe, candidates, 0.5)
	require.True(t, res.Matched)
	assert.Equal(t, int64(2), res.IdentityID)
}

func TestIdentifyDeterminism(t *testing.T) {
	e := NewEngine(0)
	probe := vec(0.3, 0.1, 0.7)
	candidates := []Candidate{
		{IdentityID: 1, Vectors: [][]float32{vec(0.2, 0.2, 0.6), vec(0.4, 0.1, 0.9)}},
		{IdentityID: 2, Vectors: [][]float32{vec(0.9, 0.9, 0.1)}},
	}

	first := e.Identify(probe, candidates, 0.5)
	for i := 0; i < 10; i++ {
		again := e.Identify(probe, candidates, 0.5)
		assert.Equal(t, first.Matched, again.Matched)
		assert.Equal(t, first.IdentityID, again.IdentityID)
		assert.Equal(t, first.Confidence, again.Confidence)
	}
}

func TestVerify(t *testing.T) {
	e := NewEngine(0)
	v := vec(0.5, 0.5)

	res := e.Verify(v, [][]float32{vec(0.9, 0.9), v}, 0.5)
	require.True(t, res.Matched)
	assert.Equal(t, 0.0, res.Distance)

	res = e.Verify(v, [][]float32{vec(5, 5)}, 0.5)
	assert.False(t, res.Matched)
}

func TestEuclideanDistance(t *testing.T) {
	d, err := EuclideanDistance(vec(0, 0), vec(3, 4))
	require.NoError(t, err)
	assert.InDelta(t, 5.0, d, 1e-9)

	_, err = EuclideanDistance(vec(0, 0), vec(1))
	assert.Error(t, err)
}
