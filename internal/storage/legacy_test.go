package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseLegacyVectors(t *testing.T) {
	vecs := parseLegacyVectors(`[[0.1, 0.2], [0.3, 0.4]]`)
	assert.Len(t, vecs, 2)
	assert.Equal(t, []float32{0.1, 0.2}, vecs[0])
	assert.Equal(t, []float32{0.3, 0.4}, vecs[1])
}

func TestParseLegacyVectorsEmpty(t *testing.T) {
	assert.Empty(t, parseLegacyVectors(`[]`))
}

func TestParseLegacyVectorsMalformed(t *testing.T) {
	// One corrupt legacy row yields no vectors but never an error; the
	// identity just drops out of matching.
	assert.Nil(t, parseLegacyVectors(`not json`))
	assert.Nil(t, parseLegacyVectors(`{"a": 1}`))
	assert.Nil(t, parseLegacyVectors(``))
}
