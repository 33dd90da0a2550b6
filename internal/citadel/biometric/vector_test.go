package biometric_test

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BrandonDHaskell/Citadel/gate/internal/citadel/biometric"
)

func TestEmbeddingCodec(t *testing.T) {
	v := []float64{0.6, -0.8, 0}
	b := biometric.EncodeEmbedding(v)
	require.Len(t, b, 12)

	got, err := biometric.DecodeEmbedding(b)
	require.NoError(t, err)
	require.Len(t, got, 3)
	for i := range v {
		assert.InDelta(t, v[i], got[i], 1e-6)
	}
	assert.True(t, biometric.IsUnit(got))

	_, err = biometric.DecodeEmbedding(b[:5])
	assert.Error(t, err)
	_, err = biometric.DecodeEmbedding(nil)
	assert.Error(t, err)
}

func TestNormalize(t *testing.T) {
	v, ok := biometric.Normalize([]float64{3, 4})
	require.True(t, ok)
	assert.InDelta(t, 0.6, v[0], 1e-12)
	assert.InDelta(t, 0.8, v[1], 1e-12)

	_, ok = biometric.Normalize([]float64{0, 0})
	assert.False(t, ok)
	_, ok = biometric.Normalize(nil)
	assert.False(t, ok)
	_, ok = biometric.Normalize([]float64{math.NaN(), 1})
	assert.False(t, ok)
}

func TestCosine(t *testing.T) {
	sim, ok := biometric.Cosine([]float64{1, 0}, []float64{1, 1})
	require.True(t, ok)
	assert.InDelta(t, 1/math.Sqrt2, sim, 1e-12)

	_, ok = biometric.Cosine([]float64{1, 0}, []float64{1, 0, 0})
	assert.False(t, ok, "dimension mismatch")
	_, ok = biometric.Cosine([]float64{0, 0}, []float64{1, 0})
	assert.False(t, ok, "zero vector")
}
