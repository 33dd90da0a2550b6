package biometric

import (
	"encoding/binary"
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
)

// unitTolerance is how far a stored embedding's norm may drift from 1.0
// after the float32 round trip before it is treated as corrupt.
const unitTolerance = 1e-3

// EncodeEmbedding packs an embedding as little-endian float32.
func EncodeEmbedding(v []float64) []byte {
	b := make([]byte, 4*len(v))
	for i, x := range v {
		binary.LittleEndian.PutUint32(b[4*i:], math.Float32bits(float32(x)))
	}
	return b
}

func DecodeEmbedding(b []byte) ([]float64, error) {
	if len(b) == 0 || len(b)%4 != 0 {
		return nil, fmt.Errorf("embedding is %d bytes, not a float32 vector", len(b))
	}
	v := make([]float64, len(b)/4)
	for i := range v {
		v[i] = float64(math.Float32frombits(binary.LittleEndian.Uint32(b[4*i:])))
	}
	return v, nil
}

// Normalize returns v scaled to unit L2 norm. It reports false for empty,
// zero or non-finite vectors.
func Normalize(v []float64) ([]float64, bool) {
	if len(v) == 0 {
		return nil, false
	}
	n := floats.Norm(v, 2)
	if n == 0 || math.IsNaN(n) || math.IsInf(n, 0) {
		return nil, false
	}
	out := make([]float64, len(v))
	floats.ScaleTo(out, 1/n, v)
	return out, true
}

// IsUnit reports whether v has L2 norm ~1.
func IsUnit(v []float64) bool {
	return math.Abs(floats.Norm(v, 2)-1) <= unitTolerance
}

// Cosine returns the cosine similarity of a and b. ok is false when the
// dimensions differ or either vector is zero.
func Cosine(a, b []float64) (sim float64, ok bool) {
	if len(a) != len(b) || len(a) == 0 {
		return 0, false
	}
	na, nb := floats.Norm(a, 2), floats.Norm(b, 2)
	if na == 0 || nb == 0 {
		return 0, false
	}
	return floats.Dot(a, b) / (na * nb), true
}

func toFloat64(v []float32) []float64 {
	out := make([]float64, len(v))
	for i, x := range v {
		out[i] = float64(x)
	}
	return out
}
