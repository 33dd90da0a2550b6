package biometric_test

import (
	"bytes"
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BrandonDHaskell/Citadel/gate/internal/citadel/biometric"
)

func testKey() []byte {
	return bytes.Repeat([]byte{0x42}, biometric.KeySize)
}

func newTestSealer(t *testing.T) *biometric.Sealer {
	t.Helper()
	s, err := biometric.NewSealer(testKey())
	require.NoError(t, err)
	return s
}

func TestSealer_RoundTrip(t *testing.T) {
	s := newTestSealer(t)
	pt := []byte("minutiae")

	blob, err := s.Seal(biometric.ModalityFingerprint, "S100", pt)
	require.NoError(t, err)
	assert.Len(t, blob, biometric.SealedOverhead+len(pt))
	assert.NotContains(t, string(blob), "minutiae")

	got, err := s.Open(biometric.ModalityFingerprint, "S100", blob)
	require.NoError(t, err)
	assert.Equal(t, pt, got)
}

func TestSealer_BoundToIdentityAndModality(t *testing.T) {
	s := newTestSealer(t)
	blob, err := s.Seal(biometric.ModalityFace, "S100", []byte("vector"))
	require.NoError(t, err)

	_, err = s.Open(biometric.ModalityFace, "S200", blob)
	assert.Error(t, err, "blob moved to another identity must not open")

	_, err = s.Open(biometric.ModalityFingerprint, "S100", blob)
	assert.Error(t, err, "face blob must not open with the fingerprint key")
}

func TestSealer_RejectsTampering(t *testing.T) {
	s := newTestSealer(t)
	blob, err := s.Seal(biometric.ModalityFace, "S100", []byte("vector"))
	require.NoError(t, err)

	flipped := bytes.Clone(blob)
	flipped[len(flipped)-1] ^= 0xff
	_, err = s.Open(biometric.ModalityFace, "S100", flipped)
	assert.Error(t, err)

	badVersion := bytes.Clone(blob)
	badVersion[0] = 0x7f
	_, err = s.Open(biometric.ModalityFace, "S100", badVersion)
	assert.Error(t, err)

	_, err = s.Open(biometric.ModalityFace, "S100", blob[:biometric.SealedOverhead-1])
	assert.Error(t, err)
}

func TestNewSealer_KeyLength(t *testing.T) {
	_, err := biometric.NewSealer([]byte("short"))
	assert.Error(t, err)
}

func TestParseKey(t *testing.T) {
	enc := base64.StdEncoding.EncodeToString(testKey())
	key, err := biometric.ParseKey(" " + enc + "\n")
	require.NoError(t, err)
	assert.Equal(t, testKey(), key)

	_, err = biometric.ParseKey(base64.StdEncoding.EncodeToString([]byte("too short")))
	assert.Error(t, err)
	_, err = biometric.ParseKey("not base64!")
	assert.Error(t, err)
}
