package biometric_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/BrandonDHaskell/Citadel/gate/internal/citadel/biometric"
	"github.com/BrandonDHaskell/Citadel/gate/internal/citadel/device/devicetest"
	"github.com/BrandonDHaskell/Citadel/gate/internal/citadel/store"
)

func fingerprintGallery(t *testing.T, s *biometric.Sealer, tpls map[string]string, order ...string) *biometric.Gallery {
	t.Helper()
	var fps []store.SealedTemplate
	for _, id := range order {
		fps = append(fps, store.SealedTemplate{StudentNo: id, Sealed: sealFingerprint(t, s, id, tpls[id])})
	}
	return biometric.NewGallery(nil, fps)
}

func TestFingerprintMatcher_FirstMatchInScanOrder(t *testing.T) {
	sealer := newTestSealer(t)
	g := fingerprintGallery(t, sealer, map[string]string{"S100": "a", "S200": "b", "S300": "c"}, "S100", "S200", "S300")
	scorer := devicetest.Scorer{Scores: map[string]int{"live|a": 85, "live|b": 60, "live|c": 99}}

	m := biometric.NewFingerprintMatcher(sealer, 0, silentLogger(), nil)
	id, ok := m.Identify(context.Background(), []byte("live"), g, scorer)

	// S300 scores higher but S100 is reached first.
	assert.True(t, ok)
	assert.Equal(t, "S100", id)
}

func TestFingerprintMatcher_NoMatch(t *testing.T) {
	sealer := newTestSealer(t)
	g := fingerprintGallery(t, sealer, map[string]string{"S100": "a", "S200": "b"}, "S100", "S200")
	scorer := devicetest.Scorer{Scores: map[string]int{"live|a": 79, "live|b": 40}}

	m := biometric.NewFingerprintMatcher(sealer, 0, silentLogger(), nil)
	_, ok := m.Identify(context.Background(), []byte("live"), g, scorer)
	assert.False(t, ok)
}

func TestFingerprintMatcher_SkipsCorruptTemplate(t *testing.T) {
	sealer := newTestSealer(t)
	g := biometric.NewGallery(nil, []store.SealedTemplate{
		{StudentNo: "S100", Sealed: []byte("corrupt")},
		{StudentNo: "S200", Sealed: sealFingerprint(t, sealer, "S200", "b")},
	})
	scorer := devicetest.Scorer{Scores: map[string]int{"live|b": 90}}

	m := biometric.NewFingerprintMatcher(sealer, 0, silentLogger(), nil)
	id, ok := m.Identify(context.Background(), []byte("live"), g, scorer)
	assert.True(t, ok)
	assert.Equal(t, "S200", id)
}

func TestFingerprintMatcher_EmptyCapture(t *testing.T) {
	sealer := newTestSealer(t)
	m := biometric.NewFingerprintMatcher(sealer, 0, silentLogger(), nil)
	_, ok := m.Identify(context.Background(), nil, biometric.NewGallery(nil, nil), devicetest.Scorer{})
	assert.False(t, ok)
}
