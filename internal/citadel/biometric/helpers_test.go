package biometric_test

import (
	"context"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/BrandonDHaskell/Citadel/gate/internal/citadel/biometric"
	"github.com/BrandonDHaskell/Citadel/gate/internal/citadel/store"
	"github.com/BrandonDHaskell/Citadel/gate/internal/citadel/store/memory"
	"github.com/BrandonDHaskell/Citadel/gate/internal/citadel/types"
)

func silentLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newStore(t *testing.T, ids ...string) *memory.Store {
	t.Helper()
	m := memory.New(store.OriginLocal)
	for _, id := range ids {
		require.NoError(t, m.UpsertIdentity(context.Background(), types.Identity{StudentNo: id, FullName: "Student " + id}))
	}
	return m
}

func sealFace(t *testing.T, s *biometric.Sealer, id string, v ...float64) []byte {
	t.Helper()
	unit, ok := biometric.Normalize(v)
	require.True(t, ok)
	blob, err := s.Seal(biometric.ModalityFace, id, biometric.EncodeEmbedding(unit))
	require.NoError(t, err)
	return blob
}

func sealFingerprint(t *testing.T, s *biometric.Sealer, id string, tpl string) []byte {
	t.Helper()
	blob, err := s.Seal(biometric.ModalityFingerprint, id, []byte(tpl))
	require.NoError(t, err)
	return blob
}

// countingProvider counts Stores calls, which is one per gallery rebuild.
type countingProvider struct {
	inner store.Provider
	calls atomic.Int32
	gate  chan struct{}
}

func (p *countingProvider) Stores(ctx context.Context) (store.Set, error) {
	p.calls.Add(1)
	if p.gate != nil {
		<-p.gate
	}
	return p.inner.Stores(ctx)
}
