package service_test

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/BrandonDHaskell/Citadel/gate/internal/citadel/errs"
	"github.com/BrandonDHaskell/Citadel/gate/internal/citadel/store"
	"github.com/BrandonDHaskell/Citadel/gate/internal/citadel/store/memory"
	"github.com/BrandonDHaskell/Citadel/gate/internal/citadel/types"
)

func silentLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeClock is a manually advanced clock.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func newStoreWithStudents(t *testing.T, origin store.Origin, ids ...string) *memory.Store {
	t.Helper()
	m := memory.New(origin)
	for _, id := range ids {
		if err := m.UpsertIdentity(context.Background(), types.Identity{StudentNo: id, FullName: "Student " + id}); err != nil {
			t.Fatalf("seed %s: %v", id, err)
		}
	}
	return m
}

// targets exposes two memory stores as local and remote.
type targets struct {
	local  *memory.Store
	remote *memory.Store
}

func (t targets) LocalStores(ctx context.Context) (store.Set, error) { return t.local.Stores(ctx) }

func (t targets) RemoteStores(ctx context.Context) (store.Set, error) {
	if t.remote == nil {
		return store.Set{}, fmt.Errorf("remote store not configured: %w", errs.ErrConnectivity)
	}
	return t.remote.Stores(ctx)
}
