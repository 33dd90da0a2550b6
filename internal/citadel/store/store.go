package store

import (
	"context"

	"github.com/BrandonDHaskell/Citadel/gate/internal/citadel/types"
)

// Origin says which physical store served an operation. It is advisory:
// callers log it, they never branch on it.
type Origin string

const (
	OriginRemote Origin = "remote"
	OriginLocal  Origin = "local"
)

// Set is every store bound to one physical database.
type Set struct {
	Origin     Origin
	Identities IdentityStore
	Templates  TemplateStore
	Attendance AttendanceStore
	SyncQueue  SyncQueueStore
	Replica    ReplicaStore
}

// Provider hands out the store set for one operation, choosing the
// physical database per call.
type Provider interface {
	Stores(ctx context.Context) (Set, error)
}

type IdentityStore interface {
	// FindByID returns (identity, true, nil) when present and
	// (zero, false, nil) when absent.
	FindByID(ctx context.Context, studentNo string) (types.Identity, bool, error)
	UpsertIdentity(ctx context.Context, id types.Identity) error
}
