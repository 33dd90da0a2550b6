package store

import (
	"context"
	"time"

	"github.com/BrandonDHaskell/Citadel/gate/internal/citadel/types"
)

type SyncQueueStore interface {
	// Pending returns up to limit undelivered entries, oldest first.
	Pending(ctx context.Context, limit int) ([]types.SyncQueueEntry, error)
	MarkDelivered(ctx context.Context, ids []int64, at time.Time) error
	Backlog(ctx context.Context) (int64, error)

	// PruneDelivered deletes delivered entries created before cutoff.
	PruneDelivered(ctx context.Context, cutoff time.Time) (int64, error)
}

// ReplicaStore applies queued writes on the authoritative store.
type ReplicaStore interface {
	// ApplyBatch applies every entry in one transaction. Applying the
	// same entry twice leaves the store unchanged.
	ApplyBatch(ctx context.Context, entries []types.SyncQueueEntry) error
}
