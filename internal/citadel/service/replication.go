package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/BrandonDHaskell/Citadel/gate/internal/citadel/errs"
	"github.com/BrandonDHaskell/Citadel/gate/internal/citadel/metrics"
	"github.com/BrandonDHaskell/Citadel/gate/internal/citadel/store"
	"github.com/BrandonDHaskell/Citadel/gate/internal/citadel/types"
)

// ReplicationTargets exposes the two physical stores separately. The
// replication worker is the only component that cares about origin.
type ReplicationTargets interface {
	LocalStores(ctx context.Context) (store.Set, error)
	RemoteStores(ctx context.Context) (store.Set, error)
}

// ReplicationConfig holds the parameters for NewReplicator.
type ReplicationConfig struct {
	// Interval between cycles. Defaults to 10s.
	Interval time.Duration

	// BatchSize is how many queue entries one cycle delivers. Defaults to 20.
	BatchSize int
}

// Replicator drains the local sync_queue into the remote store. Delivery is
// at-least-once: entries are marked delivered only after the remote
// transaction commits, and the remote upserts make replays harmless.
type Replicator struct {
	targets  ReplicationTargets
	interval time.Duration
	batch    int
	logger   *slog.Logger
	metrics  *metrics.Metrics
	tracer   trace.Tracer
	now      func() time.Time

	// OnRemoteStatus, when set, is called after every cycle that needed
	// the remote with whether it was reachable.
	OnRemoteStatus func(up bool)

	cancel context.CancelFunc
	done   chan struct{}
}

// Cycle results.
const (
	ResultDelivered         = "delivered"
	ResultEmpty             = "empty"
	ResultRemoteUnavailable = "remote_unavailable"
	ResultError             = "error"
)

// NewReplicator creates a replicator but does not start it.
func NewReplicator(t ReplicationTargets, cfg ReplicationConfig, logger *slog.Logger, m *metrics.Metrics) *Replicator {
	if cfg.Interval <= 0 {
		cfg.Interval = 10 * time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 20
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Replicator{
		targets:  t,
		interval: cfg.Interval,
		batch:    cfg.BatchSize,
		logger:   logger.With("component", "replicator"),
		metrics:  m,
		tracer:   otel.Tracer("github.com/BrandonDHaskell/Citadel/gate/replication"),
		now:      time.Now,
		done:     make(chan struct{}),
	}
}

// Start runs a cycle immediately, then one per interval, until ctx is
// cancelled or Stop is called.
func (r *Replicator) Start(ctx context.Context) {
	ctx, r.cancel = context.WithCancel(ctx)
	go r.loop(ctx)
	r.logger.Info("replication started", "interval", r.interval.String(), "batch", r.batch)
}

// Stop signals the loop to exit and waits for it to finish. A cycle in
// flight completes or rolls back first.
func (r *Replicator) Stop() {
	if r.cancel != nil {
		r.cancel()
		<-r.done
	}
}

// Run blocks until ctx is done. It is Start+Stop for errgroup callers.
func (r *Replicator) Run(ctx context.Context) error {
	r.Start(ctx)
	<-ctx.Done()
	r.Stop()
	return nil
}

func (r *Replicator) loop(ctx context.Context) {
	defer close(r.done)

	r.cycle(ctx)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("replication stopped")
			return
		case <-ticker.C:
			r.cycle(ctx)
		}
	}
}

func (r *Replicator) cycle(ctx context.Context) {
	n, result, err := r.RunOnce(ctx)
	r.metrics.ObserveReplication(result, n)
	switch {
	case err != nil && errors.Is(err, context.Canceled):
	case result == ResultRemoteUnavailable:
		r.logger.Debug("remote unavailable, replication deferred", "err", err)
	case err != nil:
		r.logger.Warn("replication cycle failed", "err", err)
	case n > 0:
		r.logger.Info("replicated queue entries", "count", n)
	}
}

// RunOnce delivers at most one batch and reports how many entries were
// marked delivered along with the cycle result.
func (r *Replicator) RunOnce(ctx context.Context) (delivered int, result string, err error) {
	ctx, span := r.tracer.Start(ctx, "replication.cycle")
	defer func() {
		span.SetAttributes(attribute.String("result", result), attribute.Int("delivered", delivered))
		if err != nil && result != ResultRemoteUnavailable {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	local, err := r.targets.LocalStores(ctx)
	if err != nil {
		return 0, ResultError, fmt.Errorf("replication local: %w", err)
	}

	if backlog, err := local.SyncQueue.Backlog(ctx); err == nil {
		r.metrics.SetBacklog(backlog)
	}

	pending, err := local.SyncQueue.Pending(ctx, r.batch)
	if err != nil {
		return 0, ResultError, fmt.Errorf("replication pending: %w", err)
	}
	if len(pending) == 0 {
		return 0, ResultEmpty, nil
	}

	remote, err := r.targets.RemoteStores(ctx)
	if r.OnRemoteStatus != nil {
		r.OnRemoteStatus(err == nil)
	}
	if err != nil {
		return 0, ResultRemoteUnavailable, err
	}

	// Entries that can never apply are delivered as-is so they cannot wedge
	// the head of the queue; they stay in the local table for inspection.
	apply := make([]types.SyncQueueEntry, 0, len(pending))
	ids := make([]int64, 0, len(pending))
	for _, e := range pending {
		ids = append(ids, e.ID)
		if _, verr := e.Validate(); verr != nil {
			r.logger.Error("skipping undeliverable queue entry",
				"id", e.ID, "table", e.Table, "err", fmt.Errorf("%v: %w", verr, errs.ErrDataIntegrity))
			continue
		}
		apply = append(apply, e)
	}

	if err := remote.Replica.ApplyBatch(ctx, apply); err != nil {
		return 0, ResultError, fmt.Errorf("replication apply: %w", err)
	}

	// If this fails the batch is replayed next cycle, which the upserts
	// absorb.
	if err := local.SyncQueue.MarkDelivered(ctx, ids, r.now().UTC()); err != nil {
		return 0, ResultError, fmt.Errorf("replication mark delivered: %w", err)
	}
	if backlog, err := local.SyncQueue.Backlog(ctx); err == nil {
		r.metrics.SetBacklog(backlog)
	}
	return len(ids), ResultDelivered, nil
}
