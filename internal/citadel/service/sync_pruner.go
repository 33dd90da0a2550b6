package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-co-op/gocron"

	"github.com/BrandonDHaskell/Citadel/gate/internal/citadel/metrics"
	"github.com/BrandonDHaskell/Citadel/gate/internal/citadel/store"
)

// PruneTargets is the part of the broker the pruner needs.
type PruneTargets interface {
	LocalStores(ctx context.Context) (store.Set, error)
	RemoteStores(ctx context.Context) (store.Set, error)
}

// PrunerConfig holds the parameters for NewSyncQueuePruner.
type PrunerConfig struct {
	// RetentionDays is how long delivered queue entries are kept.
	// 0 means keep everything (pruner will not start).
	RetentionDays int

	// IntervalHours is how often the pruner runs. Defaults to 6.
	IntervalHours int
}

// SyncQueuePruner deletes delivered sync_queue entries once they are older
// than the retention window. The local replica is always pruned; the remote
// is pruned when reachable, since decisions it served queue rows there too.
// Undelivered entries are never touched.
type SyncQueuePruner struct {
	stores    PruneTargets
	retention time.Duration
	interval  time.Duration
	logger    *slog.Logger
	metrics   *metrics.Metrics
	now       func() time.Time

	sched *gocron.Scheduler
}

// NewSyncQueuePruner creates a pruner but does not start it.
func NewSyncQueuePruner(s PruneTargets, cfg PrunerConfig, logger *slog.Logger, m *metrics.Metrics) *SyncQueuePruner {
	interval := time.Duration(cfg.IntervalHours) * time.Hour
	if interval <= 0 {
		interval = 6 * time.Hour
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &SyncQueuePruner{
		stores:    s,
		retention: time.Duration(cfg.RetentionDays) * 24 * time.Hour,
		interval:  interval,
		logger:    logger.With("component", "sync_pruner"),
		metrics:   m,
		now:       time.Now,
	}
}

// Start schedules the prune job. It runs once immediately, then on the
// configured interval, until Stop.
func (p *SyncQueuePruner) Start(ctx context.Context) error {
	if p.retention <= 0 {
		p.logger.Info("sync queue pruner disabled (retention=0)")
		return nil
	}

	sched := gocron.NewScheduler(time.UTC)
	sched.SingletonModeAll()
	if _, err := sched.Every(p.interval).Do(func() {
		if _, err := p.Prune(ctx); err != nil {
			p.logger.Warn("sync queue prune failed", "err", err)
		}
	}); err != nil {
		return fmt.Errorf("schedule sync queue prune: %w", err)
	}
	sched.StartAsync()
	p.sched = sched

	p.logger.Info("sync queue pruner started",
		"retention_days", int(p.retention.Hours()/24), "interval", p.interval.String())
	return nil
}

// Stop cancels future runs. It is safe to call more than once.
func (p *SyncQueuePruner) Stop() {
	if p.sched != nil {
		p.sched.Stop()
		p.sched = nil
	}
}

// Prune runs one retention pass and returns how many entries it deleted
// across both stores. An unreachable remote is skipped.
func (p *SyncQueuePruner) Prune(ctx context.Context) (int64, error) {
	local, err := p.stores.LocalStores(ctx)
	if err != nil {
		return 0, err
	}
	cutoff := p.now().UTC().Add(-p.retention)
	deleted, err := p.prune(ctx, local, cutoff)
	if err != nil {
		return 0, err
	}

	remote, err := p.stores.RemoteStores(ctx)
	if err != nil {
		p.logger.Debug("remote sync queue not pruned", "err", err)
		return deleted, nil
	}
	n, err := p.prune(ctx, remote, cutoff)
	if err != nil {
		return deleted, err
	}
	return deleted + n, nil
}

func (p *SyncQueuePruner) prune(ctx context.Context, set store.Set, cutoff time.Time) (int64, error) {
	deleted, err := set.SyncQueue.PruneDelivered(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("prune %s sync queue: %w", set.Origin, err)
	}
	p.metrics.AddPruned(deleted)
	if deleted > 0 {
		p.logger.Info("sync queue pruned",
			"origin", string(set.Origin), "deleted", deleted, "cutoff", cutoff.Format(time.RFC3339))
	}
	return deleted, nil
}
