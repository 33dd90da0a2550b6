// Package broker decides, per operation, which physical store serves the
// gate: the remote authoritative store when the network probe succeeds and
// it answers a ping, otherwise the local replica.
package broker

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/BrandonDHaskell/Citadel/gate/internal/citadel/errs"
	"github.com/BrandonDHaskell/Citadel/gate/internal/citadel/metrics"
	"github.com/BrandonDHaskell/Citadel/gate/internal/citadel/store"
	"github.com/BrandonDHaskell/Citadel/gate/internal/citadel/store/sqlstore"
	dbpkg "github.com/BrandonDHaskell/Citadel/gate/internal/db"
)

// Endpoint is one physical store: its store set and a liveness check.
type Endpoint struct {
	Set  store.Set
	Ping func(ctx context.Context) error
}

// SQLEndpoint binds the SQL stores to a long-lived pool.
func SQLEndpoint(db *sql.DB, writer *dbpkg.Worker, origin store.Origin) Endpoint {
	return Endpoint{
		Set:  sqlstore.New(db, writer, origin),
		Ping: db.PingContext,
	}
}

type Config struct {
	// PingTimeout bounds the liveness check on either store. Default 3s.
	PingTimeout time.Duration
}

type Broker struct {
	local   Endpoint
	remote  *Endpoint
	prober  Prober
	cfg     Config
	logger  *slog.Logger
	metrics *metrics.Metrics

	mu   sync.Mutex
	last store.Origin
}

// New builds a broker. remote may be nil for a gate with no remote store
// configured; prober may be nil to skip the network probe.
func New(local Endpoint, remote *Endpoint, prober Prober, cfg Config, logger *slog.Logger, m *metrics.Metrics) *Broker {
	if cfg.PingTimeout <= 0 {
		cfg.PingTimeout = 3 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Broker{
		local:   local,
		remote:  remote,
		prober:  prober,
		cfg:     cfg,
		logger:  logger.With("component", "broker"),
		metrics: m,
	}
}

// Connect returns the remote store set when reachable, else the local one.
// It fails with errs.ErrConnectivity only when both are unusable.
func (b *Broker) Connect(ctx context.Context) (store.Set, error) {
	set, rerr := b.RemoteStores(ctx)
	if rerr == nil {
		b.observe(store.OriginRemote)
		return set, nil
	}

	set, lerr := b.LocalStores(ctx)
	if lerr != nil {
		return store.Set{}, fmt.Errorf("connect: remote: %v; local: %v: %w", rerr, lerr, errs.ErrConnectivity)
	}
	b.observe(store.OriginLocal)
	return set, nil
}

// Stores implements store.Provider.
func (b *Broker) Stores(ctx context.Context) (store.Set, error) {
	return b.Connect(ctx)
}

// RemoteStores returns the remote set only; the replication worker uses it
// to decide whether to run a cycle.
func (b *Broker) RemoteStores(ctx context.Context) (store.Set, error) {
	if b.remote == nil {
		return store.Set{}, fmt.Errorf("remote store not configured: %w", errs.ErrConnectivity)
	}
	if b.prober != nil && !b.prober.Reachable(ctx) {
		return store.Set{}, fmt.Errorf("network probe failed: %w", errs.ErrConnectivity)
	}
	if err := b.ping(ctx, b.remote); err != nil {
		return store.Set{}, fmt.Errorf("remote ping: %v: %w", err, errs.ErrConnectivity)
	}
	return b.remote.Set, nil
}

func (b *Broker) LocalStores(ctx context.Context) (store.Set, error) {
	if err := b.ping(ctx, &b.local); err != nil {
		return store.Set{}, fmt.Errorf("local ping: %v: %w", err, errs.ErrConnectivity)
	}
	return b.local.Set, nil
}

func (b *Broker) ping(ctx context.Context, e *Endpoint) error {
	if e.Ping == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, b.cfg.PingTimeout)
	defer cancel()
	return e.Ping(ctx)
}

// observe logs origin transitions once rather than on every operation.
func (b *Broker) observe(origin store.Origin) {
	b.metrics.ObserveOrigin(string(origin))

	b.mu.Lock()
	prev := b.last
	b.last = origin
	b.mu.Unlock()

	if prev != origin {
		b.logger.Info("store origin changed", "from", string(prev), "to", string(origin))
	}
}
