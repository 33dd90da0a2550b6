package cli

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sync"

	"github.com/BrandonDHaskell/Citadel/gate/internal/citadel/broker"
	"github.com/BrandonDHaskell/Citadel/gate/internal/citadel/metrics"
	"github.com/BrandonDHaskell/Citadel/gate/internal/citadel/store"
	"github.com/BrandonDHaskell/Citadel/gate/internal/config"
	dbpkg "github.com/BrandonDHaskell/Citadel/gate/internal/db"
)

// stores owns both pools, their write workers and the broker over them.
type stores struct {
	local       *sql.DB
	localWriter *dbpkg.Worker

	remote       *sql.DB
	remoteWriter *dbpkg.Worker

	broker *broker.Broker

	migrateMu      sync.Mutex
	remoteMigrated bool
}

func openStores(ctx context.Context, cfg config.Config, logger *slog.Logger, m *metrics.Metrics) (*stores, error) {
	local, err := dbpkg.Open(ctx, dbpkg.Config{Path: cfg.DBPath, Env: cfg.Env})
	if err != nil {
		return nil, fmt.Errorf("open local store: %w", err)
	}
	s := &stores{
		local:       local,
		localWriter: dbpkg.NewWorker(local, dbpkg.SQLite),
	}
	localEP := broker.SQLEndpoint(s.local, s.localWriter, store.OriginLocal)

	var remoteEP *broker.Endpoint
	if cfg.RemoteDSN != "" {
		remote, err := dbpkg.OpenRemote(dbpkg.RemoteConfig{DSN: cfg.RemoteDSN})
		if err != nil {
			s.Close()
			return nil, fmt.Errorf("open remote store: %w", err)
		}
		s.remote = remote
		s.remoteWriter = dbpkg.NewWorker(remote, dbpkg.Postgres)
		ep := broker.SQLEndpoint(s.remote, s.remoteWriter, store.OriginRemote)
		remoteEP = &ep
	} else {
		logger.Info("no remote store configured; serving from the local replica only")
	}

	prober := broker.DialProber{Addr: cfg.ProbeAddr, Timeout: cfg.ProbeTimeout}
	s.broker = broker.New(localEP, remoteEP, prober, broker.Config{PingTimeout: cfg.ProbeTimeout}, logger, m)
	return s, nil
}

// migrateRemote applies the Postgres schema when the remote answers. An
// unreachable remote is reported, not fatal. Once it has succeeded later
// calls return immediately.
func (s *stores) migrateRemote(ctx context.Context) (bool, error) {
	if s.remote == nil {
		return false, nil
	}
	s.migrateMu.Lock()
	defer s.migrateMu.Unlock()
	if s.remoteMigrated {
		return true, nil
	}
	if _, err := s.broker.RemoteStores(ctx); err != nil {
		return false, nil
	}
	if err := dbpkg.Migrate(ctx, s.remote, dbpkg.Postgres); err != nil {
		return false, fmt.Errorf("migrate remote: %w", err)
	}
	s.remoteMigrated = true
	return true, nil
}

// Close drains the writers before closing their pools.
func (s *stores) Close() {
	if s.localWriter != nil {
		s.localWriter.Close()
	}
	if s.remoteWriter != nil {
		s.remoteWriter.Close()
	}
	if s.remote != nil {
		_ = s.remote.Close()
	}
	if s.local != nil {
		_ = s.local.Close()
	}
}
