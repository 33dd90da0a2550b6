//go:build integration

package cli_test

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"

	dbpkg "github.com/BrandonDHaskell/Citadel/gate/internal/db"
)

func TestServe_MigratesReachableRemote(t *testing.T) {
	setupEnv(t)
	ctx := context.Background()

	container, err := tcpostgres.Run(ctx, "postgres:16-alpine",
		tcpostgres.WithDatabase("citadel"),
		tcpostgres.WithUsername("citadel"),
		tcpostgres.WithPassword("citadel"),
		tcpostgres.BasicWaitStrategies(),
	)
	testcontainers.CleanupContainer(t, container)
	require.NoError(t, err)

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)
	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "5432/tcp")
	require.NoError(t, err)

	t.Setenv("CITADEL_REMOTE_DSN", dsn)
	t.Setenv("CITADEL_PROBE_ADDR", net.JoinHostPort(host, port.Port()))
	t.Setenv("CITADEL_HTTP_ADDR", "127.0.0.1:0")
	t.Setenv("CITADEL_GRPC_ADDR", "127.0.0.1:0")

	serveCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	_, err = run(t, serveCtx, "serve")
	require.NoError(t, err)

	remote, err := dbpkg.OpenRemote(dbpkg.RemoteConfig{DSN: dsn})
	require.NoError(t, err)
	defer remote.Close()

	var applied int
	require.NoError(t, remote.QueryRowContext(ctx, "SELECT COUNT(*) FROM schema_migrations").Scan(&applied))
	require.Positive(t, applied)

	var queued int
	require.NoError(t, remote.QueryRowContext(ctx, "SELECT COUNT(*) FROM sync_queue").Scan(&queued))
	require.Zero(t, queued)
}
