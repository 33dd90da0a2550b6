package cli_test

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BrandonDHaskell/Citadel/gate/internal/citadel/errs"
	"github.com/BrandonDHaskell/Citadel/gate/internal/cli"
	dbpkg "github.com/BrandonDHaskell/Citadel/gate/internal/db"
)

const testKey = "AAECAwQFBgcICQoLDA0ODxAREhMUFRYXGBkaGxwdHh8="

func setupEnv(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Chdir(dir)
	dbPath := filepath.Join(dir, "data", "citadel.db")
	t.Setenv("CITADEL_CONFIG", "")
	t.Setenv("CITADEL_ENV", "dev")
	t.Setenv("CITADEL_DB_PATH", dbPath)
	t.Setenv("CITADEL_REMOTE_DSN", "")
	t.Setenv("CITADEL_REDIS_URL", "")
	t.Setenv("CITADEL_KAFKA_BROKERS", "")
	t.Setenv("CITADEL_SMTP_HOST", "")
	t.Setenv("CITADEL_TEMPLATE_KEY", testKey)
	t.Setenv("CITADEL_LOG_LEVEL", "error")
	return dbPath
}

func run(t *testing.T, ctx context.Context, args ...string) (string, error) {
	t.Helper()
	cmd := cli.NewRootCommand(cli.UnpluggedDevices())
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(ctx)
	return out.String(), err
}

func TestRootCommand_Subcommands(t *testing.T) {
	cmd := cli.NewRootCommand(cli.UnpluggedDevices())

	names := map[string]bool{}
	for _, c := range cmd.Commands() {
		names[c.Name()] = true
	}
	for _, want := range []string{"serve", "migrate", "sync", "enroll"} {
		assert.True(t, names[want], "missing %s command", want)
	}
}

func TestMigrate_SeedsDevStudent(t *testing.T) {
	dbPath := setupEnv(t)
	ctx := context.Background()

	out, err := run(t, ctx, "migrate", "--seed-dev", "--seed-student", "2024-00099")
	require.NoError(t, err)
	assert.Contains(t, out, "local schema up to date")
	assert.Contains(t, out, "dev students seeded")

	db, err := dbpkg.Open(ctx, dbpkg.Config{Path: dbPath})
	require.NoError(t, err)
	defer db.Close()

	var n int
	require.NoError(t, db.QueryRowContext(ctx, `SELECT COUNT(*) FROM students`).Scan(&n))
	assert.Equal(t, 2, n)
}

func TestSync_EmptyQueue(t *testing.T) {
	setupEnv(t)

	out, err := run(t, context.Background(), "sync")
	require.NoError(t, err)
	assert.Contains(t, out, "delivered 0 (empty)")
}

func TestEnroll_FaceAndFingerprintImport(t *testing.T) {
	dbPath := setupEnv(t)
	ctx := context.Background()

	_, err := run(t, ctx, "migrate", "--seed-dev")
	require.NoError(t, err)

	embFile := filepath.Join(t.TempDir(), "face.json")
	require.NoError(t, os.WriteFile(embFile, []byte(`[3, 4, 0]`), 0o600))
	out, err := run(t, ctx, "enroll", "face", "2024-00001", "--embedding-file", embFile)
	require.NoError(t, err)
	assert.Contains(t, out, "face enrolled for 2024-00001")

	tplFile := filepath.Join(t.TempDir(), "finger.bin")
	require.NoError(t, os.WriteFile(tplFile, []byte("minutiae"), 0o600))
	out, err = run(t, ctx, "enroll", "fingerprint", "2024-00001", "--template-file", tplFile)
	require.NoError(t, err)
	assert.Contains(t, out, "fingerprint imported for 2024-00001")

	db, err := dbpkg.Open(ctx, dbpkg.Config{Path: dbPath})
	require.NoError(t, err)
	defer db.Close()

	var faces, fingerprints int
	require.NoError(t, db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM students WHERE face_template IS NOT NULL`).Scan(&faces))
	require.NoError(t, db.QueryRowContext(ctx, `SELECT COUNT(*) FROM fingerprints`).Scan(&fingerprints))
	assert.Equal(t, 1, faces)
	assert.Equal(t, 1, fingerprints)
}

func TestEnroll_Failures(t *testing.T) {
	setupEnv(t)
	ctx := context.Background()

	_, err := run(t, ctx, "migrate", "--seed-dev")
	require.NoError(t, err)

	_, err = run(t, ctx, "enroll", "fingerprint", "2024-00001")
	require.ErrorIs(t, err, errs.ErrHardware, "no reader is connected")

	embFile := filepath.Join(t.TempDir(), "face.json")
	require.NoError(t, os.WriteFile(embFile, []byte(`[1, 0]`), 0o600))
	_, err = run(t, ctx, "enroll", "face", "2099-12345", "--embedding-file", embFile)
	require.ErrorIs(t, err, errs.ErrNotFound)

	t.Setenv("CITADEL_TEMPLATE_KEY", "short")
	_, err = run(t, ctx, "enroll", "face", "2024-00001", "--embedding-file", embFile)
	require.ErrorContains(t, err, "template key")
}

func TestServe_StartsAndStops(t *testing.T) {
	setupEnv(t)
	t.Setenv("CITADEL_HTTP_ADDR", "127.0.0.1:0")
	t.Setenv("CITADEL_GRPC_ADDR", "127.0.0.1:0")

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		_, err := run(t, ctx, "serve")
		done <- err
	}()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("serve did not stop after cancellation")
	}
}
