package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromEnv_Defaults(t *testing.T) {
	t.Setenv("CITADEL_ENV", "")

	cfg := FromEnv()

	assert.Equal(t, "entry", cfg.Direction)
	assert.Equal(t, "combined", cfg.LedgerPolicy)
	assert.Equal(t, 10*time.Second, cfg.ConfirmTimeout)
	assert.Equal(t, 2*time.Second, cfg.DisplayHold)
	assert.Equal(t, "8.8.8.8:53", cfg.ProbeAddr)
	assert.Equal(t, 3*time.Second, cfg.ProbeTimeout)
	assert.Equal(t, 10*time.Second, cfg.ReplicationInterval)
	assert.Equal(t, 20, cfg.ReplicationBatch)
	assert.InDelta(t, 0.75, cfg.FaceMatchThreshold, 1e-9)
	assert.Equal(t, 80, cfg.FingerprintMinScore)
	assert.Equal(t, 587, cfg.SMTP.Port)
	require.NoError(t, cfg.Validate())
}

func TestFromEnv_Overrides(t *testing.T) {
	t.Setenv("CITADEL_DIRECTION", "EXIT")
	t.Setenv("CITADEL_LEDGER_POLICY", "separate")
	t.Setenv("CITADEL_CONFIRM_TIMEOUT", "15s")
	t.Setenv("CITADEL_REPLICATION_BATCH", "50")
	t.Setenv("CITADEL_FACE_MATCH_THRESHOLD", "0.8")
	t.Setenv("CITADEL_KAFKA_BROKERS", " k1:9092, ,k2:9092 ")
	t.Setenv("CITADEL_ENV", "staging")

	cfg := FromEnv()

	assert.Equal(t, "exit", cfg.Direction)
	assert.Equal(t, "separate", cfg.LedgerPolicy)
	assert.Equal(t, 15*time.Second, cfg.ConfirmTimeout)
	assert.Equal(t, 50, cfg.ReplicationBatch)
	assert.InDelta(t, 0.8, cfg.FaceMatchThreshold, 1e-9)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.KafkaBrokers)
	assert.Equal(t, "dev", cfg.Env, "unknown env falls back to dev")
}

func TestFromEnv_BadValuesKeepDefaults(t *testing.T) {
	t.Setenv("CITADEL_REPLICATION_BATCH", "-3")
	t.Setenv("CITADEL_CONFIRM_TIMEOUT", "soon")
	t.Setenv("CITADEL_FACE_MATCH_THRESHOLD", "high")

	cfg := FromEnv()

	assert.Equal(t, 20, cfg.ReplicationBatch)
	assert.Equal(t, 10*time.Second, cfg.ConfirmTimeout)
	assert.InDelta(t, 0.75, cfg.FaceMatchThreshold, 1e-9)
}

func TestLoad_YAMLThenEnv(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	path := filepath.Join(dir, "gate.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
gate_id: north-1
direction: exit
confirm_timeout: 12s
replication_batch: 40
kafka_brokers: [a:9092]
smtp:
  host: smtp.example.org
  from: gate@example.org
`), 0o600))
	t.Setenv("CITADEL_REPLICATION_BATCH", "25")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "north-1", cfg.GateID)
	assert.Equal(t, "exit", cfg.Direction)
	assert.Equal(t, 12*time.Second, cfg.ConfirmTimeout)
	assert.Equal(t, 25, cfg.ReplicationBatch, "environment wins over YAML")
	assert.Equal(t, []string{"a:9092"}, cfg.KafkaBrokers)
	assert.Equal(t, "smtp.example.org", cfg.SMTP.Host)
	assert.Equal(t, 587, cfg.SMTP.Port, "unset YAML keys keep defaults")
}

func TestLoad_DotEnv(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("CITADEL_GATE_ID=from-dotenv\n"), 0o600))
	t.Setenv("CITADEL_CONFIG", "")
	// t.Setenv restores the variable; godotenv only fills unset keys.
	t.Setenv("CITADEL_GATE_ID", "")
	require.NoError(t, os.Unsetenv("CITADEL_GATE_ID"))

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "from-dotenv", cfg.GateID)
}

func TestLoad_Invalid(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)

	_, err := Load(filepath.Join(dir, "missing.yaml"))
	require.Error(t, err)

	bad := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("direction: sideways\n"), 0o600))
	_, err = Load(bad)
	require.ErrorContains(t, err, "direction")
}

func TestSplitCSV(t *testing.T) {
	assert.Nil(t, splitCSV("  "))
	assert.Equal(t, []string{"a", "b"}, splitCSV("a, b,,"))
}
