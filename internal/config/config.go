// Package config loads gate settings from defaults, an optional YAML file
// and CITADEL_* environment variables, in increasing precedence. A .env
// file in the working directory is loaded into the environment first.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type SMTP struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	From     string `yaml:"from"`
}

type Config struct {
	HTTPAddr string `yaml:"http_addr"`
	GRPCAddr string `yaml:"grpc_addr"`
	LogLevel string `yaml:"log_level"`

	// Gate
	GateID         string        `yaml:"gate_id"`
	Direction      string        `yaml:"direction"`     // "entry" | "exit"
	LedgerPolicy   string        `yaml:"ledger_policy"` // "combined" | "separate"
	ConfirmTimeout time.Duration `yaml:"confirm_timeout"`
	DisplayHold    time.Duration `yaml:"display_hold"`
	DebounceWindow time.Duration `yaml:"debounce_window"`
	EnrollTimeout  time.Duration `yaml:"enroll_timeout"`

	// Matching
	FaceDetectThreshold float64 `yaml:"face_detect_threshold"`
	FaceMatchThreshold  float64 `yaml:"face_match_threshold"`
	FingerprintMinScore int     `yaml:"fingerprint_min_score"`
	TemplateKey         string  `yaml:"template_key"` // base64, 32 bytes

	// DB
	Env       string `yaml:"env"`     // "dev" | "prod"
	DBPath    string `yaml:"db_path"` // e.g. "./data/citadel.db"
	RemoteDSN string `yaml:"remote_dsn"`

	// Connectivity probe
	ProbeAddr    string        `yaml:"probe_addr"`
	ProbeTimeout time.Duration `yaml:"probe_timeout"`

	// Replication
	ReplicationInterval time.Duration `yaml:"replication_interval"`
	ReplicationBatch    int           `yaml:"replication_batch"`

	// Sync queue retention
	SyncRetentionDays  int `yaml:"sync_retention_days"` // 0 = keep forever
	PruneIntervalHours int `yaml:"prune_interval_hours"`

	// Optional integrations
	RedisURL     string   `yaml:"redis_url"`
	KafkaBrokers []string `yaml:"kafka_brokers"`
	KafkaTopic   string   `yaml:"kafka_topic"`
	SMTP         SMTP     `yaml:"smtp"`
}

// Defaults returns the settings used when nothing overrides them.
func Defaults() Config {
	return Config{
		HTTPAddr: ":8080",
		GRPCAddr: ":9090",
		LogLevel: "info",

		GateID:         "gate-1",
		Direction:      "entry",
		LedgerPolicy:   "combined",
		ConfirmTimeout: 10 * time.Second,
		DisplayHold:    2 * time.Second,
		DebounceWindow: 60 * time.Second,
		EnrollTimeout:  time.Minute,

		FaceDetectThreshold: 0.75,
		FaceMatchThreshold:  0.75,
		FingerprintMinScore: 80,

		Env:    "dev",
		DBPath: "./data/citadel.db",

		ProbeAddr:    "8.8.8.8:53",
		ProbeTimeout: 3 * time.Second,

		ReplicationInterval: 10 * time.Second,
		ReplicationBatch:    20,

		SyncRetentionDays:  30,
		PruneIntervalHours: 6,

		KafkaTopic: "citadel.gate.events",
		SMTP:       SMTP{Port: 587},
	}
}

// FromEnv returns the defaults overridden by the environment.
func FromEnv() Config {
	cfg := Defaults()
	applyEnv(&cfg)
	normalize(&cfg)
	return cfg
}

// Load reads .env, then the YAML file at path (or $CITADEL_CONFIG when path
// is empty), then the environment. A missing .env is not an error; a
// missing config file that was asked for is.
func Load(path string) (Config, error) {
	_ = godotenv.Load()

	cfg := Defaults()
	if path == "" {
		path = strings.TrimSpace(os.Getenv("CITADEL_CONFIG"))
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	applyEnv(&cfg)
	normalize(&cfg)
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects settings the gate cannot run with.
func (c Config) Validate() error {
	if c.Direction != "entry" && c.Direction != "exit" {
		return fmt.Errorf("config: direction must be entry or exit, got %q", c.Direction)
	}
	if c.LedgerPolicy != "combined" && c.LedgerPolicy != "separate" {
		return fmt.Errorf("config: ledger_policy must be combined or separate, got %q", c.LedgerPolicy)
	}
	if c.FaceMatchThreshold <= 0 || c.FaceMatchThreshold > 1 {
		return fmt.Errorf("config: face_match_threshold must be in (0, 1], got %v", c.FaceMatchThreshold)
	}
	if c.FingerprintMinScore < 0 || c.FingerprintMinScore > 100 {
		return fmt.Errorf("config: fingerprint_min_score must be in [0, 100], got %d", c.FingerprintMinScore)
	}
	return nil
}

func applyEnv(c *Config) {
	c.HTTPAddr = getenvDefault("CITADEL_HTTP_ADDR", c.HTTPAddr)
	c.GRPCAddr = getenvDefault("CITADEL_GRPC_ADDR", c.GRPCAddr)
	c.LogLevel = getenvDefault("CITADEL_LOG_LEVEL", c.LogLevel)

	c.GateID = getenvDefault("CITADEL_GATE_ID", c.GateID)
	c.Direction = getenvDefault("CITADEL_DIRECTION", c.Direction)
	c.LedgerPolicy = getenvDefault("CITADEL_LEDGER_POLICY", c.LedgerPolicy)
	c.ConfirmTimeout = getenvDuration("CITADEL_CONFIRM_TIMEOUT", c.ConfirmTimeout)
	c.DisplayHold = getenvDuration("CITADEL_DISPLAY_HOLD", c.DisplayHold)
	c.DebounceWindow = getenvDuration("CITADEL_DEBOUNCE_WINDOW", c.DebounceWindow)
	c.EnrollTimeout = getenvDuration("CITADEL_ENROLL_TIMEOUT", c.EnrollTimeout)

	c.FaceDetectThreshold = getenvFloat("CITADEL_FACE_DETECT_THRESHOLD", c.FaceDetectThreshold)
	c.FaceMatchThreshold = getenvFloat("CITADEL_FACE_MATCH_THRESHOLD", c.FaceMatchThreshold)
	c.FingerprintMinScore = getenvInt("CITADEL_FINGERPRINT_MIN_SCORE", c.FingerprintMinScore)
	c.TemplateKey = getenvDefault("CITADEL_TEMPLATE_KEY", c.TemplateKey)

	c.Env = getenvDefault("CITADEL_ENV", c.Env)
	c.DBPath = getenvDefault("CITADEL_DB_PATH", c.DBPath)
	c.RemoteDSN = getenvDefault("CITADEL_REMOTE_DSN", c.RemoteDSN)

	c.ProbeAddr = getenvDefault("CITADEL_PROBE_ADDR", c.ProbeAddr)
	c.ProbeTimeout = getenvDuration("CITADEL_PROBE_TIMEOUT", c.ProbeTimeout)

	c.ReplicationInterval = getenvDuration("CITADEL_REPLICATION_INTERVAL", c.ReplicationInterval)
	c.ReplicationBatch = getenvInt("CITADEL_REPLICATION_BATCH", c.ReplicationBatch)

	c.SyncRetentionDays = getenvInt("CITADEL_SYNC_RETENTION_DAYS", c.SyncRetentionDays)
	c.PruneIntervalHours = getenvInt("CITADEL_PRUNE_INTERVAL_HOURS", c.PruneIntervalHours)

	c.RedisURL = getenvDefault("CITADEL_REDIS_URL", c.RedisURL)
	if brokers := splitCSV(os.Getenv("CITADEL_KAFKA_BROKERS")); brokers != nil {
		c.KafkaBrokers = brokers
	}
	c.KafkaTopic = getenvDefault("CITADEL_KAFKA_TOPIC", c.KafkaTopic)

	c.SMTP.Host = getenvDefault("CITADEL_SMTP_HOST", c.SMTP.Host)
	c.SMTP.Port = getenvInt("CITADEL_SMTP_PORT", c.SMTP.Port)
	c.SMTP.Username = getenvDefault("CITADEL_SMTP_USERNAME", c.SMTP.Username)
	c.SMTP.Password = getenvDefault("CITADEL_SMTP_PASSWORD", c.SMTP.Password)
	c.SMTP.From = getenvDefault("CITADEL_SMTP_FROM", c.SMTP.From)
}

func normalize(c *Config) {
	c.Env = strings.ToLower(strings.TrimSpace(c.Env))
	if c.Env != "dev" && c.Env != "prod" {
		// fail-soft: treat unknown as dev
		c.Env = "dev"
	}
	c.Direction = strings.ToLower(strings.TrimSpace(c.Direction))
	c.LedgerPolicy = strings.ToLower(strings.TrimSpace(c.LedgerPolicy))
	c.LogLevel = strings.ToLower(strings.TrimSpace(c.LogLevel))
}

func getenvDefault(key, def string) string {
	v := os.Getenv(key)
	if strings.TrimSpace(v) == "" {
		return def
	}
	return v
}

func getenvInt(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return def
	}
	return n
}

func getenvFloat(key string, def float64) float64 {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil || f < 0 {
		return def
	}
	return f
}

func getenvDuration(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil || d < 0 {
		return def
	}
	return d
}

func splitCSV(v string) []string {
	v = strings.TrimSpace(v)
	if v == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
