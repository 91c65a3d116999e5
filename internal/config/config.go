// Package config loads deployment settings from environment variables, with
// an optional .env file, applying defaults and validation.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"shipwatch/internal/model"
)

// StoreConfig selects the golden record backend.
type StoreConfig struct {
	Backend     string // file|pebble|memory
	Path        string // file path or pebble directory
	HistoryPath string // JSON-lines upload history
}

// RegistryConfig selects the subscription backend.
type RegistryConfig struct {
	Backend  string // file|sql|redis|memory
	Path     string // file backend
	DSN      string // sqlite path or postgres:// URL
	RedisURL string
	RedisKey string
}

// PushConfig selects the notification transport.
type PushConfig struct {
	Backend       string // log|sns|webhook
	AWSRegion     string
	WebhookURL    string
	WebhookAPIKey string
	RPS           float64
	Burst         int
}

// KafkaConfig enables history and manifest fan-out when Bootstrap is set.
type KafkaConfig struct {
	Bootstrap     string
	TopicHistory  string
	TopicManifest string
}

type Config struct {
	DataDir string

	// Reconciliation policy
	KeySchema         model.KeySchema
	MergeMode         model.MergeMode
	RetentionDays     int
	NotifyOnFirstSeen bool
	Location          *time.Location

	Store    StoreConfig
	Registry RegistryConfig
	Push     PushConfig
	Kafka    KafkaConfig

	DispatchWorkers int
	DispatchTimeout time.Duration

	HTTPAddr       string
	MaxUploadBytes int64

	LogLevel  string
	LogPretty bool
}

// MustLoad loads the configuration and panics if validation fails.
func MustLoad() Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}

// Load reads a .env file from the working directory when present, then the
// environment. Variables already set take precedence over the file.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}

	dataDir := getenv("DATA_DIR", "./data")
	cfg := Config{
		DataDir:           dataDir,
		RetentionDays:     getint("RETENTION_DAYS", 30),
		NotifyOnFirstSeen: getbool("NOTIFY_ON_FIRST_SEEN", false),

		Store: StoreConfig{
			Backend:     strings.ToLower(getenv("STORE_BACKEND", "file")),
			Path:        getenv("STORE_PATH", ""),
			HistoryPath: getenv("HISTORY_PATH", filepath.Join(dataDir, "uploads.jsonl")),
		},
		Registry: RegistryConfig{
			Backend:  strings.ToLower(getenv("REGISTRY_BACKEND", "file")),
			Path:     getenv("REGISTRY_PATH", filepath.Join(dataDir, "subscriptions.json")),
			DSN:      getenv("REGISTRY_DSN", filepath.Join(dataDir, "subscriptions.db")),
			RedisURL: getenv("REDIS_URL", "redis://localhost:6379/0"),
			RedisKey: getenv("REDIS_KEY", "shipwatch:subscriptions"),
		},
		Push: PushConfig{
			Backend:       strings.ToLower(getenv("PUSH_BACKEND", "log")),
			AWSRegion:     getenv("AWS_REGION", "us-east-1"),
			WebhookURL:    getenv("WEBHOOK_URL", ""),
			WebhookAPIKey: getenv("WEBHOOK_API_KEY", ""),
			RPS:           getfloat("PUSH_RPS", 0),
			Burst:         getint("PUSH_BURST", 10),
		},
		Kafka: KafkaConfig{
			Bootstrap:     getenv("KAFKA_BOOTSTRAP", ""),
			TopicHistory:  getenv("TOPIC_HISTORY", "shipwatch.uploads"),
			TopicManifest: getenv("TOPIC_MANIFEST", "shipwatch.manifest"),
		},

		DispatchWorkers: getint("DISPATCH_WORKERS", 8),
		DispatchTimeout: getdur("DISPATCH_TIMEOUT", 10*time.Second),

		HTTPAddr:       getenv("HTTP_ADDR", ":8080"),
		MaxUploadBytes: int64(getint("MAX_UPLOAD_BYTES", 32<<20)),

		LogLevel:  strings.ToLower(getenv("LOG_LEVEL", "info")),
		LogPretty: getbool("LOG_PRETTY", false),
	}

	// --- normalization ---
	if cfg.LogLevel == "warning" {
		cfg.LogLevel = "warn"
	}
	if cfg.Store.Path == "" {
		switch cfg.Store.Backend {
		case "pebble":
			cfg.Store.Path = filepath.Join(dataDir, "golden.pebble")
		default:
			cfg.Store.Path = filepath.Join(dataDir, "golden.json")
		}
	}

	// --- validation ---
	schema, err := model.KeySchemaByVersion(getenv("KEY_SCHEMA", "v1"))
	if err != nil {
		return cfg, fmt.Errorf("KEY_SCHEMA: %w", err)
	}
	cfg.KeySchema = schema

	mode, ok := model.ParseMergeMode(getenv("MERGE_MODE", "cumulative"))
	if !ok {
		return cfg, errors.New("MERGE_MODE must be one of: cumulative, replace")
	}
	cfg.MergeMode = mode

	loc, err := time.LoadLocation(getenv("TIMEZONE", "UTC"))
	if err != nil {
		return cfg, fmt.Errorf("TIMEZONE: %w", err)
	}
	cfg.Location = loc

	switch cfg.LogLevel {
	case "debug", "info", "warn", "error", "fatal", "panic":
	default:
		return cfg, errors.New("LOG_LEVEL must be one of: debug, info, warn, error, fatal, panic")
	}
	switch cfg.Store.Backend {
	case "file", "pebble", "memory":
	default:
		return cfg, errors.New("STORE_BACKEND must be one of: file, pebble, memory")
	}
	switch cfg.Registry.Backend {
	case "file", "sql", "redis", "memory":
	default:
		return cfg, errors.New("REGISTRY_BACKEND must be one of: file, sql, redis, memory")
	}
	switch cfg.Push.Backend {
	case "log", "sns":
	case "webhook":
		if strings.TrimSpace(cfg.Push.WebhookURL) == "" {
			return cfg, errors.New("WEBHOOK_URL must be set when PUSH_BACKEND=webhook")
		}
	default:
		return cfg, errors.New("PUSH_BACKEND must be one of: log, sns, webhook")
	}
	if cfg.RetentionDays < 0 {
		return cfg, errors.New("RETENTION_DAYS must be >= 0")
	}
	if cfg.Push.RPS < 0 {
		return cfg, errors.New("PUSH_RPS must be >= 0")
	}
	if cfg.Push.Burst < 1 {
		return cfg, errors.New("PUSH_BURST must be >= 1")
	}
	if cfg.DispatchWorkers < 1 {
		return cfg, errors.New("DISPATCH_WORKERS must be >= 1")
	}
	if cfg.DispatchTimeout <= 0 {
		return cfg, errors.New("DISPATCH_TIMEOUT must be a positive duration")
	}
	if cfg.MaxUploadBytes <= 0 {
		return cfg, errors.New("MAX_UPLOAD_BYTES must be > 0")
	}
	return cfg, nil
}

// Brokers splits KAFKA_BOOTSTRAP; empty when Kafka is disabled.
func (c Config) Brokers() []string { return splitCSV(c.Kafka.Bootstrap) }

// ---- helpers ----

func getenv(k, def string) string {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		return v
	}
	return def
}

func getfloat(k string, def float64) float64 {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getint(k string, def int) int {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getbool(k string, def bool) bool {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "1", "true", "yes", "y", "on":
			return true
		case "0", "false", "no", "n", "off":
			return false
		}
	}
	return def
}

func getdur(k string, def time.Duration) time.Duration {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func splitCSV(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		t := strings.TrimSpace(p)
		if t != "" {
			out = append(out, t)
		}
	}
	return out
}
