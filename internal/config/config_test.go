package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"shipwatch/internal/model"
)

// chdirTemp runs the test from an empty directory so no stray .env is read.
func chdirTemp(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	wd, err := os.Getwd()
	if err != nil {
		t.Fatalf("getwd: %v", err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatalf("chdir: %v", err)
	}
	t.Cleanup(func() { _ = os.Chdir(wd) })
	return dir
}

func TestLoad_Defaults(t *testing.T) {
	chdirTemp(t)
	t.Setenv("DATA_DIR", "/var/lib/shipwatch")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.KeySchema.Version != model.KeySchemaV1.Version || cfg.MergeMode != model.MergeCumulative {
		t.Fatalf("policy defaults: %+v", cfg)
	}
	if cfg.RetentionDays != 30 || cfg.NotifyOnFirstSeen || cfg.Location != time.UTC {
		t.Fatalf("retention defaults: %+v", cfg)
	}
	if cfg.Store.Backend != "file" || cfg.Store.Path != filepath.Join("/var/lib/shipwatch", "golden.json") {
		t.Fatalf("store defaults: %+v", cfg.Store)
	}
	if cfg.Push.Backend != "log" || cfg.DispatchWorkers != 8 || cfg.DispatchTimeout != 10*time.Second {
		t.Fatalf("dispatch defaults: %+v", cfg)
	}
	if len(cfg.Brokers()) != 0 {
		t.Fatalf("kafka should be disabled by default")
	}
}

func TestLoad_Overrides(t *testing.T) {
	chdirTemp(t)
	t.Setenv("KEY_SCHEMA", "V2")
	t.Setenv("MERGE_MODE", "Replace")
	t.Setenv("RETENTION_DAYS", "7")
	t.Setenv("NOTIFY_ON_FIRST_SEEN", "yes")
	t.Setenv("STORE_BACKEND", "pebble")
	t.Setenv("DATA_DIR", "/d")
	t.Setenv("LOG_LEVEL", "warning")
	t.Setenv("KAFKA_BOOTSTRAP", "k1:9092, k2:9092")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.KeySchema.Version != "v2" || cfg.MergeMode != model.MergeReplace || cfg.RetentionDays != 7 || !cfg.NotifyOnFirstSeen {
		t.Fatalf("policy overrides: %+v", cfg)
	}
	if cfg.Store.Path != filepath.Join("/d", "golden.pebble") {
		t.Fatalf("pebble default path: %s", cfg.Store.Path)
	}
	if cfg.LogLevel != "warn" {
		t.Fatalf("warning should normalize to warn, got %s", cfg.LogLevel)
	}
	if b := cfg.Brokers(); len(b) != 2 || b[1] != "k2:9092" {
		t.Fatalf("brokers: %v", b)
	}
}

func TestLoad_DotEnvFile(t *testing.T) {
	dir := chdirTemp(t)
	if err := os.WriteFile(filepath.Join(dir, ".env"), []byte("RETENTION_DAYS=3\nPUSH_BACKEND=webhook\nWEBHOOK_URL=http://relay\n"), 0o644); err != nil {
		t.Fatalf("write .env: %v", err)
	}
	for _, k := range []string{"RETENTION_DAYS", "PUSH_BACKEND", "WEBHOOK_URL"} {
		k := k
		old, had := os.LookupEnv(k)
		_ = os.Unsetenv(k)
		t.Cleanup(func() {
			if had {
				_ = os.Setenv(k, old)
			} else {
				_ = os.Unsetenv(k)
			}
		})
	}
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.RetentionDays != 3 || cfg.Push.Backend != "webhook" || cfg.Push.WebhookURL != "http://relay" {
		t.Fatalf(".env not applied: %+v", cfg)
	}
}

func TestLoad_Validation(t *testing.T) {
	cases := map[string]struct{ key, val, want string }{
		"schema":   {"KEY_SCHEMA", "v9", "KEY_SCHEMA"},
		"mode":     {"MERGE_MODE", "append", "MERGE_MODE"},
		"store":    {"STORE_BACKEND", "s3", "STORE_BACKEND"},
		"registry": {"REGISTRY_BACKEND", "ldap", "REGISTRY_BACKEND"},
		"push":     {"PUSH_BACKEND", "fcm", "PUSH_BACKEND"},
		"webhook":  {"PUSH_BACKEND", "webhook", "WEBHOOK_URL"},
		"tz":       {"TIMEZONE", "Mars/Base", "TIMEZONE"},
		"level":    {"LOG_LEVEL", "loud", "LOG_LEVEL"},
		"workers":  {"DISPATCH_WORKERS", "0", "DISPATCH_WORKERS"},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			chdirTemp(t)
			t.Setenv("WEBHOOK_URL", "")
			t.Setenv(tc.key, tc.val)
			_, err := Load()
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("want error mentioning %s, got %v", tc.want, err)
			}
		})
	}
}

func TestMustLoad_Panics(t *testing.T) {
	chdirTemp(t)
	t.Setenv("MERGE_MODE", "bogus")
	defer func() {
		if recover() == nil {
			t.Fatalf("expected panic")
		}
	}()
	_ = MustLoad()
}
