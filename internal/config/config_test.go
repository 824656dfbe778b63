package config

import (
	"assetcore/internal/core"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func chdirTemp(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Chdir(dir)
	return dir
}

func TestLoadDefaults(t *testing.T) {
	chdirTemp(t)
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.HTTP.Addr != ":8080" || cfg.HTTP.ShutdownTimeout != 10*time.Second {
		t.Fatalf("unexpected http defaults: %+v", cfg.HTTP)
	}
	if cfg.Storage.Driver != core.StorageSQLite {
		t.Fatalf("expected sqlite default, got %q", cfg.Storage.Driver)
	}
	if cfg.InstanceID == "" {
		t.Fatalf("expected generated instance id")
	}
	if cfg.Reports.QueueSize != 32 {
		t.Fatalf("expected default queue size, got %d", cfg.Reports.QueueSize)
	}
}

func TestLoadYAMLThenEnv(t *testing.T) {
	dir := chdirTemp(t)
	path := filepath.Join(dir, "assetcore.yaml")
	body := strings.Join([]string{
		"instance_id: node-a",
		"http:",
		"  addr: \":9000\"",
		"storage:",
		"  driver: memory",
		"blob:",
		"  driver: s3",
		"  s3:",
		"    bucket: assets",
		"    region: ap-northeast-2",
		"redis:",
		"  addr: localhost:6379",
		"logger:",
		"  level: debug",
		"",
	}, "\n")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	t.Setenv("ASSETCORE_HTTP_ADDR", ":9100")
	t.Setenv("ASSETCORE_REDIS_DB", "3")
	t.Setenv("ASSETCORE_LOG_REDACT", "false")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.InstanceID != "node-a" {
		t.Fatalf("instance id from yaml lost: %q", cfg.InstanceID)
	}
	if cfg.HTTP.Addr != ":9100" {
		t.Fatalf("env should override yaml, got %q", cfg.HTTP.Addr)
	}
	if cfg.Storage.Driver != core.StorageMemory {
		t.Fatalf("expected memory driver, got %q", cfg.Storage.Driver)
	}
	if cfg.Blob.S3.Bucket != "assets" || cfg.Blob.S3.Region != "ap-northeast-2" {
		t.Fatalf("unexpected s3 config: %+v", cfg.Blob.S3)
	}
	if cfg.Redis.Addr != "localhost:6379" || cfg.Redis.DB != 3 {
		t.Fatalf("unexpected redis config: %+v", cfg.Redis)
	}
	if cfg.Redis.Channel == "" {
		t.Fatalf("default channel should survive a partial redis block")
	}
	if cfg.Logger.Level != "debug" || cfg.Logger.Redact == nil || *cfg.Logger.Redact {
		t.Fatalf("unexpected logger config: %+v", cfg.Logger)
	}
	if cfg.Logger.Mode != "development" {
		t.Fatalf("default mode should survive, got %q", cfg.Logger.Mode)
	}
}

func TestLoadDotEnv(t *testing.T) {
	dir := chdirTemp(t)
	if err := os.WriteFile(filepath.Join(dir, ".env"), []byte("ASSETCORE_SQLITE_PATH=dotenv.db\n"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	t.Cleanup(func() { _ = os.Unsetenv("ASSETCORE_SQLITE_PATH") })
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Storage.SQLitePath != "dotenv.db" {
		t.Fatalf("expected .env value, got %q", cfg.Storage.SQLitePath)
	}
}

func TestLoadErrors(t *testing.T) {
	dir := chdirTemp(t)
	if _, err := Load(filepath.Join(dir, "missing.yaml")); err == nil {
		t.Fatalf("expected missing file error")
	}

	bad := filepath.Join(dir, "bad.yaml")
	if err := os.WriteFile(bad, []byte("http: [unclosed"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := Load(bad); err == nil {
		t.Fatalf("expected parse error")
	}

	cases := map[string]string{
		"ASSETCORE_REDIS_DB":             "three",
		"ASSETCORE_HTTP_METRICS":         "maybe",
		"ASSETCORE_HTTP_SHUTDOWN_TIMEOUT": "soon",
		"ASSETCORE_TRACING_SAMPLE_RATIO":  "high",
	}
	for name, value := range cases {
		t.Run(name, func(t *testing.T) {
			t.Setenv(name, value)
			if _, err := Load(""); err == nil {
				t.Fatalf("expected error for %s=%s", name, value)
			}
		})
	}
}

func TestValidate(t *testing.T) {
	cases := map[string]func(*Config){
		"empty addr":          func(c *Config) { c.HTTP.Addr = "" },
		"postgres no dsn":     func(c *Config) { c.Storage.Driver = core.StoragePostgres },
		"s3 no bucket":        func(c *Config) { c.Blob.Driver = "S3" },
		"sample out of range": func(c *Config) { c.Tracing.SampleRatio = 1.5 },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := Default()
			mutate(&cfg)
			if err := cfg.Validate(); err == nil {
				t.Fatalf("expected validation error")
			}
		})
	}
	if err := Default().Validate(); err != nil {
		t.Fatalf("defaults should validate: %v", err)
	}
}
