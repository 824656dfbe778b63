// Package config loads process configuration from defaults, an optional YAML
// file, a .env file and ASSETCORE_* environment variables, in that order.
package config

import (
	"assetcore/internal/blob"
	"assetcore/internal/core"
	"assetcore/internal/infra/changefeed/redis"
	"assetcore/internal/platform/logger"
	"assetcore/internal/platform/observability"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const envPrefix = "ASSETCORE_"

// HTTPConfig configures the API listener.
type HTTPConfig struct {
	Addr            string        `yaml:"addr"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	Metrics         bool          `yaml:"metrics"`
}

// ReportsConfig configures the register export worker.
type ReportsConfig struct {
	QueueSize int `yaml:"queue_size"`
}

// Config is the full process configuration.
type Config struct {
	// InstanceID tags change notices so a process ignores its own commits.
	InstanceID string                      `yaml:"instance_id"`
	HTTP       HTTPConfig                  `yaml:"http"`
	Storage    core.StorageConfig          `yaml:"storage"`
	Blob       blob.Config                 `yaml:"blob"`
	Redis      redis.Config                `yaml:"redis"`
	Logger     logger.Options              `yaml:"logger"`
	Tracing    observability.TracingConfig `yaml:"tracing"`
	Reports    ReportsConfig               `yaml:"reports"`
}

// Default returns the configuration used when nothing overrides it.
func Default() Config {
	return Config{
		HTTP: HTTPConfig{
			Addr:            ":8080",
			ShutdownTimeout: 10 * time.Second,
			Metrics:         true,
		},
		Storage: core.StorageConfig{Driver: core.StorageSQLite, SQLitePath: "data/assetcore.db"},
		Blob:    blob.Config{Driver: string(blob.DriverFilesystem), FSRoot: "data/files"},
		Redis:   redis.Config{Channel: redis.DefaultChannel},
		Logger:  logger.Options{Mode: "development", Level: "info"},
		Tracing: observability.TracingConfig{ServiceName: "assetcore", SampleRatio: 1},
		Reports: ReportsConfig{QueueSize: 32},
	}
}

// Load builds the configuration. path may be empty; a missing file at a
// non-empty path is an error, a missing .env is not.
func Load(path string) (Config, error) {
	cfg := Default()
	if strings.TrimSpace(path) != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}
	if err := applyEnv(&cfg); err != nil {
		return Config{}, err
	}
	if strings.TrimSpace(cfg.InstanceID) == "" {
		cfg.InstanceID = uuid.NewString()
	}
	return cfg, cfg.Validate()
}

// Validate reports combinations that cannot start.
func (c Config) Validate() error {
	if strings.TrimSpace(c.HTTP.Addr) == "" {
		return errors.New("http addr required")
	}
	if c.Storage.Driver == core.StoragePostgres && strings.TrimSpace(c.Storage.PostgresDSN) == "" {
		return errors.New("postgres storage requires postgres_dsn")
	}
	if blob.Driver(strings.ToLower(c.Blob.Driver)) == blob.DriverS3 && strings.TrimSpace(c.Blob.S3.Bucket) == "" {
		return errors.New("s3 blob storage requires a bucket")
	}
	if c.Tracing.SampleRatio < 0 || c.Tracing.SampleRatio > 1 {
		return fmt.Errorf("tracing sample_ratio %v out of range", c.Tracing.SampleRatio)
	}
	return nil
}

func applyEnv(cfg *Config) error {
	str := func(name string, dst *string) {
		if v, ok := lookup(name); ok {
			*dst = v
		}
	}
	boolean := func(name string, dst *bool) error {
		v, ok := lookup(name)
		if !ok {
			return nil
		}
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%s%s: %w", envPrefix, name, err)
		}
		*dst = b
		return nil
	}

	str("INSTANCE_ID", &cfg.InstanceID)
	str("HTTP_ADDR", &cfg.HTTP.Addr)
	if v, ok := lookup("HTTP_SHUTDOWN_TIMEOUT"); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("%sHTTP_SHUTDOWN_TIMEOUT: %w", envPrefix, err)
		}
		cfg.HTTP.ShutdownTimeout = d
	}
	if err := boolean("HTTP_METRICS", &cfg.HTTP.Metrics); err != nil {
		return err
	}

	if v, ok := lookup("STORAGE_DRIVER"); ok {
		cfg.Storage.Driver = core.StorageDriver(strings.ToLower(v))
	}
	str("SQLITE_PATH", &cfg.Storage.SQLitePath)
	str("POSTGRES_DSN", &cfg.Storage.PostgresDSN)

	str("BLOB_DRIVER", &cfg.Blob.Driver)
	str("BLOB_FS_ROOT", &cfg.Blob.FSRoot)
	str("BLOB_FS_BASE_URL", &cfg.Blob.FSBaseURL)
	str("S3_REGION", &cfg.Blob.S3.Region)
	str("S3_BUCKET", &cfg.Blob.S3.Bucket)
	str("S3_ENDPOINT", &cfg.Blob.S3.Endpoint)
	str("S3_ACCESS_KEY_ID", &cfg.Blob.S3.AccessKeyID)
	str("S3_SECRET_ACCESS_KEY", &cfg.Blob.S3.SecretAccessKey)
	str("S3_SESSION_TOKEN", &cfg.Blob.S3.SessionToken)
	str("S3_PUBLIC_BASE_URL", &cfg.Blob.S3.PublicBaseURL)
	if err := boolean("S3_PATH_STYLE", &cfg.Blob.S3.PathStyle); err != nil {
		return err
	}

	str("REDIS_ADDR", &cfg.Redis.Addr)
	str("REDIS_PASSWORD", &cfg.Redis.Password)
	str("REDIS_CHANNEL", &cfg.Redis.Channel)
	if v, ok := lookup("REDIS_DB"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%sREDIS_DB: %w", envPrefix, err)
		}
		cfg.Redis.DB = n
	}

	str("LOG_MODE", &cfg.Logger.Mode)
	str("LOG_LEVEL", &cfg.Logger.Level)
	str("LOG_HASH_SALT", &cfg.Logger.HashSalt)
	if v, ok := lookup("LOG_REDACT"); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%sLOG_REDACT: %w", envPrefix, err)
		}
		cfg.Logger.Redact = &b
	}

	if err := boolean("TRACING_ENABLED", &cfg.Tracing.Enabled); err != nil {
		return err
	}
	str("TRACING_SERVICE_NAME", &cfg.Tracing.ServiceName)
	str("TRACING_ENVIRONMENT", &cfg.Tracing.Environment)
	str("TRACING_ENDPOINT", &cfg.Tracing.Endpoint)
	if err := boolean("TRACING_INSECURE", &cfg.Tracing.Insecure); err != nil {
		return err
	}
	if v, ok := lookup("TRACING_SAMPLE_RATIO"); ok {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("%sTRACING_SAMPLE_RATIO: %w", envPrefix, err)
		}
		cfg.Tracing.SampleRatio = f
	}
	return nil
}

func lookup(name string) (string, bool) {
	v, ok := os.LookupEnv(envPrefix + name)
	if !ok {
		return "", false
	}
	v = strings.TrimSpace(v)
	return v, v != ""
}
