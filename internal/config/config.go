// Package config loads control room settings from defaults, an optional
// controlroom.yaml and CONTROLROOM_* environment variables.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix namespaces every environment variable.
const EnvPrefix = "CONTROLROOM"

// Storage drivers.
const (
	DriverAuto   = "auto"
	DriverLocal  = "local"
	DriverRemote = "remote"
	DriverMemory = "memory"
)

// Archive drivers.
const (
	ArchiveNone   = "none"
	ArchiveFS     = "fs"
	ArchiveS3     = "s3"
	ArchiveMemory = "memory"
)

// Config holds all configuration for a control room window.
type Config struct {
	StorageDriver        string        `mapstructure:"STORAGE_DRIVER"`
	SQLitePath           string        `mapstructure:"SQLITE_PATH"`
	RemoteDSN            string        `mapstructure:"REMOTE_DSN"`
	RemoteConnectTimeout time.Duration `mapstructure:"REMOTE_CONNECT_TIMEOUT"`
	SyncPollInterval     time.Duration `mapstructure:"SYNC_POLL_INTERVAL"`
	SyncResyncInterval   time.Duration `mapstructure:"SYNC_RESYNC_INTERVAL"`
	OperatorRecency      time.Duration `mapstructure:"OPERATOR_RECENCY"`
	HeartbeatInterval    time.Duration `mapstructure:"HEARTBEAT_INTERVAL"`

	AccessCode string `mapstructure:"ACCESS_CODE"`

	WebhookURL     string        `mapstructure:"WEBHOOK_URL"`
	WebhookTimeout time.Duration `mapstructure:"WEBHOOK_TIMEOUT"`
	WebhookRetries int           `mapstructure:"WEBHOOK_RETRIES"`

	ArchiveDriver      string `mapstructure:"ARCHIVE_DRIVER"`
	ArchiveFSRoot      string `mapstructure:"ARCHIVE_FS_ROOT"`
	ArchiveS3Bucket    string `mapstructure:"ARCHIVE_S3_BUCKET"`
	ArchiveS3Region    string `mapstructure:"ARCHIVE_S3_REGION"`
	ArchiveS3Endpoint  string `mapstructure:"ARCHIVE_S3_ENDPOINT"`
	ArchiveS3PathStyle bool   `mapstructure:"ARCHIVE_S3_PATH_STYLE"`

	MetricsAddr string `mapstructure:"METRICS_ADDR"`
	LogLevel    string `mapstructure:"LOG_LEVEL"`
	LogFormat   string `mapstructure:"LOG_FORMAT"`
}

var keys = []string{
	"STORAGE_DRIVER", "SQLITE_PATH", "REMOTE_DSN", "REMOTE_CONNECT_TIMEOUT",
	"SYNC_POLL_INTERVAL", "SYNC_RESYNC_INTERVAL", "OPERATOR_RECENCY", "HEARTBEAT_INTERVAL",
	"ACCESS_CODE", "WEBHOOK_URL", "WEBHOOK_TIMEOUT", "WEBHOOK_RETRIES",
	"ARCHIVE_DRIVER", "ARCHIVE_FS_ROOT", "ARCHIVE_S3_BUCKET", "ARCHIVE_S3_REGION",
	"ARCHIVE_S3_ENDPOINT", "ARCHIVE_S3_PATH_STYLE", "METRICS_ADDR", "LOG_LEVEL", "LOG_FORMAT",
}

// Load reads configuration from defaults, config files and the environment.
func Load() (*Config, error) {
	return LoadWith(viper.New())
}

// LoadWith loads configuration through v, letting tests inject values.
func LoadWith(v *viper.Viper) (*Config, error) {
	v.SetConfigName("controlroom")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for _, key := range keys {
		_ = v.BindEnv(key)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	cfg.StorageDriver = strings.ToLower(strings.TrimSpace(cfg.StorageDriver))
	cfg.ArchiveDriver = strings.ToLower(strings.TrimSpace(cfg.ArchiveDriver))

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("STORAGE_DRIVER", DriverAuto)
	v.SetDefault("SQLITE_PATH", "controlroom.db")
	v.SetDefault("REMOTE_DSN", "")
	v.SetDefault("REMOTE_CONNECT_TIMEOUT", 5*time.Second)
	v.SetDefault("SYNC_POLL_INTERVAL", 500*time.Millisecond)
	v.SetDefault("SYNC_RESYNC_INTERVAL", 2*time.Second)
	v.SetDefault("OPERATOR_RECENCY", 5*time.Minute)
	v.SetDefault("HEARTBEAT_INTERVAL", time.Minute)

	v.SetDefault("ACCESS_CODE", "1234")

	v.SetDefault("WEBHOOK_URL", "")
	v.SetDefault("WEBHOOK_TIMEOUT", 5*time.Second)
	v.SetDefault("WEBHOOK_RETRIES", 2)

	v.SetDefault("ARCHIVE_DRIVER", ArchiveNone)
	v.SetDefault("ARCHIVE_FS_ROOT", "archive")
	v.SetDefault("ARCHIVE_S3_BUCKET", "")
	v.SetDefault("ARCHIVE_S3_REGION", "eu-west-2")
	v.SetDefault("ARCHIVE_S3_ENDPOINT", "")
	v.SetDefault("ARCHIVE_S3_PATH_STYLE", false)

	v.SetDefault("METRICS_ADDR", "")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "text")
}

func validate(cfg *Config) error {
	switch cfg.StorageDriver {
	case DriverAuto, DriverLocal, DriverMemory:
	case DriverRemote:
		if cfg.RemoteDSN == "" {
			return fmt.Errorf("REMOTE_DSN is required when STORAGE_DRIVER=remote")
		}
	default:
		return fmt.Errorf("unknown storage driver %q", cfg.StorageDriver)
	}
	for name, d := range map[string]time.Duration{
		"REMOTE_CONNECT_TIMEOUT": cfg.RemoteConnectTimeout,
		"SYNC_POLL_INTERVAL":     cfg.SyncPollInterval,
		"SYNC_RESYNC_INTERVAL":   cfg.SyncResyncInterval,
		"OPERATOR_RECENCY":       cfg.OperatorRecency,
		"HEARTBEAT_INTERVAL":     cfg.HeartbeatInterval,
		"WEBHOOK_TIMEOUT":        cfg.WebhookTimeout,
	} {
		if d <= 0 {
			return fmt.Errorf("%s must be positive", name)
		}
	}
	if cfg.AccessCode == "" {
		return fmt.Errorf("ACCESS_CODE must not be empty")
	}
	if cfg.WebhookRetries < 0 {
		return fmt.Errorf("WEBHOOK_RETRIES must not be negative")
	}
	switch cfg.ArchiveDriver {
	case ArchiveNone, ArchiveMemory:
	case ArchiveFS:
		if cfg.ArchiveFSRoot == "" {
			return fmt.Errorf("ARCHIVE_FS_ROOT is required when ARCHIVE_DRIVER=fs")
		}
	case ArchiveS3:
		if cfg.ArchiveS3Bucket == "" {
			return fmt.Errorf("ARCHIVE_S3_BUCKET is required when ARCHIVE_DRIVER=s3")
		}
	default:
		return fmt.Errorf("unknown archive driver %q", cfg.ArchiveDriver)
	}
	return nil
}

// UsesRemote reports whether a remote connection should be attempted.
func (c *Config) UsesRemote() bool {
	return c.StorageDriver == DriverRemote || (c.StorageDriver == DriverAuto && c.RemoteDSN != "")
}
