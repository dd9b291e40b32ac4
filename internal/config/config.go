// Package config loads service configuration from defaults, an optional YAML
// file and FAMILYTREE_* environment variables.
package config

import (
	"context"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

const envPrefix = "FAMILYTREE_"

// Config contains process configuration.
type Config struct {
	Port     string `koanf:"port"`
	LogLevel string `koanf:"log_level"`

	// DataFile is the JSON store; backups are written next to it.
	DataFile string `koanf:"data_file"`
	// DBPath is the SQLite ledger of off-site archives.
	DBPath string `koanf:"db_path"`

	// BulkRateLimit caps bulk updates per client IP per minute.
	BulkRateLimit int `koanf:"bulk_rate_limit"`

	ArchiveInterval     time.Duration `koanf:"archive_interval"`
	BackupRetentionDays int           `koanf:"backup_retention_days"`
	ArchivePassphrase   string        `koanf:"archive_passphrase"`

	S3Endpoint  string `koanf:"s3_endpoint"`
	S3Bucket    string `koanf:"s3_bucket"`
	S3Region    string `koanf:"s3_region"`
	S3AccessKey string `koanf:"s3_access_key"`
	S3SecretKey string `koanf:"s3_secret_key"`
	S3Prefix    string `koanf:"s3_prefix"`

	// ImportBaseURL is the default target of the monarch import tool.
	ImportBaseURL string `koanf:"import_base_url"`
}

// New returns a Config populated with defaults.
func New() *Config {
	return &Config{
		Port:            "8080",
		LogLevel:        "info",
		DataFile:        "data/family-data.json",
		DBPath:          "familytree.db",
		BulkRateLimit:   30,
		ArchiveInterval: 5 * time.Minute,
		S3Region:        "us-east-1",
		ImportBaseURL:   "http://localhost:7071",
	}
}

// Load builds a Config by layering defaults, an optional file, and env vars.
// Order of precedence (low -> high):
//  1. defaults (New())
//  2. YAML file if FAMILYTREE_CONFIG is set
//  3. env (prefix FAMILYTREE_)
func Load(_ context.Context) (*Config, error) {
	k := koanf.New(".")

	if path := os.Getenv(envPrefix + "CONFIG"); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, wrap("load config file", err)
		}
	}

	// FAMILYTREE_S3_BUCKET -> s3_bucket; underscores are kept so the flat
	// keys match the koanf tags.
	envProvider := env.Provider(envPrefix, ".", func(s string) string {
		return strings.ToLower(strings.TrimPrefix(s, envPrefix))
	})
	if err := k.Load(envProvider, nil); err != nil {
		return nil, wrap("load env", err)
	}

	cfg := New()
	if err := k.UnmarshalWithConf("", cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, wrap("unmarshal config", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the invariants the server relies on.
func (c *Config) Validate() error {
	if c.Port == "" {
		return ErrEmptyPort
	}
	if c.DataFile == "" {
		return ErrEmptyDataFile
	}
	if c.BulkRateLimit < 0 {
		return ErrNegativeRateLimit
	}
	if c.BackupRetentionDays < 0 {
		return ErrNegativeRetention
	}
	if c.ArchiveInterval <= 0 {
		return ErrInvalidInterval
	}
	return nil
}

// S3Enabled reports whether off-site archiving has enough to connect.
func (c *Config) S3Enabled() bool {
	return c.S3Bucket != "" && c.S3AccessKey != "" && c.S3SecretKey != ""
}
