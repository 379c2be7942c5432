// Package config loads the redispoco command's configuration.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/adrianmcphee/redispoco"
)

// Config holds the command configuration
type Config struct {
	Redis   redispoco.ConnectionConfig `yaml:"redis"`
	Store   StoreConfig                `yaml:"store"`
	Log     LogConfig                  `yaml:"log"`
	Archive ArchiveConfig              `yaml:"archive"`
}

// StoreConfig mirrors redispoco.Options
type StoreConfig struct {
	Namespace     string        `yaml:"namespace"`
	IDAttribute   string        `yaml:"id_attribute"`
	ItemKey       string        `yaml:"item_key"`
	Attributes    []string      `yaml:"attributes"`
	DerivedSetTTL time.Duration `yaml:"derived_set_ttl"`
	ScanCount     int64         `yaml:"scan_count"`
	AutoID        bool          `yaml:"auto_id"`
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level       string `yaml:"level"` // debug, info, warn, error
	Development bool   `yaml:"development"`
}

// ArchiveConfig selects where export/import snapshots live.
type ArchiveConfig struct {
	Kind            string `yaml:"kind"` // s3, minio, gcs; empty disables archives
	Bucket          string `yaml:"bucket"`
	Prefix          string `yaml:"prefix"`
	Endpoint        string `yaml:"endpoint"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
	UseSSL          bool   `yaml:"use_ssl"`
	CredentialsFile string `yaml:"credentials_file"`
}

// Default returns the configuration used when no file or environment
// overrides apply.
func Default() *Config {
	return &Config{
		Store: StoreConfig{
			Namespace:     redispoco.DefaultNamespace,
			IDAttribute:   redispoco.DefaultIDAttribute,
			ItemKey:       redispoco.DefaultItemKey,
			DerivedSetTTL: redispoco.DefaultDerivedSetTTL,
			ScanCount:     redispoco.DefaultScanCount,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load builds the configuration.
// Order: defaults -> file (if path is not empty) -> environment -> Validate
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}

	if err := cfg.ApplyEnvOverrides(os.Getenv); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return redispoco.WithContext(redispoco.ErrInvalidConfig, map[string]interface{}{
			"file":   path,
			"reason": err.Error(),
		})
	}
	return nil
}

// ApplyEnvOverrides applies REDISPOCO_* variables read through getenv.
//
//   - REDISPOCO_REDIS_URL        redis.endpoint
//   - REDISPOCO_NAMESPACE        store.namespace
//   - REDISPOCO_ATTRIBUTES       store.attributes, comma separated
//   - REDISPOCO_ID_ATTRIBUTE     store.id_attribute
//   - REDISPOCO_DERIVED_SET_TTL  store.derived_set_ttl, a Go duration
//   - REDISPOCO_LOG_LEVEL        log.level
//   - REDISPOCO_ARCHIVE_BUCKET   archive.bucket
func (c *Config) ApplyEnvOverrides(getenv func(string) string) error {
	if v := getenv("REDISPOCO_REDIS_URL"); v != "" {
		c.Redis.Endpoint = v
	}
	if v := getenv("REDISPOCO_NAMESPACE"); v != "" {
		c.Store.Namespace = v
	}
	if v := getenv("REDISPOCO_ATTRIBUTES"); v != "" {
		c.Store.Attributes = splitList(v)
	}
	if v := getenv("REDISPOCO_ID_ATTRIBUTE"); v != "" {
		c.Store.IDAttribute = v
	}
	if v := getenv("REDISPOCO_DERIVED_SET_TTL"); v != "" {
		ttl, err := time.ParseDuration(v)
		if err != nil {
			return redispoco.WithContext(redispoco.ErrInvalidConfig, map[string]interface{}{
				"field":  "REDISPOCO_DERIVED_SET_TTL",
				"value":  v,
				"reason": err.Error(),
			})
		}
		c.Store.DerivedSetTTL = ttl
	}
	if v := getenv("REDISPOCO_SCAN_COUNT"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return redispoco.WithContext(redispoco.ErrInvalidConfig, map[string]interface{}{
				"field":  "REDISPOCO_SCAN_COUNT",
				"value":  v,
				"reason": err.Error(),
			})
		}
		c.Store.ScanCount = n
	}
	if v := getenv("REDISPOCO_LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
	if v := getenv("REDISPOCO_ARCHIVE_BUCKET"); v != "" {
		c.Archive.Bucket = v
	}
	return nil
}

// Validate checks the parts the command relies on.
func (c *Config) Validate() error {
	if _, err := c.Redis.Options(); err != nil {
		return err
	}
	if err := c.StoreOptions().Validate(); err != nil {
		return err
	}

	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return redispoco.WithContext(redispoco.ErrInvalidConfig, map[string]interface{}{
			"field":  "log.level",
			"value":  c.Log.Level,
			"reason": "must be debug, info, warn or error",
		})
	}

	switch c.Archive.Kind {
	case "":
	case "s3", "minio", "gcs":
		if c.Archive.Bucket == "" {
			return redispoco.WithContext(redispoco.ErrInvalidConfig, map[string]interface{}{
				"field":  "archive.bucket",
				"reason": "required when archive.kind is set",
			})
		}
	default:
		return redispoco.WithContext(redispoco.ErrInvalidConfig, map[string]interface{}{
			"field":  "archive.kind",
			"value":  c.Archive.Kind,
			"reason": "must be s3, minio or gcs",
		})
	}
	return nil
}

// StoreOptions converts the store section into redispoco.Options.
// Logger and Metrics are left for the caller.
func (c *Config) StoreOptions() redispoco.Options {
	return redispoco.Options{
		IDAttribute:   c.Store.IDAttribute,
		ItemKey:       c.Store.ItemKey,
		Attributes:    append([]string(nil), c.Store.Attributes...),
		Namespace:     c.Store.Namespace,
		DerivedSetTTL: c.Store.DerivedSetTTL,
		ScanCount:     c.Store.ScanCount,
		AutoID:        c.Store.AutoID,
	}
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
