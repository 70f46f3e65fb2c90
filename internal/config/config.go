// Package config loads usq settings from a YAML file with USQ_* environment
// overrides.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"usqutils/internal/blob"
	"usqutils/internal/core"
	"usqutils/pkg/classifier"
	"usqutils/pkg/domain"
)

// Config is the full usq configuration.
type Config struct {
	Bundle     BundleConfig     `yaml:"bundle"`
	Blob       BlobConfig       `yaml:"blob"`
	ChangeLog  ChangeLogConfig  `yaml:"changelog"`
	Classifier ClassifierConfig `yaml:"classifier"`
	Logging    LoggingConfig    `yaml:"logging"`
}

// BundleConfig locates the cohort bundle inside the blob store.
type BundleConfig struct {
	Prefix      string `yaml:"prefix"`
	Concurrency int    `yaml:"concurrency"`
}

// BlobConfig selects the blob backend holding the bundle and exports.
type BlobConfig struct {
	Driver string   `yaml:"driver"` // fs, s3 or memory
	FSRoot string   `yaml:"fs_root"`
	S3     S3Config `yaml:"s3"`
}

// S3Config configures the s3 driver. Credentials come from the default AWS
// chain unless a static key pair is set, as is usual for MinIO.
type S3Config struct {
	Bucket          string `yaml:"bucket"`
	Region          string `yaml:"region"`
	Endpoint        string `yaml:"endpoint"`
	PathStyle       bool   `yaml:"path_style"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
}

// ChangeLogConfig selects where session change logs are persisted.
type ChangeLogConfig struct {
	Driver      string `yaml:"driver"` // memory, sqlite or postgres
	SQLitePath  string `yaml:"sqlite_path"`
	PostgresDSN string `yaml:"postgres_dsn"`
}

// ClassifierConfig holds the default classifier options.
type ClassifierConfig struct {
	GeneID               string  `yaml:"gene_id"`
	Adjust               bool    `yaml:"adjust"`
	AdjustFactor         float64 `yaml:"adjust_factor"`
	Impute               bool    `yaml:"impute"`
	ImputeReject         float64 `yaml:"impute_reject"`
	ImputeKNN            int     `yaml:"impute_knn"`
	ProgressionThreshold float64 `yaml:"progression_threshold"`
}

// LoggingConfig configures the zap logger.
type LoggingConfig struct {
	Mode  string `yaml:"mode"` // development or production
	Level string `yaml:"level"`
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	opts := classifier.DefaultOptions()
	return &Config{
		Bundle: BundleConfig{Prefix: "cohort", Concurrency: 4},
		Blob:   BlobConfig{Driver: string(blob.DriverFilesystem), FSRoot: "./blobdata"},
		ChangeLog: ChangeLogConfig{
			Driver:     string(core.StorageMemory),
			SQLitePath: "./usq_changelog.db",
		},
		Classifier: ClassifierConfig{
			GeneID:               string(opts.GeneID),
			Adjust:               opts.Adjust,
			AdjustFactor:         opts.AdjustFactor,
			Impute:               opts.Impute,
			ImputeReject:         opts.ImputeReject,
			ImputeKNN:            opts.ImputeKNN,
			ProgressionThreshold: opts.ProgressionThreshold,
		},
		Logging: LoggingConfig{Mode: "development", Level: "info"},
	}
}

// Load reads path over the defaults and applies environment overrides. A
// missing file yields the defaults. An empty path skips the file.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case os.IsNotExist(err):
		case err != nil:
			return nil, fmt.Errorf("read config: %w", err)
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse config: %w", err)
			}
		}
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes the configuration to path as YAML.
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

// ApplyEnv overrides fields from USQ_* variables found through lookup.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	var errs []string
	boolean := func(key string, dst *bool) {
		if v, ok := lookup(key); ok && v != "" {
			b, err := strconv.ParseBool(v)
			if err != nil {
				errs = append(errs, key)
				return
			}
			*dst = b
		}
	}
	integer := func(key string, dst *int) {
		if v, ok := lookup(key); ok && v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, key)
				return
			}
			*dst = n
		}
	}
	float := func(key string, dst *float64) {
		if v, ok := lookup(key); ok && v != "" {
			f, err := strconv.ParseFloat(v, 64)
			if err != nil {
				errs = append(errs, key)
				return
			}
			*dst = f
		}
	}

	str("USQ_BUNDLE_PREFIX", &c.Bundle.Prefix)
	integer("USQ_BUNDLE_CONCURRENCY", &c.Bundle.Concurrency)
	str("USQ_BLOB_DRIVER", &c.Blob.Driver)
	str("USQ_BLOB_FS_ROOT", &c.Blob.FSRoot)
	str("USQ_BLOB_S3_BUCKET", &c.Blob.S3.Bucket)
	str("USQ_BLOB_S3_REGION", &c.Blob.S3.Region)
	str("USQ_BLOB_S3_ENDPOINT", &c.Blob.S3.Endpoint)
	boolean("USQ_BLOB_S3_PATH_STYLE", &c.Blob.S3.PathStyle)
	str("USQ_BLOB_S3_ACCESS_KEY_ID", &c.Blob.S3.AccessKeyID)
	str("USQ_BLOB_S3_SECRET_ACCESS_KEY", &c.Blob.S3.SecretAccessKey)
	str("USQ_CHANGELOG_DRIVER", &c.ChangeLog.Driver)
	str("USQ_SQLITE_PATH", &c.ChangeLog.SQLitePath)
	str("USQ_POSTGRES_DSN", &c.ChangeLog.PostgresDSN)
	str("USQ_GENE_ID", &c.Classifier.GeneID)
	boolean("USQ_CLASSIFIER_ADJUST", &c.Classifier.Adjust)
	float("USQ_CLASSIFIER_ADJUST_FACTOR", &c.Classifier.AdjustFactor)
	boolean("USQ_CLASSIFIER_IMPUTE", &c.Classifier.Impute)
	float("USQ_CLASSIFIER_IMPUTE_REJECT", &c.Classifier.ImputeReject)
	integer("USQ_CLASSIFIER_IMPUTE_KNN", &c.Classifier.ImputeKNN)
	float("USQ_CLASSIFIER_PROGRESSION_THRESHOLD", &c.Classifier.ProgressionThreshold)
	str("USQ_LOG_MODE", &c.Logging.Mode)
	str("USQ_LOG_LEVEL", &c.Logging.Level)

	if len(errs) > 0 {
		return domain.ConfigurationError{Parameter: strings.Join(errs, ","), Reason: "malformed environment override"}
	}
	return nil
}

// Validate rejects unknown drivers, incomplete backends and bad classifier
// settings.
func (c *Config) Validate() error {
	switch blob.Driver(c.Blob.Driver) {
	case blob.DriverFilesystem, blob.DriverMemory:
	case blob.DriverS3:
		if c.Blob.S3.Bucket == "" {
			return domain.ConfigurationError{Parameter: "blob.s3.bucket", Reason: "required when blob.driver is s3"}
		}
	default:
		return domain.ConfigurationError{Parameter: "blob.driver", Value: c.Blob.Driver, Reason: "must be one of fs, s3, memory"}
	}
	switch core.StorageDriver(c.ChangeLog.Driver) {
	case core.StorageMemory:
	case core.StorageSQLite:
		if c.ChangeLog.SQLitePath == "" {
			return domain.ConfigurationError{Parameter: "changelog.sqlite_path", Reason: "required when changelog.driver is sqlite"}
		}
	case core.StoragePostgres:
		if c.ChangeLog.PostgresDSN == "" {
			return domain.ConfigurationError{Parameter: "changelog.postgres_dsn", Reason: "required when changelog.driver is postgres"}
		}
	default:
		return domain.ConfigurationError{Parameter: "changelog.driver", Value: c.ChangeLog.Driver, Reason: "must be one of memory, sqlite, postgres"}
	}
	if c.Bundle.Concurrency < 1 {
		return domain.ConfigurationError{Parameter: "bundle.concurrency", Value: strconv.Itoa(c.Bundle.Concurrency), Reason: "must be positive"}
	}
	switch strings.ToLower(c.Logging.Mode) {
	case "dev", "development", "prod", "production":
	default:
		return domain.ConfigurationError{Parameter: "logging.mode", Value: c.Logging.Mode, Reason: "must be development or production"}
	}
	return c.ClassifierOptions().Validate()
}

// BlobStoreConfig converts the blob section for blob.Open.
func (c *Config) BlobStoreConfig() blob.Config {
	return blob.Config{
		Driver: blob.Driver(c.Blob.Driver),
		FSRoot: c.Blob.FSRoot,
		S3: blob.S3Config{
			Bucket:          c.Blob.S3.Bucket,
			Region:          c.Blob.S3.Region,
			Endpoint:        c.Blob.S3.Endpoint,
			PathStyle:       c.Blob.S3.PathStyle,
			AccessKeyID:     c.Blob.S3.AccessKeyID,
			SecretAccessKey: c.Blob.S3.SecretAccessKey,
		},
	}
}

// StorageConfig converts the changelog section for core.OpenChangeLogStore.
func (c *Config) StorageConfig() core.StorageConfig {
	return core.StorageConfig{
		Driver:      core.StorageDriver(c.ChangeLog.Driver),
		SQLitePath:  c.ChangeLog.SQLitePath,
		PostgresDSN: c.ChangeLog.PostgresDSN,
	}
}

// ClassifierOptions converts the classifier section. Log transformation is
// always enabled.
func (c *Config) ClassifierOptions() classifier.Options {
	return classifier.Options{
		GeneID:               domain.GeneIDScheme(c.Classifier.GeneID),
		LogTransform:         true,
		Adjust:               c.Classifier.Adjust,
		AdjustFactor:         c.Classifier.AdjustFactor,
		Impute:               c.Classifier.Impute,
		ImputeReject:         c.Classifier.ImputeReject,
		ImputeKNN:            c.Classifier.ImputeKNN,
		ProgressionThreshold: c.Classifier.ProgressionThreshold,
	}
}
