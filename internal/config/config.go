// Package config handles loading and parsing of Shamstore configuration.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config is the top-level configuration for Shamstore.
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Auth    AuthConfig    `yaml:"auth"`
	Storage StorageConfig `yaml:"storage"`
	Logging LoggingConfig `yaml:"logging"`

	// ConfigureBuckets lists buckets created at startup, optionally with
	// preloaded configuration documents (CORS, website, lifecycle, tagging).
	// Invalid documents fail startup with a non-zero exit.
	ConfigureBuckets []BucketConfig `yaml:"configure_buckets"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	// Address is the bind address. Default "0.0.0.0".
	Address string `yaml:"address"`
	// Port is the listen port. Defaults to 4568; the -port flag can
	// select an ephemeral port with 0.
	Port int `yaml:"port"`
	// Region is the region reported in location and scope checks.
	Region string `yaml:"region"`
	// ServiceEndpoint is the host suffix used for virtual-hosted-style
	// addressing. Default "s3.amazonaws.com".
	ServiceEndpoint string `yaml:"service_endpoint"`
	// VhostBuckets enables subdomain (virtual-hosted) bucket addressing.
	VhostBuckets bool `yaml:"vhost_buckets"`
	// BasePath mounts the S3 API under a path prefix.
	BasePath string `yaml:"base_path"`
	// ShutdownTimeout is the graceful shutdown timeout in seconds.
	ShutdownTimeout int `yaml:"shutdown_timeout"`
	// Silent suppresses all log output.
	Silent bool `yaml:"silent"`
	// ResetOnClose deletes all buckets and objects on shutdown.
	ResetOnClose bool `yaml:"reset_on_close"`
}

// AuthConfig holds the single credential pair used for signature validation.
type AuthConfig struct {
	// AccessKey is the S3 access key.
	AccessKey string `yaml:"access_key"`
	// SecretKey is the S3 secret key.
	SecretKey string `yaml:"secret_key"`
	// AllowMismatchedSignatures accepts requests whose signature fails to
	// verify. Expiry and skew checks still apply.
	AllowMismatchedSignatures bool `yaml:"allow_mismatched_signatures"`
}

// StorageConfig holds persistence settings.
type StorageConfig struct {
	// Backend is the storage backend type: "local" (default when a
	// directory is set), "memory", "sqlite", or "aws".
	Backend string `yaml:"backend"`
	// Directory is the on-disk root for the local backend and the
	// metadata database. Empty selects fully in-memory operation.
	Directory string `yaml:"directory"`
	// SQLitePath is the database file for the sqlite storage backend.
	SQLitePath string `yaml:"sqlite_path"`
	// AWSBucket is the upstream S3 bucket for the aws gateway backend.
	AWSBucket string `yaml:"aws_bucket"`
	// AWSRegion is the upstream region for the aws gateway backend.
	AWSRegion string `yaml:"aws_region"`
	// AWSPrefix is the optional key prefix in the upstream bucket.
	AWSPrefix string `yaml:"aws_prefix"`
	// AWSEndpoint overrides the upstream S3 endpoint URL.
	AWSEndpoint string `yaml:"aws_endpoint"`
	// AWSPathStyle forces path-style addressing against the upstream.
	AWSPathStyle bool `yaml:"aws_path_style"`
	// AWSAccessKey / AWSSecretKey are optional static upstream credentials.
	AWSAccessKey string `yaml:"aws_access_key"`
	AWSSecretKey string `yaml:"aws_secret_key"`
}

// LoggingConfig holds structured logging settings.
type LoggingConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `yaml:"level"`
	// Format is "text" or "json".
	Format string `yaml:"format"`
}

// BucketConfig describes one bucket created at startup.
type BucketConfig struct {
	// Name is the bucket name.
	Name string `yaml:"name"`
	// Configs lists paths to XML configuration documents to preload.
	Configs []string `yaml:"configs"`
}

// Load reads a YAML configuration file from the given path and returns a
// parsed Config with defaults applied. A missing file yields the defaults.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			applyDefaults(cfg)
			return cfg, nil
		}
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	applyDefaults(cfg)
	return cfg, nil
}

// Default returns a Config with all defaults applied.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

// applyDefaults fills in any fields that are still at their zero value.
func applyDefaults(cfg *Config) {
	if cfg.Server.Address == "" {
		cfg.Server.Address = "0.0.0.0"
	}
	if cfg.Server.Region == "" {
		cfg.Server.Region = "us-east-1"
	}
	if cfg.Server.ServiceEndpoint == "" {
		cfg.Server.ServiceEndpoint = "s3.amazonaws.com"
	}
	if cfg.Server.Port == 0 {
		// The -port flag can still force an ephemeral port with 0.
		cfg.Server.Port = 4568
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = 30
	}
	if cfg.Auth.AccessKey == "" {
		cfg.Auth.AccessKey = "S3RVER"
	}
	if cfg.Auth.SecretKey == "" {
		cfg.Auth.SecretKey = "S3RVER"
	}
	if cfg.Storage.Backend == "" {
		if cfg.Storage.Directory != "" {
			cfg.Storage.Backend = "local"
		} else {
			cfg.Storage.Backend = "memory"
		}
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "text"
	}
}
