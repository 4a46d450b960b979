package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaults(t *testing.T) {
	cfg := Default()

	if cfg.Server.Address != "0.0.0.0" {
		t.Errorf("Address = %q", cfg.Server.Address)
	}
	if cfg.Server.ServiceEndpoint != "s3.amazonaws.com" {
		t.Errorf("ServiceEndpoint = %q", cfg.Server.ServiceEndpoint)
	}
	if cfg.Server.Region != "us-east-1" {
		t.Errorf("Region = %q", cfg.Server.Region)
	}
	if cfg.Auth.AccessKey != "S3RVER" || cfg.Auth.SecretKey != "S3RVER" {
		t.Errorf("credentials = %q/%q", cfg.Auth.AccessKey, cfg.Auth.SecretKey)
	}
	if cfg.Storage.Backend != "memory" {
		t.Errorf("Backend = %q, want memory without a directory", cfg.Storage.Backend)
	}
}

func TestLoadMissingFileYieldsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Server.ServiceEndpoint != "s3.amazonaws.com" {
		t.Errorf("ServiceEndpoint = %q", cfg.Server.ServiceEndpoint)
	}
}

func TestLoadFile(t *testing.T) {
	yaml := `
server:
  port: 4568
  service_endpoint: s3.local.test
  vhost_buckets: true
  reset_on_close: true
auth:
  access_key: test-key
  secret_key: test-secret
  allow_mismatched_signatures: true
storage:
  directory: /tmp/shamstore-test
configure_buckets:
  - name: preloaded
    configs:
      - testdata/cors.xml
`
	path := filepath.Join(t.TempDir(), "shamstore.yaml")
	if err := os.WriteFile(path, []byte(yaml), 0o644); err != nil {
		t.Fatalf("writing config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Server.Port != 4568 {
		t.Errorf("Port = %d", cfg.Server.Port)
	}
	if cfg.Server.ServiceEndpoint != "s3.local.test" {
		t.Errorf("ServiceEndpoint = %q", cfg.Server.ServiceEndpoint)
	}
	if !cfg.Server.VhostBuckets || !cfg.Server.ResetOnClose {
		t.Error("vhost_buckets / reset_on_close not parsed")
	}
	if !cfg.Auth.AllowMismatchedSignatures {
		t.Error("allow_mismatched_signatures not parsed")
	}
	// A directory implies the local backend.
	if cfg.Storage.Backend != "local" {
		t.Errorf("Backend = %q, want local", cfg.Storage.Backend)
	}
	if len(cfg.ConfigureBuckets) != 1 || cfg.ConfigureBuckets[0].Name != "preloaded" {
		t.Errorf("ConfigureBuckets = %+v", cfg.ConfigureBuckets)
	}
}

func TestLoadBadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(path, []byte("server: [not a map"), 0o644); err != nil {
		t.Fatalf("writing config: %v", err)
	}

	if _, err := Load(path); err == nil {
		t.Error("Load accepted invalid YAML")
	}
}
