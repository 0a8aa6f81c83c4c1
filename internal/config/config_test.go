package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load defaults: %v", err)
	}
	if cfg.Server.Address != ":8080" {
		t.Fatalf("address = %s", cfg.Server.Address)
	}
	if cfg.Ingest.BufferSize != 1000 {
		t.Fatalf("buffer size = %d", cfg.Ingest.BufferSize)
	}
	if cfg.Routing.DefaultAgent != "event-classifier" {
		t.Fatalf("default agent = %s", cfg.Routing.DefaultAgent)
	}
	if cfg.Cache.EventTTL != 24*time.Hour {
		t.Fatalf("event ttl = %s", cfg.Cache.EventTTL)
	}
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(`server:
  address: ":9090"
  gracefulTimeout: 5s
logging:
  level: debug
  json: true
ingest:
  bufferSize: 250
routing:
  defaultAgent: triage-bot
archive:
  enabled: true
  path: /tmp/relay.db
`), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Address != ":9090" {
		t.Fatalf("address = %s", cfg.Server.Address)
	}
	if cfg.Server.GracefulTimeout != 5*time.Second {
		t.Fatalf("graceful timeout = %s", cfg.Server.GracefulTimeout)
	}
	if cfg.Logging.Level != "debug" || !cfg.Logging.JSON {
		t.Fatalf("logging = %+v", cfg.Logging)
	}
	if cfg.Ingest.BufferSize != 250 {
		t.Fatalf("buffer size = %d", cfg.Ingest.BufferSize)
	}
	if cfg.Routing.DefaultAgent != "triage-bot" {
		t.Fatalf("default agent = %s", cfg.Routing.DefaultAgent)
	}
	if !cfg.Archive.Enabled || cfg.Archive.Path != "/tmp/relay.db" {
		t.Fatalf("archive = %+v", cfg.Archive)
	}
	// Unset keys keep their defaults.
	if cfg.Server.MetricsAddress != ":2112" {
		t.Fatalf("metrics address = %s", cfg.Server.MetricsAddress)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatalf("expected error for missing explicit path")
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("FLARE_RELAY_ADDRESS", ":7070")
	t.Setenv("FLARE_RELAY_LOG_LEVEL", "warn")
	t.Setenv("FLARE_RELAY_BUFFER_SIZE", "42")
	t.Setenv("FLARE_RELAY_CACHE_ENABLED", "true")
	t.Setenv("FLARE_RELAY_CACHE_ADDR", "localhost:6379")
	t.Setenv("FLARE_RELAY_CACHE_EVENT_TTL", "1h")
	t.Setenv("FLARE_RELAY_AUTH_SECRET", "hush")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Address != ":7070" {
		t.Fatalf("address = %s", cfg.Server.Address)
	}
	if cfg.Logging.Level != "warn" {
		t.Fatalf("level = %s", cfg.Logging.Level)
	}
	if cfg.Ingest.BufferSize != 42 {
		t.Fatalf("buffer size = %d", cfg.Ingest.BufferSize)
	}
	if !cfg.Cache.Enabled || cfg.Cache.Addr != "localhost:6379" {
		t.Fatalf("cache = %+v", cfg.Cache)
	}
	if cfg.Cache.EventTTL != time.Hour {
		t.Fatalf("event ttl = %s", cfg.Cache.EventTTL)
	}
	if cfg.Auth.Secret != "hush" {
		t.Fatalf("secret = %s", cfg.Auth.Secret)
	}
}

func TestEnvOverrideBufferSizeInvalid(t *testing.T) {
	t.Setenv("FLARE_RELAY_BUFFER_SIZE", "-5")
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Ingest.BufferSize != 1000 {
		t.Fatalf("buffer size = %d, invalid override must be ignored", cfg.Ingest.BufferSize)
	}
}
