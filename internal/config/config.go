package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config captures the settings required to boot the relay.
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Logging LoggingConfig `yaml:"logging"`
	Ingest  IngestConfig  `yaml:"ingest"`
	Routing RoutingConfig `yaml:"routing"`
	Auth    AuthConfig    `yaml:"auth"`
	Cache   CacheConfig   `yaml:"cache"`
	Archive ArchiveConfig `yaml:"archive"`
}

// ServerConfig controls the HTTP API, gRPC health and metrics listeners.
type ServerConfig struct {
	Address         string        `yaml:"address"`
	GRPCAddress     string        `yaml:"grpcAddress"`
	MetricsAddress  string        `yaml:"metricsAddress"`
	GracefulTimeout time.Duration `yaml:"gracefulTimeout"`
}

// LoggingConfig controls structured logging.
type LoggingConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// IngestConfig controls the event normalizer.
type IngestConfig struct {
	BufferSize int `yaml:"bufferSize"`
}

// RoutingConfig controls rule-pack loading and the fallback agent.
type RoutingConfig struct {
	RulesPath    string `yaml:"rulesPath"`
	DefaultAgent string `yaml:"defaultAgent"`
}

// AuthConfig enables bearer-token authentication on the HTTP API when a
// secret is configured.
type AuthConfig struct {
	Secret string `yaml:"secret"`
}

// CacheConfig controls the Valkey-backed snapshot/dedup cache.
type CacheConfig struct {
	Enabled      bool          `yaml:"enabled"`
	Addr         string        `yaml:"addr"`
	Username     string        `yaml:"username"`
	Password     string        `yaml:"password"`
	DB           int           `yaml:"db"`
	DialTimeout  time.Duration `yaml:"dialTimeout"`
	ReadTimeout  time.Duration `yaml:"readTimeout"`
	WriteTimeout time.Duration `yaml:"writeTimeout"`
	TLS          bool          `yaml:"tls"`
	EventTTL     time.Duration `yaml:"eventTTL"`
	IncidentTTL  time.Duration `yaml:"incidentTTL"`
}

// ArchiveConfig controls the SQLite incident archive.
type ArchiveConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// Load initialises Config from a YAML file and optional environment overrides.
func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv("FLARE_RELAY_CONFIG")
	}

	cfg := defaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("config file %s not found: %w", path, err)
			}
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	return &cfg, nil
}

func defaultConfig() Config {
	return Config{
		Server: ServerConfig{
			Address:         ":8080",
			GRPCAddress:     ":50051",
			MetricsAddress:  ":2112",
			GracefulTimeout: 10 * time.Second,
		},
		Logging: LoggingConfig{Level: "info", JSON: false},
		Ingest:  IngestConfig{BufferSize: 1000},
		Routing: RoutingConfig{
			RulesPath:    "configs/rules/default.yaml",
			DefaultAgent: "event-classifier",
		},
		Cache: CacheConfig{
			Enabled:      false,
			DialTimeout:  2 * time.Second,
			ReadTimeout:  500 * time.Millisecond,
			WriteTimeout: 500 * time.Millisecond,
			EventTTL:     24 * time.Hour,
			IncidentTTL:  0,
		},
		Archive: ArchiveConfig{
			Enabled: false,
			Path:    "flare-relay.db",
		},
	}
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("FLARE_RELAY_ADDRESS"); v != "" {
		cfg.Server.Address = v
	}
	if v := os.Getenv("FLARE_RELAY_GRPC_ADDRESS"); v != "" {
		cfg.Server.GRPCAddress = v
	}
	if v := os.Getenv("FLARE_RELAY_METRICS_ADDRESS"); v != "" {
		cfg.Server.MetricsAddress = v
	}
	if v := os.Getenv("FLARE_RELAY_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("FLARE_RELAY_LOG_FORMAT"); v == "json" {
		cfg.Logging.JSON = true
	}
	if v := os.Getenv("FLARE_RELAY_BUFFER_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Ingest.BufferSize = n
		}
	}
	if v := os.Getenv("FLARE_RELAY_RULES_PATH"); v != "" {
		cfg.Routing.RulesPath = v
	}
	if v := os.Getenv("FLARE_RELAY_DEFAULT_AGENT"); v != "" {
		cfg.Routing.DefaultAgent = v
	}
	if v := os.Getenv("FLARE_RELAY_AUTH_SECRET"); v != "" {
		cfg.Auth.Secret = v
	}
	if v := os.Getenv("FLARE_RELAY_CACHE_ENABLED"); v != "" {
		cfg.Cache.Enabled = strings.EqualFold(v, "true") || v == "1"
	}
	if v := os.Getenv("FLARE_RELAY_CACHE_ADDR"); v != "" {
		cfg.Cache.Addr = v
	}
	if v := os.Getenv("FLARE_RELAY_CACHE_USERNAME"); v != "" {
		cfg.Cache.Username = v
	}
	if v := os.Getenv("FLARE_RELAY_CACHE_PASSWORD"); v != "" {
		cfg.Cache.Password = v
	}
	if v := os.Getenv("FLARE_RELAY_CACHE_DB"); v != "" {
		if db, err := strconv.Atoi(v); err == nil {
			cfg.Cache.DB = db
		}
	}
	if v := os.Getenv("FLARE_RELAY_CACHE_TLS"); strings.EqualFold(v, "true") || v == "1" {
		cfg.Cache.TLS = true
	}
	if v := os.Getenv("FLARE_RELAY_CACHE_EVENT_TTL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Cache.EventTTL = d
		}
	}
	if v := os.Getenv("FLARE_RELAY_CACHE_INCIDENT_TTL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Cache.IncidentTTL = d
		}
	}
	if v := os.Getenv("FLARE_RELAY_ARCHIVE_ENABLED"); v != "" {
		cfg.Archive.Enabled = strings.EqualFold(v, "true") || v == "1"
	}
	if v := os.Getenv("FLARE_RELAY_ARCHIVE_PATH"); v != "" {
		cfg.Archive.Path = v
	}
}
