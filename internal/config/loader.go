package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultConfigFile is the path checked for YAML configuration.
const DefaultConfigFile = "localops.yaml"

// Load returns a Config using the hierarchy: defaults < YAML < ENV.
// The YAML file is optional; a missing file is not an error.
func Load() (*Config, error) {
	return LoadFrom(DefaultConfigFile)
}

// LoadFrom returns a Config loaded from the given YAML path using the
// hierarchy: defaults < YAML < ENV.
func LoadFrom(yamlPath string) (*Config, error) {
	cfg := Defaults()

	if err := loadYAML(&cfg, yamlPath); err != nil {
		return nil, fmt.Errorf("config yaml: %w", err)
	}

	loadEnv(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validate: %w", err)
	}

	return &cfg, nil
}

// loadYAML reads the YAML file and unmarshals it over cfg.
// Returns nil if the file does not exist.
func loadYAML(cfg *Config, path string) error {
	data, err := os.ReadFile(path) //nolint:gosec // G304: path is validated by caller
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}

	return nil
}

// loadEnv overlays environment variables onto cfg.
// Only non-empty env values override the current config.
func loadEnv(cfg *Config) {
	setString(&cfg.Server.Port, "LOCALOPS_PORT")
	setString(&cfg.Server.CORSOrigin, "LOCALOPS_CORS_ORIGIN")
	setString(&cfg.Postgres.DSN, "DATABASE_URL")
	setInt32(&cfg.Postgres.MaxConns, "LOCALOPS_PG_MAX_CONNS")
	setInt32(&cfg.Postgres.MinConns, "LOCALOPS_PG_MIN_CONNS")
	setDuration(&cfg.Postgres.MaxConnLifetime, "LOCALOPS_PG_MAX_CONN_LIFETIME")
	setDuration(&cfg.Postgres.MaxConnIdleTime, "LOCALOPS_PG_MAX_CONN_IDLE_TIME")
	setDuration(&cfg.Postgres.HealthCheck, "LOCALOPS_PG_HEALTH_CHECK")
	setString(&cfg.NATS.URL, "NATS_URL")
	setString(&cfg.API.Key, "LOCALOPS_API_KEY")
	setString(&cfg.API.BaseURL, "LOCALOPS_API_BASE_URL")
	setString(&cfg.Artifact.Root, "LOCALOPS_ARTIFACT_ROOT")
	setString(&cfg.Sandbox.Image, "LOCALOPS_SANDBOX_IMAGE")
	setString(&cfg.Sandbox.NetworkDefault, "LOCALOPS_SANDBOX_NETWORK")
	setString(&cfg.Logging.Level, "LOCALOPS_LOG_LEVEL")
	setString(&cfg.Logging.Service, "LOCALOPS_LOG_SERVICE")
	setInt64(&cfg.Cache.MaxBytes, "LOCALOPS_CACHE_MAX_BYTES")
	setDuration(&cfg.Cache.TTL, "LOCALOPS_CACHE_TTL")
}

// validate rejects configurations that cannot work at runtime.
func validate(cfg *Config) error {
	if cfg.Server.Port == "" {
		return errors.New("server.port is required")
	}
	if cfg.Postgres.DSN == "" {
		return errors.New("postgres.dsn is required")
	}
	if cfg.NATS.URL == "" {
		return errors.New("nats.url is required")
	}
	if cfg.API.Key == "" {
		return errors.New("api.key is required")
	}
	if cfg.Artifact.Root == "" {
		return errors.New("artifact.root is required")
	}
	if cfg.Sandbox.Image == "" {
		return errors.New("sandbox.image is required")
	}
	switch cfg.Sandbox.NetworkDefault {
	case "none", "bridge":
	default:
		return fmt.Errorf("sandbox.network_default must be none or bridge, got %q", cfg.Sandbox.NetworkDefault)
	}
	return nil
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt32(dst *int32, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 32); err == nil {
			*dst = int32(n)
		}
	}
}

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setDuration(dst *time.Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}
