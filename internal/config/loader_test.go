package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadFrom_DefaultsOnly(t *testing.T) {
	cfg, err := LoadFrom(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("LoadFrom: %v", err)
	}
	if cfg.Server.Port != "8000" {
		t.Errorf("default port = %q, want 8000", cfg.Server.Port)
	}
	if cfg.Sandbox.NetworkDefault != "none" {
		t.Errorf("default network = %q, want none", cfg.Sandbox.NetworkDefault)
	}
	if cfg.Postgres.MaxConns != 15 {
		t.Errorf("default max_conns = %d, want 15", cfg.Postgres.MaxConns)
	}
}

func TestLoadFrom_YAMLOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "localops.yaml")
	yaml := `
server:
  port: "9000"
artifact:
  root: /data/localops
sandbox:
  image: my-sandbox:1
`
	if err := os.WriteFile(path, []byte(yaml), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadFrom(path)
	if err != nil {
		t.Fatalf("LoadFrom: %v", err)
	}
	if cfg.Server.Port != "9000" {
		t.Errorf("port = %q, want 9000", cfg.Server.Port)
	}
	if cfg.Artifact.Root != "/data/localops" {
		t.Errorf("artifact root = %q", cfg.Artifact.Root)
	}
	if cfg.Sandbox.Image != "my-sandbox:1" {
		t.Errorf("sandbox image = %q", cfg.Sandbox.Image)
	}
	// Untouched sections keep defaults.
	if cfg.NATS.URL != "nats://localhost:4222" {
		t.Errorf("nats url = %q", cfg.NATS.URL)
	}
}

func TestLoadFrom_EnvOverridesYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "localops.yaml")
	if err := os.WriteFile(path, []byte("server:\n  port: \"9000\"\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("LOCALOPS_PORT", "7777")
	t.Setenv("LOCALOPS_API_KEY", "secret")
	t.Setenv("DATABASE_URL", "postgres://u:p@db:5432/ops")
	t.Setenv("LOCALOPS_CACHE_TTL", "5m")

	cfg, err := LoadFrom(path)
	if err != nil {
		t.Fatalf("LoadFrom: %v", err)
	}
	if cfg.Server.Port != "7777" {
		t.Errorf("port = %q, want 7777", cfg.Server.Port)
	}
	if cfg.API.Key != "secret" {
		t.Errorf("api key = %q", cfg.API.Key)
	}
	if cfg.Postgres.DSN != "postgres://u:p@db:5432/ops" {
		t.Errorf("dsn = %q", cfg.Postgres.DSN)
	}
	if cfg.Cache.TTL != 5*time.Minute {
		t.Errorf("cache ttl = %v", cfg.Cache.TTL)
	}
}

func TestLoadFrom_InvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(path, []byte("server: [not a map"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadFrom(path); err == nil {
		t.Fatal("expected error for invalid YAML")
	}
}

func TestValidate_RejectsBadNetworkDefault(t *testing.T) {
	path := filepath.Join(t.TempDir(), "localops.yaml")
	if err := os.WriteFile(path, []byte("sandbox:\n  network_default: host\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadFrom(path); err == nil {
		t.Fatal("expected error for network_default=host")
	}
}

func TestValidate_RejectsEmptyAPIKey(t *testing.T) {
	path := filepath.Join(t.TempDir(), "localops.yaml")
	if err := os.WriteFile(path, []byte("api:\n  key: \"\"\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	cfg := Defaults()
	if err := loadYAML(&cfg, path); err != nil {
		t.Fatal(err)
	}
	if err := validate(&cfg); err == nil {
		t.Fatal("expected error for empty api key")
	}
}
