package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	for _, key := range []string{"CONFIG_FILE", "PORT", "DATABASE_URL", "REDIS_URL", "NATS_URL", "ALLOWED_ORIGINS", "AUTO_TIMEOUT"} {
		t.Setenv(key, "")
		os.Unsetenv(key)
	}

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Port != "8000" {
		t.Errorf("expected port 8000, got %s", cfg.Port)
	}
	if cfg.AllowedOrigins != "*" {
		t.Errorf("expected * origins, got %s", cfg.AllowedOrigins)
	}
	if cfg.NATSURL != "" {
		t.Errorf("expected NATS disabled by default, got %s", cfg.NATSURL)
	}
	if cfg.AutoTimeout {
		t.Error("expected auto timeout off by default")
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("CONFIG_FILE", "")
	os.Unsetenv("CONFIG_FILE")
	t.Setenv("PORT", "9090")
	t.Setenv("DATABASE_URL", "postgres://db.internal/blitz")
	t.Setenv("NATS_URL", "nats://localhost:4222")
	t.Setenv("AUTO_TIMEOUT", "true")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Port != "9090" {
		t.Errorf("expected port 9090, got %s", cfg.Port)
	}
	if cfg.DatabaseURL != "postgres://db.internal/blitz" {
		t.Errorf("unexpected database url %s", cfg.DatabaseURL)
	}
	if cfg.NATSURL != "nats://localhost:4222" {
		t.Errorf("unexpected nats url %s", cfg.NATSURL)
	}
	if !cfg.AutoTimeout {
		t.Error("expected auto timeout on")
	}
}

func TestLoadAutoTimeoutValues(t *testing.T) {
	t.Setenv("CONFIG_FILE", "")
	os.Unsetenv("CONFIG_FILE")
	cases := map[string]bool{"true": true, "1": true, "false": false, "0": false, "yes": false}
	for value, want := range cases {
		t.Setenv("AUTO_TIMEOUT", value)
		cfg, err := Load()
		if err != nil {
			t.Fatalf("Load: %v", err)
		}
		if cfg.AutoTimeout != want {
			t.Errorf("AUTO_TIMEOUT=%q: expected %v, got %v", value, want, cfg.AutoTimeout)
		}
	}
}

func TestLoadConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yml")
	content := "port: \"9000\"\nredis_url: redis://cache.internal:6379/1\nauto_timeout: true\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("CONFIG_FILE", path)
	t.Setenv("PORT", "")
	os.Unsetenv("PORT")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Port != "9000" {
		t.Errorf("expected port 9000 from file, got %s", cfg.Port)
	}
	if cfg.RedisURL != "redis://cache.internal:6379/1" {
		t.Errorf("unexpected redis url %s", cfg.RedisURL)
	}
	if !cfg.AutoTimeout {
		t.Error("expected auto timeout on from file")
	}
}

func TestLoadEnvBeatsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yml")
	if err := os.WriteFile(path, []byte("port: \"9000\"\n"), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("CONFIG_FILE", path)
	t.Setenv("PORT", "7777")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Port != "7777" {
		t.Errorf("expected the environment to win, got %s", cfg.Port)
	}
}

func TestLoadMissingConfigFile(t *testing.T) {
	t.Setenv("CONFIG_FILE", filepath.Join(t.TempDir(), "absent.yml"))
	if _, err := Load(); err == nil {
		t.Error("expected an error for a missing config file")
	}
}
