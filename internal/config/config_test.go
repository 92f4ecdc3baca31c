package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, yaml string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(yaml), 0644); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}
	return path
}

func TestLoadFileAppliesDefaults(t *testing.T) {
	cfg, err := LoadFile(writeConfig(t, "room:\n  name: sketchpad\n"))
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if cfg.Server.Bind != "::" {
		t.Errorf("Expected default bind, got %q", cfg.Server.Bind)
	}
	if cfg.Storage.DataDir != "./data/room" {
		t.Errorf("Expected default data dir, got %q", cfg.Storage.DataDir)
	}
	if cfg.Storage.Database != "./data/rooms.db" {
		t.Errorf("Expected default database, got %q", cfg.Storage.Database)
	}
	if cfg.Logging.Env != "dev" {
		t.Errorf("Expected dev env, got %q", cfg.Logging.Env)
	}
	if cfg.Room.CanvasWidth != 720 || cfg.Room.CanvasHeight != 480 {
		t.Errorf("Expected default canvas, got %dx%d", cfg.Room.CanvasWidth, cfg.Room.CanvasHeight)
	}
	if cfg.Room.MaxLoad != 5 {
		t.Errorf("Expected default max load, got %d", cfg.Room.MaxLoad)
	}
}

func TestLoadFileKeepsExplicitValues(t *testing.T) {
	cfg, err := LoadFile(writeConfig(t, `
server:
  bind: 127.0.0.1
storage:
  dataDir: /var/lib/paintty
logging:
  env: prod
  debug: true
room:
  name: sketchpad
  canvasWidth: 1024
  canvasHeight: 768
  maxLoad: 12
  password: tea
  permanent: true
`))
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if cfg.Server.Bind != "127.0.0.1" {
		t.Errorf("Expected explicit bind, got %q", cfg.Server.Bind)
	}
	if cfg.Storage.DataDir != "/var/lib/paintty" {
		t.Errorf("Expected explicit data dir, got %q", cfg.Storage.DataDir)
	}
	if !cfg.Logging.Debug || cfg.Logging.Env != "prod" {
		t.Errorf("Logging fields mismatch: %+v", cfg.Logging)
	}
	if cfg.Room.CanvasWidth != 1024 || cfg.Room.MaxLoad != 12 {
		t.Errorf("Room fields mismatch: %+v", cfg.Room)
	}
	if !cfg.Room.Permanent || cfg.Room.Password != "tea" {
		t.Errorf("Room fields mismatch: %+v", cfg.Room)
	}
}

func TestLoadFileRejectsNegativeExpiration(t *testing.T) {
	_, err := LoadFile(writeConfig(t, "room:\n  name: sketchpad\n  expirationHours: -1\n"))
	if err == nil {
		t.Fatal("Negative expiration should be rejected")
	}
}

func TestLoadFileMissing(t *testing.T) {
	if _, err := LoadFile(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("Missing config should fail")
	}
}

func TestLoadHonorsConfigPathEnv(t *testing.T) {
	path := writeConfig(t, "logging:\n  env: prod\n")
	t.Setenv("CONFIG_PATH", path)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}
	if cfg.Logging.Env != "prod" {
		t.Errorf("Expected env from CONFIG_PATH file, got %q", cfg.Logging.Env)
	}
}
