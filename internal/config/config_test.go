package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadAppliesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "easel.yaml")
	content := `
server:
  port: 9000
workspace:
  root: /var/lib/easel
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.Port != 9000 {
		t.Errorf("Server.Port = %d, want 9000", cfg.Server.Port)
	}
	if cfg.Workspace.Root != "/var/lib/easel" {
		t.Errorf("Workspace.Root = %q", cfg.Workspace.Root)
	}
	if cfg.Workspace.MaxPendingStrokes != 2000 {
		t.Errorf("MaxPendingStrokes default = %d, want 2000", cfg.Workspace.MaxPendingStrokes)
	}
	if cfg.Canvas.Width != 1024 || cfg.Canvas.Height != 768 {
		t.Errorf("canvas default = %dx%d", cfg.Canvas.Width, cfg.Canvas.Height)
	}
	if cfg.Workspace.IdleGracePeriod != 5*time.Minute {
		t.Errorf("IdleGracePeriod default = %v", cfg.Workspace.IdleGracePeriod)
	}
	if cfg.Logging.Format != "json" {
		t.Errorf("Logging.Format default = %q", cfg.Logging.Format)
	}
}

func TestLoadExpandsEnv(t *testing.T) {
	t.Setenv("EASEL_TEST_SECRET", "supersecret")

	dir := t.TempDir()
	path := filepath.Join(dir, "easel.yaml")
	content := "auth:\n  jwt_secret: ${EASEL_TEST_SECRET}\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Auth.JWTSecret != "supersecret" {
		t.Errorf("JWTSecret = %q, want env value", cfg.Auth.JWTSecret)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("Load() expected error for missing file")
	}
}

func TestDefault(t *testing.T) {
	cfg := Default()
	if cfg.Agent.Interval != 45*time.Second {
		t.Errorf("Agent.Interval = %v", cfg.Agent.Interval)
	}
	if cfg.Canvas.ClientFPS != 360 {
		t.Errorf("ClientFPS = %v", cfg.Canvas.ClientFPS)
	}
}
