package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.Graphics.Width != 800 {
		t.Errorf("expected width 800, got %d", cfg.Graphics.Width)
	}
	if cfg.Graphics.Height != 600 {
		t.Errorf("expected height 600, got %d", cfg.Graphics.Height)
	}
	if !cfg.Graphics.Validation {
		t.Error("expected validation layers on by default")
	}

	if cfg.World.GridX != 100 || cfg.World.GridY != 1 || cfg.World.GridZ != 100 {
		t.Errorf("expected default grid 100x1x100, got %dx%dx%d", cfg.World.GridX, cfg.World.GridY, cfg.World.GridZ)
	}
	if cfg.World.Spacing != 20 {
		t.Errorf("expected spacing 20, got %v", cfg.World.Spacing)
	}

	if cfg.Logging.Level != "info" {
		t.Errorf("expected log level 'info', got %s", cfg.Logging.Level)
	}
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "blockfield.yaml")
	data := []byte(`
graphics:
  width: 1920
  height: 1080
  validation: false
world:
  grid_x: 8
  grid_y: 2
  grid_z: 8
  spacing: 25
logging:
  level: debug
`)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Graphics.Width != 1920 || cfg.Graphics.Height != 1080 {
		t.Errorf("expected 1920x1080, got %dx%d", cfg.Graphics.Width, cfg.Graphics.Height)
	}
	if cfg.Graphics.Validation {
		t.Error("expected validation disabled")
	}
	if cfg.World.GridY != 2 || cfg.World.Spacing != 25 {
		t.Errorf("world config not merged: %+v", cfg.World)
	}
	// Fields absent from the file keep their defaults.
	if cfg.Shaders.Vertex != "shaders/cube.vert.spv" {
		t.Errorf("expected default vertex shader path, got %s", cfg.Shaders.Vertex)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("expected level debug, got %s", cfg.Logging.Level)
	}
}

func TestLoadRejectsInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "blockfield.yaml")
	data := []byte("world:\n  grid_x: 0\n")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("expected validation error for zero grid dimension")
	}
}

func TestLoadMissingExplicitFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("expected error for missing explicit config file")
	}
}
