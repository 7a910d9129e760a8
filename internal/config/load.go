package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Load loads configuration: defaults overlaid with the given YAML file. An
// empty path falls back to searching standard locations; running with no
// config file at all is fine.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		path = findConfigFile()
	}
	if path != "" {
		if err := loadFromFile(cfg, path); err != nil {
			return nil, fmt.Errorf("loading config from %s: %w", path, err)
		}
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func findConfigFile() string {
	candidates := []string{
		"./blockfield.yaml",
		filepath.Join(configDir(), "blockfield.yaml"),
	}
	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

func configDir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "blockfield")
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "blockfield")
}

func loadFromFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(data, cfg)
}

func (c *Config) validate() error {
	if c.Graphics.Width <= 0 || c.Graphics.Height <= 0 {
		return fmt.Errorf("window size %dx%d must be positive", c.Graphics.Width, c.Graphics.Height)
	}
	if c.World.GridX <= 0 || c.World.GridY <= 0 || c.World.GridZ <= 0 {
		return fmt.Errorf("grid %dx%dx%d must be positive in every dimension", c.World.GridX, c.World.GridY, c.World.GridZ)
	}
	if c.Shaders.Vertex == "" || c.Shaders.Fragment == "" {
		return fmt.Errorf("both shader paths must be set")
	}
	return nil
}
