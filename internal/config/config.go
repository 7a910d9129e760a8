// Package config handles renderer configuration loading.
package config

// Config holds all renderer settings.
type Config struct {
	Graphics GraphicsConfig `yaml:"graphics"`
	World    WorldConfig    `yaml:"world"`
	Shaders  ShaderConfig   `yaml:"shaders"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// GraphicsConfig holds window and device settings.
type GraphicsConfig struct {
	Width  int `yaml:"width"`
	Height int `yaml:"height"`
	// VSync prefers a blocking present mode over mailbox.
	VSync      bool `yaml:"vsync"`
	Validation bool `yaml:"validation"`
}

// WorldConfig holds the block grid layout and the texture asset path.
type WorldConfig struct {
	GridX   int     `yaml:"grid_x"`
	GridY   int     `yaml:"grid_y"`
	GridZ   int     `yaml:"grid_z"`
	Spacing float32 `yaml:"spacing"`
	Texture string  `yaml:"texture"` // empty selects the built-in checker
}

// ShaderConfig holds paths to the compiled SPIR-V programs.
type ShaderConfig struct {
	Vertex   string `yaml:"vertex"`
	Fragment string `yaml:"fragment"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level string `yaml:"level"`
	File  string `yaml:"file"`
}

// Default returns a Config with sensible default values.
func Default() *Config {
	return &Config{
		Graphics: GraphicsConfig{
			Width:      800,
			Height:     600,
			VSync:      false,
			Validation: true,
		},
		World: WorldConfig{
			GridX:   100,
			GridY:   1,
			GridZ:   100,
			Spacing: 20,
			Texture: "assets/grass_block_side.png",
		},
		Shaders: ShaderConfig{
			Vertex:   "shaders/cube.vert.spv",
			Fragment: "shaders/cube.frag.spv",
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}
