package source

import (
	"fmt"
	"os"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// SourceConfig declares one source plugin: which implementation to run,
// its dedup priority, and implementation-specific settings passed to
// Initialize verbatim.
type SourceConfig struct {
	Name     string         `yaml:"name" validate:"required"`
	Kind     string         `yaml:"kind" validate:"required"`
	Priority int            `yaml:"priority"`
	Settings map[string]any `yaml:"settings"`
}

// Config is the sources file shape.
type Config struct {
	Sources []SourceConfig `yaml:"sources"`
}

// LoadConfig reads and validates a sources YAML file. Duplicate source
// names are rejected; priorities default to zero.
func LoadConfig(path string) (Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("source: read config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return Config{}, fmt.Errorf("source: parse config: %w", err)
	}

	validate := validator.New()
	seen := make(map[string]struct{}, len(cfg.Sources))
	for i, sc := range cfg.Sources {
		if err := validate.Struct(sc); err != nil {
			return Config{}, fmt.Errorf("source: config entry %d: %w", i, err)
		}
		if _, dup := seen[sc.Name]; dup {
			return Config{}, fmt.Errorf("source: duplicate source name %q", sc.Name)
		}
		seen[sc.Name] = struct{}{}
	}
	return cfg, nil
}
