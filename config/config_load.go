package config

import (
	"fmt"
	"os"

	"github.com/pelletier/go-toml/v2"
)

// Load reads a TOML configuration file from path, applying it on top of
// NewDefaultConfig so unset fields keep their defaults, then validates the
// result. Mirrors the teacher's config_load.go TOML-decode-then-validate
// shape, minus the age-encrypted database path this repo has no use for
// (config here lives on disk, not inside the KV store it configures access
// to).
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %q: %w", path, err)
	}

	cfg := NewDefaultConfig()
	if err := toml.Unmarshal(raw, cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal %q: %w", path, err)
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config: validate %q: %w", path, err)
	}

	return cfg, nil
}
