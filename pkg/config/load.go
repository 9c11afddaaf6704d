// Copyright 2024-2026 Aiku AI

package config

import (
	"fmt"

	"github.com/joho/godotenv"
	up "go.mau.fi/util/configupgrade"
	"gopkg.in/yaml.v3"
)

// Load reads the config file at path. The file is first upgraded in place
// when save is true, then environment overrides are applied and the result
// is post-processed and validated. A .env file in the working directory is
// loaded into the environment if present.
func Load(path string, save bool) (*Config, error) {
	_ = godotenv.Load(".env")

	data, _, err := up.Do(path, save, Upgrader)
	if err != nil {
		return nil, fmt.Errorf("failed to upgrade config: %w", err)
	}
	return Parse(data)
}

// Parse decodes an already upgraded config.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	cfg.ApplyEnv()
	if err := cfg.PostProcess(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}
