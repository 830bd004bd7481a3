// Package config loads and saves the combined audio + network
// configuration from a YAML file.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"voicelink/internal/audio"
	"voicelink/internal/network"
)

// Config is the one record the core consumes: the audio path settings and
// the network path settings, side by side.
type Config struct {
	Audio   audio.Config   `yaml:"audio"`
	Network network.Config `yaml:"network"`
}

// Default returns the baseline configuration.
func Default() Config {
	return Config{
		Audio:   audio.DefaultConfig(),
		Network: network.DefaultConfig(),
	}
}

// Preset returns a named configuration profile. Recognized names: "lan",
// "wan", "test".
func Preset(name string) (Config, error) {
	cfg := Default()
	switch name {
	case "", "default":
	case "lan":
		cfg.Network = network.LANOptimized()
	case "wan":
		cfg.Network = network.WANOptimized()
	case "test":
		cfg.Network = network.TestConfig()
	default:
		return Config{}, fmt.Errorf("unknown preset %q", name)
	}
	return cfg, nil
}

// Load reads path and overlays it on the defaults, so a partial file is
// fine.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	cfg := Default()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Save writes cfg to path.
func Save(cfg Config, path string) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

// Validate checks both halves.
func (c Config) Validate() error {
	if err := c.Audio.Validate(); err != nil {
		return err
	}
	return c.Network.Validate()
}
