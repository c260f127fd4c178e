// Package config loads the Computer's bootstrap configuration from a YAML
// file and watches it for changes so a running Computer can pick up edits
// without a restart.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"a2csmcp/internal/inputs"
)

// SocketConfig describes the signaling hub connection a Computer should
// establish on startup. All fields are optional; an empty URL means no
// automatic connection.
type SocketConfig struct {
	URL    string            `yaml:"url"`
	Office string            `yaml:"office"`
	Auth   string            `yaml:"auth"`
	Header map[string]string `yaml:"header"`
}

// Config is the Computer bootstrap file: its identity, the MCP servers it
// hosts, the input definitions used to render them, and the optional hub
// connection.
type Config struct {
	Name    string              `yaml:"name"`
	Servers []map[string]any    `yaml:"servers"`
	Inputs  []inputs.Definition `yaml:"inputs"`
	Socket  SocketConfig        `yaml:"socket"`
}

// DefaultPath returns the default config file location,
// ~/.config/a2c-smcp/computer.yaml.
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "computer.yaml"
	}
	return filepath.Join(home, ".config", "a2c-smcp", "computer.yaml")
}

// Load reads and decodes a config file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the parts of a config that would otherwise fail late.
func (c *Config) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("config requires a computer name")
	}
	for i, def := range c.Inputs {
		if err := def.Validate(); err != nil {
			return fmt.Errorf("inputs[%d]: %w", i, err)
		}
	}
	for i, server := range c.Servers {
		if _, ok := server["name"].(string); !ok {
			return fmt.Errorf("servers[%d]: missing name", i)
		}
	}
	return nil
}
