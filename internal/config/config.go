// Package config loads the driver configuration: defaults overlaid by
// an optional YAML file.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"vscopilot/internal/chat"
	"vscopilot/internal/session"
)

// LoggingConfig controls log output.
type LoggingConfig struct {
	Level string `yaml:"level"`
}

// Config is the full driver configuration.
type Config struct {
	VSCode  session.Config `yaml:"vscode"`
	Chat    chat.Config    `yaml:"chat"`
	Logging LoggingConfig  `yaml:"logging"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		VSCode:  session.DefaultConfig(),
		Chat:    chat.DefaultConfig(),
		Logging: LoggingConfig{Level: "info"},
	}
}

// Load reads path over the defaults. A missing file is not an error;
// the defaults stand.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}
