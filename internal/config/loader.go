// Package config loads the mirrorhost YAML configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"

	"gopkg.in/yaml.v3"
)

var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// Load reads, env-expands, parses, and validates a config file.
func Load(configPath string) (*Config, error) {
	absPath, err := filepath.Abs(configPath)
	if err != nil {
		return nil, fmt.Errorf("resolve config path %q: %w", configPath, err)
	}

	data, err := os.ReadFile(absPath)
	if err != nil {
		return nil, fmt.Errorf("config file not found: %s\n"+
			"Hint: check the path or pass --config", absPath)
	}

	expanded := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", absPath, err)
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", absPath, err)
	}
	return &cfg, nil
}

// expandEnvVars replaces ${VAR} references with environment values.
// Unset variables expand to the empty string.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		name := envVarPattern.FindStringSubmatch(match)[1]
		return os.Getenv(name)
	})
}

func (c *Config) applyDefaults() {
	if c.Service.Name == "" {
		c.Service.Name = "mirrorhost"
	}
	if c.Service.LogLevel == "" {
		c.Service.LogLevel = "INFO"
	}
	if c.Service.StateDir == "" {
		c.Service.StateDir = "state"
	}
	if c.Worker.Command == "" {
		c.Worker.Command = "uv"
		c.Worker.Args = []string{"run", "python", "-m", "narrative_mirror.cli_json"}
	}
	if c.Worker.DBPath == "" {
		c.Worker.DBPath = "data/mirror.db"
	}
	if c.Worker.ConfigPath == "" {
		c.Worker.ConfigPath = "config.yml"
	}
	if c.API.Listen == "" {
		c.API.Listen = "127.0.0.1:8787"
	}
	if c.History.Path == "" {
		c.History.Path = filepath.Join(c.Service.StateDir, "history.db")
	}
}

// Validate rejects configurations that cannot possibly run.
func (c *Config) Validate() error {
	if c.Worker.Command == "" {
		return fmt.Errorf("worker.command is required")
	}
	if c.Worker.DBPath == "" {
		return fmt.Errorf("worker.db_path is required")
	}
	if c.API.Enabled && c.API.Listen == "" {
		return fmt.Errorf("api.listen is required when api.enabled is true")
	}
	return nil
}

// PIDLockPath returns where the single-instance lock lives.
func (c *Config) PIDLockPath() string {
	return filepath.Join(c.Service.StateDir, "mirrorhost.pid")
}
