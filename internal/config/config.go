// Package config loads flowctl's own tool configuration: which blueprint
// bundle to validate against, log level/format, and redaction extras. This
// is tool configuration only, never the patch document the core operates
// on — that always comes from stdin/a file argument via pkg/patchio.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is flowctl's top-level tool configuration file shape.
type Config struct {
	Blueprint BlueprintConfig `yaml:"blueprint"`
	Logging   LoggingConfig   `yaml:"logging"`
	Redaction RedactionConfig `yaml:"redaction"`
	Tooling   ToolingConfig   `yaml:"tooling"`
}

// BlueprintConfig names the registry/catalog/selector bundle files the
// Validator and Overlay evaluator check patches against.
type BlueprintConfig struct {
	RegistryPath  string `yaml:"registry_path"`
	CatalogPath   string `yaml:"catalog_path"`
	SelectorsPath string `yaml:"selectors_path"`
}

// LoggingConfig holds the log level and format settings. Load checks
// Format; cmd/flowctl does not read these settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// RedactionConfig lists deployment-specific property names to treat as
// secret (e.g. a tenant-specific secret field name the built-in substring
// list doesn't cover). pkg/explain's redactor does not read it; its key
// pattern is fixed.
type RedactionConfig struct {
	ExtraKeys []string `yaml:"extra_keys"`
}

// ToolingConfig holds the remaining CLI-invocation knobs.
type ToolingConfig struct {
	DefaultTimeout time.Duration `yaml:"default_timeout"`
}

func defaultConfig() *Config {
	return &Config{
		Logging: LoggingConfig{Level: "info", Format: "json"},
		Tooling: ToolingConfig{DefaultTimeout: 10 * time.Second},
	}
}

// Load reads and parses the tool config file at path, applying defaults for
// any field the file leaves unset.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := defaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid config file: %w", err)
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.Blueprint.RegistryPath == "" {
		return fmt.Errorf("blueprint.registry_path is required")
	}
	switch c.Logging.Format {
	case "json", "console", "":
	default:
		return fmt.Errorf("logging.format must be \"json\" or \"console\", got %q", c.Logging.Format)
	}
	return nil
}
