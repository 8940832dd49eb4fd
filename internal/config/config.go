package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"reddel/internal/logging"

	"gopkg.in/yaml.v3"
)

// FileName is the config file looked up by FindConfigFile.
const FileName = "reddel.yaml"

// Config holds all reddel configuration.
type Config struct {
	// Transport
	Server ServerConfig `yaml:"server"`

	// Providers registered at startup after core and python, in order.
	// Each entry is a factory name or the path of a Go script.
	Providers []string `yaml:"providers"`

	// Script providers
	Plugins PluginsConfig `yaml:"plugins"`

	// Region resolution and input limits
	Pipeline PipelineConfig `yaml:"pipeline"`

	// Logging
	Logging LoggingConfig `yaml:"logging"`
}

// ServerConfig configures the JSON-RPC transport.
type ServerConfig struct {
	Address string `yaml:"address"`
	Port    int    `yaml:"port"` // 0 picks a free port
	Stdio   bool   `yaml:"stdio"`
	Debug   bool   `yaml:"debug"` // include stack traces in error data
}

// PluginsConfig configures script providers.
type PluginsConfig struct {
	Dir            string   `yaml:"dir"`
	Watch          bool     `yaml:"watch"`
	AllowedImports []string `yaml:"allowed_imports"`
	Timeout        string   `yaml:"timeout"`
	Debounce       string   `yaml:"debounce"`
}

// PipelineConfig configures operation invocation.
type PipelineConfig struct {
	StrictRegions  bool `yaml:"strict_regions"`
	MaxSourceBytes int  `yaml:"max_source_bytes"` // 0 means unlimited
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Address: "localhost",
			Port:    0,
		},
		Plugins: PluginsConfig{
			Dir:      "",
			Watch:    true,
			Timeout:  "5s",
			Debounce: "500ms",
		},
		Pipeline: PipelineConfig{
			MaxSourceBytes: 4 << 20,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
			Output: "stderr",
		},
	}
}

// Load loads configuration from a YAML file. A missing file yields the
// defaults. Environment overrides are applied in both cases.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("failed to parse config: %w", err)
			}
			logging.BootDebug("Loaded config from %s", path)
		case os.IsNotExist(err):
			logging.BootDebug("No config at %s, using defaults", path)
		default:
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

// Save saves configuration to a YAML file.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	return nil
}

// applyEnvOverrides applies environment variable overrides.
func (c *Config) applyEnvOverrides() {
	if addr := os.Getenv("REDDEL_ADDRESS"); addr != "" {
		c.Server.Address = addr
	}
	if port := os.Getenv("REDDEL_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			c.Server.Port = p
		} else {
			logging.Get(logging.CategoryBoot).Warn("Ignoring REDDEL_PORT=%q: %v", port, err)
		}
	}
	if level := os.Getenv("REDDEL_LOG_LEVEL"); level != "" {
		c.Logging.Level = level
	}
	if dir := os.Getenv("REDDEL_PLUGIN_DIR"); dir != "" {
		c.Plugins.Dir = dir
	}
	if debug := os.Getenv("REDDEL_DEBUG"); debug != "" {
		if on, err := strconv.ParseBool(debug); err == nil {
			c.Server.Debug = on
		}
	}
}

// GetPluginTimeout returns the script call timeout as a duration.
func (c *Config) GetPluginTimeout() time.Duration {
	d, err := time.ParseDuration(c.Plugins.Timeout)
	if err != nil {
		return 5 * time.Second
	}
	return d
}

// GetPluginDebounce returns the plugin watcher debounce as a duration.
func (c *Config) GetPluginDebounce() time.Duration {
	d, err := time.ParseDuration(c.Plugins.Debounce)
	if err != nil {
		return 500 * time.Millisecond
	}
	return d
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if !c.Server.Stdio && strings.TrimSpace(c.Server.Address) == "" {
		return fmt.Errorf("server address is empty")
	}
	if c.Pipeline.MaxSourceBytes < 0 {
		return fmt.Errorf("invalid max_source_bytes: %d", c.Pipeline.MaxSourceBytes)
	}
	for _, d := range []struct{ name, value string }{
		{"plugins.timeout", c.Plugins.Timeout},
		{"plugins.debounce", c.Plugins.Debounce},
	} {
		if d.value == "" {
			continue
		}
		if _, err := time.ParseDuration(d.value); err != nil {
			return fmt.Errorf("invalid %s: %w", d.name, err)
		}
	}
	for _, p := range c.Providers {
		if strings.TrimSpace(p) == "" {
			return fmt.Errorf("empty provider handle")
		}
	}
	return c.Logging.Validate()
}

// FindConfigFile walks up from start looking for reddel.yaml and returns
// its path, or "" if there is none.
func FindConfigFile(start string) string {
	dir, err := filepath.Abs(start)
	if err != nil {
		return ""
	}
	for {
		path := filepath.Join(dir, FileName)
		if info, err := os.Stat(path); err == nil && !info.IsDir() {
			return path
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return ""
		}
		dir = parent
	}
}
