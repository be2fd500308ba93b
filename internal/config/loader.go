package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	toml "github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	"diffusiond/internal/common/fsutil"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "DIFFUSIOND_"

// Load reads a configuration file based on its extension.
// Supports: .yaml/.yml, .json, .toml
func Load(path string) (Config, error) {
	var cfg Config
	if path == "" {
		return cfg, fmt.Errorf("empty config path")
	}
	path, err := fsutil.ExpandHome(path)
	if err != nil {
		return cfg, err
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return cfg, fmt.Errorf("%s: %w", path, err)
		}
	case ".json":
		if err := json.Unmarshal(b, &cfg); err != nil {
			return cfg, fmt.Errorf("%s: %w", path, err)
		}
	case ".toml":
		if err := toml.Unmarshal(b, &cfg); err != nil {
			return cfg, fmt.Errorf("%s: %w", path, err)
		}
	default:
		return cfg, fmt.Errorf("unsupported config extension: %s", ext)
	}
	return cfg, nil
}

// envBinding maps one environment variable onto a Config field.
type envBinding struct {
	key   string
	apply func(c *Config, v string) error
}

var envBindings = []envBinding{
	{"MODEL", func(c *Config, v string) error { c.Model = v; return nil }},
	{"DEVICE", func(c *Config, v string) error { c.Device = v; return nil }},
	{"DTYPE", func(c *Config, v string) error { c.DType = v; return nil }},
	{"ADAPTER", func(c *Config, v string) error { c.Adapter = v; return nil }},
	{"BACKEND", func(c *Config, v string) error { c.Backend = v; return nil }},
	{"RUNNER_URL", func(c *Config, v string) error { c.RunnerURL = v; return nil }},
	{"RUNNER_API_KEY", func(c *Config, v string) error { c.RunnerAPIKey = v; return nil }},
	{"HOST", func(c *Config, v string) error { c.Host = v; return nil }},
	{"PORT", func(c *Config, v string) error {
		n, err := strconv.Atoi(v)
		if err != nil {
			return err
		}
		c.Port = n
		return nil
	}},
	{"API_KEY", func(c *Config, v string) error { c.APIKey = v; return nil }},
	{"QUEUE_CAPACITY", func(c *Config, v string) error { return c.QueueCapacity.UnmarshalText([]byte(v)) }},
	{"MAX_BATCH_SIZE", func(c *Config, v string) error { return c.MaxBatchSize.UnmarshalText([]byte(v)) }},
	{"LOG_LEVEL", func(c *Config, v string) error { c.LogLevel = v; return nil }},
}

// ApplyEnv overrides fields from DIFFUSIOND_* variables. lookup is usually
// os.LookupEnv.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	for _, b := range envBindings {
		v, ok := lookup(EnvPrefix + b.key)
		if !ok || v == "" {
			continue
		}
		if err := b.apply(c, v); err != nil {
			return fmt.Errorf("%s%s: %w", EnvPrefix, b.key, err)
		}
	}
	return nil
}
