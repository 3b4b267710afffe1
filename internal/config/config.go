// Package config loads the optional pkgbuild.yaml configuration file and
// applies defaults and environment overrides.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	perrors "git.home.luguber.info/inful/pkgbuild/internal/errors"
)

// DefaultFileName is looked up in the working directory when no --config
// flag is given.
const DefaultFileName = "pkgbuild.yaml"

// Environment overrides. They win over the file and lose to CLI flags.
const (
	EnvStore       = "PKGBUILD_STORE"
	EnvConcurrency = "PKGBUILD_CONCURRENCY"
	EnvLogLevel    = "PKGBUILD_LOG_LEVEL"
)

// Config is the top-level configuration.
type Config struct {
	StoreDir      string        `yaml:"store_dir"`
	Concurrency   int           `yaml:"concurrency"`
	KeepBuildDirs bool          `yaml:"keep_build_dirs"`
	MetricsFile   string        `yaml:"metrics_file"`
	Logging       LoggingConfig `yaml:"logging"`
	Sandbox       SandboxConfig `yaml:"sandbox"`
	Watch         WatchConfig   `yaml:"watch"`
}

// LoggingConfig controls the slog handler installed by the CLI.
type LoggingConfig struct {
	Level  LogLevel  `yaml:"level"`
	Format LogFormat `yaml:"format"`
}

// SandboxConfig controls what leaks from the invoking environment into builds.
type SandboxConfig struct {
	// EnvAllowlist restricts the base environment. Entries ending in '*'
	// match by prefix. Empty passes the whole environment through.
	EnvAllowlist []string `yaml:"env_allowlist"`
}

// WatchConfig tunes the watch command.
type WatchConfig struct {
	Debounce time.Duration `yaml:"debounce"`
}

// Default returns the configuration used when no file exists.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

// Load reads the configuration at path. An empty path falls back to
// DefaultFileName in the working directory, and to defaults if that file
// does not exist. An explicit path that does not exist is an error.
func Load(path string) (*Config, error) {
	explicit := path != ""
	if !explicit {
		path = DefaultFileName
	}

	data, err := os.ReadFile(filepath.Clean(path))
	switch {
	case err == nil:
	case errors.Is(err, os.ErrNotExist) && !explicit:
		cfg := Default()
		if err := cfg.applyEnv(); err != nil {
			return nil, err
		}
		return cfg, nil
	default:
		return nil, perrors.ConfigInvalid(path, err)
	}

	cfg, err := Parse([]byte(os.ExpandEnv(string(data))))
	if err != nil {
		return nil, perrors.ConfigInvalid(path, err)
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Parse decodes YAML, rejecting unknown keys, and applies defaults.
func Parse(data []byte) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Concurrency <= 0 {
		c.Concurrency = runtime.NumCPU()
	}
	c.Logging.Level = NormalizeLogLevel(string(c.Logging.Level))
	c.Logging.Format = NormalizeLogFormat(string(c.Logging.Format))
	if c.Watch.Debounce <= 0 {
		c.Watch.Debounce = 500 * time.Millisecond
	}
}

func (c *Config) applyEnv() error {
	if v := os.Getenv(EnvStore); v != "" {
		c.StoreDir = v
	}
	if v := os.Getenv(EnvConcurrency); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return perrors.ConfigInvalid(EnvConcurrency, fmt.Errorf("must be a positive integer, got %q", v))
		}
		c.Concurrency = n
	}
	if v := os.Getenv(EnvLogLevel); v != "" {
		c.Logging.Level = NormalizeLogLevel(v)
	}
	return nil
}

// Validate checks field combinations that defaults cannot repair.
func (c *Config) Validate() error {
	for _, entry := range c.Sandbox.EnvAllowlist {
		if entry == "" || entry == "*" {
			return fmt.Errorf("sandbox.env_allowlist: invalid entry %q", entry)
		}
	}
	return nil
}
