// Package config resolves settings from defaults, an optional YAML file and
// UNICART_* environment variables, in that order. Command-line flags are
// applied on top by the caller.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/lotas/unicart/internal/types"
)

// DefaultPort is the bridge's WebSocket port.
const DefaultPort = 19192

// Config holds the resolved settings.
type Config struct {
	Port         int    `yaml:"port"`
	DataDir      string `yaml:"data_dir"`
	DatabasePath string `yaml:"database_path"`
	ExportDir    string `yaml:"export_dir"`
	SettleDelay  string `yaml:"settle_delay"`
	Currency     string `yaml:"currency"`
	Readability  *bool  `yaml:"readability"`
}

// Default returns the built-in settings rooted at home.
func Default(home string) *Config {
	data := filepath.Join(home, ".local", "share", "unicart")
	return &Config{
		Port:        DefaultPort,
		DataDir:     data,
		ExportDir:   ".",
		SettleDelay: "3s",
		Currency:    string(types.EUR),
	}
}

// DefaultPath returns ~/.config/unicart/config.yaml.
func DefaultPath(home string) string {
	return filepath.Join(home, ".config", "unicart", "config.yaml")
}

// Load resolves defaults, then the file at path (when it exists), then the
// environment. An empty path means UNICART_CONFIG or DefaultPath.
func Load(path string) (*Config, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("get home directory: %w", err)
	}
	cfg := Default(home)

	if path == "" {
		path = os.Getenv("UNICART_CONFIG")
	}
	if path == "" {
		path = DefaultPath(home)
	}
	if err := cfg.mergeFile(path); err != nil {
		return nil, err
	}
	if err := cfg.mergeEnv(); err != nil {
		return nil, err
	}
	return cfg, cfg.Validate()
}

// mergeFile overlays the YAML file at path. ${VAR} references are expanded
// before parsing. A missing file is not an error.
func (c *Config) mergeFile(path string) error {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}
	expanded := os.ExpandEnv(string(data))
	if err := yaml.Unmarshal([]byte(expanded), c); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

func (c *Config) mergeEnv() error {
	if v := os.Getenv("UNICART_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("UNICART_PORT: %w", err)
		}
		c.Port = port
	}
	c.DataDir = getEnv("UNICART_DATA_DIR", c.DataDir)
	c.DatabasePath = getEnv("UNICART_DB", c.DatabasePath)
	c.SettleDelay = getEnv("UNICART_SETTLE_DELAY", c.SettleDelay)
	c.Currency = getEnv("UNICART_CURRENCY", c.Currency)
	return nil
}

// Validate checks values that would otherwise fail late.
func (c *Config) Validate() error {
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("port %d out of range", c.Port)
	}
	if _, err := c.Settle(); err != nil {
		return err
	}
	if !types.Currency(c.Currency).Valid() {
		return fmt.Errorf("currency %q: want one of EUR, USD, JPY, GBP", c.Currency)
	}
	return nil
}

// DBPath is DatabasePath, or unicart.db inside DataDir.
func (c *Config) DBPath() string {
	if c.DatabasePath != "" {
		return c.DatabasePath
	}
	return filepath.Join(c.DataDir, "unicart.db")
}

// Settle parses SettleDelay.
func (c *Config) Settle() (time.Duration, error) {
	d, err := time.ParseDuration(c.SettleDelay)
	if err != nil {
		return 0, fmt.Errorf("settle delay %q: %w", c.SettleDelay, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("settle delay %q is negative", c.SettleDelay)
	}
	return d, nil
}

// UseReadability reports whether the article-parser fallback is enabled for
// pages downloaded by the CLI. It is off unless the file turns it on.
func (c *Config) UseReadability() bool {
	return c.Readability != nil && *c.Readability
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}
