// Package config loads daemon settings from TOML, YAML or JSON files.
// The filter threshold is deliberately absent: callers pass it on every start.
package config

import (
	"encoding/json"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"
)

const (
	// DirName is the per-user data directory under $HOME.
	DirName = ".clickguard"

	// DefaultListen is the loopback address of the command API.
	DefaultListen = "127.0.0.1:7420"

	envListen   = "CLICKGUARD_LISTEN"
	envLogLevel = "CLICKGUARD_LOG_LEVEL"
)

// Config holds daemon settings.
type Config struct {
	Listen           string `toml:"listen" yaml:"listen" json:"listen"`
	LogLevel         string `toml:"log_level" yaml:"log_level" json:"log_level"`
	LogPath          string `toml:"log_path" yaml:"log_path" json:"log_path"`
	ErrorLogPath     string `toml:"error_log_path" yaml:"error_log_path" json:"error_log_path"`
	DataDir          string `toml:"data_dir" yaml:"data_dir" json:"data_dir"`
	HeartbeatSeconds int    `toml:"heartbeat_seconds" yaml:"heartbeat_seconds" json:"heartbeat_seconds"`
	SubscriberBuffer int    `toml:"subscriber_buffer" yaml:"subscriber_buffer" json:"subscriber_buffer"`
	Metrics          bool   `toml:"metrics" yaml:"metrics" json:"metrics"`
}

// Default returns settings rooted at the current user's home directory.
func Default() *Config {
	home, err := os.UserHomeDir()
	if err != nil {
		home = os.TempDir()
	}
	return DefaultWithHome(home)
}

// DefaultWithHome returns settings rooted at home (for tests).
func DefaultWithHome(home string) *Config {
	dataDir := filepath.Join(home, DirName)
	return &Config{
		Listen:           DefaultListen,
		LogLevel:         "info",
		LogPath:          filepath.Join(dataDir, "clickguard.log"),
		ErrorLogPath:     filepath.Join(dataDir, "clickguard.error.log"),
		DataDir:          dataDir,
		HeartbeatSeconds: 30,
		SubscriberBuffer: 256,
		Metrics:          true,
	}
}

// DefaultPath returns the config file location inside the data dir.
func DefaultPath() string {
	return filepath.Join(Default().DataDir, "config.toml")
}

// HeartbeatInterval returns HeartbeatSeconds as a duration.
func (c *Config) HeartbeatInterval() time.Duration {
	return time.Duration(c.HeartbeatSeconds) * time.Second
}

// Level parses LogLevel.
func (c *Config) Level() (zapcore.Level, error) {
	return zapcore.ParseLevel(c.LogLevel)
}

// RegistryPath is where the running daemon records itself.
func (c *Config) RegistryPath() string {
	return filepath.Join(c.DataDir, "daemon.json")
}

// Validate checks the settings for obvious mistakes.
func (c *Config) Validate() error {
	if _, _, err := net.SplitHostPort(c.Listen); err != nil {
		return fmt.Errorf("listen %q: %w", c.Listen, err)
	}
	if _, err := c.Level(); err != nil {
		return fmt.Errorf("log_level: %w", err)
	}
	if c.DataDir == "" {
		return fmt.Errorf("data_dir must be set")
	}
	if c.HeartbeatSeconds <= 0 {
		return fmt.Errorf("heartbeat_seconds must be positive, got %d", c.HeartbeatSeconds)
	}
	if c.SubscriberBuffer <= 0 {
		return fmt.Errorf("subscriber_buffer must be positive, got %d", c.SubscriberBuffer)
	}
	return nil
}

// ApplyEnvOverrides applies CLICKGUARD_* environment variables.
func (c *Config) ApplyEnvOverrides() {
	if v := os.Getenv(envListen); v != "" {
		c.Listen = v
	}
	if v := os.Getenv(envLogLevel); v != "" {
		c.LogLevel = strings.ToLower(v)
	}
}

// Load reads path, applies environment overrides and validates.
// A missing file yields the defaults.
func Load(path string) (*Config, error) {
	cfg, err := loadFile(path)
	if err != nil {
		return nil, err
	}
	cfg.ApplyEnvOverrides()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

func loadFile(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		if _, err := toml.Decode(string(data), cfg); err != nil {
			return nil, fmt.Errorf("decode TOML: %w", err)
		}
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("decode YAML: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("decode JSON: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported config format %q", filepath.Ext(path))
	}
	return cfg, nil
}
