package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

const (
	StorageBackendSQLite = "sqlite"
	StorageBackendJSON   = "json"
)

// Engine configures how the shell reaches the conversion engine.
type Engine struct {
	URL                      string   `toml:"url"`
	Command                  string   `toml:"command"`
	Args                     []string `toml:"args"`
	RequestTimeoutSeconds    int      `toml:"request_timeout_seconds"`
	ProbeIntervalSeconds     int      `toml:"probe_interval_seconds"`
	ReconnectIntervalSeconds int      `toml:"reconnect_interval_seconds"`
}

// Storage selects where user settings are persisted.
type Storage struct {
	Backend string `toml:"backend"`
	Dir     string `toml:"dir"`
}

// Logging contains configuration for log output.
type Logging struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
	Dir    string `toml:"dir"`
}

// Config is the application configuration loaded from config.toml.
type Config struct {
	Engine  Engine  `toml:"engine"`
	Storage Storage `toml:"storage"`
	Logging Logging `toml:"logging"`
}

// RequestTimeout returns the per-call engine timeout.
func (c *Config) RequestTimeout() time.Duration {
	return time.Duration(c.Engine.RequestTimeoutSeconds) * time.Second
}

// ProbeInterval returns the delay between engine version probes.
func (c *Config) ProbeInterval() time.Duration {
	return time.Duration(c.Engine.ProbeIntervalSeconds) * time.Second
}

// ReconnectInterval returns the delay before re-subscribing to engine events.
func (c *Config) ReconnectInterval() time.Duration {
	return time.Duration(c.Engine.ReconnectIntervalSeconds) * time.Second
}

// SettingsPath returns the settings file for the configured backend.
func (c *Config) SettingsPath() string {
	if c.Storage.Backend == StorageBackendJSON {
		return filepath.Join(c.Storage.Dir, "settings.json")
	}
	return filepath.Join(c.Storage.Dir, "settings.db")
}

// LockPath returns the single-instance lock file.
func (c *Config) LockPath() string {
	return filepath.Join(c.Storage.Dir, "instance.lock")
}

// DefaultConfigPath returns the location of the optional config file.
func DefaultConfigPath() (string, error) {
	return expandPath(filepath.Join(defaultDataDir, "config.toml"))
}

// Load parses the config file at path, falling back to defaults when the
// file is absent. An empty path selects DefaultConfigPath. The returned
// config has all path fields expanded.
func Load(path string) (*Config, error) {
	cfg := Default()

	if strings.TrimSpace(path) == "" {
		defaultPath, err := DefaultConfigPath()
		if err != nil {
			return nil, err
		}
		path = defaultPath
	}

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := toml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	case errors.Is(err, fs.ErrNotExist):
	default:
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := cfg.normalize(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects values the shell cannot run with.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Engine.URL) == "" {
		return errors.New("engine.url must not be empty")
	}
	switch c.Storage.Backend {
	case StorageBackendSQLite, StorageBackendJSON:
	default:
		return fmt.Errorf("storage.backend: unsupported value %q", c.Storage.Backend)
	}
	if c.Engine.RequestTimeoutSeconds <= 0 {
		return errors.New("engine.request_timeout_seconds must be positive")
	}
	if c.Engine.ProbeIntervalSeconds <= 0 {
		return errors.New("engine.probe_interval_seconds must be positive")
	}
	if c.Engine.ReconnectIntervalSeconds <= 0 {
		return errors.New("engine.reconnect_interval_seconds must be positive")
	}
	return nil
}

// EnsureDirectories creates the storage and log directories.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Storage.Dir, c.Logging.Dir} {
		if strings.TrimSpace(dir) == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

func (c *Config) normalize() error {
	c.Engine.URL = strings.TrimRight(strings.TrimSpace(c.Engine.URL), "/")
	c.Engine.Command = strings.TrimSpace(c.Engine.Command)
	c.Storage.Backend = strings.ToLower(strings.TrimSpace(c.Storage.Backend))

	var err error
	if c.Storage.Dir, err = expandPath(c.Storage.Dir); err != nil {
		return err
	}
	if c.Logging.Dir, err = expandPath(c.Logging.Dir); err != nil {
		return err
	}
	return nil
}

func expandPath(pathValue string) (string, error) {
	pathValue = strings.TrimSpace(pathValue)
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	absolute, err := filepath.Abs(filepath.Clean(pathValue))
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", pathValue, err)
	}
	return absolute, nil
}
