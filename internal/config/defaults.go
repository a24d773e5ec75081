package config

import (
	"os"
	"path/filepath"

	"svs-converter/internal/domain"
)

const (
	defaultDataDir                  = "~/.svs-converter"
	defaultEngineURL                = "http://127.0.0.1:1229"
	defaultEngineCommand            = "svs-engine"
	defaultRequestTimeoutSeconds    = 10
	defaultProbeIntervalSeconds     = 2
	defaultReconnectIntervalSeconds = 2
	defaultStorageBackend           = StorageBackendSQLite
	defaultLogLevel                 = "info"
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Engine: Engine{
			URL:                      defaultEngineURL,
			Command:                  defaultEngineCommand,
			RequestTimeoutSeconds:    defaultRequestTimeoutSeconds,
			ProbeIntervalSeconds:     defaultProbeIntervalSeconds,
			ReconnectIntervalSeconds: defaultReconnectIntervalSeconds,
		},
		Storage: Storage{
			Backend: defaultStorageBackend,
			Dir:     defaultDataDir,
		},
		Logging: Logging{
			Level: defaultLogLevel,
		},
	}
}

// DefaultSettings returns baseline user preferences for first launch.
func DefaultSettings() domain.Settings {
	outputDir := "."
	if homeDir, err := os.UserHomeDir(); err == nil {
		outputDir = filepath.Join(homeDir, "Documents")
	}

	return domain.Settings{
		Language:           "en_US",
		ThemeMode:          domain.ThemeModeSystem,
		ConversionMode:     domain.ConversionModeDirect,
		MaxTrackCount:      1,
		OutputDirectory:    outputDir,
		ConflictPolicy:     domain.ConflictPolicyOverwrite,
		RevealFileOnFinish: true,
	}
}
