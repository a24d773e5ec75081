package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"svs-converter/internal/domain"
)

// StorageKey is the fixed identifier the settings blob is stored under.
const StorageKey = "setting-storage"

// Store defines persistence operations for user settings.
type Store interface {
	Load() (domain.Settings, error)
	Save(domain.Settings) error
}

// envelope is the versioned wrapper persisted under StorageKey.
type envelope struct {
	State   json.RawMessage `json:"state"`
	Version int             `json:"version"`
}

func encodeSettings(settings domain.Settings) ([]byte, error) {
	state, err := json.Marshal(settings)
	if err != nil {
		return nil, err
	}
	return json.Marshal(envelope{State: state})
}

// decodeSettings merges a stored blob over DefaultSettings so fields added
// after the blob was written keep their defaults.
func decodeSettings(data []byte) (domain.Settings, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return domain.Settings{}, fmt.Errorf("decode settings envelope: %w", err)
	}

	settings := DefaultSettings()
	if len(env.State) == 0 {
		return settings, nil
	}
	if err := json.Unmarshal(env.State, &settings); err != nil {
		return domain.Settings{}, fmt.Errorf("decode settings state: %w", err)
	}
	return settings, nil
}

// JSONStore persists settings in a JSON file keyed by StorageKey.
type JSONStore struct {
	path string
}

// NewJSONStore creates a JSON-backed settings store.
func NewJSONStore(path string) *JSONStore {
	return &JSONStore{path: path}
}

// Load reads settings from disk or returns defaults when missing.
func (s *JSONStore) Load() (domain.Settings, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return DefaultSettings(), nil
		}
		return domain.Settings{}, err
	}

	var entries map[string]json.RawMessage
	if err := json.Unmarshal(data, &entries); err != nil {
		return domain.Settings{}, err
	}
	blob, ok := entries[StorageKey]
	if !ok {
		return DefaultSettings(), nil
	}
	return decodeSettings(blob)
}

// Save writes settings as indented JSON and creates parent directories.
func (s *JSONStore) Save(settings domain.Settings) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return err
	}

	blob, err := encodeSettings(settings)
	if err != nil {
		return err
	}
	data, err := json.MarshalIndent(map[string]json.RawMessage{StorageKey: blob}, "", "  ")
	if err != nil {
		return err
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}
