package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// DefaultSettingsPath is the path to the canonical settings defaults file.
const DefaultSettingsPath = "config/whereabouts.defaults.json"

// Storage backends understood by the datastore.
const (
	BackendFile   = "file"
	BackendSQLite = "sqlite"
)

const maxSettingsFileSize = 1 * 1024 * 1024 // 1MB

// Settings is the root runtime configuration. Fields omitted from the JSON
// file fall back to the defaults returned by the Get* accessors.
type Settings struct {
	// Storage
	DataDir        *string  `json:"data_dir,omitempty"`
	Backend        *string  `json:"backend,omitempty"` // "file" or "sqlite"
	SQLitePath     *string  `json:"sqlite_path,omitempty"`
	Categories     []string `json:"categories,omitempty"`
	TailChunkBytes *int     `json:"tail_chunk_bytes,omitempty"`

	// Catalogs
	FingerprintDir *string `json:"fingerprint_dir,omitempty"`
	ConfigDir      *string `json:"config_dir,omitempty"`

	// Watch loop
	WatchInterval *string `json:"watch_interval,omitempty"` // duration string like "10s"
	MetricsListen *string `json:"metrics_listen,omitempty"` // e.g. ":9109", empty disables

	Debug *bool `json:"debug,omitempty"`
}

// EmptySettings returns Settings with every field unset.
func EmptySettings() *Settings {
	return &Settings{}
}

// LoadSettings loads Settings from a JSON file. The file must have a .json
// extension and be no larger than 1MB.
func LoadSettings(path string) (*Settings, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("settings file must have .json extension, got %q", ext)
	}

	info, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat settings file: %w", err)
	}
	if info.Size() > maxSettingsFileSize {
		return nil, fmt.Errorf("settings file too large: %d bytes (max %d)", info.Size(), maxSettingsFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read settings file: %w", err)
	}

	s := EmptySettings()
	if err := json.Unmarshal(data, s); err != nil {
		return nil, fmt.Errorf("failed to parse settings JSON: %w", err)
	}
	if err := s.Validate(); err != nil {
		return nil, fmt.Errorf("invalid settings: %w", err)
	}
	return s, nil
}

// Validate checks that the set values are usable. Every problem found is
// reported.
func (s *Settings) Validate() error {
	var errs []error

	if s.Backend != nil {
		switch *s.Backend {
		case BackendFile, BackendSQLite:
		default:
			errs = append(errs, fmt.Errorf("backend must be %q or %q, got %q", BackendFile, BackendSQLite, *s.Backend))
		}
	}
	if s.TailChunkBytes != nil && *s.TailChunkBytes < 64 {
		errs = append(errs, fmt.Errorf("tail_chunk_bytes must be at least 64, got %d", *s.TailChunkBytes))
	}
	if s.WatchInterval != nil && *s.WatchInterval != "" {
		d, err := time.ParseDuration(*s.WatchInterval)
		if err != nil {
			errs = append(errs, fmt.Errorf("invalid watch_interval '%s': %w", *s.WatchInterval, err))
		} else if d <= 0 {
			errs = append(errs, fmt.Errorf("watch_interval must be positive, got %s", d))
		}
	}
	for _, c := range s.Categories {
		if c == "" {
			errs = append(errs, errors.New("categories must not contain empty names"))
			break
		}
	}
	return errors.Join(errs...)
}

// GetDataDir returns data_dir or the default.
func (s *Settings) GetDataDir() string {
	if s.DataDir == nil || *s.DataDir == "" {
		return "data_logs"
	}
	return *s.DataDir
}

// GetBackend returns backend or the default.
func (s *Settings) GetBackend() string {
	if s.Backend == nil || *s.Backend == "" {
		return BackendFile
	}
	return *s.Backend
}

// GetSQLitePath returns sqlite_path, defaulting to whereabouts.db inside the
// data directory.
func (s *Settings) GetSQLitePath() string {
	if s.SQLitePath == nil || *s.SQLitePath == "" {
		return filepath.Join(s.GetDataDir(), "whereabouts.db")
	}
	return *s.SQLitePath
}

// GetCategories returns the known log categories.
func (s *Settings) GetCategories() []string {
	if len(s.Categories) == 0 {
		return []string{"raw_data", "inference_data"}
	}
	return append([]string(nil), s.Categories...)
}

// GetTailChunkBytes returns tail_chunk_bytes or the default.
func (s *Settings) GetTailChunkBytes() int {
	if s.TailChunkBytes == nil {
		return 4096
	}
	return *s.TailChunkBytes
}

// GetFingerprintDir returns fingerprint_dir or the default.
func (s *Settings) GetFingerprintDir() string {
	if s.FingerprintDir == nil || *s.FingerprintDir == "" {
		return "fingerprints"
	}
	return *s.FingerprintDir
}

// GetConfigDir returns config_dir or the default.
func (s *Settings) GetConfigDir() string {
	if s.ConfigDir == nil || *s.ConfigDir == "" {
		return "configs"
	}
	return *s.ConfigDir
}

// FingerprintCatalogPath is the calibrated fingerprint catalog file.
func (s *Settings) FingerprintCatalogPath() string {
	return filepath.Join(s.GetFingerprintDir(), "calibrated_fingerprints.json")
}

// InferenceConfigPath is the inference configuration catalog file.
func (s *Settings) InferenceConfigPath() string {
	return filepath.Join(s.GetConfigDir(), "inference_configs.json")
}

// GetWatchInterval parses watch_interval, falling back to 10s.
func (s *Settings) GetWatchInterval() time.Duration {
	if s.WatchInterval == nil || *s.WatchInterval == "" {
		return 10 * time.Second
	}
	d, err := time.ParseDuration(*s.WatchInterval)
	if err != nil || d <= 0 {
		return 10 * time.Second
	}
	return d
}

// GetMetricsListen returns metrics_listen; empty means metrics are not served.
func (s *Settings) GetMetricsListen() string {
	if s.MetricsListen == nil {
		return ""
	}
	return *s.MetricsListen
}

// GetDebug returns debug or false.
func (s *Settings) GetDebug() bool {
	return s.Debug != nil && *s.Debug
}
