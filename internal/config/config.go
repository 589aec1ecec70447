package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator"
	"github.com/mitchellh/go-homedir"
	"gopkg.in/yaml.v3"
)

const appName = "fitsedit"

type Config struct {
	// PanelAddr is where panel pages and sockets are served.
	PanelAddr string `json:"panel_addr" yaml:"panel_addr" validate:"required"`
	// ViewerScript is the URL of the FITS viewer library loaded by panels.
	ViewerScript string `json:"viewer_script" yaml:"viewer_script" validate:"omitempty,url"`
	// RequestTimeoutMs bounds every request sent to a panel. 0 waits forever.
	RequestTimeoutMs int `json:"request_timeout_ms" yaml:"request_timeout_ms" validate:"min=0"`
	// BackupDB is the sqlite file holding hot-exit backups.
	BackupDB string `json:"backup_db" yaml:"backup_db" validate:"required"`
	// BackupMaxAgeHours is how long a backup survives before pruning. 0 keeps them.
	BackupMaxAgeHours int      `json:"backup_max_age_hours" yaml:"backup_max_age_hours" validate:"min=0"`
	Editable          bool     `json:"editable" yaml:"editable"`
	WatchFiles        bool     `json:"watch_files" yaml:"watch_files"`
	FileExtensions    []string `json:"file_extensions" yaml:"file_extensions" validate:"required,dive,startswith=."`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		PanelAddr:         "127.0.0.1:0",
		RequestTimeoutMs:  30000,
		BackupDB:          filepath.Join(StateHome(), appName, "backups.db"),
		BackupMaxAgeHours: 24 * 7,
		Editable:          true,
		WatchFiles:        true,
		FileExtensions:    []string{".fits", ".fit", ".fts"},
	}
}

func (c Config) RequestTimeout() time.Duration {
	return time.Duration(c.RequestTimeoutMs) * time.Millisecond
}

func (c Config) BackupMaxAge() time.Duration {
	return time.Duration(c.BackupMaxAgeHours) * time.Hour
}

// Handles reports whether path has one of the configured extensions.
func (c Config) Handles(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	for _, e := range c.FileExtensions {
		if strings.ToLower(e) == ext {
			return true
		}
	}
	return false
}

// Validate checks field constraints and expands the backup path.
func (c *Config) Validate() error {
	expanded, err := homedir.Expand(c.BackupDB)
	if err != nil {
		return fmt.Errorf("failed to expand backup_db: %w", err)
	}
	c.BackupDB = expanded

	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// Load merges v, typically LSP initializationOptions, over the defaults.
func Load(v any) (Config, error) {
	return Merge(Default(), v)
}

// Merge overlays the fields present in v onto base.
func Merge(base Config, v any) (Config, error) {
	cfg := base
	cfg.FileExtensions = append([]string{}, base.FileExtensions...)
	if v == nil {
		err := cfg.Validate()
		return cfg, err
	}

	data, err := json.Marshal(v)
	if err != nil {
		return Config{}, fmt.Errorf("failed to marshal source: %w", err)
	}

	// only fields present in src will overwrite.
	if err := json.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to unmarshal into Config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// LoadFromJSON reads JSON from r into a Config.
func LoadFromJSON(r io.Reader) (Config, error) {
	cfg := Default()

	decoder := json.NewDecoder(r)
	if err := decoder.Decode(&cfg); err != nil {
		return Config{}, err
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// LoadFile reads a config file, JSON for .json and YAML otherwise. A leading
// ~ is expanded.
func LoadFile(path string) (Config, error) {
	expanded, err := homedir.Expand(path)
	if err != nil {
		return Config{}, err
	}
	data, err := os.ReadFile(expanded)
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config %s: %w", expanded, err)
	}

	if strings.EqualFold(filepath.Ext(expanded), ".json") {
		cfg, err := LoadFromJSON(bytes.NewReader(data))
		if err != nil {
			return Config{}, fmt.Errorf("failed to parse config %s: %w", expanded, err)
		}
		return cfg, nil
	}

	cfg := Default()
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&cfg); err != nil && err != io.EOF {
		return Config{}, fmt.Errorf("failed to parse config %s: %w", expanded, err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// StateHome returns $XDG_STATE_HOME or its default.
func StateHome() string {
	if dir := os.Getenv("XDG_STATE_HOME"); dir != "" {
		return dir
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return os.TempDir()
	}
	return filepath.Join(homeDir, ".local", "state")
}
