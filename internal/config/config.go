// Package config loads and validates the daemon configuration: storage
// backend selection, account defaults, client descriptor directories and
// the maintenance schedules.
package config

import (
	"path/filepath"
	"time"
)

// Config is the full daemon configuration
type Config struct {
	DataDir string `json:"data_dir" mapstructure:"data_dir"`

	Storage     StorageConfig     `json:"storage" mapstructure:"storage"`
	Accounts    AccountsConfig    `json:"accounts" mapstructure:"accounts"`
	Clients     ClientsConfig     `json:"clients" mapstructure:"clients"`
	Maintenance MaintenanceConfig `json:"maintenance" mapstructure:"maintenance"`
	Logging     LoggingConfig     `json:"logging" mapstructure:"logging"`
}

// StorageConfig selects the account-key persistence backend
type StorageConfig struct {
	// Backend is either "file" or "sqlite"
	Backend string `json:"backend" mapstructure:"backend"`

	// Path is the accounts directory (file backend) or the database file
	// (sqlite backend). Empty derives it from DataDir.
	Path string `json:"path,omitempty" mapstructure:"path"`
}

// AccountsConfig holds account-engine defaults
type AccountsConfig struct {
	// DebounceMs is the property-change coalescing window in milliseconds
	DebounceMs int `json:"debounce_ms" mapstructure:"debounce_ms"`

	// AlwaysOn lists unique names of accounts that can never be disabled
	// or sent offline
	AlwaysOn []string `json:"always_on,omitempty" mapstructure:"always_on"`
}

// ClientsConfig configures client descriptor ingestion
type ClientsConfig struct {
	// Dirs are probed in order for `<name>.client` descriptors
	Dirs []string `json:"dirs,omitempty" mapstructure:"dirs"`

	// Watch re-ingests descriptors when they change on disk
	Watch bool `json:"watch" mapstructure:"watch"`

	// StabilityMs debounces descriptor file events
	StabilityMs int `json:"stability_ms" mapstructure:"stability_ms"`
}

// MaintenanceConfig holds the cron schedules for background upkeep
type MaintenanceConfig struct {
	// CommitSchedule flushes dirty storage state
	CommitSchedule string `json:"commit_schedule" mapstructure:"commit_schedule"`

	// AutoconnectSchedule sweeps disconnected accounts that should be
	// online
	AutoconnectSchedule string `json:"autoconnect_schedule" mapstructure:"autoconnect_schedule"`
}

// LoggingConfig mirrors logger.Config
type LoggingConfig struct {
	Level     string `json:"level" mapstructure:"level"`
	File      string `json:"file,omitempty" mapstructure:"file"`
	Console   bool   `json:"console" mapstructure:"console"`
	Pretty    bool   `json:"pretty" mapstructure:"pretty"`
	Redaction bool   `json:"redaction" mapstructure:"redaction"`
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		Storage: StorageConfig{
			Backend: "file",
		},
		Accounts: AccountsConfig{
			DebounceMs: 10,
		},
		Clients: ClientsConfig{
			Watch:       true,
			StabilityMs: 100,
		},
		Maintenance: MaintenanceConfig{
			CommitSchedule:      "@every 5m",
			AutoconnectSchedule: "@every 1m",
		},
		Logging: LoggingConfig{
			Level:     "info",
			Console:   true,
			Pretty:    true,
			Redaction: true,
		},
	}
}

// StoragePath returns the effective storage location for the configured
// backend
func (c *Config) StoragePath() string {
	if c.Storage.Path != "" {
		return c.Storage.Path
	}
	if c.Storage.Backend == "sqlite" {
		return filepath.Join(c.DataDir, "accounts.db")
	}
	return filepath.Join(c.DataDir, "accounts")
}

// Debounce returns the coalescing window as a duration
func (c *Config) Debounce() time.Duration {
	return time.Duration(c.Accounts.DebounceMs) * time.Millisecond
}

// Stability returns the descriptor-watch debounce as a duration
func (c *Config) Stability() time.Duration {
	return time.Duration(c.Clients.StabilityMs) * time.Millisecond
}

// IsAlwaysOn reports whether the unique name is configured always-on
func (c *Config) IsAlwaysOn(uniqueName string) bool {
	for _, name := range c.Accounts.AlwaysOn {
		if name == uniqueName {
			return true
		}
	}
	return false
}
