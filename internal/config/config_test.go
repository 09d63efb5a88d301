package config

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, "file", cfg.Storage.Backend)
	assert.Equal(t, 10, cfg.Accounts.DebounceMs)
	assert.True(t, cfg.Clients.Watch)
	assert.Equal(t, "@every 5m", cfg.Maintenance.CommitSchedule)
	assert.Equal(t, "@every 1m", cfg.Maintenance.AutoconnectSchedule)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.True(t, cfg.Logging.Redaction)
}

func TestStoragePath(t *testing.T) {
	cfg := DefaultConfig()
	cfg.DataDir = "/var/lib/accountd"

	assert.Equal(t, filepath.Join("/var/lib/accountd", "accounts"), cfg.StoragePath())

	cfg.Storage.Backend = "sqlite"
	assert.Equal(t, filepath.Join("/var/lib/accountd", "accounts.db"), cfg.StoragePath())

	cfg.Storage.Path = "/tmp/custom.db"
	assert.Equal(t, "/tmp/custom.db", cfg.StoragePath())
}

func TestDurations(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, 10*time.Millisecond, cfg.Debounce())
	assert.Equal(t, 100*time.Millisecond, cfg.Stability())
}

func TestIsAlwaysOn(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Accounts.AlwaysOn = []string{"ring/tel/emergency"}

	assert.True(t, cfg.IsAlwaysOn("ring/tel/emergency"))
	assert.False(t, cfg.IsAlwaysOn("gabble/jabber/work"))
}
