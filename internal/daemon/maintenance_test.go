package daemon

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/haldis/accountd/pkg/storage"
	"github.com/haldis/accountd/pkg/variant"
)

func TestNewMaintenance_RejectsBadSchedule(t *testing.T) {
	store := newTestStore(t)
	dir, _ := newTestDirectory(t, store, nil)

	_, err := NewMaintenance(MaintenanceConfig{
		CommitSchedule:      "not a schedule",
		AutoconnectSchedule: "@every 1m",
		Directory:           dir,
		Storage:             store,
		Logger:              zerolog.Nop(),
	})
	assert.Error(t, err)

	_, err = NewMaintenance(MaintenanceConfig{
		CommitSchedule:      "@every 1m",
		AutoconnectSchedule: "",
		Directory:           dir,
		Storage:             store,
		Logger:              zerolog.Nop(),
	})
	assert.Error(t, err)
}

func TestCommitSweep_PersistsPendingChanges(t *testing.T) {
	baseDir := t.TempDir()
	store, err := storage.NewFileProvider(baseDir)
	require.NoError(t, err)

	dir, _ := newTestDirectory(t, store, nil)
	m, err := NewMaintenance(MaintenanceConfig{
		CommitSchedule:      "@every 1h",
		AutoconnectSchedule: "@every 1h",
		Directory:           dir,
		Storage:             store,
		Logger:              zerolog.Nop(),
	})
	require.NoError(t, err)

	store.Set("gabble/jabber/pending", "DisplayName", variant.String("Draft"), false)
	m.commitSweep()

	reopened, err := storage.NewFileProvider(baseDir)
	require.NoError(t, err)
	v, ok := reopened.Get("gabble/jabber/pending", "DisplayName")
	require.True(t, ok)
	assert.Equal(t, "Draft", v.Str())
}

func TestAutoconnectSweep_ConnectsEligibleAccounts(t *testing.T) {
	store := newTestStore(t)
	seedAccount(t, store, "gabble/jabber/auto", true, true)

	gate := &fakeGate{}
	dir, managers := newTestDirectory(t, store, gate)

	_, err := dir.LoadAll()
	require.NoError(t, err)

	mgr, _ := managers.LookupManager("gabble")
	fm := mgr.(*fakeManager)
	require.Empty(t, fm.connections(), "gated account must not connect at load")

	m, err := NewMaintenance(MaintenanceConfig{
		CommitSchedule:      "@every 1h",
		AutoconnectSchedule: "@every 1h",
		Directory:           dir,
		Storage:             store,
		Logger:              zerolog.Nop(),
	})
	require.NoError(t, err)

	gate.setAllow(true)
	m.autoconnectSweep()

	conns := fm.connections()
	require.Len(t, conns, 1)
	assert.Equal(t, 1, conns[0].connectCalls())
}

func TestMaintenance_StartStop(t *testing.T) {
	store := newTestStore(t)
	dir, _ := newTestDirectory(t, store, nil)

	m, err := NewMaintenance(MaintenanceConfig{
		CommitSchedule:      "@every 1h",
		AutoconnectSchedule: "@every 1h",
		Directory:           dir,
		Storage:             store,
		Logger:              zerolog.Nop(),
	})
	require.NoError(t, err)

	m.Start()
	m.Stop()
}
