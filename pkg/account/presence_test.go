package account

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/haldis/accountd/pkg/presence"
	"github.com/haldis/accountd/pkg/variant"
)

func TestRequestPresence_RefusesUnsettableKinds(t *testing.T) {
	env := newEnv(t)
	env.account.Load()

	for _, kind := range []presence.Kind{presence.Unset, presence.Unknown, presence.Error} {
		_, err := env.account.RequestPresence(presence.Presence{Kind: kind})
		assert.ErrorIs(t, err, ErrInvalidArgument, "kind %s", kind)
	}
}

func TestRequestPresence_AlwaysOnRefusesOffline(t *testing.T) {
	env := newEnv(t, withAlwaysOn())
	env.account.Load()

	_, err := env.account.RequestPresence(presence.Presence{Kind: presence.Offline, Status: "offline"})
	assert.ErrorIs(t, err, ErrPermissionDenied)
}

func TestRequestPresence_DisabledStoresWithoutConnecting(t *testing.T) {
	env := newEnv(t, withSeed(keyEnabled, variant.Bool(false)))
	env.account.Load()

	before := env.account.CurrentPresence()
	changed, err := env.account.RequestPresence(presence.Presence{Kind: presence.Available, Status: "available"})
	require.NoError(t, err)

	assert.True(t, changed)
	assert.Empty(t, env.manager.connections(), "no connection attempt while disabled")
	assert.Equal(t, before, env.account.CurrentPresence(), "current presence never changes directly")
	assert.Equal(t, presence.Available, env.account.RequestedPresence().Kind,
		"requested values are stored for later reuse")
}

func TestRequestPresence_InvalidAccountStoresWithoutConnecting(t *testing.T) {
	env := newEnv(t)
	env.store.Unset(testAccountName, paramPrefix+"password")
	env.account.Load()
	require.False(t, env.account.IsValid())

	changed, err := env.account.RequestPresence(presence.Presence{Kind: presence.Away, Status: "away"})
	require.NoError(t, err)

	assert.True(t, changed)
	assert.Empty(t, env.manager.connections())
}

func TestRequestPresence_StartsConnection(t *testing.T) {
	env := newEnv(t)
	env.account.Load()

	changed, err := env.account.RequestPresence(presence.Presence{Kind: presence.Available, Status: "available", Message: "hi"})
	require.NoError(t, err)
	assert.True(t, changed)
	assert.True(t, env.account.IsChangingPresence())

	conns := env.manager.connections()
	require.Len(t, conns, 1)
	require.Len(t, conns[0].connectCalls, 1)

	// The connect carries the current parameters.
	params := conns[0].connectCalls[0]
	assert.Equal(t, "user@example.org", params["account"].Str())
	assert.Equal(t, "hunter2", params["password"].Str())
}

func TestRequestPresence_ForwardsToOwnedConnection(t *testing.T) {
	env := newEnv(t)
	env.account.Load()

	_, err := env.account.RequestPresence(presence.Presence{Kind: presence.Available, Status: "available"})
	require.NoError(t, err)
	conns := env.manager.connections()
	require.Len(t, conns, 1)

	away := presence.Presence{Kind: presence.Away, Status: "away", Message: "lunch"}
	changed, err := env.account.RequestPresence(away)
	require.NoError(t, err)
	assert.True(t, changed)

	last, ok := conns[0].lastPresence()
	require.True(t, ok)
	assert.Equal(t, away, last)
	assert.Len(t, env.manager.connections(), 1, "no second connection is created")
}

func TestRequestPresence_OfflineWithNoConnectionIsNoop(t *testing.T) {
	env := newEnv(t)
	env.account.Load()

	changed, err := env.account.RequestPresence(presence.Presence{Kind: presence.Offline, Status: "offline"})
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Empty(t, env.manager.connections())
}

func TestRequestPresence_UnchangedTripleReportsNoChange(t *testing.T) {
	env := newEnv(t)
	env.account.Load()

	p := presence.Presence{Kind: presence.Available, Status: "available"}
	changed, err := env.account.RequestPresence(p)
	require.NoError(t, err)
	assert.True(t, changed)

	changed, err = env.account.RequestPresence(p)
	require.NoError(t, err)
	assert.False(t, changed)
}

func TestMaybeAutoconnect_IssuesAutomaticPresence(t *testing.T) {
	// Scenario: enabled, valid, autoconnect configured and transport
	// conditions satisfied.
	env := newEnv(t,
		withSeed(keyConnectAutomatically, variant.Bool(true)),
		withGate(&fakeGate{satisfied: true}))

	auto := presence.Presence{Kind: presence.Busy, Status: "dnd", Message: "working"}
	env.store.Set(testAccountName, keyAutoPresenceKind, variant.Uint32(uint32(auto.Kind)), false)
	env.store.SetString(testAccountName, keyAutoPresenceStatus, auto.Status, false)
	env.store.SetString(testAccountName, keyAutoPresenceMessage, auto.Message, false)

	env.account.Load()

	assert.Equal(t, auto, env.account.RequestedPresence(),
		"autoconnect must request exactly the automatic presence triple")
	assert.Len(t, env.manager.connections(), 1)
}

func TestMaybeAutoconnect_GateBlocks(t *testing.T) {
	env := newEnv(t,
		withSeed(keyConnectAutomatically, variant.Bool(true)),
		withGate(&fakeGate{satisfied: false}))

	env.account.Load()

	assert.Empty(t, env.manager.connections())
	assert.Equal(t, presence.Unset, env.account.RequestedPresence().Kind)
}

func TestMaybeAutoconnect_RequiresDisconnected(t *testing.T) {
	env := newEnv(t, withSeed(keyConnectAutomatically, variant.Bool(true)))
	env.account.Load()

	conns := env.manager.connections()
	require.Len(t, conns, 1)
	env.account.SetConnectionStatus(StatusConnected, ReasonRequested, conns[0], "", nil)

	env.account.MaybeAutoconnect()
	assert.Len(t, env.manager.connections(), 1, "no new attempt while connected")
}

func TestSelfPresenceCallback_UpdatesCurrentPresence(t *testing.T) {
	env := newEnv(t)
	env.account.Load()

	_, err := env.account.RequestPresence(presence.Presence{Kind: presence.Available, Status: "available"})
	require.NoError(t, err)
	conns := env.manager.connections()
	require.Len(t, conns, 1)
	require.True(t, env.account.IsChangingPresence())

	got := presence.Presence{Kind: presence.Available, Status: "available", Message: "here"}
	conns[0].emitSelfPresence(got)

	assert.Equal(t, got, env.account.CurrentPresence())
	assert.False(t, env.account.IsChangingPresence())
}

func TestSelfPresenceCallback_RaisesPresenceEvent(t *testing.T) {
	env := newEnv(t)
	env.account.Load()

	var seen []presence.Presence
	env.account.events.PresenceChanged = func(p presence.Presence) { seen = append(seen, p) }

	_, err := env.account.RequestPresence(presence.Presence{Kind: presence.Available, Status: "available"})
	require.NoError(t, err)
	conns := env.manager.connections()
	require.Len(t, conns, 1)

	got := presence.Presence{Kind: presence.Busy, Status: "busy"}
	conns[0].emitSelfPresence(got)
	conns[0].emitSelfPresence(got)

	assert.Equal(t, []presence.Presence{got}, seen, "unchanged presence must not re-raise the event")
}

func TestSetAutomaticPresence_RequiresOnlineKind(t *testing.T) {
	env := newEnv(t)

	err := env.account.SetAutomaticPresence(presence.Presence{Kind: presence.Offline, Status: "offline"})
	assert.ErrorIs(t, err, ErrInvalidArgument)

	auto := presence.Presence{Kind: presence.Away, Status: "away"}
	require.NoError(t, env.account.SetAutomaticPresence(auto))
	assert.Equal(t, auto, env.account.AutomaticPresence())
}
