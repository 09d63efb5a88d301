package account

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/haldis/accountd/pkg/presence"
	"github.com/haldis/accountd/pkg/variant"
)

func TestParameter_RoundTripPerType(t *testing.T) {
	env := newEnv(t)
	env.account.Load()

	cases := []struct {
		name  string
		value variant.Value
	}{
		{"server", variant.String("talk.example.org")},
		{"port", variant.Uint16(5223)},
		{"priority", variant.Int16(-10)},
		{"timeout", variant.Uint32(30)},
		{"quota", variant.Uint64(1 << 40)},
		{"flags", variant.Uint8(7)},
		{"offset", variant.Int32(-5)},
		{"seq", variant.Int64(1 << 40)},
		{"require-encryption", variant.Bool(true)},
		{"fallback-servers", variant.StringList([]string{"a.example.org", "b.example.org"})},
		{"muc-server", variant.ObjectPath("/org/example/Muc")},
	}
	for _, tc := range cases {
		require.NoError(t, env.account.SetParameter(tc.name, tc.value), tc.name)
		got, err := env.account.GetParameter(tc.name)
		require.NoError(t, err, tc.name)
		assert.True(t, variant.Equal(tc.value, got), "%s: %s != %s", tc.name, tc.value, got)
	}
}

func TestParameter_UndeclaredIsRefused(t *testing.T) {
	env := newEnv(t)
	env.account.Load()

	err := env.account.SetParameter("no-such-param", variant.String("x"))
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = env.account.GetParameter("no-such-param")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestParameter_TypeMismatchIsRefused(t *testing.T) {
	env := newEnv(t)
	env.account.Load()

	err := env.account.SetParameter("require-encryption", variant.String("yes"))
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

func TestParameter_CompatibleWidthIsCoerced(t *testing.T) {
	env := newEnv(t)
	env.account.Load()

	// A narrower unsigned value is accepted for a wider unsigned parameter.
	require.NoError(t, env.account.SetParameter("quota", variant.Uint32(42)))
	got, err := env.account.GetParameter("quota")
	require.NoError(t, err)
	assert.Equal(t, uint64(42), got.Uint())
}

func TestParameter_GetWithoutStoredValueFails(t *testing.T) {
	env := newEnv(t)
	env.account.Load()

	_, err := env.account.GetParameter("server")
	assert.ErrorIs(t, err, ErrGetParameterFailed)
}

func TestParameter_UnsetRemovesValue(t *testing.T) {
	env := newEnv(t)
	env.account.Load()

	require.NoError(t, env.account.SetParameter("server", variant.String("talk.example.org")))
	require.NoError(t, env.account.UnsetParameter("server"))

	_, err := env.account.GetParameter("server")
	assert.ErrorIs(t, err, ErrGetParameterFailed)
}

func TestDupParameters_ReturnsStoredDeclaredParams(t *testing.T) {
	env := newEnv(t)
	env.account.Load()

	params := env.account.DupParameters()
	assert.Len(t, params, 2)
	assert.Equal(t, "user@example.org", params["account"].Str())
	assert.Equal(t, "hunter2", params["password"].Str())
}

func TestSetParameters_ValidationIsAllOrNothing(t *testing.T) {
	env := newEnv(t)
	env.account.Load()

	var gotErr error
	env.account.SetParameters(map[string]variant.Value{
		"server": variant.String("talk.example.org"),
		"bogus":  variant.String("x"),
	}, nil, func(_ []string, err error) { gotErr = err })

	assert.ErrorIs(t, gotErr, ErrNotFound)
	_, ok := env.store.Get(testAccountName, paramPrefix+"server")
	assert.False(t, ok, "a failed validation must not store anything")
}

func TestSetParameters_UndeclaredUnsetIsRefused(t *testing.T) {
	env := newEnv(t)
	env.account.Load()

	var gotErr error
	env.account.SetParameters(nil, []string{"bogus"}, func(_ []string, err error) { gotErr = err })
	assert.ErrorIs(t, gotErr, ErrNotFound)
}

func TestSetParameters_OfflineHasNoDeferred(t *testing.T) {
	env := newEnv(t)
	env.account.Load()

	var deferred []string
	var gotErr error
	env.account.SetParameters(map[string]variant.Value{
		"server": variant.String("talk.example.org"),
	}, nil, func(d []string, err error) { deferred, gotErr = d, err })

	require.NoError(t, gotErr)
	assert.Empty(t, deferred, "reconnection tracking only applies while connected")

	got, err := env.account.GetParameter("server")
	require.NoError(t, err)
	assert.Equal(t, "talk.example.org", got.Str())
}

func TestSetParameters_ConnectedClassifiesUpdates(t *testing.T) {
	env, conn := connectedEnv(t)
	env.account.SetConnectionStatus(StatusConnected, ReasonRequested, conn, "", nil)

	var deferred []string
	var gotErr error
	env.account.SetParameters(map[string]variant.Value{
		"resource": variant.String("laptop"),           // live-updatable
		"server":   variant.String("talk.example.org"), // needs reconnect
		"password": variant.String("hunter2"),          // unchanged, skipped
	}, nil, func(d []string, err error) { deferred, gotErr = d, err })

	require.NoError(t, gotErr)
	assert.Equal(t, []string{"server"}, deferred)

	conn.mu.Lock()
	defer conn.mu.Unlock()
	require.Contains(t, conn.updates, "resource")
	assert.Equal(t, "laptop", conn.updates["resource"].Str())
	assert.NotContains(t, conn.updates, "server")
	assert.NotContains(t, conn.updates, "password")
}

func TestSetParameters_UnsetWhileConnectedIsDeferred(t *testing.T) {
	env, conn := connectedEnv(t)
	env.account.SetConnectionStatus(StatusConnected, ReasonRequested, conn, "", nil)
	require.NoError(t, env.account.SetParameter("server", variant.String("talk.example.org")))

	var deferred []string
	env.account.SetParameters(nil, []string{"server"}, func(d []string, err error) {
		require.NoError(t, err)
		deferred = d
	})

	assert.Equal(t, []string{"server"}, deferred)
	_, ok := env.store.Get(testAccountName, paramPrefix+"server")
	assert.False(t, ok)
}

func TestSetParameters_UnsetAbsentKeyNotDeferred(t *testing.T) {
	env, conn := connectedEnv(t)
	env.account.SetConnectionStatus(StatusConnected, ReasonRequested, conn, "", nil)

	var deferred []string
	env.account.SetParameters(nil, []string{"server"}, func(d []string, err error) {
		require.NoError(t, err)
		deferred = d
	})
	assert.Empty(t, deferred)
}

func TestSetParameters_RecheckValidity(t *testing.T) {
	env := newEnv(t)
	env.store.Unset(testAccountName, paramPrefix+"password")
	env.account.Load()
	require.False(t, env.account.IsValid())

	env.account.SetParameters(map[string]variant.Value{
		"password": variant.String("hunter2"),
	}, nil, nil)

	assert.True(t, env.account.IsValid(),
		"supplying the missing required parameter must restore validity")
}

func TestSetParameters_UnsettingRequiredBreaksValidity(t *testing.T) {
	env := newEnv(t)
	env.account.Load()
	require.True(t, env.account.IsValid())

	env.account.SetParameters(nil, []string{"password"}, nil)

	assert.False(t, env.account.IsValid())
}

func TestSetParameters_TriggersAutoconnect(t *testing.T) {
	// Scenario: the account is configured to autoconnect but starts
	// invalid. Completing the configuration via a bulk update must bring
	// it online without further prodding.
	env := newEnv(t, withSeed(keyConnectAutomatically, variant.Bool(true)))
	env.store.Unset(testAccountName, paramPrefix+"password")
	env.account.Load()
	require.Empty(t, env.manager.connections())

	env.account.SetParameters(map[string]variant.Value{
		"password": variant.String("hunter2"),
	}, nil, nil)

	assert.Len(t, env.manager.connections(), 1)
	assert.Equal(t, presence.Available, env.account.RequestedPresence().Kind)
}

func TestParameter_SecretFlagFollowsDeclaration(t *testing.T) {
	env := newEnv(t)
	env.account.Load()

	require.NoError(t, env.account.SetParameter("password", variant.String("swordfish")))
	require.NoError(t, env.store.Commit(testAccountName))

	// The file provider keeps the secret flag alongside the value; a
	// reload must see it survive the round trip.
	got, err := env.account.GetParameter("password")
	require.NoError(t, err)
	assert.Equal(t, "swordfish", got.Str())
}
