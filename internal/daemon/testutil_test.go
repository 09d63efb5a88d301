package daemon

import (
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/haldis/accountd/pkg/account"
	"github.com/haldis/accountd/pkg/presence"
	"github.com/haldis/accountd/pkg/storage"
	"github.com/haldis/accountd/pkg/variant"
)

type fakeManager struct {
	mu        sync.Mutex
	protocols map[string]*account.Protocol
	conns     []*fakeConnection
}

func newFakeManager() *fakeManager {
	return &fakeManager{
		protocols: map[string]*account.Protocol{
			"jabber": {
				Name: "jabber",
				Params: []account.ParamSpec{
					{Name: "account", Signature: "s", Required: true},
					{Name: "password", Signature: "s", Secret: true},
					{Name: "server", Signature: "s"},
				},
			},
		},
	}
}

func (m *fakeManager) CallWhenReady(cb func(error)) { cb(nil) }

func (m *fakeManager) Protocol(name string) (*account.Protocol, bool) {
	proto, ok := m.protocols[name]
	return proto, ok
}

func (m *fakeManager) CreateConnection(accountName string) (account.Connection, error) {
	conn := &fakeConnection{path: "/conn/" + accountName}
	m.mu.Lock()
	m.conns = append(m.conns, conn)
	m.mu.Unlock()
	return conn, nil
}

func (m *fakeManager) connections() []*fakeConnection {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*fakeConnection(nil), m.conns...)
}

type fakeConnection struct {
	mu       sync.Mutex
	path     string
	events   account.ConnectionEvents
	connects int
}

func (c *fakeConnection) ObjectPath() string { return c.path }

func (c *fakeConnection) Subscribe(events account.ConnectionEvents) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = events
}

func (c *fakeConnection) Unsubscribe() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = account.ConnectionEvents{}
}

func (c *fakeConnection) Connect(params map[string]variant.Value) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connects++
	return nil
}

func (c *fakeConnection) RequestPresence(p presence.Presence)              {}
func (c *fakeConnection) SetNickname(nickname string)                      {}
func (c *fakeConnection) SetAvatar(data []byte, mimeType string)           {}
func (c *fakeConnection) UpdateParameter(name string, value variant.Value) {}
func (c *fakeConnection) Close()                                           {}

func (c *fakeConnection) connectCalls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connects
}

type fakeGate struct {
	mu    sync.Mutex
	allow bool
}

func (g *fakeGate) ConditionsSatisfied(accountName string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.allow
}

func (g *fakeGate) setAllow(allow bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.allow = allow
}

func newTestStore(t *testing.T) *storage.FileProvider {
	t.Helper()
	store, err := storage.NewFileProvider(t.TempDir())
	require.NoError(t, err)
	return store
}

func newTestDirectory(t *testing.T, store storage.Port, gate account.TransportGate) (*Directory, *ManagerRegistry) {
	t.Helper()
	managers := NewManagerRegistry()
	managers.Register("gabble", newFakeManager())

	dir, err := NewDirectory(DirectoryConfig{
		Storage:   store,
		Managers:  managers,
		Transport: gate,
		DataDir:   t.TempDir(),
		Logger:    zerolog.Nop(),
	})
	require.NoError(t, err)
	return dir, managers
}

// seedAccount writes a restorable account straight into storage.
func seedAccount(t *testing.T, store storage.Port, name string, enabled, auto bool) {
	t.Helper()
	store.SetString(name, "manager", "gabble", false)
	store.SetString(name, "protocol", "jabber", false)
	store.Set(name, "Enabled", variant.Bool(enabled), false)
	store.Set(name, "ConnectAutomatically", variant.Bool(auto), false)
	store.SetString(name, "param-account", "user@example.com", false)
	require.NoError(t, store.Commit(name))
}
