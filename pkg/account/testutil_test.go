package account

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/haldis/accountd/pkg/presence"
	"github.com/haldis/accountd/pkg/storage"
	"github.com/haldis/accountd/pkg/variant"
)

const testDebounce = 5 * time.Millisecond

// fakeManager implements Manager with scriptable readiness.
type fakeManager struct {
	mu           sync.Mutex
	readyErr     error
	holdReady    bool
	pendingReady []func(error)
	protocols    map[string]*Protocol
	createErr    error
	created      []*fakeConnection
}

func (m *fakeManager) CallWhenReady(cb func(error)) {
	m.mu.Lock()
	if m.holdReady {
		m.pendingReady = append(m.pendingReady, cb)
		m.mu.Unlock()
		return
	}
	err := m.readyErr
	m.mu.Unlock()
	cb(err)
}

// releaseReady fires all held readiness callbacks.
func (m *fakeManager) releaseReady(err error) {
	m.mu.Lock()
	pending := m.pendingReady
	m.pendingReady = nil
	m.mu.Unlock()
	for _, cb := range pending {
		cb(err)
	}
}

func (m *fakeManager) Protocol(name string) (*Protocol, bool) {
	p, ok := m.protocols[name]
	return p, ok
}

func (m *fakeManager) CreateConnection(accountName string) (Connection, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createErr != nil {
		return nil, m.createErr
	}
	conn := &fakeConnection{path: fmt.Sprintf("/conn/%s/%d", accountName, len(m.created))}
	m.created = append(m.created, conn)
	return conn, nil
}

func (m *fakeManager) connections() []*fakeConnection {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*fakeConnection, len(m.created))
	copy(out, m.created)
	return out
}

// fakeProvider resolves fake managers by name.
type fakeProvider struct {
	managers map[string]Manager
}

func (p *fakeProvider) LookupManager(name string) (Manager, bool) {
	m, ok := p.managers[name]
	return m, ok
}

// fakeConnection records every call the account makes.
type fakeConnection struct {
	mu           sync.Mutex
	path         string
	events       ConnectionEvents
	connectCalls []map[string]variant.Value
	presences    []presence.Presence
	nicknames    []string
	avatarBlobs  [][]byte
	updates      map[string]variant.Value
	closed       bool
	unsubscribed bool
}

func (c *fakeConnection) ObjectPath() string { return c.path }

func (c *fakeConnection) Subscribe(events ConnectionEvents) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = events
	c.unsubscribed = false
}

func (c *fakeConnection) Unsubscribe() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = ConnectionEvents{}
	c.unsubscribed = true
}

func (c *fakeConnection) Connect(params map[string]variant.Value) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connectCalls = append(c.connectCalls, params)
	return nil
}

func (c *fakeConnection) RequestPresence(p presence.Presence) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.presences = append(c.presences, p)
}

func (c *fakeConnection) SetNickname(nickname string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nicknames = append(c.nicknames, nickname)
}

func (c *fakeConnection) SetAvatar(data []byte, mimeType string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.avatarBlobs = append(c.avatarBlobs, data)
}

func (c *fakeConnection) UpdateParameter(name string, value variant.Value) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.updates == nil {
		c.updates = make(map[string]variant.Value)
	}
	c.updates[name] = value
}

func (c *fakeConnection) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
}

func (c *fakeConnection) emitSelfPresence(p presence.Presence) {
	c.mu.Lock()
	cb := c.events.SelfPresenceChanged
	c.mu.Unlock()
	if cb != nil {
		cb(p)
	}
}

func (c *fakeConnection) lastPresence() (presence.Presence, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.presences) == 0 {
		return presence.Presence{}, false
	}
	return c.presences[len(c.presences)-1], true
}

// fakeGate scripts the transport-condition check.
type fakeGate struct {
	satisfied bool
}

func (g *fakeGate) ConditionsSatisfied(string) bool { return g.satisfied }

// recorder collects property batches and status events in arrival order.
type recorder struct {
	mu      sync.Mutex
	batches []map[string]variant.Value
	order   []string
	statusa []ConnectionStatus
}

func (r *recorder) events() Events {
	return Events{
		PropertiesChanged: func(changes map[string]variant.Value) {
			r.mu.Lock()
			defer r.mu.Unlock()
			cp := make(map[string]variant.Value, len(changes))
			for k, v := range changes {
				cp[k] = v
			}
			r.batches = append(r.batches, cp)
			r.order = append(r.order, "flush")
		},
		StatusChanged: func(status ConnectionStatus, reason StatusReason) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.statusa = append(r.statusa, status)
			r.order = append(r.order, "status")
		},
	}
}

// countProperty returns how many flushed batches carried the property.
func (r *recorder) countProperty(name string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	count := 0
	for _, b := range r.batches {
		if _, ok := b[name]; ok {
			count++
		}
	}
	return count
}

// propertyValue returns the most recently flushed value for the property.
func (r *recorder) propertyValue(name string) (variant.Value, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(r.batches) - 1; i >= 0; i-- {
		if v, ok := r.batches[i][name]; ok {
			return v, true
		}
	}
	return variant.Value{}, false
}

func (r *recorder) statuses() []ConnectionStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]ConnectionStatus, len(r.statusa))
	copy(out, r.statusa)
	return out
}

func (r *recorder) sequence() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// testProtocol declares one parameter of every supported signature.
func testProtocol() *Protocol {
	return &Protocol{
		Name: "jabber",
		Params: []ParamSpec{
			{Name: "account", Signature: "s", Required: true},
			{Name: "password", Signature: "s", Required: true, Secret: true},
			{Name: "server", Signature: "s"},
			{Name: "resource", Signature: "s", LiveUpdatable: true},
			{Name: "port", Signature: "q"},
			{Name: "priority", Signature: "n"},
			{Name: "timeout", Signature: "u"},
			{Name: "quota", Signature: "t"},
			{Name: "flags", Signature: "y"},
			{Name: "offset", Signature: "i"},
			{Name: "seq", Signature: "x"},
			{Name: "require-encryption", Signature: "b"},
			{Name: "fallback-servers", Signature: "as"},
			{Name: "muc-server", Signature: "o"},
			{Name: "register", Signature: "b"},
		},
	}
}

type testEnv struct {
	account  *Account
	store    storage.Port
	manager  *fakeManager
	provider *fakeProvider
	rec      *recorder
}

type envOption func(*envConfig)

type envConfig struct {
	seed       map[string]variant.Value
	alwaysOn   bool
	gate       TransportGate
	holdReady  bool
	noManager  bool
	managerErr error
}

func withSeed(key string, value variant.Value) envOption {
	return func(c *envConfig) { c.seed[key] = value }
}

func withAlwaysOn() envOption {
	return func(c *envConfig) { c.alwaysOn = true }
}

func withGate(g TransportGate) envOption {
	return func(c *envConfig) { c.gate = g }
}

func withHeldManager() envOption {
	return func(c *envConfig) { c.holdReady = true }
}

func withManagerError(err error) envOption {
	return func(c *envConfig) { c.managerErr = err }
}

const testAccountName = "gabble/jabber/test0"

// newEnv builds an account over file storage seeded with a usable jabber
// configuration; options adjust the seed and collaborators.
func newEnv(t *testing.T, opts ...envOption) *testEnv {
	t.Helper()

	cfg := &envConfig{seed: map[string]variant.Value{
		keyManager:             variant.String("gabble"),
		keyProtocol:            variant.String("jabber"),
		keyEnabled:             variant.Bool(true),
		paramPrefix + "account":  variant.String("user@example.org"),
		paramPrefix + "password": variant.String("hunter2"),
	}}
	for _, opt := range opts {
		opt(cfg)
	}

	store, err := storage.NewFileProvider(t.TempDir())
	require.NoError(t, err)
	for key, value := range cfg.seed {
		store.Set(testAccountName, key, value, false)
	}

	manager := &fakeManager{
		protocols: map[string]*Protocol{"jabber": testProtocol()},
		holdReady: cfg.holdReady,
		readyErr:  cfg.managerErr,
	}
	provider := &fakeProvider{managers: map[string]Manager{"gabble": manager}}

	rec := &recorder{}
	acct, err := New(Config{
		UniqueName:    testAccountName,
		Storage:       store,
		Managers:      provider,
		Transport:     cfg.gate,
		DataDir:       t.TempDir(),
		AlwaysOn:      cfg.alwaysOn,
		DebounceDelay: testDebounce,
		Logger:        zerolog.Nop(),
		Events:        rec.events(),
	})
	require.NoError(t, err)
	t.Cleanup(acct.Dispose)

	return &testEnv{account: acct, store: store, manager: manager, provider: provider, rec: rec}
}

// waitFlush waits out the debounce window so pending notifications land.
func waitFlush() {
	time.Sleep(5 * testDebounce)
}
