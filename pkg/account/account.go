// Package account implements the state engine for one configured
// communication account: validity, enablement, presence, connectivity,
// typed parameter storage and the debounced property-change pipeline.
//
// The engine owns no transport and no wire format. It talks to a
// storage.Port for persistence, a ManagerProvider for protocol managers and
// at most one live Connection, and announces its own changes through
// batched property notifications and structured events.
package account

import (
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/haldis/accountd/pkg/presence"
	"github.com/haldis/accountd/pkg/storage"
	"github.com/haldis/accountd/pkg/variant"
)

// objectPathBase prefixes every account object path.
const objectPathBase = "/org/freedesktop/Telepathy/Account/"

// Events are the structured notifications an account raises beyond the
// batched property changes. All fields are optional. Events fire after the
// property batch covering the same mutation has been flushed.
type Events struct {
	PropertiesChanged func(changes map[string]variant.Value)
	StatusChanged     func(status ConnectionStatus, reason StatusReason)
	PresenceChanged   func(p presence.Presence)
	ValidityChanged   func(valid bool)
	AvatarChanged     func(token string)
	Removed           func()
}

// Config carries the collaborators an account needs.
type Config struct {
	// UniqueName identifies the account; immutable, set at creation.
	UniqueName string

	Storage  storage.Port
	Managers ManagerProvider

	// Transport optionally gates automatic connection attempts. Nil
	// means conditions are always satisfied.
	Transport TransportGate

	// DataDir is the base directory for per-account binary data such as
	// avatars.
	DataDir string

	// AlwaysOn forces the account enabled and forbids disabling it or
	// requesting an offline presence.
	AlwaysOn bool

	// DebounceDelay overrides the property-change coalescing window.
	// Zero selects the default.
	DebounceDelay time.Duration

	Logger zerolog.Logger
	Events Events
}

// Account is the authoritative state of one configured account. All
// methods are safe for concurrent use; callbacks and events are invoked
// without internal locks held, so they may re-enter the account.
type Account struct {
	mu sync.Mutex

	uniqueName   string
	objectPath   string
	managerName  string
	protocolName string

	store    storage.Port
	managers ManagerProvider
	gate     TransportGate
	dataDir  string
	logger   zerolog.Logger
	events   Events
	notify   *notifier

	enabled              bool
	valid                bool
	loaded               bool
	loading              bool
	hasBeenOnline        bool
	removed              bool
	alwaysOn             bool
	hidden               bool
	changingPresence     bool
	connectAutomatically bool
	disposed             bool

	current   presence.Presence
	requested presence.Presence
	automatic presence.Presence

	connStatus    ConnectionStatus
	statusReason  StatusReason
	detailedError string
	errorDetails  map[string]variant.Value

	conn      Connection
	transport Transport
	manager   Manager
	protocol  *Protocol

	onlineRequests []func(error)
	readyCallbacks []func()
}

// New constructs an account in its initial state. Call Load to run the
// setup protocol.
func New(cfg Config) (*Account, error) {
	if cfg.UniqueName == "" {
		return nil, fmt.Errorf("account unique name is required")
	}
	if cfg.Storage == nil {
		return nil, fmt.Errorf("storage port is required")
	}
	if cfg.Managers == nil {
		return nil, fmt.Errorf("manager provider is required")
	}

	a := &Account{
		uniqueName: cfg.UniqueName,
		objectPath: objectPathBase + cfg.UniqueName,
		store:      cfg.Storage,
		managers:   cfg.Managers,
		gate:       cfg.Transport,
		dataDir:    cfg.DataDir,
		alwaysOn:   cfg.AlwaysOn,
		logger:     cfg.Logger.With().Str("account", cfg.UniqueName).Logger(),
		events:     cfg.Events,
		automatic:  presence.Presence{Kind: presence.Available, Status: "available"},
	}
	a.notify = newNotifier(cfg.DebounceDelay, a.logger, a.emitChanges)
	return a, nil
}

func (a *Account) emitChanges(changes map[string]variant.Value) {
	if a.events.PropertiesChanged != nil {
		a.events.PropertiesChanged(changes)
	}
}

// Identity accessors.

func (a *Account) UniqueName() string { return a.uniqueName }
func (a *Account) ObjectPath() string { return a.objectPath }
func (a *Account) IsAlwaysOn() bool   { return a.alwaysOn }

func (a *Account) ManagerName() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.managerName
}

func (a *Account) ProtocolName() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.protocolName
}

// Flag accessors.

func (a *Account) IsEnabled() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.enabled
}

func (a *Account) IsValid() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.valid
}

func (a *Account) IsLoaded() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.loaded
}

func (a *Account) HasBeenOnline() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.hasBeenOnline
}

func (a *Account) IsRemoved() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.removed
}

func (a *Account) IsHidden() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.hidden
}

func (a *Account) IsChangingPresence() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.changingPresence
}

func (a *Account) ConnectsAutomatically() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.connectAutomatically
}

// Setup protocol: Constructed -> Setting-up -> {Broken | Awaiting-manager}
// -> Checking-parameters -> Loaded. A broken account (missing manager or
// protocol name, unresolvable manager, manager-ready failure) still
// reaches Loaded so waiters are never blocked, but stays invalid.

// Load runs the setup protocol. Only the first call does anything.
func (a *Account) Load() {
	a.mu.Lock()
	if a.loaded || a.loading || a.disposed {
		a.mu.Unlock()
		return
	}
	a.loading = true

	a.managerName = a.storedString(keyManager)
	a.protocolName = a.storedString(keyProtocol)

	a.enabled = a.store.GetBool(a.uniqueName, keyEnabled) || a.alwaysOn
	a.connectAutomatically = a.store.GetBool(a.uniqueName, keyConnectAutomatically)
	a.hasBeenOnline = a.store.GetBool(a.uniqueName, keyHasBeenOnline)
	a.hidden = a.store.GetBool(a.uniqueName, keyHidden)
	a.loadAutomaticPresenceLocked()

	if a.managerName == "" || a.protocolName == "" {
		a.logger.Warn().Msg("Account has no manager or protocol configured")
		a.mu.Unlock()
		a.finishLoad(false)
		return
	}

	mgr, ok := a.managers.LookupManager(a.managerName)
	if !ok {
		a.logger.Warn().Str("manager", a.managerName).Msg("Protocol manager not found")
		a.mu.Unlock()
		a.finishLoad(false)
		return
	}
	a.manager = mgr
	a.mu.Unlock()

	// Awaiting-manager: the callback may run synchronously or much
	// later; there is deliberately no timeout here.
	mgr.CallWhenReady(a.onManagerReady)
}

func (a *Account) storedString(key string) string {
	v, ok := a.store.Get(a.uniqueName, key)
	if !ok {
		return ""
	}
	return v.Str()
}

func (a *Account) loadAutomaticPresenceLocked() {
	kind := presence.Kind(a.store.GetInt(a.uniqueName, keyAutoPresenceKind))
	if !kind.IsOnline() {
		return
	}
	a.automatic = presence.Presence{
		Kind:    kind,
		Status:  a.storedString(keyAutoPresenceStatus),
		Message: a.storedString(keyAutoPresenceMessage),
	}
}

func (a *Account) onManagerReady(err error) {
	if err != nil {
		a.logger.Warn().Err(err).Str("manager", a.managerName).Msg("Protocol manager failed to become ready")
		a.finishLoad(false)
		return
	}

	// Checking-parameters.
	a.mu.Lock()
	mgr := a.manager
	protocolName := a.protocolName
	a.mu.Unlock()

	proto, ok := mgr.Protocol(protocolName)
	if !ok {
		a.logger.Warn().Str("protocol", protocolName).Msg("Manager does not implement protocol")
		a.finishLoad(false)
		return
	}

	a.mu.Lock()
	a.protocol = proto
	a.mu.Unlock()

	a.finishLoad(a.requiredParamsPresent())
}

// requiredParamsPresent scans the protocol's required parameters and checks
// each one is present and retrievable.
func (a *Account) requiredParamsPresent() bool {
	a.mu.Lock()
	proto := a.protocol
	a.mu.Unlock()
	if proto == nil {
		return false
	}

	for _, ps := range proto.Params {
		if !ps.Required {
			continue
		}
		if _, ok := a.store.Get(a.uniqueName, paramPrefix+ps.Name); !ok {
			a.logger.Debug().Str("param", ps.Name).Msg("Required parameter missing")
			return false
		}
	}
	return true
}

// finishLoad applies the validity result and performs the Loaded
// transition exactly once: deferred ready callbacks fire, queued online
// requests are resolved or set in motion, then autoconnect is attempted.
func (a *Account) finishLoad(valid bool) {
	a.mu.Lock()
	if a.loaded {
		a.mu.Unlock()
		return
	}
	a.valid = valid
	a.loaded = true
	a.loading = false

	ready := a.readyCallbacks
	a.readyCallbacks = nil

	var failed []func(error)
	connectQueued := false
	if len(a.onlineRequests) > 0 {
		if !a.valid || !a.enabled {
			failed = a.onlineRequests
			a.onlineRequests = nil
		} else {
			connectQueued = true
		}
	}
	auto := a.automatic
	a.mu.Unlock()

	a.logger.Info().Bool("valid", valid).Msg("Account loaded")

	for _, cb := range ready {
		cb()
	}
	for _, cb := range failed {
		cb(fmt.Errorf("%w: account is not usable", ErrNotAvailable))
	}
	if connectQueued {
		a.requestPresenceInternal(auto)
	}
	a.MaybeAutoconnect()
}

// WhenLoaded invokes cb once the account has reached the Loaded state,
// immediately if it already has. Each callback is invoked exactly once.
func (a *Account) WhenLoaded(cb func()) {
	a.mu.Lock()
	if a.loaded {
		a.mu.Unlock()
		cb()
		return
	}
	a.readyCallbacks = append(a.readyCallbacks, cb)
	a.mu.Unlock()
}

// SetEnabled flips the account's enablement. Disabling an always-on
// account is refused. Disabling forces the requested presence offline
// first; enabling re-applies the stored requested presence and attempts
// autoconnect.
func (a *Account) SetEnabled(enabled, persist bool) error {
	a.mu.Lock()
	if a.alwaysOn && !enabled {
		a.mu.Unlock()
		return fmt.Errorf("%w: always-on account cannot be disabled", ErrPermissionDenied)
	}
	if a.enabled == enabled {
		a.mu.Unlock()
		return nil
	}
	a.mu.Unlock()

	if !enabled {
		a.requestPresenceInternal(presence.Presence{Kind: presence.Offline, Status: "offline"})
	}

	a.mu.Lock()
	a.enabled = enabled
	requested := a.requested
	a.mu.Unlock()

	if persist {
		a.store.Set(a.uniqueName, keyEnabled, variant.Bool(enabled), false)
		if err := a.store.Commit(a.uniqueName); err != nil {
			return fmt.Errorf("failed to persist enabled flag: %w", err)
		}
	}
	a.notify.changed(PropEnabled, variant.Bool(enabled))

	if enabled {
		if requested.Kind != presence.Unset {
			a.requestPresenceInternal(requested)
		}
		a.MaybeAutoconnect()
	}
	return nil
}

// SetConnectAutomatically updates the autoconnect flag. Clearing it on an
// always-on account is refused.
func (a *Account) SetConnectAutomatically(value, persist bool) error {
	a.mu.Lock()
	if a.alwaysOn && !value {
		a.mu.Unlock()
		return fmt.Errorf("%w: always-on account must connect automatically", ErrPermissionDenied)
	}
	if a.connectAutomatically == value {
		a.mu.Unlock()
		return nil
	}
	a.connectAutomatically = value
	a.mu.Unlock()

	if persist {
		a.store.Set(a.uniqueName, keyConnectAutomatically, variant.Bool(value), false)
		if err := a.store.Commit(a.uniqueName); err != nil {
			return fmt.Errorf("failed to persist autoconnect flag: %w", err)
		}
	}
	a.notify.changed(PropConnectAutomatically, variant.Bool(value))

	if value {
		a.MaybeAutoconnect()
	}
	return nil
}

// CheckValidity re-runs the required-parameter scan. If the result differs
// from the stored flag it updates it, raises a validity-changed event,
// notifies the Valid property and, when newly valid, re-applies the
// current requested presence. cb is always invoked with the result.
func (a *Account) CheckValidity(cb func(valid bool)) {
	valid := a.requiredParamsPresent()

	a.mu.Lock()
	changed := valid != a.valid
	a.valid = valid
	requested := a.requested
	a.mu.Unlock()

	if changed {
		if a.events.ValidityChanged != nil {
			a.events.ValidityChanged(valid)
		}
		a.notify.changed(PropValid, variant.Bool(valid))
		if valid && requested.Kind != presence.Unset {
			a.requestPresenceInternal(requested)
		}
	}
	if cb != nil {
		cb(valid)
	}
}

// BindTransport associates the account with one external transport
// resource. Rebinding to a different transport while bound is refused.
func (a *Account) BindTransport(tr Transport) error {
	if tr == nil {
		return fmt.Errorf("%w: transport is required", ErrInvalidArgument)
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.transport != nil && a.transport != tr {
		return fmt.Errorf("%w: account is already bound to transport %s", ErrPermissionDenied, a.transport.Name())
	}
	a.transport = tr
	return nil
}

// Transport returns the bound transport, if any.
func (a *Account) Transport() Transport {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.transport
}

// Remove deletes the account's stored keys, fails any queued online
// requests and raises the removed event.
func (a *Account) Remove() error {
	a.mu.Lock()
	if a.removed {
		a.mu.Unlock()
		return nil
	}
	a.removed = true
	queue := a.onlineRequests
	a.onlineRequests = nil
	a.mu.Unlock()

	for _, cb := range queue {
		cb(fmt.Errorf("%w: account removed", ErrDisposed))
	}

	a.store.DeleteAccount(a.uniqueName)
	if err := a.store.Commit(a.uniqueName); err != nil {
		a.logger.Warn().Err(err).Msg("Failed to commit account removal")
	}

	a.logger.Info().Msg("Account removed")
	if a.events.Removed != nil {
		a.events.Removed()
	}
	return nil
}

// Reconnect tears down the current connection and re-applies the requested
// presence. No-op unless the account is enabled, valid and requesting an
// online presence. The teardown goes through the regular status pipeline
// so watchers see the disconnection like any other.
func (a *Account) Reconnect() {
	a.mu.Lock()
	if !a.enabled || !a.valid || !a.requested.Kind.IsOnline() {
		a.mu.Unlock()
		return
	}
	conn := a.conn
	requested := a.requested
	a.mu.Unlock()

	if conn != nil {
		a.SetConnectionStatus(StatusDisconnected, ReasonRequested, nil, "", nil)
		conn.Close()
	}
	a.requestPresenceInternal(requested)
}

// Dispose releases the account: queued online requests fail with a
// disposal error, the connection is detached and the notifier timer is
// cancelled. No cancellation is sent to outstanding external calls.
func (a *Account) Dispose() {
	a.mu.Lock()
	if a.disposed {
		a.mu.Unlock()
		return
	}
	a.disposed = true
	queue := a.onlineRequests
	a.onlineRequests = nil
	conn := a.conn
	a.conn = nil
	a.mu.Unlock()

	for _, cb := range queue {
		cb(fmt.Errorf("%w: pending online request cancelled", ErrDisposed))
	}
	if conn != nil {
		conn.Unsubscribe()
	}
	a.notify.dispose()
}

// String-valued stored properties. An empty value unsets the stored key.

// SetDisplayName updates the human-visible account name.
func (a *Account) SetDisplayName(name string) error {
	return a.setStringProperty(keyDisplayName, PropDisplayName, name)
}

func (a *Account) DisplayName() string { return a.storedString(keyDisplayName) }

// SetIcon updates the account icon name.
func (a *Account) SetIcon(icon string) error {
	return a.setStringProperty(keyIcon, PropIcon, icon)
}

func (a *Account) Icon() string { return a.storedString(keyIcon) }

// SetService updates the service identifier.
func (a *Account) SetService(service string) error {
	return a.setStringProperty(keyService, PropService, service)
}

func (a *Account) Service() string { return a.storedString(keyService) }

// SetNickname updates the user's own displayed name and forwards it to a
// live connection.
func (a *Account) SetNickname(nickname string) error {
	if err := a.setStringProperty(keyNickname, PropNickname, nickname); err != nil {
		return err
	}
	a.mu.Lock()
	conn := a.conn
	a.mu.Unlock()
	if conn != nil {
		conn.SetNickname(nickname)
	}
	return nil
}

func (a *Account) Nickname() string { return a.storedString(keyNickname) }

// SetHidden marks the account as hidden from ordinary interface listings.
func (a *Account) SetHidden(hidden bool) error {
	a.mu.Lock()
	if a.hidden == hidden {
		a.mu.Unlock()
		return nil
	}
	a.hidden = hidden
	a.mu.Unlock()

	a.store.Set(a.uniqueName, keyHidden, variant.Bool(hidden), false)
	if err := a.store.Commit(a.uniqueName); err != nil {
		return fmt.Errorf("failed to persist hidden flag: %w", err)
	}
	a.notify.changed(PropHidden, variant.Bool(hidden))
	return nil
}

// NormalizedName is the connection's canonical form of the account
// identifier, updated when a connection becomes ready.
func (a *Account) NormalizedName() string { return a.storedString(keyNormalizedName) }

func (a *Account) setNormalizedName(name string) {
	if a.storedString(keyNormalizedName) == name {
		return
	}
	a.store.SetString(a.uniqueName, keyNormalizedName, name, false)
	if err := a.store.Commit(a.uniqueName); err != nil {
		a.logger.Warn().Err(err).Msg("Failed to persist normalized name")
	}
	a.notify.changed(PropNormalizedName, variant.String(name))
}

func (a *Account) setStringProperty(storageKey, propName, value string) error {
	changed := false
	if value == "" {
		changed = a.store.Unset(a.uniqueName, storageKey)
	} else {
		changed = a.store.SetString(a.uniqueName, storageKey, value, false)
	}
	if !changed {
		return nil
	}
	if err := a.store.Commit(a.uniqueName); err != nil {
		return fmt.Errorf("failed to persist %s: %w", propName, err)
	}
	a.notify.changed(propName, variant.String(value))
	return nil
}
