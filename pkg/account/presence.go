package account

import (
	"fmt"

	"github.com/haldis/accountd/pkg/presence"
	"github.com/haldis/accountd/pkg/variant"
)

// presenceVariant encodes a presence triple as the property payload used
// in change notifications.
func presenceVariant(p presence.Presence) variant.Value {
	return variant.StringList([]string{p.Kind.String(), p.Status, p.Message})
}

// Presence accessors.

func (a *Account) CurrentPresence() presence.Presence {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.current
}

func (a *Account) RequestedPresence() presence.Presence {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.requested
}

func (a *Account) AutomaticPresence() presence.Presence {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.automatic
}

// SetAutomaticPresence stores the presence applied by automatic connection
// attempts. The kind must be an online kind.
func (a *Account) SetAutomaticPresence(p presence.Presence) error {
	if !p.Kind.IsOnline() {
		return fmt.Errorf("%w: automatic presence must be an online kind, not %s", ErrInvalidArgument, p.Kind)
	}

	a.mu.Lock()
	if a.automatic.Equal(p) {
		a.mu.Unlock()
		return nil
	}
	a.automatic = p
	a.mu.Unlock()

	a.store.Set(a.uniqueName, keyAutoPresenceKind, variant.Uint32(uint32(p.Kind)), false)
	a.store.SetString(a.uniqueName, keyAutoPresenceStatus, p.Status, false)
	a.store.SetString(a.uniqueName, keyAutoPresenceMessage, p.Message, false)
	if err := a.store.Commit(a.uniqueName); err != nil {
		return fmt.Errorf("failed to persist automatic presence: %w", err)
	}

	a.notify.changed(PropAutomaticPresence, presenceVariant(p))
	return nil
}

// RequestPresence asks the account to move toward the given presence and
// reports whether the requested triple changed. Kinds a caller may not set
// are refused, as is any offline kind on an always-on account.
func (a *Account) RequestPresence(p presence.Presence) (bool, error) {
	if !p.Kind.IsSettable() {
		return false, fmt.Errorf("%w: presence kind %s cannot be requested", ErrInvalidArgument, p.Kind)
	}
	if a.alwaysOn && !p.Kind.IsOnline() {
		return false, fmt.Errorf("%w: always-on account cannot go offline", ErrPermissionDenied)
	}
	return a.requestPresenceInternal(p), nil
}

// requestPresenceInternal is the unvalidated presence request path, also
// used by enablement changes, autoconnect and load-time reconnection.
//
// The requested triple is stored unconditionally before any side effect,
// so a re-entrant call from a callback observes the new state. An online
// request against a disabled or invalid account goes no further than that:
// the values are kept for later reuse but no connection attempt is made.
func (a *Account) requestPresenceInternal(p presence.Presence) bool {
	a.mu.Lock()
	changed := !a.requested.Equal(p)
	a.requested = p

	if p.Kind.IsOnline() && (!a.enabled || !a.valid) {
		a.mu.Unlock()
		return changed
	}

	if changed {
		a.changingPresence = true
	}
	conn := a.conn
	a.mu.Unlock()

	if changed {
		a.notify.changed(PropRequestedPresence, presenceVariant(p))
		a.notify.changed(PropChangingPresence, variant.Bool(true))
	}

	if conn == nil {
		if p.Kind.IsOnline() {
			a.beginConnection()
		}
		// An offline request with no connection is a no-op.
		return changed
	}

	// The connection decides when current presence actually changes; the
	// account only hears about it through the self-presence callback.
	conn.RequestPresence(p)
	return changed
}

// MaybeAutoconnect starts an automatic connection attempt when the account
// is enabled, valid, disconnected, configured to connect automatically and
// the transport conditions hold. Failures are silent: this is a
// speculative background operation.
func (a *Account) MaybeAutoconnect() {
	a.mu.Lock()
	ok := a.enabled && a.valid && !a.disposed &&
		a.connStatus == StatusDisconnected && a.connectAutomatically
	auto := a.automatic
	a.mu.Unlock()

	if !ok {
		return
	}
	if a.gate != nil && !a.gate.ConditionsSatisfied(a.uniqueName) {
		a.logger.Debug().Msg("Transport conditions not satisfied, skipping autoconnect")
		return
	}

	a.logger.Debug().Str("presence", auto.String()).Msg("Autoconnecting")
	a.requestPresenceInternal(auto)
}

// beginConnection resolves the manager, creates a connection, takes
// exclusive ownership of it and forwards a connect with the current
// parameters.
func (a *Account) beginConnection() {
	a.mu.Lock()
	if a.conn != nil || a.disposed {
		a.mu.Unlock()
		return
	}
	mgr := a.manager
	if mgr == nil {
		if found, ok := a.managers.LookupManager(a.managerName); ok {
			mgr = found
			a.manager = mgr
		}
	}
	a.mu.Unlock()

	if mgr == nil {
		a.logger.Warn().Str("manager", a.managerName).Msg("Cannot connect: manager not found")
		return
	}

	conn, err := mgr.CreateConnection(a.uniqueName)
	if err != nil {
		a.logger.Warn().Err(err).Msg("Failed to create connection")
		return
	}

	a.mu.Lock()
	if a.conn != nil || a.disposed {
		a.mu.Unlock()
		conn.Close()
		return
	}
	a.conn = conn
	a.mu.Unlock()

	a.notify.changed(PropConnection, variant.ObjectPath(conn.ObjectPath()))

	conn.Subscribe(a.connectionEvents(conn))

	if err := conn.Connect(a.DupParameters()); err != nil {
		a.logger.Warn().Err(err).Msg("Connection attempt failed to start")
	}
}

func (a *Account) connectionEvents(conn Connection) ConnectionEvents {
	return ConnectionEvents{
		SelfPresenceChanged: a.handleSelfPresenceChanged,
		StatusChanged: func(status ConnectionStatus, reason StatusReason, detailedError string, details map[string]variant.Value) {
			a.SetConnectionStatus(status, reason, conn, detailedError, details)
		},
		SelfNicknameChanged: a.handleSelfNicknameChanged,
		Ready:               a.setNormalizedName,
		Aborted: func() {
			a.handleConnectionAborted(conn)
		},
	}
}

// handleSelfPresenceChanged is the only place current presence changes.
func (a *Account) handleSelfPresenceChanged(p presence.Presence) {
	a.mu.Lock()
	changed := !a.current.Equal(p)
	a.current = p
	wasChanging := a.changingPresence
	a.changingPresence = false
	a.mu.Unlock()

	if changed {
		a.notify.changed(PropCurrentPresence, presenceVariant(p))
		if a.events.PresenceChanged != nil {
			a.events.PresenceChanged(p)
		}
	}
	if wasChanging {
		a.notify.changed(PropChangingPresence, variant.Bool(false))
	}
}

func (a *Account) handleSelfNicknameChanged(nickname string) {
	changed := a.store.SetString(a.uniqueName, keyNickname, nickname, false)
	if !changed {
		return
	}
	if err := a.store.Commit(a.uniqueName); err != nil {
		a.logger.Warn().Err(err).Msg("Failed to persist nickname")
	}
	a.notify.changed(PropNickname, variant.String(nickname))
}

func (a *Account) handleConnectionAborted(conn Connection) {
	a.logger.Info().Msg("Connection aborted")
	a.SetConnectionStatus(StatusDisconnected, ReasonNoneSpecified, conn, "", nil)
}
