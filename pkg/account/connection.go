package account

import (
	"fmt"

	"github.com/haldis/accountd/pkg/variant"
)

// noConnectionPath is the Connection property value while offline.
const noConnectionPath = "/"

// Connection returns the currently owned live connection, if any.
func (a *Account) Connection() Connection {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.conn
}

// ConnectionStatus returns the current connectivity state.
func (a *Account) ConnectionStatus() ConnectionStatus {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.connStatus
}

// ConnectionStatusReason returns the reason for the last transition.
func (a *Account) ConnectionStatusReason() StatusReason {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.statusReason
}

// ConnectionError returns the detailed error name and its detail map,
// both empty when there is none.
func (a *Account) ConnectionError() (string, map[string]variant.Value) {
	a.mu.Lock()
	defer a.mu.Unlock()
	details := make(map[string]variant.Value, len(a.errorDetails))
	for k, v := range a.errorDetails {
		details[k] = v
	}
	return a.detailedError, details
}

// SetConnectionStatus applies a connectivity transition reported by the
// connection (or by the caller that owns its lifecycle). The whole
// transition runs inside one freeze/thaw scope so every resulting property
// notification flushes in a single batch; the structured status-changed
// event fires after that flush, then queued online requests are drained.
func (a *Account) SetConnectionStatus(status ConnectionStatus, reason StatusReason, conn Connection, detailedError string, details map[string]variant.Value) {
	a.notify.freeze()

	changed := false
	var detach Connection

	a.mu.Lock()

	// Connection tracking: a differing connection replaces the tracked
	// one; a non-nil connection arriving together with a disconnection
	// is stale and dropped.
	switch {
	case status == StatusDisconnected:
		// A non-nil connection arriving with a disconnection is stale
		// and never installed; the tracked one is released.
		if a.conn != nil {
			detach = a.conn
			a.conn = nil
			changed = true
			a.notify.changed(PropConnection, variant.ObjectPath(noConnectionPath))
		}
	case conn != nil && conn != a.conn:
		detach = a.conn
		a.conn = conn
		changed = true
		a.notify.changed(PropConnection, variant.ObjectPath(conn.ObjectPath()))
	}

	if status == StatusConnected {
		if !a.hasBeenOnline {
			a.hasBeenOnline = true
			a.store.Set(a.uniqueName, keyHasBeenOnline, variant.Bool(true), false)
			if err := a.store.Commit(a.uniqueName); err != nil {
				a.logger.Warn().Err(err).Msg("Failed to persist has-been-online flag")
			}
			a.notify.changed(PropHasBeenOnline, variant.Bool(true))
		}
		a.clearRegisterParamLocked()
		if a.detailedError != "" || len(a.errorDetails) > 0 {
			a.detailedError = ""
			a.errorDetails = nil
			a.notify.changed(PropConnectionError, variant.String(""))
			a.notify.changed(PropConnectionErrorDetails, variant.StringList(nil))
		}
	}

	if status == StatusDisconnected {
		if a.detailedError != detailedError {
			a.detailedError = detailedError
			a.notify.changed(PropConnectionError, variant.String(detailedError))
		}
		// Deep comparison of the detail map is not worth it; treat it
		// as changed whenever either side is non-empty.
		if len(a.errorDetails) > 0 || len(details) > 0 {
			a.errorDetails = details
			keys := make([]string, 0, len(details))
			for k := range details {
				keys = append(keys, k)
			}
			a.notify.changed(PropConnectionErrorDetails, variant.StringList(keys))
		}
	}

	if a.connStatus != status {
		a.connStatus = status
		changed = true
		a.notify.changed(PropConnectionStatus, variant.Uint32(uint32(status)))
	}
	if a.statusReason != reason {
		a.statusReason = reason
		changed = true
		a.notify.changed(PropConnectionStatusReason, variant.Uint32(uint32(reason)))
	}

	a.mu.Unlock()

	if detach != nil {
		detach.Unsubscribe()
	}

	a.notify.thaw()

	if changed {
		a.logger.Info().
			Str("status", status.String()).
			Str("reason", reason.String()).
			Msg("Connection status changed")
		if a.events.StatusChanged != nil {
			a.events.StatusChanged(status, reason)
		}
	}

	a.drainOnlineRequests(status, reason)
}

// clearRegisterParamLocked removes the one-shot account-registration
// parameter after the first successful connection.
func (a *Account) clearRegisterParamLocked() {
	key := paramPrefix + registerParamName
	if _, ok := a.store.Get(a.uniqueName, key); !ok {
		return
	}
	a.store.Unset(a.uniqueName, key)
	if err := a.store.Commit(a.uniqueName); err != nil {
		a.logger.Warn().Err(err).Msg("Failed to persist register parameter removal")
	}
	a.notify.changed(PropParameters, variant.StringList(a.storedParamNamesLocked()))
}

// drainOnlineRequests resolves queued waiters after a transition: a
// connection succeeds them all, a disconnection fails them all with the
// transition reason. Callbacks run in FIFO order.
func (a *Account) drainOnlineRequests(status ConnectionStatus, reason StatusReason) {
	if status != StatusConnected && status != StatusDisconnected {
		return
	}

	a.mu.Lock()
	queue := a.onlineRequests
	a.onlineRequests = nil
	a.mu.Unlock()

	if len(queue) == 0 {
		return
	}

	var err error
	if status == StatusDisconnected {
		err = fmt.Errorf("%w: connection failed (%s)", ErrDisconnected, reason)
	}
	for _, cb := range queue {
		cb(err)
	}
}

// OnlineRequest registers a caller waiting for the account to reach the
// connected state. The callback is invoked exactly once: synchronously
// when the outcome is already decided, otherwise later when the
// connectivity transition (or disposal) resolves the queue.
func (a *Account) OnlineRequest(cb func(error)) {
	a.mu.Lock()

	switch {
	case a.connStatus == StatusConnected:
		a.mu.Unlock()
		cb(nil)
		return
	case a.loaded && !a.valid:
		a.mu.Unlock()
		cb(fmt.Errorf("%w: account is not valid", ErrNotAvailable))
		return
	case a.loaded && !a.enabled:
		a.mu.Unlock()
		cb(fmt.Errorf("%w: account is disabled", ErrNotAvailable))
		return
	}

	kick := a.loaded && a.connStatus == StatusDisconnected
	auto := a.automatic
	a.onlineRequests = append(a.onlineRequests, cb)
	a.mu.Unlock()

	if kick {
		a.requestPresenceInternal(auto)
	}
}

// PendingOnlineRequests reports how many callers are waiting for a
// connectivity transition.
func (a *Account) PendingOnlineRequests() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.onlineRequests)
}
