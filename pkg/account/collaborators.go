package account

import (
	"github.com/haldis/accountd/pkg/presence"
	"github.com/haldis/accountd/pkg/variant"
)

// ConnectionStatus is the account's connectivity. Exactly one holds at any
// time.
type ConnectionStatus int

const (
	StatusDisconnected ConnectionStatus = iota
	StatusConnecting
	StatusConnected
)

func (s ConnectionStatus) String() string {
	switch s {
	case StatusDisconnected:
		return "disconnected"
	case StatusConnecting:
		return "connecting"
	case StatusConnected:
		return "connected"
	}
	return "unknown"
}

// StatusReason explains the most recent connectivity transition.
type StatusReason int

const (
	ReasonNoneSpecified StatusReason = iota
	ReasonRequested
	ReasonNetworkError
	ReasonAuthenticationFailed
	ReasonEncryptionError
	ReasonNameInUse
)

func (r StatusReason) String() string {
	switch r {
	case ReasonNoneSpecified:
		return "none-specified"
	case ReasonRequested:
		return "requested"
	case ReasonNetworkError:
		return "network-error"
	case ReasonAuthenticationFailed:
		return "authentication-failed"
	case ReasonEncryptionError:
		return "encryption-error"
	case ReasonNameInUse:
		return "name-in-use"
	}
	return "unknown"
}

// ParamSpec describes one parameter declared by a protocol.
type ParamSpec struct {
	Name      string
	Signature string
	Required  bool
	Secret    bool

	// LiveUpdatable marks parameters a connection accepts as a direct
	// property push while online; anything else needs a reconnection to
	// take effect.
	LiveUpdatable bool
}

// Protocol is the parameter contract of one protocol as declared by its
// manager.
type Protocol struct {
	Name   string
	Params []ParamSpec
}

// Param returns the spec for a named parameter.
func (p *Protocol) Param(name string) (ParamSpec, bool) {
	for _, ps := range p.Params {
		if ps.Name == name {
			return ps, true
		}
	}
	return ParamSpec{}, false
}

// Manager is a resolved protocol manager handle.
type Manager interface {
	// CallWhenReady queues cb for when the manager has finished its own
	// startup; cb may run synchronously if it already has. A non-nil
	// error means the manager is unusable.
	CallWhenReady(cb func(error))

	// Protocol returns the declared parameter contract for a protocol,
	// or false when the manager does not implement it.
	Protocol(name string) (*Protocol, bool)

	// CreateConnection builds a new live connection object for the
	// account. The account owns the result exclusively.
	CreateConnection(accountName string) (Connection, error)
}

// ManagerProvider resolves protocol managers by name.
type ManagerProvider interface {
	LookupManager(name string) (Manager, bool)
}

// ConnectionEvents are the callbacks a connection delivers back to its
// owning account. All fields are optional.
type ConnectionEvents struct {
	SelfPresenceChanged func(p presence.Presence)
	StatusChanged       func(status ConnectionStatus, reason StatusReason, detailedError string, details map[string]variant.Value)
	SelfNicknameChanged func(nickname string)
	Ready               func(normalizedName string)
	Aborted             func()
}

// Connection is the external live protocol session owned by an online
// account. Calls are fire-and-forget from the engine's point of view; the
// engine reacts to the event callbacks instead of blocking.
type Connection interface {
	// ObjectPath identifies the connection object; exposed as the
	// account's Connection property.
	ObjectPath() string

	// Subscribe installs the account's event callbacks, replacing any
	// previous subscriber.
	Subscribe(events ConnectionEvents)

	// Unsubscribe detaches all event callbacks. Called before the
	// account releases or replaces the connection.
	Unsubscribe()

	Connect(params map[string]variant.Value) error
	RequestPresence(p presence.Presence)
	SetNickname(nickname string)
	SetAvatar(data []byte, mimeType string)
	UpdateParameter(name string, value variant.Value)
	Close()
}

// Transport is an opaque external transport resource an account may be
// bound to, at most one per account.
type Transport interface {
	Name() string
}

// TransportGate decides whether current transport conditions permit an
// automatic connection attempt.
type TransportGate interface {
	ConditionsSatisfied(accountName string) bool
}
