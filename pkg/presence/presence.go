// Package presence models the reachability state advertised by an account:
// an ordered kind, a protocol-specific status token and a free-form message.
package presence

import "fmt"

// Kind is the ordered presence classification. The order matters: any kind
// ranked at or above Available counts as online.
type Kind int

const (
	Unset Kind = iota
	Offline
	Available
	Away
	ExtendedAway
	Hidden
	Busy
	Unknown
	Error
)

var kindNames = map[Kind]string{
	Unset:        "unset",
	Offline:      "offline",
	Available:    "available",
	Away:         "away",
	ExtendedAway: "extended-away",
	Hidden:       "hidden",
	Busy:         "busy",
	Unknown:      "unknown",
	Error:        "error",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// IsOnline reports whether the kind counts as online: ranked at or above
// Available, excluding the non-settable sentinel kinds.
func (k Kind) IsOnline() bool {
	return k >= Available && k <= Busy
}

// IsSettable reports whether a caller may request this kind. Unset, Unknown
// and Error only ever originate from the connection itself.
func (k Kind) IsSettable() bool {
	return k == Offline || k.IsOnline()
}

// Presence is a (kind, status, message) triple. The status token is the
// protocol's own name for the state; the message is free-form user text.
type Presence struct {
	Kind    Kind
	Status  string
	Message string
}

// Equal reports whether two presences match field for field.
func (p Presence) Equal(other Presence) bool {
	return p.Kind == other.Kind && p.Status == other.Status && p.Message == other.Message
}

func (p Presence) String() string {
	return fmt.Sprintf("%s(%q, %q)", p.Kind, p.Status, p.Message)
}
