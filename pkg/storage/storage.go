// Package storage defines the key/value persistence boundary used by the
// account engine. Values are typed and optionally marked secret. The engine
// never touches the disk itself; it goes through a Port and explicitly
// commits per account.
package storage

import "github.com/haldis/accountd/pkg/variant"

// Port is the persistence contract consumed by the account engine. All
// calls are synchronous; mutations take effect in memory immediately and
// reach durable storage on Commit.
type Port interface {
	// Get returns the stored value for a key, if any.
	Get(account, key string) (variant.Value, bool)

	// Set stores a typed value and reports whether the stored state
	// actually changed.
	Set(account, key string, value variant.Value, secret bool) bool

	// SetString stores a string value, reporting change.
	SetString(account, key, value string, secret bool) bool

	// GetBool returns the stored boolean, or false when absent or not a
	// boolean.
	GetBool(account, key string) bool

	// GetInt returns the stored integer payload regardless of width or
	// signedness, or 0 when absent.
	GetInt(account, key string) int64

	// Unset removes a key and reports whether it was present.
	Unset(account, key string) bool

	// DeleteAccount drops every key stored for an account, including any
	// not-yet-committed state.
	DeleteAccount(account string)

	// Commit flushes pending changes for one account, or for every
	// account when the name is empty.
	Commit(account string) error

	// ListAccounts returns the accounts present in durable storage.
	ListAccounts() ([]string, error)
}
