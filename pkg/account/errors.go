package account

import "errors"

// Error taxonomy surfaced by property writes, online requests and parameter
// access. Callers match with errors.Is.
var (
	// ErrInvalidArgument reports a bad type or value on a property or
	// parameter write.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrPermissionDenied reports an attempt to mutate an immutable or
	// always-on-protected property.
	ErrPermissionDenied = errors.New("permission denied")

	// ErrNotAvailable reports an online request against an invalid or
	// disabled account.
	ErrNotAvailable = errors.New("not available")

	// ErrDisconnected reports an online request that failed because the
	// account dropped offline.
	ErrDisconnected = errors.New("disconnected")

	// ErrNotFound reports a parameter not declared by the protocol.
	ErrNotFound = errors.New("not found")

	// ErrGetParameterFailed reports a declared parameter with no stored
	// value.
	ErrGetParameterFailed = errors.New("get parameter failed")

	// ErrDisposed reports an operation resolved by account disposal.
	ErrDisposed = errors.New("account disposed")
)
