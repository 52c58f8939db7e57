package keys

import "errors"

// Errors returned by the keys package.
var (
	// ErrNoStore is returned when a Manager is configured without a store.
	ErrNoStore = errors.New("keys: no store configured")

	// ErrNoNamespace is returned when a Manager is configured without a
	// storage namespace.
	ErrNoNamespace = errors.New("keys: no storage namespace configured")

	// ErrCorruptRecord is returned when a persisted key record cannot be
	// decoded.
	ErrCorruptRecord = errors.New("keys: corrupt key record")
)
