// Package store provides the key/value persistence seam used for
// cryptographic and session state.
//
// The persistent signer writes through a durable LevelStore so its keys
// survive a restart. Each ephemeral flow constructs its own MemStore so
// concurrent flows can never observe each other's state.
package store

import "errors"

// ErrNotFound is returned by Get when the key has no value.
var ErrNotFound = errors.New("store: key not found")

// Store is a minimal key/value store.
type Store interface {
	// Get returns the value for key, or ErrNotFound.
	Get(key string) ([]byte, error)

	// Set writes the value for key, replacing any previous value.
	Set(key string, value []byte) error

	// Delete removes key. Deleting an absent key is not an error.
	Delete(key string) error

	// Close releases underlying resources.
	Close() error
}
