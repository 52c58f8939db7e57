package cipher

import "errors"

// Errors returned by the cipher package.
var (
	// ErrDecrypt is returned when an envelope does not authenticate under
	// the given key. It is fatal to the single request, not the session.
	ErrDecrypt = errors.New("cipher: decryption failed")

	// ErrInvalidKey is returned when a symmetric key has the wrong length.
	ErrInvalidKey = errors.New("cipher: invalid key length")

	// ErrInvalidPublicKey is returned when a transported public key cannot
	// be decoded or is not a valid curve point.
	ErrInvalidPublicKey = errors.New("cipher: invalid public key")
)
