package signer

import "errors"

// Errors returned by the signer package.
var (
	// ErrUnauthorized is returned when a request is attempted without a
	// shared secret. The caller must handshake first. Rejected before
	// any transport activity.
	ErrUnauthorized = errors.New("signer: no shared secret, handshake required")

	// ErrUnsupportedMethod is returned when an ephemeral signer is given
	// a method outside its whitelist. Rejected before any transport
	// activity.
	ErrUnsupportedMethod = errors.New("signer: method not supported by ephemeral signer")

	// ErrSessionInvalid is returned when a reply does not decrypt under
	// the current shared secret. A fresh handshake is required.
	ErrSessionInvalid = errors.New("signer: reply decryption failed, session invalid")

	// ErrHandshakeInProgress is returned when a handshake is started
	// while another is still in flight.
	ErrHandshakeInProgress = errors.New("signer: handshake already in progress")

	// ErrMissingMethod is returned when call arguments carry no method.
	ErrMissingMethod = errors.New("signer: missing method")
)
