package transport

import "errors"

// Transport errors.
var (
	// ErrSetupFailed is returned when the surface never became ready.
	// Fatal to the triggering call; never retried internally.
	ErrSetupFailed = errors.New("transport: surface setup failed")

	// ErrPopupBlocked is returned when the environment refuses to open
	// the surface.
	ErrPopupBlocked = errors.New("transport: surface blocked by environment")

	// ErrNotReady is returned when a send is attempted before the
	// surface announced readiness.
	ErrNotReady = errors.New("transport: surface not ready")

	// ErrClosed is returned when an operation is attempted on a closed
	// communicator or surface.
	ErrClosed = errors.New("transport: closed")

	// ErrNoOpener is returned when a Communicator is configured without
	// a surface opener.
	ErrNoOpener = errors.New("transport: no surface opener configured")

	// ErrInvalidURL is returned when the wallet URL cannot be parsed.
	ErrInvalidURL = errors.New("transport: invalid wallet URL")

	// ErrInvalidReply is returned when a correlated reply cannot be
	// decoded as a response frame.
	ErrInvalidReply = errors.New("transport: invalid reply frame")
)
