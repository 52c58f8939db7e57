package frame

import "errors"

// Errors returned by the frame package.
var (
	// ErrMissingID is returned when a request frame has no ID.
	ErrMissingID = errors.New("frame: missing frame ID")

	// ErrMissingSender is returned when a frame has no sender key.
	ErrMissingSender = errors.New("frame: missing sender public key")

	// ErrInvalidContent is returned when a content union has no member
	// set, or more than one.
	ErrInvalidContent = errors.New("frame: content must carry exactly one variant")
)
