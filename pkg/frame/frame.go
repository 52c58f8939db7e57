// Package frame defines the wire frames exchanged with the wallet surface.
//
// A RequestFrame carries either a plaintext handshake (used once, to
// exchange public keys) or an encrypted envelope. A ResponseFrame carries
// either an explicit failure (never encrypted) or an encrypted envelope.
// Responses are matched to requests by RequestID, never by arrival order.
package frame

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/crosswin/walletbridge/pkg/cipher"
)

// RequestFrame is an outbound message to the wallet surface.
type RequestFrame struct {
	// ID uniquely identifies the frame. Replies carry it as RequestID.
	ID string `json:"id"`

	// CorrelationID is an opaque observability identifier. It plays no
	// role in response matching.
	CorrelationID string `json:"correlationId,omitempty"`

	// Sender is the local public key in hex form.
	Sender string `json:"sender"`

	// Content is the frame body: handshake or encrypted, exactly one.
	Content RequestContent `json:"content"`

	// Timestamp records when the frame was built.
	Timestamp time.Time `json:"timestamp"`
}

// RequestContent is a tagged union: exactly one member is set.
type RequestContent struct {
	Handshake *Handshake       `json:"handshake,omitempty"`
	Encrypted *cipher.Envelope `json:"encrypted,omitempty"`
}

// Handshake is the plaintext body of the initial key-exchange frame.
type Handshake struct {
	Method string          `json:"method"`
	Params json.RawMessage `json:"params,omitempty"`
}

// ResponseFrame is an inbound message from the wallet surface.
type ResponseFrame struct {
	// RequestID matches the ID of the request being answered.
	// Unsolicited notifications leave it empty.
	RequestID string `json:"requestId,omitempty"`

	// Sender is the wallet's public key in hex form. The handshake reply's
	// Sender is imported as the peer public key.
	Sender string `json:"sender"`

	// Content is the frame body: failure or encrypted, exactly one.
	Content ResponseContent `json:"content"`
}

// ResponseContent is a tagged union: exactly one member is set.
type ResponseContent struct {
	Failure   *ErrorValue      `json:"failure,omitempty"`
	Encrypted *cipher.Envelope `json:"encrypted,omitempty"`
}

// ContentKind discriminates the members of a content union.
type ContentKind int

const (
	ContentInvalid ContentKind = iota
	ContentHandshake
	ContentEncrypted
	ContentFailure
)

// String returns the kind name.
func (k ContentKind) String() string {
	switch k {
	case ContentHandshake:
		return "handshake"
	case ContentEncrypted:
		return "encrypted"
	case ContentFailure:
		return "failure"
	default:
		return "invalid"
	}
}

// Kind reports which member of the union is set.
// Returns ContentInvalid if none or both are set.
func (c RequestContent) Kind() ContentKind {
	switch {
	case c.Handshake != nil && c.Encrypted == nil:
		return ContentHandshake
	case c.Handshake == nil && c.Encrypted != nil:
		return ContentEncrypted
	default:
		return ContentInvalid
	}
}

// Kind reports which member of the union is set.
// Returns ContentInvalid if none or both are set.
func (c ResponseContent) Kind() ContentKind {
	switch {
	case c.Failure != nil && c.Encrypted == nil:
		return ContentFailure
	case c.Failure == nil && c.Encrypted != nil:
		return ContentEncrypted
	default:
		return ContentInvalid
	}
}

// NewHandshakeRequest builds a plaintext handshake frame with a fresh ID.
func NewHandshakeRequest(sender string, h Handshake) *RequestFrame {
	return &RequestFrame{
		ID:        uuid.NewString(),
		Sender:    sender,
		Content:   RequestContent{Handshake: &h},
		Timestamp: time.Now().UTC(),
	}
}

// NewEncryptedRequest builds an encrypted frame with a fresh ID.
func NewEncryptedRequest(sender string, env *cipher.Envelope) *RequestFrame {
	return &RequestFrame{
		ID:        uuid.NewString(),
		Sender:    sender,
		Content:   RequestContent{Encrypted: env},
		Timestamp: time.Now().UTC(),
	}
}

// Validate checks structural invariants of a request frame.
func (f *RequestFrame) Validate() error {
	if f.ID == "" {
		return ErrMissingID
	}
	if f.Sender == "" {
		return ErrMissingSender
	}
	if f.Content.Kind() == ContentInvalid {
		return ErrInvalidContent
	}
	return nil
}

// Validate checks structural invariants of a response frame.
func (f *ResponseFrame) Validate() error {
	if f.Sender == "" {
		return ErrMissingSender
	}
	if f.Content.Kind() == ContentInvalid {
		return ErrInvalidContent
	}
	return nil
}
