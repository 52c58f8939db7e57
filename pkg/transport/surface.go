// Package transport owns the remote wallet surface and the framed,
// correlation-based message exchange with it.
//
// A Communicator holds at most one Surface handle. Opening, the
// readiness handshake, and response correlation all live here; the
// cryptographic state does not (that is the key manager's job).
package transport

// DisplayMode selects how the wallet surface is presented.
type DisplayMode string

const (
	// ModePopup presents the wallet in a separate popup surface. A human
	// may be interacting with it, so readiness waits are unbounded.
	ModePopup DisplayMode = "popup"

	// ModeEmbedded presents the wallet in an embedded frame. No human
	// interaction is expected, so readiness has a bounded wait.
	ModeEmbedded DisplayMode = "embedded"
)

// IsValid reports whether the mode is a known display mode.
func (m DisplayMode) IsValid() bool {
	return m == ModePopup || m == ModeEmbedded
}

// InboundMessage is one event received from the messaging channel.
type InboundMessage struct {
	// Origin identifies the sender's origin. Messages whose origin does
	// not match the configured wallet origin are silently dropped.
	Origin string

	// Data is the raw JSON payload.
	Data []byte
}

// MessageHandler consumes inbound messages from a surface's channel.
type MessageHandler func(InboundMessage)

// Surface is a live handle to the remote wallet surface. At most one
// Surface exists per Communicator. The remote side may close it at any
// time; Closed reflects that.
type Surface interface {
	// Send posts raw data to the surface.
	Send(data []byte) error

	// Origin returns the surface's origin.
	Origin() string

	// Closed reports whether the surface has been closed or unloaded.
	Closed() bool

	// Focus brings the surface to the foreground. A no-op where the
	// concept does not apply.
	Focus() error

	// Close tears the surface down. Idempotent.
	Close() error
}

// Opener opens a new wallet surface pointed at a URL. Implementations
// deliver every inbound channel event to the handler.
type Opener interface {
	Open(url string, mode DisplayMode, handler MessageHandler) (Surface, error)
}
