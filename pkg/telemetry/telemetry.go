// Package telemetry carries fire-and-forget observability signals for
// the bridge protocol. Reporters never affect protocol control flow: a
// reporter that blocks, fails, or is absent changes nothing about how
// requests are processed.
package telemetry

// Event names emitted by the signer and transport layers.
const (
	EventHandshakeStarted   = "handshake.started"
	EventHandshakeCompleted = "handshake.completed"
	EventHandshakeError     = "handshake.error"

	EventRequestStarted   = "request.started"
	EventRequestCompleted = "request.completed"
	EventRequestError     = "request.error"

	// EventSurfaceReadyTimeout is the fallback signal emitted when an
	// embedded surface never announces readiness within its bounded wait.
	EventSurfaceReadyTimeout = "surface.ready_timeout"
)

// Event is one protocol observation.
type Event struct {
	// Name is one of the Event* constants.
	Name string

	// Method is the RPC method involved, if any.
	Method string

	// CorrelationID ties the event to an in-flight request. It is opaque
	// and distinct from the frame ID used for response matching.
	CorrelationID string

	// Ephemeral reports whether the event came from an ephemeral flow.
	Ephemeral bool
}

// Reporter consumes events. Implementations must be non-blocking from
// the caller's perspective.
type Reporter interface {
	Report(Event)
}

// NopReporter discards all events.
type NopReporter struct{}

// Report discards the event.
func (NopReporter) Report(Event) {}

// Verify NopReporter implements Reporter.
var _ Reporter = NopReporter{}
