package signer

// Phase is the signer's protocol state. Idle and Ready are the only
// stable rest states; the request phases are transient.
type Phase int

const (
	// PhaseIdle is the rest state before a handshake completes.
	PhaseIdle Phase = iota

	// PhaseHandshaking covers the plaintext key-exchange round trip.
	PhaseHandshaking

	// PhaseReady is the rest state with an established shared secret.
	PhaseReady

	// PhaseEncrypting covers building an encrypted request envelope.
	PhaseEncrypting

	// PhaseSent covers posting the request frame to the surface.
	PhaseSent

	// PhaseAwaitingReply covers waiting for the correlated response.
	PhaseAwaitingReply

	// PhaseDecrypted covers opening the response envelope.
	PhaseDecrypted
)

// String returns the phase name.
func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "Idle"
	case PhaseHandshaking:
		return "Handshaking"
	case PhaseReady:
		return "Ready"
	case PhaseEncrypting:
		return "Encrypting"
	case PhaseSent:
		return "Sent"
	case PhaseAwaitingReply:
		return "AwaitingReply"
	case PhaseDecrypted:
		return "Decrypted"
	default:
		return "Unknown"
	}
}
