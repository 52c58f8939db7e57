package signer

import "testing"

func TestPhaseString(t *testing.T) {
	cases := []struct {
		phase Phase
		want  string
	}{
		{PhaseIdle, "Idle"},
		{PhaseHandshaking, "Handshaking"},
		{PhaseReady, "Ready"},
		{PhaseEncrypting, "Encrypting"},
		{PhaseSent, "Sent"},
		{PhaseAwaitingReply, "AwaitingReply"},
		{PhaseDecrypted, "Decrypted"},
		{Phase(99), "Unknown"},
	}
	for _, tc := range cases {
		if got := tc.phase.String(); got != tc.want {
			t.Errorf("Phase(%d).String() = %q, want %q", tc.phase, got, tc.want)
		}
	}
}
