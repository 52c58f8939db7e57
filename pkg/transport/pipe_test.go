package transport

import (
	"testing"
	"time"
)

func TestPipePair_CloseReturnsWithActiveReadLoops(t *testing.T) {
	pair := NewPipePair(testOrigin)

	// Put both read loops into their blocking reads with live traffic in
	// each direction.
	got := make(chan []byte, 4)
	surface, err := pair.Opener().Open(testOrigin, ModePopup, func(m InboundMessage) {
		got <- m.Data
	})
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	pair.SetWalletHandler(func(data []byte) {
		got <- data
	})

	if err := surface.Send([]byte(`{"dir":"app-to-wallet"}`)); err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	if err := pair.WalletSend([]byte(`{"dir":"wallet-to-app"}`)); err != nil {
		t.Fatalf("WalletSend failed: %v", err)
	}
	for i := 0; i < 2; i++ {
		select {
		case <-got:
		case <-time.After(5 * time.Second):
			t.Fatal("message never delivered")
		}
	}

	// Close must release both read loops even though they are parked in
	// blocking reads on the bridge conns.
	done := make(chan error, 1)
	go func() {
		done <- pair.Close()
	}()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Close failed: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Close never returned")
	}

	// Idempotent.
	if err := pair.Close(); err != nil {
		t.Errorf("second Close = %v, want nil", err)
	}
}

func TestPipePair_CloseWithoutTraffic(t *testing.T) {
	// A pair that never carried a message must still tear down cleanly.
	pair := NewPipePair(testOrigin)

	done := make(chan error, 1)
	go func() {
		done <- pair.Close()
	}()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Close failed: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Close never returned")
	}
}
