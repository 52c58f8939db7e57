package signer

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/crosswin/walletbridge/pkg/frame"
	"github.com/crosswin/walletbridge/pkg/keys"
	"github.com/crosswin/walletbridge/pkg/store"
	"github.com/crosswin/walletbridge/pkg/telemetry"
	"github.com/crosswin/walletbridge/pkg/transport"
	"github.com/crosswin/walletbridge/pkg/walletstub"
)

const testOrigin = "https://wallet.example.com"

// testEnv wires a signer against an in-process wallet stub.
type testEnv struct {
	pair   *transport.PipePair
	stub   *walletstub.Stub
	comm   *transport.Communicator
	keys   *keys.Manager
	state  *SessionState
	signer *Signer
	ctx    context.Context
}

func newTestEnv(t *testing.T, stubConfig walletstub.Config) *testEnv {
	t.Helper()

	pair := transport.NewPipePair(testOrigin)
	t.Cleanup(func() { pair.Close() })

	stubConfig.Pair = pair
	if stubConfig.Bootstrap == nil {
		stubConfig.Bootstrap = &frame.ChainData{
			Chains: map[string]string{"1": "https://rpc.example.com"},
			NativeCurrencies: map[string]frame.Currency{
				"1": {Name: "Ether", Symbol: "ETH", Decimals: 18},
			},
		}
	}
	stub, err := walletstub.New(stubConfig)
	if err != nil {
		t.Fatalf("walletstub.New failed: %v", err)
	}

	comm, err := transport.NewCommunicator(transport.Config{
		WalletURL: testOrigin,
		Opener:    pair.Opener(),
	})
	if err != nil {
		t.Fatalf("NewCommunicator failed: %v", err)
	}
	t.Cleanup(func() { comm.Close() })

	backing := store.NewMemStore()
	km, err := keys.NewManager(keys.Config{Store: backing, Namespace: "default"})
	if err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}
	state := NewSessionState(backing, "default")

	sig, err := NewSigner(Config{
		KeyManager:   km,
		Communicator: comm,
		State:        state,
	})
	if err != nil {
		t.Fatalf("NewSigner failed: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)

	return &testEnv{
		pair:   pair,
		stub:   stub,
		comm:   comm,
		keys:   km,
		state:  state,
		signer: sig,
		ctx:    ctx,
	}
}

// eventRecorder captures telemetry events for assertions.
type eventRecorder struct {
	mu     sync.Mutex
	events []telemetry.Event
}

func (r *eventRecorder) Report(e telemetry.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *eventRecorder) find(t *testing.T, name string) telemetry.Event {
	t.Helper()
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.events {
		if e.Name == name {
			return e
		}
	}
	t.Fatalf("no %q event recorded", name)
	return telemetry.Event{}
}

func newInstrumentedSigner(t *testing.T, env *testEnv, rec *eventRecorder) *Signer {
	t.Helper()
	sig, err := NewSigner(Config{
		KeyManager:   env.keys,
		Communicator: env.comm,
		State:        env.state,
		Telemetry:    rec,
		Correlations: telemetry.NewRegistry(),
	})
	if err != nil {
		t.Fatalf("NewSigner failed: %v", err)
	}
	return sig
}

func TestTelemetryCarriesCorrelationIDs(t *testing.T) {
	env := newTestEnv(t, walletstub.Config{
		Handler: func(method string, params json.RawMessage) (any, error) {
			return "ok", nil
		},
	})
	rec := &eventRecorder{}
	sig := newInstrumentedSigner(t, env, rec)

	if _, err := sig.Handshake(env.ctx, HandshakeArgs{}); err != nil {
		t.Fatalf("Handshake failed: %v", err)
	}
	if _, err := sig.Request(env.ctx, RequestArgs{Method: "eth_accounts"}); err != nil {
		t.Fatalf("Request failed: %v", err)
	}

	hsStarted := rec.find(t, telemetry.EventHandshakeStarted)
	hsCompleted := rec.find(t, telemetry.EventHandshakeCompleted)
	reqStarted := rec.find(t, telemetry.EventRequestStarted)
	reqCompleted := rec.find(t, telemetry.EventRequestCompleted)

	for _, e := range []telemetry.Event{hsStarted, hsCompleted, reqStarted, reqCompleted} {
		if e.CorrelationID == "" {
			t.Errorf("%s carries no correlation ID", e.Name)
		}
		if e.Method == "" {
			t.Errorf("%s carries no method", e.Name)
		}
		if e.Ephemeral {
			t.Errorf("%s is marked ephemeral on a persistent signer", e.Name)
		}
	}

	// The events of one flow share an ID; separate flows do not.
	if hsStarted.CorrelationID != hsCompleted.CorrelationID {
		t.Error("handshake started/completed correlation IDs differ")
	}
	if reqStarted.CorrelationID != reqCompleted.CorrelationID {
		t.Error("request started/completed correlation IDs differ")
	}
	if hsStarted.CorrelationID == reqStarted.CorrelationID {
		t.Error("handshake and request flows share a correlation ID")
	}
}

func TestTelemetryCorrelatesErrorEvents(t *testing.T) {
	env := newTestEnv(t, walletstub.Config{
		RejectHandshake: &frame.ErrorValue{Message: "user rejected"},
	})
	rec := &eventRecorder{}
	sig := newInstrumentedSigner(t, env, rec)

	if _, err := sig.Handshake(env.ctx, HandshakeArgs{}); err == nil {
		t.Fatal("expected the handshake to fail")
	}

	started := rec.find(t, telemetry.EventHandshakeStarted)
	failed := rec.find(t, telemetry.EventHandshakeError)
	if failed.CorrelationID == "" {
		t.Error("handshake error event carries no correlation ID")
	}
	if failed.CorrelationID != started.CorrelationID {
		t.Error("handshake started/error correlation IDs differ")
	}
}

func TestPhaseTransitions(t *testing.T) {
	env := newTestEnv(t, walletstub.Config{
		Handler: func(method string, params json.RawMessage) (any, error) {
			return "ok", nil
		},
	})

	if got := env.signer.Phase(); got != PhaseIdle {
		t.Errorf("initial phase = %v, want Idle", got)
	}

	if _, err := env.signer.Handshake(env.ctx, HandshakeArgs{}); err != nil {
		t.Fatalf("Handshake failed: %v", err)
	}
	if got := env.signer.Phase(); got != PhaseReady {
		t.Errorf("phase after handshake = %v, want Ready", got)
	}

	if _, err := env.signer.Request(env.ctx, RequestArgs{Method: "eth_accounts"}); err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	if got := env.signer.Phase(); got != PhaseReady {
		t.Errorf("phase after request = %v, want Ready", got)
	}

	if err := env.signer.Disconnect(); err != nil {
		t.Fatalf("Disconnect failed: %v", err)
	}
	if got := env.signer.Phase(); got != PhaseIdle {
		t.Errorf("phase after disconnect = %v, want Idle", got)
	}
}

func TestPhase_RejectedHandshakeSettlesIdle(t *testing.T) {
	env := newTestEnv(t, walletstub.Config{
		RejectHandshake: &frame.ErrorValue{Message: "user rejected"},
	})

	if _, err := env.signer.Handshake(env.ctx, HandshakeArgs{}); err == nil {
		t.Fatal("expected the handshake to fail")
	}
	if got := env.signer.Phase(); got != PhaseIdle {
		t.Errorf("phase after rejected handshake = %v, want Idle", got)
	}
}

func TestHandshakeAndRequest(t *testing.T) {
	env := newTestEnv(t, walletstub.Config{
		Handler: func(method string, params json.RawMessage) (any, error) {
			if method != "eth_accounts" {
				t.Errorf("wallet saw method %q, want eth_accounts", method)
			}
			return []string{"0x01"}, nil
		},
	})

	if _, err := env.signer.Handshake(env.ctx, HandshakeArgs{}); err != nil {
		t.Fatalf("Handshake failed: %v", err)
	}

	// Bootstrap data from the handshake reply is absorbed.
	if got := env.state.ChainID(); got != 1 {
		t.Errorf("selected chain = %d, want 1", got)
	}
	if got := env.state.Chains(); len(got) != 1 {
		t.Errorf("chains = %d, want 1", len(got))
	}

	value, err := env.signer.Request(env.ctx, RequestArgs{Method: "eth_accounts"})
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	var accounts []string
	if err := json.Unmarshal(value, &accounts); err != nil {
		t.Fatalf("unmarshaling result: %v", err)
	}
	if len(accounts) != 1 || accounts[0] != "0x01" {
		t.Errorf("accounts = %v, want [0x01]", accounts)
	}

	// Exactly three outbound messages: the info message, the handshake
	// frame, and the encrypted request frame.
	received := env.stub.Received()
	if len(received) != 3 {
		t.Fatalf("wallet received %d messages, want 3", len(received))
	}
	var info struct {
		Event string `json:"event"`
	}
	if err := json.Unmarshal(received[0], &info); err != nil || info.Event == "" {
		t.Error("first message is not an info event")
	}
	var hs frame.RequestFrame
	if err := json.Unmarshal(received[1], &hs); err != nil || hs.Content.Kind() != frame.ContentHandshake {
		t.Error("second message is not a handshake frame")
	}
	var enc frame.RequestFrame
	if err := json.Unmarshal(received[2], &enc); err != nil || enc.Content.Kind() != frame.ContentEncrypted {
		t.Error("third message is not an encrypted frame")
	}
}

func TestRequest_UnauthorizedWithoutHandshake(t *testing.T) {
	env := newTestEnv(t, walletstub.Config{})

	_, err := env.signer.Request(env.ctx, RequestArgs{Method: "eth_accounts"})
	if !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("Request = %v, want ErrUnauthorized", err)
	}

	// Rejected before the surface is touched: zero outbound traffic.
	if got := len(env.stub.Received()); got != 0 {
		t.Errorf("wallet received %d messages, want 0", got)
	}
}

func TestRequest_MissingMethod(t *testing.T) {
	env := newTestEnv(t, walletstub.Config{})
	if _, err := env.signer.Request(env.ctx, RequestArgs{}); !errors.Is(err, ErrMissingMethod) {
		t.Errorf("Request = %v, want ErrMissingMethod", err)
	}
}

func TestHandshake_FailureLeavesKeysUntouched(t *testing.T) {
	env := newTestEnv(t, walletstub.Config{
		RejectHandshake: &frame.ErrorValue{Code: 4001, Message: "user rejected"},
	})

	_, err := env.signer.Handshake(env.ctx, HandshakeArgs{})
	var ev *frame.ErrorValue
	if !errors.As(err, &ev) {
		t.Fatalf("Handshake = %v, want a wire ErrorValue", err)
	}
	if ev.Code != 4001 || ev.Message != "user rejected" {
		t.Errorf("failure = %+v, not propagated verbatim", ev)
	}

	// No peer key was learned, no secret derived.
	peer, err := env.keys.PeerPublicKey()
	if err != nil {
		t.Fatalf("PeerPublicKey failed: %v", err)
	}
	if peer != "" {
		t.Error("failure reply left a peer key behind")
	}
	secret, err := env.keys.SharedSecret()
	if err != nil {
		t.Fatalf("SharedSecret failed: %v", err)
	}
	if secret != nil {
		t.Error("failure reply left a shared secret behind")
	}
}

func TestRequest_ApplicationErrorVerbatim(t *testing.T) {
	env := newTestEnv(t, walletstub.Config{
		Handler: func(method string, params json.RawMessage) (any, error) {
			return nil, errors.New("insufficient funds")
		},
	})

	if _, err := env.signer.Handshake(env.ctx, HandshakeArgs{}); err != nil {
		t.Fatalf("Handshake failed: %v", err)
	}

	_, err := env.signer.Request(env.ctx, RequestArgs{Method: "eth_sendTransaction"})
	var ev *frame.ErrorValue
	if !errors.As(err, &ev) {
		t.Fatalf("Request = %v, want a wire ErrorValue", err)
	}
	if ev.Message != "insufficient funds" {
		t.Errorf("error = %q, not propagated verbatim", ev.Message)
	}
}

func TestDisconnect(t *testing.T) {
	env := newTestEnv(t, walletstub.Config{
		Handler: func(method string, params json.RawMessage) (any, error) {
			return "ok", nil
		},
	})

	if _, err := env.signer.Handshake(env.ctx, HandshakeArgs{}); err != nil {
		t.Fatalf("Handshake failed: %v", err)
	}
	if _, err := env.signer.Request(env.ctx, RequestArgs{Method: "eth_accounts"}); err != nil {
		t.Fatalf("Request failed: %v", err)
	}

	if err := env.signer.Disconnect(); err != nil {
		t.Fatalf("Disconnect failed: %v", err)
	}

	// Keys and session state are gone; the next request needs a fresh
	// handshake.
	if _, err := env.signer.Request(env.ctx, RequestArgs{Method: "eth_accounts"}); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("Request after Disconnect = %v, want ErrUnauthorized", err)
	}
	if got := env.state.ChainID(); got != 0 {
		t.Errorf("chain after Disconnect = %d, want 0", got)
	}

	// A fresh handshake reconnects.
	if _, err := env.signer.Handshake(env.ctx, HandshakeArgs{}); err != nil {
		t.Fatalf("re-Handshake failed: %v", err)
	}
	if _, err := env.signer.Request(env.ctx, RequestArgs{Method: "eth_accounts"}); err != nil {
		t.Fatalf("Request after re-Handshake failed: %v", err)
	}
}

func TestEphemeral_Execute(t *testing.T) {
	env := newTestEnv(t, walletstub.Config{
		Handler: func(method string, params json.RawMessage) (any, error) {
			return "0xsigned", nil
		},
	})

	eph, err := NewEphemeralSigner(EphemeralConfig{
		Communicator: env.comm,
		ChainID:      1,
	})
	if err != nil {
		t.Fatalf("NewEphemeralSigner failed: %v", err)
	}

	value, err := eph.Execute(env.ctx, RequestArgs{
		Method: "wallet_sign",
		Params: json.RawMessage(`["hello"]`),
	})
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	var signature string
	if err := json.Unmarshal(value, &signature); err != nil {
		t.Fatalf("unmarshaling result: %v", err)
	}
	if signature != "0xsigned" {
		t.Errorf("signature = %q, want 0xsigned", signature)
	}
}

func TestEphemeral_WhitelistRejection(t *testing.T) {
	env := newTestEnv(t, walletstub.Config{})

	eph, err := NewEphemeralSigner(EphemeralConfig{Communicator: env.comm})
	if err != nil {
		t.Fatalf("NewEphemeralSigner failed: %v", err)
	}

	for _, method := range []string{"eth_accounts", "eth_sendTransaction", ""} {
		if _, err := eph.Execute(env.ctx, RequestArgs{Method: method}); !errors.Is(err, ErrUnsupportedMethod) {
			t.Errorf("Execute(%q) = %v, want ErrUnsupportedMethod", method, err)
		}
		if _, err := eph.Request(env.ctx, RequestArgs{Method: method}); !errors.Is(err, ErrUnsupportedMethod) {
			t.Errorf("Request(%q) = %v, want ErrUnsupportedMethod", method, err)
		}
	}

	// Rejected before the surface is touched.
	if got := len(env.stub.Received()); got != 0 {
		t.Errorf("wallet received %d messages, want 0", got)
	}
}

func TestEphemeral_IsolatedFromPersistentKeys(t *testing.T) {
	env := newTestEnv(t, walletstub.Config{
		Handler: func(method string, params json.RawMessage) (any, error) {
			return "ok", nil
		},
	})

	if _, err := env.signer.Handshake(env.ctx, HandshakeArgs{}); err != nil {
		t.Fatalf("Handshake failed: %v", err)
	}
	persistentKey, err := env.keys.OwnPublicKey()
	if err != nil {
		t.Fatalf("OwnPublicKey failed: %v", err)
	}

	eph, err := NewEphemeralSigner(EphemeralConfig{Communicator: env.comm, ChainID: 1})
	if err != nil {
		t.Fatalf("NewEphemeralSigner failed: %v", err)
	}
	if _, err := eph.Execute(env.ctx, RequestArgs{Method: "wallet_sendCalls"}); err != nil {
		t.Fatalf("Execute failed: %v", err)
	}

	// The ephemeral flow tore its own keys down without touching the
	// persistent slot.
	keyAfter, err := env.keys.OwnPublicKey()
	if err != nil {
		t.Fatalf("OwnPublicKey failed: %v", err)
	}
	if keyAfter != persistentKey {
		t.Error("ephemeral flow disturbed the persistent key pair")
	}
	if _, err := env.signer.Request(env.ctx, RequestArgs{Method: "eth_accounts"}); err != nil {
		t.Fatalf("persistent Request after ephemeral flow failed: %v", err)
	}
}

// stickyStore delegates to an in-memory store but refuses deletions,
// so teardown fails while the rest of the flow works.
type stickyStore struct {
	store.Store
}

func (s *stickyStore) Delete(key string) error {
	return errors.New("delete refused")
}

func TestEphemeral_ExecuteSurfacesTeardownFailure(t *testing.T) {
	env := newTestEnv(t, walletstub.Config{
		Handler: func(method string, params json.RawMessage) (any, error) {
			return "0xsigned", nil
		},
	})

	km, err := keys.NewManager(keys.Config{
		Store:     &stickyStore{Store: store.NewMemStore()},
		Namespace: "ephemeral",
	})
	if err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}
	inner, err := NewSigner(Config{
		KeyManager:   km,
		Communicator: env.comm,
		State:        NewSessionState(store.NewMemStore(), "ephemeral"),
	})
	if err != nil {
		t.Fatalf("NewSigner failed: %v", err)
	}
	inner.ephemeral = true
	eph := &EphemeralSigner{inner: inner}

	// The flow itself succeeds, but the teardown cannot discard the key
	// record; that failure must reach the caller.
	value, err := eph.Execute(env.ctx, RequestArgs{Method: "wallet_sign"})
	if err == nil {
		t.Fatal("expected Execute to surface the teardown failure")
	}
	if err.Error() != "delete refused" {
		t.Errorf("Execute = %v, want the teardown error", err)
	}
	if value != nil {
		t.Errorf("Execute returned a value alongside the error: %s", value)
	}
}

func TestEphemeral_FlowErrorWinsOverTeardownError(t *testing.T) {
	env := newTestEnv(t, walletstub.Config{
		RejectHandshake: &frame.ErrorValue{Message: "user rejected"},
	})

	km, err := keys.NewManager(keys.Config{
		Store:     &stickyStore{Store: store.NewMemStore()},
		Namespace: "ephemeral",
	})
	if err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}
	inner, err := NewSigner(Config{
		KeyManager:   km,
		Communicator: env.comm,
		State:        NewSessionState(store.NewMemStore(), "ephemeral"),
	})
	if err != nil {
		t.Fatalf("NewSigner failed: %v", err)
	}
	inner.ephemeral = true
	eph := &EphemeralSigner{inner: inner}

	_, err = eph.Execute(env.ctx, RequestArgs{Method: "wallet_sign"})
	var ev *frame.ErrorValue
	if !errors.As(err, &ev) {
		t.Fatalf("Execute = %v, want the wallet rejection", err)
	}
	if ev.Message != "user rejected" {
		t.Errorf("error = %q, want the flow error, not the teardown error", ev.Message)
	}
}

func TestEphemeral_CleanupRunsOnFailure(t *testing.T) {
	env := newTestEnv(t, walletstub.Config{
		RejectHandshake: &frame.ErrorValue{Message: "user rejected"},
	})

	eph, err := NewEphemeralSigner(EphemeralConfig{Communicator: env.comm})
	if err != nil {
		t.Fatalf("NewEphemeralSigner failed: %v", err)
	}

	if _, err := eph.Execute(env.ctx, RequestArgs{Method: "wallet_sign"}); err == nil {
		t.Fatal("expected the rejected handshake to fail the flow")
	}

	// Teardown ran: no shared secret survives, a direct request is
	// unauthorized.
	if _, err := eph.Request(env.ctx, RequestArgs{Method: "wallet_sign"}); !errors.Is(err, ErrUnauthorized) {
		t.Errorf("Request after failed flow = %v, want ErrUnauthorized", err)
	}
}
