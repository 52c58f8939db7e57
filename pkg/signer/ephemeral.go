package signer

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/pion/logging"

	"github.com/crosswin/walletbridge/pkg/keys"
	"github.com/crosswin/walletbridge/pkg/store"
	"github.com/crosswin/walletbridge/pkg/telemetry"
	"github.com/crosswin/walletbridge/pkg/transport"
)

// ephemeralMethods is the closed set of methods an ephemeral flow may
// carry. Anything else is rejected before the surface is touched.
var ephemeralMethods = map[string]struct{}{
	"wallet_sendCalls": {},
	"wallet_sign":      {},
}

// ephemeralNamespace isolates ephemeral key and session records. The
// backing store is in-memory and per-flow, so no collision is possible
// anyway; the namespace just keeps record keys well-formed.
const ephemeralNamespace = "ephemeral"

// EphemeralConfig configures an EphemeralSigner.
type EphemeralConfig struct {
	// Communicator owns the wallet surface. Required. Ephemeral flows
	// share the surface with the persistent signer but never its keys.
	Communicator *transport.Communicator

	// ChainID is the chain the flow's calls execute against.
	ChainID uint64

	// Telemetry receives lifecycle events, tagged ephemeral.
	// If nil, telemetry is disabled.
	Telemetry telemetry.Reporter

	// Correlations maps in-flight frame IDs to telemetry correlation IDs.
	// If nil, frames carry no correlation ID.
	Correlations *telemetry.Registry

	// LoggerFactory is the factory for creating loggers.
	// If nil, logging is disabled.
	LoggerFactory logging.LoggerFactory
}

// EphemeralSigner is a single-use signer: fresh in-memory keys, its own
// session state, and an unconditional teardown when the flow settles.
// It never reads or writes persistent signer state.
type EphemeralSigner struct {
	inner *Signer
}

// NewEphemeralSigner creates an ephemeral signer with a fresh key pair
// slot backed by in-memory storage.
func NewEphemeralSigner(config EphemeralConfig) (*EphemeralSigner, error) {
	if config.Communicator == nil {
		return nil, fmt.Errorf("signer: no communicator")
	}

	mem := store.NewMemStore()
	km, err := keys.NewManager(keys.Config{
		Store:         mem,
		Namespace:     ephemeralNamespace,
		LoggerFactory: config.LoggerFactory,
	})
	if err != nil {
		return nil, err
	}

	state := NewSessionState(mem, ephemeralNamespace)
	if config.ChainID != 0 {
		if err := state.SetChainID(config.ChainID); err != nil {
			return nil, err
		}
	}

	inner, err := NewSigner(Config{
		KeyManager:    km,
		Communicator:  config.Communicator,
		State:         state,
		Telemetry:     config.Telemetry,
		Correlations:  config.Correlations,
		LoggerFactory: config.LoggerFactory,
	})
	if err != nil {
		return nil, err
	}
	inner.ephemeral = true

	return &EphemeralSigner{inner: inner}, nil
}

// Handshake performs the key exchange for this flow.
func (e *EphemeralSigner) Handshake(ctx context.Context, args HandshakeArgs) error {
	_, err := e.inner.Handshake(ctx, args)
	return err
}

// Request performs one whitelisted encrypted call.
func (e *EphemeralSigner) Request(ctx context.Context, args RequestArgs) (json.RawMessage, error) {
	if _, ok := ephemeralMethods[args.Method]; !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedMethod, args.Method)
	}
	return e.inner.Request(ctx, args)
}

// Execute runs a complete ephemeral flow: handshake, one call, teardown.
// Cleanup runs on every path out, success or failure, so a flow that
// dies mid-way leaves no key material behind. A teardown failure after
// an otherwise successful flow is returned to the caller; after a flow
// that already failed, it is logged and the flow error wins.
func (e *EphemeralSigner) Execute(ctx context.Context, args RequestArgs) (value json.RawMessage, err error) {
	if _, ok := ephemeralMethods[args.Method]; !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedMethod, args.Method)
	}
	defer func() {
		cleanupErr := e.Cleanup()
		if cleanupErr == nil {
			return
		}
		if err != nil {
			if e.inner.log != nil {
				e.inner.log.Warnf("ephemeral teardown failed: %v", cleanupErr)
			}
			return
		}
		value, err = nil, cleanupErr
	}()

	if err := e.Handshake(ctx, HandshakeArgs{}); err != nil {
		return nil, err
	}
	return e.inner.Request(ctx, args)
}

// Cleanup discards the flow's key material. Idempotent.
func (e *EphemeralSigner) Cleanup() error {
	return e.inner.Cleanup()
}
