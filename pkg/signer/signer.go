// Package signer drives the encrypted request lifecycle against a wallet
// surface: the one-time key-exchange handshake and the encrypt, send,
// await, decrypt round trip for every call after it.
//
// The persistent Signer keeps its keys and session state across calls
// (and, with a durable store, across processes). The EphemeralSigner in
// this package is its single-use counterpart: fresh keys per flow, torn
// down unconditionally when the flow settles.
package signer

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/pion/logging"

	"github.com/crosswin/walletbridge/pkg/cipher"
	"github.com/crosswin/walletbridge/pkg/frame"
	"github.com/crosswin/walletbridge/pkg/keys"
	"github.com/crosswin/walletbridge/pkg/telemetry"
	"github.com/crosswin/walletbridge/pkg/transport"
)

// HandshakeMethod is the RPC method carried by the handshake frame.
const HandshakeMethod = "eth_requestAccounts"

// Config configures a Signer.
type Config struct {
	// KeyManager owns the signer's cryptographic state. Required.
	KeyManager *keys.Manager

	// Communicator owns the wallet surface and the framed exchange over
	// it. Required.
	Communicator *transport.Communicator

	// State is the signer's session-state handle. Required.
	State *SessionState

	// Telemetry receives lifecycle events. If nil, telemetry is disabled.
	Telemetry telemetry.Reporter

	// Correlations maps in-flight frame IDs to telemetry correlation IDs.
	// If nil, frames carry no correlation ID.
	Correlations *telemetry.Registry

	// LoggerFactory is the factory for creating loggers.
	// If nil, logging is disabled.
	LoggerFactory logging.LoggerFactory
}

// HandshakeArgs parameterizes the key-exchange handshake.
type HandshakeArgs struct {
	// Method overrides the handshake RPC method
	// (default: HandshakeMethod).
	Method string

	// Params are the method parameters forwarded in plaintext.
	Params json.RawMessage
}

// RequestArgs parameterizes an encrypted RPC call.
type RequestArgs struct {
	Method string
	Params json.RawMessage
}

// Signer performs encrypted RPC calls against the wallet surface. All
// methods are safe for concurrent use; a handshake and requests may not
// overlap, requests among themselves may.
type Signer struct {
	config    Config
	ephemeral bool
	log       logging.LeveledLogger

	handshakeMu chanMutex

	phaseMu sync.Mutex
	phase   Phase
}

// chanMutex is a try-lockable mutex guarding the handshake critical
// section. A plain Mutex would block a second Handshake call instead of
// failing it fast.
type chanMutex chan struct{}

func newChanMutex() chanMutex {
	m := make(chanMutex, 1)
	m <- struct{}{}
	return m
}

func (m chanMutex) tryLock() bool {
	select {
	case <-m:
		return true
	default:
		return false
	}
}

func (m chanMutex) unlock() {
	m <- struct{}{}
}

// NewSigner creates a persistent Signer.
func NewSigner(config Config) (*Signer, error) {
	if config.KeyManager == nil {
		return nil, fmt.Errorf("signer: no key manager")
	}
	if config.Communicator == nil {
		return nil, fmt.Errorf("signer: no communicator")
	}
	if config.State == nil {
		return nil, fmt.Errorf("signer: no session state")
	}

	s := &Signer{
		config:      config,
		handshakeMu: newChanMutex(),
		phase:       PhaseIdle,
	}
	if config.LoggerFactory != nil {
		s.log = config.LoggerFactory.NewLogger("signer")
	}
	return s, nil
}

// Phase reports the signer's current protocol phase.
func (s *Signer) Phase() Phase {
	s.phaseMu.Lock()
	defer s.phaseMu.Unlock()
	return s.phase
}

func (s *Signer) setPhase(p Phase) {
	s.phaseMu.Lock()
	s.phase = p
	s.phaseMu.Unlock()
}

// restPhase is the stable phase to settle into after a flow ends:
// Ready while a shared secret exists, Idle otherwise.
func (s *Signer) restPhase() Phase {
	secret, err := s.config.KeyManager.SharedSecret()
	if err != nil || secret == nil {
		return PhaseIdle
	}
	return PhaseReady
}

// Handshake performs the plaintext key exchange: it sends the local
// public key, imports the wallet's key from the reply, derives the
// shared secret, and decrypts the first encrypted payload. A failure
// reply is propagated verbatim and leaves the key state untouched, so
// the handshake can simply be retried.
func (s *Signer) Handshake(ctx context.Context, args HandshakeArgs) (*frame.SecureResponse, error) {
	if !s.handshakeMu.tryLock() {
		return nil, ErrHandshakeInProgress
	}
	defer s.handshakeMu.unlock()

	method := args.Method
	if method == "" {
		method = HandshakeMethod
	}

	ownKey, err := s.config.KeyManager.OwnPublicKey()
	if err != nil {
		return nil, err
	}
	req := frame.NewHandshakeRequest(ownKey, frame.Handshake{
		Method: method,
		Params: args.Params,
	})
	corrID := s.correlate(req)
	defer s.forget(req)

	s.report(telemetry.Event{Name: telemetry.EventHandshakeStarted, Method: method, CorrelationID: corrID})
	s.setPhase(PhaseHandshaking)

	resp, err := s.handshake(ctx, req)
	if err != nil {
		s.setPhase(s.restPhase())
		s.report(telemetry.Event{Name: telemetry.EventHandshakeError, Method: method, CorrelationID: corrID})
		return nil, err
	}
	s.setPhase(PhaseReady)
	s.report(telemetry.Event{Name: telemetry.EventHandshakeCompleted, Method: method, CorrelationID: corrID})
	return resp, nil
}

func (s *Signer) handshake(ctx context.Context, req *frame.RequestFrame) (*frame.SecureResponse, error) {
	if s.log != nil {
		s.log.Debugf("handshake %s: sending frame %s", req.Content.Handshake.Method, req.ID)
	}

	resp, err := s.config.Communicator.SendAndAwaitReply(ctx, req)
	if err != nil {
		return nil, err
	}

	// An explicit failure leaves key state untouched: no peer key was
	// learned, the next handshake starts clean.
	if failure := resp.Content.Failure; failure != nil {
		return nil, failure
	}

	if err := s.config.KeyManager.SetPeerPublicKey(resp.Sender); err != nil {
		return nil, err
	}
	secret, err := s.config.KeyManager.SharedSecret()
	if err != nil {
		return nil, err
	}

	var payload frame.SecureResponse
	if err := cipher.Decrypt(resp.Content.Encrypted, secret, &payload); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSessionInvalid, err)
	}

	if err := s.absorb(&payload); err != nil {
		return nil, err
	}
	return &payload, nil
}

// Request performs one encrypted RPC call. The shared secret must exist:
// a Signer that has never handshaken (or has been disconnected) fails
// with ErrUnauthorized before touching the surface.
func (s *Signer) Request(ctx context.Context, args RequestArgs) (json.RawMessage, error) {
	if args.Method == "" {
		return nil, ErrMissingMethod
	}

	secret, err := s.config.KeyManager.SharedSecret()
	if err != nil {
		return nil, err
	}
	if secret == nil {
		// No frame exists yet, so there is nothing to correlate.
		s.report(telemetry.Event{Name: telemetry.EventRequestError, Method: args.Method})
		return nil, ErrUnauthorized
	}
	ownKey, err := s.config.KeyManager.OwnPublicKey()
	if err != nil {
		return nil, err
	}
	defer s.setPhase(s.restPhase())

	s.setPhase(PhaseEncrypting)
	env, err := cipher.Encrypt(frame.SecureRequest{
		Action:  frame.Action{Method: args.Method, Params: args.Params},
		ChainID: s.config.State.ChainID(),
	}, secret)
	if err != nil {
		return nil, err
	}

	req := frame.NewEncryptedRequest(ownKey, env)
	corrID := s.correlate(req)
	defer s.forget(req)

	s.report(telemetry.Event{Name: telemetry.EventRequestStarted, Method: args.Method, CorrelationID: corrID})
	value, err := s.exchange(ctx, req, secret)
	if err != nil {
		s.report(telemetry.Event{Name: telemetry.EventRequestError, Method: args.Method, CorrelationID: corrID})
		return nil, err
	}
	s.report(telemetry.Event{Name: telemetry.EventRequestCompleted, Method: args.Method, CorrelationID: corrID})
	return value, nil
}

// exchange runs the encrypted round trip: send the frame, await its
// reply, decrypt, absorb bootstrap data, and unwrap the result.
func (s *Signer) exchange(ctx context.Context, req *frame.RequestFrame, secret []byte) (json.RawMessage, error) {
	if s.log != nil {
		s.log.Debugf("request: sending frame %s", req.ID)
	}

	if err := s.config.Communicator.EnsureReady(ctx); err != nil {
		return nil, err
	}
	sub := s.config.Communicator.SubscribeReply(req.ID)
	defer sub.Cancel()

	s.setPhase(PhaseSent)
	if err := s.config.Communicator.Send(req); err != nil {
		return nil, err
	}

	s.setPhase(PhaseAwaitingReply)
	resp, err := s.config.Communicator.AwaitReply(ctx, sub)
	if err != nil {
		return nil, err
	}
	if failure := resp.Content.Failure; failure != nil {
		return nil, failure
	}

	s.setPhase(PhaseDecrypted)
	var payload frame.SecureResponse
	if err := cipher.Decrypt(resp.Content.Encrypted, secret, &payload); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSessionInvalid, err)
	}
	if err := s.absorb(&payload); err != nil {
		return nil, err
	}

	// An application-level error inside a well-formed encrypted reply is
	// the caller's to interpret; it is passed through verbatim.
	if payload.Result.Error != nil {
		return nil, payload.Result.Error
	}
	return payload.Result.Value, nil
}

// absorb merges any bootstrap chain data attached to a decrypted reply
// into the session state.
func (s *Signer) absorb(payload *frame.SecureResponse) error {
	if payload.Data == nil {
		return nil
	}
	if s.log != nil {
		s.log.Debugf("absorbing chain data for %d chains", len(payload.Data.Chains))
	}
	return s.config.State.AbsorbChainData(payload.Data)
}

// Cleanup discards the signer's own cryptographic state. Session state
// and configuration are untouched.
func (s *Signer) Cleanup() error {
	s.setPhase(PhaseIdle)
	return s.config.KeyManager.Clear()
}

// Disconnect ends the session: keys and session state are discarded,
// configuration is kept. The next call requires a fresh handshake.
func (s *Signer) Disconnect() error {
	s.setPhase(PhaseIdle)
	if err := s.config.KeyManager.Clear(); err != nil {
		return err
	}
	return s.config.State.Clear()
}

// correlate stamps a frame with a telemetry correlation ID and returns
// it, so lifecycle events can carry the same identifier.
func (s *Signer) correlate(req *frame.RequestFrame) string {
	if s.config.Correlations == nil {
		return ""
	}
	req.CorrelationID = s.config.Correlations.Register(req.ID)
	return req.CorrelationID
}

// forget releases a frame's correlation mapping once its flow settles.
func (s *Signer) forget(req *frame.RequestFrame) {
	if s.config.Correlations == nil {
		return
	}
	s.config.Correlations.Forget(req.ID)
}

// report emits a telemetry event, tagged with the signer's flavor.
func (s *Signer) report(e telemetry.Event) {
	if s.config.Telemetry == nil {
		return
	}
	e.Ephemeral = s.ephemeral
	s.config.Telemetry.Report(e)
}
