// Package walletstub implements the wallet side of the bridge protocol
// over an in-memory pipe. It exists for tests and demos: it answers
// handshakes with a real key exchange, decrypts request envelopes, and
// dispatches the carried method to a configurable handler.
package walletstub

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/pion/logging"

	"github.com/crosswin/walletbridge/pkg/cipher"
	"github.com/crosswin/walletbridge/pkg/frame"
	"github.com/crosswin/walletbridge/pkg/transport"
)

// Handler answers one decrypted RPC call. The returned value is
// marshaled into the encrypted reply; a returned error becomes an
// application-level result error, propagated to the caller verbatim.
type Handler func(method string, params json.RawMessage) (any, error)

// Config configures a Stub.
type Config struct {
	// Pair is the in-memory channel the stub serves. Required.
	Pair *transport.PipePair

	// ReadyEvent is the readiness notification announced on each open
	// (default: transport.DefaultReadyEvent).
	ReadyEvent string

	// Bootstrap is chain data attached to handshake replies.
	Bootstrap *frame.ChainData

	// Handler answers decrypted calls. If nil, every call fails with a
	// method-not-found error.
	Handler Handler

	// RejectHandshake, when set, makes the stub answer handshakes with
	// this failure instead of completing the key exchange.
	RejectHandshake *frame.ErrorValue

	// LoggerFactory is the factory for creating loggers.
	// If nil, logging is disabled.
	LoggerFactory logging.LoggerFactory
}

// Stub is a scripted wallet endpoint.
type Stub struct {
	config Config
	kp     *cipher.KeyPair
	pubHex string
	log    logging.LeveledLogger

	mu       sync.Mutex
	secrets  map[string][]byte // sender public key hex → shared secret
	received [][]byte
}

// New creates a stub, wires it onto the pair, and starts announcing
// readiness on every surface open.
func New(config Config) (*Stub, error) {
	if config.Pair == nil {
		return nil, fmt.Errorf("walletstub: no pipe pair")
	}
	if config.ReadyEvent == "" {
		config.ReadyEvent = transport.DefaultReadyEvent
	}

	kp, err := cipher.GenerateKeyPair()
	if err != nil {
		return nil, err
	}

	s := &Stub{
		config:  config,
		kp:      kp,
		pubHex:  kp.PublicKeyHex(),
		secrets: make(map[string][]byte),
	}
	if config.LoggerFactory != nil {
		s.log = config.LoggerFactory.NewLogger("walletstub")
	}

	config.Pair.SetWalletHandler(s.onMessage)
	config.Pair.OnOpen(s.announceReady)
	return s, nil
}

// PublicKeyHex returns the stub's public key in hex form.
func (s *Stub) PublicKeyHex() string {
	return s.pubHex
}

// Received returns copies of all raw messages the stub has seen, in
// arrival order. Includes info messages and frames alike.
func (s *Stub) Received() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([][]byte, len(s.received))
	for i, m := range s.received {
		out[i] = append([]byte(nil), m...)
	}
	return out
}

// announceReady posts the readiness notification.
func (s *Stub) announceReady() {
	data, err := json.Marshal(frame.Notification{Event: s.config.ReadyEvent})
	if err != nil {
		return
	}
	if err := s.config.Pair.WalletSend(data); err != nil && s.log != nil {
		s.log.Warnf("announcing readiness: %v", err)
	}
}

// onMessage is the stub's inbound entry point for app→wallet traffic.
func (s *Stub) onMessage(data []byte) {
	s.mu.Lock()
	s.received = append(s.received, append([]byte(nil), data...))
	s.mu.Unlock()

	var req frame.RequestFrame
	if err := json.Unmarshal(data, &req); err != nil || req.Validate() != nil {
		// Not a request frame; info messages land here.
		if s.log != nil {
			s.log.Tracef("non-frame message: %s", string(data))
		}
		return
	}

	switch req.Content.Kind() {
	case frame.ContentHandshake:
		s.handleHandshake(&req)
	case frame.ContentEncrypted:
		s.handleEncrypted(&req)
	}
}

// handleHandshake completes (or rejects) the key exchange and replies
// with an encrypted empty result carrying the bootstrap data.
func (s *Stub) handleHandshake(req *frame.RequestFrame) {
	if reject := s.config.RejectHandshake; reject != nil {
		s.reply(frame.ResponseFrame{
			RequestID: req.ID,
			Sender:    s.pubHex,
			Content:   frame.ResponseContent{Failure: reject},
		})
		return
	}

	peer, err := cipher.ImportPublicKey(req.Sender)
	if err != nil {
		s.replyFailure(req.ID, "invalid sender key")
		return
	}
	secret, err := cipher.DeriveSharedSecret(s.kp, peer)
	if err != nil {
		s.replyFailure(req.ID, "key derivation failed")
		return
	}

	s.mu.Lock()
	s.secrets[req.Sender] = secret
	s.mu.Unlock()

	payload := frame.SecureResponse{
		Result: frame.Result{Value: json.RawMessage(`null`)},
		Data:   s.config.Bootstrap,
	}
	env, err := cipher.Encrypt(payload, secret)
	if err != nil {
		s.replyFailure(req.ID, "encryption failed")
		return
	}
	s.reply(frame.ResponseFrame{
		RequestID: req.ID,
		Sender:    s.pubHex,
		Content:   frame.ResponseContent{Encrypted: env},
	})
}

// handleEncrypted decrypts a request envelope, dispatches the call, and
// replies with an encrypted result.
func (s *Stub) handleEncrypted(req *frame.RequestFrame) {
	s.mu.Lock()
	secret, ok := s.secrets[req.Sender]
	s.mu.Unlock()
	if !ok {
		s.replyFailure(req.ID, "no session for sender")
		return
	}

	var call frame.SecureRequest
	if err := cipher.Decrypt(req.Content.Encrypted, secret, &call); err != nil {
		s.replyFailure(req.ID, "decryption failed")
		return
	}

	var result frame.Result
	if s.config.Handler == nil {
		result.Error = &frame.ErrorValue{Code: -32601, Message: "method not found"}
	} else if value, err := s.config.Handler(call.Action.Method, call.Action.Params); err != nil {
		result.Error = &frame.ErrorValue{Message: err.Error()}
	} else {
		raw, err := json.Marshal(value)
		if err != nil {
			s.replyFailure(req.ID, "marshaling result failed")
			return
		}
		result.Value = raw
	}

	env, err := cipher.Encrypt(frame.SecureResponse{Result: result}, secret)
	if err != nil {
		s.replyFailure(req.ID, "encryption failed")
		return
	}
	s.reply(frame.ResponseFrame{
		RequestID: req.ID,
		Sender:    s.pubHex,
		Content:   frame.ResponseContent{Encrypted: env},
	})
}

// replyFailure answers a request with a plaintext failure.
func (s *Stub) replyFailure(requestID, message string) {
	s.reply(frame.ResponseFrame{
		RequestID: requestID,
		Sender:    s.pubHex,
		Content:   frame.ResponseContent{Failure: &frame.ErrorValue{Message: message}},
	})
}

// reply posts a response frame to the app side.
func (s *Stub) reply(resp frame.ResponseFrame) {
	data, err := json.Marshal(resp)
	if err != nil {
		if s.log != nil {
			s.log.Errorf("marshaling reply: %v", err)
		}
		return
	}
	if err := s.config.Pair.WalletSend(data); err != nil && s.log != nil {
		s.log.Warnf("sending reply: %v", err)
	}
}
