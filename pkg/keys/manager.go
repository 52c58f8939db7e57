// Package keys owns the cryptographic state of one protocol participant:
// an ephemeral key pair, the peer's public key once learned, and the
// derived shared secret.
//
// Each Manager instance owns its state exclusively. Two Managers built
// against different storage namespaces never observe each other's
// changes, even when they share a backing store.
package keys

import (
	"crypto/ecdh"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/pion/logging"

	"github.com/crosswin/walletbridge/pkg/cipher"
	"github.com/crosswin/walletbridge/pkg/store"
)

// storagePrefix namespaces key records within a shared backing store.
const storagePrefix = "walletbridge/keys/"

// record is the persisted state layout for one namespace.
type record struct {
	OwnPrivateKey string `json:"ownPrivateKey"`
	OwnPublicKey  string `json:"ownPublicKey"`
	PeerPublicKey string `json:"peerPublicKey,omitempty"`
}

// Config configures a key Manager.
type Config struct {
	// Store is the backing key/value store. Required.
	Store store.Store

	// Namespace isolates this Manager's slot within the store. Required.
	// Managers with different namespaces are fully independent.
	Namespace string

	// LoggerFactory is the factory for creating loggers.
	// If nil, logging is disabled.
	LoggerFactory logging.LoggerFactory
}

// Manager owns one ephemeral key pair and the peer key learned during a
// handshake. The shared secret is memoized until either half changes.
type Manager struct {
	store      store.Store
	storageKey string
	log        logging.LeveledLogger

	mu     sync.Mutex
	loaded bool
	own    *cipher.KeyPair
	peer   *ecdh.PublicKey
	secret []byte
}

// NewManager creates a key Manager bound to a storage namespace.
func NewManager(config Config) (*Manager, error) {
	if config.Store == nil {
		return nil, ErrNoStore
	}
	if config.Namespace == "" {
		return nil, ErrNoNamespace
	}

	m := &Manager{
		store:      config.Store,
		storageKey: storagePrefix + config.Namespace,
	}
	if config.LoggerFactory != nil {
		m.log = config.LoggerFactory.NewLogger("keys")
	}
	return m, nil
}

// OwnPublicKey returns the local public key in hex form, generating and
// persisting a fresh key pair on first call. Idempotent thereafter.
func (m *Manager) OwnPublicKey() (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.loadLocked(); err != nil {
		return "", err
	}
	if m.own == nil {
		if err := m.generateLocked(); err != nil {
			return "", err
		}
	}
	return m.own.PublicKeyHex(), nil
}

// SetPeerPublicKey stores the peer's public key. Any memoized shared
// secret is discarded so the next SharedSecret call recomputes it.
func (m *Manager) SetPeerPublicKey(hexKey string) error {
	pub, err := cipher.ImportPublicKey(hexKey)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.loadLocked(); err != nil {
		return err
	}
	m.peer = pub
	m.secret = nil
	return m.persistLocked()
}

// PeerPublicKey returns the peer's public key in hex form, or "" if no
// handshake has completed.
func (m *Manager) PeerPublicKey() (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.loadLocked(); err != nil {
		return "", err
	}
	if m.peer == nil {
		return "", nil
	}
	return cipher.ExportPublicKey(m.peer), nil
}

// SharedSecret returns the memoized derived secret, or nil if no peer
// key has been set. Encryption must not be attempted on a nil secret.
func (m *Manager) SharedSecret() ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.loadLocked(); err != nil {
		return nil, err
	}
	if m.peer == nil {
		return nil, nil
	}
	if m.secret != nil {
		return m.secret, nil
	}
	if m.own == nil {
		if err := m.generateLocked(); err != nil {
			return nil, err
		}
	}

	secret, err := cipher.DeriveSharedSecret(m.own, m.peer)
	if err != nil {
		return nil, err
	}
	m.secret = secret
	return secret, nil
}

// Clear discards the own key pair, the peer key, and the shared secret,
// and removes the persisted record. The next OwnPublicKey call yields a
// different key. Other Manager instances are unaffected.
func (m *Manager) Clear() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.own = nil
	m.peer = nil
	m.secret = nil
	m.loaded = true
	return m.store.Delete(m.storageKey)
}

// generateLocked creates and persists a fresh key pair. Caller holds mu.
func (m *Manager) generateLocked() error {
	kp, err := cipher.GenerateKeyPair()
	if err != nil {
		return err
	}
	m.own = kp
	m.secret = nil
	if m.log != nil {
		m.log.Debugf("generated key pair %s...", m.own.PublicKeyHex()[:16])
	}
	return m.persistLocked()
}

// loadLocked restores state from the store on first access. Caller holds mu.
func (m *Manager) loadLocked() error {
	if m.loaded {
		return nil
	}
	m.loaded = true

	raw, err := m.store.Get(m.storageKey)
	if err == store.ErrNotFound {
		return nil
	}
	if err != nil {
		return fmt.Errorf("keys: loading record: %w", err)
	}

	var rec record
	if err := json.Unmarshal(raw, &rec); err != nil {
		return fmt.Errorf("%w: %v", ErrCorruptRecord, err)
	}

	priv, err := hex.DecodeString(rec.OwnPrivateKey)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrCorruptRecord, err)
	}
	kp, err := cipher.KeyPairFromPrivateKey(priv)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrCorruptRecord, err)
	}
	m.own = kp

	if rec.PeerPublicKey != "" {
		peer, err := cipher.ImportPublicKey(rec.PeerPublicKey)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrCorruptRecord, err)
		}
		m.peer = peer
	}
	return nil
}

// persistLocked writes the current state to the store. Caller holds mu.
func (m *Manager) persistLocked() error {
	if m.own == nil {
		return m.store.Delete(m.storageKey)
	}

	rec := record{
		OwnPrivateKey: hex.EncodeToString(m.own.PrivateKeyBytes()),
		OwnPublicKey:  m.own.PublicKeyHex(),
	}
	if m.peer != nil {
		rec.PeerPublicKey = cipher.ExportPublicKey(m.peer)
	}

	raw, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("keys: marshaling record: %w", err)
	}
	return m.store.Set(m.storageKey, raw)
}
