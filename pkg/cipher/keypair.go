// Package cipher provides the cryptographic core of the wallet bridge:
// ephemeral P-256 key agreement and AES-256-GCM encryption of
// JSON-serializable payloads.
//
// Public keys travel in uncompressed form (0x04 || X || Y), hex encoded.
// The shared secret is derived from the raw ECDH output with HKDF-SHA256
// and is symmetric: both sides of a handshake derive the same key.
package cipher

import (
	"crypto/ecdh"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

// Key size constants.
const (
	// PublicKeySize is the uncompressed P-256 public key size in bytes
	// (0x04 || X || Y).
	PublicKeySize = 65

	// PrivateKeySize is the P-256 private scalar size in bytes.
	PrivateKeySize = 32

	// SharedSecretSize is the derived symmetric key size in bytes
	// (AES-256).
	SharedSecretSize = 32
)

// sharedSecretInfo is the HKDF info string binding derived secrets to
// this protocol version.
var sharedSecretInfo = []byte("WalletBridgeSharedSecret v1")

// KeyPair is an ephemeral P-256 key pair. Only the public half is ever
// transmitted.
type KeyPair struct {
	private *ecdh.PrivateKey
}

// GenerateKeyPair generates a new P-256 key pair.
func GenerateKeyPair() (*KeyPair, error) {
	priv, err := ecdh.P256().GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("cipher: generating key pair: %w", err)
	}
	return &KeyPair{private: priv}, nil
}

// KeyPairFromPrivateKey reconstructs a key pair from a private scalar.
func KeyPairFromPrivateKey(privateKey []byte) (*KeyPair, error) {
	if len(privateKey) != PrivateKeySize {
		return nil, fmt.Errorf("cipher: private key must be %d bytes, got %d", PrivateKeySize, len(privateKey))
	}
	priv, err := ecdh.P256().NewPrivateKey(privateKey)
	if err != nil {
		return nil, fmt.Errorf("cipher: invalid private key: %w", err)
	}
	return &KeyPair{private: priv}, nil
}

// PublicKey returns the public half of the key pair.
func (kp *KeyPair) PublicKey() *ecdh.PublicKey {
	return kp.private.PublicKey()
}

// PublicKeyHex returns the public key as a hex string, the form used in
// frame sender fields.
func (kp *KeyPair) PublicKeyHex() string {
	return ExportPublicKey(kp.private.PublicKey())
}

// PrivateKeyBytes returns the private scalar, used for persistence.
func (kp *KeyPair) PrivateKeyBytes() []byte {
	return kp.private.Bytes()
}

// ExportPublicKey encodes a public key as a hex string of its
// uncompressed form.
func ExportPublicKey(pub *ecdh.PublicKey) string {
	return hex.EncodeToString(pub.Bytes())
}

// ImportPublicKey decodes a hex string produced by ExportPublicKey.
// The round-trip is exact.
func ImportPublicKey(s string) (*ecdh.PublicKey, error) {
	raw, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPublicKey, err)
	}
	if len(raw) != PublicKeySize {
		return nil, fmt.Errorf("%w: must be %d bytes, got %d", ErrInvalidPublicKey, PublicKeySize, len(raw))
	}
	pub, err := ecdh.P256().NewPublicKey(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPublicKey, err)
	}
	return pub, nil
}

// DeriveSharedSecret computes the symmetric session key from our private
// key and the peer's public key.
//
// DeriveSharedSecret(A, B.pub) == DeriveSharedSecret(B, A.pub) for any
// two key pairs A and B.
func DeriveSharedSecret(own *KeyPair, peer *ecdh.PublicKey) ([]byte, error) {
	raw, err := own.private.ECDH(peer)
	if err != nil {
		return nil, fmt.Errorf("cipher: ECDH failed: %w", err)
	}
	return hkdfSHA256(raw, nil, sharedSecretInfo, SharedSecretSize)
}

// hkdfSHA256 derives key material using HKDF-SHA256 (RFC 5869).
func hkdfSHA256(inputKey, salt, info []byte, length int) ([]byte, error) {
	reader := hkdf.New(sha256.New, inputKey, salt, info)
	result := make([]byte, length)
	if _, err := io.ReadFull(reader, result); err != nil {
		return nil, fmt.Errorf("cipher: HKDF failed: %w", err)
	}
	return result, nil
}
