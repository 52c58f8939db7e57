package cipher

import (
	"crypto/aes"
	stdcipher "crypto/cipher"
	"crypto/rand"
	"encoding/json"
	"fmt"
)

// NonceSize is the AES-GCM nonce size in bytes.
const NonceSize = 12

// Envelope is an opaque authenticated ciphertext. It is
// JSON-serializable and carried in the encrypted member of frame
// content unions.
type Envelope struct {
	// IV is the random per-message nonce.
	IV []byte `json:"iv"`

	// Ciphertext is the sealed payload, authentication tag included.
	Ciphertext []byte `json:"cipherText"`
}

// Encrypt seals a JSON-serializable payload under key.
// A fresh random nonce is drawn per call.
func Encrypt(payload any, key []byte) (*Envelope, error) {
	plaintext, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("cipher: marshaling payload: %w", err)
	}

	aead, err := newAEAD(key)
	if err != nil {
		return nil, err
	}

	iv := make([]byte, NonceSize)
	if _, err := rand.Read(iv); err != nil {
		return nil, fmt.Errorf("cipher: generating nonce: %w", err)
	}

	return &Envelope{
		IV:         iv,
		Ciphertext: aead.Seal(nil, iv, plaintext, nil),
	}, nil
}

// Decrypt opens an envelope under key and unmarshals the plaintext into
// out. A wrong key or a corrupted envelope fails with ErrDecrypt; it
// never yields truncated or garbage data.
func Decrypt(env *Envelope, key []byte, out any) error {
	if env == nil {
		return fmt.Errorf("%w: nil envelope", ErrDecrypt)
	}
	if len(env.IV) != NonceSize {
		return fmt.Errorf("%w: nonce must be %d bytes, got %d", ErrDecrypt, NonceSize, len(env.IV))
	}

	aead, err := newAEAD(key)
	if err != nil {
		return err
	}

	plaintext, err := aead.Open(nil, env.IV, env.Ciphertext, nil)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDecrypt, err)
	}

	if err := json.Unmarshal(plaintext, out); err != nil {
		return fmt.Errorf("cipher: unmarshaling payload: %w", err)
	}
	return nil
}

// newAEAD builds the AES-256-GCM primitive for a derived shared secret.
func newAEAD(key []byte) (stdcipher.AEAD, error) {
	if len(key) != SharedSecretSize {
		return nil, fmt.Errorf("%w: must be %d bytes, got %d", ErrInvalidKey, SharedSecretSize, len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("cipher: creating AES cipher: %w", err)
	}
	aead, err := stdcipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("cipher: creating GCM: %w", err)
	}
	return aead, nil
}
