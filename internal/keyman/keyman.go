// Package keyman derives and wraps the per-attempt metadata encryption
// key. A fresh 32-byte data key is generated for every hibernate attempt,
// used to authenticate the image split (see internal/splitter), then
// wrapped under a process-local key so the wrapped form can ride inside
// hibertypes.Metadata without ever touching disk unwrapped.
package keyman

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"fmt"
	"io"
)

// KeySize is the length in bytes of both the data key and the wrapping key.
const KeySize = 32

// Manager wraps and unwraps data keys under a single process-local key.
type Manager struct {
	wrapKey []byte
}

// New returns a Manager using wrapKey, which must be exactly KeySize bytes.
func New(wrapKey []byte) (*Manager, error) {
	if len(wrapKey) != KeySize {
		return nil, fmt.Errorf("keyman: wrap key must be %d bytes, got %d", KeySize, len(wrapKey))
	}
	return &Manager{wrapKey: wrapKey}, nil
}

// Generate returns a fresh random data key, sized for AES-256-GCM.
func Generate() ([]byte, error) {
	key := make([]byte, KeySize)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return nil, fmt.Errorf("keyman: generate data key: %w", err)
	}
	return key, nil
}

// Wrap encrypts dataKey under the manager's wrap key, returning
// nonce||ciphertext suitable for hibertypes.Metadata.WrappedKey.
func (m *Manager) Wrap(dataKey []byte) ([]byte, error) {
	gcm, err := m.gcm()
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("keyman: generate nonce: %w", err)
	}
	return gcm.Seal(nonce, nonce, dataKey, nil), nil
}

// Unwrap recovers the data key from wrapped, the inverse of Wrap.
func (m *Manager) Unwrap(wrapped []byte) ([]byte, error) {
	gcm, err := m.gcm()
	if err != nil {
		return nil, err
	}
	nonceSize := gcm.NonceSize()
	if len(wrapped) < nonceSize {
		return nil, fmt.Errorf("keyman: wrapped key too short")
	}
	nonce, ciphertext := wrapped[:nonceSize], wrapped[nonceSize:]
	dataKey, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("keyman: unwrap: %w", err)
	}
	return dataKey, nil
}

func (m *Manager) gcm() (cipher.AEAD, error) {
	block, err := aes.NewCipher(m.wrapKey)
	if err != nil {
		return nil, fmt.Errorf("keyman: create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("keyman: create GCM: %w", err)
	}
	return gcm, nil
}
