// Package crypto seals the resume state written to disk. The state carries a
// refresh token, so it is AES-256-GCM encrypted at rest unless the operator
// opts out by leaving the key unset.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
)

// Sealer encrypts and decrypts small state blobs.
type Sealer interface {
	Seal(plaintext []byte) (string, error)
	Open(sealed string) ([]byte, error)
}

// NoopSealer passes state through unencrypted (dev/test mode).
type NoopSealer struct{}

func (NoopSealer) Seal(plaintext []byte) (string, error) { return string(plaintext), nil }
func (NoopSealer) Open(sealed string) ([]byte, error)    { return []byte(sealed), nil }

// AESGCMSealer seals state with AES-256-GCM under a fixed key.
type AESGCMSealer struct {
	gcm cipher.AEAD
}

// NewAESGCMSealer builds a sealer from a hex-encoded 32-byte key.
func NewAESGCMSealer(hexKey string) (*AESGCMSealer, error) {
	key, err := hex.DecodeString(hexKey)
	if err != nil {
		return nil, fmt.Errorf("invalid state encryption key hex: %w", err)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}

	return &AESGCMSealer{gcm: gcm}, nil
}

func (s *AESGCMSealer) Seal(plaintext []byte) (string, error) {
	nonce := make([]byte, s.gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}

	// Seal appends to nonce, yielding nonce || ciphertext || tag
	sealed := s.gcm.Seal(nonce, nonce, plaintext, nil)
	return hex.EncodeToString(sealed), nil
}

func (s *AESGCMSealer) Open(sealed string) ([]byte, error) {
	buffer, err := hex.DecodeString(sealed)
	if err != nil {
		return nil, fmt.Errorf("failed to decode hex: %w", err)
	}

	nonceSize := s.gcm.NonceSize()
	if len(buffer) < nonceSize {
		return nil, fmt.Errorf("sealed state too short")
	}

	nonce, cipherBytes := buffer[:nonceSize], buffer[nonceSize:]
	plaintext, err := s.gcm.Open(nil, nonce, cipherBytes, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt state: %w", err)
	}

	return plaintext, nil
}
