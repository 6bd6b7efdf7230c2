// Package secrets is the opaque encryption service consumed alongside the
// content tree. Payloads are sealed with AES-256-GCM under a caller-supplied
// master key; the key bytes live in a memguard enclave so they are never
// swapped to disk or left readable in process memory between uses.
//
// The desktop client keeps the master key in the OS keychain and hands it
// to this service base64-encoded.
package secrets

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"io"

	"github.com/awnumar/memguard"
)

// KeySize is the master key length in bytes.
const KeySize = 32

var (
	// ErrInvalidKey indicates the master key is not a valid base64-encoded
	// 32-byte value.
	ErrInvalidKey = errors.New("secrets: master key must be 32 bytes, base64-encoded")
	// ErrDecrypt indicates the ciphertext is malformed or the key is wrong.
	ErrDecrypt = errors.New("secrets: decryption failed")
)

// Service seals and opens opaque payloads.
type Service struct {
	key *memguard.Enclave
}

// NewService creates a service from a base64-encoded 32-byte master key.
func NewService(masterKeyB64 string) (*Service, error) {
	keyBytes, err := base64.StdEncoding.DecodeString(masterKeyB64)
	if err != nil || len(keyBytes) != KeySize {
		return nil, ErrInvalidKey
	}
	// NewEnclave wipes keyBytes after sealing it.
	return &Service{key: memguard.NewEnclave(keyBytes)}, nil
}

// GenerateKey returns a fresh random master key, base64-encoded, matching
// the format the desktop keychain stores.
func GenerateKey() (string, error) {
	keyBytes := make([]byte, KeySize)
	if _, err := io.ReadFull(rand.Reader, keyBytes); err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(keyBytes), nil
}

// Seal encrypts plaintext and returns base64(nonce || ciphertext).
func (s *Service) Seal(plaintext []byte) (string, error) {
	gcm, buf, err := s.cipher()
	if err != nil {
		return "", err
	}
	defer buf.Destroy()

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", err
	}

	sealed := gcm.Seal(nonce, nonce, plaintext, nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Open decrypts a value produced by Seal.
func (s *Service) Open(sealedB64 string) ([]byte, error) {
	sealed, err := base64.StdEncoding.DecodeString(sealedB64)
	if err != nil {
		return nil, ErrDecrypt
	}

	gcm, buf, err := s.cipher()
	if err != nil {
		return nil, err
	}
	defer buf.Destroy()

	if len(sealed) < gcm.NonceSize() {
		return nil, ErrDecrypt
	}
	nonce, ciphertext := sealed[:gcm.NonceSize()], sealed[gcm.NonceSize():]
	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, ErrDecrypt
	}
	return plaintext, nil
}

// cipher opens the enclave just long enough to build the AEAD. The caller
// must destroy the returned buffer when done.
func (s *Service) cipher() (cipher.AEAD, *memguard.LockedBuffer, error) {
	buf, err := s.key.Open()
	if err != nil {
		return nil, nil, err
	}
	block, err := aes.NewCipher(buf.Bytes())
	if err != nil {
		buf.Destroy()
		return nil, nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		buf.Destroy()
		return nil, nil, err
	}
	return gcm, buf, nil
}
