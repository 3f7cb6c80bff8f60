package blockstore

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"io"
)

// CmekConfig wraps blockfile values in AES-256-GCM before they reach the
// backing store, the reference implementation of the `cmek` option on
// WriterOptions. Ciphertext carries its nonce prepended, so a reader only
// needs the key, not a side channel for nonces.
type CmekConfig struct {
	key []byte // 32 bytes for AES-256
}

// NewCmekConfig wraps a caller-supplied 32-byte key.
func NewCmekConfig(key []byte) (*CmekConfig, error) {
	if len(key) != 32 {
		return nil, fmt.Errorf("cmek: key must be 32 bytes for AES-256, got %d", len(key))
	}
	return &CmekConfig{key: key}, nil
}

// DeriveCmekConfig derives a 32-byte key from an arbitrary passphrase via
// SHA-256, for callers that manage a customer key as a password rather
// than raw key material.
func DeriveCmekConfig(passphrase string) (*CmekConfig, error) {
	if passphrase == "" {
		return nil, fmt.Errorf("cmek: passphrase cannot be empty")
	}
	sum := sha256.Sum256([]byte(passphrase))
	return NewCmekConfig(sum[:])
}

// Encrypt seals plaintext with a fresh random nonce prepended to the
// returned ciphertext.
func (c *CmekConfig) Encrypt(plaintext []byte) ([]byte, error) {
	gcm, err := c.gcm()
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("cmek: generate nonce: %w", err)
	}
	return gcm.Seal(nonce, nonce, plaintext, nil), nil
}

// Decrypt opens ciphertext produced by Encrypt.
func (c *CmekConfig) Decrypt(ciphertext []byte) ([]byte, error) {
	gcm, err := c.gcm()
	if err != nil {
		return nil, err
	}
	nonceSize := gcm.NonceSize()
	if len(ciphertext) < nonceSize {
		return nil, fmt.Errorf("cmek: ciphertext too short")
	}
	nonce, ct := ciphertext[:nonceSize], ciphertext[nonceSize:]
	plaintext, err := gcm.Open(nil, nonce, ct, nil)
	if err != nil {
		return nil, fmt.Errorf("cmek: decrypt: %w", err)
	}
	return plaintext, nil
}

func (c *CmekConfig) gcm() (cipher.AEAD, error) {
	block, err := aes.NewCipher(c.key)
	if err != nil {
		return nil, fmt.Errorf("cmek: new cipher: %w", err)
	}
	return cipher.NewGCM(block)
}
