// Package crypto encrypts Torn API keys at rest.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
)

const (
	KeySize   = 32
	NonceSize = 12
)

var ErrCiphertextTooShort = errors.New("ciphertext too short")

// Encryptor seals values with AES-256-GCM. Ciphertexts are hex encoded with
// the nonce prepended.
type Encryptor struct {
	key  []byte
	aead cipher.AEAD
}

// NewEncryptor takes the 32-byte key as 64 hex characters.
func NewEncryptor(hexKey string) (*Encryptor, error) {
	key, err := hex.DecodeString(hexKey)
	if err != nil {
		return nil, fmt.Errorf("decode encryption key: %w", err)
	}
	if len(key) != KeySize {
		return nil, fmt.Errorf("invalid key size %d, expected %d bytes", len(key), KeySize)
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	aead, err := cipher.NewGCMWithNonceSize(block, NonceSize)
	if err != nil {
		return nil, err
	}
	return &Encryptor{key: key, aead: aead}, nil
}

func (e *Encryptor) Encrypt(plaintext string) (string, error) {
	nonce := make([]byte, NonceSize)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", err
	}
	return hex.EncodeToString(e.aead.Seal(nonce, nonce, []byte(plaintext), nil)), nil
}

func (e *Encryptor) Decrypt(ciphertextHex string) (string, error) {
	data, err := hex.DecodeString(ciphertextHex)
	if err != nil {
		return "", err
	}
	if len(data) < NonceSize {
		return "", ErrCiphertextTooShort
	}
	plaintext, err := e.aead.Open(nil, data[:NonceSize], data[NonceSize:], nil)
	if err != nil {
		return "", err
	}
	return string(plaintext), nil
}

// Fingerprint is a keyed, deterministic digest of plaintext, used to find
// duplicates without decrypting every row.
func (e *Encryptor) Fingerprint(plaintext string) string {
	mac := hmac.New(sha256.New, e.key)
	mac.Write([]byte(plaintext))
	return hex.EncodeToString(mac.Sum(nil))
}
