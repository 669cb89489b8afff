package storage

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

// ErrDecrypt is returned for any ciphertext that cannot be opened.
var ErrDecrypt = errors.New("failed to decrypt")

const hkdfInfo = "transcribe-gateway credential vault v1"

// Encryption provides AES-GCM encryption/decryption for stored credentials.
// Ciphertexts are base64(nonce || sealed) and may be bound to associated data.
type Encryption struct {
	aead cipher.AEAD
}

// NewEncryption creates a new encryption service with the given key
// The key should be 16, 24, or 32 bytes for AES-128, AES-192, or AES-256
func NewEncryption(key []byte) (*Encryption, error) {
	if len(key) != 16 && len(key) != 24 && len(key) != 32 {
		return nil, fmt.Errorf("invalid key size: must be 16, 24, or 32 bytes, got %d", len(key))
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}

	return &Encryption{aead: gcm}, nil
}

// NewEncryptionFromKeyMaterial accepts a 64-char hex key, a base64 key of a
// valid AES size, or any other passphrase, which is stretched to 32 bytes
// with HKDF-SHA256.
func NewEncryptionFromKeyMaterial(material string) (*Encryption, error) {
	if material == "" {
		return nil, fmt.Errorf("encryption key cannot be empty")
	}

	if len(material) == 64 {
		if key, err := hex.DecodeString(material); err == nil {
			return NewEncryption(key)
		}
	}

	if key, err := base64.StdEncoding.DecodeString(material); err == nil {
		switch len(key) {
		case 16, 24, 32:
			return NewEncryption(key)
		}
	}

	key, err := DeriveKey(material, 32)
	if err != nil {
		return nil, err
	}
	return NewEncryption(key)
}

// DeriveKey stretches a passphrase into a key of the requested size.
func DeriveKey(passphrase string, size int) ([]byte, error) {
	key := make([]byte, size)
	r := hkdf.New(sha256.New, []byte(passphrase), nil, []byte(hkdfInfo))
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, fmt.Errorf("failed to derive key: %w", err)
	}
	return key, nil
}

// GenerateKey generates a new random encryption key of the specified size
// Returns the key as a base64-encoded string for easy storage in environment variables
func GenerateKey(keySize int) (string, error) {
	if keySize != 16 && keySize != 24 && keySize != 32 {
		return "", fmt.Errorf("invalid key size: must be 16, 24, or 32 bytes")
	}

	key := make([]byte, keySize)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return "", fmt.Errorf("failed to generate random key: %w", err)
	}

	return base64.StdEncoding.EncodeToString(key), nil
}

// Encrypt seals plaintext bound to associatedData and returns base64 text.
func (e *Encryption) Encrypt(plaintext, associatedData []byte) (string, error) {
	nonce := make([]byte, e.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}

	sealed := e.aead.Seal(nonce, nonce, plaintext, associatedData)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt opens base64 text produced by Encrypt with the same associatedData.
// Every failure wraps ErrDecrypt.
func (e *Encryption) Decrypt(ciphertextBase64 string, associatedData []byte) ([]byte, error) {
	ciphertext, err := base64.StdEncoding.DecodeString(ciphertextBase64)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid base64: %v", ErrDecrypt, err)
	}

	nonceSize := e.aead.NonceSize()
	if len(ciphertext) < nonceSize {
		return nil, fmt.Errorf("%w: ciphertext too short", ErrDecrypt)
	}

	nonce, sealed := ciphertext[:nonceSize], ciphertext[nonceSize:]
	plaintext, err := e.aead.Open(nil, nonce, sealed, associatedData)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecrypt, err)
	}

	return plaintext, nil
}
