// Package vault stores and retrieves encrypted provider credentials for
// users and teams. Retrieval fails closed: anything that cannot be
// decrypted is treated as absent.
package vault

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"transcribe_gateway/internal/models"
	"transcribe_gateway/internal/storage"
	"transcribe_gateway/internal/utils"
)

// Store persists ciphertext per principal
type Store interface {
	GetEncrypted(ctx context.Context, p models.Principal) (string, error)
	PutEncrypted(ctx context.Context, p models.Principal, encrypted string) error
}

// Cipher encrypts with associated data
type Cipher interface {
	Encrypt(plaintext, associatedData []byte) (string, error)
	Decrypt(ciphertext string, associatedData []byte) ([]byte, error)
}

// ErrEmptyCredential is returned when storing a blank credential
var ErrEmptyCredential = errors.New("credential is empty")

// Vault couples a Store with a Cipher
type Vault struct {
	store  Store
	cipher Cipher
	logger *utils.Logger
}

// New creates a vault
func New(store Store, cipher Cipher) *Vault {
	return &Vault{
		store:  store,
		cipher: cipher,
		logger: utils.NewLogger("vault"),
	}
}

// Retrieve returns the plaintext credential of a principal. ok is false when
// no credential is stored or the stored one cannot be decrypted; err is only
// set for store failures.
func (v *Vault) Retrieve(ctx context.Context, p models.Principal) (string, bool, error) {
	encrypted, err := v.store.GetEncrypted(ctx, p)
	if err != nil {
		if errors.Is(err, storage.ErrCredentialNotFound) || errors.Is(err, storage.ErrTeamNotFound) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("failed to load credential for %s: %w", p, err)
	}

	plaintext, err := v.cipher.Decrypt(encrypted, associatedData(p))
	if err != nil {
		v.logger.Warn("Stored credential could not be decrypted", "principal", p.String(), "error", err)
		return "", false, nil
	}

	secret := strings.TrimSpace(string(plaintext))
	if secret == "" {
		return "", false, nil
	}
	return secret, true, nil
}

// Store encrypts and saves a credential, returning the encrypted form
func (v *Vault) Store(ctx context.Context, p models.Principal, plaintext string) (string, error) {
	plaintext = strings.TrimSpace(plaintext)
	if plaintext == "" {
		return "", ErrEmptyCredential
	}

	encrypted, err := v.cipher.Encrypt([]byte(plaintext), associatedData(p))
	if err != nil {
		return "", fmt.Errorf("failed to encrypt credential: %w", err)
	}

	if err := v.store.PutEncrypted(ctx, p, encrypted); err != nil {
		return "", fmt.Errorf("failed to store credential for %s: %w", p, err)
	}

	v.logger.Info("Credential stored", "principal", p.String(), "fingerprint", utils.Fingerprint(plaintext))
	return encrypted, nil
}

// Ciphertext bound to its principal cannot be replayed onto another row.
func associatedData(p models.Principal) []byte {
	return []byte(p.String())
}
