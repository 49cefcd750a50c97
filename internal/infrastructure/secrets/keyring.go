// Package secrets stores provider credentials in the OS keychain, falling
// back to an encrypted file when no keychain service is available.
package secrets

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/99designs/keyring"

	"github.com/doeshing/stm-gateway/internal/domain"
	"github.com/doeshing/stm-gateway/internal/ports"
)

const serviceName = "stm-gateway"

// secret kinds recognized by Status. Values are opaque to the store; these
// names only matter for presence reporting.
const (
	KindAPIKey             = "apiKey"
	KindGeminiAPIKey       = "geminiApiKey"
	KindServiceAccountPath = "serviceAccountJsonPath"
	KindGroupID            = "groupId"
)

// KeyringStore keeps secrets under `provider:kind` keys.
type KeyringStore struct {
	ring keyring.Keyring
}

// NewKeyringStore opens the platform keychain. fileDir holds the encrypted
// file fallback used on headless systems.
func NewKeyringStore(fileDir string) (*KeyringStore, error) {
	if fileDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("resolve home dir: %w", err)
		}
		fileDir = filepath.Join(home, ".stmgw", "secrets")
	}
	ring, err := keyring.Open(keyring.Config{
		ServiceName:              serviceName,
		FileDir:                  fileDir,
		FilePasswordFunc:         keyring.FixedStringPrompt(serviceName),
		KeychainTrustApplication: true,
	})
	if err != nil {
		return nil, fmt.Errorf("open keyring: %w", err)
	}
	return &KeyringStore{ring: ring}, nil
}

func secretKey(provider, kind string) string {
	return provider + ":" + kind
}

// Get returns the stored value, or an empty string without error when the
// secret is absent.
func (s *KeyringStore) Get(provider, kind string) (string, error) {
	item, err := s.ring.Get(secretKey(provider, kind))
	if errors.Is(err, keyring.ErrKeyNotFound) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("read secret %s: %w", secretKey(provider, kind), err)
	}
	return string(item.Data), nil
}

// Set stores or overwrites one secret.
func (s *KeyringStore) Set(provider, kind, value string) error {
	err := s.ring.Set(keyring.Item{
		Key:   secretKey(provider, kind),
		Data:  []byte(value),
		Label: fmt.Sprintf("%s %s (%s)", serviceName, kind, provider),
	})
	if err != nil {
		return fmt.Errorf("store secret %s: %w", secretKey(provider, kind), err)
	}
	return nil
}

// Delete removes one secret. Deleting an absent secret is not an error.
func (s *KeyringStore) Delete(provider, kind string) error {
	err := s.ring.Remove(secretKey(provider, kind))
	if err != nil && !errors.Is(err, keyring.ErrKeyNotFound) {
		return fmt.Errorf("delete secret %s: %w", secretKey(provider, kind), err)
	}
	return nil
}

// Status reports which secrets exist for a provider without exposing values.
func (s *KeyringStore) Status(provider string) (domain.SecretStatus, error) {
	status := domain.SecretStatus{Provider: provider}
	checks := []struct {
		kind string
		flag *bool
	}{
		{KindAPIKey, &status.HasAPIKey},
		{KindGeminiAPIKey, &status.HasGeminiAPIKey},
		{KindServiceAccountPath, &status.HasServiceAccount},
		{KindGroupID, &status.HasGroupID},
	}
	for _, c := range checks {
		value, err := s.Get(provider, c.kind)
		if err != nil {
			return domain.SecretStatus{}, err
		}
		*c.flag = value != ""
	}
	return status, nil
}

var _ ports.SecretStore = (*KeyringStore)(nil)
