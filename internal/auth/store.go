package auth

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/REM-Infotech/crawjud-ui/internal/safestore"
)

// CredentialsKey is the data store entry for remembered credentials.
const CredentialsKey = "savedCredentials"

type Credentials struct {
	Login    string `json:"login"`
	Password string `json:"password"`
}

// CredentialStore keeps the login form values for "remember me".
type CredentialStore struct {
	safe *safestore.Store
}

func NewCredentialStore(safe *safestore.Store) *CredentialStore {
	return &CredentialStore{safe: safe}
}

func (s *CredentialStore) Save(creds Credentials) error {
	data, err := json.Marshal(creds)
	if err != nil {
		return fmt.Errorf("marshal credentials: %w", err)
	}
	if err := s.safe.Save(CredentialsKey, string(data)); err != nil {
		return fmt.Errorf("write credentials: %w", err)
	}
	return nil
}

// Load returns nil, nil when nothing is remembered.
func (s *CredentialStore) Load() (*Credentials, error) {
	raw, ok, err := s.safe.Load(CredentialsKey)
	if errors.Is(err, safestore.ErrDecrypt) {
		// sealed under a lost key; forget it so the user is asked again
		return nil, s.Delete()
	}
	if err != nil {
		return nil, fmt.Errorf("read credentials: %w", err)
	}
	if !ok {
		return nil, nil
	}

	var creds Credentials
	if err := json.Unmarshal([]byte(raw), &creds); err != nil {
		return nil, fmt.Errorf("parse credentials: %w", err)
	}
	return &creds, nil
}

func (s *CredentialStore) Delete() error {
	if err := s.safe.Delete(CredentialsKey); err != nil {
		return fmt.Errorf("delete credentials: %w", err)
	}
	return nil
}
