// Package safestore is an encrypted key-value file. Each value is sealed
// by a Cipher and kept base64-encoded in a flat JSON object on disk.
package safestore

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/REM-Infotech/crawjud-ui/internal/logger"
)

// ErrUnavailable is returned by writes when no encryption capability is present.
var ErrUnavailable = errors.New("safestore: encryption unavailable")

// Store is the encrypted key-value file. It is safe for concurrent use.
type Store struct {
	path   string
	cipher Cipher
	log    *slog.Logger

	mu sync.Mutex
}

// Open returns a store over path. The file is created on the first Save.
func Open(path string, c Cipher, log *slog.Logger) *Store {
	return &Store{path: path, cipher: c, log: logger.Or(log)}
}

func (s *Store) Path() string { return s.path }

// Available reports whether values can be written.
func (s *Store) Available() bool { return s.cipher != nil && s.cipher.Available() }

// Save encrypts value and stores it under key, preserving all other keys.
func (s *Store) Save(key, value string) error {
	if key == "" {
		return fmt.Errorf("safestore: empty key")
	}
	if !s.Available() {
		return ErrUnavailable
	}
	ct, err := s.cipher.Encrypt([]byte(value))
	if err != nil {
		return fmt.Errorf("encrypt %q: %w", key, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := s.read()
	if err != nil {
		return err
	}
	entries[key] = base64.StdEncoding.EncodeToString(ct)
	return s.write(entries)
}

// Load returns the decrypted value for key. ok is false when the file or
// key is absent or encryption is unavailable; err is reserved for
// unreadable files and values that fail to decrypt.
func (s *Store) Load(key string) (value string, ok bool, err error) {
	if !s.Available() {
		s.log.Debug("safestore read skipped, encryption unavailable", "key", key)
		return "", false, nil
	}

	s.mu.Lock()
	entries, err := s.read()
	s.mu.Unlock()
	if err != nil {
		return "", false, err
	}

	encoded, found := entries[key]
	if !found {
		return "", false, nil
	}
	ct, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", false, fmt.Errorf("decode %q: %w", key, err)
	}
	pt, err := s.cipher.Decrypt(ct)
	if errors.Is(err, ErrUnavailable) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("decrypt %q: %w", key, err)
	}
	return string(pt), true, nil
}

// Delete removes key. Deleting an absent key is not an error.
func (s *Store) Delete(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := s.read()
	if err != nil {
		return err
	}
	if _, ok := entries[key]; !ok {
		return nil
	}
	delete(entries, key)
	return s.write(entries)
}

// Keys lists the stored keys without decrypting anything.
func (s *Store) Keys() ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entries, err := s.read()
	if err != nil {
		return nil, err
	}
	keys := make([]string, 0, len(entries))
	for k := range entries {
		keys = append(keys, k)
	}
	return keys, nil
}

func (s *Store) read() (map[string]string, error) {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return map[string]string{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read data store: %w", err)
	}
	entries := map[string]string{}
	if len(data) == 0 {
		return entries, nil
	}
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("parse data store: %w", err)
	}
	return entries, nil
}

func (s *Store) write(entries map[string]string) error {
	data, err := json.Marshal(entries)
	if err != nil {
		return fmt.Errorf("marshal data store: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0700); err != nil {
		return fmt.Errorf("create data store dir: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return fmt.Errorf("write data store: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("replace data store: %w", err)
	}
	return nil
}
