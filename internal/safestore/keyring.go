package safestore

import (
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/zalando/go-keyring"

	"github.com/REM-Infotech/crawjud-ui/internal/logger"
)

const (
	KeyringService = "crawjud"
	KeyringUser    = "safe-storage"

	// keyringOpTimeout bounds a single keychain call. Once exceeded the
	// keychain is considered unavailable for the rest of the process.
	keyringOpTimeout = 5 * time.Second
)

// keyringProvider abstracts go-keyring calls for testing.
type keyringProvider interface {
	Set(service, user, password string) error
	Get(service, user string) (string, error)
}

type osKeyring struct{}

func (osKeyring) Set(service, user, password string) error {
	return keyring.Set(service, user, password)
}
func (osKeyring) Get(service, user string) (string, error) { return keyring.Get(service, user) }

// KeyringCipher keeps a random master key in the OS credential vault
// (Keychain, Secret Service, Windows Credential Manager) and seals values
// with it. The vault ties the data store to the current OS user.
type KeyringCipher struct {
	provider  keyringProvider
	opTimeout time.Duration
	log       *slog.Logger

	disabled atomic.Bool

	mu     sync.Mutex
	sealer *aeadCipher
}

func NewKeyringCipher(log *slog.Logger) *KeyringCipher {
	return &KeyringCipher{provider: osKeyring{}, log: logger.Or(log)}
}

func newKeyringCipherWithProvider(p keyringProvider, timeout time.Duration) *KeyringCipher {
	return &KeyringCipher{provider: p, opTimeout: timeout, log: logger.Or(nil)}
}

// withTimeout runs fn in a goroutine. go-keyring has no cancellation, so on
// timeout the call is abandoned and the breaker trips.
func (k *KeyringCipher) withTimeout(op string, fn func() error) error {
	if k.disabled.Load() {
		return fmt.Errorf("keyring %s: disabled after earlier timeout", op)
	}
	timeout := k.opTimeout
	if timeout == 0 {
		timeout = keyringOpTimeout
	}
	ch := make(chan error, 1)
	go func() { ch <- fn() }()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case err := <-ch:
		return err
	case <-timer.C:
		k.disabled.Store(true)
		k.log.Warn("keyring timed out, disabling secure storage for this session", "op", op, "timeout", timeout)
		return fmt.Errorf("keyring %s timed out after %v", op, timeout)
	}
}

// masterKey reads the master key from the vault, creating it on first use.
func (k *KeyringCipher) masterKey() (*aeadCipher, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.sealer != nil {
		return k.sealer, nil
	}

	var encoded string
	err := k.withTimeout("get", func() error {
		var err error
		encoded, err = k.provider.Get(KeyringService, KeyringUser)
		return err
	})
	switch {
	case err == nil:
		key, err := base64.StdEncoding.DecodeString(encoded)
		if err != nil || len(key) != keyLen {
			return nil, fmt.Errorf("keyring master key is corrupt")
		}
		return k.use(key)
	case errors.Is(err, keyring.ErrNotFound):
		key, err := randomBytes(keyLen)
		if err != nil {
			return nil, fmt.Errorf("generate master key: %w", err)
		}
		if err := k.withTimeout("set", func() error {
			return k.provider.Set(KeyringService, KeyringUser, base64.StdEncoding.EncodeToString(key))
		}); err != nil {
			return nil, fmt.Errorf("store master key: %w", err)
		}
		k.log.Debug("created keyring master key", "service", KeyringService)
		return k.use(key)
	default:
		return nil, fmt.Errorf("read master key: %w", err)
	}
}

func (k *KeyringCipher) use(key []byte) (*aeadCipher, error) {
	c, err := newAEADCipher(key)
	if err != nil {
		return nil, err
	}
	k.sealer = c
	return c, nil
}

func (k *KeyringCipher) Available() bool {
	_, err := k.masterKey()
	if err != nil {
		k.log.Debug("keyring unavailable", "err", err)
	}
	return err == nil
}

func (k *KeyringCipher) Encrypt(p []byte) ([]byte, error) {
	c, err := k.masterKey()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return c.Encrypt(p)
}

func (k *KeyringCipher) Decrypt(ct []byte) ([]byte, error) {
	c, err := k.masterKey()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return c.Decrypt(ct)
}
