package safestore

import (
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"fmt"
	"os"
	"sync"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/chacha20poly1305"
)

const (
	keyLen  = chacha20poly1305.KeySize
	saltLen = 16

	// Argon2id cost for passphrase keys
	kdfTime    = 1
	kdfMemory  = 64 * 1024
	kdfThreads = 4
)

// ErrDecrypt is returned when a value was sealed under a different key or was tampered with.
var ErrDecrypt = errors.New("safestore: decrypt failed")

// Cipher seals values before they reach disk. Available reports whether
// the backing key material can be reached on this machine.
type Cipher interface {
	Available() bool
	Encrypt(plaintext []byte) ([]byte, error)
	Decrypt(ciphertext []byte) ([]byte, error)
}

// aeadCipher is XChaCha20-Poly1305 under one key. A sealed value is the
// random nonce followed by the ciphertext.
type aeadCipher struct {
	aead cipher.AEAD
}

func newAEADCipher(key []byte) (*aeadCipher, error) {
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("init cipher: %w", err)
	}
	return &aeadCipher{aead: aead}, nil
}

func (c *aeadCipher) Encrypt(p []byte) ([]byte, error) {
	n := c.aead.NonceSize()
	out := make([]byte, n, n+len(p)+c.aead.Overhead())
	if _, err := rand.Read(out); err != nil {
		return nil, fmt.Errorf("nonce: %w", err)
	}
	return c.aead.Seal(out, out[:n], p, nil), nil
}

func (c *aeadCipher) Decrypt(ct []byte) ([]byte, error) {
	n := c.aead.NonceSize()
	if len(ct) < n+c.aead.Overhead() {
		return nil, fmt.Errorf("%w: value too short", ErrDecrypt)
	}
	p, err := c.aead.Open(nil, ct[:n], ct[n:], nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecrypt, err)
	}
	return p, nil
}

func randomBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return nil, err
	}
	return b, nil
}

// StaticCipher encrypts with a fixed in-memory key.
type StaticCipher struct {
	*aeadCipher
}

func NewStaticCipher(key []byte) (*StaticCipher, error) {
	if len(key) != keyLen {
		return nil, fmt.Errorf("static cipher: key must be %d bytes, got %d", keyLen, len(key))
	}
	c, err := newAEADCipher(key)
	if err != nil {
		return nil, err
	}
	return &StaticCipher{aeadCipher: c}, nil
}

func (c *StaticCipher) Available() bool { return true }

// PassphraseCipher derives its key with Argon2id from a passphrase and a
// salt file that is created next to the store on first use.
type PassphraseCipher struct {
	passphrase string
	saltPath   string

	mu     sync.Mutex
	sealer *aeadCipher
}

func NewPassphraseCipher(passphrase, saltPath string) *PassphraseCipher {
	return &PassphraseCipher{passphrase: passphrase, saltPath: saltPath}
}

func (c *PassphraseCipher) Available() bool {
	_, err := c.load()
	return err == nil
}

func (c *PassphraseCipher) load() (*aeadCipher, error) {
	if c.passphrase == "" {
		return nil, ErrUnavailable
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sealer != nil {
		return c.sealer, nil
	}
	salt, err := os.ReadFile(c.saltPath)
	if os.IsNotExist(err) {
		if salt, err = randomBytes(saltLen); err != nil {
			return nil, fmt.Errorf("generate salt: %w", err)
		}
		if err := os.WriteFile(c.saltPath, salt, 0600); err != nil {
			return nil, fmt.Errorf("write salt: %w", err)
		}
	} else if err != nil {
		return nil, fmt.Errorf("read salt: %w", err)
	}
	if len(salt) != saltLen {
		return nil, fmt.Errorf("salt file %s is corrupt", c.saltPath)
	}
	key := argon2.IDKey([]byte(c.passphrase), salt, kdfTime, kdfMemory, kdfThreads, keyLen)
	if c.sealer, err = newAEADCipher(key); err != nil {
		return nil, err
	}
	return c.sealer, nil
}

func (c *PassphraseCipher) Encrypt(p []byte) ([]byte, error) {
	s, err := c.load()
	if err != nil {
		return nil, err
	}
	return s.Encrypt(p)
}

func (c *PassphraseCipher) Decrypt(ct []byte) ([]byte, error) {
	s, err := c.load()
	if err != nil {
		return nil, err
	}
	return s.Decrypt(ct)
}
