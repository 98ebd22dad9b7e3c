// Package cookiejar persists HTTP cookies inside the encrypted data store
// and exposes them to net/http through Jar.
package cookiejar

import (
	"encoding/json"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/REM-Infotech/crawjud-ui/internal/safestore"
)

// StoreKey is the data store entry holding the serialized cookie set.
const StoreKey = "cookiesSafeJar"

// Record is the persisted form of a cookie. Domain, Path and Key identify it.
type Record struct {
	Key      string     `json:"key"`
	Value    string     `json:"value"`
	Domain   string     `json:"domain"`
	Path     string     `json:"path"`
	Expires  *time.Time `json:"expires,omitempty"`
	Secure   bool       `json:"secure,omitempty"`
	HTTPOnly bool       `json:"httpOnly,omitempty"`
	HostOnly bool       `json:"hostOnly,omitempty"`
	SameSite string     `json:"sameSite,omitempty"`
	Creation time.Time  `json:"creation"`
}

func (r Record) sameIdentity(domain, path, key string) bool {
	return r.Domain == domain && r.Path == path && r.Key == key
}

// Expired reports whether the cookie is past its expiry at now.
func (r Record) Expired(now time.Time) bool {
	return r.Expires != nil && !r.Expires.After(now)
}

// Store keeps the full cookie set as one JSON array. Every mutation
// rewrites the whole array.
type Store struct {
	safe *safestore.Store
	mu   sync.Mutex
}

func NewStore(safe *safestore.Store) *Store {
	return &Store{safe: safe}
}

// All returns every persisted cookie, or an empty slice when none are stored.
func (s *Store) All() ([]Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load()
}

// Find returns the cookie matching all three of domain, path and key.
func (s *Store) Find(domain, path, key string) (*Record, error) {
	recs, err := s.All()
	if err != nil {
		return nil, err
	}
	for _, r := range recs {
		if r.sameIdentity(domain, path, key) {
			r := r
			return &r, nil
		}
	}
	return nil, nil
}

// FindMatching returns cookies for domain, restricted to path when path is
// non-empty. With allowSpecialUseDomain, cookies set on subdomains of
// domain also match, which lets "localhost" see "api.localhost".
func (s *Store) FindMatching(domain, path string, allowSpecialUseDomain bool) ([]Record, error) {
	recs, err := s.All()
	if err != nil {
		return nil, err
	}
	domain = strings.ToLower(domain)
	out := []Record{}
	for _, r := range recs {
		d := strings.ToLower(r.Domain)
		if d != domain && !(allowSpecialUseDomain && strings.HasSuffix(d, "."+domain)) {
			continue
		}
		if path != "" && r.Path != path {
			continue
		}
		out = append(out, r)
	}
	return out, nil
}

// Put stores rec, replacing any cookie with the same domain, path and key.
func (s *Store) Put(rec Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	recs, err := s.load()
	if err != nil {
		return err
	}
	recs = without(recs, rec.Domain, rec.Path, rec.Key)
	recs = append(recs, rec)
	return s.save(recs)
}

// Update replaces old with updated. It is a no-op when old is not stored.
func (s *Store) Update(old, updated Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	recs, err := s.load()
	if err != nil {
		return err
	}
	for i, r := range recs {
		if r.sameIdentity(old.Domain, old.Path, old.Key) {
			recs[i] = updated
			return s.save(without(recs, updated.Domain, updated.Path, updated.Key, i))
		}
	}
	return nil
}

// Remove deletes the cookie identified by domain, path and key.
func (s *Store) Remove(domain, path, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	recs, err := s.load()
	if err != nil {
		return err
	}
	return s.save(without(recs, domain, path, key))
}

// RemoveAll persists an empty cookie set.
func (s *Store) RemoveAll() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.save([]Record{})
}

// ReplaceAll overwrites the persisted set with recs.
func (s *Store) ReplaceAll(recs []Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if recs == nil {
		recs = []Record{}
	}
	return s.save(recs)
}

func (s *Store) load() ([]Record, error) {
	raw, ok, err := s.safe.Load(StoreKey)
	if err != nil {
		return nil, fmt.Errorf("load cookies: %w", err)
	}
	recs := []Record{}
	if !ok || raw == "" {
		return recs, nil
	}
	if err := json.Unmarshal([]byte(raw), &recs); err != nil {
		return nil, fmt.Errorf("parse cookies: %w", err)
	}
	return recs, nil
}

func (s *Store) save(recs []Record) error {
	data, err := json.Marshal(recs)
	if err != nil {
		return fmt.Errorf("marshal cookies: %w", err)
	}
	if err := s.safe.Save(StoreKey, string(data)); err != nil {
		return fmt.Errorf("save cookies: %w", err)
	}
	return nil
}

// without drops records with the given identity, skipping the indexes in keep.
func without(recs []Record, domain, path, key string, keep ...int) []Record {
	out := recs[:0:0]
	for i, r := range recs {
		if r.sameIdentity(domain, path, key) && !slices.Contains(keep, i) {
			continue
		}
		out = append(out, r)
	}
	return out
}
