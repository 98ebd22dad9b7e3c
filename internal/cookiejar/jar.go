package cookiejar

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/net/publicsuffix"

	"github.com/REM-Infotech/crawjud-ui/internal/logger"
	"github.com/REM-Infotech/crawjud-ui/internal/safestore"
)

// Jar is an http.CookieJar backed by Store. It is hydrated from the store
// when created and writes the full set back after every SetCookies call.
type Jar struct {
	store *Store
	log   *slog.Logger
	now   func() time.Time

	mu      sync.Mutex
	entries []Record
	saveErr error
}

var _ http.CookieJar = (*Jar)(nil)

// NewJar loads the persisted cookies, dropping any that already expired.
// A cookie set sealed under a key that is no longer available is discarded,
// which leaves the session logged out.
func NewJar(store *Store, log *slog.Logger) (*Jar, error) {
	j := &Jar{store: store, log: logger.Or(log), now: time.Now}
	recs, err := store.All()
	if errors.Is(err, safestore.ErrDecrypt) {
		j.log.Warn("stored cookies unreadable, starting a new session", "err", err)
		if rerr := store.RemoveAll(); rerr != nil {
			j.log.Warn("reset cookie store failed", "err", rerr)
		}
		recs, err = nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("hydrate cookie jar: %w", err)
	}
	now := j.now()
	for _, r := range recs {
		if !r.Expired(now) {
			j.entries = append(j.entries, r)
		}
	}
	return j, nil
}

// SetCookies implements http.CookieJar.
func (j *Jar) SetCookies(u *url.URL, cookies []*http.Cookie) {
	if len(cookies) == 0 {
		return
	}
	host, err := canonicalHost(u.Host)
	if err != nil {
		return
	}
	now := j.now()

	j.mu.Lock()
	defer j.mu.Unlock()

	changed := false
	for _, c := range cookies {
		rec, ok := j.newRecord(host, u.Path, c, now)
		if !ok {
			j.log.Debug("rejected cookie", "name", c.Name, "domain", c.Domain, "host", host)
			continue
		}
		j.entries = without(j.entries, rec.Domain, rec.Path, rec.Key)
		if !rec.Expired(now) {
			j.entries = append(j.entries, rec)
		}
		changed = true
	}
	if changed {
		j.saveErr = j.store.ReplaceAll(j.snapshotLocked(now))
		if j.saveErr != nil {
			j.log.Warn("persist cookies failed", "err", j.saveErr)
		}
	}
}

// Cookies implements http.CookieJar.
func (j *Jar) Cookies(u *url.URL) []*http.Cookie {
	host, err := canonicalHost(u.Host)
	if err != nil {
		return nil
	}
	https := u.Scheme == "https" || u.Scheme == "wss"
	path := u.Path
	if path == "" {
		path = "/"
	}
	now := j.now()

	j.mu.Lock()
	var matched []Record
	for _, r := range j.entries {
		if r.Expired(now) || (r.Secure && !https) {
			continue
		}
		if !domainMatch(r, host) || !pathMatch(r.Path, path) {
			continue
		}
		matched = append(matched, r)
	}
	j.mu.Unlock()

	sort.SliceStable(matched, func(a, b int) bool {
		if len(matched[a].Path) != len(matched[b].Path) {
			return len(matched[a].Path) > len(matched[b].Path)
		}
		return matched[a].Creation.Before(matched[b].Creation)
	})
	out := make([]*http.Cookie, 0, len(matched))
	for _, r := range matched {
		out = append(out, &http.Cookie{Name: r.Key, Value: r.Value})
	}
	return out
}

// Value returns the named cookie that would be sent to u.
func (j *Jar) Value(u *url.URL, name string) (string, bool) {
	for _, c := range j.Cookies(u) {
		if c.Name == name {
			return c.Value, true
		}
	}
	return "", false
}

// Snapshot returns every live cookie in the jar.
func (j *Jar) Snapshot() []Record {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.snapshotLocked(j.now())
}

// Save writes the current set to the store and reports the last write-through error.
func (j *Jar) Save() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.saveErr = j.store.ReplaceAll(j.snapshotLocked(j.now()))
	return j.saveErr
}

// Clear drops every cookie and persists the empty set.
func (j *Jar) Clear() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.entries = nil
	return j.store.RemoveAll()
}

func (j *Jar) snapshotLocked(now time.Time) []Record {
	out := make([]Record, 0, len(j.entries))
	for _, r := range j.entries {
		if !r.Expired(now) {
			out = append(out, r)
		}
	}
	return out
}

func (j *Jar) newRecord(host, requestPath string, c *http.Cookie, now time.Time) (Record, bool) {
	if c.Name == "" {
		return Record{}, false
	}
	rec := Record{
		Key:      c.Name,
		Value:    c.Value,
		Secure:   c.Secure,
		HTTPOnly: c.HttpOnly,
		SameSite: sameSiteString(c.SameSite),
		Creation: now,
	}

	domain, hostOnly, ok := cookieDomain(host, c.Domain)
	if !ok {
		return Record{}, false
	}
	rec.Domain, rec.HostOnly = domain, hostOnly

	if c.Path == "" || c.Path[0] != '/' {
		rec.Path = defaultPath(requestPath)
	} else {
		rec.Path = c.Path
	}

	switch {
	case c.MaxAge < 0:
		past := time.Unix(1, 0)
		rec.Expires = &past
	case c.MaxAge > 0:
		exp := now.Add(time.Duration(c.MaxAge) * time.Second)
		rec.Expires = &exp
	case !c.Expires.IsZero():
		exp := c.Expires
		rec.Expires = &exp
	}

	// Keep the original creation time of a replaced cookie.
	for _, r := range j.entries {
		if r.sameIdentity(rec.Domain, rec.Path, rec.Key) {
			rec.Creation = r.Creation
			break
		}
	}
	return rec, true
}

// cookieDomain applies the Domain attribute rules of RFC 6265 section 5.3.
func cookieDomain(host, attr string) (domain string, hostOnly bool, ok bool) {
	if attr == "" {
		return host, true, true
	}
	d := strings.ToLower(strings.TrimPrefix(attr, "."))
	if d == "" || strings.HasSuffix(d, ".") {
		return "", false, false
	}
	if net.ParseIP(host) != nil {
		return host, true, d == host
	}
	if d != host {
		if ps, _ := publicsuffix.PublicSuffix(d); ps == d {
			return "", false, false
		}
	}
	if host != d && !strings.HasSuffix(host, "."+d) {
		return "", false, false
	}
	return d, false, true
}

func domainMatch(r Record, host string) bool {
	if r.HostOnly {
		return host == r.Domain
	}
	return host == r.Domain || strings.HasSuffix(host, "."+r.Domain)
}

// pathMatch implements RFC 6265 section 5.1.4.
func pathMatch(cookiePath, requestPath string) bool {
	if requestPath == cookiePath {
		return true
	}
	if strings.HasPrefix(requestPath, cookiePath) {
		return strings.HasSuffix(cookiePath, "/") || requestPath[len(cookiePath)] == '/'
	}
	return false
}

// defaultPath implements RFC 6265 section 5.1.4.
func defaultPath(p string) string {
	if p == "" || p[0] != '/' {
		return "/"
	}
	i := strings.LastIndex(p, "/")
	if i == 0 {
		return "/"
	}
	return p[:i]
}

func canonicalHost(host string) (string, error) {
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	host = strings.TrimSuffix(strings.ToLower(host), ".")
	if host == "" {
		return "", fmt.Errorf("empty host")
	}
	return strings.Trim(host, "[]"), nil
}

func sameSiteString(s http.SameSite) string {
	switch s {
	case http.SameSiteLaxMode:
		return "lax"
	case http.SameSiteStrictMode:
		return "strict"
	case http.SameSiteNoneMode:
		return "none"
	default:
		return ""
	}
}
