// Package auth handles login, logout and the locally remembered credentials.
package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/REM-Infotech/crawjud-ui/internal/api"
)

// ErrNoSession means the jar holds no access token cookie.
var ErrNoSession = errors.New("no active session")

// SessionInfo is what the client can read from the access token without
// the server's signing key.
type SessionInfo struct {
	Subject   string
	IssuedAt  time.Time
	ExpiresAt time.Time
	Fresh     bool
}

// ParseSession decodes the JWT claims. The signature is not verified; the
// backend remains the authority on validity.
func ParseSession(token string) (*SessionInfo, error) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return nil, fmt.Errorf("parse access token: %w", err)
	}
	info := &SessionInfo{}
	if sub, ok := claims["sub"]; ok && sub != nil {
		info.Subject = fmt.Sprint(sub)
	}
	if iat, err := claims.GetIssuedAt(); err == nil && iat != nil {
		info.IssuedAt = iat.Time
	}
	if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
		info.ExpiresAt = exp.Time
	}
	if fresh, ok := claims["fresh"].(bool); ok {
		info.Fresh = fresh
	}
	return info, nil
}

// IsValid reports whether the token has not expired yet. Tokens without
// an expiry are treated as valid.
func (s *SessionInfo) IsValid() bool {
	if s == nil {
		return false
	}
	if s.ExpiresAt.IsZero() {
		return true
	}
	return time.Now().Before(s.ExpiresAt)
}

// CurrentSession reads the access token cookie held by the client's jar.
func CurrentSession(c *api.Client) (*SessionInfo, error) {
	token, ok := c.Jar().Value(c.BaseURL(), api.SessionCookie)
	if !ok || token == "" {
		return nil, ErrNoSession
	}
	return ParseSession(token)
}

// Login authenticates and, when remember is set, keeps the credentials in
// the encrypted store for the next login. Otherwise any remembered
// credentials are dropped.
func Login(ctx context.Context, c *api.Client, store *CredentialStore, creds Credentials, remember bool) (string, error) {
	if creds.Login == "" || creds.Password == "" {
		return "", fmt.Errorf("login and password are required")
	}
	msg, err := c.Login(ctx, creds.Login, creds.Password)
	if err != nil {
		return "", err
	}
	if store == nil {
		return msg, nil
	}
	if remember {
		if err := store.Save(creds); err != nil {
			return msg, fmt.Errorf("remember credentials: %w", err)
		}
	} else if err := store.Delete(); err != nil {
		return msg, fmt.Errorf("forget credentials: %w", err)
	}
	return msg, nil
}

// Logout ends the session. With forget, remembered credentials are removed too.
func Logout(ctx context.Context, c *api.Client, store *CredentialStore, forget bool) error {
	err := c.Logout(ctx)
	if forget && store != nil {
		if delErr := store.Delete(); delErr != nil && err == nil {
			err = delErr
		}
	}
	return err
}
