package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

type loginRequest struct {
	Login    string `json:"login"`
	Password string `json:"password"`
}

type messageResponse struct {
	Message string `json:"message"`
}

// Login posts the credentials; the backend answers with the session and CSRF cookies.
func (c *Client) Login(ctx context.Context, login, password string) (string, error) {
	var resp messageResponse
	if err := c.Post(ctx, LoginPath, loginRequest{Login: login, Password: password}, &resp); err != nil {
		return "", err
	}
	return resp.Message, nil
}

// Logout ends the session on the backend and clears the local jar.
func (c *Client) Logout(ctx context.Context) error {
	err := c.Post(ctx, LogoutPath, nil, nil)
	if clearErr := c.jar.Clear(); clearErr != nil && err == nil {
		err = fmt.Errorf("clear cookies: %w", clearErr)
	}
	return err
}

// ValidateSession reports whether the backend still accepts the session.
func (c *Client) ValidateSession(ctx context.Context) (bool, error) {
	err := c.Get(ctx, "/sessao-valida", nil)
	if errors.Is(err, ErrUnauthorized) {
		return false, nil
	}
	var se *StatusError
	if errors.As(err, &se) && se.Code == http.StatusUnauthorized {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

type Health struct {
	Status    string `json:"status"`
	Database  string `json:"database"`
	Timestamp string `json:"timestamp"`
}

// Health queries the backend health endpoint.
func (c *Client) Health(ctx context.Context) (*Health, error) {
	var h Health
	if err := c.Get(ctx, "/health", &h); err != nil {
		return nil, err
	}
	return &h, nil
}
