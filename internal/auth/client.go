// Package auth obtains session credentials from the chat service.
package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

var (
	// ErrRejected is returned when the service refuses the credentials.
	ErrRejected = errors.New("login rejected")
	// ErrNoToken is returned when the service accepts the request but does not
	// hand out a credential.
	ErrNoToken = errors.New("login response carried no token")
)

// IsRejected reports whether err means the credentials will not work on a
// retry. Other login failures (network, 5xx, garbled bodies) are transient.
func IsRejected(err error) bool {
	return errors.Is(err, ErrRejected) || errors.Is(err, ErrNoToken)
}

// Authenticator exchanges a username and password for a session credential.
type Authenticator interface {
	Login(ctx context.Context, username, password string) (string, error)
}

// Config configures the HTTP login endpoint.
type Config struct {
	URL     string        `yaml:"url"`
	Timeout time.Duration `yaml:"timeout"`
}

// DefaultConfig returns the login endpoint defaults.
func DefaultConfig() Config {
	return Config{
		URL:     "https://api.howdies.app/api/login",
		Timeout: 10 * time.Second,
	}
}

// Client performs the login call over HTTPS.
type Client struct {
	url        string
	httpClient *http.Client
}

// NewClient creates a login client.
func NewClient(cfg Config) *Client {
	if cfg.URL == "" {
		cfg.URL = DefaultConfig().URL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultConfig().Timeout
	}
	return &Client{
		url:        cfg.URL,
		httpClient: &http.Client{Timeout: cfg.Timeout},
	}
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type loginResponse struct {
	Token string `json:"token"`
	Data  struct {
		Token string `json:"token"`
	} `json:"data"`
}

// Login implements Authenticator.
func (c *Client) Login(ctx context.Context, username, password string) (string, error) {
	body, err := json.Marshal(loginRequest{Username: username, Password: password})
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return "", fmt.Errorf("%w: %s", ErrRejected, resp.Status)
	case resp.StatusCode != http.StatusOK:
		return "", fmt.Errorf("login failed: %s", resp.Status)
	}

	var lr loginResponse
	if err := json.Unmarshal(data, &lr); err != nil {
		return "", fmt.Errorf("unmarshal response: %w", err)
	}

	token := lr.Token
	if token == "" {
		token = lr.Data.Token
	}
	if token == "" {
		return "", ErrNoToken
	}
	return token, nil
}

// AuthenticatorFunc adapts a function to the Authenticator interface.
type AuthenticatorFunc func(ctx context.Context, username, password string) (string, error)

// Login implements Authenticator.
func (f AuthenticatorFunc) Login(ctx context.Context, username, password string) (string, error) {
	return f(ctx, username, password)
}
