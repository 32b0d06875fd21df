// Package feed connects to the upstream market hub: it authenticates,
// keeps a reconnecting session alive, replays the subscription set and
// turns order-book batches into a net-volume series.
package feed

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/alanyoungcy/inago/internal/domain"
)

const (
	loginPath           = "/api/Auth/loginKey"
	defaultLoginTimeout = 15 * time.Second
	maxLoginBody        = 1 << 20
)

// Credentials identify the account on the identity endpoint.
type Credentials struct {
	Username string
	APIKey   string
}

// AuthError is a non-success answer from the identity endpoint.
type AuthError struct {
	StatusCode int
	ErrorCode  int
	Message    string
}

func (e *AuthError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = "login rejected"
	}
	return fmt.Sprintf("feed: auth: %s (status %d, code %d)", msg, e.StatusCode, e.ErrorCode)
}

func (e *AuthError) Unwrap() error { return domain.ErrAuth }

// Authenticator exchanges credentials for a session token.
type Authenticator interface {
	Login(ctx context.Context, creds Credentials) (string, error)
}

// AuthClient calls the upstream identity endpoint over HTTP.
type AuthClient struct {
	baseURL    string
	httpClient *http.Client
}

// NewAuthClient creates an AuthClient rooted at apiURL. A non-positive timeout
// uses 15 seconds.
func NewAuthClient(apiURL string, timeout time.Duration) *AuthClient {
	if timeout <= 0 {
		timeout = defaultLoginTimeout
	}
	return &AuthClient{
		baseURL:    strings.TrimRight(apiURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
	}
}

type loginRequest struct {
	UserName string `json:"userName"`
	APIKey   string `json:"apiKey"`
}

type loginResponse struct {
	Success      bool   `json:"success"`
	ErrorCode    int    `json:"errorCode"`
	ErrorMessage string `json:"errorMessage"`
	Token        string `json:"token"`
}

// Login posts the credentials and returns the session token. Every failure,
// including network errors, unwraps to domain.ErrAuth.
func (c *AuthClient) Login(ctx context.Context, creds Credentials) (string, error) {
	body, err := json.Marshal(loginRequest{UserName: creds.Username, APIKey: creds.APIKey})
	if err != nil {
		return "", fmt.Errorf("feed: auth: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+loginPath, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("feed: auth: create request: %w: %w", domain.ErrAuth, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/plain")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("feed: auth: request: %w: %w", domain.ErrAuth, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxLoginBody))
	if err != nil {
		return "", fmt.Errorf("feed: auth: read response: %w: %w", domain.ErrAuth, err)
	}

	var out loginResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		if resp.StatusCode != http.StatusOK {
			return "", &AuthError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(raw))}
		}
		return "", fmt.Errorf("feed: auth: decode response: %w: %w", domain.ErrAuth, err)
	}

	if !out.Success || out.ErrorCode != 0 || out.Token == "" {
		return "", &AuthError{
			StatusCode: resp.StatusCode,
			ErrorCode:  out.ErrorCode,
			Message:    out.ErrorMessage,
		}
	}
	return out.Token, nil
}
