// Package identity is the client for the external identity provider: password
// sign-in, token refresh, remote sign-out, and the auth-event stream. Tokens
// are opaque; this package never interprets them.
package identity

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/mklatt/sessiondeck/internal/domain"
	"github.com/mklatt/sessiondeck/internal/errors"
)

const requestTimeout = 10 * time.Second

// Session is the credential set issued by the identity provider.
type Session struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int    `json:"expires_in"`
	User         User   `json:"user"`
}

// User is the account the session belongs to.
type User struct {
	ID    string      `json:"id"`
	Email string      `json:"email"`
	Role  domain.Role `json:"role"`
}

// Handle converts the provider session into the local session handle.
func (s *Session) Handle() domain.SessionHandle {
	role := s.User.Role
	if role == "" {
		role = domain.RoleUser
	}
	return domain.SessionHandle{
		AccountID: s.User.ID,
		Token:     s.AccessToken,
		Email:     s.User.Email,
		Role:      role,
	}
}

// TokenRefreshError distinguishes a revoked refresh token from a transient
// refresh failure. Revocation is terminal: the kill switch runs and no retry
// happens before a fresh login.
type TokenRefreshError struct {
	Revoked bool
	Err     error
}

func (e *TokenRefreshError) Error() string {
	if e.Revoked {
		return fmt.Sprintf("token revoked: %v", e.Err)
	}
	return fmt.Sprintf("token refresh failed: %v", e.Err)
}

func (e *TokenRefreshError) Unwrap() error {
	return e.Err
}

// Client talks to the identity provider's HTTP API.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewClient creates an identity client for the given provider base URL.
func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		baseURL:    baseURL,
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: requestTimeout},
	}
}

// SignInWithPassword exchanges email/password for a session.
func (c *Client) SignInWithPassword(ctx context.Context, email, password string) (*Session, error) {
	body, err := json.Marshal(map[string]string{"email": email, "password": password})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal sign-in request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/auth/v1/token?grant_type=password", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build sign-in request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("apikey", c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, errors.NetworkError("identity provider unreachable", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.NetworkError("failed to read sign-in response", err)
	}

	if resp.StatusCode == http.StatusBadRequest || resp.StatusCode == http.StatusUnauthorized {
		return nil, errors.AuthRejectedError("invalid credentials",
			fmt.Errorf("sign-in failed with status %d", resp.StatusCode))
	}
	if resp.StatusCode != http.StatusOK {
		return nil, errors.ExternalError("sign-in failed",
			fmt.Errorf("status %d: %s", resp.StatusCode, string(respBody)))
	}

	var session Session
	if err := json.Unmarshal(respBody, &session); err != nil {
		return nil, errors.ExternalError("malformed sign-in response", err)
	}
	return &session, nil
}

// Refresh exchanges a refresh token for a fresh session. A 400/401 response
// means the refresh token was revoked server-side.
func (c *Client) Refresh(ctx context.Context, refreshToken string) (*Session, error) {
	body, err := json.Marshal(map[string]string{"refresh_token": refreshToken})
	if err != nil {
		return nil, &TokenRefreshError{Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/auth/v1/token?grant_type=refresh_token", bytes.NewReader(body))
	if err != nil {
		return nil, &TokenRefreshError{Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("apikey", c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &TokenRefreshError{Err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &TokenRefreshError{Err: err}
	}

	if resp.StatusCode != http.StatusOK {
		revoked := resp.StatusCode == http.StatusBadRequest || resp.StatusCode == http.StatusUnauthorized
		return nil, &TokenRefreshError{
			Revoked: revoked,
			Err:     fmt.Errorf("refresh failed with status %d: %s", resp.StatusCode, string(respBody)),
		}
	}

	var session Session
	if err := json.Unmarshal(respBody, &session); err != nil {
		return nil, &TokenRefreshError{Err: err}
	}
	return &session, nil
}

// SignOut invalidates the session server-side. Used both for user logout and
// as the remote sign-out step of the kill switch.
func (c *Client) SignOut(ctx context.Context, accessToken string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/auth/v1/logout", nil)
	if err != nil {
		return fmt.Errorf("failed to build sign-out request: %w", err)
	}
	req.Header.Set("apikey", c.apiKey)
	req.Header.Set("Authorization", "Bearer "+accessToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return errors.NetworkError("identity provider unreachable", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent {
		return errors.ExternalError("sign-out rejected",
			fmt.Errorf("status %d", resp.StatusCode))
	}
	return nil
}
