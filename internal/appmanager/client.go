// Package appmanager is the client for the external data/API service that
// issues launch descriptors and stores per-profile session state. Every call
// carries the current token as a bearer credential; a 401 from any of them
// feeds the global forced-logout policy.
package appmanager

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/mklatt/sessiondeck/internal/domain"
	"github.com/mklatt/sessiondeck/internal/errors"
)

const requestTimeout = 15 * time.Second

// Client talks to the app-manager edge API.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates an app-manager client for the given endpoint.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: requestTimeout},
	}
}

func (c *Client) endpoint(action, profileID string, debug bool) string {
	params := url.Values{}
	params.Set("target", "apps")
	params.Set("action", action)
	params.Set("id", profileID)
	if debug {
		params.Set("debug", "true")
	}
	return c.baseURL + "?" + params.Encode()
}

// FetchLaunchDescriptor requests a fresh single-use launch descriptor for the
// profile. The server decides, based on role and sync settings, whether
// credentials are included and whether a prior artifact reference exists.
func (c *Client) FetchLaunchDescriptor(ctx context.Context, token, profileID string, debug bool) (*domain.LaunchDescriptor, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint("launch", profileID, debug), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build launch request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, errors.NetworkError("app manager unreachable", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.NetworkError("failed to read launch response", err)
	}

	if err := c.checkStatus(resp.StatusCode, body, "launch request"); err != nil {
		return nil, err
	}

	var desc domain.LaunchDescriptor
	if err := json.Unmarshal(body, &desc); err != nil {
		return nil, errors.ExternalError("malformed launch descriptor", err)
	}
	if desc.AppConfig.StartURL == "" {
		return nil, errors.ExternalError("launch descriptor missing start URL", nil)
	}
	return &desc, nil
}

// SaveSession overwrites the stored session artifact for the profile. The
// store keeps only the latest version; no optimistic-lock check is made.
func (c *Client) SaveSession(ctx context.Context, token, profileID string, artifact *domain.Artifact) error {
	body, err := json.Marshal(artifact)
	if err != nil {
		return fmt.Errorf("failed to marshal session artifact: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, c.endpoint("save_session", profileID, false), bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build save-session request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return errors.NetworkError("app manager unreachable", err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)
	return c.checkStatus(resp.StatusCode, respBody, "save-session request")
}

// ClearSession invalidates the stored artifact server-side, logging every
// user of that profile out remotely.
func (c *Client) ClearSession(ctx context.Context, token, profileID string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, c.endpoint("clear_session", profileID, false), nil)
	if err != nil {
		return fmt.Errorf("failed to build clear-session request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return errors.NetworkError("app manager unreachable", err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)
	return c.checkStatus(resp.StatusCode, respBody, "clear-session request")
}

func (c *Client) checkStatus(status int, body []byte, operation string) error {
	switch {
	case status == http.StatusOK || status == http.StatusNoContent:
		return nil
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return errors.AuthRejectedError(operation+" rejected",
			fmt.Errorf("status %d", status))
	case status == http.StatusNotFound:
		return errors.NotFoundError(operation + " target not found")
	default:
		return errors.ExternalError(operation+" failed",
			fmt.Errorf("status %d: %s", status, string(body)))
	}
}
