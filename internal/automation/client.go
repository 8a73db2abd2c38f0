// Package automation is the client for the external automation host, the
// process supervisor that actually launches and drives browser sessions. The
// host is a black box: it takes a launch payload and returns success or
// failure plus optional updated session data when the session ends.
package automation

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/mklatt/sessiondeck/internal/domain"
	"github.com/mklatt/sessiondeck/internal/errors"
	"github.com/mklatt/sessiondeck/internal/platform/retry"
)

const controlTimeout = 10 * time.Second

// Client talks to the automation host over HTTP. Launch calls have no client
// timeout: they block for the lifetime of the external interactive session,
// which can be hours. Cancellation comes from the context only.
type Client struct {
	baseURL       string
	launchClient  *http.Client
	controlClient *http.Client
}

// NewClient creates an automation host client.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL:       baseURL,
		launchClient:  &http.Client{},
		controlClient: &http.Client{Timeout: controlTimeout},
	}
}

// Launch hands the payload to the automation host and blocks until the
// externally launched session ends. The result shape is validated on receipt
// rather than trusted.
func (c *Client) Launch(ctx context.Context, payload *domain.LaunchPayload, token string) (*domain.AutomationResult, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal launch payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/launch", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build launch request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.launchClient.Do(req)
	if err != nil {
		return nil, errors.NetworkError("automation host unreachable", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.NetworkError("failed to read automation result", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, errors.ExternalError("automation host rejected launch",
			fmt.Errorf("status %d: %s", resp.StatusCode, string(respBody)))
	}

	var result domain.AutomationResult
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, errors.ExternalError("malformed automation result", err)
	}
	if result.SessionData != nil && !json.Valid(result.SessionData) {
		return nil, errors.ExternalError("automation result carries invalid session data", nil)
	}
	return &result, nil
}

// KillAll asks the host to terminate every process launched by this client.
// Used by the kill switch; the caller treats failure as non-fatal.
func (c *Client) KillAll(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/kill-all", nil)
	if err != nil {
		return fmt.Errorf("failed to build kill-all request: %w", err)
	}

	resp, err := c.controlClient.Do(req)
	if err != nil {
		return errors.NetworkError("automation host unreachable", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent {
		return errors.ExternalError("kill-all rejected", fmt.Errorf("status %d", resp.StatusCode))
	}
	return nil
}

// closedEvent is the out-of-band notification the host emits when a launched
// process exits outside the Launch round trip.
type closedEvent struct {
	Event     string `json:"event"`
	ProfileID string `json:"profile_id"`
}

// WatchClosed consumes the host's process-closed notifications and invokes
// onClosed with the profile id. Blocks until ctx is cancelled, reconnecting
// with backoff when the stream drops.
func (c *Client) WatchClosed(ctx context.Context, onClosed func(profileID string)) {
	wsURL := strings.Replace(c.baseURL, "http", "ws", 1) + "/events"

	for ctx.Err() == nil {
		conn, err := c.dialEvents(ctx, wsURL)
		if err != nil {
			slog.Warn("Failed to connect automation event stream", "error", err)
			select {
			case <-time.After(5 * time.Second):
			case <-ctx.Done():
			}
			continue
		}
		c.readClosedEvents(ctx, conn, onClosed)
	}
}

func (c *Client) dialEvents(ctx context.Context, wsURL string) (*websocket.Conn, error) {
	policy := retry.Policy{MaxAttempts: 5, InitialBackoff: time.Second}
	transient := func(error) bool { return true }

	return retry.Do(ctx, policy, transient, func() (*websocket.Conn, error) {
		conn, resp, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
		if resp != nil && resp.Body != nil {
			_ = resp.Body.Close()
		}
		return conn, err
	})
}

func (c *Client) readClosedEvents(ctx context.Context, conn *websocket.Conn, onClosed func(profileID string)) {
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()
	defer conn.Close()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() == nil {
				slog.Warn("Automation event stream dropped", "error", err)
			}
			return
		}

		var ev closedEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			slog.Warn("Dropping malformed automation event", "error", err)
			continue
		}
		if ev.Event != "app_closed" || ev.ProfileID == "" {
			continue
		}
		onClosed(ev.ProfileID)
	}
}
