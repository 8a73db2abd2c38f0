package identity

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/mklatt/sessiondeck/internal/domain"
	"github.com/mklatt/sessiondeck/internal/metrics"
	"github.com/mklatt/sessiondeck/internal/platform/retry"
)

const (
	dialAttempts  = 5
	dialBackoff   = time.Second
	reconnectIdle = 5 * time.Second
	unauthedPoll  = time.Second
)

// StreamHandler receives every auth state change delivered by the provider.
// The session is non-nil for events that carry fresh credentials
// (SIGNED_IN, TOKEN_REFRESHED) and nil for terminal events.
type StreamHandler func(ctx context.Context, ev domain.AuthEvent, session *Session)

// streamEvent is the wire shape of one event. Payloads are validated on
// receipt rather than trusted.
type streamEvent struct {
	Event   string   `json:"event"`
	Session *Session `json:"session,omitempty"`
}

// Stream consumes the identity provider's auth-event websocket. It only
// connects while a local session exists and reconnects with backoff when the
// connection drops.
type Stream struct {
	wsURL   string
	apiKey  string
	token   func() (string, bool)
	handler StreamHandler
}

// NewStream builds a stream client. token reports the currently held access
// token; the stream idles while it reports false.
func NewStream(baseURL, apiKey string, token func() (string, bool), handler StreamHandler) *Stream {
	wsURL := strings.Replace(baseURL, "http", "ws", 1) + "/auth/v1/events"
	return &Stream{
		wsURL:   wsURL,
		apiKey:  apiKey,
		token:   token,
		handler: handler,
	}
}

// Run blocks until ctx is cancelled, maintaining the stream connection for as
// long as a session is held.
func (s *Stream) Run(ctx context.Context) {
	for ctx.Err() == nil {
		token, ok := s.token()
		if !ok {
			s.sleep(ctx, unauthedPoll)
			continue
		}

		conn, err := s.dial(ctx, token)
		if err != nil {
			slog.Warn("Failed to connect auth event stream", "error", err)
			s.sleep(ctx, reconnectIdle)
			continue
		}

		s.readLoop(ctx, conn)

		if ctx.Err() == nil {
			metrics.EventStreamReconnects.Inc()
		}
	}
}

func (s *Stream) dial(ctx context.Context, token string) (*websocket.Conn, error) {
	header := http.Header{}
	header.Set("apikey", s.apiKey)
	header.Set("Authorization", "Bearer "+token)

	policy := retry.Policy{
		MaxAttempts:    dialAttempts,
		InitialBackoff: dialBackoff,
		OnRetry: func(attempt int, err error, backoff time.Duration) {
			slog.Debug("Retrying auth event stream dial",
				"attempt", attempt, "backoff", backoff, "error", err)
		},
	}
	transient := func(error) bool { return true }

	return retry.Do(ctx, policy, transient, func() (*websocket.Conn, error) {
		conn, resp, err := websocket.DefaultDialer.DialContext(ctx, s.wsURL, header)
		if resp != nil && resp.Body != nil {
			_ = resp.Body.Close()
		}
		return conn, err
	})
}

func (s *Stream) readLoop(ctx context.Context, conn *websocket.Conn) {
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()
	defer conn.Close()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() == nil {
				slog.Warn("Auth event stream dropped", "error", err)
			}
			return
		}

		var ev streamEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			slog.Warn("Dropping malformed auth event", "error", err)
			continue
		}
		if ev.Event == "" {
			continue
		}

		s.handler(ctx, domain.AuthEvent(ev.Event), ev.Session)
	}
}

func (s *Stream) sleep(ctx context.Context, d time.Duration) {
	select {
	case <-time.After(d):
	case <-ctx.Done():
	}
}
