// Package registry maintains the one pub/sub subscription this process holds
// on its account's session-control channel and broadcasts the locally held
// token to every other device on the same account.
package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	goredis "github.com/redis/go-redis/v9"

	"github.com/mklatt/sessiondeck/internal/domain"
	"github.com/mklatt/sessiondeck/internal/metrics"
	"github.com/mklatt/sessiondeck/internal/redis"
)

const eventNewDeviceLogin = "new_device_login"

// ChannelName returns the deterministic channel for an account. Exactly one
// logical channel exists per account; any number of devices may subscribe.
func ChannelName(accountID string) string {
	return "session_control:" + accountID
}

// message is the envelope carried on the channel. The channel has a single
// message type; anything else is dropped on receipt.
type message struct {
	Event   string              `json:"event"`
	Payload domain.Announcement `json:"payload"`
}

// Handler receives every announcement delivered on the attached channel,
// including the self-echo of our own broadcast. The handler may call Detach
// or Attach on the registry; re-entrant teardown is supported.
type Handler func(ctx context.Context, ann domain.Announcement)

// Registry holds at most one channel subscription at a time. Attach is called
// again whenever the held token changes: the token is the identity being
// arbitrated, so a refresh reconnects and re-announces on purpose.
type Registry struct {
	rdb     *goredis.Client
	handler Handler

	mu      sync.Mutex
	current *attachment
}

type attachment struct {
	accountID string
	token     string
	sub       *goredis.PubSub
	cancel    context.CancelFunc
	// queue decouples the channel reader from handler dispatch so a handler
	// that tears the registry down cannot deadlock against its own goroutine.
	queue      chan domain.Announcement
	readerDone chan struct{}
}

// New creates a detached registry. The handler is fixed at construction;
// every received announcement is forwarded to it.
func New(client *redis.Client, handler Handler) *Registry {
	return &Registry{rdb: client.Underlying(), handler: handler}
}

// Attach idempotently ensures exactly one subscription exists for the account
// and token. A previous subscription for a different token or account is torn
// down first. Once the subscription is confirmed active, the local token is
// broadcast immediately; the self-echo doubles as a delivery receipt.
func (r *Registry) Attach(ctx context.Context, accountID, token string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.current != nil && r.current.accountID == accountID && r.current.token == token {
		return nil
	}
	r.teardownLocked()

	channel := ChannelName(accountID)
	sub := r.rdb.Subscribe(ctx, channel)

	// Receive blocks until the server confirms the subscription. Publishing
	// before confirmation could miss our own echo.
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return fmt.Errorf("failed to subscribe to %s: %w", channel, err)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	att := &attachment{
		accountID:  accountID,
		token:      token,
		sub:        sub,
		cancel:     cancel,
		queue:      make(chan domain.Announcement, 16),
		readerDone: make(chan struct{}),
	}
	go att.read()
	go r.dispatch(runCtx, att)

	if err := r.publish(ctx, channel, token); err != nil {
		cancel()
		_ = sub.Close()
		<-att.readerDone
		return err
	}

	r.current = att
	slog.Info("Attached to account channel", "account_id", accountID)
	return nil
}

// Detach unsubscribes and releases the channel. Safe to call when not
// attached. After Detach returns, no new handler invocation begins.
func (r *Registry) Detach() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.teardownLocked()
}

// Attached reports whether a subscription is currently held.
func (r *Registry) Attached() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.current != nil
}

func (r *Registry) teardownLocked() {
	if r.current == nil {
		return
	}
	att := r.current
	r.current = nil
	att.cancel()
	_ = att.sub.Close()
	<-att.readerDone
	slog.Info("Detached from account channel", "account_id", att.accountID)
}

func (r *Registry) publish(ctx context.Context, channel, token string) error {
	data, err := json.Marshal(message{
		Event:   eventNewDeviceLogin,
		Payload: domain.Announcement{Token: token},
	})
	if err != nil {
		return fmt.Errorf("failed to marshal announcement: %w", err)
	}
	if err := r.rdb.Publish(ctx, channel, data).Err(); err != nil {
		return fmt.Errorf("failed to publish announcement: %w", err)
	}
	metrics.AnnouncementsPublished.Inc()
	return nil
}

// read drains the subscription into the queue until the subscription closes.
func (att *attachment) read() {
	defer close(att.readerDone)
	defer close(att.queue)

	for msg := range att.sub.Channel() {
		var m message
		if err := json.Unmarshal([]byte(msg.Payload), &m); err != nil {
			metrics.AnnouncementsReceived.WithLabelValues("invalid").Inc()
			slog.Warn("Dropping malformed channel message", "error", err)
			continue
		}
		if m.Event != eventNewDeviceLogin || m.Payload.Token == "" {
			metrics.AnnouncementsReceived.WithLabelValues("invalid").Inc()
			continue
		}
		select {
		case att.queue <- m.Payload:
		default:
			// One pending foreign announcement is enough to arbitrate.
			slog.Warn("Announcement queue full, dropping message")
		}
	}
}

// dispatch forwards queued announcements to the handler. The context check
// guarantees no new invocation begins once teardown has cancelled it.
func (r *Registry) dispatch(ctx context.Context, att *attachment) {
	for ann := range att.queue {
		if ctx.Err() != nil {
			return
		}
		r.handler(ctx, ann)
	}
}
