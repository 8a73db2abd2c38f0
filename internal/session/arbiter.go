package session

import (
	"context"
	"log/slog"

	"github.com/mklatt/sessiondeck/internal/domain"
	"github.com/mklatt/sessiondeck/internal/metrics"
)

// Terminator runs the emergency shutdown sequence.
type Terminator interface {
	Execute(ctx context.Context, trigger string)
}

// Superseded is the arbitration decision: any announcement carrying a token
// other than our own means this connection is the older one and must go.
// No timestamp comparison: whoever announced last is authoritative, because
// every connection announces immediately after becoming the active one.
func Superseded(localToken string, ann domain.Announcement) bool {
	return ann.Token != localToken
}

// Arbiter compares incoming announcements against the locally held token and
// triggers the kill switch on the losing side. Terminal auth events from the
// identity provider bypass the comparison entirely.
type Arbiter struct {
	manager *Manager
	kill    Terminator
}

// NewArbiter creates an arbiter bound to the local session manager.
func NewArbiter(manager *Manager, kill Terminator) *Arbiter {
	return &Arbiter{manager: manager, kill: kill}
}

// OnAnnouncement handles one announcement received on the account channel.
// Our own echoed announcement is the subscribe receipt and is ignored.
func (a *Arbiter) OnAnnouncement(ctx context.Context, ann domain.Announcement) {
	localToken, ok := a.manager.Token()
	if !ok {
		// Nothing to arbitrate; the channel is being torn down.
		return
	}

	if !Superseded(localToken, ann) {
		metrics.AnnouncementsReceived.WithLabelValues("echo").Inc()
		return
	}

	metrics.AnnouncementsReceived.WithLabelValues("foreign").Inc()
	slog.Warn("Foreign token announced on account channel, this session is superseded")
	a.kill.Execute(ctx, "session_conflict")
}

// OnAuthEvent handles an auth state change from the identity provider's event
// stream. Terminal events (forced sign-out, refresh revocation, account
// deletion) always trigger the kill switch.
func (a *Arbiter) OnAuthEvent(ctx context.Context, ev domain.AuthEvent) {
	metrics.AuthEventsReceived.WithLabelValues(string(ev)).Inc()
	if !ev.Terminal() {
		return
	}
	slog.Warn("Terminal auth event received", "event", ev)
	a.kill.Execute(ctx, string(ev))
}
