package session

import (
	"log/slog"
	"sync"

	"github.com/mklatt/sessiondeck/internal/domain"
)

// State is the lifecycle state of the local session.
type State int

const (
	StateLoggedOut State = iota
	StateActive
	StateShuttingDown
)

func (s State) String() string {
	switch s {
	case StateLoggedOut:
		return "logged_out"
	case StateActive:
		return "active"
	case StateShuttingDown:
		return "shutting_down"
	default:
		return "unknown"
	}
}

// EventKind is the kind of session change delivered to subscribers.
type EventKind int

const (
	// EventStarted fires on every new login or token refresh. The handle is
	// replaced wholesale; the token is the identity being arbitrated, so
	// subscribers must treat a refreshed token like a new session.
	EventStarted EventKind = iota
	// EventInvalidated fires when the local session is torn down, whether by
	// user logout, conflict arbitration, or a terminal auth event.
	EventInvalidated
)

// Event is a session change notification.
type Event struct {
	Kind   EventKind
	Handle domain.SessionHandle
}

// Manager is the process-wide source of truth for the locally authenticated
// session. Any component may invalidate the session through the kill switch;
// subscribers (registry, HTTP surface) react to change events instead of
// mutating each other's state.
type Manager struct {
	mu     sync.Mutex
	state  State
	handle domain.SessionHandle
	subs   []func(Event)
}

// NewManager creates a manager in the logged-out state.
func NewManager() *Manager {
	return &Manager{state: StateLoggedOut}
}

// Subscribe registers a callback invoked on every session change. Callbacks
// run synchronously, outside the manager lock, in registration order.
// Subscribe must be called during wiring, before concurrent use.
func (m *Manager) Subscribe(fn func(Event)) {
	m.subs = append(m.subs, fn)
}

// SetActive installs a new session handle. Called on login and on every token
// refresh. Re-entering Active from ShuttingDown is allowed: a fresh login is
// what re-arms the shutdown path.
func (m *Manager) SetActive(handle domain.SessionHandle) {
	m.mu.Lock()
	prev := m.state
	m.state = StateActive
	m.handle = handle
	m.mu.Unlock()

	slog.Info("Session activated",
		"account_id", handle.AccountID,
		"role", handle.Role,
		"previous_state", prev.String())

	m.notify(Event{Kind: EventStarted, Handle: handle})
}

// BeginShutdown transitions Active -> ShuttingDown. Returns false when there
// is no active session to shut down.
func (m *Manager) BeginShutdown() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != StateActive {
		return false
	}
	m.state = StateShuttingDown
	return true
}

// Invalidate clears the local session state and notifies subscribers.
// Safe to call from any state; clearing an already cleared session is a no-op.
func (m *Manager) Invalidate() {
	m.mu.Lock()
	if m.state == StateLoggedOut {
		m.mu.Unlock()
		return
	}
	handle := m.handle
	m.state = StateLoggedOut
	m.handle = domain.SessionHandle{}
	m.mu.Unlock()

	slog.Info("Session invalidated", "account_id", handle.AccountID)
	m.notify(Event{Kind: EventInvalidated, Handle: handle})
}

// Handle returns a copy of the current session handle. The second return is
// false when no session is active.
func (m *Manager) Handle() (domain.SessionHandle, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == StateLoggedOut {
		return domain.SessionHandle{}, false
	}
	return m.handle, true
}

// Token returns the current bearer token, or false when logged out.
func (m *Manager) Token() (string, bool) {
	h, ok := m.Handle()
	return h.Token, ok
}

// CurrentState returns the lifecycle state.
func (m *Manager) CurrentState() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *Manager) notify(ev Event) {
	for _, fn := range m.subs {
		fn(ev)
	}
}
