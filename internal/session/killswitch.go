package session

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/mklatt/sessiondeck/internal/metrics"
)

// rearmDelay is the backstop after which the guard clears on its own, so a
// future genuine conflict can trigger the sequence even if no fresh login
// event arrived in the meantime.
const rearmDelay = 2 * time.Second

// ProcessSupervisor terminates all automation processes launched by this client.
type ProcessSupervisor interface {
	KillAll(ctx context.Context) error
}

// RemoteSignOut invalidates the session server-side at the identity provider.
type RemoteSignOut interface {
	SignOut(ctx context.Context, accessToken string) error
}

// KillSwitch is the idempotent emergency session-termination sequence:
// terminate launched processes, clear local session state, force remote
// sign-out. Each step has its own failure boundary: a failing step is logged
// and the next one still runs.
//
// Concurrent Execute calls run the body at most once while the guard is
// engaged. The guard re-arms on a fresh login event, with the timer as a
// backstop.
type KillSwitch struct {
	manager    *Manager
	supervisor ProcessSupervisor
	signOut    RemoteSignOut
	clock      clockwork.Clock

	mu      sync.Mutex
	engaged bool
	rearm   clockwork.Timer
}

// NewKillSwitch wires the shutdown sequence and subscribes to the manager so
// a fresh login re-arms the guard immediately.
func NewKillSwitch(manager *Manager, supervisor ProcessSupervisor, signOut RemoteSignOut, clock clockwork.Clock) *KillSwitch {
	ks := &KillSwitch{
		manager:    manager,
		supervisor: supervisor,
		signOut:    signOut,
		clock:      clock,
	}
	manager.Subscribe(func(ev Event) {
		if ev.Kind == EventStarted {
			ks.Rearm()
		}
	})
	return ks
}

// Execute runs the shutdown sequence once. Re-entrant and concurrency-safe:
// while the guard is engaged, further calls return immediately.
func (ks *KillSwitch) Execute(ctx context.Context, trigger string) {
	ks.mu.Lock()
	if ks.engaged {
		ks.mu.Unlock()
		return
	}
	ks.engaged = true
	ks.rearm = ks.clock.AfterFunc(rearmDelay, ks.Rearm)
	ks.mu.Unlock()

	slog.Warn("Session conflict detected, shutting everything down", "trigger", trigger)
	metrics.KillSwitchRuns.WithLabelValues(trigger).Inc()

	// Token must be captured before local state is cleared; remote sign-out
	// still needs it.
	handle, _ := ks.manager.Handle()
	ks.manager.BeginShutdown()

	if err := ks.supervisor.KillAll(ctx); err != nil {
		slog.Error("Failed to terminate launched processes", "error", err)
		metrics.KillSwitchStepFailures.WithLabelValues("kill_processes").Inc()
	}

	ks.manager.Invalidate()

	if handle.Token != "" {
		if err := ks.signOut.SignOut(ctx, handle.Token); err != nil {
			// Local state is already cleared; remote sign-out is best effort.
			slog.Warn("Remote sign-out failed", "error", err)
			metrics.KillSwitchStepFailures.WithLabelValues("remote_sign_out").Inc()
		}
	}

	slog.Info("Kill switch sequence completed", "trigger", trigger)
}

// Rearm clears the guard so a future conflict can trigger the sequence again.
// Called on fresh login and by the backstop timer.
func (ks *KillSwitch) Rearm() {
	ks.mu.Lock()
	defer ks.mu.Unlock()
	if ks.rearm != nil {
		ks.rearm.Stop()
		ks.rearm = nil
	}
	ks.engaged = false
}

// Engaged reports whether the guard is currently set.
func (ks *KillSwitch) Engaged() bool {
	ks.mu.Lock()
	defer ks.mu.Unlock()
	return ks.engaged
}
