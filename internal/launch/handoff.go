// Package launch orchestrates the session artifact handoff: fetch the launch
// descriptor, restore the stored artifact, hand both to the automation host,
// and conditionally persist what comes back.
package launch

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mklatt/sessiondeck/internal/domain"
	"github.com/mklatt/sessiondeck/internal/errors"
	"github.com/mklatt/sessiondeck/internal/logging"
	"github.com/mklatt/sessiondeck/internal/metrics"
)

// Sessions exposes the current account session. Satisfied by session.Manager.
type Sessions interface {
	Handle() (domain.SessionHandle, bool)
}

// DescriptorSource issues single-use launch descriptors. Satisfied by the
// app-manager client.
type DescriptorSource interface {
	FetchLaunchDescriptor(ctx context.Context, token, profileID string, debug bool) (*domain.LaunchDescriptor, error)
}

// Vault moves session artifacts in and out of the object store. Satisfied by
// artifact.Store.
type Vault interface {
	Download(ctx context.Context, signedURL string) *domain.Artifact
	Upload(ctx context.Context, token, profileID string, data json.RawMessage) error
}

// Runner drives one automation session to completion. Satisfied by the
// automation host client.
type Runner interface {
	Launch(ctx context.Context, payload *domain.LaunchPayload, token string) (*domain.AutomationResult, error)
}

// Handoff coordinates one launch end to end and tracks which profiles have a
// live automation session. A profile can run at most once per daemon.
type Handoff struct {
	sessions    Sessions
	descriptors DescriptorSource
	vault       Vault
	runner      Runner

	mu      sync.Mutex
	running map[string]struct{}
}

// NewHandoff creates the launch coordinator.
func NewHandoff(sessions Sessions, descriptors DescriptorSource, vault Vault, runner Runner) *Handoff {
	return &Handoff{
		sessions:    sessions,
		descriptors: descriptors,
		vault:       vault,
		runner:      runner,
		running:     make(map[string]struct{}),
	}
}

// Launch runs the full handoff for one profile. Blocks for the lifetime of
// the external session. The descriptor and the resolved strategy live only
// for the duration of this call.
func (h *Handoff) Launch(ctx context.Context, profileID string, debug bool) error {
	handle, ok := h.sessions.Handle()
	if !ok {
		return errors.AuthRejectedError("no active session", nil)
	}

	if !h.markRunning(profileID) {
		return errors.ValidationError("profile already running").
			WithContext("profile_id", profileID)
	}
	defer h.MarkClosed(profileID)

	start := time.Now()
	err := h.run(ctx, handle, profileID, debug)
	metrics.LaunchDuration.Observe(time.Since(start).Seconds())

	if err != nil {
		metrics.LaunchesTotal.WithLabelValues("failure").Inc()
		return err
	}
	metrics.LaunchesTotal.WithLabelValues("success").Inc()
	return nil
}

func (h *Handoff) run(ctx context.Context, handle domain.SessionHandle, profileID string, debug bool) error {
	logger := logging.WithProfile(profileID).With("launch_id", uuid.NewString())

	desc, err := h.descriptors.FetchLaunchDescriptor(ctx, handle.Token, profileID, debug)
	if err != nil {
		return err
	}

	// A missing or expired artifact is not an error; the run starts clean.
	prior := h.vault.Download(ctx, desc.Session.DownloadURL)
	if prior == nil {
		logger.Info("No stored session artifact, launching clean")
	}

	strategy := domain.ResolveStrategy(handle.Role, desc.AppConfig.SyncEnabled, desc.Credentials.Present())
	payload := domain.NewLaunchPayload(profileID, desc, prior, strategy, debug)

	logger.Info("Handing profile to automation host", "strategy", string(strategy), "debug", debug)
	result, err := h.runner.Launch(ctx, payload, handle.Token)
	if err != nil {
		return err
	}
	if !result.Success {
		return errors.AutomationFailureError("automation run failed", nil).
			WithContext("profile_id", profileID).
			WithContext("detail", result.Error)
	}

	return h.persist(ctx, logger, handle.Token, profileID, strategy, result)
}

// persist uploads the returned artifact when the strategy permits. The host
// returns session data under on_login only when a fresh login happened, so
// presence of data plus a permitting strategy is the whole condition. Upload
// failures are logged, not surfaced: the run itself succeeded. The exception
// is a rejected bearer token, which means the whole session is dead and must
// propagate to the forced-logout path.
func (h *Handoff) persist(ctx context.Context, logger *slog.Logger, token, profileID string, strategy domain.PersistenceStrategy, result *domain.AutomationResult) error {
	if strategy == domain.StrategyNever || result.SessionData == nil {
		return nil
	}

	if err := h.vault.Upload(ctx, token, profileID, result.SessionData); err != nil {
		if errors.IsAuthRejected(err) {
			return err
		}
		logger.Warn("Failed to persist session artifact after run", "error", err)
		return nil
	}
	logger.Info("Session artifact persisted", "strategy", string(strategy))
	return nil
}

func (h *Handoff) markRunning(profileID string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, exists := h.running[profileID]; exists {
		return false
	}
	h.running[profileID] = struct{}{}
	metrics.RunningProfiles.Set(float64(len(h.running)))
	return true
}

// MarkClosed clears a profile's running flag. Called both on Launch return
// and from the automation host's out-of-band process-closed notifications,
// so it tolerates double clears.
func (h *Handoff) MarkClosed(profileID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.running, profileID)
	metrics.RunningProfiles.Set(float64(len(h.running)))
}

// Running reports whether a profile currently has a live automation session.
func (h *Handoff) Running(profileID string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	_, ok := h.running[profileID]
	return ok
}

// RunningProfiles lists profiles with a live automation session.
func (h *Handoff) RunningProfiles() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	ids := make([]string, 0, len(h.running))
	for id := range h.running {
		ids = append(ids, id)
	}
	return ids
}
