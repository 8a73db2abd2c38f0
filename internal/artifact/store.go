// Package artifact moves opaque session artifacts between the object store
// and this process: downloads via short-lived signed URLs, uploads through
// the app-manager save endpoint.
package artifact

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/failsafe-go/failsafe-go/circuitbreaker"

	"github.com/mklatt/sessiondeck/internal/domain"
	"github.com/mklatt/sessiondeck/internal/errors"
	"github.com/mklatt/sessiondeck/internal/metrics"
)

const downloadTimeout = 30 * time.Second

// Uploader persists an artifact server-side. Satisfied by the app-manager client.
type Uploader interface {
	SaveSession(ctx context.Context, token, profileID string, artifact *domain.Artifact) error
}

// Store is the artifact store client. Downloads never fail the caller: any
// error degrades to "no prior artifact" and the launch proceeds from a clean
// profile. A circuit breaker keeps a misbehaving bucket from stalling every
// launch for the full timeout.
type Store struct {
	httpClient *http.Client
	uploader   Uploader
	cb         circuitbreaker.CircuitBreaker[any]
	now        func() time.Time
}

// NewStore creates a store client that uploads through the given uploader.
func NewStore(uploader Uploader) *Store {
	cb := circuitbreaker.NewBuilder[any]().
		WithFailureRateThreshold(0.6, 5, 10*time.Second).
		WithDelay(30 * time.Second).
		WithSuccessThreshold(1).
		OnStateChanged(func(e circuitbreaker.StateChangedEvent) {
			slog.Warn("Circuit breaker state changed",
				"component", "artifact_store",
				"from", e.OldState.String(),
				"to", e.NewState.String(),
			)
			metrics.CircuitBreakerStateChanges.WithLabelValues("artifact_store", e.NewState.String()).Inc()
			metrics.CircuitBreakerState.WithLabelValues("artifact_store").Set(stateToFloat(e.NewState))
		}).
		Build()

	return &Store{
		httpClient: &http.Client{Timeout: downloadTimeout},
		uploader:   uploader,
		cb:         cb,
		now:        time.Now,
	}
}

func stateToFloat(state circuitbreaker.State) float64 {
	switch state {
	case circuitbreaker.ClosedState:
		return 0
	case circuitbreaker.HalfOpenState:
		return 1
	case circuitbreaker.OpenState:
		return 2
	default:
		return -1
	}
}

// Download fetches the artifact behind a signed URL. Returns nil on any
// failure: a missing or expired link just means a first run. The signed URL
// already embeds authorization; no bearer token is attached.
func (s *Store) Download(ctx context.Context, signedURL string) *domain.Artifact {
	if signedURL == "" {
		return nil
	}

	if !s.cb.TryAcquirePermit() {
		metrics.ArtifactDownloads.WithLabelValues("breaker_open").Inc()
		slog.Warn("Artifact download skipped, circuit breaker open")
		return nil
	}

	data, err := s.fetch(ctx, signedURL)
	if err != nil {
		s.cb.RecordError(err)
		metrics.ArtifactDownloads.WithLabelValues("failure").Inc()
		slog.Warn("No prior session artifact available", "error", err)
		return nil
	}
	s.cb.RecordSuccess()

	metrics.ArtifactDownloads.WithLabelValues("success").Inc()
	return &domain.Artifact{Data: data}
}

func (s *Store) fetch(ctx context.Context, signedURL string) (json.RawMessage, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, signedURL, nil)
	if err != nil {
		return nil, errors.ArtifactUnavailableError("failed to build download request", err)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, errors.ArtifactUnavailableError("artifact download failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, errors.ArtifactUnavailableError(
			fmt.Sprintf("artifact download failed with status %d", resp.StatusCode), nil)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.ArtifactUnavailableError("failed to read artifact body", err)
	}
	if !json.Valid(body) {
		return nil, errors.ArtifactUnavailableError("artifact body is not valid JSON", nil)
	}
	return body, nil
}

// Upload persists new session data under a fresh version marker. The store
// keeps only the latest version, so the marker only needs to be fresh, not
// globally ordered. Failures are reported to the caller; the caller decides
// whether they fail the launch.
func (s *Store) Upload(ctx context.Context, token, profileID string, data json.RawMessage) error {
	artifact := &domain.Artifact{
		Data:          data,
		VersionMarker: strconv.FormatInt(s.now().UnixMilli(), 10),
	}

	if err := s.uploader.SaveSession(ctx, token, profileID, artifact); err != nil {
		metrics.ArtifactUploads.WithLabelValues("failure").Inc()
		return errors.UploadFailureError("failed to persist session artifact", err).
			WithContext("profile_id", profileID)
	}

	metrics.ArtifactUploads.WithLabelValues("success").Inc()
	return nil
}
