// Package metrics defines the Prometheus collectors exported by the console.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Session arbitration metrics
var (
	// AnnouncementsPublished tracks token announcements published on account channels
	AnnouncementsPublished = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "session_announcements_published_total",
			Help: "Total token announcements published on account channels",
		},
	)

	// AnnouncementsReceived tracks announcements received, by outcome (echo/foreign/invalid)
	AnnouncementsReceived = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "session_announcements_received_total",
			Help: "Total token announcements received, by outcome",
		},
		[]string{"outcome"},
	)

	// KillSwitchRuns tracks kill switch executions by trigger
	KillSwitchRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kill_switch_runs_total",
			Help: "Total kill switch executions by trigger",
		},
		[]string{"trigger"},
	)

	// KillSwitchStepFailures tracks failed kill switch steps (each step is best-effort)
	KillSwitchStepFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kill_switch_step_failures_total",
			Help: "Total failed kill switch steps by step name",
		},
		[]string{"step"},
	)
)

// Launch metrics
var (
	// LaunchesTotal tracks profile launches by result
	LaunchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "profile_launches_total",
			Help: "Total profile launches by result",
		},
		[]string{"result"},
	)

	// LaunchDuration tracks end-to-end launch duration (includes the external session)
	LaunchDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "profile_launch_duration_seconds",
			Help:    "End-to-end launch duration in seconds, including the external session",
			Buckets: []float64{1, 10, 60, 300, 1800, 3600, 14400},
		},
	)

	// RunningProfiles tracks profiles with a live automation session
	RunningProfiles = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "running_profiles_current",
			Help: "Profiles with a live automation session",
		},
	)
)

// Artifact store metrics
var (
	// ArtifactDownloads tracks artifact downloads by status
	ArtifactDownloads = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "artifact_downloads_total",
			Help: "Total session artifact downloads by status",
		},
		[]string{"status"},
	)

	// ArtifactUploads tracks artifact uploads by status
	ArtifactUploads = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "artifact_uploads_total",
			Help: "Total session artifact uploads by status",
		},
		[]string{"status"},
	)

	// CircuitBreakerState tracks current breaker state (0=closed, 1=half-open, 2=open)
	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Current circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"component"},
	)

	// CircuitBreakerStateChanges tracks breaker state transitions
	CircuitBreakerStateChanges = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_state_changes_total",
			Help: "Circuit breaker state transitions by component and new state",
		},
		[]string{"component", "state"},
	)
)

// Identity provider metrics
var (
	// AuthEventsReceived tracks auth events received from the identity event stream
	AuthEventsReceived = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auth_events_received_total",
			Help: "Auth events received from the identity provider event stream",
		},
		[]string{"event"},
	)

	// EventStreamReconnects tracks reconnects of the identity event stream
	EventStreamReconnects = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "auth_event_stream_reconnects_total",
			Help: "Total reconnects of the identity provider event stream",
		},
	)
)

// Redis metrics
var (
	// RedisOpsTotal tracks Redis operations by command and status
	RedisOpsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "redis_operations_total",
			Help: "Total Redis operations by command and status",
		},
		[]string{"operation", "status"},
	)

	// RedisOpDuration tracks Redis operation latency by command
	RedisOpDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "redis_operation_duration_seconds",
			Help:    "Redis operation latency in seconds by command",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	// RedisConnectionErrors tracks failed Redis connection attempts
	RedisConnectionErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "redis_connection_errors_total",
			Help: "Total failed Redis connection attempts",
		},
	)
)
