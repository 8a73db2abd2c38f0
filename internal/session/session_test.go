package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mklatt/sessiondeck/internal/domain"
	"github.com/mklatt/sessiondeck/internal/logging"
)

func init() {
	logging.InitLogger("error", "text")
}

type fakeSupervisor struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (f *fakeSupervisor) KillAll(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.err
}

func (f *fakeSupervisor) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeSignOut struct {
	mu     sync.Mutex
	tokens []string
	err    error
}

func (f *fakeSignOut) SignOut(ctx context.Context, accessToken string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tokens = append(f.tokens, accessToken)
	return f.err
}

func (f *fakeSignOut) seen() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.tokens...)
}

type fakeTerminator struct {
	mu       sync.Mutex
	triggers []string
}

func (f *fakeTerminator) Execute(ctx context.Context, trigger string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.triggers = append(f.triggers, trigger)
}

func (f *fakeTerminator) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.triggers)
}

func activeManager(token string) *Manager {
	m := NewManager()
	m.SetActive(domain.SessionHandle{
		AccountID: "acc-1",
		Token:     token,
		Email:     "user@example.com",
		Role:      domain.RoleUser,
	})
	return m
}

// --- Manager ---

func TestManager_StartsLoggedOut(t *testing.T) {
	m := NewManager()
	assert.Equal(t, StateLoggedOut, m.CurrentState())

	_, ok := m.Handle()
	assert.False(t, ok)
	_, ok = m.Token()
	assert.False(t, ok)
}

func TestManager_SetActiveReplacesHandleWholesale(t *testing.T) {
	m := activeManager("t1")
	m.SetActive(domain.SessionHandle{AccountID: "acc-1", Token: "t2"})

	token, ok := m.Token()
	require.True(t, ok)
	assert.Equal(t, "t2", token)

	handle, _ := m.Handle()
	assert.Empty(t, handle.Email, "old handle fields must not leak into the new one")
}

func TestManager_InvalidateClearsHandle(t *testing.T) {
	m := activeManager("t1")
	m.Invalidate()

	assert.Equal(t, StateLoggedOut, m.CurrentState())
	_, ok := m.Token()
	assert.False(t, ok)
}

func TestManager_InvalidateWhenLoggedOutIsNoop(t *testing.T) {
	m := NewManager()
	var events []Event
	m.Subscribe(func(ev Event) { events = append(events, ev) })

	m.Invalidate()
	assert.Empty(t, events, "no notification without a session to invalidate")
}

func TestManager_SubscribersSeeStartAndInvalidate(t *testing.T) {
	m := NewManager()
	var events []Event
	m.Subscribe(func(ev Event) { events = append(events, ev) })

	m.SetActive(domain.SessionHandle{AccountID: "acc-1", Token: "t1"})
	m.Invalidate()

	require.Len(t, events, 2)
	assert.Equal(t, EventStarted, events[0].Kind)
	assert.Equal(t, "t1", events[0].Handle.Token)
	assert.Equal(t, EventInvalidated, events[1].Kind)
	assert.Equal(t, "acc-1", events[1].Handle.AccountID)
}

func TestManager_BeginShutdownOnlyFromActive(t *testing.T) {
	m := NewManager()
	assert.False(t, m.BeginShutdown())

	m.SetActive(domain.SessionHandle{Token: "t1"})
	assert.True(t, m.BeginShutdown())
	assert.Equal(t, StateShuttingDown, m.CurrentState())
	assert.False(t, m.BeginShutdown(), "already shutting down")
}

// --- KillSwitch ---

func TestKillSwitch_RunsFullSequence(t *testing.T) {
	m := activeManager("t1")
	supervisor := &fakeSupervisor{}
	signOut := &fakeSignOut{}
	ks := NewKillSwitch(m, supervisor, signOut, clockwork.NewFakeClock())

	ks.Execute(context.Background(), "test")

	assert.Equal(t, 1, supervisor.callCount())
	assert.Equal(t, []string{"t1"}, signOut.seen(), "remote sign-out uses the token captured before clearing")
	assert.Equal(t, StateLoggedOut, m.CurrentState())
}

func TestKillSwitch_StepFailureDoesNotBlockNextStep(t *testing.T) {
	m := activeManager("t1")
	supervisor := &fakeSupervisor{err: errors.New("host unreachable")}
	signOut := &fakeSignOut{err: errors.New("network down")}
	ks := NewKillSwitch(m, supervisor, signOut, clockwork.NewFakeClock())

	ks.Execute(context.Background(), "test")

	assert.Equal(t, 1, supervisor.callCount())
	assert.Len(t, signOut.seen(), 1, "sign-out attempted despite supervisor failure")
	assert.Equal(t, StateLoggedOut, m.CurrentState(), "local state cleared despite failures")
}

func TestKillSwitch_ConcurrentCallsRunBodyOnce(t *testing.T) {
	m := activeManager("t1")
	supervisor := &fakeSupervisor{}
	signOut := &fakeSignOut{}
	ks := NewKillSwitch(m, supervisor, signOut, clockwork.NewFakeClock())

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ks.Execute(context.Background(), "concurrent")
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, supervisor.callCount())
}

func TestKillSwitch_RearmsAfterBackstopTimeout(t *testing.T) {
	clock := clockwork.NewFakeClock()
	m := activeManager("t1")
	supervisor := &fakeSupervisor{}
	ks := NewKillSwitch(m, supervisor, &fakeSignOut{}, clock)

	ks.Execute(context.Background(), "first")
	require.True(t, ks.Engaged())

	// While the guard is set, the sequence must not run again.
	ks.Execute(context.Background(), "blocked")
	assert.Equal(t, 1, supervisor.callCount())

	clock.Advance(rearmDelay)
	require.False(t, ks.Engaged())

	// A session came back in the meantime (e.g. pre-filled state); a new
	// conflict must run the sequence again.
	m.SetActive(domain.SessionHandle{Token: "t2"})
	ks.Execute(context.Background(), "second")
	assert.Equal(t, 2, supervisor.callCount())
}

func TestKillSwitch_FreshLoginRearmsBeforeTimeout(t *testing.T) {
	clock := clockwork.NewFakeClock()
	m := activeManager("t1")
	supervisor := &fakeSupervisor{}
	ks := NewKillSwitch(m, supervisor, &fakeSignOut{}, clock)

	ks.Execute(context.Background(), "first")
	require.True(t, ks.Engaged())

	// A fresh login re-arms immediately, without waiting out the backstop.
	m.SetActive(domain.SessionHandle{Token: "t2"})
	assert.False(t, ks.Engaged())

	ks.Execute(context.Background(), "second")
	assert.Equal(t, 2, supervisor.callCount())
}

func TestKillSwitch_NoSessionStillKillsProcesses(t *testing.T) {
	m := NewManager()
	supervisor := &fakeSupervisor{}
	signOut := &fakeSignOut{}
	ks := NewKillSwitch(m, supervisor, signOut, clockwork.NewFakeClock())

	ks.Execute(context.Background(), "forced")

	assert.Equal(t, 1, supervisor.callCount())
	assert.Empty(t, signOut.seen(), "no token, no remote sign-out")
}

// --- Arbiter ---

func TestArbiter_ForeignTokenTriggersExactlyOneKill(t *testing.T) {
	pairs := []struct{ local, announced string }{
		{"a", "b"},
		{"b", "a"},
		{"t1", "t2"},
		{"", "x"},
	}
	for _, pair := range pairs {
		t.Run(fmt.Sprintf("%s_vs_%s", pair.local, pair.announced), func(t *testing.T) {
			m := activeManager(pair.local)
			kill := &fakeTerminator{}
			arbiter := NewArbiter(m, kill)

			arbiter.OnAnnouncement(context.Background(), domain.Announcement{Token: pair.announced})
			assert.Equal(t, 1, kill.count())
		})
	}
}

func TestArbiter_OwnEchoTriggersNothing(t *testing.T) {
	m := activeManager("t1")
	kill := &fakeTerminator{}
	arbiter := NewArbiter(m, kill)

	arbiter.OnAnnouncement(context.Background(), domain.Announcement{Token: "t1"})
	assert.Zero(t, kill.count())
}

func TestArbiter_NoLocalSessionIgnoresAnnouncements(t *testing.T) {
	m := NewManager()
	kill := &fakeTerminator{}
	arbiter := NewArbiter(m, kill)

	arbiter.OnAnnouncement(context.Background(), domain.Announcement{Token: "whatever"})
	assert.Zero(t, kill.count())
}

func TestArbiter_TerminalAuthEventsBypassComparison(t *testing.T) {
	for _, ev := range []domain.AuthEvent{
		domain.AuthEventSignedOut,
		domain.AuthEventTokenRefreshRevoked,
		domain.AuthEventUserDeleted,
	} {
		t.Run(string(ev), func(t *testing.T) {
			m := activeManager("t1")
			kill := &fakeTerminator{}
			arbiter := NewArbiter(m, kill)

			arbiter.OnAuthEvent(context.Background(), ev)
			assert.Equal(t, 1, kill.count())
		})
	}
}

func TestArbiter_NonTerminalAuthEventsAreIgnored(t *testing.T) {
	for _, ev := range []domain.AuthEvent{domain.AuthEventSignedIn, domain.AuthEventTokenRefreshed} {
		m := activeManager("t1")
		kill := &fakeTerminator{}
		arbiter := NewArbiter(m, kill)

		arbiter.OnAuthEvent(context.Background(), ev)
		assert.Zero(t, kill.count(), "event %s", ev)
	}
}

func TestSuperseded(t *testing.T) {
	assert.True(t, Superseded("a", domain.Announcement{Token: "b"}))
	assert.False(t, Superseded("a", domain.Announcement{Token: "a"}))
}

// Scenario from the arbitration protocol: device A holds T1, device B logs in
// and announces T2. A must terminate; B ignoring its own echo must not.
func TestArbitration_LastWriterWins(t *testing.T) {
	deviceA := activeManager("T1")
	killA := &fakeTerminator{}
	arbiterA := NewArbiter(deviceA, killA)

	deviceB := activeManager("T2")
	killB := &fakeTerminator{}
	arbiterB := NewArbiter(deviceB, killB)

	// B announces T2 after subscribing; both devices receive it.
	announcement := domain.Announcement{Token: "T2"}
	arbiterA.OnAnnouncement(context.Background(), announcement)
	arbiterB.OnAnnouncement(context.Background(), announcement)

	assert.Equal(t, 1, killA.count(), "A held the stale token and must shut down")
	assert.Zero(t, killB.count(), "B sees its own echo and stays up")
}
