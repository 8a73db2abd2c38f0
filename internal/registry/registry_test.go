package registry

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	rediscontainer "github.com/testcontainers/testcontainers-go/modules/redis"

	"github.com/mklatt/sessiondeck/internal/domain"
	"github.com/mklatt/sessiondeck/internal/logging"
	"github.com/mklatt/sessiondeck/internal/redis"
)

var (
	testRedisURL string
	redContainer testcontainers.Container
)

func TestMain(m *testing.M) {
	flag.Parse()
	logging.InitLogger("error", "text")

	// Skip container setup if running in short mode
	if testing.Short() {
		os.Exit(m.Run())
	}

	ctx := context.Background()
	var err error
	redContainer, err = rediscontainer.Run(ctx, "redis:7-alpine")
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to start redis container: %v\n", err)
		os.Exit(1)
	}

	endpoint, err := redContainer.Endpoint(ctx, "")
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to get redis endpoint: %v\n", err)
		os.Exit(1)
	}
	testRedisURL = "redis://" + endpoint

	code := m.Run()

	if err := redContainer.Terminate(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "failed to terminate redis container: %v\n", err)
	}
	os.Exit(code)
}

func setupTestRedis(t *testing.T) *redis.Client {
	t.Helper()
	client, err := redis.NewClient(testRedisURL)
	require.NoError(t, err)
	require.NoError(t, client.Ping(context.Background()))
	t.Cleanup(func() { _ = client.Close() })
	return client
}

// collector records announcements delivered to a handler.
type collector struct {
	mu   sync.Mutex
	anns []domain.Announcement
}

func (c *collector) handler(ctx context.Context, ann domain.Announcement) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.anns = append(c.anns, ann)
}

func (c *collector) snapshot() []domain.Announcement {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]domain.Announcement(nil), c.anns...)
}

// waitFor polls until at least n announcements arrived or the timeout elapsed.
func (c *collector) waitFor(t *testing.T, n int, timeout time.Duration) []domain.Announcement {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if got := c.snapshot(); len(got) >= n {
			return got
		}
		time.Sleep(10 * time.Millisecond)
	}
	got := c.snapshot()
	require.GreaterOrEqual(t, len(got), n, "timed out waiting for %d announcements, got %v", n, got)
	return got
}

func TestChannelName(t *testing.T) {
	assert.Equal(t, "session_control:acc-42", ChannelName("acc-42"))
}

func TestMessageCodec(t *testing.T) {
	data, err := json.Marshal(message{
		Event:   eventNewDeviceLogin,
		Payload: domain.Announcement{Token: "T1"},
	})
	require.NoError(t, err)
	assert.JSONEq(t, `{"event":"new_device_login","payload":{"token":"T1"}}`, string(data))
}

func TestAttach_AnnouncesOwnToken(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test")
	}

	ctx := context.Background()
	client := setupTestRedis(t)

	c := &collector{}
	reg := New(client, c.handler)
	require.NoError(t, reg.Attach(ctx, "acc-echo", "T1"))
	defer reg.Detach()

	// The self-echo is the subscribe receipt.
	got := c.waitFor(t, 1, 2*time.Second)
	assert.Equal(t, "T1", got[0].Token)
}

func TestAttach_SecondDeviceSupersedesFirst(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test")
	}

	ctx := context.Background()
	client := setupTestRedis(t)

	deviceA := &collector{}
	regA := New(client, deviceA.handler)
	require.NoError(t, regA.Attach(ctx, "acc-race", "T1"))
	defer regA.Detach()
	deviceA.waitFor(t, 1, 2*time.Second) // own echo

	deviceB := &collector{}
	regB := New(setupTestRedis(t), deviceB.handler)
	require.NoError(t, regB.Attach(ctx, "acc-race", "T2"))
	defer regB.Detach()

	// A must observe B's foreign token; B only ever sees its own echo.
	gotA := deviceA.waitFor(t, 2, 2*time.Second)
	assert.Equal(t, "T2", gotA[1].Token)

	gotB := deviceB.waitFor(t, 1, 2*time.Second)
	for _, ann := range gotB {
		assert.Equal(t, "T2", ann.Token)
	}
}

func TestAttach_IsIdempotentForSameToken(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test")
	}

	ctx := context.Background()
	client := setupTestRedis(t)

	// A separate watcher counts broadcasts on the channel.
	watcher := &collector{}
	regWatch := New(setupTestRedis(t), watcher.handler)
	require.NoError(t, regWatch.Attach(ctx, "acc-idem", "watcher-token"))
	defer regWatch.Detach()
	watcher.waitFor(t, 1, 2*time.Second)

	c := &collector{}
	reg := New(client, c.handler)
	require.NoError(t, reg.Attach(ctx, "acc-idem", "T1"))
	defer reg.Detach()
	watcher.waitFor(t, 2, 2*time.Second)

	// Same account and token: no teardown, no re-announcement.
	require.NoError(t, reg.Attach(ctx, "acc-idem", "T1"))
	time.Sleep(200 * time.Millisecond)
	assert.Len(t, watcher.snapshot(), 2)
}

func TestAttach_ReannouncesOnTokenChange(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test")
	}

	ctx := context.Background()
	client := setupTestRedis(t)

	c := &collector{}
	reg := New(client, c.handler)
	require.NoError(t, reg.Attach(ctx, "acc-refresh", "T1"))
	defer reg.Detach()
	c.waitFor(t, 1, 2*time.Second)

	// Token refresh reattaches and broadcasts the new token.
	require.NoError(t, reg.Attach(ctx, "acc-refresh", "T2"))
	got := c.waitFor(t, 2, 2*time.Second)
	assert.Equal(t, "T2", got[len(got)-1].Token)
}

func TestDetach_StopsHandlerDelivery(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test")
	}

	ctx := context.Background()
	client := setupTestRedis(t)

	c := &collector{}
	reg := New(client, c.handler)
	require.NoError(t, reg.Attach(ctx, "acc-detach", "T1"))
	c.waitFor(t, 1, 2*time.Second)

	reg.Detach()
	assert.False(t, reg.Attached())

	// Publish directly after detach; nothing may reach the handler.
	payload, err := json.Marshal(message{Event: eventNewDeviceLogin, Payload: domain.Announcement{Token: "T2"}})
	require.NoError(t, err)
	require.NoError(t, client.Underlying().Publish(ctx, ChannelName("acc-detach"), payload).Err())

	time.Sleep(200 * time.Millisecond)
	assert.Len(t, c.snapshot(), 1)
}

func TestDetach_WithoutAttachIsNoop(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test")
	}

	reg := New(setupTestRedis(t), (&collector{}).handler)
	reg.Detach()
	assert.False(t, reg.Attached())
}

func TestConsume_DropsMalformedMessages(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test")
	}

	ctx := context.Background()
	client := setupTestRedis(t)

	c := &collector{}
	reg := New(client, c.handler)
	require.NoError(t, reg.Attach(ctx, "acc-garbage", "T1"))
	defer reg.Detach()
	c.waitFor(t, 1, 2*time.Second)

	rdb := client.Underlying()
	channel := ChannelName("acc-garbage")
	require.NoError(t, rdb.Publish(ctx, channel, "not json").Err())
	require.NoError(t, rdb.Publish(ctx, channel, `{"event":"something_else","payload":{"token":"X"}}`).Err())
	require.NoError(t, rdb.Publish(ctx, channel, `{"event":"new_device_login","payload":{"token":""}}`).Err())

	payload, err := json.Marshal(message{Event: eventNewDeviceLogin, Payload: domain.Announcement{Token: "T9"}})
	require.NoError(t, err)
	require.NoError(t, rdb.Publish(ctx, channel, payload).Err())

	got := c.waitFor(t, 2, 2*time.Second)
	require.Len(t, got, 2, "only the well-formed announcement is delivered")
	assert.Equal(t, "T9", got[1].Token)
}
