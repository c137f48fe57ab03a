package relay

import (
	"context"
	"encoding/json"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// MockPresence mocks the PresenceStore interface
type MockPresence struct {
	mock.Mock
}

func (m *MockPresence) Announce(ctx context.Context, role Role, info PresenceInfo) error {
	args := m.Called(ctx, role, info)
	return args.Error(0)
}

func (m *MockPresence) Withdraw(ctx context.Context, role Role) error {
	args := m.Called(ctx, role)
	return args.Error(0)
}

func TestConnection_MirrorsPresence(t *testing.T) {
	presence := new(MockPresence)
	presence.On("Announce", mock.Anything, Controller("c1"), mock.MatchedBy(func(info PresenceInfo) bool {
		return info.ConnID != "" && info.RemoteAddr == "pipe" && !info.ConnectedAt.IsZero()
	})).Return(nil).Once()
	presence.On("Withdraw", mock.Anything, Controller("c1")).Return(nil).Once()

	shared := &Shared{Registry: NewRegistry(), Pipe: NewPipe(), Presence: presence}
	serverSide, clientSide := net.Pipe()
	conn := NewConnection(serverSide, shared, DefaultOptions(), nil)

	done := make(chan struct{})
	go func() {
		conn.Serve(context.Background())
		close(done)
	}()

	_, err := clientSide.Write([]byte("controller:c1"))
	require.NoError(t, err)
	require.Eventually(t, func() bool { return conn.State() == StateActive }, time.Second, 5*time.Millisecond)
	clientSide.Close()
	<-done

	presence.AssertExpectations(t)
}

func TestConnection_DuplicateRoleNotMirrored(t *testing.T) {
	presence := new(MockPresence)
	shared := &Shared{Registry: NewRegistry(), Pipe: NewPipe(), Presence: presence}
	require.True(t, shared.Registry.Add(Controller("c1")))

	serverSide, clientSide := net.Pipe()
	conn := NewConnection(serverSide, shared, DefaultOptions(), nil)
	done := make(chan struct{})
	go func() {
		conn.Serve(context.Background())
		close(done)
	}()

	_, err := clientSide.Write([]byte("controller:c1"))
	require.NoError(t, err)
	require.Eventually(t, func() bool { return conn.State() == StateActive }, time.Second, 5*time.Millisecond)
	clientSide.Close()
	<-done

	assert.True(t, shared.Registry.Contains(Controller("c1")), "duplicate teardown must not remove the holder")
	presence.AssertNotCalled(t, "Announce", mock.Anything, mock.Anything, mock.Anything)
	presence.AssertNotCalled(t, "Withdraw", mock.Anything, mock.Anything)
}

func TestRedisPresence_NilSafe(t *testing.T) {
	var presence *RedisPresence
	ctx := context.Background()

	assert.NoError(t, presence.Announce(ctx, Controller("c1"), PresenceInfo{}))
	assert.NoError(t, presence.Withdraw(ctx, Controller("c1")))
	assert.NoError(t, presence.Reset(ctx))
	assert.NoError(t, presence.Close())

	snapshot, err := presence.Snapshot(ctx)
	require.NoError(t, err)
	assert.Empty(t, snapshot)
}

func TestNewRedisPresence_InvalidURL(t *testing.T) {
	_, err := NewRedisPresence("http://%zz", "")
	assert.Error(t, err)
}

// newTestRedis connects to a local Redis on database 1, skipping when none is running.
func newTestRedis(t *testing.T) *RedisPresence {
	t.Helper()
	presence, err := NewRedisPresence("localhost:6379/1", "")
	if err != nil {
		t.Skipf("redis not available: %v", err)
	}
	ctx := context.Background()
	require.NoError(t, presence.Reset(ctx))
	t.Cleanup(func() {
		presence.Reset(context.Background())
		presence.Close()
	})
	return presence
}

func TestRedisPresence_AnnounceAndWithdraw(t *testing.T) {
	presence := newTestRedis(t)
	ctx := context.Background()

	sub := presence.client.Subscribe(ctx, presenceChannel)
	defer sub.Close()
	_, err := sub.Receive(ctx) // subscription confirmation
	require.NoError(t, err)

	info := PresenceInfo{ConnID: "conn-1", RemoteAddr: "127.0.0.1:5000", ConnectedAt: time.Now().UTC().Truncate(time.Second)}
	require.NoError(t, presence.Announce(ctx, Receiver("r1"), info))

	snapshot, err := presence.Snapshot(ctx)
	require.NoError(t, err)
	require.Contains(t, snapshot, "receiver:r1")
	assert.Equal(t, "conn-1", snapshot["receiver:r1"].ConnID)
	assert.True(t, info.ConnectedAt.Equal(snapshot["receiver:r1"].ConnectedAt))

	var joined PresenceEvent
	select {
	case msg := <-sub.Channel():
		require.NoError(t, json.Unmarshal([]byte(msg.Payload), &joined))
	case <-time.After(2 * time.Second):
		t.Fatal("no join event published")
	}
	assert.Equal(t, PresenceEvent{Event: "join", Role: "receiver:r1"}, joined)

	require.NoError(t, presence.Withdraw(ctx, Receiver("r1")))
	snapshot, err = presence.Snapshot(ctx)
	require.NoError(t, err)
	assert.NotContains(t, snapshot, "receiver:r1")
}
