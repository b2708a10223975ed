package websocket

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestHeartbeat(inactivity time.Duration) (*HeartbeatMonitor, *Registry, *Presence) {
	registry := NewRegistry()
	presence := NewPresence(registry, nil, 10*time.Millisecond)
	return NewHeartbeatMonitor(registry, presence, time.Hour, inactivity), registry, presence
}

func registerAlive(t *testing.T, registry *Registry, userID uint) (*Connection, *mockConn) {
	t.Helper()
	mock := &mockConn{}
	conn := NewConnection(mock, "test")
	conn.Authenticate(userID)
	require.Nil(t, registry.Register(userID, conn))
	return conn, mock
}

func TestHeartbeatPingsLiveConnections(t *testing.T) {
	monitor, registry, _ := newTestHeartbeat(time.Hour)
	conn, mock := registerAlive(t, registry, 1)

	monitor.sweep()

	assert.Equal(t, 1, mock.pingCount())
	assert.False(t, conn.IsAlive())
	assert.Equal(t, 1, registry.Size())
}

func TestHeartbeatPongSurvivesNextSweep(t *testing.T) {
	monitor, registry, _ := newTestHeartbeat(time.Hour)
	conn, mock := registerAlive(t, registry, 1)

	monitor.sweep()
	conn.MarkAlive() // pong arrived
	monitor.sweep()

	assert.Equal(t, 2, mock.pingCount())
	assert.Equal(t, 1, registry.Size())
	assert.False(t, mock.isClosed())
}

func TestHeartbeatReapsAfterMissedCycle(t *testing.T) {
	monitor, registry, presence := newTestHeartbeat(time.Hour)
	_, mock := registerAlive(t, registry, 1)

	monitor.sweep() // ping sent, no pong
	monitor.sweep() // still unanswered: terminated

	assert.True(t, mock.isClosed())
	assert.Equal(t, 0, registry.Size())
	assert.Nil(t, registry.Get(1))

	status, ok := presence.Status(1)
	require.True(t, ok)
	assert.False(t, status.Connected)
}

func TestHeartbeatReapOnlyAffectsUnresponsive(t *testing.T) {
	monitor, registry, _ := newTestHeartbeat(time.Hour)
	dead, deadMock := registerAlive(t, registry, 1)
	live, liveMock := registerAlive(t, registry, 2)

	monitor.sweep()
	live.MarkAlive()
	monitor.sweep()

	assert.True(t, deadMock.isClosed())
	assert.False(t, liveMock.isClosed())
	assert.Nil(t, registry.Get(dead.UserID()))
	assert.Same(t, live, registry.Get(2))
}

func TestHeartbeatInactivityDowngrade(t *testing.T) {
	monitor, registry, presence := newTestHeartbeat(50 * time.Millisecond)
	conn, _ := registerAlive(t, registry, 1)
	presence.MarkOnline(1)

	conn.mu.Lock()
	conn.lastActivity = time.Now().Add(-time.Minute)
	conn.mu.Unlock()

	monitor.sweep()

	status, ok := presence.Status(1)
	require.True(t, ok)
	assert.Equal(t, PresenceInactive, status.State)
	// Display-only: the socket stays registered.
	assert.Equal(t, 1, registry.Size())
	assert.False(t, conn.Closed())
}

func TestHeartbeatActivityRestoresActive(t *testing.T) {
	monitor, registry, presence := newTestHeartbeat(50 * time.Millisecond)
	conn, _ := registerAlive(t, registry, 1)
	presence.MarkOnline(1)

	conn.mu.Lock()
	conn.lastActivity = time.Now().Add(-time.Minute)
	conn.mu.Unlock()
	monitor.sweep()

	// Fresh inbound traffic flips the user back to active.
	conn.Touch()
	presence.Touch(1)
	conn.MarkAlive()
	monitor.sweep()

	status, _ := presence.Status(1)
	assert.Equal(t, PresenceActive, status.State)
}

func TestHeartbeatRunStops(t *testing.T) {
	monitor, _, _ := newTestHeartbeat(time.Hour)

	done := make(chan struct{})
	go func() {
		monitor.Run()
		close(done)
	}()
	monitor.Stop()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("monitor did not stop")
	}
}
