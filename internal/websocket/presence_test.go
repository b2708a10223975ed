package websocket

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingMirror struct {
	mu      sync.Mutex
	online  []uint
	offline []uint
	status  map[uint]string
}

func newRecordingMirror() *recordingMirror {
	return &recordingMirror{status: make(map[uint]string)}
}

func (m *recordingMirror) SetUserOnline(ctx context.Context, userID uint) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.online = append(m.online, userID)
	return nil
}

func (m *recordingMirror) SetUserOffline(ctx context.Context, userID uint) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.offline = append(m.offline, userID)
	return nil
}

func (m *recordingMirror) SetUserStatus(ctx context.Context, userID uint, status string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.status[userID] = status
	return nil
}

func (m *recordingMirror) offlineCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.offline)
}

// observer registers an authenticated bystander connection that receives
// presence broadcasts.
func observer(t *testing.T, registry *Registry, userID uint) *mockConn {
	t.Helper()
	mock := &mockConn{}
	conn := NewConnection(mock, "observer")
	conn.Authenticate(userID)
	require.Nil(t, registry.Register(userID, conn))
	return mock
}

func statusEvents(t *testing.T, mock *mockConn, about uint) []Event {
	t.Helper()
	var out []Event
	for _, ev := range mock.eventsOfType(t, EventUserStatus) {
		if ev.UserID == about {
			out = append(out, ev)
		}
	}
	return out
}

func TestPresenceOnlineBroadcastsToPeers(t *testing.T) {
	registry := NewRegistry()
	presence := NewPresence(registry, nil, time.Hour)
	peer := observer(t, registry, 2)

	self := observer(t, registry, 1)
	presence.MarkOnline(1)

	events := statusEvents(t, peer, 1)
	require.Len(t, events, 1)
	assert.Equal(t, "online", events[0].Status)

	// The user never hears about their own transition.
	assert.Empty(t, statusEvents(t, self, 1))
}

func TestPresenceOfflineAfterGrace(t *testing.T) {
	registry := NewRegistry()
	mirror := newRecordingMirror()
	presence := NewPresence(registry, mirror, 20*time.Millisecond)
	peer := observer(t, registry, 2)

	conn := NewConnection(&mockConn{}, "test")
	conn.Authenticate(1)
	registry.Register(1, conn)
	presence.MarkOnline(1)

	registry.Unregister(1, conn)
	presence.MarkDisconnected(1)

	// Only the online broadcast so far; offline waits out the grace window.
	pre := statusEvents(t, peer, 1)
	require.Len(t, pre, 1)
	assert.Equal(t, "online", pre[0].Status)

	require.Eventually(t, func() bool {
		return len(statusEvents(t, peer, 1)) == 2
	}, time.Second, 5*time.Millisecond)

	events := statusEvents(t, peer, 1)
	assert.Equal(t, "online", events[0].Status)
	assert.Equal(t, "offline", events[1].Status)
	assert.Equal(t, 1, mirror.offlineCount())

	status, _ := presence.Status(1)
	assert.Equal(t, PresenceOffline, status.State)
}

func TestPresenceReconnectWithinGraceSuppressesOffline(t *testing.T) {
	registry := NewRegistry()
	mirror := newRecordingMirror()
	presence := NewPresence(registry, mirror, 30*time.Millisecond)
	peer := observer(t, registry, 2)

	old := NewConnection(&mockConn{}, "old")
	old.Authenticate(1)
	registry.Register(1, old)
	presence.MarkOnline(1)

	// Page refresh: the old socket drops, the new one registers before the
	// grace window elapses.
	registry.Unregister(1, old)
	presence.MarkDisconnected(1)

	replacement := NewConnection(&mockConn{}, "new")
	replacement.Authenticate(1)
	registry.Register(1, replacement)
	presence.MarkOnline(1)

	time.Sleep(80 * time.Millisecond)

	for _, ev := range statusEvents(t, peer, 1) {
		assert.NotEqual(t, "offline", ev.Status)
	}
	assert.Equal(t, 0, mirror.offlineCount())

	status, _ := presence.Status(1)
	assert.Equal(t, PresenceActive, status.State)
	assert.True(t, status.Connected)
}

func TestPresenceMarkInactiveOnlyDowngradesActive(t *testing.T) {
	registry := NewRegistry()
	presence := NewPresence(registry, nil, time.Hour)

	presence.MarkOnline(1)
	presence.MarkInactive(1)
	status, _ := presence.Status(1)
	assert.Equal(t, PresenceInactive, status.State)

	// A syncing user is not downgraded.
	presence.MarkSyncing(2)
	presence.MarkInactive(2)
	status, _ = presence.Status(2)
	assert.Equal(t, PresenceSyncing, status.State)
}

func TestPresenceTouchRestoresActive(t *testing.T) {
	registry := NewRegistry()
	presence := NewPresence(registry, nil, time.Hour)

	presence.MarkOnline(1)
	presence.MarkInactive(1)
	presence.Touch(1)

	status, _ := presence.Status(1)
	assert.Equal(t, PresenceActive, status.State)
}

func TestPresenceStatusUnknownUser(t *testing.T) {
	presence := NewPresence(NewRegistry(), nil, time.Hour)

	status, ok := presence.Status(404)
	assert.False(t, ok)
	assert.Equal(t, PresenceUnknown, status.State)
}

func TestPresenceStopCancelsPendingOffline(t *testing.T) {
	registry := NewRegistry()
	mirror := newRecordingMirror()
	presence := NewPresence(registry, mirror, 20*time.Millisecond)
	peer := observer(t, registry, 2)

	presence.MarkOnline(1)
	presence.MarkDisconnected(1)
	presence.Stop()

	time.Sleep(60 * time.Millisecond)
	events := statusEvents(t, peer, 1)
	require.Len(t, events, 1)
	assert.Equal(t, "online", events[0].Status)
	assert.Equal(t, 0, mirror.offlineCount())
}
