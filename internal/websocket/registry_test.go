package websocket

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockConn records everything written to it. Shared by the tests in this
// package.
type mockConn struct {
	mu             sync.Mutex
	frames         [][]byte
	pings          int
	closed         bool
	writeErr         error
	writeDeadlines   []time.Time
	controlDeadlines []time.Time
}

func (m *mockConn) WriteMessage(messageType int, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.writeErr != nil {
		return m.writeErr
	}
	buf := make([]byte, len(data))
	copy(buf, data)
	m.frames = append(m.frames, buf)
	return nil
}

func (m *mockConn) SetWriteDeadline(t time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.writeDeadlines = append(m.writeDeadlines, t)
	return nil
}

func (m *mockConn) WriteControl(messageType int, data []byte, deadline time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.writeErr != nil {
		return m.writeErr
	}
	m.pings++
	m.controlDeadlines = append(m.controlDeadlines, deadline)
	return nil
}

func (m *mockConn) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

func (m *mockConn) setWriteErr(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.writeErr = err
}

func (m *mockConn) isClosed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

func (m *mockConn) pingCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pings
}

// events decodes every written frame.
func (m *mockConn) events(t *testing.T) []Event {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]Event, 0, len(m.frames))
	for _, frame := range m.frames {
		var ev Event
		require.NoError(t, json.Unmarshal(frame, &ev))
		out = append(out, ev)
	}
	return out
}

// eventsOfType filters the written frames by event type.
func (m *mockConn) eventsOfType(t *testing.T, typ EventType) []Event {
	t.Helper()
	var out []Event
	for _, ev := range m.events(t) {
		if ev.Type == typ {
			out = append(out, ev)
		}
	}
	return out
}

func TestRegistryRegisterAndGet(t *testing.T) {
	registry := NewRegistry()
	conn := NewConnection(&mockConn{}, "10.0.0.1:1234")

	assert.Nil(t, registry.Register(1, conn))
	assert.Same(t, conn, registry.Get(1))
	assert.Nil(t, registry.Get(2))
	assert.Equal(t, 1, registry.Size())
}

func TestRegistryRegisterEvictsPrevious(t *testing.T) {
	registry := NewRegistry()
	first := NewConnection(&mockConn{}, "10.0.0.1:1234")
	second := NewConnection(&mockConn{}, "10.0.0.1:5678")

	require.Nil(t, registry.Register(1, first))
	evicted := registry.Register(1, second)

	assert.Same(t, first, evicted)
	assert.Same(t, second, registry.Get(1))
	assert.Equal(t, 1, registry.Size())
}

func TestRegistryUnregisterOnlyMatchingConnection(t *testing.T) {
	registry := NewRegistry()
	stale := NewConnection(&mockConn{}, "10.0.0.1:1234")
	current := NewConnection(&mockConn{}, "10.0.0.1:5678")

	registry.Register(1, stale)
	registry.Register(1, current)

	// The stale connection's deferred close must not remove the newer one.
	assert.False(t, registry.Unregister(1, stale))
	assert.Same(t, current, registry.Get(1))

	assert.True(t, registry.Unregister(1, current))
	assert.Nil(t, registry.Get(1))
	assert.Equal(t, 0, registry.Size())
}

func TestRegistryConnectionsSnapshot(t *testing.T) {
	registry := NewRegistry()
	registry.Register(1, NewConnection(&mockConn{}, "a"))
	registry.Register(2, NewConnection(&mockConn{}, "b"))

	conns := registry.Connections()
	assert.Len(t, conns, 2)

	// Mutating the registry must not affect the snapshot.
	registry.Unregister(1, registry.Get(1))
	assert.Len(t, conns, 2)
	assert.Equal(t, 1, registry.Size())
}
