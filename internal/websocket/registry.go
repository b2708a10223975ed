package websocket

import "sync"

// Registry maps a user id to its single live connection. Registering a new
// connection for an already-registered user evicts the old handle
// (last-writer-wins); unregistering only removes the mapping when the
// stored connection is the one closing, so a stale close can never race
// out a newer registration.
type Registry struct {
	mu          sync.RWMutex
	connections map[uint]*Connection
}

func NewRegistry() *Registry {
	return &Registry{
		connections: make(map[uint]*Connection),
	}
}

// Register stores conn for userID and returns the evicted prior
// connection, if any. The caller is responsible for closing it.
func (r *Registry) Register(userID uint, conn *Connection) *Connection {
	r.mu.Lock()
	defer r.mu.Unlock()

	prev := r.connections[userID]
	r.connections[userID] = conn
	if prev == conn {
		return nil
	}
	return prev
}

// Get returns the live connection for userID, or nil.
func (r *Registry) Get(userID uint) *Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.connections[userID]
}

// Unregister removes the mapping only if conn is the stored handle.
// Returns whether a removal happened.
func (r *Registry) Unregister(userID uint, conn *Connection) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.connections[userID] != conn {
		return false
	}
	delete(r.connections, userID)
	return true
}

func (r *Registry) Size() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.connections)
}

// Connections returns a snapshot of the registered connections, safe to
// iterate while the registry keeps mutating.
func (r *Registry) Connections() []*Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()

	conns := make([]*Connection, 0, len(r.connections))
	for _, c := range r.connections {
		conns = append(conns, c)
	}
	return conns
}
