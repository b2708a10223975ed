package websocket

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

type PresenceState string

const (
	PresenceActive   PresenceState = "active"
	PresenceInactive PresenceState = "inactive"
	PresenceSyncing  PresenceState = "syncing"
	PresenceOffline  PresenceState = "offline"
	PresenceUnknown  PresenceState = "unknown"
)

// PresenceStatus is the derived, in-memory view of one user's liveness.
type PresenceStatus struct {
	State        PresenceState
	Connected    bool
	LastActivity time.Time
	LastError    string
}

// StatusMirror pushes online/offline transitions to an external store so
// sibling services can read presence without a socket. Implemented by the
// redis service; nil disables mirroring.
type StatusMirror interface {
	SetUserOnline(ctx context.Context, userID uint) error
	SetUserOffline(ctx context.Context, userID uint) error
	SetUserStatus(ctx context.Context, userID uint, status string) error
}

// Presence tracks per-user status and announces online/offline transitions
// to every other authenticated connection. Presence is platform-wide, not
// scoped to contacts. Offline is debounced: the broadcast fires only after
// the grace window passes without a new connection for that user, so a
// page-refresh reconnect never flickers.
type Presence struct {
	registry *Registry
	mirror   StatusMirror
	grace    time.Duration

	mu            sync.Mutex
	statuses      map[uint]*PresenceStatus
	offlineTimers map[uint]*time.Timer
	stopped       bool
}

func NewPresence(registry *Registry, mirror StatusMirror, grace time.Duration) *Presence {
	return &Presence{
		registry:      registry,
		mirror:        mirror,
		grace:         grace,
		statuses:      make(map[uint]*PresenceStatus),
		offlineTimers: make(map[uint]*time.Timer),
	}
}

// MarkOnline records a successful auth and broadcasts "online" to peers.
// Any pending offline broadcast for the user is cancelled.
func (p *Presence) MarkOnline(userID uint) {
	p.mu.Lock()
	if timer, ok := p.offlineTimers[userID]; ok {
		timer.Stop()
		delete(p.offlineTimers, userID)
	}
	st := p.status(userID)
	st.State = PresenceActive
	st.Connected = true
	st.LastActivity = time.Now()
	st.LastError = ""
	p.mu.Unlock()

	if p.mirror != nil {
		if err := p.mirror.SetUserOnline(context.Background(), userID); err != nil {
			slog.Error("Failed to mirror online status", "userID", userID, "error", err)
		}
	}

	p.broadcastStatus(userID, "online")
}

// MarkDisconnected notes the socket close and schedules the offline
// broadcast after the grace window. If the user re-registers before the
// timer fires, nothing is announced.
func (p *Presence) MarkDisconnected(userID uint) {
	p.mu.Lock()
	defer p.mu.Unlock()

	st := p.status(userID)
	st.Connected = false

	if p.stopped {
		return
	}
	if timer, ok := p.offlineTimers[userID]; ok {
		timer.Stop()
	}
	p.offlineTimers[userID] = time.AfterFunc(p.grace, func() {
		p.finishDisconnect(userID)
	})
}

func (p *Presence) finishDisconnect(userID uint) {
	p.mu.Lock()
	delete(p.offlineTimers, userID)
	if p.registry.Get(userID) != nil {
		// Reconnected within the grace window.
		p.mu.Unlock()
		return
	}
	st := p.status(userID)
	st.State = PresenceOffline
	st.Connected = false
	p.mu.Unlock()

	if p.mirror != nil {
		if err := p.mirror.SetUserOffline(context.Background(), userID); err != nil {
			slog.Error("Failed to mirror offline status", "userID", userID, "error", err)
		}
	}

	p.broadcastStatus(userID, "offline")
}

// MarkInactive is the soft downgrade for users with no inbound traffic for
// the inactivity threshold. Display-only; the socket stays up.
func (p *Presence) MarkInactive(userID uint) {
	p.mu.Lock()
	st := p.status(userID)
	if st.State == PresenceActive {
		st.State = PresenceInactive
	}
	p.mu.Unlock()

	if p.mirror != nil {
		if err := p.mirror.SetUserStatus(context.Background(), userID, string(PresenceInactive)); err != nil {
			slog.Error("Failed to mirror inactive status", "userID", userID, "error", err)
		}
	}
}

func (p *Presence) MarkSyncing(userID uint) {
	p.mu.Lock()
	st := p.status(userID)
	st.State = PresenceSyncing
	st.LastActivity = time.Now()
	p.mu.Unlock()
}

// Touch records inbound traffic and restores active state.
func (p *Presence) Touch(userID uint) {
	p.mu.Lock()
	st := p.status(userID)
	st.LastActivity = time.Now()
	if st.Connected {
		st.State = PresenceActive
	}
	p.mu.Unlock()
}

func (p *Presence) Status(userID uint) (PresenceStatus, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	st, ok := p.statuses[userID]
	if !ok {
		return PresenceStatus{State: PresenceUnknown}, false
	}
	return *st, true
}

// Stop cancels pending offline timers. Used on shutdown and in tests.
func (p *Presence) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.stopped = true
	for userID, timer := range p.offlineTimers {
		timer.Stop()
		delete(p.offlineTimers, userID)
	}
}

// status returns the entry for userID, creating it if needed. Caller holds
// the lock.
func (p *Presence) status(userID uint) *PresenceStatus {
	st, ok := p.statuses[userID]
	if !ok {
		st = &PresenceStatus{State: PresenceUnknown}
		p.statuses[userID] = st
	}
	return st
}

func (p *Presence) broadcastStatus(userID uint, status string) {
	ev := NewUserStatusEvent(userID, status)
	for _, conn := range p.registry.Connections() {
		if !conn.Authenticated() || conn.UserID() == userID {
			continue
		}
		if err := conn.Send(ev); err != nil {
			slog.Debug("Failed to broadcast user status", "to", conn.UserID(), "error", err)
		}
	}
}
