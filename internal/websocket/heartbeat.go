package websocket

import (
	"log/slog"
	"time"
)

// HeartbeatMonitor pings every registered connection on a fixed interval
// and reaps the ones that did not pong back within a full cycle. A
// connection must answer one ping before the next sweep or it is
// forcibly closed, freeing the registry slot. Separately, users with no
// inbound traffic for the inactivity threshold are downgraded to inactive;
// that is a display signal only and never terminates the socket.
type HeartbeatMonitor struct {
	registry            *Registry
	presence            *Presence
	interval            time.Duration
	inactivityThreshold time.Duration
	stop                chan struct{}
}

func NewHeartbeatMonitor(registry *Registry, presence *Presence, interval, inactivityThreshold time.Duration) *HeartbeatMonitor {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	if inactivityThreshold <= 0 {
		inactivityThreshold = 120 * time.Second
	}
	return &HeartbeatMonitor{
		registry:            registry,
		presence:            presence,
		interval:            interval,
		inactivityThreshold: inactivityThreshold,
		stop:                make(chan struct{}),
	}
}

func (h *HeartbeatMonitor) Run() {
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			h.sweep()
		case <-h.stop:
			slog.Info("Heartbeat monitor stopped")
			return
		}
	}
}

func (h *HeartbeatMonitor) Stop() {
	close(h.stop)
}

// sweep reaps connections that missed the previous cycle's ping, then
// probes the survivors.
func (h *HeartbeatMonitor) sweep() {
	for _, conn := range h.registry.Connections() {
		if !conn.IsAlive() {
			slog.Info("Terminating unresponsive connection", "connID", conn.ID(), "userID", conn.UserID())
			userID := conn.UserID()
			if conn.Authenticated() && h.registry.Unregister(userID, conn) {
				h.presence.MarkDisconnected(userID)
			}
			conn.Close()
			continue
		}

		conn.MarkPingSent()
		if err := conn.Ping(); err != nil {
			slog.Debug("Ping failed", "connID", conn.ID(), "error", err)
		}

		if conn.Authenticated() && time.Since(conn.LastActivity()) > h.inactivityThreshold {
			h.presence.MarkInactive(conn.UserID())
		}
	}
}
