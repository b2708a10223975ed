package websocket

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"dolphdive/internal/models"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	// Time allowed to read the next pong after a heartbeat ping. Covers two
	// 30s heartbeat cycles plus slack.
	pongWait = 90 * time.Second

	// Deadline for store updates triggered by socket events.
	storeTimeout = 5 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		origin := r.Header.Get("Origin")

		allowedOrigins := []string{
			"http://localhost:3000",
			"https://localhost:3000",
			"http://127.0.0.1:3000",
			"https://dolphdive.app",
		}
		if customOrigins := os.Getenv("ALLOWED_ORIGINS"); customOrigins != "" {
			for _, customOrigin := range strings.Split(customOrigins, ",") {
				allowedOrigins = append(allowedOrigins, strings.TrimSpace(customOrigin))
			}
		}

		for _, allowedOrigin := range allowedOrigins {
			if origin == allowedOrigin {
				return true
			}
		}
		if origin != "" && (strings.Contains(origin, "localhost") || strings.Contains(origin, "127.0.0.1")) {
			return true
		}
		return false
	},
}

// MessageStore is the narrow slice of the persistence layer the dispatcher
// consumes: flipping the durable delivered flag when an acknowledgement
// arrives over the socket. The store enforces that only the message's
// recipient can flip it.
type MessageStore interface {
	MarkDelivered(ctx context.Context, messageID string, recipientID uint) (*models.Message, error)
}

type Options struct {
	// RetryDelay is the wait before the single re-push attempt after a
	// failed or impossible delivery. Defaults to 5s.
	RetryDelay time.Duration
}

// Dispatcher is the WebSocket server core: it accepts connections, walks
// them through the Connected -> Authenticated state machine, routes inbound
// events, and pushes outbound events to specific users. Failed pushes get
// exactly one delayed retry; after that, convergence is the sync endpoint's
// job.
type Dispatcher struct {
	registry   *Registry
	tracker    *DeliveryTracker
	presence   *Presence
	store      MessageStore
	retryDelay time.Duration

	mu          sync.Mutex
	retryTimers map[string]*time.Timer
	stopped     bool
}

func NewDispatcher(registry *Registry, tracker *DeliveryTracker, presence *Presence, store MessageStore, opts Options) *Dispatcher {
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = 5 * time.Second
	}
	return &Dispatcher{
		registry:    registry,
		tracker:     tracker,
		presence:    presence,
		store:       store,
		retryDelay:  opts.RetryDelay,
		retryTimers: make(map[string]*time.Timer),
	}
}

func (d *Dispatcher) Registry() *Registry {
	return d.registry
}

func (d *Dispatcher) Tracker() *DeliveryTracker {
	return d.tracker
}

// Serve upgrades the request and runs the read loop. tokenUserID is the
// user id the JWT middleware authenticated; the auth event must match it.
func (d *Dispatcher) Serve(w http.ResponseWriter, r *http.Request, tokenUserID uint) {
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("Failed to upgrade WebSocket connection", "userID", tokenUserID, "error", err)
		return
	}

	conn := NewConnection(ws, r.RemoteAddr)
	slog.Info("WebSocket connection established", "connID", conn.ID(), "remote", conn.RemoteAddr())

	go d.readLoop(ws, conn, tokenUserID)
}

func (d *Dispatcher) readLoop(ws *websocket.Conn, conn *Connection, tokenUserID uint) {
	defer d.disconnect(conn)

	ws.SetReadLimit(maxMessageSize)
	ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		conn.MarkAlive()
		conn.Touch()
		if conn.Authenticated() {
			d.presence.Touch(conn.UserID())
		}
		ws.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				slog.Error("WebSocket error", "connID", conn.ID(), "error", err)
			} else {
				slog.Debug("WebSocket connection closed", "connID", conn.ID(), "error", err)
			}
			return
		}

		conn.Touch()
		ws.SetReadDeadline(time.Now().Add(pongWait))

		var ev Event
		if err := json.Unmarshal(data, &ev); err != nil {
			slog.Debug("Malformed frame", "connID", conn.ID(), "error", err)
			d.sendError(conn, "invalid message format")
			continue
		}

		d.handleEvent(conn, &ev, tokenUserID)
	}
}

// handleEvent routes one inbound event. Protocol errors are answered with
// an error event on the offending connection and never tear it down.
func (d *Dispatcher) handleEvent(conn *Connection, ev *Event, tokenUserID uint) {
	if err := ev.Validate(); err != nil {
		d.sendError(conn, "unknown event type")
		return
	}

	if ev.Type == EventAuth {
		d.handleAuth(conn, ev, tokenUserID)
		return
	}

	if !conn.Authenticated() {
		d.sendError(conn, "not authenticated")
		return
	}
	d.presence.Touch(conn.UserID())

	switch ev.Type {
	case EventMessageReceived:
		d.handleAck(conn, ev)
	case EventTyping:
		d.handleTyping(conn, ev)
	case EventSyncRequest:
		// The data fetch happens over REST; the event only affects liveness
		// bookkeeping.
		d.presence.MarkSyncing(conn.UserID())
	case EventNewMessage:
		// Clients emit this alongside the REST create; the REST path is
		// authoritative, so the socket copy is accepted and dropped.
	default:
		d.sendError(conn, "unsupported event type: "+ev.Type.String())
	}
}

func (d *Dispatcher) handleAuth(conn *Connection, ev *Event, tokenUserID uint) {
	if ev.UserID == 0 {
		d.sendError(conn, "auth requires a user id")
		return
	}
	if tokenUserID != 0 && ev.UserID != tokenUserID {
		d.sendError(conn, "user id does not match token")
		return
	}

	if evicted := d.registry.Register(ev.UserID, conn); evicted != nil {
		slog.Info("Evicting superseded connection", "userID", ev.UserID, "connID", evicted.ID())
		evicted.Close()
	}
	conn.Authenticate(ev.UserID)
	d.presence.MarkOnline(ev.UserID)

	if err := conn.Send(NewAuthSuccessEvent("authenticated")); err != nil {
		slog.Debug("Failed to send auth_success", "userID", ev.UserID, "error", err)
	}
	slog.Info("Connection authenticated", "userID", ev.UserID, "connID", conn.ID())
}

// handleAck marks the persisted message and the delivery record delivered,
// then notifies the original sender if they are still connected. The ack
// only counts when it comes from the message's recipient; the store
// rejects anyone else.
func (d *Dispatcher) handleAck(conn *Connection, ev *Event) {
	if ev.MessageID == "" {
		d.sendError(conn, "message_received requires a message id")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()
	msg, err := d.store.MarkDelivered(ctx, ev.MessageID, conn.UserID())
	if err != nil {
		slog.Error("Failed to persist delivered flag", "messageID", ev.MessageID, "userID", conn.UserID(), "error", err)
		return
	}

	d.tracker.MarkDelivered(ev.MessageID)

	if sender := d.registry.Get(msg.SenderID); sender != nil && sender.Authenticated() {
		if err := sender.Send(NewMessageDeliveredEvent(ev.MessageID)); err != nil {
			slog.Debug("Failed to notify sender of delivery", "senderID", msg.SenderID, "error", err)
		}
	}
}

// handleTyping forwards the indicator to the recipient if present and
// silently drops it otherwise. Typing is perishable; it is never queued.
func (d *Dispatcher) handleTyping(conn *Connection, ev *Event) {
	recipient := d.registry.Get(ev.RecipientID)
	if recipient == nil || !recipient.Authenticated() {
		return
	}
	forward := *ev
	forward.UserID = conn.UserID()
	forward.Timestamp = time.Now()
	if err := recipient.Send(&forward); err != nil {
		slog.Debug("Failed to forward typing event", "to", ev.RecipientID, "error", err)
	}
}

// SendToUser pushes ev to userID's connection. It stamps a server
// timestamp, assigns a message id if absent, and records the outcome. On a
// missing or failing connection it schedules exactly one retry after the
// configured delay and reports failure. Errors never propagate: a REST
// request that triggers a push succeeds or fails on persistence alone.
func (d *Dispatcher) SendToUser(userID uint, ev *Event) bool {
	ev.Timestamp = time.Now()
	if ev.MessageID == "" {
		ev.MessageID = uuid.New().String()
	}

	conn := d.registry.Get(userID)
	if conn == nil || !conn.Authenticated() {
		d.tracker.Track(ev.MessageID, userID, DeliveryPending, "recipient offline")
		d.scheduleRetry(userID, ev)
		return false
	}

	if err := conn.Send(ev); err != nil {
		d.tracker.Track(ev.MessageID, userID, DeliveryFailed, err.Error())
		d.scheduleRetry(userID, ev)
		return false
	}

	d.tracker.Track(ev.MessageID, userID, DeliverySent, "")
	return true
}

// SendIfConnected pushes ev to userID without delivery tracking or retry.
// Used for perishable notifications (read receipts, conversation
// deletions) that sync will not replay.
func (d *Dispatcher) SendIfConnected(userID uint, ev *Event) bool {
	conn := d.registry.Get(userID)
	if conn == nil || !conn.Authenticated() {
		return false
	}
	ev.Timestamp = time.Now()
	if err := conn.Send(ev); err != nil {
		slog.Debug("Best-effort push failed", "to", userID, "error", err)
		return false
	}
	return true
}

// scheduleRetry arms the one-shot retry for ev. A second failure for the
// same message id never re-arms; after the retry, the sync endpoint owns
// convergence.
func (d *Dispatcher) scheduleRetry(userID uint, ev *Event) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stopped {
		return
	}
	if _, exists := d.retryTimers[ev.MessageID]; exists {
		return
	}
	d.retryTimers[ev.MessageID] = time.AfterFunc(d.retryDelay, func() {
		d.retry(userID, ev)
	})
}

func (d *Dispatcher) retry(userID uint, ev *Event) {
	d.mu.Lock()
	delete(d.retryTimers, ev.MessageID)
	d.mu.Unlock()

	conn := d.registry.Get(userID)
	if conn == nil || !conn.Authenticated() {
		d.tracker.Track(ev.MessageID, userID, DeliveryFailed, "retry: recipient offline")
		return
	}

	ev.Timestamp = time.Now()
	if err := conn.Send(ev); err != nil {
		d.tracker.Track(ev.MessageID, userID, DeliveryFailed, "retry: "+err.Error())
		return
	}
	d.tracker.Track(ev.MessageID, userID, DeliverySent, "")
}

func (d *Dispatcher) disconnect(conn *Connection) {
	if conn.Authenticated() {
		userID := conn.UserID()
		if d.registry.Unregister(userID, conn) {
			d.presence.MarkDisconnected(userID)
		}
	}
	conn.Close()
}

func (d *Dispatcher) sendError(conn *Connection, text string) {
	if err := conn.Send(NewErrorEvent(text)); err != nil {
		slog.Debug("Failed to send error event", "connID", conn.ID(), "error", err)
	}
}

// Stop cancels pending retry timers and closes every registered
// connection.
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	d.stopped = true
	for id, timer := range d.retryTimers {
		timer.Stop()
		delete(d.retryTimers, id)
	}
	d.mu.Unlock()

	for _, conn := range d.registry.Connections() {
		d.registry.Unregister(conn.UserID(), conn)
		conn.Close()
	}
	slog.Info("WebSocket dispatcher stopped")
}
