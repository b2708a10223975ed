package client

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"dolphdive/internal/models"
	wire "dolphdive/internal/websocket"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// State is the session's connection state. Connecting can fail back to
// Disconnected (another reconnect gets scheduled) and Authenticated drops
// back to Disconnected on close or error. Failed is reached after the
// attempt ceiling and only Retry() leaves it.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateOpen
	StateAuthenticated
	StateFailed
)

var ErrSessionClosed = errors.New("session closed")

// Timer and Scheduler abstract time.AfterFunc so reconnect and sync timing
// are unit-testable without real timers.
type Timer interface {
	Stop() bool
}

type Scheduler interface {
	AfterFunc(d time.Duration, f func()) Timer
}

type realScheduler struct{}

func (realScheduler) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// socketConn is the slice of *websocket.Conn the session uses.
type socketConn interface {
	WriteJSON(v interface{}) error
	ReadMessage() (int, []byte, error)
	Close() error
}

type Config struct {
	// URL is the websocket endpoint including the token query parameter.
	URL    string
	UserID uint

	// SyncInterval is the reconciliation poll period while a conversation
	// is selected. Defaults to 10s.
	SyncInterval time.Duration

	// ConnectTimeout bounds the dial; a socket that is not open within it
	// counts as a failed attempt. Defaults to 10s.
	ConnectTimeout time.Duration

	// OnEvent, if set, observes every inbound event after the session's
	// own bookkeeping.
	OnEvent func(*wire.Event)

	// OnStateChange, if set, observes state transitions.
	OnStateChange func(State)
}

// Session owns one reconnecting WebSocket connection plus the local
// message state. Messages composed while disconnected queue up and drain
// on re-authentication; a periodic REST sync reconciles whatever the
// socket path missed, independent of socket health.
type Session struct {
	cfg    Config
	sched  Scheduler
	syncer Syncer
	dial   func() (socketConn, error)

	queue *OutboundQueue
	store *Store

	mu             sync.Mutex
	state          State
	attempts       int
	conn           socketConn
	reconnectTimer Timer
	syncTimer      Timer
	currentPeer    uint
	lastSync       *time.Time
	closed         bool
}

func NewSession(cfg Config, syncer Syncer) *Session {
	if cfg.SyncInterval <= 0 {
		cfg.SyncInterval = 10 * time.Second
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 10 * time.Second
	}

	s := &Session{
		cfg:    cfg,
		sched:  realScheduler{},
		syncer: syncer,
		queue:  NewOutboundQueue(),
		store:  NewStore(),
	}
	s.dial = func() (socketConn, error) {
		dialer := websocket.Dialer{HandshakeTimeout: cfg.ConnectTimeout}
		conn, _, err := dialer.Dial(cfg.URL, nil)
		if err != nil {
			return nil, err
		}
		return conn, nil
	}
	return s
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) Attempts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.attempts
}

func (s *Session) Store() *Store {
	return s.store
}

func (s *Session) Queue() *OutboundQueue {
	return s.queue
}

// Connect starts the session. Reconnects are automatic from here on.
func (s *Session) Connect() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrSessionClosed
	}
	s.setStateLocked(StateConnecting)
	s.mu.Unlock()

	go s.connect()
	return nil
}

// Retry re-arms the attempt counter after the session gave up.
func (s *Session) Retry() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrSessionClosed
	}
	s.attempts = 0
	s.setStateLocked(StateConnecting)
	s.mu.Unlock()

	go s.connect()
	return nil
}

func (s *Session) connect() {
	conn, err := s.dial()
	if err != nil {
		slog.Debug("Dial failed", "error", err)
		s.handleFailure()
		return
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		conn.Close()
		return
	}
	s.conn = conn
	s.setStateLocked(StateOpen)
	s.mu.Unlock()

	auth := &wire.Event{Type: wire.EventAuth, UserID: s.cfg.UserID, Timestamp: time.Now()}
	if err := conn.WriteJSON(auth); err != nil {
		slog.Debug("Auth write failed", "error", err)
		conn.Close()
		s.handleFailure()
		return
	}

	go s.readLoop(conn)
}

func (s *Session) readLoop(conn socketConn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			s.handleDisconnect(conn)
			return
		}

		var ev wire.Event
		if err := json.Unmarshal(data, &ev); err != nil {
			slog.Debug("Malformed server frame", "error", err)
			continue
		}

		s.handleEvent(conn, &ev)

		if s.cfg.OnEvent != nil {
			s.cfg.OnEvent(&ev)
		}
	}
}

func (s *Session) handleEvent(conn socketConn, ev *wire.Event) {
	switch ev.Type {
	case wire.EventAuthSuccess:
		s.onAuthenticated(conn)

	case wire.EventNewMessage:
		var msg models.Message
		if err := json.Unmarshal(ev.Message, &msg); err != nil {
			slog.Debug("Undecodable message payload", "error", err)
			return
		}
		s.store.Merge([]models.Message{msg})

		// Acknowledge receipt so the sender sees "delivered".
		ack := &wire.Event{
			Type:      wire.EventMessageReceived,
			MessageID: ev.MessageID,
			UserID:    s.cfg.UserID,
			Timestamp: time.Now(),
		}
		if err := conn.WriteJSON(ack); err != nil {
			slog.Debug("Ack write failed", "messageID", ev.MessageID, "error", err)
		}
	}
}

func (s *Session) onAuthenticated(conn socketConn) {
	s.mu.Lock()
	if s.closed || s.conn != conn {
		s.mu.Unlock()
		return
	}
	s.attempts = 0
	s.setStateLocked(StateAuthenticated)
	s.mu.Unlock()

	err := s.queue.Drain(func(ev *wire.Event) error {
		return conn.WriteJSON(ev)
	})
	if err != nil {
		slog.Debug("Queue drain interrupted", "error", err)
	}

	// Reconnection is a sync trigger: catch up on whatever the socket
	// missed while down.
	go s.syncNow()
}

// handleFailure records a failed connection attempt and schedules the next
// one, or gives up at the ceiling.
func (s *Session) handleFailure() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}
	s.conn = nil
	s.attempts++
	if s.attempts >= MaxReconnectAttempts {
		s.setStateLocked(StateFailed)
		return
	}
	s.setStateLocked(StateDisconnected)
	s.reconnectTimer = s.sched.AfterFunc(NextBackoff(s.attempts), func() {
		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			return
		}
		s.setStateLocked(StateConnecting)
		s.mu.Unlock()
		s.connect()
	})
}

func (s *Session) handleDisconnect(conn socketConn) {
	s.mu.Lock()
	if s.conn != conn {
		// A newer connection already took over.
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()

	conn.Close()
	s.handleFailure()
}

// Send transmits ev if the session is authenticated, otherwise queues it
// for the next drain.
func (s *Session) Send(ev *wire.Event) {
	s.mu.Lock()
	conn := s.conn
	authenticated := s.state == StateAuthenticated
	s.mu.Unlock()

	if !authenticated || conn == nil {
		s.queue.Enqueue(ev)
		return
	}
	if err := conn.WriteJSON(ev); err != nil {
		s.queue.Enqueue(ev)
	}
}

// SendTyping fires a perishable typing indicator; never queued.
func (s *Session) SendTyping(recipientID uint, isTyping bool) {
	s.mu.Lock()
	conn := s.conn
	authenticated := s.state == StateAuthenticated
	s.mu.Unlock()

	if !authenticated || conn == nil {
		return
	}
	ev := &wire.Event{
		Type:        wire.EventTyping,
		RecipientID: recipientID,
		IsTyping:    &isTyping,
		Timestamp:   time.Now(),
	}
	if err := conn.WriteJSON(ev); err != nil {
		slog.Debug("Typing write failed", "error", err)
	}
}

// SendChat renders the message optimistically under a temporary id, emits
// the socket event best-effort, and always issues the REST create. The
// REST ack swaps the optimistic entry for the server record; a REST
// failure flags it for a user-triggered retry.
func (s *Session) SendChat(ctx context.Context, recipientID uint, content string) (*models.SendMessageResponse, error) {
	tempID := uuid.New().String()
	s.store.AddPending(tempID, models.Message{
		SenderID:    s.cfg.UserID,
		RecipientID: recipientID,
		Content:     content,
		CreatedAt:   time.Now(),
	})

	s.Send(&wire.Event{
		Type:        wire.EventNewMessage,
		RecipientID: recipientID,
		Content:     content,
		TempID:      tempID,
		Timestamp:   time.Now(),
	})

	resp, err := s.syncer.SendMessage(ctx, &models.SendMessageRequest{
		RecipientID: recipientID,
		Content:     content,
		TempID:      tempID,
	})
	if err != nil {
		s.store.FailPending(tempID)
		return nil, err
	}

	s.store.ConfirmPending(tempID, resp.Message)
	return resp, nil
}

// SelectConversation switches the active peer, syncs immediately, and
// keeps the periodic reconciliation running for it.
func (s *Session) SelectConversation(peerID uint) {
	s.mu.Lock()
	s.currentPeer = peerID
	s.lastSync = nil
	if s.syncTimer != nil {
		s.syncTimer.Stop()
	}
	s.mu.Unlock()

	go s.syncNow()
	s.armSyncTimer()
}

func (s *Session) armSyncTimer() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}
	s.syncTimer = s.sched.AfterFunc(s.cfg.SyncInterval, func() {
		s.syncNow()
		s.armSyncTimer()
	})
}

// syncNow runs one reconciliation round against the REST endpoint. It is
// the correctness backstop and runs regardless of socket state.
func (s *Session) syncNow() {
	s.mu.Lock()
	peer := s.currentPeer
	last := s.lastSync
	s.mu.Unlock()

	if peer == 0 {
		return
	}

	// Request sync_request over the socket for presence bookkeeping.
	s.mu.Lock()
	conn := s.conn
	authenticated := s.state == StateAuthenticated
	s.mu.Unlock()
	if authenticated && conn != nil {
		ev := &wire.Event{Type: wire.EventSyncRequest, ConversationWith: peer, LastSyncTime: last, Timestamp: time.Now()}
		if err := conn.WriteJSON(ev); err != nil {
			slog.Debug("sync_request write failed", "error", err)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	resp, err := s.syncer.Sync(ctx, peer, last)
	if err != nil {
		slog.Debug("Sync failed", "peer", peer, "error", err)
		return
	}

	s.store.Merge(resp.Messages)

	s.mu.Lock()
	ts := resp.SyncTimestamp
	s.lastSync = &ts
	s.mu.Unlock()
}

// Close tears the session down and cancels all timers.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	if s.reconnectTimer != nil {
		s.reconnectTimer.Stop()
	}
	if s.syncTimer != nil {
		s.syncTimer.Stop()
	}
	if s.conn != nil {
		s.conn.Close()
		s.conn = nil
	}
	s.setStateLocked(StateDisconnected)
	return nil
}

// setStateLocked updates the state and fires the observer. Caller holds
// the lock.
func (s *Session) setStateLocked(st State) {
	if s.state == st {
		return
	}
	s.state = st
	if s.cfg.OnStateChange != nil {
		go s.cfg.OnStateChange(st)
	}
}
