package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"dolphdive/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeMessageStore struct {
	mu        sync.Mutex
	messages  map[string]*models.Message
	delivered []string
	err       error
}

func newFakeMessageStore() *fakeMessageStore {
	return &fakeMessageStore{messages: make(map[string]*models.Message)}
}

func (f *fakeMessageStore) put(id string, msg *models.Message) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages[id] = msg
}

func (f *fakeMessageStore) MarkDelivered(ctx context.Context, messageID string, recipientID uint) (*models.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	msg, ok := f.messages[messageID]
	if !ok || msg.RecipientID != recipientID {
		return nil, errors.New("message not found")
	}
	msg.Delivered = true
	f.delivered = append(f.delivered, messageID)
	return msg, nil
}

func newTestDispatcher(retryDelay time.Duration, store MessageStore) *Dispatcher {
	if store == nil {
		store = newFakeMessageStore()
	}
	registry := NewRegistry()
	presence := NewPresence(registry, nil, 10*time.Millisecond)
	return NewDispatcher(registry, NewDeliveryTracker(), presence, store, Options{RetryDelay: retryDelay})
}

// authConn connects and authenticates a mock socket for userID.
func authConn(t *testing.T, d *Dispatcher, userID uint) (*Connection, *mockConn) {
	t.Helper()
	mock := &mockConn{}
	conn := NewConnection(mock, "test")
	d.handleEvent(conn, &Event{Type: EventAuth, UserID: userID}, userID)
	require.True(t, conn.Authenticated())
	return conn, mock
}

func TestDispatcherAuthSuccess(t *testing.T) {
	d := newTestDispatcher(time.Hour, nil)
	conn, mock := authConn(t, d, 1)

	assert.Same(t, conn, d.Registry().Get(1))
	assert.Len(t, mock.eventsOfType(t, EventAuthSuccess), 1)

	status, ok := d.presence.Status(1)
	require.True(t, ok)
	assert.Equal(t, PresenceActive, status.State)
	assert.True(t, status.Connected)
}

func TestDispatcherAuthRejectsTokenMismatch(t *testing.T) {
	d := newTestDispatcher(time.Hour, nil)
	mock := &mockConn{}
	conn := NewConnection(mock, "test")

	d.handleEvent(conn, &Event{Type: EventAuth, UserID: 2}, 1)

	assert.False(t, conn.Authenticated())
	assert.Nil(t, d.Registry().Get(2))
	assert.Len(t, mock.eventsOfType(t, EventError), 1)
}

func TestDispatcherRejectsUnauthenticatedEvents(t *testing.T) {
	d := newTestDispatcher(time.Hour, nil)
	mock := &mockConn{}
	conn := NewConnection(mock, "test")

	d.handleEvent(conn, &Event{Type: EventTyping, RecipientID: 2}, 1)

	errs := mock.eventsOfType(t, EventError)
	require.Len(t, errs, 1)

	var text string
	require.NoError(t, json.Unmarshal(errs[0].Message, &text))
	assert.Equal(t, "not authenticated", text)
}

func TestDispatcherRejectsUnknownEventType(t *testing.T) {
	d := newTestDispatcher(time.Hour, nil)
	conn, mock := authConn(t, d, 1)

	d.handleEvent(conn, &Event{Type: EventType("bogus")}, 1)

	assert.Len(t, mock.eventsOfType(t, EventError), 1)
	// The connection survives protocol errors.
	assert.False(t, mock.isClosed())
}

func TestDispatcherDuplicateConnectionEvicted(t *testing.T) {
	d := newTestDispatcher(time.Hour, nil)
	_, firstMock := authConn(t, d, 1)
	second, secondMock := authConn(t, d, 1)

	assert.True(t, firstMock.isClosed())
	assert.Same(t, second, d.Registry().Get(1))
	assert.Equal(t, 1, d.Registry().Size())

	ev := mustPushEvent(t, "m1", &models.Message{SenderID: 2, RecipientID: 1, Content: "hi"})
	assert.True(t, d.SendToUser(1, ev))
	assert.Empty(t, firstMock.eventsOfType(t, EventNewMessage))
	assert.Len(t, secondMock.eventsOfType(t, EventNewMessage), 1)
}

func TestSendToUserOfflineRecordsPendingThenFailed(t *testing.T) {
	d := newTestDispatcher(10*time.Millisecond, nil)

	ev := mustPushEvent(t, "m1", &models.Message{SenderID: 1, RecipientID: 5, Content: "hi"})
	assert.False(t, d.SendToUser(5, ev))

	rec, ok := d.Tracker().Get("m1")
	require.True(t, ok)
	assert.Equal(t, DeliveryPending, rec.Status)
	assert.Equal(t, 1, rec.Attempts)

	// After the single retry against a still-offline user the record lands
	// on failed and stays there.
	require.Eventually(t, func() bool {
		rec, _ := d.Tracker().Get("m1")
		return rec.Status == DeliveryFailed
	}, time.Second, 5*time.Millisecond)

	rec, _ = d.Tracker().Get("m1")
	assert.Equal(t, 2, rec.Attempts)

	time.Sleep(30 * time.Millisecond)
	rec, _ = d.Tracker().Get("m1")
	assert.Equal(t, DeliveryFailed, rec.Status)
	assert.Equal(t, 2, rec.Attempts)
}

func TestSendToUserRetryDeliversAfterReconnect(t *testing.T) {
	d := newTestDispatcher(50*time.Millisecond, nil)

	ev := mustPushEvent(t, "m1", &models.Message{SenderID: 1, RecipientID: 5, Content: "hi"})
	require.False(t, d.SendToUser(5, ev))

	// The recipient connects inside the retry window.
	_, mock := authConn(t, d, 5)

	require.Eventually(t, func() bool {
		rec, _ := d.Tracker().Get("m1")
		return rec.Status == DeliverySent
	}, time.Second, 5*time.Millisecond)
	assert.Len(t, mock.eventsOfType(t, EventNewMessage), 1)
}

func TestSendToUserWriteFailureRetries(t *testing.T) {
	d := newTestDispatcher(50*time.Millisecond, nil)
	_, mock := authConn(t, d, 5)
	mock.setWriteErr(errors.New("broken pipe"))

	ev := mustPushEvent(t, "m1", &models.Message{SenderID: 1, RecipientID: 5, Content: "hi"})
	assert.False(t, d.SendToUser(5, ev))

	rec, _ := d.Tracker().Get("m1")
	assert.Equal(t, DeliveryFailed, rec.Status)

	mock.setWriteErr(nil)
	require.Eventually(t, func() bool {
		rec, _ := d.Tracker().Get("m1")
		return rec.Status == DeliverySent
	}, time.Second, 5*time.Millisecond)
}

func TestScheduleRetryNeverRearms(t *testing.T) {
	d := newTestDispatcher(time.Hour, nil)
	defer d.Stop()

	ev := &Event{Type: EventNewMessage, MessageID: "m1"}
	d.scheduleRetry(5, ev)
	d.scheduleRetry(5, ev)

	d.mu.Lock()
	assert.Len(t, d.retryTimers, 1)
	d.mu.Unlock()
}

func TestHandleAckNotifiesSender(t *testing.T) {
	store := newFakeMessageStore()
	store.put("m1", &models.Message{SenderID: 1, RecipientID: 2, Content: "hi"})
	d := newTestDispatcher(time.Hour, store)

	_, senderMock := authConn(t, d, 1)
	recipient, _ := authConn(t, d, 2)

	d.Tracker().Track("m1", 2, DeliverySent, "")
	d.handleEvent(recipient, &Event{Type: EventMessageReceived, MessageID: "m1"}, 2)

	rec, ok := d.Tracker().Get("m1")
	require.True(t, ok)
	assert.Equal(t, DeliveryDelivered, rec.Status)
	assert.Equal(t, []string{"m1"}, store.delivered)

	receipts := senderMock.eventsOfType(t, EventMessageDelivered)
	require.Len(t, receipts, 1)
	assert.Equal(t, "m1", receipts[0].MessageID)
}

func TestHandleAckRejectsNonRecipient(t *testing.T) {
	store := newFakeMessageStore()
	store.put("m1", &models.Message{SenderID: 1, RecipientID: 2, Content: "hi"})
	d := newTestDispatcher(time.Hour, store)

	d.Tracker().Track("m1", 2, DeliverySent, "")

	// User 3 is authenticated but not the message's recipient; its ack
	// must not flip anything.
	intruder, _ := authConn(t, d, 3)
	d.handleEvent(intruder, &Event{Type: EventMessageReceived, MessageID: "m1"}, 3)

	assert.Empty(t, store.delivered)
	rec, ok := d.Tracker().Get("m1")
	require.True(t, ok)
	assert.Equal(t, DeliverySent, rec.Status)
}

func TestHandleAckWithOfflineSenderStillPersists(t *testing.T) {
	store := newFakeMessageStore()
	store.put("m1", &models.Message{SenderID: 1, RecipientID: 2, Content: "hi"})
	d := newTestDispatcher(time.Hour, store)

	recipient, mock := authConn(t, d, 2)
	d.handleEvent(recipient, &Event{Type: EventMessageReceived, MessageID: "m1"}, 2)

	assert.Equal(t, []string{"m1"}, store.delivered)
	assert.Empty(t, mock.eventsOfType(t, EventError))
}

func TestTypingForwardedToRecipient(t *testing.T) {
	d := newTestDispatcher(time.Hour, nil)
	sender, _ := authConn(t, d, 1)
	_, recipientMock := authConn(t, d, 2)

	typing := true
	d.handleEvent(sender, &Event{Type: EventTyping, RecipientID: 2, IsTyping: &typing}, 1)

	forwarded := recipientMock.eventsOfType(t, EventTyping)
	require.Len(t, forwarded, 1)
	assert.Equal(t, uint(1), forwarded[0].UserID)
	require.NotNil(t, forwarded[0].IsTyping)
	assert.True(t, *forwarded[0].IsTyping)
}

func TestTypingDroppedWhenRecipientOffline(t *testing.T) {
	d := newTestDispatcher(time.Hour, nil)
	sender, mock := authConn(t, d, 1)

	typing := true
	d.handleEvent(sender, &Event{Type: EventTyping, RecipientID: 99, IsTyping: &typing}, 1)

	// Dropped silently: no error, no retry, no tracking.
	assert.Empty(t, mock.eventsOfType(t, EventError))
	assert.Equal(t, 0, d.Tracker().Len())
}

func TestSyncRequestMarksSyncing(t *testing.T) {
	d := newTestDispatcher(time.Hour, nil)
	conn, _ := authConn(t, d, 1)

	d.handleEvent(conn, &Event{Type: EventSyncRequest, ConversationWith: 2}, 1)

	status, ok := d.presence.Status(1)
	require.True(t, ok)
	assert.Equal(t, PresenceSyncing, status.State)
}

func TestSendIfConnected(t *testing.T) {
	d := newTestDispatcher(time.Hour, nil)
	_, mock := authConn(t, d, 1)

	assert.True(t, d.SendIfConnected(1, NewMessageReadEvent("m1")))
	assert.Len(t, mock.eventsOfType(t, EventMessageRead), 1)

	// No tracking and no retry for the perishable path.
	assert.False(t, d.SendIfConnected(99, NewMessageReadEvent("m2")))
	assert.Equal(t, 0, d.Tracker().Len())
	d.mu.Lock()
	assert.Empty(t, d.retryTimers)
	d.mu.Unlock()
}

func TestDispatcherStopClosesConnections(t *testing.T) {
	d := newTestDispatcher(time.Hour, nil)
	_, first := authConn(t, d, 1)
	_, second := authConn(t, d, 2)

	d.Stop()

	assert.True(t, first.isClosed())
	assert.True(t, second.isClosed())
	assert.Equal(t, 0, d.Registry().Size())
}

// mustPushEvent builds a push event or fails the test.
func mustPushEvent(t *testing.T, messageID string, msg *models.Message) *Event {
	t.Helper()
	ev, err := NewPushEvent(messageID, msg)
	require.NoError(t, err)
	return ev
}
