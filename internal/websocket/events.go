package websocket

import (
	"encoding/json"
	"fmt"
	"time"
)

// EventType tags the JSON frames exchanged over the socket.
type EventType string

const (
	// client -> server
	EventAuth            EventType = "auth"
	EventMessageReceived EventType = "message_received"
	EventSyncRequest     EventType = "sync_request"

	// server -> client
	EventAuthSuccess         EventType = "auth_success"
	EventNewMessage          EventType = "new_message"
	EventMessageDelivered    EventType = "message_delivered"
	EventMessageRead         EventType = "message_read"
	EventUserStatus          EventType = "user_status"
	EventConversationDeleted EventType = "conversation_deleted"
	EventError               EventType = "error"

	// either direction
	EventTyping EventType = "typing"
)

func (t EventType) String() string {
	return string(t)
}

func (t EventType) IsValid() bool {
	switch t {
	case EventAuth, EventAuthSuccess, EventNewMessage, EventMessageReceived,
		EventMessageDelivered, EventMessageRead, EventTyping, EventSyncRequest,
		EventUserStatus, EventConversationDeleted, EventError:
		return true
	default:
		return false
	}
}

// Event is the tagged union on the wire. Fields not used by a given type
// are omitted. Message carries either a persisted message object
// (new_message) or a plain string (auth_success, error), hence RawMessage.
type Event struct {
	Type             EventType       `json:"type"`
	UserID           uint            `json:"userId,omitempty"`
	RecipientID      uint            `json:"recipientId,omitempty"`
	MessageID        string          `json:"messageId,omitempty"`
	Content          string          `json:"content,omitempty"`
	TempID           string          `json:"tempId,omitempty"`
	Message          json.RawMessage `json:"message,omitempty"`
	IsTyping         *bool           `json:"isTyping,omitempty"`
	Status           string          `json:"status,omitempty"`
	ConversationWith uint            `json:"conversationWith,omitempty"`
	LastSyncTime     *time.Time      `json:"lastSyncTime,omitempty"`
	Timestamp        time.Time       `json:"timestamp"`
}

func (e *Event) Validate() error {
	if !e.Type.IsValid() {
		return fmt.Errorf("invalid event type: %q", e.Type)
	}
	return nil
}

func newEvent(t EventType) *Event {
	return &Event{Type: t, Timestamp: time.Now()}
}

func NewAuthSuccessEvent(text string) *Event {
	ev := newEvent(EventAuthSuccess)
	ev.Message, _ = json.Marshal(text)
	return ev
}

func NewErrorEvent(text string) *Event {
	ev := newEvent(EventError)
	ev.Message, _ = json.Marshal(text)
	return ev
}

// NewPushEvent wraps a persisted message for the recipient's socket. The
// event id is derived from the stored message id so both delivery paths
// dedupe to the same entry on the client.
func NewPushEvent(messageID string, raw interface{}) (*Event, error) {
	data, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to encode message payload: %w", err)
	}
	ev := newEvent(EventNewMessage)
	ev.MessageID = messageID
	ev.Message = data
	return ev, nil
}

func NewMessageDeliveredEvent(messageID string) *Event {
	ev := newEvent(EventMessageDelivered)
	ev.MessageID = messageID
	return ev
}

func NewMessageReadEvent(messageID string) *Event {
	ev := newEvent(EventMessageRead)
	ev.MessageID = messageID
	return ev
}

func NewUserStatusEvent(userID uint, status string) *Event {
	ev := newEvent(EventUserStatus)
	ev.UserID = userID
	ev.Status = status
	return ev
}

func NewConversationDeletedEvent(userID uint) *Event {
	ev := newEvent(EventConversationDeleted)
	ev.UserID = userID
	return ev
}
