package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"dolphdive/internal/adapters/kafka"
	"dolphdive/internal/models"
	mongorepo "dolphdive/internal/repositories/mongo"
	"dolphdive/internal/websocket"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

var ErrMessageNotFound = errors.New("message not found")

// MessageStore is the persistence surface the service needs; satisfied by
// the mongo repository, faked in tests.
type MessageStore interface {
	Create(ctx context.Context, msg *models.Message) error
	FindConversationSince(ctx context.Context, userID, peerID uint, since *time.Time) ([]models.Message, error)
	MarkDeliveredByRecipient(ctx context.Context, ids []primitive.ObjectID, recipientID uint) (int64, error)
	MarkRead(ctx context.Context, messageID string, readerID uint) (*models.Message, error)
	IncrementDeliveryAttempts(ctx context.Context, messageID string) error
	DeleteConversation(ctx context.Context, userID, peerID uint) (int64, error)
}

// Pusher is the realtime delivery surface; satisfied by the dispatcher.
// SendToUser tracks the outcome and retries once; SendIfConnected is the
// fire-and-forget variant for perishable notifications.
type Pusher interface {
	SendToUser(userID uint, ev *websocket.Event) bool
	SendIfConnected(userID uint, ev *websocket.Event) bool
}

// MessageService owns the durable side of messaging: persisting sends,
// read receipts, conversation deletion, and the sync reconciliation that
// backstops whatever the socket layer misses.
type MessageService struct {
	store     MessageStore
	pusher    Pusher
	publisher *kafka.EventPublisher
}

func NewMessageService(store MessageStore, pusher Pusher, publisher *kafka.EventPublisher) *MessageService {
	return &MessageService{
		store:     store,
		pusher:    pusher,
		publisher: publisher,
	}
}

// Send persists the message, then attempts a realtime push to the
// recipient. The returned Delivered flag reflects the push outcome only;
// persistence errors are the sole failure mode of this call.
func (s *MessageService) Send(ctx context.Context, senderID uint, req *models.SendMessageRequest) (*models.SendMessageResponse, error) {
	msg := &models.Message{
		SenderID:    senderID,
		RecipientID: req.RecipientID,
		Content:     req.Content,
		ImageURL:    req.ImageURL,
	}
	if err := s.store.Create(ctx, msg); err != nil {
		return nil, fmt.Errorf("failed to persist message: %w", err)
	}

	delivered := s.push(ctx, msg)

	s.publisher.Publish("message.created", msg.ID.Hex(), msg)

	return &models.SendMessageResponse{
		Message:   *msg,
		Delivered: delivered,
		TempID:    req.TempID,
	}, nil
}

// push attempts the socket delivery and records the attempt on the
// persisted message. Push failures are recorded, never returned.
func (s *MessageService) push(ctx context.Context, msg *models.Message) bool {
	ev, err := websocket.NewPushEvent(msg.ID.Hex(), msg)
	if err != nil {
		slog.Error("Failed to build push event", "messageID", msg.ID.Hex(), "error", err)
		return false
	}

	if err := s.store.IncrementDeliveryAttempts(ctx, msg.ID.Hex()); err != nil {
		slog.Error("Failed to record delivery attempt", "messageID", msg.ID.Hex(), "error", err)
	}
	msg.DeliveryAttempts++

	return s.pusher.SendToUser(msg.RecipientID, ev)
}

// Sync is the authoritative catch-up: every message between the caller and
// the peer newer than lastSyncTime, ascending. Messages addressed to the
// caller that were still undelivered are flipped as a side effect, and the
// count of those flips is reported. Safe to call repeatedly with the same
// or an advancing timestamp.
func (s *MessageService) Sync(ctx context.Context, userID, conversationWith uint, lastSyncTime *time.Time) (*models.SyncResponse, error) {
	messages, err := s.store.FindConversationSince(ctx, userID, conversationWith, lastSyncTime)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch conversation: %w", err)
	}

	var undelivered []primitive.ObjectID
	for _, m := range messages {
		if m.RecipientID == userID && !m.Delivered {
			undelivered = append(undelivered, m.ID)
		}
	}

	var flipped int64
	if len(undelivered) > 0 {
		flipped, err = s.store.MarkDeliveredByRecipient(ctx, undelivered, userID)
		if err != nil {
			return nil, fmt.Errorf("failed to mark delivered during sync: %w", err)
		}
		now := time.Now()
		for i := range messages {
			if messages[i].RecipientID == userID && !messages[i].Delivered {
				messages[i].Delivered = true
				messages[i].DeliveredAt = &now
			}
		}
	}

	return &models.SyncResponse{
		Messages:       messages,
		SyncTimestamp:  time.Now(),
		NewlyDelivered: int(flipped),
	}, nil
}

// MarkRead flips the read flag and pushes a read receipt to the sender if
// connected.
func (s *MessageService) MarkRead(ctx context.Context, messageID string, readerID uint) (*models.Message, error) {
	msg, err := s.store.MarkRead(ctx, messageID, readerID)
	if err != nil {
		if errors.Is(err, mongorepo.ErrMessageNotFound) {
			return nil, ErrMessageNotFound
		}
		return nil, err
	}

	s.pusher.SendIfConnected(msg.SenderID, websocket.NewMessageReadEvent(messageID))
	s.publisher.Publish("message.read", messageID, msg)

	return msg, nil
}

// DeleteConversation bulk-deletes the conversation and notifies the peer
// best-effort.
func (s *MessageService) DeleteConversation(ctx context.Context, userID, peerID uint) (int64, error) {
	deleted, err := s.store.DeleteConversation(ctx, userID, peerID)
	if err != nil {
		return 0, err
	}

	s.pusher.SendIfConnected(peerID, websocket.NewConversationDeletedEvent(userID))
	s.publisher.Publish("conversation.deleted", fmt.Sprintf("%d:%d", userID, peerID), map[string]interface{}{
		"userId": userID,
		"peerId": peerID,
		"count":  deleted,
	})

	return deleted, nil
}
