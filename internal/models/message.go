package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Message is the persisted direct message. It is immutable once written
// except for the delivered/read status transitions: DeliveredAt is set iff
// Delivered is true and ReadAt iff Read is true.
type Message struct {
	ID               primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	SenderID         uint               `bson:"sender_id" json:"senderId"`
	RecipientID      uint               `bson:"recipient_id" json:"recipientId"`
	Content          string             `bson:"content" json:"content"`
	ImageURL         *string            `bson:"image_url,omitempty" json:"imageUrl,omitempty"`
	Delivered        bool               `bson:"delivered" json:"delivered"`
	DeliveredAt      *time.Time         `bson:"delivered_at,omitempty" json:"deliveredAt,omitempty"`
	Read             bool               `bson:"read" json:"read"`
	ReadAt           *time.Time         `bson:"read_at,omitempty" json:"readAt,omitempty"`
	DeliveryAttempts int                `bson:"delivery_attempts" json:"deliveryAttempts"`
	CreatedAt        time.Time          `bson:"created_at" json:"createdAt"`
}

type SendMessageRequest struct {
	RecipientID uint    `json:"recipientId" binding:"required"`
	Content     string  `json:"content" binding:"required"`
	ImageURL    *string `json:"imageUrl,omitempty"`
	TempID      string  `json:"tempId,omitempty"`
}

// SendMessageResponse echoes the persisted record plus whether the realtime
// push reached the recipient. The HTTP status reflects persistence only;
// Delivered is informational.
type SendMessageResponse struct {
	Message   Message `json:"message"`
	Delivered bool    `json:"delivered"`
	TempID    string  `json:"tempId,omitempty"`
}

// SyncResponse is the catch-up payload: every message in the conversation
// newer than the requested timestamp, a fresh cursor, and how many of the
// returned messages were flipped to delivered by this call.
type SyncResponse struct {
	Messages       []Message `json:"messages"`
	SyncTimestamp  time.Time `json:"syncTimestamp"`
	NewlyDelivered int       `json:"newlyDelivered"`
}
