package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"dolphdive/internal/database"
	"dolphdive/internal/models"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

var ErrMessageNotFound = errors.New("message not found")

type MessageRepository struct {
	coll *mongo.Collection
}

func NewMessageRepository(db *database.MongoDB) *MessageRepository {
	return &MessageRepository{coll: db.DB.Collection("messages")}
}

func (r *MessageRepository) Create(ctx context.Context, msg *models.Message) error {
	msg.CreatedAt = time.Now()
	res, err := r.coll.InsertOne(ctx, msg)
	if err != nil {
		return fmt.Errorf("failed to insert message: %w", err)
	}
	if oid, ok := res.InsertedID.(primitive.ObjectID); ok {
		msg.ID = oid
	}
	return nil
}

// FindConversationSince returns all messages between the two users newer
// than since, ascending by creation time. The comparison is strict so a
// repeated sync with the same timestamp returns the same set.
func (r *MessageRepository) FindConversationSince(ctx context.Context, userID, peerID uint, since *time.Time) ([]models.Message, error) {
	filter := bson.M{
		"$or": []bson.M{
			{"sender_id": userID, "recipient_id": peerID},
			{"sender_id": peerID, "recipient_id": userID},
		},
	}
	if since != nil {
		filter["created_at"] = bson.M{"$gt": *since}
	}

	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}})
	cur, err := r.coll.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to query conversation: %w", err)
	}
	defer cur.Close(ctx)

	var messages []models.Message
	if err := cur.All(ctx, &messages); err != nil {
		return nil, fmt.Errorf("failed to decode conversation: %w", err)
	}
	return messages, nil
}

// MarkDeliveredByRecipient flips delivered on the given messages where
// recipientID is the recipient and delivered is still false. Returns how
// many documents actually changed, which makes repeated calls free.
func (r *MessageRepository) MarkDeliveredByRecipient(ctx context.Context, ids []primitive.ObjectID, recipientID uint) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	now := time.Now()
	res, err := r.coll.UpdateMany(ctx,
		bson.M{"_id": bson.M{"$in": ids}, "recipient_id": recipientID, "delivered": false},
		bson.M{"$set": bson.M{"delivered": true, "delivered_at": now}},
	)
	if err != nil {
		return 0, fmt.Errorf("failed to mark messages delivered: %w", err)
	}
	return res.ModifiedCount, nil
}

// MarkDelivered flips a single message's delivered flag. Only the
// message's recipient may flip it. Idempotent: an already-delivered
// message is returned unchanged.
func (r *MessageRepository) MarkDelivered(ctx context.Context, messageID string, recipientID uint) (*models.Message, error) {
	oid, err := primitive.ObjectIDFromHex(messageID)
	if err != nil {
		return nil, fmt.Errorf("invalid message id %q: %w", messageID, err)
	}

	now := time.Now()
	_, err = r.coll.UpdateOne(ctx,
		bson.M{"_id": oid, "recipient_id": recipientID, "delivered": false},
		bson.M{"$set": bson.M{"delivered": true, "delivered_at": now}},
	)
	if err != nil {
		return nil, fmt.Errorf("failed to mark message delivered: %w", err)
	}

	msg, err := r.findByID(ctx, oid)
	if err != nil {
		return nil, err
	}
	if msg.RecipientID != recipientID {
		return nil, ErrMessageNotFound
	}
	return msg, nil
}

// MarkRead flips read/readAt for a message addressed to readerID.
func (r *MessageRepository) MarkRead(ctx context.Context, messageID string, readerID uint) (*models.Message, error) {
	oid, err := primitive.ObjectIDFromHex(messageID)
	if err != nil {
		return nil, fmt.Errorf("invalid message id %q: %w", messageID, err)
	}

	now := time.Now()
	_, err = r.coll.UpdateOne(ctx,
		bson.M{"_id": oid, "recipient_id": readerID, "read": false},
		bson.M{"$set": bson.M{"read": true, "read_at": now}},
	)
	if err != nil {
		return nil, fmt.Errorf("failed to mark message read: %w", err)
	}

	msg, err := r.findByID(ctx, oid)
	if err != nil {
		return nil, err
	}
	if msg.RecipientID != readerID {
		return nil, ErrMessageNotFound
	}
	return msg, nil
}

func (r *MessageRepository) IncrementDeliveryAttempts(ctx context.Context, messageID string) error {
	oid, err := primitive.ObjectIDFromHex(messageID)
	if err != nil {
		return fmt.Errorf("invalid message id %q: %w", messageID, err)
	}
	_, err = r.coll.UpdateOne(ctx, bson.M{"_id": oid}, bson.M{"$inc": bson.M{"delivery_attempts": 1}})
	if err != nil {
		return fmt.Errorf("failed to increment delivery attempts: %w", err)
	}
	return nil
}

// DeleteConversation removes every message between the two users and
// returns the deleted count.
func (r *MessageRepository) DeleteConversation(ctx context.Context, userID, peerID uint) (int64, error) {
	res, err := r.coll.DeleteMany(ctx, bson.M{
		"$or": []bson.M{
			{"sender_id": userID, "recipient_id": peerID},
			{"sender_id": peerID, "recipient_id": userID},
		},
	})
	if err != nil {
		return 0, fmt.Errorf("failed to delete conversation: %w", err)
	}
	return res.DeletedCount, nil
}

func (r *MessageRepository) findByID(ctx context.Context, oid primitive.ObjectID) (*models.Message, error) {
	var msg models.Message
	err := r.coll.FindOne(ctx, bson.M{"_id": oid}).Decode(&msg)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrMessageNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to fetch message: %w", err)
	}
	return &msg, nil
}
