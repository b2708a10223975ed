package client

import (
	"testing"
	"time"

	"dolphdive/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

func serverMessage(content string, createdAt time.Time) models.Message {
	return models.Message{
		ID:          primitive.NewObjectID(),
		SenderID:    1,
		RecipientID: 2,
		Content:     content,
		CreatedAt:   createdAt,
	}
}

func TestStoreMergeDeduplicatesByID(t *testing.T) {
	s := NewStore()
	msg := serverMessage("hello", time.Now())

	assert.Equal(t, 1, s.Merge([]models.Message{msg}))

	// The same message seen again, e.g. once over the socket and once via
	// sync, collapses to one entry.
	assert.Equal(t, 0, s.Merge([]models.Message{msg}))
	assert.Equal(t, 1, s.Len())
}

func TestStoreMessagesNewestFirst(t *testing.T) {
	s := NewStore()
	base := time.Now()
	s.Merge([]models.Message{
		serverMessage("oldest", base.Add(-2*time.Minute)),
		serverMessage("newest", base),
		serverMessage("middle", base.Add(-time.Minute)),
	})

	msgs := s.Messages()
	require.Len(t, msgs, 3)
	assert.Equal(t, "newest", msgs[0].Content)
	assert.Equal(t, "middle", msgs[1].Content)
	assert.Equal(t, "oldest", msgs[2].Content)
}

func TestStoreConfirmPendingSwapsInServerRecord(t *testing.T) {
	s := NewStore()
	s.AddPending("tmp-1", models.Message{SenderID: 2, RecipientID: 1, Content: "hi", CreatedAt: time.Now()})
	require.Equal(t, 1, s.Len())

	server := serverMessage("hi", time.Now())
	server.SenderID = 2
	server.RecipientID = 1
	s.ConfirmPending("tmp-1", server)

	msgs := s.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, MessageSent, msgs[0].State)
	assert.Equal(t, server.ID.Hex(), msgs[0].ID.Hex())
}

func TestStoreConfirmPendingFallsBackToContentMatch(t *testing.T) {
	s := NewStore()
	s.AddPending("tmp-1", models.Message{SenderID: 2, RecipientID: 1, Content: "hi", CreatedAt: time.Now()})

	server := serverMessage("hi", time.Now())
	server.SenderID = 2
	server.RecipientID = 1

	// The ack lost the temp id; matching falls back to recipient+content.
	s.ConfirmPending("unknown-temp", server)

	msgs := s.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, MessageSent, msgs[0].State)
}

func TestStoreFailPendingFlagsEntry(t *testing.T) {
	s := NewStore()
	s.AddPending("tmp-1", models.Message{SenderID: 2, RecipientID: 1, Content: "hi", CreatedAt: time.Now()})

	s.FailPending("tmp-1")

	msgs := s.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, MessageError, msgs[0].State)
	assert.Equal(t, "tmp-1", msgs[0].TempID)
}

func TestStoreMergeDoesNotTouchPending(t *testing.T) {
	s := NewStore()
	s.AddPending("tmp-1", models.Message{SenderID: 2, RecipientID: 1, Content: "mine", CreatedAt: time.Now()})

	s.Merge([]models.Message{serverMessage("theirs", time.Now())})

	assert.Equal(t, 2, s.Len())
}
