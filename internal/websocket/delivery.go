package websocket

import (
	"sync"
	"time"
)

type DeliveryStatus string

const (
	DeliveryPending   DeliveryStatus = "pending"
	DeliverySent      DeliveryStatus = "sent"
	DeliveryDelivered DeliveryStatus = "delivered"
	DeliveryFailed    DeliveryStatus = "failed"
)

// DeliveryRecord is the transient bookkeeping of one push attempt. It is
// not persisted: a restart loses in-flight records, and the durable truth
// stays on the message's delivered/read fields.
type DeliveryRecord struct {
	MessageID   string
	RecipientID uint
	Status      DeliveryStatus
	Attempts    int
	Reason      string
	UpdatedAt   time.Time
}

// DeliveryTracker records per-message delivery state keyed by message id.
type DeliveryTracker struct {
	mu      sync.Mutex
	records map[string]*DeliveryRecord
}

func NewDeliveryTracker() *DeliveryTracker {
	return &DeliveryTracker{
		records: make(map[string]*DeliveryRecord),
	}
}

// Track upserts the record for messageID and bumps the attempt count when
// the transition represents a new push attempt (sent/pending/failed).
func (t *DeliveryTracker) Track(messageID string, recipientID uint, status DeliveryStatus, reason string) *DeliveryRecord {
	t.mu.Lock()
	defer t.mu.Unlock()

	rec, ok := t.records[messageID]
	if !ok {
		rec = &DeliveryRecord{MessageID: messageID, RecipientID: recipientID}
		t.records[messageID] = rec
	}
	rec.RecipientID = recipientID
	rec.Status = status
	rec.Reason = reason
	rec.UpdatedAt = time.Now()
	if status == DeliverySent || status == DeliveryPending || status == DeliveryFailed {
		rec.Attempts++
	}
	return rec
}

// MarkDelivered flips the record on acknowledgement. Returns false when no
// record exists (e.g. ack after a restart).
func (t *DeliveryTracker) MarkDelivered(messageID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	rec, ok := t.records[messageID]
	if !ok {
		return false
	}
	rec.Status = DeliveryDelivered
	rec.Reason = ""
	rec.UpdatedAt = time.Now()
	return true
}

func (t *DeliveryTracker) Get(messageID string) (DeliveryRecord, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	rec, ok := t.records[messageID]
	if !ok {
		return DeliveryRecord{}, false
	}
	return *rec, true
}

func (t *DeliveryTracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.records)
}
