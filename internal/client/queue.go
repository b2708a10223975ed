package client

import (
	"sync"
	"time"

	wire "dolphdive/internal/websocket"
)

// OutboundQueue buffers socket payloads composed while the connection was
// down. Entries drain strictly in enqueue order the moment the session is
// authenticated again.
type OutboundQueue struct {
	mu     sync.Mutex
	events []*wire.Event
}

func NewOutboundQueue() *OutboundQueue {
	return &OutboundQueue{}
}

func (q *OutboundQueue) Enqueue(ev *wire.Event) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.events = append(q.events, ev)
}

func (q *OutboundQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.events)
}

// Drain sends each queued event in order with a fresh timestamp. It stops
// at the first send error, leaving the remainder queued for the next
// reconnect.
func (q *OutboundQueue) Drain(send func(*wire.Event) error) error {
	for {
		q.mu.Lock()
		if len(q.events) == 0 {
			q.mu.Unlock()
			return nil
		}
		ev := q.events[0]
		q.mu.Unlock()

		ev.Timestamp = time.Now()
		if err := send(ev); err != nil {
			return err
		}

		q.mu.Lock()
		q.events = q.events[1:]
		q.mu.Unlock()
	}
}
