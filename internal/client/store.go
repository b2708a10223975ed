package client

import (
	"sort"
	"sync"

	"dolphdive/internal/models"
)

type MessageState string

const (
	MessagePending MessageState = "pending"
	MessageSent    MessageState = "sent"
	MessageError   MessageState = "error"
)

// ClientMessage is a message as the session renders it: either a confirmed
// server record or an optimistic local entry awaiting its REST ack.
type ClientMessage struct {
	models.Message
	TempID string
	State  MessageState
}

// Store holds the local view of conversation messages. Merging is an
// idempotent set union keyed by server message id: a message observed over
// the socket and again via sync collapses to one entry.
type Store struct {
	mu      sync.Mutex
	byID    map[string]*ClientMessage
	pending map[string]*ClientMessage
}

func NewStore() *Store {
	return &Store{
		byID:    make(map[string]*ClientMessage),
		pending: make(map[string]*ClientMessage),
	}
}

// Merge folds server records into the store, returning how many were new.
func (s *Store) Merge(messages []models.Message) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	added := 0
	for _, m := range messages {
		id := m.ID.Hex()
		if _, ok := s.byID[id]; !ok {
			added++
		}
		s.byID[id] = &ClientMessage{Message: m, State: MessageSent}
	}
	return added
}

// AddPending records an optimistic local message under a temporary id.
func (s *Store) AddPending(tempID string, msg models.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending[tempID] = &ClientMessage{Message: msg, TempID: tempID, State: MessagePending}
}

// ConfirmPending swaps the optimistic entry for the persisted record.
// Matching is by temp id first; if the ack lost it, the newest pending
// entry with the same recipient and content is taken instead.
func (s *Store) ConfirmPending(tempID string, server models.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.pending[tempID]; ok {
		delete(s.pending, tempID)
	} else {
		for key, p := range s.pending {
			if p.RecipientID == server.RecipientID && p.Content == server.Content {
				delete(s.pending, key)
				break
			}
		}
	}
	s.byID[server.ID.Hex()] = &ClientMessage{Message: server, State: MessageSent}
}

// FailPending flags the optimistic entry so the UI can offer a retry.
func (s *Store) FailPending(tempID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.pending[tempID]; ok {
		p.State = MessageError
	}
}

// Messages returns confirmed and pending entries, newest first.
func (s *Store) Messages() []ClientMessage {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]ClientMessage, 0, len(s.byID)+len(s.pending))
	for _, m := range s.byID {
		out = append(out, *m)
	}
	for _, m := range s.pending {
		out = append(out, *m)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}

func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.byID) + len(s.pending)
}
