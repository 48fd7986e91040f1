package chat

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

var ErrSessionClosed = errors.New("chat: session closed")

// Backend is the slice of the store a session needs. Handlers use *Store
// directly; tests substitute a fake.
type Backend interface {
	Messages(ctx context.Context, conversationID string) ([]Message, error)
	InsertMessage(ctx context.Context, conversationID, senderID, body string) (Message, error)
}

// Session owns one open conversation view: the local message list with
// optimistic entries, reconciled against the realtime stream. A send's
// success response and the matching stream event can arrive in either
// order; both paths go through the same position-preserving transitions,
// so processing them twice or out of order leaves one visible entry.
type Session struct {
	conversationID string
	userID         string
	backend        Backend

	mu          sync.Mutex
	messages    []Message
	closed      bool
	unsubscribe func()
}

func NewSession(conversationID, userID string, backend Backend) *Session {
	return &Session{
		conversationID: conversationID,
		userID:         userID,
		backend:        backend,
	}
}

// OnClose registers the realtime unsubscribe hook run when the view is
// torn down.
func (s *Session) OnClose(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.unsubscribe = fn
}

// Load replaces the local list with the persisted history. Safe to call
// again after a stream reset.
func (s *Session) Load(ctx context.Context) error {
	msgs, err := s.backend.Messages(ctx, s.conversationID)
	if err != nil {
		return fmt.Errorf("load messages: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSessionClosed
	}
	s.messages = msgs
	return nil
}

// Send appends an optimistic entry immediately, then persists the message.
// On success the entry is swapped for the persisted record in place; on
// failure it is removed and the error returned so the caller can restore
// the composer text and retry.
func (s *Session) Send(ctx context.Context, body string) (Message, error) {
	temp := Message{
		ID:             uuid.NewString(),
		ConversationID: s.conversationID,
		SenderID:       s.userID,
		Body:           body,
		CreatedAt:      time.Now().UTC(),
		Optimistic:     true,
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return Message{}, ErrSessionClosed
	}
	s.messages = append(s.messages, temp)
	s.mu.Unlock()

	persisted, err := s.backend.InsertMessage(ctx, s.conversationID, s.userID, body)

	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		s.messages = rollback(s.messages, temp.ID)
		return Message{}, fmt.Errorf("send message: %w", err)
	}
	if s.closed {
		// View torn down mid-send; the message is persisted, just don't
		// touch the dead list.
		return persisted, nil
	}
	s.messages = confirm(s.messages, temp.ID, persisted)
	return persisted, nil
}

// ApplyRemote feeds one stream-delivered message through the reconciliation
// match. Events for other conversations and duplicates are dropped.
func (s *Session) ApplyRemote(msg Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || msg.ConversationID != s.conversationID {
		return
	}
	s.messages = reconcile(s.messages, msg)
}

// Messages returns a snapshot of the current list.
func (s *Session) Messages() []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Message, len(s.messages))
	copy(out, s.messages)
	return out
}

// Close tears the view down and unsubscribes from the stream. Further
// sends fail and further stream events are ignored.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	unsub := s.unsubscribe
	s.mu.Unlock()
	if unsub != nil {
		unsub()
	}
}
