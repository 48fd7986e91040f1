package chat

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/sunomsi/backend/internal/storage"
)

type Message struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversation_id"`
	SenderID       string    `json:"sender_id"`
	Body           string    `json:"body"`
	CreatedAt      time.Time `json:"created_at"`
	// Set only on locally synthesized entries; never persisted.
	Optimistic bool `json:"is_optimistic,omitempty"`
}

type Conversation struct {
	ID            string         `json:"id"`
	Participants  [2]string      `json:"participant_ids"`
	LastMessage   string         `json:"last_message"`
	LastMessageAt time.Time      `json:"last_message_at"`
	Unread        map[string]int `json:"unread_count_per_user"`
}

// Summary is a conversation joined with the counterpart's profile,
// as rendered on the inbox screen.
type Summary struct {
	Conversation
	OtherUserID   string       `json:"other_user_id"`
	OtherUserName string       `json:"other_user_name"`
	OtherAvatar   string       `json:"other_avatar_url"`
	OtherLastSeen sql.NullTime `json:"-"`
}

type Store struct {
	DB *storage.DB
}

// pairKey canonicalizes an unordered participant pair. The UNIQUE index
// on conversations.pair_key is what makes ResolveConversation race-free.
func pairKey(a, b string) (string, string, string) {
	if b < a {
		a, b = b, a
	}
	return a, b, a + ":" + b
}

// ResolveConversation returns the id of the conversation between the two
// users, creating it if it does not exist. Insert-or-ignore followed by a
// select, so two near-simultaneous calls from both sides converge on one row.
func (s *Store) ResolveConversation(ctx context.Context, initiatorID, otherID string) (string, error) {
	ua, ub, key := pairKey(initiatorID, otherID)

	// The non-initiating party starts with one unread: the conversation
	// itself is the first thing they have not seen.
	unreadA, unreadB := 0, 0
	if ua == initiatorID {
		unreadB = 1
	} else {
		unreadA = 1
	}

	now := time.Now().UTC()
	_, err := s.DB.ExecContext(ctx, `
		INSERT INTO conversations (id, user_a, user_b, pair_key, last_message, last_message_at, unread_a, unread_b, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (pair_key) DO NOTHING`,
		uuid.NewString(), ua, ub, key, "Started a new conversation", now, unreadA, unreadB, now)
	if err != nil {
		return "", err
	}

	var id string
	if err := s.DB.QueryRowContext(ctx, `SELECT id FROM conversations WHERE pair_key=?`, key).Scan(&id); err != nil {
		return "", err
	}
	return id, nil
}

func (s *Store) Conversation(ctx context.Context, id string) (Conversation, error) {
	row := s.DB.QueryRowContext(ctx, `
		SELECT id, user_a, user_b, last_message, last_message_at, unread_a, unread_b
		FROM conversations WHERE id=?`, id)

	var c Conversation
	var ua, ub string
	var unreadA, unreadB int
	if err := row.Scan(&c.ID, &ua, &ub, &c.LastMessage, &c.LastMessageAt, &unreadA, &unreadB); err != nil {
		return Conversation{}, err
	}
	c.Participants = [2]string{ua, ub}
	c.Unread = map[string]int{ua: unreadA, ub: unreadB}
	return c, nil
}

// ConversationsFor lists the user's conversations, most recent first,
// joined with the other participant's profile.
func (s *Store) ConversationsFor(ctx context.Context, userID string) ([]Summary, error) {
	rows, err := s.DB.QueryContext(ctx, `
		SELECT c.id, c.user_a, c.user_b, c.last_message, c.last_message_at, c.unread_a, c.unread_b,
		       u.id, u.display_name, COALESCE(u.avatar_url, ''), u.last_seen
		FROM conversations c
		JOIN users u ON u.id = CASE WHEN c.user_a = ? THEN c.user_b ELSE c.user_a END
		WHERE c.user_a = ? OR c.user_b = ?
		ORDER BY c.last_message_at DESC`, userID, userID, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var list []Summary
	for rows.Next() {
		var sm Summary
		var ua, ub string
		var unreadA, unreadB int
		if err := rows.Scan(&sm.ID, &ua, &ub, &sm.LastMessage, &sm.LastMessageAt, &unreadA, &unreadB,
			&sm.OtherUserID, &sm.OtherUserName, &sm.OtherAvatar, &sm.OtherLastSeen); err != nil {
			return nil, err
		}
		sm.Participants = [2]string{ua, ub}
		sm.Unread = map[string]int{ua: unreadA, ub: unreadB}
		list = append(list, sm)
	}
	return list, rows.Err()
}

// Messages returns the conversation's messages, oldest first.
func (s *Store) Messages(ctx context.Context, conversationID string) ([]Message, error) {
	rows, err := s.DB.QueryContext(ctx, `
		SELECT id, conversation_id, sender_id, body, created_at
		FROM messages WHERE conversation_id=?
		ORDER BY created_at ASC`, conversationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var list []Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.SenderID, &m.Body, &m.CreatedAt); err != nil {
			return nil, err
		}
		list = append(list, m)
	}
	return list, rows.Err()
}

// InsertMessage persists a message and, in the same transaction, refreshes
// the conversation preview and bumps the other participant's unread counter.
func (s *Store) InsertMessage(ctx context.Context, conversationID, senderID, body string) (Message, error) {
	m := Message{
		ID:             uuid.NewString(),
		ConversationID: conversationID,
		SenderID:       senderID,
		Body:           body,
		CreatedAt:      time.Now().UTC(),
	}

	tx, err := s.DB.Begin()
	if err != nil {
		return Message{}, err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`INSERT INTO messages (id, conversation_id, sender_id, body, created_at) VALUES (?, ?, ?, ?, ?)`,
		m.ID, m.ConversationID, m.SenderID, m.Body, m.CreatedAt); err != nil {
		return Message{}, err
	}

	if _, err := tx.Exec(`
		UPDATE conversations SET
			last_message = ?,
			last_message_at = ?,
			unread_a = unread_a + CASE WHEN user_a <> ? THEN 1 ELSE 0 END,
			unread_b = unread_b + CASE WHEN user_b <> ? THEN 1 ELSE 0 END
		WHERE id = ?`,
		m.Body, m.CreatedAt, senderID, senderID, conversationID); err != nil {
		return Message{}, err
	}

	if err := tx.Commit(); err != nil {
		return Message{}, err
	}
	return m, nil
}

// MarkRead zeroes the caller's unread counter for the conversation.
func (s *Store) MarkRead(ctx context.Context, conversationID, userID string) error {
	_, err := s.DB.ExecContext(ctx, `
		UPDATE conversations SET
			unread_a = CASE WHEN user_a = ? THEN 0 ELSE unread_a END,
			unread_b = CASE WHEN user_b = ? THEN 0 ELSE unread_b END
		WHERE id = ?`, userID, userID, conversationID)
	return err
}

// IsParticipant reports whether the user belongs to the conversation.
func (s *Store) IsParticipant(ctx context.Context, conversationID, userID string) (bool, error) {
	var n int
	err := s.DB.QueryRowContext(ctx,
		`SELECT COUNT(1) FROM conversations WHERE id=? AND (user_a=? OR user_b=?)`,
		conversationID, userID, userID).Scan(&n)
	return n > 0, err
}
