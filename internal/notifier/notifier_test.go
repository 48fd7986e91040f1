package notifier

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"github.com/sunomsi/backend/internal/push"
	"github.com/sunomsi/backend/internal/storage"
)

func newTestDB(t *testing.T) *storage.DB {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	b, err := os.ReadFile(filepath.Join("..", "..", "sql", "schema.sql"))
	require.NoError(t, err)
	for _, stmt := range strings.Split(string(b), ";\n") {
		st := strings.TrimSpace(stmt)
		if st == "" {
			continue
		}
		_, err := db.Exec(st)
		require.NoError(t, err)
	}
	return storage.Wrap(db, "sqlite")
}

// fakeSender records deliveries and reports selected endpoints as gone.
type fakeSender struct {
	mu   sync.Mutex
	sent map[string][]byte
	gone map[string]bool
}

func newFakeSender() *fakeSender {
	return &fakeSender{sent: make(map[string][]byte), gone: make(map[string]bool)}
}

func (f *fakeSender) Send(ctx context.Context, sub push.Subscription, payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.gone[sub.Endpoint] {
		return push.ErrSubscriptionGone
	}
	f.sent[sub.Endpoint] = payload
	return nil
}

func (f *fakeSender) delivered(endpoint string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.sent[endpoint]
	return ok
}

func newTestNotifier(t *testing.T) (*Notifier, *storage.DB, *fakeSender) {
	db := newTestDB(t)
	sender := newFakeSender()
	return New(db, sender, nil), db, sender
}

func seedUser(t *testing.T, db *storage.DB, id, name string) {
	t.Helper()
	_, err := db.Exec(`INSERT INTO users (id, email, password_hash, display_name, created_at) VALUES (?, ?, ?, ?, ?)`,
		id, id+"@example.com", "x", name, time.Now().UTC())
	require.NoError(t, err)
}

func seedConversation(t *testing.T, db *storage.DB, id, a, b string) {
	t.Helper()
	_, err := db.Exec(`INSERT INTO conversations (id, user_a, user_b, pair_key) VALUES (?, ?, ?, ?)`,
		id, a, b, a+":"+b)
	require.NoError(t, err)
}

func seedSubscription(t *testing.T, db *storage.DB, id, userID, endpoint string) {
	t.Helper()
	_, err := db.Exec(`INSERT INTO push_subscriptions (id, user_id, endpoint, p256dh, auth) VALUES (?, ?, ?, 'k', 'a')`,
		id, userID, endpoint)
	require.NoError(t, err)
}

func notificationsFor(t *testing.T, db *storage.DB, userID string) []struct{ Title, Body, URL string } {
	t.Helper()
	rows, err := db.Query(`SELECT title, body, url FROM notifications WHERE user_id=?`, userID)
	require.NoError(t, err)
	defer rows.Close()

	var out []struct{ Title, Body, URL string }
	for rows.Next() {
		var n struct{ Title, Body, URL string }
		require.NoError(t, rows.Scan(&n.Title, &n.Body, &n.URL))
		out = append(out, n)
	}
	return out
}

func TestProcessMessageEvent(t *testing.T) {
	n, db, _ := newTestNotifier(t)
	seedUser(t, db, "u1", "Asha")
	seedUser(t, db, "u2", "Binod")
	seedConversation(t, db, "c1", "u1", "u2")

	ev := ChangeEvent{Type: "INSERT", Record: Record{ConversationID: "c1", SenderID: "u1", Body: "hi"}}
	require.NoError(t, n.Process(context.Background(), ev))

	got := notificationsFor(t, db, "u2")
	require.Len(t, got, 1)
	assert.Equal(t, "Asha", got[0].Title)
	assert.Equal(t, "hi", got[0].Body)
	assert.Equal(t, "/messages/c1", got[0].URL)

	assert.Empty(t, notificationsFor(t, db, "u1"), "sender is never the target")
}

func TestProcessMessageEventEmptyBody(t *testing.T) {
	n, db, _ := newTestNotifier(t)
	seedUser(t, db, "u1", "Asha")
	seedUser(t, db, "u2", "Binod")
	seedConversation(t, db, "c1", "u1", "u2")

	ev := ChangeEvent{Type: "INSERT", Record: Record{ConversationID: "c1", SenderID: "u2", Body: ""}}
	require.NoError(t, n.Process(context.Background(), ev))

	got := notificationsFor(t, db, "u1")
	require.Len(t, got, 1)
	assert.Equal(t, "Sent you a photo", got[0].Body)
}

func TestProcessOfferEvent(t *testing.T) {
	n, db, _ := newTestNotifier(t)
	seedUser(t, db, "owner", "Owner")
	_, err := db.Exec(`INSERT INTO tasks (id, title, created_by) VALUES ('t1', 'Fix the tap', 'owner')`)
	require.NoError(t, err)

	ev := ChangeEvent{Type: "INSERT", Record: Record{TaskID: "t1", OfferPrice: 500, WorkerID: "w1"}}
	require.NoError(t, n.Process(context.Background(), ev))

	got := notificationsFor(t, db, "owner")
	require.Len(t, got, 1)
	assert.Equal(t, "New Offer!", got[0].Title)
	assert.Contains(t, got[0].Body, "500")
	assert.Contains(t, got[0].Body, "Fix the tap")
	assert.Equal(t, "/tasks/t1", got[0].URL)
}

func TestProcessOfferAccepted(t *testing.T) {
	n, db, _ := newTestNotifier(t)
	seedUser(t, db, "w1", "Worker")

	ev := ChangeEvent{Type: "UPDATE",
		Record:    Record{Status: "accepted", WorkerID: "w1", TaskID: "t1"},
		OldRecord: Record{Status: "pending"}}
	require.NoError(t, n.Process(context.Background(), ev))

	got := notificationsFor(t, db, "w1")
	require.Len(t, got, 1)
	assert.Equal(t, "Offer Accepted! 🎉", got[0].Title)

	// Re-delivering an already-accepted update is a no-op.
	noop := ChangeEvent{Type: "UPDATE",
		Record:    Record{Status: "accepted", WorkerID: "w1", TaskID: "t1"},
		OldRecord: Record{Status: "accepted"}}
	require.NoError(t, n.Process(context.Background(), noop))
	assert.Len(t, notificationsFor(t, db, "w1"), 1)
}

func TestProcessTaskCompleted(t *testing.T) {
	n, db, _ := newTestNotifier(t)
	seedUser(t, db, "w1", "Worker")
	_, err := db.Exec(`INSERT INTO tasks (id, title, created_by, status) VALUES ('t1', 'Paint the fence', 'owner', 'completed')`)
	require.NoError(t, err)
	_, err = db.Exec(`INSERT INTO applications (id, task_id, worker_id, offer_price, status) VALUES ('a1', 't1', 'w1', 300, 'accepted')`)
	require.NoError(t, err)

	ev := ChangeEvent{Type: "UPDATE",
		Record:    Record{ID: "t1", Status: "completed", Title: "Paint the fence"},
		OldRecord: Record{Status: "in_progress"}}
	require.NoError(t, n.Process(context.Background(), ev))

	got := notificationsFor(t, db, "w1")
	require.Len(t, got, 1)
	assert.Equal(t, "Job Completed ✅", got[0].Title)
	assert.Contains(t, got[0].Body, "Paint the fence")
}

func TestProcessReviewEvent(t *testing.T) {
	n, db, _ := newTestNotifier(t)
	seedUser(t, db, "w1", "Worker")

	ev := ChangeEvent{Type: "INSERT", Record: Record{Rating: 4, WorkerID: "w1"}}
	require.NoError(t, n.Process(context.Background(), ev))

	got := notificationsFor(t, db, "w1")
	require.Len(t, got, 1)
	assert.Equal(t, "New Review ⭐", got[0].Title)
	assert.Contains(t, got[0].Body, "4-star")
}

func TestProcessSkipsUnresolvableTarget(t *testing.T) {
	n, db, _ := newTestNotifier(t)

	// Conversation does not exist: a lookup miss, not an error.
	ev := ChangeEvent{Type: "INSERT", Record: Record{ConversationID: "missing", SenderID: "u1", Body: "hi"}}
	require.NoError(t, n.Process(context.Background(), ev))

	var count int
	require.NoError(t, db.QueryRow(`SELECT COUNT(1) FROM notifications`).Scan(&count))
	assert.Zero(t, count)
}

func TestFanoutPrunesDeadEndpoints(t *testing.T) {
	n, db, sender := newTestNotifier(t)
	seedUser(t, db, "u1", "Asha")
	seedUser(t, db, "u2", "Binod")
	seedConversation(t, db, "c1", "u1", "u2")
	seedSubscription(t, db, "s1", "u2", "https://push.example/dead")
	seedSubscription(t, db, "s2", "u2", "https://push.example/live")
	sender.gone["https://push.example/dead"] = true

	ev := ChangeEvent{Type: "INSERT", Record: Record{ConversationID: "c1", SenderID: "u1", Body: "hi"}}
	require.NoError(t, n.Process(context.Background(), ev))

	// Dead endpoint pruned, sibling still delivered.
	var count int
	require.NoError(t, db.QueryRow(`SELECT COUNT(1) FROM push_subscriptions WHERE id='s1'`).Scan(&count))
	assert.Zero(t, count)
	require.NoError(t, db.QueryRow(`SELECT COUNT(1) FROM push_subscriptions WHERE id='s2'`).Scan(&count))
	assert.Equal(t, 1, count)
	assert.True(t, sender.delivered("https://push.example/live"))

	// The in-app record exists regardless of delivery outcomes.
	assert.Len(t, notificationsFor(t, db, "u2"), 1)
}

func TestFanoutWithoutSubscriptions(t *testing.T) {
	n, db, sender := newTestNotifier(t)
	seedUser(t, db, "u1", "Asha")
	seedUser(t, db, "u2", "Binod")
	seedConversation(t, db, "c1", "u1", "u2")

	ev := ChangeEvent{Type: "INSERT", Record: Record{ConversationID: "c1", SenderID: "u1", Body: "hi"}}
	require.NoError(t, n.Process(context.Background(), ev))

	assert.Len(t, notificationsFor(t, db, "u2"), 1)
	assert.Empty(t, sender.sent)
}
