package tasks

import (
	"database/sql"
	"encoding/json"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"github.com/sunomsi/backend/internal/auth"
	"github.com/sunomsi/backend/internal/realtime"
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

func seedUser(t *testing.T, db *storage.DB, id, name string) {
	t.Helper()
	_, err := db.Exec(`INSERT INTO users (id, email, password_hash, display_name, created_at) VALUES (?, ?, ?, ?, ?)`,
		id, id+"@example.com", "x", name, time.Now().UTC())
	require.NoError(t, err)
}

type fakeBroadcaster struct {
	mu     sync.Mutex
	events []realtime.ChangeEvent
}

func (f *fakeBroadcaster) BroadcastTask(taskID string, ev realtime.ChangeEvent) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, ev)
}

func (f *fakeBroadcaster) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.events)
}

type fakeDispatcher struct {
	mu      sync.Mutex
	inserts []any
	updates []any
}

func (f *fakeDispatcher) DispatchInsert(record any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.inserts = append(f.inserts, record)
}

func (f *fakeDispatcher) DispatchUpdate(record, old any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updates = append(f.updates, record)
}

func newTestRouter(t *testing.T, db *storage.DB) (*gin.Engine, *fakeBroadcaster, *fakeDispatcher) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	hub := &fakeBroadcaster{}
	events := &fakeDispatcher{}
	r := gin.New()
	// Stand-in for the JWT middleware: the caller names itself in a header.
	r.Use(func(c *gin.Context) {
		c.Set(string(auth.CtxUserID), c.GetHeader("X-User"))
	})
	Register(r.Group("/"), db, hub, events)
	return r, hub, events
}

func doJSON(r *gin.Engine, method, path, user, body string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-User", user)
	r.ServeHTTP(w, req)
	return w
}

func createTestTask(t *testing.T, r *gin.Engine, owner, title string) Task {
	t.Helper()
	w := doJSON(r, "POST", "/tasks", owner, `{"title":"`+title+`"}`)
	require.Equal(t, 200, w.Code, w.Body.String())
	var task Task
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &task))
	return task
}
