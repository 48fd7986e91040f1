package users

import (
	"database/sql"
	"encoding/json"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"github.com/sunomsi/backend/internal/auth"
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

func seedWorker(t *testing.T, db *storage.DB, id, name, category string, rating float64) {
	t.Helper()
	_, err := db.Exec(`
		INSERT INTO users (id, email, password_hash, display_name, is_worker, job_title, category, rating, created_at)
		VALUES (?, ?, ?, ?, 1, ?, ?, ?, ?)`,
		id, id+"@example.com", "x", name, name+"'s trade", category, rating, time.Now().UTC())
	require.NoError(t, err)
}

func newTestRouter(t *testing.T, db *storage.DB) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(func(c *gin.Context) {
		c.Set(string(auth.CtxUserID), c.GetHeader("X-User"))
	})
	Register(r.Group("/"), db)
	return r
}

func getWorkers(t *testing.T, r *gin.Engine, path string) []map[string]any {
	t.Helper()
	w := httptest.NewRecorder()
	req := httptest.NewRequest("GET", path, nil)
	req.Header.Set("X-User", "viewer")
	r.ServeHTTP(w, req)
	require.Equal(t, 200, w.Code, w.Body.String())

	var resp struct {
		Workers []map[string]any `json:"workers"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp.Workers
}

func TestListWorkersSortedByRating(t *testing.T) {
	db := newTestDB(t)
	seedWorker(t, db, "w1", "Asha", "plumbing", 4.5)
	seedWorker(t, db, "w2", "Binod", "electrical", 5)
	seedWorker(t, db, "w3", "Chitra", "plumbing", 3)
	_, err := db.Exec(`INSERT INTO users (id, email, password_hash, display_name, created_at) VALUES ('p1', 'p1@example.com', 'x', 'Poster', ?)`,
		time.Now().UTC())
	require.NoError(t, err)

	r := newTestRouter(t, db)
	workers := getWorkers(t, r, "/workers")

	require.Len(t, workers, 3, "non-workers are excluded")
	assert.Equal(t, "w2", workers[0]["id"])
	assert.Equal(t, "w1", workers[1]["id"])
	assert.Equal(t, "w3", workers[2]["id"])
}

func TestListWorkersCategoryFilter(t *testing.T) {
	db := newTestDB(t)
	seedWorker(t, db, "w1", "Asha", "plumbing", 4.5)
	seedWorker(t, db, "w2", "Binod", "electrical", 5)
	seedWorker(t, db, "w3", "Chitra", "plumbing", 3)

	r := newTestRouter(t, db)

	plumbers := getWorkers(t, r, "/workers?category=plumbing")
	require.Len(t, plumbers, 2)
	assert.Equal(t, "w1", plumbers[0]["id"])
	assert.Equal(t, "w3", plumbers[1]["id"])

	all := getWorkers(t, r, "/workers?category=all")
	assert.Len(t, all, 3)
}
