package tasks

import (
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/sunomsi/backend/internal/auth"
	"github.com/sunomsi/backend/internal/httpx"
	"github.com/sunomsi/backend/internal/realtime"
	"github.com/sunomsi/backend/internal/storage"
	"github.com/sunomsi/backend/internal/utils"
)

// EventDispatcher receives task/offer/review mutations for notification
// fan-out. Satisfied by the notifier.
type EventDispatcher interface {
	DispatchInsert(record any)
	DispatchUpdate(record, old any)
}

// Broadcaster pushes comment change events to clients watching a task.
// Satisfied by the realtime hub.
type Broadcaster interface {
	BroadcastTask(taskID string, ev realtime.ChangeEvent)
}

type Service struct {
	DB     *storage.DB
	Hub    Broadcaster
	Events EventDispatcher
}

type createReq struct {
	Title       string   `json:"title" binding:"required"`
	Description string   `json:"description"`
	Category    string   `json:"category"`
	Location    string   `json:"location"`
	BudgetMin   *float64 `json:"budget_min"`
	BudgetMax   *float64 `json:"budget_max"`
	Photos      []string `json:"photos"`
}

func Register(rg *gin.RouterGroup, db *storage.DB, hub Broadcaster, events EventDispatcher) {
	s := Service{
		DB:     db,
		Hub:    hub,
		Events: events,
	}
	rg.POST("/tasks", s.create)
	rg.GET("/tasks", s.list)
	rg.GET("/tasks/:id", s.get)
	rg.PUT("/tasks/:id", s.update)
	rg.DELETE("/tasks/:id", s.remove)

	rg.POST("/tasks/:id/offers", s.createOffer)
	rg.POST("/tasks/:id/offers/:offerId/accept", s.acceptOffer)
	rg.POST("/tasks/:id/complete", s.complete)
	rg.POST("/tasks/:id/reviews", s.createReview)

	rg.GET("/tasks/:id/comments", s.listComments)
	rg.POST("/tasks/:id/comments", s.createComment)
}

func (s Service) create(c *gin.Context) {
	uid := auth.MustUserID(c)
	var req createReq
	if err := c.ShouldBindJSON(&req); err != nil {
		if validationErrors, ok := err.(validator.ValidationErrors); ok {
			httpx.Err(c, http.StatusBadRequest, utils.ValidationErr(validationErrors))
			return
		}
		httpx.Err(c, http.StatusBadRequest, err.Error())
		return
	}

	t := Task{
		ID:          uuid.NewString(),
		Title:       req.Title,
		Description: req.Description,
		Category:    req.Category,
		Location:    req.Location,
		BudgetMin:   req.BudgetMin,
		BudgetMax:   req.BudgetMax,
		Photos:      req.Photos,
		Status:      "open",
		CreatedBy:   uid,
		CreatedAt:   time.Now().UTC(),
	}
	if t.Category == "" {
		t.Category = "others"
	}
	if t.Photos == nil {
		t.Photos = []string{}
	}

	photos, _ := json.Marshal(t.Photos)
	_, err := s.DB.ExecContext(c.Request.Context(), `
		INSERT INTO tasks (id, title, description, category, location, budget_min, budget_max, photos, status, created_by, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.Title, t.Description, t.Category, t.Location, t.BudgetMin, t.BudgetMax, string(photos), t.Status, t.CreatedBy, t.CreatedAt)
	if err != nil {
		httpx.Err(c, http.StatusBadRequest, "create task failed")
		return
	}
	httpx.OK(c, t)
}

func (s Service) list(c *gin.Context) {
	status := c.DefaultQuery("status", "open")
	category := c.Query("category")

	query := `SELECT id, title, description, category, location, budget_min, budget_max, photos, status, created_by, created_at
		FROM tasks WHERE status=?`
	args := []any{status}
	if category != "" {
		query += ` AND category=?`
		args = append(args, category)
	}
	query += ` ORDER BY created_at DESC`

	rows, err := s.DB.QueryContext(c.Request.Context(), query, args...)
	if err != nil {
		httpx.Err(c, http.StatusInternalServerError, "failed to fetch tasks")
		return
	}
	defer rows.Close()

	var list []Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			continue
		}
		list = append(list, t)
	}
	httpx.OK(c, gin.H{"tasks": list})
}

func (s Service) get(c *gin.Context) {
	id := c.Param("id")

	t, err := s.loadTask(c, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			httpx.Err(c, http.StatusNotFound, "task not found")
		} else {
			httpx.Err(c, http.StatusInternalServerError, "db error")
		}
		return
	}

	var creatorName, creatorAvatar string
	_ = s.DB.QueryRowContext(c.Request.Context(),
		`SELECT display_name, COALESCE(avatar_url, '') FROM users WHERE id=?`, t.CreatedBy).
		Scan(&creatorName, &creatorAvatar)

	rows, err := s.DB.QueryContext(c.Request.Context(), `
		SELECT a.id, a.task_id, a.worker_id, a.offer_price, a.message, a.status, a.created_at,
		       u.display_name, COALESCE(u.avatar_url, ''), u.rating
		FROM applications a
		JOIN users u ON u.id = a.worker_id
		WHERE a.task_id=?
		ORDER BY a.created_at DESC`, id)
	if err != nil {
		httpx.Err(c, http.StatusInternalServerError, "db error")
		return
	}
	defer rows.Close()

	var offers []gin.H
	for rows.Next() {
		var a Application
		var workerName, workerAvatar string
		var workerRating float64
		if err := rows.Scan(&a.ID, &a.TaskID, &a.WorkerID, &a.OfferPrice, &a.Message, &a.Status, &a.CreatedAt,
			&workerName, &workerAvatar, &workerRating); err != nil {
			continue
		}
		offers = append(offers, gin.H{
			"id":          a.ID,
			"worker_id":   a.WorkerID,
			"offer_price": a.OfferPrice,
			"message":     a.Message,
			"status":      a.Status,
			"created_at":  a.CreatedAt,
			"worker": gin.H{
				"display_name": workerName,
				"avatar_url":   workerAvatar,
				"rating":       workerRating,
			},
		})
	}

	httpx.OK(c, gin.H{
		"task": t,
		"creator": gin.H{
			"display_name": creatorName,
			"avatar_url":   creatorAvatar,
		},
		"applications": offers,
	})
}

func (s Service) update(c *gin.Context) {
	uid := auth.MustUserID(c)
	id := c.Param("id")

	t, err := s.loadTask(c, id)
	if err != nil {
		httpx.Err(c, http.StatusNotFound, "task not found")
		return
	}
	if t.CreatedBy != uid {
		httpx.Err(c, http.StatusForbidden, "not your task")
		return
	}

	var req createReq
	if err := c.ShouldBindJSON(&req); err != nil {
		httpx.Err(c, http.StatusBadRequest, err.Error())
		return
	}
	if req.Photos == nil {
		req.Photos = t.Photos
	}
	photos, _ := json.Marshal(req.Photos)

	_, err = s.DB.ExecContext(c.Request.Context(), `
		UPDATE tasks SET title=?, description=?, category=?, location=?, budget_min=?, budget_max=?, photos=?
		WHERE id=?`,
		req.Title, req.Description, req.Category, req.Location, req.BudgetMin, req.BudgetMax, string(photos), id)
	if err != nil {
		httpx.Err(c, http.StatusBadRequest, "update failed")
		return
	}
	httpx.OK(c, gin.H{"ok": true})
}

func (s Service) remove(c *gin.Context) {
	uid := auth.MustUserID(c)
	id := c.Param("id")

	res, err := s.DB.ExecContext(c.Request.Context(),
		`DELETE FROM tasks WHERE id=? AND created_by=?`, id, uid)
	if err != nil {
		httpx.Err(c, http.StatusBadRequest, "delete failed")
		return
	}
	if n, _ := res.RowsAffected(); n == 0 {
		httpx.Err(c, http.StatusNotFound, "task not found")
		return
	}
	httpx.OK(c, gin.H{"ok": true})
}

func (s Service) loadTask(c *gin.Context, id string) (Task, error) {
	row := s.DB.QueryRowContext(c.Request.Context(), `
		SELECT id, title, description, category, location, budget_min, budget_max, photos, status, created_by, created_at
		FROM tasks WHERE id=?`, id)
	return scanTask(row)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (Task, error) {
	var t Task
	var photos string
	if err := row.Scan(&t.ID, &t.Title, &t.Description, &t.Category, &t.Location,
		&t.BudgetMin, &t.BudgetMax, &photos, &t.Status, &t.CreatedBy, &t.CreatedAt); err != nil {
		return Task{}, err
	}
	if err := json.Unmarshal([]byte(photos), &t.Photos); err != nil {
		t.Photos = []string{}
	}
	return t, nil
}
