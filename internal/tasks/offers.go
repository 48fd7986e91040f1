package tasks

import (
	"database/sql"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/sunomsi/backend/internal/auth"
	"github.com/sunomsi/backend/internal/httpx"
	"github.com/sunomsi/backend/internal/storage"
	"github.com/sunomsi/backend/internal/utils"
)

type offerReq struct {
	OfferPrice float64 `json:"offer_price" binding:"required,gt=0"`
	Message    string  `json:"message"`
}

func (s Service) createOffer(c *gin.Context) {
	uid := auth.MustUserID(c)
	taskID := c.Param("id")

	var req offerReq
	if err := c.ShouldBindJSON(&req); err != nil {
		if validationErrors, ok := err.(validator.ValidationErrors); ok {
			httpx.Err(c, http.StatusBadRequest, utils.ValidationErr(validationErrors))
			return
		}
		httpx.Err(c, http.StatusBadRequest, err.Error())
		return
	}

	t, err := s.loadTask(c, taskID)
	if err != nil {
		httpx.Err(c, http.StatusNotFound, "task not found")
		return
	}
	if t.CreatedBy == uid {
		httpx.Err(c, http.StatusBadRequest, "cannot offer on your own task")
		return
	}

	app := Application{
		ID:         uuid.NewString(),
		TaskID:     taskID,
		WorkerID:   uid,
		OfferPrice: req.OfferPrice,
		Message:    req.Message,
		Status:     "pending",
		CreatedAt:  time.Now().UTC(),
	}
	_, err = s.DB.ExecContext(c.Request.Context(), `
		INSERT INTO applications (id, task_id, worker_id, offer_price, message, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		app.ID, app.TaskID, app.WorkerID, app.OfferPrice, app.Message, app.Status, app.CreatedAt)
	if err != nil {
		if storage.IsUniqueViolation(err) {
			httpx.Err(c, http.StatusConflict, "offer already submitted")
			return
		}
		httpx.Err(c, http.StatusInternalServerError, "db error")
		return
	}

	s.Events.DispatchInsert(app)
	httpx.OK(c, app)
}

func (s Service) acceptOffer(c *gin.Context) {
	uid := auth.MustUserID(c)
	taskID := c.Param("id")
	offerID := c.Param("offerId")

	t, err := s.loadTask(c, taskID)
	if err != nil {
		httpx.Err(c, http.StatusNotFound, "task not found")
		return
	}
	if t.CreatedBy != uid {
		httpx.Err(c, http.StatusForbidden, "only the task owner can accept offers")
		return
	}

	old, err := s.loadApplication(c, offerID)
	if err != nil || old.TaskID != taskID {
		httpx.Err(c, http.StatusNotFound, "offer not found")
		return
	}

	tx, err := s.DB.Begin()
	if err != nil {
		httpx.Err(c, http.StatusInternalServerError, "db transaction failed")
		return
	}
	defer tx.Rollback()

	// The partial unique index on accepted applications rejects a second
	// accept for the same task.
	if _, err := tx.Exec(`UPDATE applications SET status='accepted' WHERE id=?`, offerID); err != nil {
		if storage.IsUniqueViolation(err) {
			httpx.Err(c, http.StatusConflict, "an offer is already accepted for this task")
			return
		}
		httpx.Err(c, http.StatusInternalServerError, "db error")
		return
	}
	if _, err := tx.Exec(`UPDATE tasks SET status='in_progress' WHERE id=?`, taskID); err != nil {
		httpx.Err(c, http.StatusInternalServerError, "task update failed")
		return
	}
	if err := tx.Commit(); err != nil {
		httpx.Err(c, http.StatusInternalServerError, "commit failed")
		return
	}

	updated := old
	updated.Status = "accepted"
	s.Events.DispatchUpdate(updated, old)

	httpx.OK(c, gin.H{"ok": true})
}

func (s Service) complete(c *gin.Context) {
	uid := auth.MustUserID(c)
	taskID := c.Param("id")

	old, err := s.loadTask(c, taskID)
	if err != nil {
		httpx.Err(c, http.StatusNotFound, "task not found")
		return
	}
	if old.CreatedBy != uid {
		httpx.Err(c, http.StatusForbidden, "only the task owner can complete the task")
		return
	}

	var workerID string
	err = s.DB.QueryRowContext(c.Request.Context(),
		`SELECT worker_id FROM applications WHERE task_id=? AND status='accepted'`, taskID).Scan(&workerID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			httpx.Err(c, http.StatusConflict, "no accepted offer found, accept an offer first")
			return
		}
		httpx.Err(c, http.StatusInternalServerError, "db error")
		return
	}

	if _, err := s.DB.ExecContext(c.Request.Context(),
		`UPDATE tasks SET status='completed' WHERE id=?`, taskID); err != nil {
		httpx.Err(c, http.StatusInternalServerError, "task update failed")
		return
	}
	updated := old
	updated.Status = "completed"
	s.Events.DispatchUpdate(updated, old)

	// Stats drift is tolerable, completion is not rolled back for it.
	_, _ = s.DB.ExecContext(c.Request.Context(),
		`UPDATE users SET completed_jobs = completed_jobs + 1 WHERE id=?`, workerID)

	httpx.OK(c, gin.H{"ok": true, "worker_id": workerID})
}

func (s Service) loadApplication(c *gin.Context, id string) (Application, error) {
	var a Application
	err := s.DB.QueryRowContext(c.Request.Context(), `
		SELECT id, task_id, worker_id, offer_price, message, status, created_at
		FROM applications WHERE id=?`, id).
		Scan(&a.ID, &a.TaskID, &a.WorkerID, &a.OfferPrice, &a.Message, &a.Status, &a.CreatedAt)
	return a, err
}
