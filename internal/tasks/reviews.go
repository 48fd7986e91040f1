package tasks

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/sunomsi/backend/internal/auth"
	"github.com/sunomsi/backend/internal/httpx"
	"github.com/sunomsi/backend/internal/utils"
)

type reviewReq struct {
	Rating  int    `json:"rating" binding:"required,min=1,max=5"`
	Comment string `json:"comment"`
}

func (s Service) createReview(c *gin.Context) {
	uid := auth.MustUserID(c)
	taskID := c.Param("id")

	var req reviewReq
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
	if t.CreatedBy != uid {
		httpx.Err(c, http.StatusForbidden, "only the task owner can review")
		return
	}
	if t.Status != "completed" {
		httpx.Err(c, http.StatusConflict, "task is not completed yet")
		return
	}

	var workerID string
	if err := s.DB.QueryRowContext(c.Request.Context(),
		`SELECT worker_id FROM applications WHERE task_id=? AND status='accepted'`, taskID).Scan(&workerID); err != nil {
		httpx.Err(c, http.StatusConflict, "no accepted offer found for this task")
		return
	}

	r := Review{
		ID:         uuid.NewString(),
		TaskID:     taskID,
		ReviewerID: uid,
		WorkerID:   workerID,
		Rating:     req.Rating,
		Comment:    req.Comment,
		CreatedAt:  time.Now().UTC(),
	}
	_, err = s.DB.ExecContext(c.Request.Context(), `
		INSERT INTO reviews (id, task_id, reviewer_id, worker_id, rating, comment, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.TaskID, r.ReviewerID, r.WorkerID, r.Rating, r.Comment, r.CreatedAt)
	if err != nil {
		httpx.Err(c, http.StatusBadRequest, "review insert failed")
		return
	}

	// Keep the denormalized average on the worker's profile current.
	_, _ = s.DB.ExecContext(c.Request.Context(), `
		UPDATE users SET rating = (SELECT AVG(rating) FROM reviews WHERE worker_id=?)
		WHERE id=?`, workerID, workerID)

	s.Events.DispatchInsert(r)
	httpx.OK(c, r)
}
