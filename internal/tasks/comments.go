package tasks

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/sunomsi/backend/internal/auth"
	"github.com/sunomsi/backend/internal/httpx"
	"github.com/sunomsi/backend/internal/realtime"
	"github.com/sunomsi/backend/internal/utils"
)

// Comment is public discussion on a task. One level of nesting: a reply
// carries the root comment's id as parent_id.
type Comment struct {
	ID        string    `json:"id"`
	TaskID    string    `json:"task_id"`
	UserID    string    `json:"user_id"`
	ParentID  *string   `json:"parent_id"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`

	UserName   string    `json:"user_name,omitempty"`
	UserAvatar string    `json:"user_avatar_url,omitempty"`
	Replies    []Comment `json:"replies,omitempty"`
}

type commentReq struct {
	Content  string  `json:"content" binding:"required"`
	ParentID *string `json:"parent_id"`
}

func (s Service) createComment(c *gin.Context) {
	uid := auth.MustUserID(c)
	taskID := c.Param("id")

	var req commentReq
	if err := c.ShouldBindJSON(&req); err != nil {
		if validationErrors, ok := err.(validator.ValidationErrors); ok {
			httpx.Err(c, http.StatusBadRequest, utils.ValidationErr(validationErrors))
			return
		}
		httpx.Err(c, http.StatusBadRequest, err.Error())
		return
	}

	content := strings.TrimSpace(req.Content)
	if content == "" {
		httpx.Err(c, http.StatusBadRequest, "comment is empty")
		return
	}

	if _, err := s.loadTask(c, taskID); err != nil {
		httpx.Err(c, http.StatusNotFound, "task not found")
		return
	}

	if req.ParentID != nil {
		var parentTask string
		err := s.DB.QueryRowContext(c.Request.Context(),
			`SELECT task_id FROM comments WHERE id=?`, *req.ParentID).Scan(&parentTask)
		if err != nil || parentTask != taskID {
			httpx.Err(c, http.StatusBadRequest, "parent comment not found")
			return
		}
	}

	cm := Comment{
		ID:        uuid.NewString(),
		TaskID:    taskID,
		UserID:    uid,
		ParentID:  req.ParentID,
		Content:   content,
		CreatedAt: time.Now().UTC(),
	}
	_, err := s.DB.ExecContext(c.Request.Context(), `
		INSERT INTO comments (id, task_id, user_id, parent_id, content, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		cm.ID, cm.TaskID, cm.UserID, cm.ParentID, cm.Content, cm.CreatedAt)
	if err != nil {
		httpx.Err(c, http.StatusBadRequest, "comment insert failed")
		return
	}

	s.Hub.BroadcastTask(taskID, realtime.ChangeEvent{
		Type:   "INSERT",
		Table:  "comments",
		Record: cm,
	})
	httpx.OK(c, cm)
}

// listComments returns the task's comments oldest first, joined with each
// author's profile, replies nested under their root comment.
func (s Service) listComments(c *gin.Context) {
	taskID := c.Param("id")

	rows, err := s.DB.QueryContext(c.Request.Context(), `
		SELECT cm.id, cm.task_id, cm.user_id, cm.parent_id, cm.content, cm.created_at,
		       u.display_name, COALESCE(u.avatar_url, '')
		FROM comments cm
		JOIN users u ON u.id = cm.user_id
		WHERE cm.task_id=?
		ORDER BY cm.created_at ASC`, taskID)
	if err != nil {
		httpx.Err(c, http.StatusInternalServerError, "failed to fetch comments")
		return
	}
	defer rows.Close()

	var flat []Comment
	for rows.Next() {
		var cm Comment
		if err := rows.Scan(&cm.ID, &cm.TaskID, &cm.UserID, &cm.ParentID, &cm.Content, &cm.CreatedAt,
			&cm.UserName, &cm.UserAvatar); err != nil {
			httpx.Err(c, http.StatusInternalServerError, "db error")
			return
		}
		flat = append(flat, cm)
	}
	if err := rows.Err(); err != nil {
		httpx.Err(c, http.StatusInternalServerError, "db error")
		return
	}

	httpx.OK(c, gin.H{"comments": nestComments(flat)})
}

// nestComments turns the flat ascending list into roots with replies.
// A reply whose parent is missing is kept as a root rather than dropped.
func nestComments(flat []Comment) []Comment {
	index := make(map[string]int, len(flat))
	roots := make([]Comment, 0, len(flat))
	for _, cm := range flat {
		if cm.ParentID != nil {
			if i, ok := index[*cm.ParentID]; ok {
				roots[i].Replies = append(roots[i].Replies, cm)
				continue
			}
		}
		index[cm.ID] = len(roots)
		roots = append(roots, cm)
	}
	return roots
}
