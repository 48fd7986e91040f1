package notifications

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sunomsi/backend/internal/auth"
	"github.com/sunomsi/backend/internal/httpx"
	"github.com/sunomsi/backend/internal/storage"
)

type Service struct {
	DB *storage.DB
}

func Register(rg *gin.RouterGroup, db *storage.DB) {
	s := Service{
		DB: db,
	}
	rg.GET("/notifications", s.listMine)
	rg.POST("/notifications/read", s.markAllRead)
	rg.DELETE("/notifications/:id", s.deleteOne)
	rg.DELETE("/notifications", s.clearAll)
}

func (s Service) listMine(c *gin.Context) {
	uid := auth.MustUserID(c)

	rows, err := s.DB.QueryContext(c.Request.Context(), `
		SELECT id, title, body, url, is_read, created_at
		FROM notifications WHERE user_id=?
		ORDER BY created_at DESC`, uid)
	if err != nil {
		httpx.Err(c, http.StatusInternalServerError, "failed to fetch notifications")
		return
	}
	defer rows.Close()

	var list []gin.H
	for rows.Next() {
		var id, title, body, url string
		var isRead bool
		var at time.Time
		if err := rows.Scan(&id, &title, &body, &url, &isRead, &at); err != nil {
			continue
		}
		list = append(list, gin.H{
			"id":         id,
			"title":      title,
			"body":       body,
			"data":       gin.H{"url": url},
			"is_read":    isRead,
			"created_at": at,
		})
	}
	if err := rows.Err(); err != nil {
		httpx.Err(c, http.StatusInternalServerError, "error reading notifications")
		return
	}
	httpx.OK(c, gin.H{"notifications": list})
}

func (s Service) markAllRead(c *gin.Context) {
	uid := auth.MustUserID(c)

	if _, err := s.DB.ExecContext(c.Request.Context(),
		`UPDATE notifications SET is_read=1 WHERE user_id=? AND is_read=0`, uid); err != nil {
		httpx.Err(c, http.StatusInternalServerError, "db error")
		return
	}
	httpx.OK(c, gin.H{"ok": true})
}

func (s Service) deleteOne(c *gin.Context) {
	uid := auth.MustUserID(c)

	if _, err := s.DB.ExecContext(c.Request.Context(),
		`DELETE FROM notifications WHERE id=? AND user_id=?`, c.Param("id"), uid); err != nil {
		httpx.Err(c, http.StatusInternalServerError, "delete failed")
		return
	}
	httpx.OK(c, gin.H{"ok": true})
}

func (s Service) clearAll(c *gin.Context) {
	uid := auth.MustUserID(c)

	if _, err := s.DB.ExecContext(c.Request.Context(),
		`DELETE FROM notifications WHERE user_id=?`, uid); err != nil {
		httpx.Err(c, http.StatusInternalServerError, "clear failed")
		return
	}
	httpx.OK(c, gin.H{"ok": true})
}
