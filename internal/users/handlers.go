package users

import (
	"database/sql"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/sunomsi/backend/internal/auth"
	"github.com/sunomsi/backend/internal/config"
	"github.com/sunomsi/backend/internal/httpx"
	"github.com/sunomsi/backend/internal/presence"
	"github.com/sunomsi/backend/internal/storage"
	"github.com/sunomsi/backend/internal/utils"
)

type Service struct {
	DB        *storage.DB
	JWTSecret string
	JWTTTLMin int
}

type signupReq struct {
	Email       string `json:"email" binding:"required,email"`
	Password    string `json:"password" binding:"required,min=6"`
	DisplayName string `json:"display_name" binding:"required"`
}

type loginReq struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

type updateReq struct {
	DisplayName string   `json:"display_name"`
	AvatarURL   string   `json:"avatar_url"`
	IsWorker    *bool    `json:"is_worker"`
	JobTitle    *string  `json:"job_title"`
	Category    *string  `json:"category"`
	Location    *string  `json:"location"`
	HourlyRate  *float64 `json:"hourly_rate"`
}

func RegisterPublic(rg *gin.RouterGroup, db *storage.DB, cfg config.Config) {
	s := Service{
		DB:        db,
		JWTSecret: cfg.JWTSecret,
		JWTTTLMin: cfg.JWTTTLMin,
	}
	rg.POST("/signup", s.signup)
	rg.POST("/login", s.login)
}

func Register(rg *gin.RouterGroup, db *storage.DB) {
	s := Service{
		DB: db,
	}
	rg.GET("/me", s.getMe)
	rg.PUT("/me", s.updateMe)
	rg.GET("/users/search", s.searchUsers)
	rg.GET("/users/:id", s.getPublicProfile)
	rg.GET("/workers", s.listWorkers)
	rg.PUT("/presence/heartbeat", s.heartbeat)
}

func (s Service) signup(c *gin.Context) {
	var req signupReq
	if err := c.ShouldBindJSON(&req); err != nil {
		if validationErrors, ok := err.(validator.ValidationErrors); ok {
			httpx.Err(c, http.StatusBadRequest, utils.ValidationErr(validationErrors))
			return
		}
		httpx.Err(c, http.StatusBadRequest, err.Error())
		return
	}

	var count int
	_ = s.DB.QueryRow(`SELECT COUNT(1) FROM users WHERE email=?`, req.Email).Scan(&count)
	if count > 0 {
		httpx.Err(c, http.StatusConflict, "Email Already Exists")
		return
	}

	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		httpx.Err(c, http.StatusInternalServerError, "Create User Failed")
		return
	}

	uid := uuid.NewString()
	_, err = s.DB.Exec(`INSERT INTO users (id, email, password_hash, display_name, created_at) VALUES (?, ?, ?, ?, ?)`,
		uid, req.Email, hash, req.DisplayName, time.Now().UTC())
	if err != nil {
		httpx.Err(c, http.StatusBadRequest, "Create User Failed")
		return
	}

	tok, err := auth.NewToken(s.JWTSecret, uid, s.JWTTTLMin)
	if err != nil {
		httpx.Err(c, http.StatusInternalServerError, "Token Generation Failed")
		return
	}
	httpx.OK(c, gin.H{"token": tok, "user_id": uid})
}

func (s Service) login(c *gin.Context) {
	var req loginReq
	if err := c.ShouldBindJSON(&req); err != nil {
		if validationErrors, ok := err.(validator.ValidationErrors); ok {
			httpx.Err(c, http.StatusBadRequest, utils.ValidationErr(validationErrors))
			return
		}
		httpx.Err(c, http.StatusBadRequest, err.Error())
		return
	}

	var uid, hash string
	err := s.DB.QueryRow(`SELECT id, password_hash FROM users WHERE email=?`, req.Email).Scan(&uid, &hash)
	if err != nil || !auth.CheckPassword(hash, req.Password) {
		httpx.Err(c, http.StatusUnauthorized, "Invalid Credentials")
		return
	}

	tok, err := auth.NewToken(s.JWTSecret, uid, s.JWTTTLMin)
	if err != nil {
		httpx.Err(c, http.StatusInternalServerError, "Token Generation Failed")
		return
	}
	httpx.OK(c, gin.H{"token": tok, "user_id": uid})
}

func (s Service) getMe(c *gin.Context) {
	uid := auth.MustUserID(c)
	if uid == "" {
		httpx.Err(c, http.StatusUnauthorized, "unauthorized")
		return
	}

	row := s.DB.QueryRow(`
		SELECT id, email, display_name, COALESCE(avatar_url, ''), is_worker, rating, completed_jobs, created_at
		FROM users WHERE id=?`, uid)

	var id, email, name, avatar string
	var isWorker bool
	var rating float64
	var jobs int
	var created time.Time
	if err := row.Scan(&id, &email, &name, &avatar, &isWorker, &rating, &jobs, &created); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			httpx.Err(c, http.StatusNotFound, "user not found")
		} else {
			httpx.Err(c, http.StatusInternalServerError, "database error")
		}
		return
	}

	httpx.OK(c, gin.H{
		"id":             id,
		"email":          email,
		"display_name":   name,
		"avatar_url":     avatar,
		"is_worker":      isWorker,
		"rating":         rating,
		"completed_jobs": jobs,
		"created_at":     created,
	})
}

func (s Service) updateMe(c *gin.Context) {
	uid := auth.MustUserID(c)
	var req updateReq
	if err := c.ShouldBindJSON(&req); err != nil {
		httpx.Err(c, http.StatusBadRequest, err.Error())
		return
	}

	if req.DisplayName != "" {
		if _, err := s.DB.Exec(`UPDATE users SET display_name=? WHERE id=?`, req.DisplayName, uid); err != nil {
			httpx.Err(c, http.StatusBadRequest, "update failed")
			return
		}
	}
	if req.AvatarURL != "" {
		if _, err := s.DB.Exec(`UPDATE users SET avatar_url=? WHERE id=?`, req.AvatarURL, uid); err != nil {
			httpx.Err(c, http.StatusBadRequest, "update failed")
			return
		}
	}
	if req.IsWorker != nil {
		if _, err := s.DB.Exec(`UPDATE users SET is_worker=? WHERE id=?`, *req.IsWorker, uid); err != nil {
			httpx.Err(c, http.StatusBadRequest, "update failed")
			return
		}
	}
	if req.JobTitle != nil {
		if _, err := s.DB.Exec(`UPDATE users SET job_title=? WHERE id=?`, *req.JobTitle, uid); err != nil {
			httpx.Err(c, http.StatusBadRequest, "update failed")
			return
		}
	}
	if req.Category != nil {
		if _, err := s.DB.Exec(`UPDATE users SET category=? WHERE id=?`, *req.Category, uid); err != nil {
			httpx.Err(c, http.StatusBadRequest, "update failed")
			return
		}
	}
	if req.Location != nil {
		if _, err := s.DB.Exec(`UPDATE users SET location=? WHERE id=?`, *req.Location, uid); err != nil {
			httpx.Err(c, http.StatusBadRequest, "update failed")
			return
		}
	}
	if req.HourlyRate != nil {
		if _, err := s.DB.Exec(`UPDATE users SET hourly_rate=? WHERE id=?`, *req.HourlyRate, uid); err != nil {
			httpx.Err(c, http.StatusBadRequest, "update failed")
			return
		}
	}
	httpx.OK(c, gin.H{"ok": true})
}

func (s Service) getPublicProfile(c *gin.Context) {
	id := c.Param("id")

	row := s.DB.QueryRow(`
		SELECT id, display_name, COALESCE(avatar_url, ''), is_worker, job_title, category, location, hourly_rate, rating, completed_jobs, last_seen
		FROM users WHERE id=?`, id)

	var uid, name, avatar, jobTitle, category, location string
	var isWorker bool
	var hourlyRate, rating float64
	var jobs int
	var lastSeen sql.NullTime
	if err := row.Scan(&uid, &name, &avatar, &isWorker, &jobTitle, &category, &location, &hourlyRate, &rating, &jobs, &lastSeen); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			httpx.Err(c, http.StatusNotFound, "user not found")
		} else {
			httpx.Err(c, http.StatusInternalServerError, "database error")
		}
		return
	}

	var seen time.Time
	if lastSeen.Valid {
		seen = lastSeen.Time
	}
	httpx.OK(c, gin.H{
		"id":             uid,
		"display_name":   name,
		"avatar_url":     avatar,
		"is_worker":      isWorker,
		"job_title":      jobTitle,
		"category":       category,
		"location":       location,
		"hourly_rate":    hourlyRate,
		"rating":         rating,
		"completed_jobs": jobs,
		"presence":       presence.Text(seen, time.Now().UTC()),
	})
}

func (s Service) searchUsers(c *gin.Context) {
	query := c.Query("q")
	if query == "" {
		httpx.Err(c, http.StatusBadRequest, "query parameter is required")
		return
	}

	rows, err := s.DB.Query(`
		SELECT id, display_name, COALESCE(avatar_url, '')
		FROM users WHERE display_name LIKE ? LIMIT 10`, "%"+query+"%")
	if err != nil {
		httpx.Err(c, http.StatusInternalServerError, "database query failed")
		return
	}
	defer rows.Close()

	var users []gin.H
	for rows.Next() {
		var id, name, avatar string
		if err := rows.Scan(&id, &name, &avatar); err != nil {
			continue
		}
		users = append(users, gin.H{
			"id":           id,
			"display_name": name,
			"avatar_url":   avatar,
		})
	}
	httpx.OK(c, gin.H{"users": users})
}

// listWorkers is the worker directory: everyone offering services, best
// rated first, optionally narrowed to one category.
func (s Service) listWorkers(c *gin.Context) {
	category := c.Query("category")

	query := `
		SELECT id, display_name, COALESCE(avatar_url, ''), job_title, category, location, hourly_rate, rating, completed_jobs
		FROM users WHERE is_worker=1`
	args := []any{}
	if category != "" && category != "all" {
		query += ` AND category=?`
		args = append(args, category)
	}
	query += ` ORDER BY rating DESC, completed_jobs DESC`

	rows, err := s.DB.Query(query, args...)
	if err != nil {
		httpx.Err(c, http.StatusInternalServerError, "failed to fetch workers")
		return
	}
	defer rows.Close()

	workers := []gin.H{}
	for rows.Next() {
		var id, name, avatar, jobTitle, cat, location string
		var hourlyRate, rating float64
		var jobs int
		if err := rows.Scan(&id, &name, &avatar, &jobTitle, &cat, &location, &hourlyRate, &rating, &jobs); err != nil {
			continue
		}
		workers = append(workers, gin.H{
			"id":             id,
			"display_name":   name,
			"avatar_url":     avatar,
			"job_title":      jobTitle,
			"category":       cat,
			"location":       location,
			"hourly_rate":    hourlyRate,
			"rating":         rating,
			"completed_jobs": jobs,
		})
	}
	httpx.OK(c, gin.H{"workers": workers})
}

// heartbeat refreshes the caller's last_seen. Clients without an open
// websocket beat through here on the presence interval.
func (s Service) heartbeat(c *gin.Context) {
	uid := auth.MustUserID(c)
	if _, err := s.DB.Exec(`UPDATE users SET last_seen=? WHERE id=?`, time.Now().UTC(), uid); err != nil {
		httpx.Err(c, http.StatusInternalServerError, "database error")
		return
	}
	httpx.OK(c, gin.H{"ok": true})
}
