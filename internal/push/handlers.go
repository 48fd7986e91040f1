package push

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/sunomsi/backend/internal/auth"
	"github.com/sunomsi/backend/internal/httpx"
	"github.com/sunomsi/backend/internal/storage"
	"github.com/sunomsi/backend/internal/utils"
)

type Service struct {
	Subs *SubscriptionStore
}

type subscribeReq struct {
	Endpoint string `json:"endpoint" binding:"required"`
	P256dh   string `json:"p256dh" binding:"required"`
	Auth     string `json:"auth" binding:"required"`
}

type unsubscribeReq struct {
	Endpoint string `json:"endpoint" binding:"required"`
}

func Register(rg *gin.RouterGroup, db *storage.DB) {
	s := Service{
		Subs: &SubscriptionStore{DB: db},
	}
	rg.POST("/push/subscriptions", s.subscribe)
	rg.DELETE("/push/subscriptions", s.unsubscribe)
}

func (s Service) subscribe(c *gin.Context) {
	uid := auth.MustUserID(c)
	var req subscribeReq
	if err := c.ShouldBindJSON(&req); err != nil {
		if validationErrors, ok := err.(validator.ValidationErrors); ok {
			httpx.Err(c, http.StatusBadRequest, utils.ValidationErr(validationErrors))
			return
		}
		httpx.Err(c, http.StatusBadRequest, err.Error())
		return
	}

	sub := Subscription{
		UserID:    uid,
		Endpoint:  req.Endpoint,
		P256dh:    req.P256dh,
		Auth:      req.Auth,
		UserAgent: c.GetHeader("User-Agent"),
	}
	if err := s.Subs.Upsert(c.Request.Context(), sub); err != nil {
		httpx.Err(c, http.StatusInternalServerError, "subscription save failed")
		return
	}
	httpx.OK(c, gin.H{"ok": true})
}

func (s Service) unsubscribe(c *gin.Context) {
	uid := auth.MustUserID(c)
	var req unsubscribeReq
	if err := c.ShouldBindJSON(&req); err != nil {
		httpx.Err(c, http.StatusBadRequest, err.Error())
		return
	}

	if err := s.Subs.DeleteByEndpoint(c.Request.Context(), uid, req.Endpoint); err != nil {
		httpx.Err(c, http.StatusInternalServerError, "unsubscribe failed")
		return
	}
	httpx.OK(c, gin.H{"ok": true})
}
