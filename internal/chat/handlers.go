package chat

import (
	"database/sql"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/sunomsi/backend/internal/auth"
	"github.com/sunomsi/backend/internal/httpx"
	"github.com/sunomsi/backend/internal/presence"
	"github.com/sunomsi/backend/internal/realtime"
	"github.com/sunomsi/backend/internal/storage"
	"github.com/sunomsi/backend/internal/utils"
)

// EventDispatcher receives freshly persisted records for notification
// fan-out. Satisfied by the notifier.
type EventDispatcher interface {
	DispatchInsert(record any)
}

type Service struct {
	Store  *Store
	Hub    *realtime.Hub
	Events EventDispatcher
}

type resolveReq struct {
	OtherUserID string `json:"other_user_id" binding:"required"`
}

type sendReq struct {
	ConversationID string `json:"conversation_id" binding:"required"`
	Body           string `json:"body" binding:"required"`
}

func Register(rg *gin.RouterGroup, db *storage.DB, hub *realtime.Hub, events EventDispatcher) {
	s := Service{
		Store:  &Store{DB: db},
		Hub:    hub,
		Events: events,
	}
	rg.POST("/conversations", s.resolve)
	rg.GET("/conversations", s.listMine)
	rg.GET("/conversations/:id/messages", s.listMessages)
	rg.POST("/conversations/:id/read", s.markRead)
	rg.POST("/messages", s.send)
}

func (s Service) resolve(c *gin.Context) {
	uid := auth.MustUserID(c)
	var req resolveReq
	if err := c.ShouldBindJSON(&req); err != nil {
		if validationErrors, ok := err.(validator.ValidationErrors); ok {
			httpx.Err(c, http.StatusBadRequest, utils.ValidationErr(validationErrors))
			return
		}
		httpx.Err(c, http.StatusBadRequest, err.Error())
		return
	}
	if req.OtherUserID == uid {
		httpx.Err(c, http.StatusBadRequest, "cannot chat with yourself")
		return
	}

	id, err := s.Store.ResolveConversation(c.Request.Context(), uid, req.OtherUserID)
	if err != nil {
		httpx.Err(c, http.StatusInternalServerError, "resolve conversation failed")
		return
	}
	httpx.OK(c, gin.H{"conversation_id": id})
}

func (s Service) listMine(c *gin.Context) {
	uid := auth.MustUserID(c)

	list, err := s.Store.ConversationsFor(c.Request.Context(), uid)
	if err != nil {
		httpx.Err(c, http.StatusInternalServerError, "failed to fetch conversations")
		return
	}

	now := time.Now().UTC()
	out := make([]gin.H, 0, len(list))
	for _, sm := range list {
		var lastSeen time.Time
		if sm.OtherLastSeen.Valid {
			lastSeen = sm.OtherLastSeen.Time
		}
		out = append(out, gin.H{
			"id":              sm.ID,
			"last_message":    sm.LastMessage,
			"last_message_at": sm.LastMessageAt,
			"unread":          sm.Unread[uid],
			"other_user": gin.H{
				"id":           sm.OtherUserID,
				"display_name": sm.OtherUserName,
				"avatar_url":   sm.OtherAvatar,
				"presence":     presence.Text(lastSeen, now),
			},
		})
	}
	httpx.OK(c, gin.H{"conversations": out})
}

func (s Service) listMessages(c *gin.Context) {
	uid := auth.MustUserID(c)
	cid := c.Param("id")

	ok, err := s.Store.IsParticipant(c.Request.Context(), cid, uid)
	if err != nil || !ok {
		httpx.Err(c, http.StatusForbidden, "not a participant")
		return
	}

	msgs, err := s.Store.Messages(c.Request.Context(), cid)
	if err != nil {
		httpx.Err(c, http.StatusInternalServerError, "db error")
		return
	}
	httpx.OK(c, gin.H{"messages": msgs})
}

func (s Service) markRead(c *gin.Context) {
	uid := auth.MustUserID(c)
	cid := c.Param("id")

	if err := s.Store.MarkRead(c.Request.Context(), cid, uid); err != nil {
		httpx.Err(c, http.StatusInternalServerError, "db error")
		return
	}
	httpx.OK(c, gin.H{"ok": true})
}

func (s Service) send(c *gin.Context) {
	uid := auth.MustUserID(c)
	var req sendReq
	if err := c.ShouldBindJSON(&req); err != nil {
		if validationErrors, ok := err.(validator.ValidationErrors); ok {
			httpx.Err(c, http.StatusBadRequest, utils.ValidationErr(validationErrors))
			return
		}
		httpx.Err(c, http.StatusBadRequest, err.Error())
		return
	}

	ok, err := s.Store.IsParticipant(c.Request.Context(), req.ConversationID, uid)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			httpx.Err(c, http.StatusNotFound, "conversation not found")
			return
		}
		httpx.Err(c, http.StatusInternalServerError, "db error")
		return
	}
	if !ok {
		httpx.Err(c, http.StatusForbidden, "not a participant")
		return
	}

	msg, err := s.Store.InsertMessage(c.Request.Context(), req.ConversationID, uid, req.Body)
	if err != nil {
		httpx.Err(c, http.StatusBadRequest, "insert failed")
		return
	}

	// Realtime fan-out to the other participant (and the sender's other
	// devices), then best-effort notification dispatch.
	s.Hub.BroadcastConversation(msg.ConversationID, realtime.ChangeEvent{
		Type:   "INSERT",
		Table:  "messages",
		Record: msg,
	})
	s.Events.DispatchInsert(msg)

	httpx.OK(c, msg)
}
