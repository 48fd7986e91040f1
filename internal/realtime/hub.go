package realtime

import (
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/sunomsi/backend/internal/storage"
)

type Hub struct {
	DB *storage.DB

	register   chan *Client
	unregister chan *Client

	// userID -> set of client connections (handles multi-tab/multi-device)
	mu      sync.RWMutex
	clients map[string]map[*Client]bool
}

func NewHub(db *storage.DB) *Hub {
	return &Hub{
		DB:         db,
		register:   make(chan *Client),
		unregister: make(chan *Client),
		clients:    make(map[string]map[*Client]bool),
	}
}

func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.DB.Exec(`UPDATE users SET last_seen=? WHERE id=?`, time.Now().UTC(), client.UserID)
			h.mu.Lock()
			if h.clients[client.UserID] == nil {
				h.clients[client.UserID] = make(map[*Client]bool)
			}
			h.clients[client.UserID][client] = true
			h.mu.Unlock()
		case client := <-h.unregister:
			h.mu.Lock()
			if set, ok := h.clients[client.UserID]; ok {
				if _, ok := set[client]; ok {
					delete(set, client)
					close(client.Send)
					if len(set) == 0 {
						delete(h.clients, client.UserID)
						h.DB.Exec(`UPDATE users SET last_seen=? WHERE id=?`, time.Now().UTC(), client.UserID)
					}
				}
			}
			h.mu.Unlock()
		}
	}
}

// BroadcastConversation delivers a change event to both participants of a
// conversation. Message events go only to clients subscribed to that
// conversation's scope; conversation events go to every connection.
func (h *Hub) BroadcastConversation(conversationID string, ev ChangeEvent) {
	var ua, ub string
	if err := h.DB.QueryRow(`SELECT user_a, user_b FROM conversations WHERE id=?`, conversationID).Scan(&ua, &ub); err != nil {
		log.Printf("[hub] failed to fetch participants for conversation %s: %v", conversationID, err)
		return
	}

	payload, err := json.Marshal(ev)
	if err != nil {
		log.Printf("[hub] failed to marshal change event: %v", err)
		return
	}

	scoped := ev.Table == "messages"
	for _, uid := range []string{ua, ub} {
		h.sendToUser(uid, conversationID, scoped, payload)
	}
}

// BroadcastTask delivers a change event to every client watching the
// task's comment scope, regardless of user.
func (h *Hub) BroadcastTask(taskID string, ev ChangeEvent) {
	payload, err := json.Marshal(ev)
	if err != nil {
		log.Printf("[hub] failed to marshal change event: %v", err)
		return
	}

	scope := "task:" + taskID
	h.mu.Lock()
	defer h.mu.Unlock()
	for uid, set := range h.clients {
		for client := range set {
			if !client.subscribed(scope) {
				continue
			}
			select {
			case client.Send <- payload:
			default:
				h.drop(uid, set, client)
			}
		}
	}
}

func (h *Hub) sendToUser(userID, conversationID string, scoped bool, payload []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.clients[userID]
	if !ok {
		return
	}
	for client := range set {
		if scoped && !client.subscribed(conversationID) {
			continue
		}
		select {
		case client.Send <- payload:
		default:
			h.drop(userID, set, client)
		}
	}
}

// drop removes a slow/broken client the same way unregister does,
// including the empty-set cleanup so presence does not leak. The dropped
// client's own unregister then finds nothing left to do. Caller holds h.mu.
func (h *Hub) drop(userID string, set map[*Client]bool, client *Client) {
	close(client.Send)
	delete(set, client)
	log.Printf("[hub] dropped slow client for user %s", userID)
	if len(set) == 0 {
		delete(h.clients, userID)
		h.DB.Exec(`UPDATE users SET last_seen=? WHERE id=?`, time.Now().UTC(), userID)
	}
}
