package realtime

// ChangeEvent is the wire shape delivered to subscribed clients, mirroring
// the trigger contract the notifier consumes: an insert/update with before
// and after snapshots.
type ChangeEvent struct {
	Type      string `json:"type"` // "INSERT" or "UPDATE"
	Table     string `json:"table"`
	Record    any    `json:"record"`
	OldRecord any    `json:"old_record,omitempty"`
}

// clientFrame is what clients send upstream: subscription management for a
// conversation or task-comment scope, plus bare heartbeats.
type clientFrame struct {
	Type           string `json:"type"` // "subscribe" | "unsubscribe" | "heartbeat"
	ConversationID string `json:"conversation_id,omitempty"`
	TaskID         string `json:"task_id,omitempty"`
}

// scopeKey names the subscription a frame targets. Conversation and task
// scopes share one subs map, so task keys carry a prefix.
func (f clientFrame) scopeKey() string {
	if f.TaskID != "" {
		return "task:" + f.TaskID
	}
	return f.ConversationID
}
