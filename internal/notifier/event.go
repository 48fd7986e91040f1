package notifier

// ChangeEvent is the trigger payload: an insert/update with before and
// after snapshots of the row.
type ChangeEvent struct {
	Type      string `json:"type"` // "INSERT" or "UPDATE"
	Record    Record `json:"record"`
	OldRecord Record `json:"old_record"`
}

// Record is the union of the row fields classification and target
// resolution care about, across all watched tables. Absent fields stay
// zero-valued.
type Record struct {
	ID             string  `json:"id"`
	ConversationID string  `json:"conversation_id"`
	SenderID       string  `json:"sender_id"`
	Body           string  `json:"body"`
	TaskID         string  `json:"task_id"`
	OfferPrice     float64 `json:"offer_price"`
	Status         string  `json:"status"`
	WorkerID       string  `json:"worker_id"`
	Rating         int     `json:"rating"`
	Title          string  `json:"title"`
}

// Kind is the event's classification, decided exactly once at the
// boundary. Downstream handling dispatches on it and never re-inspects
// the record shape.
type Kind int

const (
	KindNone Kind = iota
	KindMessage
	KindOffer
	KindOfferAccepted
	KindTaskCompleted
	KindReview
)

func (k Kind) String() string {
	switch k {
	case KindMessage:
		return "message"
	case KindOffer:
		return "offer"
	case KindOfferAccepted:
		return "offer_accepted"
	case KindTaskCompleted:
		return "task_completed"
	case KindReview:
		return "review"
	default:
		return "none"
	}
}

// Classify pattern-matches event type + record shape, first match wins.
// Status transitions only count when the old record was in a different
// state, so re-saving an accepted offer stays silent.
func Classify(ev ChangeEvent) Kind {
	switch {
	case ev.Type == "INSERT" && ev.Record.ConversationID != "" && ev.Record.SenderID != "":
		return KindMessage
	case ev.Type == "INSERT" && ev.Record.TaskID != "" && ev.Record.OfferPrice > 0:
		return KindOffer
	case ev.Type == "UPDATE" && ev.Record.Status == "accepted" && ev.OldRecord.Status != "accepted":
		return KindOfferAccepted
	case ev.Type == "UPDATE" && ev.Record.Status == "completed" && ev.OldRecord.Status != "completed" && ev.Record.Title != "":
		return KindTaskCompleted
	case ev.Type == "INSERT" && ev.Record.Rating > 0:
		return KindReview
	default:
		return KindNone
	}
}
