package notifier

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sunomsi/backend/internal/mailer"
	"github.com/sunomsi/backend/internal/push"
	"github.com/sunomsi/backend/internal/storage"
)

// Notifier turns one database change event into an in-app notification
// record plus best-effort push (and optionally email) delivery. The
// notification row is authoritative: it is written whether or not any
// push subscription exists or any delivery succeeds.
type Notifier struct {
	DB     *storage.DB
	Subs   *push.SubscriptionStore
	Sender push.Sender
	Mail   *mailer.Mailer // nil when the email channel is disabled
}

func New(db *storage.DB, sender push.Sender, mail *mailer.Mailer) *Notifier {
	return &Notifier{
		DB:     db,
		Subs:   &push.SubscriptionStore{DB: db},
		Sender: sender,
		Mail:   mail,
	}
}

// notification is the resolved target + content for one event.
type notification struct {
	UserID string
	Title  string
	Body   string
	URL    string
}

// Process handles one change event end to end. Lookup misses and delivery
// failures are benign: once the event is parsed, the invocation succeeds
// no matter how little could be done with it.
func (n *Notifier) Process(ctx context.Context, ev ChangeEvent) error {
	kind := Classify(ev)
	if kind == KindNone {
		slog.Info("notifier: event skipped", "type", ev.Type)
		return nil
	}

	note, ok := n.resolve(ctx, kind, ev)
	if !ok {
		slog.Info("notifier: no target user identified, skipping", "kind", kind.String())
		return nil
	}

	// The in-app history row comes first and is written even when push
	// delivery is impossible; a failed write is logged but doesn't stop
	// the fan-out.
	if err := n.store(ctx, note); err != nil {
		slog.Error("notifier: store notification failed", "err", err)
	}

	n.email(ctx, note)
	n.fanout(ctx, note)
	return nil
}

// resolve maps a classified event to its target user and content.
// A false return means the event is a no-op, not an error.
func (n *Notifier) resolve(ctx context.Context, kind Kind, ev ChangeEvent) (notification, bool) {
	switch kind {
	case KindMessage:
		var ua, ub string
		err := n.DB.QueryRowContext(ctx, `SELECT user_a, user_b FROM conversations WHERE id=?`,
			ev.Record.ConversationID).Scan(&ua, &ub)
		if err != nil {
			n.miss("conversation lookup", err)
			return notification{}, false
		}
		target := ua
		if target == ev.Record.SenderID {
			target = ub
		}
		if target == ev.Record.SenderID {
			return notification{}, false
		}

		title := "New Message"
		var senderName string
		if err := n.DB.QueryRowContext(ctx, `SELECT display_name FROM users WHERE id=?`,
			ev.Record.SenderID).Scan(&senderName); err == nil && senderName != "" {
			title = senderName
		}
		body := ev.Record.Body
		if body == "" {
			body = "Sent you a photo"
		}
		return notification{
			UserID: target,
			Title:  title,
			Body:   body,
			URL:    "/messages/" + ev.Record.ConversationID,
		}, true

	case KindOffer:
		var createdBy, taskTitle string
		err := n.DB.QueryRowContext(ctx, `SELECT created_by, title FROM tasks WHERE id=?`,
			ev.Record.TaskID).Scan(&createdBy, &taskTitle)
		if err != nil {
			n.miss("task lookup", err)
			return notification{}, false
		}
		return notification{
			UserID: createdBy,
			Title:  "New Offer!",
			Body:   fmt.Sprintf("Someone offered ₹%.0f for %q", ev.Record.OfferPrice, taskTitle),
			URL:    "/tasks/" + ev.Record.TaskID,
		}, true

	case KindOfferAccepted:
		if ev.Record.WorkerID == "" {
			return notification{}, false
		}
		return notification{
			UserID: ev.Record.WorkerID,
			Title:  "Offer Accepted! 🎉",
			Body:   "Congratulations! Your offer has been accepted.",
			URL:    "/tasks/" + ev.Record.TaskID,
		}, true

	case KindTaskCompleted:
		// The task row carries no worker; find the accepted offer.
		var workerID string
		err := n.DB.QueryRowContext(ctx,
			`SELECT worker_id FROM applications WHERE task_id=? AND status='accepted'`,
			ev.Record.ID).Scan(&workerID)
		if err != nil {
			n.miss("accepted application lookup", err)
			return notification{}, false
		}
		return notification{
			UserID: workerID,
			Title:  "Job Completed ✅",
			Body:   fmt.Sprintf("%q has been marked as completed.", ev.Record.Title),
			URL:    "/tasks/" + ev.Record.ID,
		}, true

	case KindReview:
		if ev.Record.WorkerID == "" {
			return notification{}, false
		}
		return notification{
			UserID: ev.Record.WorkerID,
			Title:  "New Review ⭐",
			Body:   fmt.Sprintf("You received a %d-star review!", ev.Record.Rating),
			URL:    "/profile",
		}, true
	}
	return notification{}, false
}

func (n *Notifier) miss(what string, err error) {
	if errors.Is(err, sql.ErrNoRows) {
		slog.Info("notifier: "+what+" missed", "err", err)
		return
	}
	slog.Error("notifier: "+what+" failed", "err", err)
}

func (n *Notifier) store(ctx context.Context, note notification) error {
	_, err := n.DB.ExecContext(ctx, `
		INSERT INTO notifications (id, user_id, title, body, url, is_read, created_at)
		VALUES (?, ?, ?, ?, ?, 0, ?)`,
		uuid.NewString(), note.UserID, note.Title, note.Body, note.URL, time.Now().UTC())
	return err
}

func (n *Notifier) email(ctx context.Context, note notification) {
	if n.Mail == nil {
		return
	}
	var to string
	if err := n.DB.QueryRowContext(ctx, `SELECT email FROM users WHERE id=?`, note.UserID).Scan(&to); err != nil || to == "" {
		return
	}
	if err := n.Mail.Send(to, note.Title, note.Body); err != nil {
		slog.Warn("notifier: email copy failed", "err", err)
	}
}

// fanout pushes to every registered endpoint in parallel. Endpoints the
// push service reports gone are deleted; every other failure is logged
// and swallowed. Returns once all attempts have settled.
func (n *Notifier) fanout(ctx context.Context, note notification) {
	subs, err := n.Subs.ListForUser(ctx, note.UserID)
	if err != nil {
		slog.Error("notifier: subscription lookup failed", "err", err)
		return
	}
	if len(subs) == 0 {
		slog.Info("notifier: no subscriptions for user", "user", note.UserID)
		return
	}

	payload, err := json.Marshal(map[string]string{
		"title": note.Title,
		"body":  note.Body,
		"url":   note.URL,
	})
	if err != nil {
		slog.Error("notifier: payload marshal failed", "err", err)
		return
	}

	var wg sync.WaitGroup
	for _, sub := range subs {
		wg.Add(1)
		go func(sub push.Subscription) {
			defer wg.Done()
			err := n.Sender.Send(ctx, sub, payload)
			switch {
			case err == nil:
			case errors.Is(err, push.ErrSubscriptionGone):
				slog.Info("notifier: pruning dead subscription", "id", sub.ID)
				if err := n.Subs.Delete(ctx, sub.ID); err != nil {
					slog.Error("notifier: prune failed", "id", sub.ID, "err", err)
				}
			default:
				slog.Warn("notifier: push delivery failed", "id", sub.ID, "err", err)
			}
		}(sub)
	}
	wg.Wait()
}

// DispatchInsert and DispatchUpdate are the in-process stand-ins for the
// database trigger: marshal the mutated record through the same wire shape
// the HTTP trigger delivers and process it off the request path.
func (n *Notifier) DispatchInsert(record any) {
	n.dispatch("INSERT", record, nil)
}

func (n *Notifier) DispatchUpdate(record, old any) {
	n.dispatch("UPDATE", record, old)
}

func (n *Notifier) dispatch(typ string, record, old any) {
	ev := ChangeEvent{Type: typ}
	if !reencode(record, &ev.Record) {
		return
	}
	if old != nil && !reencode(old, &ev.OldRecord) {
		return
	}
	go func() {
		if err := n.Process(context.Background(), ev); err != nil {
			slog.Error("notifier: dispatch failed", "err", err)
		}
	}()
}

func reencode(v any, dst *Record) bool {
	b, err := json.Marshal(v)
	if err != nil {
		slog.Error("notifier: record marshal failed", "err", err)
		return false
	}
	if err := json.Unmarshal(b, dst); err != nil {
		slog.Error("notifier: record decode failed", "err", err)
		return false
	}
	return true
}
