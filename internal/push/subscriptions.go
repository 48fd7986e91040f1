package push

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/sunomsi/backend/internal/storage"
)

// Subscription is one browser/device push registration. A user may hold
// several; uniqueness is per (user, endpoint).
type Subscription struct {
	ID        string `json:"id"`
	UserID    string `json:"user_id"`
	Endpoint  string `json:"endpoint"`
	P256dh    string `json:"p256dh"`
	Auth      string `json:"auth"`
	UserAgent string `json:"user_agent"`
}

type SubscriptionStore struct {
	DB *storage.DB
}

func (s *SubscriptionStore) Upsert(ctx context.Context, sub Subscription) error {
	_, err := s.DB.ExecContext(ctx, `
		INSERT INTO push_subscriptions (id, user_id, endpoint, p256dh, auth, user_agent, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (user_id, endpoint) DO UPDATE SET p256dh=excluded.p256dh, auth=excluded.auth, user_agent=excluded.user_agent`,
		uuid.NewString(), sub.UserID, sub.Endpoint, sub.P256dh, sub.Auth, sub.UserAgent, time.Now().UTC())
	return err
}

func (s *SubscriptionStore) ListForUser(ctx context.Context, userID string) ([]Subscription, error) {
	rows, err := s.DB.QueryContext(ctx, `
		SELECT id, user_id, endpoint, p256dh, auth, user_agent
		FROM push_subscriptions WHERE user_id=?`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var list []Subscription
	for rows.Next() {
		var sub Subscription
		if err := rows.Scan(&sub.ID, &sub.UserID, &sub.Endpoint, &sub.P256dh, &sub.Auth, &sub.UserAgent); err != nil {
			return nil, err
		}
		list = append(list, sub)
	}
	return list, rows.Err()
}

func (s *SubscriptionStore) Delete(ctx context.Context, id string) error {
	_, err := s.DB.ExecContext(ctx, `DELETE FROM push_subscriptions WHERE id=?`, id)
	return err
}

func (s *SubscriptionStore) DeleteByEndpoint(ctx context.Context, userID, endpoint string) error {
	_, err := s.DB.ExecContext(ctx, `DELETE FROM push_subscriptions WHERE user_id=? AND endpoint=?`, userID, endpoint)
	return err
}
