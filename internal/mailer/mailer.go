package mailer

import (
	"fmt"

	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"
)

// Mailer sends a best-effort email copy of a notification via SendGrid.
// New returns nil when no API key is configured; callers treat a nil
// mailer as "channel disabled".
type Mailer struct {
	client *sendgrid.Client
	from   string
}

func New(apiKey, from string) *Mailer {
	if apiKey == "" || from == "" {
		return nil
	}
	return &Mailer{
		client: sendgrid.NewSendClient(apiKey),
		from:   from,
	}
}

func (m *Mailer) Send(to, subject, body string) error {
	msg := mail.NewSingleEmail(
		mail.NewEmail("Sunomsi", m.from),
		subject,
		mail.NewEmail("", to),
		body,
		body,
	)
	resp, err := m.client.Send(msg)
	if err != nil {
		return err
	}
	if resp.StatusCode >= 400 {
		return fmt.Errorf("sendgrid returned %d", resp.StatusCode)
	}
	return nil
}
