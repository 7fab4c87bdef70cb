package alerts

import (
	"context"
	"fmt"
	"time"

	gomail "github.com/wneessen/go-mail"

	"leadflow_backend/platform/config"
)

// EmailSender delivers alerts over SMTP. The notification target is the
// recipient address (a manager or escalation contact).
type EmailSender struct {
	host      string
	port      int
	username  string
	password  string
	fromEmail string
}

func NewEmailSender(cfg config.AlertConfig) *EmailSender {
	return &EmailSender{
		host:      cfg.GetSMTPHost(),
		port:      cfg.GetSMTPPort(),
		username:  cfg.GetSMTPUsername(),
		password:  cfg.GetSMTPPassword(),
		fromEmail: cfg.GetAlertFromAddress(),
	}
}

func (s *EmailSender) Send(ctx context.Context, n Notification) error {
	if s.host == "" {
		return fmt.Errorf("smtp host not configured")
	}
	if n.Target == "" {
		return fmt.Errorf("no recipient address for email alert")
	}

	msg := gomail.NewMsg()
	if err := msg.From(s.fromEmail); err != nil {
		return fmt.Errorf("smtp from: %w", err)
	}
	if err := msg.To(n.Target); err != nil {
		return fmt.Errorf("smtp to: %w", err)
	}
	msg.Subject(n.Title)
	msg.SetBodyString(gomail.TypeTextPlain, n.Body)

	client, err := gomail.NewClient(s.host,
		gomail.WithPort(s.port),
		gomail.WithSMTPAuth(gomail.SMTPAuthPlain),
		gomail.WithUsername(s.username),
		gomail.WithPassword(s.password),
		gomail.WithTLSPortPolicy(gomail.TLSOpportunistic),
		gomail.WithTimeout(15*time.Second),
	)
	if err != nil {
		return fmt.Errorf("smtp client: %w", err)
	}

	if err := client.DialAndSendWithContext(ctx, msg); err != nil {
		return fmt.Errorf("smtp send: %w", err)
	}
	return nil
}
