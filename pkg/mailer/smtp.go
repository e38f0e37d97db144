package mailer

import (
	"context"
	"fmt"
	"net/smtp"

	"github.com/ikkim/account-backend/pkg/logger"
)

// SMTPMailer sends mail through an authenticated SMTP relay.
type SMTPMailer struct {
	addr     string
	host     string
	username string
	password string
	from     string
	send     func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

func NewSMTPMailer(host, port, username, password, from string) (*SMTPMailer, error) {
	if host == "" || port == "" {
		return nil, fmt.Errorf("smtp host and port are required")
	}
	if username == "" || password == "" {
		return nil, fmt.Errorf("smtp credentials are required")
	}
	if from == "" {
		from = username
	}
	return &SMTPMailer{
		addr:     host + ":" + port,
		host:     host,
		username: username,
		password: password,
		from:     from,
		send:     smtp.SendMail,
	}, nil
}

func (m *SMTPMailer) Send(ctx context.Context, msg Message) error {
	if err := msg.validate(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	auth := smtp.PlainAuth("", m.username, m.password, m.host)
	if err := m.send(m.addr, auth, m.from, []string{msg.To}, m.build(msg)); err != nil {
		return fmt.Errorf("smtp send failed: %w", err)
	}

	logger.Debug("Email sent via SMTP", map[string]interface{}{
		"to":      msg.To,
		"subject": msg.Subject,
	})
	return nil
}

func (m *SMTPMailer) build(msg Message) []byte {
	return []byte(fmt.Sprintf(
		"From: %s\r\n"+
			"To: %s\r\n"+
			"Subject: %s\r\n"+
			"MIME-Version: 1.0\r\n"+
			"Content-Type: text/html; charset=UTF-8\r\n"+
			"\r\n"+
			"%s",
		m.from, msg.To, msg.Subject, msg.HTML,
	))
}
