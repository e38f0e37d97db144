// Package mailer delivers transactional emails. Implementations are
// interchangeable behind the Mailer interface and selected from config.
package mailer

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/ikkim/account-backend/pkg/logger"
)

var ErrInvalidMessage = errors.New("mail message requires a recipient and a subject")

// Message is a single HTML email.
type Message struct {
	To      string
	Subject string
	HTML    string
}

func (m Message) validate() error {
	if strings.TrimSpace(m.To) == "" || strings.TrimSpace(m.Subject) == "" {
		return ErrInvalidMessage
	}
	return nil
}

type Mailer interface {
	Send(ctx context.Context, msg Message) error
}

// LogMailer writes messages to the log instead of delivering them.
// Used in development when no provider is configured.
type LogMailer struct{}

func NewLogMailer() *LogMailer {
	return &LogMailer{}
}

func (m *LogMailer) Send(ctx context.Context, msg Message) error {
	if err := msg.validate(); err != nil {
		return err
	}
	logger.Info("[DEV MODE] Email not delivered", map[string]interface{}{
		"to":      msg.To,
		"subject": msg.Subject,
		"bytes":   len(msg.HTML),
	})
	return nil
}

// Options selects and configures a Mailer.
type Options struct {
	Provider     string // log, smtp, resend
	From         string
	SMTPHost     string
	SMTPPort     string
	SMTPUsername string
	SMTPPassword string
	ResendAPIKey string
	MaxAttempts  int
}

// New builds the configured Mailer wrapped with bounded retries.
func New(opts Options) (Mailer, error) {
	var base Mailer
	switch opts.Provider {
	case "", "log":
		return NewLogMailer(), nil
	case "smtp":
		m, err := NewSMTPMailer(opts.SMTPHost, opts.SMTPPort, opts.SMTPUsername, opts.SMTPPassword, opts.From)
		if err != nil {
			return nil, err
		}
		base = m
	case "resend":
		m, err := NewResendMailer(opts.ResendAPIKey, opts.From)
		if err != nil {
			return nil, err
		}
		base = m
	default:
		return nil, fmt.Errorf("unknown mail provider %q", opts.Provider)
	}
	return NewRetryingMailer(base, opts.MaxAttempts), nil
}
