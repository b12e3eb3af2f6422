package channel

import (
	"context"
	"errors"
	"fmt"

	"github.com/mrz1836/postmark"
	"gopkg.in/gomail.v2"

	"github.com/freightlane/notify-api/internal/model"
)

// EmailMessage is the provider-neutral shape handed to a Mailer.
type EmailMessage struct {
	To       string
	Subject  string
	TextBody string
	HTMLBody string
	Tag      string
}

// Mailer is the narrow capability an email provider exposes.
type Mailer interface {
	SendEmail(ctx context.Context, msg EmailMessage) (messageID string, err error)
}

type EmailBackend struct {
	mailer Mailer
}

func NewEmailBackend(mailer Mailer) *EmailBackend {
	return &EmailBackend{mailer: mailer}
}

func (b *EmailBackend) Send(ctx context.Context, msg *Message) (*Result, error) {
	id, err := b.mailer.SendEmail(ctx, EmailMessage{
		To:       msg.Recipient.Email,
		Subject:  msg.Title(),
		TextBody: msg.Body(),
		HTMLBody: msg.Content[model.ContentHTML],
		Tag:      string(msg.Notification.NotificationKind),
	})
	if err != nil {
		return nil, err
	}
	return &Result{ProviderMessageID: id}, nil
}

type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

// SMTPMailer sends through a plain SMTP relay.
type SMTPMailer struct {
	dialer *gomail.Dialer
	from   string
}

func NewSMTPMailer(cfg SMTPConfig) (*SMTPMailer, error) {
	if cfg.Host == "" || cfg.From == "" {
		return nil, errors.New("smtp mailer requires host and from address")
	}
	return &SMTPMailer{
		dialer: gomail.NewDialer(cfg.Host, cfg.Port, cfg.Username, cfg.Password),
		from:   cfg.From,
	}, nil
}

func (m *SMTPMailer) SendEmail(ctx context.Context, msg EmailMessage) (string, error) {
	em := gomail.NewMessage()
	em.SetHeader("From", m.from)
	em.SetHeader("To", msg.To)
	em.SetHeader("Subject", msg.Subject)
	em.SetBody("text/plain", msg.TextBody)
	if msg.HTMLBody != "" {
		em.AddAlternative("text/html", msg.HTMLBody)
	}

	// gomail has no context support; give up on the caller's deadline and let the
	// dial finish in the background.
	done := make(chan error, 1)
	go func() { done <- m.dialer.DialAndSend(em) }()

	select {
	case err := <-done:
		if err != nil {
			return "", fmt.Errorf("smtp send failed: %w", err)
		}
		return "", nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

type PostmarkConfig struct {
	ServerToken  string
	AccountToken string
	From         string
}

// PostmarkMailer sends through the Postmark transactional API.
type PostmarkMailer struct {
	client *postmark.Client
	from   string
}

func NewPostmarkMailer(cfg PostmarkConfig) (*PostmarkMailer, error) {
	if cfg.ServerToken == "" {
		return nil, errors.New("postmark mailer requires a server token")
	}
	if cfg.From == "" {
		return nil, errors.New("postmark mailer requires a from address")
	}
	return &PostmarkMailer{
		client: postmark.NewClient(cfg.ServerToken, cfg.AccountToken),
		from:   cfg.From,
	}, nil
}

func (m *PostmarkMailer) SendEmail(ctx context.Context, msg EmailMessage) (string, error) {
	resp, err := m.client.SendEmail(ctx, postmark.Email{
		From:       m.from,
		To:         msg.To,
		Subject:    msg.Subject,
		Tag:        msg.Tag,
		TextBody:   msg.TextBody,
		HTMLBody:   msg.HTMLBody,
		TrackOpens: true,
	})
	if err != nil {
		return "", fmt.Errorf("postmark send failed: %w", err)
	}
	if resp.ErrorCode > 0 {
		return "", fmt.Errorf("postmark error: %d - %s", resp.ErrorCode, resp.Message)
	}
	return resp.MessageID, nil
}
