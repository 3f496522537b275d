package notify

import (
	"context"
	"fmt"
	"log/slog"
	"net/smtp"
	"os"
	"strings"
)

// SMTPOpts holds configuration options for the SMTP email sender.
type SMTPOpts struct {
	Host     string
	Port     string
	Username string
	Password string
	From     string
}

// SMTPOption defines a configuration option for the SMTP email sender.
type SMTPOption func(*SMTPOpts)

// WithSMTPHost sets the SMTP server host.
func WithSMTPHost(host string) SMTPOption {
	return func(o *SMTPOpts) { o.Host = host }
}

// WithSMTPPort sets the SMTP server port.
func WithSMTPPort(port string) SMTPOption {
	return func(o *SMTPOpts) { o.Port = port }
}

// WithSMTPAuth sets the SMTP credentials.
func WithSMTPAuth(username, password string) SMTPOption {
	return func(o *SMTPOpts) {
		o.Username = username
		o.Password = password
	}
}

// WithSMTPFrom sets the From address.
func WithSMTPFrom(from string) SMTPOption {
	return func(o *SMTPOpts) { o.From = from }
}

// EmailSender delivers email notifications over SMTP.
type EmailSender struct {
	addr string
	auth smtp.Auth
	from string
	send func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

// Compile-time check that EmailSender implements Sender.
var _ Sender = (*EmailSender)(nil)

// NewEmailSender creates an SMTP-backed sender. Settings fall back to the
// SMTP_* environment variables when not provided via options.
func NewEmailSender(opts ...SMTPOption) (*EmailSender, error) {
	var cfg SMTPOpts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Host == "" {
		cfg.Host = os.Getenv("SMTP_HOST")
	}
	if cfg.Port == "" {
		cfg.Port = os.Getenv("SMTP_PORT")
	}
	if cfg.Username == "" {
		cfg.Username = os.Getenv("SMTP_USERNAME")
	}
	if cfg.Password == "" {
		cfg.Password = os.Getenv("SMTP_PASSWORD")
	}
	if cfg.From == "" {
		cfg.From = os.Getenv("SMTP_FROM")
	}
	if cfg.Host == "" {
		return nil, fmt.Errorf("SMTP host must be provided")
	}
	if cfg.Port == "" {
		cfg.Port = "587"
	}
	if cfg.From == "" {
		cfg.From = cfg.Username
	}

	var auth smtp.Auth
	if cfg.Username != "" {
		auth = smtp.PlainAuth("", cfg.Username, cfg.Password, cfg.Host)
	}
	return &EmailSender{
		addr: cfg.Host + ":" + cfg.Port,
		auth: auth,
		from: cfg.From,
		send: smtp.SendMail,
	}, nil
}

// Send delivers one plain-text email. The first line of the payload after
// the standard subject prefix becomes part of the subject.
func (e *EmailSender) Send(ctx context.Context, channel Channel, recipient, payload string) error {
	if channel != ChannelEmail {
		return fmt.Errorf("email sender does not handle channel %s", channel)
	}

	subject := "New admission enquiry"
	if first, _, ok := strings.Cut(payload, "\n"); ok && first != "" {
		subject = first
	}
	msg := fmt.Sprintf("From: %s\r\nTo: %s\r\nSubject: %s\r\n\r\n%s\r\n",
		e.from, recipient, subject, payload)

	if err := e.send(e.addr, e.auth, e.from, []string{recipient}, []byte(msg)); err != nil {
		slog.Error("EmailSender.Send failed", "to", recipient, "error", err)
		return fmt.Errorf("failed to send email to %s: %w", recipient, err)
	}
	slog.Debug("Email sent", "to", recipient)
	return nil
}
