package notify

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/twilio/twilio-go"
	twilioApi "github.com/twilio/twilio-go/rest/api/v2010"
)

// TwilioOpts holds configuration options for the Twilio sender.
type TwilioOpts struct {
	AccountSID string
	AuthToken  string
	FromSMS    string
	FromWhats  string
}

// TwilioOption defines a configuration option for the Twilio sender.
type TwilioOption func(*TwilioOpts)

// WithAccountSID sets the Twilio account SID.
func WithAccountSID(sid string) TwilioOption {
	return func(o *TwilioOpts) { o.AccountSID = sid }
}

// WithAuthToken sets the Twilio auth token.
func WithAuthToken(token string) TwilioOption {
	return func(o *TwilioOpts) { o.AuthToken = token }
}

// WithFromSMS sets the SMS sender number.
func WithFromSMS(from string) TwilioOption {
	return func(o *TwilioOpts) { o.FromSMS = from }
}

// WithFromWhats sets the WhatsApp sender number.
func WithFromWhats(from string) TwilioOption {
	return func(o *TwilioOpts) { o.FromWhats = from }
}

// TwilioSender delivers WhatsApp and SMS notifications through the Twilio
// REST API.
type TwilioSender struct {
	client    *twilio.RestClient
	fromSMS   string
	fromWhats string // "whatsapp:+1234567890" format
}

// Compile-time check that TwilioSender implements Sender.
var _ Sender = (*TwilioSender)(nil)

// NewTwilioSender creates a Twilio-backed sender. Credentials fall back to
// the TWILIO_* environment variables when not provided via options.
func NewTwilioSender(opts ...TwilioOption) (*TwilioSender, error) {
	var cfg TwilioOpts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.AccountSID == "" {
		cfg.AccountSID = os.Getenv("TWILIO_ACCOUNT_SID")
	}
	if cfg.AuthToken == "" {
		cfg.AuthToken = os.Getenv("TWILIO_AUTH_TOKEN")
	}
	if cfg.FromSMS == "" {
		cfg.FromSMS = os.Getenv("TWILIO_FROM_SMS")
	}
	if cfg.FromWhats == "" {
		cfg.FromWhats = os.Getenv("TWILIO_FROM_WHATSAPP")
	}
	slog.Debug("Twilio sender config loaded",
		"AccountSID_set", cfg.AccountSID != "",
		"AuthToken_set", cfg.AuthToken != "",
		"FromSMS_set", cfg.FromSMS != "",
		"FromWhats_set", cfg.FromWhats != "")

	if cfg.AccountSID == "" || cfg.AuthToken == "" {
		return nil, fmt.Errorf("account SID and auth token must be provided")
	}

	client := twilio.NewRestClientWithParams(
		twilio.ClientParams{
			Username: cfg.AccountSID,
			Password: cfg.AuthToken,
		},
	)
	return &TwilioSender{client: client, fromSMS: cfg.FromSMS, fromWhats: cfg.FromWhats}, nil
}

// Send delivers one message over WhatsApp or SMS.
func (t *TwilioSender) Send(ctx context.Context, channel Channel, recipient, payload string) error {
	params := &twilioApi.CreateMessageParams{}
	params.SetBody(payload)

	switch channel {
	case ChannelWhatsApp:
		if t.fromWhats == "" {
			return fmt.Errorf("no WhatsApp sender number configured")
		}
		params.SetTo("whatsapp:" + recipient)
		params.SetFrom(t.fromWhats)
	case ChannelSMS:
		if t.fromSMS == "" {
			return fmt.Errorf("no SMS sender number configured")
		}
		params.SetTo(recipient)
		params.SetFrom(t.fromSMS)
	default:
		return fmt.Errorf("twilio sender does not handle channel %s", channel)
	}

	if _, err := t.client.Api.CreateMessage(params); err != nil {
		slog.Error("TwilioSender.Send failed", "channel", channel, "to", recipient, "error", err)
		return fmt.Errorf("failed to send %s notification to %s: %w", channel, recipient, err)
	}
	slog.Debug("Twilio message sent", "channel", channel, "to", recipient)
	return nil
}
