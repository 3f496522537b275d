// Package notify fans out enquiry notifications to email, WhatsApp and SMS.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/CampusKit/enquirybot/internal/models"
)

// Channel identifies a notification delivery channel.
type Channel string

// Supported channels.
const (
	ChannelEmail    Channel = "email"
	ChannelWhatsApp Channel = "whatsapp"
	ChannelSMS      Channel = "sms"
)

// Sender delivers one notification payload over one channel. Implementations
// own their retry behavior; the dispatcher only logs failures.
type Sender interface {
	Send(ctx context.Context, channel Channel, recipient, payload string) error
}

// Route binds a channel and recipient to a sender.
type Route struct {
	Channel   Channel
	Recipient string
	Sender    Sender
}

// Dispatcher fans a completed enquiry out to its configured routes.
type Dispatcher struct {
	routes []Route
}

// NewDispatcher creates a Dispatcher over a fixed route set.
func NewDispatcher(routes ...Route) *Dispatcher {
	return &Dispatcher{routes: routes}
}

// AddRoute appends a route. Not safe to call after dispatching begins.
func (d *Dispatcher) AddRoute(r Route) {
	d.routes = append(d.routes, r)
}

// NotifyEnquiry sends the new-enquiry notice to every route, fire-and-forget.
// Delivery failures are logged, never retried and never surfaced: the
// enquiry is already persisted, a missed notice is recoverable from the
// admin listing.
func (d *Dispatcher) NotifyEnquiry(enquiry models.Enquiry) {
	if len(d.routes) == 0 {
		return
	}
	payload := FormatEnquiry(enquiry)
	for _, route := range d.routes {
		go func(r Route) {
			if err := r.Sender.Send(context.Background(), r.Channel, r.Recipient, payload); err != nil {
				slog.Error("Dispatcher.NotifyEnquiry: send failed", "error", err,
					"channel", r.Channel, "enquiry_number", enquiry.EnquiryNumber)
				return
			}
			slog.Debug("Dispatcher.NotifyEnquiry: sent", "channel", r.Channel,
				"enquiry_number", enquiry.EnquiryNumber)
		}(route)
	}
}

// FormatEnquiry renders the plain-text notification body for an enquiry.
func FormatEnquiry(e models.Enquiry) string {
	body := fmt.Sprintf("New enquiry %s (%s)\n", e.EnquiryNumber, e.FlowType)
	if e.StudentName != "" {
		body += fmt.Sprintf("Student: %s\n", e.StudentName)
	}
	if e.ParentName != "" {
		body += fmt.Sprintf("Parent: %s\n", e.ParentName)
	}
	if e.Phone != "" {
		body += fmt.Sprintf("Phone: %s\n", e.Phone)
	}
	if e.Email != "" {
		body += fmt.Sprintf("Email: %s\n", e.Email)
	}
	if e.Grade != "" {
		body += fmt.Sprintf("Grade: %s", e.Grade)
		if e.Board != "" {
			body += fmt.Sprintf(" (%s)", e.Board)
		}
		body += "\n"
	}
	return body
}

// MockSender records sent notifications for tests. Safe for concurrent use;
// the dispatcher delivers from goroutines.
type MockSender struct {
	mu   sync.Mutex
	sent []SentNotification
	Err  error
}

// SentNotification is one recorded MockSender delivery.
type SentNotification struct {
	Channel   Channel
	Recipient string
	Payload   string
}

// Compile-time check that MockSender implements Sender.
var _ Sender = (*MockSender)(nil)

func (m *MockSender) Send(ctx context.Context, channel Channel, recipient, payload string) error {
	if m.Err != nil {
		return m.Err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, SentNotification{Channel: channel, Recipient: recipient, Payload: payload})
	return nil
}

// Sent returns a copy of the recorded deliveries.
func (m *MockSender) Sent() []SentNotification {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]SentNotification, len(m.sent))
	copy(out, m.sent)
	return out
}
