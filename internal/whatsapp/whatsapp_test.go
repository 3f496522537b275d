package whatsapp

import (
	"context"
	"testing"

	"github.com/CampusKit/enquirybot/internal/notify"
)

func TestSendMessageValidation(t *testing.T) {
	c := &Client{} // no underlying client
	if err := c.SendMessage(context.Background(), "919876543210", "hi"); err == nil {
		t.Error("expected error when client is not initialized")
	}
}

func TestSendRejectsOtherChannels(t *testing.T) {
	c := &Client{}
	if err := c.Send(context.Background(), notify.ChannelEmail, "a@b.example", "hi"); err == nil {
		t.Error("expected error for a non-whatsapp channel")
	}
}
