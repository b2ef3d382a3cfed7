package notifications

import (
	"context"

	"github.com/bissquit/listing-dispatch/internal/domain"
)

// Notification is a rendered message addressed to one target of a channel.
// To holds an email address, a phone number, a chat ID or a webhook URL.
type Notification struct {
	To      string
	Subject string
	Body    string
}

// Sender delivers notifications over one channel type.
type Sender interface {
	Type() domain.ChannelType
	Send(ctx context.Context, notification Notification) error
}
