package notifications

import (
	"context"
	"fmt"
	"time"

	"github.com/bissquit/listing-dispatch/internal/domain"
)

// Dispatcher routes rendered notifications to the sender of their channel.
type Dispatcher struct {
	senders map[domain.ChannelType]Sender
}

// NewDispatcher creates a new notification dispatcher. Nil senders are skipped.
func NewDispatcher(senders ...Sender) *Dispatcher {
	senderMap := make(map[domain.ChannelType]Sender)
	for _, s := range senders {
		if s == nil {
			continue
		}
		senderMap[s.Type()] = s
	}
	return &Dispatcher{
		senders: senderMap,
	}
}

// Has reports whether a sender is registered for channelType.
func (d *Dispatcher) Has(channelType domain.ChannelType) bool {
	_, ok := d.senders[channelType]
	return ok
}

// Send delivers one notification over channelType.
func (d *Dispatcher) Send(ctx context.Context, channelType domain.ChannelType, notification Notification) error {
	sender, ok := d.senders[channelType]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNoSender, channelType)
	}

	start := time.Now()
	err := sender.Send(ctx, notification)
	recordDelivery(channelType, err, time.Since(start))

	if err != nil {
		return fmt.Errorf("send %s: %w", channelType, err)
	}
	return nil
}
