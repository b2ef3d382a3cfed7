package notifications

import (
	"context"
	"errors"
	"time"

	"github.com/bissquit/listing-dispatch/internal/assignment"
	"github.com/bissquit/listing-dispatch/internal/domain"
	"github.com/bissquit/listing-dispatch/internal/pkg/ctxlog"
)

// OfferNotifier delivers assignment offers to agents over every channel
// they can be reached on. It implements assignment.Notifier.
type OfferNotifier struct {
	renderer   *Renderer
	dispatcher *Dispatcher
	now        func() time.Time
}

// NewOfferNotifier creates a new OfferNotifier.
func NewOfferNotifier(renderer *Renderer, dispatcher *Dispatcher) *OfferNotifier {
	return &OfferNotifier{
		renderer:   renderer,
		dispatcher: dispatcher,
		now:        time.Now,
	}
}

type target struct {
	channel domain.ChannelType
	to      string
}

func agentTargets(agent domain.Agent) []target {
	var out []target
	if agent.Email != "" {
		out = append(out, target{domain.ChannelTypeEmail, agent.Email})
	}
	if agent.Phone != "" {
		out = append(out, target{domain.ChannelTypeSMS, agent.Phone})
	}
	if agent.TelegramChatID != "" {
		out = append(out, target{domain.ChannelTypeTelegram, agent.TelegramChatID})
	}
	return out
}

// SendOffer sends the offer over each reachable channel. The offer counts as
// delivered when at least one channel succeeds.
func (n *OfferNotifier) SendOffer(ctx context.Context, offer assignment.Offer) error {
	logger := ctxlog.FromContext(ctx).With(
		"notification_id", offer.NotificationID,
		"agent_id", offer.Agent.ID,
	)
	payload := NewOfferPayload(offer, n.now())

	var (
		errs      []error
		delivered int
	)
	for _, t := range agentTargets(offer.Agent) {
		if !n.dispatcher.Has(t.channel) {
			continue
		}

		subject, body, err := n.renderer.RenderOffer(t.channel, payload)
		if err != nil {
			errs = append(errs, err)
			continue
		}

		err = n.dispatcher.Send(ctx, t.channel, Notification{To: t.to, Subject: subject, Body: body})
		if err != nil {
			logger.Warn("offer channel failed",
				"channel_type", t.channel,
				"retryable", IsRetryable(err),
				"error", err,
			)
			errs = append(errs, err)
			continue
		}
		delivered++
	}

	if delivered > 0 {
		logger.Debug("offer delivered", "channels", delivered, "failed", len(errs))
		return nil
	}
	if len(errs) == 0 {
		return ErrNoChannels
	}
	return errors.Join(errs...)
}

// PoolAlerter posts pool fallback alerts to the operations webhook.
// It implements assignment.Alerter.
type PoolAlerter struct {
	renderer   *Renderer
	dispatcher *Dispatcher
	webhookURL string
}

// NewPoolAlerter creates a new PoolAlerter.
func NewPoolAlerter(renderer *Renderer, dispatcher *Dispatcher, webhookURL string) *PoolAlerter {
	return &PoolAlerter{
		renderer:   renderer,
		dispatcher: dispatcher,
		webhookURL: webhookURL,
	}
}

// AlertPool posts alert to the webhook.
func (a *PoolAlerter) AlertPool(ctx context.Context, alert assignment.PoolAlert) error {
	if a.webhookURL == "" || !a.dispatcher.Has(domain.ChannelTypeMattermost) {
		return ErrAlertsDisabled
	}

	subject, body, err := a.renderer.RenderPoolAlert(domain.ChannelTypeMattermost, NewPoolAlertPayload(alert))
	if err != nil {
		return err
	}

	return a.dispatcher.Send(ctx, domain.ChannelTypeMattermost, Notification{
		To:      a.webhookURL,
		Subject: subject,
		Body:    body,
	})
}
