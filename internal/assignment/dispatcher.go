package assignment

import (
	"context"
	"fmt"
	"strings"

	"github.com/bissquit/listing-dispatch/internal/domain"
	"github.com/bissquit/listing-dispatch/internal/pkg/ctxlog"
)

// dispatch creates the offer for candidate, arms its timeout and delivers it.
// Delivery failures are logged and never stop the run.
func (s *Service) dispatch(ctx context.Context, queue *domain.AssignmentQueue, candidate domain.Candidate) error {
	now := s.now()
	n := &domain.Notification{
		QueueID:    queue.ID,
		PropertyID: queue.PropertyID,
		AgentID:    candidate.AgentID,
		Round:      queue.CurrentRound,
		Status:     domain.NotificationStatusPending,
		SentAt:     now,
		ExpiresAt:  now.Add(s.cfg.Window),
	}

	if err := s.repo.CreateNotification(ctx, n); err != nil {
		if stale(err) {
			ctxlog.FromContext(ctx).Debug("offer already pending", "property_id", queue.PropertyID)
			return nil
		}
		return fmt.Errorf("create notification: %w", err)
	}
	s.arm(n.ID, s.cfg.Window)

	if err := s.repo.RecordDispatch(ctx, queue.ID, n.ID); err != nil {
		return fmt.Errorf("record dispatch: %w", err)
	}

	logger := ctxlog.FromContext(ctx).With(
		"notification_id", n.ID,
		"property_id", n.PropertyID,
		"agent_id", n.AgentID,
		"round", n.Round,
	)
	logger.Info("offer created", "expires_at", n.ExpiresAt)

	if err := s.deliver(ctx, n); err != nil {
		recordDelivery(false)
		logger.Error("failed to deliver offer", "error", err)
		return nil
	}
	recordDelivery(true)

	if err := s.repo.MarkMessageSent(ctx, n.ID); err != nil {
		logger.Error("failed to mark offer as sent", "error", err)
	}
	return nil
}

func (s *Service) deliver(ctx context.Context, n *domain.Notification) error {
	property, err := s.properties.GetProperty(ctx, n.PropertyID)
	if err != nil {
		return fmt.Errorf("get property: %w", err)
	}
	agent, err := s.directory.GetAgent(ctx, n.AgentID)
	if err != nil {
		return fmt.Errorf("get agent: %w", err)
	}

	sendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.SendTimeout)
	defer cancel()

	return s.notifier.SendOffer(sendCtx, Offer{
		NotificationID: n.ID,
		Property:       *property,
		Agent:          *agent,
		Round:          n.Round,
		ExpiresAt:      n.ExpiresAt,
		AcceptURL:      s.offerURL(n.ID, "accept"),
		RejectURL:      s.offerURL(n.ID, "reject"),
	})
}

func (s *Service) offerURL(notificationID, action string) string {
	return fmt.Sprintf("%s/api/v1/offers/%s/%s", strings.TrimRight(s.cfg.BaseURL, "/"), notificationID, action)
}
