package assignment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/bissquit/listing-dispatch/internal/domain"
	"github.com/bissquit/listing-dispatch/internal/pkg/ctxlog"
)

// arm schedules the timeout of an offer.
func (s *Service) arm(notificationID string, d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return
	}
	if old, ok := s.timers[notificationID]; ok {
		old.Stop()
	}
	s.timers[notificationID] = s.scheduler.After(d, func() {
		s.onTimeout(notificationID)
	})
	activeTimers.Set(float64(len(s.timers)))
}

// disarm cancels the timeout of an offer if it is still scheduled.
func (s *Service) disarm(notificationID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if h, ok := s.timers[notificationID]; ok {
		h.Stop()
		delete(s.timers, notificationID)
		activeTimers.Set(float64(len(s.timers)))
	}
}

func (s *Service) forget(notificationID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.timers, notificationID)
	activeTimers.Set(float64(len(s.timers)))
}

// onTimeout runs when an offer window elapses.
func (s *Service) onTimeout(notificationID string) {
	s.forget(notificationID)

	ctx := ctxlog.WithLogger(context.Background(), slog.Default().With("timed_out_id", notificationID))
	s.expire(ctx, notificationID, domain.NotificationStatusTimeout)
}

// expire moves a pending offer to status and advances its run.
// Losing the race to another transition is not an error.
func (s *Service) expire(ctx context.Context, notificationID string, status domain.NotificationStatus) {
	logger := ctxlog.FromContext(ctx)

	n, err := s.repo.ResolveNotification(ctx, notificationID, Resolution{Status: status})
	if err != nil {
		if stale(err) || errors.Is(err, ErrNotificationNotFound) {
			logger.Debug("offer already resolved", "notification_id", notificationID, "status", status)
			return
		}
		logger.Error("failed to expire offer", "notification_id", notificationID, "error", err)
		return
	}
	s.disarm(notificationID)
	recordTransition(string(status))

	logger.Info("offer window elapsed",
		"notification_id", n.ID,
		"property_id", n.PropertyID,
		"agent_id", n.AgentID,
		"round", n.Round,
		"status", status,
	)

	if err := s.advance(ctx, n.PropertyID); err != nil {
		logger.Error("failed to advance run", "property_id", n.PropertyID, "error", err)
	}
}

// Recover re-arms the timeouts of offers left pending by a previous process.
// Offers whose window already elapsed are expired and their runs advanced.
func (s *Service) Recover(ctx context.Context) error {
	pending, err := s.repo.ListPendingNotifications(ctx)
	if err != nil {
		return fmt.Errorf("list pending notifications: %w", err)
	}

	now := s.now()
	var rearmed, expired int
	for _, n := range pending {
		if n.IsExpired(now) {
			s.expire(ctx, n.ID, domain.NotificationStatusExpired)
			expired++
			continue
		}
		s.arm(n.ID, n.ExpiresAt.Sub(now))
		rearmed++
	}

	ctxlog.FromContext(ctx).Info("recovered pending offers", "rearmed", rearmed, "expired", expired)
	return nil
}

// Stop cancels every scheduled timeout. Offers stay pending and are picked up
// by Recover on the next start.
func (s *Service) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.stopped = true
	for id, h := range s.timers {
		h.Stop()
		delete(s.timers, id)
	}
	activeTimers.Set(0)
}
