package assignment

import (
	"context"
	"errors"
	"fmt"

	"github.com/bissquit/listing-dispatch/internal/domain"
	"github.com/bissquit/listing-dispatch/internal/pkg/ctxlog"
)

// create resolves candidates, persists a new run and sends the first offer.
func (s *Service) create(ctx context.Context, property *domain.Property) (*StartResult, error) {
	candidates, err := s.resolver.Resolve(ctx, property)
	if err != nil {
		return nil, fmt.Errorf("resolve candidates: %w", err)
	}

	now := s.now()
	queue := &domain.AssignmentQueue{
		PropertyID:        property.ID,
		Status:            domain.QueueStatusActive,
		Candidates:        candidates,
		CurrentRound:      1,
		LastNotifiedIndex: -1,
		StartedAt:         now,
	}
	if len(candidates) == 0 {
		queue.Status = domain.QueueStatusCompletedUnassigned
		queue.UnassignedReason = domain.UnassignedNoCandidates
		queue.CompletedAt = &now
	}

	if err := s.repo.CreateQueue(ctx, queue); err != nil {
		return nil, fmt.Errorf("create queue: %w", err)
	}
	runsStarted.Inc()

	ctx = ctxlog.With(ctx, "property_id", property.ID, "queue_id", queue.ID)
	ctxlog.FromContext(ctx).Info("assignment run started", "candidates", len(candidates))

	if len(candidates) == 0 {
		if err := s.fallbackToPool(ctx, queue); err != nil {
			return nil, err
		}
		return &StartResult{
			Status:  StartStatusUnassigned,
			QueueID: queue.ID,
			Reason:  domain.UnassignedNoCandidates,
		}, nil
	}

	if err := s.advance(ctx, property.ID); err != nil {
		return nil, fmt.Errorf("send first offer: %w", err)
	}

	return &StartResult{
		Status:         StartStatusStarted,
		QueueID:        queue.ID,
		CandidateCount: len(candidates),
	}, nil
}

// advance offers the property to the next candidate in round-robin order,
// or ends the run once every round is used up.
func (s *Service) advance(ctx context.Context, propertyID string) error {
	logger := ctxlog.FromContext(ctx)

	queue, err := s.repo.GetQueueByProperty(ctx, propertyID)
	if err != nil {
		if errors.Is(err, ErrQueueNotFound) {
			logger.Debug("run removed before advance", "property_id", propertyID)
			return nil
		}
		return fmt.Errorf("get queue: %w", err)
	}
	if queue.Status != domain.QueueStatusActive {
		logger.Debug("run already finished", "property_id", propertyID, "status", queue.Status)
		return nil
	}

	property, err := s.properties.GetProperty(ctx, propertyID)
	if err != nil {
		return fmt.Errorf("get property: %w", err)
	}
	if property.AgentID != nil {
		return s.closeAssignedElsewhere(ctx, queue)
	}

	if len(queue.Candidates) == 0 {
		return s.completeUnassigned(ctx, queue, domain.UnassignedNoCandidates)
	}

	index := (queue.LastNotifiedIndex + 1) % len(queue.Candidates)
	round := queue.CurrentRound
	if index == 0 && queue.LastNotifiedIndex != -1 {
		round++
	}

	if round > s.cfg.MaxRounds {
		return s.completeUnassigned(ctx, queue, domain.UnassignedRoundsExhausted)
	}

	if err := s.repo.AdvanceQueue(ctx, queue.ID, queue.LastNotifiedIndex, index, round); err != nil {
		if stale(err) {
			logger.Debug("advance lost race", "property_id", propertyID)
			return nil
		}
		return fmt.Errorf("advance queue: %w", err)
	}

	queue.LastNotifiedIndex = index
	queue.CurrentRound = round

	return s.dispatch(ctx, queue, queue.Candidates[index])
}

func (s *Service) completeUnassigned(ctx context.Context, queue *domain.AssignmentQueue, reason domain.UnassignedReason) error {
	now := s.now()
	if err := s.repo.CompleteUnassigned(ctx, queue.ID, reason, now); err != nil {
		if stale(err) {
			ctxlog.FromContext(ctx).Debug("completion lost race", "property_id", queue.PropertyID)
			return nil
		}
		return fmt.Errorf("complete queue: %w", err)
	}

	queue.Status = domain.QueueStatusCompletedUnassigned
	queue.UnassignedReason = reason
	queue.CompletedAt = &now

	return s.fallbackToPool(ctx, queue)
}

// closeAssignedElsewhere ends a run whose property already has an agent.
// The property keeps that agent and stays out of the pool.
func (s *Service) closeAssignedElsewhere(ctx context.Context, queue *domain.AssignmentQueue) error {
	now := s.now()
	reason := domain.UnassignedAlreadyAssigned
	if err := s.repo.CompleteUnassigned(ctx, queue.ID, reason, now); err != nil {
		if stale(err) {
			ctxlog.FromContext(ctx).Debug("completion lost race", "property_id", queue.PropertyID)
			return nil
		}
		return fmt.Errorf("complete queue: %w", err)
	}
	recordRunFinished(string(reason))

	ctxlog.FromContext(ctx).Info("assignment run closed, property already has an agent",
		"property_id", queue.PropertyID,
		"notifications_sent", queue.TotalNotificationsSent,
	)
	return nil
}

// fallbackToPool hands a finished unassigned run to manual pickup.
func (s *Service) fallbackToPool(ctx context.Context, queue *domain.AssignmentQueue) error {
	logger := ctxlog.FromContext(ctx)

	recordRunFinished(string(queue.UnassignedReason))

	if err := s.properties.MoveToPool(ctx, queue.PropertyID); err != nil {
		return fmt.Errorf("move property to pool: %w", err)
	}

	logger.Warn("property moved to agent pool",
		"property_id", queue.PropertyID,
		"reason", queue.UnassignedReason,
		"notifications_sent", queue.TotalNotificationsSent,
		"agents_contacted", queue.TotalAgentsContacted,
	)

	if s.alerter == nil {
		return nil
	}

	property, err := s.properties.GetProperty(ctx, queue.PropertyID)
	if err != nil {
		logger.Error("failed to load property for pool alert", "property_id", queue.PropertyID, "error", err)
		return nil
	}

	alertCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.SendTimeout)
	defer cancel()

	if err := s.alerter.AlertPool(alertCtx, PoolAlert{
		Property:          *property,
		Reason:            queue.UnassignedReason,
		NotificationsSent: queue.TotalNotificationsSent,
		AgentsContacted:   queue.TotalAgentsContacted,
	}); err != nil {
		logger.Error("failed to send pool alert", "property_id", queue.PropertyID, "error", err)
	}
	return nil
}
