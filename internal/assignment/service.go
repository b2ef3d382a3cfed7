// Package assignment assigns one agent to a property by offering it to
// eligible candidates one at a time, each for a fixed acceptance window.
package assignment

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/bissquit/listing-dispatch/internal/domain"
	"github.com/bissquit/listing-dispatch/internal/pkg/ctxlog"
)

// MaxRejectionReasonLength is the longest rejection reason stored, in characters.
const MaxRejectionReasonLength = 500

// Start result statuses.
const (
	StartStatusStarted    = "started"
	StartStatusUnassigned = "unassigned"
)

// Config holds the offer protocol settings.
type Config struct {
	Window      time.Duration
	MaxRounds   int
	SendTimeout time.Duration
	// BaseURL prefixes the accept and reject links in offers.
	BaseURL string
}

// DefaultConfig returns a five minute window over three rounds.
func DefaultConfig() Config {
	return Config{
		Window:      5 * time.Minute,
		MaxRounds:   3,
		SendTimeout: 10 * time.Second,
	}
}

// StartResult reports how a run began.
type StartResult struct {
	Status         string                  `json:"status"`
	QueueID        string                  `json:"queue_id"`
	CandidateCount int                     `json:"candidate_count"`
	Reason         domain.UnassignedReason `json:"reason,omitempty"`
}

// Tracking is the state of a run and its full offer history.
type Tracking struct {
	Queue         *domain.AssignmentQueue `json:"queue"`
	Notifications []*domain.Notification  `json:"notifications"`
}

// Option configures a Service.
type Option func(*Service)

// WithAlerter posts pool fallbacks to operators.
func WithAlerter(a Alerter) Option {
	return func(s *Service) {
		s.alerter = a
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

// Service drives assignment runs.
type Service struct {
	repo       Repository
	properties PropertyStore
	directory  Directory
	resolver   *Resolver
	notifier   Notifier
	scheduler  Scheduler
	alerter    Alerter
	cfg        Config
	now        func() time.Time

	mu      sync.Mutex
	timers  map[string]Handle
	stopped bool
}

// NewService creates a new assignment service.
func NewService(
	repo Repository,
	properties PropertyStore,
	directory Directory,
	notifier Notifier,
	scheduler Scheduler,
	cfg Config,
	opts ...Option,
) *Service {
	s := &Service{
		repo:       repo,
		properties: properties,
		directory:  directory,
		resolver:   NewResolver(directory),
		notifier:   notifier,
		scheduler:  scheduler,
		cfg:        cfg,
		now:        time.Now,
		timers:     make(map[string]Handle),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// StartAssignment begins a run for a property without an agent.
// A property gets one run; use Retry to run it again.
func (s *Service) StartAssignment(ctx context.Context, propertyID string) (*StartResult, error) {
	property, err := s.properties.GetProperty(ctx, propertyID)
	if err != nil {
		return nil, err
	}
	if property.AgentID != nil {
		return nil, ErrAlreadyAssigned
	}

	_, err = s.repo.GetQueueByProperty(ctx, propertyID)
	switch {
	case err == nil:
		return nil, ErrRunExists
	case !errors.Is(err, ErrQueueNotFound):
		return nil, fmt.Errorf("get queue: %w", err)
	}

	return s.create(ctx, property)
}

// Retry discards the previous run of a property and starts a new one.
func (s *Service) Retry(ctx context.Context, propertyID string) (*StartResult, error) {
	property, err := s.properties.GetProperty(ctx, propertyID)
	if err != nil {
		return nil, err
	}
	if property.AgentID != nil {
		return nil, ErrAlreadyAssigned
	}

	previous, err := s.repo.ListNotifications(ctx, propertyID)
	if err != nil {
		return nil, fmt.Errorf("list notifications: %w", err)
	}
	for _, n := range previous {
		s.disarm(n.ID)
	}

	if err := s.repo.DeleteRun(ctx, propertyID); err != nil {
		return nil, fmt.Errorf("delete run: %w", err)
	}

	ctxlog.FromContext(ctx).Info("assignment run reset",
		"property_id", propertyID,
		"previous_notifications", len(previous),
	)

	return s.create(ctx, property)
}

// Accept assigns the property of a pending offer to the agent it was sent to.
// It returns the property ID.
func (s *Service) Accept(ctx context.Context, notificationID, agentID string) (string, error) {
	n, err := s.respondable(ctx, notificationID, agentID)
	if err != nil {
		return "", err
	}

	if err := s.repo.AcceptNotification(ctx, notificationID, s.now()); err != nil {
		if errors.Is(err, ErrAlreadyAssigned) {
			s.cancelTakenOffer(context.WithoutCancel(ctx), n)
		}
		return "", err
	}
	s.disarm(notificationID)

	recordTransition(string(domain.NotificationStatusAccepted))
	recordRunFinished(outcomeAssigned)

	ctxlog.FromContext(ctx).Info("offer accepted",
		"notification_id", notificationID,
		"property_id", n.PropertyID,
		"agent_id", agentID,
		"round", n.Round,
	)

	return n.PropertyID, nil
}

// cancelTakenOffer withdraws an offer whose property got an agent elsewhere
// and closes its run.
func (s *Service) cancelTakenOffer(ctx context.Context, n *domain.Notification) {
	logger := ctxlog.FromContext(ctx)

	if _, err := s.repo.ResolveNotification(ctx, n.ID, Resolution{Status: domain.NotificationStatusCancelled}); err != nil {
		if !stale(err) {
			logger.Error("failed to cancel offer", "notification_id", n.ID, "error", err)
		}
		return
	}
	s.disarm(n.ID)
	recordTransition(string(domain.NotificationStatusCancelled))

	if err := s.advance(ctx, n.PropertyID); err != nil {
		logger.Error("failed to close run", "property_id", n.PropertyID, "error", err)
	}
}

// Reject declines a pending offer and moves the run to the next candidate.
func (s *Service) Reject(ctx context.Context, notificationID, agentID, reason string) error {
	if _, err := s.respondable(ctx, notificationID, agentID); err != nil {
		return err
	}

	now := s.now()
	response := string(domain.NotificationStatusRejected)
	n, err := s.repo.ResolveNotification(ctx, notificationID, Resolution{
		Status:          domain.NotificationStatusRejected,
		RespondedAt:     &now,
		Response:        &response,
		RejectionReason: normalizeReason(reason),
	})
	if err != nil {
		return err
	}
	s.disarm(notificationID)
	recordTransition(string(domain.NotificationStatusRejected))

	ctxlog.FromContext(ctx).Info("offer rejected",
		"notification_id", notificationID,
		"property_id", n.PropertyID,
		"agent_id", agentID,
		"round", n.Round,
	)

	if err := s.advance(ctx, n.PropertyID); err != nil {
		return fmt.Errorf("advance after reject: %w", err)
	}
	return nil
}

// GetTracking returns the run of a property with every offer sent so far.
func (s *Service) GetTracking(ctx context.Context, propertyID string) (*Tracking, error) {
	queue, err := s.repo.GetQueueByProperty(ctx, propertyID)
	if err != nil {
		return nil, err
	}

	notifications, err := s.repo.ListNotifications(ctx, propertyID)
	if err != nil {
		return nil, fmt.Errorf("list notifications: %w", err)
	}

	return &Tracking{Queue: queue, Notifications: notifications}, nil
}

// PendingOffers returns the open offers of an agent.
func (s *Service) PendingOffers(ctx context.Context, agentID string) ([]*domain.Notification, error) {
	offers, err := s.repo.ListAgentPendingNotifications(ctx, agentID)
	if err != nil {
		return nil, fmt.Errorf("list pending offers: %w", err)
	}
	return offers, nil
}

// respondable loads an offer and checks that agentID may still answer it.
// An offer found past its window is expired on the spot.
func (s *Service) respondable(ctx context.Context, notificationID, agentID string) (*domain.Notification, error) {
	n, err := s.repo.GetNotification(ctx, notificationID)
	if err != nil {
		return nil, err
	}
	if n.AgentID != agentID {
		return nil, ErrWrongRecipient
	}
	if n.Status != domain.NotificationStatusPending {
		return nil, ErrAlreadyResolved
	}
	if n.IsExpired(s.now()) {
		s.expire(context.WithoutCancel(ctx), n.ID, domain.NotificationStatusExpired)
		return nil, ErrOfferExpired
	}
	return n, nil
}

// normalizeReason trims the reason and caps its length. Blank means no reason.
func normalizeReason(reason string) *string {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil
	}
	if utf8.RuneCountInString(reason) > MaxRejectionReasonLength {
		reason = string([]rune(reason)[:MaxRejectionReasonLength])
	}
	return &reason
}

// stale reports whether err means another transition won the race.
func stale(err error) bool {
	return errors.Is(err, ErrStaleQueue) || errors.Is(err, ErrAlreadyResolved)
}
