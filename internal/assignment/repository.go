package assignment

import (
	"context"
	"time"

	"github.com/bissquit/listing-dispatch/internal/domain"
)

// Resolution is the terminal state written for a pending offer.
type Resolution struct {
	Status          domain.NotificationStatus
	RespondedAt     *time.Time
	Response        *string
	RejectionReason *string
}

// Repository persists assignment runs and their offers.
//
// Every transition is a conditional write. A write whose guard matches no row
// returns ErrStaleQueue for queues and ErrAlreadyResolved for offers.
type Repository interface {
	// CreateQueue stores a new run. Returns ErrRunExists if the property already has one.
	CreateQueue(ctx context.Context, queue *domain.AssignmentQueue) error
	GetQueueByProperty(ctx context.Context, propertyID string) (*domain.AssignmentQueue, error)
	// AdvanceQueue moves an active run from prevIndex to index in round.
	AdvanceQueue(ctx context.Context, queueID string, prevIndex, index, round int) error
	CompleteUnassigned(ctx context.Context, queueID string, reason domain.UnassignedReason, at time.Time) error

	CreateNotification(ctx context.Context, n *domain.Notification) error
	// RecordDispatch points the run at the new offer and refreshes its counters.
	RecordDispatch(ctx context.Context, queueID, notificationID string) error
	GetNotification(ctx context.Context, id string) (*domain.Notification, error)
	// ListNotifications returns the offers of a property ordered by sent_at.
	ListNotifications(ctx context.Context, propertyID string) ([]*domain.Notification, error)
	ListPendingNotifications(ctx context.Context) ([]*domain.Notification, error)
	ListAgentPendingNotifications(ctx context.Context, agentID string) ([]*domain.Notification, error)
	// ResolveNotification moves a pending offer to res.Status and returns it.
	ResolveNotification(ctx context.Context, id string, res Resolution) (*domain.Notification, error)
	MarkMessageSent(ctx context.Context, id string) error

	// AcceptNotification atomically accepts a pending offer, sets the property
	// agent if unset, completes the run and cancels other pending offers.
	AcceptNotification(ctx context.Context, id string, at time.Time) error

	// DeleteRun removes the run and all offers of a property.
	DeleteRun(ctx context.Context, propertyID string) error
}
