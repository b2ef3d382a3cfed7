package memory

import (
	"context"
	"testing"
	"time"

	"github.com/bissquit/listing-dispatch/internal/assignment"
	"github.com/bissquit/listing-dispatch/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedRun(t *testing.T, s *Store) (*domain.AssignmentQueue, *domain.Notification) {
	t.Helper()
	ctx := context.Background()

	propertyID := s.AddProperty(domain.Property{Title: "loft", ZipCode: "10001"})
	q := &domain.AssignmentQueue{
		PropertyID:        propertyID,
		Status:            domain.QueueStatusActive,
		Candidates:        []domain.Candidate{{AgentID: "a"}, {AgentID: "b"}},
		CurrentRound:      1,
		LastNotifiedIndex: -1,
		StartedAt:         time.Now(),
	}
	require.NoError(t, s.CreateQueue(ctx, q))
	require.NoError(t, s.AdvanceQueue(ctx, q.ID, -1, 0, 1))

	n := &domain.Notification{
		QueueID:    q.ID,
		PropertyID: propertyID,
		AgentID:    "a",
		Round:      1,
		Status:     domain.NotificationStatusPending,
		SentAt:     time.Now(),
		ExpiresAt:  time.Now().Add(5 * time.Minute),
	}
	require.NoError(t, s.CreateNotification(ctx, n))
	require.NoError(t, s.RecordDispatch(ctx, q.ID, n.ID))
	return q, n
}

func TestStore_AdvanceQueueGuard(t *testing.T) {
	s := NewStore()
	q, _ := seedRun(t, s)

	err := s.AdvanceQueue(context.Background(), q.ID, -1, 0, 1)
	assert.ErrorIs(t, err, assignment.ErrStaleQueue)

	require.NoError(t, s.AdvanceQueue(context.Background(), q.ID, 0, 1, 1))
}

func TestStore_OnePendingPerProperty(t *testing.T) {
	s := NewStore()
	q, _ := seedRun(t, s)

	err := s.CreateNotification(context.Background(), &domain.Notification{
		QueueID:    q.ID,
		PropertyID: q.PropertyID,
		AgentID:    "b",
		Status:     domain.NotificationStatusPending,
	})
	assert.ErrorIs(t, err, assignment.ErrStaleQueue)
}

func TestStore_AcceptNotification(t *testing.T) {
	s := NewStore()
	q, n := seedRun(t, s)
	ctx := context.Background()

	require.NoError(t, s.AcceptNotification(ctx, n.ID, time.Now()))

	got, err := s.GetQueueByProperty(ctx, q.PropertyID)
	require.NoError(t, err)
	assert.Equal(t, domain.QueueStatusCompleted, got.Status)
	assert.Equal(t, "a", *got.FinalAgentID)

	p, err := s.GetProperty(ctx, q.PropertyID)
	require.NoError(t, err)
	assert.Equal(t, "a", *p.AgentID)

	assert.ErrorIs(t, s.AcceptNotification(ctx, n.ID, time.Now()), assignment.ErrAlreadyResolved)
}

func TestStore_AcceptNotification_PropertyTaken(t *testing.T) {
	s := NewStore()
	q, n := seedRun(t, s)
	ctx := context.Background()

	require.NoError(t, s.SetAgentIfUnset(ctx, q.PropertyID, "someone-else"))

	err := s.AcceptNotification(ctx, n.ID, time.Now())
	assert.ErrorIs(t, err, assignment.ErrAlreadyAssigned)

	got, err := s.GetNotification(ctx, n.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.NotificationStatusPending, got.Status, "nothing changes on failure")

	queue, err := s.GetQueueByProperty(ctx, q.PropertyID)
	require.NoError(t, err)
	assert.Equal(t, domain.QueueStatusActive, queue.Status)
}

func TestStore_ResolveNotification(t *testing.T) {
	s := NewStore()
	_, n := seedRun(t, s)
	ctx := context.Background()

	got, err := s.ResolveNotification(ctx, n.ID, assignment.Resolution{Status: domain.NotificationStatusTimeout})
	require.NoError(t, err)
	assert.Equal(t, domain.NotificationStatusTimeout, got.Status)

	_, err = s.ResolveNotification(ctx, n.ID, assignment.Resolution{Status: domain.NotificationStatusRejected})
	assert.ErrorIs(t, err, assignment.ErrAlreadyResolved)

	_, err = s.ResolveNotification(ctx, "missing", assignment.Resolution{Status: domain.NotificationStatusRejected})
	assert.ErrorIs(t, err, assignment.ErrNotificationNotFound)
}

func TestStore_FindAgents(t *testing.T) {
	s := NewStore()
	s.AddAgent(AgentRecord{Agent: domain.Agent{ID: "1", Name: "active"}, ZipCode: "10001", City: "New York", State: "NY", Active: true, Verified: true})
	s.AddAgent(AgentRecord{Agent: domain.Agent{ID: "2", Name: "unverified"}, ZipCode: "10001", Active: true})
	s.AddAgent(AgentRecord{Agent: domain.Agent{ID: "3", Name: "suspended"}, ZipCode: "10001", Verified: true})
	ctx := context.Background()

	got, err := s.FindAgents(ctx, assignment.AgentFilter{ZipCode: "10001"})
	require.NoError(t, err)
	assert.Equal(t, []domain.Candidate{{AgentID: "1", Name: "active"}}, got)

	got, err = s.FindAgents(ctx, assignment.AgentFilter{City: "new york", State: "ny"})
	require.NoError(t, err)
	assert.Len(t, got, 1)

	got, err = s.FindAgents(ctx, assignment.AgentFilter{})
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestStore_DeleteRun(t *testing.T) {
	s := NewStore()
	q, n := seedRun(t, s)
	ctx := context.Background()

	require.NoError(t, s.DeleteRun(ctx, q.PropertyID))

	_, err := s.GetQueueByProperty(ctx, q.PropertyID)
	assert.ErrorIs(t, err, assignment.ErrQueueNotFound)
	_, err = s.GetNotification(ctx, n.ID)
	assert.ErrorIs(t, err, assignment.ErrNotificationNotFound)

	list, err := s.ListNotifications(ctx, q.PropertyID)
	require.NoError(t, err)
	assert.Empty(t, list)
}
