// Package memory provides an in-process implementation of the assignment
// repository together with the agent directory and property store it needs.
package memory

import (
	"context"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/bissquit/listing-dispatch/internal/assignment"
	"github.com/bissquit/listing-dispatch/internal/domain"
	"github.com/google/uuid"
)

// AgentRecord is an agent together with its directory attributes.
type AgentRecord struct {
	Agent    domain.Agent
	ZipCode  string
	City     string
	State    string
	Active   bool
	Verified bool
}

// Store keeps everything in maps guarded by one mutex, so each method is a
// single atomic step in the same way a conditional UPDATE is.
type Store struct {
	mu            sync.Mutex
	agents        []AgentRecord
	properties    map[string]*domain.Property
	queues        map[string]*domain.AssignmentQueue
	notifications map[string]*domain.Notification
	sequence      []string
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{
		properties:    make(map[string]*domain.Property),
		queues:        make(map[string]*domain.AssignmentQueue),
		notifications: make(map[string]*domain.Notification),
	}
}

// AddAgent registers an agent. Registration order is match order.
func (s *Store) AddAgent(rec AgentRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.agents = append(s.agents, rec)
}

// AddProperty registers a property, assigning an ID if it has none.
func (s *Store) AddProperty(p domain.Property) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	s.properties[p.ID] = &p
	return p.ID
}

// FindAgents returns active verified agents matching filter.
func (s *Store) FindAgents(_ context.Context, filter assignment.AgentFilter) ([]domain.Candidate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if filter == (assignment.AgentFilter{}) {
		return []domain.Candidate{}, nil
	}

	out := make([]domain.Candidate, 0)
	for _, rec := range s.agents {
		if !rec.Active || !rec.Verified {
			continue
		}
		if filter.ZipCode != "" && rec.ZipCode != filter.ZipCode {
			continue
		}
		if filter.City != "" && !strings.EqualFold(rec.City, filter.City) {
			continue
		}
		if filter.State != "" && !strings.EqualFold(rec.State, filter.State) {
			continue
		}
		out = append(out, domain.Candidate{AgentID: rec.Agent.ID, Name: rec.Agent.Name})
	}
	return out, nil
}

// GetAgent returns the contact details of an agent.
func (s *Store) GetAgent(_ context.Context, id string) (*domain.Agent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, rec := range s.agents {
		if rec.Agent.ID == id {
			a := rec.Agent
			return &a, nil
		}
	}
	return nil, assignment.ErrAgentNotFound
}

// GetProperty returns a copy of a property.
func (s *Store) GetProperty(_ context.Context, id string) (*domain.Property, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.properties[id]
	if !ok {
		return nil, assignment.ErrPropertyNotFound
	}
	return copyProperty(p), nil
}

// MoveToPool flags a property for manual pickup.
func (s *Store) MoveToPool(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.properties[id]
	if !ok {
		return assignment.ErrPropertyNotFound
	}
	p.InAgentPool = true
	return nil
}

// SetAgentIfUnset assigns agentID to a property that has no agent yet.
func (s *Store) SetAgentIfUnset(_ context.Context, propertyID, agentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.setAgentIfUnset(propertyID, agentID)
}

func (s *Store) setAgentIfUnset(propertyID, agentID string) error {
	p, ok := s.properties[propertyID]
	if !ok {
		return assignment.ErrPropertyNotFound
	}
	if p.AgentID != nil {
		return assignment.ErrAlreadyAssigned
	}
	p.AgentID = &agentID
	return nil
}

// CreateQueue stores a new run.
func (s *Store) CreateQueue(_ context.Context, queue *domain.AssignmentQueue) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.queues[queue.PropertyID]; ok {
		return assignment.ErrRunExists
	}
	queue.ID = uuid.NewString()
	s.queues[queue.PropertyID] = copyQueue(queue)
	return nil
}

// GetQueueByProperty returns a copy of the run of a property.
func (s *Store) GetQueueByProperty(_ context.Context, propertyID string) (*domain.AssignmentQueue, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	q, ok := s.queues[propertyID]
	if !ok {
		return nil, assignment.ErrQueueNotFound
	}
	return copyQueue(q), nil
}

// AdvanceQueue moves an active run from prevIndex to index.
func (s *Store) AdvanceQueue(_ context.Context, queueID string, prevIndex, index, round int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	q := s.queueByID(queueID)
	if q == nil || q.Status != domain.QueueStatusActive || q.LastNotifiedIndex != prevIndex {
		return assignment.ErrStaleQueue
	}
	q.LastNotifiedIndex = index
	q.CurrentRound = round
	return nil
}

// CompleteUnassigned ends an active run without an agent.
func (s *Store) CompleteUnassigned(_ context.Context, queueID string, reason domain.UnassignedReason, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	q := s.queueByID(queueID)
	if q == nil || q.Status != domain.QueueStatusActive {
		return assignment.ErrStaleQueue
	}
	q.Status = domain.QueueStatusCompletedUnassigned
	q.UnassignedReason = reason
	q.CompletedAt = &at
	return nil
}

// CreateNotification stores a new pending offer.
func (s *Store) CreateNotification(_ context.Context, n *domain.Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.notifications {
		if existing.PropertyID == n.PropertyID && existing.Status == domain.NotificationStatusPending {
			return assignment.ErrStaleQueue
		}
	}

	n.ID = uuid.NewString()
	s.notifications[n.ID] = copyNotification(n)
	s.sequence = append(s.sequence, n.ID)
	return nil
}

// RecordDispatch points the run at notificationID and refreshes its counters.
func (s *Store) RecordDispatch(_ context.Context, queueID, notificationID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	q := s.queueByID(queueID)
	if q == nil {
		return assignment.ErrQueueNotFound
	}

	agents := make(map[string]struct{})
	for _, n := range s.notifications {
		if n.QueueID == queueID {
			agents[n.AgentID] = struct{}{}
		}
	}

	id := notificationID
	q.CurrentNotificationID = &id
	q.TotalNotificationsSent++
	q.TotalAgentsContacted = len(agents)
	return nil
}

// GetNotification returns a copy of an offer.
func (s *Store) GetNotification(_ context.Context, id string) (*domain.Notification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n, ok := s.notifications[id]
	if !ok {
		return nil, assignment.ErrNotificationNotFound
	}
	return copyNotification(n), nil
}

// ListNotifications returns the offers of a property in the order they were sent.
func (s *Store) ListNotifications(_ context.Context, propertyID string) ([]*domain.Notification, error) {
	return s.list(func(n *domain.Notification) bool {
		return n.PropertyID == propertyID
	}), nil
}

// ListPendingNotifications returns every pending offer.
func (s *Store) ListPendingNotifications(_ context.Context) ([]*domain.Notification, error) {
	return s.list(func(n *domain.Notification) bool {
		return n.Status == domain.NotificationStatusPending
	}), nil
}

// ListAgentPendingNotifications returns the pending offers of an agent.
func (s *Store) ListAgentPendingNotifications(_ context.Context, agentID string) ([]*domain.Notification, error) {
	return s.list(func(n *domain.Notification) bool {
		return n.AgentID == agentID && n.Status == domain.NotificationStatusPending
	}), nil
}

func (s *Store) list(match func(*domain.Notification) bool) []*domain.Notification {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*domain.Notification, 0)
	for _, id := range s.sequence {
		n, ok := s.notifications[id]
		if ok && match(n) {
			out = append(out, copyNotification(n))
		}
	}
	return out
}

// ResolveNotification moves a pending offer to res.Status.
func (s *Store) ResolveNotification(_ context.Context, id string, res assignment.Resolution) (*domain.Notification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n, ok := s.notifications[id]
	if !ok {
		return nil, assignment.ErrNotificationNotFound
	}
	if n.Status != domain.NotificationStatusPending {
		return nil, assignment.ErrAlreadyResolved
	}
	n.Status = res.Status
	n.RespondedAt = res.RespondedAt
	n.Response = res.Response
	n.RejectionReason = res.RejectionReason
	return copyNotification(n), nil
}

// MarkMessageSent records a successful delivery.
func (s *Store) MarkMessageSent(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	n, ok := s.notifications[id]
	if !ok {
		return assignment.ErrNotificationNotFound
	}
	n.MessageSent = true
	return nil
}

// AcceptNotification accepts a pending offer and assigns its property.
// Nothing changes unless every step succeeds.
func (s *Store) AcceptNotification(_ context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	n, ok := s.notifications[id]
	if !ok {
		return assignment.ErrNotificationNotFound
	}
	if n.Status != domain.NotificationStatusPending {
		return assignment.ErrAlreadyResolved
	}
	q := s.queueByID(n.QueueID)
	if q == nil || q.Status != domain.QueueStatusActive {
		return assignment.ErrAlreadyResolved
	}
	if err := s.setAgentIfUnset(n.PropertyID, n.AgentID); err != nil {
		return err
	}

	response := string(domain.NotificationStatusAccepted)
	n.Status = domain.NotificationStatusAccepted
	n.RespondedAt = &at
	n.Response = &response

	agentID := n.AgentID
	q.Status = domain.QueueStatusCompleted
	q.FinalAgentID = &agentID
	q.CompletedAt = &at

	for _, other := range s.notifications {
		if other.PropertyID == n.PropertyID && other.Status == domain.NotificationStatusPending {
			other.Status = domain.NotificationStatusCancelled
		}
	}
	return nil
}

// DeleteRun removes the run and offers of a property.
func (s *Store) DeleteRun(_ context.Context, propertyID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.queues, propertyID)
	for id, n := range s.notifications {
		if n.PropertyID == propertyID {
			delete(s.notifications, id)
		}
	}
	s.sequence = slices.DeleteFunc(s.sequence, func(id string) bool {
		_, ok := s.notifications[id]
		return !ok
	})
	return nil
}

func (s *Store) queueByID(id string) *domain.AssignmentQueue {
	for _, q := range s.queues {
		if q.ID == id {
			return q
		}
	}
	return nil
}

func copyProperty(p *domain.Property) *domain.Property {
	c := *p
	if p.AgentID != nil {
		id := *p.AgentID
		c.AgentID = &id
	}
	return &c
}

func copyQueue(q *domain.AssignmentQueue) *domain.AssignmentQueue {
	c := *q
	c.Candidates = slices.Clone(q.Candidates)
	return &c
}

func copyNotification(n *domain.Notification) *domain.Notification {
	c := *n
	return &c
}
