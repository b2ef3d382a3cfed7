package domain

import "time"

// QueueStatus represents the lifecycle state of an assignment run.
type QueueStatus string

// Queue statuses.
const (
	QueueStatusActive              QueueStatus = "active"
	QueueStatusCompleted           QueueStatus = "completed"
	QueueStatusCompletedUnassigned QueueStatus = "completed_unassigned"
)

// IsTerminal reports whether the run has finished.
func (s QueueStatus) IsTerminal() bool {
	return s == QueueStatusCompleted || s == QueueStatusCompletedUnassigned
}

// UnassignedReason explains why a run ended without an agent.
type UnassignedReason string

// Unassigned reasons.
const (
	UnassignedNoCandidates    UnassignedReason = "no_candidates"
	UnassignedRoundsExhausted UnassignedReason = "rounds_exhausted"
	// UnassignedAlreadyAssigned ends a run whose property got an agent
	// from outside the run.
	UnassignedAlreadyAssigned UnassignedReason = "already_assigned"
)

// NotificationStatus represents the state of a single offer.
type NotificationStatus string

// Notification statuses.
const (
	NotificationStatusPending   NotificationStatus = "pending"
	NotificationStatusAccepted  NotificationStatus = "accepted"
	NotificationStatusRejected  NotificationStatus = "rejected"
	NotificationStatusTimeout   NotificationStatus = "timeout"
	NotificationStatusExpired   NotificationStatus = "expired"
	NotificationStatusCancelled NotificationStatus = "cancelled"
)

// IsTerminal reports whether the offer can no longer change.
func (s NotificationStatus) IsTerminal() bool {
	return s != NotificationStatusPending
}

// Candidate is an agent eligible to receive an offer for a property.
type Candidate struct {
	AgentID string `json:"agent_id"`
	Name    string `json:"name"`
}

// AssignmentQueue is the state of one assignment run for a property.
// Candidates is a snapshot taken when the run starts and never changes.
type AssignmentQueue struct {
	ID                     string           `json:"id"`
	PropertyID             string           `json:"property_id"`
	Status                 QueueStatus      `json:"status"`
	Candidates             []Candidate      `json:"candidate_list"`
	CurrentRound           int              `json:"current_round"`
	LastNotifiedIndex      int              `json:"last_notified_index"`
	CurrentNotificationID  *string          `json:"current_notification_id"`
	TotalNotificationsSent int              `json:"total_notifications_sent"`
	TotalAgentsContacted   int              `json:"total_agents_contacted"`
	FinalAgentID           *string          `json:"final_agent_id"`
	UnassignedReason       UnassignedReason `json:"unassigned_reason,omitempty"`
	StartedAt              time.Time        `json:"started_at"`
	CompletedAt            *time.Time       `json:"completed_at"`
}

// Notification is a single time-boxed offer sent to one candidate.
type Notification struct {
	ID              string             `json:"id"`
	QueueID         string             `json:"queue_id"`
	PropertyID      string             `json:"property_id"`
	AgentID         string             `json:"agent_id"`
	Round           int                `json:"round"`
	Status          NotificationStatus `json:"status"`
	SentAt          time.Time          `json:"sent_at"`
	ExpiresAt       time.Time          `json:"expires_at"`
	RespondedAt     *time.Time         `json:"responded_at"`
	Response        *string            `json:"response"`
	RejectionReason *string            `json:"rejection_reason"`
	MessageSent     bool               `json:"message_sent"`
}

// IsExpired reports whether the acceptance window has elapsed at now.
func (n *Notification) IsExpired(now time.Time) bool {
	return now.After(n.ExpiresAt)
}
