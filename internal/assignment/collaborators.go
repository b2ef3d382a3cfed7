package assignment

import (
	"context"
	"time"

	"github.com/bissquit/listing-dispatch/internal/domain"
)

// AgentFilter selects active verified agents by location.
// Empty fields do not constrain the match.
type AgentFilter struct {
	ZipCode string
	City    string
	State   string
}

// Directory looks up agents.
type Directory interface {
	FindAgents(ctx context.Context, filter AgentFilter) ([]domain.Candidate, error)
	GetAgent(ctx context.Context, id string) (*domain.Agent, error)
}

// PropertyStore reads properties and hands unassigned ones to the manual pool.
type PropertyStore interface {
	GetProperty(ctx context.Context, id string) (*domain.Property, error)
	MoveToPool(ctx context.Context, id string) error
}

// Offer is the message delivered to a candidate.
type Offer struct {
	NotificationID string
	Property       domain.Property
	Agent          domain.Agent
	Round          int
	ExpiresAt      time.Time
	AcceptURL      string
	RejectURL      string
}

// Notifier delivers offers to agents.
type Notifier interface {
	SendOffer(ctx context.Context, offer Offer) error
}

// PoolAlert describes a property that fell back to the manual pool.
type PoolAlert struct {
	Property          domain.Property
	Reason            domain.UnassignedReason
	NotificationsSent int
	AgentsContacted   int
}

// Alerter notifies operators about pool fallbacks.
type Alerter interface {
	AlertPool(ctx context.Context, alert PoolAlert) error
}
