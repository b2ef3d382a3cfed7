package notifications

import (
	"time"

	"github.com/bissquit/listing-dispatch/internal/assignment"
)

// MessageType defines the type of notification.
type MessageType string

// Message types.
const (
	MessageTypeOffer     MessageType = "offer"      // Assignment offer to an agent
	MessageTypePoolAlert MessageType = "pool_alert" // Property fell back to the manual pool
)

// OfferPayload contains data for rendering an assignment offer.
type OfferPayload struct {
	OfferID       string
	AgentName     string
	PropertyID    string
	PropertyTitle string
	City          string
	State         string
	ZipCode       string
	Round         int
	ExpiresAt     time.Time
	Window        time.Duration
	AcceptURL     string
	RejectURL     string
}

// PoolAlertPayload contains data for rendering an operations alert.
type PoolAlertPayload struct {
	PropertyID        string
	PropertyTitle     string
	City              string
	State             string
	ZipCode           string
	Reason            string
	NotificationsSent int
	AgentsContacted   int
}

// NewOfferPayload builds the template data for an offer sent at now.
func NewOfferPayload(offer assignment.Offer, now time.Time) OfferPayload {
	return OfferPayload{
		OfferID:       offer.NotificationID,
		AgentName:     offer.Agent.Name,
		PropertyID:    offer.Property.ID,
		PropertyTitle: offer.Property.Title,
		City:          offer.Property.City,
		State:         offer.Property.State,
		ZipCode:       offer.Property.ZipCode,
		Round:         offer.Round,
		ExpiresAt:     offer.ExpiresAt,
		Window:        offer.ExpiresAt.Sub(now).Round(time.Second),
		AcceptURL:     offer.AcceptURL,
		RejectURL:     offer.RejectURL,
	}
}

// NewPoolAlertPayload builds the template data for a pool fallback alert.
func NewPoolAlertPayload(alert assignment.PoolAlert) PoolAlertPayload {
	return PoolAlertPayload{
		PropertyID:        alert.Property.ID,
		PropertyTitle:     alert.Property.Title,
		City:              alert.Property.City,
		State:             alert.Property.State,
		ZipCode:           alert.Property.ZipCode,
		Reason:            string(alert.Reason),
		NotificationsSent: alert.NotificationsSent,
		AgentsContacted:   alert.AgentsContacted,
	}
}
