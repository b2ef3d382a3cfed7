package assignment

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/bissquit/listing-dispatch/internal/pkg/httputil"
	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

var errorMappings = []httputil.ErrorMapping{
	{Error: ErrPropertyNotFound, Status: http.StatusNotFound, Code: "property_not_found"},
	{Error: ErrQueueNotFound, Status: http.StatusNotFound, Code: "run_not_found", Message: "no assignment run for property"},
	{Error: ErrNotificationNotFound, Status: http.StatusNotFound, Code: "offer_not_found"},
	{Error: ErrWrongRecipient, Status: http.StatusForbidden, Code: "wrong_recipient"},
	{Error: ErrOfferExpired, Status: http.StatusGone, Code: "offer_expired"},
	{Error: ErrAlreadyResolved, Status: http.StatusConflict, Code: "offer_resolved"},
	{Error: ErrAlreadyAssigned, Status: http.StatusConflict, Code: "already_assigned"},
	{Error: ErrRunExists, Status: http.StatusConflict, Code: "run_exists", Message: "assignment run already exists, use retry"},
}

// Handler handles HTTP requests for assignment runs and offers.
type Handler struct {
	service   *Service
	validator *validator.Validate
}

// NewHandler creates a new assignment handler.
func NewHandler(service *Service) *Handler {
	return &Handler{
		service:   service,
		validator: validator.New(),
	}
}

// RegisterAdminRoutes registers run management routes (admin only).
func (h *Handler) RegisterAdminRoutes(r chi.Router) {
	r.Route("/properties/{id}/assignment", func(r chi.Router) {
		r.Post("/", h.StartAssignment)
		r.Get("/", h.GetTracking)
		r.Post("/retry", h.Retry)
	})
}

// RegisterAgentRoutes registers offer response routes (agent role).
func (h *Handler) RegisterAgentRoutes(r chi.Router) {
	r.Post("/offers/{id}/accept", h.Accept)
	r.Post("/offers/{id}/reject", h.Reject)
	r.Get("/me/offers", h.ListMyOffers)
}

// RejectRequest represents the optional body of a rejection.
type RejectRequest struct {
	Reason string `json:"reason" validate:"max=4000"`
}

// StartAssignment handles POST /properties/{id}/assignment.
func (h *Handler) StartAssignment(w http.ResponseWriter, r *http.Request) {
	propertyID, ok := pathID(w, r)
	if !ok {
		return
	}

	result, err := h.service.StartAssignment(r.Context(), propertyID)
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}

	httputil.Success(w, http.StatusAccepted, result)
}

// Retry handles POST /properties/{id}/assignment/retry.
func (h *Handler) Retry(w http.ResponseWriter, r *http.Request) {
	propertyID, ok := pathID(w, r)
	if !ok {
		return
	}

	result, err := h.service.Retry(r.Context(), propertyID)
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}

	httputil.Success(w, http.StatusAccepted, result)
}

// GetTracking handles GET /properties/{id}/assignment.
func (h *Handler) GetTracking(w http.ResponseWriter, r *http.Request) {
	propertyID, ok := pathID(w, r)
	if !ok {
		return
	}

	tracking, err := h.service.GetTracking(r.Context(), propertyID)
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}

	httputil.Success(w, http.StatusOK, tracking)
}

// Accept handles POST /offers/{id}/accept.
func (h *Handler) Accept(w http.ResponseWriter, r *http.Request) {
	notificationID, ok := pathID(w, r)
	if !ok {
		return
	}
	agentID := httputil.GetUserID(r.Context())

	propertyID, err := h.service.Accept(r.Context(), notificationID, agentID)
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}

	httputil.Success(w, http.StatusOK, map[string]string{
		"status":      "assigned",
		"property_id": propertyID,
	})
}

// Reject handles POST /offers/{id}/reject.
func (h *Handler) Reject(w http.ResponseWriter, r *http.Request) {
	notificationID, ok := pathID(w, r)
	if !ok {
		return
	}
	agentID := httputil.GetUserID(r.Context())

	var req RejectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		httputil.ErrorWithCode(w, http.StatusBadRequest, "invalid_body", "invalid json")
		return
	}

	if err := h.validator.Struct(req); err != nil {
		httputil.ValidationError(w, err)
		return
	}

	if err := h.service.Reject(r.Context(), notificationID, agentID, req.Reason); err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}

	httputil.Success(w, http.StatusOK, map[string]string{"status": "rejected"})
}

// ListMyOffers handles GET /me/offers.
func (h *Handler) ListMyOffers(w http.ResponseWriter, r *http.Request) {
	agentID := httputil.GetUserID(r.Context())

	offers, err := h.service.PendingOffers(r.Context(), agentID)
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}

	httputil.Success(w, http.StatusOK, offers)
}

func pathID(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := chi.URLParam(r, "id")
	if _, err := uuid.Parse(id); err != nil {
		httputil.ErrorWithCode(w, http.StatusBadRequest, "invalid_id", "invalid id")
		return "", false
	}
	return id, true
}
