package assignment_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/bissquit/listing-dispatch/internal/assignment"
	"github.com/bissquit/listing-dispatch/internal/domain"
	"github.com/bissquit/listing-dispatch/internal/pkg/httputil"
	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubTokens maps bearer tokens straight to principals.
type stubTokens map[string]struct {
	userID string
	role   domain.Role
}

func (s stubTokens) ValidateToken(_ context.Context, token string) (string, domain.Role, error) {
	p, ok := s[token]
	if !ok {
		return "", "", errors.New("unknown token")
	}
	return p.userID, p.role, nil
}

func newRouter(h *harness) http.Handler {
	tokens := stubTokens{
		"admin": {userID: "99999999-9999-9999-9999-999999999999", role: domain.RoleAdmin},
		"alice": {userID: agentA, role: domain.RoleAgent},
		"bob":   {userID: agentB, role: domain.RoleAgent},
		"user":  {userID: "88888888-8888-8888-8888-888888888888", role: domain.RoleUser},
	}
	handler := assignment.NewHandler(h.svc)

	r := chi.NewRouter()
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(httputil.AuthMiddleware(tokens))
		r.Group(func(r chi.Router) {
			r.Use(httputil.RequireRole(domain.RoleAgent))
			handler.RegisterAgentRoutes(r)
		})
		r.Group(func(r chi.Router) {
			r.Use(httputil.RequireRole(domain.RoleAdmin))
			handler.RegisterAdminRoutes(r)
		})
	})
	return r
}

type envelope struct {
	Data  json.RawMessage `json:"data"`
	Error *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func do(t *testing.T, router http.Handler, method, path, token, body string) (int, envelope) {
	t.Helper()

	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	var env envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env), rec.Body.String())
	return rec.Code, env
}

func TestHandler_AssignmentFlow(t *testing.T) {
	h := newHarness(t)
	h.addAgent(agentA, "alice", "10001", "", "")
	h.addAgent(agentB, "bob", "10001", "", "")
	propertyID := h.addProperty("10001", "", "")
	router := newRouter(h)

	code, env := do(t, router, http.MethodPost, "/api/v1/properties/"+propertyID+"/assignment", "admin", "")
	require.Equal(t, http.StatusAccepted, code)
	var started assignment.StartResult
	require.NoError(t, json.Unmarshal(env.Data, &started))
	assert.Equal(t, assignment.StartStatusStarted, started.Status)
	assert.Equal(t, 2, started.CandidateCount)

	code, env = do(t, router, http.MethodPost, "/api/v1/properties/"+propertyID+"/assignment", "admin", "")
	assert.Equal(t, http.StatusConflict, code)
	require.NotNil(t, env.Error)

	code, env = do(t, router, http.MethodGet, "/api/v1/me/offers", "alice", "")
	require.Equal(t, http.StatusOK, code)
	var offers []domain.Notification
	require.NoError(t, json.Unmarshal(env.Data, &offers))
	require.Len(t, offers, 1)
	offerID := offers[0].ID

	code, _ = do(t, router, http.MethodPost, "/api/v1/offers/"+offerID+"/accept", "bob", "")
	assert.Equal(t, http.StatusForbidden, code)

	code, env = do(t, router, http.MethodPost, "/api/v1/offers/"+offerID+"/reject", "alice", `{"reason":"on vacation"}`)
	require.Equal(t, http.StatusOK, code)
	assert.JSONEq(t, `{"status":"rejected"}`, string(env.Data))

	code, env = do(t, router, http.MethodGet, "/api/v1/me/offers", "bob", "")
	require.Equal(t, http.StatusOK, code)
	require.NoError(t, json.Unmarshal(env.Data, &offers))
	require.Len(t, offers, 1)

	code, env = do(t, router, http.MethodPost, "/api/v1/offers/"+offers[0].ID+"/accept", "bob", "")
	require.Equal(t, http.StatusOK, code)
	assert.JSONEq(t, `{"status":"assigned","property_id":"`+propertyID+`"}`, string(env.Data))

	code, _ = do(t, router, http.MethodPost, "/api/v1/offers/"+offers[0].ID+"/accept", "bob", "")
	assert.Equal(t, http.StatusConflict, code)

	code, env = do(t, router, http.MethodGet, "/api/v1/properties/"+propertyID+"/assignment", "admin", "")
	require.Equal(t, http.StatusOK, code)
	var tracking assignment.Tracking
	require.NoError(t, json.Unmarshal(env.Data, &tracking))
	assert.Equal(t, domain.QueueStatusCompleted, tracking.Queue.Status)
	require.Len(t, tracking.Notifications, 2)
	assert.Equal(t, domain.NotificationStatusRejected, tracking.Notifications[0].Status)
	assert.Equal(t, domain.NotificationStatusAccepted, tracking.Notifications[1].Status)

	code, _ = do(t, router, http.MethodPost, "/api/v1/properties/"+propertyID+"/assignment/retry", "admin", "")
	assert.Equal(t, http.StatusConflict, code)
}

func TestHandler_Errors(t *testing.T) {
	h := newHarness(t)
	h.addAgent(agentA, "alice", "10001", "", "")
	propertyID := h.addProperty("10001", "", "")
	router := newRouter(h)

	_, err := h.svc.StartAssignment(context.Background(), propertyID)
	require.NoError(t, err)
	offerID := h.pending(t, propertyID).ID

	tests := []struct {
		name   string
		method string
		path   string
		token  string
		body   string
		want   int
	}{
		{"no token", http.MethodGet, "/api/v1/me/offers", "", "", http.StatusUnauthorized},
		{"user cannot accept", http.MethodPost, "/api/v1/offers/" + offerID + "/accept", "user", "", http.StatusForbidden},
		{"agent cannot start", http.MethodPost, "/api/v1/properties/" + propertyID + "/assignment", "alice", "", http.StatusForbidden},
		{"invalid offer id", http.MethodPost, "/api/v1/offers/not-a-uuid/accept", "alice", "", http.StatusBadRequest},
		{"unknown offer", http.MethodPost, "/api/v1/offers/00000000-0000-0000-0000-000000000000/accept", "alice", "", http.StatusNotFound},
		{"unknown property", http.MethodGet, "/api/v1/properties/00000000-0000-0000-0000-000000000000/assignment", "admin", "", http.StatusNotFound},
		{"invalid reject body", http.MethodPost, "/api/v1/offers/" + offerID + "/reject", "alice", "{", http.StatusBadRequest},
		{"reason too long", http.MethodPost, "/api/v1/offers/" + offerID + "/reject", "alice", `{"reason":"` + strings.Repeat("x", 4001) + `"}`, http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, env := do(t, router, tt.method, tt.path, tt.token, tt.body)
			assert.Equal(t, tt.want, code)
			assert.NotNil(t, env.Error)
		})
	}
}

func TestHandler_ExpiredOffer(t *testing.T) {
	h := newHarness(t)
	h.addAgent(agentA, "alice", "10001", "", "")
	propertyID := h.addProperty("10001", "", "")
	router := newRouter(h)

	_, err := h.svc.StartAssignment(context.Background(), propertyID)
	require.NoError(t, err)
	offerID := h.pending(t, propertyID).ID

	h.clock.Advance(h.cfg.Window + 1)

	code, env := do(t, router, http.MethodPost, "/api/v1/offers/"+offerID+"/accept", "alice", "")
	assert.Equal(t, http.StatusGone, code)
	require.NotNil(t, env.Error)
	assert.Equal(t, "offer_expired", env.Error.Code)
	assert.Equal(t, assignment.ErrOfferExpired.Error(), env.Error.Message)
}
