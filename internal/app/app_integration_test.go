//go:build integration

package app_test

import (
	"context"
	"log"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/bissquit/listing-dispatch/internal/app"
	"github.com/bissquit/listing-dispatch/internal/assignment"
	"github.com/bissquit/listing-dispatch/internal/config"
	"github.com/bissquit/listing-dispatch/internal/domain"
	"github.com/bissquit/listing-dispatch/internal/identity/jwt"
	"github.com/bissquit/listing-dispatch/internal/testutil"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	openAPISpecPath = "../../api/openapi/openapi.yaml"
	jwtSecret       = "integration-secret"
	offerWindow     = 5 * time.Second
)

var (
	testServer    *httptest.Server
	testClient    *testutil.Client
	testDB        *pgxpool.Pool
	testTokens    *jwt.Authenticator
	mailpitClient *testutil.MailpitClient
)

func TestMain(m *testing.M) {
	ctx := context.Background()

	pgContainer, pool, err := testutil.NewMigratedPostgres(ctx)
	if err != nil {
		log.Fatalf("start postgres: %v", err)
	}
	testDB = pool

	mailpit, err := testutil.NewMailpitContainer(ctx)
	if err != nil {
		log.Fatalf("start mailpit: %v", err)
	}
	mailpitClient = testutil.NewMailpitClient(mailpit.APIHost, mailpit.APIPort)

	cfg := config.Default()
	cfg.Database.URL = pgContainer.ConnectionString
	cfg.Log.Level = "warn"
	cfg.JWT.SecretKey = jwtSecret
	cfg.Assignment.Window = offerWindow
	cfg.Assignment.BaseURL = "https://dispatch.test"
	cfg.Notifications.Email = config.EmailConfig{
		Enabled:     true,
		SMTPHost:    mailpit.SMTPHost,
		SMTPPort:    mailpit.SMTPPort,
		FromAddress: "dispatch@listings.test",
	}

	application, err := app.New(&cfg)
	if err != nil {
		log.Fatalf("create app: %v", err)
	}
	testServer = httptest.NewServer(application.Router())
	testTokens = jwt.NewAuthenticator(jwt.Config{SecretKey: jwtSecret})

	validator, err := testutil.LoadOpenAPIValidator(openAPISpecPath)
	if err != nil {
		log.Fatalf("load openapi spec: %v", err)
	}
	testClient = testutil.NewClientWithValidator(testServer.URL, validator)

	code := m.Run()

	testServer.Close()
	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	if err := application.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown app: %v", err)
	}
	cancel()
	testDB.Close()
	if err := mailpit.Terminate(ctx); err != nil {
		log.Printf("terminate mailpit: %v", err)
	}
	if err := pgContainer.Terminate(ctx); err != nil {
		log.Printf("terminate postgres: %v", err)
	}

	os.Exit(code)
}

// uniqueZip keeps agent matches of concurrent tests apart.
func uniqueZip() string {
	return "Z" + strings.ReplaceAll(uuid.NewString(), "-", "")[:9]
}

func createAgent(t *testing.T, name, zip string) (id, email string) {
	t.Helper()

	email = strings.ToLower(name) + "-" + uuid.NewString()[:8] + "@agents.test"
	err := testDB.QueryRow(context.Background(), `
		INSERT INTO users (name, email, role, status, is_verified, zip_code)
		VALUES ($1, $2, 'agent', 'active', true, $3)
		RETURNING id
	`, name, email, zip).Scan(&id)
	require.NoError(t, err)
	return id, email
}

func createProperty(t *testing.T, title, zip string) string {
	t.Helper()

	var id string
	err := testDB.QueryRow(context.Background(),
		`INSERT INTO properties (title, zip_code) VALUES ($1, $2) RETURNING id`,
		title, zip,
	).Scan(&id)
	require.NoError(t, err)
	return id
}

func token(t *testing.T, userID string, role domain.Role) string {
	t.Helper()
	tok, err := testTokens.IssueToken(userID, role, time.Hour)
	require.NoError(t, err)
	return tok
}

func adminClient(t *testing.T) *testutil.Client {
	return testClient.As(t, token(t, uuid.NewString(), domain.RoleAdmin))
}

func myOffers(t *testing.T, client *testutil.Client) []domain.Notification {
	t.Helper()

	resp, err := client.GET("/api/v1/me/offers")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var offers []domain.Notification
	testutil.DecodeData(t, resp, &offers)
	return offers
}

func TestHealth(t *testing.T) {
	resp, err := testClient.As(t, "").GET("/healthz")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestAssignment_AcceptFlow(t *testing.T) {
	zip := uniqueZip()
	aliceID, aliceEmail := createAgent(t, "Alice", zip)
	bobID, _ := createAgent(t, "Bob", zip)
	propertyID := createProperty(t, "Loft with a view", zip)

	admin := adminClient(t)
	resp, err := admin.POST("/api/v1/properties/"+propertyID+"/assignment", nil)
	require.NoError(t, err)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	var started assignment.StartResult
	testutil.DecodeData(t, resp, &started)
	assert.Equal(t, assignment.StartStatusStarted, started.Status)
	assert.Equal(t, 2, started.CandidateCount)

	messages, err := mailpitClient.WaitForRecipient(aliceEmail, 1, 10*time.Second)
	require.NoError(t, err)
	assert.Contains(t, messages[0].Subject, "Loft with a view")

	msg, err := mailpitClient.Message(messages[0].ID)
	require.NoError(t, err)
	assert.Contains(t, msg.Text, "https://dispatch.test/api/v1/offers/")

	alice := testClient.As(t, token(t, aliceID, domain.RoleAgent))
	offers := myOffers(t, alice)
	require.Len(t, offers, 1)
	assert.Equal(t, propertyID, offers[0].PropertyID)
	assert.True(t, offers[0].MessageSent)

	bob := testClient.As(t, token(t, bobID, domain.RoleAgent))
	assert.Empty(t, myOffers(t, bob))

	resp, err = alice.POST("/api/v1/offers/"+offers[0].ID+"/accept", nil)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	_ = resp.Body.Close()

	var agentID string
	require.NoError(t, testDB.QueryRow(context.Background(),
		`SELECT agent_id FROM properties WHERE id = $1`, propertyID,
	).Scan(&agentID))
	assert.Equal(t, aliceID, agentID)

	resp, err = admin.GET("/api/v1/properties/" + propertyID + "/assignment")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var tracking assignment.Tracking
	testutil.DecodeData(t, resp, &tracking)
	assert.Equal(t, domain.QueueStatusCompleted, tracking.Queue.Status)
	require.NotNil(t, tracking.Queue.FinalAgentID)
	assert.Equal(t, aliceID, *tracking.Queue.FinalAgentID)
	assert.Equal(t, 1, tracking.Queue.TotalNotificationsSent)
	require.Len(t, tracking.Notifications, 1)
	assert.Equal(t, domain.NotificationStatusAccepted, tracking.Notifications[0].Status)
}

func TestAssignment_RejectAdvancesToNextAgent(t *testing.T) {
	zip := uniqueZip()
	aliceID, _ := createAgent(t, "Alice", zip)
	bobID, bobEmail := createAgent(t, "Bob", zip)
	propertyID := createProperty(t, "Cottage", zip)

	resp, err := adminClient(t).POST("/api/v1/properties/"+propertyID+"/assignment", nil)
	require.NoError(t, err)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	_ = resp.Body.Close()

	alice := testClient.As(t, token(t, aliceID, domain.RoleAgent))
	offers := myOffers(t, alice)
	require.Len(t, offers, 1)

	resp, err = alice.POST("/api/v1/offers/"+offers[0].ID+"/reject", map[string]string{"reason": "too far"})
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	_ = resp.Body.Close()

	_, err = mailpitClient.WaitForRecipient(bobEmail, 1, 10*time.Second)
	require.NoError(t, err)

	bob := testClient.As(t, token(t, bobID, domain.RoleAgent))
	offers = myOffers(t, bob)
	require.Len(t, offers, 1)
	assert.Equal(t, 1, offers[0].Round)
}

func TestAssignment_NoCandidatesGoesToPool(t *testing.T) {
	propertyID := createProperty(t, "Remote cabin", uniqueZip())

	resp, err := adminClient(t).POST("/api/v1/properties/"+propertyID+"/assignment", nil)
	require.NoError(t, err)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	var started assignment.StartResult
	testutil.DecodeData(t, resp, &started)
	assert.Equal(t, assignment.StartStatusUnassigned, started.Status)

	var inPool bool
	require.NoError(t, testDB.QueryRow(context.Background(),
		`SELECT in_agent_pool FROM properties WHERE id = $1`, propertyID,
	).Scan(&inPool))
	assert.True(t, inPool)
}

func TestAssignment_TimeoutAdvances(t *testing.T) {
	zip := uniqueZip()
	_, aliceEmail := createAgent(t, "Alice", zip)
	_, bobEmail := createAgent(t, "Bob", zip)
	propertyID := createProperty(t, "Townhouse", zip)

	resp, err := adminClient(t).POST("/api/v1/properties/"+propertyID+"/assignment", nil)
	require.NoError(t, err)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	_ = resp.Body.Close()

	_, err = mailpitClient.WaitForRecipient(aliceEmail, 1, 10*time.Second)
	require.NoError(t, err)
	_, err = mailpitClient.WaitForRecipient(bobEmail, 1, offerWindow+10*time.Second)
	require.NoError(t, err)

	var statuses []string
	rows, err := testDB.Query(context.Background(),
		`SELECT status FROM agent_property_notifications WHERE property_id = $1 ORDER BY sent_at`, propertyID)
	require.NoError(t, err)
	for rows.Next() {
		var s string
		require.NoError(t, rows.Scan(&s))
		statuses = append(statuses, s)
	}
	rows.Close()
	require.NoError(t, rows.Err())
	assert.Equal(t, []string{"timeout", "pending"}, statuses)
}

func TestAssignment_Unauthorized(t *testing.T) {
	propertyID := createProperty(t, "Studio", uniqueZip())

	resp, err := testClient.As(t, "").POST("/api/v1/properties/"+propertyID+"/assignment", nil)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	agent := testClient.As(t, token(t, uuid.NewString(), domain.RoleAgent))
	resp2, err := agent.POST("/api/v1/properties/"+propertyID+"/assignment", nil)
	require.NoError(t, err)
	defer func() { _ = resp2.Body.Close() }()
	assert.Equal(t, http.StatusForbidden, resp2.StatusCode)
}
