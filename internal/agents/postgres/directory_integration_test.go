//go:build integration

package postgres_test

import (
	"context"
	"log"
	"os"
	"testing"

	"github.com/bissquit/listing-dispatch/internal/agents/postgres"
	"github.com/bissquit/listing-dispatch/internal/assignment"
	"github.com/bissquit/listing-dispatch/internal/testutil"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testDB *pgxpool.Pool

func TestMain(m *testing.M) {
	ctx := context.Background()

	container, pool, err := testutil.NewMigratedPostgres(ctx)
	if err != nil {
		log.Fatalf("start postgres: %v", err)
	}
	testDB = pool

	code := m.Run()

	testDB.Close()
	if err := container.Terminate(ctx); err != nil {
		log.Printf("terminate postgres: %v", err)
	}
	os.Exit(code)
}

type user struct {
	name     string
	role     string
	status   string
	verified bool
	zip      string
	city     string
	state    string
}

func insertUser(t *testing.T, u user) string {
	t.Helper()

	var id string
	err := testDB.QueryRow(context.Background(), `
		INSERT INTO users (name, email, phone, role, status, is_verified, zip_code, city, state, created_at)
		VALUES ($1, $2, '+15550100', $3, $4, $5, $6, $7, $8, clock_timestamp())
		RETURNING id
	`, u.name, uuid.NewString()+"@agents.test", u.role, u.status, u.verified, u.zip, u.city, u.state).Scan(&id)
	require.NoError(t, err)
	return id
}

func TestDirectory_FindAgents(t *testing.T) {
	ctx := context.Background()
	dir := postgres.NewDirectory(testDB)

	zip := uuid.NewString()[:8]
	state := "S" + uuid.NewString()[:6]

	first := insertUser(t, user{name: "first", role: "agent", status: "active", verified: true, zip: zip, city: "Austin", state: state})
	second := insertUser(t, user{name: "second", role: "agent", status: "active", verified: true, zip: zip, city: "austin", state: state})
	insertUser(t, user{name: "unverified", role: "agent", status: "active", verified: false, zip: zip, city: "Austin", state: state})
	insertUser(t, user{name: "suspended", role: "agent", status: "suspended", verified: true, zip: zip, city: "Austin", state: state})
	insertUser(t, user{name: "customer", role: "user", status: "active", verified: true, zip: zip, city: "Austin", state: state})
	other := insertUser(t, user{name: "other", role: "agent", status: "active", verified: true, zip: "other-" + zip, city: "Dallas", state: state})

	tests := []struct {
		name   string
		filter assignment.AgentFilter
		want   []string
	}{
		{"by zip", assignment.AgentFilter{ZipCode: zip}, []string{first, second}},
		{"by city ignores case", assignment.AgentFilter{City: "AUSTIN", State: state}, []string{first, second}},
		{"by state", assignment.AgentFilter{State: state}, []string{first, second, other}},
		{"no match", assignment.AgentFilter{ZipCode: "missing-" + zip}, []string{}},
		{"empty filter", assignment.AgentFilter{}, []string{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			candidates, err := dir.FindAgents(ctx, tt.filter)
			require.NoError(t, err)

			got := make([]string, 0, len(candidates))
			for _, c := range candidates {
				got = append(got, c.AgentID)
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDirectory_GetAgent(t *testing.T) {
	ctx := context.Background()
	dir := postgres.NewDirectory(testDB)

	id := insertUser(t, user{name: "carol", role: "agent", status: "active", verified: true})
	agent, err := dir.GetAgent(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "carol", agent.Name)
	assert.Equal(t, "+15550100", agent.Phone)

	customer := insertUser(t, user{name: "dave", role: "user", status: "active"})
	_, err = dir.GetAgent(ctx, customer)
	assert.ErrorIs(t, err, assignment.ErrAgentNotFound)
}
