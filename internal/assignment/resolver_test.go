package assignment

import (
	"context"
	"errors"
	"testing"

	"github.com/bissquit/listing-dispatch/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockDirectory implements Directory for testing.
type mockDirectory struct {
	byFilter map[AgentFilter][]domain.Candidate
	err      error
	calls    []AgentFilter
}

func (m *mockDirectory) FindAgents(_ context.Context, filter AgentFilter) ([]domain.Candidate, error) {
	m.calls = append(m.calls, filter)
	if m.err != nil {
		return nil, m.err
	}
	return m.byFilter[filter], nil
}

func (m *mockDirectory) GetAgent(_ context.Context, _ string) (*domain.Agent, error) {
	return nil, ErrAgentNotFound
}

func TestResolver_Resolve(t *testing.T) {
	alice := domain.Candidate{AgentID: "a", Name: "alice"}
	bob := domain.Candidate{AgentID: "b", Name: "bob"}

	tests := []struct {
		name      string
		property  domain.Property
		byFilter  map[AgentFilter][]domain.Candidate
		want      []domain.Candidate
		wantCalls []AgentFilter
	}{
		{
			name:     "zip match wins",
			property: domain.Property{ZipCode: "10001", City: "New York", State: "NY"},
			byFilter: map[AgentFilter][]domain.Candidate{
				{ZipCode: "10001"}:              {alice},
				{City: "New York", State: "NY"}: {bob},
			},
			want:      []domain.Candidate{alice},
			wantCalls: []AgentFilter{{ZipCode: "10001"}},
		},
		{
			name:     "falls back to city and state",
			property: domain.Property{ZipCode: "10001", City: "New York", State: "NY"},
			byFilter: map[AgentFilter][]domain.Candidate{
				{City: "New York", State: "NY"}: {bob, alice},
			},
			want:      []domain.Candidate{bob, alice},
			wantCalls: []AgentFilter{{ZipCode: "10001"}, {City: "New York", State: "NY"}},
		},
		{
			name:      "blank zip skips first pass",
			property:  domain.Property{ZipCode: "  ", City: " Boston ", State: "MA"},
			byFilter:  map[AgentFilter][]domain.Candidate{{City: "Boston", State: "MA"}: {alice}},
			want:      []domain.Candidate{alice},
			wantCalls: []AgentFilter{{City: "Boston", State: "MA"}},
		},
		{
			name:      "missing state skips second pass",
			property:  domain.Property{ZipCode: "02108", City: "Boston"},
			want:      []domain.Candidate{},
			wantCalls: []AgentFilter{{ZipCode: "02108"}},
		},
		{
			name:     "duplicates removed in order",
			property: domain.Property{ZipCode: "10001"},
			byFilter: map[AgentFilter][]domain.Candidate{
				{ZipCode: "10001"}: {bob, alice, bob},
			},
			want:      []domain.Candidate{bob, alice},
			wantCalls: []AgentFilter{{ZipCode: "10001"}},
		},
		{
			name:     "no location at all",
			property: domain.Property{},
			want:     []domain.Candidate{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := &mockDirectory{byFilter: tt.byFilter}
			r := NewResolver(dir)

			got, err := r.Resolve(context.Background(), &tt.property)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.wantCalls, dir.calls)
		})
	}
}

func TestResolver_DirectoryError(t *testing.T) {
	dir := &mockDirectory{err: errors.New("connection refused")}
	r := NewResolver(dir)

	_, err := r.Resolve(context.Background(), &domain.Property{ZipCode: "10001"})
	assert.ErrorContains(t, err, "connection refused")
}
