package assignment

import (
	"context"
	"fmt"
	"strings"

	"github.com/bissquit/listing-dispatch/internal/domain"
)

// Resolver computes the ordered candidate list for a property.
type Resolver struct {
	directory Directory
}

// NewResolver creates a resolver over the agent directory.
func NewResolver(directory Directory) *Resolver {
	return &Resolver{directory: directory}
}

// Resolve matches agents by zip code first and falls back to city and state.
// No match yields an empty list and no error.
func (r *Resolver) Resolve(ctx context.Context, property *domain.Property) ([]domain.Candidate, error) {
	if zip := strings.TrimSpace(property.ZipCode); zip != "" {
		found, err := r.directory.FindAgents(ctx, AgentFilter{ZipCode: zip})
		if err != nil {
			return nil, fmt.Errorf("find agents by zip code: %w", err)
		}
		if len(found) > 0 {
			return dedupe(found), nil
		}
	}

	city := strings.TrimSpace(property.City)
	state := strings.TrimSpace(property.State)
	if city != "" && state != "" {
		found, err := r.directory.FindAgents(ctx, AgentFilter{City: city, State: state})
		if err != nil {
			return nil, fmt.Errorf("find agents by city: %w", err)
		}
		if len(found) > 0 {
			return dedupe(found), nil
		}
	}

	return []domain.Candidate{}, nil
}

func dedupe(candidates []domain.Candidate) []domain.Candidate {
	seen := make(map[string]struct{}, len(candidates))
	out := make([]domain.Candidate, 0, len(candidates))
	for _, c := range candidates {
		if _, ok := seen[c.AgentID]; ok {
			continue
		}
		seen[c.AgentID] = struct{}{}
		out = append(out, c)
	}
	return out
}
