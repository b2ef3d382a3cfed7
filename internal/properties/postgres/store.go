// Package postgres provides PostgreSQL access to property listings.
package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/bissquit/listing-dispatch/internal/assignment"
	"github.com/bissquit/listing-dispatch/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// querier is an interface for database operations that both *pgxpool.Pool and pgx.Tx implement.
type querier interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store implements assignment.PropertyStore using PostgreSQL.
type Store struct {
	db *pgxpool.Pool
}

// NewStore creates a new property store.
func NewStore(db *pgxpool.Pool) *Store {
	return &Store{db: db}
}

// GetProperty retrieves a property by ID.
func (s *Store) GetProperty(ctx context.Context, id string) (*domain.Property, error) {
	query := `
		SELECT id, title, zip_code, city, state, agent_id, in_agent_pool
		FROM properties
		WHERE id = $1
	`
	var p domain.Property
	err := s.db.QueryRow(ctx, query, id).Scan(
		&p.ID,
		&p.Title,
		&p.ZipCode,
		&p.City,
		&p.State,
		&p.AgentID,
		&p.InAgentPool,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, assignment.ErrPropertyNotFound
		}
		return nil, fmt.Errorf("get property: %w", err)
	}
	return &p, nil
}

// MoveToPool flags a property for manual pickup by any agent.
func (s *Store) MoveToPool(ctx context.Context, id string) error {
	query := `UPDATE properties SET in_agent_pool = true, updated_at = NOW() WHERE id = $1`
	result, err := s.db.Exec(ctx, query, id)
	if err != nil {
		return fmt.Errorf("move property to pool: %w", err)
	}
	if result.RowsAffected() == 0 {
		return assignment.ErrPropertyNotFound
	}
	return nil
}

// SetAgentIfUnset assigns agentID to a property that has no agent yet.
func (s *Store) SetAgentIfUnset(ctx context.Context, propertyID, agentID string) error {
	return s.setAgentIfUnset(ctx, s.db, propertyID, agentID)
}

// SetAgentIfUnsetTx assigns agentID within a transaction.
func (s *Store) SetAgentIfUnsetTx(ctx context.Context, tx pgx.Tx, propertyID, agentID string) error {
	return s.setAgentIfUnset(ctx, tx, propertyID, agentID)
}

func (s *Store) setAgentIfUnset(ctx context.Context, q querier, propertyID, agentID string) error {
	query := `
		UPDATE properties
		SET agent_id = $2, in_agent_pool = false, updated_at = NOW()
		WHERE id = $1 AND agent_id IS NULL
	`
	result, err := q.Exec(ctx, query, propertyID, agentID)
	if err != nil {
		return fmt.Errorf("set property agent: %w", err)
	}
	if result.RowsAffected() > 0 {
		return nil
	}

	var exists bool
	if err := q.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM properties WHERE id = $1)`, propertyID).Scan(&exists); err != nil {
		return fmt.Errorf("check property: %w", err)
	}
	if !exists {
		return assignment.ErrPropertyNotFound
	}
	return assignment.ErrAlreadyAssigned
}
