// Package postgres provides PostgreSQL lookup of agents in the users table.
package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/bissquit/listing-dispatch/internal/assignment"
	"github.com/bissquit/listing-dispatch/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Directory implements assignment.Directory using PostgreSQL.
type Directory struct {
	db *pgxpool.Pool
}

// NewDirectory creates a new agent directory.
func NewDirectory(db *pgxpool.Pool) *Directory {
	return &Directory{db: db}
}

// FindAgents returns active verified agents matching filter, oldest account first.
// City and state compare case-insensitively.
func (d *Directory) FindAgents(ctx context.Context, filter assignment.AgentFilter) ([]domain.Candidate, error) {
	if filter == (assignment.AgentFilter{}) {
		return []domain.Candidate{}, nil
	}

	query := `
		SELECT id, name
		FROM users
		WHERE role = $1 AND status = $2 AND is_verified
			AND ($3 = '' OR zip_code = $3)
			AND ($4 = '' OR lower(city) = lower($4))
			AND ($5 = '' OR lower(state) = lower($5))
		ORDER BY created_at, id
	`
	rows, err := d.db.Query(ctx, query,
		domain.RoleAgent,
		domain.UserStatusActive,
		filter.ZipCode,
		filter.City,
		filter.State,
	)
	if err != nil {
		return nil, fmt.Errorf("find agents: %w", err)
	}
	defer rows.Close()

	candidates := make([]domain.Candidate, 0)
	for rows.Next() {
		var c domain.Candidate
		if err := rows.Scan(&c.AgentID, &c.Name); err != nil {
			return nil, fmt.Errorf("scan agent: %w", err)
		}
		candidates = append(candidates, c)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate agents: %w", err)
	}
	return candidates, nil
}

// GetAgent retrieves the contact details of an agent.
func (d *Directory) GetAgent(ctx context.Context, id string) (*domain.Agent, error) {
	query := `
		SELECT id, name, email, phone, telegram_chat_id
		FROM users
		WHERE id = $1 AND role = $2
	`
	var a domain.Agent
	err := d.db.QueryRow(ctx, query, id, domain.RoleAgent).Scan(
		&a.ID,
		&a.Name,
		&a.Email,
		&a.Phone,
		&a.TelegramChatID,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, assignment.ErrAgentNotFound
		}
		return nil, fmt.Errorf("get agent: %w", err)
	}
	return &a, nil
}
