// Package postgres provides PostgreSQL implementation of the assignment repository.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/bissquit/listing-dispatch/internal/assignment"
	"github.com/bissquit/listing-dispatch/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const uniqueViolation = "23505"

// PropertyAssigner sets the agent of a property inside a transaction.
type PropertyAssigner interface {
	SetAgentIfUnsetTx(ctx context.Context, tx pgx.Tx, propertyID, agentID string) error
}

// Repository implements assignment.Repository using PostgreSQL.
type Repository struct {
	db         *pgxpool.Pool
	properties PropertyAssigner
}

// NewRepository creates a new PostgreSQL repository.
func NewRepository(db *pgxpool.Pool, properties PropertyAssigner) *Repository {
	return &Repository{db: db, properties: properties}
}

const queueColumns = `
	id, property_id, status, candidate_list, current_round, last_notified_index,
	current_notification_id, total_notifications_sent, total_agents_contacted,
	final_agent_id, unassigned_reason, started_at, completed_at
`

const notificationColumns = `
	id, queue_id, property_id, agent_id, round, status, sent_at, expires_at,
	responded_at, response, rejection_reason, message_sent
`

// CreateQueue stores a new run.
func (r *Repository) CreateQueue(ctx context.Context, queue *domain.AssignmentQueue) error {
	candidates, err := json.Marshal(queue.Candidates)
	if err != nil {
		return fmt.Errorf("marshal candidates: %w", err)
	}

	var reason *string
	if queue.UnassignedReason != "" {
		s := string(queue.UnassignedReason)
		reason = &s
	}

	query := `
		INSERT INTO assignment_queue (
			property_id, status, candidate_list, current_round, last_notified_index,
			unassigned_reason, started_at, completed_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (property_id) DO NOTHING
		RETURNING id
	`
	err = r.db.QueryRow(ctx, query,
		queue.PropertyID,
		queue.Status,
		candidates,
		queue.CurrentRound,
		queue.LastNotifiedIndex,
		reason,
		queue.StartedAt,
		queue.CompletedAt,
	).Scan(&queue.ID)

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return assignment.ErrRunExists
		}
		return fmt.Errorf("create queue: %w", err)
	}
	return nil
}

// GetQueueByProperty retrieves the run of a property.
func (r *Repository) GetQueueByProperty(ctx context.Context, propertyID string) (*domain.AssignmentQueue, error) {
	query := `SELECT ` + queueColumns + ` FROM assignment_queue WHERE property_id = $1`

	queue, err := scanQueue(r.db.QueryRow(ctx, query, propertyID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, assignment.ErrQueueNotFound
		}
		return nil, fmt.Errorf("get queue: %w", err)
	}
	return queue, nil
}

// AdvanceQueue moves an active run from prevIndex to index.
func (r *Repository) AdvanceQueue(ctx context.Context, queueID string, prevIndex, index, round int) error {
	query := `
		UPDATE assignment_queue
		SET last_notified_index = $3, current_round = $4
		WHERE id = $1 AND status = 'active' AND last_notified_index = $2
	`
	result, err := r.db.Exec(ctx, query, queueID, prevIndex, index, round)
	if err != nil {
		return fmt.Errorf("advance queue: %w", err)
	}
	if result.RowsAffected() == 0 {
		return assignment.ErrStaleQueue
	}
	return nil
}

// CompleteUnassigned ends an active run without an agent.
func (r *Repository) CompleteUnassigned(ctx context.Context, queueID string, reason domain.UnassignedReason, at time.Time) error {
	query := `
		UPDATE assignment_queue
		SET status = 'completed_unassigned', unassigned_reason = $2, completed_at = $3
		WHERE id = $1 AND status = 'active'
	`
	result, err := r.db.Exec(ctx, query, queueID, reason, at)
	if err != nil {
		return fmt.Errorf("complete queue: %w", err)
	}
	if result.RowsAffected() == 0 {
		return assignment.ErrStaleQueue
	}
	return nil
}

// CreateNotification stores a new pending offer.
// A second pending offer for the same property violates a partial unique index.
func (r *Repository) CreateNotification(ctx context.Context, n *domain.Notification) error {
	query := `
		INSERT INTO agent_property_notifications (
			queue_id, property_id, agent_id, round, status, sent_at, expires_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id
	`
	err := r.db.QueryRow(ctx, query,
		n.QueueID,
		n.PropertyID,
		n.AgentID,
		n.Round,
		n.Status,
		n.SentAt,
		n.ExpiresAt,
	).Scan(&n.ID)

	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return assignment.ErrStaleQueue
		}
		return fmt.Errorf("create notification: %w", err)
	}
	return nil
}

// RecordDispatch points the run at notificationID and refreshes its counters.
func (r *Repository) RecordDispatch(ctx context.Context, queueID, notificationID string) error {
	query := `
		UPDATE assignment_queue
		SET current_notification_id = $2,
			total_notifications_sent = total_notifications_sent + 1,
			total_agents_contacted = (
				SELECT COUNT(DISTINCT agent_id)
				FROM agent_property_notifications
				WHERE queue_id = $1
			)
		WHERE id = $1
	`
	result, err := r.db.Exec(ctx, query, queueID, notificationID)
	if err != nil {
		return fmt.Errorf("record dispatch: %w", err)
	}
	if result.RowsAffected() == 0 {
		return assignment.ErrQueueNotFound
	}
	return nil
}

// GetNotification retrieves an offer by ID.
func (r *Repository) GetNotification(ctx context.Context, id string) (*domain.Notification, error) {
	query := `SELECT ` + notificationColumns + ` FROM agent_property_notifications WHERE id = $1`

	n, err := scanNotification(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, assignment.ErrNotificationNotFound
		}
		return nil, fmt.Errorf("get notification: %w", err)
	}
	return n, nil
}

// ListNotifications returns the offers of a property ordered by sent_at.
func (r *Repository) ListNotifications(ctx context.Context, propertyID string) ([]*domain.Notification, error) {
	query := `
		SELECT ` + notificationColumns + `
		FROM agent_property_notifications
		WHERE property_id = $1
		ORDER BY sent_at, id
	`
	return r.listNotifications(ctx, query, propertyID)
}

// ListPendingNotifications returns every pending offer.
func (r *Repository) ListPendingNotifications(ctx context.Context) ([]*domain.Notification, error) {
	query := `
		SELECT ` + notificationColumns + `
		FROM agent_property_notifications
		WHERE status = 'pending'
		ORDER BY expires_at
	`
	return r.listNotifications(ctx, query)
}

// ListAgentPendingNotifications returns the pending offers of an agent.
func (r *Repository) ListAgentPendingNotifications(ctx context.Context, agentID string) ([]*domain.Notification, error) {
	query := `
		SELECT ` + notificationColumns + `
		FROM agent_property_notifications
		WHERE agent_id = $1 AND status = 'pending'
		ORDER BY expires_at
	`
	return r.listNotifications(ctx, query, agentID)
}

func (r *Repository) listNotifications(ctx context.Context, query string, args ...any) ([]*domain.Notification, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list notifications: %w", err)
	}
	defer rows.Close()

	notifications := make([]*domain.Notification, 0)
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, fmt.Errorf("scan notification: %w", err)
		}
		notifications = append(notifications, n)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate notifications: %w", err)
	}
	return notifications, nil
}

// ResolveNotification moves a pending offer to res.Status.
func (r *Repository) ResolveNotification(ctx context.Context, id string, res assignment.Resolution) (*domain.Notification, error) {
	query := `
		UPDATE agent_property_notifications
		SET status = $2, responded_at = $3, response = $4, rejection_reason = $5
		WHERE id = $1 AND status = 'pending'
		RETURNING ` + notificationColumns

	n, err := scanNotification(r.db.QueryRow(ctx, query,
		id,
		res.Status,
		res.RespondedAt,
		res.Response,
		res.RejectionReason,
	))
	if err == nil {
		return n, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("resolve notification: %w", err)
	}

	var exists bool
	if err := r.db.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM agent_property_notifications WHERE id = $1)`, id,
	).Scan(&exists); err != nil {
		return nil, fmt.Errorf("check notification: %w", err)
	}
	if !exists {
		return nil, assignment.ErrNotificationNotFound
	}
	return nil, assignment.ErrAlreadyResolved
}

// MarkMessageSent records a successful delivery.
func (r *Repository) MarkMessageSent(ctx context.Context, id string) error {
	query := `UPDATE agent_property_notifications SET message_sent = true WHERE id = $1`
	result, err := r.db.Exec(ctx, query, id)
	if err != nil {
		return fmt.Errorf("mark message sent: %w", err)
	}
	if result.RowsAffected() == 0 {
		return assignment.ErrNotificationNotFound
	}
	return nil
}

// AcceptNotification accepts a pending offer, assigns the property, completes
// the run and cancels any other pending offer, all in one transaction.
func (r *Repository) AcceptNotification(ctx context.Context, id string, at time.Time) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if err := tx.Rollback(ctx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
			slog.Error("failed to rollback transaction", "error", err)
		}
	}()

	var queueID, propertyID, agentID string
	err = tx.QueryRow(ctx, `
		UPDATE agent_property_notifications
		SET status = 'accepted', responded_at = $2, response = 'accepted'
		WHERE id = $1 AND status = 'pending'
		RETURNING queue_id, property_id, agent_id
	`, id, at).Scan(&queueID, &propertyID, &agentID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return assignment.ErrAlreadyResolved
		}
		return fmt.Errorf("accept notification: %w", err)
	}

	if err := r.properties.SetAgentIfUnsetTx(ctx, tx, propertyID, agentID); err != nil {
		return err
	}

	result, err := tx.Exec(ctx, `
		UPDATE assignment_queue
		SET status = 'completed', final_agent_id = $2, completed_at = $3
		WHERE id = $1 AND status = 'active'
	`, queueID, agentID, at)
	if err != nil {
		return fmt.Errorf("complete queue: %w", err)
	}
	if result.RowsAffected() == 0 {
		return assignment.ErrAlreadyResolved
	}

	if _, err := tx.Exec(ctx, `
		UPDATE agent_property_notifications
		SET status = 'cancelled'
		WHERE property_id = $1 AND status = 'pending'
	`, propertyID); err != nil {
		return fmt.Errorf("cancel pending notifications: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// DeleteRun removes the run and offers of a property.
func (r *Repository) DeleteRun(ctx context.Context, propertyID string) error {
	if _, err := r.db.Exec(ctx, `DELETE FROM assignment_queue WHERE property_id = $1`, propertyID); err != nil {
		return fmt.Errorf("delete run: %w", err)
	}
	return nil
}

func scanQueue(row pgx.Row) (*domain.AssignmentQueue, error) {
	var (
		q          domain.AssignmentQueue
		candidates []byte
		reason     *string
	)
	err := row.Scan(
		&q.ID,
		&q.PropertyID,
		&q.Status,
		&candidates,
		&q.CurrentRound,
		&q.LastNotifiedIndex,
		&q.CurrentNotificationID,
		&q.TotalNotificationsSent,
		&q.TotalAgentsContacted,
		&q.FinalAgentID,
		&reason,
		&q.StartedAt,
		&q.CompletedAt,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal(candidates, &q.Candidates); err != nil {
		return nil, fmt.Errorf("unmarshal candidates: %w", err)
	}
	if reason != nil {
		q.UnassignedReason = domain.UnassignedReason(*reason)
	}
	return &q, nil
}

func scanNotification(row pgx.Row) (*domain.Notification, error) {
	var n domain.Notification
	err := row.Scan(
		&n.ID,
		&n.QueueID,
		&n.PropertyID,
		&n.AgentID,
		&n.Round,
		&n.Status,
		&n.SentAt,
		&n.ExpiresAt,
		&n.RespondedAt,
		&n.Response,
		&n.RejectionReason,
		&n.MessageSent,
	)
	if err != nil {
		return nil, err
	}
	return &n, nil
}
