package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/safar/go-marketplace/internal/models"
)

var ErrOutboxMessageNotFound = errors.New("outbox message not found")

// EnqueueOutbox writes msg as pending. Call it with the transaction that
// performs the state change so the event commits or rolls back with it.
func EnqueueOutbox(ctx context.Context, q Querier, msg models.OutboxMessage) (models.OutboxMessage, error) {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}

	err := q.QueryRowContext(ctx, `
		INSERT INTO outbox_messages (id, aggregate_type, aggregate_id, event_type, payload, status, attempt_count, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5::jsonb, 'pending', 0, NOW(), NOW())
		RETURNING created_at`,
		msg.ID, msg.AggregateType, msg.AggregateID, msg.EventType, jsonParam(msg.Payload),
	).Scan(&msg.CreatedAt)
	if err != nil {
		return models.OutboxMessage{}, fmt.Errorf("enqueue outbox message: %w", err)
	}

	return msg, nil
}

// OutboxRepository is the relay side of the outbox.
type OutboxRepository struct {
	db    *sql.DB
	lease time.Duration
}

// DefaultOutboxLease is how long a pulled message stays claimed by the relay
// that pulled it before another relay may take it.
const DefaultOutboxLease = 30 * time.Second

func NewOutboxRepository(db *sql.DB) *OutboxRepository {
	return &OutboxRepository{db: db, lease: DefaultOutboxLease}
}

// PullPending claims up to limit pending messages, oldest first. Rows another
// relay is claiming right now are skipped, and a claimed message is not
// returned again until it is marked or its lease runs out.
func (r *OutboxRepository) PullPending(ctx context.Context, limit int) ([]models.OutboxMessage, error) {
	if limit <= 0 {
		limit = 100
	}

	rows, err := r.db.QueryContext(ctx, `
		UPDATE outbox_messages
		SET claimed_until = NOW() + $2::float8 * INTERVAL '1 millisecond'
		WHERE id IN (
			SELECT id
			FROM outbox_messages
			WHERE status = 'pending' AND (claimed_until IS NULL OR claimed_until < NOW())
			ORDER BY created_at, id
			LIMIT $1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING id, aggregate_type, aggregate_id, event_type, payload, attempt_count, created_at`,
		limit, r.lease.Milliseconds())
	if err != nil {
		return nil, fmt.Errorf("pull pending outbox messages: %w", err)
	}
	defer rows.Close()

	result := make([]models.OutboxMessage, 0, limit)
	for rows.Next() {
		var msg models.OutboxMessage
		if err := rows.Scan(
			&msg.ID,
			&msg.AggregateType,
			&msg.AggregateID,
			&msg.EventType,
			&msg.Payload,
			&msg.AttemptCount,
			&msg.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan outbox message: %w", err)
		}
		result = append(result, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate outbox rows: %w", err)
	}

	// RETURNING carries no order.
	sort.Slice(result, func(i, j int) bool {
		if !result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].CreatedAt.Before(result[j].CreatedAt)
		}
		return result[i].ID < result[j].ID
	})

	return result, nil
}

func (r *OutboxRepository) Stats(ctx context.Context) (models.OutboxStats, error) {
	var (
		stats  models.OutboxStats
		oldest sql.NullTime
	)

	err := r.db.QueryRowContext(ctx, `
		SELECT COUNT(*), MIN(created_at)
		FROM outbox_messages
		WHERE status = 'pending'`,
	).Scan(&stats.PendingCount, &oldest)
	if err != nil {
		return models.OutboxStats{}, fmt.Errorf("outbox stats: %w", err)
	}

	if oldest.Valid {
		stats.OldestPendingAt = oldest.Time.UTC()
	}

	return stats, nil
}

func (r *OutboxRepository) MarkSent(ctx context.Context, id string) error {
	return r.markStatus(ctx, id, "sent")
}

func (r *OutboxRepository) MarkFailed(ctx context.Context, id string) error {
	return r.markStatus(ctx, id, "failed")
}

func (r *OutboxRepository) markStatus(ctx context.Context, id, status string) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE outbox_messages
		SET status = $2, attempt_count = attempt_count + 1, claimed_until = NULL, updated_at = NOW()
		WHERE id = $1`,
		id, status)
	if err != nil {
		return fmt.Errorf("mark outbox message as %s: %w", status, err)
	}

	n, err := rowsAffected(res)
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if n == 0 {
		return ErrOutboxMessageNotFound
	}

	return nil
}
