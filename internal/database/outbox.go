package database

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/maltedev/catalog-ingest/internal/events"
)

const (
	// OutboxStatusPending indicates the event is waiting to be processed
	OutboxStatusPending = "pending"
	// OutboxStatusProcessed indicates the event was successfully processed
	OutboxStatusProcessed = "processed"
	// OutboxStatusFailed indicates the event processing failed (will be retried)
	OutboxStatusFailed = "failed"
	// OutboxStatusDeadLetter indicates the event failed too many times
	OutboxStatusDeadLetter = "dead_letter"

	// MaxRetryCount is the maximum number of retries before moving to dead letter
	MaxRetryCount = 5

	maxBackoff = 5 * time.Minute
)

// OutboxEvent represents an event in the transactional outbox
type OutboxEvent struct {
	ID            uuid.UUID       `db:"id"`
	AggregateType string          `db:"aggregate_type"`
	AggregateID   string          `db:"aggregate_id"`
	EventType     string          `db:"event_type"`
	Payload       json.RawMessage `db:"payload"`
	TargetStream  string          `db:"target_stream"`
	Status        string          `db:"status"`
	RetryCount    int             `db:"retry_count"`
	ErrorMessage  *string         `db:"error_message"`
	CreatedAt     time.Time       `db:"created_at"`
	ProcessedAt   *time.Time      `db:"processed_at"`
	NextRetryAt   *time.Time      `db:"next_retry_at"`
}

// OutboxRepository persists catalog change events next to the writes that
// produced them.
type OutboxRepository struct {
	db  *DB
	now func() time.Time
}

func NewOutboxRepository(db *DB) *OutboxRepository {
	return &OutboxRepository{db: db, now: time.Now}
}

// Record stores change in the outbox as part of tx, due immediately.
func (r *OutboxRepository) Record(ctx context.Context, tx pgx.Tx, change *events.ProductChanged) error {
	payload, err := change.Marshal()
	if err != nil {
		return err
	}

	now := r.now()
	_, err = tx.Exec(ctx, `
		INSERT INTO outbox_event (
			id, aggregate_type, aggregate_id, event_type, payload,
			target_stream, status, retry_count, created_at, next_retry_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, 0, $8, $8)`,
		uuid.New(), events.AggregateProduct, change.ProductID, change.EventType, payload,
		events.StreamCatalog, OutboxStatusPending, now,
	)
	if err != nil {
		return fmt.Errorf("failed to record %s for product %s: %w", change.EventType, change.ProductID, err)
	}

	return nil
}

// Due returns up to limit events whose retry time has come, oldest first.
func (r *OutboxRepository) Due(ctx context.Context, limit int) ([]*OutboxEvent, error) {
	rows, err := r.db.pool.Query(ctx, `
		SELECT id, aggregate_type, aggregate_id, event_type, payload, target_stream,
			status, retry_count, error_message, created_at, processed_at, next_retry_at
		FROM outbox_event
		WHERE status = ANY($1) AND next_retry_at <= $2
		ORDER BY created_at, id
		LIMIT $3`,
		[]string{OutboxStatusPending, OutboxStatusFailed}, r.now(), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query due events: %w", err)
	}

	due, err := pgx.CollectRows(rows, pgx.RowToAddrOfStructByName[OutboxEvent])
	if err != nil {
		return nil, fmt.Errorf("failed to scan due events: %w", err)
	}
	return due, nil
}

// Ack marks an event as delivered.
func (r *OutboxRepository) Ack(ctx context.Context, id uuid.UUID) error {
	tag, err := r.db.pool.Exec(ctx,
		`UPDATE outbox_event SET status = $1, processed_at = $2, error_message = NULL WHERE id = $3`,
		OutboxStatusProcessed, r.now(), id)
	if err != nil {
		return fmt.Errorf("failed to ack event %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("outbox event %s not found", id)
	}
	return nil
}

// Nack records a failed delivery and schedules the next attempt. It returns
// the event's new status, dead_letter once MaxRetryCount is reached.
func (r *OutboxRepository) Nack(ctx context.Context, id uuid.UUID, cause error) (string, error) {
	var status string
	err := r.db.WithTx(ctx, func(tx pgx.Tx) error {
		var attempts int
		err := tx.QueryRow(ctx,
			`SELECT retry_count FROM outbox_event WHERE id = $1 FOR UPDATE`, id).Scan(&attempts)
		if err != nil {
			return fmt.Errorf("failed to lock event %s: %w", id, err)
		}

		attempts++
		status = nextStatus(attempts)
		_, err = tx.Exec(ctx, `
			UPDATE outbox_event
			SET status = $1, retry_count = $2, error_message = $3, next_retry_at = $4
			WHERE id = $5`,
			status, attempts, cause.Error(), r.now().Add(retryBackoff(attempts)), id)
		if err != nil {
			return fmt.Errorf("failed to nack event %s: %w", id, err)
		}
		return nil
	})
	return status, err
}

// PendingCount returns the number of events still waiting for the relay.
func (r *OutboxRepository) PendingCount(ctx context.Context) (int64, error) {
	return r.countByStatus(ctx, OutboxStatusPending, OutboxStatusFailed)
}

func (r *OutboxRepository) DeadLetterCount(ctx context.Context) (int64, error) {
	return r.countByStatus(ctx, OutboxStatusDeadLetter)
}

func (r *OutboxRepository) countByStatus(ctx context.Context, statuses ...string) (int64, error) {
	var count int64
	err := r.db.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM outbox_event WHERE status = ANY($1)`, statuses).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count outbox events: %w", err)
	}
	return count, nil
}

func nextStatus(retryCount int) string {
	if retryCount >= MaxRetryCount {
		return OutboxStatusDeadLetter
	}
	return OutboxStatusFailed
}

// retryBackoff doubles per attempt: 2s, 4s, 8s... capped at five minutes.
func retryBackoff(retryCount int) time.Duration {
	if retryCount > 16 {
		return maxBackoff
	}
	backoff := time.Duration(1<<retryCount) * time.Second
	if backoff > maxBackoff {
		return maxBackoff
	}
	return backoff
}
