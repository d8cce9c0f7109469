package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/garyjia/approval-engine/internal/application/port"
	"github.com/garyjia/approval-engine/internal/domain/entity"
	"github.com/garyjia/approval-engine/internal/infrastructure/persistence/sqlite"
)

// OutboxRepository implements port.OutboxRepository
type OutboxRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewOutboxRepository creates a new outbox repository
func NewOutboxRepository(db *sql.DB, logger *zap.Logger) port.OutboxRepository {
	return &OutboxRepository{
		db:     db,
		logger: logger,
	}
}

// Enqueue stores an event; call it inside the transaction that made the change
func (r *OutboxRepository) Enqueue(ctx context.Context, entry *entity.OutboxEntry) error {
	query := `
		INSERT INTO event_outbox (event_id, event_type, workflow_id, payload, created_at)
		VALUES (?, ?, ?, ?, ?)
	`

	result, err := sqlite.Conn(ctx, r.db).ExecContext(ctx, query,
		entry.EventID,
		entry.EventType,
		entry.WorkflowID,
		string(entry.Payload),
		entry.CreatedAt.UTC(),
	)
	if err != nil {
		r.logger.Error("Failed to enqueue event",
			zap.String("event_id", entry.EventID),
			zap.String("event_type", entry.EventType),
			zap.Error(err))
		return fmt.Errorf("failed to enqueue event: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}
	entry.ID = id

	return nil
}

// FetchPending returns undispatched, non dead-lettered events in commit order
func (r *OutboxRepository) FetchPending(ctx context.Context, limit int) ([]*entity.OutboxEntry, error) {
	query := `
		SELECT id, event_id, event_type, workflow_id, payload, attempts, last_error, created_at
		FROM event_outbox
		WHERE dispatched_at IS NULL AND failed_at IS NULL
		ORDER BY id ASC
		LIMIT ?
	`

	rows, err := sqlite.Conn(ctx, r.db).QueryContext(ctx, query, limit)
	if err != nil {
		r.logger.Error("Failed to fetch pending events", zap.Error(err))
		return nil, fmt.Errorf("failed to fetch pending events: %w", err)
	}
	defer rows.Close()

	var out []*entity.OutboxEntry
	for rows.Next() {
		var (
			e       entity.OutboxEntry
			payload string
		)
		if err := rows.Scan(
			&e.ID,
			&e.EventID,
			&e.EventType,
			&e.WorkflowID,
			&payload,
			&e.Attempts,
			&e.LastError,
			&e.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan outbox entry: %w", err)
		}
		e.Payload = []byte(payload)
		e.CreatedAt = e.CreatedAt.UTC()
		out = append(out, &e)
	}
	return out, rows.Err()
}

// MarkDispatched records a successful relay
func (r *OutboxRepository) MarkDispatched(ctx context.Context, id int64, at time.Time) error {
	query := `UPDATE event_outbox SET dispatched_at = ?, attempts = attempts + 1, last_error = '' WHERE id = ?`

	if _, err := sqlite.Conn(ctx, r.db).ExecContext(ctx, query, at.UTC(), id); err != nil {
		r.logger.Error("Failed to mark event dispatched", zap.Int64("id", id), zap.Error(err))
		return fmt.Errorf("failed to mark event dispatched: %w", err)
	}
	return nil
}

// MarkFailed counts a failed relay attempt. The entry stays pending until it
// reaches maxAttempts, then failed_at parks it. maxAttempts <= 0 never parks.
func (r *OutboxRepository) MarkFailed(ctx context.Context, id int64, errMsg string, maxAttempts int, at time.Time) error {
	query := `
		UPDATE event_outbox
		SET attempts = attempts + 1,
			last_error = ?,
			failed_at = CASE WHEN ? > 0 AND attempts + 1 >= ? THEN ? ELSE failed_at END
		WHERE id = ?
	`

	if _, err := sqlite.Conn(ctx, r.db).ExecContext(ctx, query, errMsg, maxAttempts, maxAttempts, at.UTC(), id); err != nil {
		r.logger.Error("Failed to mark event failed", zap.Int64("id", id), zap.Error(err))
		return fmt.Errorf("failed to mark event failed: %w", err)
	}
	return nil
}

// ListDeadLettered returns parked entries, oldest first
func (r *OutboxRepository) ListDeadLettered(ctx context.Context, limit int) ([]*entity.OutboxEntry, error) {
	query := `
		SELECT id, event_id, event_type, workflow_id, payload, attempts, last_error, created_at, failed_at
		FROM event_outbox
		WHERE dispatched_at IS NULL AND failed_at IS NOT NULL
		ORDER BY id ASC
		LIMIT ?
	`

	rows, err := sqlite.Conn(ctx, r.db).QueryContext(ctx, query, limit)
	if err != nil {
		r.logger.Error("Failed to list dead-lettered events", zap.Error(err))
		return nil, fmt.Errorf("failed to list dead-lettered events: %w", err)
	}
	defer rows.Close()

	var out []*entity.OutboxEntry
	for rows.Next() {
		var (
			e        entity.OutboxEntry
			payload  string
			failedAt sql.NullTime
		)
		if err := rows.Scan(&e.ID, &e.EventID, &e.EventType, &e.WorkflowID, &payload,
			&e.Attempts, &e.LastError, &e.CreatedAt, &failedAt); err != nil {
			return nil, fmt.Errorf("failed to scan outbox entry: %w", err)
		}
		e.Payload = []byte(payload)
		e.CreatedAt = e.CreatedAt.UTC()
		if failedAt.Valid {
			t := failedAt.Time.UTC()
			e.FailedAt = &t
		}
		out = append(out, &e)
	}
	return out, rows.Err()
}

var _ port.OutboxRepository = (*OutboxRepository)(nil)
