package repository

import (
	"context"
	"database/sql"
	"fmt"

	"go.uber.org/zap"

	"github.com/garyjia/approval-engine/internal/application/port"
	"github.com/garyjia/approval-engine/internal/domain/entity"
	"github.com/garyjia/approval-engine/internal/infrastructure/persistence/sqlite"
)

// SecurityEventRepository implements port.SecurityEventRepository
type SecurityEventRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewSecurityEventRepository creates a new security event repository
func NewSecurityEventRepository(db *sql.DB, logger *zap.Logger) port.SecurityEventRepository {
	return &SecurityEventRepository{
		db:     db,
		logger: logger,
	}
}

// Create records a rejected attempt
func (r *SecurityEventRepository) Create(ctx context.Context, ev *entity.SecurityEvent) error {
	query := `
		INSERT INTO security_events (
			id, workflow_id, actor_id, kind, level, error_kind, detail,
			network_address, client_id, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := sqlite.Conn(ctx, r.db).ExecContext(ctx, query,
		ev.ID,
		ev.WorkflowID,
		ev.ActorID,
		string(ev.Kind),
		ev.Level,
		ev.ErrorKind,
		ev.Detail,
		ev.Origin.NetworkAddress,
		ev.Origin.ClientID,
		ev.CreatedAt.UTC(),
	)
	if err != nil {
		r.logger.Error("Failed to create security event",
			zap.String("workflow_id", ev.WorkflowID),
			zap.String("actor_id", ev.ActorID),
			zap.Error(err))
		return fmt.Errorf("failed to create security event: %w", err)
	}

	return nil
}

// ListByWorkflow returns rejected attempts against a workflow, oldest first
func (r *SecurityEventRepository) ListByWorkflow(ctx context.Context, workflowID string) ([]*entity.SecurityEvent, error) {
	query := `
		SELECT id, workflow_id, actor_id, kind, level, error_kind, detail,
			network_address, client_id, created_at
		FROM security_events
		WHERE workflow_id = ?
		ORDER BY created_at ASC
	`

	rows, err := sqlite.Conn(ctx, r.db).QueryContext(ctx, query, workflowID)
	if err != nil {
		r.logger.Error("Failed to list security events", zap.String("workflow_id", workflowID), zap.Error(err))
		return nil, fmt.Errorf("failed to list security events: %w", err)
	}
	defer rows.Close()

	var out []*entity.SecurityEvent
	for rows.Next() {
		var ev entity.SecurityEvent
		if err := rows.Scan(
			&ev.ID,
			&ev.WorkflowID,
			&ev.ActorID,
			&ev.Kind,
			&ev.Level,
			&ev.ErrorKind,
			&ev.Detail,
			&ev.Origin.NetworkAddress,
			&ev.Origin.ClientID,
			&ev.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan security event: %w", err)
		}
		ev.CreatedAt = ev.CreatedAt.UTC()
		out = append(out, &ev)
	}
	return out, rows.Err()
}

var _ port.SecurityEventRepository = (*SecurityEventRepository)(nil)
