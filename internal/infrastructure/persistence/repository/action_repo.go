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

// ActionRepository implements port.ActionRepository.
// The table rejects UPDATE and DELETE through triggers.
type ActionRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewActionRepository creates a new action repository
func NewActionRepository(db *sql.DB, logger *zap.Logger) port.ActionRepository {
	return &ActionRepository{
		db:     db,
		logger: logger,
	}
}

const actionColumns = `
	id, workflow_id, sequence, level, actor_id, actor_roles, kind, justification,
	delegate_to, network_address, client_id, priority, outcome,
	prev_fingerprint, fingerprint, created_at`

// Append inserts a new action record
func (r *ActionRepository) Append(ctx context.Context, rec *entity.ActionRecord) error {
	roles, err := encodeStrings(rec.ActorRoles)
	if err != nil {
		return fmt.Errorf("failed to encode actor roles: %w", err)
	}

	query := `
		INSERT INTO approval_actions (` + actionColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err = sqlite.Conn(ctx, r.db).ExecContext(ctx, query,
		rec.ID,
		rec.WorkflowID,
		rec.Sequence,
		rec.Level,
		rec.ActorID,
		roles,
		string(rec.Kind),
		rec.Justification,
		rec.DelegateTo,
		rec.Origin.NetworkAddress,
		rec.Origin.ClientID,
		string(rec.Priority),
		string(rec.Outcome),
		rec.PrevFingerprint,
		rec.Fingerprint,
		rec.CreatedAt.UTC(),
	)
	if err != nil {
		r.logger.Error("Failed to append action",
			zap.String("workflow_id", rec.WorkflowID),
			zap.String("action_id", rec.ID),
			zap.Int64("sequence", rec.Sequence),
			zap.Error(err))
		return fmt.Errorf("failed to append action: %w", err)
	}

	return nil
}

// GetByID retrieves an action record by ID
func (r *ActionRepository) GetByID(ctx context.Context, id string) (*entity.ActionRecord, error) {
	query := `SELECT ` + actionColumns + ` FROM approval_actions WHERE id = ?`

	rec, err := r.scanAction(sqlite.Conn(ctx, r.db).QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		r.logger.Error("Failed to get action by ID", zap.String("action_id", id), zap.Error(err))
		return nil, fmt.Errorf("failed to get action: %w", err)
	}
	return rec, nil
}

// ListByWorkflow returns a workflow's actions in sequence order
func (r *ActionRepository) ListByWorkflow(ctx context.Context, workflowID string) ([]*entity.ActionRecord, error) {
	query := `SELECT ` + actionColumns + ` FROM approval_actions WHERE workflow_id = ? ORDER BY sequence ASC`

	rows, err := sqlite.Conn(ctx, r.db).QueryContext(ctx, query, workflowID)
	if err != nil {
		r.logger.Error("Failed to list actions", zap.String("workflow_id", workflowID), zap.Error(err))
		return nil, fmt.Errorf("failed to list actions: %w", err)
	}
	defer rows.Close()

	var out []*entity.ActionRecord
	for rows.Next() {
		rec, err := r.scanAction(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan action: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Last returns the chain tip for a workflow, or nil for an empty log
func (r *ActionRepository) Last(ctx context.Context, workflowID string) (*entity.ActionRecord, error) {
	query := `SELECT ` + actionColumns + `
		FROM approval_actions
		WHERE workflow_id = ?
		ORDER BY sequence DESC
		LIMIT 1`

	rec, err := r.scanAction(sqlite.Conn(ctx, r.db).QueryRowContext(ctx, query, workflowID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		r.logger.Error("Failed to get last action", zap.String("workflow_id", workflowID), zap.Error(err))
		return nil, fmt.Errorf("failed to get last action: %w", err)
	}
	return rec, nil
}

func (r *ActionRepository) scanAction(row scanner) (*entity.ActionRecord, error) {
	var (
		rec   entity.ActionRecord
		roles string
	)

	err := row.Scan(
		&rec.ID,
		&rec.WorkflowID,
		&rec.Sequence,
		&rec.Level,
		&rec.ActorID,
		&roles,
		&rec.Kind,
		&rec.Justification,
		&rec.DelegateTo,
		&rec.Origin.NetworkAddress,
		&rec.Origin.ClientID,
		&rec.Priority,
		&rec.Outcome,
		&rec.PrevFingerprint,
		&rec.Fingerprint,
		&rec.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	if rec.ActorRoles, err = decodeStrings(roles); err != nil {
		return nil, fmt.Errorf("failed to decode actor roles: %w", err)
	}
	rec.CreatedAt = rec.CreatedAt.UTC()

	return &rec, nil
}

var _ port.ActionRepository = (*ActionRepository)(nil)
