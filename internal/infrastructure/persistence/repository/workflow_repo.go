package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/garyjia/approval-engine/internal/application/port"
	"github.com/garyjia/approval-engine/internal/domain/apperr"
	"github.com/garyjia/approval-engine/internal/domain/entity"
	"github.com/garyjia/approval-engine/internal/domain/workflow"
	"github.com/garyjia/approval-engine/internal/infrastructure/persistence/sqlite"
)

// WorkflowRepository implements port.WorkflowRepository
type WorkflowRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewWorkflowRepository creates a new workflow repository
func NewWorkflowRepository(db *sql.DB, logger *zap.Logger) port.WorkflowRepository {
	return &WorkflowRepository{
		db:     db,
		logger: logger,
	}
}

const workflowColumns = `
	id, transaction_id, transaction_type, amount, currency, rule_id,
	risk_assessment_id, risk_score, state, version, audit_head, integrity_hold,
	created_at, updated_at, completed_at`

// Create inserts a new workflow row
func (r *WorkflowRepository) Create(ctx context.Context, wf *entity.ApprovalWorkflow) error {
	state, err := json.Marshal(wf.State)
	if err != nil {
		return fmt.Errorf("failed to encode workflow state: %w", err)
	}

	query := `
		INSERT INTO approval_workflows (
			id, transaction_id, transaction_type, amount, currency, requester_id,
			rule_id, risk_assessment_id, risk_score, status, current_level, total_levels,
			state, version, audit_head, integrity_hold, created_at, updated_at, completed_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err = sqlite.Conn(ctx, r.db).ExecContext(ctx, query,
		wf.ID,
		wf.TransactionID,
		wf.TransactionType,
		wf.Amount,
		wf.Currency,
		wf.State.RequesterID,
		wf.RuleID,
		nullString(wf.RiskAssessmentID),
		wf.RiskScore,
		string(wf.Status()),
		wf.CurrentLevel(),
		wf.TotalLevels(),
		string(state),
		wf.Version,
		wf.AuditHead,
		wf.IntegrityHold,
		wf.CreatedAt.UTC(),
		wf.UpdatedAt.UTC(),
		nullTime(wf.CompletedAt),
	)
	if err != nil {
		r.logger.Error("Failed to create workflow",
			zap.String("workflow_id", wf.ID),
			zap.String("transaction_id", wf.TransactionID),
			zap.Error(err))
		return fmt.Errorf("failed to create workflow: %w", err)
	}

	return nil
}

// GetByID retrieves a workflow by ID
func (r *WorkflowRepository) GetByID(ctx context.Context, id string) (*entity.ApprovalWorkflow, error) {
	query := `SELECT ` + workflowColumns + ` FROM approval_workflows WHERE id = ?`

	wf, err := r.scanWorkflow(sqlite.Conn(ctx, r.db).QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		r.logger.Error("Failed to get workflow by ID", zap.String("workflow_id", id), zap.Error(err))
		return nil, fmt.Errorf("failed to get workflow: %w", err)
	}
	return wf, nil
}

// GetByTransactionID retrieves the workflow created for a transaction
func (r *WorkflowRepository) GetByTransactionID(ctx context.Context, transactionID string) (*entity.ApprovalWorkflow, error) {
	query := `SELECT ` + workflowColumns + ` FROM approval_workflows WHERE transaction_id = ?`

	wf, err := r.scanWorkflow(sqlite.Conn(ctx, r.db).QueryRowContext(ctx, query, transactionID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		r.logger.Error("Failed to get workflow by transaction ID",
			zap.String("transaction_id", transactionID),
			zap.Error(err))
		return nil, fmt.Errorf("failed to get workflow: %w", err)
	}
	return wf, nil
}

// Update writes the projection guarded by the expected version.
// The integrity hold is owned by SetIntegrityHold and never written here.
func (r *WorkflowRepository) Update(ctx context.Context, wf *entity.ApprovalWorkflow, expectedVersion int64) error {
	state, err := json.Marshal(wf.State)
	if err != nil {
		return fmt.Errorf("failed to encode workflow state: %w", err)
	}

	query := `
		UPDATE approval_workflows
		SET status = ?, current_level = ?, state = ?, version = ?, audit_head = ?,
			updated_at = ?, completed_at = ?
		WHERE id = ? AND version = ?
	`

	result, err := sqlite.Conn(ctx, r.db).ExecContext(ctx, query,
		string(wf.Status()),
		wf.CurrentLevel(),
		string(state),
		wf.Version,
		wf.AuditHead,
		wf.UpdatedAt.UTC(),
		nullTime(wf.CompletedAt),
		wf.ID,
		expectedVersion,
	)
	if err != nil {
		r.logger.Error("Failed to update workflow", zap.String("workflow_id", wf.ID), zap.Error(err))
		return fmt.Errorf("failed to update workflow: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return apperr.ErrVersionConflict
	}

	return nil
}

// SetIntegrityHold flags or clears the compliance hold. It bumps the version so a
// writer that loaded the row earlier fails its optimistic check.
func (r *WorkflowRepository) SetIntegrityHold(ctx context.Context, id string, hold bool) error {
	query := `UPDATE approval_workflows SET integrity_hold = ?, version = version + 1 WHERE id = ?`

	if _, err := sqlite.Conn(ctx, r.db).ExecContext(ctx, query, hold, id); err != nil {
		r.logger.Error("Failed to set integrity hold",
			zap.String("workflow_id", id),
			zap.Bool("hold", hold),
			zap.Error(err))
		return fmt.Errorf("failed to set integrity hold: %w", err)
	}
	return nil
}

// ListByStatus lists workflows in a status, oldest first
func (r *WorkflowRepository) ListByStatus(ctx context.Context, status workflow.Status, limit, offset int) ([]*entity.ApprovalWorkflow, error) {
	query := `SELECT ` + workflowColumns + `
		FROM approval_workflows
		WHERE status = ?
		ORDER BY created_at ASC, id ASC
		LIMIT ? OFFSET ?`

	rows, err := sqlite.Conn(ctx, r.db).QueryContext(ctx, query, string(status), limit, offset)
	if err != nil {
		r.logger.Error("Failed to list workflows", zap.String("status", string(status)), zap.Error(err))
		return nil, fmt.Errorf("failed to list workflows: %w", err)
	}
	defer rows.Close()

	var out []*entity.ApprovalWorkflow
	for rows.Next() {
		wf, err := r.scanWorkflow(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan workflow: %w", err)
		}
		out = append(out, wf)
	}
	return out, rows.Err()
}

func (r *WorkflowRepository) scanWorkflow(row scanner) (*entity.ApprovalWorkflow, error) {
	var (
		wf          entity.ApprovalWorkflow
		riskID      sql.NullString
		state       string
		completedAt sql.NullTime
	)

	err := row.Scan(
		&wf.ID,
		&wf.TransactionID,
		&wf.TransactionType,
		&wf.Amount,
		&wf.Currency,
		&wf.RuleID,
		&riskID,
		&wf.RiskScore,
		&state,
		&wf.Version,
		&wf.AuditHead,
		&wf.IntegrityHold,
		&wf.CreatedAt,
		&wf.UpdatedAt,
		&completedAt,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(state), &wf.State); err != nil {
		return nil, fmt.Errorf("failed to decode workflow state: %w", err)
	}
	wf.RiskAssessmentID = riskID.String
	wf.CreatedAt = wf.CreatedAt.UTC()
	wf.UpdatedAt = wf.UpdatedAt.UTC()
	if completedAt.Valid {
		t := completedAt.Time.UTC()
		wf.CompletedAt = &t
	}

	return &wf, nil
}

var _ port.WorkflowRepository = (*WorkflowRepository)(nil)
