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

// HoldRepository implements port.HoldRepository
type HoldRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewHoldRepository creates a new hold repository
func NewHoldRepository(db *sql.DB, logger *zap.Logger) port.HoldRepository {
	return &HoldRepository{
		db:     db,
		logger: logger,
	}
}

// Create records a held transaction
func (r *HoldRepository) Create(ctx context.Context, h *entity.TransactionHold) error {
	query := `
		INSERT INTO transaction_holds (
			id, transaction_id, reason, detail, risk_assessment_id, created_at
		) VALUES (?, ?, ?, ?, ?, ?)
	`

	_, err := sqlite.Conn(ctx, r.db).ExecContext(ctx, query,
		h.ID,
		h.TransactionID,
		string(h.Reason),
		h.Detail,
		h.RiskAssessmentID,
		h.CreatedAt.UTC(),
	)
	if err != nil {
		r.logger.Error("Failed to create hold",
			zap.String("transaction_id", h.TransactionID),
			zap.String("reason", string(h.Reason)),
			zap.Error(err))
		return fmt.Errorf("failed to create hold: %w", err)
	}

	return nil
}

// GetByTransactionID returns the latest hold for a transaction
func (r *HoldRepository) GetByTransactionID(ctx context.Context, transactionID string) (*entity.TransactionHold, error) {
	query := `
		SELECT id, transaction_id, reason, detail, risk_assessment_id, created_at
		FROM transaction_holds
		WHERE transaction_id = ?
		ORDER BY created_at DESC
		LIMIT 1
	`

	var h entity.TransactionHold
	err := sqlite.Conn(ctx, r.db).QueryRowContext(ctx, query, transactionID).Scan(
		&h.ID,
		&h.TransactionID,
		&h.Reason,
		&h.Detail,
		&h.RiskAssessmentID,
		&h.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		r.logger.Error("Failed to get hold", zap.String("transaction_id", transactionID), zap.Error(err))
		return nil, fmt.Errorf("failed to get hold: %w", err)
	}
	h.CreatedAt = h.CreatedAt.UTC()

	return &h, nil
}

var _ port.HoldRepository = (*HoldRepository)(nil)
