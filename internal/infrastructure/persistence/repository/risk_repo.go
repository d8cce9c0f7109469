package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/garyjia/approval-engine/internal/application/port"
	"github.com/garyjia/approval-engine/internal/domain/entity"
	"github.com/garyjia/approval-engine/internal/infrastructure/persistence/sqlite"
)

// RiskAssessmentRepository implements port.RiskAssessmentRepository
type RiskAssessmentRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewRiskAssessmentRepository creates a new risk assessment repository
func NewRiskAssessmentRepository(db *sql.DB, logger *zap.Logger) port.RiskAssessmentRepository {
	return &RiskAssessmentRepository{
		db:     db,
		logger: logger,
	}
}

// Create stores an assessment
func (r *RiskAssessmentRepository) Create(ctx context.Context, ra *entity.RiskAssessment) error {
	factors := ra.Factors
	if factors == nil {
		factors = []entity.RiskFactor{}
	}
	factorsJSON, err := json.Marshal(factors)
	if err != nil {
		return fmt.Errorf("failed to encode risk factors: %w", err)
	}

	query := `
		INSERT INTO risk_assessments (
			id, transaction_id, score, fraud_block, factors, source, assessed_at
		) VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	_, err = sqlite.Conn(ctx, r.db).ExecContext(ctx, query,
		ra.ID,
		ra.TransactionID,
		ra.Score,
		ra.FraudBlock,
		string(factorsJSON),
		ra.Source,
		ra.AssessedAt.UTC(),
	)
	if err != nil {
		r.logger.Error("Failed to create risk assessment",
			zap.String("transaction_id", ra.TransactionID),
			zap.Error(err))
		return fmt.Errorf("failed to create risk assessment: %w", err)
	}

	return nil
}

// GetLatestByTransactionID returns the most recent assessment for a transaction
func (r *RiskAssessmentRepository) GetLatestByTransactionID(ctx context.Context, transactionID string) (*entity.RiskAssessment, error) {
	query := `
		SELECT id, transaction_id, score, fraud_block, factors, source, assessed_at
		FROM risk_assessments
		WHERE transaction_id = ?
		ORDER BY assessed_at DESC
		LIMIT 1
	`

	var (
		ra      entity.RiskAssessment
		factors string
	)
	err := sqlite.Conn(ctx, r.db).QueryRowContext(ctx, query, transactionID).Scan(
		&ra.ID,
		&ra.TransactionID,
		&ra.Score,
		&ra.FraudBlock,
		&factors,
		&ra.Source,
		&ra.AssessedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		r.logger.Error("Failed to get risk assessment",
			zap.String("transaction_id", transactionID),
			zap.Error(err))
		return nil, fmt.Errorf("failed to get risk assessment: %w", err)
	}

	if err := json.Unmarshal([]byte(factors), &ra.Factors); err != nil {
		return nil, fmt.Errorf("failed to decode risk factors: %w", err)
	}
	ra.AssessedAt = ra.AssessedAt.UTC()

	return &ra, nil
}

var _ port.RiskAssessmentRepository = (*RiskAssessmentRepository)(nil)
