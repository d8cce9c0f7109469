package port

import (
	"context"
	"time"

	"github.com/garyjia/approval-engine/internal/domain/entity"
	"github.com/garyjia/approval-engine/internal/domain/workflow"
)

// WorkflowRepository defines persistence operations for ApprovalWorkflow.
// Lookups return nil, nil when nothing matches.
type WorkflowRepository interface {
	Create(ctx context.Context, wf *entity.ApprovalWorkflow) error
	GetByID(ctx context.Context, id string) (*entity.ApprovalWorkflow, error)
	GetByTransactionID(ctx context.Context, transactionID string) (*entity.ApprovalWorkflow, error)
	// Update writes the projection only if the stored version equals expectedVersion,
	// otherwise it returns apperr.ErrVersionConflict.
	Update(ctx context.Context, wf *entity.ApprovalWorkflow, expectedVersion int64) error
	SetIntegrityHold(ctx context.Context, id string, hold bool) error
	ListByStatus(ctx context.Context, status workflow.Status, limit, offset int) ([]*entity.ApprovalWorkflow, error)
}

// ActionRepository is the append-only store behind the decision recorder.
// It has no update or delete.
type ActionRepository interface {
	Append(ctx context.Context, rec *entity.ActionRecord) error
	GetByID(ctx context.Context, id string) (*entity.ActionRecord, error)
	ListByWorkflow(ctx context.Context, workflowID string) ([]*entity.ActionRecord, error)
	Last(ctx context.Context, workflowID string) (*entity.ActionRecord, error)
}

// RiskAssessmentRepository stores immutable risk assessments
type RiskAssessmentRepository interface {
	Create(ctx context.Context, ra *entity.RiskAssessment) error
	GetLatestByTransactionID(ctx context.Context, transactionID string) (*entity.RiskAssessment, error)
}

// HoldRepository stores transactions halted pending manual review
type HoldRepository interface {
	Create(ctx context.Context, hold *entity.TransactionHold) error
	GetByTransactionID(ctx context.Context, transactionID string) (*entity.TransactionHold, error)
}

// SecurityEventRepository stores rejected attempts
type SecurityEventRepository interface {
	Create(ctx context.Context, ev *entity.SecurityEvent) error
	ListByWorkflow(ctx context.Context, workflowID string) ([]*entity.SecurityEvent, error)
}

// OutboxRepository stores events committed with their state change
type OutboxRepository interface {
	Enqueue(ctx context.Context, entry *entity.OutboxEntry) error
	FetchPending(ctx context.Context, limit int) ([]*entity.OutboxEntry, error)
	MarkDispatched(ctx context.Context, id int64, at time.Time) error
	// MarkFailed counts a failed attempt and dead-letters the entry once maxAttempts is reached
	MarkFailed(ctx context.Context, id int64, errMsg string, maxAttempts int, at time.Time) error
}

// TransactionManager manages database transactions
type TransactionManager interface {
	// WithTransaction runs fn within a transaction. fn sees the transaction through ctx.
	WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}
