package port

import (
	"context"

	"github.com/garyjia/approval-engine/internal/domain/entity"
	"github.com/garyjia/approval-engine/internal/domain/event"
)

// RuleStore supplies approval rules. It returns the active rules whose type and
// currency criteria cover the pair, wildcards included.
type RuleStore interface {
	FindActiveRules(ctx context.Context, txType, currency string) ([]entity.ApprovalRule, error)
}

// RiskResult is what the risk service reports for one transaction
type RiskResult struct {
	Score      float64
	FraudBlock bool
	Factors    []entity.RiskFactor
	Source     string
}

// RiskService scores transactions. Implementations must honour ctx deadlines.
type RiskService interface {
	Assess(ctx context.Context, tx entity.Transaction) (*RiskResult, error)
}

// IdentityDirectory answers role and delegation questions
type IdentityDirectory interface {
	HasRole(ctx context.Context, userID, role string) (bool, error)
	DelegationTargetsFor(ctx context.Context, userID string) ([]string, error)
}

// EventPublisher hands events to an external sink
type EventPublisher interface {
	Publish(ctx context.Context, evt *event.Event) error
}
