package rules

import (
	"context"
	"errors"
	"math"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/garyjia/approval-engine/internal/application/port"
	"github.com/garyjia/approval-engine/internal/domain/apperr"
	"github.com/garyjia/approval-engine/internal/domain/entity"
	"github.com/garyjia/approval-engine/internal/domain/workflow"
	"github.com/garyjia/approval-engine/internal/metrics"
)

// Defaults used when Config leaves a field empty
const (
	DefaultRiskCutoff     = 0.7
	DefaultRiskReviewRole = "risk-review"
)

// Config holds evaluation policy
type Config struct {
	// RiskCutoff is exclusive: a score strictly above it appends a risk-review level
	RiskCutoff     float64
	RiskReviewRole string
	// ReviewBelowThreshold sends a high-risk transaction that clears no threshold
	// to a single risk-review level instead of auto-approving it
	ReviewBelowThreshold bool
	Policy               workflow.Policy
}

// RiskInput is the part of a risk assessment the evaluator consumes
type RiskInput struct {
	Score      float64
	FraudBlock bool
}

// Result is exactly one of auto-approved, blocked, or a plan
type Result struct {
	AutoApproved bool
	Blocked      bool
	Plan         *workflow.LevelPlan
	Rule         *entity.ApprovalRule
}

// Evaluator selects the applicable rule and materializes a level plan
type Evaluator interface {
	Evaluate(ctx context.Context, tx entity.Transaction, risk RiskInput) (*Result, error)
}

type evaluator struct {
	store  port.RuleStore
	cfg    Config
	logger *zap.Logger
	now    func() time.Time
}

// Option configures the evaluator
type Option func(*evaluator)

// WithClock overrides the clock used when a transaction carries no timestamp
func WithClock(now func() time.Time) Option {
	return func(e *evaluator) {
		e.now = now
	}
}

// NewEvaluator creates a rule evaluator backed by store
func NewEvaluator(store port.RuleStore, cfg Config, logger *zap.Logger, opts ...Option) Evaluator {
	if cfg.RiskCutoff <= 0 {
		cfg.RiskCutoff = DefaultRiskCutoff
	}
	if cfg.RiskReviewRole == "" {
		cfg.RiskReviewRole = DefaultRiskReviewRole
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	e := &evaluator{
		store:  store,
		cfg:    cfg,
		logger: logger,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Evaluate implements the matching algorithm:
// filter by type and currency at the most specific scope, pick the deepest
// cleared threshold, then apply risk escalation.
func (e *evaluator) Evaluate(ctx context.Context, tx entity.Transaction, risk RiskInput) (*Result, error) {
	const op = "rules.evaluate"

	if err := tx.Validate(); err != nil {
		metrics.EvaluationsTotal.WithLabelValues("error").Inc()
		return nil, err
	}
	if math.IsNaN(risk.Score) || risk.Score < 0 || risk.Score > 1 {
		metrics.EvaluationsTotal.WithLabelValues("error").Inc()
		return nil, apperr.Validation(op, "risk score must be within [0,1], got %v", risk.Score)
	}

	if risk.FraudBlock {
		metrics.EvaluationsTotal.WithLabelValues("blocked").Inc()
		return &Result{Blocked: true}, nil
	}

	candidates, err := e.store.FindActiveRules(ctx, tx.Type, tx.Currency)
	if err != nil {
		metrics.EvaluationsTotal.WithLabelValues("error").Inc()
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return nil, apperr.UpstreamTimeout(op, err, "rule store unavailable")
		}
		return nil, apperr.UpstreamTimeout(op, err, "rule store lookup failed")
	}

	matched := e.matching(candidates, tx)
	if len(matched) == 0 {
		metrics.EvaluationsTotal.WithLabelValues("error").Inc()
		return nil, apperr.Configuration(op, "no active rule for type %s and currency %s and no catch-all", tx.Type, tx.Currency)
	}

	highRisk := risk.Score > e.cfg.RiskCutoff

	rule := e.selectRule(matched, tx)
	if rule == nil {
		if highRisk && e.cfg.ReviewBelowThreshold {
			plan := workflow.LevelPlan{Policy: e.cfg.Policy}
			plan = e.escalate(plan)
			metrics.EvaluationsTotal.WithLabelValues("workflow").Inc()
			return &Result{Plan: &plan}, nil
		}
		metrics.EvaluationsTotal.WithLabelValues("auto_approved").Inc()
		return &Result{AutoApproved: true}, nil
	}

	plan := workflow.LevelPlan{
		RuleID: rule.ID,
		Levels: rule.PlanLevels(),
		Policy: e.cfg.Policy,
	}
	if highRisk {
		plan = e.escalate(plan)
	}
	if err := plan.Validate(); err != nil {
		metrics.EvaluationsTotal.WithLabelValues("error").Inc()
		return nil, apperr.Configuration(op, "rule %s yields an invalid plan: %v", rule.ID, err)
	}

	metrics.EvaluationsTotal.WithLabelValues("workflow").Inc()
	return &Result{Plan: &plan, Rule: rule}, nil
}

// matching keeps active rules covering the transaction whose conditions hold,
// narrowed to the most specific scope present.
func (e *evaluator) matching(candidates []entity.ApprovalRule, tx entity.Transaction) []entity.ApprovalRule {
	now := e.now()
	best := -1
	var out []entity.ApprovalRule
	for _, r := range candidates {
		if !r.Active || !r.Covers(tx.Type, tx.Currency) || !r.ConditionsHold(tx, now) {
			continue
		}
		switch s := r.Scope(); {
		case s > best:
			best = s
			out = []entity.ApprovalRule{r}
		case s == best:
			out = append(out, r)
		}
	}
	return out
}

// selectRule returns the rule with the highest threshold the amount clears, or nil
func (e *evaluator) selectRule(rules []entity.ApprovalRule, tx entity.Transaction) *entity.ApprovalRule {
	var cleared []entity.ApprovalRule
	for _, r := range rules {
		if r.Threshold <= tx.Amount {
			cleared = append(cleared, r)
		}
	}
	if len(cleared) == 0 {
		return nil
	}

	sort.SliceStable(cleared, func(i, j int) bool {
		a, b := cleared[i], cleared[j]
		if a.Threshold != b.Threshold {
			return a.Threshold > b.Threshold
		}
		if len(a.Levels) != len(b.Levels) {
			return len(a.Levels) > len(b.Levels)
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.After(b.CreatedAt)
		}
		return a.ID > b.ID
	})

	if len(cleared) > 1 && cleared[1].Threshold == cleared[0].Threshold {
		ids := make([]string, 0, len(cleared))
		for _, r := range cleared {
			if r.Threshold == cleared[0].Threshold {
				ids = append(ids, r.ID)
			}
		}
		metrics.RuleConflictsTotal.Inc()
		e.logger.Warn("Conflicting approval rules, applying tie-break",
			zap.String("transaction_id", tx.ID),
			zap.String("type", tx.Type),
			zap.String("currency", tx.Currency),
			zap.Strings("rule_ids", ids),
			zap.String("selected", cleared[0].ID))
	}

	selected := cleared[0]
	return &selected
}

// escalate appends the risk-review level. Existing levels are never touched.
func (e *evaluator) escalate(plan workflow.LevelPlan) workflow.LevelPlan {
	levels := make([]workflow.Level, len(plan.Levels), len(plan.Levels)+1)
	copy(levels, plan.Levels)
	levels = append(levels, workflow.Level{
		Number:     len(plan.Levels) + 1,
		Roles:      []string{e.cfg.RiskReviewRole},
		Mode:       workflow.ModeOR,
		RiskReview: true,
	})
	plan.Levels = levels
	plan.RiskEscalated = true
	return plan
}
