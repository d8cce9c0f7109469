package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/garyjia/approval-engine/internal/application/audit"
	"github.com/garyjia/approval-engine/internal/application/port"
	"github.com/garyjia/approval-engine/internal/application/rules"
	"github.com/garyjia/approval-engine/internal/domain/apperr"
	"github.com/garyjia/approval-engine/internal/domain/entity"
	"github.com/garyjia/approval-engine/internal/domain/event"
	domainwf "github.com/garyjia/approval-engine/internal/domain/workflow"
	"github.com/garyjia/approval-engine/internal/metrics"
)

// Dependencies are the collaborators the orchestrator is built from
type Dependencies struct {
	Workflows      port.WorkflowRepository
	Actions        port.ActionRepository
	Assessments    port.RiskAssessmentRepository
	Holds          port.HoldRepository
	SecurityEvents port.SecurityEventRepository
	Outbox         port.OutboxRepository
	TxManager      port.TransactionManager
	Evaluator      rules.Evaluator
	Recorder       audit.Recorder
	Risk           port.RiskService
	Identity       port.IdentityDirectory
}

type orchestrator struct {
	Dependencies

	logger *zap.Logger
	locks  *keyedMutex
	now    func() time.Time

	riskTimeout     time.Duration
	riskAttempts    uint64
	persistAttempts uint64
	retryInterval   time.Duration
}

// EngineOption configures the orchestrator
type EngineOption func(*orchestrator)

// WithLogger sets the logger
func WithLogger(logger *zap.Logger) EngineOption {
	return func(o *orchestrator) {
		o.logger = logger
	}
}

// WithClock overrides the clock
func WithClock(now func() time.Time) EngineOption {
	return func(o *orchestrator) {
		o.now = now
	}
}

// WithRiskPolicy sets the per-attempt risk service timeout and how many attempts are made
func WithRiskPolicy(timeout time.Duration, attempts int) EngineOption {
	return func(o *orchestrator) {
		if timeout > 0 {
			o.riskTimeout = timeout
		}
		if attempts > 0 {
			o.riskAttempts = uint64(attempts)
		}
	}
}

// WithPersistRetry sets how many times a transient persistence failure is retried and the initial interval
func WithPersistRetry(attempts int, interval time.Duration) EngineOption {
	return func(o *orchestrator) {
		if attempts > 0 {
			o.persistAttempts = uint64(attempts)
		}
		if interval > 0 {
			o.retryInterval = interval
		}
	}
}

// NewOrchestrator creates a workflow orchestrator
func NewOrchestrator(deps Dependencies, opts ...EngineOption) Orchestrator {
	o := &orchestrator{
		Dependencies:    deps,
		logger:          zap.NewNop(),
		locks:           newKeyedMutex(),
		now:             time.Now,
		riskTimeout:     2 * time.Second,
		riskAttempts:    3,
		persistAttempts: 3,
		retryInterval:   50 * time.Millisecond,
	}

	for _, opt := range opts {
		opt(o)
	}

	return o
}

// retry runs fn with bounded exponential backoff. Only retryable errors are retried.
func (o *orchestrator) retry(ctx context.Context, attempts uint64, fn func() error) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = o.retryInterval
	b.MaxInterval = 20 * o.retryInterval
	b.MaxElapsedTime = 0

	var retries uint64
	if attempts > 0 {
		retries = attempts - 1
	}
	policy := backoff.WithContext(backoff.WithMaxRetries(b, retries), ctx)

	return backoff.RetryNotify(func() error {
		err := fn()
		if err != nil && !apperr.IsRetryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}, policy, func(err error, wait time.Duration) {
		o.logger.Warn("Retrying after transient failure", zap.Error(err), zap.Duration("wait", wait))
	})
}

// CreateWorkflow implements the creation path: risk, evaluation, persistence and the created event
func (o *orchestrator) CreateWorkflow(ctx context.Context, tx entity.Transaction) (*CreateResult, error) {
	const op = "orchestrator.create"

	if err := tx.Validate(); err != nil {
		return nil, err
	}

	if prior, err := o.priorOutcome(ctx, tx.ID); err != nil || prior != nil {
		return prior, err
	}

	// An earlier attempt held for missing configuration already scored the transaction
	assessment, err := o.Assessments.GetLatestByTransactionID(ctx, tx.ID)
	if err != nil {
		return nil, o.persistenceError(op, err)
	}
	stored := assessment != nil
	if stored {
		o.logger.Info("Reusing stored risk assessment",
			zap.String("transaction_id", tx.ID),
			zap.String("risk_assessment_id", assessment.ID))
	} else {
		assessment, err = o.assessRisk(ctx, tx)
		if err != nil {
			o.logger.Error("Risk service unavailable, holding transaction",
				zap.String("transaction_id", tx.ID),
				zap.Error(err))
			if holdErr := o.hold(ctx, tx, entity.HoldUpstreamUnavailable, err.Error(), nil, false); holdErr != nil {
				return nil, holdErr
			}
			return nil, apperr.UpstreamTimeout(op, err, "risk assessment unavailable, transaction held for review")
		}
	}

	result, err := o.Evaluator.Evaluate(ctx, tx, rules.RiskInput{Score: assessment.Score, FraudBlock: assessment.FraudBlock})
	if err != nil {
		switch apperr.KindOf(err) {
		case apperr.KindConfiguration:
			o.logger.Error("No approval rule configured, holding transaction",
				zap.String("transaction_id", tx.ID),
				zap.String("type", tx.Type),
				zap.String("currency", tx.Currency),
				zap.Error(err))
			if holdErr := o.hold(ctx, tx, entity.HoldMissingConfiguration, err.Error(), assessment, !stored); holdErr != nil {
				return nil, holdErr
			}
		case apperr.KindUpstreamTimeout:
			if holdErr := o.hold(ctx, tx, entity.HoldUpstreamUnavailable, err.Error(), assessment, !stored); holdErr != nil {
				return nil, holdErr
			}
		}
		return nil, err
	}

	switch {
	case result.Blocked:
		o.logger.Warn("Transaction blocked by fraud screening",
			zap.String("transaction_id", tx.ID),
			zap.String("risk_assessment_id", assessment.ID))
		if err := o.hold(ctx, tx, entity.HoldFraudBlock, "fraud block", assessment, !stored); err != nil {
			return nil, err
		}
		return &CreateResult{
			TransactionID:    tx.ID,
			Blocked:          true,
			Status:           entity.PublicHoldStatus,
			RiskAssessmentID: assessment.ID,
		}, nil

	case result.AutoApproved:
		if !stored {
			if err := o.retry(ctx, o.persistAttempts, func() error {
				return o.TxManager.WithTransaction(ctx, func(txCtx context.Context) error {
					return o.Assessments.Create(txCtx, assessment)
				})
			}); err != nil {
				return nil, o.persistenceError(op, err)
			}
		}
		o.logger.Info("Transaction auto-approved",
			zap.String("transaction_id", tx.ID),
			zap.Float64("amount", tx.Amount),
			zap.String("currency", tx.Currency))
		return &CreateResult{
			TransactionID:    tx.ID,
			AutoApproved:     true,
			Status:           StatusAutoApproved,
			RiskAssessmentID: assessment.ID,
		}, nil
	}

	now := o.now().UTC()
	wf := &entity.ApprovalWorkflow{
		ID:               uuid.NewString(),
		TransactionID:    tx.ID,
		TransactionType:  tx.Type,
		Amount:           tx.Amount,
		Currency:         tx.Currency,
		RuleID:           result.Plan.RuleID,
		RiskAssessmentID: assessment.ID,
		RiskScore:        assessment.Score,
		State:            domainwf.NewState(tx.RequesterID, *result.Plan),
		Version:          1,
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	first, _ := result.Plan.Level(1)
	evt := event.NewEvent(event.TypeWorkflowCreated, wf.ID, tx.ID, map[string]interface{}{
		"requester_id":   tx.RequesterID,
		"amount":         tx.Amount,
		"currency":       tx.Currency,
		"total_levels":   result.Plan.TotalLevels(),
		"current_level":  1,
		"level_roles":    first.Roles,
		"risk_escalated": result.Plan.RiskEscalated,
	})

	err = o.retry(ctx, o.persistAttempts, func() error {
		return o.TxManager.WithTransaction(ctx, func(txCtx context.Context) error {
			if !stored {
				if err := o.Assessments.Create(txCtx, assessment); err != nil {
					return err
				}
			}
			if err := o.Workflows.Create(txCtx, wf); err != nil {
				return err
			}
			return o.enqueue(txCtx, evt)
		})
	})
	if err != nil {
		return nil, o.persistenceError(op, err)
	}

	metrics.WorkflowsCreatedTotal.WithLabelValues(strconv.Itoa(result.Plan.TotalLevels())).Inc()
	o.logger.Info("Workflow created",
		zap.String("workflow_id", wf.ID),
		zap.String("transaction_id", tx.ID),
		zap.String("rule_id", wf.RuleID),
		zap.Int("total_levels", wf.TotalLevels()),
		zap.Float64("risk_score", wf.RiskScore))

	return &CreateResult{
		TransactionID:    tx.ID,
		Status:           StatusPendingApproval,
		RiskAssessmentID: assessment.ID,
		Workflow:         newSnapshot(wf),
	}, nil
}

// priorOutcome returns the earlier result for a transaction that was already processed
func (o *orchestrator) priorOutcome(ctx context.Context, transactionID string) (*CreateResult, error) {
	wf, err := o.Workflows.GetByTransactionID(ctx, transactionID)
	if err != nil {
		return nil, o.persistenceError("orchestrator.create", err)
	}
	if wf != nil {
		return &CreateResult{
			TransactionID:    transactionID,
			Status:           publicStatus(wf.Status()),
			RiskAssessmentID: wf.RiskAssessmentID,
			Workflow:         newSnapshot(wf),
		}, nil
	}

	held, err := o.Holds.GetByTransactionID(ctx, transactionID)
	if err != nil {
		return nil, o.persistenceError("orchestrator.create", err)
	}
	if held != nil && held.Reason == entity.HoldFraudBlock {
		return &CreateResult{
			TransactionID:    transactionID,
			Blocked:          true,
			Status:           entity.PublicHoldStatus,
			RiskAssessmentID: held.RiskAssessmentID,
		}, nil
	}
	return nil, nil
}

// assessRisk calls the risk service with a per-attempt deadline and bounded retries.
// The caller must fail closed on error.
func (o *orchestrator) assessRisk(ctx context.Context, tx entity.Transaction) (*entity.RiskAssessment, error) {
	var res *port.RiskResult
	err := o.retry(ctx, o.riskAttempts, func() error {
		callCtx, cancel := context.WithTimeout(ctx, o.riskTimeout)
		defer cancel()

		start := time.Now()
		r, err := o.Risk.Assess(callCtx, tx)
		if err != nil {
			metrics.RiskRequestDuration.WithLabelValues("error").Observe(time.Since(start).Seconds())
			return apperr.UpstreamTimeout("risk.assess", err, "risk service call failed")
		}
		metrics.RiskRequestDuration.WithLabelValues("ok").Observe(time.Since(start).Seconds())
		res = r
		return nil
	})
	if err != nil {
		return nil, err
	}

	if math.IsNaN(res.Score) || res.Score < 0 || res.Score > 1 {
		return nil, fmt.Errorf("risk service returned score %v outside [0,1]", res.Score)
	}

	return &entity.RiskAssessment{
		ID:            uuid.NewString(),
		TransactionID: tx.ID,
		Score:         res.Score,
		FraudBlock:    res.FraudBlock,
		Factors:       res.Factors,
		Source:        res.Source,
		AssessedAt:    o.now().UTC(),
	}, nil
}

// hold records a halted transaction and emits the held event. The assessment is
// linked when present and inserted only when storeAssessment is set.
func (o *orchestrator) hold(ctx context.Context, tx entity.Transaction, reason entity.HoldReason, detail string, assessment *entity.RiskAssessment, storeAssessment bool) error {
	h := &entity.TransactionHold{
		ID:            uuid.NewString(),
		TransactionID: tx.ID,
		Reason:        reason,
		Detail:        detail,
		CreatedAt:     o.now().UTC(),
	}
	if assessment != nil {
		h.RiskAssessmentID = assessment.ID
	}

	// Internal reasons never leave the engine
	evt := event.NewEvent(event.TypeTransactionHeld, "", tx.ID, map[string]interface{}{
		"requester_id": tx.RequesterID,
		"status":       entity.PublicHoldStatus,
	})

	err := o.retry(ctx, o.persistAttempts, func() error {
		return o.TxManager.WithTransaction(ctx, func(txCtx context.Context) error {
			if assessment != nil && storeAssessment {
				if err := o.Assessments.Create(txCtx, assessment); err != nil {
					return err
				}
			}
			if err := o.Holds.Create(txCtx, h); err != nil {
				return err
			}
			return o.enqueue(txCtx, evt)
		})
	})
	if err != nil {
		return o.persistenceError("orchestrator.hold", err)
	}

	metrics.HoldsTotal.WithLabelValues(string(reason)).Inc()
	return nil
}

// SubmitAction serializes per workflow: read state, validate, then commit the record and projection together
func (o *orchestrator) SubmitAction(ctx context.Context, req ActionRequest) (*Snapshot, error) {
	const op = "orchestrator.submit"

	if req.WorkflowID == "" {
		return nil, apperr.Validation(op, "workflow id is required")
	}
	if req.ActorID == "" {
		return nil, apperr.Validation(op, "actor id is required")
	}
	if !req.Kind.IsValid() {
		return nil, apperr.Validation(op, "unknown action kind %q", req.Kind)
	}
	if req.Level < 0 {
		return nil, apperr.Validation(op, "level must not be negative")
	}

	start := time.Now()
	defer func() {
		metrics.ActionDuration.WithLabelValues(req.Kind.String()).Observe(time.Since(start).Seconds())
	}()

	// Pin the level on arrival so a concurrent advance cannot retarget the decision
	if req.Level == 0 {
		wf, err := o.Workflows.GetByID(ctx, req.WorkflowID)
		if err != nil {
			metrics.ActionsTotal.WithLabelValues(req.Kind.String(), "rejected").Inc()
			return nil, o.persistenceError(op, err)
		}
		if wf == nil {
			metrics.ActionsTotal.WithLabelValues(req.Kind.String(), "rejected").Inc()
			return nil, apperr.NotFound(op, "workflow %s not found", req.WorkflowID)
		}
		req.Level = wf.CurrentLevel()
	}

	unlock := o.locks.Lock(req.WorkflowID)
	defer unlock()

	var snap *Snapshot
	err := o.retry(ctx, o.persistAttempts, func() error {
		s, err := o.submitOnce(ctx, req)
		if err != nil {
			return err
		}
		snap = s
		return nil
	})
	if err != nil {
		metrics.ActionsTotal.WithLabelValues(req.Kind.String(), "rejected").Inc()
		if apperr.KindOf(err) == apperr.KindInternal {
			return nil, o.persistenceError(op, err)
		}
		return nil, err
	}

	metrics.ActionsTotal.WithLabelValues(req.Kind.String(), string(snap.LastOutcome)).Inc()
	return snap, nil
}

func (o *orchestrator) submitOnce(ctx context.Context, req ActionRequest) (*Snapshot, error) {
	const op = "orchestrator.submit"

	wf, err := o.Workflows.GetByID(ctx, req.WorkflowID)
	if err != nil {
		return nil, fmt.Errorf("failed to load workflow: %w", err)
	}
	if wf == nil {
		return nil, apperr.NotFound(op, "workflow %s not found", req.WorkflowID)
	}

	if req.ActionID != "" {
		existing, err := o.Actions.GetByID(ctx, req.ActionID)
		if err != nil {
			return nil, fmt.Errorf("failed to look up action: %w", err)
		}
		if existing != nil {
			if existing.WorkflowID != wf.ID {
				return nil, apperr.Conflict(op, nil, "action id %s belongs to another workflow", req.ActionID)
			}
			snap, err := o.snapshot(ctx, wf)
			if err != nil {
				return nil, err
			}
			snap.LastOutcome = existing.Outcome
			return snap, nil
		}
	}

	if wf.IntegrityHold {
		return nil, apperr.Integrity(op, apperr.ErrIntegrityHold, "workflow %s", wf.ID)
	}

	roles, err := o.relevantRoles(ctx, wf, req.ActorID)
	if err != nil {
		return nil, err
	}

	level := req.Level
	if level == 0 {
		level = wf.CurrentLevel()
	}
	action := domainwf.Action{
		ID:            req.ActionID,
		Kind:          req.Kind,
		ActorID:       req.ActorID,
		ActorRoles:    roles,
		Level:         level,
		Justification: req.Justification,
		DelegateTo:    req.DelegateTo,
	}
	if action.ID == "" {
		action.ID = uuid.NewString()
	}

	if req.Kind == domainwf.ActionDelegate {
		if err := o.checkDelegationTarget(ctx, wf, req); err != nil {
			o.recordSecurityEvent(ctx, wf, req, level, err)
			return nil, err
		}
	}

	next, effect, err := domainwf.Apply(wf.State, action)
	if err != nil {
		if k := apperr.KindOf(err); k == apperr.KindAuthorization || k == apperr.KindConflict {
			o.recordSecurityEvent(ctx, wf, req, level, err)
		}
		return nil, err
	}

	priority := entity.PriorityNormal
	if req.Kind == domainwf.ActionOverride {
		priority = entity.PriorityHigh
	}

	now := o.now().UTC()
	expected := wf.Version
	updated := *wf
	updated.State = next
	updated.Version = expected + 1
	updated.UpdatedAt = now
	if next.Status.IsTerminal() && updated.CompletedAt == nil {
		updated.CompletedAt = &now
	}

	events := o.eventsFor(&updated, action, effect)

	err = o.TxManager.WithTransaction(ctx, func(txCtx context.Context) error {
		rec, err := o.Recorder.Append(txCtx, &entity.ActionRecord{
			ID:            action.ID,
			WorkflowID:    wf.ID,
			Level:         level,
			ActorID:       action.ActorID,
			ActorRoles:    roles,
			Kind:          action.Kind,
			Justification: action.Justification,
			DelegateTo:    action.DelegateTo,
			Origin:        req.Origin,
			Priority:      priority,
			Outcome:       effect.Outcome,
			CreatedAt:     now,
		})
		if err != nil {
			return err
		}
		updated.AuditHead = rec.Fingerprint

		if err := o.Workflows.Update(txCtx, &updated, expected); err != nil {
			if errors.Is(err, apperr.ErrVersionConflict) {
				return apperr.Conflict(op, err, "workflow %s changed while the action was processed", wf.ID)
			}
			return err
		}
		for _, evt := range events {
			if err := o.enqueue(txCtx, evt); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	o.logger.Info("Action recorded",
		zap.String("workflow_id", wf.ID),
		zap.String("action_id", action.ID),
		zap.String("kind", action.Kind.String()),
		zap.String("actor_id", action.ActorID),
		zap.Int("level", level),
		zap.String("outcome", string(effect.Outcome)),
		zap.String("status", next.Status.String()))

	snap := newSnapshot(&updated)
	snap.LastOutcome = effect.Outcome
	if next.Status == domainwf.StatusRejected {
		snap.Rejection = &Rejection{ActorID: action.ActorID, Level: level, Justification: action.Justification}
	}
	return snap, nil
}

// relevantRoles snapshots which of the workflow's roles the actor holds right now
func (o *orchestrator) relevantRoles(ctx context.Context, wf *entity.ApprovalWorkflow, actorID string) ([]string, error) {
	var held []string
	for _, role := range wf.State.Plan.Roles() {
		ok, err := o.Identity.HasRole(ctx, actorID, role)
		if err != nil {
			return nil, apperr.UpstreamTimeout("identity.has_role", err, "identity lookup failed")
		}
		if ok {
			held = append(held, role)
		}
	}
	return held, nil
}

// checkDelegationTarget allows handing a decision back to its original holder,
// otherwise the target must be one of the actor's delegation targets.
func (o *orchestrator) checkDelegationTarget(ctx context.Context, wf *entity.ApprovalWorkflow, req ActionRequest) error {
	if req.DelegateTo == "" || wf.State.IsRevoked(wf.CurrentLevel(), req.DelegateTo) {
		return nil
	}
	targets, err := o.Identity.DelegationTargetsFor(ctx, req.ActorID)
	if err != nil {
		return apperr.UpstreamTimeout("identity.delegation_targets", err, "identity lookup failed")
	}
	for _, t := range targets {
		if t == req.DelegateTo {
			return nil
		}
	}
	return apperr.Authorization("orchestrator.delegate", "%s may not delegate to %s", req.ActorID, req.DelegateTo)
}

func (o *orchestrator) eventsFor(wf *entity.ApprovalWorkflow, a domainwf.Action, effect domainwf.Effect) []*event.Event {
	switch effect.Outcome {
	case domainwf.OutcomeAdvanced:
		lvl, _ := wf.State.Plan.Level(effect.ToLevel)
		return []*event.Event{event.NewEvent(event.TypeWorkflowAdvanced, wf.ID, wf.TransactionID, map[string]interface{}{
			"requester_id":  wf.State.RequesterID,
			"from_level":    effect.FromLevel,
			"current_level": effect.ToLevel,
			"total_levels":  wf.TotalLevels(),
			"level_roles":   lvl.Roles,
			"actor_id":      a.ActorID,
		})}
	case domainwf.OutcomeCompleted:
		payload := map[string]interface{}{
			"requester_id":       wf.State.RequesterID,
			"status":             effect.Status.String(),
			"level":              effect.FromLevel,
			"actor_id":           a.ActorID,
			"emergency_override": wf.State.EmergencyOverride,
		}
		if effect.Status == domainwf.StatusRejected {
			payload["justification"] = a.Justification
		}
		return []*event.Event{event.NewEvent(event.TypeWorkflowCompleted, wf.ID, wf.TransactionID, payload)}
	default:
		return nil
	}
}

func (o *orchestrator) enqueue(ctx context.Context, evt *event.Event) error {
	body, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("failed to encode event: %w", err)
	}
	return o.Outbox.Enqueue(ctx, &entity.OutboxEntry{
		EventID:    evt.ID,
		EventType:  evt.Type.String(),
		WorkflowID: evt.WorkflowID,
		Payload:    body,
		CreatedAt:  evt.Timestamp,
	})
}

// recordSecurityEvent keeps rejected attempts outside the replayed log. Failures are only logged.
func (o *orchestrator) recordSecurityEvent(ctx context.Context, wf *entity.ApprovalWorkflow, req ActionRequest, level int, cause error) {
	o.logger.Warn("Rejected action attempt",
		zap.String("workflow_id", wf.ID),
		zap.String("actor_id", req.ActorID),
		zap.String("kind", req.Kind.String()),
		zap.Int("level", level),
		zap.Error(cause))

	ev := &entity.SecurityEvent{
		ID:         uuid.NewString(),
		WorkflowID: wf.ID,
		ActorID:    req.ActorID,
		Kind:       req.Kind,
		Level:      level,
		ErrorKind:  string(apperr.KindOf(cause)),
		Detail:     cause.Error(),
		Origin:     req.Origin,
		CreatedAt:  o.now().UTC(),
	}
	if err := o.SecurityEvents.Create(ctx, ev); err != nil {
		o.logger.Error("Failed to record security event", zap.String("workflow_id", wf.ID), zap.Error(err))
	}
}

func (o *orchestrator) GetStatus(ctx context.Context, workflowID string) (*Snapshot, error) {
	wf, err := o.Workflows.GetByID(ctx, workflowID)
	if err != nil {
		return nil, o.persistenceError("orchestrator.status", err)
	}
	if wf == nil {
		return nil, apperr.NotFound("orchestrator.status", "workflow %s not found", workflowID)
	}
	return o.snapshot(ctx, wf)
}

// snapshot builds the read model, attaching the rejection notice for rejected workflows
func (o *orchestrator) snapshot(ctx context.Context, wf *entity.ApprovalWorkflow) (*Snapshot, error) {
	snap := newSnapshot(wf)
	if wf.Status() != domainwf.StatusRejected {
		return snap, nil
	}
	last, err := o.Actions.Last(ctx, wf.ID)
	if err != nil {
		return nil, o.persistenceError("orchestrator.status", err)
	}
	if last != nil && last.Kind == domainwf.ActionReject {
		snap.Rejection = &Rejection{ActorID: last.ActorID, Level: last.Level, Justification: last.Justification}
	}
	return snap, nil
}

func (o *orchestrator) History(ctx context.Context, workflowID string) ([]*entity.ActionRecord, error) {
	wf, err := o.Workflows.GetByID(ctx, workflowID)
	if err != nil {
		return nil, o.persistenceError("orchestrator.history", err)
	}
	if wf == nil {
		return nil, apperr.NotFound("orchestrator.history", "workflow %s not found", workflowID)
	}
	return o.Recorder.History(ctx, workflowID)
}

func (o *orchestrator) ListWorkflows(ctx context.Context, status domainwf.Status, limit, offset int) ([]*Snapshot, error) {
	if !status.IsValid() {
		return nil, apperr.Validation("orchestrator.list", "unknown status %q", status)
	}
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	wfs, err := o.Workflows.ListByStatus(ctx, status, limit, offset)
	if err != nil {
		return nil, o.persistenceError("orchestrator.list", err)
	}
	out := make([]*Snapshot, len(wfs))
	for i, wf := range wfs {
		out[i] = newSnapshot(wf)
	}
	return out, nil
}

// Verify runs under the workflow lock so no action commits between reading the projection and the log
func (o *orchestrator) Verify(ctx context.Context, workflowID string) (*audit.Report, error) {
	unlock := o.locks.Lock(workflowID)
	defer unlock()

	return o.Recorder.Verify(ctx, workflowID)
}

// persistenceError keeps typed errors and wraps the rest as internal
func (o *orchestrator) persistenceError(op string, err error) error {
	var typed *apperr.Error
	if errors.As(err, &typed) {
		return err
	}
	return apperr.Internal(op, err, "persistence failure")
}
