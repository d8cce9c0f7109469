package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/garyjia/approval-engine/internal/application/port"
	"github.com/garyjia/approval-engine/internal/domain/apperr"
	"github.com/garyjia/approval-engine/internal/domain/entity"
	"github.com/garyjia/approval-engine/internal/domain/workflow"
	"github.com/garyjia/approval-engine/internal/metrics"
)

// Recorder is the append-only decision log.
// Append must run inside the transaction that updates the workflow projection.
type Recorder interface {
	Append(ctx context.Context, rec *entity.ActionRecord) (*entity.ActionRecord, error)
	History(ctx context.Context, workflowID string) ([]*entity.ActionRecord, error)
	Replay(ctx context.Context, workflowID string) (workflow.State, error)
	Verify(ctx context.Context, workflowID string) (*Report, error)
}

// Report is the result of a verification run
type Report struct {
	WorkflowID    string         `json:"workflow_id"`
	Actions       int            `json:"actions"`
	ChainValid    bool           `json:"chain_valid"`
	Consistent    bool           `json:"consistent"`
	Replayed      workflow.State `json:"replayed"`
	CachedStatus  string         `json:"cached_status"`
	CachedLevel   int            `json:"cached_level"`
	IntegrityHold bool           `json:"integrity_hold"`
	VerifiedAt    time.Time      `json:"verified_at"`
}

type recorder struct {
	actions   port.ActionRepository
	workflows port.WorkflowRepository
	txManager port.TransactionManager
	logger    *zap.Logger
	now       func() time.Time
}

// RecorderOption configures the recorder
type RecorderOption func(*recorder)

// WithTxManager makes Replay and Verify read the workflow row and its log in one transaction
func WithTxManager(tm port.TransactionManager) RecorderOption {
	return func(r *recorder) {
		r.txManager = tm
	}
}

// NewRecorder creates a decision recorder
func NewRecorder(actions port.ActionRepository, workflows port.WorkflowRepository, logger *zap.Logger, opts ...RecorderOption) Recorder {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &recorder{
		actions:   actions,
		workflows: workflows,
		logger:    logger,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *recorder) Append(ctx context.Context, rec *entity.ActionRecord) (*entity.ActionRecord, error) {
	const op = "audit.append"

	if rec == nil || rec.ID == "" || rec.WorkflowID == "" || !rec.Kind.IsValid() {
		return nil, apperr.Validation(op, "action record requires id, workflow id and a valid kind")
	}

	last, err := r.actions.Last(ctx, rec.WorkflowID)
	if err != nil {
		return nil, fmt.Errorf("failed to read audit tip: %w", err)
	}

	rec.Sequence = 1
	rec.PrevFingerprint = ""
	if last != nil {
		rec.Sequence = last.Sequence + 1
		rec.PrevFingerprint = last.Fingerprint
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = r.now()
	}
	// Stored timestamps keep microseconds; hash what will be read back
	rec.CreatedAt = rec.CreatedAt.UTC().Truncate(time.Microsecond)
	if rec.Priority == "" {
		rec.Priority = entity.PriorityNormal
	}

	fp, err := Fingerprint(rec.PrevFingerprint, rec)
	if err != nil {
		return nil, err
	}
	rec.Fingerprint = fp

	if err := r.actions.Append(ctx, rec); err != nil {
		return nil, fmt.Errorf("failed to append action record: %w", err)
	}

	if rec.Priority == entity.PriorityHigh {
		r.logger.Warn("High priority action recorded",
			zap.String("audit_priority", "high"),
			zap.String("workflow_id", rec.WorkflowID),
			zap.String("action_id", rec.ID),
			zap.String("kind", rec.Kind.String()),
			zap.String("actor_id", rec.ActorID),
			zap.String("justification", rec.Justification))
	}

	return rec, nil
}

func (r *recorder) History(ctx context.Context, workflowID string) ([]*entity.ActionRecord, error) {
	records, err := r.actions.ListByWorkflow(ctx, workflowID)
	if err != nil {
		return nil, fmt.Errorf("failed to list action records: %w", err)
	}
	return records, nil
}

// Replay rebuilds the workflow state from the snapshotted plan and the verified action log
func (r *recorder) Replay(ctx context.Context, workflowID string) (workflow.State, error) {
	wf, records, err := r.load(ctx, workflowID)
	if err != nil {
		return workflow.State{}, err
	}
	return r.replay(wf, records)
}

// load reads the projection and the log from one snapshot
func (r *recorder) load(ctx context.Context, workflowID string) (*entity.ApprovalWorkflow, []*entity.ActionRecord, error) {
	if r.txManager == nil {
		return r.read(ctx, workflowID)
	}

	var (
		wf      *entity.ApprovalWorkflow
		records []*entity.ActionRecord
	)
	err := r.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		var err error
		wf, records, err = r.read(txCtx, workflowID)
		return err
	})
	if err != nil {
		return nil, nil, err
	}
	return wf, records, nil
}

func (r *recorder) read(ctx context.Context, workflowID string) (*entity.ApprovalWorkflow, []*entity.ActionRecord, error) {
	wf, err := r.workflows.GetByID(ctx, workflowID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load workflow: %w", err)
	}
	if wf == nil {
		return nil, nil, apperr.NotFound("audit.replay", "workflow %s not found", workflowID)
	}
	records, err := r.History(ctx, workflowID)
	if err != nil {
		return nil, nil, err
	}
	return wf, records, nil
}

func (r *recorder) replay(wf *entity.ApprovalWorkflow, records []*entity.ActionRecord) (workflow.State, error) {
	const op = "audit.replay"

	if err := verifyChain(records, wf.AuditHead); err != nil {
		return workflow.State{}, apperr.Integrity(op, apperr.ErrChainBroken, "workflow %s: %v", wf.ID, err)
	}

	actions := make([]workflow.Action, len(records))
	for i, rec := range records {
		actions[i] = rec.ToAction()
	}
	state, err := workflow.Replay(wf.InitialState(), actions)
	if err != nil {
		return workflow.State{}, apperr.Integrity(op, err, "workflow %s: recorded action no longer applies", wf.ID)
	}
	return state, nil
}

// Verify replays the log and compares it with the cached projection.
// Any failure places the workflow on integrity hold. Callers must keep writers
// to the workflow out while it runs.
func (r *recorder) Verify(ctx context.Context, workflowID string) (*Report, error) {
	const op = "audit.verify"

	wf, records, err := r.load(ctx, workflowID)
	if err != nil {
		return nil, err
	}

	report := &Report{
		WorkflowID:    wf.ID,
		Actions:       len(records),
		CachedStatus:  wf.Status().String(),
		CachedLevel:   wf.CurrentLevel(),
		IntegrityHold: wf.IntegrityHold,
		VerifiedAt:    r.now().UTC(),
	}

	replayed, replayErr := r.replay(wf, records)
	if replayErr == nil {
		report.ChainValid = true
		report.Replayed = replayed
		same, err := sameState(replayed, wf.State)
		if err != nil {
			return nil, err
		}
		report.Consistent = same
		if !same {
			replayErr = apperr.Integrity(op, nil,
				"workflow %s: cached %s@%d but replay yields %s@%d",
				wf.ID, wf.Status(), wf.CurrentLevel(), replayed.Status, replayed.CurrentLevel)
		}
	}

	if replayErr != nil {
		metrics.IntegrityFailuresTotal.Inc()
		r.logger.Error("Audit integrity failure",
			zap.String("audit_priority", "critical"),
			zap.String("workflow_id", wf.ID),
			zap.Error(replayErr))
		if !wf.IntegrityHold {
			if err := r.workflows.SetIntegrityHold(ctx, wf.ID, true); err != nil {
				r.logger.Error("Failed to place workflow on integrity hold",
					zap.String("workflow_id", wf.ID),
					zap.Error(err))
			}
		}
		report.IntegrityHold = true
		return report, replayErr
	}

	return report, nil
}

func sameState(a, b workflow.State) (bool, error) {
	ja, err := json.Marshal(a)
	if err != nil {
		return false, fmt.Errorf("failed to encode replayed state: %w", err)
	}
	jb, err := json.Marshal(b)
	if err != nil {
		return false, fmt.Errorf("failed to encode cached state: %w", err)
	}
	return bytes.Equal(ja, jb), nil
}
