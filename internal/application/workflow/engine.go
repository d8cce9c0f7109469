package workflow

import (
	"context"
	"time"

	"github.com/garyjia/approval-engine/internal/application/audit"
	"github.com/garyjia/approval-engine/internal/domain/entity"
	domainwf "github.com/garyjia/approval-engine/internal/domain/workflow"
)

// Orchestrator is the façade over rule evaluation, the workflow state machine and the decision recorder
type Orchestrator interface {
	// CreateWorkflow evaluates a transaction and, when approval is required, creates its workflow.
	// Calling it again for the same transaction returns the earlier outcome.
	CreateWorkflow(ctx context.Context, tx entity.Transaction) (*CreateResult, error)

	// SubmitAction validates and applies one approver action, recording it atomically with the state change
	SubmitAction(ctx context.Context, req ActionRequest) (*Snapshot, error)

	// GetStatus returns the cached projection of a workflow
	GetStatus(ctx context.Context, workflowID string) (*Snapshot, error)

	// History returns the workflow's ordered action log
	History(ctx context.Context, workflowID string) ([]*entity.ActionRecord, error)

	// ListWorkflows queries workflows by status
	ListWorkflows(ctx context.Context, status domainwf.Status, limit, offset int) ([]*Snapshot, error)

	// Verify replays the action log and compares it with the cached projection
	Verify(ctx context.Context, workflowID string) (*audit.Report, error)
}

// CreateResult is exactly one of auto-approved, blocked, or a created workflow
type CreateResult struct {
	TransactionID    string    `json:"transaction_id"`
	AutoApproved     bool      `json:"auto_approved"`
	Blocked          bool      `json:"blocked"`
	Status           string    `json:"status"`
	RiskAssessmentID string    `json:"risk_assessment_id,omitempty"`
	Workflow         *Snapshot `json:"workflow,omitempty"`
}

// Public statuses returned by CreateWorkflow
const (
	StatusAutoApproved    = "auto_approved"
	StatusPendingApproval = "pending_approval"
	StatusApproved        = "approved"
	StatusRejected        = "rejected"
	StatusCancelled       = "cancelled"
)

// publicStatus maps a workflow status onto the CreateWorkflow vocabulary
func publicStatus(s domainwf.Status) string {
	switch s {
	case domainwf.StatusApproved:
		return StatusApproved
	case domainwf.StatusRejected:
		return StatusRejected
	case domainwf.StatusCancelled:
		return StatusCancelled
	default:
		return StatusPendingApproval
	}
}

// ActionRequest is one approver decision submitted to a workflow
type ActionRequest struct {
	// ActionID makes the submission idempotent when set
	ActionID   string              `json:"action_id,omitempty"`
	WorkflowID string              `json:"workflow_id"`
	ActorID    string              `json:"actor_id"`
	Kind       domainwf.ActionKind `json:"kind"`
	// Level is the level the actor is deciding on; zero pins the level current when the request arrives
	Level         int                 `json:"level,omitempty"`
	Justification string              `json:"justification,omitempty"`
	DelegateTo    string              `json:"delegate_to,omitempty"`
	Origin        entity.ActionOrigin `json:"origin"`
}

// Rejection is surfaced to the requester when a workflow is rejected
type Rejection struct {
	ActorID       string `json:"actor_id"`
	Level         int    `json:"level"`
	Justification string `json:"justification"`
}

// Snapshot is the read model of a workflow
type Snapshot struct {
	WorkflowID        string                   `json:"workflow_id"`
	TransactionID     string                   `json:"transaction_id"`
	RequesterID       string                   `json:"requester_id"`
	RuleID            string                   `json:"rule_id,omitempty"`
	Status            domainwf.Status          `json:"status"`
	CurrentLevel      int                      `json:"current_level"`
	TotalLevels       int                      `json:"total_levels"`
	Escalated         bool                     `json:"escalated"`
	EmergencyOverride bool                     `json:"emergency_override_applied"`
	RiskScore         float64                  `json:"risk_score"`
	RiskEscalated     bool                     `json:"risk_escalated"`
	Levels            []domainwf.Level         `json:"levels"`
	Progress          []domainwf.LevelProgress `json:"progress"`
	Version           int64                    `json:"version"`
	IntegrityHold     bool                     `json:"integrity_hold"`
	Rejection         *Rejection               `json:"rejection,omitempty"`
	LastOutcome       domainwf.Outcome         `json:"last_outcome,omitempty"`
	CreatedAt         time.Time                `json:"created_at"`
	UpdatedAt         time.Time                `json:"updated_at"`
	CompletedAt       *time.Time               `json:"completed_at,omitempty"`
}

func newSnapshot(wf *entity.ApprovalWorkflow) *Snapshot {
	s := wf.State
	return &Snapshot{
		WorkflowID:        wf.ID,
		TransactionID:     wf.TransactionID,
		RequesterID:       s.RequesterID,
		RuleID:            wf.RuleID,
		Status:            s.Status,
		CurrentLevel:      s.CurrentLevel,
		TotalLevels:       s.TotalLevels(),
		Escalated:         s.Escalated,
		EmergencyOverride: s.EmergencyOverride,
		RiskScore:         wf.RiskScore,
		RiskEscalated:     s.Plan.RiskEscalated,
		Levels:            s.Plan.Levels,
		Progress:          s.Progress,
		Version:           wf.Version,
		IntegrityHold:     wf.IntegrityHold,
		CreatedAt:         wf.CreatedAt,
		UpdatedAt:         wf.UpdatedAt,
		CompletedAt:       wf.CompletedAt,
	}
}
