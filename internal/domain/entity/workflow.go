package entity

import (
	"time"

	"github.com/garyjia/approval-engine/internal/domain/workflow"
)

// ApprovalWorkflow is one instance per transaction requiring approval.
// State is a cached projection of the action log.
type ApprovalWorkflow struct {
	ID               string         `json:"id"`
	TransactionID    string         `json:"transaction_id"`
	TransactionType  string         `json:"transaction_type"`
	Amount           float64        `json:"amount"`
	Currency         string         `json:"currency"`
	RuleID           string         `json:"rule_id,omitempty"`
	RiskAssessmentID string         `json:"risk_assessment_id,omitempty"`
	RiskScore        float64        `json:"risk_score"`
	State            workflow.State `json:"state"`
	Version          int64          `json:"version"`
	AuditHead        string         `json:"audit_head,omitempty"`
	IntegrityHold    bool           `json:"integrity_hold"`
	CreatedAt        time.Time      `json:"created_at"`
	UpdatedAt        time.Time      `json:"updated_at"`
	CompletedAt      *time.Time     `json:"completed_at,omitempty"`
}

// Status returns the cached workflow status
func (w *ApprovalWorkflow) Status() workflow.Status {
	return w.State.Status
}

// CurrentLevel returns the 1-based active level
func (w *ApprovalWorkflow) CurrentLevel() int {
	return w.State.CurrentLevel
}

// TotalLevels returns the number of levels fixed at creation
func (w *ApprovalWorkflow) TotalLevels() int {
	return w.State.TotalLevels()
}

// InitialState rebuilds the creation-time state from the snapshotted plan
func (w *ApprovalWorkflow) InitialState() workflow.State {
	return workflow.NewState(w.State.RequesterID, w.State.Plan)
}
