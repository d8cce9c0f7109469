package entity

import (
	"time"

	"github.com/garyjia/approval-engine/internal/domain/workflow"
)

// AuditPriority marks how loudly an action is audited
type AuditPriority string

const (
	PriorityNormal AuditPriority = "NORMAL"
	PriorityHigh   AuditPriority = "HIGH"
)

// ActionOrigin records where an action came from
type ActionOrigin struct {
	NetworkAddress string `json:"network_address,omitempty"`
	ClientID       string `json:"client_id,omitempty"`
}

// ActionRecord is one immutable approver decision in the audit log
type ActionRecord struct {
	ID              string              `json:"id"`
	WorkflowID      string              `json:"workflow_id"`
	Sequence        int64               `json:"sequence"`
	Level           int                 `json:"level"`
	ActorID         string              `json:"actor_id"`
	ActorRoles      []string            `json:"actor_roles,omitempty"`
	Kind            workflow.ActionKind `json:"kind"`
	Justification   string              `json:"justification,omitempty"`
	DelegateTo      string              `json:"delegate_to,omitempty"`
	Origin          ActionOrigin        `json:"origin"`
	Priority        AuditPriority       `json:"priority"`
	Outcome         workflow.Outcome    `json:"outcome"`
	PrevFingerprint string              `json:"prev_fingerprint"`
	Fingerprint     string              `json:"fingerprint"`
	CreatedAt       time.Time           `json:"created_at"`
}

// ToAction converts the record back into transition input for replay
func (r ActionRecord) ToAction() workflow.Action {
	return workflow.Action{
		ID:            r.ID,
		Kind:          r.Kind,
		ActorID:       r.ActorID,
		ActorRoles:    append([]string(nil), r.ActorRoles...),
		Level:         r.Level,
		Justification: r.Justification,
		DelegateTo:    r.DelegateTo,
	}
}
