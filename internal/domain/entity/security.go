package entity

import (
	"time"

	"github.com/garyjia/approval-engine/internal/domain/workflow"
)

// SecurityEvent is a rejected attempt kept outside the replayed action log
type SecurityEvent struct {
	ID         string              `json:"id"`
	WorkflowID string              `json:"workflow_id"`
	ActorID    string              `json:"actor_id"`
	Kind       workflow.ActionKind `json:"kind"`
	Level      int                 `json:"level"`
	ErrorKind  string              `json:"error_kind"`
	Detail     string              `json:"detail"`
	Origin     ActionOrigin        `json:"origin"`
	CreatedAt  time.Time           `json:"created_at"`
}
