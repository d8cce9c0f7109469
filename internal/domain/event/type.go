package event

// Type identifies the type of domain event
type Type string

const (
	TypeWorkflowCreated   Type = "workflow.created"
	TypeWorkflowAdvanced  Type = "workflow.advanced"
	TypeWorkflowCompleted Type = "workflow.completed"
	TypeTransactionHeld   Type = "transaction.held"
)

// String returns the string representation of the event type
func (t Type) String() string {
	return string(t)
}

// IsValid checks if the event type is one of the defined constants
func (t Type) IsValid() bool {
	switch t {
	case TypeWorkflowCreated,
		TypeWorkflowAdvanced,
		TypeWorkflowCompleted,
		TypeTransactionHeld:
		return true
	default:
		return false
	}
}
