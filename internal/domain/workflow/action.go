package workflow

// ActionKind is the kind of decision an actor submits against a workflow
type ActionKind string

const (
	ActionApprove  ActionKind = "APPROVE"
	ActionReject   ActionKind = "REJECT"
	ActionDelegate ActionKind = "DELEGATE"
	ActionEscalate ActionKind = "ESCALATE"
	ActionOverride ActionKind = "OVERRIDE"
	ActionCancel   ActionKind = "CANCEL"
)

var validActionKinds = map[ActionKind]bool{
	ActionApprove:  true,
	ActionReject:   true,
	ActionDelegate: true,
	ActionEscalate: true,
	ActionOverride: true,
	ActionCancel:   true,
}

// String returns the string representation of the action kind
func (k ActionKind) String() string {
	return string(k)
}

// IsValid returns true if the action kind is known
func (k ActionKind) IsValid() bool {
	return validActionKinds[k]
}

// Action is the input to a single transition
type Action struct {
	ID      string
	Kind    ActionKind
	ActorID string
	// ActorRoles is the snapshot of workflow-relevant roles the actor held when acting
	ActorRoles    []string
	Level         int
	Justification string
	DelegateTo    string
}

// HasRole reports whether the actor held role at the time of the action
func (a Action) HasRole(role string) bool {
	if role == "" {
		return false
	}
	for _, r := range a.ActorRoles {
		if r == role {
			return true
		}
	}
	return false
}
