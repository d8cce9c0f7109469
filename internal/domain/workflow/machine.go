package workflow

// StateMachine tracks the current status and validates transitions
type StateMachine interface {
	// Status returns the current status
	Status() Status

	// CanFire returns true if the action kind is permitted in the current status
	CanFire(kind ActionKind) bool

	// Fire executes the action kind, moving to the new status if allowed
	Fire(kind ActionKind) error

	// PermittedActions returns all action kinds configured for the current status
	PermittedActions() []ActionKind
}

// lifecycle builds the status machine for one transition.
// levelComplete decides whether an APPROVE finishes the workflow.
func lifecycle(initial Status, finalLevelComplete GuardFunc) StateMachine {
	b := NewBuilder()

	b.Configure(StatusPending).
		PermitIf(ActionApprove, StatusApproved, finalLevelComplete).
		Permit(ActionApprove, StatusPending).
		Permit(ActionReject, StatusRejected).
		Permit(ActionDelegate, StatusPending).
		Permit(ActionEscalate, StatusPending).
		Permit(ActionOverride, StatusApproved).
		Permit(ActionCancel, StatusCancelled)

	// Terminal statuses are configured with no transitions.
	b.Configure(StatusApproved)
	b.Configure(StatusRejected)
	b.Configure(StatusCancelled)

	return b.Build(initial)
}
