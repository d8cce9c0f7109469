package workflow

// Status represents a workflow status in the approval lifecycle
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusApproved  Status = "APPROVED"
	StatusRejected  Status = "REJECTED"
	StatusCancelled Status = "CANCELLED"
)

var validStatuses = map[Status]bool{
	StatusPending:   true,
	StatusApproved:  true,
	StatusRejected:  true,
	StatusCancelled: true,
}

var terminalStatuses = map[Status]bool{
	StatusApproved:  true,
	StatusRejected:  true,
	StatusCancelled: true,
}

// IsTerminal returns true if the status is terminal (no further transitions allowed)
func (s Status) IsTerminal() bool {
	return terminalStatuses[s]
}

// String returns the string representation of the status
func (s Status) String() string {
	return string(s)
}

// IsValid returns true if the status is a valid workflow status
func (s Status) IsValid() bool {
	return validStatuses[s]
}
