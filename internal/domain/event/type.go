package event

// Type identifies the type of domain event
type Type string

const (
	TypeWorkflowStarted   Type = "workflow.started"
	TypeTaskCreated       Type = "task.created"
	TypeTaskEntered       Type = "task.entered"
	TypeTaskCompleted     Type = "task.completed"
	TypeWorkflowEnded     Type = "workflow.ended"
	TypeWorkflowRejected  Type = "workflow.rejected"
	TypeWorkflowCancelled Type = "workflow.cancelled"
)

// String returns the string representation of the event type
func (t Type) String() string {
	return string(t)
}

// IsValid checks if the event type is one of the defined constants
func (t Type) IsValid() bool {
	switch t {
	case TypeWorkflowStarted,
		TypeTaskCreated,
		TypeTaskEntered,
		TypeTaskCompleted,
		TypeWorkflowEnded,
		TypeWorkflowRejected,
		TypeWorkflowCancelled:
		return true
	default:
		return false
	}
}

// IsTerminal reports whether the event closes the instance
func (t Type) IsTerminal() bool {
	return t == TypeWorkflowEnded || t == TypeWorkflowRejected || t == TypeWorkflowCancelled
}
