package entity

// Status is the lifecycle status shared by workflow instances and tasks.
type Status string

// Status constants for WorkflowInstance and WorkflowTask
const (
	StatusStart     Status = "START"
	StatusEnd       Status = "END"
	StatusCancelled Status = "CANCELLED"
	StatusRejected  Status = "REJECTED"
)

// String returns the string representation of the status
func (s Status) String() string {
	return string(s)
}

// IsValid checks if the status is one of the defined constants
func (s Status) IsValid() bool {
	switch s {
	case StatusStart, StatusEnd, StatusCancelled, StatusRejected:
		return true
	default:
		return false
	}
}

// IsTerminal returns true once no further action can change the status
func (s Status) IsTerminal() bool {
	return s == StatusEnd || s == StatusCancelled || s == StatusRejected
}

// Process log action constants
const (
	ActionStart    = "START"
	ActionComplete = "COMPLETE"
	ActionReject   = "REJECT"
	ActionCancel   = "CANCEL"
	ActionEdit     = "EDIT"
	ActionEnd      = "END"
)

// Flow keys of the workflow types shipped with the service
const (
	FlowKeyReimbursement = "BAOXIAO"
	FlowKeyPurchase      = "PURCHASE"
)
