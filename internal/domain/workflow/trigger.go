package workflow

// Trigger represents an action that can cause a status transition
type Trigger string

const (
	TriggerComplete Trigger = "COMPLETE"
	TriggerReject   Trigger = "REJECT"
	TriggerCancel   Trigger = "CANCEL"
	TriggerFinish   Trigger = "FINISH"
)

// String returns the string representation of the trigger
func (t Trigger) String() string {
	return string(t)
}
