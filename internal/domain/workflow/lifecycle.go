package workflow

var (
	instanceLifecycle = newLifecycle(TriggerFinish, StateEnd)
	taskLifecycle     = newLifecycle(TriggerComplete, StateEnd)
)

// newLifecycle configures the status set shared by instances and tasks: START is the only
// non-terminal status and leaves it through success, rejection or cancellation
func newLifecycle(success Trigger, successState State) StateMachineBuilder {
	b := NewBuilder()
	b.Configure(StateStart).
		Permit(success, successState).
		Permit(TriggerReject, StateRejected).
		Permit(TriggerCancel, StateCancelled)
	return b
}

// BuildInstanceLifecycle creates the state machine governing WorkflowInstance.status.
// Instances reach END through the end node, never by completing directly.
func BuildInstanceLifecycle(initial State) StateMachine {
	return instanceLifecycle.Build(initial)
}

// BuildTaskLifecycle creates the state machine governing WorkflowTask.status.
// A task is mutated exactly once.
func BuildTaskLifecycle(initial State) StateMachine {
	return taskLifecycle.Build(initial)
}
