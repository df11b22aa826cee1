package workflow

import "github.com/garyjia/reimburse-flow/internal/domain/entity"

// State is a lifecycle status driven by a StateMachine. Instances and tasks share the same status set.
type State = entity.Status

const (
	StateStart     = entity.StatusStart
	StateEnd       = entity.StatusEnd
	StateCancelled = entity.StatusCancelled
	StateRejected  = entity.StatusRejected
)
