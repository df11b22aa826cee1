package entity

import "time"

// WorkflowTask is one unit of work at a task node, scoped to a single performer.
// A task is created START and closed exactly once.
type WorkflowTask struct {
	ID          int64     `json:"id"`
	InstanceID  int64     `json:"wi_id"`
	NodeID      string    `json:"node_id"`
	TaskName    string    `json:"task_name"`
	ActorUserID int64     `json:"actor_user_id"`
	Status      Status    `json:"status"`
	Params      string    `json:"params,omitempty"`
	CreatedAt   time.Time `json:"createtime"`
	UpdatedAt   time.Time `json:"updatetime"`
}

// Version returns the optimistic version token of the task
func (t *WorkflowTask) Version() int64 {
	return t.UpdatedAt.UnixMilli()
}
