package engine

import (
	"context"

	"github.com/garyjia/reimburse-flow/internal/application/port"
	"github.com/garyjia/reimburse-flow/internal/domain/entity"
)

const (
	defaultPageSize = 20
	maxPageSize     = 200
)

// Query serves read-only projections of instances, tasks and the process log
type Query struct {
	instances port.InstanceRepository
	tasks     port.TaskRepository
	logs      port.ProcessLogRepository
}

// NewQuery creates the projection service
func NewQuery(deps Deps) *Query {
	return &Query{instances: deps.Instances, tasks: deps.Tasks, logs: deps.Logs}
}

// GetInstance returns one instance
func (q *Query) GetInstance(ctx context.Context, id int64) (*entity.WorkflowInstance, error) {
	inst, err := q.instances.GetByID(ctx, id)
	if err != nil {
		return nil, operationFailed(err, "failed to load instance %d", id)
	}
	if inst == nil {
		return nil, newError(KindInstanceNotFound, "instance %d not found", id)
	}
	return inst, nil
}

// GetTask returns one task
func (q *Query) GetTask(ctx context.Context, id int64) (*entity.WorkflowTask, error) {
	task, err := q.tasks.GetByID(ctx, id)
	if err != nil {
		return nil, operationFailed(err, "failed to load task %d", id)
	}
	if task == nil {
		return nil, newError(KindTaskNotFound, "task %d not found", id)
	}
	return task, nil
}

// ListInstances returns one page of instances, newest first
func (q *Query) ListInstances(ctx context.Context, filter port.InstanceFilter) ([]*entity.WorkflowInstance, error) {
	if filter.Status != "" && !filter.Status.IsValid() {
		return nil, newError(KindInvalidArgument, "unknown status %q", filter.Status)
	}
	filter.Limit = pageSize(filter.Limit)
	if filter.Offset < 0 {
		filter.Offset = 0
	}
	list, err := q.instances.List(ctx, filter)
	if err != nil {
		return nil, operationFailed(err, "failed to list instances")
	}
	return list, nil
}

// ListTasks returns every task of an instance in creation order
func (q *Query) ListTasks(ctx context.Context, instanceID int64) ([]*entity.WorkflowTask, error) {
	if _, err := q.GetInstance(ctx, instanceID); err != nil {
		return nil, err
	}
	tasks, err := q.tasks.ListByInstance(ctx, instanceID)
	if err != nil {
		return nil, operationFailed(err, "failed to list tasks of instance %d", instanceID)
	}
	return tasks, nil
}

// ListPendingTasks returns the open tasks assigned to an actor
func (q *Query) ListPendingTasks(ctx context.Context, actorUserID int64, limit, offset int) ([]*entity.WorkflowTask, error) {
	if actorUserID == 0 {
		return nil, newError(KindInvalidArgument, "actor is required")
	}
	if offset < 0 {
		offset = 0
	}
	tasks, err := q.tasks.ListPendingByActor(ctx, actorUserID, pageSize(limit), offset)
	if err != nil {
		return nil, operationFailed(err, "failed to list pending tasks of %d", actorUserID)
	}
	return tasks, nil
}

// ProcessLog returns the audit trail of an instance, oldest first
func (q *Query) ProcessLog(ctx context.Context, instanceID int64) ([]*entity.ProcessLog, error) {
	if _, err := q.GetInstance(ctx, instanceID); err != nil {
		return nil, err
	}
	logs, err := q.logs.ListByInstance(ctx, instanceID)
	if err != nil {
		return nil, operationFailed(err, "failed to load process log of instance %d", instanceID)
	}
	return logs, nil
}

func pageSize(limit int) int {
	if limit <= 0 {
		return defaultPageSize
	}
	if limit > maxPageSize {
		return maxPageSize
	}
	return limit
}
