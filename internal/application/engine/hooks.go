package engine

import (
	"context"
	"errors"

	"github.com/garyjia/reimburse-flow/internal/application/dispatcher"
	"github.com/garyjia/reimburse-flow/internal/domain/entity"
	"github.com/garyjia/reimburse-flow/internal/domain/event"
	domainwf "github.com/garyjia/reimburse-flow/internal/domain/workflow"
)

// Lifecycle receives side-effect hooks after the step that produced them has committed.
// Returned errors are logged and counted; they never undo the step.
type Lifecycle interface {
	OnStart(ctx context.Context, inst *entity.WorkflowInstance) error
	OnTaskCreated(ctx context.Context, inst *entity.WorkflowInstance, task *entity.WorkflowTask) error
	OnTask(ctx context.Context, inst *entity.WorkflowInstance, node *domainwf.TaskNode, tasks []*entity.WorkflowTask) error
	OnTaskCompleted(ctx context.Context, inst *entity.WorkflowInstance, task *entity.WorkflowTask, operator string) error
	OnEnd(ctx context.Context, inst *entity.WorkflowInstance) error
	OnReject(ctx context.Context, inst *entity.WorkflowInstance, task *entity.WorkflowTask, operator string) error
	OnCancel(ctx context.Context, inst *entity.WorkflowInstance, operator string) error
}

// NopLifecycle ignores every hook; embed it to implement only some of them
type NopLifecycle struct{}

func (NopLifecycle) OnStart(context.Context, *entity.WorkflowInstance) error { return nil }
func (NopLifecycle) OnTaskCreated(context.Context, *entity.WorkflowInstance, *entity.WorkflowTask) error {
	return nil
}
func (NopLifecycle) OnTask(context.Context, *entity.WorkflowInstance, *domainwf.TaskNode, []*entity.WorkflowTask) error {
	return nil
}
func (NopLifecycle) OnTaskCompleted(context.Context, *entity.WorkflowInstance, *entity.WorkflowTask, string) error {
	return nil
}
func (NopLifecycle) OnEnd(context.Context, *entity.WorkflowInstance) error { return nil }
func (NopLifecycle) OnReject(context.Context, *entity.WorkflowInstance, *entity.WorkflowTask, string) error {
	return nil
}
func (NopLifecycle) OnCancel(context.Context, *entity.WorkflowInstance, string) error { return nil }

// Lifecycles fans every hook out to all of ls, joining their errors
func Lifecycles(ls ...Lifecycle) Lifecycle {
	return multiLifecycle(ls)
}

type multiLifecycle []Lifecycle

func (m multiLifecycle) each(fn func(Lifecycle) error) error {
	var errs []error
	for _, l := range m {
		if err := fn(l); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m multiLifecycle) OnStart(ctx context.Context, inst *entity.WorkflowInstance) error {
	return m.each(func(l Lifecycle) error { return l.OnStart(ctx, inst) })
}

func (m multiLifecycle) OnTaskCreated(ctx context.Context, inst *entity.WorkflowInstance, task *entity.WorkflowTask) error {
	return m.each(func(l Lifecycle) error { return l.OnTaskCreated(ctx, inst, task) })
}

func (m multiLifecycle) OnTask(ctx context.Context, inst *entity.WorkflowInstance, node *domainwf.TaskNode, tasks []*entity.WorkflowTask) error {
	return m.each(func(l Lifecycle) error { return l.OnTask(ctx, inst, node, tasks) })
}

func (m multiLifecycle) OnTaskCompleted(ctx context.Context, inst *entity.WorkflowInstance, task *entity.WorkflowTask, operator string) error {
	return m.each(func(l Lifecycle) error { return l.OnTaskCompleted(ctx, inst, task, operator) })
}

func (m multiLifecycle) OnEnd(ctx context.Context, inst *entity.WorkflowInstance) error {
	return m.each(func(l Lifecycle) error { return l.OnEnd(ctx, inst) })
}

func (m multiLifecycle) OnReject(ctx context.Context, inst *entity.WorkflowInstance, task *entity.WorkflowTask, operator string) error {
	return m.each(func(l Lifecycle) error { return l.OnReject(ctx, inst, task, operator) })
}

func (m multiLifecycle) OnCancel(ctx context.Context, inst *entity.WorkflowInstance, operator string) error {
	return m.each(func(l Lifecycle) error { return l.OnCancel(ctx, inst, operator) })
}

// EventLifecycle turns hooks into domain events on a dispatcher.
// Handlers run asynchronously and outlive the request that triggered them.
type EventLifecycle struct {
	dispatcher dispatcher.Dispatcher
}

// NewEventLifecycle creates a lifecycle publishing to d
func NewEventLifecycle(d dispatcher.Dispatcher) *EventLifecycle {
	return &EventLifecycle{dispatcher: d}
}

func (l *EventLifecycle) publish(ctx context.Context, t event.Type, inst *entity.WorkflowInstance, payload map[string]interface{}) error {
	if payload == nil {
		payload = map[string]interface{}{}
	}
	payload[event.KeyStatus] = inst.Status.String()
	l.dispatcher.DispatchAsync(context.WithoutCancel(ctx), event.NewEvent(t, inst.FlowKey, inst.ID, payload))
	return nil
}

func (l *EventLifecycle) OnStart(ctx context.Context, inst *entity.WorkflowInstance) error {
	return l.publish(ctx, event.TypeWorkflowStarted, inst, map[string]interface{}{
		event.KeyOperator: inst.CreateBy,
		event.KeyActors:   []int64{inst.Applicant},
	})
}

func (l *EventLifecycle) OnTaskCreated(ctx context.Context, inst *entity.WorkflowInstance, task *entity.WorkflowTask) error {
	return l.publish(ctx, event.TypeTaskCreated, inst, map[string]interface{}{
		event.KeyNodeID:   task.NodeID,
		event.KeyNodeName: task.TaskName,
		event.KeyTaskIDs:  []int64{task.ID},
		event.KeyActors:   []int64{task.ActorUserID},
	})
}

func (l *EventLifecycle) OnTask(ctx context.Context, inst *entity.WorkflowInstance, node *domainwf.TaskNode, tasks []*entity.WorkflowTask) error {
	ids := make([]int64, 0, len(tasks))
	actors := make([]int64, 0, len(tasks))
	for _, t := range tasks {
		ids = append(ids, t.ID)
		actors = append(actors, t.ActorUserID)
	}
	return l.publish(ctx, event.TypeTaskEntered, inst, map[string]interface{}{
		event.KeyNodeID:   node.NodeID(),
		event.KeyNodeName: node.NodeName(),
		event.KeyTaskIDs:  ids,
		event.KeyActors:   actors,
	})
}

func (l *EventLifecycle) OnTaskCompleted(ctx context.Context, inst *entity.WorkflowInstance, task *entity.WorkflowTask, operator string) error {
	return l.publish(ctx, event.TypeTaskCompleted, inst, map[string]interface{}{
		event.KeyNodeID:   task.NodeID,
		event.KeyNodeName: task.TaskName,
		event.KeyTaskIDs:  []int64{task.ID},
		event.KeyOperator: operator,
		event.KeyActors:   []int64{inst.Applicant},
	})
}

func (l *EventLifecycle) OnEnd(ctx context.Context, inst *entity.WorkflowInstance) error {
	return l.publish(ctx, event.TypeWorkflowEnded, inst, map[string]interface{}{
		event.KeyNodeID: inst.CurNodeID,
		event.KeyActors: []int64{inst.Applicant},
	})
}

func (l *EventLifecycle) OnReject(ctx context.Context, inst *entity.WorkflowInstance, task *entity.WorkflowTask, operator string) error {
	return l.publish(ctx, event.TypeWorkflowRejected, inst, map[string]interface{}{
		event.KeyNodeID:   task.NodeID,
		event.KeyNodeName: task.TaskName,
		event.KeyOperator: operator,
		event.KeyActors:   []int64{inst.Applicant},
	})
}

func (l *EventLifecycle) OnCancel(ctx context.Context, inst *entity.WorkflowInstance, operator string) error {
	return l.publish(ctx, event.TypeWorkflowCancelled, inst, map[string]interface{}{
		event.KeyOperator: operator,
	})
}

var (
	_ Lifecycle = NopLifecycle{}
	_ Lifecycle = multiLifecycle(nil)
	_ Lifecycle = (*EventLifecycle)(nil)
)
