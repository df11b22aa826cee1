package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/garyjia/reimburse-flow/internal/domain/entity"
	domainwf "github.com/garyjia/reimburse-flow/internal/domain/workflow"
	"github.com/garyjia/reimburse-flow/pkg/utils"
	"go.uber.org/zap"
)

// hookCall is a lifecycle hook deferred until the step commits
type hookCall struct {
	name string
	fn   func(ctx context.Context) error
}

// step is the state shared by the processors of one advance
type step struct {
	inst     *entity.WorkflowInstance
	graph    *domainwf.Graph
	params   entity.Params
	operator string
	at       time.Time
	hooks    []hookCall
}

func (s *step) later(name string, fn func(ctx context.Context) error) {
	s.hooks = append(s.hooks, hookCall{name: name, fn: fn})
}

// snapshot copies the instance as it is now, so deferred hooks see the state of their own step
func (s *step) snapshot() *entity.WorkflowInstance {
	cp := *s.inst
	return &cp
}

// startProcessor fires the start hook; instance fields were already written by StartProcess
type startProcessor struct{ e *engineImpl }

func (p startProcessor) process(ctx context.Context, st *step, n *domainwf.StartNode) error {
	inst := st.snapshot()
	st.later("start", func(ctx context.Context) error {
		return p.e.lifecycle.OnStart(ctx, inst)
	})
	return nil
}

// taskProcessor resolves performers, opens one task each and parks the instance on the node
type taskProcessor struct{ e *engineImpl }

func (p taskProcessor) process(ctx context.Context, st *step, n *domainwf.TaskNode) error {
	performers, err := p.e.resolver.Resolve(ctx, st.inst, n, st.params)
	if err != nil {
		var ee *Error
		if errors.As(err, &ee) {
			return err
		}
		return wrapError(KindPerformerNotFound, err, "[%s] approver could not be resolved", n.NodeName())
	}
	performers = uniqueUsers(performers)
	if len(performers) == 0 {
		return newError(KindPerformerNotFound, "[%s] approver not found", n.NodeName())
	}

	ok, err := p.e.deps.Instances.MoveTo(ctx, st.inst.ID, st.inst.CurNodeID, n.NodeID(), n.Next(), st.operator, st.at)
	if err != nil {
		return err
	}
	if !ok {
		return errConcurrent("instance", st.inst.ID)
	}
	st.inst.CurNodeID = n.NodeID()
	st.inst.NextNodeID = n.Next()
	st.inst.UpdateBy = st.operator
	st.inst.UpdatedAt = st.at

	tasks := make([]*entity.WorkflowTask, 0, len(performers))
	for _, actor := range performers {
		task := &entity.WorkflowTask{
			InstanceID:  st.inst.ID,
			NodeID:      n.NodeID(),
			TaskName:    n.NodeName(),
			ActorUserID: actor,
			Status:      entity.StatusStart,
			CreatedAt:   st.at,
			UpdatedAt:   st.at,
		}
		if err := p.e.deps.Tasks.Create(ctx, task); err != nil {
			return err
		}
		tasks = append(tasks, task)
	}

	inst := st.snapshot()
	for _, task := range tasks {
		task := task
		st.later("task_created", func(ctx context.Context) error {
			return p.e.lifecycle.OnTaskCreated(ctx, inst, task)
		})
	}
	st.later("task", func(ctx context.Context) error {
		return p.e.lifecycle.OnTask(ctx, inst, n, tasks)
	})

	p.e.recorder.TasksCreated(p.e.flowKey, len(tasks))
	p.e.logger.Info("Tasks created",
		zap.Int64("instance_id", st.inst.ID),
		zap.String("node_id", n.NodeID()),
		zap.Int64s("actors", performers))

	return nil
}

// endProcessor finalizes the instance
type endProcessor struct{ e *engineImpl }

func (p endProcessor) process(ctx context.Context, st *step, n *domainwf.EndNode) error {
	ok, err := p.e.deps.Instances.Finish(ctx, st.inst.ID, st.inst.CurNodeID, n.NodeID(), st.operator, st.at)
	if err != nil {
		return err
	}
	if !ok {
		return errConcurrent("instance", st.inst.ID)
	}
	st.inst.CurNodeID = n.NodeID()
	st.inst.NextNodeID = ""
	st.inst.Status = entity.StatusEnd
	st.inst.UpdateBy = st.operator
	st.inst.UpdatedAt = st.at

	if err := p.e.deps.Logs.Create(ctx, &entity.ProcessLog{
		InstanceID: st.inst.ID,
		Operator:   st.operator,
		Action:     entity.ActionEnd,
		CreatedAt:  st.at,
	}); err != nil {
		return err
	}

	inst := st.snapshot()
	st.later("end", func(ctx context.Context) error {
		p.e.recorder.InstanceFinished(p.e.flowKey, entity.StatusEnd)
		return p.e.lifecycle.OnEnd(ctx, inst)
	})
	return nil
}

// traversal walks the chain: start nodes recurse into their successor, task nodes suspend, end nodes finalize.
type traversal struct {
	ctx context.Context
	e   *engineImpl
	st  *step
}

func (t *traversal) VisitStart(n *domainwf.StartNode) error {
	if err := t.e.start.process(t.ctx, t.st, n); err != nil {
		return err
	}
	next := t.st.graph.NextOf(n)
	if next == nil {
		return nil
	}
	return next.Accept(t)
}

func (t *traversal) VisitTask(n *domainwf.TaskNode) error {
	return t.e.task.process(t.ctx, t.st, n)
}

func (t *traversal) VisitEnd(n *domainwf.EndNode) error {
	return t.e.end.process(t.ctx, t.st, n)
}

var _ domainwf.Visitor = (*traversal)(nil)

// advance runs the traversal from node inside the caller's transaction. A nil node is a no-op.
func (e *engineImpl) advance(ctx context.Context, st *step, node domainwf.Node) error {
	if node == nil {
		return nil
	}
	return node.Accept(&traversal{ctx: ctx, e: e, st: st})
}

// advanceStep runs advance in its own transaction and fires the collected hooks once it commits
func (e *engineImpl) advanceStep(ctx context.Context, st *step, node domainwf.Node) error {
	if node == nil {
		return nil
	}
	err := e.deps.Tx.WithTransaction(ctx, func(txCtx context.Context) error {
		return e.advance(txCtx, st, node)
	})
	if err != nil {
		st.hooks = nil
		return operationFailed(err, "failed to advance instance %d to node %s", st.inst.ID, node.NodeID())
	}
	e.fire(ctx, st)
	return nil
}

// fire runs deferred hooks; failures are logged and never returned
func (e *engineImpl) fire(ctx context.Context, st *step) {
	for _, h := range st.hooks {
		if err := safeHook(ctx, h); err != nil {
			e.recorder.HookFailed(e.flowKey, h.name)
			e.logger.Error("Lifecycle hook failed",
				append(utils.TraceFields(ctx),
					zap.String("hook", h.name),
					zap.Int64("instance_id", st.inst.ID),
					zap.Error(err))...)
		}
	}
	st.hooks = nil
}

func safeHook(ctx context.Context, h hookCall) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("hook panic: %v", r)
		}
	}()
	return h.fn(ctx)
}

func uniqueUsers(ids []int64) []int64 {
	seen := make(map[int64]bool, len(ids))
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		if id == 0 || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}
