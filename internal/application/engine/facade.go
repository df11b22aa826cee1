package engine

import (
	"context"
	"time"

	"github.com/garyjia/reimburse-flow/internal/domain/entity"
	domainwf "github.com/garyjia/reimburse-flow/internal/domain/workflow"
	"github.com/garyjia/reimburse-flow/pkg/utils"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const (
	paramOperator    = "operator"
	paramActedTaskID = "acted_task_id"
	paramRemark      = "remark"
)

// observe opens a span for a facade operation; the returned func closes it and records the outcome
func (e *engineImpl) observe(ctx context.Context, op string, attrs ...attribute.KeyValue) (context.Context, func(*error)) {
	started := time.Now()
	attrs = append(attrs, attribute.String("workflow.flow_key", e.flowKey))
	ctx, span := e.tracer.Start(ctx, "engine."+op, trace.WithAttributes(attrs...))
	return ctx, func(errp *error) {
		err := *errp
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, string(KindOf(err)))
		}
		span.End()
		e.recorder.ObserveOperation(e.flowKey, op, err, time.Since(started))
	}
}

// StartProcess implements Engine
func (e *engineImpl) StartProcess(ctx context.Context, req StartRequest) (inst *entity.WorkflowInstance, err error) {
	ctx, done := e.observe(ctx, "StartProcess", attribute.Int64("workflow.applicant", req.Applicant))
	defer done(&err)

	def, err := e.deps.Definitions.GetLatestByFlowKey(ctx, e.flowKey)
	if err != nil {
		return nil, operationFailed(err, "failed to load definition %s", e.flowKey)
	}
	if def == nil {
		return nil, newError(KindDefinitionNotFound, "workflow definition %s not found", e.flowKey)
	}

	graph, err := parseDefinition(def.ID, def.FlowName, def.FlowDefine)
	if err != nil {
		return nil, err
	}
	if err := graph.Validate(); err != nil {
		return nil, wrapError(KindInvalidDefinition, err, "workflow definition %s is not a valid chain", e.flowKey)
	}

	params := req.Params
	if params == nil {
		params = entity.Params{}
	}
	encoded, err := entity.EncodeParams(params)
	if err != nil {
		return nil, wrapError(KindInvalidArgument, err, "params cannot be serialized")
	}

	start := graph.Start()
	at := e.stamp(time.Time{})
	inst = &entity.WorkflowInstance{
		FlowKey:    e.flowKey,
		CurNodeID:  start.NodeID(),
		NextNodeID: start.Next(),
		Status:     entity.StatusStart,
		FlowParams: encoded,
		FlowDefine: def.FlowDefine,
		Applicant:  req.Applicant,
		CreateBy:   req.Operator,
		UpdateBy:   req.Operator,
		CreatedAt:  at,
		UpdatedAt:  at,
	}
	st := &step{inst: inst, graph: graph, params: params, operator: req.Operator, at: at}

	err = e.deps.Tx.WithTransaction(ctx, func(txCtx context.Context) error {
		if err := e.deps.Instances.Create(txCtx, inst); err != nil {
			return err
		}
		if err := e.deps.Logs.Create(txCtx, &entity.ProcessLog{
			InstanceID: inst.ID,
			UserID:     req.Applicant,
			Operator:   req.Operator,
			Action:     entity.ActionStart,
			CreatedAt:  at,
		}); err != nil {
			return err
		}
		return e.advance(txCtx, st, start)
	})
	if err != nil {
		return nil, operationFailed(err, "failed to start %s", e.flowKey)
	}
	e.fire(ctx, st)

	e.logger.Info("Workflow started",
		zap.Int64("instance_id", inst.ID),
		zap.String("cur_node_id", inst.CurNodeID),
		zap.String("status", inst.Status.String()))

	return inst, nil
}

// CompleteTask implements Engine. Every open task at the node closes together (first responder wins);
// the advance to the next node runs in its own transaction after the completion commits.
// A failed advance does not fail the call; the instance stays parked until Resume moves it on.
func (e *engineImpl) CompleteTask(ctx context.Context, req TaskAction) (err error) {
	ctx, done := e.observe(ctx, "CompleteTask", attribute.Int64("workflow.task_id", req.TaskID))
	defer done(&err)

	task, inst, err := e.loadActionable(ctx, req, domainwf.TriggerComplete)
	if err != nil {
		return err
	}

	outcome, err := outcomeParams(req, task)
	if err != nil {
		return err
	}
	at := e.stamp(inst.UpdatedAt)

	err = e.deps.Tx.WithTransaction(ctx, func(txCtx context.Context) error {
		n, err := e.deps.Tasks.CloseNode(txCtx, inst.ID, task.NodeID, entity.StatusEnd, outcome, at)
		if err != nil {
			return err
		}
		if n == 0 {
			return errConcurrent("task", task.ID)
		}
		ok, err := e.deps.Instances.Touch(txCtx, inst.ID, req.Operator, at)
		if err != nil {
			return err
		}
		if !ok {
			return errConcurrent("instance", inst.ID)
		}
		return e.deps.Logs.Create(txCtx, &entity.ProcessLog{
			InstanceID: inst.ID,
			TaskID:     task.ID,
			UserID:     task.ActorUserID,
			Operator:   req.Operator,
			Action:     entity.ActionComplete,
			Remark:     req.Remark,
			CreatedAt:  at,
		})
	})
	if err != nil {
		return operationFailed(err, "failed to complete task %d", task.ID)
	}
	inst.UpdatedAt = at
	inst.UpdateBy = req.Operator

	graph, err := parseDefinition(inst.ID, inst.FlowKey, inst.FlowDefine)
	if err != nil {
		return err
	}
	params, err := mergedParams(inst, req.Params)
	if err != nil {
		return err
	}

	completed := *task
	completed.Status = entity.StatusEnd
	closed := &step{inst: inst, operator: req.Operator, at: at}
	snap := closed.snapshot()
	closed.later("task_completed", func(ctx context.Context) error {
		return e.lifecycle.OnTaskCompleted(ctx, snap, &completed, req.Operator)
	})
	e.fire(ctx, closed)

	st := &step{inst: inst, graph: graph, params: params, operator: req.Operator, at: at}
	if err := e.advanceStep(ctx, st, graph.NextOf(graph.Get(task.NodeID))); err != nil {
		// the completion is committed; a retry would only see a closed task
		e.logger.Warn("Advance after completion failed, instance left for resume",
			append(utils.TraceFields(ctx),
				zap.Int64("instance_id", inst.ID),
				zap.Int64("task_id", task.ID),
				zap.String("kind", string(KindOf(err))),
				zap.Error(err))...)
		return nil
	}

	e.logger.Info("Task completed",
		zap.Int64("task_id", task.ID),
		zap.Int64("instance_id", inst.ID),
		zap.String("operator", req.Operator),
		zap.String("cur_node_id", inst.CurNodeID))

	return nil
}

// RejectTask implements Engine
func (e *engineImpl) RejectTask(ctx context.Context, req TaskAction) (err error) {
	ctx, done := e.observe(ctx, "RejectTask", attribute.Int64("workflow.task_id", req.TaskID))
	defer done(&err)

	task, inst, err := e.loadActionable(ctx, req, domainwf.TriggerReject)
	if err != nil {
		return err
	}

	outcome, err := outcomeParams(req, task)
	if err != nil {
		return err
	}
	at := e.stamp(inst.UpdatedAt)

	err = e.deps.Tx.WithTransaction(ctx, func(txCtx context.Context) error {
		n, err := e.deps.Tasks.CloseNode(txCtx, inst.ID, task.NodeID, entity.StatusRejected, outcome, at)
		if err != nil {
			return err
		}
		if n == 0 {
			return errConcurrent("task", task.ID)
		}
		ok, err := e.deps.Instances.Transition(txCtx, inst.ID, entity.StatusRejected, req.Operator, at)
		if err != nil {
			return err
		}
		if !ok {
			return errConcurrent("instance", inst.ID)
		}
		return e.deps.Logs.Create(txCtx, &entity.ProcessLog{
			InstanceID: inst.ID,
			TaskID:     task.ID,
			UserID:     task.ActorUserID,
			Operator:   req.Operator,
			Action:     entity.ActionReject,
			Remark:     req.Remark,
			CreatedAt:  at,
		})
	})
	if err != nil {
		return operationFailed(err, "failed to reject task %d", task.ID)
	}

	inst.Status = entity.StatusRejected
	inst.UpdatedAt = at
	inst.UpdateBy = req.Operator
	rejected := *task
	rejected.Status = entity.StatusRejected

	st := &step{inst: inst, operator: req.Operator, at: at}
	st.later("reject", func(ctx context.Context) error {
		e.recorder.InstanceFinished(e.flowKey, entity.StatusRejected)
		return e.lifecycle.OnReject(ctx, inst, &rejected, req.Operator)
	})
	e.fire(ctx, st)

	e.logger.Info("Task rejected",
		zap.Int64("task_id", task.ID),
		zap.Int64("instance_id", inst.ID),
		zap.String("operator", req.Operator))

	return nil
}

// CancelProcess implements Engine. Cancelling an already cancelled instance succeeds without changes.
func (e *engineImpl) CancelProcess(ctx context.Context, req CancelRequest) (inst *entity.WorkflowInstance, err error) {
	ctx, done := e.observe(ctx, "CancelProcess", attribute.Int64("workflow.instance_id", req.InstanceID))
	defer done(&err)

	inst, err = e.loadInstance(ctx, req.InstanceID)
	if err != nil {
		return nil, err
	}
	if req.Applicant != 0 && inst.Applicant != req.Applicant {
		return nil, newError(KindInvalidArgument, "only the applicant can cancel instance %d", inst.ID)
	}
	if inst.Status == entity.StatusCancelled {
		return inst, nil
	}
	if !domainwf.BuildInstanceLifecycle(inst.Status).CanFire(domainwf.TriggerCancel) {
		return nil, newError(KindTerminalStateConflict, "instance %d is already %s and cannot be cancelled", inst.ID, describeStatus(inst.Status))
	}

	at := e.stamp(inst.UpdatedAt)
	err = e.deps.Tx.WithTransaction(ctx, func(txCtx context.Context) error {
		ok, err := e.deps.Instances.Transition(txCtx, inst.ID, entity.StatusCancelled, req.Operator, at)
		if err != nil {
			return err
		}
		if !ok {
			return errConcurrent("instance", inst.ID)
		}
		if _, err := e.deps.Tasks.CloseInstance(txCtx, inst.ID, entity.StatusCancelled, at); err != nil {
			return err
		}
		return e.deps.Logs.Create(txCtx, &entity.ProcessLog{
			InstanceID: inst.ID,
			UserID:     req.Applicant,
			Operator:   req.Operator,
			Action:     entity.ActionCancel,
			Remark:     req.Remark,
			CreatedAt:  at,
		})
	})
	if err != nil {
		return nil, operationFailed(err, "failed to cancel instance %d", inst.ID)
	}

	inst.Status = entity.StatusCancelled
	inst.UpdatedAt = at
	inst.UpdateBy = req.Operator

	st := &step{inst: inst, operator: req.Operator, at: at}
	snap := st.snapshot()
	st.later("cancel", func(ctx context.Context) error {
		e.recorder.InstanceFinished(e.flowKey, entity.StatusCancelled)
		return e.lifecycle.OnCancel(ctx, snap, req.Operator)
	})
	e.fire(ctx, st)

	e.logger.Info("Workflow cancelled", zap.Int64("instance_id", inst.ID), zap.String("operator", req.Operator))
	return inst, nil
}

// EditProcess implements Engine. Open tasks get a fresh updatetime so approvers holding the old
// version token must reload before acting.
func (e *engineImpl) EditProcess(ctx context.Context, req EditRequest) (inst *entity.WorkflowInstance, err error) {
	ctx, done := e.observe(ctx, "EditProcess", attribute.Int64("workflow.instance_id", req.InstanceID))
	defer done(&err)

	inst, err = e.loadInstance(ctx, req.InstanceID)
	if err != nil {
		return nil, err
	}
	if req.Applicant != 0 && inst.Applicant != req.Applicant {
		return nil, newError(KindInvalidArgument, "only the applicant can edit instance %d", inst.ID)
	}
	if inst.Status.IsTerminal() {
		return nil, newError(KindTerminalStateConflict, "instance %d is already %s and cannot be edited", inst.ID, describeStatus(inst.Status))
	}
	if req.Version != 0 && req.Version != inst.Version() {
		return nil, newError(KindStaleStateConflict, "instance %d has changed, refresh and retry", inst.ID)
	}

	tasks, err := e.deps.Tasks.ListByInstance(ctx, inst.ID)
	if err != nil {
		return nil, operationFailed(err, "failed to load tasks of instance %d", inst.ID)
	}
	for _, t := range tasks {
		if t.Status == entity.StatusEnd {
			return nil, newError(KindInvalidArgument, "instance %d has already been approved at [%s] and cannot be edited", inst.ID, t.TaskName)
		}
	}

	params := req.Params
	if params == nil {
		params = entity.Params{}
	}
	encoded, err := entity.EncodeParams(params)
	if err != nil {
		return nil, wrapError(KindInvalidArgument, err, "params cannot be serialized")
	}

	at := e.stamp(inst.UpdatedAt)
	err = e.deps.Tx.WithTransaction(ctx, func(txCtx context.Context) error {
		ok, err := e.deps.Instances.UpdateParams(txCtx, inst.ID, encoded, req.Operator, at)
		if err != nil {
			return err
		}
		if !ok {
			return errConcurrent("instance", inst.ID)
		}
		if _, err := e.deps.Tasks.TouchOpen(txCtx, inst.ID, at); err != nil {
			return err
		}
		return e.deps.Logs.Create(txCtx, &entity.ProcessLog{
			InstanceID: inst.ID,
			UserID:     req.Applicant,
			Operator:   req.Operator,
			Action:     entity.ActionEdit,
			CreatedAt:  at,
		})
	})
	if err != nil {
		return nil, operationFailed(err, "failed to edit instance %d", inst.ID)
	}

	inst.FlowParams = encoded
	inst.UpdatedAt = at
	inst.UpdateBy = req.Operator
	return inst, nil
}

// Resume implements Engine. The node to continue from is derived only from committed state:
// a START instance parked on its start node, or on a task node whose tasks are all closed, moves on to
// the successor; a task node with no tasks at all is entered again.
func (e *engineImpl) Resume(ctx context.Context, instanceID int64) (resumed bool, err error) {
	ctx, done := e.observe(ctx, "Resume", attribute.Int64("workflow.instance_id", instanceID))
	defer done(&err)

	inst, err := e.loadInstance(ctx, instanceID)
	if err != nil {
		return false, err
	}
	if inst.Status != entity.StatusStart {
		return false, nil
	}

	graph, err := parseDefinition(inst.ID, inst.FlowKey, inst.FlowDefine)
	if err != nil {
		return false, err
	}
	cur := graph.Get(inst.CurNodeID)
	if cur == nil {
		return false, newError(KindInvalidDefinition, "instance %d is positioned on unknown node %q", inst.ID, inst.CurNodeID)
	}

	var target domainwf.Node
	switch cur.Kind() {
	case domainwf.KindStart:
		target = graph.NextOf(cur)
	case domainwf.KindEnd:
		target = cur
	case domainwf.KindTask:
		open, err := e.deps.Tasks.ListOpenByNode(ctx, inst.ID, cur.NodeID())
		if err != nil {
			return false, operationFailed(err, "failed to load open tasks of instance %d", inst.ID)
		}
		if len(open) > 0 {
			return false, nil
		}
		tasks, err := e.deps.Tasks.ListByInstance(ctx, inst.ID)
		if err != nil {
			return false, operationFailed(err, "failed to load tasks of instance %d", inst.ID)
		}
		seen := false
		for _, t := range tasks {
			if t.NodeID == cur.NodeID() {
				seen = true
				break
			}
		}
		if seen {
			target = graph.NextOf(cur)
		} else {
			target = cur
		}
	}
	if target == nil {
		return false, nil
	}

	params, err := inst.Params()
	if err != nil {
		return false, wrapError(KindOperationFailed, err, "instance %d params are corrupt", inst.ID)
	}
	operator := inst.UpdateBy
	st := &step{inst: inst, graph: graph, params: params, operator: operator, at: e.stamp(inst.UpdatedAt)}
	if err := e.advanceStep(ctx, st, target); err != nil {
		return false, err
	}

	e.logger.Info("Workflow resumed",
		zap.Int64("instance_id", inst.ID),
		zap.String("node_id", target.NodeID()),
		zap.String("cur_node_id", inst.CurNodeID))
	return true, nil
}

// loadActionable loads a task and its instance and checks that trigger may be applied to both
func (e *engineImpl) loadActionable(ctx context.Context, req TaskAction, trigger domainwf.Trigger) (*entity.WorkflowTask, *entity.WorkflowInstance, error) {
	task, err := e.deps.Tasks.GetByID(ctx, req.TaskID)
	if err != nil {
		return nil, nil, operationFailed(err, "failed to load task %d", req.TaskID)
	}
	if task == nil {
		return nil, nil, newError(KindTaskNotFound, "task %d not found", req.TaskID)
	}
	if !domainwf.BuildTaskLifecycle(task.Status).CanFire(trigger) {
		return nil, nil, newError(KindTerminalStateConflict, "task %d has already been %s", task.ID, describeStatus(task.Status))
	}
	if req.Version != 0 && req.Version != task.Version() {
		return nil, nil, newError(KindStaleStateConflict, "task %d has changed, refresh and retry", task.ID)
	}

	inst, err := e.loadInstance(ctx, task.InstanceID)
	if err != nil {
		return nil, nil, err
	}
	if inst.Status.IsTerminal() {
		return nil, nil, newError(KindTerminalStateConflict, "instance %d is already %s", inst.ID, describeStatus(inst.Status))
	}
	if inst.CurNodeID != task.NodeID {
		return nil, nil, newError(KindStaleStateConflict, "task %d is no longer current, refresh and retry", task.ID)
	}
	return task, inst, nil
}

func (e *engineImpl) loadInstance(ctx context.Context, id int64) (*entity.WorkflowInstance, error) {
	inst, err := e.deps.Instances.GetByID(ctx, id)
	if err != nil {
		return nil, operationFailed(err, "failed to load instance %d", id)
	}
	if inst == nil {
		return nil, newError(KindInstanceNotFound, "instance %d not found", id)
	}
	if inst.FlowKey != e.flowKey {
		return nil, newError(KindInvalidArgument, "instance %d belongs to flow %s, not %s", id, inst.FlowKey, e.flowKey)
	}
	return inst, nil
}

func parseDefinition(id int64, name, define string) (*domainwf.Graph, error) {
	graph, err := domainwf.Parse(&domainwf.Source{ID: id, Name: name, Define: define})
	if err != nil {
		return nil, wrapError(KindInvalidDefinition, err, "cannot parse workflow definition %s", name)
	}
	return graph, nil
}

// outcomeParams is what every closed sibling task records
func outcomeParams(req TaskAction, task *entity.WorkflowTask) (string, error) {
	out := entity.Params{}
	if req.Params != nil {
		out = req.Params.Clone()
	}
	out[paramOperator] = req.Operator
	out[paramActedTaskID] = task.ID
	if req.Remark != "" {
		out[paramRemark] = req.Remark
	}
	encoded, err := entity.EncodeParams(out)
	if err != nil {
		return "", wrapError(KindInvalidArgument, err, "params cannot be serialized")
	}
	return encoded, nil
}

// mergedParams overlays request params on the instance's business params for the next resolver
func mergedParams(inst *entity.WorkflowInstance, extra entity.Params) (entity.Params, error) {
	params, err := inst.Params()
	if err != nil {
		return nil, wrapError(KindOperationFailed, err, "instance %d params are corrupt", inst.ID)
	}
	for k, v := range extra {
		params[k] = v
	}
	return params, nil
}

func describeStatus(s entity.Status) string {
	switch s {
	case entity.StatusEnd:
		return "completed"
	case entity.StatusCancelled:
		return "cancelled"
	case entity.StatusRejected:
		return "rejected"
	}
	return s.String()
}
