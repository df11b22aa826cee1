package engine

import (
	"context"
	"sort"

	"github.com/garyjia/reimburse-flow/internal/domain/entity"
)

// FlowType is the per-workflow-type customization of an engine
type FlowType struct {
	Key       string
	Resolver  PerformerResolver
	Lifecycle Lifecycle
}

// DefaultFlowTypes returns the workflow types shipped with the service: reimbursement routes to the
// node's (or the form's) approver, purchase additionally reroutes large amounts.
func DefaultFlowTypes(rule RoutingRule, lifecycle Lifecycle) []FlowType {
	return []FlowType{
		{Key: entity.FlowKeyReimbursement, Resolver: StaticResolver{}, Lifecycle: lifecycle},
		{Key: entity.FlowKeyPurchase, Resolver: NewAmountRoutingResolver(rule), Lifecycle: lifecycle},
	}
}

// Registry holds one engine per workflow type and routes task and instance operations to the engine
// owning the instance.
type Registry struct {
	deps    Deps
	engines map[string]Engine
}

// NewRegistry builds an engine for each flow type; opts apply to all of them
func NewRegistry(deps Deps, types []FlowType, opts ...EngineOption) *Registry {
	r := &Registry{deps: deps, engines: make(map[string]Engine, len(types))}
	for _, t := range types {
		engineOpts := append([]EngineOption{}, opts...)
		if t.Lifecycle != nil {
			engineOpts = append(engineOpts, WithLifecycle(t.Lifecycle))
		}
		r.engines[t.Key] = NewEngine(t.Key, deps, t.Resolver, engineOpts...)
	}
	return r
}

// Register adds or replaces the engine of e.FlowKey()
func (r *Registry) Register(e Engine) {
	r.engines[e.FlowKey()] = e
}

// FlowKeys lists the registered workflow types
func (r *Registry) FlowKeys() []string {
	keys := make([]string, 0, len(r.engines))
	for k := range r.engines {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Engine returns the engine of a workflow type
func (r *Registry) Engine(flowKey string) (Engine, error) {
	e, ok := r.engines[flowKey]
	if !ok {
		return nil, newError(KindDefinitionNotFound, "workflow type %s is not registered", flowKey)
	}
	return e, nil
}

// StartProcess starts an instance of flowKey
func (r *Registry) StartProcess(ctx context.Context, flowKey string, req StartRequest) (*entity.WorkflowInstance, error) {
	e, err := r.Engine(flowKey)
	if err != nil {
		return nil, err
	}
	return e.StartProcess(ctx, req)
}

// CompleteTask routes to the engine owning the task's instance
func (r *Registry) CompleteTask(ctx context.Context, req TaskAction) error {
	e, err := r.engineForTask(ctx, req.TaskID)
	if err != nil {
		return err
	}
	return e.CompleteTask(ctx, req)
}

// RejectTask routes to the engine owning the task's instance
func (r *Registry) RejectTask(ctx context.Context, req TaskAction) error {
	e, err := r.engineForTask(ctx, req.TaskID)
	if err != nil {
		return err
	}
	return e.RejectTask(ctx, req)
}

// CancelProcess routes to the engine owning the instance
func (r *Registry) CancelProcess(ctx context.Context, req CancelRequest) (*entity.WorkflowInstance, error) {
	e, err := r.engineForInstance(ctx, req.InstanceID)
	if err != nil {
		return nil, err
	}
	return e.CancelProcess(ctx, req)
}

// EditProcess routes to the engine owning the instance
func (r *Registry) EditProcess(ctx context.Context, req EditRequest) (*entity.WorkflowInstance, error) {
	e, err := r.engineForInstance(ctx, req.InstanceID)
	if err != nil {
		return nil, err
	}
	return e.EditProcess(ctx, req)
}

// Resume routes to the engine owning the instance
func (r *Registry) Resume(ctx context.Context, instanceID int64) (bool, error) {
	e, err := r.engineForInstance(ctx, instanceID)
	if err != nil {
		return false, err
	}
	return e.Resume(ctx, instanceID)
}

func (r *Registry) engineForTask(ctx context.Context, taskID int64) (Engine, error) {
	task, err := r.deps.Tasks.GetByID(ctx, taskID)
	if err != nil {
		return nil, operationFailed(err, "failed to load task %d", taskID)
	}
	if task == nil {
		return nil, newError(KindTaskNotFound, "task %d not found", taskID)
	}
	return r.engineForInstance(ctx, task.InstanceID)
}

func (r *Registry) engineForInstance(ctx context.Context, instanceID int64) (Engine, error) {
	inst, err := r.deps.Instances.GetByID(ctx, instanceID)
	if err != nil {
		return nil, operationFailed(err, "failed to load instance %d", instanceID)
	}
	if inst == nil {
		return nil, newError(KindInstanceNotFound, "instance %d not found", instanceID)
	}
	return r.Engine(inst.FlowKey)
}
