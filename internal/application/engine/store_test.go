package engine

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/garyjia/reimburse-flow/internal/application/port"
	"github.com/garyjia/reimburse-flow/internal/domain/entity"
)

// memStore is an in-memory record store implementing every repository port plus a transaction
// manager that restores the previous state when fn fails.
type memStore struct {
	mu        sync.Mutex
	defs      []*entity.WorkflowDefinition
	instances map[int64]*entity.WorkflowInstance
	tasks     map[int64]*entity.WorkflowTask
	logs      []*entity.ProcessLog
	nextID    int64

	// beforeCloseNode runs inside CloseNode before the update, to simulate a racing request
	beforeCloseNode func()
	failCreateTask  error
}

type txMarker struct{}

func newMemStore() *memStore {
	return &memStore{
		instances: map[int64]*entity.WorkflowInstance{},
		tasks:     map[int64]*entity.WorkflowTask{},
	}
}

func (s *memStore) deps() Deps {
	return Deps{
		Definitions: (*memDefinitions)(s),
		Instances:   (*memInstances)(s),
		Tasks:       (*memTasks)(s),
		Logs:        (*memLogs)(s),
		Tx:          s,
	}
}

func (s *memStore) id() int64 {
	s.nextID++
	return s.nextID
}

func (s *memStore) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	if ctx.Value(txMarker{}) != nil {
		return fn(ctx)
	}

	s.mu.Lock()
	instances := make(map[int64]entity.WorkflowInstance, len(s.instances))
	for k, v := range s.instances {
		instances[k] = *v
	}
	tasks := make(map[int64]entity.WorkflowTask, len(s.tasks))
	for k, v := range s.tasks {
		tasks[k] = *v
	}
	logs := len(s.logs)
	s.mu.Unlock()

	err := fn(context.WithValue(ctx, txMarker{}, true))
	if err == nil {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.instances = make(map[int64]*entity.WorkflowInstance, len(instances))
	for k, v := range instances {
		v := v
		s.instances[k] = &v
	}
	s.tasks = make(map[int64]*entity.WorkflowTask, len(tasks))
	for k, v := range tasks {
		v := v
		s.tasks[k] = &v
	}
	s.logs = s.logs[:logs]
	return err
}

func (s *memStore) addDefinition(flowKey, define string) *entity.WorkflowDefinition {
	s.mu.Lock()
	defer s.mu.Unlock()
	def := &entity.WorkflowDefinition{ID: s.id(), FlowKey: flowKey, FlowName: flowKey, FlowDefine: define, CreatedAt: time.Now()}
	s.defs = append(s.defs, def)
	return def
}

// instance returns a copy of the stored row
func (s *memStore) instance(id int64) *entity.WorkflowInstance {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *s.instances[id]
	return &cp
}

func (s *memStore) tasksOf(instanceID int64) []entity.WorkflowTask {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []entity.WorkflowTask
	for _, t := range s.tasks {
		if t.InstanceID == instanceID {
			out = append(out, *t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (s *memStore) actions(instanceID int64) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for _, l := range s.logs {
		if l.InstanceID == instanceID {
			out = append(out, l.Action)
		}
	}
	return out
}

type memDefinitions memStore

func (d *memDefinitions) Create(ctx context.Context, def *entity.WorkflowDefinition) error {
	s := (*memStore)(d)
	s.mu.Lock()
	defer s.mu.Unlock()
	def.ID = s.id()
	s.defs = append(s.defs, def)
	return nil
}

func (d *memDefinitions) GetByID(ctx context.Context, id int64) (*entity.WorkflowDefinition, error) {
	s := (*memStore)(d)
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, def := range s.defs {
		if def.ID == id {
			cp := *def
			return &cp, nil
		}
	}
	return nil, nil
}

func (d *memDefinitions) GetLatestByFlowKey(ctx context.Context, flowKey string) (*entity.WorkflowDefinition, error) {
	s := (*memStore)(d)
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.defs) - 1; i >= 0; i-- {
		if s.defs[i].FlowKey == flowKey {
			cp := *s.defs[i]
			return &cp, nil
		}
	}
	return nil, nil
}

func (d *memDefinitions) List(ctx context.Context) ([]*entity.WorkflowDefinition, error) {
	s := (*memStore)(d)
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*entity.WorkflowDefinition{}, s.defs...), nil
}

type memInstances memStore

func (r *memInstances) Create(ctx context.Context, inst *entity.WorkflowInstance) error {
	s := (*memStore)(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	inst.ID = s.id()
	cp := *inst
	s.instances[inst.ID] = &cp
	return nil
}

func (r *memInstances) GetByID(ctx context.Context, id int64) (*entity.WorkflowInstance, error) {
	s := (*memStore)(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	inst, ok := s.instances[id]
	if !ok {
		return nil, nil
	}
	cp := *inst
	return &cp, nil
}

func (r *memInstances) List(ctx context.Context, filter port.InstanceFilter) ([]*entity.WorkflowInstance, error) {
	s := (*memStore)(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*entity.WorkflowInstance
	for _, inst := range s.instances {
		if filter.FlowKey != "" && inst.FlowKey != filter.FlowKey {
			continue
		}
		if filter.Status != "" && inst.Status != filter.Status {
			continue
		}
		if filter.Applicant != 0 && inst.Applicant != filter.Applicant {
			continue
		}
		cp := *inst
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out, nil
}

func (r *memInstances) update(id int64, match func(*entity.WorkflowInstance) bool, apply func(*entity.WorkflowInstance)) bool {
	s := (*memStore)(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	inst, ok := s.instances[id]
	if !ok || !match(inst) {
		return false
	}
	apply(inst)
	return true
}

func (r *memInstances) MoveTo(ctx context.Context, id int64, expectedCur, cur, next, updateBy string, at time.Time) (bool, error) {
	return r.update(id,
		func(i *entity.WorkflowInstance) bool { return i.Status == entity.StatusStart && i.CurNodeID == expectedCur },
		func(i *entity.WorkflowInstance) {
			i.CurNodeID, i.NextNodeID, i.UpdateBy, i.UpdatedAt = cur, next, updateBy, at
		}), nil
}

func (r *memInstances) Finish(ctx context.Context, id int64, expectedCur, cur, updateBy string, at time.Time) (bool, error) {
	return r.update(id,
		func(i *entity.WorkflowInstance) bool { return i.Status == entity.StatusStart && i.CurNodeID == expectedCur },
		func(i *entity.WorkflowInstance) {
			i.CurNodeID, i.NextNodeID, i.Status, i.UpdateBy, i.UpdatedAt = cur, "", entity.StatusEnd, updateBy, at
		}), nil
}

func (r *memInstances) Transition(ctx context.Context, id int64, to entity.Status, updateBy string, at time.Time) (bool, error) {
	return r.update(id,
		func(i *entity.WorkflowInstance) bool { return i.Status == entity.StatusStart },
		func(i *entity.WorkflowInstance) { i.Status, i.UpdateBy, i.UpdatedAt = to, updateBy, at }), nil
}

func (r *memInstances) Touch(ctx context.Context, id int64, updateBy string, at time.Time) (bool, error) {
	return r.update(id,
		func(i *entity.WorkflowInstance) bool { return i.Status == entity.StatusStart },
		func(i *entity.WorkflowInstance) { i.UpdateBy, i.UpdatedAt = updateBy, at }), nil
}

func (r *memInstances) UpdateParams(ctx context.Context, id int64, params, updateBy string, at time.Time) (bool, error) {
	return r.update(id,
		func(i *entity.WorkflowInstance) bool { return i.Status == entity.StatusStart },
		func(i *entity.WorkflowInstance) { i.FlowParams, i.UpdateBy, i.UpdatedAt = params, updateBy, at }), nil
}

func (r *memInstances) ListStalled(ctx context.Context, before time.Time, limit int) ([]*entity.WorkflowInstance, error) {
	s := (*memStore)(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*entity.WorkflowInstance
	for _, inst := range s.instances {
		if inst.Status != entity.StatusStart || !inst.UpdatedAt.Before(before) {
			continue
		}
		open := false
		for _, t := range s.tasks {
			if t.InstanceID == inst.ID && t.Status == entity.StatusStart {
				open = true
			}
		}
		if !open {
			cp := *inst
			out = append(out, &cp)
		}
	}
	return out, nil
}

type memTasks memStore

func (r *memTasks) Create(ctx context.Context, task *entity.WorkflowTask) error {
	s := (*memStore)(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failCreateTask != nil {
		return s.failCreateTask
	}
	task.ID = s.id()
	cp := *task
	s.tasks[task.ID] = &cp
	return nil
}

func (r *memTasks) GetByID(ctx context.Context, id int64) (*entity.WorkflowTask, error) {
	s := (*memStore)(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok {
		return nil, nil
	}
	cp := *t
	return &cp, nil
}

func (r *memTasks) filter(match func(*entity.WorkflowTask) bool) []*entity.WorkflowTask {
	s := (*memStore)(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*entity.WorkflowTask
	for _, t := range s.tasks {
		if match(t) {
			cp := *t
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (r *memTasks) ListByInstance(ctx context.Context, instanceID int64) ([]*entity.WorkflowTask, error) {
	return r.filter(func(t *entity.WorkflowTask) bool { return t.InstanceID == instanceID }), nil
}

func (r *memTasks) ListOpenByNode(ctx context.Context, instanceID int64, nodeID string) ([]*entity.WorkflowTask, error) {
	return r.filter(func(t *entity.WorkflowTask) bool {
		return t.InstanceID == instanceID && t.NodeID == nodeID && t.Status == entity.StatusStart
	}), nil
}

func (r *memTasks) ListPendingByActor(ctx context.Context, actorUserID int64, limit, offset int) ([]*entity.WorkflowTask, error) {
	out := r.filter(func(t *entity.WorkflowTask) bool { return t.ActorUserID == actorUserID && t.Status == entity.StatusStart })
	if offset >= len(out) {
		return nil, nil
	}
	out = out[offset:]
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *memTasks) updateWhere(match func(*entity.WorkflowTask) bool, apply func(*entity.WorkflowTask)) int64 {
	s := (*memStore)(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, t := range s.tasks {
		if match(t) {
			apply(t)
			n++
		}
	}
	return n
}

func (r *memTasks) CloseNode(ctx context.Context, instanceID int64, nodeID string, to entity.Status, params string, at time.Time) (int64, error) {
	if hook := (*memStore)(r).beforeCloseNode; hook != nil {
		hook()
	}
	return r.updateWhere(
		func(t *entity.WorkflowTask) bool {
			return t.InstanceID == instanceID && t.NodeID == nodeID && t.Status == entity.StatusStart
		},
		func(t *entity.WorkflowTask) { t.Status, t.Params, t.UpdatedAt = to, params, at }), nil
}

func (r *memTasks) CloseInstance(ctx context.Context, instanceID int64, to entity.Status, at time.Time) (int64, error) {
	return r.updateWhere(
		func(t *entity.WorkflowTask) bool { return t.InstanceID == instanceID && t.Status == entity.StatusStart },
		func(t *entity.WorkflowTask) { t.Status, t.UpdatedAt = to, at }), nil
}

func (r *memTasks) TouchOpen(ctx context.Context, instanceID int64, at time.Time) (int64, error) {
	return r.updateWhere(
		func(t *entity.WorkflowTask) bool { return t.InstanceID == instanceID && t.Status == entity.StatusStart },
		func(t *entity.WorkflowTask) { t.UpdatedAt = at }), nil
}

type memLogs memStore

func (r *memLogs) Create(ctx context.Context, log *entity.ProcessLog) error {
	s := (*memStore)(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	log.ID = s.id()
	cp := *log
	s.logs = append(s.logs, &cp)
	return nil
}

func (r *memLogs) ListByInstance(ctx context.Context, instanceID int64) ([]*entity.ProcessLog, error) {
	s := (*memStore)(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*entity.ProcessLog
	for _, l := range s.logs {
		if l.InstanceID == instanceID {
			cp := *l
			out = append(out, &cp)
		}
	}
	return out, nil
}

var (
	_ port.DefinitionRepository = (*memDefinitions)(nil)
	_ port.InstanceRepository   = (*memInstances)(nil)
	_ port.TaskRepository       = (*memTasks)(nil)
	_ port.ProcessLogRepository = (*memLogs)(nil)
	_ port.TransactionManager   = (*memStore)(nil)
)
