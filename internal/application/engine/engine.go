package engine

import (
	"context"
	"time"

	"github.com/garyjia/reimburse-flow/internal/application/port"
	"github.com/garyjia/reimburse-flow/internal/domain/entity"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const tracerName = "github.com/garyjia/reimburse-flow/internal/application/engine"

// StartRequest starts a new instance of the engine's flow type
type StartRequest struct {
	Params    entity.Params
	Operator  string
	Applicant int64
}

// TaskAction completes or rejects a task. Version is the task's updatetime in unix milliseconds as last
// seen by the caller; zero skips the staleness check.
type TaskAction struct {
	TaskID   int64
	Operator string
	Params   entity.Params
	Remark   string
	Version  int64
}

// CancelRequest withdraws an instance on behalf of its applicant
type CancelRequest struct {
	InstanceID int64
	Applicant  int64
	Operator   string
	Remark     string
}

// EditRequest replaces the business params of an instance no approver has acted on yet.
// Version is the instance's updatetime in unix milliseconds; zero skips the check.
type EditRequest struct {
	InstanceID int64
	Applicant  int64
	Operator   string
	Params     entity.Params
	Version    int64
}

// Engine drives instances of one workflow type
type Engine interface {
	// FlowKey returns the workflow type this engine serves
	FlowKey() string

	// StartProcess creates an instance from the latest definition and advances it to its first task (or end)
	StartProcess(ctx context.Context, req StartRequest) (*entity.WorkflowInstance, error)

	// CompleteTask closes the task's node and advances the instance. Once the close commits the call
	// succeeds even if the advance fails; Resume picks the instance up.
	CompleteTask(ctx context.Context, req TaskAction) error

	// RejectTask closes the task's node and terminates the instance as REJECTED
	RejectTask(ctx context.Context, req TaskAction) error

	// CancelProcess terminates an instance as CANCELLED
	CancelProcess(ctx context.Context, req CancelRequest) (*entity.WorkflowInstance, error)

	// EditProcess replaces the business params of an instance still waiting on its first approval
	EditProcess(ctx context.Context, req EditRequest) (*entity.WorkflowInstance, error)

	// Resume re-runs the advance step for an instance left between nodes; false when nothing was pending
	Resume(ctx context.Context, instanceID int64) (bool, error)
}

// Recorder receives operation outcomes for metrics
type Recorder interface {
	ObserveOperation(flowKey, operation string, err error, elapsed time.Duration)
	InstanceFinished(flowKey string, status entity.Status)
	TasksCreated(flowKey string, n int)
	HookFailed(flowKey, hook string)
}

type nopRecorder struct{}

func (nopRecorder) ObserveOperation(string, string, error, time.Duration) {}
func (nopRecorder) InstanceFinished(string, entity.Status)                {}
func (nopRecorder) TasksCreated(string, int)                              {}
func (nopRecorder) HookFailed(string, string)                             {}

// Deps are the stores an engine works on
type Deps struct {
	Definitions port.DefinitionRepository
	Instances   port.InstanceRepository
	Tasks       port.TaskRepository
	Logs        port.ProcessLogRepository
	Tx          port.TransactionManager
}

type engineImpl struct {
	flowKey   string
	deps      Deps
	resolver  PerformerResolver
	lifecycle Lifecycle
	recorder  Recorder
	tracer    trace.Tracer
	logger    *zap.Logger
	now       func() time.Time

	start startProcessor
	task  taskProcessor
	end   endProcessor
}

// EngineOption configures the workflow engine
type EngineOption func(*engineImpl)

// WithLifecycle sets the side-effect hooks
func WithLifecycle(l Lifecycle) EngineOption {
	return func(e *engineImpl) {
		e.lifecycle = l
	}
}

// WithRecorder sets the metrics recorder
func WithRecorder(r Recorder) EngineOption {
	return func(e *engineImpl) {
		e.recorder = r
	}
}

// WithTracer overrides the global otel tracer
func WithTracer(t trace.Tracer) EngineOption {
	return func(e *engineImpl) {
		e.tracer = t
	}
}

// WithLogger sets the logger
func WithLogger(l *zap.Logger) EngineOption {
	return func(e *engineImpl) {
		e.logger = l
	}
}

// WithClock overrides time.Now
func WithClock(now func() time.Time) EngineOption {
	return func(e *engineImpl) {
		e.now = now
	}
}

// NewEngine creates the engine of one workflow type
func NewEngine(flowKey string, deps Deps, resolver PerformerResolver, opts ...EngineOption) Engine {
	e := &engineImpl{
		flowKey:   flowKey,
		deps:      deps,
		resolver:  resolver,
		lifecycle: NopLifecycle{},
		recorder:  nopRecorder{},
		logger:    zap.NewNop(),
		now:       time.Now,
	}

	for _, opt := range opts {
		opt(e)
	}
	if e.tracer == nil {
		e.tracer = otel.Tracer(tracerName)
	}
	if e.resolver == nil {
		e.resolver = StaticResolver{}
	}
	e.logger = e.logger.With(zap.String("flow_key", flowKey))

	e.start = startProcessor{e}
	e.task = taskProcessor{e}
	e.end = endProcessor{e}

	return e
}

// FlowKey implements Engine
func (e *engineImpl) FlowKey() string {
	return e.flowKey
}

// stamp returns the timestamp for a write that supersedes prev. Stored times have millisecond precision
// and double as version tokens, so a new stamp is always strictly after prev.
func (e *engineImpl) stamp(prev time.Time) time.Time {
	at := e.now().UTC().Truncate(time.Millisecond)
	if !at.After(prev) {
		at = prev.UTC().Truncate(time.Millisecond).Add(time.Millisecond)
	}
	return at
}
