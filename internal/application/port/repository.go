package port

import (
	"context"
	"time"

	"github.com/garyjia/reimburse-flow/internal/domain/entity"
)

// DefinitionRepository defines persistence operations for WorkflowDefinition
type DefinitionRepository interface {
	Create(ctx context.Context, def *entity.WorkflowDefinition) error
	GetByID(ctx context.Context, id int64) (*entity.WorkflowDefinition, error)
	// GetLatestByFlowKey returns the most recently registered definition of a flow type
	GetLatestByFlowKey(ctx context.Context, flowKey string) (*entity.WorkflowDefinition, error)
	List(ctx context.Context) ([]*entity.WorkflowDefinition, error)
}

// InstanceFilter narrows instance listings; zero values match everything
type InstanceFilter struct {
	FlowKey   string
	Status    entity.Status
	Applicant int64
	Limit     int
	Offset    int
}

// InstanceRepository defines persistence operations for WorkflowInstance.
// The conditional updates report whether a row matched; false means another actor changed the instance first.
type InstanceRepository interface {
	Create(ctx context.Context, instance *entity.WorkflowInstance) error
	GetByID(ctx context.Context, id int64) (*entity.WorkflowInstance, error)
	List(ctx context.Context, filter InstanceFilter) ([]*entity.WorkflowInstance, error)

	// MoveTo sets cur/next while the instance is START and still positioned at expectedCur
	MoveTo(ctx context.Context, id int64, expectedCur, cur, next, updateBy string, at time.Time) (bool, error)

	// Finish marks the instance END at cur while it is START and positioned at expectedCur
	Finish(ctx context.Context, id int64, expectedCur, cur, updateBy string, at time.Time) (bool, error)

	// Transition moves a START instance to a terminal status
	Transition(ctx context.Context, id int64, to entity.Status, updateBy string, at time.Time) (bool, error)

	// Touch bumps updatetime/update_by of a START instance
	Touch(ctx context.Context, id int64, updateBy string, at time.Time) (bool, error)

	// UpdateParams replaces flow_params of a START instance
	UpdateParams(ctx context.Context, id int64, params, updateBy string, at time.Time) (bool, error)

	// ListStalled returns START instances without open tasks that were last updated before the cutoff
	ListStalled(ctx context.Context, before time.Time, limit int) ([]*entity.WorkflowInstance, error)
}

// TaskRepository defines persistence operations for WorkflowTask
type TaskRepository interface {
	Create(ctx context.Context, task *entity.WorkflowTask) error
	GetByID(ctx context.Context, id int64) (*entity.WorkflowTask, error)
	ListByInstance(ctx context.Context, instanceID int64) ([]*entity.WorkflowTask, error)
	ListOpenByNode(ctx context.Context, instanceID int64, nodeID string) ([]*entity.WorkflowTask, error)
	ListPendingByActor(ctx context.Context, actorUserID int64, limit, offset int) ([]*entity.WorkflowTask, error)

	// CloseNode moves every open task of a node to status, recording params; returns rows changed
	CloseNode(ctx context.Context, instanceID int64, nodeID string, to entity.Status, params string, at time.Time) (int64, error)

	// CloseInstance moves every open task of an instance to status; returns rows changed
	CloseInstance(ctx context.Context, instanceID int64, to entity.Status, at time.Time) (int64, error)

	// TouchOpen bumps updatetime of the instance's open tasks; returns rows changed
	TouchOpen(ctx context.Context, instanceID int64, at time.Time) (int64, error)
}

// ProcessLogRepository defines persistence operations for the audit trail
type ProcessLogRepository interface {
	Create(ctx context.Context, log *entity.ProcessLog) error
	ListByInstance(ctx context.Context, instanceID int64) ([]*entity.ProcessLog, error)
}

// TransactionManager handles database transactions
type TransactionManager interface {
	WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}
