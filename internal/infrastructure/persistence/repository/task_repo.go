package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/garyjia/reimburse-flow/internal/application/port"
	"github.com/garyjia/reimburse-flow/internal/domain/entity"
	"go.uber.org/zap"
)

// TaskRepository implements port.TaskRepository
type TaskRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewTaskRepository creates a new task repository
func NewTaskRepository(db *sql.DB, logger *zap.Logger) port.TaskRepository {
	return &TaskRepository{
		db:     db,
		logger: logger,
	}
}

const taskColumns = `id, wi_id, node_id, task_name, actor_user_id, status, params, created_at, updated_at`

// Create creates a new workflow task
func (r *TaskRepository) Create(ctx context.Context, task *entity.WorkflowTask) error {
	query := `
		INSERT INTO workflow_tasks (
			wi_id, node_id, task_name, actor_user_id, status, params, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`

	task.CreatedAt = dbTime(task.CreatedAt)
	task.UpdatedAt = dbTime(task.UpdatedAt)
	result, err := executor(ctx, r.db).ExecContext(ctx, query,
		task.InstanceID,
		task.NodeID,
		task.TaskName,
		task.ActorUserID,
		task.Status,
		task.Params,
		task.CreatedAt,
		task.UpdatedAt,
	)
	if err != nil {
		r.logger.Error("Failed to create task",
			zap.Int64("instance_id", task.InstanceID),
			zap.String("node_id", task.NodeID),
			zap.Error(err))
		return fmt.Errorf("failed to create task: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}

	task.ID = id
	return nil
}

// GetByID retrieves a task by ID
func (r *TaskRepository) GetByID(ctx context.Context, id int64) (*entity.WorkflowTask, error) {
	query := `SELECT ` + taskColumns + ` FROM workflow_tasks WHERE id = ?`

	task, err := scanTask(executor(ctx, r.db).QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		r.logger.Error("Failed to get task by ID", zap.Int64("id", id), zap.Error(err))
		return nil, fmt.Errorf("failed to get task: %w", err)
	}
	return task, nil
}

// ListByInstance returns every task of an instance in creation order
func (r *TaskRepository) ListByInstance(ctx context.Context, instanceID int64) ([]*entity.WorkflowTask, error) {
	query := `SELECT ` + taskColumns + ` FROM workflow_tasks WHERE wi_id = ? ORDER BY id`
	return r.query(ctx, "list tasks by instance", query, instanceID)
}

// ListOpenByNode returns the START tasks of one node
func (r *TaskRepository) ListOpenByNode(ctx context.Context, instanceID int64, nodeID string) ([]*entity.WorkflowTask, error) {
	query := `SELECT ` + taskColumns + ` FROM workflow_tasks WHERE wi_id = ? AND node_id = ? AND status = ? ORDER BY id`
	return r.query(ctx, "list open tasks", query, instanceID, nodeID, entity.StatusStart)
}

// ListPendingByActor returns the inbox of a performer, oldest first
func (r *TaskRepository) ListPendingByActor(ctx context.Context, actorUserID int64, limit, offset int) ([]*entity.WorkflowTask, error) {
	query := `
		SELECT ` + taskColumns + `
		FROM workflow_tasks
		WHERE actor_user_id = ? AND status = ?
		ORDER BY id
		LIMIT ? OFFSET ?
	`
	return r.query(ctx, "list pending tasks", query, actorUserID, entity.StatusStart, limit, offset)
}

// CloseNode moves every open task of a node to status, recording params; returns rows changed
func (r *TaskRepository) CloseNode(ctx context.Context, instanceID int64, nodeID string, to entity.Status, params string, at time.Time) (int64, error) {
	query := `
		UPDATE workflow_tasks
		SET status = ?, params = ?, updated_at = ?
		WHERE wi_id = ? AND node_id = ? AND status = ?
	`
	return r.update(ctx, "close node tasks", query, to, params, dbTime(at), instanceID, nodeID, entity.StatusStart)
}

// CloseInstance moves every open task of an instance to status; returns rows changed
func (r *TaskRepository) CloseInstance(ctx context.Context, instanceID int64, to entity.Status, at time.Time) (int64, error) {
	query := `
		UPDATE workflow_tasks
		SET status = ?, updated_at = ?
		WHERE wi_id = ? AND status = ?
	`
	return r.update(ctx, "close instance tasks", query, to, dbTime(at), instanceID, entity.StatusStart)
}

// TouchOpen bumps updated_at of the instance's open tasks; returns rows changed
func (r *TaskRepository) TouchOpen(ctx context.Context, instanceID int64, at time.Time) (int64, error) {
	query := `UPDATE workflow_tasks SET updated_at = ? WHERE wi_id = ? AND status = ?`
	return r.update(ctx, "touch open tasks", query, dbTime(at), instanceID, entity.StatusStart)
}

func (r *TaskRepository) update(ctx context.Context, op, query string, args ...interface{}) (int64, error) {
	result, err := executor(ctx, r.db).ExecContext(ctx, query, args...)
	if err != nil {
		r.logger.Error("Failed to "+op, zap.Error(err))
		return 0, fmt.Errorf("failed to %s: %w", op, err)
	}
	return affected(result)
}

func (r *TaskRepository) query(ctx context.Context, op, query string, args ...interface{}) ([]*entity.WorkflowTask, error) {
	rows, err := executor(ctx, r.db).QueryContext(ctx, query, args...)
	if err != nil {
		r.logger.Error("Failed to "+op, zap.Error(err))
		return nil, fmt.Errorf("failed to %s: %w", op, err)
	}
	defer rows.Close()

	var tasks []*entity.WorkflowTask
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan task: %w", err)
		}
		tasks = append(tasks, task)
	}
	return tasks, rows.Err()
}

func scanTask(row scanner) (*entity.WorkflowTask, error) {
	var task entity.WorkflowTask
	err := row.Scan(
		&task.ID,
		&task.InstanceID,
		&task.NodeID,
		&task.TaskName,
		&task.ActorUserID,
		&task.Status,
		&task.Params,
		&task.CreatedAt,
		&task.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &task, nil
}
