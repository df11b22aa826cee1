package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/garyjia/reimburse-flow/internal/application/port"
	"github.com/garyjia/reimburse-flow/internal/domain/entity"
	"go.uber.org/zap"
)

// InstanceRepository implements port.InstanceRepository
type InstanceRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewInstanceRepository creates a new instance repository
func NewInstanceRepository(db *sql.DB, logger *zap.Logger) port.InstanceRepository {
	return &InstanceRepository{
		db:     db,
		logger: logger,
	}
}

const instanceColumns = `id, flow_key, cur_node_id, next_node_id, status, flow_params, flow_define,
	applicant, create_by, update_by, created_at, updated_at`

// Create creates a new workflow instance
func (r *InstanceRepository) Create(ctx context.Context, instance *entity.WorkflowInstance) error {
	query := `
		INSERT INTO workflow_instances (
			flow_key, cur_node_id, next_node_id, status, flow_params, flow_define,
			applicant, create_by, update_by, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	instance.CreatedAt = dbTime(instance.CreatedAt)
	instance.UpdatedAt = dbTime(instance.UpdatedAt)
	result, err := executor(ctx, r.db).ExecContext(ctx, query,
		instance.FlowKey,
		instance.CurNodeID,
		instance.NextNodeID,
		instance.Status,
		instance.FlowParams,
		instance.FlowDefine,
		instance.Applicant,
		instance.CreateBy,
		instance.UpdateBy,
		instance.CreatedAt,
		instance.UpdatedAt,
	)
	if err != nil {
		r.logger.Error("Failed to create instance", zap.Error(err))
		return fmt.Errorf("failed to create instance: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}

	instance.ID = id
	return nil
}

// GetByID retrieves a workflow instance by ID
func (r *InstanceRepository) GetByID(ctx context.Context, id int64) (*entity.WorkflowInstance, error) {
	query := `SELECT ` + instanceColumns + ` FROM workflow_instances WHERE id = ?`

	instance, err := scanInstance(executor(ctx, r.db).QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		r.logger.Error("Failed to get instance by ID", zap.Int64("id", id), zap.Error(err))
		return nil, fmt.Errorf("failed to get instance: %w", err)
	}
	return instance, nil
}

// List returns instances matching the filter, newest first
func (r *InstanceRepository) List(ctx context.Context, filter port.InstanceFilter) ([]*entity.WorkflowInstance, error) {
	var where []string
	var args []interface{}

	if filter.FlowKey != "" {
		where = append(where, "flow_key = ?")
		args = append(args, filter.FlowKey)
	}
	if filter.Status != "" {
		where = append(where, "status = ?")
		args = append(args, filter.Status)
	}
	if filter.Applicant != 0 {
		where = append(where, "applicant = ?")
		args = append(args, filter.Applicant)
	}

	query := `SELECT ` + instanceColumns + ` FROM workflow_instances`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY id DESC`
	if filter.Limit > 0 {
		query += ` LIMIT ? OFFSET ?`
		args = append(args, filter.Limit, filter.Offset)
	}

	return r.query(ctx, "list instances", query, args...)
}

// MoveTo sets cur/next while the instance is START and still positioned at expectedCur
func (r *InstanceRepository) MoveTo(ctx context.Context, id int64, expectedCur, cur, next, updateBy string, at time.Time) (bool, error) {
	query := `
		UPDATE workflow_instances
		SET cur_node_id = ?, next_node_id = ?, update_by = ?, updated_at = ?
		WHERE id = ? AND status = ? AND cur_node_id = ?
	`
	return r.conditional(ctx, "move instance", query, cur, next, updateBy, dbTime(at), id, entity.StatusStart, expectedCur)
}

// Finish marks the instance END at cur while it is START and positioned at expectedCur
func (r *InstanceRepository) Finish(ctx context.Context, id int64, expectedCur, cur, updateBy string, at time.Time) (bool, error) {
	query := `
		UPDATE workflow_instances
		SET cur_node_id = ?, next_node_id = '', status = ?, update_by = ?, updated_at = ?
		WHERE id = ? AND status = ? AND cur_node_id = ?
	`
	return r.conditional(ctx, "finish instance", query, cur, entity.StatusEnd, updateBy, dbTime(at), id, entity.StatusStart, expectedCur)
}

// Transition moves a START instance to a terminal status
func (r *InstanceRepository) Transition(ctx context.Context, id int64, to entity.Status, updateBy string, at time.Time) (bool, error) {
	query := `
		UPDATE workflow_instances
		SET status = ?, update_by = ?, updated_at = ?
		WHERE id = ? AND status = ?
	`
	return r.conditional(ctx, "transition instance", query, to, updateBy, dbTime(at), id, entity.StatusStart)
}

// Touch bumps updated_at/update_by of a START instance
func (r *InstanceRepository) Touch(ctx context.Context, id int64, updateBy string, at time.Time) (bool, error) {
	query := `
		UPDATE workflow_instances
		SET update_by = ?, updated_at = ?
		WHERE id = ? AND status = ?
	`
	return r.conditional(ctx, "touch instance", query, updateBy, dbTime(at), id, entity.StatusStart)
}

// UpdateParams replaces flow_params of a START instance
func (r *InstanceRepository) UpdateParams(ctx context.Context, id int64, params, updateBy string, at time.Time) (bool, error) {
	query := `
		UPDATE workflow_instances
		SET flow_params = ?, update_by = ?, updated_at = ?
		WHERE id = ? AND status = ?
	`
	return r.conditional(ctx, "update instance params", query, params, updateBy, dbTime(at), id, entity.StatusStart)
}

// ListStalled returns START instances without open tasks that were last updated before the cutoff
func (r *InstanceRepository) ListStalled(ctx context.Context, before time.Time, limit int) ([]*entity.WorkflowInstance, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `
		SELECT ` + instanceColumns + `
		FROM workflow_instances i
		WHERE i.status = ? AND i.updated_at < ?
			AND NOT EXISTS (
				SELECT 1 FROM workflow_tasks t WHERE t.wi_id = i.id AND t.status = ?
			)
		ORDER BY i.updated_at
		LIMIT ?
	`
	return r.query(ctx, "list stalled instances", query, entity.StatusStart, dbTime(before), entity.StatusStart, limit)
}

func (r *InstanceRepository) conditional(ctx context.Context, op, query string, args ...interface{}) (bool, error) {
	result, err := executor(ctx, r.db).ExecContext(ctx, query, args...)
	if err != nil {
		r.logger.Error("Failed to "+op, zap.Error(err))
		return false, fmt.Errorf("failed to %s: %w", op, err)
	}
	n, err := affected(result)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (r *InstanceRepository) query(ctx context.Context, op, query string, args ...interface{}) ([]*entity.WorkflowInstance, error) {
	rows, err := executor(ctx, r.db).QueryContext(ctx, query, args...)
	if err != nil {
		r.logger.Error("Failed to "+op, zap.Error(err))
		return nil, fmt.Errorf("failed to %s: %w", op, err)
	}
	defer rows.Close()

	var instances []*entity.WorkflowInstance
	for rows.Next() {
		instance, err := scanInstance(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan instance: %w", err)
		}
		instances = append(instances, instance)
	}
	return instances, rows.Err()
}

func scanInstance(row scanner) (*entity.WorkflowInstance, error) {
	var instance entity.WorkflowInstance
	err := row.Scan(
		&instance.ID,
		&instance.FlowKey,
		&instance.CurNodeID,
		&instance.NextNodeID,
		&instance.Status,
		&instance.FlowParams,
		&instance.FlowDefine,
		&instance.Applicant,
		&instance.CreateBy,
		&instance.UpdateBy,
		&instance.CreatedAt,
		&instance.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &instance, nil
}
