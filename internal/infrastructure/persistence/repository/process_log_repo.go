package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/garyjia/reimburse-flow/internal/application/port"
	"github.com/garyjia/reimburse-flow/internal/domain/entity"
	"go.uber.org/zap"
)

// ProcessLogRepository implements port.ProcessLogRepository
type ProcessLogRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewProcessLogRepository creates a new process log repository
func NewProcessLogRepository(db *sql.DB, logger *zap.Logger) port.ProcessLogRepository {
	return &ProcessLogRepository{
		db:     db,
		logger: logger,
	}
}

// Create appends an audit record
func (r *ProcessLogRepository) Create(ctx context.Context, log *entity.ProcessLog) error {
	query := `
		INSERT INTO workflow_process_logs (
			wi_id, task_id, user_id, operator, action, remark, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	log.CreatedAt = dbTime(log.CreatedAt)
	result, err := executor(ctx, r.db).ExecContext(ctx, query,
		log.InstanceID,
		log.TaskID,
		log.UserID,
		log.Operator,
		log.Action,
		log.Remark,
		log.CreatedAt,
	)
	if err != nil {
		r.logger.Error("Failed to create process log", zap.Int64("instance_id", log.InstanceID), zap.Error(err))
		return fmt.Errorf("failed to create process log: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}

	log.ID = id
	return nil
}

// ListByInstance retrieves the audit trail of an instance in order
func (r *ProcessLogRepository) ListByInstance(ctx context.Context, instanceID int64) ([]*entity.ProcessLog, error) {
	query := `
		SELECT id, wi_id, task_id, user_id, operator, action, remark, created_at
		FROM workflow_process_logs
		WHERE wi_id = ?
		ORDER BY id
	`

	rows, err := executor(ctx, r.db).QueryContext(ctx, query, instanceID)
	if err != nil {
		r.logger.Error("Failed to get process logs", zap.Int64("instance_id", instanceID), zap.Error(err))
		return nil, fmt.Errorf("failed to get process logs: %w", err)
	}
	defer rows.Close()

	var logs []*entity.ProcessLog
	for rows.Next() {
		var log entity.ProcessLog
		err := rows.Scan(
			&log.ID,
			&log.InstanceID,
			&log.TaskID,
			&log.UserID,
			&log.Operator,
			&log.Action,
			&log.Remark,
			&log.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan process log: %w", err)
		}
		logs = append(logs, &log)
	}

	return logs, rows.Err()
}
