package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/garyjia/reimburse-flow/internal/application/port"
	"github.com/garyjia/reimburse-flow/internal/domain/entity"
	"go.uber.org/zap"
)

// DefinitionRepository implements port.DefinitionRepository
type DefinitionRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewDefinitionRepository creates a new definition repository
func NewDefinitionRepository(db *sql.DB, logger *zap.Logger) port.DefinitionRepository {
	return &DefinitionRepository{
		db:     db,
		logger: logger,
	}
}

const definitionColumns = `id, flow_key, flow_name, flow_define, remark, create_by, created_at`

// Create stores a new definition version
func (r *DefinitionRepository) Create(ctx context.Context, def *entity.WorkflowDefinition) error {
	query := `
		INSERT INTO workflow_definitions (flow_key, flow_name, flow_define, remark, create_by, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`

	def.CreatedAt = dbTime(def.CreatedAt)
	result, err := executor(ctx, r.db).ExecContext(ctx, query,
		def.FlowKey,
		def.FlowName,
		def.FlowDefine,
		def.Remark,
		def.CreateBy,
		def.CreatedAt,
	)
	if err != nil {
		r.logger.Error("Failed to create definition", zap.String("flow_key", def.FlowKey), zap.Error(err))
		return fmt.Errorf("failed to create definition: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}

	def.ID = id
	return nil
}

// GetByID retrieves a definition by ID
func (r *DefinitionRepository) GetByID(ctx context.Context, id int64) (*entity.WorkflowDefinition, error) {
	query := `SELECT ` + definitionColumns + ` FROM workflow_definitions WHERE id = ?`

	def, err := scanDefinition(executor(ctx, r.db).QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		r.logger.Error("Failed to get definition", zap.Int64("id", id), zap.Error(err))
		return nil, fmt.Errorf("failed to get definition: %w", err)
	}
	return def, nil
}

// GetLatestByFlowKey retrieves the newest definition registered for a flow key
func (r *DefinitionRepository) GetLatestByFlowKey(ctx context.Context, flowKey string) (*entity.WorkflowDefinition, error) {
	query := `SELECT ` + definitionColumns + ` FROM workflow_definitions WHERE flow_key = ? ORDER BY id DESC LIMIT 1`

	def, err := scanDefinition(executor(ctx, r.db).QueryRowContext(ctx, query, flowKey))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		r.logger.Error("Failed to get definition by flow key", zap.String("flow_key", flowKey), zap.Error(err))
		return nil, fmt.Errorf("failed to get definition: %w", err)
	}
	return def, nil
}

// List returns every stored definition version, oldest first
func (r *DefinitionRepository) List(ctx context.Context) ([]*entity.WorkflowDefinition, error) {
	query := `SELECT ` + definitionColumns + ` FROM workflow_definitions ORDER BY id`

	rows, err := executor(ctx, r.db).QueryContext(ctx, query)
	if err != nil {
		r.logger.Error("Failed to list definitions", zap.Error(err))
		return nil, fmt.Errorf("failed to list definitions: %w", err)
	}
	defer rows.Close()

	var defs []*entity.WorkflowDefinition
	for rows.Next() {
		def, err := scanDefinition(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan definition: %w", err)
		}
		defs = append(defs, def)
	}
	return defs, rows.Err()
}

func scanDefinition(row scanner) (*entity.WorkflowDefinition, error) {
	var def entity.WorkflowDefinition
	err := row.Scan(
		&def.ID,
		&def.FlowKey,
		&def.FlowName,
		&def.FlowDefine,
		&def.Remark,
		&def.CreateBy,
		&def.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &def, nil
}
