package report

import (
	"context"
	"fmt"
	"io"

	"github.com/garyjia/reimburse-flow/internal/application/port"
	"github.com/garyjia/reimburse-flow/internal/domain/entity"
	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"
)

const (
	instanceSheet = "Instances"
	taskSheet     = "Tasks"
	timeLayout    = "2006-01-02 15:04:05"
)

var (
	instanceHeader = []interface{}{"ID", "Flow", "Status", "Current node", "Next node", "Applicant", "Amount", "Amount (capitals)", "Created by", "Created", "Updated"}
	taskHeader     = []interface{}{"ID", "Instance", "Node", "Task", "Actor", "Status", "Created", "Updated"}
)

// TaskLister supplies the task rows of each exported instance
type TaskLister interface {
	ListByInstance(ctx context.Context, instanceID int64) ([]*entity.WorkflowTask, error)
}

// ExcelExporter implements port.ReportExporter as an xlsx workbook with an instance sheet and,
// when tasks are available, a task sheet
type ExcelExporter struct {
	tasks      TaskLister
	amountKeys []string
	logger     *zap.Logger
}

// NewExcelExporter creates a new exporter; tasks may be nil. amountKeys are the param keys tried, in
// order, for the amount column.
func NewExcelExporter(tasks TaskLister, amountKeys []string, logger *zap.Logger) *ExcelExporter {
	if len(amountKeys) == 0 {
		amountKeys = []string{"total_money", "money"}
	}
	return &ExcelExporter{
		tasks:      tasks,
		amountKeys: amountKeys,
		logger:     logger,
	}
}

// ExportInstances writes the workbook to w
func (e *ExcelExporter) ExportInstances(ctx context.Context, w io.Writer, instances []*entity.WorkflowInstance) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName(f.GetSheetName(0), instanceSheet); err != nil {
		return fmt.Errorf("failed to name sheet: %w", err)
	}
	if err := e.writeRow(f, instanceSheet, 1, instanceHeader); err != nil {
		return err
	}

	for i, inst := range instances {
		amount, capitals := e.amount(inst)
		row := []interface{}{
			inst.ID,
			inst.FlowKey,
			string(inst.Status),
			inst.CurNodeID,
			inst.NextNodeID,
			inst.Applicant,
			amount,
			capitals,
			inst.CreateBy,
			inst.CreatedAt.Format(timeLayout),
			inst.UpdatedAt.Format(timeLayout),
		}
		if err := e.writeRow(f, instanceSheet, i+2, row); err != nil {
			return err
		}
	}

	if e.tasks != nil {
		if err := e.writeTasks(ctx, f, instances); err != nil {
			return err
		}
	}

	if err := f.SetPanes(instanceSheet, &excelize.Panes{Freeze: true, YSplit: 1, TopLeftCell: "A2", ActivePane: "bottomLeft"}); err != nil {
		e.logger.Warn("Failed to freeze header row", zap.Error(err))
	}

	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("failed to write workbook: %w", err)
	}

	e.logger.Info("Instance report exported", zap.Int("instances", len(instances)))
	return nil
}

func (e *ExcelExporter) writeTasks(ctx context.Context, f *excelize.File, instances []*entity.WorkflowInstance) error {
	if _, err := f.NewSheet(taskSheet); err != nil {
		return fmt.Errorf("failed to create task sheet: %w", err)
	}
	if err := e.writeRow(f, taskSheet, 1, taskHeader); err != nil {
		return err
	}

	row := 2
	for _, inst := range instances {
		tasks, err := e.tasks.ListByInstance(ctx, inst.ID)
		if err != nil {
			return fmt.Errorf("failed to list tasks of instance %d: %w", inst.ID, err)
		}
		for _, t := range tasks {
			values := []interface{}{
				t.ID,
				t.InstanceID,
				t.NodeID,
				t.TaskName,
				t.ActorUserID,
				string(t.Status),
				t.CreatedAt.Format(timeLayout),
				t.UpdatedAt.Format(timeLayout),
			}
			if err := e.writeRow(f, taskSheet, row, values); err != nil {
				return err
			}
			row++
		}
	}
	return nil
}

func (e *ExcelExporter) writeRow(f *excelize.File, sheet string, row int, values []interface{}) error {
	cell, err := excelize.CoordinatesToCellName(1, row)
	if err != nil {
		return fmt.Errorf("failed to resolve cell at row %d: %w", row, err)
	}
	if err := f.SetSheetRow(sheet, cell, &values); err != nil {
		return fmt.Errorf("failed to set row %d of %s: %w", row, sheet, err)
	}
	return nil
}

// amount returns the first numeric amount found in the params, with its spelling in capitals
func (e *ExcelExporter) amount(inst *entity.WorkflowInstance) (interface{}, string) {
	params, err := inst.Params()
	if err != nil {
		e.logger.Warn("Skipping amount of instance with unreadable params",
			zap.Int64("instance_id", inst.ID),
			zap.Error(err))
		return "", ""
	}
	for _, key := range e.amountKeys {
		if v, ok := params.GetFloat(key); ok {
			return v, CapitalAmount(v)
		}
	}
	return "", ""
}

// Verify interface compliance
var _ port.ReportExporter = (*ExcelExporter)(nil)
