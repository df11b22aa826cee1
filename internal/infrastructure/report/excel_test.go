package report

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/garyjia/reimburse-flow/internal/domain/entity"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"
)

type taskMap map[int64][]*entity.WorkflowTask

func (m taskMap) ListByInstance(_ context.Context, id int64) ([]*entity.WorkflowTask, error) {
	return m[id], nil
}

func TestExcelExporter_WritesInstancesAndTasks(t *testing.T) {
	at := time.Date(2024, 3, 1, 9, 30, 0, 0, time.UTC)
	instances := []*entity.WorkflowInstance{
		{ID: 1, FlowKey: "BAOXIAO", Status: entity.StatusStart, CurNodeID: "stage-1", Applicant: 5,
			FlowParams: `{"total_money":"1234.56"}`, CreatedAt: at, UpdatedAt: at},
		{ID: 2, FlowKey: "PURCHASE", Status: entity.StatusEnd, CurNodeID: "end",
			FlowParams: `not json`, CreatedAt: at, UpdatedAt: at},
	}
	tasks := taskMap{1: {{ID: 10, InstanceID: 1, NodeID: "stage-1", TaskName: "Leader", ActorUserID: 42,
		Status: entity.StatusStart, CreatedAt: at, UpdatedAt: at}}}

	var buf bytes.Buffer
	require.NoError(t, NewExcelExporter(tasks, nil, zap.NewNop()).ExportInstances(context.Background(), &buf, instances))

	f, err := excelize.OpenReader(&buf)
	require.NoError(t, err)
	defer f.Close()

	assert.Equal(t, []string{instanceSheet, taskSheet}, f.GetSheetList())

	rows, err := f.GetRows(instanceSheet)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, "Amount (capitals)", rows[0][7])
	assert.Equal(t, "1", rows[1][0])
	assert.Equal(t, "1234.56", rows[1][6])
	assert.Equal(t, "壹仟贰佰叁拾肆元伍角陆分", rows[1][7])
	assert.Equal(t, "2024-03-01 09:30:00", rows[1][9])
	assert.Equal(t, "END", rows[2][2])

	taskRows, err := f.GetRows(taskSheet)
	require.NoError(t, err)
	require.Len(t, taskRows, 2)
	assert.Equal(t, "42", taskRows[1][4])
}

func TestExcelExporter_WithoutTaskLister(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, NewExcelExporter(nil, nil, zap.NewNop()).ExportInstances(context.Background(), &buf, nil))

	f, err := excelize.OpenReader(&buf)
	require.NoError(t, err)
	defer f.Close()
	assert.Equal(t, []string{instanceSheet}, f.GetSheetList())
}

func TestCapitalAmount(t *testing.T) {
	tests := []struct {
		amount float64
		want   string
	}{
		{0, "零元整"},
		{1, "壹元整"},
		{0.05, "伍分"},
		{0.5, "伍角"},
		{100.05, "壹佰元零伍分"},
		{1005, "壹仟零伍元整"},
		{10005, "壹万零伍元整"},
		{10000, "壹万元整"},
		{1234.56, "壹仟贰佰叁拾肆元伍角陆分"},
		{100000005, "壹亿零伍元整"},
		{-3, "负叁元整"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, CapitalAmount(tt.amount), "%v", tt.amount)
	}
}
