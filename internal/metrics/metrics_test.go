package metrics

import (
	"errors"
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/garyjia/reimburse-flow/internal/application/engine"
	"github.com/garyjia/reimburse-flow/internal/domain/entity"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_RecordsByFlowKey(t *testing.T) {
	m := New()

	m.ObserveOperation("BAOXIAO", "complete", nil, 10*time.Millisecond)
	m.ObserveOperation("BAOXIAO", "complete", engine.ErrStaleStateConflict, time.Millisecond)
	m.ObserveOperation("BAOXIAO", "complete", errors.New("disk full"), time.Millisecond)
	m.InstanceFinished("BAOXIAO", entity.StatusEnd)
	m.TasksCreated("PURCHASE", 3)
	m.HookFailed("PURCHASE", "task_created")

	assert.Equal(t, 1.0, testutil.ToFloat64(m.operations.WithLabelValues("BAOXIAO", "complete", "OK")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.operations.WithLabelValues("BAOXIAO", "complete", string(engine.KindStaleStateConflict))))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.operations.WithLabelValues("BAOXIAO", "complete", string(engine.KindOperationFailed))))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.finished.WithLabelValues("BAOXIAO", "END")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.tasksCreated.WithLabelValues("PURCHASE")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.hookFailures.WithLabelValues("PURCHASE", "task_created")))
}

func TestMetrics_Handler(t *testing.T) {
	m := New()
	m.TasksCreated("BAOXIAO", 1)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	require.Equal(t, 200, rec.Code)

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `reimburse_flow_tasks_created_total{flow_key="BAOXIAO"} 1`)
	assert.Contains(t, string(body), "go_goroutines")
}
