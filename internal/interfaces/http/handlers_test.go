package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"

	"github.com/garyjia/reimburse-flow/internal/application/definition"
	"github.com/garyjia/reimburse-flow/internal/application/engine"
	"github.com/garyjia/reimburse-flow/internal/application/service"
	"github.com/garyjia/reimburse-flow/internal/infrastructure/persistence/repository"
	"github.com/garyjia/reimburse-flow/internal/infrastructure/persistence/sqlite"
	"github.com/garyjia/reimburse-flow/internal/infrastructure/report"
	"github.com/garyjia/reimburse-flow/internal/infrastructure/storage"
	"github.com/garyjia/reimburse-flow/migrations"
	"github.com/garyjia/reimburse-flow/pkg/database"
	"github.com/garyjia/reimburse-flow/pkg/utils"
)

const leaderDefine = `{"nodes":[
  {"id":"start","nodeType":"START"},
  {"id":"leader","name":"Leader","nodeType":"TASK","approveUser":42},
  {"id":"finance","name":"Finance","nodeType":"TASK","approveUser":7},
  {"id":"end","nodeType":"END"}
]}`

func init() {
	gin.SetMode(gin.TestMode)
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error"`
	Code    string          `json:"code"`
}

type testServer struct {
	t      *testing.T
	router *gin.Engine
}

func newTestServer(t *testing.T, checks map[string]HealthCheck) *testServer {
	t.Helper()
	logger := zap.NewNop()

	raw, err := database.New(database.Config{Path: database.MemoryPath}, logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = raw.Close() })
	require.NoError(t, database.NewMigrator(raw, logger).RunMigrations(migrations.FS))

	tasks := repository.NewTaskRepository(raw.DB, logger)
	deps := engine.Deps{
		Definitions: repository.NewDefinitionRepository(raw.DB, logger),
		Instances:   repository.NewInstanceRepository(raw.DB, logger),
		Tasks:       tasks,
		Logs:        repository.NewProcessLogRepository(raw.DB, logger),
		Tx:          sqlite.NewDB(raw.DB, logger),
	}
	registry := engine.NewRegistry(deps, engine.DefaultFlowTypes(engine.DefaultRoutingRule(), nil))
	query := engine.NewQuery(deps)
	kv := utils.NewKVLogger(logger)

	server := NewServer(DefaultServerConfig(), Services{
		Workflows:   registry,
		Queries:     query,
		Definitions: definition.NewService(deps.Definitions, logger),
		Reports: service.NewReportService(query,
			report.NewExcelExporter(tasks, nil, logger),
			storage.NewLocalFileStorage(t.TempDir(), logger), kv),
		Metrics: http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte("# metrics\n"))
		}),
		Checks: checks,
	}, kv)

	return &testServer{t: t, router: server.Router()}
}

func (s *testServer) do(method, path string, body interface{}) *httptest.ResponseRecorder {
	s.t.Helper()
	var reader *bytes.Reader
	switch b := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case string:
		reader = bytes.NewReader([]byte(b))
	default:
		data, err := json.Marshal(b)
		require.NoError(s.t, err)
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func (s *testServer) decode(w *httptest.ResponseRecorder, into interface{}) envelope {
	s.t.Helper()
	var env envelope
	require.NoError(s.t, json.Unmarshal(w.Body.Bytes(), &env), w.Body.String())
	if into != nil {
		require.NoError(s.t, json.Unmarshal(env.Data, into))
	}
	return env
}

func (s *testServer) register(flowKey, define string) {
	s.t.Helper()
	w := s.do(http.MethodPost, "/api/definitions", map[string]interface{}{
		"flow_key":    flowKey,
		"flow_define": json.RawMessage(define),
		"create_by":   "admin",
	})
	require.Equal(s.t, http.StatusCreated, w.Code, w.Body.String())
}

func (s *testServer) start(flowKey string, params map[string]interface{}) InstanceResponse {
	s.t.Helper()
	w := s.do(http.MethodPost, "/api/workflows/"+flowKey+"/instances", map[string]interface{}{
		"operator":  "alice",
		"applicant": 5,
		"params":    params,
	})
	require.Equal(s.t, http.StatusCreated, w.Code, w.Body.String())
	var inst InstanceResponse
	s.decode(w, &inst)
	return inst
}

func (s *testServer) openTask(instanceID int64) TaskResponse {
	s.t.Helper()
	var tasks []TaskResponse
	s.decode(s.do(http.MethodGet, "/api/instances/"+itoa(instanceID)+"/tasks", nil), &tasks)
	for _, task := range tasks {
		if task.Status == "START" {
			return task
		}
	}
	s.t.Fatalf("instance %d has no open task", instanceID)
	return TaskResponse{}
}

func itoa(id int64) string {
	return strconv.FormatInt(id, 10)
}

func TestHealthCheck(t *testing.T) {
	s := newTestServer(t, map[string]HealthCheck{"database": func(context.Context) error { return nil }})

	w := s.do(http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, w.Header().Get(requestIDHeader))

	var health HealthResponse
	s.decode(w, &health)
	assert.Equal(t, "healthy", health.Status)
	assert.Equal(t, "ok", health.Checks["database"])
}

func TestHealthCheck_Unhealthy(t *testing.T) {
	s := newTestServer(t, map[string]HealthCheck{"redis": func(context.Context) error { return errors.New("connection refused") }})

	w := s.do(http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	var health HealthResponse
	env := s.decode(w, &health)
	assert.False(t, env.Success)
	assert.Equal(t, "connection refused", health.Checks["redis"])
}

func TestRequestIDIsPropagated(t *testing.T) {
	s := newTestServer(t, nil)
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set(requestIDHeader, "req-1")
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	assert.Equal(t, "req-1", w.Header().Get(requestIDHeader))
}

func TestMetricsRoute(t *testing.T) {
	s := newTestServer(t, nil)
	w := s.do(http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "# metrics")
}

func TestApprovalChainOverHTTP(t *testing.T) {
	s := newTestServer(t, nil)
	s.register("BAOXIAO", leaderDefine)

	inst := s.start("BAOXIAO", map[string]interface{}{"money": 120.5})
	assert.Equal(t, "leader", inst.CurNodeID)
	assert.Equal(t, "START", inst.Status)
	assert.JSONEq(t, `{"money":120.5}`, string(inst.Params))

	var pending []TaskResponse
	s.decode(s.do(http.MethodGet, "/api/users/42/tasks", nil), &pending)
	require.Len(t, pending, 1)
	assert.Equal(t, "Leader", pending[0].TaskName)

	w := s.do(http.MethodPost, "/api/tasks/"+itoa(pending[0].ID)+"/complete", map[string]interface{}{
		"operator": "lee",
		"remark":   "fine",
		"version":  pending[0].Version,
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var after InstanceResponse
	s.decode(w, &after)
	assert.Equal(t, "finance", after.CurNodeID)

	finance := s.openTask(inst.ID)
	assert.Equal(t, int64(7), finance.ActorUserID)
	w = s.do(http.MethodPost, "/api/tasks/"+itoa(finance.ID)+"/complete", map[string]interface{}{"operator": "fin"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	s.decode(w, &after)
	assert.Equal(t, "END", after.Status)

	w = s.do(http.MethodPost, "/api/tasks/"+itoa(finance.ID)+"/complete", map[string]interface{}{"operator": "fin"})
	assert.Equal(t, http.StatusConflict, w.Code)
	env := s.decode(w, nil)
	assert.Equal(t, string(engine.KindTerminalStateConflict), env.Code)

	var logs []ProcessLogResponse
	s.decode(s.do(http.MethodGet, "/api/instances/"+itoa(inst.ID)+"/logs", nil), &logs)
	actions := make([]string, 0, len(logs))
	for _, l := range logs {
		actions = append(actions, l.Action)
	}
	assert.Equal(t, []string{"START", "COMPLETE", "COMPLETE", "END"}, actions)
}

func TestRejectAndCancel(t *testing.T) {
	s := newTestServer(t, nil)
	s.register("BAOXIAO", leaderDefine)

	rejected := s.start("BAOXIAO", nil)
	task := s.openTask(rejected.ID)
	w := s.do(http.MethodPost, "/api/tasks/"+itoa(task.ID)+"/reject", map[string]interface{}{"operator": "lee", "remark": "no receipt"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var inst InstanceResponse
	s.decode(w, &inst)
	assert.Equal(t, "REJECTED", inst.Status)

	cancelled := s.start("BAOXIAO", nil)
	w = s.do(http.MethodPost, "/api/instances/"+itoa(cancelled.ID)+"/cancel", map[string]interface{}{"operator": "mallory", "applicant": 6})
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code, "only the applicant may cancel")

	w = s.do(http.MethodPost, "/api/instances/"+itoa(cancelled.ID)+"/cancel", map[string]interface{}{"operator": "alice", "applicant": 5})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	s.decode(w, &inst)
	assert.Equal(t, "CANCELLED", inst.Status)

	var list []InstanceResponse
	s.decode(s.do(http.MethodGet, "/api/instances?status=CANCELLED", nil), &list)
	require.Len(t, list, 1)
	assert.Equal(t, cancelled.ID, list[0].ID)
}

func TestEditProcess_StaleVersion(t *testing.T) {
	s := newTestServer(t, nil)
	s.register("BAOXIAO", leaderDefine)
	inst := s.start("BAOXIAO", map[string]interface{}{"money": 10})

	w := s.do(http.MethodPut, "/api/instances/"+itoa(inst.ID)+"/params", map[string]interface{}{
		"operator": "alice", "applicant": 5, "params": map[string]interface{}{"money": 12}, "version": inst.Version,
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var edited InstanceResponse
	s.decode(w, &edited)
	assert.JSONEq(t, `{"money":12}`, string(edited.Params))
	assert.Greater(t, edited.Version, inst.Version)

	w = s.do(http.MethodPut, "/api/instances/"+itoa(inst.ID)+"/params", map[string]interface{}{
		"operator": "alice", "applicant": 5, "params": map[string]interface{}{"money": 14}, "version": inst.Version,
	})
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, string(engine.KindStaleStateConflict), s.decode(w, nil).Code)
}

func TestErrorMapping(t *testing.T) {
	s := newTestServer(t, nil)
	s.register("BAOXIAO", leaderDefine)

	tests := []struct {
		name   string
		method string
		path   string
		body   interface{}
		status int
		code   string
	}{
		{"unknown instance", http.MethodGet, "/api/instances/999", nil, http.StatusNotFound, string(engine.KindInstanceNotFound)},
		{"malformed id", http.MethodGet, "/api/instances/abc", nil, http.StatusBadRequest, codeBadRequest},
		{"unknown task", http.MethodPost, "/api/tasks/999/complete", map[string]interface{}{"operator": "x"}, http.StatusNotFound, string(engine.KindTaskNotFound)},
		{"missing operator", http.MethodPost, "/api/tasks/1/complete", map[string]interface{}{}, http.StatusBadRequest, codeBadRequest},
		{"unknown flow", http.MethodPost, "/api/workflows/LEAVE/instances", map[string]interface{}{"operator": "a", "applicant": 5}, http.StatusNotFound, string(engine.KindDefinitionNotFound)},
		{"bad status filter", http.MethodGet, "/api/instances?status=DONE", nil, http.StatusUnprocessableEntity, string(engine.KindInvalidArgument)},
		{"invalid definition", http.MethodPost, "/api/definitions", map[string]interface{}{
			"flow_key": "PURCHASE", "flow_define": json.RawMessage(`{"nodes":[{"id":"s","nodeType":"START"}]}`), "create_by": "admin",
		}, http.StatusUnprocessableEntity, string(engine.KindInvalidDefinition)},
		{"purchase without definition", http.MethodPost, "/api/workflows/PURCHASE/instances", map[string]interface{}{"operator": "a", "applicant": 5}, http.StatusNotFound, string(engine.KindDefinitionNotFound)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := s.do(tt.method, tt.path, tt.body)
			assert.Equal(t, tt.status, w.Code, w.Body.String())
			env := s.decode(w, nil)
			assert.False(t, env.Success)
			assert.Equal(t, tt.code, env.Code)
			assert.NotEmpty(t, env.Error)
		})
	}
}

func TestDefinitionsAdmin(t *testing.T) {
	s := newTestServer(t, nil)

	seed := "workflows:\n  - flow_key: PURCHASE\n    nodes:\n      - {id: start, nodeType: START}\n      - {id: end, nodeType: END}\n"
	w := s.do(http.MethodPost, "/api/definitions/seed", seed)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Contains(t, w.Body.String(), `"created":["PURCHASE"]`)

	w = s.do(http.MethodPost, "/api/definitions/seed", "workflows: [")
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)

	var def DefinitionResponse
	s.decode(s.do(http.MethodGet, "/api/definitions/PURCHASE", nil), &def)
	assert.Equal(t, "PURCHASE", def.FlowKey)

	inst := s.start("PURCHASE", nil)
	assert.Equal(t, "END", inst.Status, "a start-end chain finishes synchronously")

	var defs []DefinitionResponse
	s.decode(s.do(http.MethodGet, "/api/definitions", nil), &defs)
	assert.Len(t, defs, 1)

	var keys []string
	s.decode(s.do(http.MethodGet, "/api/workflows", nil), &keys)
	assert.Equal(t, []string{"BAOXIAO", "PURCHASE"}, keys)
}

func TestReports(t *testing.T) {
	s := newTestServer(t, nil)
	s.register("BAOXIAO", leaderDefine)
	s.start("BAOXIAO", map[string]interface{}{"money": 88})

	w := s.do(http.MethodGet, "/api/reports/instances.xlsx?flow_key=BAOXIAO", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, xlsxContentType, w.Header().Get("Content-Type"))
	f, err := excelize.OpenReader(bytes.NewReader(w.Body.Bytes()))
	require.NoError(t, err)
	rows, err := f.GetRows("Instances")
	require.NoError(t, err)
	assert.Len(t, rows, 2)

	w = s.do(http.MethodPost, "/api/reports?flow_key=BAOXIAO", nil)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var archived struct {
		Name string `json:"name"`
	}
	s.decode(w, &archived)
	require.NotEmpty(t, archived.Name)

	var names []string
	s.decode(s.do(http.MethodGet, "/api/reports", nil), &names)
	assert.Equal(t, []string{archived.Name}, names)

	w = s.do(http.MethodGet, "/api/reports/"+archived.Name, nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.NotZero(t, w.Body.Len())

	w = s.do(http.MethodGet, "/api/reports/missing.xlsx", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestStatusFor(t *testing.T) {
	assert.Equal(t, http.StatusNotFound, statusFor(engine.KindTaskNotFound))
	assert.Equal(t, http.StatusConflict, statusFor(engine.KindConcurrentUpdate))
	assert.Equal(t, http.StatusUnprocessableEntity, statusFor(engine.KindPerformerNotFound))
	assert.Equal(t, http.StatusInternalServerError, statusFor(engine.KindOperationFailed))
}
