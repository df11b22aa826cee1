package http

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/garyjia/reimburse-flow/internal/application/definition"
	"github.com/garyjia/reimburse-flow/internal/application/engine"
	"github.com/garyjia/reimburse-flow/internal/application/port"
	"github.com/garyjia/reimburse-flow/internal/domain/entity"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// Handlers contains all HTTP request handlers
type Handlers struct {
	services Services
	version  string
	logger   Logger
}

// NewHandlers creates a new Handlers instance
func NewHandlers(services Services, version string, logger Logger) *Handlers {
	return &Handlers{services: services, version: version, logger: logger}
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status    string            `json:"status"`
	Timestamp string            `json:"timestamp"`
	Version   string            `json:"version"`
	Checks    map[string]string `json:"checks,omitempty"`
}

// StartRequest is the body of POST /api/workflows/:flowKey/instances
type StartRequest struct {
	Operator  string        `json:"operator" binding:"required,max=64"`
	Applicant int64         `json:"applicant" binding:"required,gt=0"`
	Params    entity.Params `json:"params"`
}

// TaskActionRequest is the body of task complete/reject
type TaskActionRequest struct {
	Operator string        `json:"operator" binding:"required,max=64"`
	Params   entity.Params `json:"params"`
	Remark   string        `json:"remark"`
	Version  int64         `json:"version"`
}

// CancelRequest is the body of POST /api/instances/:id/cancel
type CancelRequest struct {
	Operator  string `json:"operator" binding:"required,max=64"`
	Applicant int64  `json:"applicant" binding:"required,gt=0"`
	Remark    string `json:"remark"`
}

// EditRequest is the body of PUT /api/instances/:id/params
type EditRequest struct {
	Operator  string        `json:"operator" binding:"required,max=64"`
	Applicant int64         `json:"applicant" binding:"required,gt=0"`
	Params    entity.Params `json:"params" binding:"required"`
	Version   int64         `json:"version"`
}

// RegisterDefinitionRequest is the body of POST /api/definitions
type RegisterDefinitionRequest struct {
	FlowKey    string          `json:"flow_key" binding:"required"`
	FlowName   string          `json:"flow_name"`
	FlowDefine json.RawMessage `json:"flow_define" binding:"required"`
	Remark     string          `json:"remark"`
	CreateBy   string          `json:"create_by" binding:"required,max=64"`
}

// ListInstancesRequest represents query parameters for listing instances
type ListInstancesRequest struct {
	FlowKey   string `form:"flow_key"`
	Status    string `form:"status"`
	Applicant int64  `form:"applicant"`
	Limit     int    `form:"limit"`
	Offset    int    `form:"offset"`
}

func (r ListInstancesRequest) filter() port.InstanceFilter {
	return port.InstanceFilter{
		FlowKey:   r.FlowKey,
		Status:    entity.Status(r.Status),
		Applicant: r.Applicant,
		Limit:     r.Limit,
		Offset:    r.Offset,
	}
}

// PageRequest represents paging query parameters
type PageRequest struct {
	Limit  int `form:"limit"`
	Offset int `form:"offset"`
}

// HealthCheck handles GET /health
func (h *Handlers) HealthCheck(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
	defer cancel()

	resp := HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Version:   h.version,
	}
	status := http.StatusOK
	if len(h.services.Checks) > 0 {
		resp.Checks = make(map[string]string, len(h.services.Checks))
		for name, check := range h.services.Checks {
			if err := check(ctx); err != nil {
				resp.Checks[name] = err.Error()
				resp.Status = "unhealthy"
				status = http.StatusServiceUnavailable
				continue
			}
			resp.Checks[name] = "ok"
		}
	}

	c.JSON(status, Response{Success: status == http.StatusOK, Data: resp})
}

// ListWorkflows handles GET /api/workflows
func (h *Handlers) ListWorkflows(c *gin.Context) {
	ok(c, h.services.Workflows.FlowKeys())
}

// StartProcess handles POST /api/workflows/:flowKey/instances
func (h *Handlers) StartProcess(c *gin.Context) {
	var req StartRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body: "+err.Error())
		return
	}

	inst, err := h.services.Workflows.StartProcess(c.Request.Context(), c.Param("flowKey"), engine.StartRequest{
		Params:    req.Params,
		Operator:  req.Operator,
		Applicant: req.Applicant,
	})
	if err != nil {
		h.respondError(c, "StartProcess", err)
		return
	}

	c.JSON(http.StatusCreated, Response{Success: true, Data: toInstanceResponse(inst)})
}

// ListInstances handles GET /api/instances
func (h *Handlers) ListInstances(c *gin.Context) {
	var req ListInstancesRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		badRequest(c, "invalid query parameters")
		return
	}

	list, err := h.services.Queries.ListInstances(c.Request.Context(), req.filter())
	if err != nil {
		h.respondError(c, "ListInstances", err)
		return
	}
	ok(c, toInstanceResponses(list))
}

// GetInstance handles GET /api/instances/:id
func (h *Handlers) GetInstance(c *gin.Context) {
	id, valid := pathID(c, "id")
	if !valid {
		return
	}

	inst, err := h.services.Queries.GetInstance(c.Request.Context(), id)
	if err != nil {
		h.respondError(c, "GetInstance", err)
		return
	}
	ok(c, toInstanceResponse(inst))
}

// ListInstanceTasks handles GET /api/instances/:id/tasks
func (h *Handlers) ListInstanceTasks(c *gin.Context) {
	id, valid := pathID(c, "id")
	if !valid {
		return
	}

	tasks, err := h.services.Queries.ListTasks(c.Request.Context(), id)
	if err != nil {
		h.respondError(c, "ListTasks", err)
		return
	}
	ok(c, toTaskResponses(tasks))
}

// ProcessLog handles GET /api/instances/:id/logs
func (h *Handlers) ProcessLog(c *gin.Context) {
	id, valid := pathID(c, "id")
	if !valid {
		return
	}

	logs, err := h.services.Queries.ProcessLog(c.Request.Context(), id)
	if err != nil {
		h.respondError(c, "ProcessLog", err)
		return
	}
	ok(c, toProcessLogResponses(logs))
}

// CancelProcess handles POST /api/instances/:id/cancel
func (h *Handlers) CancelProcess(c *gin.Context) {
	id, valid := pathID(c, "id")
	if !valid {
		return
	}
	var req CancelRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body: "+err.Error())
		return
	}

	inst, err := h.services.Workflows.CancelProcess(c.Request.Context(), engine.CancelRequest{
		InstanceID: id,
		Applicant:  req.Applicant,
		Operator:   req.Operator,
		Remark:     req.Remark,
	})
	if err != nil {
		h.respondError(c, "CancelProcess", err)
		return
	}
	ok(c, toInstanceResponse(inst))
}

// EditProcess handles PUT /api/instances/:id/params
func (h *Handlers) EditProcess(c *gin.Context) {
	id, valid := pathID(c, "id")
	if !valid {
		return
	}
	var req EditRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body: "+err.Error())
		return
	}

	inst, err := h.services.Workflows.EditProcess(c.Request.Context(), engine.EditRequest{
		InstanceID: id,
		Applicant:  req.Applicant,
		Operator:   req.Operator,
		Params:     req.Params,
		Version:    req.Version,
	})
	if err != nil {
		h.respondError(c, "EditProcess", err)
		return
	}
	ok(c, toInstanceResponse(inst))
}

// ResumeProcess handles POST /api/instances/:id/resume
func (h *Handlers) ResumeProcess(c *gin.Context) {
	id, valid := pathID(c, "id")
	if !valid {
		return
	}

	resumed, err := h.services.Workflows.Resume(c.Request.Context(), id)
	if err != nil {
		h.respondError(c, "Resume", err)
		return
	}
	inst, err := h.services.Queries.GetInstance(c.Request.Context(), id)
	if err != nil {
		h.respondError(c, "GetInstance", err)
		return
	}
	ok(c, gin.H{"resumed": resumed, "instance": toInstanceResponse(inst)})
}

// CompleteTask handles POST /api/tasks/:id/complete
func (h *Handlers) CompleteTask(c *gin.Context) {
	h.taskAction(c, "CompleteTask", h.services.Workflows.CompleteTask)
}

// RejectTask handles POST /api/tasks/:id/reject
func (h *Handlers) RejectTask(c *gin.Context) {
	h.taskAction(c, "RejectTask", h.services.Workflows.RejectTask)
}

// taskAction runs a task operation and answers with the instance as it stands afterwards
func (h *Handlers) taskAction(c *gin.Context, op string, run func(context.Context, engine.TaskAction) error) {
	id, valid := pathID(c, "id")
	if !valid {
		return
	}
	var req TaskActionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body: "+err.Error())
		return
	}

	ctx := c.Request.Context()
	if err := run(ctx, engine.TaskAction{
		TaskID:   id,
		Operator: req.Operator,
		Params:   req.Params,
		Remark:   req.Remark,
		Version:  req.Version,
	}); err != nil {
		h.respondError(c, op, err)
		return
	}

	h.logger.Info("Task action applied", "operation", op, "task_id", id, "operator", req.Operator)

	task, err := h.services.Queries.GetTask(ctx, id)
	if err != nil {
		h.respondError(c, op, err)
		return
	}
	inst, err := h.services.Queries.GetInstance(ctx, task.InstanceID)
	if err != nil {
		h.respondError(c, op, err)
		return
	}
	ok(c, toInstanceResponse(inst))
}

// ListPendingTasks handles GET /api/users/:userId/tasks
func (h *Handlers) ListPendingTasks(c *gin.Context) {
	userID, valid := pathID(c, "userId")
	if !valid {
		return
	}
	var page PageRequest
	if err := c.ShouldBindQuery(&page); err != nil {
		badRequest(c, "invalid query parameters")
		return
	}

	tasks, err := h.services.Queries.ListPendingTasks(c.Request.Context(), userID, page.Limit, page.Offset)
	if err != nil {
		h.respondError(c, "ListPendingTasks", err)
		return
	}
	ok(c, toTaskResponses(tasks))
}

// ListDefinitions handles GET /api/definitions
func (h *Handlers) ListDefinitions(c *gin.Context) {
	defs, err := h.services.Definitions.List(c.Request.Context())
	if err != nil {
		h.respondError(c, "ListDefinitions", err)
		return
	}
	out := make([]DefinitionResponse, 0, len(defs))
	for _, d := range defs {
		out = append(out, toDefinitionResponse(d))
	}
	ok(c, out)
}

// GetDefinition handles GET /api/definitions/:flowKey
func (h *Handlers) GetDefinition(c *gin.Context) {
	def, err := h.services.Definitions.Latest(c.Request.Context(), c.Param("flowKey"))
	if err != nil {
		h.respondError(c, "GetDefinition", err)
		return
	}
	ok(c, toDefinitionResponse(def))
}

// RegisterDefinition handles POST /api/definitions
func (h *Handlers) RegisterDefinition(c *gin.Context) {
	var req RegisterDefinitionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body: "+err.Error())
		return
	}

	def, err := h.services.Definitions.Register(c.Request.Context(), definition.RegisterRequest{
		FlowKey:    req.FlowKey,
		FlowName:   req.FlowName,
		FlowDefine: string(req.FlowDefine),
		Remark:     req.Remark,
		CreateBy:   req.CreateBy,
	})
	if err != nil {
		h.respondError(c, "RegisterDefinition", err)
		return
	}
	c.JSON(http.StatusCreated, Response{Success: true, Data: toDefinitionResponse(def)})
}

// SeedDefinitions handles POST /api/definitions/seed with a YAML body in the workflows.yaml layout
func (h *Handlers) SeedDefinitions(c *gin.Context) {
	createBy := c.Query("create_by")
	if createBy == "" {
		createBy = "admin"
	}

	res, err := h.services.Definitions.Seed(c.Request.Context(), c.Request.Body, createBy)
	if err != nil {
		h.respondError(c, "SeedDefinitions", err)
		return
	}
	ok(c, gin.H{"created": res.Created, "unchanged": res.Unchanged})
}

// ExportInstances handles GET /api/reports/instances.xlsx
func (h *Handlers) ExportInstances(c *gin.Context) {
	var req ListInstancesRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		badRequest(c, "invalid query parameters")
		return
	}

	var buf bytes.Buffer
	if err := h.services.Reports.Export(c.Request.Context(), &buf, req.filter()); err != nil {
		h.respondError(c, "ExportInstances", err)
		return
	}

	name := "instances-" + time.Now().UTC().Format("20060102T150405Z") + ".xlsx"
	c.Header("Content-Disposition", `attachment; filename="`+name+`"`)
	c.Data(http.StatusOK, xlsxContentType, buf.Bytes())
}

// ArchiveReport handles POST /api/reports
func (h *Handlers) ArchiveReport(c *gin.Context) {
	var req ListInstancesRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		badRequest(c, "invalid query parameters")
		return
	}

	name, err := h.services.Reports.Archive(c.Request.Context(), req.filter())
	if err != nil {
		h.respondError(c, "ArchiveReport", err)
		return
	}
	c.JSON(http.StatusCreated, Response{Success: true, Data: gin.H{"name": name}})
}

// ListReports handles GET /api/reports
func (h *Handlers) ListReports(c *gin.Context) {
	names, err := h.services.Reports.Archives(c.Request.Context())
	if err != nil {
		h.respondError(c, "ListReports", err)
		return
	}
	ok(c, names)
}

// DownloadReport handles GET /api/reports/:name
func (h *Handlers) DownloadReport(c *gin.Context) {
	name := c.Param("name")
	data, err := h.services.Reports.ReadArchive(c.Request.Context(), name)
	if err != nil {
		h.respondError(c, "DownloadReport", err)
		return
	}
	c.Header("Content-Disposition", `attachment; filename="`+name+`"`)
	c.Header("Content-Length", strconv.Itoa(len(data)))
	c.Data(http.StatusOK, xlsxContentType, data)
}
