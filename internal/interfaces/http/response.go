package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/garyjia/reimburse-flow/internal/application/engine"
	"github.com/garyjia/reimburse-flow/internal/application/service"
	"github.com/garyjia/reimburse-flow/internal/domain/entity"
)

const codeBadRequest = "BAD_REQUEST"

// Response represents a standard JSON response
type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
	Code    string      `json:"code,omitempty"`
}

// InstanceResponse represents a workflow instance in API responses.
// Version is the token to send back with edits.
type InstanceResponse struct {
	ID         int64           `json:"id"`
	FlowKey    string          `json:"flow_key"`
	CurNodeID  string          `json:"cur_node_id"`
	NextNodeID string          `json:"next_node_id,omitempty"`
	Status     string          `json:"status"`
	Params     json.RawMessage `json:"params"`
	Applicant  int64           `json:"applicant"`
	CreateBy   string          `json:"create_by"`
	UpdateBy   string          `json:"update_by"`
	CreatedAt  string          `json:"createtime"`
	UpdatedAt  string          `json:"updatetime"`
	Version    int64           `json:"version"`
}

// TaskResponse represents a workflow task in API responses
type TaskResponse struct {
	ID          int64           `json:"id"`
	InstanceID  int64           `json:"wi_id"`
	NodeID      string          `json:"node_id"`
	TaskName    string          `json:"task_name"`
	ActorUserID int64           `json:"actor_user_id"`
	Status      string          `json:"status"`
	Params      json.RawMessage `json:"params,omitempty"`
	CreatedAt   string          `json:"createtime"`
	UpdatedAt   string          `json:"updatetime"`
	Version     int64           `json:"version"`
}

// ProcessLogResponse represents one audit trail row
type ProcessLogResponse struct {
	ID        int64  `json:"id"`
	TaskID    int64  `json:"task_id,omitempty"`
	UserID    int64  `json:"user_id,omitempty"`
	Operator  string `json:"operator"`
	Action    string `json:"action"`
	Remark    string `json:"remark,omitempty"`
	CreatedAt string `json:"createtime"`
}

// DefinitionResponse represents a stored definition version
type DefinitionResponse struct {
	ID         int64           `json:"id"`
	FlowKey    string          `json:"flow_key"`
	FlowName   string          `json:"flow_name"`
	FlowDefine json.RawMessage `json:"flow_define"`
	Remark     string          `json:"remark,omitempty"`
	CreateBy   string          `json:"create_by"`
	CreatedAt  string          `json:"createtime"`
}

// statusFor maps an error kind to its HTTP status
func statusFor(kind engine.Kind) int {
	switch kind {
	case engine.KindDefinitionNotFound, engine.KindInstanceNotFound, engine.KindTaskNotFound:
		return http.StatusNotFound
	case engine.KindTerminalStateConflict, engine.KindStaleStateConflict, engine.KindConcurrentUpdate:
		return http.StatusConflict
	case engine.KindInvalidDefinition, engine.KindPerformerNotFound, engine.KindInvalidArgument:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

// respondError writes err with the status of its kind. Operation failures hide their cause from the client.
func (h *Handlers) respondError(c *gin.Context, op string, err error) {
	if errors.Is(err, service.ErrReportNotFound) {
		c.JSON(http.StatusNotFound, Response{Success: false, Error: err.Error(), Code: "REPORT_NOT_FOUND"})
		return
	}

	kind := engine.KindOf(err)
	status := statusFor(kind)
	msg := "internal error"
	var e *engine.Error
	if errors.As(err, &e) && e.Message != "" {
		msg = e.Message
	} else if status != http.StatusInternalServerError {
		msg = err.Error()
	}
	if status == http.StatusInternalServerError {
		h.logger.Error(op+" failed", "error", err, "request_id", c.GetString(requestIDHeader))
	}
	c.JSON(status, Response{Success: false, Error: msg, Code: string(kind)})
}

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, Response{Success: false, Error: msg, Code: codeBadRequest})
}

func ok(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, Response{Success: true, Data: data})
}

// pathID parses an integer path parameter, writing 400 when it is malformed
func pathID(c *gin.Context, name string) (int64, bool) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || id <= 0 {
		badRequest(c, "invalid "+name)
		return 0, false
	}
	return id, true
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

// rawJSON returns stored JSON as-is, or nil when it is empty or malformed
func rawJSON(s string) json.RawMessage {
	if s == "" || !json.Valid([]byte(s)) {
		return nil
	}
	return json.RawMessage(s)
}

func toInstanceResponse(inst *entity.WorkflowInstance) InstanceResponse {
	return InstanceResponse{
		ID:         inst.ID,
		FlowKey:    inst.FlowKey,
		CurNodeID:  inst.CurNodeID,
		NextNodeID: inst.NextNodeID,
		Status:     inst.Status.String(),
		Params:     rawJSON(inst.FlowParams),
		Applicant:  inst.Applicant,
		CreateBy:   inst.CreateBy,
		UpdateBy:   inst.UpdateBy,
		CreatedAt:  formatTime(inst.CreatedAt),
		UpdatedAt:  formatTime(inst.UpdatedAt),
		Version:    inst.Version(),
	}
}

func toInstanceResponses(list []*entity.WorkflowInstance) []InstanceResponse {
	out := make([]InstanceResponse, 0, len(list))
	for _, inst := range list {
		out = append(out, toInstanceResponse(inst))
	}
	return out
}

func toTaskResponses(list []*entity.WorkflowTask) []TaskResponse {
	out := make([]TaskResponse, 0, len(list))
	for _, t := range list {
		out = append(out, TaskResponse{
			ID:          t.ID,
			InstanceID:  t.InstanceID,
			NodeID:      t.NodeID,
			TaskName:    t.TaskName,
			ActorUserID: t.ActorUserID,
			Status:      t.Status.String(),
			Params:      rawJSON(t.Params),
			CreatedAt:   formatTime(t.CreatedAt),
			UpdatedAt:   formatTime(t.UpdatedAt),
			Version:     t.Version(),
		})
	}
	return out
}

func toProcessLogResponses(list []*entity.ProcessLog) []ProcessLogResponse {
	out := make([]ProcessLogResponse, 0, len(list))
	for _, l := range list {
		out = append(out, ProcessLogResponse{
			ID:        l.ID,
			TaskID:    l.TaskID,
			UserID:    l.UserID,
			Operator:  l.Operator,
			Action:    l.Action,
			Remark:    l.Remark,
			CreatedAt: formatTime(l.CreatedAt),
		})
	}
	return out
}

func toDefinitionResponse(d *entity.WorkflowDefinition) DefinitionResponse {
	return DefinitionResponse{
		ID:         d.ID,
		FlowKey:    d.FlowKey,
		FlowName:   d.FlowName,
		FlowDefine: rawJSON(d.FlowDefine),
		Remark:     d.Remark,
		CreateBy:   d.CreateBy,
		CreatedAt:  formatTime(d.CreatedAt),
	}
}
