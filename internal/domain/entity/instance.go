package entity

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// WorkflowInstance is one execution of a workflow definition.
// FlowDefine is the snapshot taken at creation time and is authoritative for every later graph lookup.
type WorkflowInstance struct {
	ID         int64     `json:"id"`
	FlowKey    string    `json:"flow_key"`
	CurNodeID  string    `json:"cur_node_id"`
	NextNodeID string    `json:"next_node_id"`
	Status     Status    `json:"status"`
	FlowParams string    `json:"flow_params"`
	FlowDefine string    `json:"flow_define"`
	Applicant  int64     `json:"applicant"`
	CreateBy   string    `json:"create_by"`
	UpdateBy   string    `json:"update_by"`
	CreatedAt  time.Time `json:"createtime"`
	UpdatedAt  time.Time `json:"updatetime"`
}

// Params decodes the serialized business payload
func (i *WorkflowInstance) Params() (Params, error) {
	return DecodeParams(i.FlowParams)
}

// Version returns the optimistic version token of the instance
func (i *WorkflowInstance) Version() int64 {
	return i.UpdatedAt.UnixMilli()
}

// Params is the opaque business payload carried by an instance or recorded on a task.
type Params map[string]interface{}

// EncodeParams serializes params to the JSON stored in flow_params / params columns
func EncodeParams(p Params) (string, error) {
	if p == nil {
		p = Params{}
	}
	data, err := json.Marshal(p)
	if err != nil {
		return "", fmt.Errorf("failed to encode params: %w", err)
	}
	return string(data), nil
}

// DecodeParams parses a stored JSON payload; an empty string yields empty params
func DecodeParams(raw string) (Params, error) {
	p := Params{}
	if raw == "" {
		return p, nil
	}
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		return nil, fmt.Errorf("failed to decode params: %w", err)
	}
	return p, nil
}

// GetString retrieves a string value
func (p Params) GetString(key string) string {
	if val, ok := p[key]; ok {
		if str, ok := val.(string); ok {
			return str
		}
	}
	return ""
}

// GetFloat retrieves a numeric value; numeric strings are accepted since forms often submit them
func (p Params) GetFloat(key string) (float64, bool) {
	val, ok := p[key]
	if !ok {
		return 0, false
	}
	return toFloat(val)
}

// GetInt retrieves an integer value
func (p Params) GetInt(key string) int64 {
	if f, ok := p.GetFloat(key); ok {
		return int64(f)
	}
	return 0
}

// GetList retrieves a list of objects, skipping elements that are not objects
func (p Params) GetList(key string) []Params {
	raw, ok := p[key].([]interface{})
	if !ok {
		if typed, ok := p[key].([]Params); ok {
			return typed
		}
		return nil
	}
	list := make([]Params, 0, len(raw))
	for _, item := range raw {
		switch v := item.(type) {
		case map[string]interface{}:
			list = append(list, Params(v))
		case Params:
			list = append(list, v)
		}
	}
	return list
}

// Clone returns a shallow copy
func (p Params) Clone() Params {
	out := make(Params, len(p)+2)
	for k, v := range p {
		out[k] = v
	}
	return out
}

func toFloat(val interface{}) (float64, bool) {
	switch v := val.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case json.Number:
		f, err := v.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		return f, err == nil
	}
	return 0, false
}
