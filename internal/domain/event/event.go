package event

import (
	"time"

	"github.com/google/uuid"
)

// Payload keys shared by publishers and subscribers
const (
	KeyNodeID   = "node_id"
	KeyNodeName = "node_name"
	KeyTaskIDs  = "task_ids"
	KeyActors   = "actor_user_ids"
	KeyOperator = "operator"
	KeyStatus   = "status"
	KeyRemark   = "remark"
)

// Event is a lifecycle fact about a workflow instance, published after the step that produced it has committed.
type Event struct {
	ID            string                 `json:"id"`
	Type          Type                   `json:"type"`
	FlowKey       string                 `json:"flow_key"`
	InstanceID    int64                  `json:"instance_id"`
	Payload       map[string]interface{} `json:"payload"`
	Timestamp     time.Time              `json:"timestamp"`
	CorrelationID string                 `json:"correlation_id"`
}

// NewEvent creates a new domain event with a fresh id; the event starts its own correlation chain
func NewEvent(eventType Type, flowKey string, instanceID int64, payload map[string]interface{}) *Event {
	id := uuid.NewString()
	return newEvent(id, eventType, flowKey, instanceID, payload, id)
}

// NewEventWithCorrelation creates an event linked to an existing correlation chain
func NewEventWithCorrelation(eventType Type, flowKey string, instanceID int64, payload map[string]interface{}, correlationID string) *Event {
	return newEvent(uuid.NewString(), eventType, flowKey, instanceID, payload, correlationID)
}

func newEvent(id string, eventType Type, flowKey string, instanceID int64, payload map[string]interface{}, correlationID string) *Event {
	if payload == nil {
		payload = map[string]interface{}{}
	}
	return &Event{
		ID:            id,
		Type:          eventType,
		FlowKey:       flowKey,
		InstanceID:    instanceID,
		Payload:       payload,
		Timestamp:     time.Now(),
		CorrelationID: correlationID,
	}
}

// WithPayload returns a copy of the event with an added payload entry
func (e *Event) WithPayload(key string, value interface{}) *Event {
	newPayload := make(map[string]interface{}, len(e.Payload)+1)
	for k, v := range e.Payload {
		newPayload[k] = v
	}
	newPayload[key] = value

	cp := *e
	cp.Payload = newPayload
	return &cp
}

// GetPayloadString retrieves a string value from the payload
func (e *Event) GetPayloadString(key string) string {
	if val, ok := e.Payload[key]; ok {
		if str, ok := val.(string); ok {
			return str
		}
	}
	return ""
}

// GetPayloadInt retrieves an int64 value from the payload
func (e *Event) GetPayloadInt(key string) int64 {
	if val, ok := e.Payload[key]; ok {
		return toInt64(val)
	}
	return 0
}

// GetPayloadInts retrieves a list of int64 values from the payload
func (e *Event) GetPayloadInts(key string) []int64 {
	val, ok := e.Payload[key]
	if !ok {
		return nil
	}
	switch v := val.(type) {
	case []int64:
		out := make([]int64, len(v))
		copy(out, v)
		return out
	case []interface{}:
		out := make([]int64, 0, len(v))
		for _, item := range v {
			out = append(out, toInt64(item))
		}
		return out
	}
	return nil
}

func toInt64(val interface{}) int64 {
	switch v := val.(type) {
	case int64:
		return v
	case int:
		return int64(v)
	case float64:
		return int64(v)
	}
	return 0
}
