package entity

import "time"

// WorkflowDefinition is a named template describing an ordered chain of nodes.
// FlowDefine holds the serialized node array; running instances keep their own copy.
type WorkflowDefinition struct {
	ID         int64     `json:"id"`
	FlowKey    string    `json:"flow_key"`
	FlowName   string    `json:"flow_name"`
	FlowDefine string    `json:"flow_define"`
	Remark     string    `json:"remark,omitempty"`
	CreateBy   string    `json:"create_by"`
	CreatedAt  time.Time `json:"createtime"`
}
