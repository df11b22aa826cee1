package entity

import "time"

// ProcessLog is the audit trail of an instance: one row per action taken on it.
type ProcessLog struct {
	ID         int64     `json:"id"`
	InstanceID int64     `json:"wi_id"`
	TaskID     int64     `json:"task_id,omitempty"`
	UserID     int64     `json:"user_id,omitempty"`
	Operator   string    `json:"operator"`
	Action     string    `json:"action"`
	Remark     string    `json:"remark,omitempty"`
	CreatedAt  time.Time `json:"createtime"`
}
