package workflow

import (
	"github.com/garyjia/reimburse-flow/internal/domain/entity"
)

// NodeKind identifies the variant of a node
type NodeKind string

const (
	KindStart NodeKind = "START"
	KindTask  NodeKind = "TASK"
	KindEnd   NodeKind = "END"
)

// String returns the wire name of the kind
func (k NodeKind) String() string {
	return string(k)
}

// Ext is the open-ended extension bag of a node (amount thresholds, alternate approvers...)
type Ext = entity.Params

// Visitor handles every node variant. Adding a variant adds a method here,
// so every traversal must handle it before the code compiles again.
type Visitor interface {
	VisitStart(n *StartNode) error
	VisitTask(n *TaskNode) error
	VisitEnd(n *EndNode) error
}

// Node is an immutable descriptor of one point in a workflow definition.
type Node interface {
	NodeID() string
	NodeName() string
	Kind() NodeKind
	// Next returns the id of the following node, empty for the end node
	Next() string
	Extension() Ext
	Accept(v Visitor) error
}

// BaseNode carries the fields shared by every variant
type BaseNode struct {
	ID         string
	Name       string
	NextNodeID string
	Ext        Ext
}

// NodeID returns the node identity
func (b *BaseNode) NodeID() string { return b.ID }

// NodeName returns the display name
func (b *BaseNode) NodeName() string { return b.Name }

// Next returns the id of the following node
func (b *BaseNode) Next() string { return b.NextNodeID }

// Extension returns the extension bag, never nil
func (b *BaseNode) Extension() Ext {
	if b.Ext == nil {
		return Ext{}
	}
	return b.Ext
}

// StartNode is the single entry point of a chain
type StartNode struct {
	BaseNode
}

// Kind implements Node
func (n *StartNode) Kind() NodeKind { return KindStart }

// Accept implements Node
func (n *StartNode) Accept(v Visitor) error { return v.VisitStart(n) }

// TaskNode is a suspension point where performers must act
type TaskNode struct {
	BaseNode
	// ApproveUser is the statically assigned approver, 0 when unset
	ApproveUser     int64
	ApproveUserName string
}

// Kind implements Node
func (n *TaskNode) Kind() NodeKind { return KindTask }

// Accept implements Node
func (n *TaskNode) Accept(v Visitor) error { return v.VisitTask(n) }

// EndNode terminates a chain
type EndNode struct {
	BaseNode
}

// Kind implements Node
func (n *EndNode) Kind() NodeKind { return KindEnd }

// Accept implements Node
func (n *EndNode) Accept(v Visitor) error { return v.VisitEnd(n) }
