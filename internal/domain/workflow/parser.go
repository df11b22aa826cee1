package workflow

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Source is the record a graph is parsed from: a definition or an instance's frozen snapshot.
type Source struct {
	ID     int64
	Name   string
	Define string
}

type rawDefinition struct {
	Nodes json.RawMessage `json:"nodes"`
}

type rawNode struct {
	ID              string  `json:"id"`
	Name            string  `json:"name"`
	NodeType        string  `json:"nodeType"`
	Ext             Ext     `json:"ext"`
	ApproveUser     userRef `json:"approveUser"`
	ApproveUserName string  `json:"approveUserName"`
}

// userRef accepts a user id written either as a JSON number or a numeric string
type userRef int64

func (u *userRef) UnmarshalJSON(data []byte) error {
	s := strings.Trim(strings.TrimSpace(string(data)), `"`)
	if s == "" || s == "null" {
		*u = 0
		return nil
	}
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid user id %s: %w", string(data), err)
	}
	*u = userRef(id)
	return nil
}

// Parse turns a serialized node array into a Graph.
//
// Definition order is execution order: the next pointer of a START or TASK node is the id
// of the array entry immediately following it, and END nodes get none. Entries of an
// unrecognized kind are skipped without error. Parse does not check the chain shape; call
// Validate for that.
func Parse(src *Source) (*Graph, error) {
	if src == nil {
		return nil, fmt.Errorf("%w: no definition", ErrInvalidDefinition)
	}

	var root rawDefinition
	if err := json.Unmarshal([]byte(src.Define), &root); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidDefinition, err)
	}
	trimmed := bytes.TrimSpace(root.Nodes)
	if len(trimmed) == 0 || trimmed[0] != '[' {
		return nil, fmt.Errorf("%w: nodes is not a list", ErrInvalidDefinition)
	}

	var list []rawNode
	if err := json.Unmarshal(trimmed, &list); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidDefinition, err)
	}

	g := newGraph(src.ID, src.Name, len(list))
	for i, raw := range list {
		next := ""
		if i+1 < len(list) {
			next = list[i+1].ID
		}
		base := BaseNode{ID: raw.ID, Name: raw.Name, NextNodeID: next, Ext: raw.Ext}
		if base.Ext == nil {
			base.Ext = Ext{}
		}

		switch NodeKind(raw.NodeType) {
		case KindStart:
			g.add(&StartNode{BaseNode: base})
		case KindTask:
			g.add(&TaskNode{
				BaseNode:        base,
				ApproveUser:     int64(raw.ApproveUser),
				ApproveUserName: raw.ApproveUserName,
			})
		case KindEnd:
			base.NextNodeID = ""
			g.add(&EndNode{BaseNode: base})
		}
	}
	g.link()

	return g, nil
}
