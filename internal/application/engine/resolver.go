package engine

import (
	"context"
	"strconv"
	"strings"

	"github.com/garyjia/reimburse-flow/internal/domain/entity"
	domainwf "github.com/garyjia/reimburse-flow/internal/domain/workflow"
	"github.com/garyjia/reimburse-flow/pkg/utils"
)

// PerformerResolver decides who must act on a task node.
// A successful result is never empty; failures carry KindPerformerNotFound.
type PerformerResolver interface {
	Resolve(ctx context.Context, inst *entity.WorkflowInstance, node *domainwf.TaskNode, params entity.Params) ([]int64, error)
}

// ResolverFunc adapts a function to PerformerResolver
type ResolverFunc func(ctx context.Context, inst *entity.WorkflowInstance, node *domainwf.TaskNode, params entity.Params) ([]int64, error)

// Resolve implements PerformerResolver
func (f ResolverFunc) Resolve(ctx context.Context, inst *entity.WorkflowInstance, node *domainwf.TaskNode, params entity.Params) ([]int64, error) {
	return f(ctx, inst, node, params)
}

// DefaultApproverParam is the business param naming the current approver
const DefaultApproverParam = "approve_user"

// StaticResolver uses the node's fixed approver, falling back to an approver named in the business params.
type StaticResolver struct {
	// ParamKey defaults to DefaultApproverParam
	ParamKey string
}

// Resolve implements PerformerResolver
func (r StaticResolver) Resolve(ctx context.Context, inst *entity.WorkflowInstance, node *domainwf.TaskNode, params entity.Params) ([]int64, error) {
	if node.ApproveUser != 0 {
		return []int64{node.ApproveUser}, nil
	}

	key := r.ParamKey
	if key == "" {
		key = DefaultApproverParam
	}
	if ids := userIDs(params[key]); len(ids) > 0 {
		return ids, nil
	}

	return nil, newError(KindPerformerNotFound, "[%s] approver not found", node.NodeName())
}

// RoutingRule names the keys an amount-based reroute reads
type RoutingRule struct {
	// node ext keys
	ThresholdKey string
	SubjectKey   string
	AlternateKey string

	// business param keys
	TotalParam       string
	ItemsParam       string
	ItemSubjectParam string
}

// DefaultRoutingRule returns the keys used by the shipped purchase and reimbursement forms
func DefaultRoutingRule() RoutingRule {
	return RoutingRule{
		ThresholdKey:     "money",
		SubjectKey:       "subject",
		AlternateKey:     "otherApproveUser",
		TotalParam:       "total_money",
		ItemsParam:       "detailList",
		ItemSubjectParam: "subject_id",
	}
}

// AmountRoutingResolver sends a task to the node's alternate approver when the business total reaches the
// node's threshold and at least one line item is booked outside the node's primary subject.
// Every other case goes to Default.
type AmountRoutingResolver struct {
	Rule    RoutingRule
	Default PerformerResolver
}

// NewAmountRoutingResolver creates a resolver falling back to StaticResolver
func NewAmountRoutingResolver(rule RoutingRule) *AmountRoutingResolver {
	return &AmountRoutingResolver{Rule: rule, Default: StaticResolver{}}
}

// Resolve implements PerformerResolver
func (r *AmountRoutingResolver) Resolve(ctx context.Context, inst *entity.WorkflowInstance, node *domainwf.TaskNode, params entity.Params) ([]int64, error) {
	if total, ok := params.GetFloat(r.Rule.TotalParam); ok {
		if err := utils.ValidateAmount(total); err != nil {
			return nil, wrapError(KindInvalidArgument, err, "[%s] cannot route %s", node.NodeName(), r.Rule.TotalParam)
		}
	}
	if r.reroute(node.Extension(), params) {
		alt := userIDs(node.Extension()[r.Rule.AlternateKey])
		if len(alt) == 0 {
			return nil, newError(KindPerformerNotFound, "[%s] alternate approver not configured", node.NodeName())
		}
		return alt, nil
	}

	def := r.Default
	if def == nil {
		def = StaticResolver{}
	}
	return def.Resolve(ctx, inst, node, params)
}

func (r *AmountRoutingResolver) reroute(ext domainwf.Ext, params entity.Params) bool {
	threshold, ok := ext.GetFloat(r.Rule.ThresholdKey)
	if !ok {
		return false
	}
	total, ok := params.GetFloat(r.Rule.TotalParam)
	if !ok || total < threshold {
		return false
	}

	prefix := scalarString(ext[r.Rule.SubjectKey])
	for _, item := range params.GetList(r.Rule.ItemsParam) {
		if !strings.HasPrefix(scalarString(item[r.Rule.ItemSubjectParam]), prefix) {
			return true
		}
	}
	return false
}

// userIDs reads a user id or list of user ids written as numbers or numeric strings
func userIDs(val interface{}) []int64 {
	if list, ok := val.([]interface{}); ok {
		ids := make([]int64, 0, len(list))
		for _, item := range list {
			if id := userID(item); id != 0 {
				ids = append(ids, id)
			}
		}
		return ids
	}
	if id := userID(val); id != 0 {
		return []int64{id}
	}
	return nil
}

func userID(val interface{}) int64 {
	f, ok := entity.Params{"v": val}.GetFloat("v")
	if !ok {
		return 0
	}
	return int64(f)
}

func scalarString(val interface{}) string {
	switch v := val.(type) {
	case nil:
		return ""
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case int:
		return strconv.Itoa(v)
	case int64:
		return strconv.FormatInt(v, 10)
	}
	return ""
}
