// Package definition registers workflow definitions, from the admin API or a seed file.
package definition

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/garyjia/reimburse-flow/internal/application/engine"
	"github.com/garyjia/reimburse-flow/internal/application/port"
	"github.com/garyjia/reimburse-flow/internal/domain/entity"
	domainwf "github.com/garyjia/reimburse-flow/internal/domain/workflow"
	"github.com/garyjia/reimburse-flow/pkg/utils"
	"go.uber.org/zap"
)

// RegisterRequest describes a new definition version
type RegisterRequest struct {
	FlowKey    string
	FlowName   string
	FlowDefine string
	Remark     string
	CreateBy   string
}

// Service validates and stores definitions. Stored definitions are never modified; registering
// again under the same flow key adds a version that new instances pick up.
type Service struct {
	repo   port.DefinitionRepository
	logger *zap.Logger
}

// NewService creates a new definition service
func NewService(repo port.DefinitionRepository, logger *zap.Logger) *Service {
	return &Service{repo: repo, logger: logger}
}

// Register validates the chain and stores it as the newest version of its flow key
func (s *Service) Register(ctx context.Context, req RegisterRequest) (*entity.WorkflowDefinition, error) {
	if err := utils.ValidateFlowKey(req.FlowKey); err != nil {
		return nil, &engine.Error{Kind: engine.KindInvalidArgument, Message: err.Error()}
	}
	if req.FlowName == "" {
		req.FlowName = req.FlowKey
	}

	define, err := normalize(req.FlowDefine)
	if err != nil {
		return nil, &engine.Error{Kind: engine.KindInvalidDefinition, Message: "flow_define is not valid JSON", Err: err}
	}
	if err := Check(req.FlowName, define); err != nil {
		return nil, err
	}
	if err := utils.ValidateOperator(req.CreateBy); err != nil {
		return nil, &engine.Error{Kind: engine.KindInvalidArgument, Message: "create_by: " + err.Error()}
	}

	def :=  &entity.WorkflowDefinition{
		FlowKey:    req.FlowKey,
		FlowName:   utils.SanitizeString(req.FlowName),
		FlowDefine: define,
		Remark:     req.Remark,
		CreateBy:   req.CreateBy,
	}
	if err := s.repo.Create(ctx, def); err != nil {
		return nil, &engine.Error{Kind: engine.KindOperationFailed, Message: "failed to store definition", Err: err}
	}

	s.logger.Info("Workflow definition registered",
		zap.String("flow_key", def.FlowKey),
		zap.Int64("definition_id", def.ID))
	return def, nil
}

// List returns every stored version
func (s *Service) List(ctx context.Context) ([]*entity.WorkflowDefinition, error) {
	return s.repo.List(ctx)
}

// Latest returns the version new instances of flowKey start from
func (s *Service) Latest(ctx context.Context, flowKey string) (*entity.WorkflowDefinition, error) {
	def, err := s.repo.GetLatestByFlowKey(ctx, flowKey)
	if err != nil {
		return nil, &engine.Error{Kind: engine.KindOperationFailed, Message: "failed to load definition", Err: err}
	}
	if def == nil {
		return nil, &engine.Error{Kind: engine.KindDefinitionNotFound, Message: fmt.Sprintf("no definition for %s", flowKey)}
	}
	return def, nil
}

// Check parses define and enforces the chain shape startProcess requires
func Check(name, define string) error {
	graph, err := domainwf.Parse(&domainwf.Source{Name: name, Define: define})
	if err == nil {
		err = graph.Validate()
	}
	if err != nil {
		return &engine.Error{Kind: engine.KindInvalidDefinition, Message: fmt.Sprintf("definition %s is invalid", name), Err: err}
	}
	return nil
}

// normalize compacts the JSON so identical definitions compare equal
func normalize(define string) (string, error) {
	var buf bytes.Buffer
	if err := json.Compact(&buf, []byte(define)); err != nil {
		return "", err
	}
	return buf.String(), nil
}
