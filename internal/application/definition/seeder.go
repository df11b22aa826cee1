package definition

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/garyjia/reimburse-flow/internal/application/engine"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// SeedFile is the YAML layout of configs/workflows.yaml
type SeedFile struct {
	Workflows []SeedWorkflow `yaml:"workflows"`
}

// SeedWorkflow is one definition in the seed file; nodes use the same keys as the JSON form
type SeedWorkflow struct {
	FlowKey  string                   `yaml:"flow_key"`
	FlowName string                   `yaml:"flow_name"`
	Remark   string                   `yaml:"remark"`
	Nodes    []map[string]interface{} `yaml:"nodes"`
}

// SeedResult reports what a seed run did per flow key
type SeedResult struct {
	Created   []string
	Unchanged []string
}

// SeedFromFile loads path and registers every workflow that differs from its stored latest version
func (s *Service) SeedFromFile(ctx context.Context, path, createBy string) (*SeedResult, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open seed file: %w", err)
	}
	defer f.Close()
	return s.Seed(ctx, f, createBy)
}

// Seed registers the workflows of r. The whole file is validated before anything is stored.
func (s *Service) Seed(ctx context.Context, r io.Reader, createBy string) (*SeedResult, error) {
	var file SeedFile
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&file); err != nil && err != io.EOF {
		return nil, &engine.Error{Kind: engine.KindInvalidArgument, Message: "seed file is not valid", Err: err}
	}

	requests := make([]RegisterRequest, 0, len(file.Workflows))
	for _, wf := range file.Workflows {
		define, err := json.Marshal(map[string]interface{}{"nodes": wf.Nodes})
		if err != nil {
			return nil, &engine.Error{Kind: engine.KindInvalidArgument, Message: fmt.Sprintf("nodes of %s cannot be encoded", wf.FlowKey), Err: err}
		}
		name := wf.FlowName
		if name == "" {
			name = wf.FlowKey
		}
		if err := Check(name, string(define)); err != nil {
			return nil, fmt.Errorf("workflow %s: %w", wf.FlowKey, err)
		}
		requests = append(requests, RegisterRequest{
			FlowKey:    wf.FlowKey,
			FlowName:   name,
			FlowDefine: string(define),
			Remark:     wf.Remark,
			CreateBy:   createBy,
		})
	}

	result := &SeedResult{}
	for _, req := range requests {
		latest, err := s.repo.GetLatestByFlowKey(ctx, req.FlowKey)
		if err != nil {
			return result, fmt.Errorf("failed to load %s: %w", req.FlowKey, err)
		}
		if latest != nil && latest.FlowName == req.FlowName && sameDefine(latest.FlowDefine, req.FlowDefine) {
			result.Unchanged = append(result.Unchanged, req.FlowKey)
			continue
		}
		if _, err := s.Register(ctx, req); err != nil {
			return result, fmt.Errorf("workflow %s: %w", req.FlowKey, err)
		}
		result.Created = append(result.Created, req.FlowKey)
	}

	s.logger.Info("Workflow definitions seeded",
		zap.Strings("created", result.Created),
		zap.Strings("unchanged", result.Unchanged))
	return result, nil
}

// sameDefine compares two definitions structurally
func sameDefine(a, b string) bool {
	var va, vb interface{}
	if json.Unmarshal([]byte(a), &va) != nil || json.Unmarshal([]byte(b), &vb) != nil {
		return false
	}
	ja, _ := json.Marshal(va)
	jb, _ := json.Marshal(vb)
	return string(ja) == string(jb)
}
