package openai

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/garyjia/reimburse-flow/internal/application/port"
	"github.com/garyjia/reimburse-flow/internal/domain/entity"
	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
)

// Config holds OpenAI connection settings
type Config struct {
	APIKey  string
	Model   string
	BaseURL string
}

// Summarizer implements port.Summarizer using chat completions
type Summarizer struct {
	client  *openai.Client
	model   string
	prompts *PromptConfig
	logger  *zap.Logger
}

// NewSummarizer creates a new OpenAI summarizer; nil prompts selects DefaultPrompts
func NewSummarizer(cfg Config, prompts *PromptConfig, logger *zap.Logger) *Summarizer {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	model := cfg.Model
	if model == "" {
		model = openai.GPT4oMini
	}
	if prompts == nil {
		prompts = DefaultPrompts()
	}

	return &Summarizer{
		client:  openai.NewClientWithConfig(clientCfg),
		model:   model,
		prompts: prompts,
		logger:  logger,
	}
}

// Summarize asks the model for a short digest of the request params
func (s *Summarizer) Summarize(ctx context.Context, flowName string, params entity.Params) (string, error) {
	payload, err := json.MarshalIndent(params, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal params: %w", err)
	}

	prompt, err := renderTemplate(s.prompts.Summary.UserTemplate, map[string]interface{}{
		"FlowName": flowName,
		"Params":   string(payload),
	})
	if err != nil {
		return "", err
	}

	req := openai.ChatCompletionRequest{
		Model:       s.model,
		Temperature: s.prompts.Summary.Temperature,
		MaxTokens:   s.prompts.Summary.MaxTokens,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: s.prompts.Summary.System},
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
	}

	resp, err := s.client.CreateChatCompletion(ctx, req)
	if err != nil {
		s.logger.Error("OpenAI API call failed", zap.Error(err))
		return "", fmt.Errorf("OpenAI API call failed: %w", err)
	}

	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("no response from OpenAI")
	}

	summary := strings.TrimSpace(resp.Choices[0].Message.Content)
	s.logger.Debug("Summary generated",
		zap.String("flow_name", flowName),
		zap.Int("tokens", resp.Usage.TotalTokens))
	return summary, nil
}

// Verify interface compliance
var _ port.Summarizer = (*Summarizer)(nil)
