package openai

import (
	"bytes"
	"fmt"
	"os"
	"text/template"

	"gopkg.in/yaml.v3"
)

// PromptConfig holds the prompt and model parameters used by the summarizer
type PromptConfig struct {
	Summary struct {
		Temperature  float32 `yaml:"temperature"`
		MaxTokens    int     `yaml:"max_tokens"`
		System       string  `yaml:"system"`
		UserTemplate string  `yaml:"user_template"`
	} `yaml:"summary"`
}

// DefaultPrompts is used when no prompts file is configured
func DefaultPrompts() *PromptConfig {
	var p PromptConfig
	p.Summary.Temperature = 0.2
	p.Summary.MaxTokens = 200
	p.Summary.System = "You summarize approval requests for the approver. Reply with two short sentences in the language of the request, no markdown."
	p.Summary.UserTemplate = "Workflow: {{.FlowName}}\nRequest data (JSON):\n{{.Params}}\n\nSummarize what is being requested, by how much, and anything unusual."
	return &p
}

// LoadPrompts loads prompt configuration from YAML file; missing fields fall back to DefaultPrompts
func LoadPrompts(promptsPath string) (*PromptConfig, error) {
	data, err := os.ReadFile(promptsPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read prompts file: %w", err)
	}

	prompts := DefaultPrompts()
	if err := yaml.Unmarshal(data, prompts); err != nil {
		return nil, fmt.Errorf("failed to unmarshal prompts: %w", err)
	}

	return prompts, nil
}

// renderTemplate renders a template with provided data
func renderTemplate(templateStr string, data interface{}) (string, error) {
	tmpl, err := template.New("prompt").Parse(templateStr)
	if err != nil {
		return "", fmt.Errorf("failed to parse template: %w", err)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("failed to execute template: %w", err)
	}

	return buf.String(), nil
}
