package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := load("", "")
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "data/reimburse_flow.db", cfg.Database.Path)
	assert.Equal(t, "info", cfg.Logger.Level)
	assert.False(t, cfg.Lark.Enabled)
	assert.True(t, cfg.Workflow.SeedOnStart)
	assert.Equal(t, time.Minute, cfg.Workflow.Resume.PollInterval)
	assert.Equal(t, 50, cfg.Workflow.Resume.BatchSize)
	assert.Equal(t, "reimburse-flow:", cfg.Redis.KeyPrefix)
	assert.True(t, cfg.Metrics.Enabled)
}

func TestLoad_File(t *testing.T) {
	path := writeFile(t, "config.yaml", `
server:
  port: 9090
database:
  path: /tmp/flow.db
lark:
  enabled: true
  app_id: cli_a
  app_secret: secret
  users:
    1001: ou_finance
workflow:
  notify_flows: [BAOXIAO]
  resume:
    poll_interval: 15s
`)

	cfg, err := load(path, "")
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "/tmp/flow.db", cfg.Database.Path)
	assert.Equal(t, "ou_finance", cfg.Lark.Users[1001])
	assert.Equal(t, []string{"BAOXIAO"}, cfg.Workflow.NotifyFlows)
	assert.Equal(t, 15*time.Second, cfg.Workflow.Resume.PollInterval)
	// untouched keys keep their defaults
	assert.Equal(t, 50, cfg.Workflow.Resume.BatchSize)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("REIMBURSE_SERVER_PORT", "7070")
	t.Setenv("REIMBURSE_LOGGER_LEVEL", "debug")
	t.Setenv("OPENAI_API_KEY", "sk-test")
	t.Setenv("REIMBURSE_OPENAI_ENABLED", "true")

	cfg, err := load("", "")
	require.NoError(t, err)

	assert.Equal(t, 7070, cfg.Server.Port)
	assert.Equal(t, "debug", cfg.Logger.Level)
	assert.True(t, cfg.OpenAI.Enabled)
	assert.Equal(t, "sk-test", cfg.OpenAI.APIKey)
}

func TestLoad_DotEnv(t *testing.T) {
	envFile := writeFile(t, ".env", "LARK_APP_ID=cli_env\nLARK_APP_SECRET=from_env\n")
	t.Cleanup(func() {
		os.Unsetenv("LARK_APP_ID")
		os.Unsetenv("LARK_APP_SECRET")
	})

	cfg, err := load("", envFile)
	require.NoError(t, err)

	assert.Equal(t, "cli_env", cfg.Lark.AppID)
	assert.Equal(t, "from_env", cfg.Lark.AppSecret)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := load(filepath.Join(t.TempDir(), "absent.yaml"), "")
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		cfg, err := load("", "")
		require.NoError(t, err)
		return cfg
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"valid", func(*Config) {}, ""},
		{"bad port", func(c *Config) { c.Server.Port = 0 }, "server.port"},
		{"no database", func(c *Config) { c.Database.Path = "" }, "database.path"},
		{"bad level", func(c *Config) { c.Logger.Level = "trace" }, "logger.level"},
		{"lark without credentials", func(c *Config) { c.Lark.Enabled = true }, "lark.app_id"},
		{"openai without key", func(c *Config) { c.OpenAI.Enabled = true }, "openai.api_key"},
		{"resume without interval", func(c *Config) { c.Workflow.Resume.PollInterval = 0 }, "poll_interval"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestValidate_ReportsEveryProblem(t *testing.T) {
	cfg, err := load("", "")
	require.NoError(t, err)
	cfg.Server.Port = -1
	cfg.Database.Path = ""

	err = cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "server.port")
	assert.Contains(t, err.Error(), "database.path")
}
