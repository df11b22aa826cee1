package container

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/garyjia/reimburse-flow/internal/application/engine"
	"github.com/garyjia/reimburse-flow/internal/config"
	"github.com/garyjia/reimburse-flow/internal/domain/entity"
	"github.com/garyjia/reimburse-flow/pkg/database"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		Server:   config.ServerConfig{Host: "127.0.0.1", Port: 8080},
		Database: config.DatabaseConfig{Path: database.MemoryPath},
		Logger:   config.LoggerConfig{Level: "info"},
		Workflow: config.WorkflowConfig{
			SeedFile:    filepath.Join("..", "..", "configs", "workflows.yaml"),
			SeedOnStart: true,
			Resume: config.ResumeConfig{
				Enabled:      true,
				PollInterval: 50 * time.Millisecond,
				Grace:        time.Minute,
				BatchSize:    10,
				LeaseTTL:     time.Second,
			},
		},
		Storage: config.StorageConfig{BaseDir: t.TempDir()},
		Metrics: config.MetricsConfig{Enabled: true},
	}
}

func startContainer(t *testing.T, cfg *config.Config) *Container {
	t.Helper()
	c, err := NewContainer(cfg, zap.NewNop(), "test")
	require.NoError(t, err)
	require.NoError(t, c.Start(context.Background()))
	return c
}

func TestNewContainer_Validation(t *testing.T) {
	_, err := NewContainer(nil, zap.NewNop(), "")
	assert.Error(t, err)

	_, err = NewContainer(testConfig(t), nil, "")
	assert.Error(t, err)

	cfg := testConfig(t)
	cfg.Database.Path = ""
	_, err = NewContainer(cfg, zap.NewNop(), "")
	assert.ErrorContains(t, err, "invalid config")
}

func TestContainer_StartSeedsAndServes(t *testing.T) {
	c := startContainer(t, testConfig(t))
	defer c.Close()

	assert.True(t, c.Ready())
	assert.Equal(t, []string{entity.FlowKeyReimbursement, entity.FlowKeyPurchase}, c.Registry().FlowKeys())
	assert.True(t, c.Workers().IsRunning())
	assert.Nil(t, c.Services().Notifications, "lark is disabled")

	ctx := context.Background()
	defs, err := c.Services().Definitions.List(ctx)
	require.NoError(t, err)
	assert.Len(t, defs, 2)

	inst, err := c.Registry().StartProcess(ctx, entity.FlowKeyReimbursement, engine.StartRequest{
		Params:    entity.Params{"approve_user": float64(42), "money": float64(120)},
		Operator:  "alice",
		Applicant: 42,
	})
	require.NoError(t, err)

	tasks, err := c.Query().ListTasks(ctx, inst.ID)
	require.NoError(t, err)
	assert.NotEmpty(t, tasks)

	services := c.HTTPServices()
	assert.NotNil(t, services.Metrics)
	assert.NotNil(t, services.Definitions)
	assert.NotNil(t, services.Reports)
	for name, check := range services.Checks {
		assert.NoError(t, check(ctx), name)
	}
	assert.Contains(t, services.Checks, "database")
	assert.Contains(t, services.Checks, "workers")
	assert.NotContains(t, services.Checks, "redis")
}

func TestContainer_StartTwice(t *testing.T) {
	c := startContainer(t, testConfig(t))
	defer c.Close()

	assert.Error(t, c.Start(context.Background()))
}

func TestContainer_Close(t *testing.T) {
	c := startContainer(t, testConfig(t))

	require.NoError(t, c.Close())
	assert.False(t, c.Ready())
	assert.False(t, c.Workers().IsRunning())

	assert.Error(t, c.Close())
	assert.Error(t, c.Start(context.Background()))
}

func TestContainer_MissingSeedFileIsSkipped(t *testing.T) {
	cfg := testConfig(t)
	cfg.Workflow.SeedFile = filepath.Join(t.TempDir(), "absent.yaml")
	cfg.Metrics.Enabled = false
	cfg.Workflow.Resume.Enabled = false

	c := startContainer(t, cfg)
	defer c.Close()

	defs, err := c.Services().Definitions.List(context.Background())
	require.NoError(t, err)
	assert.Empty(t, defs)

	services := c.HTTPServices()
	assert.Nil(t, services.Metrics)
	assert.NotContains(t, services.Checks, "workers")
}

func TestContainer_FailedStartReleasesResources(t *testing.T) {
	cfg := testConfig(t)
	cfg.Workflow.SeedFile = writeBadSeed(t)

	c, err := NewContainer(cfg, zap.NewNop(), "test")
	require.NoError(t, err)

	err = c.Start(context.Background())
	require.Error(t, err)
	assert.ErrorContains(t, err, "services")
	assert.False(t, c.Ready())
	assert.Error(t, c.Close(), "teardown already ran")
}

func writeBadSeed(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "workflows.yaml")
	require.NoError(t, os.WriteFile(path, []byte("workflows:\n  - flow_key: BAOXIAO\n    nodes: [{id: start, nodeType: START}]\n"), 0644))
	return path
}
