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

	"github.com/garyjia/approval-engine/internal/application/workflow"
	"github.com/garyjia/approval-engine/internal/domain/entity"
	domainwf "github.com/garyjia/approval-engine/internal/domain/workflow"
	"github.com/garyjia/approval-engine/pkg/database"
)

const testRules = `
rules:
  - id: expense-usd-100
    transaction_type: expense
    currency: USD
    threshold: 100
    levels:
      - roles: [manager]
`

const testDirectory = `
users:
  alice:
    roles: [manager]
`

func testConfig(t *testing.T) *Config {
	t.Helper()
	dir := t.TempDir()
	rulesPath := filepath.Join(dir, "rules.yaml")
	dirPath := filepath.Join(dir, "directory.yaml")
	require.NoError(t, os.WriteFile(rulesPath, []byte(testRules), 0o644))
	require.NoError(t, os.WriteFile(dirPath, []byte(testDirectory), 0o644))

	cfg := DefaultConfig()
	cfg.Database = DatabaseConfig{Path: database.MemoryPath, MaxOpenConns: 1, MaxIdleConns: 1}
	cfg.Rules = RulesConfig{Path: rulesPath, Watch: true}
	cfg.Directory = DirectoryConfig{Path: dirPath}
	cfg.Events.RelayInterval = 10 * time.Millisecond
	cfg.Auth.JWTSecret = "test"
	cfg.Server.Mode = "test"
	return cfg
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Config)
	}{
		{"no database", func(c *Config) { c.Database.Path = "" }},
		{"memory with pool", func(c *Config) { c.Database.MaxOpenConns = 4 }},
		{"no rules", func(c *Config) { c.Rules.Path = "" }},
		{"no directory", func(c *Config) { c.Directory.Path = "" }},
		{"no secret", func(c *Config) { c.Auth.JWTSecret = "" }},
		{"http without endpoint", func(c *Config) { c.Risk.Mode = "http" }},
		{"unknown risk mode", func(c *Config) { c.Risk.Mode = "magic" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig(t)
			require.NoError(t, cfg.Validate())
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestNewContainer_Errors(t *testing.T) {
	_, err := NewContainer(nil, zap.NewNop())
	assert.Error(t, err)
	_, err = NewContainer(testConfig(t), nil)
	assert.Error(t, err)
}

func TestContainer_Lifecycle(t *testing.T) {
	c, err := NewContainer(testConfig(t), zap.NewNop())
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, c.Start(ctx))
	assert.True(t, c.Ready())
	assert.Error(t, c.Start(ctx))

	require.NoError(t, c.Health(ctx))
	status := c.HealthStatus(ctx)
	assert.True(t, status.Components["rules"].Healthy)
	assert.Equal(t, 2, c.Workers().GetWorkerCount())
	assert.NotNil(t, c.HTTPServer())

	engine := c.Engine()
	res, err := engine.CreateWorkflow(ctx, entity.Transaction{
		ID:          "tx-100",
		Type:        "expense",
		Amount:      500,
		Currency:    "USD",
		RequesterID: "req-1",
	})
	require.NoError(t, err)
	require.Equal(t, workflow.StatusPendingApproval, res.Status)
	require.NotNil(t, res.Workflow)

	snap, err := engine.SubmitAction(ctx, workflow.ActionRequest{
		WorkflowID: res.Workflow.WorkflowID,
		ActorID:    "alice",
		Kind:       domainwf.ActionApprove,
	})
	require.NoError(t, err)
	assert.Equal(t, domainwf.StatusApproved, snap.Status)

	// the relay drains the outbox in the background
	assert.Eventually(t, func() bool {
		pending, err := c.Repositories().Outbox.FetchPending(ctx, 10)
		return err == nil && len(pending) == 0
	}, 2*time.Second, 20*time.Millisecond)

	report, err := engine.Verify(ctx, res.Workflow.WorkflowID)
	require.NoError(t, err)
	assert.True(t, report.Consistent)

	require.NoError(t, c.Close())
	assert.False(t, c.Ready())
	assert.Error(t, c.Close())
	assert.Error(t, c.Start(ctx))
}

func TestContainer_StartFailsOnBadRules(t *testing.T) {
	cfg := testConfig(t)
	require.NoError(t, os.WriteFile(cfg.Rules.Path, []byte("rules: [oops"), 0o644))

	c, err := NewContainer(cfg, zap.NewNop())
	require.NoError(t, err)
	assert.Error(t, c.Start(context.Background()))
	assert.False(t, c.Ready())
}
