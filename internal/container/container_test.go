package container

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/dajor/bewirtungsbeleg-sub003/internal/config"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	t.Setenv("OPENAI_API_KEY", "sk-test")

	cfg, err := config.Load("")
	require.NoError(t, err)

	dir := t.TempDir()
	cfg.Database.Path = filepath.Join(dir, "bewirtung.db")
	cfg.Storage.UploadDir = filepath.Join(dir, "uploads")
	cfg.Export.Dir = filepath.Join(dir, "exports")
	return cfg
}

func TestNewContainer_Validation(t *testing.T) {
	logger := zap.NewNop()

	_, err := NewContainer(nil, logger)
	assert.Error(t, err)

	_, err = NewContainer(testConfig(t), nil)
	assert.Error(t, err)

	cfg := testConfig(t)
	cfg.OpenAI.APIKey = ""
	_, err = NewContainer(cfg, logger)
	assert.ErrorContains(t, err, "invalid config")
}

func TestContainer_Lifecycle(t *testing.T) {
	c, err := NewContainer(testConfig(t), zap.NewNop())
	require.NoError(t, err)

	health := c.Health()
	assert.False(t, health.Overall)
	assert.Equal(t, "not initialized", health.Components["database"].Message)

	require.NoError(t, c.Start(context.Background()))
	assert.True(t, c.Ready())
	assert.Error(t, c.Start(context.Background()), "second start")

	health = c.Health()
	assert.True(t, health.Overall)
	for _, name := range []string{"database", "workers", "dispatcher", "sessions"} {
		assert.True(t, health.Components[name].Healthy, name)
	}
	assert.Equal(t, "running 1 of 1", health.Components["workers"].Message)

	require.NotNil(t, c.Services())
	assert.NotNil(t, c.Services().Submissions)
	assert.NotNil(t, c.Services().Receipts)
	assert.NotNil(t, c.Rules())
	assert.NotNil(t, c.MetricsHandler())

	sess, err := c.Sessions().Create()
	require.NoError(t, err)
	assert.NotEmpty(t, sess.ID)
	assert.Equal(t, "open sessions: 1", c.Health().Components["sessions"].Message)

	require.NoError(t, c.Close())
	assert.False(t, c.Ready())
	assert.Error(t, c.Close(), "second close")
	assert.Error(t, c.Start(context.Background()), "start after close")
}

func TestContainer_StartFailureClosesComponents(t *testing.T) {
	cfg := testConfig(t)
	cfg.Database.MigrationsDir = filepath.Join(t.TempDir(), "missing")

	c, err := NewContainer(cfg, zap.NewNop())
	require.NoError(t, err)

	err = c.Start(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to initialize database")
	assert.False(t, c.Ready())
	assert.Error(t, c.Close(), "already closed by the failed start")
}
