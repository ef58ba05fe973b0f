package engine_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atomicobject/vaultweaver/internal/config"
	"github.com/atomicobject/vaultweaver/internal/engine"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	vaultDir := t.TempDir()
	weaverDir := t.TempDir()

	cfgPath := filepath.Join(t.TempDir(), "vaultweaver.yaml")
	contents := "vault:\n" +
		"  path: " + vaultDir + "\n" +
		"shadowCache:\n" +
		"  path: " + filepath.Join(weaverDir, "cache.sqlite") + "\n" +
		"memory:\n" +
		"  path: " + filepath.Join(weaverDir, "memory.bolt") + "\n" +
		"workflows:\n" +
		"  enabled: false\n"
	require.NoError(t, os.WriteFile(cfgPath, []byte(contents), 0o644))

	cfg, err := config.Load(cfgPath, nil)
	require.NoError(t, err)
	return cfg
}

func TestNewAssemblesEveryComponent(t *testing.T) {
	cfg := testConfig(t)
	e, err := engine.New(cfg, zerolog.Nop())
	require.NoError(t, err)
	require.NotNil(t, e.Cache)
	require.NotNil(t, e.Memory)
	require.NotNil(t, e.VaultIO)
	require.NotNil(t, e.LLM)
	require.NotNil(t, e.Watcher)
	require.NotNil(t, e.Sync)
	require.NotNil(t, e.Registry)
	require.NotNil(t, e.Rules)
	require.NotNil(t, e.Health)
	require.NotNil(t, e.Metrics)
	assert.Nil(t, e.WFRun) // workflows disabled in this config

	require.NoError(t, e.Shutdown())
}

func TestRunStopsOnContextCancel(t *testing.T) {
	cfg := testConfig(t)
	e, err := engine.New(cfg, zerolog.Nop())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- e.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("engine did not shut down after context cancellation")
	}
}

func TestHealthReportStartsHealthy(t *testing.T) {
	cfg := testConfig(t)
	e, err := engine.New(cfg, zerolog.Nop())
	require.NoError(t, err)
	defer e.Shutdown()

	report := e.Health.Report()
	assert.Equal(t, "healthy", string(report.Status))
}
