package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atomicobject/vaultweaver/internal/config"
)

func writeConfigFile(t *testing.T, contents string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "vaultweaver.yaml")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	vaultDir := t.TempDir()
	cfgPath := writeConfigFile(t, "vault:\n  path: "+vaultDir+"\n")

	cfg, err := config.Load(cfgPath, nil)
	require.NoError(t, err)

	assert.Equal(t, vaultDir, cfg.Vault.Path)
	assert.Equal(t, 1000, cfg.Vault.Watcher.DebounceMs)
	assert.Equal(t, 5, cfg.Rules.Parallelism)
	assert.Equal(t, "none", cfg.LLM.Provider)
	assert.True(t, cfg.Workflows.Enabled)
	assert.Equal(t, 60, cfg.Memory.SweepIntervalSecs)
	assert.Equal(t, 60*time.Second, cfg.MemorySweepInterval())
}

func TestLoadRejectsRelativeVaultPath(t *testing.T) {
	cfgPath := writeConfigFile(t, "vault:\n  path: relative/vault\n")
	_, err := config.Load(cfgPath, nil)
	assert.Error(t, err)
}

func TestLoadRejectsMissingVaultPath(t *testing.T) {
	cfgPath := writeConfigFile(t, "logging:\n  level: debug\n")
	_, err := config.Load(cfgPath, nil)
	assert.Error(t, err)
}

func TestMaskedRedactsAPIKey(t *testing.T) {
	vaultDir := t.TempDir()
	cfgPath := writeConfigFile(t, "vault:\n  path: "+vaultDir+"\nllm:\n  apiKey: sk-supersecret\n")

	cfg, err := config.Load(cfgPath, nil)
	require.NoError(t, err)

	masked := cfg.Masked()
	assert.Equal(t, "********", masked.LLM.APIKey)
	assert.Equal(t, "sk-supersecret", cfg.LLM.APIKey) // original untouched
}

func TestDurationHelpers(t *testing.T) {
	vaultDir := t.TempDir()
	cfgPath := writeConfigFile(t, "vault:\n  path: "+vaultDir+"\n  watcher:\n    debounceMs: 250\nrules:\n  timeoutSecs: 15\n")

	cfg, err := config.Load(cfgPath, nil)
	require.NoError(t, err)

	assert.Equal(t, 15*time.Second, cfg.RuleTimeout())
	assert.Equal(t, 250*time.Millisecond, cfg.DebounceWindow())
}
