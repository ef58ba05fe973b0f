package vaultsync

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atomicobject/vaultweaver/internal/cache"
	"github.com/atomicobject/vaultweaver/internal/memory"
	"github.com/atomicobject/vaultweaver/internal/vaultio"
)

func newTestSyncer(t *testing.T) (*Syncer, *cache.Cache, *memory.Store, string) {
	t.Helper()
	dir := t.TempDir()

	c, err := cache.Open(filepath.Join(dir, "cache.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })

	mem, err := memory.Open(filepath.Join(dir, "memory.bolt"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = mem.Close() })

	vaultDir := filepath.Join(dir, "vault")
	require.NoError(t, os.MkdirAll(vaultDir, 0o755))
	vio := vaultio.New(vaultDir)

	s := New(vio, c, mem, zerolog.Nop(), Config{})
	return s, c, mem, vaultDir
}

func writeVaultFile(t *testing.T, vaultDir, relPath, content string) {
	t.Helper()
	abs := filepath.Join(vaultDir, relPath)
	require.NoError(t, os.MkdirAll(filepath.Dir(abs), 0o755))
	require.NoError(t, os.WriteFile(abs, []byte(content), 0o644))
}

func TestFullSyncMirrorsNotesIntoMemory(t *testing.T) {
	s, c, mem, vaultDir := newTestSyncer(t)
	ctx := context.Background()

	writeVaultFile(t, vaultDir, "alpha.md", "---\ntags: [a, b]\n---\nHello [[beta]].")
	writeVaultFile(t, vaultDir, "beta.md", "Some content about beta.")

	require.NoError(t, s.FullSync(ctx))

	n, found, err := c.GetNote(ctx, "alpha.md")
	require.NoError(t, err)
	require.True(t, found)
	assert.ElementsMatch(t, []string{"a", "b"}, n.Tags)

	raw, ok, err := mem.Get(ctx, MirrorNamespace, "alpha.md")
	require.NoError(t, err)
	require.True(t, ok)

	var proj projection
	require.NoError(t, json.Unmarshal(raw, &proj))
	assert.Equal(t, "alpha.md", proj.Path)
	assert.ElementsMatch(t, []string{"a", "b"}, proj.Tags)
}

func TestFullSyncRemovesMirrorForDeletedNote(t *testing.T) {
	s, _, mem, vaultDir := newTestSyncer(t)
	ctx := context.Background()

	writeVaultFile(t, vaultDir, "gone.md", "temporary note")
	require.NoError(t, s.FullSync(ctx))

	_, ok, err := mem.Get(ctx, MirrorNamespace, "gone.md")
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, os.Remove(filepath.Join(vaultDir, "gone.md")))
	require.NoError(t, s.FullSync(ctx))

	_, ok, err = mem.Get(ctx, MirrorNamespace, "gone.md")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMirrorNoteNoOpForUnknownPath(t *testing.T) {
	s, _, _, _ := newTestSyncer(t)
	err := s.MirrorNote(context.Background(), "missing.md")
	assert.NoError(t, err)
}
