package cache_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atomicobject/vaultweaver/internal/cache"
	"github.com/atomicobject/vaultweaver/internal/note"
	"github.com/atomicobject/vaultweaver/internal/vaultio"
)

func openCache(t *testing.T) *cache.Cache {
	t.Helper()
	c, err := cache.Open(filepath.Join(t.TempDir(), "cache.sqlite"))
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

func upsert(t *testing.T, c *cache.Cache, path, content string) {
	t.Helper()
	parsed := note.Parse(path, []byte(content))
	require.NoError(t, c.UpsertNote(context.Background(), path, parsed, time.Now()))
}

func TestUpsertAndGetNote(t *testing.T) {
	c := openCache(t)
	upsert(t, c, "notes/a.md", "---\ntags: [x, y]\n---\nHello [[notes/b]].")

	n, ok, err := c.GetNote(context.Background(), "notes/a.md")
	require.NoError(t, err)
	require.True(t, ok)
	assert.ElementsMatch(t, []string{"x", "y"}, n.Tags)
}

func TestOutgoingLinksResolveAgainstKnownNotes(t *testing.T) {
	c := openCache(t)
	upsert(t, c, "notes/b.md", "target note")
	upsert(t, c, "notes/a.md", "See [[notes/b]] for detail.")

	links, err := c.OutgoingLinks(context.Background(), "notes/a.md")
	require.NoError(t, err)
	require.Len(t, links, 1)
	assert.Equal(t, "notes/b.md", links[0].ResolvedPath)
	assert.False(t, links[0].Broken)
}

func TestOutgoingLinksBrokenUntilTargetExists(t *testing.T) {
	c := openCache(t)
	upsert(t, c, "notes/a.md", "See [[notes/missing]] for detail.")

	links, err := c.OutgoingLinks(context.Background(), "notes/a.md")
	require.NoError(t, err)
	require.Len(t, links, 1)
	assert.True(t, links[0].Broken)

	upsert(t, c, "notes/missing.md", "now it exists")

	links, err = c.OutgoingLinks(context.Background(), "notes/a.md")
	require.NoError(t, err)
	require.Len(t, links, 1)
	assert.False(t, links[0].Broken)
	assert.Equal(t, "notes/missing.md", links[0].ResolvedPath)
}

func TestDeleteNoteBreaksIncomingLinks(t *testing.T) {
	c := openCache(t)
	upsert(t, c, "notes/b.md", "target")
	upsert(t, c, "notes/a.md", "See [[notes/b]].")

	require.NoError(t, c.DeleteNote(context.Background(), "notes/b.md"))

	links, err := c.OutgoingLinks(context.Background(), "notes/a.md")
	require.NoError(t, err)
	require.Len(t, links, 1)
	assert.True(t, links[0].Broken)
	assert.Empty(t, links[0].ResolvedPath)

	_, ok, err := c.GetNote(context.Background(), "notes/b.md")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestListByTag(t *testing.T) {
	c := openCache(t)
	upsert(t, c, "a.md", "---\ntags: [project]\n---\nbody")
	upsert(t, c, "b.md", "---\ntags: [personal]\n---\nbody")

	notes, err := c.ListByTag(context.Background(), "project", cache.Pagination{})
	require.NoError(t, err)
	require.Len(t, notes, 1)
	assert.Equal(t, "a.md", notes[0].Path)
}

func TestStatsCounts(t *testing.T) {
	c := openCache(t)
	upsert(t, c, "a.md", "---\ntags: [x]\n---\nSee [[missing]].")

	stats, err := c.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, stats.NoteCount)
	assert.Equal(t, 1, stats.TagCount)
	assert.Equal(t, 1, stats.BrokenLinkCount)
}

func TestFullSyncReconcilesCacheToVault(t *testing.T) {
	dir := t.TempDir()
	vio := vaultio.New(dir)
	c := openCache(t)

	require.NoError(t, vio.WriteFile("keep.md", []byte("keep me")))
	require.NoError(t, vio.WriteFile("remove.md", []byte("remove me")))
	require.NoError(t, c.FullSync(context.Background(), vio))

	_, ok, err := c.GetNote(context.Background(), "keep.md")
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, vio.Delete("remove.md"))
	require.NoError(t, c.FullSync(context.Background(), vio))

	_, ok, err = c.GetNote(context.Background(), "remove.md")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestKnownPathsReflectsIndexedNotes(t *testing.T) {
	c := openCache(t)
	upsert(t, c, "a.md", "content")
	known := c.KnownPaths()
	_, ok := known["a.md"]
	assert.True(t, ok)
}
