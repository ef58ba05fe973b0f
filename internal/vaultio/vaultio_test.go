package vaultio_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/atomicobject/vaultweaver/internal/vaultio"
	"github.com/atomicobject/vaultweaver/internal/vaultpath"
)

func TestWriteReadDelete(t *testing.T) {
	vio := vaultio.New(t.TempDir())

	assert.NoError(t, vio.WriteFile("notes/daily.md", []byte("hello")))

	data, err := vio.ReadFile("notes/daily.md")
	assert.NoError(t, err)
	assert.Equal(t, "hello", string(data))

	stat, ok, err := vio.Stat("notes/daily.md")
	assert.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, int64(5), stat.Size)

	assert.NoError(t, vio.Delete("notes/daily.md"))
	_, ok, err = vio.Stat("notes/daily.md")
	assert.NoError(t, err)
	assert.False(t, ok)
}

func TestDeleteMissingFileIsNotAnError(t *testing.T) {
	vio := vaultio.New(t.TempDir())
	assert.NoError(t, vio.Delete("does/not/exist.md"))
}

func TestListFilesOnlyMarkdown(t *testing.T) {
	root := t.TempDir()
	vio := vaultio.New(root)

	assert.NoError(t, vio.WriteFile("a.md", []byte("a")))
	assert.NoError(t, vio.WriteFile("sub/b.md", []byte("b")))
	assert.NoError(t, os.WriteFile(filepath.Join(root, "ignore.txt"), []byte("x"), 0o644))

	files, err := vio.ListFiles("")
	assert.NoError(t, err)
	assert.ElementsMatch(t, []string{"a.md", "sub/b.md"}, files)
}

func TestResolveRejectsTraversal(t *testing.T) {
	vio := vaultio.New(t.TempDir())
	_, err := vio.ReadFile("../escape.md")
	assert.ErrorIs(t, err, vaultpath.ErrTraversal)
}

func TestWriteFileIsAtomic(t *testing.T) {
	root := t.TempDir()
	vio := vaultio.New(root)
	assert.NoError(t, vio.WriteFile("note.md", []byte("v1")))
	assert.NoError(t, vio.WriteFile("note.md", []byte("v2")))

	entries, err := os.ReadDir(root)
	assert.NoError(t, err)
	assert.Len(t, entries, 1) // no leftover .tmp-* files

	data, err := vio.ReadFile("note.md")
	assert.NoError(t, err)
	assert.Equal(t, "v2", string(data))
}
