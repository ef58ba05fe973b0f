package vaultpath_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/atomicobject/vaultweaver/internal/vaultpath"
)

func TestNormalize(t *testing.T) {
	var tests = []struct {
		name string
		in   string
		want string
	}{
		{"already clean", "notes/daily.md", "notes/daily.md"},
		{"leading dot slash", "./notes/daily.md", "notes/daily.md"},
		{"leading slash", "/notes/daily.md", "notes/daily.md"},
		{"backslashes", `notes\daily.md`, "notes/daily.md"},
		{"dot", ".", ""},
		{"redundant segments", "notes/../notes/daily.md", "notes/daily.md"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, vaultpath.Normalize(tt.in))
		})
	}
}

func TestAddMdSuffix(t *testing.T) {
	assert.Equal(t, "note.md", vaultpath.AddMdSuffix("note"))
	assert.Equal(t, "note.md", vaultpath.AddMdSuffix("note.md"))
}

func TestBasename(t *testing.T) {
	assert.Equal(t, "daily", vaultpath.Basename("notes/daily.md"))
	assert.Equal(t, "daily", vaultpath.Basename("daily.md"))
}

func TestJoinRejectsTraversal(t *testing.T) {
	_, err := vaultpath.Join("/vault", "../outside.md")
	assert.ErrorIs(t, err, vaultpath.ErrTraversal)
}

func TestJoinRejectsAbsolute(t *testing.T) {
	_, err := vaultpath.Join("/vault", "/etc/passwd")
	assert.ErrorIs(t, err, vaultpath.ErrTraversal)
}

func TestJoinWithinRoot(t *testing.T) {
	got, err := vaultpath.Join("/vault", "notes/daily.md")
	assert.NoError(t, err)
	assert.Equal(t, "/vault/notes/daily.md", got)
}

func TestHasIgnoredPrefix(t *testing.T) {
	prefixes := []string{".obsidian/", "templates"}
	assert.True(t, vaultpath.HasIgnoredPrefix(".obsidian/workspace.json", prefixes))
	assert.True(t, vaultpath.HasIgnoredPrefix("templates/daily.md", prefixes))
	assert.False(t, vaultpath.HasIgnoredPrefix("notes/daily.md", prefixes))
	assert.False(t, vaultpath.HasIgnoredPrefix("templates-old/note.md", prefixes))
}
