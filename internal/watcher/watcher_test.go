package watcher_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atomicobject/vaultweaver/internal/watcher"
)

type fakeSnapshot map[string]string

func (f fakeSnapshot) KnownPaths() map[string]string { return f }

func waitForEvent(t *testing.T, events <-chan watcher.FileEvent, want watcher.EventType, path string) watcher.FileEvent {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case ev := <-events:
			if ev.Type == want && ev.Path == path {
				return ev
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s %s", want, path)
		}
	}
}

func TestStartEmitsAddOnNewFile(t *testing.T) {
	root := t.TempDir()
	w, err := watcher.New(root, watcher.Options{DebounceWindow: 20 * time.Millisecond})
	require.NoError(t, err)
	defer w.Close()

	require.NoError(t, w.Start(nil))

	require.NoError(t, os.WriteFile(filepath.Join(root, "note.md"), []byte("hello"), 0o644))

	waitForEvent(t, w.Events(), watcher.Add, "note.md")
}

func TestStartReconcilesAgainstSnapshot(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "existing.md"), []byte("v1"), 0o644))

	w, err := watcher.New(root, watcher.Options{DebounceWindow: 20 * time.Millisecond})
	require.NoError(t, err)
	defer w.Close()

	snap := fakeSnapshot{"deleted.md": "somehash"}
	require.NoError(t, w.Start(snap))

	ev1 := waitForEvent(t, w.Events(), watcher.Add, "existing.md")
	assert.Equal(t, "existing.md", ev1.Path)

	waitForEvent(t, w.Events(), watcher.Delete, "deleted.md")
}

func TestIgnoredDirectoriesAreSkipped(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, ".obsidian"), 0o755))

	w, err := watcher.New(root, watcher.Options{DebounceWindow: 20 * time.Millisecond, Ignore: []string{".obsidian"}})
	require.NoError(t, err)
	defer w.Close()
	require.NoError(t, w.Start(nil))

	require.NoError(t, os.WriteFile(filepath.Join(root, ".obsidian", "workspace.json"), []byte("{}"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "visible.md"), []byte("x"), 0o644))

	waitForEvent(t, w.Events(), watcher.Add, "visible.md")
}

func TestRapidCreateDeleteCollapsesToDelete(t *testing.T) {
	root := t.TempDir()
	w, err := watcher.New(root, watcher.Options{DebounceWindow: 200 * time.Millisecond})
	require.NoError(t, err)
	defer w.Close()
	require.NoError(t, w.Start(nil))

	path := filepath.Join(root, "flaky.md")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))
	require.NoError(t, os.Remove(path))

	waitForEvent(t, w.Events(), watcher.Delete, "flaky.md")
}
