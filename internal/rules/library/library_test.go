package library_test

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atomicobject/vaultweaver/internal/cache"
	"github.com/atomicobject/vaultweaver/internal/llm"
	"github.com/atomicobject/vaultweaver/internal/memory"
	"github.com/atomicobject/vaultweaver/internal/note"
	"github.com/atomicobject/vaultweaver/internal/rules"
	"github.com/atomicobject/vaultweaver/internal/rules/library"
	"github.com/atomicobject/vaultweaver/internal/vaultio"
	"github.com/atomicobject/vaultweaver/internal/watcher"
)

type fakeProvider struct {
	text string
}

func (f *fakeProvider) Invoke(ctx context.Context, prompt string, opts llm.Options) (string, int, error) {
	return f.text, 200, nil
}

type harness struct {
	vio   *vaultio.Local
	cache *cache.Cache
	mem   *memory.Store
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	dir := t.TempDir()
	vio := vaultio.New(dir)
	c, err := cache.Open(filepath.Join(dir, "cache.db"))
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	mem, err := memory.Open(filepath.Join(dir, "memory.db"))
	require.NoError(t, err)
	t.Cleanup(func() { mem.Close() })
	return &harness{vio: vio, cache: c, mem: mem}
}

func (h *harness) writeAndIndex(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, h.vio.WriteFile(path, []byte(content)))
	parsed := note.Parse(path, []byte(content))
	require.NoError(t, h.cache.UpsertNote(context.Background(), path, parsed, time.Now()))
}

func (h *harness) ctx(path string, respText string) *rules.RuleContext {
	provider := &fakeProvider{text: respText}
	client := llm.New(provider, llm.Config{RateLimitPerMinute: 6000, DefaultModel: "test"})
	return &rules.RuleContext{
		Ctx:     context.Background(),
		Event:   watcher.FileEvent{Path: path},
		Options: map[string]interface{}{},
		Cache:   h.cache,
		Memory:  h.mem,
		LLM:     client,
		VaultIO: h.vio,
	}
}

func TestAutoTagConditionSkipsNotesWithTags(t *testing.T) {
	h := newHarness(t)
	h.writeAndIndex(t, "tagged.md", "---\ntags: [x]\n---\nlong enough body padded out to pass the minimum length check easily here.")
	rc := h.ctx("tagged.md", "")
	ok, err := library.AutoTag{}.Condition(rc)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestAutoTagConditionIgnoresInlineHashtagsNoFrontmatterTags(t *testing.T) {
	h := newHarness(t)
	h.writeAndIndex(t, "inline-only.md", "This note has an inline #golang hashtag but no frontmatter tags field, and is padded out long enough to pass the minimum length check.")
	rc := h.ctx("inline-only.md", "")
	ok, err := library.AutoTag{}.Condition(rc)
	require.NoError(t, err)
	assert.True(t, ok, "a note with only an inline hashtag (no frontmatter tags) should still be eligible for auto-tagging")
}

func TestAutoTagConditionRequiresMinLength(t *testing.T) {
	h := newHarness(t)
	h.writeAndIndex(t, "short.md", "too short")
	rc := h.ctx("short.md", "")
	ok, err := library.AutoTag{}.Condition(rc)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestAutoTagActionAppliesConfidentTags(t *testing.T) {
	h := newHarness(t)
	body := "This is a sufficiently long untagged note body about golang concurrency patterns and channels."
	h.writeAndIndex(t, "note.md", body)

	rc := h.ctx("note.md", `[{"name":"golang","conf":0.9},{"name":"maybe","conf":0.3}]`)
	res, err := library.AutoTag{}.Action(rc)
	require.NoError(t, err)
	require.Len(t, res.NoteUpdates, 1)
	assert.Equal(t, []string{"golang"}, res.NoteUpdates[0].Frontmatter.Set["tags"])
}

func TestAutoLinkAddsWikilinkForKnownTitle(t *testing.T) {
	h := newHarness(t)
	h.writeAndIndex(t, "Project Plan.md", "The plan for the quarter.")
	body := "We should revisit the Project Plan before the deadline."
	h.writeAndIndex(t, "source.md", body)

	rc := h.ctx("source.md", "")
	rc.Options = map[string]interface{}{"minContentLength": 0}
	res, err := library.AutoLink{}.Action(rc)
	require.NoError(t, err)
	require.Len(t, res.NoteUpdates, 1)
	require.Len(t, res.NoteUpdates[0].BodyPatches, 1)
	assert.Equal(t, "[[Project Plan]]", res.NoteUpdates[0].BodyPatches[0].Replace)
}

func TestDailyNoteConditionMatchesDateStems(t *testing.T) {
	h := newHarness(t)
	h.writeAndIndex(t, "2026-08-01.md", "")
	rc := h.ctx("2026-08-01.md", "")
	ok, err := library.DailyNote{}.Condition(rc)
	require.NoError(t, err)
	assert.True(t, ok)

	h.writeAndIndex(t, "not-a-date.md", "")
	rc2 := h.ctx("not-a-date.md", "")
	ok2, err := library.DailyNote{}.Condition(rc2)
	require.NoError(t, err)
	assert.False(t, ok2)
}

func TestDailyNoteActionRollsOverIncompleteTasks(t *testing.T) {
	h := newHarness(t)
	h.writeAndIndex(t, "2026-08-02.md", "")
	require.NoError(t, h.mem.Put(context.Background(), "daily/tasks", "2026-08-01", []byte(`[{"text":"finish report","completed":false},{"text":"done thing","completed":true}]`), 0))

	rc := h.ctx("2026-08-02.md", "")
	res, err := library.DailyNote{}.Action(rc)
	require.NoError(t, err)
	require.Len(t, res.NoteUpdates, 1)
	assert.Contains(t, res.NoteUpdates[0].BodyPatches[0].Replace, "finish report")
	assert.NotContains(t, res.NoteUpdates[0].BodyPatches[0].Replace, "done thing")
}

func TestMeetingNoteConditionRequiresAttendeesAndTag(t *testing.T) {
	h := newHarness(t)
	h.writeAndIndex(t, "standup.md", "---\nattendees: [a, b]\ntags: [meeting]\n---\nNotes here.")
	rc := h.ctx("standup.md", "")
	ok, err := library.MeetingNote{}.Condition(rc)
	require.NoError(t, err)
	assert.True(t, ok)

	h.writeAndIndex(t, "no-attendees.md", "---\ntags: [meeting]\n---\nNotes.")
	rc2 := h.ctx("no-attendees.md", "")
	ok2, err := library.MeetingNote{}.Condition(rc2)
	require.NoError(t, err)
	assert.False(t, ok2)
}

func TestMeetingNoteActionExtractsActionItems(t *testing.T) {
	h := newHarness(t)
	h.writeAndIndex(t, "standup.md", "---\nattendees: [a]\ntags: [meeting]\n---\nDiscussed the roadmap.")

	rc := h.ctx("standup.md", `{"actionItems":[{"task":"write docs","assignee":"a","priority":"high"}]}`)
	res, err := library.MeetingNote{}.Action(rc)
	require.NoError(t, err)
	require.Len(t, res.NewNotes, 1)
	assert.Contains(t, res.NewNotes[0].Body, "write docs")
	require.Len(t, res.NoteUpdates, 1)
}

func TestMeetingNoteMergeActionItemsDoesNotDuplicateRenderedTasks(t *testing.T) {
	h := newHarness(t)
	h.writeAndIndex(t, "standup.md", "---\nattendees: [a]\ntags: [meeting]\n---\nDiscussed the roadmap.")

	rc := h.ctx("standup.md", `{"actionItems":[{"task":"write docs","assignee":"a","dueDate":"2026-08-05","priority":"high"}]}`)
	res, err := library.MeetingNote{}.Action(rc)
	require.NoError(t, err)
	require.Len(t, res.NewNotes, 1)

	existingBody := res.NewNotes[0].Body
	require.NotNil(t, res.NewNotes[0].MergeFunc)

	merged := res.NewNotes[0].MergeFunc(existingBody)
	assert.Equal(t, existingBody, merged, "re-merging the same rendered task (with assignee+due suffixes) must not duplicate it")
	assert.Equal(t, 1, strings.Count(merged, "write docs"))
}
