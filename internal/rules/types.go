// Package rules implements the matching and execution engine that turns
// watcher events into rule actions against a note: condition evaluation,
// priority ordering, per-path serialization, cancellation, and quarantine.
package rules

import (
	"context"
	"time"

	"github.com/atomicobject/vaultweaver/internal/cache"
	"github.com/atomicobject/vaultweaver/internal/llm"
	"github.com/atomicobject/vaultweaver/internal/memory"
	"github.com/atomicobject/vaultweaver/internal/note"
	"github.com/atomicobject/vaultweaver/internal/vaultio"
	"github.com/atomicobject/vaultweaver/internal/watcher"
)

// Trigger is the event shape a rule wants to hear about.
type Trigger string

const (
	TriggerFileAdd    Trigger = "FILE_ADD"
	TriggerFileChange Trigger = "FILE_CHANGE"
	TriggerFileDelete Trigger = "FILE_DELETE"
	TriggerFileRename Trigger = "FILE_RENAME"
	TriggerTagMatch   Trigger = "TAG_MATCH"
)

// Metadata describes a rule for the admin surface.
type Metadata struct {
	Description string
	Category    string
	Tags        []string
}

// FrontmatterPatch merges keys into a note's frontmatter; existing keys not
// named here keep their values. The note is re-serialized with note.Format,
// which writes keys in sorted order, so the original key order is not kept.
type FrontmatterPatch struct {
	Set map[string]interface{}
}

// BodyPatch replaces a byte range of the note body, used for in-place
// phrase-to-wikilink rewrites where exact positioning matters.
type BodyPatch struct {
	Start, End int
	Replace    string
}

// NoteUpdate bundles the frontmatter/body changes to apply to one path.
type NoteUpdate struct {
	Path        string
	Frontmatter *FrontmatterPatch
	BodyPatches []BodyPatch
}

// NewNote describes a companion note a rule wants created (or merged into,
// if it already exists).
type NewNote struct {
	Path        string
	Frontmatter map[string]interface{}
	Body        string
	MergeFunc   func(existingBody string) string // optional; nil means overwrite-if-absent only
}

// MemoryOp is a single write against the memory store, applied after note
// updates succeed.
type MemoryOp struct {
	Namespace string
	Key       string
	Value     []byte
	TTL       time.Duration // 0 means never expires
	Delete    bool
}

// RuleResult is what Action returns for the engine to apply atomically.
type RuleResult struct {
	NoteUpdates []NoteUpdate
	NewNotes    []NewNote
	MemoryOps   []MemoryOp
}

// RuleContext is handed to Condition and Action. Note lookups are lazy so
// rules that don't need the cached projection don't pay for it.
type RuleContext struct {
	Ctx     context.Context
	Event   watcher.FileEvent
	Options map[string]interface{} // resolved RuleOptions for this rule, as a generic map

	Cache   *cache.Cache
	Memory  *memory.Store
	LLM     *llm.Client
	VaultIO vaultio.VaultIO

	noteCache *note.Parsed
	rawCache  []byte
}

// Raw returns (lazily reading) the note's raw bytes from the vault.
func (rc *RuleContext) Raw() ([]byte, error) {
	if rc.rawCache != nil {
		return rc.rawCache, nil
	}
	data, err := rc.VaultIO.ReadFile(rc.Event.Path)
	if err != nil {
		return nil, err
	}
	rc.rawCache = data
	return data, nil
}

// Note returns (lazily parsing) the note's structured projection.
func (rc *RuleContext) Note() (note.Parsed, error) {
	if rc.noteCache != nil {
		return *rc.noteCache, nil
	}
	data, err := rc.Raw()
	if err != nil {
		return note.Parsed{}, err
	}
	parsed := note.Parse(rc.Event.Path, data)
	rc.noteCache = &parsed
	return parsed, nil
}

// Rule is the interface the library and any future custom rules implement.
type Rule interface {
	ID() string
	Trigger() Trigger
	Priority() int
	Metadata() Metadata
	Condition(rc *RuleContext) (bool, error)
	Action(rc *RuleContext) (RuleResult, error)
}
