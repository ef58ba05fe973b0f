package rules

import (
	"context"
	"sort"
	"strings"

	"github.com/atomicobject/vaultweaver/internal/note"
	"github.com/atomicobject/vaultweaver/internal/vwerr"
)

// apply validates and writes through a RuleResult: note updates first, then
// new companion notes, then memory ops. If a sub-step fails, the remaining
// sub-steps for that result are skipped; earlier successful sub-steps are
// not rolled back.
func (e *Engine) apply(ctx context.Context, result RuleResult) error {
	for _, nu := range result.NoteUpdates {
		if err := e.applyNoteUpdate(ctx, nu); err != nil {
			return err
		}
	}
	for _, nn := range result.NewNotes {
		if err := e.applyNewNote(ctx, nn); err != nil {
			return err
		}
	}
	for _, op := range result.MemoryOps {
		if err := e.applyMemoryOp(ctx, op); err != nil {
			return err
		}
	}
	return nil
}

// applyNoteUpdate patches frontmatter and/or body of an existing note,
// re-parses to validate the result stays well-formed, writes it through
// VaultIO, then reindexes the cache.
func (e *Engine) applyNoteUpdate(ctx context.Context, nu NoteUpdate) error {
	data, err := e.vaultio.ReadFile(nu.Path)
	if err != nil {
		return vwerr.New("rules.applyNoteUpdate", vwerr.RuleApplyFailed, err)
	}
	parsed := note.Parse(nu.Path, data)

	body := parsed.Body
	if len(nu.BodyPatches) > 0 {
		body, err = applyBodyPatches(body, nu.BodyPatches)
		if err != nil {
			return vwerr.New("rules.applyNoteUpdate", vwerr.RuleApplyFailed, err)
		}
	}

	fm := parsed.Frontmatter
	if nu.Frontmatter != nil {
		if fm == nil {
			fm = map[string]interface{}{}
		}
		for k, v := range nu.Frontmatter.Set {
			fm[k] = mergeFrontmatterValue(fm[k], v)
		}
	}

	out, err := note.Format(fm, body)
	if err != nil {
		return vwerr.New("rules.applyNoteUpdate", vwerr.FrontmatterInvalid, err)
	}

	// Validate round-trip: the patched bytes must themselves parse cleanly
	// before they are allowed to replace the note on disk.
	reparsed := note.Parse(nu.Path, out)
	if hasFrontmatterDiagnostic(reparsed) {
		return vwerr.New("rules.applyNoteUpdate", vwerr.FrontmatterInvalid, nil).WithDetail(nu.Path)
	}

	if err := e.vaultio.WriteFile(nu.Path, out); err != nil {
		return vwerr.New("rules.applyNoteUpdate", vwerr.RuleApplyFailed, err)
	}
	st, ok, err := e.vaultio.Stat(nu.Path)
	if err != nil || !ok {
		return vwerr.New("rules.applyNoteUpdate", vwerr.RuleApplyFailed, err)
	}
	if err := e.cache.UpsertNote(ctx, nu.Path, reparsed, st.ModTime); err != nil {
		return vwerr.New("rules.applyNoteUpdate", vwerr.RuleApplyFailed, err)
	}
	return nil
}

func hasFrontmatterDiagnostic(p note.Parsed) bool {
	for _, d := range p.Diagnostics {
		if d == note.DiagFrontmatterInvalid {
			return true
		}
	}
	return false
}

// mergeFrontmatterValue implements tag-set union for []string-shaped
// values (the common case: tags) and overwrite for everything else.
func mergeFrontmatterValue(existing, incoming interface{}) interface{} {
	exSlice, exOK := toStringSlice(existing)
	inSlice, inOK := toStringSlice(incoming)
	if !exOK || !inOK {
		return incoming
	}
	seen := make(map[string]bool, len(exSlice)+len(inSlice))
	var merged []string
	for _, v := range append(exSlice, inSlice...) {
		key := strings.ToLower(v)
		if seen[key] {
			continue
		}
		seen[key] = true
		merged = append(merged, v)
	}
	sort.Strings(merged)
	out := make([]interface{}, len(merged))
	for i, v := range merged {
		out[i] = v
	}
	return out
}

func toStringSlice(v interface{}) ([]string, bool) {
	switch t := v.(type) {
	case []string:
		return t, true
	case []interface{}:
		out := make([]string, 0, len(t))
		for _, item := range t {
			s, ok := item.(string)
			if !ok {
				return nil, false
			}
			out = append(out, s)
		}
		return out, true
	case nil:
		return []string{}, true
	default:
		return nil, false
	}
}

// applyBodyPatches applies non-overlapping byte-range replacements,
// processed in descending Start order so earlier offsets stay valid.
func applyBodyPatches(body string, patches []BodyPatch) (string, error) {
	sorted := append([]BodyPatch(nil), patches...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Start > sorted[j].Start })

	b := []byte(body)
	for _, p := range sorted {
		if p.Start < 0 || p.End > len(b) || p.Start > p.End {
			return "", errInvalidPatchRange
		}
		b = append(b[:p.Start], append([]byte(p.Replace), b[p.End:]...)...)
	}
	return string(b), nil
}

var errInvalidPatchRange = vwerr.New("rules.applyBodyPatches", vwerr.RuleApplyFailed, nil).WithDetail("patch range out of bounds")

// applyNewNote creates path if absent, or merges into it via MergeFunc if
// present and the note already exists.
func (e *Engine) applyNewNote(ctx context.Context, nn NewNote) error {
	existing, err := e.vaultio.ReadFile(nn.Path)
	exists := err == nil

	var out []byte
	if exists && nn.MergeFunc != nil {
		parsed := note.Parse(nn.Path, existing)
		mergedBody := nn.MergeFunc(parsed.Body)
		out, err = note.Format(parsed.Frontmatter, mergedBody)
	} else if exists {
		return nil // already exists, no merge strategy: leave it alone
	} else {
		out, err = note.Format(nn.Frontmatter, nn.Body)
	}
	if err != nil {
		return vwerr.New("rules.applyNewNote", vwerr.FrontmatterInvalid, err)
	}

	if err := e.vaultio.WriteFile(nn.Path, out); err != nil {
		return vwerr.New("rules.applyNewNote", vwerr.RuleApplyFailed, err)
	}
	st, ok, err := e.vaultio.Stat(nn.Path)
	if err != nil || !ok {
		return vwerr.New("rules.applyNewNote", vwerr.RuleApplyFailed, err)
	}
	parsed := note.Parse(nn.Path, out)
	return e.cache.UpsertNote(ctx, nn.Path, parsed, st.ModTime)
}

func (e *Engine) applyMemoryOp(ctx context.Context, op MemoryOp) error {
	if op.Delete {
		if err := e.memory.Delete(ctx, op.Namespace, op.Key); err != nil {
			return vwerr.New("rules.applyMemoryOp", vwerr.RuleApplyFailed, err)
		}
		return nil
	}
	if err := e.memory.Put(ctx, op.Namespace, op.Key, op.Value, op.TTL); err != nil {
		return vwerr.New("rules.applyMemoryOp", vwerr.RuleApplyFailed, err)
	}
	return nil
}
