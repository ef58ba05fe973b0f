// Package library provides the built-in rules shipped with vaultweaver:
// auto-tag, auto-link, daily note rollover, and meeting note extraction.
package library

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/atomicobject/vaultweaver/internal/llm"
	"github.com/atomicobject/vaultweaver/internal/rules"
)

// AutoTag suggests tags for untagged notes with enough body content.
type AutoTag struct{}

func (AutoTag) ID() string       { return "autotag" }
func (AutoTag) Trigger() rules.Trigger { return rules.TriggerFileAdd }
func (AutoTag) Priority() int    { return 50 }
func (AutoTag) Metadata() rules.Metadata {
	return rules.Metadata{
		Description: "Suggests tags for new notes that have none.",
		Category:    "enrichment",
		Tags:        []string{"autotag"},
	}
}

func optInt(opts map[string]interface{}, key string, def int) int {
	if v, ok := opts[key]; ok {
		if n, ok := toInt(v); ok {
			return n
		}
	}
	return def
}

func optFloat(opts map[string]interface{}, key string, def float64) float64 {
	if v, ok := opts[key]; ok {
		switch n := v.(type) {
		case float64:
			return n
		case int:
			return float64(n)
		}
	}
	return def
}

func toInt(v interface{}) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	}
	return 0, false
}

func (AutoTag) Condition(rc *rules.RuleContext) (bool, error) {
	n, err := rc.Note()
	if err != nil {
		return false, err
	}
	if hasFrontmatterTags(n.Frontmatter) {
		return false, nil
	}
	minLen := optInt(rc.Options, "minContentLength", 50)
	return len(n.Body) >= minLen, nil
}

// hasFrontmatterTags reports whether a note's frontmatter "tags" field is
// present and non-empty. Inline #hashtags in the body don't count here —
// the gate is specifically about the frontmatter field.
func hasFrontmatterTags(fm map[string]interface{}) bool {
	raw, ok := fm["tags"]
	if !ok || raw == nil {
		return false
	}
	switch v := raw.(type) {
	case string:
		return strings.TrimSpace(v) != ""
	case []interface{}:
		return len(v) > 0
	case []string:
		return len(v) > 0
	}
	return false
}

type tagCandidate struct {
	Name       string  `json:"name"`
	Confidence float64 `json:"conf"`
}

func (AutoTag) Action(rc *rules.RuleContext) (rules.RuleResult, error) {
	n, err := rc.Note()
	if err != nil {
		return rules.RuleResult{}, err
	}

	prompt := fmt.Sprintf("Suggest 3-5 concise tags for this note. Respond as a JSON list of {\"name\":string,\"conf\":number}.\n\n%s", n.Body)
	res, err := rc.LLM.Complete(rc.Ctx, prompt, llm.Options{ResponseFormat: llm.FormatList})
	if err != nil {
		return rules.RuleResult{}, err
	}

	var candidates []tagCandidate
	raw, _ := json.Marshal(res.List)
	if err := json.Unmarshal(raw, &candidates); err != nil {
		return rules.RuleResult{}, err
	}

	threshold := optFloat(rc.Options, "confidenceThreshold", 0.7)
	maxTags := optInt(rc.Options, "maxTags", 5)

	sort.Slice(candidates, func(i, j int) bool { return candidates[i].Confidence > candidates[j].Confidence })

	var accepted []string
	for _, c := range candidates {
		if c.Confidence < threshold {
			continue
		}
		accepted = append(accepted, c.Name)
		if len(accepted) >= maxTags {
			break
		}
	}

	if len(accepted) == 0 {
		return rules.RuleResult{}, nil
	}

	return rules.RuleResult{
		NoteUpdates: []rules.NoteUpdate{{
			Path:        rc.Event.Path,
			Frontmatter: &rules.FrontmatterPatch{Set: map[string]interface{}{"tags": accepted}},
		}},
	}, nil
}
