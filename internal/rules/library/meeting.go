package library

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/atomicobject/vaultweaver/internal/llm"
	"github.com/atomicobject/vaultweaver/internal/rules"
)

var (
	dueSuffixRegex      = regexp.MustCompile(`\s+due\s+\S+$`)
	assigneeSuffixRegex = regexp.MustCompile(`\s+\(@[^)]*\)$`)
)

// MeetingNote extracts action items from meeting notes into a companion
// tasks note, linked back from the meeting note.
type MeetingNote struct{}

func (MeetingNote) ID() string            { return "meeting-note" }
func (MeetingNote) Trigger() rules.Trigger { return rules.TriggerFileChange }
func (MeetingNote) Priority() int         { return 30 }
func (MeetingNote) Metadata() rules.Metadata {
	return rules.Metadata{
		Description: "Extracts action items from meeting notes into a companion tasks note.",
		Category:    "enrichment",
		Tags:        []string{"meeting"},
	}
}

func (MeetingNote) Condition(rc *rules.RuleContext) (bool, error) {
	n, err := rc.Note()
	if err != nil {
		return false, err
	}
	attendees, ok := n.Frontmatter["attendees"]
	if !ok || isEmptyValue(attendees) {
		return false, nil
	}
	for _, t := range n.Tags {
		if t == "meeting" {
			return true, nil
		}
	}
	return false, nil
}

func isEmptyValue(v interface{}) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(t) == ""
	case []interface{}:
		return len(t) == 0
	default:
		return false
	}
}

type actionItem struct {
	Task     string `json:"task"`
	Assignee string `json:"assignee,omitempty"`
	DueDate  string `json:"dueDate,omitempty"`
	Priority string `json:"priority"`
	Context  string `json:"context,omitempty"`
}

type actionItemsResponse struct {
	ActionItems []actionItem `json:"actionItems"`
}

func (MeetingNote) Action(rc *rules.RuleContext) (rules.RuleResult, error) {
	n, err := rc.Note()
	if err != nil {
		return rules.RuleResult{}, err
	}

	prompt := fmt.Sprintf(
		"Extract action items from this meeting note. Respond as JSON: "+
			"{\"actionItems\":[{\"task\":string,\"assignee\":string,\"dueDate\":string,\"priority\":\"high\"|\"medium\"|\"low\",\"context\":string}]}\n\n%s",
		n.Body)
	res, err := rc.LLM.Complete(rc.Ctx, prompt, llm.Options{ResponseFormat: llm.FormatJSON})
	if err != nil {
		return rules.RuleResult{}, err
	}

	raw, _ := json.Marshal(res.JSON)
	var parsed actionItemsResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return rules.RuleResult{}, err
	}
	if len(parsed.ActionItems) == 0 {
		return rules.RuleResult{}, nil
	}

	title := titleOf(rc.Event.Path)
	dateStr := time.Now().UTC().Format("2006-01-02")
	tasksPath := filepath.Join(filepath.Dir(rc.Event.Path), fmt.Sprintf("%s-tasks-%s.md", slug(title), dateStr))

	body := renderActionItems(parsed.ActionItems)
	meetingMemoryKey := rc.Event.Path

	itemsJSON, _ := json.Marshal(parsed.ActionItems)

	linkPatch := rules.BodyPatch{Start: len(n.Body), End: len(n.Body), Replace: fmt.Sprintf("\n\n[[%s]]\n", strings.TrimSuffix(filepath.Base(tasksPath), ".md"))}

	return rules.RuleResult{
		NoteUpdates: []rules.NoteUpdate{{Path: rc.Event.Path, BodyPatches: []rules.BodyPatch{linkPatch}}},
		NewNotes: []rules.NewNote{{
			Path:        tasksPath,
			Frontmatter: map[string]interface{}{"meeting": title},
			Body:        body,
			MergeFunc:   mergeActionItems(parsed.ActionItems),
		}},
		MemoryOps: []rules.MemoryOp{
			{Namespace: "meetings", Key: meetingMemoryKey, Value: itemsJSON, TTL: 0},
		},
	}, nil
}

func renderActionItems(items []actionItem) string {
	byPriority := map[string][]actionItem{}
	for _, it := range items {
		byPriority[it.Priority] = append(byPriority[it.Priority], it)
	}
	var b strings.Builder
	for _, p := range []string{"high", "medium", "low"} {
		items := byPriority[p]
		if len(items) == 0 {
			continue
		}
		fmt.Fprintf(&b, "## %s priority\n\n", capitalize(p))
		for _, it := range items {
			line := "- [ ] " + it.Task
			if it.Assignee != "" {
				line += " (@" + it.Assignee + ")"
			}
			if it.DueDate != "" {
				line += " due " + it.DueDate
			}
			b.WriteString(line + "\n")
		}
		b.WriteString("\n")
	}
	return b.String()
}

// bareTaskText strips a rendered action-item line down to its task text,
// undoing the "(@assignee)" and "due <date>" suffixes renderActionItems adds.
func bareTaskText(line string) string {
	trimmed := strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(line), "- [ ]"))
	trimmed = dueSuffixRegex.ReplaceAllString(trimmed, "")
	trimmed = assigneeSuffixRegex.ReplaceAllString(trimmed, "")
	return strings.TrimSpace(trimmed)
}

// mergeActionItems merges new items into an existing companion note's body
// by task-text equality (case-insensitive), never duplicating.
func mergeActionItems(newItems []actionItem) func(existingBody string) string {
	return func(existingBody string) string {
		existingTasks := map[string]bool{}
		for _, line := range strings.Split(existingBody, "\n") {
			if task := bareTaskText(line); task != "" {
				existingTasks[strings.ToLower(task)] = true
			}
		}
		var toAdd []actionItem
		for _, it := range newItems {
			if !existingTasks[strings.ToLower(strings.TrimSpace(it.Task))] {
				toAdd = append(toAdd, it)
			}
		}
		if len(toAdd) == 0 {
			return existingBody
		}
		return existingBody + "\n" + renderActionItems(toAdd)
	}
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

func slug(s string) string {
	s = strings.ToLower(s)
	var b strings.Builder
	lastDash := false
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z' || r >= '0' && r <= '9':
			b.WriteRune(r)
			lastDash = false
		default:
			if !lastDash {
				b.WriteByte('-')
				lastDash = true
			}
		}
	}
	return strings.Trim(b.String(), "-")
}
