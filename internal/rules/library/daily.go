package library

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/atomicobject/vaultweaver/internal/rules"
)

// DailyNote renders a new empty daily note from a template and rolls over
// incomplete tasks from the previous day.
type DailyNote struct{}

func (DailyNote) ID() string            { return "daily-note" }
func (DailyNote) Trigger() rules.Trigger { return rules.TriggerFileAdd }
func (DailyNote) Priority() int         { return 60 }
func (DailyNote) Metadata() rules.Metadata {
	return rules.Metadata{
		Description: "Fills freshly created YYYY-MM-DD notes with the daily template and rolled-over tasks.",
		Category:    "templating",
		Tags:        []string{"daily"},
	}
}

var dailyNameRegex = regexp.MustCompile(`^(\d{4})-(\d{2})-(\d{2})\.md$`)

func (DailyNote) Condition(rc *rules.RuleContext) (bool, error) {
	base := filepath.Base(rc.Event.Path)
	if !dailyNameRegex.MatchString(base) {
		return false, nil
	}
	n, err := rc.Note()
	if err != nil {
		return false, err
	}
	trimmed := strings.TrimSpace(n.Body)
	return trimmed == "" || trimmed == dailyTemplateSkeleton, nil
}

const dailyTemplateSkeleton = "## Rollover Tasks\n\n## Notes"

type rolloverTask struct {
	Text      string `json:"text"`
	Completed bool   `json:"completed"`
}

func (DailyNote) Action(rc *rules.RuleContext) (rules.RuleResult, error) {
	dateStr := strings.TrimSuffix(filepath.Base(rc.Event.Path), ".md")
	date, err := time.Parse("2006-01-02", dateStr)
	if err != nil {
		return rules.RuleResult{}, err
	}
	yesterday := date.AddDate(0, 0, -1).Format("2006-01-02")
	tomorrow := date.AddDate(0, 0, 1).Format("2006-01-02")
	_, week := date.ISOWeek()

	var rollover []rolloverTask
	if raw, ok, err := rc.Memory.Get(rc.Ctx, "daily/tasks", yesterday); err == nil && ok {
		_ = json.Unmarshal(raw, &rollover)
	}

	var rolloverLines strings.Builder
	for _, t := range rollover {
		if t.Completed {
			continue
		}
		rolloverLines.WriteString(fmt.Sprintf("- [ ] %s\n", t.Text))
	}

	body := fmt.Sprintf(
		"# %s\n\nYesterday: [[%s]] | Tomorrow: [[%s]] | Week %d\n\n## Rollover Tasks\n\n%s\n## Notes\n",
		dateStr, yesterday, tomorrow, week, rolloverLines.String(),
	)

	current, err := rc.Note()
	if err != nil {
		return rules.RuleResult{}, err
	}
	todayTasks, _ := json.Marshal(rollover)

	return rules.RuleResult{
		NoteUpdates: []rules.NoteUpdate{{
			Path:        rc.Event.Path,
			BodyPatches: []rules.BodyPatch{{Start: 0, End: len(current.Body), Replace: body}},
		}},
		MemoryOps: []rules.MemoryOp{
			{Namespace: "daily/tasks", Key: dateStr, Value: todayTasks, TTL: 0},
		},
	}, nil
}
