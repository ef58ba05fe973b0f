package rules_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/atomicobject/vaultweaver/internal/rules"
)

type stubRule struct {
	id       string
	trigger  rules.Trigger
	priority int
}

func (s stubRule) ID() string            { return s.id }
func (s stubRule) Trigger() rules.Trigger { return s.trigger }
func (s stubRule) Priority() int         { return s.priority }
func (s stubRule) Metadata() rules.Metadata {
	return rules.Metadata{Description: s.id}
}
func (s stubRule) Condition(*rules.RuleContext) (bool, error) { return true, nil }
func (s stubRule) Action(*rules.RuleContext) (rules.RuleResult, error) {
	return rules.RuleResult{}, nil
}

func TestRegistryEnableDisable(t *testing.T) {
	reg := rules.NewRegistry()
	reg.Register(stubRule{id: "a", trigger: rules.TriggerFileAdd, priority: 10}, nil)

	assert.True(t, reg.IsEnabled("a"))
	assert.True(t, reg.Disable("a"))
	assert.False(t, reg.IsEnabled("a"))
	assert.True(t, reg.Enable("a"))
	assert.True(t, reg.IsEnabled("a"))

	assert.False(t, reg.Enable("missing"))
	assert.False(t, reg.Disable("missing"))
}

func TestRegistryEligibleOrdersByPriorityThenID(t *testing.T) {
	reg := rules.NewRegistry()
	reg.Register(stubRule{id: "low", trigger: rules.TriggerFileAdd, priority: 10}, nil)
	reg.Register(stubRule{id: "high", trigger: rules.TriggerFileAdd, priority: 90}, nil)
	reg.Register(stubRule{id: "mid-b", trigger: rules.TriggerFileAdd, priority: 50}, nil)
	reg.Register(stubRule{id: "mid-a", trigger: rules.TriggerFileAdd, priority: 50}, nil)
	reg.Register(stubRule{id: "other-trigger", trigger: rules.TriggerFileDelete, priority: 100}, nil)

	eligible := reg.Eligible(rules.TriggerFileAdd)
	var ids []string
	for _, r := range eligible {
		ids = append(ids, r.ID())
	}
	assert.Equal(t, []string{"high", "mid-a", "mid-b", "low"}, ids)
}

func TestRegistryEligibleExcludesDisabled(t *testing.T) {
	reg := rules.NewRegistry()
	reg.Register(stubRule{id: "a", trigger: rules.TriggerFileAdd, priority: 10}, nil)
	reg.Register(stubRule{id: "b", trigger: rules.TriggerFileAdd, priority: 20}, nil)
	reg.Disable("b")

	eligible := reg.Eligible(rules.TriggerFileAdd)
	assert.Len(t, eligible, 1)
	assert.Equal(t, "a", eligible[0].ID())
}

func TestRegistryListReportsEnabledState(t *testing.T) {
	reg := rules.NewRegistry()
	reg.Register(stubRule{id: "a", trigger: rules.TriggerFileAdd, priority: 10}, nil)
	reg.Disable("a")

	list := reg.List()
	assert.Len(t, list, 1)
	assert.False(t, list[0].Enabled)
}
