package rules

import (
	"sort"
	"sync"
)

// registration pairs a Rule with its mutable admin-surface state.
type registration struct {
	rule     Rule
	enabled  bool
	options  map[string]interface{}
}

// Registry holds the set of known rules and their enabled/disabled state.
// Rules are registered once at startup; enable/disable toggles happen at
// runtime through the admin surface.
type Registry struct {
	mu    sync.RWMutex
	byID  map[string]*registration
	order []string // registration order, stable tie-break fallback
}

// NewRegistry returns an empty rule registry.
func NewRegistry() *Registry {
	return &Registry{byID: make(map[string]*registration)}
}

// Register adds rule with its resolved per-rule options. Re-registering an
// existing ID replaces it and resets enabled state to true.
func (r *Registry) Register(rule Rule, options map[string]interface{}) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id := rule.ID()
	if _, exists := r.byID[id]; !exists {
		r.order = append(r.order, id)
	}
	r.byID[id] = &registration{rule: rule, enabled: true, options: options}
}

// Enable turns a rule back on. Quarantine is engine-level, not
// registry-level, and is not cleared here (see Engine.Unquarantine).
func (r *Registry) Enable(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	reg, ok := r.byID[id]
	if !ok {
		return false
	}
	reg.enabled = true
	return true
}

// Disable turns a rule off; it will no longer match any event.
func (r *Registry) Disable(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	reg, ok := r.byID[id]
	if !ok {
		return false
	}
	reg.enabled = false
	return true
}

// IsEnabled reports whether id is currently enabled.
func (r *Registry) IsEnabled(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	reg, ok := r.byID[id]
	return ok && reg.enabled
}

// Get returns the rule and its options for id.
func (r *Registry) Get(id string) (Rule, map[string]interface{}, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	reg, ok := r.byID[id]
	if !ok {
		return nil, nil, false
	}
	return reg.rule, reg.options, true
}

// List returns every registered rule's ID, metadata, and enabled state.
type RuleInfo struct {
	ID       string
	Metadata Metadata
	Enabled  bool
	Priority int
	Trigger  Trigger
}

func (r *Registry) List() []RuleInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]RuleInfo, 0, len(r.byID))
	for _, id := range r.order {
		reg := r.byID[id]
		out = append(out, RuleInfo{
			ID:       id,
			Metadata: reg.rule.Metadata(),
			Enabled:  reg.enabled,
			Priority: reg.rule.Priority(),
			Trigger:  reg.rule.Trigger(),
		})
	}
	return out
}

// Eligible returns enabled rules whose trigger matches t, ordered by
// descending priority with ties broken by ID ascending.
func (r *Registry) Eligible(t Trigger) []Rule {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Rule
	for _, id := range r.order {
		reg := r.byID[id]
		if !reg.enabled {
			continue
		}
		if reg.rule.Trigger() != t {
			continue
		}
		out = append(out, reg.rule)
	}
	sort.Slice(out, func(i, j int) bool {
		pi, pj := out[i].Priority(), out[j].Priority()
		if pi != pj {
			return pi > pj
		}
		return out[i].ID() < out[j].ID()
	})
	return out
}
