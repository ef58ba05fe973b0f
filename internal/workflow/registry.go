package workflow

import "sync"

// Registry holds workflow definitions registered at startup. It is
// populated once and treated as read-only during steady state.
type Registry struct {
	mu   sync.RWMutex
	defs map[string]Definition
}

// NewRegistry returns an empty workflow registry.
func NewRegistry() *Registry {
	return &Registry{defs: make(map[string]Definition)}
}

// Register adds def to the registry. Re-registering the same ID replaces
// the definition; callers typically only do this during startup discovery.
func (r *Registry) Register(def Definition) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.defs[def.ID] = def
}

// Get returns the definition for id.
func (r *Registry) Get(id string) (Definition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.defs[id]
	return d, ok
}

// List returns every registered definition's ID and description.
type DefinitionInfo struct {
	ID          string
	Description string
	StepNames   []string
}

func (r *Registry) List() []DefinitionInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]DefinitionInfo, 0, len(r.defs))
	for _, d := range r.defs {
		names := make([]string, len(d.Steps))
		for i, s := range d.Steps {
			names[i] = s.Name
		}
		out = append(out, DefinitionInfo{ID: d.ID, Description: d.Description, StepNames: names})
	}
	return out
}
