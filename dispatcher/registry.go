// Package dispatcher implements the universal function dispatch layer (C8):
// a per-site action registry, parameter validation, capability-scoped
// authorization, and a bounded execution history.
package dispatcher

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/corewave-ai/voicegateway/schema"
)

// ParamSpec describes one accepted parameter of an Action.
type ParamSpec struct {
	Type     string // "string", "number", "boolean", "object", "array"
	Required bool
}

// ActionHandler executes an Action's side effect.
type ActionHandler func(ctx context.Context, params map[string]any) (any, error)

// Action is one callable function a site exposes to the orchestrator (spec
// §4.8).
type Action struct {
	Name       string
	Type       string
	Parameters map[string]ParamSpec
	SideEffect schema.SideEffectClass
	RiskLevel  schema.RiskLevel
	Handler    ActionHandler
}

// siteTable is an immutable snapshot of one site's registered actions.
type siteTable map[string]Action

// Registry is a copy-on-write, per-site action registry. Reads never block
// writers and vice versa: Register builds a new table and atomically swaps
// it in, so in-flight Execute calls always see a consistent snapshot.
type Registry struct {
	mu    sync.Mutex // serializes writers only
	sites atomic.Value // map[string]siteTable
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	r := &Registry{}
	r.sites.Store(map[string]siteTable{})
	return r
}

// Register adds or replaces action a under siteID.
func (r *Registry) Register(siteID string, a Action) error {
	if siteID == "" {
		return fmt.Errorf("dispatcher: site id is required")
	}
	if a.Name == "" {
		return fmt.Errorf("dispatcher: action name is required")
	}
	if a.Handler == nil {
		return fmt.Errorf("dispatcher: action %q: handler is required", a.Name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	current := r.sites.Load().(map[string]siteTable)
	next := make(map[string]siteTable, len(current)+1)
	for k, v := range current {
		next[k] = v
	}

	table := next[siteID]
	newTable := make(siteTable, len(table)+1)
	for k, v := range table {
		newTable[k] = v
	}
	newTable[a.Name] = a
	next[siteID] = newTable

	r.sites.Store(next)
	return nil
}

// Get looks up an action by site and name.
func (r *Registry) Get(siteID, name string) (Action, bool) {
	sites := r.sites.Load().(map[string]siteTable)
	table, ok := sites[siteID]
	if !ok {
		return Action{}, false
	}
	a, ok := table[name]
	return a, ok
}

// List returns every action registered for siteID, sorted by name.
func (r *Registry) List(siteID string) []Action {
	sites := r.sites.Load().(map[string]siteTable)
	table := sites[siteID]
	out := make([]Action, 0, len(table))
	for _, a := range table {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
