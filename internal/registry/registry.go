package registry

import (
	"context"
	"log/slog"
	"sort"
	"sync"

	"github.com/rendis/stepflow/pkg/schema"
)

// Output keys actions use to signal a decision point. An action whose outputs
// contain OutputRequiresDecision set to true suspends the execution until a
// human submits a choice; OutputProposals optionally carries candidate options.
const (
	OutputRequiresDecision = "requiresDecision"
	OutputProposals        = "proposals"
)

// ActionFunc is a step implementation. Inputs arrive with template references
// already resolved; the returned outputs are merged into execution state.
type ActionFunc func(ctx context.Context, inputs map[string]any, ec *ExecutionContext) (map[string]any, error)

// ExecutionContext is the read-only view of the running execution handed to
// actions.
type ExecutionContext struct {
	ExecutionID string
	StepID      string
	WorkflowID  string
	VersionTag  string
	WorkDir     string
	Logger      *slog.Logger
}

type actionKey struct {
	module string
	action string
}

// ActionInfo identifies a registered action.
type ActionInfo struct {
	Module string `json:"module"`
	Action string `json:"action"`
}

// Registry is a thread-safe action registry keyed by (module, action).
type Registry struct {
	mu      sync.RWMutex
	actions map[actionKey]ActionFunc
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{actions: make(map[actionKey]ActionFunc)}
}

// Register adds an action under a module namespace. Returns a Conflict error
// on duplicate registration.
func (r *Registry) Register(module, action string, fn ActionFunc) error {
	if module == "" || action == "" {
		return schema.NewError(schema.ErrCodeValidation, "module and action names must not be empty")
	}
	if fn == nil {
		return schema.NewErrorf(schema.ErrCodeValidation, "action %s.%s is nil", module, action)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	key := actionKey{module, action}
	if _, exists := r.actions[key]; exists {
		return schema.NewErrorf(schema.ErrCodeConflict, "action %s.%s already registered", module, action)
	}
	r.actions[key] = fn
	return nil
}

// Resolve retrieves an action by module and action name.
func (r *Registry) Resolve(module, action string) (ActionFunc, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	fn, ok := r.actions[actionKey{module, action}]
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeNotFound, "action %s.%s not registered", module, action)
	}
	return fn, nil
}

// Has checks whether an action is registered.
func (r *Registry) Has(module, action string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.actions[actionKey{module, action}]
	return ok
}

// List returns all registered actions sorted by module then action.
func (r *Registry) List() []ActionInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	infos := make([]ActionInfo, 0, len(r.actions))
	for key := range r.actions {
		infos = append(infos, ActionInfo{Module: key.module, Action: key.action})
	}
	sort.Slice(infos, func(i, j int) bool {
		if infos[i].Module != infos[j].Module {
			return infos[i].Module < infos[j].Module
		}
		return infos[i].Action < infos[j].Action
	})
	return infos
}

// Count returns the number of registered actions.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.actions)
}

// RequiresDecision reports whether action outputs signal a decision point.
func RequiresDecision(outputs map[string]any) bool {
	v, ok := outputs[OutputRequiresDecision]
	if !ok {
		return false
	}
	b, ok := v.(bool)
	return ok && b
}
