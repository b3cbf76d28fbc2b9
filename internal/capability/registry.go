package capability

import (
	"context"
	"fmt"
	"sort"
)

// Registry resolves step commands to invokers and recovery handler names
// to recoverers. Steps that carry only an instruction fall back to the
// default invoker.
type Registry struct {
	invokers   map[string]Invoker
	recoverers map[string]Recoverer
	fallback   Invoker
}

// NewRegistry creates an empty registry with the given default invoker.
func NewRegistry(fallback Invoker) *Registry {
	return &Registry{
		invokers:   make(map[string]Invoker),
		recoverers: make(map[string]Recoverer),
		fallback:   fallback,
	}
}

// Register binds a command name to an invoker.
func (r *Registry) Register(name string, inv Invoker) {
	r.invokers[name] = inv
}

// RegisterRecoverer binds a recovery handler name to a recoverer.
func (r *Registry) RegisterRecoverer(name string, rec Recoverer) {
	r.recoverers[name] = rec
}

// Invoke dispatches an invocation to the named command's invoker, or to
// the fallback when command is empty.
func (r *Registry) Invoke(ctx context.Context, command string, inv Invocation) (*StepResult, error) {
	if command == "" {
		if r.fallback == nil {
			return nil, fmt.Errorf("step %q has no command and no default capability is configured", inv.StepID)
		}
		return r.fallback.Invoke(ctx, inv)
	}
	i, ok := r.invokers[command]
	if !ok {
		return nil, fmt.Errorf("unknown capability %q for step %q (known: %v)", command, inv.StepID, r.Names())
	}
	return i.Invoke(ctx, inv)
}

// Recover dispatches to the named recovery handler.
func (r *Registry) Recover(ctx context.Context, name string, inv Invocation, failed *StepResult) (*RecoveryPlan, error) {
	rec, ok := r.recoverers[name]
	if !ok {
		return nil, fmt.Errorf("unknown recovery handler %q for step %q", name, inv.StepID)
	}
	return rec.Plan(ctx, inv, failed)
}

// Names returns the registered command names, sorted.
func (r *Registry) Names() []string {
	out := make([]string, 0, len(r.invokers))
	for name := range r.invokers {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
