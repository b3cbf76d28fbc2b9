package workflow

import (
	"fmt"
	"sort"
)

// validateMerged checks the structural invariants of a fully merged
// definition and normalizes its phases into canonical order.
func validateMerged(def *Definition) error {
	if len(def.Phases) == 0 {
		return fmt.Errorf("definition has no phases")
	}

	seenPhase := make(map[string]bool, len(def.Phases))
	for _, p := range def.Phases {
		if PhaseIndex(p.Name) < 0 {
			return fmt.Errorf("unknown phase name %q (valid: %v)", p.Name, PhaseOrder)
		}
		if seenPhase[p.Name] {
			return fmt.Errorf("phase %q declared more than once", p.Name)
		}
		seenPhase[p.Name] = true
	}
	sort.SliceStable(def.Phases, func(i, j int) bool {
		return PhaseIndex(def.Phases[i].Name) < PhaseIndex(def.Phases[j].Name)
	})

	// Step ids are unique across the fully merged definition, every step
	// declares an action, and no result-handling value is malformed.
	seenStep := make(map[string]string)
	for pi := range def.Phases {
		p := &def.Phases[pi]
		for _, st := range p.AllSteps() {
			if st.ID == "" {
				return fmt.Errorf("phase %q: step with empty id", p.Name)
			}
			if prev, ok := seenStep[st.ID]; ok {
				return fmt.Errorf("step id %q appears in phase %q and phase %q", st.ID, prev, p.Name)
			}
			seenStep[st.ID] = p.Name

			if st.Command == "" && st.Instruction == "" {
				return fmt.Errorf("step %q: requires a command or an instruction", st.ID)
			}
			if err := validateHandling(def, p, st.ResultHandling, fmt.Sprintf("step %q", st.ID), true); err != nil {
				return err
			}
		}
		if err := validateHandling(def, p, p.ResultHandling, fmt.Sprintf("phase %q", p.Name), true); err != nil {
			return err
		}
	}
	if err := validateHandling(def, nil, def.ResultHandling, "workflow", true); err != nil {
		return err
	}

	// Autonomy gates must reference enabled phases.
	if def.Autonomy != nil {
		for _, g := range def.Autonomy.RequireApprovalFor {
			if g.When != "before" && g.When != "after" {
				return fmt.Errorf("autonomy gate for phase %q: when must be \"before\" or \"after\", got %q", g.Phase, g.When)
			}
			p := def.FindPhase(g.Phase)
			if p == nil {
				return fmt.Errorf("autonomy gate references unknown phase %q", g.Phase)
			}
			if !p.IsEnabled() {
				return fmt.Errorf("autonomy gate references disabled phase %q", g.Phase)
			}
		}
	}

	return nil
}

// validateHandling checks one result-handling block. When strictFailure is
// set, on_failure may only resolve to stop, retry, or a recovery handler;
// a value that would silently discard a failure is rejected.
func validateHandling(def *Definition, owner *Phase, rh *ResultHandling, where string, strictFailure bool) error {
	if rh == nil {
		return nil
	}
	for _, f := range []struct {
		name  string
		value string
	}{
		{"on_success", rh.OnSuccess},
		{"on_warning", rh.OnWarning},
		{"on_failure", rh.OnFailure},
		{"on_pending_input", rh.OnPendingInput},
	} {
		if f.value == "" {
			continue
		}
		a, err := ParseAction(f.value)
		if err != nil {
			return fmt.Errorf("%s: %s: %w", where, f.name, err)
		}
		if strictFailure && f.name == "on_failure" {
			switch a.Kind {
			case ActionStop, ActionRetry, ActionRecover:
			default:
				return fmt.Errorf("%s: on_failure may not resolve to %q; it must stop, retry, or name a recovery handler", where, f.value)
			}
		}
		if a.Kind == ActionRetry && a.Target != "" {
			tp := def.FindPhase(a.Target)
			if tp == nil {
				return fmt.Errorf("%s: %s: retry targets unknown phase %q", where, f.name, a.Target)
			}
			if !tp.IsEnabled() {
				return fmt.Errorf("%s: %s: retry targets disabled phase %q", where, f.name, a.Target)
			}
			if owner != nil && PhaseIndex(a.Target) > PhaseIndex(owner.Name) {
				return fmt.Errorf("%s: %s: retry target %q is after owning phase %q", where, f.name, a.Target, owner.Name)
			}
		}
	}
	return nil
}
