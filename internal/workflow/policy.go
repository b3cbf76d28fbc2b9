package workflow

import (
	"fmt"
	"strings"
)

// Step outcome statuses reported by capabilities.
const (
	OutcomeSuccess      = "success"
	OutcomeWarning      = "warning"
	OutcomeFailure      = "failure"
	OutcomePendingInput = "pending_input"
)

// Action kinds produced by policy resolution.
const (
	ActionContinue = "continue"
	ActionStop     = "stop"
	ActionRetry    = "retry"
	ActionPause    = "pause"
	ActionRecover  = "recover"
)

// Action is a parsed result-handling value. Retry may target an earlier
// phase; Recover names a recovery handler capability.
type Action struct {
	Kind   string
	Target string
}

func (a Action) String() string {
	if a.Target == "" {
		return a.Kind
	}
	return a.Kind + ":" + a.Target
}

// ParseAction parses a result-handling value into an Action.
func ParseAction(s string) (Action, error) {
	switch s {
	case ActionContinue, ActionStop, ActionRetry, ActionPause:
		return Action{Kind: s}, nil
	}
	if t, ok := strings.CutPrefix(s, "retry:"); ok && t != "" {
		return Action{Kind: ActionRetry, Target: t}, nil
	}
	if t, ok := strings.CutPrefix(s, "recover:"); ok && t != "" {
		return Action{Kind: ActionRecover, Target: t}, nil
	}
	return Action{}, fmt.Errorf("unknown result-handling value %q", s)
}

// defaultHandling is the built-in bottom of the policy cascade.
var defaultHandling = map[string]Action{
	OutcomeSuccess:      {Kind: ActionContinue},
	OutcomeWarning:      {Kind: ActionContinue},
	OutcomeFailure:      {Kind: ActionStop},
	OutcomePendingInput: {Kind: ActionPause},
}

// ResolveHandling resolves the effective action for a step outcome using
// explicit, ordered field-by-field override resolution: step, then phase,
// then workflow, then the built-in default. The cascade is inspectable:
// each level contributes only fields it sets.
func ResolveHandling(def *Definition, phase *Phase, step *Step, outcome string) (Action, error) {
	levels := []*ResultHandling{}
	if step != nil && step.ResultHandling != nil {
		levels = append(levels, step.ResultHandling)
	}
	if phase != nil && phase.ResultHandling != nil {
		levels = append(levels, phase.ResultHandling)
	}
	if def != nil && def.ResultHandling != nil {
		levels = append(levels, def.ResultHandling)
	}

	for _, rh := range levels {
		if v := rh.field(outcome); v != "" {
			return ParseAction(v)
		}
	}

	a, ok := defaultHandling[outcome]
	if !ok {
		return Action{}, fmt.Errorf("unknown step outcome %q", outcome)
	}
	return a, nil
}

// field returns the handler value for an outcome, or "".
func (rh *ResultHandling) field(outcome string) string {
	switch outcome {
	case OutcomeSuccess:
		return rh.OnSuccess
	case OutcomeWarning:
		return rh.OnWarning
	case OutcomeFailure:
		return rh.OnFailure
	case OutcomePendingInput:
		return rh.OnPendingInput
	}
	return ""
}
