// Package guard implements the pre-execution checks that run before every
// step. Guards sit outside result handling: a guard failure stops the run
// regardless of any configured on_failure action, because a failed guard
// means the preconditions for trusting the step's result are absent.
package guard

import (
	"fmt"
	"strings"

	"forgeline/internal/approval"
	"forgeline/internal/runstate"
	"forgeline/internal/workflow"
)

// Verdict actions.
const (
	Pass  = "pass"
	Fail  = "fail"
	Skip  = "skip"  // skip this step, continue the run
	Abort = "abort" // stop the whole run at operator request
	Pause = "pause" // decision pending, pause the run
)

// Verdict is a guard's ruling on a step.
type Verdict struct {
	Action string
	Reason string
}

var passed = Verdict{Action: Pass}

// Guard checks one precondition for a step about to execute.
type Guard interface {
	Name() string
	Check(step *workflow.Step, rs *runstate.RunState) (Verdict, error)
}

// Failure reports which guard blocked a step and why. It is terminal for
// the run; result handling does not apply to it.
type Failure struct {
	Guard  string
	StepID string
	Reason string
}

func (e *Failure) Error() string {
	return fmt.Sprintf("guard %s blocked step %s: %s", e.Guard, e.StepID, e.Reason)
}

// Chain runs guards in a fixed order and halts at the first non-pass
// verdict.
type Chain struct {
	guards []Guard
}

// NewChain builds a chain that evaluates the given guards in order.
func NewChain(guards ...Guard) *Chain {
	return &Chain{guards: guards}
}

// Check evaluates each guard in turn. A Fail verdict becomes a *Failure
// error; Skip, Abort and Pause verdicts are returned to the caller, which
// decides how the run proceeds.
func (c *Chain) Check(step *workflow.Step, rs *runstate.RunState) (Verdict, error) {
	for _, g := range c.guards {
		v, err := g.Check(step, rs)
		if err != nil {
			return Verdict{}, fmt.Errorf("guard %s: %w", g.Name(), err)
		}
		switch v.Action {
		case Pass:
			continue
		case Fail:
			return v, &Failure{Guard: g.Name(), StepID: step.ID, Reason: v.Reason}
		default:
			return v, nil
		}
	}
	return passed, nil
}

// EvidenceGuard verifies that the step immediately preceding this one in
// the resolved definition has a recorded acceptable outcome. The first
// step of a run has no predecessor and always passes.
type EvidenceGuard struct {
	def *workflow.Definition
}

func NewEvidenceGuard(def *workflow.Definition) *EvidenceGuard {
	return &EvidenceGuard{def: def}
}

func (g *EvidenceGuard) Name() string { return "evidence" }

func (g *EvidenceGuard) Check(step *workflow.Step, rs *runstate.RunState) (Verdict, error) {
	prev, prevPhase := g.precedingStep(step.ID)
	if prev == "" {
		return passed, nil
	}
	rec := rs.LatestStep(prev)
	if rec == nil {
		// A step of a phase skipped at runtime leaves no record.
		if ps := rs.FindPhase(prevPhase); ps != nil && ps.Status == runstate.PhaseSkipped {
			return passed, nil
		}
		return Verdict{
			Action: Fail,
			Reason: fmt.Sprintf("no completion record for preceding step %q", prev),
		}, nil
	}
	switch rec.Status {
	case runstate.StepSuccess, runstate.StepWarning, runstate.StepSkipped:
		return passed, nil
	}
	return Verdict{
		Action: Fail,
		Reason: fmt.Sprintf("preceding step %q ended with status %q", prev, rec.Status),
	}, nil
}

// precedingStep returns the id and phase of the step directly before
// stepID in the definition's enabled execution order, or "" for the
// first step.
func (g *EvidenceGuard) precedingStep(stepID string) (string, string) {
	prev, prevPhase := "", ""
	for _, p := range g.def.EnabledPhases() {
		for _, st := range p.AllSteps() {
			if st.ID == stepID {
				return prev, prevPhase
			}
			prev, prevPhase = st.ID, p.Name
		}
	}
	return "", ""
}

// StateGuard verifies that the persisted run state is internally
// consistent before acting on it: the run is live, its cursor names a
// known phase, and that phase is in a runnable status.
type StateGuard struct{}

func (StateGuard) Name() string { return "state" }

func (StateGuard) Check(step *workflow.Step, rs *runstate.RunState) (Verdict, error) {
	if rs.Terminal() {
		return Verdict{
			Action: Fail,
			Reason: fmt.Sprintf("run is already %s", rs.Status),
		}, nil
	}
	if rs.CurrentPhase == "" {
		return Verdict{Action: Fail, Reason: "run has no current phase"}, nil
	}
	ps := rs.FindPhase(rs.CurrentPhase)
	if ps == nil {
		return Verdict{
			Action: Fail,
			Reason: fmt.Sprintf("current phase %q is not tracked in run state", rs.CurrentPhase),
		}, nil
	}
	switch ps.Status {
	case runstate.PhasePending, runstate.PhaseInProgress:
		return passed, nil
	}
	return Verdict{
		Action: Fail,
		Reason: fmt.Sprintf("phase %q is %s, not runnable", ps.Name, ps.Status),
	}, nil
}

// ProtectedTargetGuard blocks steps whose target matches a protected
// pattern unless the run was started with an explicit override.
type ProtectedTargetGuard struct {
	protected []string
	override  bool
}

func NewProtectedTargetGuard(protected []string, override bool) *ProtectedTargetGuard {
	return &ProtectedTargetGuard{protected: protected, override: override}
}

func (g *ProtectedTargetGuard) Name() string { return "protected_target" }

func (g *ProtectedTargetGuard) Check(step *workflow.Step, rs *runstate.RunState) (Verdict, error) {
	if step.Target == "" || g.override {
		return passed, nil
	}
	for _, p := range g.protected {
		if matchTarget(p, step.Target) {
			return Verdict{
				Action: Fail,
				Reason: fmt.Sprintf("target %q matches protected pattern %q", step.Target, p),
			}, nil
		}
	}
	return passed, nil
}

// matchTarget matches a target against a protected pattern. A trailing
// "*" matches any suffix; otherwise the comparison is exact.
func matchTarget(pattern, target string) bool {
	if prefix, ok := strings.CutSuffix(pattern, "*"); ok {
		return strings.HasPrefix(target, prefix)
	}
	return pattern == target
}

// DestructiveGuard requires an explicit decision before any step marked
// destructive. The approver's choice maps to proceed, skip or abort; a
// pending decision pauses the run.
type DestructiveGuard struct {
	approver approval.Approver
}

func NewDestructiveGuard(a approval.Approver) *DestructiveGuard {
	return &DestructiveGuard{approver: a}
}

func (g *DestructiveGuard) Name() string { return "destructive" }

func (g *DestructiveGuard) Check(step *workflow.Step, rs *runstate.RunState) (Verdict, error) {
	if !step.Destructive {
		return passed, nil
	}
	prompt := fmt.Sprintf("step %q is marked destructive", step.ID)
	if step.Target != "" {
		prompt = fmt.Sprintf("step %q is marked destructive (target: %s)", step.ID, step.Target)
	}
	decision, err := g.approver.Decide(approval.Request{
		RunID:   rs.RunID,
		Kind:    "destructive_step",
		Phase:   rs.CurrentPhase,
		StepID:  step.ID,
		Prompt:  prompt,
		Options: []string{approval.Proceed, approval.Skip, approval.Abort},
	})
	if err != nil {
		if err == approval.ErrPending {
			return Verdict{Action: Pause, Reason: "destructive step awaiting approval"}, nil
		}
		return Verdict{}, fmt.Errorf("request approval: %w", err)
	}
	switch decision {
	case approval.Proceed, approval.Approve:
		return passed, nil
	case approval.Skip:
		return Verdict{Action: Skip, Reason: "destructive step skipped by operator"}, nil
	case approval.Abort, approval.Stop:
		return Verdict{Action: Abort, Reason: "destructive step aborted by operator"}, nil
	}
	return Verdict{}, fmt.Errorf("unrecognized approval decision %q", decision)
}
