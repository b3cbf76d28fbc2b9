package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"forgeline/internal/approval"
	"forgeline/internal/capability"
	"forgeline/internal/events"
	"forgeline/internal/guard"
	"forgeline/internal/runstate"
	"forgeline/internal/workflow"
)

// Directive kinds produced by step and gate handling. The execute loop is
// the single place that interprets them, so every transition is applied
// in one spot.
const (
	dirNext = iota // proceed to the next step
	dirAdvancePhase
	dirSkipNextPhase
	dirRetry
	dirGoto
	dirPause
	dirStopRun
	dirFailRun
)

type directive struct {
	kind      int
	phase     string // acting phase; retry budget and failure attribution
	stepID    string
	stepIndex int    // acting step's index within its phase
	target    string // retry: phase name; goto: step id
	stepMax   int    // step-level retry budget override
	reason    string
	feedback  string // feedback request persisted on pause
	resumeAt  int    // pause: step index to resume at
	failErr   error  // typed terminal error to surface to the caller
}

// execute drives a run from its current cursor to the next suspension
// point or terminal state. The context lock is held for the whole call
// and released on return, including pauses.
func (o *Orchestrator) execute(ctx context.Context, def *workflow.Definition, rs *runstate.RunState, feedback string, resumed bool) (*runstate.RunState, error) {
	tok, err := o.locks.Acquire(rs.ContextID, o.holder)
	if err != nil {
		return rs, err
	}
	defer o.locks.Release(tok)
	if tok.Reclaimed {
		o.emit(rs, events.Event{
			Type:    events.TypeLockReclaimed,
			Message: fmt.Sprintf("reclaimed stale lock on context %q", rs.ContextID),
		})
	}

	chain := guard.NewChain(
		guard.StateGuard{},
		guard.NewEvidenceGuard(def),
		guard.NewProtectedTargetGuard(o.protected, o.allowProtected),
		guard.NewDestructiveGuard(o.approver),
	)

	pi, nextStep := 0, 0
	if resumed {
		if rs.ResumePoint != nil {
			pi = phaseIndexOf(def, rs.ResumePoint.Phase)
			if pi < 0 {
				return rs, fmt.Errorf("run %s: resume point names unknown phase %q", rs.RunID, rs.ResumePoint.Phase)
			}
			nextStep = rs.ResumePoint.StepIndex
		}
		o.emit(rs, events.Event{Type: events.TypeWorkflowResumed, Message: "run resumed"})
	}

	if err := o.update(rs, func(r *runstate.RunState) {
		r.Status = runstate.StatusInProgress
		r.FeedbackRequest = ""
		r.ResumePoint = nil
	}); err != nil {
		return rs, err
	}

	for pi < len(def.Phases) {
		ph := &def.Phases[pi]
		startStep := nextStep
		nextStep = 0

		if !ph.IsEnabled() {
			pi++
			continue
		}
		ps := rs.FindPhase(ph.Name)
		if ps == nil {
			return rs, fmt.Errorf("run %s: phase %q missing from run state", rs.RunID, ph.Name)
		}
		if ps.Status == runstate.PhaseSkipped || ps.Status == runstate.PhaseCompleted {
			pi++
			continue
		}

		d, err := o.runPhase(ctx, def, chain, pi, startStep, rs, &feedback)
		if err != nil {
			return rs, err
		}

		switch d.kind {
		case dirAdvancePhase:
			pi++

		case dirSkipNextPhase:
			pi++
			for pi < len(def.Phases) {
				np := &def.Phases[pi]
				if !np.IsEnabled() {
					pi++
					continue
				}
				nps := rs.FindPhase(np.Name)
				if nps == nil || nps.Status != runstate.PhasePending {
					pi++
					continue
				}
				if err := o.update(rs, func(r *runstate.RunState) {
					r.FindPhase(np.Name).Status = runstate.PhaseSkipped
				}); err != nil {
					return rs, err
				}
				o.emit(rs, events.Event{Type: events.TypePhaseSkipped, Phase: np.Name, Message: d.reason})
				pi++
				break
			}

		case dirRetry:
			owner := rs.FindPhase(d.phase)
			max := owner.MaxRetries
			if d.stepMax > 0 {
				max = d.stepMax
			}
			if owner.RetryCount >= max {
				ferr := &MaxRetriesError{RunID: rs.RunID, Phase: d.phase, Retries: owner.RetryCount}
				if err := o.failRun(rs, d.phase, d.stepID, ferr.Error()); err != nil {
					return rs, err
				}
				return rs, ferr
			}
			ti := pi
			if d.target != "" && d.target != d.phase {
				ti = phaseIndexOf(def, d.target)
				if ti < 0 || ti > pi {
					return rs, fmt.Errorf("run %s: retry targets invalid phase %q", rs.RunID, d.target)
				}
			}
			if err := o.update(rs, func(r *runstate.RunState) {
				r.FindPhase(d.phase).RetryCount++
				for j := ti; j <= pi; j++ {
					p := &def.Phases[j]
					if !p.IsEnabled() {
						continue
					}
					if st := r.FindPhase(p.Name); st != nil && st.Status != runstate.PhaseSkipped {
						st.Status = runstate.PhasePending
					}
				}
			}); err != nil {
				return rs, err
			}
			o.emit(rs, events.Event{
				Type: events.TypePhaseRetry, Phase: d.phase, StepID: d.stepID,
				Message: d.reason,
				Metadata: map[string]string{
					"restart_from": def.Phases[ti].Name,
					"retry_count":  fmt.Sprintf("%d", rs.FindPhase(d.phase).RetryCount),
				},
			})
			o.logf("run %s: retrying from phase %q (retry %d of %d for %q)",
				rs.RunID, def.Phases[ti].Name, rs.FindPhase(d.phase).RetryCount, max, d.phase)
			pi = ti

		case dirGoto:
			tpi, tsi := locateStep(def, d.target)
			if tpi < 0 {
				return rs, fmt.Errorf("run %s: recovery plan targets unknown step %q", rs.RunID, d.target)
			}
			if !def.Phases[tpi].IsEnabled() {
				reason := fmt.Sprintf("recovery plan targets step %q in disabled phase %q", d.target, def.Phases[tpi].Name)
				if err := o.failRun(rs, d.phase, d.stepID, reason); err != nil {
					return rs, err
				}
				return rs, fmt.Errorf("run %s: %s", rs.RunID, reason)
			}
			if tpi > pi || (tpi == pi && tsi >= d.stepIndex) {
				if err := o.failRun(rs, d.phase, d.stepID,
					fmt.Sprintf("recovery plan targets step %q, which is not earlier in the run", d.target)); err != nil {
					return rs, err
				}
				return rs, fmt.Errorf("run %s: recovery plan targets step %q, which is not earlier in the run", rs.RunID, d.target)
			}
			if err := o.update(rs, func(r *runstate.RunState) {
				for j := tpi; j <= pi; j++ {
					p := &def.Phases[j]
					if !p.IsEnabled() {
						continue
					}
					if st := r.FindPhase(p.Name); st != nil && st.Status != runstate.PhaseSkipped {
						if j == tpi {
							st.Status = runstate.PhaseInProgress
						} else {
							st.Status = runstate.PhasePending
						}
					}
				}
				r.CurrentPhase = def.Phases[tpi].Name
			}); err != nil {
				return rs, err
			}
			o.logf("run %s: recovery jump to step %q", rs.RunID, d.target)
			pi = tpi
			nextStep = tsi

		case dirPause:
			return o.pauseRun(rs, d)

		case dirStopRun:
			o.emit(rs, events.Event{Type: events.TypeWorkflowStopped, Phase: d.phase, StepID: d.stepID, Message: d.reason})
			if err := o.update(rs, func(r *runstate.RunState) {
				r.Status = runstate.StatusStopped
				r.Error = d.reason
			}); err != nil {
				return rs, err
			}
			o.logf("run %s: stopped (%s)", rs.RunID, d.reason)
			return rs, nil

		case dirFailRun:
			if err := o.failRun(rs, d.phase, d.stepID, d.reason); err != nil {
				return rs, err
			}
			if d.failErr != nil {
				return rs, d.failErr
			}
			return rs, fmt.Errorf("run %s failed at %s/%s: %s", rs.RunID, d.phase, d.stepID, d.reason)

		default:
			return rs, fmt.Errorf("run %s: unhandled directive %d", rs.RunID, d.kind)
		}
	}

	dur := runDuration(rs)
	o.emit(rs, events.Event{
		Type:     events.TypeWorkflowComplete,
		Message:  fmt.Sprintf("workflow completed in %s", dur),
		Metadata: map[string]string{"duration": dur.String()},
	})
	if err := o.update(rs, func(r *runstate.RunState) {
		r.Status = runstate.StatusCompleted
		r.CurrentStep = ""
	}); err != nil {
		return rs, err
	}
	o.logf("run %s: completed in %s", rs.RunID, dur)
	return rs, nil
}

// runPhase executes one phase from startStep: before-gate, steps,
// after-gate, completion. An after-gate pause records a resume point just
// past the last step so the gate re-fires on resume.
func (o *Orchestrator) runPhase(ctx context.Context, def *workflow.Definition, chain *guard.Chain, pi, startStep int, rs *runstate.RunState, feedback *string) (directive, error) {
	ph := &def.Phases[pi]
	ps := rs.FindPhase(ph.Name)
	steps := ph.AllSteps()

	if ps.Status == runstate.PhasePending && startStep == 0 {
		if def.GateFor(ph.Name, "before") != nil {
			d, err := o.gate(rs, ph.Name, "before", 0)
			if err != nil {
				return directive{}, err
			}
			switch d.kind {
			case dirNext:
			case dirSkipNextPhase:
				// a before-gate skip skips the gated phase itself
				if err := o.update(rs, func(r *runstate.RunState) {
					r.FindPhase(ph.Name).Status = runstate.PhaseSkipped
				}); err != nil {
					return directive{}, err
				}
				o.emit(rs, events.Event{Type: events.TypePhaseSkipped, Phase: ph.Name, Message: "phase skipped at approval gate"})
				return directive{kind: dirAdvancePhase}, nil
			default:
				return d, nil
			}
		}
		if err := o.update(rs, func(r *runstate.RunState) {
			r.FindPhase(ph.Name).Status = runstate.PhaseInProgress
			r.CurrentPhase = ph.Name
		}); err != nil {
			return directive{}, err
		}
		o.emit(rs, events.Event{Type: events.TypePhaseStart, Phase: ph.Name})
		o.logf("run %s: phase %q", rs.RunID, ph.Name)
	} else if rs.CurrentPhase != ph.Name || ps.Status == runstate.PhasePending {
		if err := o.update(rs, func(r *runstate.RunState) {
			r.FindPhase(ph.Name).Status = runstate.PhaseInProgress
			r.CurrentPhase = ph.Name
		}); err != nil {
			return directive{}, err
		}
	}

	for si := startStep; si < len(steps); si++ {
		d, err := o.runStep(ctx, def, ph, &steps[si], si, chain, rs, feedback)
		if err != nil {
			return directive{}, err
		}
		if d.kind != dirNext {
			return d, nil
		}
	}

	if def.GateFor(ph.Name, "after") != nil {
		d, err := o.gate(rs, ph.Name, "after", len(steps))
		if err != nil {
			return directive{}, err
		}
		switch d.kind {
		case dirNext:
		case dirSkipNextPhase:
			if err := o.completePhase(rs, ph.Name); err != nil {
				return directive{}, err
			}
			return d, nil
		default:
			return d, nil
		}
	}

	if err := o.completePhase(rs, ph.Name); err != nil {
		return directive{}, err
	}
	return directive{kind: dirAdvancePhase}, nil
}

func (o *Orchestrator) completePhase(rs *runstate.RunState, phase string) error {
	if err := o.update(rs, func(r *runstate.RunState) {
		r.FindPhase(phase).Status = runstate.PhaseCompleted
	}); err != nil {
		return err
	}
	o.emit(rs, events.Event{Type: events.TypePhaseComplete, Phase: phase})
	return nil
}

// gate requests an autonomy-gate decision. resumeAt is the step index a
// pause should resume at, so the gate re-fires.
func (o *Orchestrator) gate(rs *runstate.RunState, phase, when string, resumeAt int) (directive, error) {
	prompt := fmt.Sprintf("approval required %s phase %q", when, phase)
	decision, err := o.approver.Decide(approval.Request{
		RunID:   rs.RunID,
		Kind:    "autonomy_gate",
		Phase:   phase,
		Prompt:  prompt,
		Options: []string{approval.Approve, approval.Skip, approval.Stop},
	})
	if err != nil {
		if errors.Is(err, approval.ErrPending) {
			return directive{
				kind: dirPause, phase: phase, resumeAt: resumeAt,
				reason:   fmt.Sprintf("awaiting approval %s phase %q", when, phase),
				feedback: prompt + ": approve, skip, or stop",
			}, nil
		}
		return directive{}, fmt.Errorf("gate %s phase %q: %w", when, phase, err)
	}
	o.emit(rs, events.Event{
		Type: events.TypeGateDecision, Phase: phase, Message: decision,
		Metadata: map[string]string{"when": when, "decision": decision},
	})
	switch decision {
	case approval.Approve, approval.Proceed:
		return directive{kind: dirNext}, nil
	case approval.Skip:
		return directive{kind: dirSkipNextPhase, reason: fmt.Sprintf("phase skipped at gate %s %q", when, phase)}, nil
	case approval.Stop, approval.Abort:
		return directive{kind: dirStopRun, phase: phase, reason: fmt.Sprintf("stopped at approval gate %s phase %q", when, phase)}, nil
	}
	return directive{}, fmt.Errorf("unrecognized gate decision %q", decision)
}

// runStep executes a single step: guards, invocation, result recording,
// and policy resolution.
func (o *Orchestrator) runStep(ctx context.Context, def *workflow.Definition, ph *workflow.Phase, st *workflow.Step, si int, chain *guard.Chain, rs *runstate.RunState, feedback *string) (directive, error) {
	if err := o.update(rs, func(r *runstate.RunState) {
		r.CurrentStep = st.ID
	}); err != nil {
		return directive{}, err
	}
	o.emit(rs, events.Event{Type: events.TypeStepStart, Phase: ph.Name, StepID: st.ID})
	o.logf("run %s: step %q", rs.RunID, st.ID)

	v, gerr := chain.Check(st, rs)
	if gerr != nil {
		var gf *guard.Failure
		if !errors.As(gerr, &gf) {
			return directive{}, gerr
		}
		now := time.Now().UTC().Format(time.RFC3339)
		if err := o.update(rs, func(r *runstate.RunState) {
			r.Steps = append(r.Steps, runstate.StepRecord{
				StepID: st.ID, Phase: ph.Name, Status: runstate.StepFailure,
				Error: gf.Reason, CompletedAt: now,
			})
		}); err != nil {
			return directive{}, err
		}
		return directive{kind: dirFailRun, phase: ph.Name, stepID: st.ID, reason: gf.Error(), failErr: gf}, nil
	}
	switch v.Action {
	case guard.Skip:
		now := time.Now().UTC().Format(time.RFC3339)
		if err := o.update(rs, func(r *runstate.RunState) {
			r.Steps = append(r.Steps, runstate.StepRecord{
				StepID: st.ID, Phase: ph.Name, Status: runstate.StepSkipped,
				Message: v.Reason, CompletedAt: now,
			})
		}); err != nil {
			return directive{}, err
		}
		o.emit(rs, events.Event{Type: events.TypeStepSkipped, Phase: ph.Name, StepID: st.ID, Message: v.Reason})
		return directive{kind: dirNext}, nil
	case guard.Abort:
		return directive{kind: dirStopRun, phase: ph.Name, stepID: st.ID, reason: v.Reason}, nil
	case guard.Pause:
		return directive{
			kind: dirPause, phase: ph.Name, stepID: st.ID, resumeAt: si,
			reason: v.Reason, feedback: v.Reason,
		}, nil
	}

	inv, err := o.buildInvocation(def, ph, st, rs, feedback)
	if err != nil {
		return directive{kind: dirFailRun, phase: ph.Name, stepID: st.ID, reason: err.Error()}, nil
	}

	res, err := o.caps.Invoke(ctx, st.Command, inv)
	if err != nil {
		return directive{
			kind: dirFailRun, phase: ph.Name, stepID: st.ID,
			reason: fmt.Sprintf("capability invocation failed: %v", err),
		}, nil
	}

	now := time.Now().UTC().Format(time.RFC3339)
	if err := o.update(rs, func(r *runstate.RunState) {
		r.Steps = append(r.Steps, runstate.StepRecord{
			StepID: st.ID, Phase: ph.Name, Status: res.Status,
			Message: res.Message, Error: strings.Join(res.Errors, "; "), CompletedAt: now,
		})
	}); err != nil {
		return directive{}, err
	}
	o.emit(rs, events.Event{
		Type: events.TypeStepComplete, Phase: ph.Name, StepID: st.ID,
		Message:  res.Message,
		Metadata: map[string]string{"status": res.Status},
	})

	action, err := workflow.ResolveHandling(def, ph, st, res.Status)
	if err != nil {
		return directive{}, fmt.Errorf("resolve handling for step %q: %w", st.ID, err)
	}

	switch action.Kind {
	case workflow.ActionContinue:
		return directive{kind: dirNext}, nil

	case workflow.ActionStop:
		switch res.Status {
		case workflow.OutcomeFailure:
			return directive{kind: dirFailRun, phase: ph.Name, stepID: st.ID, reason: failureReason(res)}, nil
		case workflow.OutcomeWarning:
			// stop-on-warning is a resumable pause with the warning surfaced
			return directive{
				kind: dirPause, phase: ph.Name, stepID: nextStepID(ph, si), resumeAt: si + 1,
				reason:   fmt.Sprintf("stopped on warning: %s", res.Message),
				feedback: res.FeedbackRequest,
			}, nil
		default:
			return directive{
				kind: dirStopRun, phase: ph.Name, stepID: st.ID,
				reason: fmt.Sprintf("stopped by policy after %s", res.Status),
			}, nil
		}

	case workflow.ActionRetry:
		target := action.Target
		if target == "" {
			target = ph.Name
		}
		return directive{
			kind: dirRetry, phase: ph.Name, stepID: st.ID, target: target,
			stepMax: st.MaxRetries, reason: failureReason(res),
		}, nil

	case workflow.ActionPause:
		resumeAt, stepID := si, st.ID
		if res.Status == workflow.OutcomeSuccess || res.Status == workflow.OutcomeWarning {
			resumeAt, stepID = si+1, nextStepID(ph, si)
		}
		reason := res.Message
		if reason == "" {
			reason = fmt.Sprintf("paused after %s at step %q", res.Status, st.ID)
		}
		return directive{
			kind: dirPause, phase: ph.Name, stepID: stepID, resumeAt: resumeAt,
			reason: reason, feedback: res.FeedbackRequest,
		}, nil

	case workflow.ActionRecover:
		return o.applyRecovery(ctx, action.Target, ph, st, si, inv, res, rs)
	}
	return directive{}, fmt.Errorf("unhandled action %q for step %q", action.Kind, st.ID)
}

// applyRecovery invokes a recovery handler and converts its plan into a
// directive, gated by approval when the plan requires it.
func (o *Orchestrator) applyRecovery(ctx context.Context, handler string, ph *workflow.Phase, st *workflow.Step, si int, inv capability.Invocation, res *capability.StepResult, rs *runstate.RunState) (directive, error) {
	plan, err := o.caps.Recover(ctx, handler, inv, res)
	if err != nil {
		return directive{
			kind: dirFailRun, phase: ph.Name, stepID: st.ID,
			reason: fmt.Sprintf("recovery handler %q: %v", handler, err),
		}, nil
	}

	if plan.RequireApproval {
		prompt := fmt.Sprintf("recovery handler %q proposes %q", handler, plan.Action)
		if plan.Reason != "" {
			prompt += ": " + plan.Reason
		}
		decision, derr := o.approver.Decide(approval.Request{
			RunID:   rs.RunID,
			Kind:    "recovery_plan",
			Phase:   ph.Name,
			StepID:  st.ID,
			Prompt:  prompt,
			Options: []string{approval.Approve, approval.Stop},
		})
		if derr != nil {
			if errors.Is(derr, approval.ErrPending) {
				return directive{
					kind: dirPause, phase: ph.Name, stepID: st.ID, resumeAt: si,
					reason: "recovery plan awaiting approval", feedback: prompt,
				}, nil
			}
			return directive{}, derr
		}
		if decision != approval.Approve && decision != approval.Proceed {
			return directive{
				kind: dirFailRun, phase: ph.Name, stepID: st.ID,
				reason: fmt.Sprintf("recovery plan declined by operator (%s)", plan.Reason),
			}, nil
		}
	}

	o.emit(rs, events.Event{
		Type: events.TypeRecoveryApplied, Phase: ph.Name, StepID: st.ID,
		Message: plan.Reason,
		Metadata: map[string]string{
			"handler":     handler,
			"action":      plan.Action,
			"target_step": plan.TargetStep,
		},
	})

	switch plan.Action {
	case capability.RecoveryRetry:
		return directive{
			kind: dirRetry, phase: ph.Name, stepID: st.ID, target: ph.Name,
			stepMax: st.MaxRetries, reason: plan.Reason,
		}, nil
	case capability.RecoveryGotoStep:
		return directive{
			kind: dirGoto, phase: ph.Name, stepID: st.ID, stepIndex: si,
			target: plan.TargetStep, reason: plan.Reason,
		}, nil
	case capability.RecoveryStop:
		reason := plan.Reason
		if reason == "" {
			reason = "recovery plan: stop"
		}
		return directive{kind: dirFailRun, phase: ph.Name, stepID: st.ID, reason: reason}, nil
	}
	return directive{}, fmt.Errorf("recovery plan has unknown action %q", plan.Action)
}

// buildInvocation assembles the capability call for a step, rendering the
// instruction template and attaching pending operator feedback once.
func (o *Orchestrator) buildInvocation(def *workflow.Definition, ph *workflow.Phase, st *workflow.Step, rs *runstate.RunState, feedback *string) (capability.Invocation, error) {
	instruction := st.Instruction
	if instruction != "" {
		rendered, err := capability.Render(instruction, capability.Vars{
			"work_id": rs.WorkID,
			"run_id":  rs.RunID,
			"phase":   ph.Name,
			"step_id": st.ID,
			"target":  st.Target,
		})
		if err != nil {
			return capability.Invocation{}, fmt.Errorf("render instruction for step %q: %w", st.ID, err)
		}
		instruction = rendered
	}
	inv := capability.Invocation{
		RunID:       rs.RunID,
		WorkID:      rs.WorkID,
		Phase:       ph.Name,
		StepID:      st.ID,
		Instruction: instruction,
		Context:     def.ContextFor(ph, st),
		Target:      st.Target,
	}
	if *feedback != "" {
		inv.Artifacts = map[string]string{"feedback": *feedback}
		*feedback = ""
	}
	return inv, nil
}

func (o *Orchestrator) pauseRun(rs *runstate.RunState, d directive) (*runstate.RunState, error) {
	o.emit(rs, events.Event{Type: events.TypeWorkflowPaused, Phase: d.phase, StepID: d.stepID, Message: d.reason})
	if err := o.update(rs, func(r *runstate.RunState) {
		r.Status = runstate.StatusPaused
		r.ResumePoint = &runstate.ResumePoint{Phase: d.phase, StepID: d.stepID, StepIndex: d.resumeAt}
		r.FeedbackRequest = d.feedback
	}); err != nil {
		return rs, err
	}
	o.logf("run %s: paused (%s); resume with: forgeline resume %s", rs.RunID, d.reason, rs.RunID)
	return rs, nil
}

func (o *Orchestrator) failRun(rs *runstate.RunState, phase, stepID, reason string) error {
	o.emit(rs, events.Event{Type: events.TypeWorkflowFailed, Phase: phase, StepID: stepID, Message: reason})
	if err := o.update(rs, func(r *runstate.RunState) {
		r.Status = runstate.StatusFailed
		r.FailedAtPhase = phase
		r.FailedAtStep = stepID
		r.Error = reason
	}); err != nil {
		return err
	}
	o.logf("run %s: failed at %s/%s: %s (inspect with: forgeline status %s)",
		rs.RunID, phase, stepID, reason, rs.RunID)
	return nil
}

func phaseIndexOf(def *workflow.Definition, name string) int {
	for i := range def.Phases {
		if def.Phases[i].Name == name {
			return i
		}
	}
	return -1
}

// locateStep finds a step's phase and step indexes in the definition, or
// (-1, -1).
func locateStep(def *workflow.Definition, stepID string) (int, int) {
	for pi := range def.Phases {
		for si, st := range def.Phases[pi].AllSteps() {
			if st.ID == stepID {
				return pi, si
			}
		}
	}
	return -1, -1
}

func nextStepID(ph *workflow.Phase, si int) string {
	steps := ph.AllSteps()
	if si+1 < len(steps) {
		return steps[si+1].ID
	}
	return ""
}

func failureReason(res *capability.StepResult) string {
	if res.Message != "" {
		return res.Message
	}
	if len(res.Errors) > 0 {
		return res.Errors[0]
	}
	return "step reported failure"
}

func runDuration(rs *runstate.RunState) time.Duration {
	started, err := time.Parse(time.RFC3339, rs.StartedAt)
	if err != nil {
		return 0
	}
	return time.Since(started).Round(time.Second)
}
