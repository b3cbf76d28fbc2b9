// Package orchestrator drives workflow runs: it owns the per-step state
// machine that acquires the context lock, evaluates guards, invokes the
// step's capability, applies result-handling policy, and records every
// transition in the run state and the event log.
package orchestrator

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"

	"forgeline/internal/approval"
	"forgeline/internal/capability"
	"forgeline/internal/events"
	"forgeline/internal/lock"
	"forgeline/internal/runstate"
	"forgeline/internal/workflow"
)

// DefaultPhaseRetries is the retry budget for phases that do not set
// max_retries.
const DefaultPhaseRetries = 1

// MaxRetriesError is the terminal failure raised when a phase exhausts
// its retry budget.
type MaxRetriesError struct {
	RunID   string
	Phase   string
	Retries int
}

func (e *MaxRetriesError) Error() string {
	return fmt.Sprintf("run %s: phase %q exhausted its retry budget after %d retries", e.RunID, e.Phase, e.Retries)
}

// Options wires the orchestrator's collaborators and operational knobs.
type Options struct {
	Store    *runstate.Store
	Events   *events.Log
	Locks    *lock.Manager
	Caps     *capability.Registry
	Approver approval.Approver
	Source   workflow.Source

	// Holder identifies this process in lock files. Defaults to
	// "forgeline".
	Holder string

	// ProtectedTargets lists target patterns no step may touch unless
	// AllowProtected is set.
	ProtectedTargets []string
	AllowProtected   bool
}

// Orchestrator executes workflow runs strictly sequentially: one step at
// a time, one run per execution context.
type Orchestrator struct {
	store    *runstate.Store
	log      *events.Log
	locks    *lock.Manager
	caps     *capability.Registry
	approver approval.Approver
	source   workflow.Source

	holder         string
	protected      []string
	allowProtected bool

	out io.Writer
}

// New creates an Orchestrator from options.
func New(opts Options) *Orchestrator {
	holder := opts.Holder
	if holder == "" {
		holder = "forgeline"
	}
	approver := opts.Approver
	if approver == nil {
		approver = approval.Deferred{}
	}
	return &Orchestrator{
		store:          opts.Store,
		log:            opts.Events,
		locks:          opts.Locks,
		caps:           opts.Caps,
		approver:       approver,
		source:         opts.Source,
		holder:         holder,
		protected:      opts.ProtectedTargets,
		allowProtected: opts.AllowProtected,
	}
}

// SetProgress directs human-readable progress output to w.
func (o *Orchestrator) SetProgress(w io.Writer) {
	o.out = w
}

func (o *Orchestrator) logf(format string, args ...interface{}) {
	if o.out != nil {
		fmt.Fprintf(o.out, format+"\n", args...)
	}
}

// Start resolves the workflow, creates a new run record, and executes it
// to its first suspension point or terminal state. contextID defaults to
// workID when empty.
func (o *Orchestrator) Start(ctx context.Context, workflowID, workID, contextID string) (*runstate.RunState, error) {
	def, err := workflow.Resolve(o.source, workflowID)
	if err != nil {
		return nil, err
	}
	if contextID == "" {
		contextID = workID
	}

	phases := make([]runstate.PhaseState, 0, len(def.Phases))
	for _, p := range def.Phases {
		ps := runstate.PhaseState{Name: p.Name, Status: runstate.PhasePending, MaxRetries: p.MaxRetries}
		if ps.MaxRetries <= 0 {
			ps.MaxRetries = DefaultPhaseRetries
		}
		if !p.IsEnabled() {
			ps.Status = runstate.PhaseSkipped
		}
		phases = append(phases, ps)
	}

	runID := uuid.New().String()
	rs, err := o.store.Create(runID, workflowID, workID, contextID, phases)
	if err != nil {
		return nil, err
	}

	o.emit(rs, events.Event{
		Type:    events.TypeRunCreated,
		Message: fmt.Sprintf("run created for workflow %q", workflowID),
		Metadata: map[string]string{
			"workflow_id": workflowID,
			"work_id":     workID,
			"context_id":  contextID,
		},
	})
	for _, p := range def.Phases {
		if !p.IsEnabled() {
			o.emit(rs, events.Event{
				Type:    events.TypePhaseSkipped,
				Phase:   p.Name,
				Message: "phase disabled in workflow definition",
			})
		}
	}

	o.logf("run %s: starting workflow %q for %s", runID, workflowID, workID)
	return o.execute(ctx, def, rs, "", false)
}

// Resume continues a paused run from its recorded resume point. feedback,
// if non-empty, answers the run's pending feedback request and is handed
// to the next invoked capability.
func (o *Orchestrator) Resume(ctx context.Context, runID, feedback string) (*runstate.RunState, error) {
	rs, err := o.store.Load(runID)
	if err != nil {
		return nil, err
	}
	if rs.Status != runstate.StatusPaused {
		return rs, fmt.Errorf("run %s is %s; only paused runs can be resumed", runID, rs.Status)
	}
	def, err := workflow.Resolve(o.source, rs.WorkflowID)
	if err != nil {
		return rs, err
	}
	o.logf("run %s: resuming", runID)
	return o.execute(ctx, def, rs, feedback, true)
}

// Stop transitions a non-terminal run to "stopped". It is available at
// any suspension point; it does not interrupt an in-flight capability. A
// context whose lock is held by a live holder refuses the stop, since the
// executing orchestrator owns the run's state until its next suspension.
func (o *Orchestrator) Stop(runID, reason string) (*runstate.RunState, error) {
	rs, err := o.store.Load(runID)
	if err != nil {
		return nil, err
	}
	if rs.Terminal() {
		return rs, fmt.Errorf("run %s is already %s", runID, rs.Status)
	}
	tok, err := o.locks.Status(rs.ContextID)
	if err != nil {
		return rs, fmt.Errorf("check lock for context %q: %w", rs.ContextID, err)
	}
	if tok != nil {
		stale, serr := o.locks.IsStale(rs.ContextID)
		if serr != nil {
			return rs, fmt.Errorf("check lock for context %q: %w", rs.ContextID, serr)
		}
		if !stale {
			return rs, fmt.Errorf("run %s is executing: context %q is locked by %s (pid %d); stop takes effect at the next suspension point",
				runID, rs.ContextID, tok.Holder, tok.PID)
		}
	}
	if reason == "" {
		reason = "stopped by operator"
	}
	o.emit(rs, events.Event{Type: events.TypeWorkflowStopped, Message: reason})
	updated, err := o.store.Update(runID, func(r *runstate.RunState) {
		r.Status = runstate.StatusStopped
		r.Error = reason
	})
	if err != nil {
		return rs, err
	}
	o.logf("run %s: stopped (%s)", runID, reason)
	return updated, nil
}

// update applies a mutation through the store and refreshes the caller's
// copy with the persisted result.
func (o *Orchestrator) update(rs *runstate.RunState, fn func(*runstate.RunState)) error {
	updated, err := o.store.Update(rs.RunID, fn)
	if err != nil {
		return err
	}
	*rs = *updated
	return nil
}

// emit appends an event to the run's log. A failed append is treated as
// a step-level warning: the run continues, and the gap is recorded in
// the run state so operators know the audit trail has a hole.
func (o *Orchestrator) emit(rs *runstate.RunState, e events.Event) {
	_, err := o.log.Emit(rs.RunID, e)
	if err == nil {
		return
	}
	gap := fmt.Sprintf("%s: emit %q failed: %v",
		time.Now().UTC().Format(time.RFC3339), e.Type, err)
	o.logf("run %s: warning: %s", rs.RunID, gap)
	if updated, uerr := o.store.Update(rs.RunID, func(r *runstate.RunState) {
		r.AuditGaps = append(r.AuditGaps, gap)
	}); uerr == nil {
		*rs = *updated
	} else {
		rs.AuditGaps = append(rs.AuditGaps, gap)
	}
}
