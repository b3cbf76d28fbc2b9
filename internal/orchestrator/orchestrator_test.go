package orchestrator

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"forgeline/internal/approval"
	"forgeline/internal/capability"
	"forgeline/internal/events"
	"forgeline/internal/guard"
	"forgeline/internal/lock"
	"forgeline/internal/runstate"
	"forgeline/internal/workflow"
)

// harness holds the shared stores so several orchestrators (e.g. one
// per resume) can operate on the same run.
type harness struct {
	runs  string
	store *runstate.Store
	log   *events.Log
	locks *lock.Manager
	src   workflow.MapSource
}

func newHarness(t *testing.T, def *workflow.Definition) *harness {
	t.Helper()
	dir := t.TempDir()
	runs := filepath.Join(dir, "runs")
	return &harness{
		runs:  runs,
		store: runstate.NewStore(runs),
		log:   events.NewLog(runs),
		locks: lock.NewManager(filepath.Join(dir, "locks"), time.Minute),
		src:   workflow.MapSource{def.ID: def},
	}
}

func (h *harness) engine(reg *capability.Registry, appr approval.Approver, protected ...string) *Orchestrator {
	return New(Options{
		Store:            h.store,
		Events:           h.log,
		Locks:            h.locks,
		Caps:             reg,
		Approver:         appr,
		Source:           h.src,
		ProtectedTargets: protected,
	})
}

func (h *harness) countEvents(t *testing.T, runID, typ string) int {
	t.Helper()
	evs, err := h.log.ReadAll(runID, events.Filter{Type: typ})
	if err != nil {
		t.Fatalf("ReadAll(%s): %v", typ, err)
	}
	return len(evs)
}

// okStep returns success and counts its calls.
func okStep(calls *int) capability.Func {
	return func(ctx context.Context, inv capability.Invocation) (*capability.StepResult, error) {
		if calls != nil {
			*calls++
		}
		return &capability.StepResult{Status: capability.StatusSuccess, Message: "done"}, nil
	}
}

// scripted replays a fixed sequence of results, repeating the last one,
// and records the most recent invocation.
type scripted struct {
	results []*capability.StepResult
	calls   int
	lastInv capability.Invocation
}

func (s *scripted) Invoke(ctx context.Context, inv capability.Invocation) (*capability.StepResult, error) {
	s.lastInv = inv
	i := s.calls
	s.calls++
	if i >= len(s.results) {
		i = len(s.results) - 1
	}
	return s.results[i], nil
}

// planRecoverer returns a canned recovery plan.
type planRecoverer struct {
	plan  capability.RecoveryPlan
	calls int
}

func (r *planRecoverer) Plan(ctx context.Context, inv capability.Invocation, failed *capability.StepResult) (*capability.RecoveryPlan, error) {
	r.calls++
	p := r.plan
	return &p, nil
}

func enabled(v bool) *bool { return &v }

func TestRunCompletesAllPhases(t *testing.T) {
	def := &workflow.Definition{
		ID: "wf",
		Phases: []workflow.Phase{
			{Name: workflow.PhaseFrame, Steps: []workflow.Step{{ID: "f1", Command: "ok"}}},
			{Name: workflow.PhaseBuild, Steps: []workflow.Step{
				{ID: "b1", Command: "ok"},
				{ID: "b2", Command: "ok"},
			}},
			{Name: workflow.PhaseRelease, Enabled: enabled(false), Steps: []workflow.Step{{ID: "r1", Command: "ok"}}},
		},
	}
	h := newHarness(t, def)

	var calls int
	reg := capability.NewRegistry(nil)
	reg.Register("ok", okStep(&calls))

	rs, err := h.engine(reg, approval.Deferred{}).Start(context.Background(), "wf", "job-1", "")
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if rs.Status != runstate.StatusCompleted {
		t.Fatalf("status = %q, want completed", rs.Status)
	}
	if rs.CompletedAt == "" {
		t.Error("CompletedAt not set on completed run")
	}
	if calls != 3 {
		t.Errorf("invoker calls = %d, want 3", calls)
	}

	for _, want := range []struct{ name, status string }{
		{workflow.PhaseFrame, runstate.PhaseCompleted},
		{workflow.PhaseBuild, runstate.PhaseCompleted},
		{workflow.PhaseRelease, runstate.PhaseSkipped},
	} {
		ps := rs.FindPhase(want.name)
		if ps == nil || ps.Status != want.status {
			t.Errorf("phase %s = %+v, want %s", want.name, ps, want.status)
		}
	}

	wantOrder := []string{"f1", "b1", "b2"}
	if len(rs.Steps) != len(wantOrder) {
		t.Fatalf("step records = %d, want %d", len(rs.Steps), len(wantOrder))
	}
	for i, id := range wantOrder {
		if rs.Steps[i].StepID != id || rs.Steps[i].Status != runstate.StepSuccess {
			t.Errorf("step[%d] = %+v, want %s success", i, rs.Steps[i], id)
		}
	}

	if n := h.countEvents(t, rs.RunID, events.TypeWorkflowComplete); n != 1 {
		t.Errorf("workflow_complete events = %d, want 1", n)
	}
	if n := h.countEvents(t, rs.RunID, events.TypePhaseSkipped); n != 1 {
		t.Errorf("phase_skipped events = %d, want 1", n)
	}

	// context lock released after the run
	if tok, err := h.locks.Status("job-1"); err != nil || tok != nil {
		t.Errorf("lock after run = %+v, %v; want released", tok, err)
	}
}

func TestRetryBudgetExhausted(t *testing.T) {
	def := &workflow.Definition{
		ID: "wf",
		Phases: []workflow.Phase{
			{Name: workflow.PhaseBuild, MaxRetries: 2, Steps: []workflow.Step{{
				ID: "flaky", Command: "flaky",
				ResultHandling: &workflow.ResultHandling{OnFailure: "retry"},
			}}},
		},
	}
	h := newHarness(t, def)

	fl := &scripted{results: []*capability.StepResult{
		{Status: capability.StatusFailure, Message: "tests failed"},
	}}
	reg := capability.NewRegistry(nil)
	reg.Register("flaky", fl)

	rs, err := h.engine(reg, approval.Deferred{}).Start(context.Background(), "wf", "job-1", "")
	var mre *MaxRetriesError
	if !errors.As(err, &mre) {
		t.Fatalf("Start = %v, want *MaxRetriesError", err)
	}
	if mre.Phase != workflow.PhaseBuild || mre.Retries != 2 {
		t.Errorf("MaxRetriesError = %+v", mre)
	}
	if rs.Status != runstate.StatusFailed {
		t.Errorf("status = %q, want failed", rs.Status)
	}
	if rs.FailedAtPhase != workflow.PhaseBuild || rs.FailedAtStep != "flaky" {
		t.Errorf("failure attribution = %s/%s", rs.FailedAtPhase, rs.FailedAtStep)
	}
	// initial attempt plus two retries
	if fl.calls != 3 {
		t.Errorf("invoker calls = %d, want 3", fl.calls)
	}
	if rc := rs.FindPhase(workflow.PhaseBuild).RetryCount; rc != 2 {
		t.Errorf("RetryCount = %d, want 2", rc)
	}
	if n := h.countEvents(t, rs.RunID, events.TypePhaseRetry); n != 2 {
		t.Errorf("phase_retry events = %d, want 2", n)
	}
}

func TestPendingInputPausesAndResumes(t *testing.T) {
	def := &workflow.Definition{
		ID: "wf",
		Phases: []workflow.Phase{
			{Name: workflow.PhaseFrame, Steps: []workflow.Step{{ID: "f1", Command: "ok"}}},
			{Name: workflow.PhaseBuild, Steps: []workflow.Step{{ID: "ask", Command: "ask"}}},
		},
	}
	h := newHarness(t, def)

	var frameCalls int
	ask := &scripted{results: []*capability.StepResult{
		{Status: capability.StatusPendingInput, FeedbackRequest: "which database should I target?"},
		{Status: capability.StatusSuccess},
	}}
	reg := capability.NewRegistry(nil)
	reg.Register("ok", okStep(&frameCalls))
	reg.Register("ask", ask)

	eng := h.engine(reg, approval.Deferred{})
	rs, err := eng.Start(context.Background(), "wf", "job-1", "")
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if rs.Status != runstate.StatusPaused {
		t.Fatalf("status = %q, want paused", rs.Status)
	}
	if rs.FeedbackRequest != "which database should I target?" {
		t.Errorf("FeedbackRequest = %q", rs.FeedbackRequest)
	}
	if rp := rs.ResumePoint; rp == nil || rp.Phase != workflow.PhaseBuild || rp.StepID != "ask" || rp.StepIndex != 0 {
		t.Errorf("ResumePoint = %+v", rs.ResumePoint)
	}
	// a paused run must not hold the context lock
	if tok, _ := h.locks.Status("job-1"); tok != nil {
		t.Errorf("lock held across pause: %+v", tok)
	}

	rs, err = eng.Resume(context.Background(), rs.RunID, "use postgres")
	if err != nil {
		t.Fatalf("Resume: %v", err)
	}
	if rs.Status != runstate.StatusCompleted {
		t.Fatalf("status after resume = %q, want completed", rs.Status)
	}
	if frameCalls != 1 {
		t.Errorf("frame step ran %d times, want 1", frameCalls)
	}
	if ask.calls != 2 {
		t.Errorf("ask step ran %d times, want 2", ask.calls)
	}
	if got := ask.lastInv.Artifacts["feedback"]; got != "use postgres" {
		t.Errorf("feedback delivered = %q, want %q", got, "use postgres")
	}
	if rs.FeedbackRequest != "" || rs.ResumePoint != nil {
		t.Errorf("pause bookkeeping not cleared: %+v", rs)
	}
}

func TestResumeRejectsNonPausedRun(t *testing.T) {
	def := &workflow.Definition{
		ID: "wf",
		Phases: []workflow.Phase{
			{Name: workflow.PhaseBuild, Steps: []workflow.Step{{ID: "b1", Command: "ok"}}},
		},
	}
	h := newHarness(t, def)
	reg := capability.NewRegistry(nil)
	reg.Register("ok", okStep(nil))

	eng := h.engine(reg, approval.Deferred{})
	rs, err := eng.Start(context.Background(), "wf", "job-1", "")
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if _, err := eng.Resume(context.Background(), rs.RunID, ""); err == nil {
		t.Error("Resume accepted a completed run")
	}
}

func TestDestructiveStepSkipped(t *testing.T) {
	def := &workflow.Definition{
		ID: "wf",
		Phases: []workflow.Phase{
			{Name: workflow.PhaseBuild, Steps: []workflow.Step{
				{ID: "nuke", Command: "nuke", Destructive: true, Target: "prod-db"},
				{ID: "b2", Command: "ok"},
			}},
		},
	}
	h := newHarness(t, def)

	var nukeCalls, okCalls int
	reg := capability.NewRegistry(nil)
	reg.Register("nuke", okStep(&nukeCalls))
	reg.Register("ok", okStep(&okCalls))

	rs, err := h.engine(reg, approval.Static(approval.Skip)).Start(context.Background(), "wf", "job-1", "")
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if rs.Status != runstate.StatusCompleted {
		t.Fatalf("status = %q, want completed", rs.Status)
	}
	if nukeCalls != 0 {
		t.Errorf("skipped destructive step was invoked %d times", nukeCalls)
	}
	if okCalls != 1 {
		t.Errorf("following step ran %d times, want 1", okCalls)
	}
	if rec := rs.LatestStep("nuke"); rec == nil || rec.Status != runstate.StepSkipped {
		t.Errorf("nuke record = %+v, want skipped", rec)
	}
	if n := h.countEvents(t, rs.RunID, events.TypeStepSkipped); n != 1 {
		t.Errorf("step_skipped events = %d, want 1", n)
	}
}

func TestDestructiveStepAbortStopsRun(t *testing.T) {
	def := &workflow.Definition{
		ID: "wf",
		Phases: []workflow.Phase{
			{Name: workflow.PhaseBuild, Steps: []workflow.Step{
				{ID: "nuke", Command: "nuke", Destructive: true},
			}},
		},
	}
	h := newHarness(t, def)
	reg := capability.NewRegistry(nil)
	reg.Register("nuke", okStep(nil))

	rs, err := h.engine(reg, approval.Static(approval.Abort)).Start(context.Background(), "wf", "job-1", "")
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if rs.Status != runstate.StatusStopped {
		t.Errorf("status = %q, want stopped", rs.Status)
	}
}

func TestGatePausesWithoutApprover(t *testing.T) {
	def := &workflow.Definition{
		ID: "wf",
		Autonomy: &workflow.Autonomy{RequireApprovalFor: []workflow.ApprovalGate{
			{Phase: workflow.PhaseBuild, When: "before"},
		}},
		Phases: []workflow.Phase{
			{Name: workflow.PhaseFrame, Steps: []workflow.Step{{ID: "f1", Command: "ok"}}},
			{Name: workflow.PhaseBuild, Steps: []workflow.Step{{ID: "b1", Command: "ok"}}},
		},
	}
	h := newHarness(t, def)

	var calls int
	reg := capability.NewRegistry(nil)
	reg.Register("ok", okStep(&calls))

	rs, err := h.engine(reg, approval.Deferred{}).Start(context.Background(), "wf", "job-1", "")
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if rs.Status != runstate.StatusPaused {
		t.Fatalf("status = %q, want paused at gate", rs.Status)
	}
	if rp := rs.ResumePoint; rp == nil || rp.Phase != workflow.PhaseBuild || rp.StepIndex != 0 {
		t.Errorf("ResumePoint = %+v", rs.ResumePoint)
	}
	if ps := rs.FindPhase(workflow.PhaseBuild); ps.Status != runstate.PhasePending {
		t.Errorf("gated phase status = %q, want pending so the gate re-fires", ps.Status)
	}
	if calls != 1 {
		t.Errorf("steps run before gate = %d, want 1 (frame only)", calls)
	}

	// a second process resumes with an approver that answers approve
	rs, err = h.engine(reg, approval.Static(approval.Approve)).Resume(context.Background(), rs.RunID, "")
	if err != nil {
		t.Fatalf("Resume: %v", err)
	}
	if rs.Status != runstate.StatusCompleted {
		t.Fatalf("status after approval = %q, want completed", rs.Status)
	}
	if calls != 2 {
		t.Errorf("total step calls = %d, want 2", calls)
	}
	if n := h.countEvents(t, rs.RunID, events.TypeGateDecision); n != 1 {
		t.Errorf("gate_decision events = %d, want 1", n)
	}
}

func TestGateSkipsPhase(t *testing.T) {
	def := &workflow.Definition{
		ID: "wf",
		Autonomy: &workflow.Autonomy{RequireApprovalFor: []workflow.ApprovalGate{
			{Phase: workflow.PhaseBuild, When: "before"},
		}},
		Phases: []workflow.Phase{
			{Name: workflow.PhaseFrame, Steps: []workflow.Step{{ID: "f1", Command: "ok"}}},
			{Name: workflow.PhaseBuild, Steps: []workflow.Step{{ID: "b1", Command: "build"}}},
			{Name: workflow.PhaseEvaluate, Steps: []workflow.Step{{ID: "e1", Command: "ok"}}},
		},
	}
	h := newHarness(t, def)

	var buildCalls int
	reg := capability.NewRegistry(nil)
	reg.Register("ok", okStep(nil))
	reg.Register("build", okStep(&buildCalls))

	rs, err := h.engine(reg, approval.Static(approval.Skip)).Start(context.Background(), "wf", "job-1", "")
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if rs.Status != runstate.StatusCompleted {
		t.Fatalf("status = %q, want completed", rs.Status)
	}
	if ps := rs.FindPhase(workflow.PhaseBuild); ps.Status != runstate.PhaseSkipped {
		t.Errorf("build phase = %q, want skipped", ps.Status)
	}
	if buildCalls != 0 {
		t.Errorf("skipped phase steps invoked %d times", buildCalls)
	}
	// evaluate still ran even though its predecessor left no step records
	if rec := rs.LatestStep("e1"); rec == nil || rec.Status != runstate.StepSuccess {
		t.Errorf("e1 record = %+v, want success", rec)
	}
}

func TestRecoveryGotoEarlierStep(t *testing.T) {
	def := &workflow.Definition{
		ID: "wf",
		Phases: []workflow.Phase{
			{Name: workflow.PhaseBuild, Steps: []workflow.Step{
				{ID: "b1", Command: "ok"},
				{ID: "b2", Command: "shaky", ResultHandling: &workflow.ResultHandling{OnFailure: "recover:fixer"}},
			}},
		},
	}
	h := newHarness(t, def)

	var b1Calls int
	shaky := &scripted{results: []*capability.StepResult{
		{Status: capability.StatusFailure, Message: "artifacts missing"},
		{Status: capability.StatusSuccess},
	}}
	fixer := &planRecoverer{plan: capability.RecoveryPlan{
		Action: capability.RecoveryGotoStep, TargetStep: "b1", Reason: "rebuild artifacts",
	}}
	reg := capability.NewRegistry(nil)
	reg.Register("ok", okStep(&b1Calls))
	reg.Register("shaky", shaky)
	reg.RegisterRecoverer("fixer", fixer)

	rs, err := h.engine(reg, approval.Deferred{}).Start(context.Background(), "wf", "job-1", "")
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if rs.Status != runstate.StatusCompleted {
		t.Fatalf("status = %q, want completed", rs.Status)
	}
	if b1Calls != 2 {
		t.Errorf("b1 ran %d times, want 2 (once per pass)", b1Calls)
	}
	if fixer.calls != 1 {
		t.Errorf("recovery handler ran %d times, want 1", fixer.calls)
	}
	if n := h.countEvents(t, rs.RunID, events.TypeRecoveryApplied); n != 1 {
		t.Errorf("recovery_applied events = %d, want 1", n)
	}
}

func TestRecoveryRejectsLaterTarget(t *testing.T) {
	def := &workflow.Definition{
		ID: "wf",
		Phases: []workflow.Phase{
			{Name: workflow.PhaseBuild, Steps: []workflow.Step{
				{ID: "b1", Command: "shaky", ResultHandling: &workflow.ResultHandling{OnFailure: "recover:fixer"}},
				{ID: "b2", Command: "ok"},
			}},
		},
	}
	h := newHarness(t, def)

	shaky := &scripted{results: []*capability.StepResult{{Status: capability.StatusFailure}}}
	fixer := &planRecoverer{plan: capability.RecoveryPlan{
		Action: capability.RecoveryGotoStep, TargetStep: "b2",
	}}
	reg := capability.NewRegistry(nil)
	reg.Register("ok", okStep(nil))
	reg.Register("shaky", shaky)
	reg.RegisterRecoverer("fixer", fixer)

	rs, err := h.engine(reg, approval.Deferred{}).Start(context.Background(), "wf", "job-1", "")
	if err == nil {
		t.Fatal("Start accepted a recovery jump to a later step")
	}
	if rs.Status != runstate.StatusFailed {
		t.Errorf("status = %q, want failed", rs.Status)
	}
}

func TestStopOnWarningIsResumable(t *testing.T) {
	def := &workflow.Definition{
		ID: "wf",
		Phases: []workflow.Phase{
			{Name: workflow.PhaseBuild, Steps: []workflow.Step{
				{ID: "w1", Command: "warn", ResultHandling: &workflow.ResultHandling{OnWarning: "stop"}},
				{ID: "b2", Command: "ok"},
			}},
		},
	}
	h := newHarness(t, def)

	var okCalls int
	warn := &scripted{results: []*capability.StepResult{
		{Status: capability.StatusWarning, Message: "coverage dropped"},
	}}
	reg := capability.NewRegistry(nil)
	reg.Register("warn", warn)
	reg.Register("ok", okStep(&okCalls))

	eng := h.engine(reg, approval.Deferred{})
	rs, err := eng.Start(context.Background(), "wf", "job-1", "")
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if rs.Status != runstate.StatusPaused {
		t.Fatalf("status = %q, want paused on warning", rs.Status)
	}
	if rp := rs.ResumePoint; rp == nil || rp.StepIndex != 1 || rp.StepID != "b2" {
		t.Errorf("ResumePoint = %+v, want next step", rs.ResumePoint)
	}

	rs, err = eng.Resume(context.Background(), rs.RunID, "")
	if err != nil {
		t.Fatalf("Resume: %v", err)
	}
	if rs.Status != runstate.StatusCompleted {
		t.Fatalf("status after resume = %q, want completed", rs.Status)
	}
	// the warned step is acknowledged, not re-run
	if warn.calls != 1 {
		t.Errorf("warned step ran %d times, want 1", warn.calls)
	}
	if okCalls != 1 {
		t.Errorf("following step ran %d times, want 1", okCalls)
	}
}

func TestRetryFromEarlierPhase(t *testing.T) {
	def := &workflow.Definition{
		ID: "wf",
		Phases: []workflow.Phase{
			{Name: workflow.PhaseBuild, Steps: []workflow.Step{{ID: "b1", Command: "ok"}}},
			{Name: workflow.PhaseEvaluate, Steps: []workflow.Step{{
				ID: "e1", Command: "eval",
				ResultHandling: &workflow.ResultHandling{OnFailure: "retry:build"},
			}}},
		},
	}
	h := newHarness(t, def)

	var buildCalls int
	eval := &scripted{results: []*capability.StepResult{
		{Status: capability.StatusFailure, Message: "tests failed"},
		{Status: capability.StatusSuccess},
	}}
	reg := capability.NewRegistry(nil)
	reg.Register("ok", okStep(&buildCalls))
	reg.Register("eval", eval)

	rs, err := h.engine(reg, approval.Deferred{}).Start(context.Background(), "wf", "job-1", "")
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if rs.Status != runstate.StatusCompleted {
		t.Fatalf("status = %q, want completed", rs.Status)
	}
	if buildCalls != 2 {
		t.Errorf("build step ran %d times, want 2", buildCalls)
	}
	if eval.calls != 2 {
		t.Errorf("evaluate step ran %d times, want 2", eval.calls)
	}
	// the budget is charged to the phase whose policy asked for the retry
	if rc := rs.FindPhase(workflow.PhaseEvaluate).RetryCount; rc != 1 {
		t.Errorf("evaluate RetryCount = %d, want 1", rc)
	}
	if rc := rs.FindPhase(workflow.PhaseBuild).RetryCount; rc != 0 {
		t.Errorf("build RetryCount = %d, want 0", rc)
	}
}

func TestProtectedTargetFailsRun(t *testing.T) {
	def := &workflow.Definition{
		ID: "wf",
		Phases: []workflow.Phase{
			{Name: workflow.PhaseBuild, Steps: []workflow.Step{{ID: "b1", Command: "ok", Target: "main"}}},
		},
	}
	h := newHarness(t, def)

	var calls int
	reg := capability.NewRegistry(nil)
	reg.Register("ok", okStep(&calls))

	rs, err := h.engine(reg, approval.Deferred{}, "main").Start(context.Background(), "wf", "job-1", "")
	var gf *guard.Failure
	if !errors.As(err, &gf) {
		t.Fatalf("Start = %v, want *guard.Failure", err)
	}
	if gf.Guard != "protected_target" || gf.StepID != "b1" {
		t.Errorf("failure = %+v", gf)
	}
	if rs.Status != runstate.StatusFailed {
		t.Errorf("status = %q, want failed", rs.Status)
	}
	if calls != 0 {
		t.Errorf("blocked step was invoked %d times", calls)
	}
}

func TestStartLockConflict(t *testing.T) {
	def := &workflow.Definition{
		ID: "wf",
		Phases: []workflow.Phase{
			{Name: workflow.PhaseBuild, Steps: []workflow.Step{{ID: "b1", Command: "ok"}}},
		},
	}
	h := newHarness(t, def)
	reg := capability.NewRegistry(nil)
	reg.Register("ok", okStep(nil))

	// another live holder already owns the context
	if _, err := h.locks.Acquire("ctx-1", "other-run"); err != nil {
		t.Fatalf("pre-acquire: %v", err)
	}

	rs, err := h.engine(reg, approval.Deferred{}).Start(context.Background(), "wf", "job-1", "ctx-1")
	var ce *lock.ConflictError
	if !errors.As(err, &ce) {
		t.Fatalf("Start = %v, want *lock.ConflictError", err)
	}
	if ce.Holder != "other-run" {
		t.Errorf("conflict holder = %q", ce.Holder)
	}
	// the run record exists but never progressed
	if rs.Status != runstate.StatusPending {
		t.Errorf("status = %q, want pending", rs.Status)
	}
}

func TestEmitFailureRecordsAuditGap(t *testing.T) {
	def := &workflow.Definition{
		ID: "wf",
		Phases: []workflow.Phase{
			{Name: workflow.PhaseBuild, Steps: []workflow.Step{{ID: "ask", Command: "ask"}}},
		},
	}
	h := newHarness(t, def)

	ask := &scripted{results: []*capability.StepResult{
		{Status: capability.StatusPendingInput, FeedbackRequest: "need input"},
		{Status: capability.StatusSuccess},
	}}
	reg := capability.NewRegistry(nil)
	reg.Register("ask", ask)

	eng := h.engine(reg, approval.Deferred{})
	rs, err := eng.Start(context.Background(), "wf", "job-1", "")
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if rs.Status != runstate.StatusPaused {
		t.Fatalf("status = %q, want paused", rs.Status)
	}

	// break the event log: every append from here on fails
	evPath := filepath.Join(h.runs, rs.RunID, "events.jsonl")
	if err := os.Remove(evPath); err != nil {
		t.Fatalf("remove event log: %v", err)
	}
	if err := os.Mkdir(evPath, 0o755); err != nil {
		t.Fatalf("block event log: %v", err)
	}

	rs, err = eng.Resume(context.Background(), rs.RunID, "go ahead")
	if err != nil {
		t.Fatalf("Resume with broken event log: %v", err)
	}
	if rs.Status != runstate.StatusCompleted {
		t.Fatalf("status = %q, want completed despite emit failures", rs.Status)
	}
	if len(rs.AuditGaps) == 0 {
		t.Fatal("no audit gaps recorded for failed event appends")
	}
	if !strings.Contains(rs.AuditGaps[0], "workflow_resumed") {
		t.Errorf("first audit gap = %q, want the failed workflow_resumed append", rs.AuditGaps[0])
	}
}

func TestRecoveryPlanAwaitsApproval(t *testing.T) {
	def := &workflow.Definition{
		ID: "wf",
		Phases: []workflow.Phase{
			{Name: workflow.PhaseBuild, Steps: []workflow.Step{{
				ID: "b1", Command: "shaky",
				ResultHandling: &workflow.ResultHandling{OnFailure: "recover:fixer"},
			}}},
		},
	}
	h := newHarness(t, def)

	shaky := &scripted{results: []*capability.StepResult{
		{Status: capability.StatusFailure, Message: "flaky toolchain"},
		{Status: capability.StatusSuccess},
	}}
	fixer := &planRecoverer{plan: capability.RecoveryPlan{
		Action: capability.RecoveryRetry, Reason: "transient", RequireApproval: true,
	}}
	reg := capability.NewRegistry(nil)
	reg.Register("shaky", shaky)
	reg.RegisterRecoverer("fixer", fixer)

	rs, err := h.engine(reg, approval.Deferred{}).Start(context.Background(), "wf", "job-1", "")
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if rs.Status != runstate.StatusPaused {
		t.Fatalf("status = %q, want paused awaiting plan approval", rs.Status)
	}
	if rp := rs.ResumePoint; rp == nil || rp.Phase != workflow.PhaseBuild || rp.StepIndex != 0 {
		t.Errorf("ResumePoint = %+v", rs.ResumePoint)
	}
	if !strings.Contains(rs.FeedbackRequest, "fixer") {
		t.Errorf("FeedbackRequest = %q, want the handler's proposal surfaced", rs.FeedbackRequest)
	}

	rs, err = h.engine(reg, approval.Static(approval.Approve)).Resume(context.Background(), rs.RunID, "")
	if err != nil {
		t.Fatalf("Resume: %v", err)
	}
	if rs.Status != runstate.StatusCompleted {
		t.Fatalf("status after resume = %q, want completed", rs.Status)
	}
	if shaky.calls != 2 {
		t.Errorf("step ran %d times, want 2", shaky.calls)
	}
}

func TestRecoveryPlanDeclined(t *testing.T) {
	def := &workflow.Definition{
		ID: "wf",
		Phases: []workflow.Phase{
			{Name: workflow.PhaseBuild, Steps: []workflow.Step{{
				ID: "b1", Command: "shaky",
				ResultHandling: &workflow.ResultHandling{OnFailure: "recover:fixer"},
			}}},
		},
	}
	h := newHarness(t, def)

	shaky := &scripted{results: []*capability.StepResult{{Status: capability.StatusFailure}}}
	fixer := &planRecoverer{plan: capability.RecoveryPlan{
		Action: capability.RecoveryRetry, Reason: "transient", RequireApproval: true,
	}}
	reg := capability.NewRegistry(nil)
	reg.Register("shaky", shaky)
	reg.RegisterRecoverer("fixer", fixer)

	rs, err := h.engine(reg, approval.Static(approval.Stop)).Start(context.Background(), "wf", "job-1", "")
	if err == nil {
		t.Fatal("Start succeeded after the operator declined the recovery plan")
	}
	if rs.Status != runstate.StatusFailed {
		t.Errorf("status = %q, want failed", rs.Status)
	}
	if !strings.Contains(rs.Error, "declined") {
		t.Errorf("Error = %q, want the decline recorded", rs.Error)
	}
	if fixer.calls != 1 {
		t.Errorf("recovery handler ran %d times, want 1", fixer.calls)
	}
	// the declined plan is never applied
	if shaky.calls != 1 {
		t.Errorf("step ran %d times, want 1", shaky.calls)
	}
}

func TestRecoveryRejectsDisabledPhaseTarget(t *testing.T) {
	def := &workflow.Definition{
		ID: "wf",
		Phases: []workflow.Phase{
			{Name: workflow.PhaseArchitect, Enabled: enabled(false), Steps: []workflow.Step{{ID: "a1", Command: "ok"}}},
			{Name: workflow.PhaseBuild, Steps: []workflow.Step{{
				ID: "b1", Command: "shaky",
				ResultHandling: &workflow.ResultHandling{OnFailure: "recover:fixer"},
			}}},
		},
	}
	h := newHarness(t, def)

	shaky := &scripted{results: []*capability.StepResult{{Status: capability.StatusFailure}}}
	fixer := &planRecoverer{plan: capability.RecoveryPlan{
		Action: capability.RecoveryGotoStep, TargetStep: "a1",
	}}
	reg := capability.NewRegistry(nil)
	reg.Register("ok", okStep(nil))
	reg.Register("shaky", shaky)
	reg.RegisterRecoverer("fixer", fixer)

	rs, err := h.engine(reg, approval.Deferred{}).Start(context.Background(), "wf", "job-1", "")
	if err == nil || !strings.Contains(err.Error(), "disabled") {
		t.Fatalf("Start = %v, want disabled-phase rejection", err)
	}
	if rs.Status != runstate.StatusFailed {
		t.Errorf("status = %q, want failed", rs.Status)
	}
}

func TestStopRefusesLiveLockHolder(t *testing.T) {
	def := &workflow.Definition{
		ID: "wf",
		Phases: []workflow.Phase{
			{Name: workflow.PhaseBuild, Steps: []workflow.Step{{ID: "ask", Command: "ask"}}},
		},
	}
	h := newHarness(t, def)

	ask := &scripted{results: []*capability.StepResult{
		{Status: capability.StatusPendingInput, FeedbackRequest: "need input"},
	}}
	reg := capability.NewRegistry(nil)
	reg.Register("ask", ask)

	eng := h.engine(reg, approval.Deferred{})
	rs, err := eng.Start(context.Background(), "wf", "job-1", "")
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	// another live process picks the run back up
	if _, err := h.locks.Acquire("job-1", "other-process"); err != nil {
		t.Fatalf("pre-acquire: %v", err)
	}
	if _, err := eng.Stop(rs.RunID, ""); err == nil {
		t.Fatal("Stop mutated a run whose context lock is held by a live holder")
	}
	reloaded, err := h.store.Load(rs.RunID)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if reloaded.Status != runstate.StatusPaused {
		t.Errorf("status = %q, want paused left intact", reloaded.Status)
	}

	// once the holder is gone the stop goes through
	if err := h.locks.ForceRelease("job-1"); err != nil {
		t.Fatalf("ForceRelease: %v", err)
	}
	if _, err := eng.Stop(rs.RunID, "abandoned"); err != nil {
		t.Fatalf("Stop after release: %v", err)
	}
}

func TestStopTransitionsPausedRun(t *testing.T) {
	def := &workflow.Definition{
		ID: "wf",
		Phases: []workflow.Phase{
			{Name: workflow.PhaseBuild, Steps: []workflow.Step{{ID: "ask", Command: "ask"}}},
		},
	}
	h := newHarness(t, def)

	ask := &scripted{results: []*capability.StepResult{
		{Status: capability.StatusPendingInput, FeedbackRequest: "need input"},
	}}
	reg := capability.NewRegistry(nil)
	reg.Register("ask", ask)

	eng := h.engine(reg, approval.Deferred{})
	rs, err := eng.Start(context.Background(), "wf", "job-1", "")
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if rs.Status != runstate.StatusPaused {
		t.Fatalf("status = %q, want paused", rs.Status)
	}

	rs, err = eng.Stop(rs.RunID, "abandoned")
	if err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if rs.Status != runstate.StatusStopped || rs.Error != "abandoned" {
		t.Errorf("stopped run = %+v", rs)
	}
	if _, err := eng.Stop(rs.RunID, ""); err == nil {
		t.Error("Stop accepted a terminal run")
	}
	if n := h.countEvents(t, rs.RunID, events.TypeWorkflowStopped); n != 1 {
		t.Errorf("workflow_stopped events = %d, want 1", n)
	}
}
