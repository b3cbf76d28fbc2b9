// Package capability is the boundary between the engine and the agents or
// commands that do the actual work of a step. The engine hands an
// invocation across this boundary and gets back a structured result; it
// never interprets the work itself.
package capability

import "context"

// Result statuses. These are the only outcomes a capability can report;
// anything unparseable is coerced by the invoker.
const (
	StatusSuccess      = "success"
	StatusWarning      = "warning"
	StatusFailure      = "failure"
	StatusPendingInput = "pending_input"
)

// Invocation carries everything a capability needs to perform one step.
type Invocation struct {
	RunID       string            `json:"run_id"`
	WorkID      string            `json:"work_id"`
	Phase       string            `json:"phase"`
	StepID      string            `json:"step_id"`
	Instruction string            `json:"instruction"`
	Context     string            `json:"context,omitempty"`
	Target      string            `json:"target,omitempty"`
	Artifacts   map[string]string `json:"artifacts,omitempty"`
}

// StepResult is the structured report a capability returns for one step.
type StepResult struct {
	Status          string            `json:"status"`
	Message         string            `json:"message,omitempty"`
	Details         string            `json:"details,omitempty"`
	Errors          []string          `json:"errors,omitempty"`
	Warnings        []string          `json:"warnings,omitempty"`
	Analysis        string            `json:"analysis,omitempty"`
	SuggestedFixes  []string          `json:"suggested_fixes,omitempty"`
	FeedbackRequest string            `json:"feedback_request,omitempty"`
	Artifacts       map[string]string `json:"artifacts,omitempty"`
}

// RecoveryPlan is produced by a recovery handler after a step failure.
// Action is one of "retry", "goto_step" or "stop"; goto_step names an
// earlier step to resume from.
type RecoveryPlan struct {
	Action          string `json:"action"`
	TargetStep      string `json:"target_step,omitempty"`
	Reason          string `json:"reason,omitempty"`
	RequireApproval bool   `json:"require_approval,omitempty"`
}

// Recovery plan actions.
const (
	RecoveryRetry    = "retry"
	RecoveryGotoStep = "goto_step"
	RecoveryStop     = "stop"
)

// Invoker performs one step invocation.
type Invoker interface {
	Invoke(ctx context.Context, inv Invocation) (*StepResult, error)
}

// Recoverer analyzes a failed step and proposes a recovery plan.
type Recoverer interface {
	Plan(ctx context.Context, inv Invocation, failed *StepResult) (*RecoveryPlan, error)
}

// Func adapts a plain function to Invoker. Used in tests and for
// built-in capabilities.
type Func func(ctx context.Context, inv Invocation) (*StepResult, error)

func (f Func) Invoke(ctx context.Context, inv Invocation) (*StepResult, error) {
	return f(ctx, inv)
}
