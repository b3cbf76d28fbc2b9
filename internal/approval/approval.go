// Package approval defines how the engine asks an operator to decide at
// mandatory checkpoints: destructive steps and autonomy gates.
package approval

import "errors"

// Decision values. Destructive steps use Proceed/Skip/Abort; autonomy
// gates use Approve/Skip/Stop.
const (
	Proceed = "proceed"
	Approve = "approve"
	Skip    = "skip"
	Abort   = "abort"
	Stop    = "stop"
)

// ErrPending signals that no decision can be produced now (for example,
// the process is non-interactive). The orchestrator pauses the run and
// records a feedback request instead of guessing.
var ErrPending = errors.New("approval pending")

// Request describes what is being decided.
type Request struct {
	RunID   string
	Kind    string // "destructive_step" or "autonomy_gate"
	Phase   string
	StepID  string
	Prompt  string
	Options []string
}

// Approver produces a decision for a request.
type Approver interface {
	Decide(req Request) (string, error)
}

// Static answers every request with a fixed decision. Used in tests and
// for --approve-all style automation.
type Static string

func (s Static) Decide(Request) (string, error) {
	return string(s), nil
}

// Deferred declines to decide, always returning ErrPending. It is the
// default for non-interactive invocations: the run pauses and the
// operator resumes it after deciding out of band.
type Deferred struct{}

func (Deferred) Decide(Request) (string, error) {
	return "", ErrPending
}
