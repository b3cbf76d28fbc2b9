package runstate

// Run status values.
const (
	StatusPending    = "pending"
	StatusInProgress = "in_progress"
	StatusPaused     = "paused"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
	StatusStopped    = "stopped"
)

// Phase status values.
const (
	PhasePending    = "pending"
	PhaseInProgress = "in_progress"
	PhaseCompleted  = "completed"
	PhaseFailed     = "failed"
	PhaseSkipped    = "skipped"
)

// Step outcome values recorded in the step history.
const (
	StepSuccess      = "success"
	StepWarning      = "warning"
	StepFailure      = "failure"
	StepSkipped      = "skipped"
	StepPendingInput = "pending_input"
)

// RunState is the top-level persisted record for a single workflow run.
// It is mutated exclusively through Store.Update while the orchestrator
// holds the run's lock, and becomes immutable once Status reaches a
// terminal value.
type RunState struct {
	RunID           string       `json:"run_id"`
	WorkflowID      string       `json:"workflow_id"`
	WorkID          string       `json:"work_id"`
	ContextID       string       `json:"context_id"`
	Status          string       `json:"status"`
	CurrentPhase    string       `json:"current_phase,omitempty"`
	CurrentStep     string       `json:"current_step,omitempty"`
	Phases          []PhaseState `json:"phases"`
	Steps           []StepRecord `json:"steps"`
	FeedbackRequest string       `json:"feedback_request,omitempty"`
	ResumePoint     *ResumePoint `json:"resume_point,omitempty"`
	FailedAtPhase   string       `json:"failed_at_phase,omitempty"`
	FailedAtStep    string       `json:"failed_at_step,omitempty"`
	Error           string       `json:"error,omitempty"`
	AuditGaps       []string     `json:"audit_gaps,omitempty"`
	StartedAt       string       `json:"started_at"`
	UpdatedAt       string       `json:"updated_at"`
	CompletedAt     string       `json:"completed_at,omitempty"`
}

// PhaseState tracks one phase's progress and retry budget within a run.
type PhaseState struct {
	Name       string `json:"name"`
	Status     string `json:"status"`
	RetryCount int    `json:"retry_count"`
	MaxRetries int    `json:"max_retries"`
}

// StepRecord is one entry in the append-only step history.
type StepRecord struct {
	StepID      string `json:"step_id"`
	Phase       string `json:"phase"`
	Status      string `json:"status"`
	Message     string `json:"message,omitempty"`
	Error       string `json:"error,omitempty"`
	CompletedAt string `json:"completed_at"`
}

// ResumePoint records where a paused run picks up.
type ResumePoint struct {
	Phase     string `json:"phase"`
	StepID    string `json:"step_id,omitempty"`
	StepIndex int    `json:"step_index"`
}

// Terminal reports whether the run has reached a final status.
func (rs *RunState) Terminal() bool {
	switch rs.Status {
	case StatusCompleted, StatusFailed, StatusStopped:
		return true
	}
	return false
}

// FindPhase returns the phase state with the given name, or nil.
func (rs *RunState) FindPhase(name string) *PhaseState {
	for i := range rs.Phases {
		if rs.Phases[i].Name == name {
			return &rs.Phases[i]
		}
	}
	return nil
}

// LatestStep returns the most recent history record for a step id, or nil.
func (rs *RunState) LatestStep(stepID string) *StepRecord {
	for i := len(rs.Steps) - 1; i >= 0; i-- {
		if rs.Steps[i].StepID == stepID {
			return &rs.Steps[i]
		}
	}
	return nil
}
