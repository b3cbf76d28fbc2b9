package workflow

// The five pipeline phases, in execution order. Names are fixed;
// enablement is configurable per definition.
const (
	PhaseFrame     = "frame"
	PhaseArchitect = "architect"
	PhaseBuild     = "build"
	PhaseEvaluate  = "evaluate"
	PhaseRelease   = "release"
)

// PhaseOrder is the canonical phase sequence.
var PhaseOrder = []string{PhaseFrame, PhaseArchitect, PhaseBuild, PhaseEvaluate, PhaseRelease}

// PhaseIndex returns a phase name's position in the canonical order, or -1.
func PhaseIndex(name string) int {
	for i, p := range PhaseOrder {
		if p == name {
			return i
		}
	}
	return -1
}

// Definition identifies a named pipeline, possibly extending a parent
// definition. A Definition as loaded from YAML may carry an inheritance
// reference; Resolve produces the fully merged form.
type Definition struct {
	ID             string          `yaml:"id"`
	Extends        string          `yaml:"extends,omitempty"`
	AssetType      string          `yaml:"asset_type,omitempty"`
	SkipSteps      []string        `yaml:"skip_steps,omitempty"`
	Context        string          `yaml:"context,omitempty"`
	ResultHandling *ResultHandling `yaml:"result_handling,omitempty"`
	Autonomy       *Autonomy       `yaml:"autonomy,omitempty"`
	Phases         []Phase         `yaml:"phases"`
}

// Phase is one of the five pipeline stages within a definition.
type Phase struct {
	Name           string          `yaml:"name"`
	Enabled        *bool           `yaml:"enabled,omitempty"`
	Context        string          `yaml:"context,omitempty"`
	MaxRetries     int             `yaml:"max_retries,omitempty"`
	ResultHandling *ResultHandling `yaml:"result_handling,omitempty"`
	PreSteps       []Step          `yaml:"pre_steps,omitempty"`
	Steps          []Step          `yaml:"steps,omitempty"`
	PostSteps      []Step          `yaml:"post_steps,omitempty"`
}

// IsEnabled reports whether the phase runs. Phases default to enabled.
func (p *Phase) IsEnabled() bool {
	return p.Enabled == nil || *p.Enabled
}

// AllSteps returns the phase's steps in execution order:
// pre_steps, steps, post_steps.
func (p *Phase) AllSteps() []Step {
	out := make([]Step, 0, len(p.PreSteps)+len(p.Steps)+len(p.PostSteps))
	out = append(out, p.PreSteps...)
	out = append(out, p.Steps...)
	out = append(out, p.PostSteps...)
	return out
}

// Step is an individually tracked unit of work inside a phase. At least
// one of Command (an external capability reference) or Instruction (a
// literal instruction for the default capability) is required.
type Step struct {
	ID             string          `yaml:"id"`
	Name           string          `yaml:"name,omitempty"`
	Description    string          `yaml:"description,omitempty"`
	Command        string          `yaml:"command,omitempty"`
	Instruction    string          `yaml:"instruction,omitempty"`
	Context        string          `yaml:"context,omitempty"`
	Target         string          `yaml:"target,omitempty"`
	Destructive    bool            `yaml:"destructive,omitempty"`
	MaxRetries     int             `yaml:"max_retries,omitempty"`
	ResultHandling *ResultHandling `yaml:"result_handling,omitempty"`
}

// ResultHandling decides the next transition for each step outcome.
// Each value is a fixed action ("continue", "stop", "retry",
// "retry:<phase>", "pause") or a recovery handler reference
// ("recover:<capability>"). Empty fields fall through to the next
// level of the step -> phase -> workflow -> default cascade.
type ResultHandling struct {
	OnSuccess      string `yaml:"on_success,omitempty"`
	OnWarning      string `yaml:"on_warning,omitempty"`
	OnFailure      string `yaml:"on_failure,omitempty"`
	OnPendingInput string `yaml:"on_pending_input,omitempty"`
}

// Autonomy declares approval checkpoints around phases.
type Autonomy struct {
	RequireApprovalFor []ApprovalGate `yaml:"require_approval_for,omitempty"`
}

// ApprovalGate is a mandatory approval before or after a named phase.
type ApprovalGate struct {
	Phase string `yaml:"phase"`
	When  string `yaml:"when"` // "before" or "after"
}

// EnabledPhases returns the definition's enabled phases in canonical order.
func (d *Definition) EnabledPhases() []Phase {
	var out []Phase
	for _, p := range d.Phases {
		if p.IsEnabled() {
			out = append(out, p)
		}
	}
	return out
}

// FindPhase returns the phase with the given name, or nil.
func (d *Definition) FindPhase(name string) *Phase {
	for i := range d.Phases {
		if d.Phases[i].Name == name {
			return &d.Phases[i]
		}
	}
	return nil
}

// ContextFor assembles the free-text context injected alongside a step's
// action, concatenated general-to-specific: workflow, then phase, then step.
func (d *Definition) ContextFor(p *Phase, st *Step) string {
	out := d.Context
	for _, part := range []string{p.Context, st.Context} {
		if part == "" {
			continue
		}
		if out == "" {
			out = part
		} else {
			out += "\n\n" + part
		}
	}
	return out
}

// GateFor returns the approval gate declared for a phase boundary, or nil.
func (d *Definition) GateFor(phase, when string) *ApprovalGate {
	if d.Autonomy == nil {
		return nil
	}
	for i := range d.Autonomy.RequireApprovalFor {
		g := &d.Autonomy.RequireApprovalFor[i]
		if g.Phase == phase && g.When == when {
			return g
		}
	}
	return nil
}
