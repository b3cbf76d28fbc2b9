package workflow

import (
	"fmt"
	"strings"
)

// ResolutionError reports a malformed or cyclic workflow definition.
// It is fatal before any run starts and never subject to result handling.
type ResolutionError struct {
	Workflow string
	Reason   string
	Cycle    []string
}

func (e *ResolutionError) Error() string {
	if len(e.Cycle) > 0 {
		return fmt.Sprintf("resolve workflow %q: inheritance cycle: %s", e.Workflow, strings.Join(e.Cycle, " -> "))
	}
	return fmt.Sprintf("resolve workflow %q: %s", e.Workflow, e.Reason)
}

// Resolve walks the extends chain from ref up to a root definition, merges
// root-down, and validates the result. It is a pure function over the
// definitions visible through src: resolving the same reference twice with
// unchanged definitions yields structurally identical output. The merged
// definition carries no Extends or SkipSteps; it is never re-walked at
// execution time.
func Resolve(src Source, ref string) (*Definition, error) {
	chain, err := collectChain(src, ref)
	if err != nil {
		return nil, err
	}

	// Merge from the root ancestor down to the requested leaf.
	merged := copyDefinition(chain[len(chain)-1])
	if len(chain) == 1 && len(merged.SkipSteps) > 0 {
		return nil, &ResolutionError{
			Workflow: ref,
			Reason:   fmt.Sprintf("skip_steps %v name steps that exist in no ancestor", merged.SkipSteps),
		}
	}
	for i := len(chain) - 2; i >= 0; i-- {
		merged, err = mergeInto(merged, chain[i])
		if err != nil {
			return nil, &ResolutionError{Workflow: ref, Reason: err.Error()}
		}
	}

	merged.ID = ref
	merged.Extends = ""
	merged.SkipSteps = nil

	if err := validateMerged(merged); err != nil {
		return nil, &ResolutionError{Workflow: ref, Reason: err.Error()}
	}
	return merged, nil
}

// collectChain returns the definitions from ref (index 0) up to the root,
// failing on a chain that revisits an id.
func collectChain(src Source, ref string) ([]*Definition, error) {
	var chain []*Definition
	seen := make(map[string]bool)
	var path []string

	id := ref
	for id != "" {
		path = append(path, id)
		if seen[id] {
			return nil, &ResolutionError{Workflow: ref, Cycle: path}
		}
		seen[id] = true

		def, err := src.Lookup(id)
		if err != nil {
			return nil, &ResolutionError{Workflow: ref, Reason: err.Error()}
		}
		chain = append(chain, def)
		id = def.Extends
	}
	return chain, nil
}

// mergeInto layers a child definition over its (already merged) ancestors.
// The child's skip_steps remove inherited steps; child phases merge by
// name with pre/post steps appended around inherited steps; child steps
// add new ids and are rejected on collision with an inherited id the
// child did not skip.
func mergeInto(parent, child *Definition) (*Definition, error) {
	out := copyDefinition(parent)

	// Apply the child's skip set to inherited steps. Every entry must
	// match a step somewhere in the ancestry.
	skip := make(map[string]bool, len(child.SkipSteps))
	for _, id := range child.SkipSteps {
		skip[id] = true
	}
	matched := make(map[string]bool, len(skip))
	for i := range out.Phases {
		p := &out.Phases[i]
		p.PreSteps = dropSkipped(p.PreSteps, skip, matched)
		p.Steps = dropSkipped(p.Steps, skip, matched)
		p.PostSteps = dropSkipped(p.PostSteps, skip, matched)
	}
	for _, id := range child.SkipSteps {
		if !matched[id] {
			return nil, fmt.Errorf("skip_steps entry %q does not exist in any ancestor", id)
		}
	}

	// Inherited step ids remaining after skips; child additions must not
	// collide with these.
	inherited := make(map[string]bool)
	for _, p := range out.Phases {
		for _, st := range p.AllSteps() {
			inherited[st.ID] = true
		}
	}

	for _, cp := range child.Phases {
		pp := out.FindPhase(cp.Name)
		if pp == nil {
			added := cp
			out.Phases = append(out.Phases, added)
			for _, st := range cp.AllSteps() {
				inherited[st.ID] = true
			}
			continue
		}

		for _, st := range cp.AllSteps() {
			if inherited[st.ID] {
				return nil, fmt.Errorf("phase %q: step %q collides with an inherited step not listed in skip_steps", cp.Name, st.ID)
			}
			inherited[st.ID] = true
		}
		pp.PreSteps = append(pp.PreSteps, cp.PreSteps...)
		pp.Steps = append(pp.Steps, cp.Steps...)
		pp.PostSteps = append(pp.PostSteps, cp.PostSteps...)

		if cp.Enabled != nil {
			v := *cp.Enabled
			pp.Enabled = &v
		}
		if cp.MaxRetries != 0 {
			pp.MaxRetries = cp.MaxRetries
		}
		pp.Context = overlayContext(pp.Context, cp.Context)
		pp.ResultHandling = mergeHandling(pp.ResultHandling, cp.ResultHandling)
	}

	if child.AssetType != "" {
		out.AssetType = child.AssetType
	}
	out.Context = overlayContext(out.Context, child.Context)
	out.ResultHandling = mergeHandling(out.ResultHandling, child.ResultHandling)
	out.Autonomy = mergeAutonomy(out.Autonomy, child.Autonomy)

	return out, nil
}

// dropSkipped removes steps named in skip, recording which entries matched.
func dropSkipped(steps []Step, skip, matched map[string]bool) []Step {
	if len(skip) == 0 {
		return steps
	}
	out := steps[:0:0]
	for _, st := range steps {
		if skip[st.ID] {
			matched[st.ID] = true
			continue
		}
		out = append(out, st)
	}
	return out
}

// overlayContext concatenates inherited and child context text, child
// content placed last (most prominent).
func overlayContext(inherited, child string) string {
	switch {
	case inherited == "":
		return child
	case child == "":
		return inherited
	default:
		return inherited + "\n\n" + child
	}
}

// mergeHandling overlays child result handling per field.
func mergeHandling(parent, child *ResultHandling) *ResultHandling {
	if child == nil {
		return parent
	}
	if parent == nil {
		c := *child
		return &c
	}
	out := *parent
	if child.OnSuccess != "" {
		out.OnSuccess = child.OnSuccess
	}
	if child.OnWarning != "" {
		out.OnWarning = child.OnWarning
	}
	if child.OnFailure != "" {
		out.OnFailure = child.OnFailure
	}
	if child.OnPendingInput != "" {
		out.OnPendingInput = child.OnPendingInput
	}
	return &out
}

// mergeAutonomy unions approval gates, deduplicated by phase+when.
func mergeAutonomy(parent, child *Autonomy) *Autonomy {
	if child == nil {
		return parent
	}
	if parent == nil {
		c := Autonomy{RequireApprovalFor: append([]ApprovalGate(nil), child.RequireApprovalFor...)}
		return &c
	}
	out := Autonomy{RequireApprovalFor: append([]ApprovalGate(nil), parent.RequireApprovalFor...)}
	for _, g := range child.RequireApprovalFor {
		dup := false
		for _, have := range out.RequireApprovalFor {
			if have.Phase == g.Phase && have.When == g.When {
				dup = true
				break
			}
		}
		if !dup {
			out.RequireApprovalFor = append(out.RequireApprovalFor, g)
		}
	}
	return &out
}

// copyDefinition returns a deep copy so merging never aliases the
// source definitions.
func copyDefinition(d *Definition) *Definition {
	out := *d
	out.SkipSteps = append([]string(nil), d.SkipSteps...)
	if d.ResultHandling != nil {
		rh := *d.ResultHandling
		out.ResultHandling = &rh
	}
	if d.Autonomy != nil {
		a := Autonomy{RequireApprovalFor: append([]ApprovalGate(nil), d.Autonomy.RequireApprovalFor...)}
		out.Autonomy = &a
	}
	out.Phases = make([]Phase, len(d.Phases))
	for i, p := range d.Phases {
		out.Phases[i] = copyPhase(p)
	}
	return &out
}

func copyPhase(p Phase) Phase {
	out := p
	if p.Enabled != nil {
		v := *p.Enabled
		out.Enabled = &v
	}
	if p.ResultHandling != nil {
		rh := *p.ResultHandling
		out.ResultHandling = &rh
	}
	out.PreSteps = copySteps(p.PreSteps)
	out.Steps = copySteps(p.Steps)
	out.PostSteps = copySteps(p.PostSteps)
	return out
}

func copySteps(steps []Step) []Step {
	if steps == nil {
		return nil
	}
	out := make([]Step, len(steps))
	for i, st := range steps {
		out[i] = st
		if st.ResultHandling != nil {
			rh := *st.ResultHandling
			out[i].ResultHandling = &rh
		}
	}
	return out
}
