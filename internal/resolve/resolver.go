package resolve

import (
	"strconv"
	"strings"

	"github.com/roach88/hwml/internal/expr"
)

// TargetKind classifies what a reference resolved to.
type TargetKind int

const (
	TargetNode TargetKind = iota
	TargetInput
	TargetOutput
	TargetParam
	TargetBuiltin
)

func (k TargetKind) String() string {
	switch k {
	case TargetNode:
		return "node"
	case TargetInput:
		return "input"
	case TargetOutput:
		return "output"
	case TargetParam:
		return "parameter"
	case TargetBuiltin:
		return "builtin"
	}
	return "unknown"
}

// Target is a resolved reference: a concrete entity handle.
type Target struct {
	Kind   TargetKind
	Comp   *Component  // node/input/output targets
	Module *ModuleInst // parameter targets
	Name   string
}

// Builtin identifiers published by the tick evaluator. They resolve
// before any scope lookup; a node or input shadowing one is a schema
// error caught during engine build.
var builtins = map[string]bool{
	"dt":   true,
	"time": true,
	"tick": true,
}

// IsBuiltin reports whether name is a reserved evaluator identifier.
func IsBuiltin(name string) bool {
	return builtins[name]
}

// ResolveFormulaRef resolves one formula reference found in component c.
// formula is the source text, used only for error reporting.
func (s *Space) ResolveFormulaRef(c *Component, formula string, ref *expr.Ref) (Target, error) {
	var t Target
	var err error
	if len(ref.Parts) == 1 {
		t, err = s.resolveLocal(c, formula, ref.Parts[0])
	} else {
		t, err = s.resolveQualified(c.Module, c, formula, ref.Parts)
	}
	if err != nil {
		return Target{}, err
	}

	if ref.Prev {
		return s.requireState(c, formula, ref, t)
	}
	return t, nil
}

// requireState enforces that a prev.-qualified reference lands on a
// state: true node. Output targets are followed to their feeding node
// first, since an output is just a view of that node.
func (s *Space) requireState(c *Component, formula string, ref *expr.Ref, t Target) (Target, error) {
	if t.Kind == TargetOutput {
		out := t.Comp.Def.Output(t.Name)
		t = Target{Kind: TargetNode, Comp: t.Comp, Name: out.From}
	}
	if t.Kind != TargetNode {
		return Target{}, &InvalidStateReferenceError{
			Module:    c.Module.Path,
			Component: c.Name,
			Formula:   formula,
			Ident:     ref.String(),
		}
	}
	node := t.Comp.Def.Node(t.Name)
	if node == nil || !node.State {
		return Target{}, &InvalidStateReferenceError{
			Module:    c.Module.Path,
			Component: c.Name,
			Formula:   formula,
			Ident:     ref.String(),
		}
	}
	return t, nil
}

// resolveLocal resolves a bare identifier inside component c: builtin,
// own node, own input, own output (followed to its feeding node), then
// module parameter.
func (s *Space) resolveLocal(c *Component, formula, name string) (Target, error) {
	if IsBuiltin(name) {
		return Target{Kind: TargetBuiltin, Name: name}, nil
	}
	if c.Def.Node(name) != nil {
		return Target{Kind: TargetNode, Comp: c, Name: name}, nil
	}
	if c.Def.Input(name) != nil {
		return Target{Kind: TargetInput, Comp: c, Name: name}, nil
	}
	if out := c.Def.Output(name); out != nil {
		return Target{Kind: TargetNode, Comp: c, Name: out.From}, nil
	}
	if _, ok := c.Module.Params[name]; ok {
		return Target{Kind: TargetParam, Module: c.Module, Name: name}, nil
	}
	return Target{}, &UnresolvedReferenceError{
		Module:    c.Module.Path,
		Component: c.Name,
		Formula:   formula,
		Ident:     name,
	}
}

// resolveQualified resolves a dotted reference from inside module m.
// Lookup order: sibling component, child module instance, import alias.
// c is the referencing component (for error context) and may be nil for
// wire endpoints.
func (s *Space) resolveQualified(m *ModuleInst, c *Component, formula string, parts []string) (Target, error) {
	compName := ""
	if c != nil {
		compName = c.Name
	}
	fail := func(reason string) (Target, error) {
		return Target{}, &UnresolvedReferenceError{
			Module:    m.Path,
			Component: compName,
			Formula:   formula,
			Ident:     strings.Join(parts, "."),
			Reason:    reason,
		}
	}

	first, rest := parts[0], parts[1:]

	// Sibling component of the referencing scope.
	for _, sib := range m.Components {
		if sib.Name != first {
			continue
		}
		if len(rest) != 1 {
			return fail("component references take the form component.output")
		}
		return s.componentOutput(sib, rest[0], fail)
	}

	// Child module instance, qualified by instance alias.
	for _, inst := range m.Instances {
		if leafName(inst.Path) != first {
			continue
		}
		return s.resolveInModule(inst, rest, fail)
	}

	// Import alias, then full import path.
	if path, ok := m.Imports[first]; ok {
		if imported := s.ModuleByPath(path); imported != nil {
			return s.resolveInModule(imported, rest, fail)
		}
		return fail("import alias points to unknown module " + path)
	}

	return fail("")
}

// resolveInModule resolves the trailing parts of a reference within a
// target module: component, or component.output.
func (s *Space) resolveInModule(m *ModuleInst, parts []string, fail func(string) (Target, error)) (Target, error) {
	if len(parts) == 0 {
		return fail("reference names a module, not a value")
	}
	for _, comp := range m.Components {
		if comp.Name != parts[0] {
			continue
		}
		switch len(parts) {
		case 1:
			return s.soleOutput(comp, fail)
		case 2:
			return s.componentOutput(comp, parts[1], fail)
		}
		return fail("too many reference segments")
	}
	// One more level of nesting: instance paths inside the module.
	for _, inst := range m.Instances {
		if leafName(inst.Path) == parts[0] {
			return s.resolveInModule(inst, parts[1:], fail)
		}
	}
	return fail("no component " + parts[0] + " in module " + m.Path)
}

func (s *Space) componentOutput(c *Component, name string, fail func(string) (Target, error)) (Target, error) {
	if c.Def.Output(name) != nil {
		return Target{Kind: TargetOutput, Comp: c, Name: name}, nil
	}
	return fail("component " + c.ID + " has no output " + name)
}

// soleOutput resolves a bare component reference to its only output.
func (s *Space) soleOutput(c *Component, fail func(string) (Target, error)) (Target, error) {
	if len(c.Def.Outputs) == 1 {
		return Target{Kind: TargetOutput, Comp: c, Name: c.Def.Outputs[0].Name}, nil
	}
	return fail("component " + c.ID + " has " + strconv.Itoa(len(c.Def.Outputs)) + " outputs; name one")
}

// EndpointKind selects which side of a wire a reference string must
// resolve to.
type EndpointKind int

const (
	EndpointOutput EndpointKind = iota
	EndpointInput
)

// ResolveEndpoint resolves a wire/bind/simBinding reference string within
// module m. Endpoint strings extend the formula reference forms with
// "../" parent steps and absolute "path/to/module.component.port" paths.
func (s *Space) ResolveEndpoint(m *ModuleInst, refStr string, kind EndpointKind) (Target, error) {
	scope := m
	rest := refStr
	for strings.HasPrefix(rest, "../") {
		parent := s.ParentOf(scope)
		if parent == nil {
			return Target{}, &UnresolvedReferenceError{
				Module: m.Path,
				Ident:  refStr,
				Reason: "reference walks above the document root",
			}
		}
		scope = parent
		rest = strings.TrimPrefix(rest, "../")
	}

	fail := func(reason string) (Target, error) {
		return Target{}, &UnresolvedReferenceError{
			Module: m.Path,
			Ident:  refStr,
			Reason: reason,
		}
	}

	if i := strings.LastIndex(rest, "/"); i >= 0 {
		// Absolute module path: everything through the first dotted
		// segment after the last slash names the module.
		dotted := strings.Split(rest[i+1:], ".")
		modPath := rest[:i+1] + dotted[0]
		target := s.ModuleByPath(modPath)
		if target == nil {
			return fail("no module at path " + modPath)
		}
		return s.endpointInModule(target, dotted[1:], kind, fail)
	}

	parts := strings.Split(rest, ".")
	if kind == EndpointInput {
		return s.inputEndpoint(scope, parts, fail)
	}
	if len(parts) == 1 {
		// A bare component name: its sole output.
		for _, comp := range scope.Components {
			if comp.Name == parts[0] {
				return s.soleOutput(comp, fail)
			}
		}
		return fail("no component " + parts[0] + " in module " + scope.Path)
	}
	return s.resolveQualified(scope, nil, refStr, parts)
}

func (s *Space) endpointInModule(m *ModuleInst, parts []string, kind EndpointKind, fail func(string) (Target, error)) (Target, error) {
	if kind == EndpointInput {
		return s.inputEndpoint(m, parts, fail)
	}
	return s.resolveInModule(m, parts, fail)
}

// inputEndpoint resolves the destination side of a wire: component.input,
// instance.component.input, or a bare component with a single input.
func (s *Space) inputEndpoint(m *ModuleInst, parts []string, fail func(string) (Target, error)) (Target, error) {
	if len(parts) == 0 {
		return fail("reference names a module, not an input")
	}
	for _, comp := range m.Components {
		if comp.Name != parts[0] {
			continue
		}
		switch len(parts) {
		case 1:
			if len(comp.Def.Inputs) == 1 {
				return Target{Kind: TargetInput, Comp: comp, Name: comp.Def.Inputs[0].Name}, nil
			}
			return fail("component " + comp.ID + " has " + strconv.Itoa(len(comp.Def.Inputs)) + " inputs; name one")
		case 2:
			if comp.Def.Input(parts[1]) != nil {
				return Target{Kind: TargetInput, Comp: comp, Name: parts[1]}, nil
			}
			return fail("component " + comp.ID + " has no input " + parts[1])
		}
		return fail("too many reference segments")
	}
	for _, inst := range m.Instances {
		if leafName(inst.Path) == parts[0] {
			return s.inputEndpoint(inst, parts[1:], fail)
		}
	}
	return fail("no component " + parts[0] + " in module " + m.Path)
}

// OutputNode follows an output target to the node that feeds it.
func (s *Space) OutputNode(t Target) Target {
	if t.Kind != TargetOutput {
		return t
	}
	out := t.Comp.Def.Output(t.Name)
	return Target{Kind: TargetNode, Comp: t.Comp, Name: out.From}
}

func leafName(path string) string {
	if i := strings.LastIndex(path, "/"); i >= 0 {
		return path[i+1:]
	}
	return path
}


