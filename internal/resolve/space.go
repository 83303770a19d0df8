// Package resolve expands a document's module tree into a closed set of
// module instances and resolves every textual reference to a concrete
// entity.
//
// Module nesting gives a cyclic-looking shape (children hold a parent
// scope link, parents hold child instances), so instances live in an
// arena: a flat slice addressed by index, with the parent relation as a
// plain index used only for read-only scope search.
package resolve

import (
	"fmt"
	"strings"

	"github.com/roach88/hwml/internal/document"
	"github.com/roach88/hwml/internal/expr"
)

// Space is the closed set of module instances expanded from a document.
// It is immutable after Expand.
type Space struct {
	Doc     *document.Document
	Modules []*ModuleInst
	byPath  map[string]int
	// Components lists every component instance in declaration order:
	// modules in document order, instances depth-first after their
	// parent's own components.
	Components []*Component
}

// ModuleInst is one instantiated module: a file module, or a _modules
// child copied from its template with parameters substituted. Templates
// are never mutated; each instance has a distinct path identity.
type ModuleInst struct {
	Index  int
	Path   string
	Parent int // arena index of the parent scope, -1 for file modules
	Def    *document.Module
	// Params holds the resolved parameter values for this instance,
	// immutable for its lifetime.
	Params map[string]expr.Value
	// Imports maps alias to module path, local to this module.
	Imports    map[string]string
	Components []*Component
	Instances  []*ModuleInst
	// Binds holds instance-level bind edges, rescoped to this module's
	// parent: To is "<instance>.<component>.<input>".
	Binds []document.Wire
}

// Component is one component instance within a module instance.
type Component struct {
	Module *ModuleInst
	Def    *document.Component
	Name   string
	// ID is the globally unique identity: "<module path>.<name>".
	ID string
}

// ModuleByPath looks up a module instance by its path.
func (s *Space) ModuleByPath(path string) *ModuleInst {
	if i, ok := s.byPath[path]; ok {
		return s.Modules[i]
	}
	return nil
}

// ComponentByID looks up a component instance by its full ID.
func (s *Space) ComponentByID(id string) *Component {
	for _, c := range s.Components {
		if c.ID == id {
			return c
		}
	}
	return nil
}

// ParentOf returns the parent scope of a module instance, or nil.
func (s *Space) ParentOf(m *ModuleInst) *ModuleInst {
	if m.Parent < 0 {
		return nil
	}
	return s.Modules[m.Parent]
}

// Expand instantiates every module in the document: file modules first,
// then their _modules children recursively, copying templates with
// parameter substitution. A file module whose required parameters have
// no defaults is a pure template: it exists only through _modules
// instantiation sites, which must bind those parameters. The entry
// module is never a template. funcs validates formula calls (unknown
// function or bad arity is a load-time failure).
func Expand(doc *document.Document, funcs *expr.Registry) (*Space, error) {
	s := &Space{Doc: doc, byPath: make(map[string]int)}

	for _, mod := range doc.Modules {
		if mod.Name != doc.Entry && templateOnly(mod) {
			continue
		}
		if _, err := s.instantiate(mod, mod.Name, -1, nil, nil); err != nil {
			return nil, err
		}
	}

	if funcs != nil {
		if err := s.checkCalls(funcs); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// instantiate adds one module instance to the arena and recurses into its
// _modules children. params carries the resolved parameter values (nil
// for file modules, which fall back to their declared defaults). stack
// guards against recursive instantiation.
func (s *Space) instantiate(def *document.Module, path string, parent int, params map[string]expr.Value, stack []string) (*ModuleInst, error) {
	for _, name := range stack {
		if name == def.Name {
			return nil, fmt.Errorf("recursive module instantiation: %s", strings.Join(append(stack, def.Name), " -> "))
		}
	}
	stack = append(stack, def.Name)

	if _, exists := s.byPath[path]; exists {
		return nil, fmt.Errorf("duplicate module instance path %q", path)
	}

	inst := &ModuleInst{
		Index:   len(s.Modules),
		Path:    path,
		Parent:  parent,
		Def:     def,
		Params:  make(map[string]expr.Value),
		Imports: make(map[string]string),
	}
	s.Modules = append(s.Modules, inst)
	s.byPath[path] = inst.Index

	// Resolve parameters: supplied bindings win, then declared defaults.
	for _, p := range def.Params {
		if v, ok := params[p.Name]; ok {
			inst.Params[p.Name] = v
			continue
		}
		if p.Default != nil {
			inst.Params[p.Name] = *p.Default
			continue
		}
		// Required with no binding: the caller reports the instance
		// context; file modules have no caller, so report here.
		return nil, &MissingParameterError{Module: path, Instance: path, Param: p.Name}
	}
	for name := range params {
		if !hasParam(def, name) {
			return nil, fmt.Errorf("%s: config binds unknown parameter %q", path, name)
		}
	}

	for _, imp := range def.Imports {
		if _, dup := inst.Imports[imp.Alias]; dup {
			return nil, fmt.Errorf("%s: duplicate import alias %q", path, imp.Alias)
		}
		inst.Imports[imp.Alias] = imp.Path
	}

	for _, comp := range def.Components {
		c := &Component{
			Module: inst,
			Def:    comp,
			Name:   comp.Name,
			ID:     path + "." + comp.Name,
		}
		inst.Components = append(inst.Components, c)
		s.Components = append(s.Components, c)
	}

	for _, childDecl := range def.Instances {
		child, err := s.instantiateChild(inst, childDecl, stack)
		if err != nil {
			return nil, err
		}
		inst.Instances = append(inst.Instances, child)
	}
	return inst, nil
}

func (s *Space) instantiateChild(parent *ModuleInst, decl *document.Instance, stack []string) (*ModuleInst, error) {
	templatePath := decl.Use
	if p, ok := parent.Imports[decl.Use]; ok {
		templatePath = p
	}
	template := s.Doc.ModuleByName(templatePath)
	if template == nil {
		return nil, &UnresolvedReferenceError{
			Module: parent.Path,
			Ident:  decl.Use,
			Reason: "no module with this path or import alias",
		}
	}

	// Resolve config bindings before copying: literals pass through,
	// "$name" references read the instantiating module's parameters.
	params := make(map[string]expr.Value)
	for _, b := range decl.Config {
		switch {
		case b.Value != nil:
			params[b.Param] = *b.Value
		case b.Ref != "":
			v, ok := parent.Params[b.Ref]
			if !ok {
				return nil, &UnresolvedReferenceError{
					Module: parent.Path,
					Ident:  "$" + b.Ref,
					Reason: fmt.Sprintf("instance %q binds parameter %q to an unknown parent parameter", decl.Name, b.Param),
				}
			}
			params[b.Param] = v
		}
	}
	for _, p := range template.Params {
		if _, bound := params[p.Name]; !bound && p.Required {
			return nil, &MissingParameterError{Module: parent.Path, Instance: decl.Name, Param: p.Name}
		}
	}

	childPath := parent.Path + "/" + decl.Name
	child, err := s.instantiate(template, childPath, parent.Index, params, stack)
	if err != nil {
		return nil, err
	}

	// Instance binds become wiring edges scoped to the parent, ending at
	// the child's inputs.
	for _, w := range decl.Bind {
		parentScoped := document.Wire{From: w.From, To: decl.Name + "." + w.To}
		parent.Binds = append(parent.Binds, parentScoped)
	}
	return child, nil
}

// templateOnly reports whether a module cannot stand alone: a required
// parameter with no default has no binding at file scope.
func templateOnly(def *document.Module) bool {
	for _, p := range def.Params {
		if p.Required && p.Default == nil {
			return true
		}
	}
	return false
}

func hasParam(def *document.Module, name string) bool {
	for _, p := range def.Params {
		if p.Name == name {
			return true
		}
	}
	return false
}

// checkCalls validates every formula's function applications against the
// registry, so arity mistakes surface at load rather than at tick time.
func (s *Space) checkCalls(funcs *expr.Registry) error {
	for _, c := range s.Components {
		for _, n := range c.Def.Nodes {
			if n.Formula == nil {
				continue
			}
			var callErr error
			walkCalls(n.Formula.Root, func(call *expr.Call) {
				if callErr != nil {
					return
				}
				if err := funcs.CheckCall(call.Name, len(call.Args)); err != nil {
					callErr = &UnresolvedReferenceError{
						Module:    c.Module.Path,
						Component: c.Name,
						Formula:   n.Formula.Source,
						Ident:     call.Name,
						Reason:    err.Error(),
					}
				}
			})
			if callErr != nil {
				return callErr
			}
		}
	}
	return nil
}

func walkCalls(e expr.Expr, fn func(*expr.Call)) {
	expr.Walk(e, func(n expr.Expr) {
		if call, ok := n.(*expr.Call); ok {
			fn(call)
		}
	})
}
