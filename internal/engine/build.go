package engine

import (
	"fmt"
	"math"

	"github.com/roach88/hwml/internal/document"
	"github.com/roach88/hwml/internal/expr"
	"github.com/roach88/hwml/internal/graph"
	"github.com/roach88/hwml/internal/resolve"
)

// Program is a fully resolved, ordered, ready-to-tick model: every
// formula reference bound to its target, every input bound to its
// feeder, component and node evaluation orders fixed.
//
// Construction order NEVER changes after Build (evaluation order is the
// determinism contract); a Program is immutable except for the fault
// sink, which the engine drains between node evaluations.
type Program struct {
	Doc   *document.Document
	Space *resolve.Space
	Funcs *expr.Registry

	// Components in system evaluation order: topological over the wire
	// and cross-reference edges, declaration order breaking ties.
	Components []*Compiled
	byID       map[string]*Compiled

	// HWInputs and HWOutputs map hardware-backed port IDs to their raw
	// hw blocks, for the adapter.
	HWInputs  map[string]any
	HWOutputs map[string]any

	// Diagnostics found at build time (ambiguous fan-in).
	Diagnostics []Diagnostic

	faults *faultSink
}

// Compiled is one component instance prepared for evaluation.
type Compiled struct {
	Comp *resolve.Component

	// NodeOrder fixes intra-component evaluation: topological over
	// same-tick formula references, declaration order breaking ties.
	NodeOrder []*document.Node

	// Bindings resolves every reference of every formula in this
	// instance. Keyed by AST node: the same template formula is shared
	// across instances, so targets must be held per instance.
	Bindings map[*expr.Ref]resolve.Target

	// Feeds binds each wired input to its winning feeder. Inputs absent
	// here are hardware-backed or default-only.
	Feeds map[string]*Feed

	// crossDeps lists upstream component IDs in formula order, deduped.
	// Kept as a slice so system edges are added in a fixed order and
	// cycle paths report deterministically.
	crossDeps []string
}

// Feed is one resolved wire into an input.
type Feed struct {
	Source    resolve.Target // output (or node) whose value flows in
	Transform *expr.Compiled // optional per-wire transform over x
	Origin    string         // "source", "bind", "wiring", "sim"; for diagnostics
}

// Config returns the document configuration governing the run.
func (p *Program) Config() document.Config { return p.Doc.Config }

// Component returns the compiled instance with the given ID, or nil.
func (p *Program) Component(id string) *Compiled { return p.byID[id] }

// faultSink collects fault(msg) calls raised during formula evaluation
// and latches whether any fault has occurred on the program. The engine
// drains messages after every node so each fault lands on the node that
// raised it; the latch is sticky for the life of the run and is what the
// zero-argument fault() reads. Confined to the engine goroutine.
type faultSink struct {
	msgs    []string
	latched bool
}

func (s *faultSink) raise(msg string) {
	s.msgs = append(s.msgs, msg)
	s.latched = true
}

// trip sets the latch without queuing a message. Used when the engine
// escalates a condition it already diagnoses itself.
func (s *faultSink) trip() { s.latched = true }

func (s *faultSink) drain() []string {
	m := s.msgs
	s.msgs = nil
	return m
}

// Registry returns the evaluation registry for a program: the standard
// function set plus the fault builtin wired to sink. fault(msg) raises a
// fault and yields NaN; fault() with no arguments reads the latch, so
// safety interlocks can gate on faults raised anywhere in the program.
func registry(sink *faultSink) *expr.Registry {
	r := expr.DefaultRegistry()
	r.Register(&expr.Function{
		Name:    "fault",
		MinArgs: 0,
		MaxArgs: 1,
		Apply: func(args []expr.Value) expr.Value {
			if len(args) == 0 {
				return expr.Bool(sink.latched)
			}
			sink.raise(args[0].String())
			return expr.Number(math.NaN())
		},
	})
	return r
}

// Build compiles a document into a Program: module expansion, reference
// resolution, input feed selection, cycle analysis and ordering. Every
// load-time error class surfaces here; a Program that builds cleanly
// cannot fail to start ticking.
func Build(doc *document.Document) (*Program, error) {
	sink := &faultSink{}
	funcs := registry(sink)

	space, err := resolve.Expand(doc, funcs)
	if err != nil {
		return nil, err
	}

	p := &Program{
		Doc:       doc,
		Space:     space,
		Funcs:     funcs,
		byID:      make(map[string]*Compiled),
		HWInputs:  make(map[string]any),
		HWOutputs: make(map[string]any),
		faults:    sink,
	}

	for _, comp := range space.Components {
		cc, err := p.compileComponent(comp)
		if err != nil {
			return nil, err
		}
		p.Components = append(p.Components, cc)
		p.byID[comp.ID] = cc
	}

	if err := p.bindFeeds(); err != nil {
		return nil, err
	}
	if err := p.checkConnected(); err != nil {
		return nil, err
	}
	if err := p.orderSystem(); err != nil {
		return nil, err
	}
	return p, nil
}

// compileComponent resolves every formula reference of one instance and
// fixes its node evaluation order.
func (p *Program) compileComponent(comp *resolve.Component) (*Compiled, error) {
	cc := &Compiled{
		Comp:     comp,
		Bindings: make(map[*expr.Ref]resolve.Target),
		Feeds:    make(map[string]*Feed),
	}

	g := graph.New()
	for _, n := range comp.Def.Nodes {
		g.Add(n.Name)
	}

	for _, n := range comp.Def.Nodes {
		if n.Formula == nil {
			continue
		}
		var resolveErr error
		expr.Walk(n.Formula.Root, func(e expr.Expr) {
			ref, ok := e.(*expr.Ref)
			if !ok || resolveErr != nil {
				return
			}
			t, err := p.Space.ResolveFormulaRef(comp, n.Formula.Source, ref)
			if err != nil {
				resolveErr = err
				return
			}
			cc.Bindings[ref] = t
			// Same-tick local node references order evaluation within
			// the component. prev. references read the committed
			// snapshot and never constrain order.
			if ref.Prev || t.Comp == nil {
				return
			}
			if t.Comp == comp {
				if t.Kind == resolve.TargetNode {
					_ = g.AddEdge(t.Name, n.Name)
				}
			} else {
				cc.addCrossDep(t.Comp.ID)
			}
		})
		if resolveErr != nil {
			return nil, resolveErr
		}
	}

	order, err := g.Sort()
	if err != nil {
		return nil, cyclicError(comp.ID, err)
	}
	for _, name := range order {
		cc.NodeOrder = append(cc.NodeOrder, comp.Def.Node(name))
	}

	for _, in := range comp.Def.Inputs {
		if in.HW != nil {
			p.HWInputs[comp.ID+"."+in.Name] = in.HW
		}
	}
	for _, out := range comp.Def.Outputs {
		if out.HW != nil || out.Target != "" {
			p.HWOutputs[comp.ID+"."+out.Name] = out.HW
		}
	}
	return cc, nil
}

func (cc *Compiled) addCrossDep(id string) {
	for _, d := range cc.crossDeps {
		if d == id {
			return
		}
	}
	cc.crossDeps = append(cc.crossDeps, id)
}

// candidate is a feeder considered for an input during fan-in selection.
type candidate struct {
	feed Feed
	to   resolve.Target
}

// bindFeeds gathers every wire into every input and selects winners.
// Precedence is fixed: inline source/bind on the input, then instance
// bind maps, then _wiring lists, each in declaration order; the last
// feeder applied wins. Sim bindings reroute their inputs outright.
func (p *Program) bindFeeds() error {
	var candidates []candidate

	collect := func(m *resolve.ModuleInst, from, to, transform, origin string) error {
		src, err := p.Space.ResolveEndpoint(m, from, resolve.EndpointOutput)
		if err != nil {
			return err
		}
		dst, err := p.Space.ResolveEndpoint(m, to, resolve.EndpointInput)
		if err != nil {
			return err
		}
		f := Feed{Source: src, Origin: origin}
		if transform != "" {
			compiled, err := compileTransform(transform)
			if err != nil {
				return err
			}
			f.Transform = compiled
		}
		candidates = append(candidates, candidate{feed: f, to: dst})
		return nil
	}

	// Inline source/bind declared on the input itself.
	for _, cc := range p.Components {
		comp := cc.Comp
		for _, in := range comp.Def.Inputs {
			inline := []struct{ origin, from string }{
				{"source", in.Source},
				{"inline bind", in.Bind},
			}
			for _, e := range inline {
				origin, from := e.origin, e.from
				if from == "" {
					continue
				}
				src, err := p.Space.ResolveEndpoint(comp.Module, from, resolve.EndpointOutput)
				if err != nil {
					return err
				}
				candidates = append(candidates, candidate{
					feed: Feed{Source: src, Origin: origin},
					to:   resolve.Target{Kind: resolve.TargetInput, Comp: comp, Name: in.Name},
				})
			}
		}
	}

	// Instance bind maps, rescoped to the declaring module.
	for _, m := range p.Space.Modules {
		for _, w := range m.Binds {
			if err := collect(m, w.From, w.To, w.Transform, "bind"); err != nil {
				return err
			}
		}
	}

	// _wiring lists, each in its module's own scope.
	for _, m := range p.Space.Modules {
		for _, w := range m.Def.Wiring {
			if err := collect(m, w.From, w.To, w.Transform, "wiring"); err != nil {
				return err
			}
		}
	}

	// Sim bindings resolve at the entry module and displace every other
	// feeder of their input.
	rerouted := make(map[string]bool)
	if cfg := p.Doc.Config; cfg.SimMode {
		entry := p.Space.ModuleByPath(p.Doc.Entry)
		if entry == nil {
			return fmt.Errorf("sim bindings: entry module %q not instantiated", p.Doc.Entry)
		}
		for _, w := range cfg.SimBindings {
			if err := collect(entry, w.From, w.To, w.Transform, "sim"); err != nil {
				return err
			}
			c := candidates[len(candidates)-1]
			rerouted[c.to.Comp.ID+"."+c.to.Name] = true
		}
	}

	feeders := make(map[string][]candidate)
	for _, c := range candidates {
		key := c.to.Comp.ID + "." + c.to.Name
		if rerouted[key] && c.feed.Origin != "sim" {
			continue
		}
		feeders[key] = append(feeders[key], c)
	}

	for _, cc := range p.Components {
		for _, in := range cc.Comp.Def.Inputs {
			key := cc.Comp.ID + "." + in.Name
			cands := feeders[key]
			if len(cands) == 0 {
				continue
			}
			if len(cands) > 1 {
				msg := "input has multiple feeders:"
				for _, c := range cands {
					msg += fmt.Sprintf(" %s (%s)", c.feed.Source.Comp.ID+"."+c.feed.Source.Name, c.feed.Origin)
				}
				p.Diagnostics = append(p.Diagnostics, Diagnostic{
					Code:      CodeAmbiguousFanIn,
					Severity:  SeverityWarning,
					Component: cc.Comp.ID,
					Port:      in.Name,
					Message:   msg + "; last one wins",
				})
			}
			winner := cands[len(cands)-1].feed
			cc.Feeds[in.Name] = &winner
		}
	}
	return nil
}

// compileTransform compiles a wire transform. Transforms see the wire
// value as x, plus the clock builtins; nothing else is in scope.
func compileTransform(src string) (*expr.Compiled, error) {
	compiled, err := expr.Compile(src)
	if err != nil {
		return nil, err
	}
	for _, ident := range compiled.Refs.Local {
		if ident != "x" && !resolve.IsBuiltin(ident) {
			return nil, fmt.Errorf("transform %q: only x and clock builtins are in scope, not %q", src, ident)
		}
	}
	if len(compiled.Refs.Qualified) > 0 || len(compiled.Refs.Prev) > 0 {
		return nil, fmt.Errorf("transform %q: qualified and prev references are not allowed", src)
	}
	return compiled, nil
}

// checkConnected rejects inputs nothing feeds: no wire, no hardware
// channel, no default.
func (p *Program) checkConnected() error {
	for _, cc := range p.Components {
		for _, in := range cc.Comp.Def.Inputs {
			if cc.Feeds[in.Name] != nil || in.HW != nil || in.Default != nil {
				continue
			}
			return &UnconnectedInputError{Component: cc.Comp.ID, Input: in.Name}
		}
	}
	return nil
}

// orderSystem fixes component evaluation order from the system graph:
// wires and same-tick cross-component references are edges, prev.
// references are not.
func (p *Program) orderSystem() error {
	g := graph.New()
	for _, cc := range p.Components {
		g.Add(cc.Comp.ID)
	}
	for _, cc := range p.Components {
		for _, dep := range cc.crossDeps {
			_ = g.AddEdge(dep, cc.Comp.ID)
		}
		for _, in := range cc.Comp.Def.Inputs {
			f := cc.Feeds[in.Name]
			if f != nil && f.Source.Comp != nil && f.Source.Comp != cc.Comp {
				_ = g.AddEdge(f.Source.Comp.ID, cc.Comp.ID)
			}
		}
	}

	order, err := g.Sort()
	if err != nil {
		return cyclicError("system", err)
	}

	sorted := make([]*Compiled, 0, len(order))
	for _, id := range order {
		sorted = append(sorted, p.byID[id])
	}
	p.Components = sorted
	return nil
}
