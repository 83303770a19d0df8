// Package document defines the in-memory model of hwml documents and the
// decoder that builds it from .hwml.json files.
//
// Declaration order is semantically significant throughout: topological
// ties break by it and fan-in precedence depends on it, so every
// collection in the model is a slice in source order, never a bare map.
package document

import (
	"time"

	"github.com/roach88/hwml/internal/expr"
)

// Reserved top-level and module-level keys. These are structurally
// distinct from modules and components.
const (
	KeyMeta    = "_meta"
	KeyConfig  = "_config"
	KeyTypes   = "_types"
	KeyImports = "_imports"
	KeyModules = "_modules"
	KeyParams  = "_params"
	KeyWiring  = "_wiring"
)

// ReservedKeys lists every reserved key.
var ReservedKeys = []string{KeyMeta, KeyConfig, KeyTypes, KeyImports, KeyModules, KeyParams, KeyWiring}

// IsReserved reports whether a key is reserved.
func IsReserved(key string) bool {
	for _, k := range ReservedKeys {
		if k == key {
			return true
		}
	}
	return false
}

// Document is the assembled model of a whole system: every module from the
// loaded file tree, the effective configuration, and document-level
// wiring. A Document is immutable after assembly.
type Document struct {
	Config  Config
	Modules []*Module
	Wiring  []Wire
	Meta    map[string]any
	// Entry names the module whose _config governs the run. Sim
	// bindings resolve in its scope.
	Entry string
}

// Module is a namespace of components. Its name mirrors the relative file
// path of the file that declared it, without extension, or the instance
// path for instantiated child modules.
type Module struct {
	Name       string
	Params     []*Param
	Imports    []*Import
	Instances  []*Instance
	Components []*Component
	Wiring     []Wire
}

// Component looks up a component by name.
func (m *Module) Component(name string) *Component {
	for _, c := range m.Components {
		if c.Name == name {
			return c
		}
	}
	return nil
}

// Param declares a module parameter. A parameter either has a default or
// is required; a required parameter left unbound at instantiation is a
// load-time error.
type Param struct {
	Name     string
	Type     string
	Default  *expr.Value
	Required bool
}

// Import records one _imports entry: a module path and the alias it is
// known by inside the importing module. Aliases never leak to siblings.
type Import struct {
	Alias string
	Path  string
}

// Instance is a _modules entry: the instantiation of a reusable module
// template under a local name, with parameter bindings and extra wiring.
type Instance struct {
	Name   string
	Use    string
	Config []ConfigBinding
	Bind   []Wire
}

// ConfigBinding supplies one parameter value at instantiation. Either
// Value is a literal, or Ref names a parameter of the enclosing module
// (written "$name" in the document).
type ConfigBinding struct {
	Param string
	Value *expr.Value
	Ref   string
}

// Component is a named unit with typed input and output ports backed by an
// internal node graph.
type Component struct {
	Name    string
	Inputs  []*Input
	Outputs []*Output
	Nodes   []*Node
}

// Input looks up an input port by name.
func (c *Component) Input(name string) *Input {
	for _, in := range c.Inputs {
		if in.Name == name {
			return in
		}
	}
	return nil
}

// Output looks up an output port by name.
func (c *Component) Output(name string) *Output {
	for _, out := range c.Outputs {
		if out.Name == name {
			return out
		}
	}
	return nil
}

// Node looks up an internal node by name.
func (c *Component) Node(name string) *Node {
	for _, n := range c.Nodes {
		if n.Name == name {
			return n
		}
	}
	return nil
}

// Input is a typed input port. Source names where the value comes from
// ("hw" for hardware channels, or a reference string); Bind is inline
// wiring, equivalent in effect to a _wiring edge ending at this port.
type Input struct {
	Name    string
	Type    string
	Units   string
	Source  string
	Bind    string
	HW      any // opaque, passed through to the hardware adapter
	Default *expr.Value
	Range   *Range
	Clamp   bool
}

// Output is a typed output port fed by the node named From. Target names
// the external destination ("hw" or a sink channel).
type Output struct {
	Name   string
	Type   string
	Units  string
	Target string
	From   string
	HW     any
	Range  *Range
	Clamp  bool
}

// Node is the smallest computation unit. A constant node carries Value, a
// computed node carries Formula, and a state node carries both: the value
// seeds its prev slot at tick 0.
type Node struct {
	Name    string
	Type    string
	Units   string
	Value   *expr.Value
	Formula *expr.Compiled
	State   bool
	Range   *Range
	Clamp   bool
}

// Range bounds a value: [Lo, Hi] inclusive.
type Range struct {
	Lo, Hi float64
}

// Contains reports whether v lies within the range. NaN is never in
// range.
func (r *Range) Contains(v float64) bool {
	return v >= r.Lo && v <= r.Hi
}

// ClampValue saturates v into the range. NaN passes through unchanged.
func (r *Range) ClampValue(v float64) float64 {
	if v < r.Lo {
		return r.Lo
	}
	if v > r.Hi {
		return r.Hi
	}
	return v
}

// Wire is a directed edge from one component's output to another
// component's input. From and To are reference strings resolved against
// the module (or document) scope the wire was declared in.
type Wire struct {
	From      string
	To        string
	Transform string
}

// Config is the recognized _config surface.
type Config struct {
	TickRate    float64 // Hz; drives the default dt
	MaxTickTime time.Duration
	AllowNaN    bool
	LogLevel    string
	SimMode     bool
	SimBindings []Wire
	// MeasuredDt switches formulas' dt from the configured 1/tickRate to
	// the measured duration of the previous tick.
	MeasuredDt bool
}

// DefaultConfig returns the configuration used when _config is absent.
func DefaultConfig() Config {
	return Config{
		TickRate: 100,
		AllowNaN: true,
		LogLevel: "info",
	}
}

// Dt returns the configured tick period in seconds.
func (c Config) Dt() float64 {
	if c.TickRate <= 0 {
		return 0
	}
	return 1 / c.TickRate
}

// File is one decoded .hwml.json file: the module it declares plus any
// document-level blocks it carries. Only the entry file's _config takes
// effect; module-level _wiring lives on the Module.
type File struct {
	Module *Module
	Config *Config
	Meta   map[string]any
}
