package resolve

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/hwml/internal/document"
	"github.com/roach88/hwml/internal/expr"
	"github.com/roach88/hwml/internal/testutil"
)

func expand(t *testing.T, entry string, files map[string]string) *Space {
	t.Helper()
	s, err := tryExpand(entry, files)
	require.NoError(t, err)
	return s
}

func tryExpand(entry string, files map[string]string) (*Space, error) {
	doc, err := testutil.TryLoadDocument(entry, files)
	if err != nil {
		return nil, err
	}
	return Expand(doc, expr.DefaultRegistry())
}

const thermostatSrc = `{
	"sensor": {
		"inputs": {"raw": {"type": "float", "hw": {"channel": 0}}},
		"outputs": {"celsius": {"from": "scaled"}},
		"nodes": {"scaled": "raw * 0.1"}
	},
	"controller": {
		"inputs": {"measured": {"type": "float", "source": "sensor.celsius"}},
		"outputs": {"heat": {"from": "drive"}},
		"nodes": {
			"integral": {"formula": "prev.integral + measured * dt", "state": true, "value": 0},
			"drive": "clamp(integral, 0, 1)"
		}
	}
}`

func TestExpandComponents(t *testing.T) {
	s := expand(t, "main", map[string]string{"main": thermostatSrc})

	require.Len(t, s.Modules, 1)
	require.Len(t, s.Components, 2)
	assert.Equal(t, "main.sensor", s.Components[0].ID)
	assert.Equal(t, "main.controller", s.Components[1].ID)
	assert.Same(t, s.Components[0], s.ComponentByID("main.sensor"))
}

func TestResolveLocalNodeInputOutput(t *testing.T) {
	s := expand(t, "main", map[string]string{"main": thermostatSrc})
	ctl := s.ComponentByID("main.controller")

	for _, tc := range []struct {
		ident string
		kind  TargetKind
		name  string
	}{
		{"integral", TargetNode, "integral"},
		{"drive", TargetNode, "drive"},
		{"measured", TargetInput, "measured"},
		// An output name resolves straight through to its feeding node.
		{"heat", TargetNode, "drive"},
		{"dt", TargetBuiltin, "dt"},
		{"tick", TargetBuiltin, "tick"},
	} {
		got, err := s.ResolveFormulaRef(ctl, tc.ident, &expr.Ref{Parts: []string{tc.ident}})
		require.NoError(t, err, tc.ident)
		assert.Equal(t, tc.kind, got.Kind, tc.ident)
		assert.Equal(t, tc.name, got.Name, tc.ident)
	}
}

func TestResolveSiblingOutput(t *testing.T) {
	s := expand(t, "main", map[string]string{"main": thermostatSrc})
	ctl := s.ComponentByID("main.controller")

	got, err := s.ResolveFormulaRef(ctl, "sensor.celsius", &expr.Ref{Parts: []string{"sensor", "celsius"}})
	require.NoError(t, err)
	assert.Equal(t, TargetOutput, got.Kind)
	assert.Equal(t, "main.sensor", got.Comp.ID)
	assert.Equal(t, "celsius", got.Name)

	node := s.OutputNode(got)
	assert.Equal(t, TargetNode, node.Kind)
	assert.Equal(t, "scaled", node.Name)
}

func TestResolveUnknownIdent(t *testing.T) {
	s := expand(t, "main", map[string]string{"main": thermostatSrc})
	ctl := s.ComponentByID("main.controller")

	_, err := s.ResolveFormulaRef(ctl, "bogus", &expr.Ref{Parts: []string{"bogus"}})
	var unresolved *UnresolvedReferenceError
	require.ErrorAs(t, err, &unresolved)
	assert.Equal(t, "main", unresolved.Module)
	assert.Equal(t, "controller", unresolved.Component)
	assert.Equal(t, "bogus", unresolved.Ident)
}

func TestResolvePrevRequiresState(t *testing.T) {
	s := expand(t, "main", map[string]string{"main": thermostatSrc})
	ctl := s.ComponentByID("main.controller")

	_, err := s.ResolveFormulaRef(ctl, "prev.integral", &expr.Ref{Prev: true, Parts: []string{"integral"}})
	require.NoError(t, err)

	_, err = s.ResolveFormulaRef(ctl, "prev.drive", &expr.Ref{Prev: true, Parts: []string{"drive"}})
	var bad *InvalidStateReferenceError
	require.ErrorAs(t, err, &bad)
	assert.Equal(t, "drive", bad.Ident)

	_, err = s.ResolveFormulaRef(ctl, "prev.measured", &expr.Ref{Prev: true, Parts: []string{"measured"}})
	require.ErrorAs(t, err, &bad)
}

func TestExpandParamsAndInstances(t *testing.T) {
	s := expand(t, "main", map[string]string{
		"lib/filter": `{
			"_params": {"alpha": {"type": "float", "default": 0.5}},
			"lp": {
				"inputs": {"x": {"type": "float"}},
				"outputs": {"y": {"from": "smooth"}},
				"nodes": {"smooth": {"formula": "lowpass(x, prev.smooth, alpha)", "state": true, "value": 0}}
			}
		}`,
		"main": `{
			"_params": {"gain": {"type": "float", "default": 2}},
			"_imports": ["lib/filter"],
			"_modules": {
				"smoother": {"use": "filter", "config": {"alpha": 0.2}, "bind": {"lp.x": "src.result"}}
			},
			"src": {"output": "tick * 1.0"}
		}`,
	})

	main := s.ModuleByPath("main")
	require.NotNil(t, main)
	require.Len(t, main.Instances, 1)
	child := main.Instances[0]
	assert.Equal(t, "main/smoother", child.Path)
	assert.Equal(t, expr.Number(0.2), child.Params["alpha"])

	// Defaults apply when the instantiation leaves a parameter unbound.
	lib := s.ModuleByPath("lib/filter")
	require.NotNil(t, lib)
	assert.Equal(t, expr.Number(0.5), lib.Params["alpha"])

	// Bind edges are rescoped onto the parent, pointing at child inputs.
	require.Len(t, main.Binds, 1)
	assert.Equal(t, "src.result", main.Binds[0].From)
	assert.Equal(t, "smoother.lp.x", main.Binds[0].To)
}

func TestResolveThroughInstanceAlias(t *testing.T) {
	s := expand(t, "main", map[string]string{
		"lib/filter": `{
			"_params": {"alpha": {"type": "float", "default": 0.5}},
			"lp": {
				"inputs": {"x": {"type": "float"}},
				"outputs": {"y": {"from": "smooth"}},
				"nodes": {"smooth": {"formula": "lowpass(x, prev.smooth, alpha)", "state": true, "value": 0}}
			}
		}`,
		"main": `{
			"_imports": ["lib/filter"],
			"_modules": {"smoother": {"use": "filter"}},
			"sink": {
				"inputs": {"v": {"type": "float"}},
				"output": "v"
			}
		}`,
	})
	sink := s.ComponentByID("main.sink")

	got, err := s.ResolveFormulaRef(sink, "smoother.lp.y", &expr.Ref{Parts: []string{"smoother", "lp", "y"}})
	require.NoError(t, err)
	assert.Equal(t, TargetOutput, got.Kind)
	assert.Equal(t, "main/smoother.lp", got.Comp.ID)

	// A bare component reference picks the sole output.
	got, err = s.ResolveFormulaRef(sink, "smoother.lp", &expr.Ref{Parts: []string{"smoother", "lp"}})
	require.NoError(t, err)
	assert.Equal(t, TargetOutput, got.Kind)
	assert.Equal(t, "y", got.Name)
}

func TestResolveThroughImportAlias(t *testing.T) {
	s := expand(t, "main", map[string]string{
		"lib/gains": `{
			"fixed": {"output": "42"}
		}`,
		"main": `{
			"_imports": [{"path": "lib/gains", "as": "g"}],
			"user": {"output": "1"}
		}`,
	})
	user := s.ComponentByID("main.user")

	got, err := s.ResolveFormulaRef(user, "g.fixed.result", &expr.Ref{Parts: []string{"g", "fixed", "result"}})
	require.NoError(t, err)
	assert.Equal(t, TargetOutput, got.Kind)
	assert.Equal(t, "lib/gains.fixed", got.Comp.ID)
	assert.Equal(t, document.SugarNodeName, got.Name)
}

func TestMissingRequiredParameter(t *testing.T) {
	_, err := tryExpand("main", map[string]string{
		"lib/pid": `{
			"_params": {"kp": {"type": "float", "required": true}},
			"loop": {"output": "kp"}
		}`,
		"main": `{
			"_imports": ["lib/pid"],
			"_modules": {"ctl": {"use": "pid"}}
		}`,
	})
	var missing *MissingParameterError
	require.ErrorAs(t, err, &missing)
	assert.Equal(t, "ctl", missing.Instance)
	assert.Equal(t, "kp", missing.Param)
}

func TestRequiredParamModuleIsATemplate(t *testing.T) {
	s := expand(t, "main", map[string]string{
		"lib/pid": `{
			"_params": {"kp": {"type": "float", "required": true}},
			"loop": {"output": "kp"}
		}`,
		"main": `{
			"_imports": ["lib/pid"],
			"_modules": {"ctl": {"use": "pid", "config": {"kp": 0.8}}},
			"src": {"output": "tick"}
		}`,
	})

	// The template never stands alone in the space; only its
	// instantiation does, with the binding applied.
	assert.Nil(t, s.ModuleByPath("lib/pid"))
	child := s.ModuleByPath("main/ctl")
	require.NotNil(t, child)
	assert.Equal(t, expr.Number(0.8), child.Params["kp"])
	require.NotNil(t, s.ComponentByID("main/ctl.loop"))
}

func TestRequiredParamEntryFailsLoad(t *testing.T) {
	_, err := tryExpand("main", map[string]string{
		"main": `{
			"_params": {"kp": {"type": "float", "required": true}},
			"loop": {"output": "kp"}
		}`,
	})
	var missing *MissingParameterError
	require.ErrorAs(t, err, &missing)
	assert.Equal(t, "kp", missing.Param)
}

func TestUnknownFunctionOrArity(t *testing.T) {
	_, err := tryExpand("main", map[string]string{
		"main": `{"c": {"output": "mystery(1)"}}`,
	})
	var unresolved *UnresolvedReferenceError
	require.ErrorAs(t, err, &unresolved)
	assert.Contains(t, unresolved.Error(), "mystery")

	_, err = tryExpand("main", map[string]string{
		"main": `{"c": {"output": "clamp(1, 2)"}}`,
	})
	require.ErrorAs(t, err, &unresolved)
}

func TestResolveEndpoints(t *testing.T) {
	s := expand(t, "main", map[string]string{
		"lib/filter": `{
			"lp": {
				"inputs": {"x": {"type": "float"}},
				"outputs": {"y": {"from": "pass"}},
				"nodes": {"pass": "x"}
			}
		}`,
		"main": `{
			"_imports": ["lib/filter"],
			"_modules": {"smoother": {"use": "filter"}},
			"src": {"output": "1"},
			"sink": {"inputs": {"v": {"type": "float"}}, "output": "v"}
		}`,
	})
	main := s.ModuleByPath("main")

	from, err := s.ResolveEndpoint(main, "src.result", EndpointOutput)
	require.NoError(t, err)
	assert.Equal(t, TargetOutput, from.Kind)
	assert.Equal(t, "main.src", from.Comp.ID)

	// Bare component names fall back to the sole port on each side.
	from, err = s.ResolveEndpoint(main, "src", EndpointOutput)
	require.NoError(t, err)
	assert.Equal(t, document.SugarNodeName, from.Name)

	to, err := s.ResolveEndpoint(main, "sink.v", EndpointInput)
	require.NoError(t, err)
	assert.Equal(t, TargetInput, to.Kind)
	assert.Equal(t, "v", to.Name)

	to, err = s.ResolveEndpoint(main, "smoother.lp.x", EndpointInput)
	require.NoError(t, err)
	assert.Equal(t, "main/smoother.lp", to.Comp.ID)

	// Absolute module paths reach any instance in the document.
	from, err = s.ResolveEndpoint(main, "lib/filter.lp.y", EndpointOutput)
	require.NoError(t, err)
	assert.Equal(t, "lib/filter.lp", from.Comp.ID)

	// Parent steps climb out of a nested instance.
	child := s.ModuleByPath("main/smoother")
	require.NotNil(t, child)
	from, err = s.ResolveEndpoint(child, "../src.result", EndpointOutput)
	require.NoError(t, err)
	assert.Equal(t, "main.src", from.Comp.ID)

	_, err = s.ResolveEndpoint(main, "../anything", EndpointOutput)
	require.Error(t, err)

	_, err = s.ResolveEndpoint(main, "nobody.here", EndpointInput)
	var unresolved *UnresolvedReferenceError
	require.ErrorAs(t, err, &unresolved)
}

func TestRecursiveInstantiation(t *testing.T) {
	_, err := tryExpand("a", map[string]string{
		"a": `{
			"_imports": ["b"],
			"_modules": {"child": {"use": "b"}}
		}`,
		"b": `{
			"_imports": ["a"],
			"_modules": {"child": {"use": "a"}}
		}`,
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "recursive")
}
