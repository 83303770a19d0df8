package document

import (
	"github.com/roach88/hwml/internal/expr"
)

// SugarNodeName is the node (and output port) a simplified component
// expands to. A component written as {"output": "<formula>"} behaves as if
// it declared one node named "result" holding the formula and one output
// port "result" fed by it; cross-component references use comp.result.
const SugarNodeName = "result"

func decodeComponent(file, name string, val any) (*Component, error) {
	body, ok := val.(*obj)
	if !ok {
		return nil, schemaErrorf(file, name, "component must be an object")
	}

	// Simplified single-output form.
	if body.has("output") || body.has("result") {
		return decodeSugarComponent(file, name, body)
	}

	comp := &Component{Name: name}
	declared := false
	for _, key := range body.keys {
		v := body.fields[key]
		switch key {
		case "inputs":
			inputs, err := decodeInputs(file, name, v)
			if err != nil {
				return nil, err
			}
			comp.Inputs = inputs
			declared = true
		case "outputs":
			outputs, err := decodeOutputs(file, name, v)
			if err != nil {
				return nil, err
			}
			comp.Outputs = outputs
			declared = true
		case "nodes":
			nodes, err := decodeNodes(file, name, v)
			if err != nil {
				return nil, err
			}
			comp.Nodes = nodes
			declared = true
		default:
			return nil, schemaErrorf(file, name, "unknown component field %q", key)
		}
	}
	if !declared {
		return nil, schemaErrorf(file, name, "component declares no inputs, outputs, or nodes")
	}
	return comp, nil
}

// decodeSugarComponent expands the single-output shorthand.
func decodeSugarComponent(file, name string, body *obj) (*Component, error) {
	comp := &Component{Name: name}
	for _, key := range body.keys {
		v := body.fields[key]
		switch key {
		case "output", "result":
			node := &Node{Name: SugarNodeName}
			switch t := v.(type) {
			case string:
				compiled, err := expr.Compile(t)
				if err != nil {
					return nil, wrapFormulaError(file, name+"."+key, err)
				}
				node.Formula = compiled
			case float64, bool:
				lit, _ := literalValue(t)
				node.Value = lit
			default:
				return nil, schemaErrorf(file, name+"."+key, "must be a formula string or a literal")
			}
			comp.Nodes = append(comp.Nodes, node)
			comp.Outputs = append(comp.Outputs, &Output{Name: SugarNodeName, From: SugarNodeName})
		case "inputs":
			inputs, err := decodeInputs(file, name, v)
			if err != nil {
				return nil, err
			}
			comp.Inputs = inputs
		default:
			return nil, schemaErrorf(file, name, "unknown component field %q", key)
		}
	}
	return comp, nil
}

func decodeInputs(file, comp string, val any) ([]*Input, error) {
	o, ok := val.(*obj)
	if !ok {
		return nil, schemaErrorf(file, comp+".inputs", "must be an object")
	}
	var inputs []*Input
	for _, name := range o.keys {
		path := comp + ".inputs." + name
		body, ok := o.fields[name].(*obj)
		if !ok {
			return nil, schemaErrorf(file, path, "must be an object")
		}
		in := &Input{Name: name}
		for _, key := range body.keys {
			v := body.fields[key]
			switch key {
			case "type":
				if err := setString(&in.Type, v); err != nil {
					return nil, schemaErrorf(file, path+".type", "%v", err)
				}
			case "units":
				if err := setString(&in.Units, v); err != nil {
					return nil, schemaErrorf(file, path+".units", "%v", err)
				}
			case "source":
				if err := setString(&in.Source, v); err != nil {
					return nil, schemaErrorf(file, path+".source", "%v", err)
				}
			case "bind":
				if err := setString(&in.Bind, v); err != nil {
					return nil, schemaErrorf(file, path+".bind", "%v", err)
				}
			case "hw":
				in.HW = plain(v)
			case "default":
				lit, err := literalValue(v)
				if err != nil {
					return nil, schemaErrorf(file, path+".default", "%v", err)
				}
				in.Default = lit
			case "range":
				r, err := decodeRange(v)
				if err != nil {
					return nil, schemaErrorf(file, path+".range", "%v", err)
				}
				in.Range = r
			case "clamp":
				if err := setBool(&in.Clamp, v); err != nil {
					return nil, schemaErrorf(file, path+".clamp", "%v", err)
				}
			default:
				return nil, schemaErrorf(file, path, "unknown input field %q", key)
			}
		}
		inputs = append(inputs, in)
	}
	return inputs, nil
}

func decodeOutputs(file, comp string, val any) ([]*Output, error) {
	o, ok := val.(*obj)
	if !ok {
		return nil, schemaErrorf(file, comp+".outputs", "must be an object")
	}
	var outputs []*Output
	for _, name := range o.keys {
		path := comp + ".outputs." + name
		body, ok := o.fields[name].(*obj)
		if !ok {
			return nil, schemaErrorf(file, path, "must be an object")
		}
		out := &Output{Name: name}
		for _, key := range body.keys {
			v := body.fields[key]
			switch key {
			case "type":
				if err := setString(&out.Type, v); err != nil {
					return nil, schemaErrorf(file, path+".type", "%v", err)
				}
			case "units":
				if err := setString(&out.Units, v); err != nil {
					return nil, schemaErrorf(file, path+".units", "%v", err)
				}
			case "target":
				if err := setString(&out.Target, v); err != nil {
					return nil, schemaErrorf(file, path+".target", "%v", err)
				}
			case "from":
				if err := setString(&out.From, v); err != nil {
					return nil, schemaErrorf(file, path+".from", "%v", err)
				}
			case "hw":
				out.HW = plain(v)
			case "range":
				r, err := decodeRange(v)
				if err != nil {
					return nil, schemaErrorf(file, path+".range", "%v", err)
				}
				out.Range = r
			case "clamp":
				if err := setBool(&out.Clamp, v); err != nil {
					return nil, schemaErrorf(file, path+".clamp", "%v", err)
				}
			default:
				return nil, schemaErrorf(file, path, "unknown output field %q", key)
			}
		}
		if out.From == "" {
			return nil, schemaErrorf(file, path, "output requires from: the node feeding it")
		}
		outputs = append(outputs, out)
	}
	return outputs, nil
}

func decodeNodes(file, comp string, val any) ([]*Node, error) {
	o, ok := val.(*obj)
	if !ok {
		return nil, schemaErrorf(file, comp+".nodes", "must be an object")
	}
	var nodes []*Node
	for _, name := range o.keys {
		path := comp + ".nodes." + name
		node, err := decodeNode(file, path, name, o.fields[name])
		if err != nil {
			return nil, err
		}
		nodes = append(nodes, node)
	}
	return nodes, nil
}

func decodeNode(file, path, name string, val any) (*Node, error) {
	// A bare formula string or literal is shorthand for {formula: ...} /
	// {value: ...}.
	switch t := val.(type) {
	case string:
		compiled, err := expr.Compile(t)
		if err != nil {
			return nil, wrapFormulaError(file, path, err)
		}
		return &Node{Name: name, Formula: compiled}, nil
	case float64, bool:
		lit, _ := literalValue(t)
		return &Node{Name: name, Value: lit}, nil
	}

	body, ok := val.(*obj)
	if !ok {
		return nil, schemaErrorf(file, path, "node must be an object, formula string, or literal")
	}
	node := &Node{Name: name}
	for _, key := range body.keys {
		v := body.fields[key]
		switch key {
		case "value":
			lit, err := literalValue(v)
			if err != nil {
				return nil, schemaErrorf(file, path+".value", "%v", err)
			}
			node.Value = lit
		case "formula":
			s, ok := v.(string)
			if !ok {
				return nil, schemaErrorf(file, path+".formula", "must be a string")
			}
			compiled, err := expr.Compile(s)
			if err != nil {
				return nil, wrapFormulaError(file, path, err)
			}
			node.Formula = compiled
		case "state":
			if err := setBool(&node.State, v); err != nil {
				return nil, schemaErrorf(file, path+".state", "%v", err)
			}
		case "type":
			if err := setString(&node.Type, v); err != nil {
				return nil, schemaErrorf(file, path+".type", "%v", err)
			}
		case "units":
			if err := setString(&node.Units, v); err != nil {
				return nil, schemaErrorf(file, path+".units", "%v", err)
			}
		case "range":
			r, err := decodeRange(v)
			if err != nil {
				return nil, schemaErrorf(file, path+".range", "%v", err)
			}
			node.Range = r
		case "clamp":
			if err := setBool(&node.Clamp, v); err != nil {
				return nil, schemaErrorf(file, path+".clamp", "%v", err)
			}
		default:
			return nil, schemaErrorf(file, path, "unknown node field %q", key)
		}
	}

	// A node is either a constant (value), a computation (formula), or a
	// stateful computation (formula plus an initial value for its prev
	// slot).
	if node.Value == nil && node.Formula == nil {
		return nil, schemaErrorf(file, path, "node declares neither value nor formula")
	}
	if node.Value != nil && node.Formula != nil && !node.State {
		return nil, schemaErrorf(file, path, "node declares both value and formula; only state nodes take an initial value alongside a formula")
	}
	return node, nil
}

func decodeRange(v any) (*Range, error) {
	list, ok := v.([]any)
	if !ok || len(list) != 2 {
		return nil, errRange
	}
	lo, okLo := list[0].(float64)
	hi, okHi := list[1].(float64)
	if !okLo || !okHi || lo > hi {
		return nil, errRange
	}
	return &Range{Lo: lo, Hi: hi}, nil
}

var errRange = fmtError("must be [lo, hi] with lo <= hi")

func setString(dst *string, v any) error {
	s, ok := v.(string)
	if !ok {
		return fmtError("must be a string")
	}
	*dst = s
	return nil
}

func setBool(dst *bool, v any) error {
	b, ok := v.(bool)
	if !ok {
		return fmtError("must be a boolean")
	}
	*dst = b
	return nil
}

type fmtError string

func (e fmtError) Error() string { return string(e) }

// wrapFormulaError attaches document context to a compile failure while
// keeping the *expr.SyntaxError reachable through errors.As.
func wrapFormulaError(file, path string, err error) error {
	return &formulaError{file: file, path: path, err: err}
}

type formulaError struct {
	file, path string
	err        error
}

func (e *formulaError) Error() string {
	return e.file + ": " + e.path + ": " + e.err.Error()
}

func (e *formulaError) Unwrap() error { return e.err }
