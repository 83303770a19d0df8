package document

import (
	"fmt"
	"strings"
	"time"

	"github.com/roach88/hwml/internal/expr"
)

// DecodeFile parses one .hwml.json file into its module and document-level
// blocks. name becomes the module name (by convention the relative file
// path without extension). The file is vetted against the document schema
// first, then decoded structurally; formulas are compiled as they are
// encountered, so a malformed formula fails the load here.
func DecodeFile(name string, data []byte) (*File, error) {
	if err := Vet(name, data); err != nil {
		return nil, err
	}

	raw, err := parseRaw(data)
	if err != nil {
		return nil, schemaErrorf(name, "", "invalid JSON: %v", err)
	}
	root, ok := raw.(*obj)
	if !ok {
		return nil, schemaErrorf(name, "", "document root must be a JSON object")
	}

	file := &File{Module: &Module{Name: name}}
	for _, key := range root.keys {
		val := root.fields[key]
		switch key {
		case KeyMeta:
			meta, ok := val.(*obj)
			if !ok {
				return nil, schemaErrorf(name, KeyMeta, "must be an object")
			}
			file.Meta = plainMap(meta)
		case KeyConfig:
			cfg, err := decodeConfig(name, val)
			if err != nil {
				return nil, err
			}
			file.Config = cfg
		case KeyTypes:
			// Type/unit declarations feed the optional dimensional
			// checker, which is advisory and external to the runtime.
			if _, ok := val.(*obj); !ok {
				return nil, schemaErrorf(name, KeyTypes, "must be an object")
			}
		case KeyImports:
			imports, err := decodeImports(name, val)
			if err != nil {
				return nil, err
			}
			file.Module.Imports = imports
		case KeyParams:
			params, err := decodeParams(name, val)
			if err != nil {
				return nil, err
			}
			file.Module.Params = params
		case KeyModules:
			instances, err := decodeInstances(name, val)
			if err != nil {
				return nil, err
			}
			file.Module.Instances = instances
		case KeyWiring:
			wiring, err := decodeWiring(name, KeyWiring, val)
			if err != nil {
				return nil, err
			}
			file.Module.Wiring = wiring
		default:
			comp, err := decodeComponent(name, key, val)
			if err != nil {
				return nil, err
			}
			file.Module.Components = append(file.Module.Components, comp)
		}
	}
	return file, nil
}

func decodeConfig(file string, val any) (*Config, error) {
	o, ok := val.(*obj)
	if !ok {
		return nil, schemaErrorf(file, KeyConfig, "must be an object")
	}
	cfg := DefaultConfig()
	for _, key := range o.keys {
		v := o.fields[key]
		path := KeyConfig + "." + key
		switch key {
		case "tickRate":
			f, ok := v.(float64)
			if !ok || f <= 0 {
				return nil, schemaErrorf(file, path, "must be a positive number (Hz)")
			}
			cfg.TickRate = f
		case "maxTickTime":
			f, ok := v.(float64)
			if !ok || f < 0 {
				return nil, schemaErrorf(file, path, "must be a non-negative number (milliseconds)")
			}
			cfg.MaxTickTime = time.Duration(f * float64(time.Millisecond))
		case "allowNaN":
			b, ok := v.(bool)
			if !ok {
				return nil, schemaErrorf(file, path, "must be a boolean")
			}
			cfg.AllowNaN = b
		case "logLevel":
			s, ok := v.(string)
			if !ok {
				return nil, schemaErrorf(file, path, "must be a string")
			}
			switch s {
			case "debug", "info", "warn", "error":
				cfg.LogLevel = s
			default:
				return nil, schemaErrorf(file, path, "must be one of debug, info, warn, error")
			}
		case "simMode":
			b, ok := v.(bool)
			if !ok {
				return nil, schemaErrorf(file, path, "must be a boolean")
			}
			cfg.SimMode = b
		case "simBindings":
			bindings, ok := v.(*obj)
			if !ok {
				return nil, schemaErrorf(file, path, "must be an object mapping inputs to simulated outputs")
			}
			for _, to := range bindings.keys {
				from, ok := bindings.fields[to].(string)
				if !ok {
					return nil, schemaErrorf(file, path+"."+to, "must be a reference string")
				}
				cfg.SimBindings = append(cfg.SimBindings, Wire{From: from, To: to})
			}
		case "measuredDt":
			b, ok := v.(bool)
			if !ok {
				return nil, schemaErrorf(file, path, "must be a boolean")
			}
			cfg.MeasuredDt = b
		default:
			return nil, schemaErrorf(file, path, "unknown config option")
		}
	}
	return &cfg, nil
}

func decodeImports(file string, val any) ([]*Import, error) {
	list, ok := val.([]any)
	if !ok {
		return nil, schemaErrorf(file, KeyImports, "must be a list")
	}
	var imports []*Import
	for i, entry := range list {
		path := fmt.Sprintf("%s[%d]", KeyImports, i)
		switch e := entry.(type) {
		case string:
			// A bare path imports under its last segment.
			segs := strings.Split(e, "/")
			imports = append(imports, &Import{Alias: segs[len(segs)-1], Path: e})
		case *obj:
			p, _ := e.get("path")
			ps, ok := p.(string)
			if !ok || ps == "" {
				return nil, schemaErrorf(file, path, "import object requires a path")
			}
			alias := ""
			if a, ok := e.get("as"); ok {
				alias, ok = a.(string)
				if !ok || alias == "" {
					return nil, schemaErrorf(file, path, "import alias must be a non-empty string")
				}
			} else {
				segs := strings.Split(ps, "/")
				alias = segs[len(segs)-1]
			}
			for _, key := range e.keys {
				if key != "path" && key != "as" {
					return nil, schemaErrorf(file, path, "unknown import field %q", key)
				}
			}
			imports = append(imports, &Import{Alias: alias, Path: ps})
		default:
			return nil, schemaErrorf(file, path, "must be a path string or {path, as} object")
		}
	}
	return imports, nil
}

func decodeParams(file string, val any) ([]*Param, error) {
	o, ok := val.(*obj)
	if !ok {
		return nil, schemaErrorf(file, KeyParams, "must be an object")
	}
	var params []*Param
	for _, name := range o.keys {
		path := KeyParams + "." + name
		body, ok := o.fields[name].(*obj)
		if !ok {
			return nil, schemaErrorf(file, path, "must be an object")
		}
		p := &Param{Name: name}
		for _, key := range body.keys {
			v := body.fields[key]
			switch key {
			case "type":
				s, ok := v.(string)
				if !ok {
					return nil, schemaErrorf(file, path+".type", "must be a string")
				}
				p.Type = s
			case "default":
				lit, err := literalValue(v)
				if err != nil {
					return nil, schemaErrorf(file, path+".default", "%v", err)
				}
				p.Default = lit
			case "required":
				b, ok := v.(bool)
				if !ok {
					return nil, schemaErrorf(file, path+".required", "must be a boolean")
				}
				p.Required = b
			default:
				return nil, schemaErrorf(file, path, "unknown parameter field %q", key)
			}
		}
		if p.Required && p.Default != nil {
			return nil, schemaErrorf(file, path, "a parameter cannot be both required and defaulted")
		}
		if !p.Required && p.Default == nil {
			return nil, schemaErrorf(file, path, "a parameter needs a default or required: true")
		}
		params = append(params, p)
	}
	return params, nil
}

func decodeInstances(file string, val any) ([]*Instance, error) {
	o, ok := val.(*obj)
	if !ok {
		return nil, schemaErrorf(file, KeyModules, "must be an object")
	}
	var instances []*Instance
	for _, name := range o.keys {
		path := KeyModules + "." + name
		body, ok := o.fields[name].(*obj)
		if !ok {
			return nil, schemaErrorf(file, path, "must be an object")
		}
		inst := &Instance{Name: name}
		for _, key := range body.keys {
			v := body.fields[key]
			switch key {
			case "use":
				s, ok := v.(string)
				if !ok || s == "" {
					return nil, schemaErrorf(file, path+".use", "must be a module path")
				}
				inst.Use = s
			case "config":
				cfg, ok := v.(*obj)
				if !ok {
					return nil, schemaErrorf(file, path+".config", "must be an object")
				}
				for _, param := range cfg.keys {
					binding := ConfigBinding{Param: param}
					raw := cfg.fields[param]
					if s, ok := raw.(string); ok && strings.HasPrefix(s, "$") {
						// "$name" binds to a parameter of the enclosing module.
						binding.Ref = strings.TrimPrefix(s, "$")
					} else {
						lit, err := literalValue(raw)
						if err != nil {
							return nil, schemaErrorf(file, path+".config."+param, "%v", err)
						}
						binding.Value = lit
					}
					inst.Config = append(inst.Config, binding)
				}
			case "bind":
				bind, ok := v.(*obj)
				if !ok {
					return nil, schemaErrorf(file, path+".bind", "must be an object mapping instance inputs to sources")
				}
				for _, to := range bind.keys {
					from, ok := bind.fields[to].(string)
					if !ok {
						return nil, schemaErrorf(file, path+".bind."+to, "must be a reference string")
					}
					inst.Bind = append(inst.Bind, Wire{From: from, To: to})
				}
			default:
				return nil, schemaErrorf(file, path, "unknown instance field %q", key)
			}
		}
		if inst.Use == "" {
			return nil, schemaErrorf(file, path, "instance requires a use: module path")
		}
		instances = append(instances, inst)
	}
	return instances, nil
}

func decodeWiring(file, path string, val any) ([]Wire, error) {
	list, ok := val.([]any)
	if !ok {
		return nil, schemaErrorf(file, path, "must be a list of {from, to} edges")
	}
	var wiring []Wire
	for i, entry := range list {
		epath := fmt.Sprintf("%s[%d]", path, i)
		o, ok := entry.(*obj)
		if !ok {
			return nil, schemaErrorf(file, epath, "must be an object")
		}
		var w Wire
		for _, key := range o.keys {
			v := o.fields[key]
			s, ok := v.(string)
			if !ok {
				return nil, schemaErrorf(file, epath+"."+key, "must be a string")
			}
			switch key {
			case "from":
				w.From = s
			case "to":
				w.To = s
			case "transform":
				w.Transform = s
			default:
				return nil, schemaErrorf(file, epath, "unknown wiring field %q", key)
			}
		}
		if w.From == "" || w.To == "" {
			return nil, schemaErrorf(file, epath, "wiring edge requires from and to")
		}
		wiring = append(wiring, w)
	}
	return wiring, nil
}

// literalValue converts a raw JSON scalar into a runtime value.
func literalValue(v any) (*expr.Value, error) {
	switch t := v.(type) {
	case float64:
		val := expr.Number(t)
		return &val, nil
	case bool:
		val := expr.Bool(t)
		return &val, nil
	case string:
		val := expr.String(t)
		return &val, nil
	}
	return nil, fmt.Errorf("must be a number, boolean, or string literal")
}

// plainMap strips ordering metadata for opaque blocks (hw properties,
// _meta) that the runtime passes through verbatim.
func plainMap(o *obj) map[string]any {
	out := make(map[string]any, len(o.keys))
	for _, k := range o.keys {
		out[k] = plain(o.fields[k])
	}
	return out
}

func plain(v any) any {
	switch t := v.(type) {
	case *obj:
		return plainMap(t)
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = plain(e)
		}
		return out
	}
	return v
}
