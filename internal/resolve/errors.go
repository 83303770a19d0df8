package resolve

import "fmt"

// UnresolvedReferenceError reports an identifier that maps to nothing in
// its scope. Load-time fatal; it names the formula (or wire) and the
// identifier so the author can find the typo.
type UnresolvedReferenceError struct {
	Module    string
	Component string
	Formula   string // formula source or wire reference string
	Ident     string
	Reason    string
}

func (e *UnresolvedReferenceError) Error() string {
	where := e.Module
	if e.Component != "" {
		where += "." + e.Component
	}
	msg := fmt.Sprintf("%s: unresolved reference %q", where, e.Ident)
	if e.Formula != "" {
		msg += fmt.Sprintf(" in %q", e.Formula)
	}
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	return msg
}

// InvalidStateReferenceError reports a prev. reference whose target is not
// a state: true node. Load-time fatal.
type InvalidStateReferenceError struct {
	Module    string
	Component string
	Formula   string
	Ident     string
}

func (e *InvalidStateReferenceError) Error() string {
	return fmt.Sprintf("%s.%s: prev.%s in %q does not reference a state: true node",
		e.Module, e.Component, e.Ident, e.Formula)
}

// MissingParameterError reports a required parameter left unbound at
// module instantiation. Load-time fatal.
type MissingParameterError struct {
	Module   string // instantiating module
	Instance string
	Param    string
}

func (e *MissingParameterError) Error() string {
	return fmt.Sprintf("%s: instance %q does not bind required parameter %q",
		e.Module, e.Instance, e.Param)
}
