package engine

import (
	"fmt"
	"strings"

	"github.com/roach88/hwml/internal/graph"
)

// Severity grades a diagnostic. Warnings are advisory; faults mark values
// the surrounding system must treat as untrustworthy. Neither stops the
// tick loop.
type Severity string

const (
	SeverityWarning Severity = "warning"
	SeverityFault   Severity = "fault"
)

// DiagnosticCode categorizes runtime diagnostics.
type DiagnosticCode string

const (
	// CodeRangeViolation: a value left its declared range and no clamp
	// was requested. The value is reported unchanged.
	CodeRangeViolation DiagnosticCode = "RANGE_VIOLATION"

	// CodeNonFinite: a formula produced NaN or Inf while allowNaN is
	// off. The value still propagates; the fault marks it.
	CodeNonFinite DiagnosticCode = "NON_FINITE"

	// CodeFault: a formula called fault() explicitly.
	CodeFault DiagnosticCode = "FAULT"

	// CodeEvalError: a formula failed to evaluate. Its node holds NaN
	// for the tick.
	CodeEvalError DiagnosticCode = "EVAL_ERROR"

	// CodeTickOverrun: a tick took longer than maxTickTime.
	CodeTickOverrun DiagnosticCode = "TICK_OVERRUN"

	// CodeAmbiguousFanIn: an input has more than one feeder. Reported
	// once at build; the last feeder in precedence order wins.
	CodeAmbiguousFanIn DiagnosticCode = "AMBIGUOUS_FAN_IN"

	// CodeAdapterError: the hardware adapter failed a read or write.
	CodeAdapterError DiagnosticCode = "ADAPTER_ERROR"
)

// Diagnostic is one runtime finding: which entity, which tick, what
// happened. The engine collects diagnostics per tick instead of halting;
// control loops keep their timing even when a value goes bad.
type Diagnostic struct {
	Code      DiagnosticCode
	Severity  Severity
	Component string // component instance ID, e.g. "main.controller"
	Port      string // node, input or output name; empty for tick-level findings
	Tick      int64
	Message   string
}

func (d Diagnostic) String() string {
	where := d.Component
	if d.Port != "" {
		where += "." + d.Port
	}
	if where == "" {
		return fmt.Sprintf("[%s] tick %d: %s", d.Code, d.Tick, d.Message)
	}
	return fmt.Sprintf("[%s] tick %d %s: %s", d.Code, d.Tick, where, d.Message)
}

// CyclicDependencyError reports a dependency cycle found while building
// either the system graph or a component's node graph. Scope names the
// graph ("system" or a component instance ID) and Path the cycle, first
// vertex repeated at the end.
type CyclicDependencyError struct {
	Scope string
	Path  []string
}

func (e *CyclicDependencyError) Error() string {
	return fmt.Sprintf("%s: dependency cycle: %s", e.Scope, strings.Join(e.Path, " -> "))
}

func cyclicError(scope string, err error) error {
	if ce, ok := err.(*graph.CycleError); ok {
		return &CyclicDependencyError{Scope: scope, Path: ce.Path}
	}
	return err
}

// UnconnectedInputError reports an input with no feeder: no wire, no
// bind, no hardware channel and no default. Load-time fatal.
type UnconnectedInputError struct {
	Component string
	Input     string
}

func (e *UnconnectedInputError) Error() string {
	return fmt.Sprintf("%s: input %q has no source, bind, wiring, hardware channel or default",
		e.Component, e.Input)
}
