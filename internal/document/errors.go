package document

import "fmt"

// SchemaError reports a structurally malformed document: a reserved key
// with the wrong shape, a node declaring both value and formula, an
// unknown field, and so on. Schema errors are load-time fatal.
type SchemaError struct {
	File    string // document file or module name
	Path    string // dotted path to the offending entity, e.g. "pid.nodes.output"
	Message string
}

func (e *SchemaError) Error() string {
	switch {
	case e.File != "" && e.Path != "":
		return fmt.Sprintf("%s: %s: %s", e.File, e.Path, e.Message)
	case e.File != "":
		return fmt.Sprintf("%s: %s", e.File, e.Message)
	}
	return e.Message
}

func schemaErrorf(file, path, format string, args ...any) *SchemaError {
	return &SchemaError{File: file, Path: path, Message: fmt.Sprintf(format, args...)}
}
