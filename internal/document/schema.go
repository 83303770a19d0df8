package document

import (
	_ "embed"
	"fmt"
	"sync"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	cuejson "cuelang.org/go/encoding/json"
)

//go:embed schema.cue
var schemaSource string

var (
	schemaOnce sync.Once
	schemaCtx  *cue.Context
	schemaVal  cue.Value
	schemaErr  error
)

func compiledSchema() (*cue.Context, cue.Value, error) {
	schemaOnce.Do(func() {
		schemaCtx = cuecontext.New()
		root := schemaCtx.CompileString(schemaSource, cue.Filename("schema.cue"))
		if err := root.Err(); err != nil {
			schemaErr = fmt.Errorf("compiling document schema: %w", err)
			return
		}
		schemaVal = root.LookupPath(cue.ParsePath("#File"))
		if err := schemaVal.Err(); err != nil {
			schemaErr = fmt.Errorf("looking up #File schema: %w", err)
		}
	})
	return schemaCtx, schemaVal, schemaErr
}

// Vet checks a raw document file against the structural schema. A failure
// is reported as a *SchemaError carrying the first offending position.
func Vet(name string, data []byte) error {
	ctx, schema, err := compiledSchema()
	if err != nil {
		return err
	}

	fileAST, err := cuejson.Extract(name, data)
	if err != nil {
		return schemaErrorf(name, "", "invalid JSON: %v", err)
	}
	docVal := ctx.BuildExpr(fileAST)
	if err := docVal.Err(); err != nil {
		return schemaErrorf(name, "", "building document value: %v", err)
	}

	unified := schema.Unify(docVal)
	if err := unified.Validate(cue.Final()); err != nil {
		return toSchemaError(name, err)
	}
	return nil
}

func toSchemaError(name string, err error) *SchemaError {
	list := cueerrors.Errors(err)
	if len(list) == 0 {
		return schemaErrorf(name, "", "%v", err)
	}
	first := list[0]
	path := ""
	if p := first.Path(); len(p) > 0 {
		for i, seg := range p {
			if i > 0 {
				path += "."
			}
			path += seg
		}
	}
	msg := first.Error()
	if pos := first.Position(); pos.IsValid() {
		msg = fmt.Sprintf("%s (line %d)", msg, pos.Line())
	}
	return &SchemaError{File: name, Path: path, Message: msg}
}
