package config

import (
	"fmt"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/errors"
)

// CUEParser evaluates CUE (and JSON, a subset of CUE) manifests against
// the manifest schema.
type CUEParser struct {
	ctx    *cue.Context
	schema cue.Value
}

// NewCUEParser creates a parser with the manifest schema compiled.
func NewCUEParser() *CUEParser {
	ctx := cuecontext.New()
	schema := ctx.CompileString(manifestSchema, cue.Filename("manifest.schema.cue"))
	if err := schema.Err(); err != nil {
		panic(fmt.Sprintf("config: invalid manifest schema: %v", err))
	}
	return &CUEParser{
		ctx:    ctx,
		schema: schema.LookupPath(cue.ParsePath("#Manifest")),
	}
}

// Parse evaluates data, unifies it with the schema and decodes the result.
func (cp *CUEParser) Parse(source string, data []byte) (*Manifest, error) {
	val := cp.ctx.CompileBytes(data, cue.Filename(source))
	if err := val.Err(); err != nil {
		return nil, &LoadError{Source: source, Errors: convertCUEErrors(err)}
	}

	unified := cp.schema.Unify(val)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return nil, &LoadError{Source: source, Errors: convertCUEErrors(err)}
	}

	var m Manifest
	if err := unified.Decode(&m); err != nil {
		return nil, &LoadError{Source: source, Errors: convertCUEErrors(err)}
	}
	return finish(source, &m)
}

// ParseCUE parses an inline CUE manifest.
func ParseCUE(source string, data []byte) (*Manifest, error) {
	return NewCUEParser().Parse(source, data)
}

// convertCUEErrors converts CUE errors to ValidationError slice.
func convertCUEErrors(err error) []ValidationError {
	var validationErrors []ValidationError

	for _, e := range errors.Errors(err) {
		ve := ValidationError{
			Path:    strings.Join(e.Path(), "."),
			Message: errors.Details(e, nil),
		}
		if pos := errors.Positions(e); len(pos) > 0 {
			ve.File = pos[0].Filename()
			ve.Line = pos[0].Line()
			ve.Column = pos[0].Column()
		}
		validationErrors = append(validationErrors, ve)
	}

	return validationErrors
}
