package config

import (
	"fmt"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueyaml "cuelang.org/go/encoding/yaml"
)

// documentSchema constrains the shape of a single declaration document.
// Definitions are closed, so an unknown top-level key fails validation with
// the file name attached instead of being silently dropped by the decoder.
const documentSchema = `
#Document: {
	name?:        string
	description?: string
	logging?: {
		level?:  string
		format?: string
		loki?: {
			enabled?: bool
			url?:     string
			labels?: {[string]: string}
		}
	}
	telemetry?: {
		enabled?:  bool
		provider?: string
	}
	modules?: [...string | {
		path:         string
		name?:        string
		description?: string
	}]
	layers?: [...{
		name:    string
		symbols: {[string]: int | float | string}
	}]
	defaults?: {
		name?:   string
		symbols: {[string]: int | float | string}
	}
	derivations?: [...{
		symbol: string
		inputs?: [...string]
		expression: string
	}]
	critical?: [...string]
}
`

func validateDocument(path string, raw []byte) error {
	ctx := cuecontext.New()
	schema := ctx.CompileString(documentSchema)
	if err := schema.Err(); err != nil {
		return fmt.Errorf("compile document schema: %w", err)
	}
	definition := schema.LookupPath(cue.ParsePath("#Document"))
	if err := definition.Err(); err != nil {
		return fmt.Errorf("lookup document schema: %w", err)
	}

	file, err := cueyaml.Extract(path, raw)
	if err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	document := ctx.BuildFile(file)
	if err := document.Err(); err != nil {
		return fmt.Errorf("build config %s: %w", path, err)
	}

	unified := definition.Unify(document)
	if err := unified.Err(); err != nil {
		return fmt.Errorf("config %s: %w", path, err)
	}
	if err := unified.Validate(cue.Concrete(false)); err != nil {
		return fmt.Errorf("config %s: %w", path, err)
	}
	return nil
}
