// Package schema validates inbound payloads against the strict JSON-Schema
// documents shipped with the engine. Validation failures never mutate
// state; callers quarantine them in the DLQ.
package schema

import (
	"bytes"
	"embed"
	"encoding/json"
	"fmt"

	jsonschema "github.com/santhosh-tekuri/jsonschema/v6"
)

//go:embed schemas/*.schema.json
var schemaFS embed.FS

// Schema names accepted by Validate
const (
	SchemaObservation  = "observation"
	SchemaConfirmation = "confirmation"
	SchemaSignal       = "signal"
	SchemaIntentResult = "intent_result"
)

var schemaNames = []string{
	SchemaObservation,
	SchemaConfirmation,
	SchemaSignal,
	SchemaIntentResult,
}

// Validator compiles the shipped schemas once at startup
type Validator struct {
	compiled map[string]*jsonschema.Schema
}

// NewValidator loads and compiles every shipped schema. A missing or
// uncompilable schema is a fatal startup error.
func NewValidator() (*Validator, error) {
	compiler := jsonschema.NewCompiler()
	compiler.AssertFormat()

	for _, name := range schemaNames {
		data, err := schemaFS.ReadFile("schemas/" + name + ".schema.json")
		if err != nil {
			return nil, fmt.Errorf("failed to read schema %s: %w", name, err)
		}
		doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("failed to parse schema %s: %w", name, err)
		}
		if err := compiler.AddResource(name+".schema.json", doc); err != nil {
			return nil, fmt.Errorf("failed to register schema %s: %w", name, err)
		}
	}

	compiled := make(map[string]*jsonschema.Schema, len(schemaNames))
	for _, name := range schemaNames {
		sch, err := compiler.Compile(name + ".schema.json")
		if err != nil {
			return nil, fmt.Errorf("failed to compile schema %s: %w", name, err)
		}
		compiled[name] = sch
	}

	return &Validator{compiled: compiled}, nil
}

// Validate checks payload against the named schema and returns a flat list
// of human-readable errors; an empty list means the payload is valid.
func (v *Validator) Validate(schemaName string, payload any) ([]string, error) {
	sch, ok := v.compiled[schemaName]
	if !ok {
		return nil, fmt.Errorf("unknown schema: %s", schemaName)
	}

	err := sch.Validate(payload)
	if err == nil {
		return nil, nil
	}

	var verr *jsonschema.ValidationError
	if ve, ok := err.(*jsonschema.ValidationError); ok {
		verr = ve
	} else {
		return []string{err.Error()}, nil
	}

	errs := flatten(verr)
	if len(errs) == 0 {
		errs = []string{verr.Error()}
	}
	return errs, nil
}

// Payload converts a typed struct into the generic form the schema
// compiler validates, round-tripping through JSON.
func Payload(v any) (map[string]any, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payload: %w", err)
	}
	payload := make(map[string]any)
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, fmt.Errorf("failed to unmarshal payload: %w", err)
	}
	return payload, nil
}

// flatten walks the validation error tree and collects leaf messages
func flatten(err *jsonschema.ValidationError) []string {
	if len(err.Causes) == 0 {
		return []string{err.Error()}
	}
	var out []string
	for _, cause := range err.Causes {
		out = append(out, flatten(cause)...)
	}
	return out
}
