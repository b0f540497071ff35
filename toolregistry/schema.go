package toolregistry

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// ArgumentValidator validates a tool's resolved argument map against its
// declared JSON Schema. It is consulted by the Tool Executor immediately
// before calling Tool.Execute, so schema violations are classified and
// returned as ErrInvalidArguments without the tool ever running.
type ArgumentValidator struct {
	schemas map[string]*jsonschema.Schema
}

// NewArgumentValidator constructs an empty validator. Use Compile to
// register a tool's schema.
func NewArgumentValidator() *ArgumentValidator {
	return &ArgumentValidator{schemas: make(map[string]*jsonschema.Schema)}
}

// Compile parses and compiles rawSchema (a JSON Schema document) and
// associates it with toolName for later Validate calls.
func (v *ArgumentValidator) Compile(toolName string, rawSchema []byte) error {
	if len(rawSchema) == 0 {
		return nil
	}
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(rawSchema))
	if err != nil {
		return fmt.Errorf("toolregistry: parse schema for %q: %w", toolName, err)
	}
	resourceID := "mem://tools/" + toolName + "/schema.json"
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(resourceID, doc); err != nil {
		return fmt.Errorf("toolregistry: add schema resource for %q: %w", toolName, err)
	}
	schema, err := compiler.Compile(resourceID)
	if err != nil {
		return fmt.Errorf("toolregistry: compile schema for %q: %w", toolName, err)
	}
	v.schemas[toolName] = schema
	return nil
}

// Validate checks arguments against the compiled schema for toolName. A
// tool with no compiled schema is treated as unconstrained and always
// passes. On failure, Validate returns an *Error with ErrInvalidArguments
// describing the first schema violation.
func (v *ArgumentValidator) Validate(toolName string, arguments map[string]any) *Error {
	schema, ok := v.schemas[toolName]
	if !ok {
		return nil
	}
	// jsonschema validates against values produced by encoding/json
	// decoding (json.Number, not untyped float64, for numeric fields), so
	// round-trip the arguments through JSON to normalize types.
	instance, err := normalizeInstance(arguments)
	if err != nil {
		return NewError(ErrInvalidArguments, fmt.Sprintf("normalize arguments: %v", err))
	}
	if err := schema.Validate(instance); err != nil {
		return NewError(ErrInvalidArguments, err.Error())
	}
	return nil
}

func normalizeInstance(arguments map[string]any) (any, error) {
	raw, err := json.Marshal(arguments)
	if err != nil {
		return nil, err
	}
	return jsonschema.UnmarshalJSON(bytes.NewReader(raw))
}
