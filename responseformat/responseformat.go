// Package responseformat builds response-format parsers that validate model
// output against a caller-supplied JSON schema.
package responseformat

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Parser validates one response content string against a schema. It returns
// the content as a raw JSON message on success, or a list of validation
// errors on mismatch. Exactly one return value is non-empty.
type Parser func(content string) (json.RawMessage, []string)

// NewSchemaParser compiles an opaque JSON-schema blob into a Parser. The
// schema itself is never interpreted by the orchestrator beyond compilation.
func NewSchemaParser(schema json.RawMessage) (Parser, error) {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("output_schema.json", bytes.NewReader(schema)); err != nil {
		return nil, fmt.Errorf("failed to load response format schema: %w", err)
	}
	compiled, err := compiler.Compile("output_schema.json")
	if err != nil {
		return nil, fmt.Errorf("failed to compile response format schema: %w", err)
	}

	return func(content string) (json.RawMessage, []string) {
		var value any
		if err := json.Unmarshal([]byte(content), &value); err != nil {
			return nil, []string{fmt.Sprintf("response is not valid JSON: %v", err)}
		}
		if err := compiled.Validate(value); err != nil {
			return nil, []string{fmt.Sprintf("response does not match output schema: %v", err)}
		}
		return json.RawMessage(content), nil
	}, nil
}
