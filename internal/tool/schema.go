package tool

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

func jsonschemaReader(schema json.RawMessage) io.Reader {
	return bytes.NewReader(schema)
}

// ValidateArgs compiles a tool's JSON Schema and validates raw call
// arguments against it before dispatch. A tool with an empty schema
// (Parameters() returning nil or "{}") accepts any arguments.
func ValidateArgs(schema, args json.RawMessage) error {
	if len(schema) == 0 {
		return nil
	}

	compiler := jsonschema.NewCompiler()
	const resource = "tool-parameters.json"
	if err := compiler.AddResource(resource, jsonschemaReader(schema)); err != nil {
		return fmt.Errorf("tool: compiling schema: %w", err)
	}
	compiled, err := compiler.Compile(resource)
	if err != nil {
		return fmt.Errorf("tool: compiling schema: %w", err)
	}

	var decoded any
	if len(args) == 0 {
		decoded = map[string]any{}
	} else if err := json.Unmarshal(args, &decoded); err != nil {
		return fmt.Errorf("tool: arguments are not valid JSON: %w", err)
	}

	if err := compiled.Validate(decoded); err != nil {
		return fmt.Errorf("tool: arguments do not match schema: %w", err)
	}
	return nil
}
