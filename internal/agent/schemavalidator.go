package agent

import (
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// ValidateStrictToolSchema enforces the strict-mode parameter contract every
// built-in tool's Schema() must satisfy: the schema must itself be
// a well-formed JSON Schema (compiled via jsonschema/v5), and additionally:
//
//   - top level "type" is "object"
//   - "properties" is present
//   - every name in "required" exists in "properties"
//   - "additionalProperties" is either literal false or a type-schema
//   - every "enum" value's type matches its sibling "type"
//   - every property of "type": "array" carries "items"
//
// This is the unit test the process instructions say the implementation
// must keep green; callers (tests in this package and in internal/skills)
// run it against every tool surfaced to a provider.
func ValidateStrictToolSchema(schema json.RawMessage) error {
	if _, err := jsonschema.CompileString("tool-schema", string(schema)); err != nil {
		return fmt.Errorf("schema does not compile: %w", err)
	}

	var doc map[string]any
	if err := json.Unmarshal(schema, &doc); err != nil {
		return fmt.Errorf("schema is not a JSON object: %w", err)
	}

	if t, _ := doc["type"].(string); t != "object" {
		return fmt.Errorf(`top-level "type" must be "object", got %q`, t)
	}

	propsRaw, ok := doc["properties"]
	if !ok {
		return fmt.Errorf(`"properties" is required`)
	}
	props, ok := propsRaw.(map[string]any)
	if !ok {
		return fmt.Errorf(`"properties" must be an object`)
	}

	if reqRaw, ok := doc["required"]; ok {
		req, ok := reqRaw.([]any)
		if !ok {
			return fmt.Errorf(`"required" must be an array`)
		}
		for _, r := range req {
			name, ok := r.(string)
			if !ok {
				return fmt.Errorf(`"required" entries must be strings`)
			}
			if _, present := props[name]; !present {
				return fmt.Errorf(`required key %q is not in "properties"`, name)
			}
		}
	}

	if apRaw, ok := doc["additionalProperties"]; ok {
		switch v := apRaw.(type) {
		case bool:
			if v {
				return fmt.Errorf(`"additionalProperties" must be false or a type-schema, not true`)
			}
		case map[string]any:
			if _, ok := v["type"]; !ok {
				return fmt.Errorf(`"additionalProperties" schema must declare a "type"`)
			}
		default:
			return fmt.Errorf(`"additionalProperties" must be a boolean or a schema object`)
		}
	}

	for name, raw := range props {
		prop, ok := raw.(map[string]any)
		if !ok {
			return fmt.Errorf("property %q must be a schema object", name)
		}
		if err := validateStrictProperty(name, prop); err != nil {
			return err
		}
	}

	return nil
}

func validateStrictProperty(name string, prop map[string]any) error {
	propType, _ := prop["type"].(string)

	if enumRaw, ok := prop["enum"]; ok {
		enum, ok := enumRaw.([]any)
		if !ok {
			return fmt.Errorf("property %q: \"enum\" must be an array", name)
		}
		for _, v := range enum {
			if !enumValueMatchesType(v, propType) {
				return fmt.Errorf("property %q: enum value %v does not match declared type %q", name, v, propType)
			}
		}
	}

	if propType == "array" {
		if _, ok := prop["items"]; !ok {
			return fmt.Errorf("property %q: array schema must declare \"items\"", name)
		}
	}

	return nil
}

func enumValueMatchesType(v any, declaredType string) bool {
	switch declaredType {
	case "string":
		_, ok := v.(string)
		return ok
	case "integer":
		n, ok := v.(float64)
		return ok && n == float64(int64(n))
	case "number":
		_, ok := v.(float64)
		return ok
	case "boolean":
		_, ok := v.(bool)
		return ok
	case "":
		// No declared type alongside the enum: any JSON value is allowed.
		return true
	default:
		return false
	}
}
