package tenant

import (
	"fmt"

	"github.com/xeipuuv/gojsonschema"
)

// Schema returns the compiled parameters schema. Tools parsed from a
// document carry the full schema as written; tools built in code get one
// derived from Parameters.
func (t *ToolDefinition) Schema() (*gojsonschema.Schema, error) {
	if t.schema != nil {
		return t.schema, nil
	}
	return compileSchema(t.Name, t.Parameters.toMap())
}

// compileParameters compiles raw, or the typed Parameters when raw is nil,
// and keeps the result on the tool.
func (t *ToolDefinition) compileParameters(raw map[string]any) error {
	if raw == nil {
		raw = t.Parameters.toMap()
	}
	schema, err := compileSchema(t.Name, raw)
	if err != nil {
		return err
	}
	t.schema = schema
	return nil
}

func compileSchema(tool string, raw map[string]any) (*gojsonschema.Schema, error) {
	schema, err := gojsonschema.NewSchema(gojsonschema.NewGoLoader(withDefaultTypes(raw)))
	if err != nil {
		return nil, fmt.Errorf("tool %s: invalid parameters schema: %w", tool, err)
	}
	return schema, nil
}

// withDefaultTypes applies the same defaults as SetDefaults: the root is an
// object and untyped properties are strings.
func withDefaultTypes(raw map[string]any) map[string]any {
	out := make(map[string]any, len(raw)+1)
	for k, v := range raw {
		out[k] = v
	}
	if _, ok := out["type"]; !ok {
		out["type"] = TypeObject
	}

	props, ok := out["properties"].(map[string]any)
	if !ok {
		return out
	}
	typed := make(map[string]any, len(props))
	for name, p := range props {
		prop, ok := p.(map[string]any)
		if !ok || hasTypeKeyword(prop) {
			typed[name] = p
			continue
		}
		cp := make(map[string]any, len(prop)+1)
		for k, v := range prop {
			cp[k] = v
		}
		cp["type"] = TypeString
		typed[name] = cp
	}
	out["properties"] = typed
	return out
}

func hasTypeKeyword(prop map[string]any) bool {
	for _, k := range []string{"type", "$ref", "anyOf", "oneOf", "allOf"} {
		if _, ok := prop[k]; ok {
			return true
		}
	}
	return false
}

func (s ParameterSchema) toMap() map[string]any {
	props := make(map[string]any, len(s.Properties))
	for name, p := range s.Properties {
		prop := map[string]any{}
		if p.Type != "" {
			prop["type"] = p.Type
		}
		if p.Description != "" {
			prop["description"] = p.Description
		}
		if len(p.Enum) > 0 {
			prop["enum"] = p.Enum
		}
		props[name] = prop
	}

	out := map[string]any{"properties": props}
	if s.Type != "" {
		out["type"] = s.Type
	}
	if len(s.Required) > 0 {
		out["required"] = s.Required
	}
	return out
}

// rawParameters returns the parameters object of the i-th tool in a parsed
// document, or nil.
func rawParameters(raw map[string]any, i int) map[string]any {
	tools, _ := raw["tools"].([]any)
	if i >= len(tools) {
		return nil
	}
	tool, _ := tools[i].(map[string]any)
	params, _ := tool["parameters"].(map[string]any)
	return params
}
