package mcptool

import "encoding/json"

// NormalizeSchema coerces a tool input schema into the strict shape the
// Responses API accepts for function tools: an object schema with a
// properties map and additionalProperties disabled. Untyped properties
// become objects; non-map properties become plain strings. The input is
// never mutated and the function is idempotent.
func NormalizeSchema(schema any) map[string]any {
	normalized, ok := deepCopy(schema).(map[string]any)
	if !ok {
		normalized = map[string]any{}
	}

	if normalized["type"] == nil {
		normalized["type"] = "object"
	}

	props, ok := normalized["properties"].(map[string]any)
	if !ok {
		props = map[string]any{}
	}
	normalized["properties"] = props

	for key, raw := range props {
		prop, ok := raw.(map[string]any)
		if !ok {
			props[key] = map[string]any{"type": "string"}
			continue
		}
		if !hasAnyKey(prop, "type", "anyOf", "oneOf", "allOf") {
			prop["type"] = "object"
		}
		if prop["type"] == "object" {
			if _, ok := prop["properties"].(map[string]any); !ok {
				prop["properties"] = map[string]any{}
			}
			prop["additionalProperties"] = false
		}
	}

	normalized["additionalProperties"] = false
	return normalized
}

func hasAnyKey(m map[string]any, keys ...string) bool {
	for _, k := range keys {
		if _, ok := m[k]; ok {
			return true
		}
	}
	return false
}

// deepCopy clones JSON-shaped data through a marshal round trip.
func deepCopy(value any) any {
	if value == nil {
		return nil
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return nil
	}
	var out any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil
	}
	return out
}
