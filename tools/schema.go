// Package tools builds the JSON schemas and tool definitions used to force
// structured output from the classification model.
package tools

// Schema is a JSON Schema fragment.
type Schema map[string]any

// Object returns an object schema over props. Listed names are required.
func Object(props map[string]Schema, required ...string) Schema {
	s := Schema{"type": "object", "properties": props}
	if len(required) > 0 {
		s["required"] = required
	}
	return s
}

// String is a described string.
func String(description string) Schema {
	return Schema{"type": "string", "description": description}
}

// Enum is a string restricted to values.
func Enum(description string, values ...string) Schema {
	return Schema{"type": "string", "description": description, "enum": values}
}

// Score is a number in [0, 1].
func Score(description string) Schema {
	return Schema{"type": "number", "description": description, "minimum": 0, "maximum": 1}
}

// WeightMap is an object of free-form labels mapped to scores.
func WeightMap(description string) Schema {
	return Schema{
		"type":                 "object",
		"description":          description,
		"additionalProperties": Score("Weight of this label"),
	}
}

// List is an array of items.
func List(description string, items Schema) Schema {
	return Schema{"type": "array", "description": description, "items": items}
}

// Properties returns the properties of an object schema, or nil.
func (s Schema) Properties() map[string]Schema {
	props, _ := s["properties"].(map[string]Schema)
	return props
}

// Required returns the required property names of an object schema.
func (s Schema) Required() []string {
	req, _ := s["required"].([]string)
	return req
}

// WithReasoning returns a copy of the object schema with a free-text
// "reasoning" property the model can think in before scoring. The receiver
// is not modified.
func (s Schema) WithReasoning(required bool) Schema {
	out := make(Schema, len(s))
	for k, v := range s {
		out[k] = v
	}

	props := make(map[string]Schema, len(s.Properties())+1)
	for k, v := range s.Properties() {
		props[k] = v
	}
	props["reasoning"] = String("Why you chose these values. Not stored.")
	out["properties"] = props

	if required {
		out["required"] = append(append([]string(nil), s.Required()...), "reasoning")
	}
	return out
}
