package inference

import "google.golang.org/genai"

// Helpers for building response schemas. Property order follows the
// argument order so the model emits fields predictably.

// Field is a named schema property.
type Field struct {
	Name     string
	Schema   *genai.Schema
	Optional bool
}

// Object builds an object schema; fields are required unless marked
// Optional.
func Object(fields ...Field) *genai.Schema {
	s := &genai.Schema{Type: genai.TypeObject, Properties: make(map[string]*genai.Schema, len(fields))}
	for _, f := range fields {
		s.Properties[f.Name] = f.Schema
		s.PropertyOrdering = append(s.PropertyOrdering, f.Name)
		if !f.Optional {
			s.Required = append(s.Required, f.Name)
		}
	}
	return s
}

func String(description string) *genai.Schema {
	return &genai.Schema{Type: genai.TypeString, Description: description}
}

func Enum(description string, values ...string) *genai.Schema {
	return &genai.Schema{Type: genai.TypeString, Description: description, Enum: values}
}

func Boolean(description string) *genai.Schema {
	return &genai.Schema{Type: genai.TypeBoolean, Description: description}
}

// Number is a numeric schema bounded to [min, max].
func Number(description string, min, max float64) *genai.Schema {
	return &genai.Schema{Type: genai.TypeNumber, Description: description, Minimum: genai.Ptr(min), Maximum: genai.Ptr(max)}
}

// NullableNumber is a non-negative number the model may leave null.
func NullableNumber(description string) *genai.Schema {
	return &genai.Schema{Type: genai.TypeNumber, Description: description, Minimum: genai.Ptr(0.0), Nullable: genai.Ptr(true)}
}

func ArrayOf(description string, items *genai.Schema) *genai.Schema {
	return &genai.Schema{Type: genai.TypeArray, Description: description, Items: items}
}
