package llm

// Type is a JSON schema type name.
type Type string

const (
	TypeObject  Type = "object"
	TypeArray   Type = "array"
	TypeString  Type = "string"
	TypeInteger Type = "integer"
	TypeNumber  Type = "number"
	TypeBoolean Type = "boolean"
)

// Schema describes the shape structured generation must return. It is a
// small subset of JSON schema that every backend can express.
type Schema struct {
	Type        Type               `json:"type"`
	Description string             `json:"description,omitempty"`
	Properties  map[string]*Schema `json:"properties,omitempty"`
	Required    []string           `json:"required,omitempty"`
	Items       *Schema            `json:"items,omitempty"`
	MaxItems    *int64             `json:"maxItems,omitempty"`
}

// StringArray is a bounded list of strings. max <= 0 leaves it unbounded.
func StringArray(description string, max int) *Schema {
	s := &Schema{Type: TypeArray, Description: description, Items: &Schema{Type: TypeString}}
	if max > 0 {
		n := int64(max)
		s.MaxItems = &n
	}
	return s
}

// Object builds an object schema requiring every listed property.
func Object(props map[string]*Schema, required ...string) *Schema {
	return &Schema{Type: TypeObject, Properties: props, Required: required}
}
