package genai

// Schema is the subset of the OpenAPI schema object accepted as a
// responseSchema by generateContent.
type Schema struct {
	Type        string             `json:"type"`
	Description string             `json:"description,omitempty"`
	Enum        []string           `json:"enum,omitempty"`
	Items       *Schema            `json:"items,omitempty"`
	Properties  map[string]*Schema `json:"properties,omitempty"`
	Required    []string           `json:"required,omitempty"`
}

const (
	TypeString  = "STRING"
	TypeBoolean = "BOOLEAN"
	TypeArray   = "ARRAY"
	TypeObject  = "OBJECT"
)

func String(description string) *Schema {
	return &Schema{Type: TypeString, Description: description}
}

func Enum(values ...string) *Schema {
	return &Schema{Type: TypeString, Enum: values}
}

func Boolean() *Schema {
	return &Schema{Type: TypeBoolean}
}

func StringArray() *Schema {
	return &Schema{Type: TypeArray, Items: &Schema{Type: TypeString}}
}
