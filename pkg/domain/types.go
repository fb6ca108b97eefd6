package domain

// Built-in type names.
const (
	TypeAny     = "any"
	TypeTrigger = "trigger"
	TypeString  = "string"
	TypeNumber  = "number"
	TypeInteger = "integer"
	TypeBoolean = "boolean"
	TypeObject  = "object"
	TypeArray   = "array"
)

// TypeDefinition declares a named data type.
type TypeDefinition struct {
	Name        string            `json:"name" yaml:"name"`
	Base        string            `json:"base,omitempty" yaml:"base,omitempty"`
	Description string            `json:"description,omitempty" yaml:"description,omitempty"`
	Display     map[string]string `json:"display,omitempty" yaml:"display,omitempty"`
}

// TypeRule allows values of From to flow into ports of any type in To.
type TypeRule struct {
	From          string   `json:"from" yaml:"from"`
	To            []string `json:"to" yaml:"to"`
	Bidirectional bool     `json:"bidirectional,omitempty" yaml:"bidirectional,omitempty"`
}

// TypeSystem is the on-disk form of a set of types and rules.
type TypeSystem struct {
	Types []TypeDefinition `json:"types" yaml:"types"`
	Rules []TypeRule       `json:"rules,omitempty" yaml:"rules,omitempty"`
}
