// Package schema describes function parameter and return shapes as a closed
// set of node types and validates values against them.
//
// Invariants:
// - A Schema node has exactly one Type; fields that do not apply to that Type are rejected by CheckShape.
// - Object properties keep declaration order, which doubles as positional argument order.
//
// Usage:
//
//	params := schema.Object(schema.Required("text", schema.String("text to transform")))
//	if err := schema.CheckShape(params); err != nil { ... }
//	err := schema.NewJSONSchemaValidator().Validate(map[string]interface{}{"text": "hi"}, params)
package schema

import (
	"errors"
	"fmt"
)

// Type is the tag of a schema node
type Type string

const (
	TypeObject  Type = "object"
	TypeArray   Type = "array"
	TypeString  Type = "string"
	TypeNumber  Type = "number"
	TypeInteger Type = "integer"
	TypeBoolean Type = "boolean"
	TypeNull    Type = "null"
	TypeAny     Type = "any"
)

var validTypes = map[Type]bool{
	TypeObject: true, TypeArray: true, TypeString: true, TypeNumber: true,
	TypeInteger: true, TypeBoolean: true, TypeNull: true, TypeAny: true,
}

// ErrInvalidSchema is returned (wrapped) for structurally malformed schemas
var ErrInvalidSchema = errors.New("invalid schema")

// Schema is one node of a parameter or return shape
type Schema struct {
	Type        Type   `json:"type"`
	Description string `json:"description,omitempty"`

	// Object
	Properties           []Property `json:"properties,omitempty"`
	AdditionalProperties bool       `json:"additional_properties,omitempty"`

	// Array: either Items (homogeneous) or Tuple (positional)
	Items    *Schema   `json:"items,omitempty"`
	Tuple    []*Schema `json:"tuple,omitempty"`
	MinItems *int      `json:"min_items,omitempty"`
	MaxItems *int      `json:"max_items,omitempty"`

	// Scalars
	Enum []interface{} `json:"enum,omitempty"`
}

// Property is a named member of an object schema
type Property struct {
	Name     string  `json:"name"`
	Schema   *Schema `json:"schema"`
	Required bool    `json:"required"`
}

// Object builds an object schema from ordered properties
func Object(props ...Property) *Schema {
	return &Schema{Type: TypeObject, Properties: props}
}

// Required declares a required object property
func Required(name string, s *Schema) Property {
	return Property{Name: name, Schema: s, Required: true}
}

// Optional declares an optional object property
func Optional(name string, s *Schema) Property {
	return Property{Name: name, Schema: s}
}

// String builds a string schema
func String(description string) *Schema {
	return &Schema{Type: TypeString, Description: description}
}

// Number builds a number schema
func Number(description string) *Schema {
	return &Schema{Type: TypeNumber, Description: description}
}

// Integer builds an integer schema
func Integer(description string) *Schema {
	return &Schema{Type: TypeInteger, Description: description}
}

// Boolean builds a boolean schema
func Boolean(description string) *Schema {
	return &Schema{Type: TypeBoolean, Description: description}
}

// Array builds a homogeneous array schema
func Array(items *Schema) *Schema {
	return &Schema{Type: TypeArray, Items: items}
}

// Any matches every value
func Any() *Schema {
	return &Schema{Type: TypeAny}
}

// Property returns the named property, if declared
func (s *Schema) Property(name string) (Property, bool) {
	for _, p := range s.Properties {
		if p.Name == name {
			return p, true
		}
	}
	return Property{}, false
}

// CheckShape validates the structure of a schema tree.
func CheckShape(s *Schema) error {
	return checkShape(s, "$")
}

func checkShape(s *Schema, path string) error {
	if s == nil {
		return fmt.Errorf("%w: %s: schema is nil", ErrInvalidSchema, path)
	}
	if !validTypes[s.Type] {
		return fmt.Errorf("%w: %s: unknown type %q", ErrInvalidSchema, path, s.Type)
	}

	if s.Type != TypeObject && (len(s.Properties) > 0 || s.AdditionalProperties) {
		return fmt.Errorf("%w: %s: properties are only valid on objects", ErrInvalidSchema, path)
	}
	if s.Type != TypeArray && (s.Items != nil || len(s.Tuple) > 0 || s.MinItems != nil || s.MaxItems != nil) {
		return fmt.Errorf("%w: %s: items are only valid on arrays", ErrInvalidSchema, path)
	}

	switch s.Type {
	case TypeObject:
		seen := make(map[string]bool, len(s.Properties))
		for _, p := range s.Properties {
			if p.Name == "" {
				return fmt.Errorf("%w: %s: property name cannot be empty", ErrInvalidSchema, path)
			}
			if seen[p.Name] {
				return fmt.Errorf("%w: %s: duplicate property %q", ErrInvalidSchema, path, p.Name)
			}
			seen[p.Name] = true
			if err := checkShape(p.Schema, path+"."+p.Name); err != nil {
				return err
			}
		}
	case TypeArray:
		if s.Items != nil && len(s.Tuple) > 0 {
			return fmt.Errorf("%w: %s: items and tuple are mutually exclusive", ErrInvalidSchema, path)
		}
		if s.Items != nil {
			if err := checkShape(s.Items, path+"[]"); err != nil {
				return err
			}
		}
		for i, item := range s.Tuple {
			if err := checkShape(item, fmt.Sprintf("%s[%d]", path, i)); err != nil {
				return err
			}
		}
		if s.MinItems != nil && *s.MinItems < 0 {
			return fmt.Errorf("%w: %s: min_items must be >= 0", ErrInvalidSchema, path)
		}
		if s.MinItems != nil && s.MaxItems != nil && *s.MinItems > *s.MaxItems {
			return fmt.Errorf("%w: %s: min_items exceeds max_items", ErrInvalidSchema, path)
		}
	}

	return nil
}

// Positional builds the schema of a positional argument list for a function
// whose parameters are described by params. Object properties become tuple
// slots in declaration order; any other node is a single slot.
func Positional(params *Schema) *Schema {
	var slots []*Schema
	minItems := 0

	switch {
	case params == nil:
	case params.Type == TypeObject:
		for i, p := range params.Properties {
			slots = append(slots, p.Schema)
			if p.Required {
				minItems = i + 1
			}
		}
	default:
		slots = []*Schema{params}
		minItems = 1
	}

	maxItems := len(slots)
	return &Schema{
		Type:     TypeArray,
		Tuple:    slots,
		MinItems: &minItems,
		MaxItems: &maxItems,
	}
}

// ToJSONSchema renders the node as a draft-07 JSON Schema document
func (s *Schema) ToJSONSchema() map[string]interface{} {
	out := map[string]interface{}{}
	if s == nil {
		return out
	}
	if s.Type != TypeAny {
		out["type"] = string(s.Type)
	}
	if s.Description != "" {
		out["description"] = s.Description
	}
	if len(s.Enum) > 0 {
		out["enum"] = s.Enum
	}

	switch s.Type {
	case TypeObject:
		props := make(map[string]interface{}, len(s.Properties))
		required := []string{}
		for _, p := range s.Properties {
			props[p.Name] = p.Schema.ToJSONSchema()
			if p.Required {
				required = append(required, p.Name)
			}
		}
		out["properties"] = props
		out["additionalProperties"] = s.AdditionalProperties
		if len(required) > 0 {
			out["required"] = required
		}
	case TypeArray:
		if s.Items != nil {
			out["items"] = s.Items.ToJSONSchema()
		}
		if len(s.Tuple) > 0 {
			items := make([]interface{}, 0, len(s.Tuple))
			for _, item := range s.Tuple {
				items = append(items, item.ToJSONSchema())
			}
			out["items"] = items
			out["additionalItems"] = false
		}
		if s.MinItems != nil {
			out["minItems"] = *s.MinItems
		}
		if s.MaxItems != nil {
			out["maxItems"] = *s.MaxItems
		}
	}

	return out
}
