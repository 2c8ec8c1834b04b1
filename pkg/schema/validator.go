package schema

import (
	"encoding/json"
	"fmt"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rs/zerolog/log"
	"github.com/xeipuuv/gojsonschema"
)

// DefaultCacheSize bounds the number of compiled schemas kept by a validator
const DefaultCacheSize = 256

// Validator checks values against schemas
type Validator interface {
	// Validate returns an error describing every mismatch between value and s
	Validate(value interface{}, s *Schema) error

	// CheckShape validates the structure of s itself
	CheckShape(s *Schema) error
}

// ValidationError lists the individual mismatches found in a value
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation errors: [%s]", strings.Join(e.Problems, "; "))
}

// JSONSchemaValidator validates values by compiling schemas to JSON Schema.
// Compiled schemas are cached by their rendered document.
type JSONSchemaValidator struct {
	cache *lru.Cache[string, *gojsonschema.Schema]
}

// NewJSONSchemaValidator creates a validator with the default cache size
func NewJSONSchemaValidator() *JSONSchemaValidator {
	v, err := NewJSONSchemaValidatorWithCache(DefaultCacheSize)
	if err != nil {
		// only reachable with a non-positive size
		panic(err)
	}
	return v
}

// NewJSONSchemaValidatorWithCache creates a validator caching up to size compiled schemas
func NewJSONSchemaValidatorWithCache(size int) (*JSONSchemaValidator, error) {
	cache, err := lru.New[string, *gojsonschema.Schema](size)
	if err != nil {
		return nil, fmt.Errorf("failed to create schema cache: %w", err)
	}
	return &JSONSchemaValidator{cache: cache}, nil
}

// CheckShape validates the structure of s
func (v *JSONSchemaValidator) CheckShape(s *Schema) error {
	return CheckShape(s)
}

// Validate validates value against s
func (v *JSONSchemaValidator) Validate(value interface{}, s *Schema) error {
	compiled, err := v.compile(s)
	if err != nil {
		return err
	}

	result, err := compiled.Validate(gojsonschema.NewGoLoader(value))
	if err != nil {
		return &ValidationError{Problems: []string{fmt.Sprintf("value is not representable: %v", err)}}
	}

	if !result.Valid() {
		problems := make([]string, 0, len(result.Errors()))
		for _, re := range result.Errors() {
			problems = append(problems, re.String())
		}
		return &ValidationError{Problems: problems}
	}

	return nil
}

// compile returns the cached compiled form of s, building it on a miss
func (v *JSONSchemaValidator) compile(s *Schema) (*gojsonschema.Schema, error) {
	if err := CheckShape(s); err != nil {
		return nil, err
	}

	doc := s.ToJSONSchema()
	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSchema, err)
	}
	key := string(raw)

	if compiled, ok := v.cache.Get(key); ok {
		return compiled, nil
	}

	compiled, err := gojsonschema.NewSchema(gojsonschema.NewBytesLoader(raw))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSchema, err)
	}
	v.cache.Add(key, compiled)

	log.Debug().Int("cached", v.cache.Len()).Msg("Schema compiled")

	return compiled, nil
}
