package backend

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/bodiless/contentsync/internal/content"
)

// DefaultContentSchema accepts any JSON object.
const DefaultContentSchema = `{"type":"object"}`

const contentSchemaURL = "bodiless-content.schema.json"

// Validator checks item bodies before they are stored.
type Validator struct {
	schema *jsonschema.Schema
}

// NewValidator compiles schemaSource, or the default schema when it is empty.
func NewValidator(schemaSource string) (*Validator, error) {
	if strings.TrimSpace(schemaSource) == "" {
		schemaSource = DefaultContentSchema
	}
	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(schemaSource))
	if err != nil {
		return nil, fmt.Errorf("parse content schema: %w", err)
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(contentSchemaURL, doc); err != nil {
		return nil, fmt.Errorf("add content schema: %w", err)
	}
	schema, err := compiler.Compile(contentSchemaURL)
	if err != nil {
		return nil, fmt.Errorf("compile content schema: %w", err)
	}
	return &Validator{schema: schema}, nil
}

// NewValidatorFromFile reads the schema from path; an empty path selects the
// default schema.
func NewValidatorFromFile(path string) (*Validator, error) {
	if strings.TrimSpace(path) == "" {
		return NewValidator("")
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return NewValidator(string(raw))
}

// Decode validates body and returns it as item data.
func (v *Validator) Decode(body []byte) (content.Data, error) {
	inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: invalid json: %v", ErrInvalidInput, err)
	}
	if err := v.schema.Validate(inst); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	var data content.Data
	if err := json.Unmarshal(body, &data); err != nil || data == nil {
		return nil, fmt.Errorf("%w: content must be a JSON object", ErrInvalidInput)
	}
	return data, nil
}
