// Package validation checks request bodies against JSON schemas before they
// reach the registry service.
package validation

import (
	"bytes"
	"errors"
	"fmt"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/accessreg/accessreg/cmd/accessregd/internal/domain"
)

// Request schema names
const (
	CreateAccount = "createAccount"
	UpdateAccount = "updateAccount"
	CreateSystem  = "createSystem"
	UpdateSystem  = "updateSystem"
	UpsertGrant   = "upsertGrant"
)

const roleArray = `{"type": "array", "minItems": 1, "items": {"type": "string"}}`

var requestSchemas = map[string]string{
	CreateAccount: `{
		"type": "object",
		"required": ["name", "email"],
		"additionalProperties": false,
		"properties": {
			"name":  {"type": "string", "minLength": 1, "maxLength": 200},
			"email": {"type": "string", "minLength": 3, "maxLength": 254}
		}
	}`,
	UpdateAccount: `{
		"type": "object",
		"minProperties": 1,
		"additionalProperties": false,
		"properties": {
			"name":  {"type": "string", "minLength": 1, "maxLength": 200},
			"email": {"type": "string", "minLength": 3, "maxLength": 254}
		}
	}`,
	CreateSystem: `{
		"type": "object",
		"required": ["name"],
		"additionalProperties": false,
		"properties": {
			"name":           {"type": "string", "minLength": 1, "maxLength": 300},
			"description":    {"type": "string", "maxLength": 1000},
			"availableRoles": ` + roleArray + `
		}
	}`,
	UpdateSystem: `{
		"type": "object",
		"minProperties": 1,
		"additionalProperties": false,
		"properties": {
			"name":           {"type": "string", "minLength": 1, "maxLength": 300},
			"description":    {"type": "string", "maxLength": 1000},
			"availableRoles": ` + roleArray + `
		}
	}`,
	UpsertGrant: `{
		"type": "object",
		"required": ["accountId", "systemId", "roles"],
		"additionalProperties": false,
		"properties": {
			"accountId": {"type": "string", "minLength": 1},
			"systemId":  {"type": "string", "minLength": 1},
			"roles":     ` + roleArray + `
		}
	}`,
}

// RequestValidator validates request bodies against the named request
// schemas. Compiled schemas are kept in an LRU.
type RequestValidator struct {
	schemaCache *lru.Cache[string, *jsonschema.Schema]
}

// NewRequestValidator creates a validator with room for cacheSize compiled schemas.
func NewRequestValidator(cacheSize int) (*RequestValidator, error) {
	cache, err := lru.New[string, *jsonschema.Schema](cacheSize)
	if err != nil {
		return nil, fmt.Errorf("create schema cache: %w", err)
	}
	return &RequestValidator{schemaCache: cache}, nil
}

// Validate checks body against the schema registered under name. A body
// that is not JSON, or does not match, yields a *domain.ValidationError.
func (v *RequestValidator) Validate(name string, body []byte) error {
	schema, err := v.schema(name)
	if err != nil {
		return err
	}

	instance, err := jsonschema.UnmarshalJSON(bytes.NewReader(body))
	if err != nil {
		return domain.ErrValidation("body", "invalid JSON: %v", err)
	}
	if err := schema.Validate(instance); err != nil {
		return toValidationError(err)
	}
	return nil
}

func (v *RequestValidator) schema(name string) (*jsonschema.Schema, error) {
	if cached, ok := v.schemaCache.Get(name); ok {
		return cached, nil
	}
	src, ok := requestSchemas[name]
	if !ok {
		return nil, fmt.Errorf("unknown request schema %q", name)
	}
	schema, err := compileSchema(name, src)
	if err != nil {
		return nil, err
	}
	v.schemaCache.Add(name, schema)
	return schema, nil
}

// compileSchema compiles one schema document with its own compiler.
func compileSchema(name, schemaJSON string) (*jsonschema.Schema, error) {
	parsed, err := jsonschema.UnmarshalJSON(strings.NewReader(schemaJSON))
	if err != nil {
		return nil, fmt.Errorf("parse schema %s: %w", name, err)
	}

	compiler := jsonschema.NewCompiler()
	compiler.DefaultDraft(jsonschema.Draft7)

	url := name + ".json"
	if err := compiler.AddResource(url, parsed); err != nil {
		return nil, fmt.Errorf("add schema resource %s: %w", name, err)
	}
	schema, err := compiler.Compile(url)
	if err != nil {
		return nil, fmt.Errorf("compile schema %s: %w", name, err)
	}
	return schema, nil
}

// toValidationError reports the first leaf failure with its instance path,
// e.g. field "roles.0".
func toValidationError(err error) error {
	var ve *jsonschema.ValidationError
	if !errors.As(err, &ve) {
		return domain.ErrValidation("body", "%v", err)
	}
	for len(ve.Causes) > 0 {
		ve = ve.Causes[0]
	}

	var parts []string
	for _, part := range ve.InstanceLocation {
		if part != "" {
			parts = append(parts, part)
		}
	}
	field := "body"
	if len(parts) > 0 {
		field = strings.Join(parts, ".")
	}

	msg := ve.Error()
	if len(msg) > 200 {
		msg = msg[:200] + "... (truncated)"
	}
	return &domain.ValidationError{Field: field, Message: msg}
}
