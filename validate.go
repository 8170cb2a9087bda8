package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/qri-io/jsonschema"
)

// ValidateArguments checks args against the input schema of the tool: every required argument
// is present, and every argument described in the schema has the declared type and, when an
// enum is given, one of the listed values. Arguments the schema does not describe are accepted.
func (t Tool) ValidateArguments(ctx context.Context, args Arguments) error {
	schema := t.validator
	if schema == nil {
		compiled, err := compileInputSchema(t.InputSchema)
		if err != nil {
			return err
		}
		schema = compiled
	}

	if args == nil {
		args = Arguments{}
	}
	data, err := json.Marshal(args)
	if err != nil {
		return fmt.Errorf("failed to marshal arguments: %w", err)
	}

	keyErrs, err := schema.ValidateBytes(ctx, data)
	if err != nil {
		return fmt.Errorf("failed to validate arguments: %w", err)
	}
	if len(keyErrs) == 0 {
		return nil
	}

	var errStr []string
	for _, keyErr := range keyErrs {
		if keyErr.PropertyPath == "" || keyErr.PropertyPath == "/" {
			errStr = append(errStr, keyErr.Message)
			continue
		}
		errStr = append(errStr, keyErr.PropertyPath+": "+keyErr.Message)
	}
	slices.Sort(errStr)
	return errors.New("params validation failed: " + strings.Join(errStr, ", "))
}

// compileInputSchema renders schema as a JSON Schema document and loads it into a validator.
// Properties without a type or enum place no constraint on their value.
func compileInputSchema(schema InputSchema) (*jsonschema.Schema, error) {
	props := make(map[string]any, len(schema.Properties))
	for name, prop := range schema.Properties {
		p := map[string]any{}
		if prop.Type != "" {
			p["type"] = prop.Type
		}
		if len(prop.Enum) > 0 {
			p["enum"] = prop.Enum
		}
		props[name] = p
	}

	doc := map[string]any{
		"type":       string(PropertyTypeObject),
		"properties": props,
	}
	if len(schema.Required) > 0 {
		doc["required"] = schema.Required
	}

	data, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal input schema: %w", err)
	}
	compiled := &jsonschema.Schema{}
	if err := json.Unmarshal(data, compiled); err != nil {
		return nil, fmt.Errorf("failed to compile input schema: %w", err)
	}
	return compiled, nil
}
