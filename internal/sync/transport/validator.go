package transport

import (
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"

	apperrors "github.com/backline-app/backline/internal/errors"
	"github.com/backline-app/backline/internal/models"
)

// Per-record-type JSON Schemas for outbound payloads. A payload that fails
// its schema will fail on every retry, so the queue treats schema violations
// as terminal.
var payloadSchemas = map[models.RecordType]string{
	models.RecordTypeSong: `{
		"type": "object",
		"required": ["id", "band_id"],
		"properties": {
			"id": {"type": "string", "minLength": 1},
			"band_id": {"type": "string", "minLength": 1},
			"title": {"type": "string"},
			"artist": {"type": "string"},
			"song_key": {"type": "string"},
			"bpm": {"type": "integer", "minimum": 0, "maximum": 400},
			"duration_secs": {"type": "integer", "minimum": 0},
			"notes": {"type": "string"},
			"version": {"type": "integer", "minimum": 1}
		}
	}`,
	models.RecordTypeSetlist: `{
		"type": "object",
		"required": ["id", "band_id"],
		"properties": {
			"id": {"type": "string", "minLength": 1},
			"band_id": {"type": "string", "minLength": 1},
			"name": {"type": "string"},
			"song_ids": {"type": "array", "items": {"type": "string"}},
			"show_id": {"type": "string"},
			"version": {"type": "integer", "minimum": 1}
		}
	}`,
	models.RecordTypeShow: `{
		"type": "object",
		"required": ["id", "band_id"],
		"properties": {
			"id": {"type": "string", "minLength": 1},
			"band_id": {"type": "string", "minLength": 1},
			"venue": {"type": "string"},
			"city": {"type": "string"},
			"starts_at": {"type": "string"},
			"notes": {"type": "string"},
			"version": {"type": "integer", "minimum": 1}
		}
	}`,
	models.RecordTypePracticeSession: `{
		"type": "object",
		"required": ["id", "band_id"],
		"properties": {
			"id": {"type": "string", "minLength": 1},
			"band_id": {"type": "string", "minLength": 1},
			"scheduled_at": {"type": "string"},
			"duration_mins": {"type": "integer", "minimum": 0},
			"location": {"type": "string"},
			"notes": {"type": "string"},
			"version": {"type": "integer", "minimum": 1}
		}
	}`,
}

// Validator checks outbound payloads against their record type's schema
// before any network push happens.
type Validator struct {
	schemas map[models.RecordType]*jsonschema.Schema
}

// NewValidator compiles every payload schema. Fails fast on a broken schema
// so a bad build never ships half-validating.
func NewValidator() (*Validator, error) {
	compiler := jsonschema.NewCompiler()
	compiled := make(map[models.RecordType]*jsonschema.Schema, len(payloadSchemas))

	for t, raw := range payloadSchemas {
		name := string(t) + ".json"
		doc, err := jsonschema.UnmarshalJSON(strings.NewReader(raw))
		if err != nil {
			return nil, fmt.Errorf("schema for %s is not valid JSON: %w", t, err)
		}
		if err := compiler.AddResource(name, doc); err != nil {
			return nil, fmt.Errorf("failed to register schema for %s: %w", t, err)
		}
		schema, err := compiler.Compile(name)
		if err != nil {
			return nil, fmt.Errorf("failed to compile schema for %s: %w", t, err)
		}
		compiled[t] = schema
	}
	return &Validator{schemas: compiled}, nil
}

// Validate checks one outbound payload. Delete payloads only need an id, so
// they skip the full schema. A violation is a terminal VALIDATION_ERROR.
func (v *Validator) Validate(t models.RecordType, op models.Operation, payload map[string]interface{}) error {
	schema, ok := v.schemas[t]
	if !ok {
		return apperrors.New(apperrors.ErrUnknownTable, fmt.Sprintf("no schema for %q", t))
	}

	if op == models.OperationDelete {
		id, _ := payload["id"].(string)
		if id == "" {
			return apperrors.New(apperrors.ErrValidation, "delete payload has no id")
		}
		return nil
	}

	if err := schema.Validate(normalizeForSchema(payload)); err != nil {
		return apperrors.Wrap(apperrors.ErrValidation,
			fmt.Sprintf("%s payload failed validation", t), err)
	}
	return nil
}

// normalizeForSchema converts payload values into the shapes the jsonschema
// library expects for decoded JSON (float64 numbers, []interface{} arrays).
func normalizeForSchema(payload map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(payload))
	for k, raw := range payload {
		switch v := raw.(type) {
		case int:
			out[k] = float64(v)
		case int64:
			out[k] = float64(v)
		case []string:
			items := make([]interface{}, len(v))
			for i, s := range v {
				items[i] = s
			}
			out[k] = items
		default:
			out[k] = raw
		}
	}
	return out
}
