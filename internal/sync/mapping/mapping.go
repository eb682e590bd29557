// Package mapping is the single source of the correspondence between the
// cloud wire schema (snake_case maps carried by change-log entries and push
// payloads) and the canonical record structs. All field coercion, defaulting
// and date guarding happens here; nothing else in the engine touches wire
// field names.
package mapping

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	apperrors "github.com/backline-app/backline/internal/errors"
	"github.com/backline-app/backline/internal/models"
)

// Kind describes how a wire value is coerced into its canonical form.
type Kind int

const (
	KindString Kind = iota
	KindInt
	KindTime
	KindStringSlice
)

// Field is one entry in a record type's schema table. id and band_id carry
// no required marker because MapRecord falls back to the change-log entry's
// record ID and scope; the only hard requirement is a non-empty ID after
// those fallbacks.
type Field struct {
	Wire string
	Kind Kind
}

// Schema maps one record type's wire fields.
type Schema struct {
	Type   models.RecordType
	Fields []Field
}

var schemas = map[models.RecordType]Schema{
	models.RecordTypeSong: {
		Type: models.RecordTypeSong,
		Fields: []Field{
			{Wire: "id", Kind: KindString},
			{Wire: "band_id", Kind: KindString},
			{Wire: "title", Kind: KindString},
			{Wire: "artist", Kind: KindString},
			{Wire: "song_key", Kind: KindString},
			{Wire: "bpm", Kind: KindInt},
			{Wire: "duration_secs", Kind: KindInt},
			{Wire: "notes", Kind: KindString},
			{Wire: "created_at", Kind: KindTime},
			{Wire: "updated_at", Kind: KindTime},
			{Wire: "version", Kind: KindInt},
		},
	},
	models.RecordTypeSetlist: {
		Type: models.RecordTypeSetlist,
		Fields: []Field{
			{Wire: "id", Kind: KindString},
			{Wire: "band_id", Kind: KindString},
			{Wire: "name", Kind: KindString},
			{Wire: "song_ids", Kind: KindStringSlice},
			{Wire: "show_id", Kind: KindString},
			{Wire: "created_at", Kind: KindTime},
			{Wire: "updated_at", Kind: KindTime},
			{Wire: "version", Kind: KindInt},
		},
	},
	models.RecordTypeShow: {
		Type: models.RecordTypeShow,
		Fields: []Field{
			{Wire: "id", Kind: KindString},
			{Wire: "band_id", Kind: KindString},
			{Wire: "venue", Kind: KindString},
			{Wire: "city", Kind: KindString},
			{Wire: "starts_at", Kind: KindTime},
			{Wire: "notes", Kind: KindString},
			{Wire: "created_at", Kind: KindTime},
			{Wire: "updated_at", Kind: KindTime},
			{Wire: "version", Kind: KindInt},
		},
	},
	models.RecordTypePracticeSession: {
		Type: models.RecordTypePracticeSession,
		Fields: []Field{
			{Wire: "id", Kind: KindString},
			{Wire: "band_id", Kind: KindString},
			{Wire: "scheduled_at", Kind: KindTime},
			{Wire: "duration_mins", Kind: KindInt},
			{Wire: "location", Kind: KindString},
			{Wire: "notes", Kind: KindString},
			{Wire: "created_at", Kind: KindTime},
			{Wire: "updated_at", Kind: KindTime},
			{Wire: "version", Kind: KindInt},
		},
	},
}

// SchemaFor returns the schema table for t.
func SchemaFor(t models.RecordType) (Schema, bool) {
	s, ok := schemas[t]
	return s, ok
}

// MapRecord converts a wire values map into the canonical record for t.
// Missing optional fields take zero values; missing id and band_id fall back
// to the change-log entry's record ID and scope; malformed timestamps fall
// back to occurredAt. It fails only for an unknown type or a record that
// still has no ID after fallbacks.
func MapRecord(t models.RecordType, values map[string]interface{},
	fallbackID, scope models.UUID, occurredAt time.Time) (models.Record, error) {

	schema, ok := schemas[t]
	if !ok {
		return nil, apperrors.New(apperrors.ErrUnknownTable, fmt.Sprintf("no schema for %q", t))
	}

	normalized := make(map[string]interface{}, len(schema.Fields))
	for _, f := range schema.Fields {
		raw, present := values[f.Wire]
		if !present || raw == nil {
			continue
		}
		switch f.Kind {
		case KindString:
			if s, ok := coerceString(raw); ok {
				normalized[f.Wire] = s
			}
		case KindInt:
			if n, ok := coerceInt(raw); ok {
				normalized[f.Wire] = n
			}
		case KindTime:
			normalized[f.Wire] = coerceTime(raw, occurredAt).Unix()
		case KindStringSlice:
			normalized[f.Wire] = coerceStringSlice(raw)
		}
	}

	if _, ok := normalized["id"]; !ok {
		normalized["id"] = string(fallbackID)
	}
	if _, ok := normalized["band_id"]; !ok {
		normalized["band_id"] = string(scope)
	}
	if _, ok := normalized["version"]; !ok {
		normalized["version"] = int64(1)
	}
	if _, ok := normalized["updated_at"]; !ok {
		normalized["updated_at"] = occurredAt.Unix()
	}

	rec := models.NewRecord(t)
	data, err := json.Marshal(normalized)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrMalformedEntry, "values not serializable", err)
	}
	if err := json.Unmarshal(data, rec); err != nil {
		return nil, apperrors.Wrap(apperrors.ErrMalformedEntry, "values do not fit schema", err)
	}
	if rec.RecordID() == "" {
		return nil, apperrors.New(apperrors.ErrMalformedEntry, "record has no id")
	}
	return rec, nil
}

// UnmapRecord converts a canonical record back into its wire map. Timestamps
// are emitted as RFC3339 strings, matching what the cloud API accepts.
func UnmapRecord(t models.RecordType, rec models.Record) (map[string]interface{}, error) {
	schema, ok := schemas[t]
	if !ok {
		return nil, apperrors.New(apperrors.ErrUnknownTable, fmt.Sprintf("no schema for %q", t))
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrRecordInvalid, "record not serializable", err)
	}
	var flat map[string]interface{}
	if err := json.Unmarshal(data, &flat); err != nil {
		return nil, apperrors.Wrap(apperrors.ErrRecordInvalid, "record not serializable", err)
	}

	wire := make(map[string]interface{}, len(schema.Fields))
	for _, f := range schema.Fields {
		raw, present := flat[f.Wire]
		if !present {
			continue
		}
		if f.Kind == KindTime {
			if n, ok := coerceInt(raw); ok && n != 0 {
				wire[f.Wire] = time.Unix(n, 0).UTC().Format(time.RFC3339)
			}
			continue
		}
		wire[f.Wire] = raw
	}
	return wire, nil
}

func coerceString(raw interface{}) (string, bool) {
	switch v := raw.(type) {
	case string:
		return v, true
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64), true
	default:
		return "", false
	}
}

func coerceInt(raw interface{}) (int64, bool) {
	switch v := raw.(type) {
	case float64:
		return int64(v), true
	case int64:
		return v, true
	case int:
		return int64(v), true
	case json.Number:
		n, err := v.Int64()
		return n, err == nil
	case string:
		n, err := strconv.ParseInt(v, 10, 64)
		return n, err == nil
	default:
		return 0, false
	}
}

// coerceTime accepts unix seconds or RFC3339-ish strings; anything else
// falls back to the change's occurred-at time.
func coerceTime(raw interface{}, fallback time.Time) time.Time {
	switch v := raw.(type) {
	case float64:
		if v > 0 {
			return time.Unix(int64(v), 0)
		}
	case int64:
		if v > 0 {
			return time.Unix(v, 0)
		}
	case string:
		for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02 15:04:05", "2006-01-02"} {
			if t, err := time.Parse(layout, v); err == nil {
				return t
			}
		}
	}
	return fallback
}

func coerceStringSlice(raw interface{}) []string {
	switch v := raw.(type) {
	case []string:
		return v
	case []interface{}:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := coerceString(item); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}
