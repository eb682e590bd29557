// Package models provides data model definitions for the Backline core.
package models

import "time"

// ChangeAction names a committed mutation in the cloud change log.
type ChangeAction string

const (
	ActionInsert ChangeAction = "INSERT"
	ActionUpdate ChangeAction = "UPDATE"
	ActionDelete ChangeAction = "DELETE"
)

// ChangeLogEntry is one append-only change-log message as produced by the
// cloud store's triggers. Field names match the trigger's JSON payload.
// Delivery is at-least-once; consumers must apply entries idempotently.
type ChangeLogEntry struct {
	ID         string                 `json:"id"`
	BandID     UUID                   `json:"band_id"`
	Table      RecordType             `json:"table"`
	RecordID   UUID                   `json:"record_id"`
	Action     ChangeAction           `json:"action"`
	ActorID    UUID                   `json:"actor_id"`
	ActorName  string                 `json:"actor_name"`
	OccurredAt string                 `json:"occurred_at"`
	OldValues  map[string]interface{} `json:"old_values,omitempty"`
	NewValues  map[string]interface{} `json:"new_values,omitempty"`
}

// OccurredAtTime parses the entry timestamp, falling back to now for
// missing or malformed values so a bad clock never produces an unusable
// record.
func (e *ChangeLogEntry) OccurredAtTime() time.Time {
	if e.OccurredAt == "" {
		return time.Now()
	}
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02 15:04:05"} {
		if t, err := time.Parse(layout, e.OccurredAt); err == nil {
			return t
		}
	}
	return time.Now()
}

// Validate reports whether the entry carries the fields required to apply it.
func (e *ChangeLogEntry) Validate() bool {
	if e.Table == "" || e.RecordID == "" {
		return false
	}
	switch e.Action {
	case ActionInsert, ActionUpdate, ActionDelete:
		return true
	default:
		return false
	}
}
