// Package models provides data model definitions for the Backline core.
package models

import (
	"database/sql/driver"
	"fmt"
)

// UUID is a wrapper around string for UUID v4 type safety.
type UUID string

// Value implements driver.Valuer for UUID.
func (u UUID) Value() (driver.Value, error) {
	return string(u), nil
}

// Scan implements sql.Scanner for UUID.
func (u *UUID) Scan(value interface{}) error {
	switch v := value.(type) {
	case nil:
		*u = ""
	case string:
		*u = UUID(v)
	case []byte:
		*u = UUID(v)
	default:
		return fmt.Errorf("cannot scan %T into UUID", value)
	}
	return nil
}

// String returns the string representation of the UUID.
func (u UUID) String() string {
	return string(u)
}

// RecordType identifies a synced domain record kind. Values match the
// cloud-side table names.
type RecordType string

const (
	RecordTypeSong            RecordType = "songs"
	RecordTypeSetlist         RecordType = "setlists"
	RecordTypeShow            RecordType = "shows"
	RecordTypePracticeSession RecordType = "practice_sessions"
)

// KnownRecordTypes lists every record type the sync engine handles.
var KnownRecordTypes = []RecordType{
	RecordTypeSong,
	RecordTypeSetlist,
	RecordTypeShow,
	RecordTypePracticeSession,
}

// IsKnownRecordType reports whether t names a synced record type.
func IsKnownRecordType(t RecordType) bool {
	for _, known := range KnownRecordTypes {
		if t == known {
			return true
		}
	}
	return false
}

// Record is implemented by every canonical domain record.
type Record interface {
	// RecordID returns the record's primary key.
	RecordID() UUID

	// Scope returns the band this record belongs to.
	Scope() UUID

	// RecordVersion returns the monotonically increasing write version.
	RecordVersion() int64

	// RecordUpdatedAt returns the last write time as a unix timestamp.
	RecordUpdatedAt() int64

	// DisplayLabel returns a short human-readable name for notifications.
	DisplayLabel() string
}

// NewRecord returns a zero value of the canonical record for t,
// or nil for an unknown type.
func NewRecord(t RecordType) Record {
	switch t {
	case RecordTypeSong:
		return &Song{}
	case RecordTypeSetlist:
		return &Setlist{}
	case RecordTypeShow:
		return &Show{}
	case RecordTypePracticeSession:
		return &PracticeSession{}
	default:
		return nil
	}
}
