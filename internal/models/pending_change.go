// Package models provides data model definitions for the Backline core.
package models

import "time"

// Operation names a local mutation kind carried by the outbound queue.
type Operation string

const (
	OperationCreate Operation = "create"
	OperationUpdate Operation = "update"
	OperationDelete Operation = "delete"
)

// PendingChange is one local write awaiting cloud confirmation.
// Rows survive process restarts; Payload is stored msgpack-encoded.
type PendingChange struct {
	ID           UUID                   `db:"id" json:"id"`
	RecordType   RecordType             `db:"record_type" json:"record_type"`
	Operation    Operation              `db:"operation" json:"operation"`
	Payload      map[string]interface{} `db:"-" json:"payload"`
	EnqueuedAt   int64                  `db:"enqueued_at" json:"enqueued_at"`
	AttemptCount int                    `db:"attempt_count" json:"attempt_count"`
}

// TableName returns the table name for PendingChange.
func (PendingChange) TableName() string {
	return "pending_changes"
}

// EnqueuedAtTime returns EnqueuedAt as time.Time.
func (p *PendingChange) EnqueuedAtTime() time.Time {
	return time.Unix(p.EnqueuedAt, 0)
}

// DeadLetter is a pending change that exhausted its retries or was rejected
// by validation. Kept for diagnostics, never retried.
type DeadLetter struct {
	ID           UUID                   `db:"id" json:"id"`
	RecordType   RecordType             `db:"record_type" json:"record_type"`
	Operation    Operation              `db:"operation" json:"operation"`
	Payload      map[string]interface{} `db:"-" json:"payload"`
	Reason       string                 `db:"reason" json:"reason"`
	AttemptCount int                    `db:"attempt_count" json:"attempt_count"`
	FailedAt     int64                  `db:"failed_at" json:"failed_at"`
}

// TableName returns the table name for DeadLetter.
func (DeadLetter) TableName() string {
	return "dead_letters"
}
