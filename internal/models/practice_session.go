// Package models provides data model definitions for the Backline core.
package models

import "time"

// PracticeSession represents a scheduled rehearsal.
type PracticeSession struct {
	ID           UUID   `db:"id" json:"id"`
	BandID       UUID   `db:"band_id" json:"band_id"`
	ScheduledAt  int64  `db:"scheduled_at" json:"scheduled_at"`
	DurationMins int    `db:"duration_mins" json:"duration_mins,omitempty"`
	Location     string `db:"location" json:"location,omitempty"`
	Notes        string `db:"notes" json:"notes,omitempty"`
	CreatedAt    int64  `db:"created_at" json:"created_at"`
	UpdatedAt    int64  `db:"updated_at" json:"updated_at"`
	Version      int64  `db:"version" json:"version"`
}

// TableName returns the table name for PracticeSession.
func (PracticeSession) TableName() string {
	return string(RecordTypePracticeSession)
}

func (p *PracticeSession) RecordID() UUID         { return p.ID }
func (p *PracticeSession) Scope() UUID            { return p.BandID }
func (p *PracticeSession) RecordVersion() int64   { return p.Version }
func (p *PracticeSession) RecordUpdatedAt() int64 { return p.UpdatedAt }

// DisplayLabel describes the session by date for notifications.
func (p *PracticeSession) DisplayLabel() string {
	if p.ScheduledAt == 0 {
		return "practice session"
	}
	return "practice on " + time.Unix(p.ScheduledAt, 0).Format("Jan 2")
}

// Touch bumps the version and update timestamp for a local write.
func (p *PracticeSession) Touch() {
	p.UpdatedAt = time.Now().Unix()
	p.Version++
}
