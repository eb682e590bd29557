// Package models provides data model definitions for the Backline core.
package models

import "time"

// Show represents a booked performance.
type Show struct {
	ID        UUID   `db:"id" json:"id"`
	BandID    UUID   `db:"band_id" json:"band_id"`
	Venue     string `db:"venue" json:"venue"`
	City      string `db:"city" json:"city,omitempty"`
	StartsAt  int64  `db:"starts_at" json:"starts_at"`
	Notes     string `db:"notes" json:"notes,omitempty"`
	CreatedAt int64  `db:"created_at" json:"created_at"`
	UpdatedAt int64  `db:"updated_at" json:"updated_at"`
	Version   int64  `db:"version" json:"version"`
}

// TableName returns the table name for Show.
func (Show) TableName() string {
	return string(RecordTypeShow)
}

func (s *Show) RecordID() UUID         { return s.ID }
func (s *Show) Scope() UUID            { return s.BandID }
func (s *Show) RecordVersion() int64   { return s.Version }
func (s *Show) RecordUpdatedAt() int64 { return s.UpdatedAt }

// DisplayLabel returns the venue name for notifications.
func (s *Show) DisplayLabel() string {
	if s.Venue == "" {
		return "untitled show"
	}
	return s.Venue
}

// StartsAtTime returns StartsAt as time.Time.
func (s *Show) StartsAtTime() time.Time {
	return time.Unix(s.StartsAt, 0)
}

// Touch bumps the version and update timestamp for a local write.
func (s *Show) Touch() {
	s.UpdatedAt = time.Now().Unix()
	s.Version++
}
