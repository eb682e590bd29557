// Package models provides data model definitions for the Backline core.
package models

import "time"

// Song represents one song in a band's shared repertoire.
type Song struct {
	ID           UUID   `db:"id" json:"id"`
	BandID       UUID   `db:"band_id" json:"band_id"`
	Title        string `db:"title" json:"title"`
	Artist       string `db:"artist" json:"artist"`
	SongKey      string `db:"song_key" json:"song_key,omitempty"`
	BPM          int    `db:"bpm" json:"bpm,omitempty"`
	DurationSecs int    `db:"duration_secs" json:"duration_secs,omitempty"`
	Notes        string `db:"notes" json:"notes,omitempty"`
	CreatedAt    int64  `db:"created_at" json:"created_at"`
	UpdatedAt    int64  `db:"updated_at" json:"updated_at"`
	Version      int64  `db:"version" json:"version"`
}

// TableName returns the table name for Song.
func (Song) TableName() string {
	return string(RecordTypeSong)
}

func (s *Song) RecordID() UUID         { return s.ID }
func (s *Song) Scope() UUID            { return s.BandID }
func (s *Song) RecordVersion() int64   { return s.Version }
func (s *Song) RecordUpdatedAt() int64 { return s.UpdatedAt }

// DisplayLabel returns the song title for notifications.
func (s *Song) DisplayLabel() string {
	if s.Title == "" {
		return "untitled song"
	}
	return s.Title
}

// Touch bumps the version and update timestamp for a local write.
func (s *Song) Touch() {
	s.UpdatedAt = time.Now().Unix()
	s.Version++
}
