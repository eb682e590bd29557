// Package models provides data model definitions for the Backline core.
package models

import "time"

// Setlist represents an ordered collection of songs for a show or rehearsal.
type Setlist struct {
	ID        UUID     `db:"id" json:"id"`
	BandID    UUID     `db:"band_id" json:"band_id"`
	Name      string   `db:"name" json:"name"`
	SongIDs   []string `db:"song_ids" json:"song_ids"`
	ShowID    UUID     `db:"show_id" json:"show_id,omitempty"`
	CreatedAt int64    `db:"created_at" json:"created_at"`
	UpdatedAt int64    `db:"updated_at" json:"updated_at"`
	Version   int64    `db:"version" json:"version"`
}

// TableName returns the table name for Setlist.
func (Setlist) TableName() string {
	return string(RecordTypeSetlist)
}

func (s *Setlist) RecordID() UUID         { return s.ID }
func (s *Setlist) Scope() UUID            { return s.BandID }
func (s *Setlist) RecordVersion() int64   { return s.Version }
func (s *Setlist) RecordUpdatedAt() int64 { return s.UpdatedAt }

// DisplayLabel returns the setlist name for notifications.
func (s *Setlist) DisplayLabel() string {
	if s.Name == "" {
		return "untitled setlist"
	}
	return s.Name
}

// RemoveSong drops every occurrence of songID from the list.
// Returns true when the list changed.
func (s *Setlist) RemoveSong(songID UUID) bool {
	kept := s.SongIDs[:0]
	removed := false
	for _, id := range s.SongIDs {
		if id == string(songID) {
			removed = true
			continue
		}
		kept = append(kept, id)
	}
	s.SongIDs = kept
	return removed
}

// Touch bumps the version and update timestamp for a local write.
func (s *Setlist) Touch() {
	s.UpdatedAt = time.Now().Unix()
	s.Version++
}
