// Package models tests for record types and the canonical record factory.
package models

import (
	"testing"
	"time"
)

// TestNewRecord verifies the factory returns the right canonical type.
func TestNewRecord(t *testing.T) {
	tests := []struct {
		name string
		typ  RecordType
	}{
		{"song", RecordTypeSong},
		{"setlist", RecordTypeSetlist},
		{"show", RecordTypeShow},
		{"practice session", RecordTypePracticeSession},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := NewRecord(tt.typ)
			if rec == nil {
				t.Fatalf("NewRecord(%s) returned nil", tt.typ)
			}
		})
	}
}

// TestNewRecordUnknown verifies unknown types produce nil.
func TestNewRecordUnknown(t *testing.T) {
	if rec := NewRecord("albums"); rec != nil {
		t.Errorf("NewRecord(albums) = %T, want nil", rec)
	}
}

// TestIsKnownRecordType verifies type membership.
func TestIsKnownRecordType(t *testing.T) {
	for _, typ := range KnownRecordTypes {
		if !IsKnownRecordType(typ) {
			t.Errorf("IsKnownRecordType(%s) = false", typ)
		}
	}
	if IsKnownRecordType("members") {
		t.Error("IsKnownRecordType(members) = true, want false")
	}
	if IsKnownRecordType("") {
		t.Error("IsKnownRecordType(\"\") = true, want false")
	}
}

// TestUUIDScan verifies sql.Scanner accepts the driver value shapes.
func TestUUIDScan(t *testing.T) {
	var u UUID

	if err := u.Scan("f47ac10b-58cc-4372-a567-0e02b2c3d479"); err != nil {
		t.Fatalf("Scan(string) failed: %v", err)
	}
	if u.String() != "f47ac10b-58cc-4372-a567-0e02b2c3d479" {
		t.Errorf("Scan(string) = %q", u)
	}

	if err := u.Scan([]byte("abc")); err != nil {
		t.Fatalf("Scan([]byte) failed: %v", err)
	}
	if u != "abc" {
		t.Errorf("Scan([]byte) = %q", u)
	}

	if err := u.Scan(nil); err != nil {
		t.Fatalf("Scan(nil) failed: %v", err)
	}
	if u != "" {
		t.Errorf("Scan(nil) = %q, want empty", u)
	}

	if err := u.Scan(42); err == nil {
		t.Error("Scan(int) should fail")
	}
}

// TestTouch verifies version and timestamp bumps on local writes.
func TestTouch(t *testing.T) {
	song := &Song{Version: 3, UpdatedAt: 1000}
	before := time.Now().Unix()
	song.Touch()

	if song.Version != 4 {
		t.Errorf("Version = %d, want 4", song.Version)
	}
	if song.UpdatedAt < before {
		t.Errorf("UpdatedAt = %d, want >= %d", song.UpdatedAt, before)
	}
}

// TestDisplayLabel verifies fallback labels for empty records.
func TestDisplayLabel(t *testing.T) {
	tests := []struct {
		name string
		rec  Record
		want string
	}{
		{"song with title", &Song{Title: "Seven Nation Army"}, "Seven Nation Army"},
		{"song empty", &Song{}, "untitled song"},
		{"setlist with name", &Setlist{Name: "Friday closer"}, "Friday closer"},
		{"setlist empty", &Setlist{}, "untitled setlist"},
		{"show with venue", &Show{Venue: "The Troubadour"}, "The Troubadour"},
		{"show empty", &Show{}, "untitled show"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.rec.DisplayLabel(); got != tt.want {
				t.Errorf("DisplayLabel() = %q, want %q", got, tt.want)
			}
		})
	}
}

// TestSetlistRemoveSong verifies song removal including duplicates.
func TestSetlistRemoveSong(t *testing.T) {
	sl := &Setlist{SongIDs: []string{"a", "b", "a", "c"}}

	if !sl.RemoveSong("a") {
		t.Fatal("RemoveSong(a) = false, want true")
	}
	if len(sl.SongIDs) != 2 || sl.SongIDs[0] != "b" || sl.SongIDs[1] != "c" {
		t.Errorf("SongIDs = %v, want [b c]", sl.SongIDs)
	}

	if sl.RemoveSong("zzz") {
		t.Error("RemoveSong(zzz) = true for absent song")
	}
}
