// Package events tests for the typed event bus.
package events

import (
	"testing"

	"github.com/backline-app/backline/internal/models"
)

// TestRecordChangedFanout verifies per-type and catch-all delivery.
func TestRecordChangedFanout(t *testing.T) {
	bus := NewBus()

	var songEvents, showEvents, allEvents []RecordChanged
	bus.SubscribeRecord(models.RecordTypeSong, func(ev RecordChanged) {
		songEvents = append(songEvents, ev)
	})
	bus.SubscribeRecord(models.RecordTypeShow, func(ev RecordChanged) {
		showEvents = append(showEvents, ev)
	})
	bus.SubscribeAllRecords(func(ev RecordChanged) {
		allEvents = append(allEvents, ev)
	})

	bus.PublishRecordChanged(RecordChanged{
		Scope: "b-1", RecordType: models.RecordTypeSong,
		Action: models.ActionInsert, RecordID: "s-1",
	})

	if len(songEvents) != 1 {
		t.Errorf("song handler got %d events, want 1", len(songEvents))
	}
	if len(showEvents) != 0 {
		t.Errorf("show handler got %d events, want 0", len(showEvents))
	}
	if len(allEvents) != 1 {
		t.Errorf("catch-all handler got %d events, want 1", len(allEvents))
	}
}

// TestEventName verifies the wire name UI clients key on.
func TestEventName(t *testing.T) {
	tests := []struct {
		typ  models.RecordType
		want string
	}{
		{models.RecordTypeSong, "songs:changed"},
		{models.RecordTypeSetlist, "setlists:changed"},
		{models.RecordTypeShow, "shows:changed"},
		{models.RecordTypePracticeSession, "practice_sessions:changed"},
	}
	for _, tt := range tests {
		ev := RecordChanged{RecordType: tt.typ}
		if got := ev.EventName(); got != tt.want {
			t.Errorf("EventName(%s) = %q, want %q", tt.typ, got, tt.want)
		}
	}
}

// TestToastDelivery verifies toast fanout to multiple handlers.
func TestToastDelivery(t *testing.T) {
	bus := NewBus()

	var first, second int
	bus.SubscribeToast(func(Toast) { first++ })
	bus.SubscribeToast(func(Toast) { second++ })

	bus.PublishToast(Toast{Message: "hello", Type: ToastInfo})

	if first != 1 || second != 1 {
		t.Errorf("handlers got (%d, %d) toasts, want (1, 1)", first, second)
	}
}

// TestSyncStatusDelivery verifies status fanout.
func TestSyncStatusDelivery(t *testing.T) {
	bus := NewBus()

	var got []SyncStatus
	bus.SubscribeSyncStatus(func(ev SyncStatus) { got = append(got, ev) })

	bus.PublishSyncStatus(SyncStatus{PendingCount: 4, IsOnline: true, Connected: true})

	if len(got) != 1 {
		t.Fatalf("got %d status events, want 1", len(got))
	}
	if got[0].PendingCount != 4 || !got[0].IsOnline || !got[0].Connected {
		t.Errorf("status = %+v", got[0])
	}
}

// TestPublishWithoutSubscribers verifies publishing to an empty bus is safe.
func TestPublishWithoutSubscribers(t *testing.T) {
	bus := NewBus()
	bus.PublishRecordChanged(RecordChanged{RecordType: models.RecordTypeSong})
	bus.PublishToast(Toast{Message: "nobody listening"})
	bus.PublishSyncStatus(SyncStatus{})
}
