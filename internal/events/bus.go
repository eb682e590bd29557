// Package events provides the typed publish/subscribe surface between the
// sync engine and the UI layer. Every event kind has its own payload struct
// and subscription method, so handlers are checked at compile time instead of
// dispatching on string event names.
package events

import (
	"sync"

	"github.com/backline-app/backline/internal/models"
)

// RecordChanged is published after a record is upserted or deleted locally,
// whether the change originated on this device or arrived via the change log.
type RecordChanged struct {
	Scope      models.UUID
	RecordType models.RecordType
	Action     models.ChangeAction
	RecordID   models.UUID
}

// EventName returns the wire name UI clients subscribe to, e.g. "songs:changed".
func (e RecordChanged) EventName() string {
	return string(e.RecordType) + ":changed"
}

// Toast is a user-facing notification produced by the batcher.
type Toast struct {
	Message string
	Type    string
}

// ToastInfo is the default toast type.
const ToastInfo = "info"

// SyncStatus describes queue and connection state for the UI.
type SyncStatus struct {
	LastSyncTime int64
	PendingCount int
	IsOnline     bool
	InProgress   bool
	Connected    bool
}

// Bus fans events out to registered handlers. Delivery is synchronous in the
// publisher's goroutine; handlers must not block.
type Bus struct {
	mu             sync.RWMutex
	recordHandlers map[models.RecordType][]func(RecordChanged)
	allRecords     []func(RecordChanged)
	toastHandlers  []func(Toast)
	statusHandlers []func(SyncStatus)
}

// NewBus creates an empty Bus.
func NewBus() *Bus {
	return &Bus{
		recordHandlers: make(map[models.RecordType][]func(RecordChanged)),
	}
}

// SubscribeRecord registers a handler for changes to one record type.
func (b *Bus) SubscribeRecord(t models.RecordType, handler func(RecordChanged)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.recordHandlers[t] = append(b.recordHandlers[t], handler)
}

// SubscribeAllRecords registers a handler for changes to every record type.
func (b *Bus) SubscribeAllRecords(handler func(RecordChanged)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.allRecords = append(b.allRecords, handler)
}

// SubscribeToast registers a toast handler.
func (b *Bus) SubscribeToast(handler func(Toast)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.toastHandlers = append(b.toastHandlers, handler)
}

// SubscribeSyncStatus registers a sync status handler.
func (b *Bus) SubscribeSyncStatus(handler func(SyncStatus)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.statusHandlers = append(b.statusHandlers, handler)
}

// PublishRecordChanged delivers ev to per-type and catch-all handlers.
func (b *Bus) PublishRecordChanged(ev RecordChanged) {
	b.mu.RLock()
	typed := b.recordHandlers[ev.RecordType]
	all := b.allRecords
	b.mu.RUnlock()

	for _, h := range typed {
		h(ev)
	}
	for _, h := range all {
		h(ev)
	}
}

// PublishToast delivers ev to toast handlers.
func (b *Bus) PublishToast(ev Toast) {
	b.mu.RLock()
	handlers := b.toastHandlers
	b.mu.RUnlock()

	for _, h := range handlers {
		h(ev)
	}
}

// PublishSyncStatus delivers ev to status handlers.
func (b *Bus) PublishSyncStatus(ev SyncStatus) {
	b.mu.RLock()
	handlers := b.statusHandlers
	b.mu.RUnlock()

	for _, h := range handlers {
		h(ev)
	}
}
