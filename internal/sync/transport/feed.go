// Package transport holds the engine's two cloud-facing surfaces: the
// append-only change-log feed it consumes and the push client it confirms
// local mutations through.
package transport

import (
	"context"

	"github.com/backline-app/backline/internal/models"
)

// EntryHandler receives one decoded change-log entry. Entries for a single
// scope arrive in delivery order; handlers must tolerate duplicates
// (delivery is at-least-once).
type EntryHandler func(entry *models.ChangeLogEntry)

// StatusHandler receives connection-state transitions for one scope's
// channel. err is non-nil for failure transitions.
type StatusHandler func(scope models.UUID, connected bool, err error)

// Feed delivers change-log entries for one collaboration scope per channel.
type Feed interface {
	// Subscribe opens a channel filtered to scope. onStatus fires on every
	// connection-state change, including the initial connect. The returned
	// Channel must be closed to release transport resources.
	Subscribe(ctx context.Context, scope models.UUID, onEntry EntryHandler, onStatus StatusHandler) (Channel, error)
}

// Channel is one live per-scope subscription.
type Channel interface {
	Close() error
}
