// Package changelog subscribes to the cloud's append-only change log and
// applies remote mutations to the local store: one logical channel per
// collaboration scope, idempotent apply with last-write-wins versioning,
// typed change events for the UI, and toast decisions for the batcher.
package changelog

import (
	"context"
	"hash/fnv"
	"sync"
	"time"

	"github.com/backline-app/backline/internal/events"
	"github.com/backline-app/backline/internal/logging"
	"github.com/backline-app/backline/internal/models"
	"github.com/backline-app/backline/internal/store"
	"github.com/backline-app/backline/internal/sync/mapping"
	"github.com/backline-app/backline/internal/sync/notify"
	"github.com/backline-app/backline/internal/sync/transport"
)

const lockStripes = 64

// Diagnostics is a read-only snapshot of subscriber health.
type Diagnostics struct {
	MessagesReceived int64
	MalformedEntries int64
	Applied          int64
	SkippedStale     int64
	LastMessageAt    time.Time
	Connected        bool
	Scopes           map[models.UUID]ScopeStats
}

// Subscriber consumes change-log entries and applies them locally.
// Entries for one scope are handled in delivery order; apply for a single
// record is additionally serialized through striped locks so a remote echo
// can never interleave with a local write to the same record.
type Subscriber struct {
	feed    transport.Feed
	store   *store.Store
	bus     *events.Bus
	batcher *notify.Batcher
	sup     *Supervisor

	// subMu serializes Subscribe/UnsubscribeAll/Reconnect so a race can
	// never produce two channels for one scope.
	subMu       sync.Mutex
	channels    map[models.UUID]transport.Channel
	knownScopes map[models.UUID]bool

	// actorMu guards actorID separately: entry handlers read it on feed
	// goroutines while Subscribe may be re-running under subMu.
	actorMu sync.Mutex
	actorID models.UUID

	recordLocks [lockStripes]sync.Mutex

	statsMu   sync.Mutex
	messages  int64
	malformed int64
	applied   int64
	stale     int64
	lastMsgAt time.Time
}

// NewSubscriber creates a Subscriber. The batcher may be nil to disable
// toasts entirely (the data path is unaffected).
func NewSubscriber(feed transport.Feed, st *store.Store, bus *events.Bus, batcher *notify.Batcher) *Subscriber {
	return &Subscriber{
		feed:        feed,
		store:       st,
		bus:         bus,
		batcher:     batcher,
		sup:         NewSupervisor(),
		channels:    make(map[models.UUID]transport.Channel),
		knownScopes: make(map[models.UUID]bool),
	}
}

// Subscribe opens one channel per scope not already subscribed. Calling it
// again with overlapping scopes is an idempotent union; a scope that fails
// to subscribe does not stop the others.
func (s *Subscriber) Subscribe(ctx context.Context, actorID models.UUID, scopes []models.UUID) {
	s.actorMu.Lock()
	s.actorID = actorID
	s.actorMu.Unlock()

	s.subMu.Lock()
	defer s.subMu.Unlock()

	for _, scope := range scopes {
		if scope == "" {
			continue
		}
		s.knownScopes[scope] = true
		if _, ok := s.channels[scope]; ok {
			continue
		}
		s.openChannel(ctx, scope)
	}
}

// openChannel attempts one scope subscription. Caller holds subMu.
func (s *Subscriber) openChannel(ctx context.Context, scope models.UUID) {
	s.sup.BeginAttempt(scope)

	ch, err := s.feed.Subscribe(ctx, scope, s.handleEntry, s.handleStatus)
	if err != nil {
		// The transport released any partial handle before returning.
		s.sup.MarkFailed(scope, err)
		return
	}
	s.channels[scope] = ch
}

// handleStatus reacts to transport connection-state transitions.
func (s *Subscriber) handleStatus(scope models.UUID, connected bool, err error) {
	if connected {
		s.sup.MarkSubscribed(scope)
		return
	}
	s.sup.MarkFailed(scope, err)
}

// handleEntry applies one change-log entry. Malformed or failing entries are
// logged and skipped; nothing an entry contains may halt the pipeline.
func (s *Subscriber) handleEntry(entry *models.ChangeLogEntry) {
	defer func() {
		if r := recover(); r != nil {
			logging.ErrorWithCode("Panic applying change-log entry",
				"MALFORMED_ENTRY", nil,
				map[string]interface{}{"panic": r, "entry_id": entry.ID})
		}
	}()

	s.statsMu.Lock()
	s.messages++
	s.lastMsgAt = time.Now()
	s.statsMu.Unlock()

	if !entry.Validate() {
		s.statsMu.Lock()
		s.malformed++
		s.statsMu.Unlock()
		logging.Warn("Skipping malformed change-log entry", map[string]interface{}{
			"entry_id": entry.ID, "table": entry.Table, "action": entry.Action,
		})
		return
	}
	if !models.IsKnownRecordType(entry.Table) {
		s.statsMu.Lock()
		s.malformed++
		s.statsMu.Unlock()
		logging.Warn("Skipping entry for unknown table", map[string]interface{}{
			"entry_id": entry.ID, "table": entry.Table,
		})
		return
	}

	var label string
	var ok bool
	switch entry.Action {
	case models.ActionInsert, models.ActionUpdate:
		label, ok = s.applyUpsert(entry)
	case models.ActionDelete:
		label, ok = s.applyDelete(entry)
	}
	if !ok {
		return
	}

	// Emitted regardless of actor: other tabs and devices of the same user
	// re-render from the same event.
	s.bus.PublishRecordChanged(events.RecordChanged{
		Scope:      entry.BandID,
		RecordType: entry.Table,
		Action:     entry.Action,
		RecordID:   entry.RecordID,
	})

	s.maybeToast(entry, label)
}

// applyUpsert maps afterValues into the canonical record and upserts it
// unless the local copy is strictly newer (last-write-wins by version, ties
// broken by occurredAt).
func (s *Subscriber) applyUpsert(entry *models.ChangeLogEntry) (string, bool) {
	lock := s.lockFor(entry.RecordID)
	lock.Lock()
	defer lock.Unlock()

	occurredAt := entry.OccurredAtTime()
	rec, err := mapping.MapRecord(entry.Table, entry.NewValues, entry.RecordID, entry.BandID, occurredAt)
	if err != nil {
		s.statsMu.Lock()
		s.malformed++
		s.statsMu.Unlock()
		logging.Warn("Skipping unmappable change-log entry", map[string]interface{}{
			"entry_id": entry.ID, "table": entry.Table, "error": err.Error(),
		})
		return "", false
	}

	localVersion, localUpdatedAt, found, err := s.store.Meta(entry.Table, rec.RecordID())
	if err != nil {
		logging.Error("Version lookup failed", err,
			map[string]interface{}{"record_id": rec.RecordID()})
		return "", false
	}
	if found {
		incoming := rec.RecordVersion()
		if incoming < localVersion ||
			(incoming == localVersion && occurredAt.Unix() <= localUpdatedAt) {
			// Local copy is at least as new; keep it, but still signal the
			// entry so duplicate deliveries stay idempotent.
			s.statsMu.Lock()
			s.stale++
			s.statsMu.Unlock()
			return rec.DisplayLabel(), true
		}
	}

	if err := s.store.Put(entry.Table, rec); err != nil {
		logging.Error("Failed to apply remote upsert", err, map[string]interface{}{
			"record_id": rec.RecordID(), "table": entry.Table,
		})
		return "", false
	}

	s.statsMu.Lock()
	s.applied++
	s.statsMu.Unlock()
	return rec.DisplayLabel(), true
}

// applyDelete resolves a label from the local copy before removing it, since
// delete entries may omit field data. Deleting an absent record is a no-op.
func (s *Subscriber) applyDelete(entry *models.ChangeLogEntry) (string, bool) {
	lock := s.lockFor(entry.RecordID)
	lock.Lock()
	defer lock.Unlock()

	label := s.resolveLabel(entry)

	if err := s.store.Delete(entry.Table, entry.RecordID); err != nil {
		logging.Error("Failed to apply remote delete", err, map[string]interface{}{
			"record_id": entry.RecordID, "table": entry.Table,
		})
		return "", false
	}

	s.statsMu.Lock()
	s.applied++
	s.statsMu.Unlock()
	return label, true
}

// resolveLabel prefers the local copy's label, falling back to the delete
// entry's oldValues when the record is already gone locally.
func (s *Subscriber) resolveLabel(entry *models.ChangeLogEntry) string {
	if rec, err := s.store.Get(entry.Table, entry.RecordID); err == nil {
		return rec.DisplayLabel()
	}
	if entry.OldValues != nil {
		if rec, err := mapping.MapRecord(entry.Table, entry.OldValues,
			entry.RecordID, entry.BandID, entry.OccurredAtTime()); err == nil {
			return rec.DisplayLabel()
		}
	}
	return string(entry.RecordID)
}

// maybeToast queues a notification for policy-allowed types. Self-originated
// changes are applied to local state but never surface a toast.
func (s *Subscriber) maybeToast(entry *models.ChangeLogEntry, label string) {
	if s.batcher == nil || !s.batcher.Allows(entry.Table) {
		return
	}
	if entry.ActorID == "" || entry.ActorID == s.actor() {
		return
	}
	s.batcher.Queue(entry.ActorID, entry.ActorName, entry.Action, entry.Table, label)
}

func (s *Subscriber) actor() models.UUID {
	s.actorMu.Lock()
	defer s.actorMu.Unlock()
	return s.actorID
}

// UnsubscribeAll tears down every channel and clears subscription state.
// Safe to call when nothing is subscribed.
func (s *Subscriber) UnsubscribeAll() {
	s.subMu.Lock()
	defer s.subMu.Unlock()

	s.teardownLocked()
	s.knownScopes = make(map[models.UUID]bool)
}

// Reconnect tears down and re-establishes every previously known scope.
// Safe to call repeatedly; connected becomes true again only once at least
// one channel confirms.
func (s *Subscriber) Reconnect(ctx context.Context) {
	s.subMu.Lock()
	defer s.subMu.Unlock()

	s.teardownLocked()
	for scope := range s.knownScopes {
		s.openChannel(ctx, scope)
	}
}

// teardownLocked closes all channels. Caller holds subMu. A handle without a
// working close path is treated as already cancelled.
func (s *Subscriber) teardownLocked() {
	for scope, ch := range s.channels {
		if ch != nil {
			if err := ch.Close(); err != nil {
				logging.Debug("Channel close failed", map[string]interface{}{
					"scope": scope, "error": err.Error(),
				})
			}
		}
		s.sup.MarkUnsubscribed(scope)
		delete(s.channels, scope)
	}
}

// Connected reports whether at least one scope channel is live.
func (s *Subscriber) Connected() bool {
	return s.sup.Connected()
}

// Diagnostics returns a read-only snapshot for observability tooling.
func (s *Subscriber) Diagnostics() Diagnostics {
	s.statsMu.Lock()
	diag := Diagnostics{
		MessagesReceived: s.messages,
		MalformedEntries: s.malformed,
		Applied:          s.applied,
		SkippedStale:     s.stale,
		LastMessageAt:    s.lastMsgAt,
	}
	s.statsMu.Unlock()

	diag.Connected = s.sup.Connected()
	diag.Scopes = s.sup.Snapshot()
	return diag
}

func (s *Subscriber) lockFor(id models.UUID) *sync.Mutex {
	h := fnv.New32a()
	h.Write([]byte(id))
	return &s.recordLocks[h.Sum32()%lockStripes]
}
