// Package sync assembles the synchronization engine: the durable outbound
// mutation queue, the change-log subscriber, the notification batcher and the
// typed event bus, constructed explicitly and injected where needed — there
// is no package-level engine state.
package sync

import (
	"context"
	"time"

	"github.com/backline-app/backline/internal/events"
	"github.com/backline-app/backline/internal/logging"
	"github.com/backline-app/backline/internal/models"
	"github.com/backline-app/backline/internal/store"
	"github.com/backline-app/backline/internal/sync/changelog"
	"github.com/backline-app/backline/internal/sync/mapping"
	"github.com/backline-app/backline/internal/sync/notify"
	"github.com/backline-app/backline/internal/sync/queue"
	"github.com/backline-app/backline/internal/sync/transport"
)

// Engine owns the full sync pipeline for one device/actor.
type Engine struct {
	store      *store.Store
	bus        *events.Bus
	queue      *queue.Queue
	subscriber *changelog.Subscriber
	batcher    *notify.Batcher

	actorID models.UUID
	scopes  []models.UUID

	cancel context.CancelFunc
}

// Options configures an Engine.
type Options struct {
	Store     *store.Store
	Bus       *events.Bus
	Feed      transport.Feed
	Pusher    transport.Pusher
	Validator queue.Validator

	ActorID models.UUID
	Scopes  []models.UUID

	Queue         queue.Config
	ToastDebounce time.Duration // 0 uses the default window
	ToastPolicy   map[models.RecordType]bool
}

// New wires an Engine from its collaborators. Call Start to go live.
func New(opts Options) *Engine {
	batcher := notify.NewBatcher(opts.Bus, opts.ToastDebounce, opts.ToastPolicy)

	return &Engine{
		store:      opts.Store,
		bus:        opts.Bus,
		queue:      queue.New(opts.Store, opts.Pusher, opts.Validator, opts.Bus, opts.Queue),
		subscriber: changelog.NewSubscriber(opts.Feed, opts.Store, opts.Bus, batcher),
		batcher:    batcher,
		actorID:    opts.ActorID,
		scopes:     opts.Scopes,
	}
}

// Start restores the persisted queue, subscribes to every configured scope
// and begins the periodic flush loop.
func (e *Engine) Start(ctx context.Context) error {
	ctx, e.cancel = context.WithCancel(ctx)

	if err := e.queue.Start(ctx); err != nil {
		return err
	}
	e.subscriber.Subscribe(ctx, e.actorID, e.scopes)

	logging.Info("Sync engine started", map[string]interface{}{
		"actor_id": e.actorID, "scopes": len(e.scopes),
	})
	return nil
}

// Close tears the engine down: unsubscribes every scope, stops the flush
// loop and cancels pending toast windows. Pending changes stay persisted.
func (e *Engine) Close() {
	if e.cancel != nil {
		e.cancel()
	}
	e.subscriber.UnsubscribeAll()
	e.batcher.Close()
	e.queue.Close()
	logging.Info("Sync engine stopped", nil)
}

// Mutate records a local write: the record is applied to the local store
// first, then queued for the cloud. Errors from the local write are returned
// synchronously; the push happens in the background.
func (e *Engine) Mutate(ctx context.Context, t models.RecordType, op models.Operation, rec models.Record) error {
	switch op {
	case models.OperationDelete:
		if err := e.store.Delete(t, rec.RecordID()); err != nil {
			return err
		}
	default:
		if err := e.store.Put(t, rec); err != nil {
			return err
		}
	}

	payload, err := e.payloadFor(t, op, rec)
	if err != nil {
		return err
	}
	if _, err := e.queue.Enqueue(ctx, t, op, payload); err != nil {
		return err
	}

	e.bus.PublishRecordChanged(events.RecordChanged{
		Scope:      rec.Scope(),
		RecordType: t,
		Action:     actionFor(op),
		RecordID:   rec.RecordID(),
	})
	return nil
}

func (e *Engine) payloadFor(t models.RecordType, op models.Operation, rec models.Record) (map[string]interface{}, error) {
	if op == models.OperationDelete {
		return map[string]interface{}{
			"id":      string(rec.RecordID()),
			"band_id": string(rec.Scope()),
		}, nil
	}
	return mapping.UnmapRecord(t, rec)
}

// SetOnline forwards a connectivity transition to the queue and, on
// reconnect, re-establishes the change-log channels.
func (e *Engine) SetOnline(ctx context.Context, online bool) {
	e.queue.SetOnline(ctx, online)
	if online && !e.subscriber.Connected() {
		e.subscriber.Reconnect(ctx)
	}
}

// Flush triggers an immediate queue flush.
func (e *Engine) Flush(ctx context.Context) bool {
	return e.queue.Flush(ctx)
}

// Status combines queue and subscription state.
func (e *Engine) Status() events.SyncStatus {
	qs := e.queue.Status()
	status := events.SyncStatus{
		PendingCount: qs.PendingCount,
		IsOnline:     qs.IsOnline,
		InProgress:   qs.InProgress,
		Connected:    e.subscriber.Connected(),
	}
	if !qs.LastSyncTime.IsZero() {
		status.LastSyncTime = qs.LastSyncTime.Unix()
	}
	return status
}

// Diagnostics exposes subscriber health for observability tooling.
func (e *Engine) Diagnostics() changelog.Diagnostics {
	return e.subscriber.Diagnostics()
}

// DeadLetters returns the dead-letter archive.
func (e *Engine) DeadLetters() ([]*models.DeadLetter, error) {
	return e.queue.DeadLetters()
}

func actionFor(op models.Operation) models.ChangeAction {
	switch op {
	case models.OperationCreate:
		return models.ActionInsert
	case models.OperationDelete:
		return models.ActionDelete
	default:
		return models.ActionUpdate
	}
}
