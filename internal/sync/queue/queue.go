// Package queue provides the durable outbound mutation queue: every local
// write waits here until the cloud confirms it, surviving restarts and
// offline stretches, with bounded retries and a dead-letter archive.
package queue

import (
	"context"
	"sync"
	"time"

	apperrors "github.com/backline-app/backline/internal/errors"
	"github.com/backline-app/backline/internal/events"
	"github.com/backline-app/backline/internal/logging"
	"github.com/backline-app/backline/internal/models"
	"github.com/backline-app/backline/internal/store"
	"github.com/backline-app/backline/internal/sync/transport"
	"github.com/backline-app/backline/internal/uuid"
)

// Validator checks a payload before any push attempt. Violations are
// terminal: the change is dead-lettered on first failure.
type Validator interface {
	Validate(t models.RecordType, op models.Operation, payload map[string]interface{}) error
}

// Status is a read-only snapshot of queue state for UI and diagnostics.
type Status struct {
	LastSyncTime time.Time
	PendingCount int
	IsOnline     bool
	InProgress   bool
}

// Queue is the durable outbound mutation queue. Changes are flushed in FIFO
// enqueue order; a failed item is retried on a later pass and never blocks
// the items behind it within the same pass.
type Queue struct {
	store     *store.Store
	pusher    transport.Pusher
	validator Validator
	bus       *events.Bus

	maxRetries    int
	flushInterval time.Duration
	pushTimeout   time.Duration

	mu         sync.Mutex
	items      []*models.PendingChange
	isOnline   bool
	inProgress bool
	lastSync   time.Time

	stopCh  chan struct{}
	wg      sync.WaitGroup
	started bool
}

// Config holds queue tunables.
type Config struct {
	MaxRetries    int
	FlushInterval time.Duration
	PushTimeout   time.Duration
}

// DefaultConfig returns the default queue configuration.
func DefaultConfig() Config {
	return Config{
		MaxRetries:    3,
		FlushInterval: 30 * time.Second,
		PushTimeout:   15 * time.Second,
	}
}

// New creates a Queue. Call Start before use.
func New(st *store.Store, pusher transport.Pusher, validator Validator, bus *events.Bus, cfg Config) *Queue {
	if cfg.MaxRetries < 1 {
		cfg.MaxRetries = 3
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = 30 * time.Second
	}
	if cfg.PushTimeout <= 0 {
		cfg.PushTimeout = 15 * time.Second
	}
	return &Queue{
		store:         st,
		pusher:        pusher,
		validator:     validator,
		bus:           bus,
		maxRetries:    cfg.MaxRetries,
		flushInterval: cfg.FlushInterval,
		pushTimeout:   cfg.PushTimeout,
		stopCh:        make(chan struct{}),
		isOnline:      true,
	}
}

// Start loads persisted pending changes and begins the periodic flush loop.
func (q *Queue) Start(ctx context.Context) error {
	q.mu.Lock()
	if q.started {
		q.mu.Unlock()
		return nil
	}
	q.started = true
	q.mu.Unlock()

	persisted, err := q.store.LoadPendingChanges()
	if err != nil {
		return err
	}
	q.mu.Lock()
	q.items = persisted
	q.mu.Unlock()

	if len(persisted) > 0 {
		logging.Info("Restored pending changes from disk",
			map[string]interface{}{"count": len(persisted)})
	}

	q.wg.Add(1)
	go q.flushLoop(ctx)
	return nil
}

// Close stops the flush loop. Pending changes stay persisted for next start.
func (q *Queue) Close() {
	q.mu.Lock()
	if !q.started {
		q.mu.Unlock()
		return
	}
	q.started = false
	q.mu.Unlock()

	close(q.stopCh)
	q.wg.Wait()
}

// Enqueue appends a local mutation and persists it, then flushes
// asynchronously when online. Offline enqueues wait for reconnect.
func (q *Queue) Enqueue(ctx context.Context, t models.RecordType, op models.Operation,
	payload map[string]interface{}) (*models.PendingChange, error) {

	if !models.IsKnownRecordType(t) {
		return nil, apperrors.New(apperrors.ErrUnknownTable, "unknown record type "+string(t))
	}

	change := &models.PendingChange{
		ID:         models.UUID(uuid.New()),
		RecordType: t,
		Operation:  op,
		Payload:    payload,
		EnqueuedAt: time.Now().Unix(),
	}

	if err := q.store.SavePendingChange(change); err != nil {
		return nil, err
	}

	q.mu.Lock()
	q.items = append(q.items, change)
	online := q.isOnline
	q.mu.Unlock()

	logging.Debug("Enqueued local change", map[string]interface{}{
		"id": change.ID, "record_type": t, "operation": op,
	})
	q.publishStatus()

	if online {
		go q.Flush(ctx)
	}
	return change, nil
}

// Flush attempts to push every queued change, oldest first. Returns false
// without doing anything when offline, already flushing, or empty. Returns
// true when the pass left the queue empty.
func (q *Queue) Flush(ctx context.Context) bool {
	q.mu.Lock()
	if !q.isOnline || q.inProgress || len(q.items) == 0 {
		q.mu.Unlock()
		return false
	}
	q.inProgress = true
	pass := make([]*models.PendingChange, len(q.items))
	copy(pass, q.items)
	q.mu.Unlock()

	q.publishStatus()

	for _, change := range pass {
		select {
		case <-ctx.Done():
			q.endFlush()
			return false
		case <-q.stopCh:
			q.endFlush()
			return false
		default:
		}
		q.pushOne(ctx, change)
	}

	q.mu.Lock()
	q.lastSync = time.Now()
	empty := len(q.items) == 0
	q.inProgress = false
	q.mu.Unlock()

	q.publishStatus()
	return empty
}

func (q *Queue) endFlush() {
	q.mu.Lock()
	q.inProgress = false
	q.mu.Unlock()
	q.publishStatus()
}

// pushOne validates and pushes a single change, updating queue state by
// outcome. A failure here never aborts the rest of the pass.
func (q *Queue) pushOne(ctx context.Context, change *models.PendingChange) {
	if err := q.validator.Validate(change.RecordType, change.Operation, change.Payload); err != nil {
		// Schema violations cannot heal on retry.
		q.deadLetter(change, err)
		return
	}

	pushCtx, cancel := context.WithTimeout(ctx, q.pushTimeout)
	err := q.pusher.Push(pushCtx, change)
	cancel()

	if err == nil {
		q.confirm(change)
		return
	}

	if apperrors.IsRejection(err) {
		q.deadLetter(change, err)
		return
	}

	change.AttemptCount++
	if change.AttemptCount >= q.maxRetries {
		q.deadLetter(change, apperrors.Wrap(apperrors.ErrSyncDeadLetter,
			"retries exhausted", err))
		return
	}

	if saveErr := q.store.SavePendingChange(change); saveErr != nil {
		logging.Error("Failed to persist attempt count", saveErr,
			map[string]interface{}{"id": change.ID})
	}
	logging.Warn("Push failed, will retry", map[string]interface{}{
		"id": change.ID, "record_type": change.RecordType,
		"attempt": change.AttemptCount, "max_retries": q.maxRetries,
		"error": err.Error(),
	})
}

// confirm removes a successfully pushed change.
func (q *Queue) confirm(change *models.PendingChange) {
	if err := q.store.DeletePendingChange(change.ID); err != nil {
		logging.Error("Failed to delete confirmed change", err,
			map[string]interface{}{"id": change.ID})
	}
	q.remove(change.ID)
	logging.Debug("Change confirmed by cloud", map[string]interface{}{
		"id": change.ID, "record_type": change.RecordType,
	})
}

// deadLetter archives a terminal change. Dead letters are logged and kept
// for diagnostics, never silently dropped and never retried.
func (q *Queue) deadLetter(change *models.PendingChange, cause error) {
	letter := &models.DeadLetter{
		ID:           change.ID,
		RecordType:   change.RecordType,
		Operation:    change.Operation,
		Payload:      change.Payload,
		Reason:       cause.Error(),
		AttemptCount: change.AttemptCount,
		FailedAt:     time.Now().Unix(),
	}
	if err := q.store.InsertDeadLetter(letter); err != nil {
		logging.Error("Failed to archive dead letter", err,
			map[string]interface{}{"id": change.ID})
	}
	q.remove(change.ID)
	logging.ErrorWithCode("Change moved to dead letter",
		string(apperrors.ErrSyncDeadLetter), cause,
		map[string]interface{}{
			"id": change.ID, "record_type": change.RecordType,
			"operation": change.Operation, "attempts": change.AttemptCount,
		})
}

func (q *Queue) remove(id models.UUID) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i, item := range q.items {
		if item.ID == id {
			q.items = append(q.items[:i], q.items[i+1:]...)
			return
		}
	}
}

// SetOnline records a connectivity transition and flushes on reconnect.
func (q *Queue) SetOnline(ctx context.Context, online bool) {
	q.mu.Lock()
	wasOnline := q.isOnline
	q.isOnline = online
	q.mu.Unlock()

	if wasOnline != online {
		logging.Info("Connectivity changed", map[string]interface{}{
			"was_online": wasOnline, "is_online": online,
		})
		q.publishStatus()
	}
	if !wasOnline && online {
		go q.Flush(ctx)
	}
}

// Status returns a read-only snapshot.
func (q *Queue) Status() Status {
	q.mu.Lock()
	defer q.mu.Unlock()
	return Status{
		LastSyncTime: q.lastSync,
		PendingCount: len(q.items),
		IsOnline:     q.isOnline,
		InProgress:   q.inProgress,
	}
}

// PendingCount returns the number of unconfirmed changes.
func (q *Queue) PendingCount() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// DeadLetters returns archived changes for diagnostics.
func (q *Queue) DeadLetters() ([]*models.DeadLetter, error) {
	return q.store.ListDeadLetters()
}

// flushLoop periodically flushes whenever online and non-empty.
func (q *Queue) flushLoop(ctx context.Context) {
	defer q.wg.Done()

	ticker := time.NewTicker(q.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-q.stopCh:
			return
		case <-ticker.C:
			q.Flush(ctx)
		}
	}
}

func (q *Queue) publishStatus() {
	if q.bus == nil {
		return
	}
	q.mu.Lock()
	ev := events.SyncStatus{
		PendingCount: len(q.items),
		IsOnline:     q.isOnline,
		InProgress:   q.inProgress,
	}
	if !q.lastSync.IsZero() {
		ev.LastSyncTime = q.lastSync.Unix()
	}
	q.mu.Unlock()
	q.bus.PublishSyncStatus(ev)
}
