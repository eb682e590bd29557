// Package queue tests with fake pusher and validator implementations.
package queue

import (
	"context"
	"sync"
	"testing"
	"time"

	apperrors "github.com/backline-app/backline/internal/errors"
	"github.com/backline-app/backline/internal/events"
	"github.com/backline-app/backline/internal/models"
	"github.com/backline-app/backline/internal/store"
)

// fakePusher records every push and answers from a scripted error.
type fakePusher struct {
	mu     sync.Mutex
	pushed []models.UUID
	err    error
}

func (p *fakePusher) Push(ctx context.Context, change *models.PendingChange) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pushed = append(p.pushed, change.ID)
	return p.err
}

func (p *fakePusher) calls() []models.UUID {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]models.UUID, len(p.pushed))
	copy(out, p.pushed)
	return out
}

// fakeValidator rejects payloads carrying the "reject" key.
type fakeValidator struct{}

func (fakeValidator) Validate(t models.RecordType, op models.Operation, payload map[string]interface{}) error {
	if _, bad := payload["reject"]; bad {
		return apperrors.New(apperrors.ErrValidation, "payload rejected by schema")
	}
	return nil
}

func newTestQueue(t *testing.T, pusher *fakePusher, bus *events.Bus) (*Queue, *store.Store) {
	t.Helper()
	db, err := store.OpenMemory()
	if err != nil {
		t.Fatalf("OpenMemory failed: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	st := store.NewStore(db.DB)

	q := New(st, pusher, fakeValidator{}, bus, Config{
		MaxRetries:    3,
		FlushInterval: time.Hour, // keep the ticker out of tests
		PushTimeout:   time.Second,
	})
	return q, st
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal(msg)
}

// TestOfflineEnqueueThenReconnect verifies changes queued offline are pushed
// exactly once, in enqueue order, after connectivity returns.
func TestOfflineEnqueueThenReconnect(t *testing.T) {
	ctx := context.Background()
	pusher := &fakePusher{}
	q, _ := newTestQueue(t, pusher, nil)

	q.SetOnline(ctx, false)

	var ids []models.UUID
	for _, title := range []string{"one", "two", "three"} {
		change, err := q.Enqueue(ctx, models.RecordTypeSong, models.OperationCreate,
			map[string]interface{}{"id": title, "title": title})
		if err != nil {
			t.Fatalf("Enqueue failed: %v", err)
		}
		ids = append(ids, change.ID)
	}

	if got := len(pusher.calls()); got != 0 {
		t.Fatalf("pushed %d changes while offline, want 0", got)
	}
	if q.PendingCount() != 3 {
		t.Fatalf("PendingCount = %d, want 3", q.PendingCount())
	}

	q.SetOnline(ctx, true)

	waitFor(t, func() bool { return q.PendingCount() == 0 }, "queue never drained after reconnect")

	pushed := pusher.calls()
	if len(pushed) != 3 {
		t.Fatalf("pushed %d changes, want exactly 3", len(pushed))
	}
	for i, id := range ids {
		if pushed[i] != id {
			t.Errorf("push order[%d] = %s, want %s", i, pushed[i], id)
		}
	}
}

// TestFlushReturnsFalseOffline verifies a flush never runs while offline.
func TestFlushReturnsFalseOffline(t *testing.T) {
	ctx := context.Background()
	pusher := &fakePusher{}
	q, _ := newTestQueue(t, pusher, nil)

	q.SetOnline(ctx, false)
	q.Enqueue(ctx, models.RecordTypeSong, models.OperationCreate,
		map[string]interface{}{"id": "s-1"})

	if q.Flush(ctx) {
		t.Error("Flush should return false while offline")
	}
	if len(pusher.calls()) != 0 {
		t.Error("Flush pushed while offline")
	}
}

// TestRetryBudget verifies a transiently failing change is retried up to the
// budget and then dead-lettered, leaving the active queue empty.
func TestRetryBudget(t *testing.T) {
	ctx := context.Background()
	pusher := &fakePusher{err: apperrors.New(apperrors.ErrSyncTransient, "cloud unreachable")}
	q, _ := newTestQueue(t, pusher, nil)

	q.SetOnline(ctx, false)
	q.Enqueue(ctx, models.RecordTypeShow, models.OperationUpdate,
		map[string]interface{}{"id": "sh-1"})
	q.SetOnline(ctx, true)

	// Each pass adds one attempt; the third exhausts the budget.
	waitFor(t, func() bool {
		q.Flush(ctx)
		return q.PendingCount() == 0
	}, "change never left the active queue")

	letters, err := q.DeadLetters()
	if err != nil {
		t.Fatalf("DeadLetters failed: %v", err)
	}
	if len(letters) != 1 {
		t.Fatalf("dead letters = %d, want 1", len(letters))
	}
	if letters[0].AttemptCount != 3 {
		t.Errorf("AttemptCount = %d, want 3", letters[0].AttemptCount)
	}
	if len(pusher.calls()) != 3 {
		t.Errorf("push attempts = %d, want 3", len(pusher.calls()))
	}
}

// TestRejectionIsTerminal verifies a cloud rejection dead-letters on the
// first attempt with no retries.
func TestRejectionIsTerminal(t *testing.T) {
	ctx := context.Background()
	pusher := &fakePusher{err: apperrors.New(apperrors.ErrSyncRejected, "409 from cloud")}
	q, _ := newTestQueue(t, pusher, nil)

	q.SetOnline(ctx, false)
	q.Enqueue(ctx, models.RecordTypeSong, models.OperationCreate,
		map[string]interface{}{"id": "s-1"})
	q.SetOnline(ctx, true)

	waitFor(t, func() bool { return q.PendingCount() == 0 }, "rejected change never removed")

	if len(pusher.calls()) != 1 {
		t.Errorf("push attempts = %d, want exactly 1", len(pusher.calls()))
	}
	letters, _ := q.DeadLetters()
	if len(letters) != 1 {
		t.Fatalf("dead letters = %d, want 1", len(letters))
	}
}

// TestValidationFailureSkipsPush verifies schema violations dead-letter
// before any network attempt.
func TestValidationFailureSkipsPush(t *testing.T) {
	ctx := context.Background()
	pusher := &fakePusher{}
	q, _ := newTestQueue(t, pusher, nil)

	q.SetOnline(ctx, false)
	q.Enqueue(ctx, models.RecordTypeSong, models.OperationCreate,
		map[string]interface{}{"id": "s-1", "reject": true})
	q.SetOnline(ctx, true)

	waitFor(t, func() bool { return q.PendingCount() == 0 }, "invalid change never removed")

	if len(pusher.calls()) != 0 {
		t.Errorf("push attempts = %d, want 0 for invalid payload", len(pusher.calls()))
	}
	letters, _ := q.DeadLetters()
	if len(letters) != 1 {
		t.Fatalf("dead letters = %d, want 1", len(letters))
	}
}

// TestFailedChangeDoesNotBlockQueue verifies one failing change lets the
// changes behind it flush in the same pass.
func TestFailedChangeDoesNotBlockQueue(t *testing.T) {
	ctx := context.Background()
	pusher := &fakePusher{}
	q, _ := newTestQueue(t, pusher, nil)

	q.SetOnline(ctx, false)
	// First change fails validation, second is clean.
	q.Enqueue(ctx, models.RecordTypeSong, models.OperationCreate,
		map[string]interface{}{"id": "bad", "reject": true})
	clean, _ := q.Enqueue(ctx, models.RecordTypeSong, models.OperationCreate,
		map[string]interface{}{"id": "good"})
	q.SetOnline(ctx, true)

	waitFor(t, func() bool { return q.PendingCount() == 0 }, "queue never drained")

	pushed := pusher.calls()
	if len(pushed) != 1 || pushed[0] != clean.ID {
		t.Errorf("pushed = %v, want only the clean change %s", pushed, clean.ID)
	}
}

// TestEnqueueUnknownType verifies unknown record types are refused.
func TestEnqueueUnknownType(t *testing.T) {
	q, _ := newTestQueue(t, &fakePusher{}, nil)

	_, err := q.Enqueue(context.Background(), "albums", models.OperationCreate,
		map[string]interface{}{"id": "x"})
	if !apperrors.Is(err, apperrors.ErrUnknownTable) {
		t.Errorf("Enqueue error = %v, want ErrUnknownTable", err)
	}
}

// TestQueueSurvivesRestart verifies persisted changes reload on Start and
// flush after the restart.
func TestQueueSurvivesRestart(t *testing.T) {
	ctx := context.Background()
	db, err := store.OpenMemory()
	if err != nil {
		t.Fatalf("OpenMemory failed: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	st := store.NewStore(db.DB)

	cfg := Config{MaxRetries: 3, FlushInterval: time.Hour, PushTimeout: time.Second}

	first := New(st, &fakePusher{}, fakeValidator{}, nil, cfg)
	first.SetOnline(ctx, false)
	first.Enqueue(ctx, models.RecordTypeSong, models.OperationCreate,
		map[string]interface{}{"id": "s-1", "title": "survivor"})
	first.Enqueue(ctx, models.RecordTypeShow, models.OperationDelete,
		map[string]interface{}{"id": "sh-1"})

	// Simulated restart: a fresh queue over the same database.
	pusher := &fakePusher{}
	second := New(st, pusher, fakeValidator{}, nil, cfg)
	if err := second.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	t.Cleanup(second.Close)

	if second.PendingCount() != 2 {
		t.Fatalf("PendingCount after restart = %d, want 2", second.PendingCount())
	}

	if !second.Flush(ctx) {
		t.Error("Flush should drain the restored queue")
	}
	if len(pusher.calls()) != 2 {
		t.Errorf("pushed %d restored changes, want 2", len(pusher.calls()))
	}
}

// TestStatusEvents verifies status publications reflect queue transitions.
func TestStatusEvents(t *testing.T) {
	ctx := context.Background()
	bus := events.NewBus()

	var mu sync.Mutex
	var statuses []events.SyncStatus
	bus.SubscribeSyncStatus(func(ev events.SyncStatus) {
		mu.Lock()
		statuses = append(statuses, ev)
		mu.Unlock()
	})

	pusher := &fakePusher{}
	q, _ := newTestQueue(t, pusher, bus)

	q.SetOnline(ctx, false)
	q.Enqueue(ctx, models.RecordTypeSong, models.OperationCreate,
		map[string]interface{}{"id": "s-1"})

	mu.Lock()
	sawOfflinePending := false
	for _, ev := range statuses {
		if !ev.IsOnline && ev.PendingCount == 1 {
			sawOfflinePending = true
		}
	}
	mu.Unlock()
	if !sawOfflinePending {
		t.Error("no status event showed offline with one pending change")
	}

	q.SetOnline(ctx, true)
	waitFor(t, func() bool { return q.PendingCount() == 0 }, "queue never drained")

	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		for _, ev := range statuses {
			if ev.IsOnline && ev.PendingCount == 0 && ev.LastSyncTime != 0 {
				return true
			}
		}
		return false
	}, "no status event showed the drained online queue")
}
