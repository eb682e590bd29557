package sync

import (
	"context"
	"sync"
	"testing"
	"time"

	apperrors "github.com/backline-app/backline/internal/errors"
	"github.com/backline-app/backline/internal/events"
	"github.com/backline-app/backline/internal/models"
	"github.com/backline-app/backline/internal/store"
	"github.com/backline-app/backline/internal/sync/queue"
	"github.com/backline-app/backline/internal/sync/transport"
)

type enginePusher struct {
	mu     sync.Mutex
	pushed []*models.PendingChange
}

func (p *enginePusher) Push(ctx context.Context, change *models.PendingChange) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pushed = append(p.pushed, change)
	return nil
}

func (p *enginePusher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.pushed)
}

type passValidator struct{}

func (passValidator) Validate(t models.RecordType, op models.Operation, payload map[string]interface{}) error {
	return nil
}

type stubChannel struct{}

func (stubChannel) Close() error { return nil }

type stubFeed struct {
	mu         sync.Mutex
	subscribes []models.UUID
}

func (f *stubFeed) Subscribe(ctx context.Context, scope models.UUID, onEntry transport.EntryHandler, onStatus transport.StatusHandler) (transport.Channel, error) {
	f.mu.Lock()
	f.subscribes = append(f.subscribes, scope)
	f.mu.Unlock()
	onStatus(scope, true, nil)
	return stubChannel{}, nil
}

func newTestEngine(t *testing.T) (*Engine, *store.Store, *enginePusher, *events.Bus) {
	t.Helper()
	db, err := store.OpenMemory()
	if err != nil {
		t.Fatalf("OpenMemory failed: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	st := store.NewStore(db.DB)
	bus := events.NewBus()
	pusher := &enginePusher{}

	eng := New(Options{
		Store:     st,
		Bus:       bus,
		Feed:      &stubFeed{},
		Pusher:    pusher,
		Validator: passValidator{},
		ActorID:   "actor-local",
		Scopes:    []models.UUID{"band-1"},
		Queue: queue.Config{
			MaxRetries:    3,
			FlushInterval: time.Hour,
			PushTimeout:   time.Second,
		},
	})
	if err := eng.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	t.Cleanup(eng.Close)
	// Start offline so enqueues stay deterministic until a test reconnects.
	eng.SetOnline(context.Background(), false)
	return eng, st, pusher, bus
}

func waitUntil(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

// TestMutateAppliesLocallyFirst verifies the local write lands before any
// push, and the change is durably queued.
func TestMutateAppliesLocallyFirst(t *testing.T) {
	eng, st, pusher, bus := newTestEngine(t)

	var gotEvents []events.RecordChanged
	bus.SubscribeAllRecords(func(ev events.RecordChanged) {
		gotEvents = append(gotEvents, ev)
	})

	song := &models.Song{ID: "s-1", BandID: "band-1", Title: "Slow Show", Version: 1}
	if err := eng.Mutate(context.Background(), models.RecordTypeSong, models.OperationCreate, song); err != nil {
		t.Fatalf("Mutate failed: %v", err)
	}

	got, err := st.Get(models.RecordTypeSong, "s-1")
	if err != nil {
		t.Fatalf("record not in local store: %v", err)
	}
	if got.(*models.Song).Title != "Slow Show" {
		t.Errorf("stored title = %q", got.(*models.Song).Title)
	}

	pending, err := st.LoadPendingChanges()
	if err != nil {
		t.Fatalf("LoadPendingChanges failed: %v", err)
	}
	if len(pending) != 1 {
		t.Fatalf("pending = %d, want 1", len(pending))
	}
	if pending[0].Operation != models.OperationCreate {
		t.Errorf("operation = %s", pending[0].Operation)
	}
	if pending[0].Payload["title"] != "Slow Show" {
		t.Errorf("payload title = %v", pending[0].Payload["title"])
	}

	if pusher.count() != 0 {
		t.Errorf("pushed %d changes while offline", pusher.count())
	}
	if len(gotEvents) != 1 || gotEvents[0].Action != models.ActionInsert {
		t.Errorf("events = %+v, want one insert", gotEvents)
	}
	if gotEvents[0].RecordID != "s-1" || gotEvents[0].Scope != "band-1" {
		t.Errorf("event identity = %+v", gotEvents[0])
	}
}

// TestMutateDeletePayload verifies deletes queue a minimal payload and remove
// the record locally.
func TestMutateDeletePayload(t *testing.T) {
	eng, st, _, _ := newTestEngine(t)

	song := &models.Song{ID: "s-1", BandID: "band-1", Title: "Placeholder", Version: 1}
	if err := st.Put(models.RecordTypeSong, song); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	if err := eng.Mutate(context.Background(), models.RecordTypeSong, models.OperationDelete, song); err != nil {
		t.Fatalf("Mutate failed: %v", err)
	}

	if _, err := st.Get(models.RecordTypeSong, "s-1"); !apperrors.Is(err, apperrors.ErrRecordNotFound) {
		t.Errorf("Get after delete = %v, want ErrRecordNotFound", err)
	}

	pending, err := st.LoadPendingChanges()
	if err != nil {
		t.Fatalf("LoadPendingChanges failed: %v", err)
	}
	if len(pending) != 1 {
		t.Fatalf("pending = %d, want 1", len(pending))
	}
	payload := pending[0].Payload
	if payload["id"] != "s-1" || payload["band_id"] != "band-1" {
		t.Errorf("delete payload = %v", payload)
	}
	if _, ok := payload["title"]; ok {
		t.Error("delete payload should not carry record fields")
	}
}

// TestSetOnlineDrainsQueue verifies queued mutations push in order once
// connectivity returns.
func TestSetOnlineDrainsQueue(t *testing.T) {
	eng, _, pusher, _ := newTestEngine(t)

	ctx := context.Background()
	for _, title := range []string{"First", "Second"} {
		song := &models.Song{ID: models.UUID("s-" + title), BandID: "band-1", Title: title, Version: 1}
		if err := eng.Mutate(ctx, models.RecordTypeSong, models.OperationCreate, song); err != nil {
			t.Fatalf("Mutate failed: %v", err)
		}
	}

	eng.SetOnline(ctx, true)
	waitUntil(t, func() bool { return pusher.count() == 2 })

	pusher.mu.Lock()
	first := pusher.pushed[0].Payload["title"]
	pusher.mu.Unlock()
	if first != "First" {
		t.Errorf("first push = %v, want FIFO order", first)
	}

	waitUntil(t, func() bool { return eng.Status().PendingCount == 0 })
	status := eng.Status()
	if !status.IsOnline {
		t.Error("status should report online")
	}
	if status.LastSyncTime == 0 {
		t.Error("LastSyncTime should be set after a successful flush")
	}
}

// TestStatusReportsConnection verifies the engine surfaces feed connectivity.
func TestStatusReportsConnection(t *testing.T) {
	eng, _, _, _ := newTestEngine(t)

	status := eng.Status()
	if !status.Connected {
		t.Error("feed subscribed at start; Connected should be true")
	}
	if status.PendingCount != 0 {
		t.Errorf("PendingCount = %d, want 0", status.PendingCount)
	}
}
