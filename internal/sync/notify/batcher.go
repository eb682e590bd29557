// Package notify coalesces bursts of inbound changes into at most one toast
// per actor within a debounce window, so a remote bandmate's bulk edit
// surfaces as a single notification instead of one per field write.
package notify

import (
	"fmt"
	"sync"
	"time"

	"github.com/backline-app/backline/internal/events"
	"github.com/backline-app/backline/internal/models"
)

// DefaultDebounce is the batching window.
const DefaultDebounce = 2 * time.Second

// DefaultPolicy lists the record types that surface toasts. Schedule-type
// records only: high-frequency song and setlist edits would fatigue users.
func DefaultPolicy() map[models.RecordType]bool {
	return map[models.RecordType]bool{
		models.RecordTypeShow:            true,
		models.RecordTypePracticeSession: true,
	}
}

type pendingChange struct {
	action     models.ChangeAction
	recordType models.RecordType
	label      string
}

type pendingToast struct {
	actorName   string
	changes     []pendingChange
	firstSeenAt time.Time
	timer       *time.Timer
}

// Batcher accumulates per-actor pending toasts and flushes each actor's
// batch once their window elapses. Purely advisory: it never touches the
// data path.
type Batcher struct {
	bus      *events.Bus
	debounce time.Duration
	policy   map[models.RecordType]bool

	mu      sync.Mutex
	pending map[models.UUID]*pendingToast
	closed  bool
}

// NewBatcher creates a Batcher publishing to bus. A nil policy uses
// DefaultPolicy; a non-positive debounce uses DefaultDebounce.
func NewBatcher(bus *events.Bus, debounce time.Duration, policy map[models.RecordType]bool) *Batcher {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	if policy == nil {
		policy = DefaultPolicy()
	}
	return &Batcher{
		bus:      bus,
		debounce: debounce,
		policy:   policy,
		pending:  make(map[models.UUID]*pendingToast),
	}
}

// Allows reports whether t's changes surface toasts under the policy.
func (b *Batcher) Allows(t models.RecordType) bool {
	return b.policy[t]
}

// Queue adds one change to the actor's pending toast, starting the actor's
// window on their first change.
func (b *Batcher) Queue(actorID models.UUID, actorName string,
	action models.ChangeAction, recordType models.RecordType, label string) {

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}

	toast, ok := b.pending[actorID]
	if !ok {
		toast = &pendingToast{
			actorName:   actorName,
			firstSeenAt: time.Now(),
		}
		toast.timer = time.AfterFunc(b.debounce, func() {
			b.flush(actorID)
		})
		b.pending[actorID] = toast
	}
	if actorName != "" {
		toast.actorName = actorName
	}
	toast.changes = append(toast.changes, pendingChange{
		action:     action,
		recordType: recordType,
		label:      label,
	})
}

// flush emits the actor's toast and clears their pending state.
func (b *Batcher) flush(actorID models.UUID) {
	b.mu.Lock()
	toast, ok := b.pending[actorID]
	if ok {
		delete(b.pending, actorID)
	}
	b.mu.Unlock()

	if !ok || len(toast.changes) == 0 {
		return
	}

	b.bus.PublishToast(events.Toast{
		Message: renderMessage(toast),
		Type:    events.ToastInfo,
	})
}

// Close cancels every pending window without emitting.
func (b *Batcher) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	for actorID, toast := range b.pending {
		toast.timer.Stop()
		delete(b.pending, actorID)
	}
}

// PendingActors returns how many actors have an open window. For tests and
// diagnostics.
func (b *Batcher) PendingActors() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pending)
}

func renderMessage(toast *pendingToast) string {
	actor := toast.actorName
	if actor == "" {
		actor = "A bandmate"
	}
	if len(toast.changes) == 1 {
		c := toast.changes[0]
		return fmt.Sprintf("%s %s '%s'", actor, verb(c.action), c.label)
	}
	return fmt.Sprintf("%d changes by %s", len(toast.changes), actor)
}

func verb(action models.ChangeAction) string {
	switch action {
	case models.ActionInsert:
		return "added"
	case models.ActionUpdate:
		return "updated"
	case models.ActionDelete:
		return "removed"
	default:
		return "changed"
	}
}
