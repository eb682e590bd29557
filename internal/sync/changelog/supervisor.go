package changelog

import (
	"sync"

	"github.com/backline-app/backline/internal/logging"
	"github.com/backline-app/backline/internal/models"
)

// ScopeState is one step in a scope subscription's lifecycle.
type ScopeState string

const (
	StateUnsubscribed ScopeState = "unsubscribed"
	StateSubscribing  ScopeState = "subscribing"
	StateSubscribed   ScopeState = "subscribed"
	StateFailed       ScopeState = "failed"
)

// ScopeStats is a read-only snapshot of one scope's subscription health.
type ScopeStats struct {
	State     ScopeState
	Attempts  int
	Successes int
	Failures  int
}

// Supervisor tracks per-scope subscription state. Transitions:
//
//	Unsubscribed -> Subscribing -> Subscribed         on success
//	Subscribing  -> Failed      -> Subscribing        on retry
//	Subscribed   -> Unsubscribed                      on teardown or disconnect
//
// A scope may flap between Failed and Subscribing indefinitely; callers are
// responsible for releasing partial channel handles before re-attempting.
type Supervisor struct {
	mu     sync.Mutex
	scopes map[models.UUID]*scopeEntry
}

type scopeEntry struct {
	state     ScopeState
	attempts  int
	successes int
	failures  int
}

// NewSupervisor creates an empty Supervisor.
func NewSupervisor() *Supervisor {
	return &Supervisor{scopes: make(map[models.UUID]*scopeEntry)}
}

func (s *Supervisor) entry(scope models.UUID) *scopeEntry {
	e, ok := s.scopes[scope]
	if !ok {
		e = &scopeEntry{state: StateUnsubscribed}
		s.scopes[scope] = e
	}
	return e
}

// BeginAttempt marks a scope as subscribing and counts the attempt.
func (s *Supervisor) BeginAttempt(scope models.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e := s.entry(scope)
	e.state = StateSubscribing
	e.attempts++
}

// MarkSubscribed records a confirmed subscription.
func (s *Supervisor) MarkSubscribed(scope models.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e := s.entry(scope)
	e.state = StateSubscribed
	e.successes++
}

// MarkFailed records a failed attempt or a dropped channel.
func (s *Supervisor) MarkFailed(scope models.UUID, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e := s.entry(scope)
	e.state = StateFailed
	e.failures++

	logging.Warn("Scope subscription failed", map[string]interface{}{
		"scope":    scope,
		"failures": e.failures,
		"error":    errString(err),
	})
}

// MarkUnsubscribed records an explicit teardown.
func (s *Supervisor) MarkUnsubscribed(scope models.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entry(scope).state = StateUnsubscribed
}

// State returns the current state for a scope.
func (s *Supervisor) State(scope models.UUID) ScopeState {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.scopes[scope]; ok {
		return e.state
	}
	return StateUnsubscribed
}

// Connected reports whether at least one scope is live.
func (s *Supervisor) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.scopes {
		if e.state == StateSubscribed {
			return true
		}
	}
	return false
}

// Snapshot returns per-scope stats for diagnostics.
func (s *Supervisor) Snapshot() map[models.UUID]ScopeStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[models.UUID]ScopeStats, len(s.scopes))
	for scope, e := range s.scopes {
		out[scope] = ScopeStats{
			State:     e.state,
			Attempts:  e.attempts,
			Successes: e.successes,
			Failures:  e.failures,
		}
	}
	return out
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
