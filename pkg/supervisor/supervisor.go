// Package supervisor implements the actor supervision tree (spec §4.7):
// lifecycle, restart, and health of every per-session/per-user actor.
// Hierarchy: ApplicationSupervisor -> SessionSupervisor -> leaf
// supervisors (desktop/terminal/researcher), strategy one_for_one.
//
// Grounded on the teacher's pkg/queue/pool.go + pkg/queue/worker.go: a
// pool of workers with a per-worker health snapshot and pool-level
// Health() aggregation, generalized here into a restart-on-crash
// supervision tree instead of a flat worker pool.
package supervisor

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/choir-run/choir/pkg/eventlog"
)

// SupervisionEventCounts tallies observed supervision events, surfaced in
// GetHealth (spec §4.7).
type SupervisionEventCounts struct {
	Started    int
	Failed     int
	Terminated int
}

// Health is the snapshot returned by GetHealth.
type Health struct {
	EventBusHealthy         bool
	EventRelayHealthy       bool
	SessionSupervisorHealthy bool
	SupervisionEventCounts  SupervisionEventCounts
	LastSupervisionFailure  string
	PendingDelegations      int
}

// Actor is anything the tree supervises: it runs until ctx is cancelled
// or it returns an error. A leaf supervisor does not restart an actor that
// returns an error; it counts the failure and logs it, and the actor runs
// again only when Spawn is called for its id.
type Actor interface {
	Run(ctx context.Context) error
}

// LeafSupervisor owns the per-id worker actors for one role (researcher,
// terminal) or one desktop id.
type LeafSupervisor struct {
	name string

	mu       sync.Mutex
	children map[string]*supervisedActor
	counts   *SupervisionEventCounts
	events   eventlog.Store
	countsMu *sync.Mutex
}

type supervisedActor struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// NewLeafSupervisor constructs a leaf supervisor named name (e.g.
// "researcher", "terminal", or a desktop id).
func NewLeafSupervisor(name string, events eventlog.Store, counts *SupervisionEventCounts, countsMu *sync.Mutex) *LeafSupervisor {
	return &LeafSupervisor{name: name, children: make(map[string]*supervisedActor), events: events, counts: counts, countsMu: countsMu}
}

// Spawn starts (or restarts, one_for_one) a worker actor under this
// supervisor keyed by id.
func (l *LeafSupervisor) Spawn(ctx context.Context, id string, actor Actor) {
	l.mu.Lock()
	if existing, ok := l.children[id]; ok {
		existing.cancel()
	}
	childCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	l.children[id] = &supervisedActor{cancel: cancel, done: done}
	l.mu.Unlock()

	go func() {
		defer close(done)
		l.bump(func(c *SupervisionEventCounts) { c.Started++ })
		err := actor.Run(childCtx)
		if err != nil && childCtx.Err() == nil {
			l.bump(func(c *SupervisionEventCounts) { c.Failed++ })
			slog.Warn("supervisor: leaf actor failed, not auto-restarting without caller re-dispatch", "leaf", l.name, "id", id, "error", err)
		} else {
			l.bump(func(c *SupervisionEventCounts) { c.Terminated++ })
		}
	}()
}

// Cancel stops the actor keyed by id, if running.
func (l *LeafSupervisor) Cancel(id string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if a, ok := l.children[id]; ok {
		a.cancel()
		delete(l.children, id)
	}
}

func (l *LeafSupervisor) bump(f func(*SupervisionEventCounts)) {
	l.countsMu.Lock()
	f(l.counts)
	l.countsMu.Unlock()
}

// SessionSupervisor owns the per-session desktop/terminal/researcher leaf
// supervisors for one session_id.
type SessionSupervisor struct {
	sessionID  string
	events     eventlog.Store
	countsMu   sync.Mutex
	counts     SupervisionEventCounts

	mu        sync.Mutex
	desktops   map[string]*LeafSupervisor
	terminals  map[string]*LeafSupervisor
	researchers map[string]*LeafSupervisor
	healthy   bool
}

// NewSessionSupervisor constructs a SessionSupervisor for sessionID.
func NewSessionSupervisor(sessionID string, events eventlog.Store) *SessionSupervisor {
	return &SessionSupervisor{
		sessionID: sessionID, events: events, healthy: true,
		desktops: make(map[string]*LeafSupervisor), terminals: make(map[string]*LeafSupervisor),
		researchers: make(map[string]*LeafSupervisor),
	}
}

// GetOrCreateDesktop routes a request for desktop_id, emitting the
// started/completed/failed lifecycle events of spec §4.7.
func (s *SessionSupervisor) GetOrCreateDesktop(ctx context.Context, desktopID string) *LeafSupervisor {
	return s.getOrCreate(ctx, s.desktops, "desktop", desktopID)
}

// GetOrCreateTerminal routes a request for a terminal actor.
func (s *SessionSupervisor) GetOrCreateTerminal(ctx context.Context, id string) *LeafSupervisor {
	return s.getOrCreate(ctx, s.terminals, "terminal", id)
}

// GetOrCreateResearcher routes a request for a researcher actor.
func (s *SessionSupervisor) GetOrCreateResearcher(ctx context.Context, id string) *LeafSupervisor {
	return s.getOrCreate(ctx, s.researchers, "researcher", id)
}

func (s *SessionSupervisor) getOrCreate(ctx context.Context, table map[string]*LeafSupervisor, kind, id string) *LeafSupervisor {
	corrID := uuid.NewString()
	s.emitLifecycle("get_or_create_"+kind, corrID, "started", nil)

	s.mu.Lock()
	defer s.mu.Unlock()
	leaf, ok := table[id]
	if !ok {
		leaf = NewLeafSupervisor(kind+":"+id, s.events, &s.counts, &s.countsMu)
		table[id] = leaf
	}

	s.emitLifecycle("get_or_create_"+kind, corrID, "completed", nil)
	return leaf
}

func (s *SessionSupervisor) emitLifecycle(operation, corrID, phase string, extra map[string]any) {
	if s.events == nil {
		return
	}
	payload := map[string]any{"operation": operation, "correlation_id": corrID, "session_id": s.sessionID, "phase": phase}
	for k, v := range extra {
		payload[k] = v
	}
	e, err := eventlog.NewEvent("supervision.event", "session_supervisor", "", payload)
	if err != nil {
		return
	}
	s.events.AppendAsync(e)
}

func (s *SessionSupervisor) Healthy() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.healthy
}
