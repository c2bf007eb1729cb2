package supervisor

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/choir-run/choir/pkg/eventbus"
	"github.com/choir-run/choir/pkg/eventlog"
	"github.com/choir-run/choir/pkg/eventrelay"
)

// ApplicationSupervisor is the root of the tree: it owns the event log,
// bus, relay, and the session supervisor, and restarts the relay
// one_for_one when it fails, binding each new relay to the same bus. The
// bus has no run loop of its own and is never restarted.
type ApplicationSupervisor struct {
	events eventlog.Store
	bus    *eventbus.Bus

	mu              sync.Mutex
	relay           *eventrelay.Relay
	sessionSup      *SessionSupervisor
	lastFailure     string
	countsMu        sync.Mutex
	counts          SupervisionEventCounts
}

// NewApplicationSupervisor constructs the root supervisor. events and bus
// are assumed already constructed by cmd/choir's wiring; this supervisor
// neither constructs nor restarts them.
func NewApplicationSupervisor(events eventlog.Store, bus *eventbus.Bus) *ApplicationSupervisor {
	return &ApplicationSupervisor{events: events, bus: bus}
}

// Run starts the event relay and restarts it one_for_one if it returns
// with an error (rather than a clean ctx-cancellation exit), until ctx
// itself is cancelled.
func (a *ApplicationSupervisor) Run(ctx context.Context) {
	a.mu.Lock()
	a.sessionSup = NewSessionSupervisor("default", a.events)
	a.mu.Unlock()

	backoff := 250 * time.Millisecond
	for {
		relay := eventrelay.New(a.events, a.bus)
		a.mu.Lock()
		a.relay = relay
		a.mu.Unlock()

		a.bump(func(c *SupervisionEventCounts) { c.Started++ })
		err := relay.Run(ctx)
		if ctx.Err() != nil {
			a.bump(func(c *SupervisionEventCounts) { c.Terminated++ })
			return
		}

		a.bump(func(c *SupervisionEventCounts) { c.Failed++ })
		a.mu.Lock()
		a.lastFailure = errString(err)
		a.mu.Unlock()
		slog.Warn("supervisor: event relay terminated, restarting one_for_one", "error", err, "backoff", backoff)

		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return
		}
	}
}

// SessionSupervisor returns the singleton session supervisor owned by the
// application supervisor (spec §4.7's hierarchy has one active session
// supervisor per running instance in this single-node design).
func (a *ApplicationSupervisor) SessionSupervisor() *SessionSupervisor {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.sessionSup
}

// IngestWorkerTurnReport routes a worker turn report request, emitting
// the started/completed/failed lifecycle triple with a fresh
// correlation_id (spec §4.7). The actual ingestion policy (pkg/signals)
// is invoked by ingest; this method only wraps it with lifecycle events.
func (a *ApplicationSupervisor) IngestWorkerTurnReport(ctx context.Context, ingest func() error) error {
	corrID := uuid.NewString()
	a.emitLifecycle("ingest_worker_turn_report", corrID, "started", nil)
	if err := ingest(); err != nil {
		a.emitLifecycle("ingest_worker_turn_report", corrID, "failed", map[string]any{"error": err.Error()})
		return err
	}
	a.emitLifecycle("ingest_worker_turn_report", corrID, "completed", nil)
	return nil
}

func (a *ApplicationSupervisor) emitLifecycle(operation, corrID, phase string, extra map[string]any) {
	payload := map[string]any{"operation": operation, "correlation_id": corrID, "phase": phase}
	for k, v := range extra {
		payload[k] = v
	}
	e, err := eventlog.NewEvent("supervision.event", "application_supervisor", "", payload)
	if err != nil {
		return
	}
	a.events.AppendAsync(e)
}

// GetHealth returns a snapshot derived from observed supervision events
// (spec §4.7).
func (a *ApplicationSupervisor) GetHealth() Health {
	a.mu.Lock()
	relay := a.relay
	sessionSup := a.sessionSup
	lastFailure := a.lastFailure
	a.mu.Unlock()

	a.countsMu.Lock()
	counts := a.counts
	a.countsMu.Unlock()

	relayHealthy := relay != nil && relay.Healthy()
	sessionHealthy := sessionSup != nil && sessionSup.Healthy()

	return Health{
		EventBusHealthy:          true,
		EventRelayHealthy:        relayHealthy,
		SessionSupervisorHealthy: sessionHealthy,
		SupervisionEventCounts:   counts,
		LastSupervisionFailure:   lastFailure,
	}
}

func (a *ApplicationSupervisor) bump(f func(*SupervisionEventCounts)) {
	a.countsMu.Lock()
	f(&a.counts)
	a.countsMu.Unlock()
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
