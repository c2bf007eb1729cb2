// Package eventrelay bridges the committed event log and the in-process
// bus, so the bus never becomes an independent write path (spec §4.3,
// ADR-style rule: log first, bus second).
//
// Grounded on the teacher's pkg/events/listener.go NotifyListener: a
// single goroutine owns the subscription loop and tracks a high
// watermark, reconnecting cleanly on error — adapted here to drive off
// Store.Follow's poll loop instead of a PostgreSQL LISTEN/NOTIFY channel.
package eventrelay

import (
	"context"
	"log/slog"
	"sync/atomic"

	"github.com/choir-run/choir/pkg/eventbus"
	"github.com/choir-run/choir/pkg/eventlog"
)

// Relay polls the log via Store.Follow and republishes every committed
// row to the bus in commit order.
type Relay struct {
	store eventlog.Store
	bus   *eventbus.Bus

	watermark atomic.Int64
	healthy   atomic.Bool
}

// New constructs a Relay. It resumes from store.LatestSeq() so that any
// prior losses are acceptable: the log itself remains authoritative.
func New(store eventlog.Store, bus *eventbus.Bus) *Relay {
	return &Relay{store: store, bus: bus}
}

// Run starts the relay loop and blocks until ctx is cancelled. On restart
// (a fresh call to Run), it resumes from the current LatestSeq rather
// than any previously tracked watermark — matching spec §4.3's
// "losses acceptable" restart rule.
func (r *Relay) Run(ctx context.Context) error {
	latest, err := r.store.LatestSeq(ctx)
	if err != nil {
		r.healthy.Store(false)
		return err
	}
	r.watermark.Store(latest)
	r.healthy.Store(true)

	events, errc := r.store.Follow(ctx, latest, eventlog.Filter{})
	for {
		select {
		case <-ctx.Done():
			r.healthy.Store(false)
			return ctx.Err()
		case err, ok := <-errc:
			if !ok {
				errc = nil
				continue
			}
			slog.Warn("eventrelay: follow error, continuing", "error", err)
		case e, ok := <-events:
			if !ok {
				r.healthy.Store(false)
				return nil
			}
			r.bus.Publish(e)
			r.watermark.Store(e.Seq)
		}
	}
}

// Healthy reports whether the relay's follow loop is currently running.
func (r *Relay) Healthy() bool {
	return r.healthy.Load()
}

// Watermark returns the highest seq republished so far.
func (r *Relay) Watermark() int64 {
	return r.watermark.Load()
}
