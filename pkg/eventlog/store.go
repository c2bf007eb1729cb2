package eventlog

import (
	"context"
	"errors"
)

// ErrBackendUnavailable is returned when a durable append fails (spec §7
// BackendUnavailable).
var ErrBackendUnavailable = errors.New("eventlog: backend unavailable")

// Filter narrows a query to events matching an exact event_type, or a
// dotted-prefix wildcard ("worker." matches "worker.task.started").
type Filter struct {
	EventType string
}

func (f Filter) matches(e Event) bool {
	if f.EventType == "" {
		return true
	}
	if len(f.EventType) > 0 && f.EventType[len(f.EventType)-1] == '.' {
		return len(e.EventType) >= len(f.EventType) && e.EventType[:len(f.EventType)] == f.EventType
	}
	return e.EventType == f.EventType
}

// Store is the canonical append-only log contract (spec §4.1).
type Store interface {
	// Append assigns the next monotonic seq, persists durably, and only
	// then returns. Returns ErrBackendUnavailable on durable write failure.
	Append(ctx context.Context, e Event) (int64, error)

	// AppendAsync fires the append in the background; per-caller ordering
	// is preserved, but the event may be lost if the process crashes
	// before commit. Intended for non-critical trace events.
	AppendAsync(e Event)

	// Query returns events in seq order, strictly after sinceSeq, up to
	// limit rows, optionally narrowed by filter.
	Query(ctx context.Context, sinceSeq int64, limit int, filter Filter) ([]Event, error)

	// LatestSeq returns the highest committed seq, or 0 if the log is empty.
	LatestSeq(ctx context.Context) (int64, error)

	// Follow yields events with seq > sinceSeq as they commit. It returns
	// when ctx is cancelled. Implementations may poll at a bounded
	// interval (design floor: <=200ms effective latency).
	Follow(ctx context.Context, sinceSeq int64, filter Filter) (<-chan Event, <-chan error)
}
