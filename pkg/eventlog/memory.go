package eventlog

import (
	"context"
	"log/slog"
	"sync"
)

// MemoryStore is an in-process, non-durable Store used by tests and by
// components that do not need cross-restart durability. Its seqs are
// gap-free and strictly monotonic.
type MemoryStore struct {
	mu     sync.Mutex
	events []Event
	seq    int64

	watchersMu sync.Mutex
	watchers   []chan Event
}

// NewMemoryStore returns an empty in-memory event log.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Append(ctx context.Context, e Event) (int64, error) {
	s.mu.Lock()
	s.seq++
	e.Seq = s.seq
	s.events = append(s.events, e)
	s.mu.Unlock()

	s.fanOut(e)
	return e.Seq, nil
}

// AppendAsync appends inline: an in-memory append never waits on I/O, and
// finishing it before returning keeps each caller's events in call order.
func (s *MemoryStore) AppendAsync(e Event) {
	if _, err := s.Append(context.Background(), e); err != nil {
		slog.Warn("eventlog: async append failed", "event_type", e.EventType, "error", err)
	}
}

func (s *MemoryStore) Query(ctx context.Context, sinceSeq int64, limit int, filter Filter) ([]Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Event, 0, limit)
	for _, e := range s.events {
		if e.Seq <= sinceSeq {
			continue
		}
		if !filter.matches(e) {
			continue
		}
		out = append(out, e)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (s *MemoryStore) LatestSeq(ctx context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.seq, nil
}

func (s *MemoryStore) Follow(ctx context.Context, sinceSeq int64, filter Filter) (<-chan Event, <-chan error) {
	out := make(chan Event, 64)
	errc := make(chan error, 1)

	// Register before reading the backlog so an event committed in
	// between is seen by the watcher; duplicates are skipped by seq below.
	watch := make(chan Event, 256)
	s.watchersMu.Lock()
	s.watchers = append(s.watchers, watch)
	s.watchersMu.Unlock()
	backlog, _ := s.Query(ctx, sinceSeq, 0, filter)

	go func() {
		defer close(out)
		defer close(errc)
		defer s.removeWatcher(watch)

		last := sinceSeq
		for _, e := range backlog {
			select {
			case out <- e:
				last = e.Seq
			case <-ctx.Done():
				return
			}
		}
		for {
			select {
			case e, ok := <-watch:
				if !ok {
					return
				}
				if e.Seq <= last || !filter.matches(e) {
					continue
				}
				select {
				case out <- e:
					last = e.Seq
				case <-ctx.Done():
					return
				}
			case <-ctx.Done():
				return
			}
		}
	}()

	return out, errc
}

func (s *MemoryStore) fanOut(e Event) {
	s.watchersMu.Lock()
	defer s.watchersMu.Unlock()
	for _, w := range s.watchers {
		select {
		case w <- e:
		default:
			// slow follower drops; it is expected to reconnect and
			// resume from its last observed seq.
		}
	}
}

func (s *MemoryStore) removeWatcher(w chan Event) {
	s.watchersMu.Lock()
	defer s.watchersMu.Unlock()
	for i, c := range s.watchers {
		if c == w {
			s.watchers = append(s.watchers[:i], s.watchers[i+1:]...)
			break
		}
	}
}
