// Package eventbus is the in-process, best-effort fan-out of committed
// events to subscribers (spec §4.2). It is fed exclusively by
// pkg/eventrelay — the bus never becomes an independent write path.
//
// Grounded on the teacher's pkg/events/manager.go ConnectionManager: a
// map of topic -> set of bounded subscriber channels, generalized from
// "channel -> connection" to "topic pattern -> subscriber channel".
package eventbus

import (
	"log/slog"
	"strings"
	"sync"

	"github.com/choir-run/choir/pkg/eventlog"
)

// subscriberBuffer bounds each subscriber's inbox; a full buffer drops
// the event for that subscriber rather than blocking the publisher.
const subscriberBuffer = 256

// Subscription is a live handle returned by Subscribe. Callers must call
// Unsubscribe when done to release the channel.
type Subscription struct {
	Events <-chan eventlog.Event
	bus    *Bus
	topic  string
	ch     chan eventlog.Event
}

// Unsubscribe removes this subscription from the bus.
func (s *Subscription) Unsubscribe() {
	s.bus.unsubscribe(s.topic, s.ch)
}

// Bus is the in-process pub/sub fan-out. Topics are either an exact
// event_type or a dotted-prefix pattern ending in "." (e.g. "worker.").
// "supervision.event" is an ordinary exact topic; the supervisor's health
// snapshot keeps its own counters and does not subscribe to the bus.
type Bus struct {
	mu   sync.RWMutex
	subs map[string]map[chan eventlog.Event]struct{}
}

// New returns an empty bus.
func New() *Bus {
	return &Bus{subs: make(map[string]map[chan eventlog.Event]struct{})}
}

// Subscribe registers interest in a topic pattern. Delivery for a single
// subscriber that keeps up preserves commit order; a subscriber that
// falls behind has events dropped for it individually — it is expected
// to reconnect against the event log using the last observed seq.
func (b *Bus) Subscribe(topic string) *Subscription {
	ch := make(chan eventlog.Event, subscriberBuffer)

	b.mu.Lock()
	if b.subs[topic] == nil {
		b.subs[topic] = make(map[chan eventlog.Event]struct{})
	}
	b.subs[topic][ch] = struct{}{}
	b.mu.Unlock()

	return &Subscription{Events: ch, bus: b, topic: topic, ch: ch}
}

func (b *Bus) unsubscribe(topic string, ch chan eventlog.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if set, ok := b.subs[topic]; ok {
		delete(set, ch)
		if len(set) == 0 {
			delete(b.subs, topic)
		}
	}
	close(ch)
}

// Publish fans e out to every subscription whose topic pattern matches
// e.EventType. Delivery is best-effort: a full subscriber channel drops
// the event for that subscriber without blocking the publisher or other
// subscribers.
func (b *Bus) Publish(e eventlog.Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for topic, set := range b.subs {
		if !topicMatches(topic, e.EventType) {
			continue
		}
		for ch := range set {
			select {
			case ch <- e:
			default:
				slog.Warn("eventbus: dropping event for slow subscriber",
					"topic", topic, "event_type", e.EventType, "seq", e.Seq)
			}
		}
	}
}

func topicMatches(pattern, eventType string) bool {
	if pattern == eventType {
		return true
	}
	if strings.HasSuffix(pattern, ".") && strings.HasPrefix(eventType, pattern) {
		return true
	}
	return false
}
