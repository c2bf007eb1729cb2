// Package eventlog is the append-only, monotonically sequenced store that
// is the single source of truth for every externally observable fact in
// the system (spec §3/§4.1). Every other subsystem — the bus, the relay,
// the writer runtime, the harness — produces or consumes Events through
// this package.
package eventlog

import (
	"time"

	"google.golang.org/protobuf/types/known/structpb"
)

// Scope groups the optional correlation fields carried on most payloads.
type Scope struct {
	SessionID     string
	ThreadID      string
	RunID         string
	TaskID        string
	CallID        string
	CorrelationID string
}

// InterfaceKind distinguishes which side of the actor/tool boundary an
// event originated from.
type InterfaceKind string

const (
	InterfaceUactorActor    InterfaceKind = "uactor_actor"
	InterfaceAppactorTool   InterfaceKind = "appactor_toolactor"
)

// Event is the canonical envelope. Once committed with a Seq, its content
// is immutable; readers observe events in strictly increasing Seq order.
type Event struct {
	Seq       int64               `json:"seq"`
	EventID   string              `json:"event_id"`
	EventType string              `json:"event_type"`
	ActorID   string              `json:"actor_id"`
	UserID    string              `json:"user_id"`
	Timestamp time.Time           `json:"timestamp"`
	Payload   *structpb.Struct    `json:"payload"`
}

// NewEvent builds an Event with a fresh event_id and timestamp, ready for
// Append. Seq is left zero; the store assigns it at commit.
func NewEvent(eventType, actorID, userID string, payload map[string]any) (Event, error) {
	p, err := structpb.NewStruct(payload)
	if err != nil {
		return Event{}, err
	}
	return Event{
		EventID:   newEventID(),
		EventType: eventType,
		ActorID:   actorID,
		UserID:    userID,
		Timestamp: time.Now().UTC(),
		Payload:   p,
	}, nil
}

// PayloadMap returns the event payload as a plain map, for JSON responses
// or log inspection.
func (e Event) PayloadMap() map[string]any {
	if e.Payload == nil {
		return nil
	}
	return e.Payload.AsMap()
}
