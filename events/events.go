/*
Package events carries domain notifications out of the schedule engine.

PURPOSE:
  Every committed state change (a request moving through its workflow, an
  entity written or deleted) is described by one Event. Publishers deliver
  them; the AMQP publisher routes them onto a topic exchange so the sync
  layer and notification workers can subscribe by routing key.

ROUTING KEYS:
  timeoff.<submitted|approved|denied|cancelled>
  entity.<written|deleted>.<entity kind>

SEE ALSO:
  - amqp.go: RabbitMQ transport
  - schedule/priority.go: Sync priority carried on each event
*/
package events

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/warp/schedule-engine/schedule"
)

type Type string

const (
	TimeOffSubmitted Type = "timeoff.submitted"
	TimeOffApproved  Type = "timeoff.approved"
	TimeOffDenied    Type = "timeoff.denied"
	TimeOffCancelled Type = "timeoff.cancelled"
	EntityWritten    Type = "entity.written"
	EntityDeleted    Type = "entity.deleted"
)

type Event struct {
	ID         string                `json:"id"`
	Type       Type                  `json:"type"`
	Kind       schedule.EntityKind   `json:"kind"`
	EntityID   string                `json:"entity_id"`
	Priority   schedule.SyncPriority `json:"priority"`
	ActorID    string                `json:"actor_id"`
	DeviceID   string                `json:"device_id,omitempty"`
	OccurredAt time.Time             `json:"occurred_at"`
	Payload    json.RawMessage       `json:"payload,omitempty"`
}

// New builds an event for an entity. A payload that cannot be encoded is
// dropped; the event itself still goes out.
func New(typ Type, kind schedule.EntityKind, entityID string, actor schedule.Actor, at time.Time, payload any) Event {
	ev := Event{
		ID:         uuid.NewString(),
		Type:       typ,
		Kind:       kind,
		EntityID:   entityID,
		Priority:   schedule.PriorityFor(kind),
		ActorID:    actor.ID,
		DeviceID:   actor.DeviceID,
		OccurredAt: at.UTC(),
	}
	if payload != nil {
		if b, err := json.Marshal(payload); err == nil {
			ev.Payload = b
		}
	}
	return ev
}

// RoutingKey is the topic key the event is published under.
func (e Event) RoutingKey() string {
	switch e.Type {
	case EntityWritten, EntityDeleted:
		return string(e.Type) + "." + string(e.Kind)
	default:
		return string(e.Type)
	}
}

// Publisher delivers events. Implementations must be safe for concurrent use.
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
}

// Nop discards every event.
type Nop struct{}

func (Nop) Publish(context.Context, Event) error { return nil }

// =============================================================================
// RECORDER - In-process publisher used by tests
// =============================================================================

type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func NewRecorder() *Recorder { return &Recorder{} }

func (r *Recorder) Publish(_ context.Context, ev Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

// Events returns a copy of everything published so far.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

func (r *Recorder) OfType(t Type) []Event {
	var out []Event
	for _, ev := range r.Events() {
		if ev.Type == t {
			out = append(out, ev)
		}
	}
	return out
}

// Multi fans an event out to several publishers and returns the first error.
type Multi []Publisher

func (m Multi) Publish(ctx context.Context, ev Event) error {
	var first error
	for _, p := range m {
		if err := p.Publish(ctx, ev); err != nil && first == nil {
			first = err
		}
	}
	return first
}
