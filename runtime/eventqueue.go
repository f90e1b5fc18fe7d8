// Package runtime holds the delivery core: per-client event queues, the
// client descriptor registry, the fan-out dispatcher, and the long-poll
// wait machinery. It carries events without owning domain rules about
// how they are produced.
package runtime

import (
	"encoding/json"
	"slices"
	"sort"

	"chat-relay/domain/event"
)

// EventQueue is one client's ordered, append-only buffer of pending
// events. IDs are assigned at push time and strictly increase in
// insertion order. Virtual events (restart, heartbeat) live in a
// collapse-key map until a read materializes them into the sequence.
type EventQueue struct {
	nextEventID    int64
	newestPrunedID int64 // -1 until anything is pruned
	queue          []*event.Event
	virtual        map[string]*event.Event

	// collapseOpen marks the tail of the queue as a live collapse
	// target. Any non-collapsible push or a Contents call closes it.
	collapseOpen bool
}

func NewEventQueue() *EventQueue {
	return &EventQueue{
		newestPrunedID: -1,
		virtual:        make(map[string]*event.Event),
	}
}

// Push assigns the next event ID and enqueues a copy of the event.
// Virtual types overwrite their collapse-key slot instead of appending.
// A flag-update push collapses into the immediately preceding entry when
// that entry is still an open collapse target and shares op, flag and
// all-scope. Never blocks.
func (q *EventQueue) Push(orig *event.Event) *event.Event {
	e := orig.Clone()
	e.ID = q.nextEventID
	q.nextEventID++

	if key, ok := e.CollapseKey(); ok {
		// Overwrite keeps a single outstanding instance per key; the
		// newer push's ID and payload win. Virtual events sit outside
		// the ordered sequence, so the tail stays a collapse target.
		q.virtual[key] = e
		return e
	}

	if e.Flags != nil && q.collapseOpen {
		tail := q.queue[len(q.queue)-1]
		if tail.Flags != nil && tail.Flags.CanCollapseWith(*e.Flags) {
			tail.Flags.Messages = append(tail.Flags.Messages, e.Flags.Messages...)
			tail.Flags.Timestamp = e.Flags.Timestamp
			return tail
		}
	}

	q.queue = append(q.queue, e)
	q.collapseOpen = e.Flags != nil
	return e
}

// Contents returns the full pending sequence with outstanding virtual
// events merged in at the position their IDs dictate. The merge is a
// flatten: virtual state is consumed, and a later push of the same
// collapse key starts a fresh entry. Internal bookkeeping is stripped
// unless includeInternal is set.
func (q *EventQueue) Contents(includeInternal bool) []*event.Event {
	if len(q.virtual) > 0 {
		pending := make([]*event.Event, 0, len(q.virtual))
		for _, v := range q.virtual {
			pending = append(pending, v)
		}
		sort.Slice(pending, func(i, j int) bool { return pending[i].ID < pending[j].ID })

		merged := make([]*event.Event, 0, len(q.queue)+len(pending))
		idx := 0
		for _, e := range q.queue {
			for idx < len(pending) && pending[idx].ID < e.ID {
				merged = append(merged, pending[idx])
				idx++
			}
			merged = append(merged, e)
		}
		merged = append(merged, pending[idx:]...)

		q.queue = merged
		q.virtual = make(map[string]*event.Event)
	}
	q.collapseOpen = false

	out := make([]*event.Event, len(q.queue))
	for i, e := range q.queue {
		if includeInternal {
			out[i] = e.Clone()
		} else {
			out[i] = e.StripInternal()
		}
	}
	return out
}

// Prune discards materialized events with ID <= throughID and records
// the newest pruned ID so reconstruction after a reload cannot confuse
// "seen" with "never existed". Virtual events are never pruned; only a
// later overwrite or a read removes them.
func (q *EventQueue) Prune(throughID int64) {
	n := 0
	for n < len(q.queue) && q.queue[n].ID <= throughID {
		q.newestPrunedID = q.queue[n].ID
		n++
	}
	if n > 0 {
		q.queue = slices.Clone(q.queue[n:])
		if len(q.queue) == 0 {
			q.collapseOpen = false
		}
	}
}

// Empty reports whether nothing real or virtual is pending.
func (q *EventQueue) Empty() bool {
	return len(q.queue) == 0 && len(q.virtual) == 0
}

// NewestPrunedID returns the high-water mark of acknowledged events.
func (q *EventQueue) NewestPrunedID() int64 {
	return q.newestPrunedID
}

// queueState is the serialized form of an EventQueue. Round-tripping
// through it reproduces the same next ID and the same collapsing
// eligibility the live queue had.
type queueState struct {
	NextEventID    int64                   `json:"next_event_id"`
	NewestPrunedID int64                   `json:"newest_pruned_id"`
	Queue          []*event.Event          `json:"queue"`
	Virtual        map[string]*event.Event `json:"virtual_events,omitempty"`
	CollapseOpen   bool                    `json:"collapse_open,omitempty"`
}

func (q *EventQueue) state() queueState {
	s := queueState{
		NextEventID:    q.nextEventID,
		NewestPrunedID: q.newestPrunedID,
		Queue:          make([]*event.Event, len(q.queue)),
		CollapseOpen:   q.collapseOpen,
	}
	for i, e := range q.queue {
		s.Queue[i] = e.Clone()
	}
	if len(q.virtual) > 0 {
		s.Virtual = make(map[string]*event.Event, len(q.virtual))
		for k, v := range q.virtual {
			s.Virtual[k] = v.Clone()
		}
	}
	return s
}

func queueFromState(s queueState) *EventQueue {
	q := &EventQueue{
		nextEventID:    s.NextEventID,
		newestPrunedID: s.NewestPrunedID,
		queue:          s.Queue,
		virtual:        s.Virtual,
		collapseOpen:   s.CollapseOpen,
	}
	if q.virtual == nil {
		q.virtual = make(map[string]*event.Event)
	}
	return q
}

func (q *EventQueue) MarshalJSON() ([]byte, error) {
	return json.Marshal(q.state())
}

func (q *EventQueue) UnmarshalJSON(data []byte) error {
	var s queueState
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	*q = *queueFromState(s)
	return nil
}
