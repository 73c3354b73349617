package playback

import (
	"time"

	"github.com/tactus-audio/tactus-go/pkg/audio"
)

// EventQueue orders events by the content-space byte cursor at which
// they become audible. Cursors are clamped monotonically non-decreasing
// so insertion is always at the tail and dispatch order always matches
// append order.
//
// An event's cursor is the later of where its data entered the stream
// (the append base) and where its own timestamp lands. The timestamp
// mapping needs a reference: origin is the source time of the last
// seek, offset the content cursor at which the current source was
// chained in. After a bare clear the source sits at an unknown
// position, so timestamp mapping is suspended until the next seek or
// source swap re-establishes it; events then dispatch at their append
// base.
type EventQueue struct {
	format     audio.Format
	items      []queuedEvent
	lastCursor int64
	origin     time.Duration
	offset     int64
	mapByTime  bool
}

type queuedEvent struct {
	cursor int64
	event  audio.Event
}

// NewEventQueue creates a queue for a freshly opened source, which by
// definition sits at time zero, cursor zero.
func NewEventQueue(f audio.Format) *EventQueue {
	return &EventQueue{format: f, mapByTime: true}
}

// SetOrigin re-establishes timestamp mapping: source time origin now
// corresponds to content cursor offset.
func (q *EventQueue) SetOrigin(origin time.Duration, offset int64) {
	q.origin = origin
	q.offset = offset
	q.mapByTime = true
}

// Append queues events delivered with data entering the stream at
// base.
func (q *EventQueue) Append(base int64, events []audio.Event) {
	for _, ev := range events {
		cursor := base
		if q.mapByTime {
			if mapped := q.offset + q.format.DurationToBytes(ev.Timestamp-q.origin); mapped > cursor {
				cursor = mapped
			}
		}
		q.push(cursor, ev)
	}
}

// AppendAt queues a single event at an explicit content cursor,
// bypassing timestamp mapping. The end-of-stream event uses this.
func (q *EventQueue) AppendAt(cursor int64, ev audio.Event) {
	q.push(cursor, ev)
}

func (q *EventQueue) push(cursor int64, ev audio.Event) {
	if cursor < q.lastCursor {
		cursor = q.lastCursor
	}
	q.lastCursor = cursor
	q.items = append(q.items, queuedEvent{cursor: cursor, event: ev})
}

// DispatchUpTo pops and returns, in order, every event whose cursor is
// at or before the given play cursor. It returns nil when nothing is
// due.
func (q *EventQueue) DispatchUpTo(cursor int64) []audio.Event {
	n := 0
	for n < len(q.items) && q.items[n].cursor <= cursor {
		n++
	}
	if n == 0 {
		return nil
	}
	out := make([]audio.Event, n)
	for i := range out {
		out[i] = q.items[i].event
	}
	q.items = append(q.items[:0], q.items[n:]...)
	return out
}

// Len reports the number of queued events.
func (q *EventQueue) Len() int {
	return len(q.items)
}

// Clear empties the queue and suspends timestamp mapping until the
// next SetOrigin.
func (q *EventQueue) Clear() {
	q.items = nil
	q.lastCursor = 0
	q.origin = 0
	q.offset = 0
	q.mapByTime = false
}
