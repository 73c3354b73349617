package audio

import "time"

// EventKind classifies stream events.
type EventKind int

const (
	// EventEOS marks the end of the stream. The engine emits exactly one
	// per exhausted source, after the last byte has played.
	EventEOS EventKind = iota
	// EventMarker is a labeled position on the source timeline.
	EventMarker
	// EventCustom carries application-defined meaning in Marker.
	EventCustom
)

func (k EventKind) String() string {
	switch k {
	case EventEOS:
		return "eos"
	case EventMarker:
		return "marker"
	case EventCustom:
		return "custom"
	default:
		return "unknown"
	}
}

// Event is a notification tied to a position on the source timeline.
// Timestamp is relative to the source's own clock, not to playback
// time; the engine converts it to a byte cursor when the carrying
// packet is queued. Events are immutable once handed to the engine.
type Event struct {
	Kind      EventKind
	Marker    string
	Timestamp time.Duration
}

// Packet is one slice of PCM produced by a source. Ownership moves to
// the consumer, which may slice Data incrementally; a source must not
// retain or reuse it after handing it over.
//
// Timestamp and Duration describe where the packet sits on the source
// timeline. They are advisory: the engine derives positions from byte
// counts and drops them once data enters the exact-read layer. Events
// ride along and survive that layer unchanged.
type Packet struct {
	Data      []byte
	Timestamp time.Duration
	Duration  time.Duration
	Events    []Event
}
