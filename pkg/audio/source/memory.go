package source

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/tactus-audio/tactus-go/pkg/audio"
)

// MemorySource plays PCM held in memory. It is precise (reads return
// exactly the requested amount until the data runs out) and seekable,
// which makes it the building block for gapless queues and tests.
type MemorySource struct {
	mu     sync.Mutex
	format audio.Format
	data   []byte
	pos    int64
	events []audio.Event
}

// NewMemorySource wraps a PCM byte slice. A trailing partial frame is
// cut off; the slice is not copied and must not be mutated afterwards.
func NewMemorySource(format audio.Format, data []byte) (*MemorySource, error) {
	if !format.Valid() {
		return nil, fmt.Errorf("memory source: invalid format %+v", format)
	}
	return &MemorySource{
		format: format,
		data:   data[:format.Align(int64(len(data)))],
	}, nil
}

// AddEvent attaches an event to the source timeline. Events are
// delivered with the packet whose data covers their timestamp, so they
// should be added before playback starts. Add them in timestamp order.
func (s *MemorySource) AddEvent(ev audio.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
}

func (s *MemorySource) ReadPacket(maxBytes int) (*audio.Packet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	remaining := int64(len(s.data)) - s.pos
	if remaining <= 0 {
		return nil, io.EOF
	}
	n := s.format.Align(min(int64(maxBytes), remaining))
	if n <= 0 {
		return nil, fmt.Errorf("memory source: request below frame size (%d bytes)", maxBytes)
	}

	start := s.format.BytesToDuration(s.pos)
	pkt := &audio.Packet{
		Data:      s.data[s.pos : s.pos+n],
		Timestamp: start,
		Duration:  s.format.BytesToDuration(n),
	}
	s.pos += n

	last := s.pos >= int64(len(s.data))
	end := start + pkt.Duration
	for _, ev := range s.events {
		if ev.Timestamp >= start && (ev.Timestamp < end || last) {
			pkt.Events = append(pkt.Events, ev)
		}
	}
	return pkt, nil
}

func (s *MemorySource) Precise() bool { return true }

// Seek moves the read position to t, clamped to the data range.
func (s *MemorySource) Seek(t time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	pos := s.format.DurationToBytes(t)
	if pos < 0 {
		pos = 0
	}
	if max := int64(len(s.data)); pos > max {
		pos = max
	}
	s.pos = pos
	return nil
}

func (s *MemorySource) Format() audio.Format { return s.format }

// Duration returns the total length of the held data.
func (s *MemorySource) Duration() time.Duration {
	return s.format.BytesToDuration(int64(len(s.data)))
}
