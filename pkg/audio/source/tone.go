package source

import (
	"encoding/binary"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/tactus-audio/tactus-go/pkg/audio"
)

// ToneSource generates an endless sine wave, the same signal on every
// channel. It is precise and never exhausts; an endless generated tone
// has no timeline to return to, so Seek reports ErrNotSeekable.
type ToneSource struct {
	mu          sync.Mutex
	format      audio.Format
	frequency   float64
	amplitude   float64
	sampleIndex int64
}

// NewToneSource creates a generator for the given format. Only 16-bit
// output is supported. Amplitude is clamped to [0, 1].
func NewToneSource(format audio.Format, frequency, amplitude float64) (*ToneSource, error) {
	if !format.Valid() {
		return nil, fmt.Errorf("tone source: invalid format %+v", format)
	}
	if format.SampleBits != 16 {
		return nil, fmt.Errorf("tone source: %d-bit output not supported, use 16", format.SampleBits)
	}
	if frequency <= 0 {
		return nil, fmt.Errorf("tone source: frequency %.1f out of range", frequency)
	}
	amplitude = math.Max(0, math.Min(1, amplitude))
	return &ToneSource{
		format:    format,
		frequency: frequency,
		amplitude: amplitude,
	}, nil
}

func (s *ToneSource) ReadPacket(maxBytes int) (*audio.Packet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := s.format.Align(int64(maxBytes))
	if n <= 0 {
		n = int64(s.format.BytesPerFrame())
	}
	frames := n / int64(s.format.BytesPerFrame())
	channels := int(s.format.Channels)
	data := make([]byte, n)

	step := 2 * math.Pi * s.frequency / float64(s.format.SampleRate)
	off := 0
	for i := int64(0); i < frames; i++ {
		v := int16(s.amplitude * math.MaxInt16 * math.Sin(float64(s.sampleIndex+i)*step))
		for c := 0; c < channels; c++ {
			binary.LittleEndian.PutUint16(data[off:], uint16(v))
			off += 2
		}
	}
	start := s.sampleIndex
	s.sampleIndex += frames

	return &audio.Packet{
		Data:      data,
		Timestamp: s.format.BytesToDuration(start * int64(s.format.BytesPerFrame())),
		Duration:  s.format.BytesToDuration(n),
	}, nil
}

func (s *ToneSource) Precise() bool { return true }

func (s *ToneSource) Seek(time.Duration) error { return ErrNotSeekable }

func (s *ToneSource) Format() audio.Format { return s.format }
