package source

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/tactus-audio/tactus-go/pkg/audio"
)

// ResampleSource wraps a source and converts its sample rate by linear
// interpolation, so sources with mismatched rates can join a chain
// that demands one format. Channel count and sample width pass
// through; only 16-bit input is supported.
//
// Interpolation carries its window across packets, so the output is
// continuous at packet boundaries and never longer than asked for.
// Timestamps, events and seeks keep their meaning: both sides of the
// wrapper describe the same timeline, just sampled differently.
type ResampleSource struct {
	inner  Source
	format audio.Format // output format
	ratio  float64      // input frames per output frame

	// prev is the left edge of the interpolation window, frac the
	// output cursor's position inside it in [0, 1). carry holds input
	// bytes pulled but not yet consumed.
	prev    []int16
	havePrv bool
	frac    float64
	carry   []byte

	outPos int64 // output bytes produced since start or last seek
}

// Resample wraps inner so it reads at targetRate.
func Resample(inner Source, targetRate uint32) (*ResampleSource, error) {
	in := inner.Format()
	if !in.Valid() {
		return nil, fmt.Errorf("resample: inner source has invalid format %+v", in)
	}
	if in.SampleBits != 16 {
		return nil, fmt.Errorf("resample: %d-bit input not supported, use 16", in.SampleBits)
	}
	if targetRate == 0 {
		return nil, fmt.Errorf("resample: target rate must be positive")
	}

	out := in
	out.SampleRate = targetRate
	return &ResampleSource{
		inner:  inner,
		format: out,
		ratio:  float64(in.SampleRate) / float64(targetRate),
		prev:   make([]int16, in.Channels),
	}, nil
}

func (s *ResampleSource) ReadPacket(maxBytes int) (*audio.Packet, error) {
	want := s.format.Align(int64(maxBytes))
	if want <= 0 {
		return nil, fmt.Errorf("resample: request below frame size (%d bytes)", maxBytes)
	}
	bpf := s.format.BytesPerFrame()
	outFrames := int(want) / bpf

	// Top the carry up with enough input to fill the request.
	inFrames := int(float64(outFrames)*s.ratio) + 2
	var events []audio.Event
	if need := inFrames*bpf - len(s.carry); need > 0 {
		inPkt, err := s.inner.ReadPacket(need)
		switch {
		case errors.Is(err, io.EOF):
			if len(s.carry) < bpf || !s.havePrv {
				return nil, io.EOF
			}
			// Drain what the carry still holds; the next read will
			// report the EOF again.
		case err != nil:
			return nil, err
		default:
			s.carry = append(s.carry, inPkt.Data...)
			events = inPkt.Events
		}
	}

	out := make([]byte, 0, want)
	channels := int(s.format.Channels)
	frame := make([]int16, channels)
	start := s.format.BytesToDuration(s.outPos)

	emitted := 0
	consumed := 0
	for consumed+bpf <= len(s.carry) {
		for ch := 0; ch < channels; ch++ {
			frame[ch] = int16(binary.LittleEndian.Uint16(s.carry[consumed+2*ch:]))
		}
		if !s.havePrv {
			copy(s.prev, frame)
			s.havePrv = true
			consumed += bpf
			continue
		}
		for s.frac < 1 && emitted < outFrames {
			for ch := 0; ch < channels; ch++ {
				v := float64(s.prev[ch])*(1-s.frac) + float64(frame[ch])*s.frac
				out = binary.LittleEndian.AppendUint16(out, uint16(int16(v)))
			}
			s.frac += s.ratio
			emitted++
		}
		if s.frac < 1 {
			// Output full; this frame stays in the carry as the next
			// window's right edge.
			break
		}
		s.frac--
		copy(s.prev, frame)
		consumed += bpf
	}
	s.carry = append(s.carry[:0], s.carry[consumed:]...)

	s.outPos += int64(len(out))
	return &audio.Packet{
		Data:      out,
		Timestamp: start,
		Duration:  s.format.BytesToDuration(int64(len(out))),
		Events:    events,
	}, nil
}

func (s *ResampleSource) Precise() bool { return s.inner.Precise() }

// Seek positions the inner source and drops the interpolation state so
// the next packet starts clean at t.
func (s *ResampleSource) Seek(t time.Duration) error {
	if err := s.inner.Seek(t); err != nil {
		return err
	}
	s.havePrv = false
	s.frac = 0
	s.carry = s.carry[:0]
	s.outPos = s.format.DurationToBytes(t)
	return nil
}

func (s *ResampleSource) Format() audio.Format { return s.format }

// MasterTime forwards the inner source's master timeline when it has
// one.
func (s *ResampleSource) MasterTime() (time.Duration, bool) {
	if mr, ok := s.inner.(MasterReporter); ok {
		return mr.MasterTime()
	}
	return 0, false
}
