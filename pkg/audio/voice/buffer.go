package voice

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/smallnest/ringbuffer"

	"github.com/tactus-audio/tactus-go/pkg/audio"
	"github.com/tactus-audio/tactus-go/pkg/clock"
)

// BufferBackend renders voices into silence. It backs the "none"
// driver and deterministic tests: voices consume PCM at the format's
// real-time byte rate against the supplied clock, without touching any
// platform audio API.
type BufferBackend struct {
	clk      clock.Clock
	capacity time.Duration
	log      *slog.Logger

	mu     sync.Mutex
	closed bool
}

// NewBufferBackend creates a silent backend. capacity <= 0 selects
// DefaultCapacity.
func NewBufferBackend(clk clock.Clock, capacity time.Duration, log *slog.Logger) *BufferBackend {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	if log == nil {
		log = slog.Default()
	}
	return &BufferBackend{clk: clk, capacity: capacity, log: log}
}

func (b *BufferBackend) NewVoice(f audio.Format) (Voice, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, ErrClosed
	}
	if !f.Valid() {
		return nil, fmt.Errorf("buffer voice: invalid format %+v", f)
	}
	return newBufferVoice(f, b.clk, b.capacity), nil
}

func (b *BufferBackend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	return nil
}

// BufferVoice is a Voice that plays into silence. Consumption is pure
// bookkeeping: while playing, the play position advances with the
// clock at the format's byte rate, scaled by pitch, and never beyond
// what was written.
type BufferVoice struct {
	format audio.Format
	clk    clock.Clock

	mu        sync.Mutex
	ring      *ringbuffer.RingBuffer
	scratch   []byte
	written   int64
	played    int64
	playing   bool
	closed    bool
	pitch     float64
	volume    float64
	pos       [3]float64
	cone      [3]float64
	anchorAt  time.Duration // clock reading when playback last (re)anchored
	anchorPos int64         // played bytes at the anchor
}

func newBufferVoice(f audio.Format, clk clock.Clock, capacity time.Duration) *BufferVoice {
	return &BufferVoice{
		format:  f,
		clk:     clk,
		ring:    ringbuffer.New(int(f.DurationToBytes(capacity))),
		scratch: make([]byte, 4096),
		pitch:   1.0,
		volume:  1.0,
	}
}

func (v *BufferVoice) Write(p []byte) (int, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.closed {
		return 0, ErrClosed
	}
	v.advanceLocked()

	n := len(p)
	if free := v.ring.Free(); n > free {
		n = free
	}
	n = int(v.format.Align(int64(n)))
	if n == 0 {
		return 0, nil
	}
	if _, err := v.ring.Write(p[:n]); err != nil {
		return 0, fmt.Errorf("buffer voice: %w", err)
	}
	v.written += int64(n)
	return n, nil
}

func (v *BufferVoice) PlayPosition() int64 {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.advanceLocked()
	return v.played
}

// advanceLocked folds elapsed playing time into the play position.
// When consumption catches the write edge the anchor moves with it, so
// audio written after a starvation gap plays from its arrival rather
// than being charged to the gap.
func (v *BufferVoice) advanceLocked() {
	if !v.playing {
		return
	}
	now := v.clk.Now()
	elapsed := now - v.anchorAt
	if v.pitch != 1.0 {
		elapsed = time.Duration(float64(elapsed) * v.pitch)
	}
	target := v.anchorPos + v.format.DurationToBytes(elapsed)
	if target >= v.written {
		target = v.written
		v.anchorAt = now
		v.anchorPos = target
	}
	if delta := target - v.played; delta > 0 {
		v.discardLocked(delta)
		v.played = target
	}
}

func (v *BufferVoice) discardLocked(n int64) {
	for n > 0 {
		c := int64(len(v.scratch))
		if c > n {
			c = n
		}
		read, err := v.ring.Read(v.scratch[:c])
		if read == 0 || err != nil {
			return
		}
		n -= int64(read)
	}
}

func (v *BufferVoice) Play() error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.closed {
		return ErrClosed
	}
	if v.playing {
		return nil
	}
	v.playing = true
	v.anchorAt = v.clk.Now()
	v.anchorPos = v.played
	return nil
}

func (v *BufferVoice) Pause() error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.closed {
		return ErrClosed
	}
	if !v.playing {
		return nil
	}
	v.advanceLocked()
	v.playing = false
	return nil
}

func (v *BufferVoice) Flush() error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.closed {
		return ErrClosed
	}
	v.ring.Reset()
	v.written = 0
	v.played = 0
	v.playing = false
	v.anchorAt = v.clk.Now()
	v.anchorPos = 0
	return nil
}

func (v *BufferVoice) Close() error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.closed {
		return nil
	}
	v.closed = true
	v.playing = false
	v.ring.Reset()
	return nil
}

func (v *BufferVoice) SetVolume(vol float64) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if vol < 0 {
		vol = 0
	}
	v.volume = vol
}

func (v *BufferVoice) SetPitch(p float64) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if p <= 0 || v.closed {
		return
	}
	// Fold position at the old rate before the new one takes effect.
	v.advanceLocked()
	v.anchorAt = v.clk.Now()
	v.anchorPos = v.played
	v.pitch = p
}

func (v *BufferVoice) SetPosition(x, y, z float64) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.pos = [3]float64{x, y, z}
}

func (v *BufferVoice) SetCone(inner, outer, outerVolume float64) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.cone = [3]float64{inner, outer, outerVolume}
}

// Volume reports the last volume set on the voice.
func (v *BufferVoice) Volume() float64 {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.volume
}

// Pitch reports the current playback rate scale.
func (v *BufferVoice) Pitch() float64 {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.pitch
}

// Buffered reports the bytes written but not yet consumed.
func (v *BufferVoice) Buffered() int64 {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.advanceLocked()
	return v.written - v.played
}
