package voice

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ebitengine/oto/v3"
	"github.com/smallnest/ringbuffer"

	"github.com/tactus-audio/tactus-go/pkg/audio"
)

// OtoBackend plays through the oto library. oto allows one context per
// process and the context fixes sample rate and channel count, so the
// backend binds to the format of the first voice it opens and rejects
// later voices that differ.
type OtoBackend struct {
	capacity time.Duration
	log      *slog.Logger

	mu     sync.Mutex
	ctx    *oto.Context
	bound  audio.Format
	closed bool
}

// NewOtoBackend creates the backend. The platform context is opened
// lazily by the first NewVoice call.
func NewOtoBackend(capacity time.Duration, log *slog.Logger) *OtoBackend {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	if log == nil {
		log = slog.Default()
	}
	return &OtoBackend{capacity: capacity, log: log}
}

func (b *OtoBackend) NewVoice(f audio.Format) (Voice, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, ErrClosed
	}
	if !f.Valid() || f.SampleBits != 16 {
		return nil, fmt.Errorf("oto voice: unsupported format %+v (16-bit only)", f)
	}

	if b.ctx == nil {
		ctx, ready, err := oto.NewContext(&oto.NewContextOptions{
			SampleRate:   int(f.SampleRate),
			ChannelCount: int(f.Channels),
			Format:       oto.FormatSignedInt16LE,
		})
		if err != nil {
			return nil, fmt.Errorf("oto voice: create context: %w", err)
		}
		<-ready
		b.ctx = ctx
		b.bound = f
		b.log.Info("audio output ready",
			"driver", "oto", "rate", f.SampleRate, "channels", f.Channels)
	} else if f != b.bound {
		return nil, fmt.Errorf("oto voice: context bound to %dHz/%dch, requested %dHz/%dch: %w",
			b.bound.SampleRate, b.bound.Channels, f.SampleRate, f.Channels, ErrFormatMismatch)
	}

	return newOtoVoice(b.ctx, f, b.capacity, b.log), nil
}

func (b *OtoBackend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	if b.ctx != nil {
		// oto has no teardown; suspending stops the mixer threads.
		if err := b.ctx.Suspend(); err != nil {
			return fmt.Errorf("oto voice: suspend context: %w", err)
		}
	}
	return nil
}

// OtoVoice feeds one oto player from a ring buffer. oto pulls on its
// own mixer goroutine; the pull side touches only the ring and atomic
// counters, and the engine-facing side drains those counters, so no
// engine lock is ever held on the audio path.
type OtoVoice struct {
	format audio.Format
	log    *slog.Logger
	ring   *ringbuffer.RingBuffer

	mu           sync.Mutex
	ctx          *oto.Context
	player       *oto.Player
	written      int64
	playing      bool
	closed       bool
	volume       float64
	pitchWarned  bool
	lastStarvLog time.Time
	starvedTotal int64

	consumed atomic.Int64 // PCM bytes pulled by the mixer, zero fill excluded
	starved  atomic.Int64 // zero-filled bytes since the last drain
	active   atomic.Bool
}

func newOtoVoice(ctx *oto.Context, f audio.Format, capacity time.Duration, log *slog.Logger) *OtoVoice {
	v := &OtoVoice{
		format: f,
		log:    log,
		ring:   ringbuffer.New(int(f.DurationToBytes(capacity))),
		ctx:    ctx,
		volume: 1.0,
	}
	v.player = ctx.NewPlayer(&otoReader{v: v})
	return v
}

// otoReader is the pull side handed to oto. Shortfalls are filled with
// silence so the mixer never blocks on the engine.
type otoReader struct {
	v *OtoVoice
}

func (r *otoReader) Read(p []byte) (int, error) {
	n, _ := r.v.ring.Read(p)
	r.v.consumed.Add(int64(n))
	if n < len(p) {
		fill := p[n:]
		for i := range fill {
			fill[i] = 0
		}
		if r.v.active.Load() {
			r.v.starved.Add(int64(len(fill)))
		}
		n = len(p)
	}
	return n, nil
}

func (v *OtoVoice) Write(p []byte) (int, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.closed {
		return 0, ErrClosed
	}
	n := len(p)
	if free := v.ring.Free(); n > free {
		n = free
	}
	n = int(v.format.Align(int64(n)))
	if n == 0 {
		return 0, nil
	}
	if _, err := v.ring.Write(p[:n]); err != nil {
		return 0, fmt.Errorf("oto voice: %w", err)
	}
	v.written += int64(n)
	return n, nil
}

// PlayPosition subtracts oto's internal buffer from the consumed count
// so the answer tracks the device edge rather than the pull edge.
func (v *OtoVoice) PlayPosition() int64 {
	v.drainStarvation()
	v.mu.Lock()
	defer v.mu.Unlock()
	pos := v.consumed.Load()
	if v.player != nil {
		pos -= int64(v.player.BufferedSize())
	}
	if pos < 0 {
		pos = 0
	}
	if pos > v.written {
		pos = v.written
	}
	return v.format.Align(pos)
}

func (v *OtoVoice) drainStarvation() {
	n := v.starved.Swap(0)
	if n == 0 {
		return
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	v.starvedTotal += n
	if time.Since(v.lastStarvLog) >= time.Second {
		v.lastStarvLog = time.Now()
		v.log.Warn("voice starved, substituting silence",
			"driver", "oto", "bytes", v.starvedTotal)
		v.starvedTotal = 0
	}
}

func (v *OtoVoice) Play() error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.closed {
		return ErrClosed
	}
	if v.playing {
		return nil
	}
	v.active.Store(true)
	v.player.Play()
	v.playing = true
	return nil
}

func (v *OtoVoice) Pause() error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.closed {
		return ErrClosed
	}
	if !v.playing {
		return nil
	}
	v.active.Store(false)
	v.player.Pause()
	v.playing = false
	return nil
}

// Flush discards the ring and oto's internal buffer. The old player is
// closed and replaced, which is the only way oto lets buffered bytes
// go.
func (v *OtoVoice) Flush() error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.closed {
		return ErrClosed
	}
	v.active.Store(false)
	v.playing = false
	err := v.player.Close()
	v.ring.Reset()
	v.consumed.Store(0)
	v.starved.Store(0)
	v.written = 0
	v.player = v.ctx.NewPlayer(&otoReader{v: v})
	v.player.SetVolume(v.volume)
	if err != nil {
		return fmt.Errorf("oto voice: flush: %w", err)
	}
	return nil
}

func (v *OtoVoice) Close() error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.closed {
		return nil
	}
	v.closed = true
	v.playing = false
	v.active.Store(false)
	err := v.player.Close()
	v.player = nil
	v.ring.Reset()
	if err != nil {
		return fmt.Errorf("oto voice: close: %w", err)
	}
	return nil
}

func (v *OtoVoice) SetVolume(vol float64) {
	if vol < 0 {
		vol = 0
	}
	if vol > 1 {
		vol = 1
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	v.volume = vol
	if v.player != nil {
		v.player.SetVolume(vol)
	}
}

func (v *OtoVoice) SetPitch(float64) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if !v.pitchWarned {
		v.pitchWarned = true
		v.log.Debug("pitch control not supported", "driver", "oto")
	}
}

func (v *OtoVoice) SetPosition(x, y, z float64) {
	// oto mixes without spatialization.
}

func (v *OtoVoice) SetCone(inner, outer, outerVolume float64) {
}
