package voice

import (
	"encoding/binary"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gen2brain/malgo"
	"github.com/smallnest/ringbuffer"

	"github.com/tactus-audio/tactus-go/pkg/audio"
)

// MalgoBackend plays through miniaudio. Unlike oto it opens one device
// per voice, so voices with different formats coexist, and 24/32-bit
// PCM passes through without truncation.
type MalgoBackend struct {
	capacity time.Duration
	log      *slog.Logger

	mu     sync.Mutex
	ctx    *malgo.AllocatedContext
	voices map[*MalgoVoice]struct{}
	closed bool
}

// NewMalgoBackend initializes the miniaudio context.
func NewMalgoBackend(capacity time.Duration, log *slog.Logger) (*MalgoBackend, error) {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	if log == nil {
		log = slog.Default()
	}
	ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, func(message string) {
		log.Debug("miniaudio", "message", strings.TrimSpace(message))
	})
	if err != nil {
		return nil, fmt.Errorf("malgo voice: init context: %w", err)
	}
	return &MalgoBackend{
		capacity: capacity,
		log:      log,
		ctx:      ctx,
		voices:   make(map[*MalgoVoice]struct{}),
	}, nil
}

func (b *MalgoBackend) NewVoice(f audio.Format) (Voice, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, ErrClosed
	}
	if !f.Valid() {
		return nil, fmt.Errorf("malgo voice: invalid format %+v", f)
	}

	var format malgo.FormatType
	switch f.SampleBits {
	case 16:
		format = malgo.FormatS16
	case 24:
		format = malgo.FormatS24
	case 32:
		format = malgo.FormatS32
	default:
		return nil, fmt.Errorf("malgo voice: unsupported bit depth %d (supported: 16, 24, 32)", f.SampleBits)
	}

	v := &MalgoVoice{
		format:  f,
		log:     b.log,
		backend: b,
		ring:    ringbuffer.New(int(f.DurationToBytes(b.capacity))),
	}
	v.volumeBits.Store(math.Float64bits(1.0))

	deviceConfig := malgo.DefaultDeviceConfig(malgo.Playback)
	deviceConfig.Playback.Format = format
	deviceConfig.Playback.Channels = uint32(f.Channels)
	deviceConfig.SampleRate = f.SampleRate
	deviceConfig.Alsa.NoMMap = 1

	device, err := malgo.InitDevice(b.ctx.Context, deviceConfig, malgo.DeviceCallbacks{
		Data: func(pOutput, pInput []byte, frameCount uint32) {
			v.onData(pOutput)
		},
	})
	if err != nil {
		return nil, fmt.Errorf("malgo voice: init device: %w", err)
	}
	v.device = device
	b.voices[v] = struct{}{}
	return v, nil
}

func (b *MalgoBackend) release(v *MalgoVoice) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.voices, v)
}

func (b *MalgoBackend) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	open := make([]*MalgoVoice, 0, len(b.voices))
	for v := range b.voices {
		open = append(open, v)
	}
	b.mu.Unlock()

	for _, v := range open {
		v.Close()
	}

	if err := b.ctx.Uninit(); err != nil {
		b.ctx.Free()
		return fmt.Errorf("malgo voice: uninit context: %w", err)
	}
	b.ctx.Free()
	return nil
}

// MalgoVoice feeds one miniaudio playback device. The device callback
// runs on an audio thread and touches only the ring and atomics;
// everything it learns (consumption, starvation) is drained from the
// engine side.
type MalgoVoice struct {
	format  audio.Format
	log     *slog.Logger
	backend *MalgoBackend
	ring    *ringbuffer.RingBuffer
	device  *malgo.Device

	mu           sync.Mutex
	written      int64
	playing      bool
	closed       bool
	pitchWarned  bool
	lastStarvLog time.Time
	starvedTotal int64

	consumed   atomic.Int64
	starved    atomic.Int64
	active     atomic.Bool
	volumeBits atomic.Uint64
}

// onData fills one device period from the ring, scaling for volume and
// zero-filling any shortfall.
func (v *MalgoVoice) onData(out []byte) {
	n, _ := v.ring.Read(out)
	v.consumed.Add(int64(n))
	if vol := math.Float64frombits(v.volumeBits.Load()); vol != 1.0 {
		scalePCM(out[:n], int(v.format.SampleBits), vol)
	}
	if n < len(out) {
		fill := out[n:]
		for i := range fill {
			fill[i] = 0
		}
		if v.active.Load() {
			v.starved.Add(int64(len(fill)))
		}
	}
}

func (v *MalgoVoice) Write(p []byte) (int, error) {
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
		return 0, fmt.Errorf("malgo voice: %w", err)
	}
	v.written += int64(n)
	return n, nil
}

func (v *MalgoVoice) PlayPosition() int64 {
	v.drainStarvation()
	v.mu.Lock()
	defer v.mu.Unlock()
	pos := v.consumed.Load()
	if pos > v.written {
		pos = v.written
	}
	return v.format.Align(pos)
}

func (v *MalgoVoice) drainStarvation() {
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
			"driver", "malgo", "bytes", v.starvedTotal)
		v.starvedTotal = 0
	}
}

func (v *MalgoVoice) Play() error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.closed {
		return ErrClosed
	}
	if v.playing {
		return nil
	}
	v.active.Store(true)
	if err := v.device.Start(); err != nil {
		v.active.Store(false)
		return fmt.Errorf("malgo voice: start device: %w", err)
	}
	v.playing = true
	return nil
}

func (v *MalgoVoice) Pause() error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.closed {
		return ErrClosed
	}
	if !v.playing {
		return nil
	}
	v.active.Store(false)
	if err := v.device.Stop(); err != nil {
		return fmt.Errorf("malgo voice: stop device: %w", err)
	}
	v.playing = false
	return nil
}

func (v *MalgoVoice) Flush() error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.closed {
		return ErrClosed
	}
	if v.playing {
		v.active.Store(false)
		if err := v.device.Stop(); err != nil {
			return fmt.Errorf("malgo voice: stop device: %w", err)
		}
		v.playing = false
	}
	v.ring.Reset()
	v.consumed.Store(0)
	v.starved.Store(0)
	v.written = 0
	return nil
}

func (v *MalgoVoice) Close() error {
	v.mu.Lock()
	if v.closed {
		v.mu.Unlock()
		return nil
	}
	v.closed = true
	v.active.Store(false)
	if v.playing {
		if err := v.device.Stop(); err != nil {
			v.log.Warn("device stop failed during close", "driver", "malgo", "error", err)
		}
		v.playing = false
	}
	v.device.Uninit()
	v.ring.Reset()
	v.mu.Unlock()

	v.backend.release(v)
	return nil
}

func (v *MalgoVoice) SetVolume(vol float64) {
	if vol < 0 {
		vol = 0
	}
	v.volumeBits.Store(math.Float64bits(vol))
}

func (v *MalgoVoice) SetPitch(float64) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if !v.pitchWarned {
		v.pitchWarned = true
		v.log.Debug("pitch control not supported", "driver", "malgo")
	}
}

func (v *MalgoVoice) SetPosition(x, y, z float64) {
	// The low-level miniaudio device API mixes without spatialization.
}

func (v *MalgoVoice) SetCone(inner, outer, outerVolume float64) {
}

const (
	max24 = 1<<23 - 1
	min24 = -1 << 23
)

// scalePCM multiplies interleaved little-endian samples in place,
// clamping to the sample range.
func scalePCM(buf []byte, bits int, vol float64) {
	switch bits {
	case 16:
		for i := 0; i+1 < len(buf); i += 2 {
			s := int64(float64(int16(binary.LittleEndian.Uint16(buf[i:]))) * vol)
			if s > math.MaxInt16 {
				s = math.MaxInt16
			} else if s < math.MinInt16 {
				s = math.MinInt16
			}
			binary.LittleEndian.PutUint16(buf[i:], uint16(int16(s)))
		}
	case 24:
		for i := 0; i+2 < len(buf); i += 3 {
			raw := int32(buf[i]) | int32(buf[i+1])<<8 | int32(int8(buf[i+2]))<<16
			s := int64(float64(raw) * vol)
			if s > max24 {
				s = max24
			} else if s < min24 {
				s = min24
			}
			buf[i] = byte(s)
			buf[i+1] = byte(s >> 8)
			buf[i+2] = byte(s >> 16)
		}
	case 32:
		for i := 0; i+3 < len(buf); i += 4 {
			s := int64(float64(int32(binary.LittleEndian.Uint32(buf[i:]))) * vol)
			if s > math.MaxInt32 {
				s = math.MaxInt32
			} else if s < math.MinInt32 {
				s = math.MinInt32
			}
			binary.LittleEndian.PutUint32(buf[i:], uint32(int32(s)))
		}
	}
}
