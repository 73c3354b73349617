package playback

import (
	"bytes"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tactus-audio/tactus-go/pkg/audio"
	"github.com/tactus-audio/tactus-go/pkg/audio/source"
	"github.com/tactus-audio/tactus-go/pkg/audio/voice"
	"github.com/tactus-audio/tactus-go/pkg/clock"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// recordVoice is a hand-driven voice: the test moves the play position
// itself and inspects everything the player pushed in. capacity == 0
// accepts unboundedly.
type recordVoice struct {
	mu       sync.Mutex
	written  bytes.Buffer
	pos      int64
	capacity int64

	playing    bool
	playCalls  int
	pauseCalls int
	flushCalls int
	closeCalls int

	volume, pitch float64
	x, y, z       float64
	coneInner     float64
	coneOuter     float64
	coneOuterVol  float64
}

func newRecordVoice() *recordVoice {
	return &recordVoice{volume: 1, pitch: 1}
}

func (v *recordVoice) Write(p []byte) (int, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	n := int64(len(p))
	if v.capacity > 0 {
		if free := v.capacity - (int64(v.written.Len()) - v.pos); n > free {
			n = free
		}
		if n < 0 {
			n = 0
		}
	}
	v.written.Write(p[:n])
	return int(n), nil
}

func (v *recordVoice) PlayPosition() int64 {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.pos
}

func (v *recordVoice) advanceTo(pos int64) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.pos = pos
}

func (v *recordVoice) writtenBytes() []byte {
	v.mu.Lock()
	defer v.mu.Unlock()
	return append([]byte(nil), v.written.Bytes()...)
}

func (v *recordVoice) Play() error {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.playing = true
	v.playCalls++
	return nil
}

func (v *recordVoice) Pause() error {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.playing = false
	v.pauseCalls++
	return nil
}

func (v *recordVoice) Flush() error {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.written.Reset()
	v.pos = 0
	v.flushCalls++
	return nil
}

func (v *recordVoice) Close() error {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.playing = false
	v.closeCalls++
	return nil
}

func (v *recordVoice) SetVolume(vol float64) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.volume = vol
}

func (v *recordVoice) SetPitch(pitch float64) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.pitch = pitch
}

func (v *recordVoice) SetPosition(x, y, z float64) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.x, v.y, v.z = x, y, z
}

func (v *recordVoice) SetCone(inner, outer, outerVolume float64) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.coneInner, v.coneOuter, v.coneOuterVol = inner, outer, outerVolume
}

// masterSource decorates a source with a test-controlled master clock.
type masterSource struct {
	source.Source

	mu sync.Mutex
	mt time.Duration
	ok bool
}

func (m *masterSource) MasterTime() (time.Duration, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.mt, m.ok
}

func (m *masterSource) setMaster(mt time.Duration, ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.mt, m.ok = mt, ok
}

func newTestPlayer(t *testing.T, src source.Source, cfg Config, onEvent func(audio.Event)) (*Player, *recordVoice, *clock.Manual) {
	t.Helper()
	rv := newRecordVoice()
	clk := clock.NewManual()
	p, err := NewPlayer(src, rv, PlayerOptions{
		Clock:   clk,
		Config:  cfg,
		Logger:  testLogger(),
		OnEvent: onEvent,
	})
	require.NoError(t, err)
	return p, rv, clk
}

func assertCursors(t *testing.T, p *Player) {
	t.Helper()
	p.mu.Lock()
	defer p.mu.Unlock()
	assert.GreaterOrEqual(t, p.bufferCursor, int64(0))
	assert.LessOrEqual(t, p.bufferCursor, p.playCursor)
	assert.LessOrEqual(t, p.playCursor, p.writeCursor)
}

func TestPlayerRejectsBadConstruction(t *testing.T) {
	src := newScriptSource(mono44k)

	_, err := NewPlayer(nil, newRecordVoice(), PlayerOptions{})
	assert.Error(t, err)
	_, err = NewPlayer(src, nil, PlayerOptions{})
	assert.Error(t, err)

	bad := newScriptSource(audio.Format{})
	_, err = NewPlayer(bad, newRecordVoice(), PlayerOptions{})
	assert.ErrorContains(t, err, "format")
}

func TestPlayerPrefillLoadsIdealBuffer(t *testing.T) {
	steps := make([]scriptStep, 0, 10)
	for i := 0; i < 10; i++ {
		steps = append(steps, dataStep(ramp(i*4410, 4410)))
	}
	p, rv, _ := newTestPlayer(t, newScriptSource(mono44k, steps...), Config{}, nil)

	require.NoError(t, p.Prefill())
	// 200ms at 88200 B/s.
	assert.Equal(t, 17640, len(rv.writtenBytes()))
	assert.Equal(t, StateIdle, p.State())
	assert.Zero(t, p.Position())
	assertCursors(t, p)

	assert.ErrorIs(t, p.Prefill(), ErrInvalidState, "prefill runs once per clear")

	require.NoError(t, p.Play())
	assert.ErrorIs(t, p.Prefill(), ErrInvalidState)
}

func TestPlayerStateLifecycle(t *testing.T) {
	p, rv, _ := newTestPlayer(t, newScriptSource(mono44k, dataStep(ramp(0, 17640))), Config{}, nil)

	assert.Equal(t, StateIdle, p.State())

	require.NoError(t, p.Play())
	assert.Equal(t, StatePlaying, p.State())
	assert.Equal(t, 1, rv.playCalls)

	require.NoError(t, p.Play(), "play while playing is a no-op")
	assert.Equal(t, 1, rv.playCalls)

	require.NoError(t, p.Stop())
	assert.Equal(t, StatePaused, p.State())
	assert.Equal(t, 1, rv.pauseCalls)
	require.NoError(t, p.Stop(), "stop while stopped is a no-op")
	assert.Equal(t, 1, rv.pauseCalls)

	require.NoError(t, p.Play())
	assert.ErrorIs(t, p.Clear(), ErrInvalidState, "clear needs a stopped player")
	require.NoError(t, p.Stop())
	require.NoError(t, p.Clear())
	assert.Equal(t, StateIdle, p.State())
	assert.Equal(t, 1, rv.flushCalls)

	require.NoError(t, p.Close())
	assert.Equal(t, 1, rv.closeCalls)
	require.NoError(t, p.Close(), "close is idempotent")
	assert.Equal(t, 1, rv.closeCalls)
	assert.ErrorIs(t, p.Play(), ErrInvalidState)
	assert.ErrorIs(t, p.Clear(), ErrInvalidState)
	assert.ErrorIs(t, p.Seek(0), ErrInvalidState)
}

func TestPlayerPositionFollowsVoice(t *testing.T) {
	steps := make([]scriptStep, 0, 12)
	for i := 0; i < 12; i++ {
		steps = append(steps, dataStep(ramp(i*4410, 4410)))
	}
	p, rv, clk := newTestPlayer(t, newScriptSource(mono44k, steps...), Config{}, nil)

	require.NoError(t, p.Prefill())
	require.NoError(t, p.Play())

	rv.advanceTo(4410)
	clk.Set(50 * time.Millisecond)
	p.Work()
	assert.Equal(t, 50*time.Millisecond, p.Position())
	assertCursors(t, p)

	rv.advanceTo(8820)
	clk.Set(100 * time.Millisecond)
	p.Work()
	assert.Equal(t, 100*time.Millisecond, p.Position())
	// Consumption dipped the buffer below two thirds of ideal, so the
	// tick refilled back to target.
	assert.Equal(t, 26460, len(rv.writtenBytes()))
	assertCursors(t, p)
}

func TestPlayerEndOfStream(t *testing.T) {
	src := newScriptSource(mono44k,
		dataStep(ramp(0, 4096)),
		dataStep(ramp(4096, 4096)),
		dataStep(ramp(8192, 1000)),
	)
	var events []audio.Event
	p, rv, clk := newTestPlayer(t, src, Config{}, func(ev audio.Event) {
		events = append(events, ev)
	})

	// The source holds 9192 bytes, less than one ideal buffer; the
	// prefill gets everything there is.
	require.NoError(t, p.Prefill())
	assert.Equal(t, 9192, len(rv.writtenBytes()))
	assert.Empty(t, events)

	require.NoError(t, p.Play())

	// Half played: the tick discovers the source is dry, but the end
	// has not been heard yet.
	rv.advanceTo(4586)
	clk.Set(52 * time.Millisecond)
	p.Work()
	assert.Empty(t, events)
	assertCursors(t, p)

	// The last byte drains: exactly one end-of-stream event, placed
	// at the full content length.
	rv.advanceTo(9192)
	clk.Set(110 * time.Millisecond)
	p.Work()
	require.Len(t, events, 1)
	assert.Equal(t, audio.EventEOS, events[0].Kind)
	assert.Equal(t, mono44k.BytesToDuration(9192), events[0].Timestamp)
	assert.Equal(t, mono44k.BytesToDuration(9192), p.Position())

	// Further ticks never repeat it.
	clk.Set(200 * time.Millisecond)
	p.Work()
	p.Work()
	assert.Len(t, events, 1)
}

func TestPlayerEmptySourceFiresEOSOnce(t *testing.T) {
	var events []audio.Event
	p, _, _ := newTestPlayer(t, newScriptSource(mono44k), Config{}, func(ev audio.Event) {
		events = append(events, ev)
	})

	require.NoError(t, p.Prefill())
	require.Len(t, events, 1)
	assert.Equal(t, audio.EventEOS, events[0].Kind)
	assert.Zero(t, events[0].Timestamp)

	p.Work()
	assert.Len(t, events, 1)
}

func TestPlayerSourceEndPrecedesEOS(t *testing.T) {
	var order []string
	rv := newRecordVoice()
	clk := clock.NewManual()
	p, err := NewPlayer(newScriptSource(mono8k, dataStep(ramp(0, 640))), rv, PlayerOptions{
		Clock:  clk,
		Config: Config{IdealBuffer: 40 * time.Millisecond},
		Logger: testLogger(),
		OnEvent: func(ev audio.Event) {
			if ev.Kind == audio.EventEOS {
				order = append(order, "eos")
			}
		},
		OnSourceEnd: func() {
			order = append(order, "source-end")
		},
	})
	require.NoError(t, err)

	require.NoError(t, p.Prefill())
	require.NoError(t, p.Play())
	assert.Empty(t, order)

	// The source runs dry with half the buffer still queued: the end
	// of the chain is announced while the tail keeps playing.
	rv.advanceTo(320)
	clk.Set(20 * time.Millisecond)
	p.Work()
	assert.Equal(t, []string{"source-end"}, order)

	p.Work()
	assert.Equal(t, []string{"source-end"}, order, "the notification fires once")

	rv.advanceTo(640)
	clk.Set(40 * time.Millisecond)
	p.Work()
	assert.Equal(t, []string{"source-end", "eos"}, order)

	p.Work()
	assert.Equal(t, []string{"source-end", "eos"}, order)
}

func TestPlayerSeekRemapsEvents(t *testing.T) {
	data := ramp(0, 88200) // one second
	mem, err := source.NewMemorySource(mono44k, data)
	require.NoError(t, err)
	mem.AddEvent(marker("chorus", 600*time.Millisecond))

	var events []audio.Event
	p, rv, _ := newTestPlayer(t, mem, Config{}, func(ev audio.Event) {
		events = append(events, ev)
	})

	require.NoError(t, p.Seek(500*time.Millisecond))
	assert.Zero(t, p.Position(), "position restarts at the seek target")

	require.NoError(t, p.Prefill())
	written := rv.writtenBytes()
	require.NotEmpty(t, written)
	assert.Equal(t, data[44100:44110], written[:10], "audio resumes at the seek target")

	// The 600ms marker sits 100ms past the seek target: byte 8820.
	require.NoError(t, p.Play())
	rv.advanceTo(8818)
	p.Work()
	assert.Empty(t, events)
	rv.advanceTo(8820)
	p.Work()
	require.Len(t, events, 1)
	assert.Equal(t, "chorus", events[0].Marker)
}

func TestPlayerSeekNotSeekableKeepsState(t *testing.T) {
	src := newScriptSource(mono44k, dataStep(ramp(0, 17640)))
	src.seekErr = source.ErrNotSeekable
	p, rv, _ := newTestPlayer(t, src, Config{}, nil)

	require.NoError(t, p.Prefill())
	err := p.Seek(time.Second)
	assert.ErrorIs(t, err, source.ErrNotSeekable)
	assert.Zero(t, rv.flushCalls, "a refused seek clears nothing")
	assert.Equal(t, 17640, len(rv.writtenBytes()))
}

func TestPlayerClearSuspendsEventMapping(t *testing.T) {
	far := marker("intro", 5*time.Second)
	src := newScriptSource(mono44k,
		dataStep(ramp(0, 17640)),
		scriptStep{pkt: &audio.Packet{Data: ramp(0, 4410), Events: []audio.Event{far}}},
	)
	var events []audio.Event
	p, rv, _ := newTestPlayer(t, src, Config{}, func(ev audio.Event) {
		events = append(events, ev)
	})

	require.NoError(t, p.Prefill())
	require.NoError(t, p.Clear())
	assert.Equal(t, 1, rv.flushCalls)
	assert.Zero(t, p.Position())

	// After a bare clear the source position is unknown, so the 5s
	// timestamp cannot be trusted: the event fires where its packet
	// entered the stream instead of five seconds out.
	require.NoError(t, p.Prefill())
	p.Work()
	require.Len(t, events, 1)
	assert.Equal(t, "intro", events[0].Marker)
}

func TestPlayerGaplessChain(t *testing.T) {
	cfg := Config{IdealBuffer: 40 * time.Millisecond}

	srcA, err := source.NewMemorySource(mono8k, ramp(0, 640))
	require.NoError(t, err)
	srcB, err := source.NewMemorySource(mono8k, ramp(640, 640))
	require.NoError(t, err)
	srcB.AddEvent(marker("verse", 20*time.Millisecond))

	var events []audio.Event
	p, rv, clk := newTestPlayer(t, srcA, cfg, func(ev audio.Event) {
		events = append(events, ev)
	})

	require.NoError(t, p.Prefill())
	require.NoError(t, p.SetSource(srcB))
	require.NoError(t, p.Play())

	// Drain A while B streams in behind it.
	rv.advanceTo(320)
	clk.Set(20 * time.Millisecond)
	p.Work()
	assert.Empty(t, events)
	assertCursors(t, p)

	rv.advanceTo(640)
	clk.Set(40 * time.Millisecond)
	p.Work()
	assert.Empty(t, events, "B's 20ms marker waits for B's audio")

	// 320 bytes into B: 20ms of B's own timeline.
	rv.advanceTo(960)
	clk.Set(60 * time.Millisecond)
	p.Work()
	require.Len(t, events, 1)
	assert.Equal(t, "verse", events[0].Marker)

	// Exhaust the chain: one end-of-stream for the whole chain, none
	// at the A/B boundary.
	rv.advanceTo(1280)
	clk.Set(80 * time.Millisecond)
	p.Work()
	clk.Set(100 * time.Millisecond)
	p.Work()
	require.Len(t, events, 2)
	assert.Equal(t, audio.EventEOS, events[1].Kind)
	assert.Equal(t, mono8k.BytesToDuration(1280), events[1].Timestamp)

	// The voice received one continuous stream across the swap.
	assert.Equal(t, ramp(0, 1280), rv.writtenBytes())
}

func TestPlayerSetSourceFormatMismatch(t *testing.T) {
	srcA, err := source.NewMemorySource(mono8k, ramp(0, 640))
	require.NoError(t, err)
	stereo := audio.Format{Channels: 2, SampleBits: 16, SampleRate: 8000}
	srcB, err := source.NewMemorySource(stereo, ramp(0, 640))
	require.NoError(t, err)

	p, _, _ := newTestPlayer(t, srcA, Config{}, nil)

	err = p.SetSource(srcB)
	assert.ErrorIs(t, err, ErrFormatMismatch)
	assert.ErrorIs(t, err, voice.ErrFormatMismatch)

	p.mu.Lock()
	assert.Same(t, source.Source(srcA), p.src, "a rejected swap changes nothing")
	p.mu.Unlock()
}

func TestPlayerMinorDriftDropsWithinStep(t *testing.T) {
	cfg := Config{IdealBuffer: 40 * time.Millisecond}
	mem, err := source.NewMemorySource(mono8k, ramp(0, 32000))
	require.NoError(t, err)
	p, rv, clk := newTestPlayer(t, mem, cfg, nil)

	require.NoError(t, p.Prefill())
	require.NoError(t, p.Play())

	// The voice runs a constant 40ms behind the master. The estimator
	// samples on refill ticks (every other tick here) and corrects
	// once its window fills, capped at the 12ms step.
	for i := 1; i <= 20; i++ {
		clk.Set(time.Duration(i) * 10 * time.Millisecond)
		if i >= 5 {
			rv.advanceTo(int64(i-4) * 160)
		}
		if i < 20 {
			p.mu.Lock()
			assert.Zero(t, p.compensated, "tick %d corrects nothing", i)
			p.mu.Unlock()
		}
		p.Work()
		assertCursors(t, p)
	}

	p.mu.Lock()
	compensated := p.compensated
	p.mu.Unlock()
	assert.Equal(t, int64(-192), compensated, "one step of 12ms dropped")

	// The written stream skips exactly the dropped run.
	written := rv.writtenBytes()
	require.Equal(t, 3200, len(written))
	assert.Equal(t, ramp(0, 10), written[:10])
	assert.Equal(t, ramp(2880+192, 10), written[2880:2890])
}

func TestPlayerMinorDriftPadsWithinStep(t *testing.T) {
	cfg := Config{IdealBuffer: 40 * time.Millisecond}
	mem, err := source.NewMemorySource(mono8k, ramp(0, 32000))
	require.NoError(t, err)
	p, rv, clk := newTestPlayer(t, mem, cfg, nil)

	require.NoError(t, p.Prefill())
	require.NoError(t, p.Play())

	// Here the master lags 40ms behind the audio clock.
	for i := 1; i <= 16; i++ {
		if i > 4 {
			clk.Set(time.Duration(i-4) * 10 * time.Millisecond)
		}
		rv.advanceTo(int64(i) * 160)
		if i < 16 {
			p.mu.Lock()
			assert.Zero(t, p.compensated, "tick %d corrects nothing", i)
			p.mu.Unlock()
		}
		p.Work()
	}

	p.mu.Lock()
	compensated := p.compensated
	p.mu.Unlock()
	assert.Equal(t, int64(192), compensated, "one step of 12ms padded")

	// The pad repeats the first frame of the chunk it precedes.
	written := rv.writtenBytes()
	require.GreaterOrEqual(t, len(written), 3074)
	frame := ramp(2880, 2)
	assert.Equal(t, []byte{frame[0], frame[1], frame[0], frame[1]}, written[2880:2884])
	assert.Equal(t, frame, written[3072:3074], "real data resumes after the pad")
}

func TestPlayerCriticalDriftResyncsAtOnce(t *testing.T) {
	cfg := Config{IdealBuffer: 40 * time.Millisecond}
	mem, err := source.NewMemorySource(mono8k, ramp(0, 32000))
	require.NoError(t, err)
	p, rv, clk := newTestPlayer(t, mem, cfg, nil)

	require.NoError(t, p.Prefill())
	require.NoError(t, p.Play())

	clk.Set(10 * time.Millisecond)
	rv.advanceTo(160)
	p.Work()

	// The master leaps 400ms ahead: past critical, the whole gap is
	// dropped in one tick instead of creeping at 12ms per correction.
	clk.Set(420 * time.Millisecond)
	rv.advanceTo(320)
	p.Work()

	p.mu.Lock()
	compensated := p.compensated
	p.mu.Unlock()
	assert.Equal(t, int64(-6400), compensated)
	assert.Equal(t, 420*time.Millisecond, p.Position(), "position lands on the master clock")

	written := rv.writtenBytes()
	assert.Equal(t, ramp(7040, 4), written[640:644], "content jumps over the dropped region")

	// Resynchronized: later ticks leave it alone.
	clk.Set(430 * time.Millisecond)
	rv.advanceTo(480)
	p.Work()
	clk.Set(440 * time.Millisecond)
	rv.advanceTo(640)
	p.Work()
	p.mu.Lock()
	assert.Equal(t, int64(-6400), p.compensated)
	p.mu.Unlock()
}

func TestPlayerMasterClockAnchorsFirstReading(t *testing.T) {
	cfg := Config{IdealBuffer: 40 * time.Millisecond}
	mem, err := source.NewMemorySource(mono8k, ramp(0, 32000))
	require.NoError(t, err)
	src := &masterSource{Source: mem}
	p, rv, clk := newTestPlayer(t, src, cfg, nil)

	require.NoError(t, p.Prefill())
	require.NoError(t, p.Play())

	// The server clock reads five seconds of absolute time but
	// advances at the same rate as playback; the constant offset is
	// anchored away and no correction ever fires.
	for i := 1; i <= 20; i++ {
		src.setMaster(5*time.Second+time.Duration(i)*10*time.Millisecond, true)
		clk.Set(time.Duration(i) * 10 * time.Millisecond)
		rv.advanceTo(int64(i) * 160)
		p.Work()
		p.mu.Lock()
		assert.Zero(t, p.compensated, "tick %d", i)
		p.mu.Unlock()
	}

	// The master reading goes away: drift falls back to the local
	// clock, which has meanwhile jumped far ahead.
	src.setMaster(0, false)
	clk.Set(610 * time.Millisecond)
	rv.advanceTo(21 * 160)
	p.Work()
	clk.Set(620 * time.Millisecond)
	rv.advanceTo(22 * 160)
	p.Work()

	p.mu.Lock()
	compensated := p.compensated
	p.mu.Unlock()
	assert.Equal(t, int64(-6400), compensated, "fallback clock exposes the 400ms gap")
}

func TestPlayerUnderrunRecoversOnNewSource(t *testing.T) {
	cfg := Config{IdealBuffer: 40 * time.Millisecond}
	var events []audio.Event
	p, rv, clk := newTestPlayer(t, newScriptSource(mono8k, dataStep(ramp(0, 640))), cfg,
		func(ev audio.Event) { events = append(events, ev) })

	require.NoError(t, p.Prefill())
	require.NoError(t, p.Play())

	// Tick 1 finds the source dry and latches end-of-stream; a swap
	// arrives before the end is heard, reopening the chain.
	clk.Set(20 * time.Millisecond)
	rv.advanceTo(320)
	p.Work()
	require.NoError(t, p.SetSource(newScriptSource(mono8k,
		eventStep(marker("trail", 0)))))

	// Tick 2 drains the voice completely while the new source has
	// only trailing metadata: a genuine underrun, not an end.
	clk.Set(40 * time.Millisecond)
	rv.advanceTo(640)
	p.Work()
	p.mu.Lock()
	assert.True(t, p.underrun)
	assert.False(t, p.eosPending)
	p.mu.Unlock()
	assert.Empty(t, events)

	// Fresh data lands: playback is re-triggered on the voice.
	require.NoError(t, p.SetSource(newScriptSource(mono8k, dataStep(ramp(640, 640)))))
	clk.Set(60 * time.Millisecond)
	p.Work()
	assert.Equal(t, 2, rv.playCalls, "voice restarted after the underrun")
	p.mu.Lock()
	assert.False(t, p.underrun)
	p.mu.Unlock()
	require.Len(t, events, 1)
	assert.Equal(t, "trail", events[0].Marker)

	// The chain then ends normally, once.
	clk.Set(80 * time.Millisecond)
	rv.advanceTo(960)
	p.Work()
	clk.Set(100 * time.Millisecond)
	rv.advanceTo(1280)
	p.Work()
	clk.Set(120 * time.Millisecond)
	p.Work()
	require.Len(t, events, 2)
	assert.Equal(t, audio.EventEOS, events[1].Kind)
}

func TestPlayerSourceErrorEndsStream(t *testing.T) {
	boom := errors.New("connection reset")
	src := newScriptSource(mono44k,
		dataStep(ramp(0, 17640)),
		errStep(boom),
	)
	var events []audio.Event
	p, rv, clk := newTestPlayer(t, src, Config{}, func(ev audio.Event) {
		events = append(events, ev)
	})

	require.NoError(t, p.Prefill())
	require.NoError(t, p.Play())

	rv.advanceTo(8820)
	clk.Set(100 * time.Millisecond)
	p.Work()
	assert.Empty(t, events, "the failure ends the stream but the buffer still plays")

	rv.advanceTo(17640)
	clk.Set(200 * time.Millisecond)
	p.Work()
	require.Len(t, events, 1)
	assert.Equal(t, audio.EventEOS, events[0].Kind)
	assert.Equal(t, StatePlaying, p.State(), "stopping is the caller's decision")
}

func TestPlayerStagedSurvivesVoiceBackpressure(t *testing.T) {
	cfg := Config{IdealBuffer: 40 * time.Millisecond}
	mem, err := source.NewMemorySource(mono8k, ramp(0, 3200))
	require.NoError(t, err)
	p, rv, clk := newTestPlayer(t, mem, cfg, nil)
	rv.capacity = 320 // half the ideal buffer

	require.NoError(t, p.Prefill())
	assert.Equal(t, 320, len(rv.writtenBytes()), "the voice took what fit")
	p.mu.Lock()
	assert.Len(t, p.staged, 320, "the rest waits staged")
	p.mu.Unlock()

	require.NoError(t, p.Play())
	for i := 1; i <= 6; i++ {
		clk.Set(time.Duration(i) * 10 * time.Millisecond)
		rv.advanceTo(int64(i) * 160)
		p.Work()
		assertCursors(t, p)
	}

	// Nothing was lost to the full voice: the written stream is a
	// continuous prefix.
	written := rv.writtenBytes()
	assert.Equal(t, ramp(0, len(written)), written)
	assert.GreaterOrEqual(t, len(written), 1280)
}

func TestPlayerClampsVoiceOverrun(t *testing.T) {
	p, rv, _ := newTestPlayer(t, newScriptSource(mono44k, dataStep(ramp(0, 17640))), Config{}, nil)

	require.NoError(t, p.Prefill())
	rv.advanceTo(99999)
	p.Work()

	assert.Equal(t, mono44k.BytesToDuration(17640), p.Position(),
		"a voice reporting past the write edge is clamped")
	assertCursors(t, p)
}

func TestPlayerForwardsVoiceControls(t *testing.T) {
	p, rv, _ := newTestPlayer(t, newScriptSource(mono44k), Config{}, nil)

	p.SetVolume(0.5)
	p.SetPitch(1.5)
	p.SetPosition(1, 2, 3)
	p.SetCone(0.1, 0.2, 0.3)

	rv.mu.Lock()
	defer rv.mu.Unlock()
	assert.Equal(t, 0.5, rv.volume)
	assert.Equal(t, 1.5, rv.pitch)
	assert.Equal(t, []float64{1, 2, 3}, []float64{rv.x, rv.y, rv.z})
	assert.Equal(t, []float64{0.1, 0.2, 0.3}, []float64{rv.coneInner, rv.coneOuter, rv.coneOuterVol})
}

func TestPlayerWorkAfterCloseIsInert(t *testing.T) {
	p, rv, _ := newTestPlayer(t, newScriptSource(mono44k, dataStep(ramp(0, 100))), Config{}, nil)

	require.NoError(t, p.Close())
	p.Work()
	assert.Zero(t, len(rv.writtenBytes()), "a closed player touches nothing")
}
