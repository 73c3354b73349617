package playback

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/tactus-audio/tactus-go/pkg/audio"
	"github.com/tactus-audio/tactus-go/pkg/audio/source"
	"github.com/tactus-audio/tactus-go/pkg/audio/voice"
	"github.com/tactus-audio/tactus-go/pkg/clock"
)

// State is a player lifecycle state.
type State int

const (
	StateIdle State = iota
	StatePlaying
	StatePaused
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StatePlaying:
		return "playing"
	case StatePaused:
		return "paused"
	default:
		return "unknown"
	}
}

// PlayerOptions configures a Player. Zero-value fields select
// defaults; a nil Scheduler leaves ticking to the caller.
type PlayerOptions struct {
	Clock     clock.Clock
	Config    Config
	Logger    *slog.Logger
	Scheduler *Scheduler

	// OnEvent receives dispatched events on the scheduler goroutine
	// (or the caller's goroutine for synchronous ticks). The handler
	// may call back into the player except Work.
	OnEvent func(audio.Event)

	// OnSourceEnd fires once when the source chain stops yielding
	// data, while the buffered tail is still playing. Callers that
	// chain sources use it to SetSource the next link in time for a
	// gapless joint. Same goroutine rules as OnEvent.
	OnSourceEnd func()
}

// Player keeps one voice fed from one source chain, tracks playback
// position in bytes, corrects drift against the master clock, and
// dispatches timestamped events in position order.
//
// Three cursors describe the pipeline, all in voice space, all
// monotonically non-decreasing between clears, always satisfying
// bufferCursor <= playCursor <= writeCursor. writeCursor advances as
// data is accepted by the voice, playCursor follows the voice's
// reported consumption, bufferCursor trails it chunk by chunk as fully
// played pushes are released. Drift corrections insert or drop bytes;
// their running sum (compensated) converts the voice-space play cursor
// into the content-space perceived cursor that position reporting and
// event dispatch use, so corrections never warp the content timeline.
type Player struct {
	format audio.Format
	cfg    Config
	log    *slog.Logger
	clk    clock.Clock
	sched  *Scheduler

	ideal int64 // target buffered bytes
	step  int64 // per-tick correction cap, bytes

	mu     sync.Mutex
	state  State
	closed bool

	voice  voice.Voice
	reader *ExactReader
	src    source.Source
	master source.MasterReporter

	bufferCursor int64
	playCursor   int64
	writeCursor  int64
	compensated  int64 // inserted minus dropped correction bytes
	fetched      int64 // content bytes pulled from the source chain

	chunkEnds []int64
	staged    []byte // fetched but not yet accepted by the voice

	events *EventQueue
	drift  *DriftEstimator

	eosPending bool
	eosFired   bool
	endPending bool
	underrun   bool

	playingSince   time.Duration
	playedTotal    time.Duration
	masterAnchor   time.Duration
	masterAnchored bool

	onEvent     func(audio.Event)
	onSourceEnd func()
}

// NewPlayer wires a player around an already created voice. The
// voice's format must match the source's; engines guarantee that by
// construction.
func NewPlayer(src source.Source, v voice.Voice, opts PlayerOptions) (*Player, error) {
	if src == nil || v == nil {
		return nil, fmt.Errorf("new player: source and voice are required")
	}
	f := src.Format()
	if !f.Valid() {
		return nil, fmt.Errorf("new player: source reports invalid format %+v", f)
	}
	cfg := opts.Config.withDefaults()
	clk := opts.Clock
	if clk == nil {
		clk = clock.NewSystem()
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}

	p := &Player{
		format:      f,
		cfg:         cfg,
		log:         log,
		clk:         clk,
		sched:       opts.Scheduler,
		ideal:       f.DurationToBytes(cfg.IdealBuffer),
		step:        f.DurationToBytes(cfg.CorrectionStep),
		voice:       v,
		reader:      NewExactReader(src),
		src:         src,
		events:      NewEventQueue(f),
		drift:       NewDriftEstimator(f, cfg.CriticalDrift, cfg.MinorDrift),
		onEvent:     opts.OnEvent,
		onSourceEnd: opts.OnSourceEnd,
	}
	p.master, _ = src.(source.MasterReporter)
	return p, nil
}

// Format reports the player's fixed audio format.
func (p *Player) Format() audio.Format { return p.format }

// State reports the current lifecycle state.
func (p *Player) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Position reports the content-space playback position since the last
// clear or seek. Drift corrections do not move it.
func (p *Player) Position() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.format.BytesToDuration(p.perceivedLocked())
}

func (p *Player) perceivedLocked() int64 {
	return p.playCursor - p.compensated
}

// Prefill synchronously loads one ideal buffer into the voice so the
// first Play starts without an audible gap. Allowed only on an idle
// player that has not pushed anything yet.
func (p *Player) Prefill() error {
	p.mu.Lock()
	if p.closed || p.state != StateIdle || p.writeCursor != 0 {
		p.mu.Unlock()
		return fmt.Errorf("prefill: %w", ErrInvalidState)
	}
	events := p.workLocked()
	ended := p.endPending
	p.endPending = false
	handler := p.onEvent
	onEnd := p.onSourceEnd
	p.mu.Unlock()

	if ended && onEnd != nil {
		onEnd()
	}
	p.dispatch(handler, events)
	return nil
}

// Play starts or resumes playback and registers with the scheduler.
func (p *Player) Play() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return fmt.Errorf("play: %w", ErrInvalidState)
	}
	if p.state == StatePlaying {
		p.mu.Unlock()
		return nil
	}
	if err := p.voice.Play(); err != nil {
		p.mu.Unlock()
		return fmt.Errorf("play: %w", err)
	}
	p.state = StatePlaying
	p.playingSince = p.clk.Now()
	sched := p.sched
	p.mu.Unlock()

	if sched != nil {
		sched.Add(p)
	}
	return nil
}

// Stop pauses playback and unregisters from the scheduler. Stopping a
// player that is not playing is a no-op.
func (p *Player) Stop() error {
	p.mu.Lock()
	err := p.stopLocked()
	p.mu.Unlock()
	return err
}

func (p *Player) stopLocked() error {
	if p.state != StatePlaying {
		return nil
	}
	p.playedTotal += p.clk.Now() - p.playingSince
	p.state = StatePaused
	if p.sched != nil {
		p.sched.Remove(p)
	}
	if err := p.voice.Pause(); err != nil {
		return fmt.Errorf("stop: %w", err)
	}
	return nil
}

// Clear resets the player to idle with all cursors at zero: buffered
// audio is flushed, queued events are emptied, and drift state starts
// over. The source is not touched, so the next prefill pulls from
// wherever the source currently stands.
func (p *Player) Clear() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed || p.state == StatePlaying {
		return fmt.Errorf("clear: %w", ErrInvalidState)
	}
	return p.clearLocked()
}

func (p *Player) clearLocked() error {
	p.bufferCursor = 0
	p.playCursor = 0
	p.writeCursor = 0
	p.compensated = 0
	p.fetched = 0
	p.chunkEnds = nil
	p.staged = nil
	p.events.Clear()
	p.reader.Reset()
	p.drift.Reset()
	p.eosPending = false
	p.eosFired = false
	p.underrun = false
	p.playedTotal = 0
	p.masterAnchored = false
	p.state = StateIdle
	if err := p.voice.Flush(); err != nil {
		return fmt.Errorf("clear: %w", err)
	}
	return nil
}

// Seek repositions the source and clears. A source that cannot seek
// reports ErrNotSeekable and the player's position is unchanged.
func (p *Player) Seek(t time.Duration) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed || p.state == StatePlaying {
		return fmt.Errorf("seek: %w", ErrInvalidState)
	}
	if t < 0 {
		t = 0
	}
	if err := p.reader.Seek(t); err != nil {
		return fmt.Errorf("seek: %w", err)
	}
	if err := p.clearLocked(); err != nil {
		return err
	}
	p.events.SetOrigin(t, 0)
	return nil
}

// SetSource swaps in the next source of a gapless chain. The new
// source must have the identical format; otherwise nothing changes and
// ErrFormatMismatch is reported. Buffered audio from the old source
// keeps playing and the new source's content follows it seamlessly.
func (p *Player) SetSource(src source.Source) error {
	if src == nil {
		return fmt.Errorf("set source: source is required")
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return fmt.Errorf("set source: %w", ErrInvalidState)
	}
	if src.Format() != p.format {
		return fmt.Errorf("set source: have %dHz/%dch/%dbit, got %dHz/%dch/%dbit: %w",
			p.format.SampleRate, p.format.Channels, p.format.SampleBits,
			src.Format().SampleRate, src.Format().Channels, src.Format().SampleBits,
			ErrFormatMismatch)
	}
	p.reader.Swap(src)
	p.src = src
	p.master, _ = src.(source.MasterReporter)
	p.masterAnchored = false
	p.eosPending = false
	p.eosFired = false
	p.events.SetOrigin(0, p.fetched)
	return nil
}

// Close stops playback and releases the voice. The player is done
// afterwards; every later operation reports ErrInvalidState.
func (p *Player) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	stopErr := p.stopLocked()
	p.closed = true
	if err := p.voice.Close(); err != nil {
		return fmt.Errorf("close: %w", err)
	}
	return stopErr
}

// SetVolume forwards to the voice.
func (p *Player) SetVolume(v float64) { p.voice.SetVolume(v) }

// SetPitch forwards to the voice.
func (p *Player) SetPitch(pitch float64) { p.voice.SetPitch(pitch) }

// SetPosition forwards the 3D source position to the voice.
func (p *Player) SetPosition(x, y, z float64) { p.voice.SetPosition(x, y, z) }

// SetCone forwards directional cone parameters to the voice.
func (p *Player) SetCone(inner, outer, outerVolume float64) {
	p.voice.SetCone(inner, outer, outerVolume)
}

// Work runs one maintenance pass: pull the voice position, dispatch
// due events, refill toward the ideal buffer with drift compensation,
// and handle end-of-stream and underrun. The scheduler calls it every
// tick; tests may call it directly. Event callbacks run after internal
// locks are released.
func (p *Player) Work() {
	p.mu.Lock()
	events := p.workLocked()
	ended := p.endPending
	p.endPending = false
	handler := p.onEvent
	onEnd := p.onSourceEnd
	p.mu.Unlock()

	// Source-end goes out first so chaining callers can SetSource the
	// next link before the buffered tail drains.
	if ended && onEnd != nil {
		onEnd()
	}
	p.dispatch(handler, events)
}

func (p *Player) dispatch(handler func(audio.Event), events []audio.Event) {
	if handler == nil {
		return
	}
	for _, ev := range events {
		handler(ev)
	}
}

func (p *Player) workLocked() []audio.Event {
	if p.closed {
		return nil
	}

	// 1. Follow the voice's consumption, releasing chunks it has fully
	// played. The position is clamped monotone and inside the written
	// range; a backend that reports otherwise is misbehaving.
	pos := p.voice.PlayPosition()
	if pos > p.writeCursor {
		p.log.Error("voice reported position past write cursor",
			"position", pos, "write_cursor", p.writeCursor)
		pos = p.writeCursor
	}
	if pos > p.playCursor {
		p.playCursor = pos
	}
	for len(p.chunkEnds) > 0 && p.chunkEnds[0] <= p.playCursor {
		p.bufferCursor = p.chunkEnds[0]
		p.chunkEnds = p.chunkEnds[1:]
	}

	// 2. Dispatch everything the perceived cursor has passed.
	events := p.events.DispatchUpTo(p.perceivedLocked())

	// 3. Refill toward the ideal buffer.
	if p.eosPending {
		p.pushStagedLocked()
	} else {
		p.refillLocked()
	}

	// 4. The stream ends when its last byte has been played, not when
	// the source runs dry: fire once everything written has drained.
	if p.eosPending && !p.eosFired && len(p.staged) == 0 && p.bufferCursor == p.writeCursor {
		p.eosFired = true
		end := p.fetched
		p.events.AppendAt(end, audio.Event{
			Kind:      audio.EventEOS,
			Timestamp: p.format.BytesToDuration(end),
		})
		events = append(events, p.events.DispatchUpTo(p.perceivedLocked())...)
	}

	// 5. Underrun is recoverable: the voice substitutes silence and
	// playback is re-triggered once fresh data lands.
	if p.state == StatePlaying && !p.eosPending && p.writeCursor > 0 && p.playCursor == p.writeCursor {
		if !p.underrun {
			p.underrun = true
			p.log.Warn("voice underrun, waiting for source data",
				"write_cursor", p.writeCursor)
		}
	}

	return events
}

func (p *Player) refillLocked() {
	buffered := p.writeCursor - p.playCursor + int64(len(p.staged))
	if buffered >= p.ideal*2/3 {
		p.pushStagedLocked()
		return
	}
	want := p.format.AlignCeil(p.ideal - buffered)

	// Drift only means something while the clock runs.
	var pad, drop int64
	if p.state == StatePlaying {
		d, critical := p.drift.Estimate(p.audioTimeLocked(), p.masterTimeLocked())
		switch {
		case d > 0:
			// Running ahead: stretch with a little padding.
			pad = d
			if pad > p.step {
				pad = p.step
			}
		case d < 0:
			// Behind: shed content. Critical overshoot goes all at
			// once; minor lag is shaved off within the step budget.
			drop = -d
			if !critical && drop > p.step {
				drop = p.step
			}
		}
	}

	pkt, err := p.reader.ReadPacket(int(want + drop))
	if err != nil {
		if !errors.Is(err, io.EOF) {
			// A source that errors mid-read will not recover by
			// retrying every tick; treat it as the end of the stream.
			p.log.Error("source read failed, ending stream", "error", err)
		}
		p.eosPending = true
		p.endPending = true
		p.pushStagedLocked()
		return
	}

	if len(pkt.Events) > 0 {
		p.events.Append(p.fetched, pkt.Events)
	}
	if len(pkt.Data) == 0 {
		p.pushStagedLocked()
		return
	}

	if !p.format.Aligned(int64(len(pkt.Data))) {
		clamped := p.format.Align(int64(len(pkt.Data)))
		p.log.Error("source delivered a partial frame, clamping",
			"bytes", len(pkt.Data), "clamped", clamped)
		pkt.Data = pkt.Data[:clamped]
		if len(pkt.Data) == 0 {
			p.pushStagedLocked()
			return
		}
	}

	data := pkt.Data
	p.fetched += int64(len(data))

	if drop > 0 {
		if max := p.format.Align(int64(len(data))); drop > max {
			drop = max
		}
		data = data[drop:]
		p.compensated -= drop
		p.log.Debug("dropped audio to catch the master clock", "bytes", drop)
	}
	if bpf := int64(p.format.BytesPerFrame()); pad >= bpf && int64(len(data)) >= bpf {
		frames := pad / bpf
		first := data[:bpf]
		padding := make([]byte, 0, frames*bpf+int64(len(data)))
		for i := int64(0); i < frames; i++ {
			padding = append(padding, first...)
		}
		data = append(padding, data...)
		p.compensated += frames * bpf
		p.log.Debug("padded audio to hold for the master clock", "bytes", frames*bpf)
	}

	p.staged = append(p.staged, data...)
	p.pushStagedLocked()
}

// pushStagedLocked moves staged bytes into the voice, as many as it
// accepts, and restarts playback if an underrun was pending.
func (p *Player) pushStagedLocked() {
	if len(p.staged) == 0 {
		return
	}
	n, err := p.voice.Write(p.staged)
	if err != nil {
		p.log.Error("voice write failed", "error", err)
		return
	}
	if n == 0 {
		return
	}
	p.writeCursor += int64(n)
	p.staged = p.staged[n:]
	if len(p.staged) == 0 {
		p.staged = nil
	}
	p.chunkEnds = append(p.chunkEnds, p.writeCursor)

	if p.underrun && p.state == StatePlaying {
		p.underrun = false
		if err := p.voice.Play(); err != nil {
			p.log.Warn("voice restart after underrun failed", "error", err)
		} else {
			p.log.Info("recovered from underrun")
		}
	}
}

func (p *Player) audioTimeLocked() time.Duration {
	return p.format.BytesToDuration(p.perceivedLocked())
}

// masterTimeLocked reports elapsed master time since the last clear.
// Sources that carry their own pace (network streams) supply it,
// anchored at the first reading so constant delivery delay cancels;
// everyone else gets the accumulated local playing time.
func (p *Player) masterTimeLocked() time.Duration {
	if p.master != nil {
		if mt, ok := p.master.MasterTime(); ok {
			if !p.masterAnchored {
				p.masterAnchor = mt - p.playedLocked()
				p.masterAnchored = true
			}
			return mt - p.masterAnchor
		}
	}
	return p.playedLocked()
}

func (p *Player) playedLocked() time.Duration {
	total := p.playedTotal
	if p.state == StatePlaying {
		total += p.clk.Now() - p.playingSince
	}
	return total
}
