package tactus

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/tactus-audio/tactus-go/pkg/audio"
	"github.com/tactus-audio/tactus-go/pkg/audio/source"
	"github.com/tactus-audio/tactus-go/pkg/clock"
	"github.com/tactus-audio/tactus-go/pkg/playback"
)

// State is re-exported from the playback package so facade users
// never import it just for the enum.
type State = playback.State

const (
	StateIdle    = playback.StateIdle
	StatePlaying = playback.StatePlaying
	StatePaused  = playback.StatePaused
)

var (
	// ErrSourceClaimed reports a source that is already attached to a
	// player. Sources carry internal read state and cannot feed two
	// players at once.
	ErrSourceClaimed = errors.New("source already claimed by another player")

	// ErrNoSource reports an operation that needs a loaded source.
	ErrNoSource = errors.New("no source loaded")

	// ErrClosed reports use of a closed player.
	ErrClosed = errors.New("player closed")
)

// A source attaches to at most one player at a time, process wide.
var (
	claimsMu sync.Mutex
	claims   = make(map[source.Source]*Player)
)

func claimSource(src source.Source, p *Player) error {
	claimsMu.Lock()
	defer claimsMu.Unlock()
	if _, taken := claims[src]; taken {
		return ErrSourceClaimed
	}
	claims[src] = p
	return nil
}

func releaseSource(src source.Source) {
	claimsMu.Lock()
	defer claimsMu.Unlock()
	delete(claims, src)
}

// Config holds player configuration. All callbacks run on the
// engine's scheduler goroutine and must not block; they may call back
// into the player.
type Config struct {
	// Driver selects the audio backend: "oto" (default), "malgo", or
	// "none" for deviceless operation.
	Driver string

	// Volume is the initial volume (0-100, default 100).
	Volume int

	// Engine shares an existing engine instead of opening a private
	// one. A shared engine is not closed with the player.
	Engine *playback.Engine

	// Clock overrides the wall clock a private engine uses.
	Clock clock.Clock

	// Playback tunes buffering and drift correction of a private
	// engine.
	Playback playback.Config

	// Logger receives operational logs; defaults to slog.Default().
	Logger *slog.Logger

	// OnEvent is called for each marker or custom event as the audio
	// it is pinned to plays.
	OnEvent func(audio.Event)

	// OnEOS is called once when the source chain has fully played
	// out, queued sources included.
	OnEOS func()

	// OnStateChange is called when the playback state changes.
	OnStateChange func(State)

	// OnError is called when a background operation fails. Without it
	// errors go to the logger.
	OnError func(error)
}

// Player plays one source chain at a time. Load attaches a source,
// Queue extends the chain gaplessly, and the Config callbacks report
// progress. A zero source chain is fine; operations that need one
// report ErrNoSource.
type Player struct {
	cfg    Config
	log    *slog.Logger
	eng    *playback.Engine
	ownEng bool

	mu        sync.Mutex
	core      *playback.Player
	src       source.Source
	queue     []source.Source
	origin    time.Duration
	volume    int
	ended     bool
	closed    bool
	lastState State
}

// New builds a player. Without a shared Engine in the config it opens
// a private one from Driver, Clock and Playback.
func New(cfg Config) (*Player, error) {
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	if cfg.Volume == 0 {
		cfg.Volume = 100
	}
	if cfg.Volume < 0 {
		cfg.Volume = 0
	}
	if cfg.Volume > 100 {
		cfg.Volume = 100
	}

	eng := cfg.Engine
	own := false
	if eng == nil {
		e, err := playback.NewEngine(playback.Options{
			Driver: playback.Driver(cfg.Driver),
			Clock:  cfg.Clock,
			Logger: log,
			Config: cfg.Playback,
		})
		if err != nil {
			return nil, fmt.Errorf("new player: %w", err)
		}
		eng = e
		own = true
	}

	return &Player{
		cfg:       cfg,
		log:       log,
		eng:       eng,
		ownEng:    own,
		volume:    cfg.Volume,
		lastState: StateIdle,
	}, nil
}

// Engine exposes the underlying engine, shared or private, for
// callers that mix facade players with hand-built ones.
func (p *Player) Engine() *playback.Engine { return p.eng }

// Load claims the source and replaces the whole chain with it,
// prefilled so the next Play starts without a gap. Queued sources are
// released.
func (p *Player) Load(src source.Source) error {
	if src == nil {
		return fmt.Errorf("load: source is required")
	}
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return fmt.Errorf("load: %w", ErrClosed)
	}
	p.mu.Unlock()
	if err := claimSource(src, p); err != nil {
		return fmt.Errorf("load: %w", err)
	}

	v, err := p.eng.NewVoice(src.Format())
	if err != nil {
		releaseSource(src)
		return fmt.Errorf("load: %w", err)
	}
	core, err := playback.NewPlayer(src, v, playback.PlayerOptions{
		Clock:       p.eng.Clock(),
		Config:      p.eng.Config(),
		Logger:      p.log,
		Scheduler:   p.eng.Scheduler(),
		OnEvent:     p.handleEvent,
		OnSourceEnd: p.handleSourceEnd,
	})
	if err != nil {
		v.Close()
		releaseSource(src)
		return fmt.Errorf("load: %w", err)
	}
	core.SetVolume(float64(p.Volume()) / 100)

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		core.Close()
		releaseSource(src)
		return fmt.Errorf("load: %w", ErrClosed)
	}
	oldCore, oldSrc, oldQueue := p.core, p.src, p.queue
	p.core = core
	p.src = src
	p.queue = nil
	p.origin = 0
	p.ended = false
	p.mu.Unlock()

	if oldCore != nil {
		oldCore.Close()
		releaseSource(oldSrc)
		for _, q := range oldQueue {
			releaseSource(q)
		}
	}
	p.notifyState(StateIdle)

	if err := core.Prefill(); err != nil && !errors.Is(err, playback.ErrInvalidState) {
		return fmt.Errorf("load: %w", err)
	}
	return nil
}

// Queue claims the next source of the gapless chain. Its audio joins
// the moment the current chain runs out of data. The format must
// match the loaded source's.
func (p *Player) Queue(next source.Source) error {
	if next == nil {
		return fmt.Errorf("queue: source is required")
	}
	if err := claimSource(next, p); err != nil {
		return fmt.Errorf("queue: %w", err)
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		releaseSource(next)
		return fmt.Errorf("queue: %w", ErrClosed)
	}
	if p.core == nil {
		p.mu.Unlock()
		releaseSource(next)
		return fmt.Errorf("queue: %w", ErrNoSource)
	}
	if next.Format() != p.src.Format() {
		p.mu.Unlock()
		releaseSource(next)
		return fmt.Errorf("queue: %w", playback.ErrFormatMismatch)
	}
	if p.ended {
		// The chain already ran dry; splice immediately.
		if err := p.advanceToLocked(next); err != nil {
			p.mu.Unlock()
			releaseSource(next)
			return fmt.Errorf("queue: %w", err)
		}
		p.mu.Unlock()
		return nil
	}
	p.queue = append(p.queue, next)
	p.mu.Unlock()
	return nil
}

// Play starts or resumes playback.
func (p *Player) Play() error {
	core, err := p.coreOr("play")
	if err != nil {
		return err
	}
	if err := core.Play(); err != nil {
		return fmt.Errorf("play: %w", err)
	}
	p.notifyState(core.State())
	return nil
}

// Pause halts playback, keeping the buffer and the position.
func (p *Player) Pause() error {
	core, err := p.coreOr("pause")
	if err != nil {
		return err
	}
	if err := core.Stop(); err != nil {
		return fmt.Errorf("pause: %w", err)
	}
	p.notifyState(core.State())
	return nil
}

// Seek repositions the chain's current source and resumes playback if
// it was running. Queued sources stay queued.
func (p *Player) Seek(t time.Duration) error {
	core, err := p.coreOr("seek")
	if err != nil {
		return err
	}
	if t < 0 {
		t = 0
	}

	wasPlaying := core.State() == StatePlaying
	if wasPlaying {
		if err := core.Stop(); err != nil {
			return fmt.Errorf("seek: %w", err)
		}
	}
	if err := core.Seek(t); err != nil {
		if wasPlaying {
			if rerr := core.Play(); rerr != nil {
				p.notifyError(fmt.Errorf("resume after failed seek: %w", rerr))
			}
		}
		return fmt.Errorf("seek: %w", err)
	}

	p.mu.Lock()
	p.origin = t
	p.ended = false
	p.mu.Unlock()

	if err := core.Prefill(); err != nil && !errors.Is(err, playback.ErrInvalidState) {
		return fmt.Errorf("seek: %w", err)
	}
	if wasPlaying {
		if err := core.Play(); err != nil {
			return fmt.Errorf("seek: %w", err)
		}
	}
	return nil
}

// Position reports the absolute position in the loaded source, seek
// origin included. Across a gapless joint the count keeps rising into
// the queued source.
func (p *Player) Position() time.Duration {
	p.mu.Lock()
	core, origin := p.core, p.origin
	p.mu.Unlock()
	if core == nil {
		return 0
	}
	return origin + core.Position()
}

// State reports the current playback state.
func (p *Player) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.core == nil {
		return StateIdle
	}
	return p.core.State()
}

// SetVolume sets the volume (0-100, clamped) now and for every
// source loaded later.
func (p *Player) SetVolume(v int) {
	if v < 0 {
		v = 0
	}
	if v > 100 {
		v = 100
	}
	p.mu.Lock()
	p.volume = v
	core := p.core
	p.mu.Unlock()
	if core != nil {
		core.SetVolume(float64(v) / 100)
	}
}

// Volume reports the current volume (0-100).
func (p *Player) Volume() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.volume
}

// Close releases the source chain, the voice, and a privately owned
// engine. Close is idempotent.
func (p *Player) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	core, src, queued := p.core, p.src, p.queue
	p.core, p.src, p.queue = nil, nil, nil
	p.mu.Unlock()

	if core != nil {
		core.Close()
	}
	if src != nil {
		releaseSource(src)
	}
	for _, q := range queued {
		releaseSource(q)
	}
	if p.ownEng {
		if err := p.eng.Close(); err != nil {
			return fmt.Errorf("close: %w", err)
		}
	}
	return nil
}

func (p *Player) coreOr(op string) (*playback.Player, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil, fmt.Errorf("%s: %w", op, ErrClosed)
	}
	if p.core == nil {
		return nil, fmt.Errorf("%s: %w", op, ErrNoSource)
	}
	return p.core, nil
}

func (p *Player) handleEvent(ev audio.Event) {
	if ev.Kind == audio.EventEOS {
		p.handleEOS()
		return
	}
	if p.cfg.OnEvent != nil {
		p.cfg.OnEvent(ev)
	}
}

// handleSourceEnd runs when the current chain link stops yielding
// data, while its tail is still buffered. Splicing the next source
// here is what makes the joint gapless.
func (p *Player) handleSourceEnd() {
	p.mu.Lock()
	if p.closed || p.core == nil {
		p.mu.Unlock()
		return
	}
	if len(p.queue) == 0 {
		p.ended = true
		p.mu.Unlock()
		return
	}
	next := p.queue[0]
	p.queue = p.queue[1:]
	err := p.advanceToLocked(next)
	p.mu.Unlock()
	if err != nil {
		releaseSource(next)
		p.notifyError(fmt.Errorf("advance to queued source: %w", err))
	}
}

func (p *Player) handleEOS() {
	p.mu.Lock()
	if p.closed || p.core == nil {
		p.mu.Unlock()
		return
	}
	if len(p.queue) > 0 {
		// The buffer drained before a splice could land. Keep the
		// chain going; the joint is late but the order holds.
		next := p.queue[0]
		p.queue = p.queue[1:]
		err := p.advanceToLocked(next)
		p.mu.Unlock()
		if err != nil {
			releaseSource(next)
			p.notifyError(fmt.Errorf("advance to queued source: %w", err))
		}
		return
	}
	core := p.core
	p.mu.Unlock()

	if err := core.Stop(); err != nil {
		p.notifyError(fmt.Errorf("stop at end of stream: %w", err))
	}
	p.notifyState(StatePaused)
	if p.cfg.OnEOS != nil {
		p.cfg.OnEOS()
	}
}

// advanceToLocked swaps next into the core. Callers hold p.mu.
func (p *Player) advanceToLocked(next source.Source) error {
	if err := p.core.SetSource(next); err != nil {
		return err
	}
	releaseSource(p.src)
	p.src = next
	p.ended = false
	return nil
}

// notifyState reports a state transition, deduplicated so resuming an
// already playing player stays silent.
func (p *Player) notifyState(s State) {
	p.mu.Lock()
	if p.lastState == s {
		p.mu.Unlock()
		return
	}
	p.lastState = s
	p.mu.Unlock()
	if p.cfg.OnStateChange != nil {
		p.cfg.OnStateChange(s)
	}
}

func (p *Player) notifyError(err error) {
	if p.cfg.OnError != nil {
		p.cfg.OnError(err)
		return
	}
	p.log.Error("player error", "error", err)
}
