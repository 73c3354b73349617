package playback

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/tactus-audio/tactus-go/pkg/audio"
	"github.com/tactus-audio/tactus-go/pkg/audio/source"
	"github.com/tactus-audio/tactus-go/pkg/audio/voice"
	"github.com/tactus-audio/tactus-go/pkg/clock"
)

// Driver selects the audio backend an engine talks to.
type Driver string

const (
	// DriverOto plays through oto's shared mixer context.
	DriverOto Driver = "oto"
	// DriverMalgo opens one miniaudio device per voice.
	DriverMalgo Driver = "malgo"
	// DriverNone renders into clock-driven buffers with no device,
	// for servers and tests.
	DriverNone Driver = "none"
)

// Options configures an Engine. The zero value selects the oto
// driver, the system clock, the default logger and config.
type Options struct {
	Driver Driver
	Clock  clock.Clock
	Logger *slog.Logger
	Config Config

	// Backend overrides Driver with a caller-supplied voice backend.
	Backend voice.Backend
}

// Engine owns a voice backend and a shared scheduler, and builds
// players on top of them. One engine per process is the norm; close
// it to stop the scheduler and release the audio device.
type Engine struct {
	cfg   Config
	clk   clock.Clock
	log   *slog.Logger
	sched *Scheduler

	backend voice.Backend

	mu     sync.Mutex
	closed bool
}

// NewEngine opens the selected backend and starts the scheduler.
func NewEngine(opts Options) (*Engine, error) {
	cfg := opts.Config.withDefaults()
	clk := opts.Clock
	if clk == nil {
		clk = clock.NewSystem()
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}

	backend := opts.Backend
	if backend == nil {
		// Voices buffer twice the refill target so drift padding
		// never stalls on a full ring.
		capacity := 2 * cfg.IdealBuffer
		switch opts.Driver {
		case DriverNone:
			backend = voice.NewBufferBackend(clk, capacity, log)
		case DriverMalgo:
			b, err := voice.NewMalgoBackend(capacity, log)
			if err != nil {
				return nil, fmt.Errorf("new engine: %w", err)
			}
			backend = b
		case DriverOto, "":
			backend = voice.NewOtoBackend(capacity, log)
		default:
			return nil, fmt.Errorf("new engine: unknown driver %q", opts.Driver)
		}
	}

	return &Engine{
		cfg:     cfg,
		clk:     clk,
		log:     log,
		sched:   NewScheduler(cfg.Tick, log),
		backend: backend,
	}, nil
}

// Config reports the engine's effective configuration.
func (e *Engine) Config() Config { return e.cfg }

// Clock reports the clock players created by this engine use.
func (e *Engine) Clock() clock.Clock { return e.clk }

// Scheduler exposes the shared scheduler, for callers assembling
// players with their own PlayerOptions.
func (e *Engine) Scheduler() *Scheduler { return e.sched }

// NewVoice opens a raw voice on the engine's backend, for callers
// that want to feed PCM themselves without a player.
func (e *Engine) NewVoice(f audio.Format) (voice.Voice, error) {
	v, err := e.backend.NewVoice(f)
	if err != nil {
		return nil, fmt.Errorf("new voice: %w", err)
	}
	return v, nil
}

// NewPlayer opens a voice matching the source's format and wires a
// player around it. The player owns the voice and closes it.
func (e *Engine) NewPlayer(src source.Source, onEvent func(audio.Event)) (*Player, error) {
	v, err := e.backend.NewVoice(src.Format())
	if err != nil {
		return nil, fmt.Errorf("new player: %w", err)
	}
	p, err := e.NewPlayerWithVoice(src, v, onEvent)
	if err != nil {
		v.Close()
		return nil, err
	}
	return p, nil
}

// NewPlayerWithVoice wires a player around a caller-supplied voice.
func (e *Engine) NewPlayerWithVoice(src source.Source, v voice.Voice, onEvent func(audio.Event)) (*Player, error) {
	return NewPlayer(src, v, PlayerOptions{
		Clock:     e.clk,
		Config:    e.cfg,
		Logger:    e.log,
		Scheduler: e.sched,
		OnEvent:   onEvent,
	})
}

// Close stops the scheduler and shuts the backend down. Players must
// be closed first; closing the engine does not chase them.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil
	}
	e.closed = true
	e.sched.Close()
	if err := e.backend.Close(); err != nil {
		return fmt.Errorf("close engine: %w", err)
	}
	return nil
}
