package playback

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Scheduler drives every active player from one background goroutine,
// calling Work on each at a fixed cadence. With no players registered
// the goroutine parks until the next Add.
//
// The loop iterates a snapshot of the player set and runs Work without
// holding the set lock, so event callbacks fired from Work may call
// Stop, which removes the player, without deadlocking. Registration
// changes take effect on the following tick. Work itself must never
// call Add or Remove.
type Scheduler struct {
	tick time.Duration
	log  *slog.Logger

	mu      sync.Mutex
	players map[*Player]struct{}

	wake   chan struct{}
	cancel context.CancelFunc
	ctx    context.Context
	done   chan struct{}
}

// NewScheduler starts the scheduling goroutine. tick <= 0 selects
// DefaultTick.
func NewScheduler(tick time.Duration, log *slog.Logger) *Scheduler {
	if tick <= 0 {
		tick = DefaultTick
	}
	if log == nil {
		log = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{
		tick:    tick,
		log:     log,
		players: make(map[*Player]struct{}),
		wake:    make(chan struct{}, 1),
		cancel:  cancel,
		ctx:     ctx,
		done:    make(chan struct{}),
	}
	go s.run()
	return s
}

// Add registers a player for ticking and wakes the loop if it was
// parked.
func (s *Scheduler) Add(p *Player) {
	s.mu.Lock()
	s.players[p] = struct{}{}
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// Remove unregisters a player. The player may still receive one
// in-flight Work call from the current tick.
func (s *Scheduler) Remove(p *Player) {
	s.mu.Lock()
	delete(s.players, p)
	s.mu.Unlock()
}

func (s *Scheduler) run() {
	defer close(s.done)

	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()

	for {
		s.mu.Lock()
		snapshot := make([]*Player, 0, len(s.players))
		for p := range s.players {
			snapshot = append(snapshot, p)
		}
		s.mu.Unlock()

		if len(snapshot) == 0 {
			select {
			case <-s.ctx.Done():
				return
			case <-s.wake:
			}
			continue
		}

		for _, p := range snapshot {
			p.Work()
		}

		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Close stops the scheduling goroutine and waits for it to exit.
func (s *Scheduler) Close() error {
	s.cancel()
	<-s.done
	return nil
}
