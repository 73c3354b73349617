// Package clock supplies the master time the playback engine measures
// drift against. The engine never reads the wall clock directly, so
// tests can drive time by hand.
package clock

import (
	"sync"
	"time"
)

// Clock reports elapsed time since some fixed origin. Implementations
// must be monotonic and safe for concurrent use.
type Clock interface {
	Now() time.Duration
}

// NewSystem returns a monotonic clock anchored at the moment of the
// call.
func NewSystem() Clock {
	return &systemClock{start: time.Now()}
}

type systemClock struct {
	start time.Time
}

func (c *systemClock) Now() time.Duration {
	return time.Since(c.start)
}

// Manual is a hand-driven Clock for deterministic tests.
type Manual struct {
	mu  sync.Mutex
	now time.Duration
}

// NewManual returns a Manual clock starting at zero.
func NewManual() *Manual {
	return &Manual{}
}

func (m *Manual) Now() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

// Advance moves the clock forward by d.
func (m *Manual) Advance(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now += d
}

// Set jumps the clock to an absolute elapsed time.
func (m *Manual) Set(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = d
}
