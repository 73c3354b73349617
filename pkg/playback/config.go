package playback

import "time"

// Default tuning. The thresholds started life as empirically tuned
// constants; they are configurable but these values hold up across
// consumer hardware.
const (
	// DefaultCriticalDrift is the gap beyond which playback
	// resynchronizes by dropping audio outright instead of nudging.
	DefaultCriticalDrift = 280 * time.Millisecond

	// DefaultMinorDrift is the averaged gap below which no correction
	// is attempted.
	DefaultMinorDrift = 30 * time.Millisecond

	// DefaultCorrectionStep caps how much audio a single tick inserts
	// or drops for a minor correction, small enough to stay inaudible.
	DefaultCorrectionStep = 12 * time.Millisecond

	// DefaultIdealBuffer is the target depth of queued audio per voice.
	DefaultIdealBuffer = 200 * time.Millisecond

	// DefaultTick is the scheduler work interval.
	DefaultTick = 20 * time.Millisecond
)

// Config tunes the engine. The zero value selects all defaults.
type Config struct {
	CriticalDrift  time.Duration
	MinorDrift     time.Duration
	CorrectionStep time.Duration
	IdealBuffer    time.Duration
	Tick           time.Duration
}

func (c Config) withDefaults() Config {
	if c.CriticalDrift <= 0 {
		c.CriticalDrift = DefaultCriticalDrift
	}
	if c.MinorDrift <= 0 {
		c.MinorDrift = DefaultMinorDrift
	}
	if c.CorrectionStep <= 0 {
		c.CorrectionStep = DefaultCorrectionStep
	}
	if c.IdealBuffer <= 0 {
		c.IdealBuffer = DefaultIdealBuffer
	}
	if c.Tick <= 0 {
		c.Tick = DefaultTick
	}
	return c
}
