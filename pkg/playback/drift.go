package playback

import (
	"time"

	"github.com/tactus-audio/tactus-go/pkg/audio"
)

// driftWindow is the number of tick samples averaged before a minor
// correction is believed.
const driftWindow = 8

// DriftEstimator measures how far the audio clock has wandered from
// the master clock. Minor drift must persist across a full sample
// window before any correction is suggested, which keeps single noisy
// ticks from causing audible oscillation; drift past the critical
// threshold is reported immediately so the player resynchronizes hard
// instead of creeping.
type DriftEstimator struct {
	format   audio.Format
	critical int64
	minor    int64

	ring [driftWindow]int64
	n    int
	next int
}

// NewDriftEstimator creates an estimator with byte thresholds derived
// from the given durations.
func NewDriftEstimator(f audio.Format, critical, minor time.Duration) *DriftEstimator {
	return &DriftEstimator{
		format:   f,
		critical: f.DurationToBytes(critical),
		minor:    f.DurationToBytes(minor),
	}
}

// Estimate takes one tick's clock readings and reports the signed byte
// correction to apply: positive means audio runs ahead of the master
// and data should be padded, negative means it lags and data should be
// dropped. The critical flag demands the full correction at once.
func (e *DriftEstimator) Estimate(audioTime, masterTime time.Duration) (int64, bool) {
	d := e.format.DurationToBytes(audioTime - masterTime)

	if abs64(d) >= e.critical {
		e.Reset()
		return d, true
	}

	e.ring[e.next] = d
	e.next = (e.next + 1) % driftWindow
	if e.n < driftWindow {
		e.n++
	}
	if e.n < driftWindow {
		return 0, false
	}

	var sum int64
	for _, v := range e.ring {
		sum += v
	}
	avg := e.format.Align(sum / driftWindow)
	if abs64(avg) > e.minor {
		return avg, false
	}
	return 0, false
}

// Reset clears the sample window, forcing a fresh full window before
// the next minor correction.
func (e *DriftEstimator) Reset() {
	e.n = 0
	e.next = 0
}

func abs64(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}
