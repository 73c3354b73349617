package playback

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/tactus-audio/tactus-go/pkg/audio"
	"github.com/tactus-audio/tactus-go/pkg/audio/source"
	"github.com/tactus-audio/tactus-go/pkg/audio/voice"
	"github.com/tactus-audio/tactus-go/pkg/clock"
)

type fakeBackend struct {
	voices   int
	closed   bool
	voiceErr error
}

func (b *fakeBackend) NewVoice(audio.Format) (voice.Voice, error) {
	if b.voiceErr != nil {
		return nil, b.voiceErr
	}
	b.voices++
	return newRecordVoice(), nil
}

func (b *fakeBackend) Close() error {
	b.closed = true
	return nil
}

func TestEngineNoneDriverEndToEnd(t *testing.T) {
	defer goleak.VerifyNone(t)

	clk := clock.NewManual()
	eng, err := NewEngine(Options{
		Driver: DriverNone,
		Clock:  clk,
		Logger: testLogger(),
		Config: Config{
			IdealBuffer: 40 * time.Millisecond,
			Tick:        time.Millisecond,
		},
	})
	require.NoError(t, err)

	mem, err := source.NewMemorySource(mono8k, ramp(0, 3200)) // 200ms
	require.NoError(t, err)

	eos := make(chan audio.Event, 1)
	p, err := eng.NewPlayer(mem, func(ev audio.Event) {
		if ev.Kind == audio.EventEOS {
			select {
			case eos <- ev:
			default:
			}
		}
	})
	require.NoError(t, err)

	require.NoError(t, p.Prefill())
	require.NoError(t, p.Play())

	// Drive the manual clock forward until the 200ms of content has
	// drained through the buffer voice.
	var got audio.Event
	require.Eventually(t, func() bool {
		clk.Advance(5 * time.Millisecond)
		select {
		case got = <-eos:
			return true
		default:
			return false
		}
	}, 2*time.Second, time.Millisecond, "end of stream never arrived")

	assert.Equal(t, mono8k.BytesToDuration(3200), got.Timestamp)
	assert.Equal(t, mono8k.BytesToDuration(3200), p.Position())

	require.NoError(t, p.Close())
	require.NoError(t, eng.Close())
}

func TestEngineRejectsUnknownDriver(t *testing.T) {
	defer goleak.VerifyNone(t)

	_, err := NewEngine(Options{Driver: "pulse"})
	assert.ErrorContains(t, err, "unknown driver")
}

func TestEngineUsesSuppliedBackend(t *testing.T) {
	defer goleak.VerifyNone(t)

	fb := &fakeBackend{}
	eng, err := NewEngine(Options{Backend: fb, Logger: testLogger()})
	require.NoError(t, err)

	mem, err := source.NewMemorySource(mono8k, ramp(0, 640))
	require.NoError(t, err)
	p, err := eng.NewPlayer(mem, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, fb.voices)

	require.NoError(t, p.Close())
	require.NoError(t, eng.Close())
	assert.True(t, fb.closed)
	require.NoError(t, eng.Close(), "close is idempotent")
}

func TestEngineVoiceErrorPropagates(t *testing.T) {
	defer goleak.VerifyNone(t)

	fb := &fakeBackend{voiceErr: errors.New("device busy")}
	eng, err := NewEngine(Options{Backend: fb, Logger: testLogger()})
	require.NoError(t, err)
	defer eng.Close()

	mem, err := source.NewMemorySource(mono8k, ramp(0, 640))
	require.NoError(t, err)

	_, err = eng.NewPlayer(mem, nil)
	assert.ErrorIs(t, err, fb.voiceErr)

	_, err = eng.NewVoice(audio.Format{})
	assert.Error(t, err)
}

func TestEngineConfigDefaults(t *testing.T) {
	defer goleak.VerifyNone(t)

	eng, err := NewEngine(Options{Driver: DriverNone, Logger: testLogger()})
	require.NoError(t, err)
	defer eng.Close()

	cfg := eng.Config()
	assert.Equal(t, DefaultCriticalDrift, cfg.CriticalDrift)
	assert.Equal(t, DefaultMinorDrift, cfg.MinorDrift)
	assert.Equal(t, DefaultCorrectionStep, cfg.CorrectionStep)
	assert.Equal(t, DefaultIdealBuffer, cfg.IdealBuffer)
	assert.Equal(t, DefaultTick, cfg.Tick)
	assert.NotNil(t, eng.Clock())
}
