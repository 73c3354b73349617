package voice

import (
	"bytes"
	"io"
	"log/slog"
	"testing"

	"github.com/smallnest/ringbuffer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Tests here exercise the engine-facing half of the oto voice without
// opening a platform audio context: the ring, the pull-side reader,
// and the position clamp are all plain Go.

func newBareOtoVoice(capacity int) *OtoVoice {
	return &OtoVoice{
		format: mono8k,
		log:    slog.New(slog.NewTextHandler(io.Discard, nil)),
		ring:   ringbuffer.New(capacity),
		volume: 1.0,
	}
}

func TestOtoReaderServesThenFillsSilence(t *testing.T) {
	v := newBareOtoVoice(1600)
	data := bytes.Repeat([]byte{0xAA}, 160)
	_, err := v.ring.Write(data)
	require.NoError(t, err)

	r := &otoReader{v: v}
	p := make([]byte, 320)
	n, err := r.Read(p)
	require.NoError(t, err)
	assert.Equal(t, 320, n, "the mixer always gets a full buffer")
	assert.Equal(t, data, p[:160])
	assert.Equal(t, make([]byte, 160), p[160:], "shortfall is silence")
	assert.Equal(t, int64(160), v.consumed.Load(), "silence is not consumption")
	assert.Equal(t, int64(0), v.starved.Load(), "not starving while inactive")

	v.active.Store(true)
	n, err = r.Read(p)
	require.NoError(t, err)
	assert.Equal(t, 320, n)
	assert.Equal(t, int64(320), v.starved.Load())
}

func TestOtoVoiceWriteBoundedByRing(t *testing.T) {
	v := newBareOtoVoice(1600)

	n, err := v.Write(make([]byte, 2000))
	require.NoError(t, err)
	assert.Equal(t, 1600, n)

	n, err = v.Write(make([]byte, 160))
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	// The mixer draining the ring frees space for the next write.
	r := &otoReader{v: v}
	r.Read(make([]byte, 800))
	n, err = v.Write(make([]byte, 1000))
	require.NoError(t, err)
	assert.Equal(t, 800, n)
}

func TestOtoVoicePlayPositionClamped(t *testing.T) {
	v := newBareOtoVoice(1600)
	v.Write(make([]byte, 160))

	v.consumed.Store(101)
	assert.Equal(t, int64(100), v.PlayPosition(), "position aligns to frames")

	v.consumed.Store(500)
	assert.Equal(t, int64(160), v.PlayPosition(), "position never passes the write edge")

	v.consumed.Store(-10)
	assert.Equal(t, int64(0), v.PlayPosition())
}
