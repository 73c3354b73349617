package source

import (
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tactus-audio/tactus-go/pkg/audio"
)

var mono16 = audio.Format{Channels: 1, SampleBits: 16, SampleRate: 44100}

func TestMemorySourceReads(t *testing.T) {
	data := make([]byte, 1000)
	for i := range data {
		data[i] = byte(i)
	}
	src, err := NewMemorySource(mono16, data)
	require.NoError(t, err)

	assert.True(t, src.Precise())
	assert.Equal(t, mono16, src.Format())

	pkt, err := src.ReadPacket(600)
	require.NoError(t, err)
	assert.Len(t, pkt.Data, 600)
	assert.Equal(t, data[:600], pkt.Data)

	pkt, err = src.ReadPacket(600)
	require.NoError(t, err)
	assert.Len(t, pkt.Data, 400, "second read returns the remainder")

	_, err = src.ReadPacket(600)
	assert.ErrorIs(t, err, io.EOF)
}

func TestMemorySourceAlignsRequests(t *testing.T) {
	stereo := audio.Format{Channels: 2, SampleBits: 16, SampleRate: 44100}
	src, err := NewMemorySource(stereo, make([]byte, 42))
	require.NoError(t, err)

	// 42 is not a whole number of stereo frames; the trailing partial
	// frame must have been cut at construction.
	pkt, err := src.ReadPacket(1 << 20)
	require.NoError(t, err)
	assert.Len(t, pkt.Data, 40)

	// An unaligned request comes back aligned down.
	require.NoError(t, src.Seek(0))
	pkt, err = src.ReadPacket(7)
	require.NoError(t, err)
	assert.Len(t, pkt.Data, 4)
}

func TestMemorySourceSeek(t *testing.T) {
	src, err := NewMemorySource(mono16, make([]byte, 88200)) // one second
	require.NoError(t, err)

	require.NoError(t, src.Seek(500*time.Millisecond))
	pkt, err := src.ReadPacket(1 << 20)
	require.NoError(t, err)
	assert.Len(t, pkt.Data, 44100)
	assert.Equal(t, 500*time.Millisecond, pkt.Timestamp)

	// Past the end clamps; the next read is EOF.
	require.NoError(t, src.Seek(time.Hour))
	_, err = src.ReadPacket(16)
	assert.ErrorIs(t, err, io.EOF)
}

func TestMemorySourceEvents(t *testing.T) {
	src, err := NewMemorySource(mono16, make([]byte, 88200))
	require.NoError(t, err)
	src.AddEvent(audio.Event{Kind: audio.EventMarker, Marker: "early", Timestamp: 100 * time.Millisecond})
	src.AddEvent(audio.Event{Kind: audio.EventMarker, Marker: "late", Timestamp: 900 * time.Millisecond})

	first, err := src.ReadPacket(44100) // covers [0, 500ms)
	require.NoError(t, err)
	require.Len(t, first.Events, 1)
	assert.Equal(t, "early", first.Events[0].Marker)

	second, err := src.ReadPacket(44100)
	require.NoError(t, err)
	require.Len(t, second.Events, 1)
	assert.Equal(t, "late", second.Events[0].Marker)
}

func TestMemorySourceRejectsInvalidFormat(t *testing.T) {
	_, err := NewMemorySource(audio.Format{}, nil)
	assert.Error(t, err)
}
