// Package voice abstracts platform audio output behind a push-model
// contract the playback engine drives. A Voice accepts interleaved PCM
// writes, reports how far the device has consumed them, and forwards
// mixer controls to whatever the backend supports.
package voice

import (
	"errors"
	"time"

	"github.com/tactus-audio/tactus-go/pkg/audio"
)

// DefaultCapacity is the per-voice buffer depth used when a backend is
// constructed without one.
const DefaultCapacity = 400 * time.Millisecond

var (
	// ErrClosed is returned by operations on a closed Voice or Backend.
	ErrClosed = errors.New("voice: closed")

	// ErrFormatMismatch is returned by Backend.NewVoice when the driver
	// cannot open the requested format alongside voices it already
	// serves.
	ErrFormatMismatch = errors.New("audio format mismatch")
)

// Voice is a single output channel on an audio backend.
//
// Write accepts as much of p as fits in the voice buffer and reports
// the count; zero is a legal answer when the buffer is full. Writes
// must be whole frames. PlayPosition reports the total bytes the
// device has consumed; it never exceeds the bytes written, so a
// starved voice holds position while the backend substitutes silence.
//
// Write, PlayPosition, Play, Pause, and Flush are safe for one
// goroutine at a time; the setters may be called from any goroutine.
type Voice interface {
	Write(p []byte) (int, error)
	PlayPosition() int64
	Play() error
	Pause() error

	// Flush discards buffered audio and resets the voice to position
	// zero, paused.
	Flush() error

	Close() error

	// SetVolume scales output amplitude; 0 is silence, 1 is unity.
	SetVolume(v float64)

	// SetPitch adjusts playback rate where the backend supports it.
	SetPitch(p float64)

	// SetPosition and SetCone carry spatialization parameters through
	// to the backend mixer. Backends without spatial output record and
	// ignore them.
	SetPosition(x, y, z float64)
	SetCone(inner, outer, outerVolume float64)
}

// Backend creates voices on one platform audio driver. Backends own
// the platform context; voices own their device-side resources.
type Backend interface {
	NewVoice(f audio.Format) (Voice, error)
	Close() error
}
