package source

import (
	"errors"
	"time"

	"github.com/tactus-audio/tactus-go/pkg/audio"
)

// ErrNotSeekable is returned by Seek on sources without random access.
var ErrNotSeekable = errors.New("source is not seekable")

// Source produces PCM packets for the playback engine.
//
// ReadPacket returns the next slice of audio. maxBytes tells the
// source how much the caller wants: a precise source honors it
// exactly, an imprecise one may return more or fewer bytes. Returning
// a zero-length packet with a nil error is legal but the engine only
// tolerates a few in a row. io.EOF is the one way to end the stream;
// any other error aborts the read without implying exhaustion.
//
// Packet data must hold whole frames of the source's Format. Ownership
// of a returned packet moves to the caller.
//
// A Source is driven by exactly one player at a time. ReadPacket and
// Seek are called from a single goroutine; implementations that feed
// themselves from elsewhere (network readers) must do their own
// locking.
type Source interface {
	ReadPacket(maxBytes int) (*audio.Packet, error)
	Precise() bool
	Seek(t time.Duration) error
	Format() audio.Format
}

// MasterReporter is an optional Source capability: an external master
// timeline for the stream. Sources that are paced from outside (a
// stream server's clock) report it here, and the engine measures
// playback drift against it instead of the local clock.
type MasterReporter interface {
	MasterTime() (time.Duration, bool)
}
