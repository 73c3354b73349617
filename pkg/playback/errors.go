package playback

import (
	"errors"

	"github.com/tactus-audio/tactus-go/pkg/audio/voice"
)

var (
	// ErrFormatMismatch is returned when a source or voice format
	// differs from the one a player or driver is bound to. It shares
	// identity with the voice package's sentinel so callers can test
	// either name.
	ErrFormatMismatch = voice.ErrFormatMismatch

	// ErrInvalidState is returned by player operations called in a
	// state that does not permit them, such as Clear while playing.
	ErrInvalidState = errors.New("invalid player state")
)
