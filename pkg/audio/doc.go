// Package audio provides the value types shared across the playback
// engine.
//
// This package defines the types every other layer builds on:
//   - Format: PCM stream description with byte and frame arithmetic
//   - Packet: one slice of PCM handed over by a source
//   - Event: a timestamped notification embedded in the stream
//
// All byte offsets exchanged with the engine are frame-aligned: a frame
// is one sample per channel, and Format.Align/AlignCeil provide the
// rounding used everywhere.
//
// Example:
//
//	format := audio.Format{
//	    Channels:   2,
//	    SampleBits: 16,
//	    SampleRate: 44100,
//	}
//
//	// One second of stereo 16-bit audio.
//	n := format.DurationToBytes(time.Second) // 176400
package audio
