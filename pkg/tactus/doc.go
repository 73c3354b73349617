// Package tactus provides the high-level playback API.
//
// This is the main entry point for most library users: a Player owns
// an engine, a voice and a source chain, and reports progress through
// callbacks instead of requiring callers to poll.
//
// For lower-level control, see the playback, audio and clock packages.
//
// Example:
//
//	src, err := source.OpenWAV("track.wav")
//	player, err := tactus.New(tactus.Config{
//	    Volume: 80,
//	    OnEOS:  func() { done <- struct{}{} },
//	})
//	err = player.Load(src)
//	err = player.Play()
package tactus
