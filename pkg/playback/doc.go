// Package playback schedules decoded PCM into audio voices.
//
// An Engine owns a voice backend and a tick scheduler; a Player keeps
// one voice fed from a source chain, corrects drift against a master
// clock, and dispatches timestamped events when their audio is heard.
//
// Example:
//
//	eng, err := playback.NewEngine(playback.Options{})
//	src, err := source.OpenWAV("song.wav")
//	p, err := eng.NewPlayer(src, func(ev audio.Event) {
//	    if ev.Kind == audio.EventEOS {
//	        done <- struct{}{}
//	    }
//	})
//	err = p.Prefill()
//	err = p.Play()
//
// Players are safe for concurrent use; event callbacks arrive on the
// scheduler goroutine.
package playback
