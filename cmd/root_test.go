package cmd

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tactus-audio/tactus-go/internal/conf"
)

func TestSubcommandsRegistered(t *testing.T) {
	names := make(map[string]bool)
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}
	for _, want := range []string{"play", "tone", "serve", "stream"} {
		assert.True(t, names[want], "missing subcommand %q", want)
	}
}

func TestPlaybackConfigMapping(t *testing.T) {
	s := &conf.Settings{}
	s.Playback.CriticalDrift = 300 * time.Millisecond
	s.Playback.MinorDrift = 40 * time.Millisecond
	s.Playback.CorrectionStep = 15 * time.Millisecond
	s.Playback.IdealBuffer = 250 * time.Millisecond
	s.Playback.Tick = 10 * time.Millisecond

	cfg := playbackConfig(s)
	require.Equal(t, 300*time.Millisecond, cfg.CriticalDrift)
	require.Equal(t, 40*time.Millisecond, cfg.MinorDrift)
	require.Equal(t, 15*time.Millisecond, cfg.CorrectionStep)
	require.Equal(t, 250*time.Millisecond, cfg.IdealBuffer)
	require.Equal(t, 10*time.Millisecond, cfg.Tick)
}
