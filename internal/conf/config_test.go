package conf

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultsUnmarshal(t *testing.T) {
	viper.Reset()
	defer viper.Reset()
	setDefaultConfig()

	s := &Settings{}
	require.NoError(t, viper.Unmarshal(s))
	require.NoError(t, ValidateSettings(s))

	assert.Equal(t, "tactus", s.Main.Name)
	assert.Equal(t, "oto", s.Audio.Driver)
	assert.Equal(t, 100, s.Audio.Volume)
	assert.Equal(t, 200*time.Millisecond, s.Playback.IdealBuffer)
	assert.Equal(t, 20*time.Millisecond, s.Playback.Tick)
	assert.Equal(t, 280*time.Millisecond, s.Playback.CriticalDrift)
	assert.Equal(t, 30*time.Millisecond, s.Playback.MinorDrift)
	assert.Equal(t, 12*time.Millisecond, s.Playback.CorrectionStep)
	assert.Equal(t, 8927, s.Server.Port)
	assert.Equal(t, 50*time.Millisecond, s.Server.Chunk)
	assert.True(t, s.Server.Advertise)
	assert.Equal(t, RotationSize, s.Main.Log.Rotation)
	assert.Equal(t, 250*time.Millisecond, s.Stream.Wait)
}

func TestLoadFromOverrides(t *testing.T) {
	viper.Reset()
	defer viper.Reset()

	path := filepath.Join(t.TempDir(), "config.yaml")
	yaml := "audio:\n  driver: none\nplayback:\n  idealbuffer: 150ms\n"
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o644))

	s, err := LoadFrom(path)
	require.NoError(t, err)
	assert.Equal(t, "none", s.Audio.Driver)
	assert.Equal(t, 150*time.Millisecond, s.Playback.IdealBuffer)
	assert.Equal(t, 20*time.Millisecond, s.Playback.Tick, "unset keys keep their defaults")
	assert.Same(t, s, GetSettings())
}

func TestLoadFromRejectsInvalid(t *testing.T) {
	viper.Reset()
	defer viper.Reset()

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("audio:\n  driver: pulse\n"), 0o644))

	_, err := LoadFrom(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "audio.driver")
}

func TestEmbeddedDefaultConfigLoads(t *testing.T) {
	viper.Reset()
	defer viper.Reset()

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(getDefaultConfig()), 0o644))

	s, err := LoadFrom(path)
	require.NoError(t, err)
	assert.Equal(t, "tactus", s.Main.Name)
	assert.Equal(t, "oto", s.Audio.Driver)
	assert.Equal(t, 8927, s.Server.Port)
}

func validSettings() *Settings {
	return &Settings{
		Main:  MainSettings{Name: "tactus"},
		Audio: AudioSettings{Driver: "oto", Volume: 100},
		Playback: PlaybackSettings{
			IdealBuffer:    200 * time.Millisecond,
			Tick:           20 * time.Millisecond,
			CriticalDrift:  280 * time.Millisecond,
			MinorDrift:     30 * time.Millisecond,
			CorrectionStep: 12 * time.Millisecond,
		},
		Server: ServerSettings{Host: "0.0.0.0", Port: 8927, Chunk: 50 * time.Millisecond},
	}
}

func TestValidateSettings(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Settings)
		wantErr string
	}{
		{"valid", func(*Settings) {}, ""},
		{"bad driver", func(s *Settings) { s.Audio.Driver = "pulse" }, "audio.driver"},
		{"volume out of range", func(s *Settings) { s.Audio.Volume = 150 }, "audio.volume"},
		{"inverted drift thresholds", func(s *Settings) { s.Playback.MinorDrift = 300 * time.Millisecond }, "minordrift"},
		{"zero tick", func(s *Settings) { s.Playback.Tick = 0 }, "playback.tick"},
		{"bad port", func(s *Settings) { s.Server.Port = 0 }, "server.port"},
		{"zero chunk", func(s *Settings) { s.Server.Chunk = 0 }, "server.chunk"},
		{"log without path", func(s *Settings) {
			s.Main.Log = LogConfig{Enabled: true, Rotation: RotationSize}
		}, "main.log.path"},
		{"bad rotation", func(s *Settings) {
			s.Main.Log = LogConfig{Enabled: true, Path: "tactus.log", Rotation: "hourly"}
		}, "rotation"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := validSettings()
			tt.mutate(s)
			err := ValidateSettings(s)
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
