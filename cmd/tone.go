package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/tactus-audio/tactus-go/internal/conf"
	"github.com/tactus-audio/tactus-go/internal/logging"
	"github.com/tactus-audio/tactus-go/pkg/audio"
	"github.com/tactus-audio/tactus-go/pkg/audio/source"
	"github.com/tactus-audio/tactus-go/pkg/tactus"
)

var (
	toneFreq      float64
	toneAmplitude float64
	toneRate      uint32
	toneFor       time.Duration
)

var toneCmd = &cobra.Command{
	Use:   "tone",
	Short: "Play a test tone",
	Args:  cobra.NoArgs,
	RunE:  runTone,
}

func init() {
	toneCmd.Flags().Float64Var(&toneFreq, "freq", 440, "tone frequency in Hz")
	toneCmd.Flags().Float64Var(&toneAmplitude, "amplitude", 0.5, "amplitude 0.0-1.0")
	toneCmd.Flags().Uint32Var(&toneRate, "rate", 48000, "sample rate")
	toneCmd.Flags().DurationVar(&toneFor, "for", 0, "stop after this long (0 plays until interrupted)")
	rootCmd.AddCommand(toneCmd)
}

func runTone(cmd *cobra.Command, args []string) error {
	settings := conf.GetSettings()

	format := audio.Format{Channels: 2, SampleBits: 16, SampleRate: toneRate}
	src, err := source.NewToneSource(format, toneFreq, toneAmplitude)
	if err != nil {
		return err
	}

	player, err := tactus.New(tactus.Config{
		Driver:   settings.Audio.Driver,
		Volume:   settings.Audio.Volume,
		Playback: playbackConfig(settings),
		Logger:   logging.HumanReadable(),
	})
	if err != nil {
		return err
	}
	defer player.Close()

	if err := player.Load(src); err != nil {
		return err
	}
	if err := player.Play(); err != nil {
		return err
	}
	fmt.Printf("playing %.0f Hz tone, ctrl-c to stop\n", toneFreq)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sig)

	var timeout <-chan time.Time
	if toneFor > 0 {
		timer := time.NewTimer(toneFor)
		defer timer.Stop()
		timeout = timer.C
	}

	select {
	case <-sig:
	case <-timeout:
	}
	return nil
}
