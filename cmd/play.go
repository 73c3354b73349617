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

var playStart time.Duration

var playCmd = &cobra.Command{
	Use:   "play [file.wav]...",
	Short: "Play WAV files back to back",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runPlay,
}

func init() {
	playCmd.Flags().DurationVar(&playStart, "start", 0, "seek into the first file before playing")
	rootCmd.AddCommand(playCmd)
}

func runPlay(cmd *cobra.Command, args []string) error {
	settings := conf.GetSettings()

	srcs := make([]*source.WAVSource, 0, len(args))
	defer func() {
		for _, s := range srcs {
			s.Close()
		}
	}()
	var total time.Duration
	for _, path := range args {
		src, err := source.OpenWAV(path)
		if err != nil {
			return err
		}
		srcs = append(srcs, src)
		total += src.Duration()
	}

	done := make(chan struct{})
	player, err := tactus.New(tactus.Config{
		Driver:   settings.Audio.Driver,
		Volume:   settings.Audio.Volume,
		Playback: playbackConfig(settings),
		Logger:   logging.HumanReadable(),
		OnEOS:    func() { close(done) },
		OnEvent: func(ev audio.Event) {
			if ev.Kind == audio.EventMarker {
				fmt.Printf("\n%v  %s\n", ev.Timestamp.Truncate(time.Millisecond), ev.Marker)
			}
		},
	})
	if err != nil {
		return err
	}
	defer player.Close()

	if err := player.Load(srcs[0]); err != nil {
		return err
	}
	for _, src := range srcs[1:] {
		if err := player.Queue(src); err != nil {
			return err
		}
	}
	if playStart > 0 {
		if err := player.Seek(playStart); err != nil {
			return err
		}
	}
	if err := player.Play(); err != nil {
		return err
	}

	return waitWithProgress(player, done, total)
}

// waitWithProgress blocks until the chain plays out or the user
// interrupts, printing the position once a second.
func waitWithProgress(player *tactus.Player, done <-chan struct{}, total time.Duration) error {
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sig)

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			fmt.Printf("\r%v / %v\n", total.Truncate(time.Second), total.Truncate(time.Second))
			return nil
		case <-sig:
			fmt.Println("\rinterrupted")
			return nil
		case <-ticker.C:
			fmt.Printf("\r%v / %v ", player.Position().Truncate(time.Second), total.Truncate(time.Second))
		}
	}
}
