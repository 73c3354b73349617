package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/tactus-audio/tactus-go/internal/artwork"
	"github.com/tactus-audio/tactus-go/internal/conf"
	"github.com/tactus-audio/tactus-go/internal/discovery"
	"github.com/tactus-audio/tactus-go/internal/logging"
	"github.com/tactus-audio/tactus-go/pkg/audio"
	"github.com/tactus-audio/tactus-go/pkg/audio/source"
	"github.com/tactus-audio/tactus-go/pkg/tactus"
)

const discoverTimeout = 10 * time.Second

var streamCmd = &cobra.Command{
	Use:   "stream [url]",
	Short: "Play audio from a tactus server",
	Long: `Stream connects to a tactus server and plays its broadcast, pacing
local playback against the server clock. With no URL it looks the
server up over mDNS.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runStream,
}

func init() {
	streamCmd.Flags().String("name", "", "client name announced to the server")
	streamCmd.Flags().Duration("wait", 0, "how long a read waits for network data")

	viper.BindPFlag("stream.name", streamCmd.Flags().Lookup("name"))
	viper.BindPFlag("stream.wait", streamCmd.Flags().Lookup("wait"))

	rootCmd.AddCommand(streamCmd)
}

func runStream(cmd *cobra.Command, args []string) error {
	settings := conf.GetSettings()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	url, err := resolveServerURL(ctx, args, settings)
	if err != nil {
		return err
	}

	fmt.Printf("connecting to %s\n", url)
	src, err := source.DialStream(ctx, source.StreamConfig{
		URL:    url,
		Name:   settings.Stream.Name,
		Wait:   settings.Stream.Wait,
		Logger: logging.ForService("stream"),
	})
	if err != nil {
		return err
	}
	defer src.Close()

	// Metadata changes are handled off the event callback; fetching
	// artwork must not stall event dispatch.
	metaCh := make(chan struct{}, 1)
	done := make(chan struct{})
	player, err := tactus.New(tactus.Config{
		Driver:   settings.Audio.Driver,
		Volume:   settings.Audio.Volume,
		Playback: playbackConfig(settings),
		Logger:   logging.HumanReadable(),
		OnEOS:    func() { close(done) },
		OnEvent: func(ev audio.Event) {
			if ev.Kind == audio.EventMarker {
				fmt.Printf("\rnow playing: %s\n", ev.Marker)
				select {
				case metaCh <- struct{}{}:
				default:
				}
			}
		},
	})
	if err != nil {
		return err
	}
	defer player.Close()

	art, err := artwork.NewDownloader("", logging.ForService("artwork"))
	if err != nil {
		return err
	}

	if err := player.Load(src); err != nil {
		return err
	}
	if err := player.Play(); err != nil {
		return err
	}

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			fmt.Println("\rstream ended")
			return nil
		case <-ctx.Done():
			fmt.Println("\rinterrupted")
			return nil
		case <-metaCh:
			if url := src.Metadata().ArtworkURL; url != "" {
				if path, err := art.Download(url); err == nil {
					fmt.Printf("\rartwork: %s\n", path)
				}
			}
		case <-ticker.C:
			fmt.Printf("\r%v ", player.Position().Truncate(time.Second))
		}
	}
}

// resolveServerURL picks the server address: an explicit argument
// first, the configured URL next, mDNS discovery last.
func resolveServerURL(ctx context.Context, args []string, settings *conf.Settings) (string, error) {
	if len(args) == 1 {
		return args[0], nil
	}
	if settings.Stream.URL != "" {
		return settings.Stream.URL, nil
	}

	fmt.Println("looking for a server over mDNS")
	mgr := discovery.NewManager(discovery.Config{
		ServiceName: settings.Stream.Name,
		Logger:      logging.ForService("discovery"),
	})
	defer mgr.Stop()
	if err := mgr.Browse(); err != nil {
		return "", err
	}

	select {
	case srv := <-mgr.Servers():
		return fmt.Sprintf("ws://%s:%d/tactus", srv.Host, srv.Port), nil
	case <-time.After(discoverTimeout):
		return "", fmt.Errorf("no server found after %v", discoverTimeout)
	case <-ctx.Done():
		return "", ctx.Err()
	}
}
