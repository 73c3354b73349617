package cmd

import (
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/tactus-audio/tactus-go/internal/conf"
	"github.com/tactus-audio/tactus-go/internal/logging"
	"github.com/tactus-audio/tactus-go/internal/protocol"
	"github.com/tactus-audio/tactus-go/internal/server"
	"github.com/tactus-audio/tactus-go/pkg/audio"
	"github.com/tactus-audio/tactus-go/pkg/audio/source"
)

var (
	serveNoMDNS  bool
	serveArtwork string
)

var serveCmd = &cobra.Command{
	Use:   "serve [file.wav]",
	Short: "Stream audio to tactus clients",
	Long: `Serve broadcasts a WAV file, or a test tone when no file is given,
to every connected client in real time.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runServe,
}

func init() {
	serveCmd.Flags().Int("port", 0, "websocket port")
	serveCmd.Flags().String("host", "", "address to bind")
	serveCmd.Flags().String("name", "", "server name announced to clients")
	serveCmd.Flags().Duration("chunk", 0, "audio chunk interval")
	serveCmd.Flags().BoolVar(&serveNoMDNS, "no-mdns", false, "disable mDNS advertisement")
	serveCmd.Flags().StringVar(&serveArtwork, "artwork", "", "artwork URL announced with the metadata")

	viper.BindPFlag("server.port", serveCmd.Flags().Lookup("port"))
	viper.BindPFlag("server.host", serveCmd.Flags().Lookup("host"))
	viper.BindPFlag("server.name", serveCmd.Flags().Lookup("name"))
	viper.BindPFlag("server.chunk", serveCmd.Flags().Lookup("chunk"))

	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	settings := conf.GetSettings()

	var (
		src  source.Source
		meta protocol.StreamMetadata
	)
	if len(args) == 1 {
		wav, err := source.OpenWAV(args[0])
		if err != nil {
			return err
		}
		defer wav.Close()
		src = wav
		meta.Title = strings.TrimSuffix(filepath.Base(args[0]), filepath.Ext(args[0]))
	} else {
		format := audio.Format{Channels: 2, SampleBits: 16, SampleRate: 48000}
		tone, err := source.NewToneSource(format, 440, 0.5)
		if err != nil {
			return err
		}
		src = tone
		meta.Title = "Test Tone"
	}
	meta.Artist = settings.Server.Name
	meta.ArtworkURL = serveArtwork

	log, closeLog, err := serverLogger(settings)
	if err != nil {
		return err
	}
	defer closeLog()

	srv, err := server.New(server.Config{
		Host:      settings.Server.Host,
		Port:      settings.Server.Port,
		Name:      settings.Server.Name,
		Chunk:     settings.Server.Chunk,
		Advertise: settings.Server.Advertise && !serveNoMDNS,
		Source:    src,
		Metadata:  &meta,
		Logger:    log,
	})
	if err != nil {
		return err
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sig)
	go func() {
		<-sig
		srv.Stop()
	}()

	return srv.Start()
}

// serverLogger logs to the configured file when file logging is on,
// and to the structured default otherwise.
func serverLogger(settings *conf.Settings) (*slog.Logger, func() error, error) {
	if !settings.Main.Log.Enabled {
		return logging.ForService("server"), func() error { return nil }, nil
	}
	level := slog.LevelInfo
	if settings.Debug {
		level = slog.LevelDebug
	}
	return logging.NewFileLogger(settings.Main.Log.Path, "server", level)
}
