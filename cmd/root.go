// Package cmd implements the tactus command line interface.
package cmd

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/tactus-audio/tactus-go/internal/conf"
	"github.com/tactus-audio/tactus-go/internal/logging"
	"github.com/tactus-audio/tactus-go/internal/version"
	"github.com/tactus-audio/tactus-go/pkg/playback"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:     "tactus",
	Short:   "Synchronized audio playback",
	Long:    "tactus plays, serves and receives PCM audio with drift-corrected timing.",
	Version: version.Version,

	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return initConfig()
	},
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "",
		"config file (default is config.yaml in the tactus config directory)")
	rootCmd.PersistentFlags().BoolP("debug", "d", false, "enable debug logging")
	rootCmd.PersistentFlags().String("driver", "", "audio driver: oto, malgo or none")
	rootCmd.PersistentFlags().IntP("volume", "v", 0, "playback volume 0-100")

	viper.BindPFlag("debug", rootCmd.PersistentFlags().Lookup("debug"))
	viper.BindPFlag("audio.driver", rootCmd.PersistentFlags().Lookup("driver"))
	viper.BindPFlag("audio.volume", rootCmd.PersistentFlags().Lookup("volume"))

	rootCmd.SetVersionTemplate(fmt.Sprintf("%s {{.Version}}\n", version.Product))
}

// initConfig loads settings and wires logging before any subcommand
// runs. Flags bound to viper override the config file.
func initConfig() error {
	var err error
	if cfgFile != "" {
		_, err = conf.LoadFrom(cfgFile)
	} else {
		_, err = conf.Load()
	}
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	level := slog.LevelInfo
	if conf.GetSettings().Debug {
		level = slog.LevelDebug
	}
	logging.Init(level)
	return nil
}

// playbackConfig maps the playback section of the settings onto the
// engine's knobs.
func playbackConfig(s *conf.Settings) playback.Config {
	return playback.Config{
		CriticalDrift:  s.Playback.CriticalDrift,
		MinorDrift:     s.Playback.MinorDrift,
		CorrectionStep: s.Playback.CorrectionStep,
		IdealBuffer:    s.Playback.IdealBuffer,
		Tick:           s.Playback.Tick,
	}
}
