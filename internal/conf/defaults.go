package conf

import (
	"github.com/spf13/viper"
)

// setDefaultConfig registers the default for every configuration key.
func setDefaultConfig() {
	viper.SetDefault("debug", false)

	viper.SetDefault("main.name", "tactus")
	viper.SetDefault("main.log.enabled", false)
	viper.SetDefault("main.log.path", "tactus.log")
	viper.SetDefault("main.log.rotation", RotationSize)
	viper.SetDefault("main.log.maxsize", 10*1024*1024)

	viper.SetDefault("audio.driver", "oto")
	viper.SetDefault("audio.volume", 100)

	viper.SetDefault("playback.idealbuffer", "200ms")
	viper.SetDefault("playback.tick", "20ms")
	viper.SetDefault("playback.criticaldrift", "280ms")
	viper.SetDefault("playback.minordrift", "30ms")
	viper.SetDefault("playback.correctionstep", "12ms")

	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.port", 8927)
	viper.SetDefault("server.name", "tactus-server")
	viper.SetDefault("server.chunk", "50ms")
	viper.SetDefault("server.advertise", true)

	viper.SetDefault("stream.url", "")
	viper.SetDefault("stream.name", "tactus")
	viper.SetDefault("stream.wait", "250ms")
}
