package conf

import (
	"fmt"
	"strings"
)

// ValidationError collects every problem found in one pass so the
// user fixes them all at once.
type ValidationError struct {
	Errors []string
}

func (ve ValidationError) Error() string {
	return fmt.Sprintf("validation errors: %s", strings.Join(ve.Errors, "; "))
}

// ValidateSettings validates the entire Settings struct.
func ValidateSettings(settings *Settings) error {
	ve := ValidationError{}

	if err := validateAudioSettings(&settings.Audio); err != nil {
		ve.Errors = append(ve.Errors, err.Error())
	}
	if err := validatePlaybackSettings(&settings.Playback); err != nil {
		ve.Errors = append(ve.Errors, err.Error())
	}
	if err := validateServerSettings(&settings.Server); err != nil {
		ve.Errors = append(ve.Errors, err.Error())
	}
	if err := validateLogConfig(&settings.Main.Log); err != nil {
		ve.Errors = append(ve.Errors, err.Error())
	}

	if len(ve.Errors) > 0 {
		return ve
	}
	return nil
}

func validateAudioSettings(settings *AudioSettings) error {
	switch settings.Driver {
	case "oto", "malgo", "none":
	default:
		return fmt.Errorf("audio.driver must be oto, malgo or none, got %q", settings.Driver)
	}
	if settings.Volume < 0 || settings.Volume > 100 {
		return fmt.Errorf("audio.volume must be between 0 and 100, got %d", settings.Volume)
	}
	return nil
}

func validatePlaybackSettings(settings *PlaybackSettings) error {
	var errs []string

	if settings.IdealBuffer <= 0 {
		errs = append(errs, "playback.idealbuffer must be positive")
	}
	if settings.Tick <= 0 {
		errs = append(errs, "playback.tick must be positive")
	}
	if settings.CriticalDrift <= 0 {
		errs = append(errs, "playback.criticaldrift must be positive")
	}
	if settings.MinorDrift <= 0 {
		errs = append(errs, "playback.minordrift must be positive")
	}
	if settings.CorrectionStep <= 0 {
		errs = append(errs, "playback.correctionstep must be positive")
	}
	if settings.MinorDrift > 0 && settings.CriticalDrift > 0 && settings.MinorDrift >= settings.CriticalDrift {
		errs = append(errs, "playback.minordrift must be below playback.criticaldrift")
	}

	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

func validateServerSettings(settings *ServerSettings) error {
	var errs []string

	if settings.Port < 1 || settings.Port > 65535 {
		errs = append(errs, fmt.Sprintf("server.port must be between 1 and 65535, got %d", settings.Port))
	}
	if settings.Chunk <= 0 {
		errs = append(errs, "server.chunk must be positive")
	}

	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

func validateLogConfig(settings *LogConfig) error {
	if !settings.Enabled {
		return nil
	}
	switch settings.Rotation {
	case RotationDaily, RotationWeekly, RotationSize:
	default:
		return fmt.Errorf("main.log.rotation must be daily, weekly or size, got %q", settings.Rotation)
	}
	if settings.Path == "" {
		return fmt.Errorf("main.log.path is required when file logging is enabled")
	}
	return nil
}
