// Package conf loads and validates tactus configuration from YAML
// config files, falling back to built-in defaults.
package conf

import (
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"time"

	"github.com/spf13/viper"
)

//go:embed config.yaml
var configFiles embed.FS

// RotationType defines how log files are rotated.
type RotationType string

const (
	RotationDaily  RotationType = "daily"
	RotationWeekly RotationType = "weekly"
	RotationSize   RotationType = "size"
)

// LogConfig describes one rotated log file.
type LogConfig struct {
	Enabled  bool         // write a log file at all
	Path     string       // log file path
	Rotation RotationType // daily, weekly or size
	MaxSize  int64        // max size in bytes for size rotation
}

// MainSettings carries instance-wide options.
type MainSettings struct {
	Name string    // instance name, shows up in logs and discovery
	Log  LogConfig // file logging
}

// AudioSettings selects the playback backend.
type AudioSettings struct {
	Driver string // oto, malgo or none
	Volume int    // initial volume, 0-100
}

// PlaybackSettings tunes the engine's buffering and drift correction.
type PlaybackSettings struct {
	IdealBuffer    time.Duration // buffered audio the engine refills toward
	Tick           time.Duration // scheduler maintenance interval
	CriticalDrift  time.Duration // resync all at once beyond this
	MinorDrift     time.Duration // correct gradually beyond this
	CorrectionStep time.Duration // audio inserted or dropped per correction
}

// ServerSettings configures the stream server.
type ServerSettings struct {
	Host      string
	Port      int
	Name      string        // announced over mDNS and in handshakes
	Chunk     time.Duration // pacing interval between broadcast chunks
	Advertise bool          // announce the server over mDNS
}

// StreamSettings configures the stream client.
type StreamSettings struct {
	URL  string        // websocket endpoint, e.g. ws://host:8927/tactus
	Name string        // name sent in the handshake
	Wait time.Duration // how long a read waits for network data
}

// Settings is the root configuration.
type Settings struct {
	Debug bool

	Main     MainSettings
	Audio    AudioSettings
	Playback PlaybackSettings
	Server   ServerSettings
	Stream   StreamSettings
}

var (
	settingsInstance *Settings
	settingsMutex    sync.RWMutex
	once             sync.Once
)

// Load reads settings from the default config paths, creating a
// default config file on first run.
func Load() (*Settings, error) {
	return load(initViper)
}

// LoadFrom reads settings from an explicit config file.
func LoadFrom(path string) (*Settings, error) {
	return load(func() error {
		setDefaultConfig()
		viper.SetConfigFile(path)
		if err := viper.ReadInConfig(); err != nil {
			return fmt.Errorf("reading config file %s: %w", path, err)
		}
		return nil
	})
}

func load(configure func() error) (*Settings, error) {
	settingsMutex.Lock()
	defer settingsMutex.Unlock()

	settings := &Settings{}
	if err := configure(); err != nil {
		return nil, err
	}
	if err := viper.Unmarshal(settings); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}
	if err := ValidateSettings(settings); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	settingsInstance = settings
	return settingsInstance, nil
}

func initViper() error {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")

	configPaths, err := GetDefaultConfigPaths()
	if err != nil {
		return fmt.Errorf("resolving config paths: %w", err)
	}
	for _, path := range configPaths {
		viper.AddConfigPath(path)
	}

	setDefaultConfig()

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return createDefaultConfig()
		}
		return fmt.Errorf("reading config file: %w", err)
	}
	return nil
}

// createDefaultConfig writes the embedded default config to the first
// default path so the user has something to edit.
func createDefaultConfig() error {
	configPaths, err := GetDefaultConfigPaths()
	if err != nil {
		return fmt.Errorf("resolving config paths: %w", err)
	}
	configPath := filepath.Join(configPaths[0], "config.yaml")

	if err := os.MkdirAll(filepath.Dir(configPath), 0o755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	if err := os.WriteFile(configPath, []byte(getDefaultConfig()), 0o644); err != nil {
		return fmt.Errorf("writing default config: %w", err)
	}

	slog.Info("created default config file", "path", configPath)
	return viper.ReadInConfig()
}

func getDefaultConfig() string {
	data, err := fs.ReadFile(configFiles, "config.yaml")
	if err != nil {
		panic(fmt.Sprintf("embedded config.yaml unreadable: %v", err))
	}
	return string(data)
}

// Setting returns the loaded settings, loading them on first use.
func Setting() *Settings {
	once.Do(func() {
		if settingsInstance == nil {
			if _, err := Load(); err != nil {
				slog.Error("failed to load settings", "error", err)
				os.Exit(1)
			}
		}
	})
	return GetSettings()
}

// GetSettings returns the current settings instance.
func GetSettings() *Settings {
	settingsMutex.RLock()
	defer settingsMutex.RUnlock()
	return settingsInstance
}

// GetDefaultConfigPaths lists the locations searched for config.yaml,
// most specific first. When one of them already holds a config file,
// only that one is returned.
func GetDefaultConfigPaths() ([]string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("resolving home directory: %w", err)
	}

	var configPaths []string
	switch runtime.GOOS {
	case "windows":
		exePath, err := os.Executable()
		if err != nil {
			return nil, fmt.Errorf("resolving executable path: %w", err)
		}
		configPaths = []string{
			filepath.Dir(exePath),
			filepath.Join(homeDir, "AppData", "Roaming", "tactus"),
		}
	default:
		configPaths = []string{
			filepath.Join(homeDir, ".config", "tactus"),
			"/etc/tactus",
		}
	}

	for _, path := range configPaths {
		if _, err := os.Stat(filepath.Join(path, "config.yaml")); err == nil {
			return []string{path}, nil
		}
	}
	return configPaths, nil
}
