package settings

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// FileConfig is the on-disk daemon configuration. Process-level fields
// (paths, binaries, log level) are read directly by the daemon; the
// nested sections seed the settings store on first run and can be
// changed at runtime afterwards.
type FileConfig struct {
	StateDir string `yaml:"state_dir"`
	DBPath   string `yaml:"db_path"`
	LogLevel string `yaml:"log_level"`
	ListenWS string `yaml:"listen_ws"`

	Player struct {
		Binary      string   `yaml:"binary"`
		Args        []string `yaml:"args"`
		IdleCommand string   `yaml:"idle_command"`
	} `yaml:"player"`

	Telegram struct {
		Token  string `yaml:"token"`
		ChatID int64  `yaml:"chat_id"`
	} `yaml:"telegram"`

	NVR struct {
		URL      string `yaml:"url"`
		Username string `yaml:"username"`
		Password string `yaml:"password"`
	} `yaml:"nvr"`

	Broker struct {
		Host        string `yaml:"host"`
		Port        int    `yaml:"port"`
		Username    string `yaml:"username"`
		Password    string `yaml:"password"`
		TopicPrefix string `yaml:"topic_prefix"`
	} `yaml:"broker"`

	// MinConfidence, NewOnly and AutoClose are pointers so an explicit
	// zero or false in the file is seeded, while an absent key keeps
	// the store default.
	Filters struct {
		Objects       string `yaml:"objects"`
		Cameras       string `yaml:"cameras"`
		MinConfidence *int   `yaml:"min_confidence"`
		NewOnly       *bool  `yaml:"new_only"`
	} `yaml:"filters"`

	Overlay struct {
		Width             int   `yaml:"width"`
		Height            int   `yaml:"height"`
		RefreshIntervalMS int   `yaml:"refresh_interval_ms"`
		AutoClose         *bool `yaml:"auto_close"`
		DurationS         int   `yaml:"duration_s"`
	} `yaml:"overlay"`

	Screensaver struct {
		CycleIntervalS int    `yaml:"cycle_interval_s"`
		Cameras        string `yaml:"cameras"`
		CamerasPerView int    `yaml:"cameras_per_view"`
	} `yaml:"screensaver"`
}

// LoadFile reads and parses the daemon configuration. A missing file
// is not an error; the returned config carries zero values and the
// store falls back to its built-in defaults.
func LoadFile(path string) (*FileConfig, error) {
	cfg := &FileConfig{}
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}

// SeedValues flattens the runtime-tunable sections into store keys.
// Empty and zero values are omitted so they do not shadow built-in
// defaults; the pointer-typed fields carry an explicit false or zero
// through to the store.
func (c *FileConfig) SeedValues() map[string]string {
	values := map[string]string{}

	putStr := func(key, v string) {
		if v != "" {
			values[key] = v
		}
	}
	putInt := func(key string, v int) {
		if v != 0 {
			values[key] = strconv.Itoa(v)
		}
	}
	putIntPtr := func(key string, v *int) {
		if v != nil {
			values[key] = strconv.Itoa(*v)
		}
	}
	putBoolPtr := func(key string, v *bool) {
		if v != nil {
			values[key] = strconv.FormatBool(*v)
		}
	}

	putStr(KeyNVRURL, c.NVR.URL)
	putStr(KeyNVRUsername, c.NVR.Username)
	putStr(KeyNVRPassword, c.NVR.Password)

	putStr(KeyBrokerHost, c.Broker.Host)
	putInt(KeyBrokerPort, c.Broker.Port)
	putStr(KeyBrokerUsername, c.Broker.Username)
	putStr(KeyBrokerPassword, c.Broker.Password)
	putStr(KeyTopicPrefix, c.Broker.TopicPrefix)

	putStr(KeyTriggerObjects, c.Filters.Objects)
	putStr(KeyTriggerCameras, c.Filters.Cameras)
	putIntPtr(KeyMinConfidence, c.Filters.MinConfidence)
	putBoolPtr(KeyNewEventsOnly, c.Filters.NewOnly)

	putInt(KeyOverlayWidth, c.Overlay.Width)
	putInt(KeyOverlayHeight, c.Overlay.Height)
	putInt(KeyRefreshInterval, c.Overlay.RefreshIntervalMS)
	putBoolPtr(KeyAutoClose, c.Overlay.AutoClose)
	putInt(KeyOverlayDuration, c.Overlay.DurationS)

	putInt(KeyCycleInterval, c.Screensaver.CycleIntervalS)
	putStr(KeyScreensaverCameras, c.Screensaver.Cameras)
	putInt(KeyCamerasPerView, c.Screensaver.CamerasPerView)

	return values
}
