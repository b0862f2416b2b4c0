package settings

import (
	"database/sql"
	"fmt"
	"strconv"
	"time"

	_ "modernc.org/sqlite"
)

// Setting keys as stored. Grouped by the subsystem that consumes them.
const (
	KeyNVRURL      = "nvr_url"
	KeyNVRUsername = "nvr_username"
	KeyNVRPassword = "nvr_password"

	KeyBrokerHost     = "broker_host"
	KeyBrokerPort     = "broker_port"
	KeyBrokerUsername = "broker_username"
	KeyBrokerPassword = "broker_password"
	KeyTopicPrefix    = "topic_prefix"

	KeyTriggerObjects = "trigger_objects"
	KeyTriggerCameras = "trigger_cameras"
	KeyMinConfidence  = "min_confidence"
	KeyNewEventsOnly  = "new_events_only"

	KeyOverlayWidth    = "overlay_width"
	KeyOverlayHeight   = "overlay_height"
	KeyRefreshInterval = "refresh_interval_ms"
	KeyAutoClose       = "auto_close"
	KeyOverlayDuration = "overlay_duration_s"

	KeyCycleInterval      = "cycle_interval_s"
	KeyScreensaverCameras = "screensaver_cameras"
	KeyCamerasPerView     = "cameras_per_view"
)

var defaults = map[string]string{
	KeyNVRURL:      "http://127.0.0.1:5000",
	KeyNVRUsername: "",
	KeyNVRPassword: "",

	KeyBrokerHost:     "127.0.0.1",
	KeyBrokerPort:     "1883",
	KeyBrokerUsername: "",
	KeyBrokerPassword: "",
	KeyTopicPrefix:    "frigate",

	KeyTriggerObjects: "person,car,dog,cat",
	KeyTriggerCameras: "",
	KeyMinConfidence:  "70",
	KeyNewEventsOnly:  "false",

	KeyOverlayWidth:    "480",
	KeyOverlayHeight:   "270",
	KeyRefreshInterval: "500",
	KeyAutoClose:       "true",
	KeyOverlayDuration: "15",

	KeyCycleInterval:      "10",
	KeyScreensaverCameras: "",
	KeyCamerasPerView:     "1",
}

// Store persists settings in a single key/value table so that edits
// from the CLI and the daemon's reconciliation loop observe the same
// state across processes.
type Store struct {
	db *sql.DB
}

func NewStore(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open settings db: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable WAL: %w", err)
	}

	schema := `CREATE TABLE IF NOT EXISTS settings (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create settings table: %w", err)
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Seed inserts values for keys that are not present yet. Existing
// values are kept, so user edits survive restarts and upgrades.
func (s *Store) Seed(values map[string]string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for key, value := range values {
		_, err := tx.Exec(
			"INSERT OR IGNORE INTO settings (key, value) VALUES (?, ?)",
			key, value,
		)
		if err != nil {
			return fmt.Errorf("seed %s: %w", key, err)
		}
	}
	return tx.Commit()
}

// Set writes a single setting, replacing any previous value.
func (s *Store) Set(key, value string) error {
	_, err := s.db.Exec(
		`INSERT INTO settings (key, value, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, time.Now().UTC(),
	)
	return err
}

// Get returns the stored value for key, or the built-in default when
// the key has never been written.
func (s *Store) Get(key string) (string, error) {
	var value string
	err := s.db.QueryRow("SELECT value FROM settings WHERE key = ?", key).Scan(&value)
	if err == sql.ErrNoRows {
		return defaults[key], nil
	}
	if err != nil {
		return "", err
	}
	return value, nil
}

// Load reads every setting into a snapshot. Missing or malformed
// values fall back to their defaults rather than failing the load.
func (s *Store) Load() (Settings, error) {
	raw := make(map[string]string, len(defaults))
	for key, value := range defaults {
		raw[key] = value
	}

	rows, err := s.db.Query("SELECT key, value FROM settings")
	if err != nil {
		return Settings{}, fmt.Errorf("load settings: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return Settings{}, err
		}
		raw[key] = value
	}
	if err := rows.Err(); err != nil {
		return Settings{}, err
	}

	return Settings{
		NVRURL:      raw[KeyNVRURL],
		NVRUsername: raw[KeyNVRUsername],
		NVRPassword: raw[KeyNVRPassword],

		BrokerHost:     raw[KeyBrokerHost],
		BrokerPort:     parseInt(raw[KeyBrokerPort], defaults[KeyBrokerPort]),
		BrokerUsername: raw[KeyBrokerUsername],
		BrokerPassword: raw[KeyBrokerPassword],
		TopicPrefix:    raw[KeyTopicPrefix],

		TriggerObjects: raw[KeyTriggerObjects],
		TriggerCameras: raw[KeyTriggerCameras],
		MinConfidence:  parseInt(raw[KeyMinConfidence], defaults[KeyMinConfidence]),
		NewEventsOnly:  parseBool(raw[KeyNewEventsOnly]),

		OverlayWidth:    parseInt(raw[KeyOverlayWidth], defaults[KeyOverlayWidth]),
		OverlayHeight:   parseInt(raw[KeyOverlayHeight], defaults[KeyOverlayHeight]),
		RefreshInterval: time.Duration(parseInt(raw[KeyRefreshInterval], defaults[KeyRefreshInterval])) * time.Millisecond,
		AutoClose:       parseBool(raw[KeyAutoClose]),
		OverlayDuration: time.Duration(parseInt(raw[KeyOverlayDuration], defaults[KeyOverlayDuration])) * time.Second,

		CycleInterval:      time.Duration(parseInt(raw[KeyCycleInterval], defaults[KeyCycleInterval])) * time.Second,
		ScreensaverCameras: raw[KeyScreensaverCameras],
		CamerasPerView:     parseInt(raw[KeyCamerasPerView], defaults[KeyCamerasPerView]),
	}, nil
}

func parseInt(value, fallback string) int {
	n, err := strconv.Atoi(value)
	if err != nil {
		n, _ = strconv.Atoi(fallback)
	}
	return n
}

func parseBool(value string) bool {
	b, err := strconv.ParseBool(value)
	if err != nil {
		return false
	}
	return b
}
