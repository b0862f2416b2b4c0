package settings

import (
	"strings"
	"time"
)

// Settings is a flat snapshot of the reconciled service configuration.
// The reconciliation loop compares successive snapshots; each subsystem
// looks only at its own key group to decide whether it must restart.
type Settings struct {
	// Discovery group.
	NVRURL      string
	NVRUsername string
	NVRPassword string

	// Broker connection group.
	BrokerHost     string
	BrokerPort     int
	BrokerUsername string
	BrokerPassword string
	TopicPrefix    string

	// Filter group. Allow-lists are comma-separated, the user-facing
	// form; MinConfidence is a percentage (0-100) and converted to a
	// fraction at the dispatcher boundary.
	TriggerObjects string
	TriggerCameras string
	MinConfidence  int
	NewEventsOnly  bool

	// Overlay presentation.
	OverlayWidth    int
	OverlayHeight   int
	RefreshInterval time.Duration
	AutoClose       bool
	OverlayDuration time.Duration

	// Screensaver.
	CycleInterval      time.Duration
	ScreensaverCameras string
	CamerasPerView     int
}

// BrokerChanged reports whether any broker connection key differs.
// A changed broker identity requires a full dispatcher rebuild.
func (s Settings) BrokerChanged(o Settings) bool {
	return s.BrokerHost != o.BrokerHost ||
		s.BrokerPort != o.BrokerPort ||
		s.BrokerUsername != o.BrokerUsername ||
		s.BrokerPassword != o.BrokerPassword ||
		s.TopicPrefix != o.TopicPrefix
}

// FilterChanged reports whether any event filter key differs. Filter
// changes alone are hot-swapped onto the live dispatcher.
func (s Settings) FilterChanged(o Settings) bool {
	return s.TriggerObjects != o.TriggerObjects ||
		s.TriggerCameras != o.TriggerCameras ||
		s.MinConfidence != o.MinConfidence ||
		s.NewEventsOnly != o.NewEventsOnly
}

// DiscoveryChanged reports whether any NVR endpoint key differs.
func (s Settings) DiscoveryChanged(o Settings) bool {
	return s.NVRURL != o.NVRURL ||
		s.NVRUsername != o.NVRUsername ||
		s.NVRPassword != o.NVRPassword
}

// SplitList parses a comma-separated allow-list setting.
func SplitList(value string) []string {
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
