package dispatch

import "strings"

// FilterConfig decides which detection events trigger the display callback.
// Empty allow-lists accept everything. MinConfidence is a 0-1 fraction
// regardless of how the setting was entered.
type FilterConfig struct {
	Objects       []string
	Cameras       []string
	MinConfidence float64
	NewOnly       bool
}

// normalize lowercases and trims the allow-lists so matching is
// case-insensitive. Called once when the config is installed.
func (f FilterConfig) normalize() FilterConfig {
	f.Objects = normalizeList(f.Objects)
	f.Cameras = normalizeList(f.Cameras)
	return f
}

func normalizeList(items []string) []string {
	out := make([]string, 0, len(items))
	for _, item := range items {
		item = strings.ToLower(strings.TrimSpace(item))
		if item != "" {
			out = append(out, item)
		}
	}
	return out
}

// RejectReason identifies which predicate rejected an event. Each reason
// is logged distinctly so filter misconfigurations are diagnosable.
type RejectReason int

const (
	Accepted RejectReason = iota
	RejectEventType
	RejectCamera
	RejectObject
	RejectConfidence
)

func (r RejectReason) String() string {
	switch r {
	case Accepted:
		return "accepted"
	case RejectEventType:
		return "event type"
	case RejectCamera:
		return "camera not in trigger list"
	case RejectObject:
		return "object not in trigger list"
	case RejectConfidence:
		return "confidence below threshold"
	default:
		return "unknown"
	}
}

// Evaluate runs the filter chain in fixed order: event type, camera
// allow-list, object allow-list, confidence. The predicates are a pure
// conjunction; the first failure is reported.
func (f FilterConfig) Evaluate(ev Event) RejectReason {
	if f.NewOnly && ev.Type != EventNew {
		return RejectEventType
	}
	if len(f.Cameras) > 0 && !contains(f.Cameras, strings.ToLower(ev.Camera)) {
		return RejectCamera
	}
	if len(f.Objects) > 0 && !contains(f.Objects, strings.ToLower(ev.Label)) {
		return RejectObject
	}
	if ev.Score < f.MinConfidence {
		return RejectConfidence
	}
	return Accepted
}

func contains(list []string, value string) bool {
	for _, item := range list {
		if item == value {
			return true
		}
	}
	return false
}
