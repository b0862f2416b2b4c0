package dispatch

import (
	"encoding/json"
	"fmt"
	"strings"
)

// EventType classifies a detection event over its lifecycle.
type EventType string

const (
	EventNew    EventType = "new"
	EventUpdate EventType = "update"
	EventEnd    EventType = "end"
)

// Event is one decoded detection event from the NVR event topic. Events
// are ephemeral: decoded, filtered and discarded, never stored.
type Event struct {
	Type   EventType
	Camera string
	Label  string
	Score  float64
	Raw    []byte
}

// eventPayload mirrors the NVR event message. Only the "after" state is
// consumed: it carries the current view of the tracked object.
type eventPayload struct {
	Type  string `json:"type"`
	After struct {
		Camera string  `json:"camera"`
		Label  string  `json:"label"`
		Score  float64 `json:"score"`
	} `json:"after"`
}

// decodeEvent parses a raw event bus message.
func decodeEvent(raw []byte) (Event, error) {
	var payload eventPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return Event{}, fmt.Errorf("decode event payload: %w", err)
	}

	return Event{
		Type:   EventType(payload.Type),
		Camera: payload.After.Camera,
		Label:  strings.ToLower(payload.After.Label),
		Score:  payload.After.Score,
		Raw:    raw,
	}, nil
}
