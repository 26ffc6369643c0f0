package hearth

import (
	"encoding/json"
	"fmt"
)

// SourceType identifies one of the controllable audio backends.
type SourceType string

const (
	SourceNone      SourceType = "none"
	SourceMPD       SourceType = "mpd"
	SourceLibrespot SourceType = "librespot"
	SourceBluetooth SourceType = "bluetooth"
)

// ParseSourceType converts a wire string into a SourceType.
func ParseSourceType(s string) (SourceType, error) {
	switch SourceType(s) {
	case SourceNone, SourceMPD, SourceLibrespot, SourceBluetooth:
		return SourceType(s), nil
	}
	return SourceNone, fmt.Errorf("unknown source %q", s)
}

// Valid reports whether the source is one of the defined values.
func (s SourceType) Valid() bool {
	switch s {
	case SourceNone, SourceMPD, SourceLibrespot, SourceBluetooth:
		return true
	}
	return false
}

func (s SourceType) String() string { return string(s) }

// PlaybackStatus describes the transport state of a backend. Values match
// the AVRCP/BlueZ status vocabulary so Bluetooth state maps one to one.
type PlaybackStatus string

const (
	StatusStopped     PlaybackStatus = "stopped"
	StatusPlaying     PlaybackStatus = "playing"
	StatusPaused      PlaybackStatus = "paused"
	StatusForwardSeek PlaybackStatus = "forward-seek"
	StatusReverseSeek PlaybackStatus = "reverse-seek"
	StatusError       PlaybackStatus = "error"
	StatusUnknown     PlaybackStatus = "unknown"
)

// TrackInfo is an immutable snapshot of track metadata. The controller never
// caches it; every read goes back to the owning backend.
type TrackInfo struct {
	Title      string `json:"title"`
	Artist     string `json:"artist"`
	Album      string `json:"album"`
	DurationMS int64  `json:"durationMs"`
	File       string `json:"file,omitempty"`
}

// FormatDuration renders the track duration as M:SS for displays.
func (t TrackInfo) FormatDuration() string {
	if t.DurationMS <= 0 {
		return "0:00"
	}
	total := t.DurationMS / 1000
	return fmt.Sprintf("%d:%02d", total/60, total%60)
}

// PlaybackState carries the transport status and, when the backend reports
// one, the current volume. Volume is nil when the backend cannot say.
type PlaybackState struct {
	Status PlaybackStatus `json:"status"`
	Volume *int           `json:"volume,omitempty"`
}

// VolumeOf is a convenience constructor for the optional volume field.
func VolumeOf(v int) *int { return &v }

// SourceInfo describes the device behind a source.
type SourceInfo struct {
	Source     SourceType `json:"source"`
	DeviceName string     `json:"deviceName"`
	DeviceMAC  string     `json:"deviceMac,omitempty"`
	Path       string     `json:"path,omitempty"`
}

// MenuOption is one selectable entry in a source's contextual menu.
type MenuOption struct {
	ID     string `json:"id"`
	Label  string `json:"label"`
	Type   string `json:"type"`
	Action string `json:"action"`
}

// MenuOptions is the contextual menu a source offers, if any.
type MenuOptions struct {
	HasMenu  bool         `json:"hasMenu"`
	MenuType string       `json:"menuType,omitempty"`
	Options  []MenuOption `json:"options"`
	Message  string       `json:"message,omitempty"`
}

// MenuActionResult reports the outcome of executing a menu action.
type MenuActionResult struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Err     string `json:"error,omitempty"`
}

// StatusSnapshot is the full controller state published on the state topic
// and returned by status.get.
type StatusSnapshot struct {
	PoweredOn        bool          `json:"poweredOn"`
	CurrentSource    SourceType    `json:"currentSource"`
	PreviousSource   SourceType    `json:"previousSource"`
	AvailableSources []SourceType  `json:"availableSources"`
	Playback         PlaybackState `json:"playback"`
	Track            *TrackInfo    `json:"track,omitempty"`
	SourceInfo       SourceInfo    `json:"sourceInfo"`
	TS               int64         `json:"ts"`
}

// MarshalSnapshot encodes a snapshot for the retained state topic.
func MarshalSnapshot(s StatusSnapshot) []byte {
	payload, _ := json.Marshal(s)
	return payload
}
