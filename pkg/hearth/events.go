package hearth

import "fmt"

// EventKind discriminates monitor and controller events. The wire name of
// every event is the canonical "client_changed" with Kind as sub-event.
type EventKind string

const (
	EventPlaybackStateChanged    EventKind = "playback_state_changed"
	EventTrackChanged            EventKind = "track_changed"
	EventSourceInfoChanged       EventKind = "source_info_changed"
	EventCurrentSourceChanged    EventKind = "current_source_changed"
	EventAvailableSourcesChanged EventKind = "available_sources_changed"
	EventPowerChanged            EventKind = "power_changed"
	EventDeviceConnected         EventKind = "device_connected"
	EventDeviceDisconnected      EventKind = "device_disconnected"
)

// ClientChanged is the canonical bus event name UI listeners subscribe to.
const ClientChanged = "client_changed"

// DeviceInfo identifies the peer behind a device_connected or
// device_disconnected event.
type DeviceInfo struct {
	Name string `json:"name"`
	MAC  string `json:"mac,omitempty"`
}

// Event is a monitor or controller event. Source tags the backend the event
// originated from; exactly one payload field is set, chosen by Kind.
type Event struct {
	Source    SourceType     `json:"source"`
	Kind      EventKind      `json:"kind"`
	Playback  *PlaybackState `json:"playback,omitempty"`
	Track     *TrackInfo     `json:"track,omitempty"`
	Info      *SourceInfo    `json:"sourceInfo,omitempty"`
	Device    *DeviceInfo    `json:"device,omitempty"`
	PoweredOn *bool          `json:"poweredOn,omitempty"`
	Sources   []SourceType   `json:"sources,omitempty"`
}

// PlaybackEvent builds a playback_state_changed event.
func PlaybackEvent(source SourceType, state PlaybackState) Event {
	return Event{Source: source, Kind: EventPlaybackStateChanged, Playback: &state}
}

// TrackEvent builds a track_changed event.
func TrackEvent(source SourceType, track TrackInfo) Event {
	return Event{Source: source, Kind: EventTrackChanged, Track: &track}
}

// SourceInfoEvent builds a source_info_changed event.
func SourceInfoEvent(source SourceType, info SourceInfo) Event {
	return Event{Source: source, Kind: EventSourceInfoChanged, Info: &info}
}

// DeviceEvent builds a device_connected or device_disconnected event.
func DeviceEvent(source SourceType, kind EventKind, device DeviceInfo) Event {
	return Event{Source: source, Kind: kind, Device: &device}
}

// PowerEvent builds a power_changed event. Power events are controller
// events and carry no originating backend.
func PowerEvent(on bool) Event {
	return Event{Source: SourceNone, Kind: EventPowerChanged, PoweredOn: &on}
}

// SourceChangedEvent builds a current_source_changed event.
func SourceChangedEvent(current SourceType) Event {
	return Event{Source: current, Kind: EventCurrentSourceChanged}
}

// SourcesEvent builds an available_sources_changed event.
func SourcesEvent(sources []SourceType) Event {
	return Event{Source: SourceNone, Kind: EventAvailableSourcesChanged, Sources: sources}
}

func (e Event) String() string {
	return fmt.Sprintf("%s/%s", e.Source, e.Kind)
}
