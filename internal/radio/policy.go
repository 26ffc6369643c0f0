package radio

import "github.com/hearthaudio/hearth/pkg/hearth"

// autoswitchTarget decides whether a monitor event should steal the active
// source. It is evaluated for every inbound event, before forwarding, and
// never consults connection state: the event itself is the evidence.
//
// Librespot switches on playback starting because a remote peer can begin a
// cast session with no local selection. Bluetooth switches on a device
// connecting, but deliberately NOT back on disconnect: the UI stays on
// Bluetooth showing a "disconnected, ready to re-pair" state instead of
// silently jumping elsewhere. MPD is explicit-select only.
func autoswitchTarget(ev hearth.Event, current hearth.SourceType) (hearth.SourceType, bool) {
	switch ev.Source {
	case hearth.SourceLibrespot:
		if ev.Kind == hearth.EventPlaybackStateChanged &&
			ev.Playback != nil &&
			ev.Playback.Status == hearth.StatusPlaying &&
			current != hearth.SourceLibrespot {
			return hearth.SourceLibrespot, true
		}
	case hearth.SourceBluetooth:
		if ev.Kind == hearth.EventDeviceConnected && current != hearth.SourceBluetooth {
			return hearth.SourceBluetooth, true
		}
	}
	return hearth.SourceNone, false
}

// shouldForward reports whether an event may be relayed to bus subscribers.
// Only the active source gets to repaint UI state; events from inactive
// backends are dropped.
func shouldForward(ev hearth.Event, active hearth.SourceType) bool {
	return ev.Source == active
}
