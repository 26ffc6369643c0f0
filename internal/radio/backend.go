package radio

import "github.com/hearthaudio/hearth/pkg/hearth"

// Capabilities declares what a backend supports, so callers query instead
// of probing. Bluetooth peers frequently reject absolute volume (AVRCP is
// 0-127 and many phones ignore writes), which is why it is a capability and
// not an error.
type Capabilities struct {
	HasMenu                bool
	SupportsAbsoluteVolume bool
}

// EventHandler receives monitor events.
type EventHandler func(ev hearth.Event)

// Monitor is the read/observe half of a backend: fresh status, track and
// device snapshots plus event subscription. Implementations own their
// polling or listening loop; Start and Stop control it.
type Monitor interface {
	PlaybackState(forceRefresh bool) hearth.PlaybackState
	TrackInfo() *hearth.TrackInfo
	SourceInfo() hearth.SourceInfo
	Subscribe(kind hearth.EventKind, handler EventHandler)
	SubscribeAll(handler EventHandler)
	Start()
	Stop()
	Running() bool
}

// Backend is the contract every audio source satisfies. Control methods
// return false on failure; volume reads return ok=false when the backend
// cannot report one. Implementations apply their own timeouts; the engine
// never cancels a call.
type Backend interface {
	Connect() bool
	Disconnect()
	Connected() bool

	Play() bool
	Pause() bool
	Stop() bool
	PlayPause() bool
	Next() bool
	Previous() bool

	Volume() (int, bool)
	SetVolume(volume int) bool
	VolumeUp(step int) (int, bool)
	VolumeDown(step int) (int, bool)

	Capabilities() Capabilities
	Monitor() Monitor

	MenuOptions() hearth.MenuOptions
	ExecuteMenuAction(action, optionID string) hearth.MenuActionResult
}

// PairingBackend is implemented by backends that distinguish "subsystem
// reachable" (Connected) from "a peer is attached" (DeviceConnected) and can
// open a time-boxed discoverable window for new peers. Only Bluetooth does
// today.
type PairingBackend interface {
	DeviceConnected() bool
	EnterPairingMode(timeoutSeconds int) bool
	ExitPairingMode() bool
	PairingMode() bool
}

// NoMenu is embedded by backends without a contextual menu.
type NoMenu struct{}

// MenuOptions reports that no menu is available.
func (NoMenu) MenuOptions() hearth.MenuOptions {
	return hearth.MenuOptions{HasMenu: false, Options: []hearth.MenuOption{}, Message: "no menu available for this source"}
}

// ExecuteMenuAction rejects all actions.
func (NoMenu) ExecuteMenuAction(action, optionID string) hearth.MenuActionResult {
	return hearth.MenuActionResult{Success: false, Err: "menu actions not supported for this source"}
}
