package radio

import (
	"testing"
	"time"

	"github.com/hearthaudio/hearth/pkg/hearth"
)

type fakeMonitor struct {
	running  bool
	state    hearth.PlaybackState
	track    *hearth.TrackInfo
	info     hearth.SourceInfo
	handlers []EventHandler
}

func (m *fakeMonitor) PlaybackState(forceRefresh bool) hearth.PlaybackState { return m.state }
func (m *fakeMonitor) TrackInfo() *hearth.TrackInfo                         { return m.track }
func (m *fakeMonitor) SourceInfo() hearth.SourceInfo                        { return m.info }
func (m *fakeMonitor) Subscribe(kind hearth.EventKind, handler EventHandler) {
	m.handlers = append(m.handlers, handler)
}
func (m *fakeMonitor) SubscribeAll(handler EventHandler) {
	m.handlers = append(m.handlers, handler)
}
func (m *fakeMonitor) Start()        { m.running = true }
func (m *fakeMonitor) Stop()         { m.running = false }
func (m *fakeMonitor) Running() bool { return m.running }

type fakeBackend struct {
	connected bool
	caps      Capabilities
	monitor   *fakeMonitor
	volume    int

	playCalls      int
	stopCalls      int
	setVolumeCalls int

	panicOnPlay bool

	deviceAttached bool
	pairing        bool
	pairingCalls   int

	menu hearth.MenuOptions
}

func newFakeBackend(connected bool) *fakeBackend {
	return &fakeBackend{
		connected:      connected,
		deviceAttached: connected,
		caps:           Capabilities{SupportsAbsoluteVolume: true},
		monitor:        &fakeMonitor{state: hearth.PlaybackState{Status: hearth.StatusStopped}},
		volume:         50,
	}
}

func (b *fakeBackend) Connect() bool   { return b.connected }
func (b *fakeBackend) Disconnect()     { b.connected = false }
func (b *fakeBackend) Connected() bool { return b.connected }

func (b *fakeBackend) Play() bool {
	if b.panicOnPlay {
		panic("driver exploded")
	}
	b.playCalls++
	return true
}
func (b *fakeBackend) Pause() bool { return true }
func (b *fakeBackend) Stop() bool {
	b.stopCalls++
	return true
}
func (b *fakeBackend) PlayPause() bool { return true }
func (b *fakeBackend) Next() bool      { return true }
func (b *fakeBackend) Previous() bool  { return true }

func (b *fakeBackend) Volume() (int, bool) { return b.volume, true }
func (b *fakeBackend) SetVolume(volume int) bool {
	b.setVolumeCalls++
	b.volume = volume
	return true
}
func (b *fakeBackend) VolumeUp(step int) (int, bool) {
	b.volume += step
	if b.volume > 100 {
		b.volume = 100
	}
	return b.volume, true
}
func (b *fakeBackend) VolumeDown(step int) (int, bool) {
	b.volume -= step
	if b.volume < 0 {
		b.volume = 0
	}
	return b.volume, true
}

func (b *fakeBackend) Capabilities() Capabilities { return b.caps }
func (b *fakeBackend) Monitor() Monitor           { return b.monitor }

func (b *fakeBackend) MenuOptions() hearth.MenuOptions { return b.menu }
func (b *fakeBackend) ExecuteMenuAction(action, optionID string) hearth.MenuActionResult {
	return hearth.MenuActionResult{Success: true, Message: action + ":" + optionID}
}

func (b *fakeBackend) DeviceConnected() bool { return b.deviceAttached }
func (b *fakeBackend) EnterPairingMode(timeoutSeconds int) bool {
	b.pairing = true
	b.pairingCalls++
	return true
}
func (b *fakeBackend) ExitPairingMode() bool {
	b.pairing = false
	return true
}
func (b *fakeBackend) PairingMode() bool { return b.pairing }

type testRig struct {
	engine *Engine
	mpd    *fakeBackend
	spot   *fakeBackend
	bt     *fakeBackend
}

// newTestRig builds an engine over three connected fakes. The settle delay
// is pushed out of reach so broadcasts never interleave with assertions.
func newTestRig(t *testing.T) *testRig {
	t.Helper()
	rig := &testRig{
		mpd:  newFakeBackend(true),
		spot: newFakeBackend(true),
		bt:   newFakeBackend(true),
	}
	rig.mpd.caps = Capabilities{HasMenu: true, SupportsAbsoluteVolume: true}
	backends := map[hearth.SourceType]Backend{
		hearth.SourceMPD:       rig.mpd,
		hearth.SourceLibrespot: rig.spot,
		hearth.SourceBluetooth: rig.bt,
	}
	rig.engine = NewEngine(nil, NewBus(nil), backends, Config{SettleDelay: time.Hour})
	return rig
}

// countKinds subscribes a spy and returns a live tally of event kinds seen
// on the canonical bus event.
func countKinds(e *Engine) map[hearth.EventKind]int {
	seen := map[hearth.EventKind]int{}
	e.Bus().Subscribe(hearth.ClientChanged, func(name string, ev hearth.Event) {
		seen[ev.Kind]++
	})
	return seen
}

func TestPowerOnIsIdempotent(t *testing.T) {
	rig := newTestRig(t)
	seen := countKinds(rig.engine)

	if !rig.engine.PowerOn(hearth.SourceMPD) {
		t.Fatalf("first power_on failed")
	}
	current := rig.engine.CurrentSource()

	if !rig.engine.PowerOn(hearth.SourceLibrespot) {
		t.Fatalf("second power_on failed")
	}
	if rig.engine.CurrentSource() != current {
		t.Fatalf("second power_on changed source to %s", rig.engine.CurrentSource())
	}
	if !rig.engine.PoweredOn() {
		t.Fatalf("expected powered on")
	}
	if seen[hearth.EventPowerChanged] != 1 {
		t.Fatalf("expected 1 power_changed, got %d", seen[hearth.EventPowerChanged])
	}
}

func TestPowerOnTriggerPriority(t *testing.T) {
	rig := newTestRig(t)

	// Explicit trigger wins.
	rig.engine.PowerOn(hearth.SourceLibrespot)
	if rig.engine.CurrentSource() != hearth.SourceLibrespot {
		t.Fatalf("trigger ignored, current %s", rig.engine.CurrentSource())
	}

	// Previous source wins over first-available.
	rig.engine.PowerOff()
	rig.engine.PowerOn(hearth.SourceNone)
	if rig.engine.CurrentSource() != hearth.SourceLibrespot {
		t.Fatalf("previous source not restored, current %s", rig.engine.CurrentSource())
	}

	// No trigger, no previous: first connected backend in scan order.
	fresh := newTestRig(t)
	fresh.engine.PowerOn(hearth.SourceNone)
	if fresh.engine.CurrentSource() != hearth.SourceMPD {
		t.Fatalf("expected mpd as first available, got %s", fresh.engine.CurrentSource())
	}
}

func TestPowerOnHeadlessWithNoBackends(t *testing.T) {
	engine := NewEngine(nil, NewBus(nil), map[hearth.SourceType]Backend{}, Config{SettleDelay: time.Hour})
	seen := countKinds(engine)

	if !engine.PowerOn(hearth.SourceNone) {
		t.Fatalf("headless power_on must succeed")
	}
	if engine.CurrentSource() != hearth.SourceNone {
		t.Fatalf("expected no source, got %s", engine.CurrentSource())
	}
	if seen[hearth.EventPowerChanged] != 1 {
		t.Fatalf("power_changed must fire even headless, got %d", seen[hearth.EventPowerChanged])
	}
}

func TestPowerOffStopsAllAndSavesPrevious(t *testing.T) {
	rig := newTestRig(t)
	rig.engine.PowerOn(hearth.SourceMPD)

	if !rig.engine.PowerOff() {
		t.Fatalf("power_off failed")
	}
	if rig.engine.PoweredOn() {
		t.Fatalf("still powered on")
	}
	if rig.engine.CurrentSource() != hearth.SourceNone {
		t.Fatalf("current source not cleared: %s", rig.engine.CurrentSource())
	}
	// All backends are stopped defensively, not just the active one.
	if rig.mpd.stopCalls == 0 || rig.spot.stopCalls == 0 || rig.bt.stopCalls == 0 {
		t.Fatalf("expected every backend stopped: mpd=%d spot=%d bt=%d",
			rig.mpd.stopCalls, rig.spot.stopCalls, rig.bt.stopCalls)
	}

	rig.engine.PowerOn(hearth.SourceNone)
	if rig.engine.CurrentSource() != hearth.SourceMPD {
		t.Fatalf("previous source not restored, got %s", rig.engine.CurrentSource())
	}
}

func TestSetSourceRoundtripAndValidation(t *testing.T) {
	rig := newTestRig(t)
	rig.engine.PowerOn(hearth.SourceMPD)

	if !rig.engine.SetSource(hearth.SourceLibrespot) {
		t.Fatalf("set_source failed")
	}
	if rig.engine.CurrentSource() != hearth.SourceLibrespot {
		t.Fatalf("get after set: %s", rig.engine.CurrentSource())
	}
	if rig.mpd.stopCalls == 0 {
		t.Fatalf("previous source was not stopped")
	}

	if rig.engine.SetSource(hearth.SourceType("cassette")) {
		t.Fatalf("invalid source accepted")
	}
	if rig.engine.CurrentSource() != hearth.SourceLibrespot {
		t.Fatalf("invalid set changed state to %s", rig.engine.CurrentSource())
	}
}

func TestSetSourceWhilePoweredOffPowersOn(t *testing.T) {
	rig := newTestRig(t)
	seen := countKinds(rig.engine)

	if !rig.engine.SetSource(hearth.SourceMPD) {
		t.Fatalf("set_source failed")
	}
	if !rig.engine.PoweredOn() {
		t.Fatalf("expected implicit power on")
	}
	if rig.engine.CurrentSource() != hearth.SourceMPD {
		t.Fatalf("current %s", rig.engine.CurrentSource())
	}
	if seen[hearth.EventPowerChanged] != 1 {
		t.Fatalf("expected power_changed, got %d", seen[hearth.EventPowerChanged])
	}
}

func TestBluetoothReselectOpensPairingWindow(t *testing.T) {
	rig := newTestRig(t)
	// BlueZ is up, no phone is attached. The reachable subsystem must not
	// mask the absent device or the window never opens.
	rig.bt.deviceAttached = false
	rig.engine.PowerOn(hearth.SourceMPD)

	// First selection while no device is attached: no pairing window yet.
	rig.engine.SetSource(hearth.SourceBluetooth)
	if rig.bt.pairingCalls != 0 {
		t.Fatalf("first select opened pairing window")
	}

	// Re-selecting while still unattached opens the window.
	rig.engine.SetSource(hearth.SourceBluetooth)
	if rig.bt.pairingCalls != 1 {
		t.Fatalf("expected pairing window, got %d calls", rig.bt.pairingCalls)
	}

	// Re-select with a phone attached does not.
	rig.bt.deviceAttached = true
	rig.engine.SetSource(hearth.SourceBluetooth)
	if rig.bt.pairingCalls != 1 {
		t.Fatalf("attached re-select opened pairing window")
	}
}

func TestBluetoothUnreachableBackendNeverPairs(t *testing.T) {
	rig := newTestRig(t)
	// BlueZ itself is down: selection warns, no pairing attempt is made.
	rig.bt.connected = false
	rig.bt.deviceAttached = false
	rig.engine.PowerOn(hearth.SourceMPD)

	rig.engine.SetSource(hearth.SourceBluetooth)
	rig.engine.SetSource(hearth.SourceBluetooth)
	if rig.bt.pairingCalls != 0 {
		t.Fatalf("pairing window opened with bluez unreachable, got %d calls", rig.bt.pairingCalls)
	}
}

func TestVolumeRangeRejectedBeforeBackend(t *testing.T) {
	rig := newTestRig(t)
	rig.engine.PowerOn(hearth.SourceMPD)

	for _, v := range []int{-1, 101} {
		if rig.engine.SetVolume(v) {
			t.Fatalf("volume %d accepted", v)
		}
	}
	if rig.mpd.setVolumeCalls != 0 {
		t.Fatalf("backend called %d times for invalid volume", rig.mpd.setVolumeCalls)
	}

	if !rig.engine.SetVolume(0) || !rig.engine.SetVolume(100) {
		t.Fatalf("boundary volumes rejected")
	}
	if rig.mpd.setVolumeCalls != 2 {
		t.Fatalf("expected 2 backend calls, got %d", rig.mpd.setVolumeCalls)
	}
}

func TestVolumeStepsUseDefault(t *testing.T) {
	rig := newTestRig(t)
	rig.engine.PowerOn(hearth.SourceMPD)
	rig.mpd.volume = 50

	if v, ok := rig.engine.VolumeUp(0); !ok || v != 55 {
		t.Fatalf("volume up default step: %d ok=%v", v, ok)
	}
	if v, ok := rig.engine.VolumeDown(10); !ok || v != 45 {
		t.Fatalf("volume down: %d ok=%v", v, ok)
	}
}

func TestCommandsWithNoActiveSourceFail(t *testing.T) {
	rig := newTestRig(t)

	if rig.engine.Play() || rig.engine.Pause() || rig.engine.Stop() {
		t.Fatalf("transport command succeeded with no source")
	}
	if _, ok := rig.engine.Volume(); ok {
		t.Fatalf("volume read succeeded with no source")
	}
	state := rig.engine.PlaybackState()
	if state.Status != hearth.StatusStopped {
		t.Fatalf("expected stopped placeholder, got %s", state.Status)
	}
	if rig.engine.TrackInfo() != nil {
		t.Fatalf("expected nil track")
	}
}

func TestLibrespotAutoSwitch(t *testing.T) {
	rig := newTestRig(t)
	rig.engine.PowerOn(hearth.SourceMPD)
	seen := countKinds(rig.engine)

	ev := hearth.PlaybackEvent(hearth.SourceLibrespot, hearth.PlaybackState{Status: hearth.StatusPlaying})
	rig.engine.HandleMonitorEvent(ev)

	if rig.engine.CurrentSource() != hearth.SourceLibrespot {
		t.Fatalf("expected auto-switch to librespot, got %s", rig.engine.CurrentSource())
	}
	if seen[hearth.EventCurrentSourceChanged] != 1 {
		t.Fatalf("expected exactly one current_source_changed, got %d", seen[hearth.EventCurrentSourceChanged])
	}
	// The triggering event is forwarded because librespot is now active.
	if seen[hearth.EventPlaybackStateChanged] != 1 {
		t.Fatalf("triggering event not forwarded, got %d", seen[hearth.EventPlaybackStateChanged])
	}

	// A second playing event while already active changes nothing.
	rig.engine.HandleMonitorEvent(ev)
	if seen[hearth.EventCurrentSourceChanged] != 1 {
		t.Fatalf("duplicate switch emitted, got %d", seen[hearth.EventCurrentSourceChanged])
	}
}

func TestBluetoothConnectSwitchesDisconnectDoesNot(t *testing.T) {
	rig := newTestRig(t)
	rig.engine.PowerOn(hearth.SourceMPD)

	connected := hearth.DeviceEvent(hearth.SourceBluetooth, hearth.EventDeviceConnected, hearth.DeviceInfo{Name: "phone", MAC: "AA:BB"})
	rig.engine.HandleMonitorEvent(connected)
	if rig.engine.CurrentSource() != hearth.SourceBluetooth {
		t.Fatalf("device_connected did not switch, current %s", rig.engine.CurrentSource())
	}

	disconnected := hearth.DeviceEvent(hearth.SourceBluetooth, hearth.EventDeviceDisconnected, hearth.DeviceInfo{Name: "phone", MAC: "AA:BB"})
	seen := countKinds(rig.engine)
	rig.engine.HandleMonitorEvent(disconnected)
	if rig.engine.CurrentSource() != hearth.SourceBluetooth {
		t.Fatalf("device_disconnected switched away to %s", rig.engine.CurrentSource())
	}
	// Disconnect from the active source still reaches subscribers.
	if seen[hearth.EventDeviceDisconnected] != 1 {
		t.Fatalf("disconnect not forwarded, got %d", seen[hearth.EventDeviceDisconnected])
	}
}

func TestForwardingFiltersInactiveSources(t *testing.T) {
	rig := newTestRig(t)
	rig.engine.PowerOn(hearth.SourceMPD)
	seen := countKinds(rig.engine)

	// Track events from an inactive source never auto-switch, so they must
	// be dropped outright.
	rig.engine.HandleMonitorEvent(hearth.TrackEvent(hearth.SourceLibrespot, hearth.TrackInfo{Title: "x"}))
	rig.engine.HandleMonitorEvent(hearth.TrackEvent(hearth.SourceMPD, hearth.TrackInfo{Title: "y"}))

	if seen[hearth.EventTrackChanged] != 1 {
		t.Fatalf("expected only the active source's track event, got %d", seen[hearth.EventTrackChanged])
	}
}

func TestPanickingBackendIsContained(t *testing.T) {
	rig := newTestRig(t)
	rig.engine.PowerOn(hearth.SourceMPD)
	rig.mpd.panicOnPlay = true

	if rig.engine.Play() {
		t.Fatalf("panicking play reported success")
	}
	// Engine stays usable afterwards.
	if !rig.engine.Pause() {
		t.Fatalf("engine unusable after contained panic")
	}
}

func TestMenuGatedByCapability(t *testing.T) {
	rig := newTestRig(t)
	rig.mpd.menu = hearth.MenuOptions{
		HasMenu:  true,
		MenuType: "playlists",
		Options:  []hearth.MenuOption{{ID: "jazz", Label: "Jazz", Type: "playlist", Action: "play_playlist"}},
	}
	rig.engine.PowerOn(hearth.SourceMPD)

	menu := rig.engine.MenuOptions()
	if !menu.HasMenu || len(menu.Options) != 1 {
		t.Fatalf("expected mpd menu, got %+v", menu)
	}
	result := rig.engine.ExecuteMenuAction("play_playlist", "jazz")
	if !result.Success {
		t.Fatalf("menu action failed: %s", result.Err)
	}

	// Librespot declares no menu capability; the backend is never asked.
	rig.engine.SetSource(hearth.SourceLibrespot)
	menu = rig.engine.MenuOptions()
	if menu.HasMenu {
		t.Fatalf("librespot reported a menu")
	}
	if r := rig.engine.ExecuteMenuAction("play_playlist", "jazz"); r.Success {
		t.Fatalf("menu action succeeded on menuless source")
	}
}

func TestInitializeAndAvailableSources(t *testing.T) {
	rig := newTestRig(t)
	rig.spot.connected = false

	if !rig.engine.Initialize() {
		t.Fatalf("initialize failed")
	}
	available := rig.engine.AvailableSources()
	if len(available) != 2 || available[0] != hearth.SourceMPD || available[1] != hearth.SourceBluetooth {
		t.Fatalf("unexpected available sources %v", available)
	}
	// Connected backends have running monitors wired to the engine.
	if !rig.mpd.monitor.Running() || len(rig.mpd.monitor.handlers) == 0 {
		t.Fatalf("mpd monitor not started and wired")
	}
	if rig.spot.monitor.Running() {
		t.Fatalf("disconnected backend's monitor started")
	}
}

func TestSnapshot(t *testing.T) {
	rig := newTestRig(t)
	rig.mpd.monitor.state = hearth.PlaybackState{Status: hearth.StatusPlaying, Volume: hearth.VolumeOf(70)}
	rig.mpd.monitor.track = &hearth.TrackInfo{Title: "Song", Artist: "Band", DurationMS: 200000}
	rig.engine.PowerOn(hearth.SourceMPD)

	snap := rig.engine.Snapshot()
	if !snap.PoweredOn || snap.CurrentSource != hearth.SourceMPD {
		t.Fatalf("snapshot state %+v", snap)
	}
	if snap.Playback.Status != hearth.StatusPlaying {
		t.Fatalf("snapshot playback %+v", snap.Playback)
	}
	if snap.Track == nil || snap.Track.Title != "Song" {
		t.Fatalf("snapshot track %+v", snap.Track)
	}
	if len(snap.AvailableSources) != 3 {
		t.Fatalf("available sources %v", snap.AvailableSources)
	}
}

// Full day-in-the-life pass: power on to MPD, cast steals the source,
// a phone connects, then power off and back on restores bluetooth.
func TestEndToEndScenario(t *testing.T) {
	rig := newTestRig(t)
	rig.engine.Initialize()
	rig.engine.PowerOn(hearth.SourceMPD)

	rig.engine.HandleMonitorEvent(hearth.PlaybackEvent(hearth.SourceLibrespot, hearth.PlaybackState{Status: hearth.StatusPlaying}))
	if rig.engine.CurrentSource() != hearth.SourceLibrespot {
		t.Fatalf("cast did not steal source")
	}

	rig.engine.HandleMonitorEvent(hearth.DeviceEvent(hearth.SourceBluetooth, hearth.EventDeviceConnected, hearth.DeviceInfo{Name: "phone"}))
	if rig.engine.CurrentSource() != hearth.SourceBluetooth {
		t.Fatalf("phone did not steal source")
	}

	rig.engine.PowerOff()
	rig.engine.PowerOn(hearth.SourceNone)
	if rig.engine.CurrentSource() != hearth.SourceBluetooth {
		t.Fatalf("power cycle lost the source, got %s", rig.engine.CurrentSource())
	}
}
