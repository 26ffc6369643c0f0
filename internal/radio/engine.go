package radio

import (
	"time"

	"go.uber.org/zap"

	"github.com/hearthaudio/hearth/pkg/hearth"
)

// sourceOrder fixes the scan order for "first connected" decisions.
var sourceOrder = []hearth.SourceType{hearth.SourceMPD, hearth.SourceLibrespot, hearth.SourceBluetooth}

// Config tunes engine behavior.
type Config struct {
	// SettleDelay biases the state broadcast taken after autoplay so the
	// freshly active monitor has a chance to observe the new track. It is
	// a plain sleep, not a synchronization primitive, and guarantees
	// nothing.
	SettleDelay time.Duration
	// VolumeStep is the default step for volume up/down.
	VolumeStep int
	// PairingWindowSeconds bounds the Bluetooth discoverable window opened
	// by re-selecting Bluetooth while no device is connected.
	PairingWindowSeconds int
}

func (c *Config) applyDefaults() {
	if c.SettleDelay <= 0 {
		c.SettleDelay = 300 * time.Millisecond
	}
	if c.VolumeStep <= 0 {
		c.VolumeStep = 5
	}
	if c.PairingWindowSeconds <= 0 {
		c.PairingWindowSeconds = 60
	}
}

// Engine arbitrates between audio backends: it owns the active source and
// the power state, routes commands to the selected backend, applies the
// auto-switch policy to monitor events and forwards events from the active
// source to the bus.
//
// The engine is a hard error-containment boundary: no panic from a backend
// or a bus subscriber escapes a public method; callers read bool/zero
// results instead.
//
// The source and power fields are read and written as whole-value swaps
// with no lock. A command racing a monitor event can observe an in-between
// combination for a few lines of logic, which is acceptable for a
// single-household device. Do not "fix" this with a mutex; serializing the
// two contexts changes observable event ordering.
type Engine struct {
	log      *zap.Logger
	bus      *Bus
	backends map[hearth.SourceType]Backend
	cfg      Config

	current   hearth.SourceType
	previous  hearth.SourceType
	poweredOn bool
}

// NewEngine creates an engine over the given backends. Backends are
// injected fully constructed; the engine connects them in Initialize.
func NewEngine(log *zap.Logger, bus *Bus, backends map[hearth.SourceType]Backend, cfg Config) *Engine {
	if log == nil {
		log = zap.NewNop()
	}
	if bus == nil {
		bus = NewBus(log)
	}
	cfg.applyDefaults()
	return &Engine{
		log:      log,
		bus:      bus,
		backends: backends,
		cfg:      cfg,
		current:  hearth.SourceNone,
		previous: hearth.SourceNone,
	}
}

// Bus exposes the engine's event bus for UI subscribers.
func (e *Engine) Bus() *Bus { return e.bus }

// Initialize connects every backend independently; one backend failing does
// not block another. It always returns true: the engine runs degraded with
// no backends at all. Monitors of connected backends are started and wired
// into HandleMonitorEvent.
func (e *Engine) Initialize() bool {
	for _, source := range sourceOrder {
		backend, ok := e.backends[source]
		if !ok || backend == nil {
			continue
		}
		src := source
		connected := e.guardBool("connect", src, backend.Connect)
		if !connected {
			e.log.Warn("backend unavailable", zap.String("source", src.String()))
			continue
		}
		e.log.Info("backend available", zap.String("source", src.String()))
		monitor := backend.Monitor()
		if monitor != nil {
			monitor.SubscribeAll(func(ev hearth.Event) {
				e.HandleMonitorEvent(ev)
			})
			if !monitor.Running() {
				monitor.Start()
			}
		}
	}
	e.bus.Emit(hearth.ClientChanged, hearth.SourcesEvent(e.AvailableSources()))
	return true
}

// Shutdown stops monitors and disconnects all backends.
func (e *Engine) Shutdown() {
	for _, source := range sourceOrder {
		backend, ok := e.backends[source]
		if !ok || backend == nil {
			continue
		}
		if monitor := backend.Monitor(); monitor != nil && monitor.Running() {
			monitor.Stop()
		}
		e.guard("disconnect", source, backend.Disconnect)
	}
}

// CurrentSource returns the active source.
func (e *Engine) CurrentSource() hearth.SourceType { return e.current }

// PoweredOn reports the power state.
func (e *Engine) PoweredOn() bool { return e.poweredOn }

// AvailableSources lists sources whose backend currently reports connected.
func (e *Engine) AvailableSources() []hearth.SourceType {
	available := []hearth.SourceType{}
	for _, source := range sourceOrder {
		backend, ok := e.backends[source]
		if ok && backend != nil && backend.Connected() {
			available = append(available, source)
		}
	}
	return available
}

// SetSource switches the active source. When powered off it delegates to
// PowerOn, which performs the selection. Switching away from a playing
// source stops it best-effort first.
func (e *Engine) SetSource(source hearth.SourceType) bool {
	if !e.poweredOn {
		e.log.Info("auto-powering on via source selection", zap.String("source", source.String()))
		return e.PowerOn(source)
	}

	if !source.Valid() {
		e.log.Error("invalid source", zap.String("source", source.String()))
		return false
	}

	before := e.current
	if before != hearth.SourceNone && before != source {
		e.stopSource(before)
	}
	e.current = source
	if before != source {
		e.bus.Emit(hearth.ClientChanged, hearth.SourceChangedEvent(source))
	}

	switch source {
	case hearth.SourceBluetooth:
		e.selectBluetooth(before)
	case hearth.SourceMPD, hearth.SourceLibrespot:
		e.selectPlayer(source)
	}
	return true
}

// selectBluetooth applies the Bluetooth post-conditions: confirm when a
// device is attached, otherwise stay selected in a disconnected state, and
// open a pairing window when Bluetooth is re-selected while no device is
// attached. Connected() only says BlueZ is reachable; whether a phone is
// attached is the PairingBackend's DeviceConnected, and the two must not be
// conflated or the pairing window never opens.
func (e *Engine) selectBluetooth(before hearth.SourceType) {
	backend := e.backends[hearth.SourceBluetooth]
	if backend == nil || !backend.Connected() {
		e.log.Warn("source selected but backend not available", zap.String("source", "bluetooth"))
		return
	}
	pairing, ok := backend.(PairingBackend)
	if ok && pairing.DeviceConnected() {
		e.log.Info("active source set", zap.String("source", "bluetooth"))
		return
	}
	if ok && before == hearth.SourceBluetooth {
		e.log.Info("bluetooth re-selected while disconnected, opening pairing window",
			zap.Int("timeout_s", e.cfg.PairingWindowSeconds))
		e.guardBool("enter_pairing", hearth.SourceBluetooth, func() bool {
			return pairing.EnterPairingMode(e.cfg.PairingWindowSeconds)
		})
		return
	}
	e.log.Info("source set, showing disconnected state", zap.String("source", "bluetooth"))
}

// selectPlayer applies the MPD/Librespot post-conditions: warn when the
// backend is down, otherwise start its monitor if idle and auto-play, then
// schedule the settle-delay broadcast.
func (e *Engine) selectPlayer(source hearth.SourceType) {
	backend := e.backends[source]
	if backend == nil || !backend.Connected() {
		e.log.Warn("source selected but backend not connected", zap.String("source", source.String()))
		return
	}
	e.log.Info("active source set", zap.String("source", source.String()))
	if monitor := backend.Monitor(); monitor != nil && !monitor.Running() {
		monitor.Start()
	}
	e.guardBool("play", source, backend.Play)
	e.scheduleBroadcast()
}

// scheduleBroadcast emits a full state broadcast after the settle delay so
// the active monitor has had time to observe the autoplayed track. The
// delay is bias, not synchronization.
func (e *Engine) scheduleBroadcast() {
	go func() {
		time.Sleep(e.cfg.SettleDelay)
		e.BroadcastState()
	}()
}

// BroadcastState emits the active source's playback state and track on the
// bus as forwarded events.
func (e *Engine) BroadcastState() {
	source := e.current
	backend := e.backends[source]
	if source == hearth.SourceNone || backend == nil {
		return
	}
	monitor := backend.Monitor()
	if monitor == nil {
		return
	}
	state := e.guardState("playback_state", source, func() hearth.PlaybackState {
		return monitor.PlaybackState(true)
	})
	e.bus.Emit(hearth.ClientChanged, hearth.PlaybackEvent(source, state))
	var track *hearth.TrackInfo
	e.guard("track_info", source, func() { track = monitor.TrackInfo() })
	if track != nil {
		e.bus.Emit(hearth.ClientChanged, hearth.TrackEvent(source, *track))
	}
}

// stopSource stops playback on a source best-effort; failures are logged
// and ignored. For Bluetooth it also closes an open pairing window.
func (e *Engine) stopSource(source hearth.SourceType) {
	backend := e.backends[source]
	if backend == nil {
		return
	}
	if pairing, ok := backend.(PairingBackend); ok && pairing.PairingMode() {
		e.guardBool("exit_pairing", source, pairing.ExitPairingMode)
	}
	if !backend.Connected() {
		return
	}
	e.log.Info("stopping playback", zap.String("source", source.String()))
	e.guardBool("stop", source, backend.Stop)
}

// activeBackend resolves the adapter for the current source. A nil backend
// or a disconnected one yields ok=false.
func (e *Engine) activeBackend(op string) (Backend, bool) {
	source := e.current
	if source == hearth.SourceNone {
		e.log.Warn("no active source", zap.String("op", op))
		return nil, false
	}
	backend := e.backends[source]
	if backend == nil {
		e.log.Warn("no backend for active source", zap.String("op", op), zap.String("source", source.String()))
		return nil, false
	}
	if !backend.Connected() {
		e.log.Warn("active source not connected", zap.String("op", op), zap.String("source", source.String()))
		return nil, false
	}
	return backend, true
}

// Play starts playback on the active source.
func (e *Engine) Play() bool {
	backend, ok := e.activeBackend("play")
	if !ok {
		return false
	}
	return e.guardBool("play", e.current, backend.Play)
}

// Pause pauses playback on the active source.
func (e *Engine) Pause() bool {
	backend, ok := e.activeBackend("pause")
	if !ok {
		return false
	}
	return e.guardBool("pause", e.current, backend.Pause)
}

// Stop stops playback on the active source.
func (e *Engine) Stop() bool {
	backend, ok := e.activeBackend("stop")
	if !ok {
		return false
	}
	return e.guardBool("stop", e.current, backend.Stop)
}

// PlayPause toggles play/pause on the active source.
func (e *Engine) PlayPause() bool {
	backend, ok := e.activeBackend("playpause")
	if !ok {
		return false
	}
	return e.guardBool("playpause", e.current, backend.PlayPause)
}

// Next skips to the next track on the active source.
func (e *Engine) Next() bool {
	backend, ok := e.activeBackend("next")
	if !ok {
		return false
	}
	return e.guardBool("next", e.current, backend.Next)
}

// Previous skips to the previous track on the active source.
func (e *Engine) Previous() bool {
	backend, ok := e.activeBackend("previous")
	if !ok {
		return false
	}
	return e.guardBool("previous", e.current, backend.Previous)
}

// Volume reads the active source's volume; ok=false when no source is
// active or the backend cannot report one (a normal outcome on Bluetooth).
func (e *Engine) Volume() (int, bool) {
	backend, ok := e.activeBackend("volume")
	if !ok {
		return 0, false
	}
	return e.guardVolume("volume", e.current, backend.Volume)
}

// SetVolume sets an absolute volume on the active source. Out-of-range
// values are rejected before any backend call.
func (e *Engine) SetVolume(volume int) bool {
	if volume < 0 || volume > 100 {
		e.log.Error("invalid volume", zap.Int("volume", volume))
		return false
	}
	backend, ok := e.activeBackend("set_volume")
	if !ok {
		return false
	}
	return e.guardBool("set_volume", e.current, func() bool { return backend.SetVolume(volume) })
}

// VolumeUp raises the volume by step (default when step <= 0).
func (e *Engine) VolumeUp(step int) (int, bool) {
	if step <= 0 {
		step = e.cfg.VolumeStep
	}
	backend, ok := e.activeBackend("volume_up")
	if !ok {
		return 0, false
	}
	return e.guardVolume("volume_up", e.current, func() (int, bool) { return backend.VolumeUp(step) })
}

// VolumeDown lowers the volume by step (default when step <= 0).
func (e *Engine) VolumeDown(step int) (int, bool) {
	if step <= 0 {
		step = e.cfg.VolumeStep
	}
	backend, ok := e.activeBackend("volume_down")
	if !ok {
		return 0, false
	}
	return e.guardVolume("volume_down", e.current, func() (int, bool) { return backend.VolumeDown(step) })
}

// PowerOn powers the controller on. Source selection priority: explicit
// trigger, then the source active before the last power-off, then the first
// connected backend. Power-on succeeds even when no source can be chosen;
// the controller then runs headless until something connects. A
// power_changed(true) event fires on every off-to-on transition.
func (e *Engine) PowerOn(trigger hearth.SourceType) bool {
	if e.poweredOn {
		e.log.Info("already powered on")
		return true
	}
	e.poweredOn = true
	e.log.Info("powering on")

	chosen := hearth.SourceNone
	switch {
	case trigger != hearth.SourceNone && trigger.Valid():
		chosen = trigger
	case e.previous != hearth.SourceNone:
		chosen = e.previous
		e.log.Info("restoring previous source", zap.String("source", chosen.String()))
	default:
		if available := e.AvailableSources(); len(available) > 0 {
			chosen = available[0]
			e.log.Info("selecting first available source", zap.String("source", chosen.String()))
		}
	}

	if chosen != hearth.SourceNone {
		e.SetSource(chosen)
		// Deliberate second Play after SetSource's autoplay: selection may
		// have landed on a source whose post-conditions do not autoplay
		// (Bluetooth), and for MPD/Librespot the repeat is idempotent.
		if backend, ok := e.activeBackend("power_on_play"); ok {
			e.guardBool("play", e.current, backend.Play)
		}
	} else {
		e.log.Warn("no sources available, powering on headless")
	}

	e.bus.Emit(hearth.ClientChanged, hearth.PowerEvent(true))
	return true
}

// PowerOff saves the active source for the next power-on, defensively stops
// every backend (not just the active one, in case more than one believes it
// is live) and clears the selection.
func (e *Engine) PowerOff() bool {
	if !e.poweredOn {
		e.log.Info("already powered off")
		return true
	}
	e.log.Info("powering off")

	if e.current != hearth.SourceNone {
		e.previous = e.current
		e.log.Info("saving current source", zap.String("source", e.previous.String()))
	}

	for _, source := range sourceOrder {
		e.stopSource(source)
	}

	e.current = hearth.SourceNone
	e.poweredOn = false
	e.bus.Emit(hearth.ClientChanged, hearth.PowerEvent(false))
	return true
}

// Power toggles the power state.
func (e *Engine) Power() bool {
	if e.poweredOn {
		return e.PowerOff()
	}
	return e.PowerOn(hearth.SourceNone)
}

// PlaybackState reads the active source's playback state, or a stopped
// placeholder when nothing is active or connected.
func (e *Engine) PlaybackState() hearth.PlaybackState {
	backend, ok := e.activeBackend("playback_state")
	if !ok {
		return hearth.PlaybackState{Status: hearth.StatusStopped}
	}
	monitor := backend.Monitor()
	if monitor == nil {
		return hearth.PlaybackState{Status: hearth.StatusStopped}
	}
	return e.guardState("playback_state", e.current, func() hearth.PlaybackState {
		return monitor.PlaybackState(false)
	})
}

// TrackInfo reads the active source's track, or nil when nothing is active,
// connected, or playing anything.
func (e *Engine) TrackInfo() *hearth.TrackInfo {
	backend, ok := e.activeBackend("track_info")
	if !ok {
		return nil
	}
	monitor := backend.Monitor()
	if monitor == nil {
		return nil
	}
	var track *hearth.TrackInfo
	e.guard("track_info", e.current, func() { track = monitor.TrackInfo() })
	return track
}

// SourceInfo reads the active source's device info, or an empty placeholder
// tagged with the current source.
func (e *Engine) SourceInfo() hearth.SourceInfo {
	backend, ok := e.activeBackend("source_info")
	if !ok {
		return hearth.SourceInfo{Source: e.current}
	}
	monitor := backend.Monitor()
	if monitor == nil {
		return hearth.SourceInfo{Source: e.current}
	}
	info := hearth.SourceInfo{Source: e.current}
	e.guard("source_info", e.current, func() { info = monitor.SourceInfo() })
	return info
}

// Snapshot assembles the full controller state for the state topic and
// status queries.
func (e *Engine) Snapshot() hearth.StatusSnapshot {
	return hearth.StatusSnapshot{
		PoweredOn:        e.poweredOn,
		CurrentSource:    e.current,
		PreviousSource:   e.previous,
		AvailableSources: e.AvailableSources(),
		Playback:         e.PlaybackState(),
		Track:            e.TrackInfo(),
		SourceInfo:       e.SourceInfo(),
		TS:               time.Now().Unix(),
	}
}

// MenuOptions asks the active source for its contextual menu. Sources
// without a menu capability report has_menu=false.
func (e *Engine) MenuOptions() hearth.MenuOptions {
	none := hearth.MenuOptions{HasMenu: false, Options: []hearth.MenuOption{}}
	if e.current == hearth.SourceNone {
		none.Message = "no active source selected"
		return none
	}
	backend := e.backends[e.current]
	if backend == nil || !backend.Capabilities().HasMenu {
		none.Message = "no menu available for this source"
		return none
	}
	if !backend.Connected() {
		none.Message = "source not connected"
		return none
	}
	options := none
	e.guard("menu_options", e.current, func() { options = backend.MenuOptions() })
	return options
}

// ExecuteMenuAction runs a menu action on the active source.
func (e *Engine) ExecuteMenuAction(action, optionID string) hearth.MenuActionResult {
	if e.current == hearth.SourceNone {
		return hearth.MenuActionResult{Success: false, Err: "no active source selected"}
	}
	backend := e.backends[e.current]
	if backend == nil || !backend.Capabilities().HasMenu {
		return hearth.MenuActionResult{Success: false, Err: "menu actions not supported for this source"}
	}
	if !backend.Connected() {
		return hearth.MenuActionResult{Success: false, Err: "source not connected"}
	}
	result := hearth.MenuActionResult{Success: false, Err: "backend operation failed"}
	e.guard("menu_action", e.current, func() { result = backend.ExecuteMenuAction(action, optionID) })
	return result
}

// HandleMonitorEvent is the single entry point for backend monitor events.
// Two phases run in fixed order on every event: the auto-switch policy
// first, then forwarding against the possibly-just-updated active source.
// Reversing or merging them produces one tick of stale-source UI flicker.
func (e *Engine) HandleMonitorEvent(ev hearth.Event) {
	if target, ok := autoswitchTarget(ev, e.current); ok {
		e.log.Info("auto-switching source",
			zap.String("from", e.current.String()),
			zap.String("to", target.String()),
			zap.String("trigger", string(ev.Kind)))
		e.SetSource(target)
	}

	if shouldForward(ev, e.current) {
		e.bus.Emit(hearth.ClientChanged, ev)
		return
	}
	e.log.Debug("discarding event from inactive source",
		zap.String("source", ev.Source.String()),
		zap.String("kind", string(ev.Kind)),
		zap.String("active", e.current.String()))
}

// guard runs fn and contains any panic from the backend.
func (e *Engine) guard(op string, source hearth.SourceType, fn func()) {
	defer e.recoverOp(op, source)
	fn()
}

// guardBool is guard for bool-returning backend calls; a panic yields false.
func (e *Engine) guardBool(op string, source hearth.SourceType, fn func() bool) (result bool) {
	defer e.recoverOp(op, source)
	return fn()
}

// guardVolume is guard for volume calls; a panic yields (0, false).
func (e *Engine) guardVolume(op string, source hearth.SourceType, fn func() (int, bool)) (volume int, ok bool) {
	defer e.recoverOp(op, source)
	return fn()
}

// guardState is guard for playback-state reads; a panic yields unknown.
func (e *Engine) guardState(op string, source hearth.SourceType, fn func() hearth.PlaybackState) (state hearth.PlaybackState) {
	state = hearth.PlaybackState{Status: hearth.StatusUnknown}
	defer e.recoverOp(op, source)
	return fn()
}

func (e *Engine) recoverOp(op string, source hearth.SourceType) {
	if r := recover(); r != nil {
		e.log.Error("backend operation failed",
			zap.String("op", op),
			zap.String("source", source.String()),
			zap.Any("panic", r))
	}
}
