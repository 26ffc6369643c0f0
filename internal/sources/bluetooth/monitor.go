package bluetooth

import (
	"sync"

	"github.com/godbus/dbus/v5"
	"go.uber.org/zap"

	"github.com/hearthaudio/hearth/internal/radio"
	"github.com/hearthaudio/hearth/internal/sources"
	"github.com/hearthaudio/hearth/pkg/hearth"
)

// monitor listens for BlueZ PropertiesChanged signals and translates them
// into backend events: device connect/disconnect, AVRCP status and track
// changes, and transport volume moves.
type monitor struct {
	backend *Backend
	emitter *sources.Emitter
	log     *zap.Logger

	mu      sync.Mutex
	running bool
	stop    chan struct{}
	signals chan *dbus.Signal
	state   hearth.PlaybackState
	track   *hearth.TrackInfo
}

func newMonitor(backend *Backend) *monitor {
	return &monitor{
		backend: backend,
		emitter: sources.NewEmitter(backend.log),
		log:     backend.log,
		state:   hearth.PlaybackState{Status: hearth.StatusStopped},
	}
}

// PlaybackState returns the last observed player state, refreshing the
// AVRCP status property when asked.
func (m *monitor) PlaybackState(forceRefresh bool) hearth.PlaybackState {
	if forceRefresh {
		m.refreshStatus()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// TrackInfo returns the last observed AVRCP track.
func (m *monitor) TrackInfo() *hearth.TrackInfo {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.track == nil {
		return nil
	}
	track := *m.track
	return &track
}

// SourceInfo identifies the connected phone, if any.
func (m *monitor) SourceInfo() hearth.SourceInfo {
	info := hearth.SourceInfo{Source: hearth.SourceBluetooth}
	if p := m.backend.currentPeer(); p != nil {
		info.DeviceName = p.name
		info.DeviceMAC = p.mac
		info.Path = string(p.path)
	}
	return info
}

func (m *monitor) Subscribe(kind hearth.EventKind, handler radio.EventHandler) {
	m.emitter.Subscribe(kind, handler)
}

func (m *monitor) SubscribeAll(handler radio.EventHandler) {
	m.emitter.SubscribeAll(handler)
}

// Start subscribes to BlueZ property signals and begins dispatching.
func (m *monitor) Start() {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return
	}
	m.running = true
	m.stop = make(chan struct{})
	m.signals = make(chan *dbus.Signal, 32)
	stop := m.stop
	signals := m.signals
	m.mu.Unlock()

	m.backend.mu.Lock()
	conn := m.backend.bus
	m.backend.mu.Unlock()
	if conn == nil {
		m.log.Warn("monitor started without a bus connection")
		return
	}

	if err := conn.AddMatchSignal(
		dbus.WithMatchInterface(propsIface),
		dbus.WithMatchMember("PropertiesChanged"),
		dbus.WithMatchPathNamespace("/org/bluez"),
	); err != nil {
		m.log.Error("signal match failed", zap.Error(err))
	}
	conn.Signal(signals)

	m.log.Info("monitor started")
	go m.loop(conn, stop, signals)
}

// Stop halts signal dispatch.
func (m *monitor) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	close(m.stop)
	m.running = false
	signals := m.signals
	m.mu.Unlock()

	m.backend.mu.Lock()
	conn := m.backend.bus
	m.backend.mu.Unlock()
	if conn != nil && signals != nil {
		conn.RemoveSignal(signals)
	}
	m.log.Info("monitor stopped")
}

// Running reports whether the monitor is active.
func (m *monitor) Running() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

func (m *monitor) loop(conn bus, stop chan struct{}, signals chan *dbus.Signal) {
	for {
		select {
		case <-stop:
			return
		case sig, ok := <-signals:
			if !ok {
				return
			}
			if sig == nil || sig.Name != propsIface+".PropertiesChanged" || len(sig.Body) < 2 {
				continue
			}
			iface, _ := sig.Body[0].(string)
			changed, _ := sig.Body[1].(map[string]dbus.Variant)
			m.handleChange(sig.Path, iface, changed)
		}
	}
}

// handleChange routes one PropertiesChanged signal.
func (m *monitor) handleChange(path dbus.ObjectPath, iface string, changed map[string]dbus.Variant) {
	switch iface {
	case deviceIface:
		if variant, ok := changed["Connected"]; ok {
			connected, _ := variant.Value().(bool)
			m.handleDeviceConnection(path, connected)
		}
	case playerIface:
		if variant, ok := changed["Status"]; ok {
			status, _ := variant.Value().(string)
			m.setStatus(statusFromAVRCP(status))
		}
		if variant, ok := changed["Track"]; ok {
			attrs, _ := variant.Value().(map[string]dbus.Variant)
			if track := trackFromAVRCP(attrs); track != nil {
				m.mu.Lock()
				m.track = track
				m.mu.Unlock()
				m.emitter.Emit(hearth.TrackEvent(hearth.SourceBluetooth, *track))
			}
		}
	case transportIface:
		if variant, ok := changed["Volume"]; ok {
			if raw, rok := variant.Value().(uint16); rok {
				m.mu.Lock()
				m.state.Volume = hearth.VolumeOf(percentFromAVRCP(int(raw)))
				state := m.state
				m.mu.Unlock()
				m.emitter.Emit(hearth.PlaybackEvent(hearth.SourceBluetooth, state))
			}
		}
	}
}

func (m *monitor) handleDeviceConnection(path dbus.ObjectPath, connected bool) {
	if connected {
		p := m.backend.rescanPeer()
		if p == nil {
			// Endpoints may lag the Connected flag; remember the device at
			// least.
			p = &peer{path: path}
			if name, err := m.backend.peerProperty(path, "Name"); err == nil {
				p.name, _ = name.Value().(string)
			}
			if mac, err := m.backend.peerProperty(path, "Address"); err == nil {
				p.mac, _ = mac.Value().(string)
			}
			m.backend.setPeer(p)
		}
		m.log.Info("device connected", zap.String("device", deviceLabel(p)))
		if m.backend.PairingMode() {
			m.backend.ExitPairingMode()
		}
		m.emitter.Emit(hearth.DeviceEvent(hearth.SourceBluetooth, hearth.EventDeviceConnected,
			hearth.DeviceInfo{Name: p.name, MAC: p.mac}))
		return
	}

	p := m.backend.currentPeer()
	if p == nil || p.path != path {
		return
	}
	m.log.Info("device disconnected", zap.String("device", deviceLabel(p)))
	m.backend.setPeer(nil)
	m.setStatus(hearth.StatusStopped)
	m.mu.Lock()
	m.track = nil
	m.mu.Unlock()
	m.emitter.Emit(hearth.DeviceEvent(hearth.SourceBluetooth, hearth.EventDeviceDisconnected,
		hearth.DeviceInfo{Name: p.name, MAC: p.mac}))
}

func (m *monitor) setStatus(status hearth.PlaybackStatus) {
	m.mu.Lock()
	changed := m.state.Status != status
	m.state.Status = status
	state := m.state
	m.mu.Unlock()
	if changed {
		m.emitter.Emit(hearth.PlaybackEvent(hearth.SourceBluetooth, state))
	}
}

// refreshStatus re-reads the AVRCP Status property.
func (m *monitor) refreshStatus() {
	m.backend.mu.Lock()
	conn := m.backend.bus
	var player dbus.ObjectPath
	if m.backend.peer != nil {
		player = m.backend.peer.player
	}
	m.backend.mu.Unlock()
	if conn == nil || player == "" {
		return
	}
	variant, err := conn.GetProperty(player, playerIface, "Status")
	if err != nil {
		return
	}
	status, _ := variant.Value().(string)
	m.mu.Lock()
	m.state.Status = statusFromAVRCP(status)
	m.mu.Unlock()
}

// statusFromAVRCP maps the BlueZ player status vocabulary. The values match
// hearth's own constants one to one.
func statusFromAVRCP(status string) hearth.PlaybackStatus {
	switch status {
	case "playing":
		return hearth.StatusPlaying
	case "paused":
		return hearth.StatusPaused
	case "stopped":
		return hearth.StatusStopped
	case "forward-seek":
		return hearth.StatusForwardSeek
	case "reverse-seek":
		return hearth.StatusReverseSeek
	case "error":
		return hearth.StatusError
	default:
		return hearth.StatusUnknown
	}
}

// trackFromAVRCP maps an AVRCP track property map to track info.
func trackFromAVRCP(attrs map[string]dbus.Variant) *hearth.TrackInfo {
	if len(attrs) == 0 {
		return nil
	}
	track := &hearth.TrackInfo{}
	if v, ok := attrs["Title"]; ok {
		track.Title, _ = v.Value().(string)
	}
	if v, ok := attrs["Artist"]; ok {
		track.Artist, _ = v.Value().(string)
	}
	if v, ok := attrs["Album"]; ok {
		track.Album, _ = v.Value().(string)
	}
	if v, ok := attrs["Duration"]; ok {
		if ms, dok := v.Value().(uint32); dok {
			track.DurationMS = int64(ms)
		}
	}
	if track.Title == "" && track.Artist == "" {
		return nil
	}
	return track
}
