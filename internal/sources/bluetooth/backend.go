// Package bluetooth adapts a BlueZ A2DP sink to the radio backend contract.
// Transport controls go over AVRCP via org.bluez.MediaPlayer1; volume rides
// org.bluez.MediaTransport1; pairing opens a time-boxed discoverable window
// on the adapter.
package bluetooth

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"

	"github.com/godbus/dbus/v5"
	"go.uber.org/zap"

	"github.com/hearthaudio/hearth/internal/radio"
	"github.com/hearthaudio/hearth/pkg/hearth"
)

const (
	bluezService   = "org.bluez"
	adapterIface   = "org.bluez.Adapter1"
	deviceIface    = "org.bluez.Device1"
	playerIface    = "org.bluez.MediaPlayer1"
	transportIface = "org.bluez.MediaTransport1"
	propsIface     = "org.freedesktop.DBus.Properties"

	// avrcpMax is the AVRCP absolute volume ceiling.
	avrcpMax = 127
)

// Config configures the Bluetooth backend.
type Config struct {
	// Adapter is the BlueZ adapter name, e.g. hci0.
	Adapter string
	// PairingTimeoutSeconds bounds the default discoverable window.
	PairingTimeoutSeconds int
}

func (c *Config) applyDefaults() {
	if c.Adapter == "" {
		c.Adapter = "hci0"
	}
	if c.PairingTimeoutSeconds <= 0 {
		c.PairingTimeoutSeconds = 60
	}
}

// bus is the slice of the D-Bus connection the backend uses. Tests swap in
// a fake; production wraps *dbus.Conn against the system bus.
type bus interface {
	ManagedObjects() (map[dbus.ObjectPath]map[string]map[string]dbus.Variant, error)
	Call(path dbus.ObjectPath, iface, method string) error
	GetProperty(path dbus.ObjectPath, iface, prop string) (dbus.Variant, error)
	SetProperty(path dbus.ObjectPath, iface, prop string, value any) error
	Signal(ch chan<- *dbus.Signal)
	RemoveSignal(ch chan<- *dbus.Signal)
	AddMatchSignal(options ...dbus.MatchOption) error
	Close() error
}

type systemBus struct {
	conn *dbus.Conn
}

func (s *systemBus) ManagedObjects() (map[dbus.ObjectPath]map[string]map[string]dbus.Variant, error) {
	var objects map[dbus.ObjectPath]map[string]map[string]dbus.Variant
	obj := s.conn.Object(bluezService, "/")
	if err := obj.Call("org.freedesktop.DBus.ObjectManager.GetManagedObjects", 0).Store(&objects); err != nil {
		return nil, err
	}
	return objects, nil
}

func (s *systemBus) Call(path dbus.ObjectPath, iface, method string) error {
	return s.conn.Object(bluezService, path).Call(iface+"."+method, 0).Err
}

func (s *systemBus) GetProperty(path dbus.ObjectPath, iface, prop string) (dbus.Variant, error) {
	return s.conn.Object(bluezService, path).GetProperty(iface + "." + prop)
}

func (s *systemBus) SetProperty(path dbus.ObjectPath, iface, prop string, value any) error {
	return s.conn.Object(bluezService, path).SetProperty(iface+"."+prop, dbus.MakeVariant(value))
}

func (s *systemBus) Signal(ch chan<- *dbus.Signal)       { s.conn.Signal(ch) }
func (s *systemBus) RemoveSignal(ch chan<- *dbus.Signal) { s.conn.RemoveSignal(ch) }

func (s *systemBus) AddMatchSignal(options ...dbus.MatchOption) error {
	return s.conn.AddMatchSignal(options...)
}

func (s *systemBus) Close() error { return s.conn.Close() }

// connectFunc opens the system bus. Replaced in tests.
type connectFunc func() (bus, error)

func dialSystemBus() (bus, error) {
	conn, err := dbus.ConnectSystemBus()
	if err != nil {
		return nil, err
	}
	return &systemBus{conn: conn}, nil
}

// peer is the currently connected A2DP device and its AVRCP endpoints.
type peer struct {
	path      dbus.ObjectPath
	name      string
	mac       string
	player    dbus.ObjectPath
	transport dbus.ObjectPath
}

// Backend drives BlueZ. Connected() means BlueZ and the adapter are
// reachable; whether a phone is attached is a separate question answered by
// DeviceConnected.
type Backend struct {
	radio.NoMenu

	log     *zap.Logger
	cfg     Config
	connect connectFunc

	mu          sync.Mutex
	bus         bus
	adapterPath dbus.ObjectPath
	peer        *peer
	pairing     bool

	monitor *monitor
}

// New creates a Bluetooth backend.
func New(log *zap.Logger, cfg Config) *Backend {
	if log == nil {
		log = zap.NewNop()
	}
	cfg.applyDefaults()
	b := &Backend{
		log:     log.Named("bluetooth"),
		cfg:     cfg,
		connect: dialSystemBus,
	}
	b.monitor = newMonitor(b)
	return b
}

// Connect opens the system bus and locates the adapter. A device already
// connected when the daemon starts is picked up here.
func (b *Backend) Connect() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.bus != nil {
		return true
	}
	conn, err := b.connect()
	if err != nil {
		b.log.Warn("system bus unavailable", zap.Error(err))
		return false
	}
	objects, err := conn.ManagedObjects()
	if err != nil {
		b.log.Warn("bluez not responding", zap.Error(err))
		conn.Close()
		return false
	}
	adapterPath := dbus.ObjectPath("/org/bluez/" + b.cfg.Adapter)
	if _, ok := objects[adapterPath][adapterIface]; !ok {
		b.log.Warn("adapter not found", zap.String("adapter", b.cfg.Adapter))
		conn.Close()
		return false
	}
	b.bus = conn
	b.adapterPath = adapterPath
	b.peer = findConnectedPeer(objects, adapterPath)
	if b.peer != nil {
		b.log.Info("device already connected",
			zap.String("name", b.peer.name),
			zap.String("mac", b.peer.mac))
	}
	b.log.Info("connected", zap.String("adapter", b.cfg.Adapter))
	return true
}

// Disconnect stops the monitor and closes the bus.
func (b *Backend) Disconnect() {
	if b.monitor.Running() {
		b.monitor.Stop()
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.bus != nil {
		b.bus.Close()
		b.bus = nil
	}
	b.peer = nil
	b.pairing = false
}

// Connected reports whether BlueZ and the adapter are reachable.
func (b *Backend) Connected() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.bus != nil
}

// DeviceConnected reports whether an A2DP peer is attached. BlueZ being up
// with no phone around is the normal idle state, not a failure.
func (b *Backend) DeviceConnected() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.peer != nil
}

// playerCall invokes one AVRCP method on the connected device's player.
func (b *Backend) playerCall(method string) bool {
	b.mu.Lock()
	conn := b.bus
	var player dbus.ObjectPath
	if b.peer != nil {
		player = b.peer.player
	}
	b.mu.Unlock()

	if conn == nil {
		b.log.Warn("not connected", zap.String("method", method))
		return false
	}
	if player == "" {
		b.log.Warn("no media player on connected device", zap.String("method", method))
		return false
	}
	if err := conn.Call(player, playerIface, method); err != nil {
		b.log.Error("avrcp call failed", zap.String("method", method), zap.Error(err))
		return false
	}
	return true
}

// Play resumes playback on the phone.
func (b *Backend) Play() bool { return b.playerCall("Play") }

// Pause pauses playback on the phone.
func (b *Backend) Pause() bool { return b.playerCall("Pause") }

// Stop stops playback on the phone.
func (b *Backend) Stop() bool { return b.playerCall("Stop") }

// PlayPause toggles play and pause based on the player status.
func (b *Backend) PlayPause() bool {
	if b.monitor.PlaybackState(true).Status == hearth.StatusPlaying {
		return b.Pause()
	}
	return b.Play()
}

// Next skips forward on the phone.
func (b *Backend) Next() bool { return b.playerCall("Next") }

// Previous skips backward on the phone.
func (b *Backend) Previous() bool { return b.playerCall("Previous") }

// Volume reads the transport volume as a percentage. ok=false when no
// device or transport is attached.
func (b *Backend) Volume() (int, bool) {
	conn, transport := b.transport()
	if conn == nil || transport == "" {
		return 0, false
	}
	variant, err := conn.GetProperty(transport, transportIface, "Volume")
	if err != nil {
		b.log.Warn("volume read failed", zap.Error(err))
		return 0, false
	}
	raw, ok := variant.Value().(uint16)
	if !ok {
		return 0, false
	}
	return percentFromAVRCP(int(raw)), true
}

// SetVolume writes the transport volume from a percentage. Many phones
// reject absolute volume writes; the failure is reported, not retried.
func (b *Backend) SetVolume(volume int) bool {
	if volume < 0 || volume > 100 {
		b.log.Error("invalid volume", zap.Int("volume", volume))
		return false
	}
	conn, transport := b.transport()
	if conn == nil || transport == "" {
		b.log.Warn("no transport for volume write")
		return false
	}
	if err := conn.SetProperty(transport, transportIface, "Volume", uint16(avrcpFromPercent(volume))); err != nil {
		b.log.Warn("volume write rejected", zap.Int("volume", volume), zap.Error(err))
		return false
	}
	return true
}

// VolumeUp raises the transport volume by step percent.
func (b *Backend) VolumeUp(step int) (int, bool) {
	return b.stepVolume(step)
}

// VolumeDown lowers the transport volume by step percent.
func (b *Backend) VolumeDown(step int) (int, bool) {
	return b.stepVolume(-step)
}

func (b *Backend) stepVolume(delta int) (int, bool) {
	current, ok := b.Volume()
	if !ok {
		return 0, false
	}
	target := current + delta
	if target < 0 {
		target = 0
	}
	if target > 100 {
		target = 100
	}
	if !b.SetVolume(target) {
		return 0, false
	}
	return target, true
}

// Capabilities reports the Bluetooth feature set. Absolute volume depends
// on the attached device exposing a media transport.
func (b *Backend) Capabilities() radio.Capabilities {
	_, transport := b.transport()
	return radio.Capabilities{HasMenu: false, SupportsAbsoluteVolume: transport != ""}
}

// Monitor returns the D-Bus signal monitor.
func (b *Backend) Monitor() radio.Monitor { return b.monitor }

// EnterPairingMode opens a discoverable and pairable window on the adapter.
func (b *Backend) EnterPairingMode(timeoutSeconds int) bool {
	if timeoutSeconds <= 0 {
		timeoutSeconds = b.cfg.PairingTimeoutSeconds
	}
	b.mu.Lock()
	conn := b.bus
	adapter := b.adapterPath
	b.mu.Unlock()
	if conn == nil {
		return false
	}
	props := []struct {
		name  string
		value any
	}{
		{"DiscoverableTimeout", uint32(timeoutSeconds)},
		{"PairableTimeout", uint32(timeoutSeconds)},
		{"Discoverable", true},
		{"Pairable", true},
	}
	for _, p := range props {
		if err := conn.SetProperty(adapter, adapterIface, p.name, p.value); err != nil {
			b.log.Error("pairing mode failed", zap.String("prop", p.name), zap.Error(err))
			return false
		}
	}
	b.mu.Lock()
	b.pairing = true
	b.mu.Unlock()
	b.log.Info("pairing window open", zap.Int("timeout_s", timeoutSeconds))
	return true
}

// ExitPairingMode closes the discoverable window.
func (b *Backend) ExitPairingMode() bool {
	b.mu.Lock()
	conn := b.bus
	adapter := b.adapterPath
	b.mu.Unlock()
	if conn == nil {
		return false
	}
	for _, prop := range []string{"Discoverable", "Pairable"} {
		if err := conn.SetProperty(adapter, adapterIface, prop, false); err != nil {
			b.log.Error("closing pairing window failed", zap.String("prop", prop), zap.Error(err))
			return false
		}
	}
	b.mu.Lock()
	b.pairing = false
	b.mu.Unlock()
	b.log.Info("pairing window closed")
	return true
}

// PairingMode reports whether a pairing window is open.
func (b *Backend) PairingMode() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.pairing
}

func (b *Backend) transport() (bus, dbus.ObjectPath) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.peer == nil {
		return b.bus, ""
	}
	return b.bus, b.peer.transport
}

// peerProperty reads a Device1 property from an arbitrary device path.
func (b *Backend) peerProperty(path dbus.ObjectPath, prop string) (dbus.Variant, error) {
	b.mu.Lock()
	conn := b.bus
	b.mu.Unlock()
	if conn == nil {
		return dbus.Variant{}, errors.New("not connected")
	}
	return conn.GetProperty(path, deviceIface, prop)
}

func (b *Backend) currentPeer() *peer {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.peer == nil {
		return nil
	}
	copied := *b.peer
	return &copied
}

func (b *Backend) setPeer(p *peer) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.peer = p
}

// rescanPeer re-reads managed objects to pick up the player and transport
// endpoints of a freshly connected device.
func (b *Backend) rescanPeer() *peer {
	b.mu.Lock()
	conn := b.bus
	adapter := b.adapterPath
	b.mu.Unlock()
	if conn == nil {
		return nil
	}
	objects, err := conn.ManagedObjects()
	if err != nil {
		b.log.Warn("rescan failed", zap.Error(err))
		return nil
	}
	found := findConnectedPeer(objects, adapter)
	b.setPeer(found)
	return found
}

// findConnectedPeer locates the first connected device under the adapter
// and its MediaPlayer1 and MediaTransport1 children.
func findConnectedPeer(objects map[dbus.ObjectPath]map[string]map[string]dbus.Variant, adapter dbus.ObjectPath) *peer {
	prefix := string(adapter) + "/"
	for path, ifaces := range objects {
		device, ok := ifaces[deviceIface]
		if !ok || !strings.HasPrefix(string(path), prefix) {
			continue
		}
		connected, _ := device["Connected"].Value().(bool)
		if !connected {
			continue
		}
		p := &peer{path: path}
		p.name, _ = device["Name"].Value().(string)
		p.mac, _ = device["Address"].Value().(string)
		devicePrefix := string(path) + "/"
		for child, childIfaces := range objects {
			if !strings.HasPrefix(string(child), devicePrefix) {
				continue
			}
			if _, ok := childIfaces[playerIface]; ok && p.player == "" {
				p.player = child
			}
			if _, ok := childIfaces[transportIface]; ok && p.transport == "" {
				p.transport = child
			}
		}
		return p
	}
	return nil
}

// percentFromAVRCP converts the 0-127 AVRCP scale to 0-100.
func percentFromAVRCP(v int) int {
	if v <= 0 {
		return 0
	}
	if v >= avrcpMax {
		return 100
	}
	return int(math.Round(float64(v) * 100 / avrcpMax))
}

// avrcpFromPercent converts 0-100 to the 0-127 AVRCP scale.
func avrcpFromPercent(p int) int {
	if p <= 0 {
		return 0
	}
	if p >= 100 {
		return avrcpMax
	}
	return int(math.Round(float64(p) * avrcpMax / 100))
}

// deviceLabel renders a peer for logs.
func deviceLabel(p *peer) string {
	if p == nil {
		return "none"
	}
	return fmt.Sprintf("%s [%s]", p.name, p.mac)
}
