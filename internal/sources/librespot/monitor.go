package librespot

import (
	"encoding/json"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/hearthaudio/hearth/internal/radio"
	"github.com/hearthaudio/hearth/internal/sources"
	"github.com/hearthaudio/hearth/pkg/hearth"
)

// wsEvent is one message on the daemon's /events websocket.
type wsEvent struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

type volumeData struct {
	Value int `json:"value"`
	Max   int `json:"max"`
}

// monitor listens on the daemon's websocket event feed and translates
// messages into backend events. The connection is redialed forever until
// Stop; a speaker daemon restarting is routine.
type monitor struct {
	backend *Backend
	emitter *sources.Emitter
	log     *zap.Logger

	mu      sync.Mutex
	running bool
	stop    chan struct{}
	conn    *websocket.Conn
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

// seed primes the cache from a status probe without emitting events.
func (m *monitor) seed(status statusResponse) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = stateFromStatus(status)
	m.track = trackFromStatus(status.Track)
}

// PlaybackState returns the last observed state, refreshing over HTTP when
// asked.
func (m *monitor) PlaybackState(forceRefresh bool) hearth.PlaybackState {
	if forceRefresh {
		if status, err := m.backend.fetchStatus(); err == nil {
			m.seed(status)
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// TrackInfo returns the last observed track.
func (m *monitor) TrackInfo() *hearth.TrackInfo {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.track == nil {
		return nil
	}
	track := *m.track
	return &track
}

// SourceInfo identifies the speaker daemon.
func (m *monitor) SourceInfo() hearth.SourceInfo {
	return hearth.SourceInfo{
		Source:     hearth.SourceLibrespot,
		DeviceName: m.backend.device(),
		Path:       m.backend.cfg.BaseURL,
	}
}

func (m *monitor) Subscribe(kind hearth.EventKind, handler radio.EventHandler) {
	m.emitter.Subscribe(kind, handler)
}

func (m *monitor) SubscribeAll(handler radio.EventHandler) {
	m.emitter.SubscribeAll(handler)
}

// Start begins the websocket listen loop.
func (m *monitor) Start() {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return
	}
	m.running = true
	m.stop = make(chan struct{})
	stop := m.stop
	m.mu.Unlock()

	m.log.Info("monitor started")
	go m.loop(stop)
}

// Stop halts the listen loop and closes any open connection.
func (m *monitor) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	close(m.stop)
	m.running = false
	conn := m.conn
	m.conn = nil
	m.mu.Unlock()

	if conn != nil {
		conn.Close()
	}
	m.log.Info("monitor stopped")
}

// Running reports whether the loop is active.
func (m *monitor) Running() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

func (m *monitor) loop(stop chan struct{}) {
	for {
		select {
		case <-stop:
			return
		default:
		}

		conn, _, err := websocket.DefaultDialer.Dial(m.eventsURL(), nil)
		if err != nil {
			m.log.Warn("websocket dial failed", zap.Error(err))
			select {
			case <-stop:
				return
			case <-time.After(m.backend.cfg.ReconnectInterval):
				continue
			}
		}

		m.mu.Lock()
		m.conn = conn
		m.mu.Unlock()
		m.log.Info("event feed connected")

		m.readAll(conn, stop)

		m.mu.Lock()
		if m.conn == conn {
			m.conn = nil
		}
		m.mu.Unlock()
		conn.Close()
	}
}

func (m *monitor) readAll(conn *websocket.Conn, stop chan struct{}) {
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-stop:
			default:
				m.log.Warn("event feed dropped", zap.Error(err))
			}
			return
		}
		var ev wsEvent
		if err := json.Unmarshal(raw, &ev); err != nil {
			m.log.Debug("undecodable event", zap.ByteString("raw", raw))
			continue
		}
		m.handleEvent(ev)
	}
}

// handleEvent translates one websocket message into cache updates and
// emitted backend events.
func (m *monitor) handleEvent(ev wsEvent) {
	switch ev.Type {
	case "playing":
		m.setStatus(hearth.StatusPlaying)
	case "paused":
		m.setStatus(hearth.StatusPaused)
	case "stopped", "inactive":
		m.setStatus(hearth.StatusStopped)
	case "metadata":
		var track statusTrack
		if err := json.Unmarshal(ev.Data, &track); err != nil {
			m.log.Debug("undecodable metadata", zap.Error(err))
			return
		}
		info := trackFromStatus(&track)
		if info == nil {
			return
		}
		m.mu.Lock()
		m.track = info
		m.mu.Unlock()
		m.emitter.Emit(hearth.TrackEvent(hearth.SourceLibrespot, *info))
	case "volume":
		var vol volumeData
		if err := json.Unmarshal(ev.Data, &vol); err != nil {
			m.log.Debug("undecodable volume", zap.Error(err))
			return
		}
		m.mu.Lock()
		m.state.Volume = hearth.VolumeOf(percentFromSteps(vol.Value, vol.Max))
		state := m.state
		m.mu.Unlock()
		m.emitter.Emit(hearth.PlaybackEvent(hearth.SourceLibrespot, state))
	case "active":
		m.emitter.Emit(hearth.SourceInfoEvent(hearth.SourceLibrespot, m.SourceInfo()))
	default:
		// seek, shuffle_context, repeat_* and friends carry nothing the
		// controller surfaces.
	}
}

func (m *monitor) setStatus(status hearth.PlaybackStatus) {
	m.mu.Lock()
	changed := m.state.Status != status
	m.state.Status = status
	state := m.state
	m.mu.Unlock()
	if changed {
		m.emitter.Emit(hearth.PlaybackEvent(hearth.SourceLibrespot, state))
	}
}

// eventsURL derives the websocket endpoint from the HTTP base URL.
func (m *monitor) eventsURL() string {
	parsed, err := url.Parse(m.backend.cfg.BaseURL)
	if err != nil {
		return "ws://localhost:3678/events"
	}
	scheme := "ws"
	if strings.EqualFold(parsed.Scheme, "https") {
		scheme = "wss"
	}
	parsed.Scheme = scheme
	parsed.Path = strings.TrimRight(parsed.Path, "/") + "/events"
	return parsed.String()
}
