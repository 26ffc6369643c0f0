package mpd

import (
	"strconv"
	"sync"
	"time"

	gompd "github.com/fhs/gompd/v2/mpd"
	"go.uber.org/zap"

	"github.com/hearthaudio/hearth/internal/radio"
	"github.com/hearthaudio/hearth/internal/sources"
	"github.com/hearthaudio/hearth/pkg/hearth"
)

// monitor polls MPD status once per interval and emits change events. MPD
// also offers idle notifications, but one poll per second on a LAN daemon
// is cheaper to reason about and survives MPD restarts without an extra
// reconnect path.
type monitor struct {
	backend *Backend
	emitter *sources.Emitter
	log     *zap.Logger

	mu      sync.Mutex
	running bool
	stop    chan struct{}
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

// PlaybackState returns the last observed state, refreshing from MPD first
// when asked.
func (m *monitor) PlaybackState(forceRefresh bool) hearth.PlaybackState {
	if forceRefresh {
		m.refresh(false)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// TrackInfo returns the last observed track, or nil when nothing is queued.
func (m *monitor) TrackInfo() *hearth.TrackInfo {
	m.refresh(false)
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.track == nil {
		return nil
	}
	track := *m.track
	return &track
}

// SourceInfo identifies the MPD daemon.
func (m *monitor) SourceInfo() hearth.SourceInfo {
	return hearth.SourceInfo{
		Source:     hearth.SourceMPD,
		DeviceName: "MPD",
		Path:       m.backend.cfg.Address,
	}
}

func (m *monitor) Subscribe(kind hearth.EventKind, handler radio.EventHandler) {
	m.emitter.Subscribe(kind, handler)
}

func (m *monitor) SubscribeAll(handler radio.EventHandler) {
	m.emitter.SubscribeAll(handler)
}

// Start begins the polling loop.
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

	m.log.Info("monitor started", zap.Duration("interval", m.backend.cfg.PollInterval))
	go m.loop(stop)
}

// Stop halts the polling loop.
func (m *monitor) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.running {
		return
	}
	close(m.stop)
	m.running = false
	m.log.Info("monitor stopped")
}

// Running reports whether the loop is active.
func (m *monitor) Running() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

func (m *monitor) loop(stop chan struct{}) {
	ticker := time.NewTicker(m.backend.cfg.PollInterval)
	defer ticker.Stop()
	m.refresh(true)
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			m.refresh(true)
		}
	}
}

// refresh reads status and song, updates the cache and, when emit is set,
// publishes change events.
func (m *monitor) refresh(emit bool) {
	status, song, ok := m.backend.status()
	if !ok {
		return
	}
	newState := stateFromAttrs(status)
	newTrack := trackFromAttrs(song)

	m.mu.Lock()
	stateChanged := !statesEqual(m.state, newState)
	trackChanged := !tracksEqual(m.track, newTrack)
	m.state = newState
	m.track = newTrack
	m.mu.Unlock()

	if !emit {
		return
	}
	if stateChanged {
		m.emitter.Emit(hearth.PlaybackEvent(hearth.SourceMPD, newState))
	}
	if trackChanged && newTrack != nil {
		m.emitter.Emit(hearth.TrackEvent(hearth.SourceMPD, *newTrack))
	}
}

func statesEqual(a, b hearth.PlaybackState) bool {
	if a.Status != b.Status {
		return false
	}
	if (a.Volume == nil) != (b.Volume == nil) {
		return false
	}
	return a.Volume == nil || *a.Volume == *b.Volume
}

func tracksEqual(a, b *hearth.TrackInfo) bool {
	if (a == nil) != (b == nil) {
		return false
	}
	return a == nil || *a == *b
}

// stateFromAttrs maps an MPD status response to a playback state.
func stateFromAttrs(status gompd.Attrs) hearth.PlaybackState {
	state := hearth.PlaybackState{}
	switch status["state"] {
	case "play":
		state.Status = hearth.StatusPlaying
	case "pause":
		state.Status = hearth.StatusPaused
	case "stop":
		state.Status = hearth.StatusStopped
	default:
		state.Status = hearth.StatusUnknown
	}
	if volume, ok := parseVolume(status); ok {
		state.Volume = hearth.VolumeOf(volume)
	}
	return state
}

// trackFromAttrs maps an MPD currentsong response to track info. An empty
// response (no current song) yields nil.
func trackFromAttrs(song gompd.Attrs) *hearth.TrackInfo {
	if len(song) == 0 || song["file"] == "" {
		return nil
	}
	track := &hearth.TrackInfo{
		Title:  song["Title"],
		Artist: song["Artist"],
		Album:  song["Album"],
		File:   song["file"],
	}
	if track.Title == "" {
		track.Title = song["file"]
	}
	track.DurationMS = durationMS(song)
	return track
}

// durationMS prefers the fractional "duration" field over the legacy
// whole-second "Time" field.
func durationMS(song gompd.Attrs) int64 {
	if raw := song["duration"]; raw != "" {
		if seconds, err := strconv.ParseFloat(raw, 64); err == nil {
			return int64(seconds * 1000)
		}
	}
	if raw := song["Time"]; raw != "" {
		if seconds, err := strconv.ParseInt(raw, 10, 64); err == nil {
			return seconds * 1000
		}
	}
	return 0
}
