// Package librespot adapts a librespot speaker daemon to the radio backend
// contract. Control goes over the daemon's HTTP API; events arrive on its
// websocket feed.
package librespot

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/hearthaudio/hearth/internal/radio"
	"github.com/hearthaudio/hearth/pkg/hearth"
)

// Config configures the librespot backend.
type Config struct {
	// BaseURL is the daemon's API root, e.g. http://localhost:3678.
	BaseURL           string
	Timeout           time.Duration
	ReconnectInterval time.Duration
}

func (c *Config) applyDefaults() {
	if c.BaseURL == "" {
		c.BaseURL = "http://localhost:3678"
	}
	c.BaseURL = strings.TrimRight(c.BaseURL, "/")
	if c.Timeout <= 0 {
		c.Timeout = 3 * time.Second
	}
	if c.ReconnectInterval <= 0 {
		c.ReconnectInterval = 5 * time.Second
	}
}

// statusResponse is the daemon's GET /status payload.
type statusResponse struct {
	Username    string       `json:"username"`
	DeviceID    string       `json:"device_id"`
	DeviceName  string       `json:"device_name"`
	Stopped     bool         `json:"stopped"`
	Paused      bool         `json:"paused"`
	Buffering   bool         `json:"buffering"`
	Volume      int          `json:"volume"`
	VolumeSteps int          `json:"volume_steps"`
	Track       *statusTrack `json:"track"`
}

type statusTrack struct {
	URI         string   `json:"uri"`
	Name        string   `json:"name"`
	ArtistNames []string `json:"artist_names"`
	AlbumName   string   `json:"album_name"`
	Duration    int64    `json:"duration"`
	Position    int64    `json:"position"`
}

// Backend drives the librespot daemon. It has no contextual menu; playlist
// selection happens on the casting phone.
type Backend struct {
	radio.NoMenu

	log  *zap.Logger
	cfg  Config
	http *http.Client

	mu          sync.Mutex
	connected   bool
	volumeSteps int
	deviceName  string

	monitor *monitor
}

// New creates a librespot backend.
func New(log *zap.Logger, cfg Config) *Backend {
	if log == nil {
		log = zap.NewNop()
	}
	cfg.applyDefaults()
	b := &Backend{
		log:         log.Named("librespot"),
		cfg:         cfg,
		http:        &http.Client{Timeout: cfg.Timeout},
		volumeSteps: 64,
	}
	b.monitor = newMonitor(b)
	return b
}

// Connect probes the daemon's status endpoint and caches the volume scale.
func (b *Backend) Connect() bool {
	status, err := b.fetchStatus()
	if err != nil {
		b.log.Warn("connect failed", zap.String("url", b.cfg.BaseURL), zap.Error(err))
		return false
	}
	b.mu.Lock()
	b.connected = true
	if status.VolumeSteps > 0 {
		b.volumeSteps = status.VolumeSteps
	}
	b.deviceName = status.DeviceName
	b.mu.Unlock()
	b.monitor.seed(status)
	b.log.Info("connected",
		zap.String("url", b.cfg.BaseURL),
		zap.String("device", status.DeviceName),
		zap.Int("volume_steps", status.VolumeSteps))
	return true
}

// Disconnect stops the monitor and marks the backend down.
func (b *Backend) Disconnect() {
	if b.monitor.Running() {
		b.monitor.Stop()
	}
	b.mu.Lock()
	b.connected = false
	b.mu.Unlock()
}

// Connected reports whether the daemon answered the last probe.
func (b *Backend) Connected() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.connected
}

// Play resumes playback of the current context.
func (b *Backend) Play() bool { return b.post("/player/resume", nil) }

// Pause pauses playback.
func (b *Backend) Pause() bool { return b.post("/player/pause", nil) }

// Stop pauses playback. The daemon exposes no stop; the casting session
// stays alive so the phone can resume.
func (b *Backend) Stop() bool { return b.post("/player/pause", nil) }

// PlayPause toggles play and pause.
func (b *Backend) PlayPause() bool { return b.post("/player/playpause", nil) }

// Next skips forward.
func (b *Backend) Next() bool { return b.post("/player/next", nil) }

// Previous skips backward.
func (b *Backend) Previous() bool { return b.post("/player/prev", nil) }

// Volume reads the daemon volume as a percentage.
func (b *Backend) Volume() (int, bool) {
	status, err := b.fetchStatus()
	if err != nil {
		b.log.Warn("volume read failed", zap.Error(err))
		return 0, false
	}
	steps := status.VolumeSteps
	if steps <= 0 {
		steps = b.steps()
	}
	return percentFromSteps(status.Volume, steps), true
}

// SetVolume sets the daemon volume from a percentage.
func (b *Backend) SetVolume(volume int) bool {
	if volume < 0 || volume > 100 {
		b.log.Error("invalid volume", zap.Int("volume", volume))
		return false
	}
	body := map[string]int{"volume": stepsFromPercent(volume, b.steps())}
	return b.post("/player/volume", body)
}

// VolumeUp raises the volume by step percent, clamped to 100.
func (b *Backend) VolumeUp(step int) (int, bool) {
	return b.stepVolume(step)
}

// VolumeDown lowers the volume by step percent, clamped to 0.
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

// Capabilities reports the librespot feature set.
func (b *Backend) Capabilities() radio.Capabilities {
	return radio.Capabilities{HasMenu: false, SupportsAbsoluteVolume: true}
}

// Monitor returns the websocket monitor.
func (b *Backend) Monitor() radio.Monitor { return b.monitor }

func (b *Backend) steps() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.volumeSteps
}

func (b *Backend) device() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.deviceName
}

func (b *Backend) fetchStatus() (statusResponse, error) {
	resp, err := b.http.Get(b.cfg.BaseURL + "/status")
	if err != nil {
		return statusResponse{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return statusResponse{}, fmt.Errorf("status endpoint returned %d", resp.StatusCode)
	}
	var status statusResponse
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return statusResponse{}, fmt.Errorf("decode status: %w", err)
	}
	return status, nil
}

func (b *Backend) post(path string, body any) bool {
	if !b.Connected() {
		b.log.Warn("not connected", zap.String("path", path))
		return false
	}
	var payload io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			b.log.Error("marshal request", zap.String("path", path), zap.Error(err))
			return false
		}
		payload = bytes.NewReader(raw)
	}
	resp, err := b.http.Post(b.cfg.BaseURL+path, "application/json", payload)
	if err != nil {
		b.log.Error("request failed", zap.String("path", path), zap.Error(err))
		return false
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		b.log.Error("request rejected", zap.String("path", path), zap.Int("code", resp.StatusCode))
		return false
	}
	return true
}

// stepsFromPercent converts a 0-100 percentage to daemon volume steps.
func stepsFromPercent(percent, steps int) int {
	if steps <= 0 {
		return 0
	}
	return int(math.Round(float64(percent) * float64(steps) / 100))
}

// percentFromSteps converts daemon volume steps to a 0-100 percentage.
func percentFromSteps(value, steps int) int {
	if steps <= 0 {
		return 0
	}
	percent := int(math.Round(float64(value) * 100 / float64(steps)))
	if percent < 0 {
		return 0
	}
	if percent > 100 {
		return 100
	}
	return percent
}

// stateFromStatus maps a status response to a playback state.
func stateFromStatus(status statusResponse) hearth.PlaybackState {
	steps := status.VolumeSteps
	if steps <= 0 {
		steps = 64
	}
	state := hearth.PlaybackState{Volume: hearth.VolumeOf(percentFromSteps(status.Volume, steps))}
	switch {
	case status.Stopped:
		state.Status = hearth.StatusStopped
	case status.Paused:
		state.Status = hearth.StatusPaused
	default:
		state.Status = hearth.StatusPlaying
	}
	return state
}

// trackFromStatus maps the status track block to track info.
func trackFromStatus(track *statusTrack) *hearth.TrackInfo {
	if track == nil || (track.Name == "" && track.URI == "") {
		return nil
	}
	return &hearth.TrackInfo{
		Title:      track.Name,
		Artist:     strings.Join(track.ArtistNames, ", "),
		Album:      track.AlbumName,
		DurationMS: track.Duration,
		File:       track.URI,
	}
}
