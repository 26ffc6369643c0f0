// Package mpd adapts a Music Player Daemon instance to the radio backend
// contract. Playback and volume go over the MPD wire protocol; the stored
// playlists double as the source's contextual menu.
package mpd

import (
	"fmt"
	"strconv"
	"sync"
	"time"

	gompd "github.com/fhs/gompd/v2/mpd"
	"go.uber.org/zap"

	"github.com/hearthaudio/hearth/internal/radio"
	"github.com/hearthaudio/hearth/pkg/hearth"
)

// Config configures the MPD backend.
type Config struct {
	Address      string
	Password     string
	PollInterval time.Duration
}

func (c *Config) applyDefaults() {
	if c.Address == "" {
		c.Address = "localhost:6600"
	}
	if c.PollInterval <= 0 {
		c.PollInterval = time.Second
	}
}

// client is the subset of the gompd client the backend uses. Tests swap in
// a fake; production wires *gompd.Client.
type client interface {
	Ping() error
	Status() (gompd.Attrs, error)
	CurrentSong() (gompd.Attrs, error)
	Play(pos int) error
	Pause(pause bool) error
	Stop() error
	Next() error
	Previous() error
	SetVolume(volume int) error
	ListPlaylists() ([]gompd.Attrs, error)
	PlaylistLoad(name string, start, end int) error
	Clear() error
	Close() error
}

// dialFunc opens an MPD connection. Replaced in tests.
type dialFunc func(cfg Config) (client, error)

func dialMPD(cfg Config) (client, error) {
	if cfg.Password != "" {
		return gompd.DialAuthenticated("tcp", cfg.Address, cfg.Password)
	}
	return gompd.Dial("tcp", cfg.Address)
}

// Backend drives MPD. The gompd client is not safe for concurrent use, so
// every wire call holds the mutex.
type Backend struct {
	log  *zap.Logger
	cfg  Config
	dial dialFunc

	mu        sync.Mutex
	conn      client
	connected bool

	monitor *monitor
}

// New creates an MPD backend.
func New(log *zap.Logger, cfg Config) *Backend {
	if log == nil {
		log = zap.NewNop()
	}
	cfg.applyDefaults()
	b := &Backend{log: log.Named("mpd"), cfg: cfg, dial: dialMPD}
	b.monitor = newMonitor(b)
	return b
}

// Connect dials MPD and verifies the connection with a ping.
func (b *Backend) Connect() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.connected {
		return true
	}
	conn, err := b.dial(b.cfg)
	if err != nil {
		b.log.Warn("connect failed", zap.String("address", b.cfg.Address), zap.Error(err))
		return false
	}
	if err := conn.Ping(); err != nil {
		b.log.Warn("ping failed", zap.Error(err))
		conn.Close()
		return false
	}
	b.conn = conn
	b.connected = true
	b.log.Info("connected", zap.String("address", b.cfg.Address))
	return true
}

// Disconnect closes the connection and stops the monitor.
func (b *Backend) Disconnect() {
	if b.monitor.Running() {
		b.monitor.Stop()
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.conn != nil {
		b.conn.Close()
		b.conn = nil
	}
	b.connected = false
}

// Connected reports whether the MPD connection is up.
func (b *Backend) Connected() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.connected
}

// exec runs one wire call under the connection mutex. An error drops the
// connection so the next Connect re-dials instead of reusing a dead socket.
func (b *Backend) exec(op string, fn func(c client) error) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.connected || b.conn == nil {
		b.log.Warn("not connected", zap.String("op", op))
		return false
	}
	if err := fn(b.conn); err != nil {
		b.log.Error("command failed", zap.String("op", op), zap.Error(err))
		b.dropLocked()
		return false
	}
	return true
}

func (b *Backend) dropLocked() {
	if b.conn != nil {
		b.conn.Close()
		b.conn = nil
	}
	b.connected = false
}

// Play resumes or starts playback at the current queue position.
func (b *Backend) Play() bool {
	return b.exec("play", func(c client) error { return c.Play(-1) })
}

// Pause pauses playback.
func (b *Backend) Pause() bool {
	return b.exec("pause", func(c client) error { return c.Pause(true) })
}

// Stop stops playback.
func (b *Backend) Stop() bool {
	return b.exec("stop", func(c client) error { return c.Stop() })
}

// PlayPause toggles between playing and paused based on the reported state.
func (b *Backend) PlayPause() bool {
	state := b.monitor.PlaybackState(true)
	if state.Status == hearth.StatusPlaying {
		return b.Pause()
	}
	return b.Play()
}

// Next skips to the next queue entry.
func (b *Backend) Next() bool {
	return b.exec("next", func(c client) error { return c.Next() })
}

// Previous skips to the previous queue entry.
func (b *Backend) Previous() bool {
	return b.exec("previous", func(c client) error { return c.Previous() })
}

// Volume reads the mixer volume from status.
func (b *Backend) Volume() (int, bool) {
	var volume int
	found := false
	ok := b.exec("volume", func(c client) error {
		attrs, err := c.Status()
		if err != nil {
			return err
		}
		if v, vok := parseVolume(attrs); vok {
			volume = v
			found = true
		}
		return nil
	})
	return volume, ok && found
}

// SetVolume sets the mixer volume.
func (b *Backend) SetVolume(volume int) bool {
	if volume < 0 || volume > 100 {
		b.log.Error("invalid volume", zap.Int("volume", volume))
		return false
	}
	return b.exec("set_volume", func(c client) error { return c.SetVolume(volume) })
}

// VolumeUp raises the volume by step, clamped to 100.
func (b *Backend) VolumeUp(step int) (int, bool) {
	return b.stepVolume(step)
}

// VolumeDown lowers the volume by step, clamped to 0.
func (b *Backend) VolumeDown(step int) (int, bool) {
	return b.stepVolume(-step)
}

func (b *Backend) stepVolume(delta int) (int, bool) {
	current, ok := b.Volume()
	if !ok {
		return 0, false
	}
	target := clampVolume(current + delta)
	if !b.SetVolume(target) {
		return 0, false
	}
	return target, true
}

// Capabilities reports the MPD feature set.
func (b *Backend) Capabilities() radio.Capabilities {
	return radio.Capabilities{HasMenu: true, SupportsAbsoluteVolume: true}
}

// Monitor returns the polling monitor.
func (b *Backend) Monitor() radio.Monitor { return b.monitor }

// MenuOptions lists the stored playlists as the contextual menu.
func (b *Backend) MenuOptions() hearth.MenuOptions {
	menu := hearth.MenuOptions{HasMenu: true, MenuType: "playlists", Options: []hearth.MenuOption{}}
	ok := b.exec("list_playlists", func(c client) error {
		lists, err := c.ListPlaylists()
		if err != nil {
			return err
		}
		for _, attrs := range lists {
			name := attrs["playlist"]
			if name == "" {
				continue
			}
			menu.Options = append(menu.Options, hearth.MenuOption{
				ID:     name,
				Label:  name,
				Type:   "playlist",
				Action: "play_playlist",
			})
		}
		return nil
	})
	if !ok {
		return hearth.MenuOptions{HasMenu: true, MenuType: "playlists", Options: []hearth.MenuOption{}, Message: "playlists unavailable"}
	}
	return menu
}

// ExecuteMenuAction loads and plays a stored playlist.
func (b *Backend) ExecuteMenuAction(action, optionID string) hearth.MenuActionResult {
	if action != "play_playlist" {
		return hearth.MenuActionResult{Success: false, Err: fmt.Sprintf("unknown action %q", action)}
	}
	if optionID == "" {
		return hearth.MenuActionResult{Success: false, Err: "playlist name is required"}
	}
	ok := b.exec("play_playlist", func(c client) error {
		if err := c.Clear(); err != nil {
			return err
		}
		if err := c.PlaylistLoad(optionID, -1, -1); err != nil {
			return err
		}
		return c.Play(-1)
	})
	if !ok {
		return hearth.MenuActionResult{Success: false, Err: fmt.Sprintf("failed to play playlist %q", optionID)}
	}
	return hearth.MenuActionResult{Success: true, Message: fmt.Sprintf("playing playlist %q", optionID)}
}

// status reads a fresh status and current song for the monitor.
func (b *Backend) status() (gompd.Attrs, gompd.Attrs, bool) {
	var status, song gompd.Attrs
	ok := b.exec("status", func(c client) error {
		var err error
		status, err = c.Status()
		if err != nil {
			return err
		}
		song, err = c.CurrentSong()
		return err
	})
	return status, song, ok
}

func parseVolume(attrs gompd.Attrs) (int, bool) {
	raw, ok := attrs["volume"]
	if !ok {
		return 0, false
	}
	volume, err := strconv.Atoi(raw)
	if err != nil || volume < 0 {
		return 0, false
	}
	return volume, true
}

func clampVolume(v int) int {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}
