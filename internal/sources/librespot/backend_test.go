package librespot

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/hearthaudio/hearth/pkg/hearth"
)

func newDaemon(t *testing.T, status statusResponse, posts *[]string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/status":
			json.NewEncoder(w).Encode(status)
		case r.Method == http.MethodPost:
			if posts != nil {
				body := map[string]int{}
				json.NewDecoder(r.Body).Decode(&body)
				record := r.URL.Path
				if v, ok := body["volume"]; ok {
					record = fmt.Sprintf("%s:%d", record, v)
				}
				*posts = append(*posts, record)
			}
			w.WriteHeader(http.StatusNoContent)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
}

func TestConnectCachesVolumeScale(t *testing.T) {
	daemon := newDaemon(t, statusResponse{
		DeviceName:  "kitchen",
		VolumeSteps: 64,
		Volume:      32,
		Paused:      true,
	}, nil)
	defer daemon.Close()

	b := New(nil, Config{BaseURL: daemon.URL})
	if !b.Connect() {
		t.Fatalf("connect failed")
	}
	if b.steps() != 64 || b.device() != "kitchen" {
		t.Fatalf("steps=%d device=%s", b.steps(), b.device())
	}
	// Seeded state without any events.
	state := b.Monitor().PlaybackState(false)
	if state.Status != hearth.StatusPaused || state.Volume == nil || *state.Volume != 50 {
		t.Fatalf("seeded state %+v", state)
	}
}

func TestConnectFailsWhenDaemonDown(t *testing.T) {
	b := New(nil, Config{BaseURL: "http://127.0.0.1:1"})
	if b.Connect() {
		t.Fatalf("connect succeeded against dead daemon")
	}
	if b.Play() {
		t.Fatalf("play succeeded while disconnected")
	}
}

func TestControlEndpoints(t *testing.T) {
	var posts []string
	daemon := newDaemon(t, statusResponse{VolumeSteps: 64}, &posts)
	defer daemon.Close()

	b := New(nil, Config{BaseURL: daemon.URL})
	b.Connect()

	if !b.Play() || !b.Pause() || !b.PlayPause() || !b.Next() || !b.Previous() || !b.Stop() {
		t.Fatalf("control call failed")
	}
	want := []string{"/player/resume", "/player/pause", "/player/playpause", "/player/next", "/player/prev", "/player/pause"}
	if len(posts) != len(want) {
		t.Fatalf("posts %v", posts)
	}
	for i, path := range want {
		if posts[i] != path {
			t.Fatalf("post %d = %s, want %s", i, posts[i], path)
		}
	}
}

func TestSetVolumeConvertsToSteps(t *testing.T) {
	var posts []string
	daemon := newDaemon(t, statusResponse{VolumeSteps: 64}, &posts)
	defer daemon.Close()

	b := New(nil, Config{BaseURL: daemon.URL})
	b.Connect()

	if !b.SetVolume(50) {
		t.Fatalf("set volume failed")
	}
	// 50% of 64 steps rounds to 32.
	if posts[0] != "/player/volume:32" {
		t.Fatalf("post %s", posts[0])
	}

	if b.SetVolume(101) || b.SetVolume(-1) {
		t.Fatalf("out of range volume accepted")
	}
	if len(posts) != 1 {
		t.Fatalf("invalid volume reached the daemon: %v", posts)
	}
}

func TestVolumeConversionRoundtrip(t *testing.T) {
	cases := []struct {
		percent, steps, want int
	}{
		{0, 64, 0},
		{100, 64, 64},
		{50, 64, 32},
		{33, 100, 33},
	}
	for _, c := range cases {
		if got := stepsFromPercent(c.percent, c.steps); got != c.want {
			t.Fatalf("stepsFromPercent(%d, %d) = %d, want %d", c.percent, c.steps, got, c.want)
		}
	}
	if percentFromSteps(32, 64) != 50 {
		t.Fatalf("percentFromSteps(32, 64) = %d", percentFromSteps(32, 64))
	}
	if percentFromSteps(200, 64) != 100 {
		t.Fatalf("overscale volume not clamped")
	}
	if percentFromSteps(10, 0) != 0 {
		t.Fatalf("zero scale not handled")
	}
}

func TestStateFromStatus(t *testing.T) {
	state := stateFromStatus(statusResponse{Stopped: true, VolumeSteps: 64})
	if state.Status != hearth.StatusStopped {
		t.Fatalf("stopped state %+v", state)
	}
	state = stateFromStatus(statusResponse{Paused: true, VolumeSteps: 64, Volume: 64})
	if state.Status != hearth.StatusPaused || *state.Volume != 100 {
		t.Fatalf("paused state %+v", state)
	}
	state = stateFromStatus(statusResponse{VolumeSteps: 64})
	if state.Status != hearth.StatusPlaying {
		t.Fatalf("playing state %+v", state)
	}
}

func TestTrackFromStatus(t *testing.T) {
	track := trackFromStatus(&statusTrack{
		URI:         "spotify:track:abc",
		Name:        "Song",
		ArtistNames: []string{"A", "B"},
		AlbumName:   "Album",
		Duration:    245000,
	})
	if track == nil || track.Artist != "A, B" || track.DurationMS != 245000 {
		t.Fatalf("track %+v", track)
	}
	if trackFromStatus(nil) != nil || trackFromStatus(&statusTrack{}) != nil {
		t.Fatalf("empty track should be nil")
	}
}

func TestHandleEventTranslations(t *testing.T) {
	b := New(nil, Config{BaseURL: "http://localhost:3678"})
	m := b.monitor

	var events []hearth.Event
	m.SubscribeAll(func(ev hearth.Event) { events = append(events, ev) })

	m.handleEvent(wsEvent{Type: "playing"})
	if len(events) != 1 || events[0].Kind != hearth.EventPlaybackStateChanged {
		t.Fatalf("playing event %v", events)
	}
	if events[0].Playback.Status != hearth.StatusPlaying || events[0].Source != hearth.SourceLibrespot {
		t.Fatalf("playing payload %+v", events[0])
	}

	// Repeated state does not re-emit.
	m.handleEvent(wsEvent{Type: "playing"})
	if len(events) != 1 {
		t.Fatalf("duplicate state emitted: %v", events)
	}

	meta, _ := json.Marshal(statusTrack{Name: "Song", ArtistNames: []string{"A"}, Duration: 1000, URI: "spotify:track:x"})
	m.handleEvent(wsEvent{Type: "metadata", Data: meta})
	if len(events) != 2 || events[1].Kind != hearth.EventTrackChanged || events[1].Track.Title != "Song" {
		t.Fatalf("metadata event %v", events)
	}

	vol, _ := json.Marshal(volumeData{Value: 16, Max: 64})
	m.handleEvent(wsEvent{Type: "volume", Data: vol})
	last := events[len(events)-1]
	if last.Kind != hearth.EventPlaybackStateChanged || *last.Playback.Volume != 25 {
		t.Fatalf("volume event %+v", last)
	}

	m.handleEvent(wsEvent{Type: "inactive"})
	last = events[len(events)-1]
	if last.Playback.Status != hearth.StatusStopped {
		t.Fatalf("inactive event %+v", last)
	}

	// Unknown types are ignored.
	before := len(events)
	m.handleEvent(wsEvent{Type: "shuffle_context"})
	if len(events) != before {
		t.Fatalf("unknown event emitted")
	}
}

func TestEventsURL(t *testing.T) {
	b := New(nil, Config{BaseURL: "http://host:3678"})
	if got := b.monitor.eventsURL(); got != "ws://host:3678/events" {
		t.Fatalf("events url %s", got)
	}
	b = New(nil, Config{BaseURL: "https://host"})
	if got := b.monitor.eventsURL(); got != "wss://host/events" {
		t.Fatalf("events url %s", got)
	}
}
