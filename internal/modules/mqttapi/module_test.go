package mqttapi

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"

	"github.com/hearthaudio/hearth/internal/radio"
	"github.com/hearthaudio/hearth/pkg/hearth"
)

type published struct {
	topic    string
	retained bool
	payload  []byte
}

type fakeBroker struct {
	mu        sync.Mutex
	published []published
}

func (b *fakeBroker) Publish(topic string, qos byte, retained bool, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.published = append(b.published, published{topic: topic, retained: retained, payload: payload})
	return nil
}

func (b *fakeBroker) Subscribe(topic string, qos byte, handler paho.MessageHandler) error {
	return nil
}

func (b *fakeBroker) Unsubscribe(topic string) error { return nil }

func (b *fakeBroker) lastOn(topic string) ([]byte, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i := len(b.published) - 1; i >= 0; i-- {
		if b.published[i].topic == topic {
			return b.published[i].payload, true
		}
	}
	return nil, false
}

func (b *fakeBroker) countOn(topic string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for _, p := range b.published {
		if p.topic == topic {
			n++
		}
	}
	return n
}

// newTestModule builds the control surface over a headless engine: no
// backends, so power and status paths work but transport has nothing to act
// on.
func newTestModule(t *testing.T) (*Module, *fakeBroker, *radio.Engine) {
	t.Helper()
	broker := &fakeBroker{}
	engine := radio.NewEngine(zap.NewNop(), nil, map[hearth.SourceType]radio.Backend{}, radio.Config{SettleDelay: time.Hour})
	module, err := NewModule(zap.NewNop(), broker, engine, Config{TopicBase: "test/v1"})
	if err != nil {
		t.Fatalf("new module: %v", err)
	}
	return module, broker, engine
}

func command(t *testing.T, cmdType string, body any) []byte {
	t.Helper()
	cmd, err := hearth.NewCommand(cmdType, body)
	if err != nil {
		t.Fatalf("new command: %v", err)
	}
	cmd.ID = "cmd-1"
	cmd.TS = time.Now().Unix()
	cmd.From = "test"
	cmd.ReplyTo = "test/v1/reply/test"
	payload, err := json.Marshal(cmd)
	if err != nil {
		t.Fatalf("marshal command: %v", err)
	}
	return payload
}

func lastReply(t *testing.T, broker *fakeBroker) hearth.ReplyEnvelope {
	t.Helper()
	payload, ok := broker.lastOn("test/v1/reply/test")
	if !ok {
		t.Fatalf("no reply published")
	}
	var reply hearth.ReplyEnvelope
	if err := json.Unmarshal(payload, &reply); err != nil {
		t.Fatalf("decode reply: %v", err)
	}
	return reply
}

func TestInvalidEnvelopeRepliesInvalid(t *testing.T) {
	module, broker, _ := newTestModule(t)

	payload, _ := json.Marshal(hearth.CommandEnvelope{
		Type:    hearth.CmdStatusGet,
		ReplyTo: "test/v1/reply/test",
	})
	module.HandleCommand(payload)

	reply := lastReply(t, broker)
	if reply.OK {
		t.Fatalf("expected failure reply")
	}
	if reply.Err == nil || reply.Err.Code != hearth.CodeInvalid {
		t.Fatalf("expected INVALID, got %+v", reply.Err)
	}
}

func TestUndecodablePayloadIsDropped(t *testing.T) {
	module, broker, _ := newTestModule(t)

	module.HandleCommand([]byte("{not json"))

	if len(broker.published) != 0 {
		t.Fatalf("expected no publications, got %d", len(broker.published))
	}
}

func TestNoReplyWithoutReplyTopic(t *testing.T) {
	module, broker, _ := newTestModule(t)

	cmd, _ := hearth.NewCommand(hearth.CmdPowerOn, hearth.PowerOnBody{})
	cmd.ID = "cmd-1"
	cmd.TS = time.Now().Unix()
	cmd.From = "test"
	payload, _ := json.Marshal(cmd)
	module.HandleCommand(payload)

	if _, ok := broker.lastOn("test/v1/reply/test"); ok {
		t.Fatalf("expected no reply without replyTo")
	}
	if _, ok := broker.lastOn("test/v1/state"); !ok {
		t.Fatalf("expected state refresh after command")
	}
}

func TestPowerOnHeadless(t *testing.T) {
	module, broker, engine := newTestModule(t)

	module.HandleCommand(command(t, hearth.CmdPowerOn, hearth.PowerOnBody{}))

	reply := lastReply(t, broker)
	if !reply.OK {
		t.Fatalf("expected ok reply: %+v", reply.Err)
	}
	var body hearth.BoolReplyBody
	if err := json.Unmarshal(reply.Body, &body); err != nil || !body.Result {
		t.Fatalf("expected true result, got %s (%v)", reply.Body, err)
	}
	if !engine.PoweredOn() {
		t.Fatalf("expected engine powered on")
	}

	payload, ok := broker.lastOn("test/v1/state")
	if !ok {
		t.Fatalf("expected retained state")
	}
	var snap hearth.StatusSnapshot
	if err := json.Unmarshal(payload, &snap); err != nil {
		t.Fatalf("decode snapshot: %v", err)
	}
	if !snap.PoweredOn || snap.CurrentSource != hearth.SourceNone {
		t.Fatalf("unexpected snapshot %+v", snap)
	}
}

func TestStatusGetReturnsSnapshot(t *testing.T) {
	module, broker, _ := newTestModule(t)

	module.HandleCommand(command(t, hearth.CmdStatusGet, nil))

	reply := lastReply(t, broker)
	if !reply.OK || reply.Type != hearth.CmdStatusGet {
		t.Fatalf("unexpected reply %+v", reply)
	}
	var snap hearth.StatusSnapshot
	if err := json.Unmarshal(reply.Body, &snap); err != nil {
		t.Fatalf("decode snapshot: %v", err)
	}
	if snap.PoweredOn {
		t.Fatalf("expected powered off snapshot")
	}
	if snap.Playback.Status != hearth.StatusStopped {
		t.Fatalf("expected stopped placeholder, got %s", snap.Playback.Status)
	}
}

func TestSourceSetRejectsUnknownSource(t *testing.T) {
	module, broker, _ := newTestModule(t)

	module.HandleCommand(command(t, hearth.CmdSourceSet, hearth.SourceSetBody{Source: "cassette"}))

	reply := lastReply(t, broker)
	if reply.OK || reply.Err == nil || reply.Err.Code != hearth.CodeInvalid {
		t.Fatalf("expected INVALID, got %+v", reply)
	}
}

func TestTransportWithoutActiveSourceIsUnavailable(t *testing.T) {
	module, broker, _ := newTestModule(t)

	module.HandleCommand(command(t, hearth.CmdPowerOn, hearth.PowerOnBody{}))
	module.HandleCommand(command(t, hearth.CmdPlaybackPlay, nil))

	reply := lastReply(t, broker)
	if reply.OK || reply.Err == nil || reply.Err.Code != hearth.CodeUnavailable {
		t.Fatalf("expected UNAVAILABLE, got %+v", reply)
	}
}

func TestVolumeGetWithoutSourceReportsNil(t *testing.T) {
	module, broker, _ := newTestModule(t)

	module.HandleCommand(command(t, hearth.CmdVolumeGet, nil))

	reply := lastReply(t, broker)
	if !reply.OK {
		t.Fatalf("expected ok reply: %+v", reply.Err)
	}
	var body hearth.VolumeReplyBody
	if err := json.Unmarshal(reply.Body, &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body.Volume != nil {
		t.Fatalf("expected nil volume, got %d", *body.Volume)
	}
}

func TestVolumeSetRangeRejected(t *testing.T) {
	module, broker, _ := newTestModule(t)

	module.HandleCommand(command(t, hearth.CmdVolumeSet, hearth.VolumeSetBody{Volume: 150}))

	reply := lastReply(t, broker)
	if reply.OK || reply.Err == nil || reply.Err.Code != hearth.CodeInvalid {
		t.Fatalf("expected INVALID, got %+v", reply)
	}
}

func TestMenuRunRequiresAction(t *testing.T) {
	module, broker, _ := newTestModule(t)

	module.HandleCommand(command(t, hearth.CmdMenuRun, hearth.MenuRunBody{}))

	reply := lastReply(t, broker)
	if reply.OK || reply.Err == nil || reply.Err.Code != hearth.CodeInvalid {
		t.Fatalf("expected INVALID, got %+v", reply)
	}
}

func TestUnknownCommandType(t *testing.T) {
	module, broker, _ := newTestModule(t)

	module.HandleCommand(command(t, "casserole.bake", nil))

	reply := lastReply(t, broker)
	if reply.OK || reply.Err == nil || reply.Err.Code != hearth.CodeInvalid {
		t.Fatalf("expected INVALID, got %+v", reply)
	}
}

func TestBusEventsForwarded(t *testing.T) {
	module, broker, _ := newTestModule(t)

	module.onBusEvent(hearth.PowerEvent(true))

	payload, ok := broker.lastOn("test/v1/evt")
	if !ok {
		t.Fatalf("expected forwarded event")
	}
	var ev hearth.Event
	if err := json.Unmarshal(payload, &ev); err != nil {
		t.Fatalf("decode event: %v", err)
	}
	if ev.Kind != hearth.EventPowerChanged || ev.PoweredOn == nil || !*ev.PoweredOn {
		t.Fatalf("unexpected event %+v", ev)
	}
	if broker.countOn("test/v1/state") == 0 {
		t.Fatalf("expected state refresh alongside event")
	}
}
