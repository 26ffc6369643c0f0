package embeddedmqtt

import (
	"log/slog"
	"testing"
	"time"

	mqtt "github.com/mochi-mqtt/server/v2"
	"github.com/mochi-mqtt/server/v2/hooks/auth"
	"github.com/mochi-mqtt/server/v2/packets"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/hearthaudio/hearth/pkg/hearth"
)

func TestNewModuleDefaults(t *testing.T) {
	module, err := NewModule(zap.NewNop(), Config{AllowAnonymous: true})
	if err != nil {
		t.Fatalf("new module: %v", err)
	}
	if module.config.Listen != "127.0.0.1:1883" {
		t.Fatalf("unexpected listen %q", module.config.Listen)
	}
	if module.config.TopicBase != hearth.BaseTopic {
		t.Fatalf("unexpected topic base %q", module.config.TopicBase)
	}
}

func TestNamespaceFiltersScopeACL(t *testing.T) {
	filters := namespaceFilters("hearth/v1")
	if len(filters) != 1 {
		t.Fatalf("filters %v", filters)
	}
	if access, ok := filters["hearth/v1/#"]; !ok || access != auth.ReadWrite {
		t.Fatalf("namespace filter missing: %v", filters)
	}

	// Blank and trailing-slash bases normalize to the canonical namespace.
	for _, base := range []string{"", "  ", "hearth/v1/"} {
		filters = namespaceFilters(base)
		if _, ok := filters["hearth/v1/#"]; !ok {
			t.Fatalf("base %q produced %v", base, filters)
		}
	}
}

func TestNewServerAllowAnonymous(t *testing.T) {
	server, err := newServer(zap.NewNop(), Config{AllowAnonymous: true})
	if err != nil {
		t.Fatalf("newServer: %v", err)
	}
	if server == nil {
		t.Fatalf("expected server")
	}
}

func TestNewServerWithCredentials(t *testing.T) {
	server, err := newServer(zap.NewNop(), Config{Username: "hearth", Password: "secret"})
	if err != nil {
		t.Fatalf("newServer: %v", err)
	}
	if server == nil {
		t.Fatalf("expected server")
	}
}

func TestNewServerRequiresAuthConfig(t *testing.T) {
	if _, err := newServer(zap.NewNop(), Config{}); err == nil {
		t.Fatalf("expected error")
	}
}

func TestInlinePublishSubscribe(t *testing.T) {
	server, err := newServer(zap.NewNop(), Config{AllowAnonymous: true})
	if err != nil {
		t.Fatalf("newServer: %v", err)
	}

	received := make(chan packets.Packet, 1)
	handler := func(_ *mqtt.Client, _ packets.Subscription, pk packets.Packet) {
		received <- pk
	}
	if err := server.Subscribe("hearth/v1/#", 1, handler); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	if err := server.Publish("hearth/v1/state", []byte("payload"), false, 0); err != nil {
		t.Fatalf("publish: %v", err)
	}

	select {
	case pk := <-received:
		if string(pk.Payload) != "payload" {
			t.Fatalf("unexpected payload")
		}
	case <-time.After(200 * time.Millisecond):
		t.Fatalf("timeout waiting for message")
	}
}

func TestDisconnectNoiseDemotedToDebug(t *testing.T) {
	if !isDisconnectNoise("EOF") || !isDisconnectNoise("read connection: EOF") {
		t.Fatalf("client teardown errors not recognized")
	}
	if isDisconnectNoise("connection refused") {
		t.Fatalf("real error treated as noise")
	}
}

func TestCoreLevelMapping(t *testing.T) {
	cases := []struct {
		in   slog.Level
		want zapcore.Level
	}{
		{slog.LevelDebug, zapcore.DebugLevel},
		{slog.LevelInfo, zapcore.InfoLevel},
		{slog.LevelWarn, zapcore.WarnLevel},
		{slog.LevelError, zapcore.ErrorLevel},
	}
	for _, c := range cases {
		if got := coreLevel(c.in); got != c.want {
			t.Fatalf("level %v mapped to %v, want %v", c.in, got, c.want)
		}
	}
}

func TestBrokerURL(t *testing.T) {
	if BrokerURL("127.0.0.1:1883", false) != "mqtt://127.0.0.1:1883" {
		t.Fatalf("expected mqtt scheme")
	}
	if BrokerURL("127.0.0.1:8883", true) != "mqtts://127.0.0.1:8883" {
		t.Fatalf("expected mqtts scheme")
	}
}
