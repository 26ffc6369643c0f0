// Package mqttapi exposes the controller over MQTT: it serves the command
// topic, forwards bus events and keeps the retained state topic current.
package mqttapi

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"

	"github.com/hearthaudio/hearth/internal/radio"
	"github.com/hearthaudio/hearth/pkg/hearth"
)

// Broker is the publish/subscribe surface the module needs. Satisfied by the
// daemon's MQTT connection.
type Broker interface {
	Publish(topic string, qos byte, retained bool, payload []byte) error
	Subscribe(topic string, qos byte, handler paho.MessageHandler) error
	Unsubscribe(topic string) error
}

// Config configures the MQTT control surface.
type Config struct {
	TopicBase string
	Identity  string
}

func (c *Config) applyDefaults() {
	if strings.TrimSpace(c.TopicBase) == "" {
		c.TopicBase = hearth.BaseTopic
	}
	if strings.TrimSpace(c.Identity) == "" {
		c.Identity = "hearthd"
	}
}

// Module serves the command topic and publishes events and retained state.
type Module struct {
	log    *zap.Logger
	broker Broker
	engine *radio.Engine
	config Config
}

// NewModule creates the control surface over an engine.
func NewModule(log *zap.Logger, broker Broker, engine *radio.Engine, cfg Config) (*Module, error) {
	if broker == nil {
		return nil, fmt.Errorf("mqttapi requires a broker connection")
	}
	if engine == nil {
		return nil, fmt.Errorf("mqttapi requires an engine")
	}
	if log == nil {
		log = zap.NewNop()
	}
	cfg.applyDefaults()
	return &Module{log: log, broker: broker, engine: engine, config: cfg}, nil
}

// Run subscribes to the command topic, wires the engine bus to the event
// topic and blocks until ctx is done.
func (m *Module) Run(ctx context.Context) error {
	cmdTopic := hearth.TopicCommands(m.config.TopicBase)
	if err := m.broker.Subscribe(cmdTopic, 1, func(_ paho.Client, msg paho.Message) {
		m.HandleCommand(msg.Payload())
	}); err != nil {
		return fmt.Errorf("subscribe %s: %w", cmdTopic, err)
	}

	busHandler := func(_ string, ev hearth.Event) { m.onBusEvent(ev) }
	m.engine.Bus().Subscribe(hearth.ClientChanged, busHandler)

	m.publishState()
	m.log.Info("mqtt api serving", zap.String("topic", cmdTopic))

	<-ctx.Done()
	m.engine.Bus().Unsubscribe(hearth.ClientChanged, busHandler)
	_ = m.broker.Unsubscribe(cmdTopic)
	return nil
}

// HandleCommand decodes, validates and dispatches one command payload. A
// payload that cannot be decoded is dropped: without an envelope there is no
// reply topic to answer on.
func (m *Module) HandleCommand(payload []byte) {
	var cmd hearth.CommandEnvelope
	if err := json.Unmarshal(payload, &cmd); err != nil {
		m.log.Warn("dropping undecodable command", zap.Error(err))
		return
	}
	if err := hearth.ValidateCommandEnvelope(cmd); err != nil {
		m.log.Warn("invalid command envelope", zap.String("type", cmd.Type), zap.Error(err))
		m.reply(cmd, nil, &hearth.ReplyError{Code: hearth.CodeInvalid, Message: err.Error()})
		return
	}

	m.log.Debug("command received",
		zap.String("type", cmd.Type),
		zap.String("id", cmd.ID),
		zap.String("from", cmd.From))

	body, replyErr := m.dispatch(cmd)
	m.reply(cmd, body, replyErr)
	if replyErr == nil {
		m.publishState()
	}
}

// dispatch routes a validated command to the engine and shapes the reply
// body. Validation failures are INVALID, a missing or disconnected source is
// UNAVAILABLE and a refused backend operation is FAILED.
func (m *Module) dispatch(cmd hearth.CommandEnvelope) (any, *hearth.ReplyError) {
	switch cmd.Type {
	case hearth.CmdSourceSet:
		var body hearth.SourceSetBody
		if err := decodeBody(cmd.Body, &body); err != nil {
			return nil, invalid(err.Error())
		}
		source, err := hearth.ParseSourceType(body.Source)
		if err != nil {
			return nil, invalid(err.Error())
		}
		if !m.engine.SetSource(source) {
			return nil, failed("source selection refused")
		}
		return hearth.BoolReplyBody{Result: true}, nil

	case hearth.CmdSourceGet, hearth.CmdSourceList:
		return hearth.SourceReplyBody{
			Current:   m.engine.CurrentSource(),
			Available: m.engine.AvailableSources(),
		}, nil

	case hearth.CmdPlaybackPlay:
		return m.transport(m.engine.Play)
	case hearth.CmdPlaybackPause:
		return m.transport(m.engine.Pause)
	case hearth.CmdPlaybackStop:
		return m.transport(m.engine.Stop)
	case hearth.CmdPlaybackToggle:
		return m.transport(m.engine.PlayPause)
	case hearth.CmdPlaybackNext:
		return m.transport(m.engine.Next)
	case hearth.CmdPlaybackPrev:
		return m.transport(m.engine.Previous)

	case hearth.CmdVolumeGet:
		volume, ok := m.engine.Volume()
		if !ok {
			return hearth.VolumeReplyBody{}, nil
		}
		return hearth.VolumeReplyBody{Volume: hearth.VolumeOf(volume)}, nil

	case hearth.CmdVolumeSet:
		var body hearth.VolumeSetBody
		if err := decodeBody(cmd.Body, &body); err != nil {
			return nil, invalid(err.Error())
		}
		if body.Volume < 0 || body.Volume > 100 {
			return nil, invalid("volume must be between 0 and 100")
		}
		if !m.engine.SetVolume(body.Volume) {
			return nil, m.operationError("set volume failed")
		}
		return hearth.VolumeReplyBody{Volume: hearth.VolumeOf(body.Volume)}, nil

	case hearth.CmdVolumeUp, hearth.CmdVolumeDown:
		var body hearth.VolumeStepBody
		if err := decodeBody(cmd.Body, &body); err != nil {
			return nil, invalid(err.Error())
		}
		adjust := m.engine.VolumeUp
		if cmd.Type == hearth.CmdVolumeDown {
			adjust = m.engine.VolumeDown
		}
		volume, ok := adjust(body.Step)
		if !ok {
			return nil, m.operationError("volume adjustment failed")
		}
		return hearth.VolumeReplyBody{Volume: hearth.VolumeOf(volume)}, nil

	case hearth.CmdPowerOn:
		var body hearth.PowerOnBody
		if err := decodeBody(cmd.Body, &body); err != nil {
			return nil, invalid(err.Error())
		}
		trigger := hearth.SourceNone
		if body.Source != "" {
			source, err := hearth.ParseSourceType(body.Source)
			if err != nil {
				return nil, invalid(err.Error())
			}
			trigger = source
		}
		return hearth.BoolReplyBody{Result: m.engine.PowerOn(trigger)}, nil

	case hearth.CmdPowerOff:
		return hearth.BoolReplyBody{Result: m.engine.PowerOff()}, nil

	case hearth.CmdPowerToggle:
		return hearth.BoolReplyBody{Result: m.engine.Power()}, nil

	case hearth.CmdStatusGet:
		return m.engine.Snapshot(), nil

	case hearth.CmdMenuGet:
		return m.engine.MenuOptions(), nil

	case hearth.CmdMenuRun:
		var body hearth.MenuRunBody
		if err := decodeBody(cmd.Body, &body); err != nil {
			return nil, invalid(err.Error())
		}
		if strings.TrimSpace(body.Action) == "" {
			return nil, invalid("action is required")
		}
		return m.engine.ExecuteMenuAction(body.Action, body.OptionID), nil

	default:
		return nil, invalid(fmt.Sprintf("unknown command type %q", cmd.Type))
	}
}

// transport runs a playback operation. A false result while no source is
// active reports UNAVAILABLE so callers can tell "nothing selected" from a
// backend refusal.
func (m *Module) transport(op func() bool) (any, *hearth.ReplyError) {
	if !op() {
		return nil, m.operationError("playback operation failed")
	}
	return hearth.BoolReplyBody{Result: true}, nil
}

func (m *Module) operationError(message string) *hearth.ReplyError {
	if m.engine.CurrentSource() == hearth.SourceNone {
		return &hearth.ReplyError{Code: hearth.CodeUnavailable, Message: "no active source"}
	}
	return failed(message)
}

func (m *Module) reply(cmd hearth.CommandEnvelope, body any, replyErr *hearth.ReplyError) {
	if strings.TrimSpace(cmd.ReplyTo) == "" {
		return
	}
	envelope := hearth.ReplyEnvelope{
		ID:   cmd.ID,
		Type: cmd.Type,
		OK:   replyErr == nil,
		TS:   time.Now().Unix(),
		Err:  replyErr,
	}
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			m.log.Error("marshal reply body", zap.String("type", cmd.Type), zap.Error(err))
			envelope.OK = false
			envelope.Err = failed("internal encoding error")
		} else {
			envelope.Body = payload
		}
	}
	payload, _ := json.Marshal(envelope)
	if err := m.broker.Publish(cmd.ReplyTo, 1, false, payload); err != nil {
		m.log.Error("publish reply", zap.String("topic", cmd.ReplyTo), zap.Error(err))
	}
}

// onBusEvent forwards a controller event to the event topic and refreshes the
// retained state snapshot.
func (m *Module) onBusEvent(ev hearth.Event) {
	payload, err := json.Marshal(ev)
	if err != nil {
		m.log.Error("marshal event", zap.String("kind", string(ev.Kind)), zap.Error(err))
		return
	}
	if err := m.broker.Publish(hearth.TopicEvents(m.config.TopicBase), 0, false, payload); err != nil {
		m.log.Error("publish event", zap.String("kind", string(ev.Kind)), zap.Error(err))
	}
	m.publishState()
}

// publishState publishes the retained status snapshot.
func (m *Module) publishState() {
	payload := hearth.MarshalSnapshot(m.engine.Snapshot())
	if err := m.broker.Publish(hearth.TopicState(m.config.TopicBase), 0, true, payload); err != nil {
		m.log.Error("publish state", zap.Error(err))
	}
}

func decodeBody(raw json.RawMessage, out any) error {
	if len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode body: %w", err)
	}
	return nil
}

func invalid(message string) *hearth.ReplyError {
	return &hearth.ReplyError{Code: hearth.CodeInvalid, Message: message}
}

func failed(message string) *hearth.ReplyError {
	return &hearth.ReplyError{Code: hearth.CodeFailed, Message: message}
}
