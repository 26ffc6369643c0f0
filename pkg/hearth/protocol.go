package hearth

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// BaseTopic is the default MQTT topic prefix for the control protocol.
const BaseTopic = "hearth/v1"

// CommandEnvelope is the command envelope callers publish on the command
// topic. Body is command-specific.
type CommandEnvelope struct {
	ID      string          `json:"id"`
	Type    string          `json:"type"`
	TS      int64           `json:"ts"`
	From    string          `json:"from"`
	ReplyTo string          `json:"replyTo,omitempty"`
	Body    json.RawMessage `json:"body,omitempty"`
}

// ReplyEnvelope is the response envelope for commands.
type ReplyEnvelope struct {
	ID   string          `json:"id"`
	Type string          `json:"type"`
	OK   bool            `json:"ok"`
	TS   int64           `json:"ts"`
	Body json.RawMessage `json:"body,omitempty"`
	Err  *ReplyError     `json:"err,omitempty"`
}

// ReplyError describes an error response.
type ReplyError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Reply error codes.
const (
	CodeInvalid     = "INVALID"
	CodeUnavailable = "UNAVAILABLE"
	CodeFailed      = "FAILED"
)

// Command types accepted on the command topic.
const (
	CmdSourceSet      = "source.set"
	CmdSourceGet      = "source.get"
	CmdSourceList     = "source.list"
	CmdPlaybackPlay   = "playback.play"
	CmdPlaybackPause  = "playback.pause"
	CmdPlaybackStop   = "playback.stop"
	CmdPlaybackToggle = "playback.toggle"
	CmdPlaybackNext   = "playback.next"
	CmdPlaybackPrev   = "playback.prev"
	CmdVolumeGet      = "volume.get"
	CmdVolumeSet      = "volume.set"
	CmdVolumeUp       = "volume.up"
	CmdVolumeDown     = "volume.down"
	CmdPowerOn        = "power.on"
	CmdPowerOff       = "power.off"
	CmdPowerToggle    = "power.toggle"
	CmdStatusGet      = "status.get"
	CmdMenuGet        = "menu.get"
	CmdMenuRun        = "menu.run"
)

// SourceSetBody selects a source.
type SourceSetBody struct {
	Source string `json:"source"`
}

// VolumeSetBody sets an absolute volume.
type VolumeSetBody struct {
	Volume int `json:"volume"`
}

// VolumeStepBody adjusts volume by a step.
type VolumeStepBody struct {
	Step int `json:"step,omitempty"`
}

// PowerOnBody optionally names the source to power on with.
type PowerOnBody struct {
	Source string `json:"source,omitempty"`
}

// MenuRunBody executes a menu action.
type MenuRunBody struct {
	Action   string `json:"action"`
	OptionID string `json:"optionId,omitempty"`
}

// BoolReplyBody carries a plain boolean command result.
type BoolReplyBody struct {
	Result bool `json:"result"`
}

// VolumeReplyBody carries a volume query or adjustment result.
type VolumeReplyBody struct {
	Volume *int `json:"volume"`
}

// SourceReplyBody carries the current and available sources.
type SourceReplyBody struct {
	Current   SourceType   `json:"current"`
	Available []SourceType `json:"available,omitempty"`
}

// NewCommand builds a command envelope with a JSON body.
func NewCommand(cmdType string, body any) (CommandEnvelope, error) {
	if body == nil {
		return CommandEnvelope{Type: cmdType}, nil
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return CommandEnvelope{}, fmt.Errorf("marshal body: %w", err)
	}
	return CommandEnvelope{Type: cmdType, Body: payload}, nil
}

// ValidateCommandEnvelope validates required envelope fields.
func ValidateCommandEnvelope(cmd CommandEnvelope) error {
	if strings.TrimSpace(cmd.ID) == "" {
		return errors.New("id is required")
	}
	if strings.TrimSpace(cmd.Type) == "" {
		return errors.New("type is required")
	}
	if cmd.TS <= 0 {
		return errors.New("ts must be a positive unix timestamp")
	}
	if strings.TrimSpace(cmd.From) == "" {
		return errors.New("from is required")
	}
	return nil
}

// TopicCommands builds the controller command topic.
func TopicCommands(topicBase string) string {
	return fmt.Sprintf("%s/cmd", topicBase)
}

// TopicEvents builds the forwarded-event topic.
func TopicEvents(topicBase string) string {
	return fmt.Sprintf("%s/evt", topicBase)
}

// TopicState builds the retained status-snapshot topic.
func TopicState(topicBase string) string {
	return fmt.Sprintf("%s/state", topicBase)
}

// TopicReply builds the reply topic for one caller instance.
func TopicReply(topicBase, callerID string) string {
	return fmt.Sprintf("%s/reply/%s", topicBase, callerID)
}
