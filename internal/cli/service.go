package cli

import (
	"context"
	"encoding/json"

	"github.com/hearthaudio/hearth/internal/ports"
	"github.com/hearthaudio/hearth/pkg/hearth"
)

// Service orchestrates hearth CLI use cases over the broker port.
type Service struct {
	Broker ports.Broker
	Clock  ports.Clock
	IDGen  ports.IDGen
	Config Config
}

// send builds, stamps and publishes a command, returning the decoded reply
// body or a CLIError mapped from the reply's error code.
func (s Service) send(ctx context.Context, cmdType string, body any, out any) error {
	cmd, err := hearth.NewCommand(cmdType, body)
	if err != nil {
		return WrapError(ExitRuntime, "build command", err)
	}
	cmd.ID = s.IDGen.NewID()
	cmd.TS = s.Clock.NowUnix()
	cmd.From = s.Config.Identity
	cmd.ReplyTo = s.Broker.ReplyTopic()

	reply, err := s.Broker.PublishCommand(ctx, cmd)
	if err != nil {
		return WrapError(ExitRuntime, "publish command", err)
	}
	if !reply.OK {
		code := hearth.CodeFailed
		message := "command failed"
		if reply.Err != nil {
			code = reply.Err.Code
			message = reply.Err.Message
		}
		return ErrorForReplyCode(code, message)
	}
	if out != nil && len(reply.Body) > 0 {
		if err := json.Unmarshal(reply.Body, out); err != nil {
			return WrapError(ExitRuntime, "decode reply", err)
		}
	}
	return nil
}

// Status queries the controller for a full snapshot.
func (s Service) Status(ctx context.Context) (StatusResult, error) {
	var snap hearth.StatusSnapshot
	if err := s.send(ctx, hearth.CmdStatusGet, nil, &snap); err != nil {
		return StatusResult{}, err
	}
	return StatusResult{Snapshot: snap}, nil
}

// Watch streams controller state and events until ctx is done.
func (s Service) Watch(ctx context.Context) (<-chan hearth.StatusSnapshot, <-chan hearth.Event, <-chan error) {
	return s.Broker.Watch(ctx)
}

// SetSource selects the active source.
func (s Service) SetSource(ctx context.Context, source string) (AckResult, error) {
	if _, err := hearth.ParseSourceType(source); err != nil {
		return AckResult{}, WrapError(ExitUsage, "invalid source", err)
	}
	var body hearth.BoolReplyBody
	if err := s.send(ctx, hearth.CmdSourceSet, hearth.SourceSetBody{Source: source}, &body); err != nil {
		return AckResult{}, err
	}
	return AckResult{Command: hearth.CmdSourceSet, Result: body.Result}, nil
}

// CurrentSource queries the active source.
func (s Service) CurrentSource(ctx context.Context) (SourceResult, error) {
	var body hearth.SourceReplyBody
	if err := s.send(ctx, hearth.CmdSourceGet, nil, &body); err != nil {
		return SourceResult{}, err
	}
	return SourceResult{Current: body.Current, Available: body.Available}, nil
}

// ListSources queries the connected sources.
func (s Service) ListSources(ctx context.Context) (SourceResult, error) {
	var body hearth.SourceReplyBody
	if err := s.send(ctx, hearth.CmdSourceList, nil, &body); err != nil {
		return SourceResult{}, err
	}
	return SourceResult{Current: body.Current, Available: body.Available}, nil
}

// Transport issues a plain playback command (play, pause, stop, toggle,
// next, prev).
func (s Service) Transport(ctx context.Context, cmdType string) (AckResult, error) {
	var body hearth.BoolReplyBody
	if err := s.send(ctx, cmdType, nil, &body); err != nil {
		return AckResult{}, err
	}
	return AckResult{Command: cmdType, Result: body.Result}, nil
}

// Volume queries the active source's volume.
func (s Service) Volume(ctx context.Context) (VolumeResult, error) {
	var body hearth.VolumeReplyBody
	if err := s.send(ctx, hearth.CmdVolumeGet, nil, &body); err != nil {
		return VolumeResult{}, err
	}
	return VolumeResult{Volume: body.Volume}, nil
}

// SetVolume sets an absolute volume.
func (s Service) SetVolume(ctx context.Context, volume int) (VolumeResult, error) {
	if volume < 0 || volume > 100 {
		return VolumeResult{}, &CLIError{Code: ExitUsage, Msg: "volume must be between 0 and 100"}
	}
	var body hearth.VolumeReplyBody
	if err := s.send(ctx, hearth.CmdVolumeSet, hearth.VolumeSetBody{Volume: volume}, &body); err != nil {
		return VolumeResult{}, err
	}
	return VolumeResult{Volume: body.Volume}, nil
}

// StepVolume adjusts the volume up or down by step.
func (s Service) StepVolume(ctx context.Context, cmdType string, step int) (VolumeResult, error) {
	var body hearth.VolumeReplyBody
	if err := s.send(ctx, cmdType, hearth.VolumeStepBody{Step: step}, &body); err != nil {
		return VolumeResult{}, err
	}
	return VolumeResult{Volume: body.Volume}, nil
}

// PowerOn powers the controller on, optionally onto a named source.
func (s Service) PowerOn(ctx context.Context, source string) (AckResult, error) {
	if source != "" {
		if _, err := hearth.ParseSourceType(source); err != nil {
			return AckResult{}, WrapError(ExitUsage, "invalid source", err)
		}
	}
	var body hearth.BoolReplyBody
	if err := s.send(ctx, hearth.CmdPowerOn, hearth.PowerOnBody{Source: source}, &body); err != nil {
		return AckResult{}, err
	}
	return AckResult{Command: hearth.CmdPowerOn, Result: body.Result}, nil
}

// PowerOff powers the controller off.
func (s Service) PowerOff(ctx context.Context) (AckResult, error) {
	var body hearth.BoolReplyBody
	if err := s.send(ctx, hearth.CmdPowerOff, nil, &body); err != nil {
		return AckResult{}, err
	}
	return AckResult{Command: hearth.CmdPowerOff, Result: body.Result}, nil
}

// PowerToggle toggles the power state.
func (s Service) PowerToggle(ctx context.Context) (AckResult, error) {
	var body hearth.BoolReplyBody
	if err := s.send(ctx, hearth.CmdPowerToggle, nil, &body); err != nil {
		return AckResult{}, err
	}
	return AckResult{Command: hearth.CmdPowerToggle, Result: body.Result}, nil
}

// Menu queries the active source's contextual menu.
func (s Service) Menu(ctx context.Context) (MenuResult, error) {
	var menu hearth.MenuOptions
	if err := s.send(ctx, hearth.CmdMenuGet, nil, &menu); err != nil {
		return MenuResult{}, err
	}
	return MenuResult{Menu: menu}, nil
}

// RunMenuAction executes a menu action on the active source.
func (s Service) RunMenuAction(ctx context.Context, action, optionID string) (MenuActionOutcome, error) {
	if action == "" {
		return MenuActionOutcome{}, &CLIError{Code: ExitUsage, Msg: "action is required"}
	}
	var result hearth.MenuActionResult
	if err := s.send(ctx, hearth.CmdMenuRun, hearth.MenuRunBody{Action: action, OptionID: optionID}, &result); err != nil {
		return MenuActionOutcome{}, err
	}
	return MenuActionOutcome{Result: result}, nil
}
