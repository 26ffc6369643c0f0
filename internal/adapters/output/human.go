package output

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/pterm/pterm"

	"github.com/hearthaudio/hearth/internal/cli"
	"github.com/hearthaudio/hearth/pkg/hearth"
)

// HumanPrinter prints human-readable output.
type HumanPrinter struct{}

// Print renders human output.
func (HumanPrinter) Print(v any) error {
	switch data := v.(type) {
	case cli.StatusResult:
		return printStatus(data.Snapshot)
	case cli.SourceResult:
		return printSources(data)
	case cli.AckResult:
		return printAck(data)
	case cli.VolumeResult:
		return printVolume(data)
	case cli.MenuResult:
		return printMenu(data.Menu)
	case cli.MenuActionOutcome:
		return printMenuOutcome(data.Result)
	case cli.RawResult:
		return printRaw(data)
	default:
		_, err := fmt.Fprintln(os.Stdout, "ok")
		return err
	}
}

func printStatus(snap hearth.StatusSnapshot) error {
	power := pterm.FgRed.Sprint("off")
	if snap.PoweredOn {
		power = pterm.FgGreen.Sprint("on")
	}
	pterm.Printf("power %s  source %s  [%s]%s\n",
		power,
		pterm.Bold.Sprint(snap.CurrentSource),
		snap.Playback.Status,
		formatVolumeSuffix(snap.Playback.Volume))

	if snap.Track != nil {
		line := snap.Track.Title
		if snap.Track.Artist != "" {
			line = fmt.Sprintf("%s - %s", snap.Track.Artist, snap.Track.Title)
		}
		if snap.Track.DurationMS > 0 {
			line = fmt.Sprintf("%s (%s)", line, snap.Track.FormatDuration())
		}
		pterm.Println(line)
	}
	if snap.SourceInfo.DeviceName != "" {
		device := snap.SourceInfo.DeviceName
		if snap.SourceInfo.DeviceMAC != "" {
			device = fmt.Sprintf("%s [%s]", device, snap.SourceInfo.DeviceMAC)
		}
		pterm.Println("device " + device)
	}
	if len(snap.AvailableSources) > 0 {
		pterm.Println("available " + joinSources(snap.AvailableSources))
	}
	return nil
}

func printSources(result cli.SourceResult) error {
	rows := pterm.TableData{{"SOURCE", "ACTIVE"}}
	for _, source := range result.Available {
		active := ""
		if source == result.Current {
			active = "*"
		}
		rows = append(rows, []string{source.String(), active})
	}
	if len(rows) == 1 {
		pterm.Println("no sources available")
		return nil
	}
	return pterm.DefaultTable.WithHasHeader().WithData(rows).Render()
}

func printAck(result cli.AckResult) error {
	if result.Result {
		pterm.Println("ok")
		return nil
	}
	pterm.Println(pterm.FgYellow.Sprintf("%s refused", result.Command))
	return nil
}

func printVolume(result cli.VolumeResult) error {
	if result.Volume == nil {
		pterm.Println("volume unavailable")
		return nil
	}
	pterm.Printf("volume %d%%\n", *result.Volume)
	return nil
}

func printMenu(menu hearth.MenuOptions) error {
	if !menu.HasMenu {
		message := menu.Message
		if message == "" {
			message = "no menu available"
		}
		pterm.Println(message)
		return nil
	}
	rows := pterm.TableData{{"ID", "LABEL", "TYPE", "ACTION"}}
	for _, option := range menu.Options {
		rows = append(rows, []string{option.ID, option.Label, option.Type, option.Action})
	}
	return pterm.DefaultTable.WithHasHeader().WithData(rows).Render()
}

func printMenuOutcome(result hearth.MenuActionResult) error {
	if result.Success {
		message := result.Message
		if message == "" {
			message = "ok"
		}
		pterm.Println(message)
		return nil
	}
	pterm.Println(pterm.FgRed.Sprint(result.Err))
	return nil
}

func printRaw(result cli.RawResult) error {
	raw, err := rawBytes(result.Data)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(os.Stdout, string(raw))
	return err
}

func rawBytes(data any) ([]byte, error) {
	switch val := data.(type) {
	case json.RawMessage:
		return val, nil
	case []byte:
		return val, nil
	default:
		return json.Marshal(val)
	}
}

func formatVolumeSuffix(volume *int) string {
	if volume == nil {
		return ""
	}
	return fmt.Sprintf("  vol %d%%", *volume)
}

func joinSources(sources []hearth.SourceType) string {
	names := make([]string, 0, len(sources))
	for _, source := range sources {
		names = append(names, source.String())
	}
	return strings.Join(names, ", ")
}
