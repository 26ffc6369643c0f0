package main

import (
	"context"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/hearthaudio/hearth/internal/cli"
	"github.com/hearthaudio/hearth/pkg/hearth"
)

func volumeCommand() *cobra.Command {
	var step int

	cmd := &cobra.Command{
		Use:   "vol [get|up|down|<0-100>]",
		Short: "Show or set the active source's volume",
		Args:  cobra.RangeArgs(0, 1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app := fromContext(cmd)
			ctx, cancel := withTimeout(context.Background(), app.timeout)
			defer cancel()

			arg := "get"
			if len(args) == 1 {
				arg = args[0]
			}

			var (
				result cli.VolumeResult
				err    error
			)
			switch arg {
			case "get":
				result, err = app.service.Volume(ctx)
			case "up":
				result, err = app.service.StepVolume(ctx, hearth.CmdVolumeUp, step)
			case "down":
				result, err = app.service.StepVolume(ctx, hearth.CmdVolumeDown, step)
			default:
				volume, convErr := strconv.Atoi(arg)
				if convErr != nil {
					return &cli.CLIError{Code: cli.ExitUsage, Msg: "expected get, up, down or a number"}
				}
				result, err = app.service.SetVolume(ctx, volume)
			}
			if err != nil {
				return err
			}
			return app.printer.Print(result)
		},
	}

	cmd.Flags().IntVar(&step, "step", 0, "step size for up/down (default from server)")

	return cmd
}
