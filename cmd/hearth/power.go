package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/hearthaudio/hearth/internal/cli"
)

func powerCommand() *cobra.Command {
	var source string

	cmd := &cobra.Command{
		Use:   "power [on|off|toggle]",
		Short: "Control the power state",
		Args:  cobra.RangeArgs(0, 1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app := fromContext(cmd)
			ctx, cancel := withTimeout(context.Background(), app.timeout)
			defer cancel()

			arg := "toggle"
			if len(args) == 1 {
				arg = args[0]
			}

			var (
				result cli.AckResult
				err    error
			)
			switch arg {
			case "on":
				result, err = app.service.PowerOn(ctx, source)
			case "off":
				result, err = app.service.PowerOff(ctx)
			case "toggle":
				result, err = app.service.PowerToggle(ctx)
			default:
				return &cli.CLIError{Code: cli.ExitUsage, Msg: "expected on, off or toggle"}
			}
			if err != nil {
				return err
			}
			return app.printer.Print(result)
		},
	}

	cmd.Flags().StringVar(&source, "source", "", "source to power on with (mpd|librespot|bluetooth)")

	return cmd
}
