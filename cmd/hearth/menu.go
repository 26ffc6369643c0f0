package main

import (
	"context"

	"github.com/spf13/cobra"
)

func menuCommand() *cobra.Command {
	var optionID string

	cmd := &cobra.Command{
		Use:   "menu [action]",
		Short: "Show the active source's menu or run a menu action",
		Args:  cobra.RangeArgs(0, 1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app := fromContext(cmd)
			ctx, cancel := withTimeout(context.Background(), app.timeout)
			defer cancel()

			if len(args) == 0 {
				result, err := app.service.Menu(ctx)
				if err != nil {
					return err
				}
				return app.printer.Print(result)
			}

			result, err := app.service.RunMenuAction(ctx, args[0], optionID)
			if err != nil {
				return err
			}
			return app.printer.Print(result)
		},
	}

	cmd.Flags().StringVar(&optionID, "option", "", "menu option id the action applies to")

	return cmd
}
