package main

import (
	"context"

	"github.com/spf13/cobra"
)

func sourceCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "source [name]",
		Short: "Show or set the active source",
		Args:  cobra.RangeArgs(0, 1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app := fromContext(cmd)
			ctx, cancel := withTimeout(context.Background(), app.timeout)
			defer cancel()

			if len(args) == 0 {
				result, err := app.service.CurrentSource(ctx)
				if err != nil {
					return err
				}
				return app.printer.Print(result)
			}

			result, err := app.service.SetSource(ctx, args[0])
			if err != nil {
				return err
			}
			return app.printer.Print(result)
		},
	}
}

func sourcesCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "sources",
		Short: "List connected sources",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app := fromContext(cmd)
			ctx, cancel := withTimeout(context.Background(), app.timeout)
			defer cancel()

			result, err := app.service.ListSources(ctx)
			if err != nil {
				return err
			}
			return app.printer.Print(result)
		},
	}
}
