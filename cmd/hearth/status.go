package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/hearthaudio/hearth/internal/cli"
)

func statusCommand() *cobra.Command {
	var watch bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show controller status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app := fromContext(cmd)
			if watch {
				return watchStatus(app)
			}

			ctx, cancel := withTimeout(context.Background(), app.timeout)
			defer cancel()

			result, err := app.service.Status(ctx)
			if err != nil {
				return err
			}
			return app.printer.Print(result)
		},
	}

	cmd.Flags().BoolVarP(&watch, "watch", "w", false, "stream state and events until interrupted")

	return cmd
}

// watchStatus renders snapshots and events as they arrive. Snapshots use the
// regular status rendering; events are printed raw.
func watchStatus(app *app) error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	states, events, errs := app.service.Watch(ctx)
	for {
		select {
		case <-ctx.Done():
			return nil
		case err, ok := <-errs:
			if !ok {
				return nil
			}
			return cli.WrapError(cli.ExitRuntime, "watch", err)
		case snap, ok := <-states:
			if !ok {
				return nil
			}
			if err := app.printer.Print(cli.StatusResult{Snapshot: snap}); err != nil {
				return err
			}
		case evt, ok := <-events:
			if !ok {
				return nil
			}
			if err := app.printer.Print(cli.RawResult{Data: evt}); err != nil {
				return err
			}
		}
	}
}
