package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/hearthaudio/hearth/pkg/hearth"
)

func transportCommand(use, short, cmdType string) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app := fromContext(cmd)
			ctx, cancel := withTimeout(context.Background(), app.timeout)
			defer cancel()

			result, err := app.service.Transport(ctx, cmdType)
			if err != nil {
				return err
			}
			return app.printer.Print(result)
		},
	}
}

func playCommand() *cobra.Command {
	return transportCommand("play", "Start playback on the active source", hearth.CmdPlaybackPlay)
}

func pauseCommand() *cobra.Command {
	return transportCommand("pause", "Pause playback", hearth.CmdPlaybackPause)
}

func toggleCommand() *cobra.Command {
	return transportCommand("toggle", "Toggle play/pause", hearth.CmdPlaybackToggle)
}

func stopCommand() *cobra.Command {
	return transportCommand("stop", "Stop playback", hearth.CmdPlaybackStop)
}

func nextCommand() *cobra.Command {
	return transportCommand("next", "Next track", hearth.CmdPlaybackNext)
}

func prevCommand() *cobra.Command {
	return transportCommand("prev", "Previous track", hearth.CmdPlaybackPrev)
}
