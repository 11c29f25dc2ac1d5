package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"mediamill/internal/ipc"
)

func newSubmitCommand(ctx *commandContext) *cobra.Command {
	var format string

	cmd := &cobra.Command{
		Use:   "submit <reference>",
		Short: "Enqueue a media reference for acquisition and transcoding",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.Submit(args[0], format)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Queued job %d (%s -> %s)\n",
					resp.Job.ID, truncateReference(resp.Job.Reference, 64), resp.Job.OutputFormat)
				return nil
			})
		},
	}

	cmd.Flags().StringVarP(&format, "format", "f", "audio", "Output format: audio or video")
	return cmd
}
