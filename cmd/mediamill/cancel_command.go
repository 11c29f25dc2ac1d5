package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"mediamill/internal/ipc"
	"mediamill/internal/queue"
)

func newCancelCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <id>",
		Short: "Cancel a queued or in-flight job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ids, err := parsePositiveIDs(args)
			if err != nil {
				return err
			}
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.Cancel(ids[0])
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				switch {
				case resp.Job.Status == string(queue.StatusCancelled):
					fmt.Fprintf(out, "Job %d cancelled\n", resp.Job.ID)
				case resp.Job.CancelRequested:
					fmt.Fprintf(out, "Job %d is in flight; cancellation requested\n", resp.Job.ID)
				default:
					fmt.Fprintf(out, "Job %d is %s and cannot be cancelled\n",
						resp.Job.ID, formatStatusLabel(resp.Job.Status))
				}
				return nil
			})
		},
	}
}

func newStopCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "stop",
		Short: "Stop the daemon's background processing",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				if _, err := client.Stop(); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "Daemon stopped")
				return nil
			})
		},
	}
}
