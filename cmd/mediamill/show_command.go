package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"mediamill/internal/ipc"
)

func newShowCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Display details for a single job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ids, err := parsePositiveIDs(args)
			if err != nil {
				return err
			}
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.QueueDescribe(ids[0])
				if err != nil {
					return err
				}
				printJobDetail(cmd, resp.Job)
				return nil
			})
		},
	}
}

func printJobDetail(cmd *cobra.Command, job ipc.JobView) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Job %d\n", job.ID)
	fmt.Fprintf(out, "  Reference:  %s\n", job.Reference)
	fmt.Fprintf(out, "  Format:     %s\n", job.OutputFormat)
	fmt.Fprintf(out, "  Status:     %s\n", formatStatusLabel(job.Status))
	if job.ProgressStage != "" {
		fmt.Fprintf(out, "  Progress:   %s (%.0f%%)", job.ProgressStage, job.ProgressPercent)
		if job.ProgressMessage != "" {
			fmt.Fprintf(out, " - %s", job.ProgressMessage)
		}
		fmt.Fprintln(out)
	}
	if job.BytesFetched > 0 {
		fmt.Fprintf(out, "  Fetched:    %s\n", formatBytes(job.BytesFetched))
	}
	if job.Attempts > 0 {
		fmt.Fprintf(out, "  Attempts:   %d\n", job.Attempts)
	}
	if job.NextAttemptAt != "" {
		fmt.Fprintf(out, "  Next try:   %s\n", formatDisplayTime(job.NextAttemptAt))
	}
	if job.ErrorMessage != "" {
		fmt.Fprintf(out, "  Error:      %s (%s)\n", job.ErrorMessage, job.ErrorKind)
	}
	if job.FinalPath != "" {
		fmt.Fprintf(out, "  Artifact:   %s\n", job.FinalPath)
	}
	fmt.Fprintf(out, "  Created:    %s\n", formatDisplayTime(job.CreatedAt))
	fmt.Fprintf(out, "  Updated:    %s\n", formatDisplayTime(job.UpdatedAt))
	if job.PublishedAt != "" {
		fmt.Fprintf(out, "  Published:  %s\n", formatDisplayTime(job.PublishedAt))
	}
	if job.CancelRequested {
		fmt.Fprintln(out, "  Cancellation requested")
	}
}
