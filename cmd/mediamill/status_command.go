package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"mediamill/internal/ipc"
)

func newStatusCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show daemon and pipeline status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				status, err := client.Status()
				if err != nil {
					return err
				}
				renderDaemonStatus(cmd, status)
				return nil
			})
		},
	}
}

func renderDaemonStatus(cmd *cobra.Command, status *ipc.StatusResponse) {
	out := cmd.OutOrStdout()
	colorize := shouldColorize(out)

	for _, line := range renderSectionHeader("Daemon", colorize) {
		fmt.Fprintln(out, line)
	}
	runningKind := statusError
	runningMsg := "stopped"
	if status.Running {
		runningKind = statusOK
		runningMsg = fmt.Sprintf("pid %d", status.PID)
	}
	fmt.Fprintln(out, renderStatusLine("Processing", runningKind, runningMsg, colorize))
	if status.LastError != "" {
		fmt.Fprintln(out, renderStatusLine("Last error", statusWarn, status.LastError, colorize))
	}
	fmt.Fprintln(out, renderStatusLine("Queue database", statusInfo, status.QueueDBPath, colorize))
	fmt.Fprintln(out, renderStatusLine("Lock file", statusInfo, status.LockPath, colorize))
	fmt.Fprintln(out, renderStatusLine("Workspace usage", statusInfo, formatBytes(status.WorkspaceBytes), colorize))
	fmt.Fprintln(out, renderStatusLine("Free disk", statusInfo, formatBytes(int64(status.FreeDiskBytes)), colorize))

	fmt.Fprintln(out)
	for _, line := range renderSectionHeader("Stages", colorize) {
		fmt.Fprintln(out, line)
	}
	for _, health := range status.StageHealth {
		kind := statusOK
		message := "ready"
		if !health.Ready {
			kind = statusError
			message = health.Detail
		}
		fmt.Fprintln(out, renderStatusLine(formatStatusLabel(health.Name), kind, message, colorize))
	}

	fmt.Fprintln(out)
	for _, line := range renderSectionHeader("Dependencies", colorize) {
		fmt.Fprintln(out, line)
	}
	for _, dep := range status.Dependencies {
		kind := statusOK
		message := dep.Command
		if !dep.Available {
			message = dep.Detail
			if dep.Optional {
				kind = statusWarn
			} else {
				kind = statusError
			}
		}
		fmt.Fprintln(out, renderStatusLine(dep.Name, kind, message, colorize))
	}

	if len(status.QueueStats) > 0 {
		fmt.Fprintln(out)
		for _, line := range renderSectionHeader("Queue", colorize) {
			fmt.Fprintln(out, line)
		}
		for _, row := range buildQueueStatusRows(status.QueueStats) {
			fmt.Fprintln(out, renderStatusLine(row[0], statusInfo, row[1], colorize))
		}
	}
}
