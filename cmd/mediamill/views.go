package main

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"mediamill/internal/ipc"
)

var statusTitler = cases.Title(language.English)

func formatStatusLabel(status string) string {
	status = strings.TrimSpace(status)
	if status == "" {
		return "Unknown"
	}
	return statusTitler.String(strings.ReplaceAll(status, "_", " "))
}

func formatDisplayTime(value string) string {
	parsed, err := time.Parse(time.RFC3339, strings.TrimSpace(value))
	if err != nil {
		return value
	}
	return parsed.Local().Format("2006-01-02 15:04:05")
}

func formatBytes(value int64) string {
	const unit = 1024
	if value < unit {
		return fmt.Sprintf("%d B", value)
	}
	div, exp := int64(unit), 0
	for n := value / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(value)/float64(div), "KMGTPE"[exp])
}

func truncateReference(reference string, max int) string {
	reference = strings.TrimSpace(reference)
	if max <= 3 || len(reference) <= max {
		return reference
	}
	return reference[:max-3] + "..."
}

func buildQueueStatusRows(stats map[string]int) [][]string {
	if len(stats) == 0 {
		return nil
	}
	keys := make([]string, 0, len(stats))
	for key := range stats {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	rows := make([][]string, 0, len(keys))
	for _, key := range keys {
		rows = append(rows, []string{formatStatusLabel(key), fmt.Sprintf("%d", stats[key])})
	}
	return rows
}

func buildQueueListRows(jobs []ipc.JobView) [][]string {
	rows := make([][]string, 0, len(jobs))
	for _, job := range jobs {
		progress := ""
		if job.ProgressStage != "" {
			progress = fmt.Sprintf("%s %.0f%%", job.ProgressStage, job.ProgressPercent)
		}
		rows = append(rows, []string{
			fmt.Sprintf("%d", job.ID),
			truncateReference(job.Reference, 48),
			strings.ToUpper(job.OutputFormat),
			formatStatusLabel(job.Status),
			progress,
			formatDisplayTime(job.CreatedAt),
		})
	}
	return rows
}
