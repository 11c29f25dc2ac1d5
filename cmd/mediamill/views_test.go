package main

import (
	"testing"

	"mediamill/internal/ipc"
)

func TestFormatStatusLabel(t *testing.T) {
	cases := map[string]string{
		"pending":          "Pending",
		"cancel_requested": "Cancel Requested",
		"":                 "Unknown",
	}
	for input, want := range cases {
		if got := formatStatusLabel(input); got != want {
			t.Fatalf("formatStatusLabel(%q) = %q, want %q", input, got, want)
		}
	}
}

func TestFormatBytes(t *testing.T) {
	cases := map[int64]string{
		512:             "512 B",
		2048:            "2.0 KiB",
		1536:            "1.5 KiB",
		5 * 1024 * 1024: "5.0 MiB",
		3 << 30:         "3.0 GiB",
	}
	for input, want := range cases {
		if got := formatBytes(input); got != want {
			t.Fatalf("formatBytes(%d) = %q, want %q", input, got, want)
		}
	}
}

func TestTruncateReference(t *testing.T) {
	long := "https://example.com/media/an-extremely-long-episode-name.mkv"
	got := truncateReference(long, 20)
	if len(got) != 20 {
		t.Fatalf("expected 20 characters, got %d (%q)", len(got), got)
	}
	if got[len(got)-3:] != "..." {
		t.Fatalf("expected ellipsis suffix, got %q", got)
	}
	if truncateReference("short", 20) != "short" {
		t.Fatalf("short references must pass through unchanged")
	}
}

func TestBuildQueueStatusRowsSortsKeys(t *testing.T) {
	rows := buildQueueStatusRows(map[string]int{
		"pending":   3,
		"completed": 1,
		"failed":    2,
	})
	if len(rows) != 3 {
		t.Fatalf("expected 3 rows, got %d", len(rows))
	}
	wantOrder := []string{"Completed", "Failed", "Pending"}
	for i, want := range wantOrder {
		if rows[i][0] != want {
			t.Fatalf("row %d = %q, want %q", i, rows[i][0], want)
		}
	}
}

func TestBuildQueueListRows(t *testing.T) {
	rows := buildQueueListRows([]ipc.JobView{{
		ID:              7,
		Reference:       "https://example.com/talk.mp4",
		OutputFormat:    "audio",
		Status:          "transcoding",
		ProgressStage:   "transcode",
		ProgressPercent: 42,
		CreatedAt:       "2026-08-25T10:00:00Z",
	}})
	if len(rows) != 1 {
		t.Fatalf("expected 1 row, got %d", len(rows))
	}
	row := rows[0]
	if row[0] != "7" || row[2] != "AUDIO" || row[3] != "Transcoding" {
		t.Fatalf("unexpected row contents: %v", row)
	}
	if row[4] != "transcode 42%" {
		t.Fatalf("unexpected progress cell %q", row[4])
	}
}
