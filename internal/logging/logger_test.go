package logging

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"

	"mediamill/internal/services"
)

func TestPrettyHandlerPullsComponentIntoPrefix(t *testing.T) {
	var buf bytes.Buffer
	lvl := new(slog.LevelVar)
	logger := slog.New(newPrettyHandler(&buf, lvl, false))

	logger.Info("queue ready", String(FieldComponent, "daemon"), Int("jobs", 3))

	line := buf.String()
	if !strings.Contains(line, " INFO daemon: queue ready") {
		t.Fatalf("unexpected log line: %q", line)
	}
	if !strings.Contains(line, "jobs=3") {
		t.Fatalf("expected jobs attribute in line: %q", line)
	}
	if strings.Contains(line, "component=") {
		t.Fatalf("component should not appear as key/value: %q", line)
	}
}

func TestPrettyHandlerQuotesValuesWithSpaces(t *testing.T) {
	var buf bytes.Buffer
	lvl := new(slog.LevelVar)
	logger := slog.New(newPrettyHandler(&buf, lvl, false))

	logger.Warn("slow transfer", String("reference", "some file.mp4"))

	line := buf.String()
	if !strings.Contains(line, `reference="some file.mp4"`) {
		t.Fatalf("expected quoted value in line: %q", line)
	}
}

func TestWithContextAddsJobAndStageFields(t *testing.T) {
	var buf bytes.Buffer
	lvl := new(slog.LevelVar)
	logger := slog.New(newPrettyHandler(&buf, lvl, false))

	ctx := services.WithJobID(context.Background(), 42)
	ctx = services.WithStage(ctx, "acquire")

	WithContext(ctx, logger).Info("working")

	line := buf.String()
	if !strings.Contains(line, "job_id=42") {
		t.Fatalf("expected job_id in line: %q", line)
	}
	if !strings.Contains(line, "stage=acquire") {
		t.Fatalf("expected stage in line: %q", line)
	}
}

func TestNewRejectsUnknownFormat(t *testing.T) {
	if _, err := New(Options{Format: "yaml"}); err == nil {
		t.Fatal("expected error for unsupported format")
	}
}

func TestParseLevelDefaultsToInfo(t *testing.T) {
	if got := parseLevel("verbose"); got != slog.LevelInfo {
		t.Fatalf("expected info for unknown level, got %v", got)
	}
	if got := parseLevel("debug"); got != slog.LevelDebug {
		t.Fatalf("expected debug, got %v", got)
	}
}
