package main

import (
	"fmt"
	"io"
	"strings"
	"testing"
)

func TestRenderStatusLineNoColor(t *testing.T) {
	got := renderStatusLine("Processing", statusError, "stopped", false)
	want := fmt.Sprintf("%s%-*s %s", statusIndent, statusLabelWidth, "Processing:", "[ERROR] stopped")
	if got != want {
		t.Fatalf("renderStatusLine mismatch\n got: %q\nwant: %q", got, want)
	}
}

func TestRenderStatusLineWithColor(t *testing.T) {
	got := renderStatusLine("Processing", statusOK, "pid 42", true)
	if !strings.HasPrefix(got, ansiGreen) {
		t.Fatalf("expected green prefix, got %q", got)
	}
	if !strings.HasSuffix(got, ansiReset) {
		t.Fatalf("expected reset suffix, got %q", got)
	}
}

func TestRenderSectionHeader(t *testing.T) {
	lines := renderSectionHeader("Dependencies", false)
	if len(lines) != 2 {
		t.Fatalf("expected header and rule, got %d lines", len(lines))
	}
	if lines[0] != "== Dependencies ==" {
		t.Fatalf("unexpected header line %q", lines[0])
	}
	if len(lines[1]) != len(lines[0]) {
		t.Fatalf("rule length %d does not match header length %d", len(lines[1]), len(lines[0]))
	}
}

func TestShouldColorizeNonFile(t *testing.T) {
	if shouldColorize(io.Discard) {
		t.Fatalf("expected non-file writer to disable color")
	}
}
