package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func runCommandForTest(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCommand()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestConfigInitWritesSampleFile(t *testing.T) {
	target := filepath.Join(t.TempDir(), "config.toml")

	out, err := runCommandForTest(t, "config", "init", "--path", target)
	if err != nil {
		t.Fatalf("config init: %v", err)
	}
	if !strings.Contains(out, "Wrote sample configuration") {
		t.Fatalf("unexpected output %q", out)
	}
	if _, err := os.Stat(target); err != nil {
		t.Fatalf("expected config file at %s: %v", target, err)
	}

	if _, err := runCommandForTest(t, "config", "init", "--path", target); err == nil {
		t.Fatal("expected error when file already exists without --overwrite")
	}
	if _, err := runCommandForTest(t, "config", "init", "--path", target, "--overwrite"); err != nil {
		t.Fatalf("config init --overwrite: %v", err)
	}
}

func TestConfigValidateWithDefaults(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	out, err := runCommandForTest(t, "config", "validate")
	if err != nil {
		t.Fatalf("config validate: %v", err)
	}
	if !strings.Contains(out, "Configuration valid") {
		t.Fatalf("unexpected output %q", out)
	}
	if !strings.Contains(out, "defaults were used") {
		t.Fatalf("expected defaults notice, got %q", out)
	}
}
